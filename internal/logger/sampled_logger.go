package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SampledLogger rate-limits high-frequency log categories such as per-frame
// and per-segment events. Categories without a sampler always log.
type SampledLogger struct {
	Logger
	samplers *samplerSet
}

type samplerSet struct {
	mu       sync.RWMutex
	samplers map[string]*sampler
}

type sampler struct {
	limiter *rate.Limiter
	total   atomic.Int64
	dropped atomic.Int64
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Name    string `json:"name"`
	Total   int64  `json:"total"`
	Logged  int64  `json:"logged"`
	Dropped int64  `json:"dropped"`
}

// Playback log categories
const (
	CategoryFrame        = "frame"
	CategorySegment      = "segment"
	CategoryHeartbeat    = "heartbeat"
	CategoryBackpressure = "backpressure"
	CategoryMetadata     = "metadata"
	CategoryRecovery     = "recovery"
)

func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		Logger:   base,
		samplers: &samplerSet{samplers: make(map[string]*sampler)},
	}
}

// WithSampler allows burst messages at once and then one message per every.
func (s *SampledLogger) WithSampler(category string, every time.Duration, burst int) *SampledLogger {
	s.samplers.mu.Lock()
	defer s.samplers.mu.Unlock()
	s.samplers.samplers[category] = &sampler{limiter: rate.NewLimiter(rate.Every(every), burst)}
	return s
}

// NewPlaybackLogger returns a sampled logger tuned for the session engine.
// Recovery events are never sampled.
func NewPlaybackLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryFrame, time.Second, 1).
		WithSampler(CategorySegment, 500*time.Millisecond, 5).
		WithSampler(CategoryHeartbeat, time.Minute, 1).
		WithSampler(CategoryBackpressure, 500*time.Millisecond, 3).
		WithSampler(CategoryMetadata, time.Second, 2)
}

func (s *SampledLogger) allow(category string) bool {
	s.samplers.mu.RLock()
	sm, ok := s.samplers.samplers[category]
	s.samplers.mu.RUnlock()
	if !ok {
		return true
	}
	sm.total.Add(1)
	if sm.limiter.Allow() {
		return true
	}
	sm.dropped.Add(1)
	return false
}

// Sample logs msg at level if the category's sampler allows it.
func (s *SampledLogger) Sample(level logrus.Level, category, msg string, fields map[string]interface{}) {
	if !s.allow(category) {
		return
	}
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields["category"] = category
	s.Logger.WithFields(fields).Log(level, msg)
}

func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.Sample(logrus.DebugLevel, category, msg, fields)
}

func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.Sample(logrus.InfoLevel, category, msg, fields)
}

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithFields(fields), samplers: s.samplers}
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithField(key, value), samplers: s.samplers}
}

func (s *SampledLogger) WithError(err error) Logger {
	return &SampledLogger{Logger: s.Logger.WithError(err), samplers: s.samplers}
}

// Stats returns statistics for all samplers.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers.samplers))
	for name, sm := range s.samplers.samplers {
		total := sm.total.Load()
		dropped := sm.dropped.Load()
		stats[name] = SamplerStats{Name: name, Total: total, Logged: total - dropped, Dropped: dropped}
	}
	return stats
}
