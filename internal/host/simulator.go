package host

import (
	"fmt"
	"io"
	"mime"
	"sync"
	"time"

	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/sched"
)

// SimulatorConfig tunes the headless media element.
type SimulatorConfig struct {
	// SegmentDuration is the media time each appended segment adds.
	SegmentDuration time.Duration
	// AppendLatency is how long an append stays in flight.
	AppendLatency time.Duration
	FPS           int
	// Record receives every appended segment when set.
	Record io.Writer
}

// Simulator is a Media that decodes nothing: appended segments extend the
// buffered range and a frame ticker advances the clock through it.
type Simulator struct {
	cfg    SimulatorConfig
	sched  sched.Scheduler
	logger logger.Logger

	mu       sync.Mutex
	gen      uint64
	listener Listener
	codec    string
	ranges   []TimeRange
	updating bool
	loaded   bool
	current  float64
	rate     float64
	paused   bool
	ticker   sched.Timer
	appended int
}

func NewSimulator(cfg SimulatorConfig, s sched.Scheduler, log logger.Logger) *Simulator {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = time.Second
	}
	return &Simulator{
		cfg:    cfg,
		sched:  s,
		logger: log.WithField("component", "simulator"),
		rate:   1,
	}
}

// SupportedCodec accepts mp4 and webm video MIME types.
func SupportedCodec(codec string) bool {
	mediaType, _, err := mime.ParseMediaType(codec)
	if err != nil {
		return false
	}
	return mediaType == "video/mp4" || mediaType == "video/webm"
}

func (s *Simulator) Attach(codec string, l Listener) (SourceBuffer, error) {
	if !SupportedCodec(codec) {
		return nil, fmt.Errorf("codec %q is not supported", codec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.listener = l
	s.codec = codec
	s.logger.WithFields(map[string]interface{}{
		"codec":      codec,
		"generation": s.gen,
	}).Debug("Source buffer attached")
	return &simBuffer{sim: s, gen: s.gen}, nil
}

func (s *Simulator) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// resetLocked must be called with s.mu held.
func (s *Simulator) resetLocked() {
	s.gen++
	s.listener = nil
	s.codec = ""
	s.ranges = nil
	s.updating = false
	s.loaded = false
	s.current = 0
	s.stopTickerLocked()
}

func (s *Simulator) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrentTime seeks the clock. Once loaded, the frame at the new position
// is presented even while paused.
func (s *Simulator) SetCurrentTime(t float64) {
	if t < 0 {
		t = 0
	}
	s.mu.Lock()
	s.current = t
	l, gen := s.listener, s.gen
	present := s.loaded && s.inBufferLocked(t)
	s.mu.Unlock()

	if present {
		s.emit(gen, l, func(l Listener) { l.OnFrame(t) })
	}
}

func (s *Simulator) PlaybackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Simulator) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
}

func (s *Simulator) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.startTickerLocked()
}

func (s *Simulator) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.stopTickerLocked()
}

func (s *Simulator) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Appended returns the number of segments appended to the current binding.
func (s *Simulator) Appended() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appended
}

// Codec returns the codec of the current binding.
func (s *Simulator) Codec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// startTickerLocked must be called with s.mu held.
func (s *Simulator) startTickerLocked() {
	if s.ticker != nil || s.paused || !s.loaded {
		return
	}
	interval := time.Second / time.Duration(s.cfg.FPS)
	gen := s.gen
	s.ticker = sched.Every(s.sched, interval, func() { s.tick(gen) })
}

// stopTickerLocked must be called with s.mu held.
func (s *Simulator) stopTickerLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Simulator) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.paused {
		s.mu.Unlock()
		return
	}
	end, ok := End(s.ranges)
	if !ok || s.current >= end {
		// starved: the clock waits for more data
		s.mu.Unlock()
		return
	}
	next := s.current + s.rate/float64(s.cfg.FPS)
	if next > end {
		next = end
	}
	s.current = next
	l := s.listener
	s.mu.Unlock()

	s.emit(gen, l, func(l Listener) {
		l.OnFrame(next)
		l.OnTimeUpdate()
	})
}

// inBufferLocked must be called with s.mu held.
func (s *Simulator) inBufferLocked(t float64) bool {
	for _, r := range s.ranges {
		if t >= r.Start && t <= r.End {
			return true
		}
	}
	return false
}

func (s *Simulator) emit(gen uint64, l Listener, fn func(Listener)) {
	if l == nil {
		return
	}
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if current {
		fn(l)
	}
}

func (s *Simulator) append(gen uint64, segment []byte) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrDetached
	}
	if s.updating {
		s.mu.Unlock()
		return ErrBusy
	}
	s.updating = true
	s.mu.Unlock()

	s.sched.AfterFunc(s.cfg.AppendLatency, func() { s.completeAppend(gen, segment) })
	return nil
}

func (s *Simulator) completeAppend(gen uint64, segment []byte) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	dur := s.cfg.SegmentDuration.Seconds()
	if len(s.ranges) == 0 {
		s.ranges = []TimeRange{{Start: s.current, End: s.current + dur}}
	} else {
		s.ranges[len(s.ranges)-1].End += dur
	}
	s.updating = false
	s.appended++
	firstLoad := !s.loaded
	s.loaded = true
	if firstLoad {
		s.startTickerLocked()
	}
	l := s.listener
	s.mu.Unlock()

	if s.cfg.Record != nil {
		if _, err := s.cfg.Record.Write(segment); err != nil {
			s.logger.WithError(err).Warn("Failed to record segment")
		}
	}

	s.emit(gen, l, func(l Listener) {
		l.OnAppendComplete()
		if firstLoad {
			l.OnLoaded()
		}
	})
}

func (s *Simulator) buffered(gen uint64) []TimeRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	out := make([]TimeRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

func (s *Simulator) remove(gen uint64, start, end float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return ErrDetached
	}
	if s.updating {
		return ErrBusy
	}
	if end <= start {
		return fmt.Errorf("invalid remove range [%v, %v)", start, end)
	}
	s.ranges = subtract(s.ranges, start, end)
	return nil
}

func subtract(ranges []TimeRange, start, end float64) []TimeRange {
	out := ranges[:0:0]
	for _, r := range ranges {
		if end <= r.Start || start >= r.End {
			out = append(out, r)
			continue
		}
		if start > r.Start {
			out = append(out, TimeRange{Start: r.Start, End: start})
		}
		if end < r.End {
			out = append(out, TimeRange{Start: end, End: r.End})
		}
	}
	return out
}

type simBuffer struct {
	sim *Simulator
	gen uint64
}

func (b *simBuffer) Updating() bool {
	b.sim.mu.Lock()
	defer b.sim.mu.Unlock()
	return b.gen == b.sim.gen && b.sim.updating
}

func (b *simBuffer) Append(segment []byte) error {
	return b.sim.append(b.gen, segment)
}

func (b *simBuffer) Buffered() []TimeRange {
	return b.sim.buffered(b.gen)
}

func (b *simBuffer) Remove(start, end float64) error {
	return b.sim.remove(b.gen, start, end)
}
