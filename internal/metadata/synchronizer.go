package metadata

import (
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/metrics"
	"github.com/zsiec/lookout/internal/stream"
)

// Resolution is the outcome of one presented frame.
type Resolution struct {
	Metadata stream.FrameMetadata
	Found    bool
	// ReachedEnd is set when the resolved record is at or past the clip end.
	ReachedEnd bool
}

// Synchronizer feeds the index from inbound batches and resolves the record
// for each presented frame.
type Synchronizer struct {
	index        *Index
	endTimestamp int64
	current      *stream.FrameMetadata
	logger       *logger.SampledLogger
}

func NewSynchronizer(log logger.Logger) *Synchronizer {
	return &Synchronizer{
		index:  NewIndex(),
		logger: logger.NewPlaybackLogger(log.WithField("component", "metadata")),
	}
}

// Begin resets per-session state. endTimestamp is the clip end boundary in
// wall-clock ms, or 0 when unbounded.
func (s *Synchronizer) Begin(endTimestamp int64) {
	s.index.Reset()
	s.endTimestamp = endTimestamp
	s.current = nil
	metrics.SetMetadataIndexEntries(0)
}

// Reset empties the index and the current record on session teardown.
func (s *Synchronizer) Reset() {
	s.Begin(0)
}

// Ingest merges a batch into the index.
func (s *Synchronizer) Ingest(batch []stream.FrameMetadata) {
	s.index.Merge(batch)
	metrics.SetMetadataIndexEntries(s.index.Len())
	s.logger.DebugWithCategory(logger.CategoryMetadata, "Metadata batch merged", map[string]interface{}{
		"batch_size": len(batch),
		"entries":    s.index.Len(),
	})
}

// OnFrame resolves the record for a presented media time in seconds. A hit
// becomes the current record.
func (s *Synchronizer) OnFrame(mediaTime float64) Resolution {
	md, ok := s.index.Resolve(mediaTime)
	if !ok {
		return Resolution{}
	}
	s.current = &md
	return Resolution{
		Metadata:   md,
		Found:      true,
		ReachedEnd: s.endTimestamp > 0 && md.TimeStamp >= s.endTimestamp,
	}
}

// Evicted prunes records whose key falls inside an evicted media span given
// in seconds.
func (s *Synchronizer) Evicted(start, end float64) int {
	n := s.index.PruneRange(EncodedTime(start), int64(end*1000))
	if n > 0 {
		metrics.MetadataPruned(n)
		metrics.SetMetadataIndexEntries(s.index.Len())
	}
	return n
}

// Current returns the record shown for the most recent frame.
func (s *Synchronizer) Current() (stream.FrameMetadata, bool) {
	if s.current == nil {
		return stream.FrameMetadata{}, false
	}
	return *s.current, true
}

// Reference returns the session reference time.
func (s *Synchronizer) Reference() (int64, bool) {
	return s.index.Reference()
}

func (s *Synchronizer) Index() *Index {
	return s.index
}
