// Package buffer feeds media segments into the host buffer sink and keeps the
// buffered window bounded.
package buffer

import (
	"errors"
	"time"

	"github.com/zsiec/lookout/internal/host"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/metrics"
)

// Config configures the buffer controller
type Config struct {
	// Threshold is both the retention span behind the play position and the
	// lead that triggers a pause command.
	Threshold time.Duration
	// LiveLag is how far live playback may fall behind the buffered tail.
	LiveLag time.Duration
}

// Session binds the controller to one transport session's buffer sink.
type Session struct {
	Live         bool
	SmallClip    bool
	EndTimestamp int64 // wall-clock ms, 0 when unbounded

	Sink      host.SourceBuffer
	Clock     host.Clock
	Commander Commander

	// Reference maps media time zero to wall-clock ms.
	Reference func() (int64, bool)
	// OnEvict is called with the media span removed from the sink.
	OnEvict func(start, end float64)
	// OnClipEnd is called once when a bounded clip is fully buffered.
	OnClipEnd func()
}

// Stats is a snapshot of controller state.
type Stats struct {
	Bound     bool             `json:"bound"`
	Queued    int              `json:"queued"`
	Appended  uint64           `json:"appended"`
	Bytes     uint64           `json:"bytes"`
	Dropped   uint64           `json:"dropped"`
	Evictions uint64           `json:"evictions"`
	CatchUps  uint64           `json:"catch_ups"`
	ClipEnded bool             `json:"clip_ended"`
	Ahead     float64          `json:"ahead_seconds"`
	Buffered  []host.TimeRange `json:"buffered"`
	Throttle  ThrottleStats    `json:"throttle"`
}

// Controller owns the segment queue of the active session. It is driven from
// the session event loop and is not safe for concurrent use.
type Controller struct {
	cfg      Config
	throttle *Throttle
	logger   *logger.SampledLogger

	sess  *Session
	queue [][]byte
	ended bool

	appended  uint64
	bytes     uint64
	dropped   uint64
	evictions uint64
	catchUps  uint64
}

func NewController(cfg Config, log logger.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		throttle: NewThrottle(cfg.Threshold, log),
		logger:   logger.NewPlaybackLogger(log.WithField("component", "buffer_controller")),
	}
}

// Bind starts feeding a new sink. Any previous binding is reset first.
func (c *Controller) Bind(s Session) {
	c.Reset()
	c.sess = &s
	c.throttle.Bind(s.Commander)
}

// Reset drops the queue and releases the sink binding.
func (c *Controller) Reset() {
	c.sess = nil
	c.queue = nil
	c.ended = false
	c.throttle.Bind(nil)
	c.appended, c.bytes, c.dropped, c.evictions, c.catchUps = 0, 0, 0, 0, 0
}

// Push queues a segment and appends it if the sink is idle. Segments
// arriving with no sink bound or after the clip end are discarded.
func (c *Controller) Push(segment []byte) {
	if c.sess == nil || c.ended {
		c.dropped++
		return
	}
	c.queue = append(c.queue, segment)
	c.pump()
}

// AppendComplete runs after the sink finishes an append: flow control, live
// catch-up, retention, then the next append.
func (c *Controller) AppendComplete() {
	if c.sess == nil {
		return
	}
	s := c.sess

	if !s.Live && !s.SmallClip {
		if ahead, ok := c.ahead(); ok {
			c.throttle.Evaluate(ahead)
		}
	}
	if s.Live {
		c.catchUp()
	}
	c.retain()
	c.pump()
}

// TimeUpdate releases a paused server once playback has drained the lead.
func (c *Controller) TimeUpdate() {
	if c.sess == nil || c.sess.SmallClip {
		return
	}
	if ahead, ok := c.ahead(); ok {
		c.throttle.MaybeResume(ahead)
	}
}

func (c *Controller) Stats() Stats {
	st := Stats{
		Queued:    len(c.queue),
		Appended:  c.appended,
		Bytes:     c.bytes,
		Dropped:   c.dropped,
		Evictions: c.evictions,
		CatchUps:  c.catchUps,
		ClipEnded: c.ended,
		Throttle:  c.throttle.Stats(),
	}
	if c.sess != nil {
		st.Bound = true
		st.Buffered = c.sess.Sink.Buffered()
		if ahead, ok := c.ahead(); ok {
			st.Ahead = ahead.Seconds()
		}
	}
	return st
}

func (c *Controller) pump() {
	if c.sess == nil || c.ended || len(c.queue) == 0 || c.sess.Sink.Updating() {
		return
	}
	seg := c.queue[0]
	err := c.sess.Sink.Append(seg)
	switch {
	case err == nil:
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.appended++
		c.bytes += uint64(len(seg))
		metrics.SegmentAppended(len(seg))
		c.logger.DebugWithCategory(logger.CategorySegment, "Segment appended", map[string]interface{}{
			"bytes":  len(seg),
			"queued": len(c.queue),
		})
	case errors.Is(err, host.ErrBusy):
		// retried on the next completion
	default:
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.dropped++
		c.logger.WithError(err).Warn("Failed to append segment")
	}
}

// ahead is the buffered lead over the play position.
func (c *Controller) ahead() (time.Duration, bool) {
	end, ok := host.End(c.sess.Sink.Buffered())
	if !ok {
		return 0, false
	}
	lead := end - c.sess.Clock.CurrentTime()
	metrics.SetBufferAhead(lead)
	return time.Duration(lead * float64(time.Second)), true
}

func (c *Controller) catchUp() {
	end, ok := host.End(c.sess.Sink.Buffered())
	if !ok {
		return
	}
	// A cursor still at zero has not started presenting and is left alone.
	current := c.sess.Clock.CurrentTime()
	if current > 0 && end > current && end-current >= c.cfg.LiveLag.Seconds() {
		c.sess.Clock.SetCurrentTime(end)
		c.catchUps++
		c.logger.WithFields(map[string]interface{}{
			"from": current,
			"to":   end,
		}).Debug("Live playback caught up to buffered tail")
	}
}

func (c *Controller) retain() {
	s := c.sess
	ranges := s.Sink.Buffered()
	start, ok := host.Start(ranges)
	if !ok {
		return
	}

	if s.SmallClip {
		c.checkClipEnd(ranges)
		return
	}

	current := s.Clock.CurrentTime()
	if current-start <= c.cfg.Threshold.Seconds() {
		return
	}
	removeEnd := current - (c.cfg.Threshold * 2 / 3).Seconds()
	if err := s.Sink.Remove(start, removeEnd); err != nil {
		c.logger.WithError(err).Debug("Failed to evict buffered range")
		return
	}
	c.evictions++
	metrics.BufferEvicted()
	if s.OnEvict != nil {
		s.OnEvict(start, removeEnd)
	}
}

func (c *Controller) checkClipEnd(ranges []host.TimeRange) {
	s := c.sess
	if c.ended || s.EndTimestamp <= 0 || s.Reference == nil {
		return
	}
	ref, ok := s.Reference()
	if !ok {
		return
	}
	end, _ := host.End(ranges)
	if ref+int64(end*1000) < s.EndTimestamp {
		return
	}
	c.ended = true
	c.queue = nil
	c.logger.WithFields(map[string]interface{}{
		"end_timestamp": s.EndTimestamp,
		"buffered_end":  end,
	}).Info("Clip fully buffered")
	if s.OnClipEnd != nil {
		s.OnClipEnd()
	}
}
