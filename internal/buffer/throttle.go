package buffer

import (
	"sync/atomic"
	"time"

	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/metrics"
)

// Flow control commands understood by the server.
const (
	CommandPause  = "pause"
	CommandResume = "resume"
)

// Commander sends a flow control command to the server. Delivery is best effort.
type Commander interface {
	SendCommand(value string) error
}

// CommanderFunc adapts a function to Commander.
type CommanderFunc func(value string) error

func (f CommanderFunc) SendCommand(value string) error { return f(value) }

// Throttle asks the server to pause when too much media is buffered ahead of
// the play position and to resume once the lead drops below the low mark.
type Throttle struct {
	high time.Duration
	low  time.Duration

	commander  Commander
	autoPaused bool

	pausesSent  atomic.Uint64
	resumesSent atomic.Uint64
	sendErrors  atomic.Uint64

	logger *logger.SampledLogger
}

// NewThrottle uses threshold as the high mark and two thirds of it as the low mark.
func NewThrottle(threshold time.Duration, log logger.Logger) *Throttle {
	return &Throttle{
		high:   threshold,
		low:    threshold * 2 / 3,
		logger: logger.NewPlaybackLogger(log.WithField("component", "throttle")),
	}
}

// Bind attaches the throttle to a session's command channel and clears the
// paused marker.
func (t *Throttle) Bind(c Commander) {
	t.commander = c
	t.autoPaused = false
}

// Evaluate applies both marks to the current lead.
func (t *Throttle) Evaluate(ahead time.Duration) {
	switch {
	case ahead > t.high:
		if !t.autoPaused {
			t.send(CommandPause, ahead)
		}
	case ahead < t.low:
		t.MaybeResume(ahead)
	}
}

// MaybeResume only applies the low mark.
func (t *Throttle) MaybeResume(ahead time.Duration) {
	if t.autoPaused && ahead < t.low {
		t.send(CommandResume, ahead)
	}
}

func (t *Throttle) send(command string, ahead time.Duration) {
	if t.commander == nil {
		return
	}
	fields := map[string]interface{}{
		"command": command,
		"ahead":   ahead.String(),
	}
	if err := t.commander.SendCommand(command); err != nil {
		// state is left as is so the next evaluation retries
		t.sendErrors.Add(1)
		t.logger.WithError(err).WithFields(fields).Warn("Failed to send flow control command")
		return
	}
	t.autoPaused = command == CommandPause
	if t.autoPaused {
		t.pausesSent.Add(1)
	} else {
		t.resumesSent.Add(1)
	}
	metrics.BackpressureCommand(command)
	t.logger.DebugWithCategory(logger.CategoryBackpressure, "Flow control command sent", fields)
}

// ThrottleStats is a snapshot of command counters.
type ThrottleStats struct {
	AutoPaused  bool   `json:"auto_paused"`
	PausesSent  uint64 `json:"pauses_sent"`
	ResumesSent uint64 `json:"resumes_sent"`
	SendErrors  uint64 `json:"send_errors"`
}

func (t *Throttle) Stats() ThrottleStats {
	return ThrottleStats{
		AutoPaused:  t.autoPaused,
		PausesSent:  t.pausesSent.Load(),
		ResumesSent: t.resumesSent.Load(),
		SendErrors:  t.sendErrors.Load(),
	}
}
