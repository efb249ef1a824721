// Package recovery decides when a failed session is retried and when the
// failure becomes terminal.
package recovery

import (
	"fmt"

	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/metrics"
	"github.com/zsiec/lookout/internal/sched"
	"github.com/zsiec/lookout/internal/stream"
)

type State int

const (
	StateIdle State = iota
	StateRetrying
	StateRecovered
	StateFailedTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrying:
		return "retrying"
	case StateRecovered:
		return "recovered"
	case StateFailedTerminal:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Context is the retry bookkeeping of one chain of attempts.
type Context struct {
	Attempts              int    `json:"attempts"`
	IsRetrying            bool   `json:"isRetrying"`
	LastKnownPlayPosition int64  `json:"lastKnownPlayPosition"`
	TimedOut              bool   `json:"timedOut"`
	LastError             string `json:"lastError,omitempty"`
}

// Decision is the outcome of a Trigger.
type Decision int

const (
	// Ignored means the trigger was absorbed: a retry is already pending or
	// the chain is terminal.
	Ignored Decision = iota
	Scheduled
	Terminal
)

type Config struct {
	MaxAttempts int
	Strategy    Strategy
}

// Machine drives bounded retries. It is owned by the session event loop;
// OnRetry and OnTerminal run on whatever goroutine the Scheduler uses for
// its callbacks.
type Machine struct {
	cfg    Config
	sched  sched.Scheduler
	logger logger.Logger

	// OnRetry is invoked when a scheduled retry falls due.
	OnRetry func(attempt int)
	// OnTerminal is invoked once when the chain fails for good.
	OnTerminal func(err error)

	state    State
	attempts int
	timedOut bool
	position int64
	lastErr  error
	pending  sched.Timer
}

func NewMachine(cfg Config, s sched.Scheduler, log logger.Logger) *Machine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Machine{
		cfg:    cfg,
		sched:  s,
		logger: log.WithField("component", "recovery"),
	}
}

// Begin is called at the start of every session attempt. A non-retry start
// opens a new chain; a retry continues the current one.
func (m *Machine) Begin(retry bool) {
	m.timedOut = false
	if retry {
		return
	}
	m.cancelPending()
	m.attempts = 0
	m.lastErr = nil
	m.state = StateIdle
}

// Trigger reports a session failure.
func (m *Machine) Trigger(err error) Decision {
	if m.timedOut || m.state == StateFailedTerminal {
		return Ignored
	}
	if m.pending != nil {
		return Ignored
	}
	if err == nil {
		err = apperrors.NewTransportError(nil)
	}
	m.lastErr = err
	metrics.SessionFailed(string(apperrors.TypeOf(err)))

	if !apperrors.IsRetryable(err) {
		m.fail(err)
		return Terminal
	}

	m.attempts++
	if m.attempts >= m.cfg.MaxAttempts {
		m.fail(apperrors.NewRetriesExhaustedError(m.attempts, err))
		return Terminal
	}

	m.state = StateRetrying
	delay := m.cfg.Strategy.Delay(m.attempts)
	attempt := m.attempts
	m.pending = m.sched.AfterFunc(delay, func() { m.fire(attempt) })
	metrics.RetryScheduled()
	m.logger.WithError(err).WithFields(map[string]interface{}{
		"attempt":  attempt,
		"retry_in": delay.String(),
	}).Warn("Session failed, retry scheduled")
	return Scheduled
}

func (m *Machine) fire(attempt int) {
	if m.pending == nil || attempt != m.attempts || m.state != StateRetrying {
		return
	}
	m.pending = nil
	if m.OnRetry != nil {
		m.OnRetry(attempt)
	}
}

// Loaded records a successful load: the chain is reset.
func (m *Machine) Loaded() {
	m.cancelPending()
	if m.attempts > 0 || m.state == StateRetrying {
		m.state = StateRecovered
		m.logger.WithField("attempts", m.attempts).Info("Session recovered")
	}
	m.attempts = 0
	m.lastErr = nil
}

// TimedOut escalates a hard session timeout to terminal failure regardless
// of the remaining budget.
func (m *Machine) TimedOut() {
	if m.state == StateFailedTerminal {
		return
	}
	m.timedOut = true
	m.cancelPending()
	err := apperrors.NewTimeoutError("no playable data within the session timeout")
	m.lastErr = err
	metrics.SessionFailed(string(apperrors.ErrorTypeTimeout))
	m.fail(err)
}

// Cancel drops a pending retry without changing the chain.
func (m *Machine) Cancel() {
	m.cancelPending()
}

// SetPosition records the last confirmed play position in wall-clock ms.
func (m *Machine) SetPosition(ts int64) {
	m.position = ts
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Context() Context {
	c := Context{
		Attempts:              m.attempts,
		IsRetrying:            m.state == StateRetrying,
		LastKnownPlayPosition: m.position,
		TimedOut:              m.timedOut,
	}
	if m.lastErr != nil {
		c.LastError = m.lastErr.Error()
	}
	return c
}

// ResumeTimestamp is where a retry reopens: live restarts at the head, a
// bounded clip restarts at its own start, anything else resumes at the last
// confirmed play position.
func (m *Machine) ResumeTimestamp(opts stream.ConnectionOptions, mode stream.Mode, smallClip bool) int64 {
	switch {
	case mode == stream.ModeLive:
		return 0
	case smallClip:
		return opts.Timestamp
	case m.position > 0:
		return m.position
	default:
		return opts.EffectiveTimestamp()
	}
}

func (m *Machine) fail(err error) {
	m.cancelPending()
	m.state = StateFailedTerminal
	m.logger.WithError(err).WithField("attempts", m.attempts).Error("Session failed terminally")
	if m.OnTerminal != nil {
		m.OnTerminal(err)
	}
}

func (m *Machine) cancelPending() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}
