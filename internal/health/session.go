package health

import (
	"context"
	"errors"

	"github.com/zsiec/lookout/internal/stream"
)

// StateSource reports the playback state.
type StateSource interface {
	State() stream.VideoState
}

// SessionChecker reports the active playback session: a failed session is
// down, a loading one degraded.
type SessionChecker struct {
	source StateSource
	last   stream.VideoState
}

func NewSessionChecker(source StateSource) *SessionChecker {
	return &SessionChecker{source: source}
}

func (s *SessionChecker) Name() string {
	return "playback"
}

func (s *SessionChecker) Check(ctx context.Context) error {
	st := s.source.State()
	s.last = st
	switch {
	case st.Status == stream.StatusFailed:
		msg := st.StatusText
		if msg == "" {
			msg = "playback failed"
		}
		return errors.New(msg)
	case st.IsLoading:
		return Degraded("session loading")
	default:
		return nil
	}
}

func (s *SessionChecker) Details() map[string]interface{} {
	return map[string]interface{}{
		"mode":    s.last.Mode,
		"status":  s.last.Status,
		"playing": s.last.IsPlaying,
	}
}

// BreakerSource reports whether the endpoint lookup circuit is open.
type BreakerSource interface {
	BreakerOpen() bool
}

// LookupChecker is degraded while the endpoint lookup circuit breaker is open.
type LookupChecker struct {
	source BreakerSource
}

func NewLookupChecker(source BreakerSource) *LookupChecker {
	return &LookupChecker{source: source}
}

func (l *LookupChecker) Name() string {
	return "endpoint_lookup"
}

func (l *LookupChecker) Check(ctx context.Context) error {
	if l.source.BreakerOpen() {
		return Degraded("endpoint lookup circuit open")
	}
	return nil
}
