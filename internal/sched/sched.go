// Package sched abstracts wall-clock timers so timer-driven components can be
// driven deterministically in tests.
package sched

import (
	"sync"
	"time"
)

// Timer is a pending callback that can be canceled.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from running.
	Stop() bool
}

// Scheduler creates timers and reports the current time.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is a Scheduler backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every runs f every d until the returned Timer is stopped. The first run
// happens after d.
func Every(s Scheduler, d time.Duration, f func()) Timer {
	p := &periodic{s: s, d: d, f: f}
	p.mu.Lock()
	p.arm()
	p.mu.Unlock()
	return p
}

type periodic struct {
	s       Scheduler
	d       time.Duration
	f       func()
	mu      sync.Mutex
	current Timer
	stopped bool
}

// arm must be called with p.mu held.
func (p *periodic) arm() {
	p.current = p.s.AfterFunc(p.d, p.fire)
}

func (p *periodic) fire() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.arm()
	p.mu.Unlock()
	p.f()
}

func (p *periodic) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.stopped = true
	if p.current != nil {
		p.current.Stop()
	}
	return true
}
