package playback

import (
	"sync"
	"time"

	"github.com/zsiec/lookout/internal/sched"
)

// mailbox is an unbounded FIFO of loop events. post never blocks, so host
// callbacks raised synchronously from inside the loop cannot deadlock it.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

// loopTimer is a timer whose callback runs on the event loop. Stop must be
// called from the loop; a callback already queued when Stop runs is skipped.
type loopTimer struct {
	t       sched.Timer
	stopped bool
}

func (lt *loopTimer) Stop() bool {
	if lt == nil || lt.stopped {
		return false
	}
	lt.stopped = true
	return lt.t.Stop()
}

// loopScheduler runs timer callbacks on the event loop.
type loopScheduler struct {
	base sched.Scheduler
	mb   *mailbox
}

func (s loopScheduler) Now() time.Time {
	return s.base.Now()
}

func (s loopScheduler) AfterFunc(d time.Duration, f func()) sched.Timer {
	lt := &loopTimer{}
	lt.t = s.base.AfterFunc(d, func() {
		s.mb.post(func() {
			if !lt.stopped {
				f()
			}
		})
	})
	return lt
}

func (s loopScheduler) after(d time.Duration, f func()) *loopTimer {
	return s.AfterFunc(d, f).(*loopTimer)
}

func (s loopScheduler) every(d time.Duration, f func()) *loopTimer {
	lt := &loopTimer{}
	lt.t = sched.Every(s.base, d, func() {
		s.mb.post(func() {
			if !lt.stopped {
				f()
			}
		})
	})
	return lt
}

func stopTimer(t **loopTimer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
