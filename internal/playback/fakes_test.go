package playback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/lookout/internal/host"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/negotiate"
	"github.com/zsiec/lookout/internal/recovery"
	"github.com/zsiec/lookout/internal/sched"
	"github.com/zsiec/lookout/internal/stream"
	"github.com/zsiec/lookout/internal/transport"
)

const mp4Codec = `video/mp4; codecs="avc1.42E01E"`

type fakeNegotiator struct {
	mu      sync.Mutex
	calls   []stream.ConnectionOptions
	err     error
	forgets []int64
}

func (f *fakeNegotiator) Negotiate(_ context.Context, opts stream.ConnectionOptions) (negotiate.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return negotiate.Target{}, f.err
	}
	n := len(f.calls)
	return negotiate.Target{
		URI:       fmt.Sprintf("ws://stream.test/v3/api/ws?attempt=%d", n),
		SessionID: fmt.Sprintf("sid-%d", n),
	}, nil
}

func (f *fakeNegotiator) Forget(_ context.Context, siteID int64, _ negotiate.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets = append(f.forgets, siteID)
}

func (f *fakeNegotiator) Forgets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.forgets...)
}

func (f *fakeNegotiator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeNegotiator) Calls() []stream.ConnectionOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.ConnectionOptions(nil), f.calls...)
}

type fakeConn struct {
	h transport.Handler

	mu         sync.Mutex
	commands   []string
	softClosed bool
	aborted    bool
}

func (c *fakeConn) SendCommand(value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return transport.ErrClosed
	}
	c.commands = append(c.commands, value)
	return nil
}

func (c *fakeConn) SoftClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.softClosed = true
}

func (c *fakeConn) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
}

func (c *fakeConn) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.aborted:
		return transport.StateClosed
	case c.softClosed:
		return transport.StateClosing
	default:
		return transport.StateStreaming
	}
}

func (c *fakeConn) SoftClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.softClosed
}

func (c *fakeConn) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

type fakeDialer struct {
	conns chan *fakeConn

	mu  sync.Mutex
	err error
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, _, _ string, h transport.Handler) (Transport, error) {
	d.mu.Lock()
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c := &fakeConn{h: h}
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

func (d *fakeDialer) assertNone(t *testing.T) {
	t.Helper()
	select {
	case <-d.conns:
		t.Fatal("unexpected connection dialed")
	case <-time.After(50 * time.Millisecond):
	}
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t      *testing.T
	clock  *sched.Manual
	sim    *host.Simulator
	neg    *fakeNegotiator
	dialer *fakeDialer
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := sched.NewManual(epoch)
	log := logger.NewNullLogger()
	sim := host.NewSimulator(host.SimulatorConfig{
		SegmentDuration: time.Second,
		AppendLatency:   10 * time.Millisecond,
		FPS:             10,
	}, clock, log)

	h := &harness{
		t:      t,
		clock:  clock,
		sim:    sim,
		neg:    &fakeNegotiator{},
		dialer: newFakeDialer(),
	}
	h.engine = New(Options{
		Config:     DefaultConfig(),
		Negotiator: h.neg,
		Dialer:     h.dialer,
		Media:      sim,
		Recovery: recovery.Config{
			MaxAttempts: 3,
			Strategy:    recovery.NewLinearBackoff(5 * time.Second),
		},
		Scheduler: clock,
		Logger:    log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.engine.Done()
	})
	return h
}

// sync waits until every event posted so far has been handled.
func (h *harness) sync() {
	h.engine.State()
}

// advance moves the clock in small steps so timers armed by the loop are
// due relative to the step that armed them.
func (h *harness) advance(d time.Duration) {
	const step = 10 * time.Millisecond
	for d > 0 {
		n := min(d, step)
		h.clock.Advance(n)
		h.sync()
		d -= n
	}
}

func (h *harness) snapshot() Snapshot {
	snap, err := h.engine.Snapshot()
	require.NoError(h.t, err)
	return snap
}

// connect waits for the next dial and for the engine to adopt it.
func (h *harness) connect() *fakeConn {
	h.t.Helper()
	c := h.dialer.next(h.t)
	require.Eventually(h.t, func() bool {
		return h.snapshot().Transport != ""
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

// feed appends n one-second segments, waiting for each append to complete.
func (h *harness) feed(c *fakeConn, n int) {
	for i := 0; i < n; i++ {
		c.h.OnSegment([]byte{byte(i)})
		h.sync()
		h.advance(10 * time.Millisecond)
	}
}

// load opens a session for opts, binds mp4 and feeds segments.
func (h *harness) load(opts stream.ConnectionOptions, segments int, batch []stream.FrameMetadata) *fakeConn {
	h.t.Helper()
	require.NoError(h.t, h.engine.Start(opts))
	c := h.connect()
	c.h.OnCodec(mp4Codec)
	if len(batch) > 0 {
		c.h.OnMetadata(batch)
	}
	h.feed(c, segments)
	require.Equal(h.t, stream.StatusReady, h.engine.State().Status)
	return c
}

// frames builds one record per 100ms of media from start to end ms.
func frames(base, start, end int64) []stream.FrameMetadata {
	var out []stream.FrameMetadata
	for enc := start; enc <= end; enc += 100 {
		out = append(out, stream.FrameMetadata{
			SiteID:           1,
			ChannelID:        2,
			FrameID:          enc / 100,
			TimeStamp:        base + enc,
			TimeStampEncoded: enc,
		})
	}
	return out
}
