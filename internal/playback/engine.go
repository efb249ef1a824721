// Package playback runs the playback session engine: one event loop owning
// the active session, its buffer, metadata and recovery state.
package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/lookout/internal/buffer"
	"github.com/zsiec/lookout/internal/host"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/metadata"
	"github.com/zsiec/lookout/internal/recovery"
	"github.com/zsiec/lookout/internal/sched"
	"github.com/zsiec/lookout/internal/stream"
)

var (
	// ErrStopped is returned by operations issued after Run has returned.
	ErrStopped = errors.New("playback engine stopped")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("playback engine already running")
)

// Options wires an Engine.
type Options struct {
	Config     Config
	Negotiator Negotiator
	Dialer     Dialer
	Media      host.Media
	Recovery   recovery.Config
	Scheduler  sched.Scheduler
	Logger     logger.Logger
}

// Engine is the playback controller. All session state is owned by the
// goroutine running Run; the exported methods post to it and wait.
type Engine struct {
	cfg        Config
	negotiator Negotiator
	dialer     Dialer
	media      host.Media
	base       sched.Scheduler
	loop       loopScheduler
	mb         *mailbox
	logger     logger.Logger
	frames     *logger.SampledLogger

	buffer   *buffer.Controller
	sync     *metadata.Synchronizer
	recovery *recovery.Machine

	running atomic.Bool
	done    chan struct{}
	final   stream.VideoState

	// owned by the loop
	ctx          context.Context
	state        stream.VideoState
	published    stream.VideoState
	opts         stream.ConnectionOptions
	smallClip    bool
	gen          uint64
	sess         *session
	startedAt    time.Time
	sessionTimer *loopTimer
	stallTimer   *loopTimer
	replayTimer  *loopTimer
	reverseTimer *loopTimer

	subMu   sync.Mutex
	subs    map[uint64]chan stream.VideoState
	nextSub uint64
}

func New(o Options) *Engine {
	if o.Scheduler == nil {
		o.Scheduler = sched.Real{}
	}
	if o.Logger == nil {
		o.Logger = logger.NewNullLogger()
	}
	if o.Recovery.Strategy == nil {
		o.Recovery.Strategy = recovery.NewLinearBackoff(5 * time.Second)
	}
	log := o.Logger.WithField("component", "playback")
	mb := newMailbox()
	loop := loopScheduler{base: o.Scheduler, mb: mb}

	e := &Engine{
		cfg:        o.Config,
		negotiator: o.Negotiator,
		dialer:     o.Dialer,
		media:      o.Media,
		base:       o.Scheduler,
		loop:       loop,
		mb:         mb,
		logger:     log,
		frames:     logger.NewPlaybackLogger(log),
		buffer: buffer.NewController(buffer.Config{
			Threshold: o.Config.BufferThreshold,
			LiveLag:   o.Config.LiveLag,
		}, o.Logger),
		sync:     metadata.NewSynchronizer(o.Logger),
		recovery: recovery.NewMachine(o.Recovery, loop, o.Logger),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		state:    stream.InitialVideoState(),
		subs:     make(map[uint64]chan stream.VideoState),
	}
	e.published = e.state
	e.final = e.state
	e.recovery.OnRetry = e.retry
	e.recovery.OnTerminal = e.fail
	return e
}

// Run processes events until ctx is canceled, then tears the active session
// down.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.ctx = ctx
	defer close(e.done)

	e.logger.Info("Playback engine started")
	for {
		select {
		case <-e.mb.signal:
			for _, fn := range e.mb.drain() {
				fn()
			}
			e.publish()
		case <-ctx.Done():
			e.recovery.Cancel()
			e.closeSession()
			stopTimer(&e.sessionTimer)
			e.final = e.state
			e.closeSubscribers()
			e.logger.Info("Playback engine stopped")
			return nil
		}
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// do runs fn on the loop and waits for its result.
func (e *Engine) do(fn func() error) error {
	reply := make(chan error, 1)
	e.mb.post(func() { reply <- fn() })
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}

// Subscribe returns a channel receiving the latest VideoState after every
// change. Slow readers only see the most recent state. The channel is closed
// by cancel or when the engine stops.
func (e *Engine) Subscribe() (<-chan stream.VideoState, func()) {
	ch := make(chan stream.VideoState, 1)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

func (e *Engine) publish() {
	if e.state == e.published {
		return
	}
	e.published = e.state
	st := e.state

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

// State returns the current VideoState.
func (e *Engine) State() stream.VideoState {
	var st stream.VideoState
	if err := e.do(func() error { st = e.state; return nil }); err != nil {
		return e.final
	}
	return st
}

// CurrentMetadata returns the record resolved for the most recent frame.
func (e *Engine) CurrentMetadata() (stream.FrameMetadata, bool) {
	var (
		md stream.FrameMetadata
		ok bool
	)
	_ = e.do(func() error {
		md, ok = e.sync.Current()
		return nil
	})
	return md, ok
}

// Snapshot is a diagnostic view of the engine.
type Snapshot struct {
	State         stream.VideoState        `json:"state"`
	Options       stream.ConnectionOptions `json:"options"`
	SmallClip     bool                     `json:"smallClip"`
	SessionID     string                   `json:"sessionId,omitempty"`
	Generation    uint64                   `json:"generation"`
	Codec         string                   `json:"codec,omitempty"`
	Transport     string                   `json:"transport,omitempty"`
	Position      float64                  `json:"position"`
	Recovery      recovery.Context         `json:"recovery"`
	RecoveryState string                   `json:"recoveryState"`
	Reversing     bool                     `json:"reversing"`
	Buffer        buffer.Stats             `json:"buffer"`
	IndexEntries  int                      `json:"indexEntries"`
	Metadata      *stream.FrameMetadata    `json:"metadata,omitempty"`
}

func (e *Engine) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := e.do(func() error {
		snap = Snapshot{
			State:         e.state,
			Options:       e.opts,
			SmallClip:     e.smallClip,
			Generation:    e.gen,
			Recovery:      e.recovery.Context(),
			RecoveryState: e.recovery.State().String(),
			Reversing:     e.reverseTimer != nil,
			Buffer:        e.buffer.Stats(),
			IndexEntries:  e.sync.Index().Len(),
		}
		if s := e.sess; s != nil {
			snap.SessionID = s.target.SessionID
			snap.Codec = s.codec
			if s.conn != nil {
				snap.Transport = s.conn.State().String()
			}
			if s.sink != nil {
				snap.Position = e.media.CurrentTime()
			}
		}
		if md, ok := e.sync.Current(); ok {
			snap.Metadata = &md
		}
		return nil
	})
	return snap, err
}
