package playback

import (
	"context"
	"strconv"

	"github.com/zsiec/lookout/internal/buffer"
	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/host"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/metrics"
	"github.com/zsiec/lookout/internal/negotiate"
	"github.com/zsiec/lookout/internal/recovery"
	"github.com/zsiec/lookout/internal/stream"
	"github.com/zsiec/lookout/internal/transport"
)

// session is one attempt. It is only touched on the loop.
type session struct {
	gen    uint64
	opts   stream.ConnectionOptions
	mode   stream.Mode
	cancel context.CancelFunc
	log    logger.Logger

	target negotiate.Target
	conn   Transport
	open   bool
	sink   host.SourceBuffer
	codec  string
	loaded bool
	closed bool

	softClosePending bool
}

// sessionEvents routes transport and media callbacks for one generation onto
// the loop. Events of superseded generations are dropped there.
type sessionEvents struct {
	e   *Engine
	gen uint64
}

func (h sessionEvents) post(fn func(s *session)) {
	h.e.mb.post(func() {
		if s, ok := h.e.current(h.gen); ok {
			fn(s)
		}
	})
}

func (h sessionEvents) OnCodec(codec string) {
	h.post(func(s *session) { h.e.onCodec(s, codec) })
}

func (h sessionEvents) OnSegment(data []byte) {
	h.post(func(*session) { h.e.buffer.Push(data) })
}

func (h sessionEvents) OnMetadata(batch []stream.FrameMetadata) {
	h.post(func(*session) { h.e.sync.Ingest(batch) })
}

func (h sessionEvents) OnClose(err error) {
	h.post(func(s *session) { h.e.onTransportClose(s, err) })
}

func (h sessionEvents) OnAppendComplete() {
	h.post(func(*session) { h.e.buffer.AppendComplete() })
}

func (h sessionEvents) OnLoaded() {
	h.post(func(s *session) { h.e.onLoaded(s) })
}

func (h sessionEvents) OnFrame(mediaTime float64) {
	h.post(func(s *session) { h.e.onFrame(s, mediaTime) })
}

func (h sessionEvents) OnTimeUpdate() {
	h.post(func(*session) { h.e.buffer.TimeUpdate() })
}

func (h sessionEvents) OnError(err error) {
	h.post(func(s *session) {
		h.e.onSessionError(s, apperrors.NewProtocolError("media error: "+err.Error()))
	})
}

func (e *Engine) current(gen uint64) (*session, bool) {
	if e.sess == nil || e.sess.gen != gen {
		return nil, false
	}
	return e.sess, true
}

// start supersedes the active session with a new attempt for opts.
func (e *Engine) start(opts stream.ConnectionOptions) {
	if !opts.IsRetry {
		e.opts = opts.Stored()
		e.recovery.SetPosition(opts.EffectiveTimestamp())
	}
	e.recovery.Begin(opts.IsRetry)

	mode := opts.Mode()
	e.smallClip = opts.IsSmallClip(e.cfg.SmallClipMax)

	rate := e.state.PlaybackRate
	if mode == stream.ModeLive || !stream.ValidRate(rate) {
		rate = 1
	}
	e.state = stream.VideoState{
		Mode:         mode,
		IsPlaying:    true,
		Direction:    stream.Forward,
		PlaybackRate: rate,
		IsLoading:    true,
		Status:       stream.StatusLoading,
	}

	e.closeSession()
	stopTimer(&e.sessionTimer)

	e.gen++
	gen := e.gen
	e.sessionTimer = e.loop.after(e.cfg.SessionTimeout, func() { e.onSessionTimeout(gen) })

	ctx, cancel := context.WithCancel(e.ctx)
	s := &session{
		gen:    gen,
		opts:   opts,
		mode:   mode,
		cancel: cancel,
		log: e.logger.WithFields(map[string]interface{}{
			"site_id":    opts.SiteID,
			"channel_id": opts.ChannelID,
			"generation": gen,
		}),
	}
	e.sess = s
	e.sync.Begin(opts.EndTimestamp)
	e.startedAt = e.base.Now()
	metrics.SessionStarted(string(mode))

	s.log.WithFields(map[string]interface{}{
		"mode":       mode,
		"timestamp":  opts.EffectiveTimestamp(),
		"small_clip": e.smallClip,
		"retry":      opts.IsRetry,
		"attempts":   e.recovery.Context().Attempts,
	}).Info("Session starting")

	go e.connect(ctx, gen, opts)
}

// connect negotiates and dials off the loop.
func (e *Engine) connect(ctx context.Context, gen uint64, opts stream.ConnectionOptions) {
	fail := func(err error) {
		e.mb.post(func() {
			if s, ok := e.current(gen); ok {
				e.onSessionError(s, err)
			}
		})
	}

	target, err := e.negotiator.Negotiate(ctx, opts)
	if err != nil {
		if !apperrors.IsAppError(err) {
			err = apperrors.NewNegotiationError(err)
		}
		fail(err)
		return
	}

	conn, err := e.dialer.Dial(ctx, target.URI, target.SessionID, sessionEvents{e: e, gen: gen})
	if err != nil {
		if ctx.Err() == nil {
			e.negotiator.Forget(ctx, opts.SiteID, target)
		}
		if !apperrors.IsAppError(err) {
			err = apperrors.NewTransportError(err)
		}
		fail(err)
		return
	}

	e.mb.post(func() { e.onConnected(gen, target, conn) })
}

func (e *Engine) onConnected(gen uint64, target negotiate.Target, conn Transport) {
	s, ok := e.current(gen)
	if !ok || s.closed {
		conn.Abort()
		return
	}
	s.target = target
	s.conn = conn
	s.open = true
	s.log = logger.WithSession(e.logger, target.SessionID,
		formatID(s.opts.SiteID), formatID(s.opts.ChannelID), gen)
	metrics.SessionOpened()
	s.log.Debug("Transport connected")

	if s.softClosePending {
		s.softClosePending = false
		conn.SoftClose()
	}
}

func (e *Engine) onCodec(s *session, codec string) {
	if s.sink != nil {
		return
	}
	sink, err := e.media.Attach(codec, sessionEvents{e: e, gen: s.gen})
	if err != nil {
		s.log.WithError(err).Error("Failed to bind source buffer")
		e.onSessionError(s, apperrors.NewUnsupportedCodecError(codec))
		return
	}
	s.sink = sink
	s.codec = codec

	e.buffer.Bind(buffer.Session{
		Live:         s.mode == stream.ModeLive,
		SmallClip:    e.smallClip,
		EndTimestamp: s.opts.EndTimestamp,
		Sink:         sink,
		Clock:        e.media,
		Commander: buffer.CommanderFunc(func(value string) error {
			if s.conn == nil {
				return transport.ErrClosed
			}
			return s.conn.SendCommand(value)
		}),
		Reference: e.reference,
		OnEvict: func(start, end float64) {
			n := e.sync.Evicted(start, end)
			s.log.WithFields(map[string]interface{}{
				"from":   start,
				"to":     end,
				"pruned": n,
			}).Debug("Evicted buffered media")
		},
		OnClipEnd: func() {
			if s.conn == nil {
				s.softClosePending = true
				return
			}
			s.conn.SoftClose()
		},
	})
	s.log.WithField("codec", codec).Info("Source buffer bound")
}

// reference maps media time zero to wall-clock ms, falling back to the
// requested timestamp until the first metadata batch arrives.
func (e *Engine) reference() (int64, bool) {
	if ref, ok := e.sync.Reference(); ok {
		return ref, true
	}
	if e.sess != nil {
		if ts := e.sess.opts.EffectiveTimestamp(); ts > 0 {
			return ts, true
		}
	}
	return 0, false
}

func (e *Engine) onTransportClose(s *session, err error) {
	if err != nil {
		e.onSessionError(s, err)
		return
	}
	s.closed = true
	if s.open {
		s.open = false
		metrics.SessionClosed()
	}
	s.log.Info("Session closed by client")
}

// onSessionError tears the attempt down and hands the failure to recovery.
func (e *Engine) onSessionError(s *session, err error) {
	s.log.WithError(err).Warn("Session failed")
	e.closeSession()

	if e.recovery.Trigger(err) == recovery.Scheduled {
		e.state.IsLoading = true
		e.state.Status = stream.StatusLoading
	}
}

func (e *Engine) onLoaded(s *session) {
	if s.loaded {
		return
	}
	s.loaded = true
	stopTimer(&e.sessionTimer)
	e.recovery.Loaded()

	e.state.IsLoading = false
	e.state.Status = stream.StatusReady
	e.state.StatusText = ""
	e.media.SetPlaybackRate(e.state.PlaybackRate)
	e.applyPlayback()
	e.armStall()

	metrics.ObserveSessionLoad(string(s.mode), e.base.Now().Sub(e.startedAt))
	s.log.Info("Video loaded")
}

func (e *Engine) onFrame(s *session, mediaTime float64) {
	e.armStall()

	res := e.sync.OnFrame(mediaTime)
	if !res.Found {
		e.frames.DebugWithCategory(logger.CategoryFrame, "No metadata for frame", map[string]interface{}{
			"media_time": mediaTime,
		})
		return
	}
	e.recovery.SetPosition(res.Metadata.TimeStamp)

	if res.ReachedEnd && e.state.IsPlaying && !e.state.AwaitingReplay {
		s.log.WithField("timestamp", res.Metadata.TimeStamp).Info("Clip end reached")
		e.clipEnded()
	}
}

func (e *Engine) armStall() {
	stopTimer(&e.stallTimer)
	gen := e.gen
	e.stallTimer = e.loop.after(e.cfg.StallTimeout, func() { e.onStall(gen) })
}

func (e *Engine) onStall(gen uint64) {
	e.stallTimer = nil
	s, ok := e.current(gen)
	if !ok || !e.state.IsPlaying || e.state.AwaitingReplay {
		return
	}
	if e.parkedAtStart() {
		e.armStall()
		return
	}
	e.onSessionError(s, apperrors.NewStallError("no frame presented within the stall timeout"))
}

func (e *Engine) onSessionTimeout(gen uint64) {
	e.sessionTimer = nil
	if gen != e.gen || !e.state.IsPlaying {
		return
	}
	if s := e.sess; s != nil && s.loaded {
		return
	}
	e.logger.WithField("generation", gen).Warn("Session timed out")
	e.recovery.TimedOut()
}

// retry reopens the session at the recovery resume position.
func (e *Engine) retry(attempt int) {
	ts := e.recovery.ResumeTimestamp(e.opts, e.state.Mode, e.smallClip)
	e.logger.WithFields(map[string]interface{}{
		"attempt":   attempt,
		"timestamp": ts,
	}).Info("Retrying session")
	e.start(e.opts.Retry(ts))
}

// fail surfaces a terminal failure.
func (e *Engine) fail(err error) {
	e.closeSession()
	stopTimer(&e.sessionTimer)
	e.state.IsLoading = false
	e.state.Status = stream.StatusFailed
	e.state.StatusText = failureText(err)
}

func failureText(err error) string {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeTimeout:
		return "Stream timed out"
	case apperrors.ErrorTypeUnsupportedCodec:
		return "Unsupported video format"
	case apperrors.ErrorTypeRetriesExhausted:
		return "Stream unavailable"
	default:
		return "Playback failed"
	}
}

// closeSession releases everything the active attempt holds: transport,
// sink binding, queue, metadata and per-session timers.
func (e *Engine) closeSession() {
	s := e.sess
	if s == nil {
		return
	}
	e.sess = nil
	s.closed = true
	s.cancel()
	if s.conn != nil {
		s.conn.Abort()
	}
	if s.open {
		s.open = false
		metrics.SessionClosed()
	}
	if s.sink != nil {
		e.media.Detach()
	}
	e.buffer.Reset()
	e.sync.Reset()
	stopTimer(&e.stallTimer)
	stopTimer(&e.replayTimer)
	e.stopReverse()
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
