package playback

import (
	"fmt"
	"math"
	"time"

	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/host"
	"github.com/zsiec/lookout/internal/stream"
)

// Start supersedes any active session with a new one for opts.
func (e *Engine) Start(opts stream.ConnectionOptions) error {
	if err := opts.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	opts.IsRetry = false
	return e.do(func() error {
		stopTimer(&e.replayTimer)
		e.start(opts)
		return nil
	})
}

// Stop tears the active session down. Calling it again is a no-op.
func (e *Engine) Stop() error {
	return e.do(func() error {
		e.recovery.Cancel()
		if e.sess == nil && e.sessionTimer == nil && !e.state.IsLoading {
			return nil
		}
		e.closeSession()
		stopTimer(&e.sessionTimer)
		e.gen++
		e.state.IsLoading = false
		e.state.IsPlaying = false
		e.state.AwaitingReplay = false
		if e.state.Status != stream.StatusFailed {
			e.state.Status = stream.StatusIdle
		}
		e.logger.Info("Playback stopped")
		return nil
	})
}

// Pause stops continuous playback. A live session is first re-anchored to a
// near-live archive position so a later resume continues from there.
func (e *Engine) Pause() error {
	return e.do(func() error {
		if e.opts.SiteID == 0 {
			return apperrors.NewConflictError("no session to pause")
		}
		stopTimer(&e.replayTimer)
		if e.state.Mode == stream.ModeLive {
			anchor := e.base.Now().Add(-e.cfg.LivePauseOffset).UnixMilli()
			e.logger.WithField("timestamp", anchor).Info("Re-anchoring live session for pause")
			e.start(e.opts.At(anchor))
			e.state.IsPlaying = false
			return nil
		}
		e.state.IsPlaying = false
		e.state.AwaitingReplay = false
		e.stopReverse()
		if e.sinkBound() {
			e.media.Pause()
		}
		return nil
	})
}

// Resume continues playback in the current direction.
func (e *Engine) Resume() error {
	return e.do(func() error {
		if e.opts.SiteID == 0 {
			return apperrors.NewConflictError("no session to resume")
		}
		if e.state.AwaitingReplay {
			e.replay()
			return nil
		}
		e.state.IsPlaying = true
		e.state.IsFrameStepping = false
		if e.loaded() {
			e.applyPlayback()
			e.armStall()
		}
		return nil
	})
}

// Seek moves playback to ts (wall-clock ms). Inside a buffered bounded clip
// the cursor is repositioned directly; otherwise a new session opens at ts.
func (e *Engine) Seek(ts int64) error {
	if ts <= 0 {
		return apperrors.NewValidationError("seek timestamp must be positive")
	}
	return e.do(func() error {
		if e.opts.SiteID == 0 {
			return apperrors.NewConflictError("no session to seek")
		}
		stopTimer(&e.replayTimer)

		if pos, ok := e.bufferedPosition(ts); ok {
			e.stopReverse()
			e.media.Pause()
			e.media.SetCurrentTime(pos)
			e.state.IsPlaying = false
			e.state.AwaitingReplay = false
			e.recovery.SetPosition(ts)
			e.logger.WithFields(map[string]interface{}{
				"timestamp": ts,
				"position":  pos,
			}).Debug("Seek within buffered clip")
			return nil
		}

		opts := e.opts
		opts.SeekTimestamp = ts
		e.start(opts)
		return nil
	})
}

// bufferedPosition maps ts to a media position when the active bounded clip
// already holds it.
func (e *Engine) bufferedPosition(ts int64) (float64, bool) {
	if !e.smallClip || !e.sinkBound() {
		return 0, false
	}
	ref, ok := e.reference()
	if !ok {
		return 0, false
	}
	pos := float64(ts-ref) / 1000
	for _, r := range e.sess.sink.Buffered() {
		if pos >= r.Start && pos <= r.End {
			return pos, true
		}
	}
	return 0, false
}

// GoLive opens a live session on the current channel.
func (e *Engine) GoLive() error {
	return e.do(func() error {
		if e.opts.SiteID == 0 {
			return apperrors.NewConflictError("no channel selected")
		}
		stopTimer(&e.replayTimer)
		e.start(e.opts.At(0))
		return nil
	})
}

// Replay restarts the clip from its beginning.
func (e *Engine) Replay() error {
	return e.do(func() error {
		if e.opts.SiteID == 0 {
			return apperrors.NewConflictError("nothing to replay")
		}
		e.replay()
		return nil
	})
}

func (e *Engine) replay() {
	stopTimer(&e.replayTimer)
	e.state.AwaitingReplay = false

	if e.smallClip && e.sinkBound() {
		if start, ok := host.Start(e.sess.sink.Buffered()); ok {
			e.logger.WithField("position", start).Info("Replaying buffered clip")
			e.state.IsPlaying = true
			e.state.IsFrameStepping = false
			e.state.Direction = stream.Forward
			e.media.SetCurrentTime(start)
			e.applyPlayback()
			e.armStall()
			return
		}
	}
	e.logger.Info("Replaying from session start")
	e.start(e.opts)
}

// clipEnded pauses at the clip boundary and arms the auto-replay.
func (e *Engine) clipEnded() {
	e.stopReverse()
	e.media.Pause()
	e.state.IsPlaying = false
	e.state.AwaitingReplay = true
	stopTimer(&e.stallTimer)
	stopTimer(&e.replayTimer)
	e.replayTimer = e.loop.after(e.cfg.AutoReplayDelay, func() {
		e.replayTimer = nil
		if e.state.AwaitingReplay {
			e.replay()
		}
	})
}

// FrameByFrame pauses and steps one frame in dir.
func (e *Engine) FrameByFrame(dir stream.Direction) error {
	if !dir.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown direction %q", dir))
	}
	return e.do(func() error {
		if err := e.requireArchive("frame stepping"); err != nil {
			return err
		}
		stopTimer(&e.replayTimer)
		e.stopReverse()
		e.media.Pause()
		e.state.IsPlaying = false
		e.state.AwaitingReplay = false
		e.state.IsFrameStepping = true
		e.step(dir, e.cfg.frameInterval())
		return nil
	})
}

// Skip jumps by the configured skip offset in dir.
func (e *Engine) Skip(dir stream.Direction) error {
	if !dir.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown direction %q", dir))
	}
	return e.do(func() error {
		if err := e.requireArchive("skipping"); err != nil {
			return err
		}
		e.step(dir, e.cfg.SkipOffset.Seconds())
		return nil
	})
}

// ChangePlaybackRate sets the archive playback rate and, when dir is not
// empty, the direction.
func (e *Engine) ChangePlaybackRate(rate float64, dir stream.Direction) error {
	if !stream.ValidRate(rate) {
		return apperrors.NewValidationError(fmt.Sprintf("unsupported playback rate %v", rate))
	}
	if dir != "" && !dir.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown direction %q", dir))
	}
	return e.do(func() error {
		if e.state.Mode == stream.ModeLive {
			return apperrors.NewConflictError("playback rate cannot change in live mode")
		}
		e.state.PlaybackRate = rate
		if dir != "" {
			e.state.Direction = dir
		}
		e.media.SetPlaybackRate(rate)
		if e.state.IsPlaying && e.loaded() {
			e.stopReverse()
			e.applyPlayback()
		}
		return nil
	})
}

func (e *Engine) requireArchive(op string) error {
	if e.state.Mode == stream.ModeLive {
		return apperrors.NewConflictError(op + " is not available in live mode")
	}
	if !e.sinkBound() {
		return apperrors.NewConflictError(op + " needs buffered media")
	}
	return nil
}

func (e *Engine) step(dir stream.Direction, by float64) {
	if dir == stream.Backward {
		by = -by
	}
	ranges := e.sess.sink.Buffered()
	e.media.SetCurrentTime(host.Clamp(ranges, e.media.CurrentTime()+by))
}

func (e *Engine) sinkBound() bool {
	return e.sess != nil && e.sess.sink != nil
}

func (e *Engine) loaded() bool {
	return e.sess != nil && e.sess.loaded
}

// applyPlayback drives the media clock from the current state.
func (e *Engine) applyPlayback() {
	switch {
	case !e.state.IsPlaying:
		e.stopReverse()
		e.media.Pause()
	case e.state.Direction == stream.Backward:
		e.media.Pause()
		e.startReverse()
	default:
		e.stopReverse()
		e.media.Play()
	}
}

// reverseInterval is the wall-clock time between synthetic backward steps.
func (e *Engine) reverseInterval() time.Duration {
	rate := e.state.PlaybackRate
	if rate <= 0 {
		rate = 1
	}
	fps := e.cfg.FPS
	if fps <= 0 {
		fps = 10
	}
	return time.Duration(float64(time.Second) / (float64(fps) * rate))
}

func (e *Engine) startReverse() {
	if e.reverseTimer != nil {
		return
	}
	e.reverseTimer = e.loop.every(e.reverseInterval(), e.reverseStep)
}

func (e *Engine) stopReverse() {
	stopTimer(&e.reverseTimer)
}

func (e *Engine) reverseStep() {
	if !e.sinkBound() || !e.state.IsPlaying || e.state.Direction != stream.Backward {
		e.stopReverse()
		return
	}
	start, ok := host.Start(e.sess.sink.Buffered())
	cur := e.media.CurrentTime()
	if !ok || cur <= start {
		e.logger.Debug("Reverse playback reached buffered start")
		e.stopReverse()
		return
	}
	e.media.SetCurrentTime(math.Max(cur-e.cfg.frameInterval(), start))
}

// parkedAtStart reports a backward session resting on the first buffered
// frame. It presents no frames but is not stalled.
func (e *Engine) parkedAtStart() bool {
	if !e.sinkBound() || !e.state.IsPlaying || e.state.Direction != stream.Backward {
		return false
	}
	start, ok := host.Start(e.sess.sink.Buffered())
	return !ok || e.media.CurrentTime() <= start
}
