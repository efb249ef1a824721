package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/stream"
)

var clipStart = epoch.Add(-time.Hour).UnixMilli()

func archiveOpts() stream.ConnectionOptions {
	return stream.ConnectionOptions{SiteID: 1, ChannelID: 2, Timestamp: clipStart, StreamMode: stream.StreamModeArchiveClip}
}

func liveOpts() stream.ConnectionOptions {
	return stream.ConnectionOptions{SiteID: 1, ChannelID: 2}
}

func TestStartLoadsArchiveSession(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(archiveOpts()))
	st := h.engine.State()
	assert.Equal(t, stream.ModeArchive, st.Mode)
	assert.True(t, st.IsLoading)
	assert.Equal(t, stream.StatusLoading, st.Status)

	c := h.connect()
	c.h.OnCodec(mp4Codec)
	c.h.OnMetadata(frames(clipStart, 0, 2000))
	h.feed(c, 2)

	st = h.engine.State()
	assert.False(t, st.IsLoading)
	assert.Equal(t, stream.StatusReady, st.Status)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, mp4Codec, h.sim.Codec())
	assert.Equal(t, 2, h.sim.Appended())

	calls := h.neg.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, clipStart, calls[0].Timestamp)
	assert.False(t, calls[0].IsRetry)

	h.advance(250 * time.Millisecond)
	md, ok := h.engine.CurrentMetadata()
	require.True(t, ok)
	assert.Equal(t, clipStart+200, md.TimeStamp)
}

func TestStartRejectsInvalidOptions(t *testing.T) {
	h := newHarness(t)

	err := h.engine.Start(stream.ConnectionOptions{ChannelID: 2})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.TypeOf(err))
	assert.Empty(t, h.neg.Calls())
}

func TestLiveSessionForcesUnitRate(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))
	require.NoError(t, h.engine.ChangePlaybackRate(4, stream.Forward))

	require.NoError(t, h.engine.Start(liveOpts()))
	st := h.engine.State()
	assert.Equal(t, stream.ModeLive, st.Mode)
	assert.Equal(t, 1.0, st.PlaybackRate)
}

func TestArchiveSessionKeepsRate(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))
	require.NoError(t, h.engine.ChangePlaybackRate(2, ""))

	require.NoError(t, h.engine.Seek(clipStart+30_000))
	assert.Equal(t, 2.0, h.engine.State().PlaybackRate)
}

func TestTransportFailureRetriesFromLastPosition(t *testing.T) {
	h := newHarness(t)
	c := h.load(archiveOpts(), 3, frames(clipStart, 0, 3000))

	h.advance(250 * time.Millisecond)
	pos := h.snapshot().Recovery.LastKnownPlayPosition
	require.Greater(t, pos, clipStart)

	c.h.OnClose(apperrors.NewTransportError(errors.New("connection reset")))
	h.sync()

	st := h.engine.State()
	assert.True(t, st.IsLoading)
	assert.Equal(t, stream.StatusLoading, st.Status)
	assert.True(t, c.Aborted())
	snap := h.snapshot()
	assert.Equal(t, "retrying", snap.RecoveryState)
	assert.Equal(t, 1, snap.Recovery.Attempts)

	h.advance(5 * time.Second)
	retry := h.connect()
	require.NotNil(t, retry)

	calls := h.neg.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[1].IsRetry)
	assert.Equal(t, pos, calls[1].Timestamp)

	retry.h.OnCodec(mp4Codec)
	h.feed(retry, 1)
	snap = h.snapshot()
	assert.Equal(t, "recovered", snap.RecoveryState)
	assert.Zero(t, snap.Recovery.Attempts)
	assert.Equal(t, stream.StatusReady, snap.State.Status)
}

func TestDialFailureForgetsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.dialer.setErr(errors.New("connection refused"))

	require.NoError(t, h.engine.Start(archiveOpts()))
	require.Eventually(t, func() bool {
		return h.snapshot().Recovery.Attempts == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1}, h.neg.Forgets())

	h.dialer.setErr(nil)
	h.advance(5 * time.Second)
	h.connect()
	assert.Len(t, h.neg.Calls(), 2)
	assert.Len(t, h.neg.Forgets(), 1)
}

func TestLiveRetryResumesAtLive(t *testing.T) {
	h := newHarness(t)
	c := h.load(liveOpts(), 1, frames(epoch.UnixMilli(), 0, 1000))
	h.advance(250 * time.Millisecond)

	c.h.OnClose(apperrors.NewTransportError(errors.New("eof")))
	h.sync()
	h.advance(5 * time.Second)
	h.connect()

	calls := h.neg.Calls()
	require.Len(t, calls, 2)
	assert.Zero(t, calls[1].Timestamp)
	assert.True(t, calls[1].IsRetry)
}

func TestRetriesExhaustedIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.neg.setErr(errors.New("lookup unavailable"))

	require.NoError(t, h.engine.Start(archiveOpts()))
	for attempt := 1; attempt <= 2; attempt++ {
		require.Eventually(t, func() bool {
			return h.snapshot().Recovery.Attempts == attempt
		}, 2*time.Second, 5*time.Millisecond)
		assert.True(t, h.engine.State().IsLoading)
		h.advance(5 * time.Second)
	}

	require.Eventually(t, func() bool {
		return h.engine.State().Status == stream.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	st := h.engine.State()
	assert.False(t, st.IsLoading)
	assert.Equal(t, "Stream unavailable", st.StatusText)
	assert.Equal(t, "failed", h.snapshot().RecoveryState)

	h.advance(time.Minute)
	assert.Len(t, h.neg.Calls(), 3)
}

func TestSessionTimeoutIsTerminal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(archiveOpts()))
	c := h.connect()

	h.advance(19 * time.Second)
	assert.Equal(t, stream.StatusLoading, h.engine.State().Status)

	h.advance(time.Second)
	st := h.engine.State()
	assert.Equal(t, stream.StatusFailed, st.Status)
	assert.Equal(t, "Stream timed out", st.StatusText)
	assert.True(t, c.Aborted())
	assert.True(t, h.snapshot().Recovery.TimedOut)

	h.advance(time.Minute)
	assert.Len(t, h.neg.Calls(), 1)
}

func TestUnsupportedCodecIsTerminal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(archiveOpts()))
	c := h.connect()

	c.h.OnCodec("audio/ogg")
	h.sync()

	st := h.engine.State()
	assert.Equal(t, stream.StatusFailed, st.Status)
	assert.Equal(t, "Unsupported video format", st.StatusText)
	assert.True(t, c.Aborted())

	h.advance(10 * time.Second)
	h.dialer.assertNone(t)
}

func TestServerErrorEntersRecovery(t *testing.T) {
	h := newHarness(t)
	c := h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))

	c.h.OnClose(apperrors.NewProtocolError("server reported an error"))
	h.sync()

	snap := h.snapshot()
	assert.Equal(t, stream.StatusLoading, snap.State.Status)
	assert.Equal(t, 1, snap.Recovery.Attempts)
}

func TestSoftCloseDoesNotRetry(t *testing.T) {
	h := newHarness(t)
	c := h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))

	c.h.OnClose(nil)
	h.advance(10 * time.Second)

	st := h.engine.State()
	assert.Equal(t, stream.StatusReady, st.Status)
	assert.Zero(t, h.snapshot().Recovery.Attempts)
	h.dialer.assertNone(t)
}

func TestStallTriggersRecovery(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))

	// the single buffered second plays out, then no frame is presented
	h.advance(22 * time.Second)

	snap := h.snapshot()
	assert.Equal(t, 1, snap.Recovery.Attempts)
	assert.Contains(t, snap.Recovery.LastError, "STALLED")
}

func TestStallIgnoredWhilePaused(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))
	require.NoError(t, h.engine.Pause())

	h.advance(30 * time.Second)
	assert.Zero(t, h.snapshot().Recovery.Attempts)
}

func TestSupersededSessionEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(archiveOpts()))
	first := h.connect()

	require.NoError(t, h.engine.Start(liveOpts()))
	second := h.connect()
	assert.True(t, first.Aborted())

	first.h.OnCodec(mp4Codec)
	first.h.OnClose(apperrors.NewTransportError(errors.New("late close")))
	h.sync()

	snap := h.snapshot()
	assert.Zero(t, snap.Recovery.Attempts)
	assert.Empty(t, snap.Codec)
	assert.Equal(t, "sid-2", snap.SessionID)
	assert.False(t, second.Aborted())
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	c := h.load(archiveOpts(), 2, frames(clipStart, 0, 2000))

	require.NoError(t, h.engine.Stop())
	first := h.snapshot()
	require.NoError(t, h.engine.Stop())
	second := h.snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, stream.StatusIdle, second.State.Status)
	assert.False(t, second.State.IsPlaying)
	assert.Empty(t, second.SessionID)
	assert.Zero(t, second.IndexEntries)
	assert.Zero(t, second.Buffer.Queued)
	assert.True(t, c.Aborted())
	assert.Empty(t, h.sim.Codec())

	h.advance(time.Minute)
	h.dialer.assertNone(t)
}

func TestPauseInLiveReanchorsToArchive(t *testing.T) {
	h := newHarness(t)
	h.load(liveOpts(), 1, frames(epoch.UnixMilli(), 0, 1000))

	require.NoError(t, h.engine.Pause())
	st := h.engine.State()
	assert.False(t, st.IsPlaying)
	assert.Equal(t, stream.ModeArchive, st.Mode)

	c := h.connect()
	calls := h.neg.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, h.clock.Now().Add(-5*time.Second).UnixMilli(), calls[1].Timestamp)
	assert.False(t, calls[1].IsRetry)

	c.h.OnCodec(mp4Codec)
	h.feed(c, 1)
	assert.True(t, h.sim.Paused())
	assert.False(t, h.engine.State().IsPlaying)
}

func TestPausedReanchorWithoutDataHasNoSessionTimeout(t *testing.T) {
	h := newHarness(t)
	h.load(liveOpts(), 1, frames(epoch.UnixMilli(), 0, 1000))

	require.NoError(t, h.engine.Pause())
	h.connect()

	h.advance(25 * time.Second)
	snap := h.snapshot()
	assert.Equal(t, stream.StatusLoading, snap.State.Status)
	assert.True(t, snap.State.IsLoading)
	assert.Zero(t, snap.Recovery.Attempts)
	h.dialer.assertNone(t)
}

func TestGoLive(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.engine.GoLive())

	h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))
	require.NoError(t, h.engine.GoLive())
	h.connect()

	calls := h.neg.Calls()
	require.Len(t, calls, 2)
	assert.Zero(t, calls[1].Timestamp)
	assert.Equal(t, stream.ModeLive, h.engine.State().Mode)
}

func TestSeekOutsideBufferStartsSession(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))

	target := clipStart + 120_000
	require.NoError(t, h.engine.Seek(target))
	h.connect()

	calls := h.neg.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, target, calls[1].SeekTimestamp)
	assert.Equal(t, clipStart, calls[1].Timestamp)
	assert.Equal(t, target, h.snapshot().Recovery.LastKnownPlayPosition)

	snap := h.snapshot()
	assert.Zero(t, snap.Options.SeekTimestamp)

	require.Error(t, h.engine.Seek(0))
}

func TestFrameByFrame(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 3, frames(clipStart, 0, 3000))
	h.sim.SetCurrentTime(1.5)
	h.sync()

	require.NoError(t, h.engine.FrameByFrame(stream.Forward))
	st := h.engine.State()
	assert.False(t, st.IsPlaying)
	assert.True(t, st.IsFrameStepping)
	assert.InDelta(t, 1.6, h.sim.CurrentTime(), 1e-9)

	require.NoError(t, h.engine.FrameByFrame(stream.Backward))
	require.NoError(t, h.engine.FrameByFrame(stream.Backward))
	assert.InDelta(t, 1.4, h.sim.CurrentTime(), 1e-9)

	h.sim.SetCurrentTime(0)
	h.sync()
	require.NoError(t, h.engine.FrameByFrame(stream.Backward))
	assert.Zero(t, h.sim.CurrentTime())

	require.NoError(t, h.engine.Resume())
	assert.False(t, h.engine.State().IsFrameStepping)
}

func TestFrameByFrameRejectedInLive(t *testing.T) {
	h := newHarness(t)
	h.load(liveOpts(), 1, frames(epoch.UnixMilli(), 0, 1000))

	err := h.engine.FrameByFrame(stream.Forward)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConflict, apperrors.TypeOf(err))

	err = h.engine.ChangePlaybackRate(2, stream.Forward)
	assert.Equal(t, apperrors.ErrorTypeConflict, apperrors.TypeOf(err))

	err = h.engine.FrameByFrame("sideways")
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.TypeOf(err))
}

func TestChangePlaybackRateValidation(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 1, frames(clipStart, 0, 1000))

	err := h.engine.ChangePlaybackRate(3, stream.Forward)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.TypeOf(err))

	require.NoError(t, h.engine.ChangePlaybackRate(8, ""))
	assert.Equal(t, 8.0, h.sim.PlaybackRate())
	assert.Equal(t, stream.Forward, h.engine.State().Direction)
}

func TestSkipClampsToBuffer(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 5, frames(clipStart, 0, 5000))
	require.NoError(t, h.engine.Pause())
	h.sim.SetCurrentTime(2)
	h.sync()

	require.NoError(t, h.engine.Skip(stream.Forward))
	assert.InDelta(t, 5.0, h.sim.CurrentTime(), 1e-9)

	require.NoError(t, h.engine.Skip(stream.Backward))
	assert.Zero(t, h.sim.CurrentTime())
}

func TestReversePlayback(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 6, frames(clipStart, 0, 6000))
	h.sim.SetCurrentTime(5.0)
	h.sync()

	require.NoError(t, h.engine.ChangePlaybackRate(1, stream.Backward))
	st := h.engine.State()
	assert.Equal(t, stream.Backward, st.Direction)
	assert.True(t, st.IsPlaying)
	assert.True(t, h.sim.Paused())
	assert.True(t, h.snapshot().Reversing)

	h.advance(100 * time.Millisecond)
	assert.InDelta(t, 4.9, h.sim.CurrentTime(), 1e-9)

	h.advance(400 * time.Millisecond)
	assert.InDelta(t, 4.5, h.sim.CurrentTime(), 1e-9)

	h.advance(6 * time.Second)
	assert.Zero(t, h.sim.CurrentTime())
	assert.False(t, h.snapshot().Reversing)

	require.NoError(t, h.engine.ChangePlaybackRate(1, stream.Forward))
	assert.False(t, h.sim.Paused())
}

func TestReverseParkedAtStartIsNotStall(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 3, frames(clipStart, 0, 3000))
	h.sim.SetCurrentTime(1.0)
	h.sync()

	require.NoError(t, h.engine.ChangePlaybackRate(1, stream.Backward))
	h.advance(2 * time.Second)
	require.Zero(t, h.sim.CurrentTime())

	h.advance(21 * time.Second)
	snap := h.snapshot()
	assert.Equal(t, stream.StatusReady, snap.State.Status)
	assert.Zero(t, snap.Recovery.Attempts)
	assert.Len(t, h.neg.Calls(), 1)
	h.dialer.assertNone(t)

	require.NoError(t, h.engine.ChangePlaybackRate(1, stream.Forward))
	assert.False(t, h.sim.Paused())
}

func TestReverseStopsOnPause(t *testing.T) {
	h := newHarness(t)
	h.load(archiveOpts(), 3, frames(clipStart, 0, 3000))
	h.sim.SetCurrentTime(2.0)
	h.sync()

	require.NoError(t, h.engine.ChangePlaybackRate(2, stream.Backward))
	h.advance(100 * time.Millisecond)
	assert.InDelta(t, 1.8, h.sim.CurrentTime(), 1e-9)

	require.NoError(t, h.engine.Pause())
	assert.False(t, h.snapshot().Reversing)
	h.advance(time.Second)
	assert.InDelta(t, 1.8, h.sim.CurrentTime(), 1e-9)
}

func smallClipOpts() stream.ConnectionOptions {
	opts := archiveOpts()
	opts.EndTimestamp = clipStart + 2000
	return opts
}

func TestSmallClipEndAndAutoReplay(t *testing.T) {
	h := newHarness(t)
	c := h.load(smallClipOpts(), 2, frames(clipStart, 0, 2000))

	snap := h.snapshot()
	assert.True(t, snap.SmallClip)
	assert.True(t, snap.Buffer.ClipEnded)
	assert.True(t, c.SoftClosed())

	c.h.OnSegment([]byte{9})
	h.advance(10 * time.Millisecond)
	assert.Equal(t, 2, h.sim.Appended())

	c.h.OnClose(nil)
	h.advance(2500 * time.Millisecond)
	st := h.engine.State()
	assert.True(t, st.AwaitingReplay)
	assert.False(t, st.IsPlaying)

	h.advance(10 * time.Second)
	st = h.engine.State()
	assert.False(t, st.AwaitingReplay)
	assert.True(t, st.IsPlaying)
	assert.Len(t, h.neg.Calls(), 1)
}

func TestResumeWhileAwaitingReplayReplays(t *testing.T) {
	h := newHarness(t)
	h.load(smallClipOpts(), 2, frames(clipStart, 0, 2000))
	h.advance(2500 * time.Millisecond)
	require.True(t, h.engine.State().AwaitingReplay)

	require.NoError(t, h.engine.Resume())
	st := h.engine.State()
	assert.False(t, st.AwaitingReplay)
	assert.True(t, st.IsPlaying)
	assert.Less(t, h.sim.CurrentTime(), 0.5)
}

func TestSmallClipSeekWithinBuffer(t *testing.T) {
	h := newHarness(t)
	h.load(smallClipOpts(), 2, frames(clipStart, 0, 2000))

	require.NoError(t, h.engine.Seek(clipStart+1500))
	assert.InDelta(t, 1.5, h.sim.CurrentTime(), 1e-9)
	assert.False(t, h.engine.State().IsPlaying)
	assert.Equal(t, clipStart+1500, h.snapshot().Recovery.LastKnownPlayPosition)
	assert.Len(t, h.neg.Calls(), 1)
}

func TestSmallClipRetryRestartsAtClipStart(t *testing.T) {
	h := newHarness(t)
	c := h.load(smallClipOpts(), 1, frames(clipStart, 0, 2000))
	h.advance(500 * time.Millisecond)

	c.h.OnClose(apperrors.NewTransportError(errors.New("reset")))
	h.sync()
	h.advance(5 * time.Second)
	h.connect()

	calls := h.neg.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, clipStart, calls[1].Timestamp)
	assert.Equal(t, clipStart+2000, calls[1].EndTimestamp)
}

func TestSubscribeDeliversLatestState(t *testing.T) {
	h := newHarness(t)
	ch, cancel := h.engine.Subscribe()
	defer cancel()

	require.NoError(t, h.engine.Start(archiveOpts()))
	select {
	case st := <-ch:
		assert.Equal(t, stream.StatusLoading, st.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no state published")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, time.Millisecond)
}

func TestOperationsAfterRunReturn(t *testing.T) {
	h := newHarness(t)
	neg := &fakeNegotiator{}
	e := New(Options{Config: DefaultConfig(), Negotiator: neg, Dialer: newFakeDialer(), Media: h.sim})
	close(e.done)

	assert.ErrorIs(t, e.Start(archiveOpts()), ErrStopped)
	assert.Equal(t, stream.InitialVideoState(), e.State())
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t)
	h.sync()
	assert.ErrorIs(t, h.engine.Run(context.Background()), ErrAlreadyRunning)
}
