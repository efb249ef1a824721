// Package host defines the boundary to the media element that decodes and
// presents buffered segments.
package host

import "errors"

var (
	// ErrBusy is returned by Append while a previous append is still in flight.
	ErrBusy = errors.New("source buffer is updating")
	// ErrDetached is returned by a SourceBuffer whose binding was released.
	ErrDetached = errors.New("source buffer detached")
)

// TimeRange is a buffered span in media seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SourceBuffer accepts media segments one at a time.
type SourceBuffer interface {
	// Updating reports whether an append or remove is in flight.
	Updating() bool
	// Append starts appending a segment. Completion is signalled through
	// Listener.OnAppendComplete.
	Append(segment []byte) error
	// Buffered returns the buffered ranges in ascending order.
	Buffered() []TimeRange
	// Remove evicts the media between start and end seconds.
	Remove(start, end float64) error
}

// Clock is the playback clock synchronized to the buffer.
type Clock interface {
	CurrentTime() float64
	SetCurrentTime(t float64)
	PlaybackRate() float64
	SetPlaybackRate(rate float64)
	Play()
	Pause()
	Paused() bool
}

// Listener receives media element events. Calls may arrive on any goroutine.
type Listener interface {
	OnAppendComplete()
	// OnLoaded fires once per attachment when the first playable data is ready.
	OnLoaded()
	// OnFrame fires for every presented frame with its media time in seconds.
	OnFrame(mediaTime float64)
	OnTimeUpdate()
	OnError(err error)
}

// Media is a media element that can bind one buffer sink at a time.
type Media interface {
	Clock
	// Attach binds a new buffer sink for codec, releasing any previous
	// binding. Events for the binding go to l until Detach.
	Attach(codec string, l Listener) (SourceBuffer, error)
	// Detach releases the current binding. No events are delivered for it
	// afterwards.
	Detach()
}

// Start returns the earliest buffered time.
func Start(ranges []TimeRange) (float64, bool) {
	if len(ranges) == 0 {
		return 0, false
	}
	return ranges[0].Start, true
}

// End returns the latest buffered time.
func End(ranges []TimeRange) (float64, bool) {
	if len(ranges) == 0 {
		return 0, false
	}
	return ranges[len(ranges)-1].End, true
}

// Clamp limits t to the buffered span. It returns t unchanged when nothing
// is buffered.
func Clamp(ranges []TimeRange, t float64) float64 {
	start, ok := Start(ranges)
	if !ok {
		return t
	}
	end, _ := End(ranges)
	if t < start {
		return start
	}
	if t > end {
		return end
	}
	return t
}
