package stream

// Mode is live or archive playback.
type Mode string

const (
	ModeLive    Mode = "live"
	ModeArchive Mode = "archive"
)

type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Forward || d == Backward
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// ValidRate reports whether rate is a supported playback rate.
func ValidRate(rate float64) bool {
	switch rate {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}

// VideoState is the user-visible playback state of the active session.
type VideoState struct {
	Mode            Mode      `json:"mode"`
	IsPlaying       bool      `json:"isPlaying"`
	Direction       Direction `json:"direction"`
	PlaybackRate    float64   `json:"playbackRate"`
	IsFrameStepping bool      `json:"isFrameStepping"`
	IsLoading       bool      `json:"isLoading"`
	Status          Status    `json:"status"`
	AwaitingReplay  bool      `json:"awaitingReplay"`
	// StatusText carries failure text for the UI layer when Status is failed.
	StatusText string `json:"statusText,omitempty"`
}

// InitialVideoState is the state before any session has started.
func InitialVideoState() VideoState {
	return VideoState{
		Mode:         ModeLive,
		IsPlaying:    true,
		Direction:    Forward,
		PlaybackRate: 1,
		Status:       StatusIdle,
	}
}
