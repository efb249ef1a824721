// Package stream holds the data model shared by the session engine components.
package stream

import (
	"fmt"
	"time"
)

// StreamMode selects which encoder stream the server serves.
type StreamMode int

const (
	StreamModeLiveFeed    StreamMode = 0
	StreamModeArchiveClip StreamMode = 1
)

func (m StreamMode) String() string {
	switch m {
	case StreamModeLiveFeed:
		return "live-feed"
	case StreamModeArchiveClip:
		return "archive-clip"
	default:
		return fmt.Sprintf("stream-mode(%d)", int(m))
	}
}

// ConnectionOptions parameterizes one session attempt. Timestamps are
// wall-clock milliseconds; Timestamp 0 selects live.
type ConnectionOptions struct {
	SiteID        int64      `json:"siteId"`
	ChannelID     int64      `json:"channelId"`
	Timestamp     int64      `json:"timestamp"`
	EndTimestamp  int64      `json:"endTimestamp,omitempty"`
	JobID         int64      `json:"jobId,omitempty"`
	EventID       int64      `json:"eventId,omitempty"`
	StreamMode    StreamMode `json:"streamMode"`
	IsRetry       bool       `json:"isRetry,omitempty"`
	SeekTimestamp int64      `json:"seekTimestamp,omitempty"`
}

// Validate checks the caller-supplied fields.
func (o ConnectionOptions) Validate() error {
	if o.SiteID <= 0 {
		return fmt.Errorf("siteId must be positive")
	}
	if o.ChannelID <= 0 {
		return fmt.Errorf("channelId must be positive")
	}
	if o.Timestamp < 0 || o.SeekTimestamp < 0 || o.EndTimestamp < 0 {
		return fmt.Errorf("timestamps cannot be negative")
	}
	if o.EndTimestamp > 0 && o.EndTimestamp <= o.Timestamp {
		return fmt.Errorf("endTimestamp %d must be after timestamp %d", o.EndTimestamp, o.Timestamp)
	}
	if o.StreamMode != StreamModeLiveFeed && o.StreamMode != StreamModeArchiveClip {
		return fmt.Errorf("unknown stream mode %d", o.StreamMode)
	}
	return nil
}

// EffectiveTimestamp is the timestamp the attempt actually opens at.
func (o ConnectionOptions) EffectiveTimestamp() int64 {
	if o.SeekTimestamp > 0 {
		return o.SeekTimestamp
	}
	return o.Timestamp
}

// Mode classifies the attempt as live or archive.
func (o ConnectionOptions) Mode() Mode {
	if o.EffectiveTimestamp() > 0 {
		return ModeArchive
	}
	return ModeLive
}

// IsSmallClip reports whether the options describe a bounded clip no longer
// than max.
func (o ConnectionOptions) IsSmallClip(max time.Duration) bool {
	if o.EndTimestamp <= 0 {
		return false
	}
	return o.EndTimestamp-o.Timestamp <= max.Milliseconds()
}

// HasEvent reports whether the session was triggered by an analytics event.
func (o ConnectionOptions) HasEvent() bool {
	return o.JobID != 0 && o.EventID != 0
}

// Stored returns the options to remember for later attempts: the one-shot
// seek and retry markers are dropped.
func (o ConnectionOptions) Stored() ConnectionOptions {
	o.SeekTimestamp = 0
	o.IsRetry = false
	return o
}

// Retry derives the options for a retry attempt resuming at timestamp.
func (o ConnectionOptions) Retry(timestamp int64) ConnectionOptions {
	o = o.Stored()
	o.IsRetry = true
	o.Timestamp = timestamp
	return o
}

// At derives fresh (non-retry) options for the same site and channel opening
// at timestamp, dropping clip bounds and event markers.
func (o ConnectionOptions) At(timestamp int64) ConnectionOptions {
	return ConnectionOptions{
		SiteID:     o.SiteID,
		ChannelID:  o.ChannelID,
		Timestamp:  timestamp,
		StreamMode: o.StreamMode,
	}
}
