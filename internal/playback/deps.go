package playback

import (
	"context"
	"time"

	"github.com/zsiec/lookout/internal/config"
	"github.com/zsiec/lookout/internal/negotiate"
	"github.com/zsiec/lookout/internal/stream"
	"github.com/zsiec/lookout/internal/transport"
)

// Negotiator resolves the session URI for one attempt. Forget is called
// when a negotiated target could not be dialed.
type Negotiator interface {
	Negotiate(ctx context.Context, opts stream.ConnectionOptions) (negotiate.Target, error)
	Forget(ctx context.Context, siteID int64, target negotiate.Target)
}

// Transport is an open session channel.
type Transport interface {
	SendCommand(value string) error
	SoftClose()
	Abort()
	State() transport.State
}

// Dialer opens a Transport delivering events to h.
type Dialer interface {
	Dial(ctx context.Context, uri, sessionID string, h transport.Handler) (Transport, error)
}

// NewWebsocketDialer adapts the websocket dialer to Dialer.
func NewWebsocketDialer(d *transport.Dialer) Dialer {
	return wsDialer{d: d}
}

type wsDialer struct {
	d *transport.Dialer
}

func (w wsDialer) Dial(ctx context.Context, uri, sessionID string, h transport.Handler) (Transport, error) {
	conn, err := w.d.Dial(ctx, uri, sessionID, h)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config holds the player timings.
type Config struct {
	FPS             int
	BufferThreshold time.Duration
	LiveLag         time.Duration
	SessionTimeout  time.Duration
	StallTimeout    time.Duration
	AutoReplayDelay time.Duration
	LivePauseOffset time.Duration
	SmallClipMax    time.Duration
	SkipOffset      time.Duration
}

// ConfigFrom maps the player config section.
func ConfigFrom(p config.PlayerConfig) Config {
	return Config{
		FPS:             p.FPS,
		BufferThreshold: p.BufferThreshold,
		LiveLag:         p.LiveLag,
		SessionTimeout:  p.SessionTimeout,
		StallTimeout:    p.StallTimeout,
		AutoReplayDelay: p.AutoReplayDelay,
		LivePauseOffset: p.LivePauseOffset,
		SmallClipMax:    p.SmallClipMax,
		SkipOffset:      p.SkipOffset,
	}
}

// DefaultConfig matches the configuration defaults.
func DefaultConfig() Config {
	return Config{
		FPS:             10,
		BufferThreshold: 30 * time.Second,
		LiveLag:         3 * time.Second,
		SessionTimeout:  20 * time.Second,
		StallTimeout:    20 * time.Second,
		AutoReplayDelay: 10 * time.Second,
		LivePauseOffset: 5 * time.Second,
		SmallClipMax:    60 * time.Second,
		SkipOffset:      10 * time.Second,
	}
}

func (c Config) frameInterval() float64 {
	if c.FPS <= 0 {
		return 0.1
	}
	return 1 / float64(c.FPS)
}
