package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/metadata"
	"github.com/zsiec/lookout/internal/stream"
)

// ErrIncompleteClip is returned when the clip session ends before its last
// frame arrives.
var ErrIncompleteClip = errors.New("clip session closed before completion")

// Clip is a bounded range of media collected in memory. Metadata is
// deduplicated by encoded timestamp and ordered by wall-clock time.
type Clip struct {
	Codec     string
	Segments  [][]byte
	StartTime int64
	Metadata  []stream.FrameMetadata
}

// Loader fetches the clip preceding a timestamp over an independent session.
type Loader struct {
	Negotiator Negotiator
	Dialer     Dialer
	// Window is the clip length, 60s when zero.
	Window time.Duration
	Logger logger.Logger
}

// LoadPrevious collects the clip [toTime-Window, toTime] of the channel in
// opts. It returns once a metadata batch reaches toTime.
func (l *Loader) LoadPrevious(ctx context.Context, opts stream.ConnectionOptions, toTime int64) (*Clip, error) {
	window := l.Window
	if window <= 0 {
		window = 60 * time.Second
	}
	log := l.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}
	if toTime <= window.Milliseconds() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("toTime %d is before the clip window", toTime))
	}

	clipOpts := opts.At(toTime - window.Milliseconds())
	clipOpts.EndTimestamp = toTime
	clipOpts.StreamMode = stream.StreamModeArchiveClip

	log = log.WithFields(map[string]interface{}{
		"component":  "clip-loader",
		"site_id":    clipOpts.SiteID,
		"channel_id": clipOpts.ChannelID,
		"from":       clipOpts.Timestamp,
		"to":         toTime,
	})

	target, err := l.Negotiator.Negotiate(ctx, clipOpts)
	if err != nil {
		return nil, err
	}

	c := &clipCollector{toTime: toTime, done: make(chan error, 1), index: metadata.NewIndex()}
	conn, err := l.Dialer.Dial(ctx, target.URI, target.SessionID, c)
	if err != nil {
		if ctx.Err() == nil {
			l.Negotiator.Forget(ctx, clipOpts.SiteID, target)
		}
		return nil, err
	}
	c.setConn(conn)
	log.Debug("Loading previous clip")

	select {
	case err := <-c.done:
		if err != nil {
			conn.Abort()
			log.WithError(err).Warn("Previous clip failed")
			return nil, err
		}
		clip := c.result()
		log.WithFields(map[string]interface{}{
			"segments": len(clip.Segments),
			"frames":   len(clip.Metadata),
		}).Info("Previous clip loaded")
		return clip, nil
	case <-ctx.Done():
		conn.Abort()
		return nil, ctx.Err()
	}
}

// clipCollector is the transport handler of a clip session.
type clipCollector struct {
	toTime int64
	done   chan error

	mu       sync.Mutex
	conn     Transport
	clip     Clip
	index    *metadata.Index
	complete bool
	finished bool
}

func (c *clipCollector) setConn(conn Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if c.complete {
		conn.SoftClose()
	}
}

func (c *clipCollector) OnCodec(codec string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clip.Codec = codec
}

func (c *clipCollector) OnSegment(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.complete {
		return
	}
	c.clip.Segments = append(c.clip.Segments, data)
}

func (c *clipCollector) OnMetadata(batch []stream.FrameMetadata) {
	if len(batch) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.complete {
		return
	}
	c.index.Merge(batch)
	if batch[len(batch)-1].TimeStamp < c.toTime {
		return
	}
	c.complete = true
	if c.conn != nil {
		c.conn.SoftClose()
	}
	c.finish(nil)
}

func (c *clipCollector) OnClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.complete {
		return
	}
	if err == nil {
		err = ErrIncompleteClip
	}
	c.finish(err)
}

// finish must be called with c.mu held.
func (c *clipCollector) finish(err error) {
	if c.finished {
		return
	}
	c.finished = true
	c.done <- err
}

func (c *clipCollector) result() *Clip {
	c.mu.Lock()
	defer c.mu.Unlock()
	clip := c.clip
	clip.StartTime, _ = c.index.Reference()
	clip.Metadata = c.index.Records()
	return &clip
}
