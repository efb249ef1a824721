// Package transport runs one full-duplex websocket session against the
// streaming server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zsiec/lookout/internal/config"
	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/sched"
	"github.com/zsiec/lookout/internal/stream"
	"github.com/zsiec/lookout/pkg/version"
	"golang.org/x/time/rate"
)

// SoftCloseCode is the close code of a client-initiated clean close.
const SoftCloseCode = 4000

var (
	// ErrClosed is returned when writing to a connection that is not open.
	ErrClosed = errors.New("transport closed")

	// ErrRateLimited is returned when commands exceed the configured rate.
	ErrRateLimited = errors.New("command rate limited")
)

type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateStreaming
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler receives session events. Calls are made serially from the
// connection's read goroutine and stop once the connection is aborted.
type Handler interface {
	// OnCodec is called once, for the first codec descriptor.
	OnCodec(codec string)
	OnSegment(data []byte)
	OnMetadata(batch []stream.FrameMetadata)
	// OnClose is called exactly once. err is nil for a soft close and
	// describes the failure otherwise.
	OnClose(err error)
}

type Config struct {
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
	CommandRate       float64
	CommandBurst      int
}

// ConfigFrom maps the transport config section.
func ConfigFrom(c config.TransportConfig) Config {
	return Config{
		HeartbeatInterval: c.HeartbeatInterval,
		HandshakeTimeout:  c.HandshakeTimeout,
		WriteTimeout:      c.WriteTimeout,
		ReadLimit:         c.ReadLimit,
		CommandRate:       c.CommandRate,
		CommandBurst:      c.CommandBurst,
	}
}

// Dialer opens sessions.
type Dialer struct {
	cfg    Config
	sched  sched.Scheduler
	ws     *websocket.Dialer
	logger logger.Logger
}

func NewDialer(cfg Config, s sched.Scheduler, log logger.Logger) *Dialer {
	return &Dialer{
		cfg:   cfg,
		sched: s,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: log.WithField("component", "transport"),
	}
}

// Dial connects to uri, announces capabilities and starts the heartbeat and
// read loop. sessionID tags heartbeats.
func (d *Dialer) Dial(ctx context.Context, uri, sessionID string, h Handler) (*Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	ws, resp, err := d.ws.DialContext(ctx, uri, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, apperrors.NewTransportError(fmt.Errorf("dial: %w", err))
	}
	if d.cfg.ReadLimit > 0 {
		ws.SetReadLimit(d.cfg.ReadLimit)
	}

	c := &Conn{
		ws:        ws,
		cfg:       d.cfg,
		sched:     d.sched,
		handler:   h,
		sessionID: sessionID,
		limiter:   rate.NewLimiter(rate.Limit(d.cfg.CommandRate), d.cfg.CommandBurst),
		done:      make(chan struct{}),
		logger:    d.logger.WithField("session_id", sessionID),
	}
	c.state.Store(int32(StateHandshaking))

	if err := c.writeJSON(capabilityMessage{Type: TypeMSE}); err != nil {
		ws.Close()
		return nil, apperrors.NewTransportError(fmt.Errorf("capability message: %w", err))
	}

	if d.cfg.HeartbeatInterval > 0 {
		c.heartbeat = sched.Every(d.sched, d.cfg.HeartbeatInterval, c.sendHeartbeat)
	}

	go c.readLoop()

	c.logger.Debug("Transport open")
	return c, nil
}

// Conn is one open session.
type Conn struct {
	ws        *websocket.Conn
	cfg       Config
	sched     sched.Scheduler
	handler   Handler
	sessionID string
	limiter   *rate.Limiter
	logger    logger.Logger

	state     atomic.Int32
	detached  atomic.Bool
	softClose atomic.Bool
	writeMu   sync.Mutex

	heartbeat sched.Timer
	forceStop sched.Timer
	timerMu   sync.Mutex

	codecSeen bool // read goroutine only

	finishOnce sync.Once
	done       chan struct{}
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) open() bool {
	s := c.State()
	return s == StateHandshaking || s == StateStreaming
}

// SendCommand sends a flow control command. It fails fast when the
// connection is not open or the command rate is exceeded.
func (c *Conn) SendCommand(value string) error {
	if !c.open() {
		return ErrClosed
	}
	if !c.limiter.Allow() {
		return ErrRateLimited
	}
	return c.writeJSON(Message{Type: TypeCommand, Value: value, ID: uuid.NewString()})
}

// SoftClose starts a clean client-initiated close. The handler sees
// OnClose(nil). If the server does not answer the close within the handshake
// timeout the socket is closed anyway.
func (c *Conn) SoftClose() {
	if !c.open() || !c.softClose.CompareAndSwap(false, true) {
		return
	}
	c.state.Store(int32(StateClosing))
	c.stopHeartbeat()

	msg := websocket.FormatCloseMessage(SoftCloseCode, "soft close from client")
	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout()))
	c.writeMu.Unlock()
	if err != nil {
		c.logger.WithError(err).Debug("Soft close write failed")
		c.ws.Close()
		return
	}

	c.timerMu.Lock()
	c.forceStop = c.sched.AfterFunc(c.closeTimeout(), func() { c.ws.Close() })
	c.timerMu.Unlock()
	c.logger.Debug("Soft close sent")
}

// Abort tears the connection down immediately. No handler method is called
// after Abort returns, except one already in progress. It does not wait for
// the read loop.
func (c *Conn) Abort() {
	if c.detached.Swap(true) {
		return
	}
	c.stopHeartbeat()
	if s := c.State(); s != StateFailed {
		c.state.Store(int32(StateClosed))
	}
	c.ws.Close()
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(c.classify(err))
			return
		}
		if c.detached.Load() {
			continue
		}

		switch mt {
		case websocket.BinaryMessage:
			c.handler.OnSegment(data)
		case websocket.TextMessage:
			if ferr := c.handleText(data); ferr != nil {
				c.finish(ferr)
				c.ws.Close()
				return
			}
		}
	}
}

// handleText dispatches a text message. A non-nil return is a fatal protocol
// error that ends the session.
func (c *Conn) handleText(data []byte) error {
	if isBatch(data) {
		batch, err := stream.DecodeBatch(data)
		if err != nil {
			c.logger.WithError(err).Warn("Dropping malformed metadata batch")
			return nil
		}
		c.handler.OnMetadata(batch)
		return nil
	}

	msg, err := decodeMessage(data)
	if err != nil {
		c.logger.WithError(err).Warn("Dropping malformed text message")
		return nil
	}

	switch msg.Type {
	case TypeMSE:
		if c.codecSeen {
			c.logger.WithField("codec", msg.Value).Debug("Ignoring repeated codec message")
			return nil
		}
		c.codecSeen = true
		c.state.CompareAndSwap(int32(StateHandshaking), int32(StateStreaming))
		c.handler.OnCodec(msg.Value)
	case TypeError:
		text := "server reported an error"
		if msg.Value != "" {
			text = fmt.Sprintf("%s: %s", text, msg.Value)
		}
		return apperrors.NewProtocolError(text)
	default:
		c.logger.WithField("type", msg.Type).Debug("Ignoring unknown message type")
	}
	return nil
}

// classify maps a read error to the session outcome: nil for a soft close,
// a transport error otherwise.
func (c *Conn) classify(err error) error {
	if c.softClose.Load() {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == SoftCloseCode {
		return nil
	}
	return apperrors.NewTransportError(err)
}

func (c *Conn) finish(err error) {
	c.finishOnce.Do(func() {
		c.stopHeartbeat()
		c.timerMu.Lock()
		if c.forceStop != nil {
			c.forceStop.Stop()
		}
		c.timerMu.Unlock()

		if c.detached.Load() {
			return
		}
		if err != nil {
			c.state.Store(int32(StateFailed))
			c.logger.WithError(err).Debug("Transport failed")
		} else {
			c.state.Store(int32(StateClosed))
			c.logger.Debug("Transport closed")
		}
		c.handler.OnClose(err)
	})
}

func (c *Conn) sendHeartbeat() {
	if !c.open() {
		return
	}
	if err := c.writeJSON(Message{Type: TypeHeartbeat, SessionID: c.sessionID}); err != nil {
		c.logger.WithError(err).Debug("Heartbeat write failed")
	}
}

func (c *Conn) stopHeartbeat() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

func (c *Conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout())); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *Conn) writeTimeout() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return 5 * time.Second
}

func (c *Conn) closeTimeout() time.Duration {
	if c.cfg.HandshakeTimeout > 0 {
		return c.cfg.HandshakeTimeout
	}
	return 5 * time.Second
}
