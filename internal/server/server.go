// Package server exposes the playback engine over a local HTTP control API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/zsiec/lookout/internal/config"
	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/health"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/playback"
	"github.com/zsiec/lookout/internal/stream"
)

// Player is the playback engine surface driven by the API.
type Player interface {
	Start(opts stream.ConnectionOptions) error
	Stop() error
	Pause() error
	Resume() error
	Seek(ts int64) error
	GoLive() error
	Replay() error
	FrameByFrame(dir stream.Direction) error
	ChangePlaybackRate(rate float64, dir stream.Direction) error
	Skip(dir stream.Direction) error
	State() stream.VideoState
	CurrentMetadata() (stream.FrameMetadata, bool)
	Snapshot() (playback.Snapshot, error)
	Subscribe() (<-chan stream.VideoState, func())
}

// ClipLoader fetches the clip preceding a timestamp.
type ClipLoader interface {
	LoadPrevious(ctx context.Context, opts stream.ConnectionOptions, toTime int64) (*playback.Clip, error)
}

// Server is the control API.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       logger.Logger
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	player       Player
	clips        ClipLoader
	limiter      *rate.Limiter
	upgrader     websocket.Upgrader
}

// New builds the server and its routes. clips may be nil, which disables the
// clip endpoint.
func New(cfg *config.ServerConfig, log logger.Logger, player Player, clips ClipLoader, healthMgr *health.Manager) *Server {
	log = log.WithField("component", "server")
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		healthMgr:    healthMgr,
		errorHandler: apperrors.NewErrorHandler(log),
		player:       player,
		clips:        clips,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	s.setupRoutes()
	return s
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.WithField("addr", addr).Info("Starting control API")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control API failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down control API")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Control API shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	pb := api.PathPrefix("/playback").Subrouter()
	pb.HandleFunc("/state", s.handleState).Methods("GET")
	pb.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")
	pb.HandleFunc("/metadata", s.handleMetadata).Methods("GET")
	pb.HandleFunc("/events", s.handleEvents).Methods("GET")
	pb.HandleFunc("/start", s.handleStart).Methods("POST")
	pb.HandleFunc("/stop", s.action(s.player.Stop)).Methods("POST")
	pb.HandleFunc("/pause", s.action(s.player.Pause)).Methods("POST")
	pb.HandleFunc("/resume", s.action(s.player.Resume)).Methods("POST")
	pb.HandleFunc("/live", s.action(s.player.GoLive)).Methods("POST")
	pb.HandleFunc("/replay", s.action(s.player.Replay)).Methods("POST")
	pb.HandleFunc("/seek", s.handleSeek).Methods("POST")
	pb.HandleFunc("/frame", s.handleFrame).Methods("POST")
	pb.HandleFunc("/rate", s.handleRate).Methods("POST")
	pb.HandleFunc("/skip", s.handleSkip).Methods("POST")

	if s.clips != nil {
		api.HandleFunc("/clips/previous", s.handlePreviousClip).Methods("POST")
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// eventWriteTimeout bounds a single state push on the events socket.
const eventWriteTimeout = 5 * time.Second
