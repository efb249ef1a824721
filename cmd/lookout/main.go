package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/lookout/internal/addrcache"
	"github.com/zsiec/lookout/internal/config"
	"github.com/zsiec/lookout/internal/health"
	"github.com/zsiec/lookout/internal/host"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/negotiate"
	"github.com/zsiec/lookout/internal/playback"
	"github.com/zsiec/lookout/internal/recovery"
	"github.com/zsiec/lookout/internal/sched"
	"github.com/zsiec/lookout/internal/server"
	"github.com/zsiec/lookout/internal/stream"
	"github.com/zsiec/lookout/internal/transport"
	"github.com/zsiec/lookout/internal/ui"
	"github.com/zsiec/lookout/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
		showTUI     bool
		opts        stream.ConnectionOptions
		streamMode  int
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showTUI, "tui", false, "Show the terminal dashboard")
	flag.Int64Var(&opts.SiteID, "site", 0, "Site id to open on startup")
	flag.Int64Var(&opts.ChannelID, "channel", 0, "Channel id to open on startup")
	flag.Int64Var(&opts.Timestamp, "timestamp", 0, "Archive start in unix ms, 0 for live")
	flag.Int64Var(&opts.EndTimestamp, "end", 0, "Archive end in unix ms")
	flag.Int64Var(&opts.JobID, "job", 0, "Analytics job id")
	flag.Int64Var(&opts.EventID, "event", 0, "Analytics event id")
	flag.IntVar(&streamMode, "stream-mode", 0, "Stream mode: 0 live feed, 1 archive clip")
	flag.Parse()
	opts.StreamMode = stream.StreamMode(streamMode)

	// Show version and exit if requested
	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	base, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if showTUI && (cfg.Logging.Output == "stdout" || cfg.Logging.Output == "stderr") {
		// the dashboard owns the terminal
		base.SetOutput(io.Discard)
	}
	log := logger.WithComponent(base, "main")

	log.WithField("version", version.GetInfo().Short()).Info("Starting Lookout player")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	appLog := logger.WithComponent(base, "lookout")
	healthMgr := health.NewManager(appLog)

	cache, redisClient := addrcache.New(cfg.Negotiator.Cache, appLog)
	defer func() {
		if err := cache.Close(); err != nil {
			log.WithError(err).Error("Failed to close address cache")
		}
	}()
	if redisClient != nil {
		healthMgr.Register(health.NewRedisChecker(redisClient))
	}

	lookup := negotiate.NewHTTPLookup(negotiate.HTTPLookupConfig{
		BaseURL:    cfg.Negotiator.LookupURL,
		Timeout:    cfg.Negotiator.LookupTimeout,
		MaxRetries: cfg.Negotiator.MaxRetries,
		RetryDelay: cfg.Negotiator.RetryDelay,
	}, appLog)
	healthMgr.Register(health.NewLookupChecker(lookup))

	negotiator := negotiate.NewNegotiator(cfg.Stream,
		negotiate.NewResolver(cache, lookup, appLog), appLog)
	dialer := playback.NewWebsocketDialer(
		transport.NewDialer(transport.ConfigFrom(cfg.Transport), sched.Real{}, appLog))

	simCfg := host.SimulatorConfig{
		SegmentDuration: cfg.Simulator.SegmentDuration,
		AppendLatency:   cfg.Simulator.AppendLatency,
		FPS:             cfg.Player.FPS,
	}
	if cfg.Simulator.RecordPath != "" {
		f, err := os.Create(cfg.Simulator.RecordPath)
		if err != nil {
			log.WithError(err).Fatal("Failed to create segment recording")
		}
		defer f.Close()
		simCfg.Record = f
	}

	engine := playback.New(playback.Options{
		Config:     playback.ConfigFrom(cfg.Player),
		Negotiator: negotiator,
		Dialer:     dialer,
		Media:      host.NewSimulator(simCfg, sched.Real{}, appLog),
		Recovery: recovery.Config{
			MaxAttempts: cfg.Recovery.MaxAttempts,
			Strategy: recovery.NewStrategy(cfg.Recovery.Strategy,
				cfg.Recovery.RetryInterval, cfg.Recovery.MaxDelay, cfg.Recovery.Multiplier),
		},
		Scheduler: sched.Real{},
		Logger:    appLog,
	})
	healthMgr.Register(health.NewSessionChecker(engine))

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	if opts.SiteID > 0 {
		if err := engine.Start(opts); err != nil {
			log.WithError(err).Fatal("Failed to start playback")
		}
	}

	go healthMgr.StartPeriodicChecks(ctx, 30*time.Second)

	if cfg.Server.Enabled {
		loader := &playback.Loader{
			Negotiator: negotiator,
			Dialer:     dialer,
			Logger:     appLog,
		}
		srv := server.New(&cfg.Server, appLog, engine, loader, healthMgr)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.WithError(err).Error("Control API error")
				cancel()
			}
		}()
	}

	if showTUI {
		if _, err := tea.NewProgram(ui.NewModel(engine), tea.WithAltScreen()).Run(); err != nil {
			log.WithError(err).Error("Dashboard error")
		}
		cancel()
	}

	if err := <-engineDone; err != nil {
		log.WithError(err).Error("Playback engine error")
	}

	log.Info("Player shutdown complete")
}

// startMetricsServer starts the Prometheus metrics server
func startMetricsServer(cfg config.MetricsConfig, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
