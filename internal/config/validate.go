package config

import (
	"fmt"
	"net/url"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Negotiator.Validate(); err != nil {
		return fmt.Errorf("negotiator config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player config: %w", err)
	}

	if err := c.Recovery.Validate(); err != nil {
		return fmt.Errorf("recovery config: %w", err)
	}

	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("simulator config: %w", err)
	}

	if c.Server.Enabled && c.Metrics.Enabled && c.Server.Port == c.Metrics.Port {
		return fmt.Errorf("server and metrics cannot share port %d", c.Server.Port)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}

	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}

	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (s *StreamConfig) Validate() error {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("base_url scheme must be ws or wss, got %q", u.Scheme)
		}
	}

	if s.Scheme != "ws" && s.Scheme != "wss" {
		return fmt.Errorf("scheme must be 'ws' or 'wss'")
	}

	if s.Path == "" || s.Path[0] != '/' {
		return fmt.Errorf("path must start with '/'")
	}

	if s.AppID < 0 {
		return fmt.Errorf("app_id cannot be negative")
	}

	return nil
}

func (n *NegotiatorConfig) Validate() error {
	if n.LookupURL == "" {
		return fmt.Errorf("lookup_url is required")
	}

	if _, err := url.ParseRequestURI(n.LookupURL); err != nil {
		return fmt.Errorf("invalid lookup_url: %w", err)
	}

	if n.LookupTimeout <= 0 {
		return fmt.Errorf("lookup_timeout must be positive")
	}

	if n.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if n.RetryDelay < 0 {
		return fmt.Errorf("retry_delay cannot be negative")
	}

	return n.Cache.Validate()
}

func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for redis cache")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("redis_db cannot be negative")
		}
		if c.Prefix == "" {
			return fmt.Errorf("prefix is required for redis cache")
		}
	default:
		return fmt.Errorf("cache type must be 'memory' or 'redis', got %q", c.Type)
	}

	if c.TTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}

	return nil
}

func (t *TransportConfig) Validate() error {
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}

	if t.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}

	if t.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}

	if t.ReadLimit <= 0 {
		return fmt.Errorf("read_limit must be positive")
	}

	if t.CommandRate <= 0 {
		return fmt.Errorf("command_rate must be positive")
	}

	if t.CommandBurst < 1 {
		return fmt.Errorf("command_burst must be at least 1")
	}

	return nil
}

func (p *PlayerConfig) Validate() error {
	if p.FPS < 1 || p.FPS > 120 {
		return fmt.Errorf("fps must be between 1 and 120, got %d", p.FPS)
	}

	if p.BufferThreshold <= 0 {
		return fmt.Errorf("buffer_threshold must be positive")
	}

	if p.LiveLag <= 0 {
		return fmt.Errorf("live_lag must be positive")
	}

	if p.LiveLag >= p.BufferThreshold {
		return fmt.Errorf("live_lag (%v) must be less than buffer_threshold (%v)", p.LiveLag, p.BufferThreshold)
	}

	if p.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}

	if p.StallTimeout <= 0 {
		return fmt.Errorf("stall_timeout must be positive")
	}

	if p.AutoReplayDelay <= 0 {
		return fmt.Errorf("auto_replay_delay must be positive")
	}

	if p.LivePauseOffset < 0 {
		return fmt.Errorf("live_pause_offset cannot be negative")
	}

	if p.SmallClipMax < 0 {
		return fmt.Errorf("small_clip_max cannot be negative")
	}

	if p.SkipOffset <= 0 {
		return fmt.Errorf("skip_offset must be positive")
	}

	return nil
}

func (r *RecoveryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}

	if r.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be positive")
	}

	switch r.Strategy {
	case "linear":
	case "exponential":
		if r.Multiplier <= 1 {
			return fmt.Errorf("multiplier must be greater than 1 for exponential strategy")
		}
		if r.MaxDelay < r.RetryInterval {
			return fmt.Errorf("max_delay (%v) must be >= retry_interval (%v)", r.MaxDelay, r.RetryInterval)
		}
	default:
		return fmt.Errorf("strategy must be 'linear' or 'exponential', got %q", r.Strategy)
	}

	return nil
}

func (s *SimulatorConfig) Validate() error {
	if s.SegmentDuration <= 0 {
		return fmt.Errorf("segment_duration must be positive")
	}

	if s.AppendLatency < 0 {
		return fmt.Errorf("append_latency cannot be negative")
	}

	return nil
}
