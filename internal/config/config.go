package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Negotiator NegotiatorConfig `mapstructure:"negotiator"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Player     PlayerConfig     `mapstructure:"player"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
}

// ServerConfig is the local control API.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`     // json or text
	Output     string `mapstructure:"output"`     // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"`   // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// StreamConfig describes the remote streaming service.
type StreamConfig struct {
	BaseURL string `mapstructure:"base_url"` // ws(s)://host[:port], empty means use the resolved endpoint
	Path    string `mapstructure:"path"`
	CloudIP string `mapstructure:"cloud_ip"`
	AppID   int    `mapstructure:"app_id"`
	Scheme  string `mapstructure:"scheme"` // ws or wss, used with resolved endpoints
}

type NegotiatorConfig struct {
	LookupURL     string        `mapstructure:"lookup_url"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Cache         CacheConfig   `mapstructure:"cache"`
}

type CacheConfig struct {
	Type          string        `mapstructure:"type"` // memory or redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"` // 0 keeps entries forever
}

type TransportConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	CommandRate       float64       `mapstructure:"command_rate"` // commands per second
	CommandBurst      int           `mapstructure:"command_burst"`
}

type PlayerConfig struct {
	FPS             int           `mapstructure:"fps"`
	BufferThreshold time.Duration `mapstructure:"buffer_threshold"`
	LiveLag         time.Duration `mapstructure:"live_lag"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	StallTimeout    time.Duration `mapstructure:"stall_timeout"`
	AutoReplayDelay time.Duration `mapstructure:"auto_replay_delay"`
	LivePauseOffset time.Duration `mapstructure:"live_pause_offset"`
	SmallClipMax    time.Duration `mapstructure:"small_clip_max"`
	SkipOffset      time.Duration `mapstructure:"skip_offset"`
}

type RecoveryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Strategy      string        `mapstructure:"strategy"` // linear or exponential
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	Multiplier    float64       `mapstructure:"multiplier"`
}

// SimulatorConfig drives the headless media element.
type SimulatorConfig struct {
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	AppendLatency   time.Duration `mapstructure:"append_latency"`
	RecordPath      string        `mapstructure:"record_path"`
}

// Load reads configuration from configPath (optional) and LOOKOUT_* environment
// variables on top of the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("LOOKOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Stream defaults
	v.SetDefault("stream.base_url", "")
	v.SetDefault("stream.path", "/v3/api/ws")
	v.SetDefault("stream.cloud_ip", "")
	v.SetDefault("stream.app_id", 0)
	v.SetDefault("stream.scheme", "ws")

	// Negotiator defaults
	v.SetDefault("negotiator.lookup_url", "http://localhost:8080")
	v.SetDefault("negotiator.lookup_timeout", "5s")
	v.SetDefault("negotiator.max_retries", 2)
	v.SetDefault("negotiator.retry_delay", "500ms")
	v.SetDefault("negotiator.cache.type", "memory")
	v.SetDefault("negotiator.cache.redis_addr", "localhost:6379")
	v.SetDefault("negotiator.cache.redis_db", 0)
	v.SetDefault("negotiator.cache.prefix", "lookout:addr")
	v.SetDefault("negotiator.cache.ttl", "0s")

	// Transport defaults
	v.SetDefault("transport.heartbeat_interval", "30s")
	v.SetDefault("transport.handshake_timeout", "10s")
	v.SetDefault("transport.write_timeout", "5s")
	v.SetDefault("transport.read_limit", 16<<20) // 16MB per message
	v.SetDefault("transport.command_rate", 5.0)
	v.SetDefault("transport.command_burst", 2)

	// Player defaults
	v.SetDefault("player.fps", 10)
	v.SetDefault("player.buffer_threshold", "30s")
	v.SetDefault("player.live_lag", "3s")
	v.SetDefault("player.session_timeout", "20s")
	v.SetDefault("player.stall_timeout", "20s")
	v.SetDefault("player.auto_replay_delay", "10s")
	v.SetDefault("player.live_pause_offset", "5s")
	v.SetDefault("player.small_clip_max", "60s")
	v.SetDefault("player.skip_offset", "10s")

	// Recovery defaults
	v.SetDefault("recovery.max_attempts", 3)
	v.SetDefault("recovery.retry_interval", "5s")
	v.SetDefault("recovery.strategy", "linear")
	v.SetDefault("recovery.max_delay", "30s")
	v.SetDefault("recovery.multiplier", 2.0)

	// Simulator defaults
	v.SetDefault("simulator.segment_duration", "1s")
	v.SetDefault("simulator.append_latency", "10ms")
	v.SetDefault("simulator.record_path", "")
}
