package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Player.FPS)
	assert.Equal(t, 30*time.Second, cfg.Player.BufferThreshold)
	assert.Equal(t, 3*time.Second, cfg.Player.LiveLag)
	assert.Equal(t, 20*time.Second, cfg.Player.SessionTimeout)
	assert.Equal(t, 20*time.Second, cfg.Player.StallTimeout)
	assert.Equal(t, 10*time.Second, cfg.Player.AutoReplayDelay)
	assert.Equal(t, 5*time.Second, cfg.Player.LivePauseOffset)
	assert.Equal(t, 60*time.Second, cfg.Player.SmallClipMax)
	assert.Equal(t, 10*time.Second, cfg.Player.SkipOffset)

	assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Recovery.RetryInterval)
	assert.Equal(t, "linear", cfg.Recovery.Strategy)

	assert.Equal(t, 30*time.Second, cfg.Transport.HeartbeatInterval)
	assert.Equal(t, "/v3/api/ws", cfg.Stream.Path)
	assert.Equal(t, "memory", cfg.Negotiator.Cache.Type)
}

func TestLoadConfig(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test-config-*.yaml")
	require.NoError(t, err)
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	configContent := `
server:
  port: 8181

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: false

stream:
  base_url: "wss://media.example.com"
  cloud_ip: "10.0.0.5"

negotiator:
  lookup_url: "https://api.example.com"
  cache:
    type: "redis"
    redis_addr: "localhost:6380"

player:
  fps: 25
  buffer_threshold: 45s

recovery:
  strategy: exponential
  max_delay: 40s
`
	_, err = tmpfile.Write([]byte(configContent))
	require.NoError(t, err)
	_ = tmpfile.Close()

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "wss://media.example.com", cfg.Stream.BaseURL)
	assert.Equal(t, "10.0.0.5", cfg.Stream.CloudIP)
	assert.Equal(t, "redis", cfg.Negotiator.Cache.Type)
	assert.Equal(t, "localhost:6380", cfg.Negotiator.Cache.RedisAddr)
	assert.Equal(t, 25, cfg.Player.FPS)
	assert.Equal(t, 45*time.Second, cfg.Player.BufferThreshold)
	assert.Equal(t, "exponential", cfg.Recovery.Strategy)
	assert.Equal(t, 40*time.Second, cfg.Recovery.MaxDelay)

	// untouched sections keep their defaults
	assert.Equal(t, 3*time.Second, cfg.Player.LiveLag)
}

func TestLoadConfigInvalid(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test-config-*.yaml")
	require.NoError(t, err)
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	_, err = tmpfile.Write([]byte("player:\n  fps: 0\n"))
	require.NoError(t, err)
	_ = tmpfile.Close()

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "fps must be between")
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/lookout.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LOOKOUT_PLAYER_FPS", "15")
	t.Setenv("LOOKOUT_STREAM_CLOUD_IP", "192.168.1.20")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Player.FPS)
	assert.Equal(t, "192.168.1.20", cfg.Stream.CloudIP)
}
