package addrcache

import (
	"github.com/redis/go-redis/v9"
	"github.com/zsiec/lookout/internal/config"
	"github.com/zsiec/lookout/internal/logger"
)

// New builds the cache selected by cfg.Type. The redis client is returned
// for health checks and is nil for the memory cache.
func New(cfg config.CacheConfig, log logger.Logger) (Cache, *redis.Client) {
	if cfg.Type == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisCache(client, cfg.Prefix, cfg.TTL, log), client
	}
	return NewMemoryCache(cfg.TTL), nil
}
