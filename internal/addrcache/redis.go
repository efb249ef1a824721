package addrcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zsiec/lookout/internal/logger"
)

// RedisCache stores endpoints as JSON values under prefix + ":site:<id>".
type RedisCache struct {
	client *redis.Client
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a redis backed cache. ttl 0 stores keys without
// expiry.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisCache {
	if prefix == "" {
		prefix = "lookout:addr"
	}
	return &RedisCache{
		client: client,
		logger: log.WithField("component", "addrcache"),
		prefix: prefix + ":",
		ttl:    ttl,
	}
}

func (r *RedisCache) key(siteID int64) string {
	return r.prefix + siteKey(siteID)
}

func (r *RedisCache) Get(ctx context.Context, siteID int64) (Endpoint, error) {
	data, err := r.client.Get(ctx, r.key(siteID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Endpoint{}, ErrNotFound
		}
		return Endpoint{}, fmt.Errorf("failed to get endpoint: %w", err)
	}

	var ep Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		// Corrupt entries count as misses.
		r.logger.WithError(err).WithField("site_id", siteID).Warn("Dropping corrupt cached endpoint")
		_ = r.client.Del(ctx, r.key(siteID)).Err()
		return Endpoint{}, ErrNotFound
	}
	return ep, nil
}

func (r *RedisCache) Set(ctx context.Context, siteID int64, ep Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint: %w", err)
	}
	if err := r.client.Set(ctx, r.key(siteID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store endpoint: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"site_id":  siteID,
		"endpoint": ep.Addr(),
	}).Debug("Endpoint cached")
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, siteID int64) error {
	if err := r.client.Del(ctx, r.key(siteID)).Err(); err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}
	return nil
}

// Ping checks connectivity to the backing redis.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
