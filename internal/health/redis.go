package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks the redis server backing the address cache.
type RedisChecker struct {
	client redis.UniversalClient
	name   string
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{
		client: client,
		name:   "address_cache",
	}
}

func (r *RedisChecker) Name() string {
	return r.name
}

// Check pings redis and reads its server info.
func (r *RedisChecker) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	info, err := r.client.Info(ctx, "server").Result()
	if err != nil {
		return fmt.Errorf("failed to get redis info: %w", err)
	}
	if len(info) == 0 {
		return fmt.Errorf("empty redis info response")
	}

	return nil
}
