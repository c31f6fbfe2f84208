package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL, connects and validates connectivity.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := PingRedis(ctx, rdb, 2*time.Second); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// PingRedis checks the Redis connection within timeout.
func PingRedis(parent context.Context, rdb redis.UniversalClient, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
