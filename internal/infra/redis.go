package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the client. Zero values keep the URL's settings.
type RedisOptions struct {
	PoolSize     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient connects to the Redis behind url, which holds idempotency
// records, rate-limit counters and one-time codes. It waits for Redis to
// answer PING before returning.
func NewRedisClient(ctx context.Context, url string, opts RedisOptions) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	if opts.ReadTimeout > 0 {
		ro.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		ro.WriteTimeout = opts.WriteTimeout
	}

	client := redis.NewClient(ro)
	err = pingUntilReady(ctx, 3*time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", ro.Addr, err)
	}
	return client, nil
}
