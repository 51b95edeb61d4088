package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter is a fixed-window limiter shared by every instance using
// the same redis database
type RedisLimiter struct {
	client *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a redis-backed limiter; prefix namespaces its keys
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "tasktrax:ratelimit"
	}
	return &RedisLimiter{client: client, config: config, prefix: prefix}
}

func (l *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

// Allow implements Limiter. The window starts with the first request.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.key(key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true}, fmt.Errorf("failed to count request: %w", err)
	}
	left := ttl.Val()
	if left <= 0 {
		if err := l.client.PExpire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return Decision{Allowed: true}, fmt.Errorf("failed to start window: %w", err)
		}
		left = l.config.WindowDuration
	}

	limit := l.config.RequestsPerWindow + l.config.BurstSize
	count := int(incr.Val())
	d := Decision{
		Allowed:   count <= limit,
		Limit:     l.config.RequestsPerWindow,
		Remaining: limit - count,
		Reset:     time.Now().Add(left),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// Reset clears the window of key
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	err := l.client.Del(ctx, l.key(key)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// Ping verifies redis connectivity
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
