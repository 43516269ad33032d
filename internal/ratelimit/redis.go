package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares counters between every instance that points at the
// same server and prefix.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	size   time.Duration
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string, size time.Duration) *RedisLimiter {
	if size <= 0 {
		size = time.Second
	}
	return &RedisLimiter{client: client, prefix: prefix, size: size}
}

// Allow increments the window counter for key and expires it one window
// after the window ends.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	w := windowAt(now, l.size)
	redisKey := l.counterKey(key, w.index)

	var incr *redis.IntCmd
	_, errExec := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpireAt(ctx, redisKey, w.reset.Add(l.size))
		return nil
	})
	if errExec != nil {
		return Result{}, fmt.Errorf("rate limit redis: %w", errExec)
	}
	return decide(incr.Val(), limit, w), nil
}

func (l *RedisLimiter) counterKey(key string, index int64) string {
	suffix := key + ":" + strconv.FormatInt(index, 10)
	if l.prefix == "" {
		return suffix
	}
	return l.prefix + ":" + suffix
}
