// Package ratelimit throttles inbound messages per sender with a fixed
// counting window, in memory or shared through Redis.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter counts hits for key in the window containing now.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

// window identifies one fixed counting interval.
type window struct {
	index int64
	reset time.Time
}

func windowAt(now time.Time, size time.Duration) window {
	if size <= 0 {
		size = time.Second
	}
	start := now.Truncate(size)
	return window{index: start.UnixNano() / int64(size), reset: start.Add(size).UTC()}
}

func decide(count int64, limit int, w window) Result {
	if count > int64(limit) {
		return Result{Allowed: false, Reset: w.reset}
	}
	return Result{Allowed: true, Remaining: limit - int(count), Reset: w.reset}
}
