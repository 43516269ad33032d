package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pruneThreshold bounds how many idle sender windows are kept before a sweep.
const pruneThreshold = 4096

type counter struct {
	window int64
	hits   int64
}

// MemoryLimiter keeps per-key counters in process. It is the fallback when
// Redis is disabled or unreachable.
type MemoryLimiter struct {
	size time.Duration

	mu       sync.Mutex
	counters map[string]*counter
}

// NewMemoryLimiter constructs a MemoryLimiter with the given window size.
func NewMemoryLimiter(size time.Duration) *MemoryLimiter {
	if size <= 0 {
		size = time.Second
	}
	return &MemoryLimiter{size: size, counters: make(map[string]*counter)}
}

// tracked reports how many keys currently hold a counter.
func (l *MemoryLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

// Allow counts one hit for key. Hits past the limit are not counted.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	w := windowAt(now, l.size)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.counters) >= pruneThreshold {
		l.pruneLocked(w.index)
	}
	c, ok := l.counters[key]
	if !ok || c.window != w.index {
		c = &counter{window: w.index}
		l.counters[key] = c
	}
	if c.hits >= int64(limit) {
		return decide(c.hits+1, limit, w), nil
	}
	c.hits++
	return decide(c.hits, limit, w), nil
}

// pruneLocked drops counters from windows before index. Caller holds l.mu.
func (l *MemoryLimiter) pruneLocked(index int64) {
	for key, c := range l.counters {
		if c.window < index {
			delete(l.counters, key)
		}
	}
}
