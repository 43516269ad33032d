package ratelimit

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// breaker keeps the Redis backend out of the request path for a cool-down
// after a failure.
type breaker struct {
	cooldown time.Duration

	mu        sync.Mutex
	openUntil time.Time
}

func (b *breaker) open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Before(b.openUntil)
}

func (b *breaker) trip(err error, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Before(b.openUntil) {
		return
	}
	b.openUntil = now.Add(b.cooldown)
	log.WithError(err).WithField("retry_after", b.cooldown).Warn("rate limit: redis unavailable, falling back to memory")
}
