// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 10 * time.Second
)

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// Sleep waits for d or until ctx ends. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultPolicy is three attempts, 1s base, 10s cap, up to 1s of jitter.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay, Jitter: time.Second}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based):
// min(BaseDelay*2^attempt + rand[0,Jitter), MaxDelay).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}
	delay := p.MaxDelay
	if attempt < 31 {
		if exp := p.BaseDelay << uint(attempt); exp > 0 && exp < p.MaxDelay {
			delay = exp
		}
	}
	if p.Jitter > 0 {
		delay += time.Duration(p.Rand() * float64(p.Jitter))
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Do calls fn until it succeeds, the attempts are exhausted or ctx ends.
// fn receives the 1-based attempt number. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	p = p.normalized()
	if ctx == nil {
		ctx = context.Background()
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if errCtx := ctx.Err(); errCtx != nil {
			if lastErr != nil {
				return lastErr
			}
			return errCtx
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if errSleep := p.Sleep(ctx, p.Backoff(attempt)); errSleep != nil {
			return lastErr
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
