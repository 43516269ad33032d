package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleepPolicy(waits *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.Rand = func() float64 { return 0.5 }
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestBackoff_ExponentialWithJitterAndCap(t *testing.T) {
	p := DefaultPolicy()
	p.Rand = func() float64 { return 0.5 }

	cases := map[int]time.Duration{
		1: 2*time.Second + 500*time.Millisecond,
		2: 4*time.Second + 500*time.Millisecond,
		3: 8*time.Second + 500*time.Millisecond,
		4: 10 * time.Second,
		9: 10 * time.Second,
	}
	for attempt, want := range cases {
		if got := p.Backoff(attempt); got != want {
			t.Fatalf("Backoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), noSleepPolicy(&waits), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("gateway down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 {
		t.Fatalf("expected 2 waits between attempts, got %d", len(waits))
	}
	if waits[1] <= waits[0] {
		t.Fatalf("expected growing backoff, got %v", waits)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var waits []time.Duration
	errWant := errors.New("still down")
	calls := 0
	err := Do(context.Background(), noSleepPolicy(&waits), func(context.Context, int) error {
		calls++
		return errWant
	})
	if !errors.Is(err, errWant) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	err := Do(ctx, p, func(context.Context, int) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call before cancellation, got %d", calls)
	}
}
