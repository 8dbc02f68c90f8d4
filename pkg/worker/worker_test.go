package worker

import (
	"context"
	"testing"
	"time"
)

func TestBackoffWithJitterNeverExceedsBackoffMax(t *testing.T) {
	backoffMin := 100 * time.Millisecond
	backoffMax := 2 * time.Second

	for attempt := 1; attempt <= 20; attempt++ {
		for i := 0; i < 50; i++ {
			d := backoffWithJitter(attempt, backoffMin, backoffMax)
			if d < 0 {
				t.Fatalf("attempt %d: negative backoff %v", attempt, d)
			}
			if d > backoffMax {
				t.Fatalf("attempt %d: backoff %v exceeds max %v", attempt, d, backoffMax)
			}
		}
	}
}

func TestBackoffWithJitterGrowsWithAttempt(t *testing.T) {
	backoffMin := 100 * time.Millisecond
	backoffMax := time.Hour

	// Full jitter means any single draw can be small, so compare the
	// theoretical ceiling (the exponential value, capped at backoffMax)
	// rather than a draw.
	ceilingAt := func(attempt int) time.Duration {
		exp := float64(backoffMin) * pow2(attempt-1)
		if time.Duration(exp) > backoffMax {
			return backoffMax
		}
		return time.Duration(exp)
	}

	if ceilingAt(1) >= ceilingAt(5) {
		t.Fatalf("expected the jitter ceiling to grow with attempt number")
	}
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

func TestSleepCtxReturnsFalseWhenContextCancelledFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Second) {
		t.Fatalf("expected sleepCtx to return false on an already-cancelled context")
	}
}

func TestSleepCtxReturnsTrueWhenTimerElapsesFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !sleepCtx(ctx, time.Millisecond) {
		t.Fatalf("expected sleepCtx to return true once the timer elapses")
	}
}
