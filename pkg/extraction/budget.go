// Package extraction implements the multi-source document extractors of
// §4.G: per-format text/vision extraction, a per-job token budget, and a
// daily cost circuit breaker shared across all jobs.
package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/justLukaBB/creditor-email-matcher/pkg/metrics"
	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/kv"
)

// ErrTokenBudgetExceeded is returned once a job's per-job token cap (§4.G)
// is exhausted; remaining sources for that job are skipped rather than
// extracted.
var ErrTokenBudgetExceeded = fmt.Errorf("per-job token budget exceeded")

// ErrDailyCostCapTripped is returned when the daily cost circuit breaker is
// open; extraction for the current call is refused entirely.
var ErrDailyCostCapTripped = fmt.Errorf("daily LLM cost cap tripped")

// JobBudget tracks cumulative token usage for one job against a fixed cap,
// warning once a configurable fraction is consumed.
type JobBudget struct {
	Cap          int
	WarnFraction float64
	used         int
}

func NewJobBudget(cap int, warnFraction float64) *JobBudget {
	return &JobBudget{Cap: cap, WarnFraction: warnFraction}
}

// Reserve accounts for an upcoming call of n tokens, refusing it outright if
// it would exceed the cap. Returns true if usage has now crossed the warn
// threshold, so the caller can log once.
func (b *JobBudget) Reserve(n int) (warn bool, err error) {
	if b.used+n > b.Cap {
		return false, ErrTokenBudgetExceeded
	}
	b.used += n
	return float64(b.used) >= b.WarnFraction*float64(b.Cap), nil
}

func (b *JobBudget) Used() int { return b.used }

// DailyCostBreaker enforces a hard daily USD cap across all jobs, backed by
// a per-day kv.Store counter with a configured TTL (48h by default) and wrapped in a sony/gobreaker circuit
// breaker so a cap trip fails fast instead of every caller re-checking the
// counter under load.
type DailyCostBreaker struct {
	kv     kv.Store
	cap    float64
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker
	keyFor func(time.Time) string
}

func NewDailyCostBreaker(store kv.Store, capUSD float64, ttl time.Duration) *DailyCostBreaker {
	d := &DailyCostBreaker{
		kv:  store,
		cap: capUSD,
		ttl: ttl,
		keyFor: func(t time.Time) string {
			return "llm_daily_cost:" + t.UTC().Format("2006-01-02")
		},
	}
	d.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "daily-llm-cost",
		MaxRequests: 1,
		Interval:    ttl,
		Timeout:     time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})
	return d
}

// Charge records costUSD against today's running total, tripping the
// breaker (and returning ErrDailyCostCapTripped) once the cap is crossed.
func (d *DailyCostBreaker) Charge(ctx context.Context, costUSD float64) error {
	_, err := d.cb.Execute(func() (interface{}, error) {
		total, err := d.kv.IncrByFloat(ctx, d.keyFor(time.Now()), costUSD, d.ttl)
		if err != nil {
			return nil, apperrors.Wrapf(err, "charge daily llm cost")
		}
		metrics.DailyCostUSD.WithLabelValues().Set(total)
		if total > d.cap {
			return nil, ErrDailyCostCapTripped
		}
		return total, nil
	})
	if err != nil {
		if err == ErrDailyCostCapTripped || err == gobreaker.ErrOpenState {
			return ErrDailyCostCapTripped
		}
		return err
	}
	return nil
}

// Remaining reports how much of today's cap is left, for observability.
func (d *DailyCostBreaker) Remaining(ctx context.Context) (float64, error) {
	used, _, err := d.kv.GetFloat(ctx, d.keyFor(time.Now()))
	if err != nil {
		return 0, err
	}
	remaining := d.cap - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
