// Package backoff provides retry delay strategies for failed payment
// executions. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant waits the same interval after every attempt.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear waits Step * attempt, capped at Max when Max is positive.
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

// NewLinear creates a linear strategy.
func NewLinear(step, maxDelay time.Duration) *Linear {
	return &Linear{Step: step, Max: maxDelay}
}

// Delay returns Step * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	return capAt(l.Step*time.Duration(max(attempt, 1)), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential waits Initial * 2^(attempt-1), capped at Max when Max is
// positive.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	f := float64(e.Initial) * math.Pow(2, float64(max(attempt, 1)-1))
	if f >= math.MaxInt64 {
		if e.Max > 0 {
			return e.Max
		}
		return time.Duration(math.MaxInt64)
	}
	return capAt(time.Duration(f), e.Max)
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// ──────────────────────────────────────────────────
// Defaults
// ──────────────────────────────────────────────────

// InsufficientFunds is the default delay after a payer could not cover a
// payment: one day, giving the payer time to top up.
func InsufficientFunds() Strategy {
	return NewConstant(24 * time.Hour)
}

// Technical is the default delay after a transfer, timeout or unclassified
// failure: one hour.
func Technical() Strategy {
	return NewConstant(time.Hour)
}
