// Package resilience provides retry backoff strategies for outbound
// provider calls.
package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before a retry attempt
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay geometrically per attempt and adds
// jitter so concurrent retries do not land on the provider at once.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the delay, 0.1 means ±10%
}

// DefaultExponentialBackoff returns the schedule used for provider API
// retries: 100ms doubling per attempt, capped at 30s, ±10% jitter.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NextDelay returns the delay for a zero-indexed attempt. The computed
// delay is capped at MaxDelay before jitter is applied.
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		return eb.BaseDelay
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	jitter := (rand.Float64()*2 - 1) * delay * eb.Jitter

	next := time.Duration(delay + jitter)
	if next < 0 {
		next = eb.BaseDelay
	}
	return next
}

// FixedBackoff waits the same delay on every attempt. Used in tests
// where deterministic timing matters.
type FixedBackoff struct {
	Delay time.Duration
}

// NextDelay returns the fixed delay
func (fb *FixedBackoff) NextDelay(int) time.Duration {
	return fb.Delay
}
