package engine

import (
	"math/rand"
	"time"
)

// RetryPolicy describes how transient provider errors are retried. It is
// a plain value so call sites and tests can construct it directly.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling, including the first try.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth. Zero means no cap.
	MaxDelay time.Duration
	// Jitter perturbs a computed delay. Nil means full delay, no jitter.
	Jitter func(time.Duration) time.Duration
}

// DefaultRetryPolicy returns the standard policy: three attempts,
// exponential backoff from one second, half-delay jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      HalfJitter,
	}
}

// HalfJitter returns a random duration between d/2 and d.
func HalfJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Delay returns the backoff delay after the given attempt (1-indexed).
// Growth is exponential: base, 2*base, 4*base, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter != nil {
		d = p.Jitter(d)
	}
	return d
}
