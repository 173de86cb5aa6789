package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how a transport reconnects after an unexpected
// close: exponential backoff with a hard attempt ceiling. Exhausting the
// ceiling leaves the transport terminally disconnected; it does not retry
// forever.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the reconnect policy used by both transports:
// 5 attempts, 1s base delay, 2x multiplier, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// NewBackOff builds the underlying backoff schedule for one reconnect
// cycle. Randomization is disabled so delays are exactly
// BaseDelay * Multiplier^attempt, capped at MaxDelay.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// NextDelay returns the delay before the given reconnect attempt
// (0-indexed), capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
