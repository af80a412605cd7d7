package openalex

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryAfterBackOff is an exponential backoff that stretches the next delay
// to honor a server Retry-After hint.
type retryAfterBackOff struct {
	inner      *backoff.ExponentialBackOff
	retryAfter time.Duration
}

func newRetryAfterBackOff(base time.Duration) *retryAfterBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.1
	eb.MaxInterval = MaxRetryDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	return &retryAfterBackOff{inner: eb}
}

// hint records the Retry-After value of the latest failed attempt.
func (b *retryAfterBackOff) hint(d time.Duration) {
	b.retryAfter = d
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.inner.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.retryAfter > next {
		next = b.retryAfter
	}
	b.retryAfter = 0
	return min(next, MaxRetryDelay)
}

func (b *retryAfterBackOff) Reset() {
	b.inner.Reset()
	b.retryAfter = 0
}
