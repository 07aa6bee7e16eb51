package llmio

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	// Attempts is the total number of calls, the first included. Values below 1 mean 1.
	Attempts int
	// NewBackOff returns the wait schedule for one Complete call. BackOff values are
	// stateful, so a fresh one is requested per call. Nil means retrying without waiting.
	NewBackOff func() backoff.BackOff
}

// ExponentialBackoff returns a NewBackOff doubling base on every retry, capped at limit,
// without jitter and without an elapsed-time limit.
func ExponentialBackoff(base, limit time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.MaxInterval = limit
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// WithRetry wraps c so that errors reported as retryable (see IsRetryable) are retried
// according to p. Other errors are returned after the first call. The wait between
// attempts is aborted when ctx is done, and ctx.Err() is returned.
func WithRetry(c Completer, p RetryPolicy) Completer {
	retries := uint64(max(p.Attempts, 1) - 1)
	return CompleterFunc(func(ctx context.Context, req CompletionRequest) (AssistantTurn, error) {
		var b backoff.BackOff = &backoff.ZeroBackOff{}
		if p.NewBackOff != nil {
			b = p.NewBackOff()
		}
		b = backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
		return backoff.RetryWithData(func() (AssistantTurn, error) {
			turn, err := c.Complete(ctx, req)
			if err != nil && !IsRetryable(err) {
				return turn, backoff.Permanent(err)
			}
			return turn, err
		}, b)
	})
}
