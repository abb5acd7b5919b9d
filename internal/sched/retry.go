package sched

import (
	"github.com/cenkalti/backoff/v4"

	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
)

// RetryConfig is Retry::binary_exponential(base, retries) from spec.md
// §4.1: the budget allowed for attempt N is base * 2^N, and up to retries
// restarts of the underlying operation are attempted before the failure is
// surfaced to the caller.
type RetryConfig struct {
	Base       clock.Duration
	MaxRetries int
}

// BinaryExponential constructs a RetryConfig.
func BinaryExponential(base clock.Duration, maxRetries int) RetryConfig {
	return RetryConfig{Base: base, MaxRetries: maxRetries}
}

// budgets returns the per-attempt wait budgets (MaxRetries+1 of them,
// covering the initial attempt plus every retry), computed with
// cenkalti/backoff's exponential sequence rather than hand-rolled doubling
// so the growth curve matches the rest of the pack's retry/backoff code.
func (c RetryConfig) budgets() []clock.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.Base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.MaxInterval = 1<<63 - 1
	eb.Reset()

	n := c.MaxRetries + 1
	out := make([]clock.Duration, n)
	for i := 0; i < n; i++ {
		out[i] = eb.NextBackOff()
	}
	return out
}

// AwaitRetry awaits the future produced by spawn(attempt), restarting the
// underlying operation (by calling spawn again) up to cfg.MaxRetries times
// whenever the prior attempt fails with Timeout or TryAgain, doubling the
// allowed wait each round. Any other error is surfaced immediately without
// retrying. The final failure (after all retries are exhausted) is
// surfaced to the caller.
func AwaitRetry[T any](c *Ctx, cfg RetryConfig, spawn func(attempt int) *Future[T]) (T, error) {
	budgets := cfg.budgets()
	var zero T
	var lastErr error

	for attempt, budget := range budgets {
		f := spawn(attempt)
		budget := budget
		v, err := Await(c, f, &budget)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errs.Is(err, errs.KindTimeout) && !errs.Is(err, errs.KindTryAgain) {
			return zero, err
		}
	}
	return zero, lastErr
}
