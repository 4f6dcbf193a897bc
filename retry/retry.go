// Package retry wraps fallible remote calls with bounded retries and
// rate-limit-aware exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"untestables/model"
	"untestables/utils"
)

// Policy governs one retried call: maxRetries+1 total attempts, exponential
// delays starting at InitialDelay and multiplied by Multiplier, overridden by
// the quota reset wait when the error carries one.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64

	// IsRetryable decides whether an error is worth another attempt. A nil
	// classifier retries everything.
	IsRetryable func(err error) bool

	// RateLimitWait extracts a wait hint from a rate-limit error. When it
	// returns a positive duration, that wait replaces the exponential delay
	// for the next attempt.
	RateLimitWait func(err error) (time.Duration, bool)

	Logger utils.Logger
}

// DefaultPolicy returns the policy used for remote API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   model.DefaultMaxRetries,
		InitialDelay: model.DefaultInitialRetryDelay,
		Multiplier:   model.DefaultBackoffMultiplier,
	}
}

// Do runs op until it succeeds, the attempt budget is spent, the error is
// classified non-retryable, or ctx is cancelled. The last observed error is
// propagated unchanged.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var zero T

	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = model.DefaultInitialRetryDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = model.DefaultBackoffMultiplier
	}
	if p.Logger == nil {
		p.Logger = utils.NewDefaultLogger()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == p.MaxRetries {
			break
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return zero, err
		}

		delay := bo.NextBackOff()
		if delay < 0 {
			delay = p.InitialDelay
		}
		if p.RateLimitWait != nil {
			if wait, ok := p.RateLimitWait(err); ok && wait > 0 {
				delay = wait
			}
		}

		p.Logger.Warnf("attempt %d/%d failed (%v), retrying in %v",
			attempt+1, p.MaxRetries+1, err, delay)

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
