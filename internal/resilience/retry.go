package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmrtc/llmrtc/pkg/provider"
)

// ErrRetriesExhausted is returned when every attempt of a [Retry] call failed
// with a retryable error. The last attempt's error is wrapped alongside it.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy controls the exponential backoff applied between attempts.
// The zero value is usable: defaults are filled in on first use.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first.
	// Defaults to 5.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. Defaults to 1s.
	BaseDelay time.Duration

	// Multiplier scales the delay after each failed attempt. Defaults to 2.
	Multiplier float64

	// MaxDelay caps a single wait, including backend RetryAfter hints.
	// Zero means no cap.
	MaxDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	return p
}

// Retry runs fn until it succeeds, fails with a non-retryable error, exhausts
// policy.MaxAttempts, or ctx ends. Retryability is decided by
// [provider.Retryable]; a backend backoff hint from [provider.RetryAfter]
// overrides the computed delay for that wait.
//
// Non-retryable errors are returned unwrapped so callers can inspect them.
// Exhaustion returns [ErrRetriesExhausted] wrapping the last attempt's error.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is [Retry] for operations that produce a value. This is a
// package-level function because Go does not support method-level type
// parameters.
func RetryWithResult[R any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (R, error)) (R, error) {
	var zero R
	policy = policy.withDefaults()

	delay := policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !provider.Retryable(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := delay
		if hint, ok := provider.RetryAfter(err); ok {
			wait = hint
		}
		if policy.MaxDelay > 0 && wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}
		slog.Debug("retrying after transient failure",
			"attempt", attempt, "delay", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, policy.MaxAttempts, lastErr)
}
