package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// was skipped with an open circuit. The last entry's error is wrapped
// alongside it so callers can still classify the failure.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the circuit breaker a [FallbackGroup] creates
// for each registered backend. The entry's name overrides
// CircuitBreaker.Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// entry pairs one backend with its dedicated circuit breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary backend with ordered fallbacks of the same
// provider type. A call goes to the first entry whose breaker admits it and
// moves down the chain on failure, so a sick primary costs one wasted call
// per turn at worst until its breaker opens and it is skipped outright.
//
// Register every entry before the group starts serving; AddFallback is not
// synchronized with Execute.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a backend. Entries are tried in registration order,
// primary first.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute tries fn against each entry in order until one succeeds. See
// [ExecuteWithResult] for the failover rules.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in order until one
// succeeds, skipping entries whose breakers are open. It stops as soon as
// ctx ends: remaining backends are not tried once the caller has hung up,
// and the interrupted call is not held against the backend it hit.
// Exhausting the chain returns [ErrAllFailed] wrapping the last error.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	var lastErr error
	for i := range fg.entries {
		e := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping provider with open circuit", "provider", e.name)
		case ctx.Err() != nil:
			return zero, err
		default:
			slog.Warn("provider failed, trying next",
				"provider", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
