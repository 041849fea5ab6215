// Package resilience wraps provider calls in retry, circuit breaking and
// provider failover.
//
// The layers compose outside-in: a [FallbackGroup] tries configured backends
// in order and skips any whose [CircuitBreaker] is open, while [Retry]
// re-runs one call on transient failures as classified by
// [provider.Retryable]. The turn engine retries every provider operation it
// makes; fallback groups are assembled at startup from the configured
// provider chains and satisfy the same provider contracts they wrap.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultMaxFailures    = 5
	defaultResetTimeout   = 30 * time.Second
	defaultHalfOpenProbes = 3
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls: the backend kept failing and its cooldown has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a circuit breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. All probes
	// succeeding closes the breaker; any probe failing re-opens it.
	StateHalfOpen
)

// String returns the state's name for logs and test output.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. The zero value gets usable
// defaults.
type CircuitBreakerConfig struct {
	// Name identifies the guarded backend in log lines.
	Name string

	// MaxFailures is how many consecutive failures open a closed breaker.
	MaxFailures int

	// ResetTimeout is the cooldown an open breaker serves before probing
	// the backend again.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget of the half-open state.
	HalfOpenMax int
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaultResetTimeout
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = defaultHalfOpenProbes
	}
	return c
}

// CircuitBreaker keeps a chronically failing backend from being hammered:
// after MaxFailures consecutive failures it fails calls fast for
// ResetTimeout, then trusts the backend again only once enough probe calls
// succeed.
//
// Cancellations are exempt. A call that died with its caller's context says
// nothing about the backend's health, and in this pipeline every barge-in
// cancels an in-flight provider call; a breaker that counted those would
// take a healthy backend out of rotation because a user kept interrupting.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCalls int
	halfOpenFails int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{name: cfg.Name, cfg: cfg, state: StateClosed}
}

// Execute runs fn unless the breaker rejects it: open-state calls and
// half-open calls beyond the probe budget fail fast with [ErrCircuitOpen].
// fn's own error is returned as is.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed, moving an open breaker whose
// cooldown has elapsed to half-open first. probe reports whether the call
// occupies a half-open probe slot.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.cfg.ResetTimeout {
			return false, false
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenFails = 0
		slog.Info("circuit breaker half-open", "name", cb.name)
	}
	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMax {
			return false, false
		}
		cb.halfOpenCalls++
		return true, true
	}
	return false, true
}

// settle records the call's outcome. A cancelled call releases its probe
// slot and otherwise leaves the breaker untouched.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		if probe && cb.state == StateHalfOpen {
			cb.halfOpenCalls--
		}
	case err != nil:
		cb.recordFailure(probe)
	default:
		cb.recordSuccess(probe)
	}
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) {
	cb.lastFailure = time.Now()

	if probe {
		cb.halfOpenFails++
		// One failed probe sends the breaker straight back to open.
		cb.state = StateOpen
		cb.failures = cb.cfg.MaxFailures
		slog.Warn("circuit breaker re-opened", "name", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.cfg.MaxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) {
	if probe {
		if cb.state == StateHalfOpen && cb.halfOpenCalls-cb.halfOpenFails >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}
		return
	}
	cb.failures = 0
}

// State returns the breaker's mode. An open breaker whose cooldown has
// elapsed reports half-open; the actual transition happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears every counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
