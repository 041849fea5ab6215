// Package provider holds the error classification shared by all provider
// contract packages (llm, stt, tts, vision).
//
// Backends wrap their transport and API failures in *Error so that callers can
// decide uniformly whether an operation is worth retrying and how long to wait
// before doing so. The retry loop in internal/resilience consumes this
// classification through Retryable and RetryAfter; it never inspects
// provider-specific error types.
package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure for retry decisions.
type ErrorKind int

const (
	// KindUnknown is the zero value for unclassified failures. Not retryable.
	KindUnknown ErrorKind = iota

	// KindNetwork covers connection-level failures: refused or reset
	// connections, DNS errors, unexpected EOF mid-stream. Retryable.
	KindNetwork

	// KindHTTP covers non-2xx responses other than 429. Retryable only for
	// 5xx statuses.
	KindHTTP

	// KindRateLimit covers HTTP 429 and provider-specific throttle signals.
	// Retryable; often carries a RetryAfter hint.
	KindRateLimit

	// KindTimeout covers deadlines exceeded while waiting on the backend.
	// Retryable.
	KindTimeout

	// KindInvalid covers malformed requests or unparseable responses.
	// Not retryable.
	KindInvalid

	// KindAuth covers rejected credentials. Not retryable.
	KindAuth
)

// String returns the lowercase name of the kind for logs and metrics labels.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindInvalid:
		return "invalid"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	// Provider is the backend name, e.g. "deepgram" or "elevenlabs".
	Provider string

	// Op is the operation that failed, e.g. "transcribe" or "stream".
	Op string

	// Kind drives the retry decision. See the Kind* constants.
	Kind ErrorKind

	// Status is the HTTP status code when Kind is KindHTTP or KindRateLimit,
	// zero otherwise.
	Status int

	// RetryAfter is the backoff hint supplied by the backend (e.g. from a
	// Retry-After header). Zero means no hint.
	RetryAfter time.Duration

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: %s (status %d): %v", e.Provider, e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient per the classification:
// network errors, timeouts, rate limits, and HTTP 5xx are retryable; anything
// else is fatal.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimit, KindTimeout:
		return true
	case KindHTTP:
		return e.Status >= 500
	default:
		return false
	}
}

// Retryable reports whether err carries a retryable classification. Errors
// that are not *Error (wrapped or not) are treated as fatal.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// RetryAfter extracts the backend backoff hint from err. The second return
// is false when err carries no hint.
func RetryAfter(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}
