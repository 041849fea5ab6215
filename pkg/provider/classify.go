package provider

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Classify wraps a transport-level failure in a *Error with the kind derived
// from the error chain: deadline and net timeout errors become KindTimeout,
// connection and DNS failures become KindNetwork, everything else stays
// KindUnknown. Errors that already carry a classification are returned
// unchanged, so call sites can apply it unconditionally on their way out.
//
// Cancellation is wrapped too (as KindUnknown, never retryable); the cause
// stays reachable through Unwrap, so errors.Is(err, context.Canceled) still
// holds for callers that treat caller-initiated aborts specially.
func Classify(providerName, op string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var netErr net.Error
	kind := KindUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case isNetworkError(err):
		kind = KindNetwork
	}

	return &Error{Provider: providerName, Op: op, Kind: kind, Err: err}
}

// FromStatus wraps an HTTP-level failure in a *Error classified by status
// code: 401/403 are KindAuth, 429 is KindRateLimit, 400/404/422 are
// KindInvalid, everything else is KindHTTP (retryable only at 5xx).
func FromStatus(providerName, op string, status int, err error) *Error {
	kind := KindHTTP
	switch status {
	case 401, 403:
		kind = KindAuth
	case 429:
		kind = KindRateLimit
	case 400, 404, 422:
		kind = KindInvalid
	}

	return &Error{Provider: providerName, Op: op, Kind: kind, Status: status, Err: err}
}

// FromResponse classifies a non-2xx HTTP response like FromStatus, folding up
// to 512 bytes of the body into the error message and honoring a Retry-After
// header on 429. It consumes from resp.Body but does not close it.
func FromResponse(providerName, op string, resp *http.Response) *Error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = resp.Status
	}

	pe := FromStatus(providerName, op, resp.StatusCode, errors.New(msg))
	if pe.Kind == KindRateLimit {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			pe.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return pe
}

func isNetworkError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &urlErr) || errors.As(err, &opErr) || errors.As(err, &dnsErr)
}
