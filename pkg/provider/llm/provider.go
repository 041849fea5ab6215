// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, an
// OpenAI-compatible gateway, or a local Ollama instance) and exposes a uniform
// interface for the turn engine to perform tool-calling completions and stream
// reply text without coupling to any specific SDK.
//
// Implementations must be safe for concurrent use. Channels returned by Stream
// must be closed by the implementation when the stream ends or when the
// supplied context is cancelled.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Both methods must propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// Complete sends req to the model and waits for the full response. The
	// turn engine uses it for the tool phase, where the complete set of tool
	// calls must be known before anything executes.
	//
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives. Failures should be classified as *provider.Error so
	// the retry loop can tell transient from fatal.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Stream sends req to the model and returns a read-only channel that
	// emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced on a final Chunk with
	// Err set; the initial error return is non-nil only for failures that
	// prevent the stream from starting (e.g., invalid credentials, malformed
	// request).
	//
	// The returned channel must never be nil when error is nil.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}
