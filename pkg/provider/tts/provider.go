// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui instance) and turns one sentence-sized text fragment into audio. The
// turn engine calls it once per segmented fragment of the streaming LLM reply,
// so synthesis of fragment N overlaps generation of fragment N+1. Backends
// that can emit audio incrementally additionally implement StreamingProvider,
// which shaves the time-to-first-audio further.
//
// Implementations must be safe for concurrent use. Channels returned by
// SpeakStream must be closed by the implementation when synthesis ends or
// when the supplied context is cancelled.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple fragments may be
// synthesised in parallel (one per active session).
type Provider interface {
	// Speak synthesises text and returns the complete audio in the format
	// requested by cfg. Providers that cannot produce the requested format
	// must return an error rather than silently substituting another.
	//
	// Returns an error if synthesis fails or ctx is cancelled. Failures
	// should be classified as *provider.Error so the retry loop can tell
	// transient from fatal.
	Speak(ctx context.Context, text string, cfg Config) (*Audio, error)
}

// StreamingProvider is implemented by backends that can emit audio while
// still synthesising. The turn engine prefers it over plain Speak when
// available.
type StreamingProvider interface {
	Provider

	// SpeakStream synthesises text and returns a read-only channel emitting
	// audio chunks in the format requested by cfg, in playback order. The
	// channel is closed when synthesis finishes or ctx is cancelled; on
	// failure after the stream starts, the channel closes early and callers
	// check ctx.Err() to distinguish cancellation from provider failure.
	//
	// Callers must drain the channel to avoid goroutine leaks.
	SpeakStream(ctx context.Context, text string, cfg Config) (<-chan []byte, error)
}
