// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram, a whisper.cpp
// server, or the native Whisper bindings) and exposes a uniform interface for
// turning one buffered utterance into text. The turn engine hands each
// provider a complete voice-activity-detected utterance; providers that can
// produce low-latency interim results additionally implement
// StreamingProvider so the client sees partial transcripts while the final
// one is still being computed.
//
// Implementations must be safe for concurrent use. Channels returned by
// TranscribeStream must be closed by the implementation when transcription
// ends or when the supplied context is cancelled.
package stt

import (
	"context"

	"github.com/llmrtc/llmrtc/pkg/types"
)

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple utterances may be
// transcribed simultaneously (one per active session).
type Provider interface {
	// Transcribe converts a complete utterance to text and returns the final
	// transcript. The returned Transcript has IsFinal set.
	//
	// Returns an error if transcription fails or ctx is cancelled. Failures
	// should be classified as *provider.Error so the retry loop can tell
	// transient from fatal.
	Transcribe(ctx context.Context, audio Audio) (types.Transcript, error)
}

// StreamingProvider is implemented by backends that can emit interim results
// while transcribing. The turn engine prefers it over plain Transcribe when
// available, forwarding partials to the client as they arrive.
type StreamingProvider interface {
	Provider

	// TranscribeStream converts a complete utterance to text incrementally.
	// The returned channel emits zero or more partial Transcripts (IsFinal
	// false) followed by exactly one final Transcript (IsFinal true), then
	// closes. On failure after the stream starts, the channel closes without
	// a final transcript; callers treat that as a transcription error.
	//
	// Callers must drain the channel to avoid goroutine leaks.
	TranscribeStream(ctx context.Context, audio Audio) (<-chan types.Transcript, error)
}
