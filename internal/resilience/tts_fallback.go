package resilience

import (
	"context"

	"github.com/llmrtc/llmrtc/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// Fragments synthesised by a fallback may sound different from the primary's
// voice; operators should configure comparable voices across the chain.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Speak synthesises the fragment with the first healthy provider. If the
// primary fails, subsequent fallbacks are tried with the same text.
func (f *TTSFallback) Speak(ctx context.Context, text string, cfg tts.Config) (*tts.Audio, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*tts.Audio, error) {
		return p.Speak(ctx, text, cfg)
	})
}
