// Package mock provides test doubles for the tts package interfaces.
//
// Use Provider to feed controlled audio to consumers and to verify which text
// fragments and Config values reach the TTS backend. Use Streamer when the
// consumer should receive chunked audio.
//
// Example:
//
//	p := &mock.Streamer{SpeakChunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
//	ch, _ := p.SpeakStream(ctx, "Hello.", cfg)
package mock

import (
	"context"
	"sync"

	"github.com/llmrtc/llmrtc/pkg/provider/tts"
)

// SpeakCall records a single invocation of Speak or SpeakStream.
type SpeakCall struct {
	// Ctx is the context passed to the call.
	Ctx context.Context
	// Text is the fragment passed to the call.
	Text string
	// Cfg is the Config passed to the call.
	Cfg tts.Config
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakAudio is returned by Speak. May be nil (returns nil, nil).
	SpeakAudio *tts.Audio

	// SpeakErr, if non-nil, is returned as the error from Speak.
	SpeakErr error

	// SpeakCalls records every invocation of Speak in order.
	SpeakCalls []SpeakCall
}

// Speak records the call and returns SpeakAudio, SpeakErr.
func (p *Provider) Speak(ctx context.Context, text string, cfg tts.Config) (*tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Ctx: ctx, Text: text, Cfg: cfg})
	if p.SpeakErr != nil {
		return nil, p.SpeakErr
	}
	return p.SpeakAudio, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Streamer is a mock implementation of tts.StreamingProvider.
type Streamer struct {
	mu sync.Mutex

	// SpeakChunks is the sequence of audio byte slices emitted on the channel
	// returned by SpeakStream, for every call.
	SpeakChunks [][]byte

	// StreamErr, if non-nil, is returned as the error from SpeakStream
	// instead of starting a channel.
	StreamErr error

	// SpeakAudio is returned by Speak (the non-streaming fallback). May be nil.
	SpeakAudio *tts.Audio

	// SpeakErr, if non-nil, is returned as the error from Speak.
	SpeakErr error

	// StreamCalls records every invocation of SpeakStream in order.
	StreamCalls []SpeakCall

	// SpeakCalls records every invocation of Speak in order.
	SpeakCalls []SpeakCall
}

// Speak records the call and returns SpeakAudio, SpeakErr.
func (s *Streamer) Speak(ctx context.Context, text string, cfg tts.Config) (*tts.Audio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpeakCalls = append(s.SpeakCalls, SpeakCall{Ctx: ctx, Text: text, Cfg: cfg})
	if s.SpeakErr != nil {
		return nil, s.SpeakErr
	}
	return s.SpeakAudio, nil
}

// SpeakStream records the call and returns a channel that emits SpeakChunks.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (s *Streamer) SpeakStream(ctx context.Context, text string, cfg tts.Config) (<-chan []byte, error) {
	s.mu.Lock()
	if s.StreamErr != nil {
		err := s.StreamErr
		s.StreamCalls = append(s.StreamCalls, SpeakCall{Ctx: ctx, Text: text, Cfg: cfg})
		s.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(s.SpeakChunks))
	copy(chunks, s.SpeakChunks)
	s.StreamCalls = append(s.StreamCalls, SpeakCall{Ctx: ctx, Text: text, Cfg: cfg})
	s.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// Reset clears all recorded calls. Thread-safe.
func (s *Streamer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StreamCalls = nil
	s.SpeakCalls = nil
}

// Ensure Streamer implements tts.StreamingProvider at compile time.
var _ tts.StreamingProvider = (*Streamer)(nil)
