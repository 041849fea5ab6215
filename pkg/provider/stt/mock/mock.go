// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to feed a fixed final transcript without a live STT backend.
// Use Streamer when the consumer should receive partial transcripts first.
//
// Example:
//
//	p := &mock.Provider{Transcript: types.Transcript{Text: "hello", IsFinal: true}}
//	tr, _ := p.Transcribe(ctx, audio)
package mock

import (
	"context"
	"sync"

	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe or TranscribeStream.
type TranscribeCall struct {
	// Ctx is the context passed to the call.
	Ctx context.Context
	// Audio is the utterance passed to the call. PCM is not copied; tests
	// must not mutate it after the call.
	Audio stt.Audio
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe. IsFinal should be set by the test.
	Transcript types.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Transcript, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: audio})
	if p.TranscribeErr != nil {
		return types.Transcript{}, p.TranscribeErr
	}
	return p.Transcript, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Streamer is a mock implementation of stt.StreamingProvider.
// StreamTranscripts should end with an IsFinal transcript; the mock does not
// enforce this so tests can exercise the missing-final error path.
type Streamer struct {
	mu sync.Mutex

	// StreamTranscripts is the sequence emitted on the channel returned by
	// TranscribeStream. All values are sent before the channel is closed.
	StreamTranscripts []types.Transcript

	// StreamErr, if non-nil, is returned as the error from TranscribeStream
	// instead of starting a channel.
	StreamErr error

	// Transcript is returned by Transcribe (the non-streaming fallback).
	Transcript types.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// StreamCalls records every invocation of TranscribeStream in order.
	StreamCalls []TranscribeCall

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Transcript, TranscribeErr.
func (s *Streamer) Transcribe(ctx context.Context, audio stt.Audio) (types.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TranscribeCalls = append(s.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: audio})
	if s.TranscribeErr != nil {
		return types.Transcript{}, s.TranscribeErr
	}
	return s.Transcript, nil
}

// TranscribeStream records the call and returns a channel that emits
// StreamTranscripts. If StreamErr is set, it returns nil, StreamErr without
// opening a channel.
func (s *Streamer) TranscribeStream(ctx context.Context, audio stt.Audio) (<-chan types.Transcript, error) {
	s.mu.Lock()
	if s.StreamErr != nil {
		err := s.StreamErr
		s.StreamCalls = append(s.StreamCalls, TranscribeCall{Ctx: ctx, Audio: audio})
		s.mu.Unlock()
		return nil, err
	}
	transcripts := make([]types.Transcript, len(s.StreamTranscripts))
	copy(transcripts, s.StreamTranscripts)
	s.StreamCalls = append(s.StreamCalls, TranscribeCall{Ctx: ctx, Audio: audio})
	s.mu.Unlock()

	ch := make(chan types.Transcript, len(transcripts))
	go func() {
		defer close(ch)
		for _, tr := range transcripts {
			select {
			case <-ctx.Done():
				return
			case ch <- tr:
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
	s.TranscribeCalls = nil
}

// Ensure Streamer implements stt.StreamingProvider at compile time.
var _ stt.StreamingProvider = (*Streamer)(nil)
