// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/types"
)

const nativeProviderName = "whisper-native"

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings,
// eliminating HTTP overhead entirely. The model is loaded once and shared;
// each Transcribe call runs on its own whisper context, so concurrent calls
// are safe.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

var _ stt.Provider = (*NativeProvider)(nil)

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference on the utterance. The audio must be
// 16 kHz PCM; multi-channel input is down-mixed to mono before inference.
func (p *NativeProvider) Transcribe(ctx context.Context, audio stt.Audio) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, provider.Classify(nativeProviderName, "transcribe", err)
	}
	if audio.SampleRate != 0 && audio.SampleRate != nativeSampleRate {
		return types.Transcript{}, &provider.Error{
			Provider: nativeProviderName, Op: "transcribe", Kind: provider.KindInvalid,
			Err: fmt.Errorf("whisper.cpp expects %d Hz audio, got %d Hz", nativeSampleRate, audio.SampleRate),
		}
	}

	channels := audio.Channels
	if channels == 0 {
		channels = 1
	}
	samples := monoFloat32(audio.PCM, channels)

	// Contexts are not safe for concurrent use; the shared model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return types.Transcript{}, &provider.Error{Provider: nativeProviderName, Op: "transcribe", Kind: provider.KindUnknown,
			Err: fmt.Errorf("create context: %w", err)}
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using model default",
			"language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return types.Transcript{}, &provider.Error{Provider: nativeProviderName, Op: "transcribe", Kind: provider.KindUnknown,
			Err: fmt.Errorf("process audio: %w", err)}
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Transcript{}, &provider.Error{Provider: nativeProviderName, Op: "transcribe", Kind: provider.KindUnknown,
				Err: fmt.Errorf("read segment: %w", err)}
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return types.Transcript{
		Text:     strings.Join(parts, " "),
		IsFinal:  true,
		Duration: audio.Duration(),
	}, nil
}
