// Package whisper provides STT providers backed by whisper.cpp.
//
// Provider talks to a running whisper-server binary over its REST API
// (POST /inference); NativeProvider links the whisper.cpp CGO bindings and
// runs inference in-process. Both transcribe one complete utterance per call.
// whisper.cpp is a batch engine, so neither flavor implements the streaming
// interface; callers fall back to single-shot transcription and get no
// interim results.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/llmrtc/llmrtc/pkg/audio"
	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/types"
)

const (
	providerName    = "whisper"
	defaultLanguage = "en"

	// nativeSampleRate is the only input rate whisper.cpp accepts.
	nativeSampleRate = 16000
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient overrides the HTTP client used for inference requests. The
// default client allows 30 seconds per utterance.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL string
	model     string
	language  string
	client    *http.Client
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe wraps the utterance in a WAV container and submits it to the
// /inference endpoint as multipart/form-data. Empty text is a valid result
// for audio the model hears as silence.
func (p *Provider) Transcribe(ctx context.Context, utterance stt.Audio) (types.Transcript, error) {
	sampleRate := utterance.SampleRate
	if sampleRate == 0 {
		sampleRate = nativeSampleRate
	}
	channels := utterance.Channels
	if channels == 0 {
		channels = 1
	}

	body, contentType, err := p.inferenceBody(audio.EncodeWAV(utterance.PCM, sampleRate, channels))
	if err != nil {
		return types.Transcript{}, &provider.Error{Provider: providerName, Op: "transcribe", Kind: provider.KindInvalid, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return types.Transcript{}, &provider.Error{Provider: providerName, Op: "transcribe", Kind: provider.KindInvalid, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return types.Transcript{}, provider.Classify(providerName, "transcribe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, provider.FromResponse(providerName, "transcribe", resp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.Transcript{}, &provider.Error{Provider: providerName, Op: "transcribe", Kind: provider.KindInvalid, Err: err}
	}

	return types.Transcript{
		Text:     strings.TrimSpace(result.Text),
		IsFinal:  true,
		Duration: utterance.Duration(),
	}, nil
}

// inferenceBody builds the multipart request body: the WAV file plus the
// optional language and model hint fields.
func (p *Provider) inferenceBody(wav []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}

	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return nil, "", fmt.Errorf("write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, "", fmt.Errorf("write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
