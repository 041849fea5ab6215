// Package elevenlabs provides an ElevenLabs-backed TTS provider.
//
// Each call synthesises one sentence fragment through the REST synthesis
// endpoint; SpeakStream uses its chunked /stream flavor so playback can start
// before the fragment finishes rendering.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/tts"
)

const (
	providerName    = "elevenlabs"
	defaultEndpoint = "https://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"

	// streamChunkSize is the read granularity for streamed audio; 4 KiB of
	// 16 kHz PCM is 128 ms.
	streamChunkSize = 4096
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5",
// "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoiceSettings overrides the stability and similarity-boost values sent
// with every request. Defaults are 0.5 and 0.75.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.stability = stability
		p.similarity = similarityBoost
	}
}

// WithBaseURL points the provider at a different API host.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient overrides the HTTP client used for synthesis requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements tts.StreamingProvider backed by the ElevenLabs API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	stability  float64
	similarity float64
	client     *http.Client
}

var _ tts.StreamingProvider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		stability:  0.5,
		similarity: 0.75,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesisRequest is the JSON payload of one synthesis call.
type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Speak synthesises the fragment and returns the complete audio.
func (p *Provider) Speak(ctx context.Context, text string, cfg tts.Config) (*tts.Audio, error) {
	resp, enc, err := p.synthesize(ctx, "speak", text, cfg, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Classify(providerName, "speak", err)
	}
	return &tts.Audio{Data: data, Format: enc.format, SampleRate: enc.sampleRate}, nil
}

// SpeakStream synthesises the fragment via the chunked endpoint, emitting
// audio as it renders. The channel closes when the body is exhausted or ctx
// is cancelled.
func (p *Provider) SpeakStream(ctx context.Context, text string, cfg tts.Config) (<-chan []byte, error) {
	resp, _, err := p.synthesize(ctx, "stream", text, cfg, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		for {
			buf := make([]byte, streamChunkSize)
			n, err := resp.Body.Read(buf)
			if n > 0 {
				select {
				case ch <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// synthesize validates the request, posts it, and hands back the live
// response along with the resolved output encoding.
func (p *Provider) synthesize(ctx context.Context, op, text string, cfg tts.Config, stream bool) (*http.Response, encoding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, encoding{}, &provider.Error{Provider: providerName, Op: op, Kind: provider.KindInvalid,
			Err: errors.New("text must not be empty")}
	}
	if cfg.Voice == "" {
		return nil, encoding{}, &provider.Error{Provider: providerName, Op: op, Kind: provider.KindInvalid,
			Err: errors.New("voice must not be empty")}
	}
	enc, err := resolveEncoding(cfg)
	if err != nil {
		return nil, encoding{}, &provider.Error{Provider: providerName, Op: op, Kind: provider.KindInvalid, Err: err}
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       p.model,
		VoiceSettings: p.voiceSettings(cfg.Speed),
	})
	if err != nil {
		return nil, encoding{}, &provider.Error{Provider: providerName, Op: op, Kind: provider.KindInvalid, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.speakURL(cfg.Voice, enc, stream), bytes.NewReader(payload))
	if err != nil {
		return nil, encoding{}, &provider.Error{Provider: providerName, Op: op, Kind: provider.KindInvalid, Err: err}
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, encoding{}, provider.Classify(providerName, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		pe := provider.FromResponse(providerName, op, resp)
		resp.Body.Close()
		return nil, encoding{}, pe
	}
	return resp, enc, nil
}

// voiceSettings builds the per-request settings, forwarding a speaking-rate
// override only when the caller asked for one.
func (p *Provider) voiceSettings(speed float64) *voiceSettings {
	vs := &voiceSettings{Stability: p.stability, SimilarityBoost: p.similarity}
	if speed > 0 && speed != 1.0 {
		vs.Speed = speed
	}
	return vs
}

// speakURL builds the synthesis URL for the voice, with the /stream suffix
// for the chunked flavor.
func (p *Provider) speakURL(voice string, enc encoding, stream bool) string {
	u := fmt.Sprintf("%s/v1/text-to-speech/%s", p.endpoint, url.PathEscape(voice))
	if stream {
		u += "/stream"
	}
	return u + "?output_format=" + enc.name
}

// encoding is a resolved ElevenLabs output_format plus what it decodes to.
type encoding struct {
	name       string
	format     tts.Format
	sampleRate int
}

// resolveEncoding maps the requested format onto an ElevenLabs output_format
// identifier. Formats the API cannot produce are rejected rather than
// substituted.
func resolveEncoding(cfg tts.Config) (encoding, error) {
	format := cfg.Format
	if format == "" {
		format = tts.FormatPCM
	}

	switch format {
	case tts.FormatPCM:
		rate := cfg.SampleRate
		if rate == 0 {
			rate = 16000
		}
		switch rate {
		case 8000, 16000, 22050, 24000, 44100:
		default:
			return encoding{}, fmt.Errorf("unsupported pcm sample rate %d", rate)
		}
		return encoding{name: fmt.Sprintf("pcm_%d", rate), format: tts.FormatPCM, sampleRate: rate}, nil

	case tts.FormatMP3:
		switch cfg.SampleRate {
		case 0, 44100:
			return encoding{name: "mp3_44100_128", format: tts.FormatMP3, sampleRate: 44100}, nil
		case 22050:
			return encoding{name: "mp3_22050_32", format: tts.FormatMP3, sampleRate: 22050}, nil
		}
		return encoding{}, fmt.Errorf("unsupported mp3 sample rate %d", cfg.SampleRate)

	default:
		return encoding{}, fmt.Errorf("unsupported output format %q", format)
	}
}
