// Package deepgram provides an STT provider backed by the Deepgram API.
// Complete utterances go to the pre-recorded REST endpoint; TranscribeStream
// uses the streaming WebSocket endpoint instead so the client sees interim
// results while the utterance uploads.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/types"
)

const (
	providerName    = "deepgram"
	defaultEndpoint = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	// writeChunkSize is the number of PCM bytes per WebSocket frame; 8 KiB is
	// 256 ms at 16 kHz mono, small enough for early interim results.
	writeChunkSize = 8192
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts recognition of out-of-vocabulary terms. Entries use the
// Deepgram keyword format, a bare word or "word:boost".
func WithKeywords(keywords []string) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// WithBaseURL points the provider at a self-hosted Deepgram deployment. The
// scheme is rewritten to ws/wss for the streaming endpoint.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.endpoint = base
	}
}

// WithHTTPClient overrides the HTTP client used for REST calls and the
// WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements stt.StreamingProvider backed by the Deepgram API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []string
	client   *http.Client
}

var _ stt.StreamingProvider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider using the pre-recorded endpoint.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (types.Transcript, error) {
	u, err := p.listenURL(audio, false)
	if err != nil {
		return types.Transcript{}, &provider.Error{Provider: providerName, Op: "transcribe", Kind: provider.KindInvalid, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(audio.PCM))
	if err != nil {
		return types.Transcript{}, &provider.Error{Provider: providerName, Op: "transcribe", Kind: provider.KindInvalid, Err: err}
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.Transcript{}, provider.Classify(providerName, "transcribe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, provider.FromResponse(providerName, "transcribe", resp)
	}

	var out restResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.Transcript{}, &provider.Error{Provider: providerName, Op: "transcribe", Kind: provider.KindInvalid, Err: err}
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return types.Transcript{}, &provider.Error{Provider: providerName, Op: "transcribe", Kind: provider.KindInvalid, Err: errors.New("response carries no alternatives")}
	}

	alt := out.Results.Channels[0].Alternatives[0]
	tr := types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    true,
		Confidence: alt.Confidence,
		Duration:   time.Duration(out.Metadata.Duration * float64(time.Second)),
	}
	if tr.Duration == 0 {
		tr.Duration = audio.Duration()
	}
	return tr, nil
}

// TranscribeStream implements stt.StreamingProvider. The utterance is fed to
// the live endpoint in chunks while results stream back; interim transcripts
// are emitted as they arrive and the finalized segments are joined into the
// single closing transcript.
func (p *Provider) TranscribeStream(ctx context.Context, audio stt.Audio) (<-chan types.Transcript, error) {
	wsURL, err := p.listenURL(audio, true)
	if err != nil {
		return nil, &provider.Error{Provider: providerName, Op: "stream", Kind: provider.KindInvalid, Err: err}
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: p.client,
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, provider.Classify(providerName, "stream", err)
	}

	ch := make(chan types.Transcript, 8)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		// Writer: upload the utterance, then ask Deepgram to flush. A write
		// failure also surfaces on the read side, which owns error handling.
		go func() {
			for off := 0; off < len(audio.PCM); off += writeChunkSize {
				end := min(off+writeChunkSize, len(audio.PCM))
				if conn.Write(ctx, websocket.MessageBinary, audio.PCM[off:end]) != nil {
					return
				}
			}
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		}()

		var finals []string
		var confSum float64
		var confN int
		flushed := false

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				break
			}

			var ev resultEvent
			if json.Unmarshal(msg, &ev) != nil {
				continue
			}
			if ev.Type == "Metadata" {
				// Sent after CloseStream once every result is delivered.
				flushed = true
				break
			}
			if ev.Type != "Results" || len(ev.Channel.Alternatives) == 0 {
				continue
			}

			alt := ev.Channel.Alternatives[0]
			if ev.IsFinal {
				if alt.Transcript != "" {
					finals = append(finals, alt.Transcript)
					confSum += alt.Confidence
					confN++
				}
				continue
			}
			if alt.Transcript == "" {
				continue
			}

			// Interim text covers only the segment in flight; prefix the
			// already finalized segments so partials read as a whole.
			parts := append(append(make([]string, 0, len(finals)+1), finals...), alt.Transcript)
			select {
			case ch <- types.Transcript{Text: strings.Join(parts, " ")}:
			case <-ctx.Done():
				return
			}
		}

		if !flushed {
			// Dropped mid-stream; closing without a final signals the error.
			return
		}

		final := types.Transcript{
			Text:     strings.Join(finals, " "),
			IsFinal:  true,
			Duration: audio.Duration(),
		}
		if confN > 0 {
			final.Confidence = confSum / float64(confN)
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// listenURL builds the /v1/listen URL for either endpoint flavor. Raw PCM
// parameters ride as query values; streaming additionally requests interim
// results.
func (p *Provider) listenURL(audio stt.Audio, streaming bool) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	if streaming {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
	}
	u.Path = "/v1/listen"

	sampleRate := audio.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	channels := audio.Channels
	if channels == 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(channels))
	if streaming {
		q.Set("interim_results", "true")
	}
	for _, kw := range p.keywords {
		q.Add("keywords", kw)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// restResponse is the JSON shape of a pre-recorded transcription response.
type restResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// resultEvent is the JSON shape of a streaming Results or Metadata event.
type resultEvent struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}
