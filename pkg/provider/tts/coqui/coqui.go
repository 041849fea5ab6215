// Package coqui provides a TTS provider backed by a locally-running Coqui
// server. Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis goes through GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis goes through
//     POST /tts_to_audio/ with a JSON body; the voice identifier names a
//     speaker_wav registered on the server.
//
// Both servers render one complete WAV per request, so the provider is
// batch-only; callers that want streamed audio fall back to chunking the
// finished fragment.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
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

var _ tts.Provider = (*Provider)(nil)

const (
	providerName    = "coqui"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	ttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint = "/api/tts"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code sent to the TTS server (e.g.,
// "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for the
// standard Coqui TTS Docker image or APIModeXTTS for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// Provider implements tts.Provider backed by a locally-running Coqui TTS
// server. It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Speak renders the fragment on the Coqui server and returns it in the
// requested format. PCM output is stripped of the WAV container and, for
// mono audio, resampled to cfg.SampleRate when that differs from the model's
// native rate. WAV output is returned as served.
func (p *Provider) Speak(ctx context.Context, text string, cfg tts.Config) (*tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &provider.Error{Provider: providerName, Op: "speak", Kind: provider.KindInvalid,
			Err: errors.New("text must not be empty")}
	}
	// Standard single-speaker models need no voice; XTTS always does.
	if cfg.Voice == "" && p.apiMode == APIModeXTTS {
		return nil, &provider.Error{Provider: providerName, Op: "speak", Kind: provider.KindInvalid,
			Err: errors.New("voice must not be empty in xtts mode")}
	}

	format := cfg.Format
	if format == "" {
		format = tts.FormatPCM
	}
	if format != tts.FormatPCM && format != tts.FormatWAV {
		return nil, &provider.Error{Provider: providerName, Op: "speak", Kind: provider.KindInvalid,
			Err: fmt.Errorf("unsupported output format %q", format)}
	}

	wav, err := p.fetch(ctx, text, cfg.Voice)
	if err != nil {
		return nil, err
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, &provider.Error{Provider: providerName, Op: "speak", Kind: provider.KindInvalid, Err: err}
	}

	if format == tts.FormatWAV {
		if cfg.SampleRate != 0 && cfg.SampleRate != info.SampleRate {
			return nil, &provider.Error{Provider: providerName, Op: "speak", Kind: provider.KindInvalid,
				Err: fmt.Errorf("server renders %d Hz, cannot deliver wav at %d Hz", info.SampleRate, cfg.SampleRate)}
		}
		return &tts.Audio{Data: wav, Format: tts.FormatWAV, SampleRate: info.SampleRate}, nil
	}

	pcm := wav[info.DataOffset:]
	rate := info.SampleRate
	if cfg.SampleRate > 0 && cfg.SampleRate != rate {
		if info.Channels != 1 {
			return nil, &provider.Error{Provider: providerName, Op: "speak", Kind: provider.KindInvalid,
				Err: fmt.Errorf("cannot resample %d-channel audio", info.Channels)}
		}
		pcm = resampleMono16(pcm, rate, cfg.SampleRate)
		rate = cfg.SampleRate
	}
	return &tts.Audio{Data: pcm, Format: tts.FormatPCM, SampleRate: rate}, nil
}

// fetch performs one synthesis HTTP call in the configured API mode and
// returns the raw WAV response.
func (p *Provider) fetch(ctx context.Context, text, voice string) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeStandard {
		req, err = p.standardRequest(ctx, text, voice)
	} else {
		req, err = p.xttsRequest(ctx, text, voice)
	}
	if err != nil {
		return nil, &provider.Error{Provider: providerName, Op: "speak", Kind: provider.KindInvalid, Err: err}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, provider.Classify(providerName, "speak", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromResponse(providerName, "speak", resp)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Classify(providerName, "speak", err)
	}
	return wav, nil
}

// standardRequest builds the GET /api/tts request used by the standard Coqui
// TTS server, carrying everything as query parameters.
func (p *Provider) standardRequest(ctx context.Context, text, voice string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice != "" {
		params.Set("speaker_id", voice)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// xttsRequest builds the POST /tts_to_audio/ request used by the XTTS v2 API
// server, with a JSON body naming the speaker_wav.
func (p *Provider) xttsRequest(ctx context.Context, text, voice string) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       text,
		SpeakerWav: voice,
		Language:   p.language,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// resampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned unchanged.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int
	Channels   int
}

// parseWAV scans the RIFF/WAVE container and returns the data offset and the
// audio format from the "fmt " sub-chunk. Walking the chunks is required
// because the fmt chunk size varies between encoders.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("wav response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("wav response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("wav response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("wav response missing fmt chunk before data")
			}
			info.DataOffset = offset + 8
			return info, nil
		}

		// Chunks are word-aligned; odd sizes carry one padding byte.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("wav response missing data chunk")
}
