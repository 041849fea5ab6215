// Package openai provides a vision provider backed by OpenAI multimodal chat
// models. Each Analyze call is a single-turn chat completion: the prompt and
// the image travel in one user message and the reply text comes back as the
// description.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/vision"
	"github.com/llmrtc/llmrtc/pkg/types"
)

const (
	providerName = "openai"
	defaultModel = "gpt-4o-mini"

	// defaultMaxTokens bounds the description. Digests are spliced into the
	// turn history, so a paragraph is plenty.
	defaultMaxTokens = 512
)

// Provider implements vision.Provider using OpenAI multimodal chat models.
type Provider struct {
	client    oai.Client
	model     string
	maxTokens int
}

var _ vision.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	model     string
	baseURL   string
	timeout   time.Duration
	maxTokens int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides the default analysis model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL. Use it to point the
// provider at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxTokens caps the length of the generated description.
func WithMaxTokens(n int) Option {
	return func(c *config) {
		c.maxTokens = n
	}
}

// New constructs a new OpenAI vision Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai vision: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:    oai.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
	}, nil
}

// Analyze implements vision.Provider.
func (p *Provider) Analyze(ctx context.Context, image types.Attachment, prompt string) (string, error) {
	if len(image.Data) == 0 {
		return "", &provider.Error{Provider: providerName, Op: "analyze", Kind: provider.KindInvalid,
			Err: errors.New("attachment carries no data")}
	}
	if !strings.HasPrefix(image.MediaType, "image/") {
		return "", &provider.Error{Provider: providerName, Op: "analyze", Kind: provider.KindInvalid,
			Err: fmt.Errorf("media type %q is not an image", image.MediaType)}
	}
	if strings.TrimSpace(prompt) == "" {
		return "", &provider.Error{Provider: providerName, Op: "analyze", Kind: provider.KindInvalid,
			Err: errors.New("prompt must not be empty")}
	}

	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(prompt),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL(image),
		}),
	}

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(p.model),
		Messages:            []oai.ChatCompletionMessageParamUnion{oai.UserMessage(parts)},
		MaxCompletionTokens: param.NewOpt(int64(p.maxTokens)),
	})
	if err != nil {
		return "", classify("analyze", err)
	}
	if len(resp.Choices) == 0 {
		return "", &provider.Error{Provider: providerName, Op: "analyze", Kind: provider.KindInvalid,
			Err: errors.New("response carries no choices")}
	}

	desc := strings.TrimSpace(resp.Choices[0].Message.Content)
	if desc == "" {
		return "", &provider.Error{Provider: providerName, Op: "analyze", Kind: provider.KindInvalid,
			Err: errors.New("model returned an empty description")}
	}
	return desc, nil
}

// classify wraps an SDK failure, pulling status and Retry-After out of API
// errors so the retry loop can honor server-side pacing.
func classify(op string, err error) *provider.Error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		pe := provider.FromStatus(providerName, op, apierr.StatusCode, err)
		if pe.Kind == provider.KindRateLimit && apierr.Response != nil {
			if secs, convErr := strconv.Atoi(apierr.Response.Header.Get("Retry-After")); convErr == nil && secs > 0 {
				pe.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return pe
	}
	return provider.Classify(providerName, op, err)
}

// dataURL inlines attachment bytes as a base64 data URL, the form the chat
// API accepts for images that have no public address.
func dataURL(att types.Attachment) string {
	return fmt.Sprintf("data:%s;base64,%s", att.MediaType, base64.StdEncoding.EncodeToString(att.Data))
}
