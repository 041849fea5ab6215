// Package openai provides an LLM provider backed by the OpenAI Chat
// Completions API. The turn engine uses Complete for the tool phase and
// Stream for the reply phase; both accept the same Request shape.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/llm"
	"github.com/llmrtc/llmrtc/pkg/types"
)

const providerName = "openai"

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use it to point the
// provider at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI LLM Provider. model is the default model for
// requests that do not name one in their Config.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	params, err := buildParams(p.model, req)
	if err != nil {
		return nil, &provider.Error{Provider: providerName, Op: "complete", Kind: provider.KindInvalid, Err: err}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify("complete", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &provider.Error{Provider: providerName, Op: "complete", Kind: provider.KindInvalid, Err: errors.New("response carries no choices")}
	}

	choice := resp.Choices[0]
	comp := &llm.Completion{
		Content:    choice.Message.Content,
		StopReason: stopReason(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		comp.ToolCalls = append(comp.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return comp, nil
}

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params, err := buildParams(p.model, req)
	if err != nil {
		return nil, &provider.Error{Provider: providerName, Op: "stream", Kind: provider.KindInvalid, Err: err}
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, classify("stream", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		// Tool call fragments accumulate by index until the finish chunk
		// names a reason; only then are the assembled calls emitted.
		accum := map[int]*types.ToolCall{}
		finished := false

		for stream.Next() {
			cur := stream.Current()
			if len(cur.Choices) == 0 {
				continue
			}
			choice := cur.Choices[0]
			delta := choice.Delta

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				if _, ok := accum[idx]; !ok {
					accum[idx] = &types.ToolCall{ID: tc.ID, Name: tc.Function.Name}
				}
				existing := accum[idx]
				if tc.ID != "" {
					existing.ID = tc.ID
				}
				if tc.Function.Name != "" {
					existing.Name = tc.Function.Name
				}
				existing.Arguments += tc.Function.Arguments
			}

			out := llm.Chunk{Content: delta.Content}
			if choice.FinishReason != "" {
				out.StopReason = stopReason(choice.FinishReason)
				out.ToolCalls = assembleToolCalls(accum)
				out.Done = true
				finished = true
			}
			if out.Content == "" && !out.Done {
				continue
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
			if finished {
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{Err: classify("stream", err), Done: true}:
			case <-ctx.Done():
			}
			return
		}

		// The backend closed the stream without naming a finish reason.
		// Treat it as a natural end so callers still get their terminal chunk.
		select {
		case ch <- llm.Chunk{StopReason: llm.StopEndTurn, ToolCalls: assembleToolCalls(accum), Done: true}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// assembleToolCalls flattens the accumulation map in index order. OpenAI
// numbers streamed tool calls contiguously from zero.
func assembleToolCalls(accum map[int]*types.ToolCall) []types.ToolCall {
	if len(accum) == 0 {
		return nil
	}
	calls := make([]types.ToolCall, 0, len(accum))
	for i := 0; i < len(accum); i++ {
		if tc, ok := accum[i]; ok {
			calls = append(calls, *tc)
		}
	}
	return calls
}

// stopReason maps an OpenAI finish_reason onto the provider-neutral constant.
// "stop" covers both natural completion and stop sequences; the API does not
// distinguish them.
func stopReason(reason string) llm.StopReason {
	switch reason {
	case "tool_calls", "function_call":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
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

// buildParams converts a Request into OpenAI SDK params. defaultModel is used
// when the request's Config does not name a model.
func buildParams(defaultModel string, req llm.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	model := req.Config.Model
	if model == "" {
		model = defaultModel
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}

	if req.Config.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Config.Temperature)
	}
	if req.Config.TopP != 0 {
		params.TopP = param.NewOpt(req.Config.TopP)
	}
	if req.Config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Config.MaxTokens))
	}

	for _, td := range req.Tools {
		toolParam := oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		}
		params.Tools = append(params.Tools, toolParam)
	}

	if len(req.Tools) > 0 {
		if tc := convertToolChoice(req.ToolChoice); tc != nil {
			params.ToolChoice = *tc
		}
	}

	return params, nil
}

// convertToolChoice maps the provider-neutral constraint onto the SDK union.
// A nil return leaves the parameter unset so the API default (auto) applies.
func convertToolChoice(tc llm.ToolChoice) *oai.ChatCompletionToolChoiceOptionUnionParam {
	if name, ok := tc.ForcedTool(); ok {
		return &oai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
				Function: oai.ChatCompletionNamedToolChoiceFunctionParam{Name: name},
			},
		}
	}
	switch tc {
	case llm.ToolChoiceNone, llm.ToolChoiceRequired, llm.ToolChoiceAuto:
		return &oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt(string(tc))}
	}
	return nil
}

// convertMessage converts a types.Message to an OpenAI SDK message param.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case types.RoleUser:
		if len(m.Attachments) == 0 {
			return oai.UserMessage(m.Content), nil
		}
		parts := make([]oai.ChatCompletionContentPartUnionParam, 0, len(m.Attachments)+1)
		if m.Content != "" {
			parts = append(parts, oai.TextContentPart(m.Content))
		}
		for _, att := range m.Attachments {
			parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(att),
			}))
		}
		return oai.UserMessage(parts), nil

	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case types.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}

// dataURL inlines attachment bytes as a base64 data URL, the form the chat
// API accepts for images that have no public address.
func dataURL(att types.Attachment) string {
	return fmt.Sprintf("data:%s;base64,%s", att.MediaType, base64.StdEncoding.EncodeToString(att.Data))
}
