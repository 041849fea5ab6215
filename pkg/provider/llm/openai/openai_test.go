package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	oai "github.com/openai/openai-go"

	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/llm"
	"github.com/llmrtc/llmrtc/pkg/types"
)

// TestConvertMessage_System checks that system role is converted correctly.
func TestConvertMessage_System(t *testing.T) {
	msg := types.Message{Role: types.RoleSystem, Content: "You are helpful."}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}
}

// TestConvertMessage_User checks that user role is converted correctly.
func TestConvertMessage_User(t *testing.T) {
	msg := types.Message{Role: types.RoleUser, Content: "Hello!"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessage_UserWithAttachments checks that attachments become
// image content parts alongside the text.
func TestConvertMessage_UserWithAttachments(t *testing.T) {
	msg := types.Message{
		Role:    types.RoleUser,
		Content: "What is this?",
		Attachments: []types.Attachment{
			{Data: []byte{0xFF, 0xD8, 0xFF}, MediaType: "image/jpeg"},
		},
	}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
	parts := param.OfUser.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	if parts[0].OfText == nil || parts[0].OfText.Text != "What is this?" {
		t.Error("expected first part to carry the text")
	}
	if parts[1].OfImageURL == nil {
		t.Fatal("expected second part to be an image")
	}
	url := parts[1].OfImageURL.ImageURL.URL
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Errorf("expected a jpeg data URL, got %q", url)
	}
}

// TestConvertMessage_Assistant checks that assistant role is converted.
func TestConvertMessage_Assistant(t *testing.T) {
	msg := types.Message{Role: types.RoleAssistant, Content: "Hi there!"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

// TestConvertMessage_AssistantWithToolCalls checks tool call conversion.
func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	msg := types.Message{
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Berlin"}`},
		},
	}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
	if len(param.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(param.OfAssistant.ToolCalls))
	}
	tc := param.OfAssistant.ToolCalls[0]
	if tc.ID != "call_1" {
		t.Errorf("expected ID call_1, got %s", tc.ID)
	}
	if tc.Function.Name != "get_weather" {
		t.Errorf("expected function name get_weather, got %s", tc.Function.Name)
	}
	if tc.Function.Arguments != `{"city":"Berlin"}` {
		t.Errorf("unexpected arguments: %s", tc.Function.Arguments)
	}
}

// TestConvertMessage_Tool checks tool response message conversion.
func TestConvertMessage_Tool(t *testing.T) {
	msg := types.Message{Role: types.RoleTool, Content: "sunny", ToolCallID: "call_1"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfTool == nil {
		t.Fatal("expected OfTool to be set")
	}
	if param.OfTool.ToolCallID != "call_1" {
		t.Errorf("expected ToolCallID call_1, got %s", param.OfTool.ToolCallID)
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	msg := types.Message{Role: "narrator", Content: "test"}
	_, err := convertMessage(msg)
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// TestStopReason_Mapping checks finish_reason translation.
func TestStopReason_Mapping(t *testing.T) {
	tests := []struct {
		reason string
		want   llm.StopReason
	}{
		{"stop", llm.StopEndTurn},
		{"tool_calls", llm.StopToolUse},
		{"function_call", llm.StopToolUse},
		{"length", llm.StopMaxTokens},
		{"content_filter", llm.StopEndTurn},
		{"", llm.StopEndTurn},
	}
	for _, tt := range tests {
		if got := stopReason(tt.reason); got != tt.want {
			t.Errorf("stopReason(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

// TestConvertToolChoice_Enums checks the enum values map onto the string variant.
func TestConvertToolChoice_Enums(t *testing.T) {
	for _, tc := range []llm.ToolChoice{llm.ToolChoiceAuto, llm.ToolChoiceNone, llm.ToolChoiceRequired} {
		got := convertToolChoice(tc)
		if got == nil {
			t.Fatalf("convertToolChoice(%q) = nil", tc)
		}
		if !got.OfAuto.Valid() || got.OfAuto.Value != string(tc) {
			t.Errorf("convertToolChoice(%q) OfAuto = %+v", tc, got.OfAuto)
		}
	}
}

// TestConvertToolChoice_Forced checks a tool name becomes a named choice.
func TestConvertToolChoice_Forced(t *testing.T) {
	got := convertToolChoice(llm.ToolChoice("get_weather"))
	if got == nil || got.OfChatCompletionNamedToolChoice == nil {
		t.Fatalf("expected named tool choice, got %+v", got)
	}
	if name := got.OfChatCompletionNamedToolChoice.Function.Name; name != "get_weather" {
		t.Errorf("forced tool name = %q, want get_weather", name)
	}
}

// TestConvertToolChoice_ZeroValue checks the zero value leaves the param unset.
func TestConvertToolChoice_ZeroValue(t *testing.T) {
	if got := convertToolChoice(""); got != nil {
		t.Errorf("convertToolChoice(\"\") = %+v, want nil", got)
	}
}

// TestBuildParams_ModelOverride checks per-request models win over the default.
func TestBuildParams_ModelOverride(t *testing.T) {
	req := llm.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Config:   llm.Config{Model: "gpt-4.1-mini"},
	}
	params, err := buildParams("gpt-4o", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(params.Model) != "gpt-4.1-mini" {
		t.Errorf("model = %q, want gpt-4.1-mini", params.Model)
	}
}

// TestBuildParams_DefaultModel checks the constructor model is the fallback.
func TestBuildParams_DefaultModel(t *testing.T) {
	req := llm.Request{Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}}}
	params, err := buildParams("gpt-4o", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(params.Model) != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", params.Model)
	}
}

// TestBuildParams_SystemPromptLeads checks the system prompt becomes the
// first message.
func TestBuildParams_SystemPromptLeads(t *testing.T) {
	req := llm.Request{
		SystemPrompt: "Be terse.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
	params, err := buildParams("gpt-4o", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected leading system message")
	}
}

// TestBuildParams_SamplingParams checks zero values stay unset and non-zero
// values are carried.
func TestBuildParams_SamplingParams(t *testing.T) {
	req := llm.Request{Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}}}
	params, err := buildParams("gpt-4o", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Temperature.Valid() || params.TopP.Valid() || params.MaxCompletionTokens.Valid() {
		t.Error("expected sampling params to stay unset for zero config")
	}

	req.Config = llm.Config{Temperature: 0.7, TopP: 0.9, MaxTokens: 256}
	params, err = buildParams("gpt-4o", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.7 {
		t.Errorf("temperature = %+v, want 0.7", params.Temperature)
	}
	if !params.TopP.Valid() || params.TopP.Value != 0.9 {
		t.Errorf("top_p = %+v, want 0.9", params.TopP)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 256 {
		t.Errorf("max_completion_tokens = %+v, want 256", params.MaxCompletionTokens)
	}
}

// TestBuildParams_Tools checks tool definitions and the choice constraint
// are both carried.
func TestBuildParams_Tools(t *testing.T) {
	req := llm.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Tools: []types.ToolDefinition{{
			Name:        "get_weather",
			Description: "Current weather for a city.",
			Parameters:  map[string]any{"type": "object"},
		}},
		ToolChoice: llm.ToolChoiceRequired,
	}
	params, err := buildParams("gpt-4o", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(params.Tools))
	}
	if params.Tools[0].Function.Name != "get_weather" {
		t.Errorf("tool name = %q", params.Tools[0].Function.Name)
	}
	if !params.ToolChoice.OfAuto.Valid() || params.ToolChoice.OfAuto.Value != "required" {
		t.Errorf("tool choice = %+v, want required", params.ToolChoice)
	}
}

// TestAssembleToolCalls_IndexOrder checks calls come out in stream index order.
func TestAssembleToolCalls_IndexOrder(t *testing.T) {
	accum := map[int]*types.ToolCall{
		1: {ID: "call_2", Name: "second"},
		0: {ID: "call_1", Name: "first"},
	}
	calls := assembleToolCalls(accum)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "first" || calls[1].Name != "second" {
		t.Errorf("unexpected order: %s, %s", calls[0].Name, calls[1].Name)
	}
	if assembleToolCalls(map[int]*types.ToolCall{}) != nil {
		t.Error("expected nil for empty accumulation")
	}
}

// TestClassify_APIStatus checks API errors are classified by status code.
func TestClassify_APIStatus(t *testing.T) {
	tests := []struct {
		status int
		want   provider.ErrorKind
	}{
		{401, provider.KindAuth},
		{429, provider.KindRateLimit},
		{400, provider.KindInvalid},
		{500, provider.KindHTTP},
	}
	for _, tt := range tests {
		err := classify("complete", &oai.Error{StatusCode: tt.status})
		if err.Kind != tt.want {
			t.Errorf("status %d: kind = %v, want %v", tt.status, err.Kind, tt.want)
		}
		if err.Provider != "openai" {
			t.Errorf("provider = %q, want openai", err.Provider)
		}
	}
}

// TestClassify_RetryAfterHint checks the Retry-After header becomes a backoff hint.
func TestClassify_RetryAfterHint(t *testing.T) {
	apierr := &oai.Error{
		StatusCode: 429,
		Response: &http.Response{
			Header: http.Header{"Retry-After": []string{"7"}},
		},
	}
	err := classify("complete", apierr)
	if err.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", err.RetryAfter)
	}
}

// TestClassify_Timeout checks deadline errors map to the timeout kind.
func TestClassify_Timeout(t *testing.T) {
	err := classify("stream", context.DeadlineExceeded)
	if err.Kind != provider.KindTimeout {
		t.Errorf("kind = %v, want timeout", err.Kind)
	}
	if !provider.Retryable(err) {
		t.Error("timeouts should be retryable")
	}
}

// TestClassify_Unknown checks unrecognised errors stay unclassified.
func TestClassify_Unknown(t *testing.T) {
	err := classify("complete", errors.New("boom"))
	if err.Kind != provider.KindUnknown {
		t.Errorf("kind = %v, want unknown", err.Kind)
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	_, err := New("sk-test", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_Options checks that optional settings are accepted without error.
func TestNew_Options(t *testing.T) {
	_, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
		WithTimeout(30*time.Second),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}
