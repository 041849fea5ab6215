package llm

import (
	"github.com/llmrtc/llmrtc/pkg/types"
)

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	// StopEndTurn means the model finished its reply naturally.
	StopEndTurn StopReason = "end_turn"

	// StopToolUse means the model wants the caller to execute the tool calls
	// carried alongside this reason and send back their results.
	StopToolUse StopReason = "tool_use"

	// StopMaxTokens means generation was cut off by the MaxTokens cap.
	StopMaxTokens StopReason = "max_tokens"

	// StopSequence means a configured stop sequence was produced.
	StopSequence StopReason = "stop_sequence"
)

// ToolChoice constrains how the model may use the tools offered in a Request.
// The zero value behaves like ToolChoiceAuto. Any other value names a single
// tool the model is forced to call.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide whether to call tools.
	ToolChoiceAuto ToolChoice = "auto"

	// ToolChoiceNone makes the tools visible but forbids calling them.
	ToolChoiceNone ToolChoice = "none"

	// ToolChoiceRequired forces the model to call at least one tool.
	ToolChoiceRequired ToolChoice = "required"
)

// ForcedTool returns the tool name a non-enum ToolChoice value designates,
// and whether the value designates one.
func (tc ToolChoice) ForcedTool() (string, bool) {
	switch tc {
	case "", ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return "", false
	}
	return string(tc), true
}

// Config carries the sampling parameters for one request. Zero values mean
// "use the provider default" throughout.
type Config struct {
	// Model is the provider-specific model identifier, e.g. "gpt-4o-mini".
	Model string

	// Temperature controls output randomness in the range [0.0, 2.0]. Lower
	// values produce more deterministic outputs.
	Temperature float64

	// TopP is the nucleus sampling cutoff in (0.0, 1.0].
	TopP float64

	// MaxTokens caps the number of completion tokens the model may generate.
	MaxTokens int
}

// Request carries everything the LLM needs to produce a response. Callers
// should treat a zero-value request as invalid; at minimum Messages must be
// non-empty.
type Request struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role (or a batch of "tool" results) and
	// drives the response.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. If the provider does not natively support a
	// dedicated system prompt, implementors should prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Tools is the set of tool definitions offered to the model. The model
	// may request one or more of them; the caller executes the calls and
	// sends the results back in a follow-up Request.
	Tools []types.ToolDefinition

	// ToolChoice constrains tool use for this request. Ignored when Tools is
	// empty.
	ToolChoice ToolChoice

	// Config holds the sampling parameters.
	Config Config
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int
}

// Chunk is a single increment emitted by a streaming completion. A chunk may
// carry text, tool calls, a terminal marker, or any combination thereof.
type Chunk struct {
	// Content is the incremental text of this chunk. May be empty on the
	// final chunk.
	Content string

	// ToolCalls carries tool invocations the model is requesting, fully
	// assembled. Implementations accumulate partial tool-call deltas
	// internally and emit complete calls, normally on the final chunk.
	ToolCalls []types.ToolCall

	// StopReason is set on the final chunk and empty before it.
	StopReason StopReason

	// Done marks the last chunk of the stream. After a chunk with Done set,
	// the channel is closed without further sends.
	Done bool

	// Err reports a failure that occurred after the stream started. A chunk
	// with Err set is terminal; Content and ToolCalls on it are meaningless.
	Err error
}

// Completion is returned by the non-streaming Complete method.
type Completion struct {
	// Content is the full text of the assistant's reply. Empty when the
	// model responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model. The
	// caller is responsible for executing them and appending the results to
	// the conversation.
	ToolCalls []types.ToolCall

	// StopReason indicates why generation stopped.
	StopReason StopReason

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}
