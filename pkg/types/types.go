// Package types defines the shared types used across all llmrtc packages.
//
// These types form the lingua franca between providers, the turn engine,
// the history store, and the transport layer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting
// data structures live here to avoid circular imports.
package types

import "time"

// Message roles. A History is an ordered sequence of messages whose roles
// follow the usual chat-completion conventions.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// Attachments holds vision attachments carried by a user message.
	Attachments []Attachment `json:"attachments,omitempty"`

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// ToolCallID is set when Role is "tool", identifying which tool call
	// this message responds to.
	ToolCallID string `json:"toolCallId,omitempty"`

	// ToolName is set when Role is "tool"; it must match the name of the
	// preceding assistant tool call with the same ToolCallID.
	ToolName string `json:"toolName,omitempty"`
}

// Attachment is an inline vision attachment (image bytes plus metadata).
// Data is base64-encoded on the wire; encoding/json handles that natively
// for []byte fields.
type Attachment struct {
	Data      []byte `json:"data"`
	MediaType string `json:"mediaType"`
	Alt       string `json:"alt,omitempty"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string `json:"id"`

	// Name is the tool name.
	Name string `json:"name"`

	// Arguments is the JSON-encoded arguments string exactly as returned
	// by the provider. Validation against the tool schema happens at the
	// engine boundary, not here.
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string `json:"name"`

	// Description explains what the tool does (included in LLM prompts).
	Description string `json:"description"`

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any `json:"parameters"`
}

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio, when known.
	Duration time.Duration
}

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — received from
// the media channel, decoded, processed by VAD, and buffered into
// utterances.
type AudioFrame struct {
	// PCM audio data, 16-bit little-endian signed samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for browser Opus, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
