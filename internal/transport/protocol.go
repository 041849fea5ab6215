// Package transport implements the LLMRTC wire protocol and the per-session
// transport multiplexer.
//
// One session owns a reliable ordered channel (WebSocket) carrying JSON
// control messages, and optionally an unreliable media channel carrying raw
// audio frames. Events emitted by one turn are delivered in emission order on
// the reliable channel. Cross-channel order between reliable events and media
// frames is NOT guaranteed; clients must treat tts-start / tts-complete /
// tts-cancelled on the reliable channel as the authoritative TTS lifecycle.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/llmrtc/llmrtc/pkg/types"
)

// ProtocolVersion is the wire protocol version announced in the ready event.
const ProtocolVersion = 1

// ClientMessageType identifies a client-to-server control message.
type ClientMessageType string

// Client-to-server message types.
const (
	ClientPing        ClientMessageType = "ping"
	ClientOffer       ClientMessageType = "offer"
	ClientReconnect   ClientMessageType = "reconnect"
	ClientAudio       ClientMessageType = "audio"
	ClientAttachments ClientMessageType = "attachments"
)

// IsValid reports whether t is a known client message type.
func (t ClientMessageType) IsValid() bool {
	switch t {
	case ClientPing, ClientOffer, ClientReconnect, ClientAudio, ClientAttachments:
		return true
	}
	return false
}

// AttachmentPayload is the wire form of a vision attachment. Data is
// base64-encoded on the wire (encoding/json handles []byte transparently).
type AttachmentPayload struct {
	Data      []byte `json:"data"`
	MediaType string `json:"mediaType"`
	Alt       string `json:"alt,omitempty"`
}

// ToAttachment converts the wire payload into the engine-level type.
func (a AttachmentPayload) ToAttachment() types.Attachment {
	return types.Attachment{Data: a.Data, MediaType: a.MediaType, Alt: a.Alt}
}

// ClientMessage is the decoded form of one inbound control message. It is a
// flat union; which fields are meaningful depends on Type.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// ping
	Timestamp int64 `json:"timestamp,omitempty"`

	// offer: the client's SDP offer.
	Signal string `json:"signal,omitempty"`

	// reconnect
	SessionID string `json:"sessionId,omitempty"`

	// audio: base64 WAV fallback when no media channel is available.
	// Attachments may ride along with audio or arrive standalone.
	Data        []byte              `json:"data,omitempty"`
	Attachments []AttachmentPayload `json:"attachments,omitempty"`
}

// ErrInvalidMessage is returned by DecodeClientMessage for malformed or
// unknown inbound messages. The offending frame is dropped and the session
// continues.
var ErrInvalidMessage = errors.New("transport: invalid client message")

// DecodeClientMessage parses and validates one inbound control message.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
	switch msg.Type {
	case ClientOffer:
		if msg.Signal == "" {
			return nil, fmt.Errorf("%w: offer without signal", ErrInvalidMessage)
		}
	case ClientReconnect:
		if msg.SessionID == "" {
			return nil, fmt.Errorf("%w: reconnect without sessionId", ErrInvalidMessage)
		}
	case ClientAudio:
		if len(msg.Data) == 0 {
			return nil, fmt.Errorf("%w: audio without data", ErrInvalidMessage)
		}
	case ClientAttachments:
		if len(msg.Attachments) == 0 {
			return nil, fmt.Errorf("%w: attachments message without attachments", ErrInvalidMessage)
		}
	}
	return &msg, nil
}

// EventType identifies a server-to-client wire event.
type EventType string

// Server-to-client event types.
const (
	EventReady         EventType = "ready"
	EventPong          EventType = "pong"
	EventSignal        EventType = "signal"
	EventReconnectAck  EventType = "reconnect-ack"
	EventTranscript    EventType = "transcript"
	EventLLMChunk      EventType = "llm-chunk"
	EventLLM           EventType = "llm"
	EventTTSStart      EventType = "tts-start"
	EventTTSChunk      EventType = "tts-chunk"
	EventTTS           EventType = "tts"
	EventTTSComplete   EventType = "tts-complete"
	EventTTSCancelled  EventType = "tts-cancelled"
	EventSpeechStart   EventType = "speech-start"
	EventSpeechEnd     EventType = "speech-end"
	EventToolCallStart EventType = "tool-call-start"
	EventToolCallEnd   EventType = "tool-call-end"
	EventStageChange   EventType = "stage-change"
	EventError         EventType = "error"
)

// Envelope carries the wire "type" tag shared by every server event.
// Concrete event structs embed it; constructors set the tag.
type Envelope struct {
	Type EventType `json:"type"`
}

// Kind returns the wire type tag.
func (e Envelope) Kind() EventType { return e.Type }

// Event is a server-to-client message. All concrete events embed [Envelope].
type Event interface {
	Kind() EventType
}

// EncodeEvent marshals a server event for the reliable channel.
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("transport: encode %s event: %w", ev.Kind(), err)
	}
	return data, nil
}

// ICEServer is one STUN/TURN server entry advertised in the ready event.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ReadyEvent is sent once after the reliable channel opens.
type ReadyEvent struct {
	Envelope
	SessionID       string      `json:"id"`
	ProtocolVersion int         `json:"protocolVersion"`
	ICEServers      []ICEServer `json:"iceServers,omitempty"`
}

// NewReadyEvent builds the handshake event for a freshly created session.
func NewReadyEvent(sessionID string, ice []ICEServer) *ReadyEvent {
	return &ReadyEvent{
		Envelope:        Envelope{Type: EventReady},
		SessionID:       sessionID,
		ProtocolVersion: ProtocolVersion,
		ICEServers:      ice,
	}
}

// PongEvent answers a client ping, echoing its timestamp.
type PongEvent struct {
	Envelope
	Timestamp int64 `json:"timestamp"`
}

// NewPongEvent echoes the client's ping timestamp.
func NewPongEvent(timestamp int64) *PongEvent {
	return &PongEvent{Envelope: Envelope{Type: EventPong}, Timestamp: timestamp}
}

// SignalEvent carries the server's SDP answer to a client offer.
type SignalEvent struct {
	Envelope
	Signal string `json:"signal"`
}

// NewSignalEvent wraps an SDP answer.
func NewSignalEvent(answer string) *SignalEvent {
	return &SignalEvent{Envelope: Envelope{Type: EventSignal}, Signal: answer}
}

// ReconnectAckEvent answers a reconnect attempt. On failure the server has
// created a fresh session and reports its id with HistoryRecovered false.
type ReconnectAckEvent struct {
	Envelope
	Success          bool   `json:"success"`
	SessionID        string `json:"sessionId"`
	HistoryRecovered bool   `json:"historyRecovered"`
}

// NewReconnectAckEvent reports the outcome of a reconnect attempt.
func NewReconnectAckEvent(success bool, sessionID string, historyRecovered bool) *ReconnectAckEvent {
	return &ReconnectAckEvent{
		Envelope:         Envelope{Type: EventReconnectAck},
		Success:          success,
		SessionID:        sessionID,
		HistoryRecovered: historyRecovered,
	}
}

// TranscriptEvent carries an STT partial or final transcript.
type TranscriptEvent struct {
	Envelope
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// NewTranscriptEvent wraps one transcription result.
func NewTranscriptEvent(text string, isFinal bool) *TranscriptEvent {
	return &TranscriptEvent{Envelope: Envelope{Type: EventTranscript}, Text: text, IsFinal: isFinal}
}

// LLMChunkEvent carries one streamed LLM content delta. A chunk with Done
// true and empty content terminates the stream.
type LLMChunkEvent struct {
	Envelope
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// NewLLMChunkEvent wraps one LLM stream delta.
func NewLLMChunkEvent(content string, done bool) *LLMChunkEvent {
	return &LLMChunkEvent{Envelope: Envelope{Type: EventLLMChunk}, Content: content, Done: done}
}

// LLMEvent carries a complete non-streamed LLM reply.
type LLMEvent struct {
	Envelope
	Text string `json:"text"`
}

// NewLLMEvent wraps a full LLM reply.
func NewLLMEvent(text string) *LLMEvent {
	return &LLMEvent{Envelope: Envelope{Type: EventLLM}, Text: text}
}

// DeliveryMode tells the client which channel will carry TTS audio for the
// current turn.
type DeliveryMode string

// TTS audio delivery modes.
const (
	DeliveryMedia    DeliveryMode = "media"
	DeliveryReliable DeliveryMode = "reliable"
)

// TTSStartEvent opens the TTS lifecycle for a turn and announces the audio
// delivery mode, format and sample rate.
type TTSStartEvent struct {
	Envelope
	Transport  DeliveryMode `json:"transport"`
	Format     string       `json:"format"`
	SampleRate int          `json:"sampleRate"`
}

// NewTTSStartEvent announces synthesized audio delivery for the active turn.
func NewTTSStartEvent(mode DeliveryMode, format string, sampleRate int) *TTSStartEvent {
	return &TTSStartEvent{
		Envelope:   Envelope{Type: EventTTSStart},
		Transport:  mode,
		Format:     format,
		SampleRate: sampleRate,
	}
}

// TTSChunkEvent carries one base64 audio chunk on the reliable channel. Used
// only when no media channel is bound.
type TTSChunkEvent struct {
	Envelope
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Data       []byte `json:"data"`
}

// NewTTSChunkEvent wraps one synthesized audio chunk for reliable delivery.
func NewTTSChunkEvent(format string, sampleRate int, data []byte) *TTSChunkEvent {
	return &TTSChunkEvent{
		Envelope:   Envelope{Type: EventTTSChunk},
		Format:     format,
		SampleRate: sampleRate,
		Data:       data,
	}
}

// TTSEvent carries a complete non-streamed synthesis result.
type TTSEvent struct {
	Envelope
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// NewTTSEvent wraps a full synthesis result.
func NewTTSEvent(format string, data []byte) *TTSEvent {
	return &TTSEvent{Envelope: Envelope{Type: EventTTS}, Format: format, Data: data}
}

// NewTTSCompleteEvent signals that all TTS audio for the turn was produced.
func NewTTSCompleteEvent() *Envelope { return &Envelope{Type: EventTTSComplete} }

// NewTTSCancelledEvent signals that TTS was interrupted (barge-in or close).
func NewTTSCancelledEvent() *Envelope { return &Envelope{Type: EventTTSCancelled} }

// NewSpeechStartEvent notifies the client that the VAD detected speech onset.
func NewSpeechStartEvent() *Envelope { return &Envelope{Type: EventSpeechStart} }

// NewSpeechEndEvent notifies the client that the VAD detected end of speech.
func NewSpeechEndEvent() *Envelope { return &Envelope{Type: EventSpeechEnd} }

// ToolCallStartEvent reports that the model requested a tool invocation.
type ToolCallStartEvent struct {
	Envelope
	CallID    string          `json:"callId"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// NewToolCallStartEvent reports a tool invocation request.
func NewToolCallStartEvent(callID, name string, arguments json.RawMessage) *ToolCallStartEvent {
	return &ToolCallStartEvent{
		Envelope:  Envelope{Type: EventToolCallStart},
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	}
}

// ToolCallEndEvent reports the outcome of a tool invocation. Exactly one of
// Result or Error is set.
type ToolCallEndEvent struct {
	Envelope
	CallID     string          `json:"callId"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
}

// NewToolCallEndEvent reports a successful tool result.
func NewToolCallEndEvent(callID string, result json.RawMessage, durationMs int64) *ToolCallEndEvent {
	return &ToolCallEndEvent{
		Envelope:   Envelope{Type: EventToolCallEnd},
		CallID:     callID,
		Result:     result,
		DurationMs: durationMs,
	}
}

// NewToolCallErrorEvent reports a failed or rejected tool invocation.
func NewToolCallErrorEvent(callID, errMsg string, durationMs int64) *ToolCallEndEvent {
	return &ToolCallEndEvent{
		Envelope:   Envelope{Type: EventToolCallEnd},
		CallID:     callID,
		Error:      errMsg,
		DurationMs: durationMs,
	}
}

// StageChangeEvent reports a playbook stage transition.
type StageChangeEvent struct {
	Envelope
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// NewStageChangeEvent reports a fired playbook transition.
func NewStageChangeEvent(from, to, reason string) *StageChangeEvent {
	return &StageChangeEvent{Envelope: Envelope{Type: EventStageChange}, From: from, To: to, Reason: reason}
}

// ErrorEvent reports a user-visible failure with a machine code and a human
// message.
type ErrorEvent struct {
	Envelope
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent wraps a wire error code and message.
func NewErrorEvent(code Code, message string) *ErrorEvent {
	return &ErrorEvent{Envelope: Envelope{Type: EventError}, Code: code, Message: message}
}
