// Package hooks is the lifecycle observer bus.
//
// Pipeline components publish typed events (connections, turn boundaries,
// provider latencies, tool calls, stage changes, errors) and observers
// subscribe to all of them through a single interface. Delivery is
// asynchronous and best-effort: the bus never blocks a publisher, drops
// events when its queue is full, and recovers observer panics, so a slow or
// broken observer cannot stall a live audio turn.
package hooks

import "time"

// Event is the union of all bus event types.
type Event interface{ event() }

// ConnectionEvent reports a client attaching to or detaching from a session.
type ConnectionEvent struct {
	// SessionID identifies the session.
	SessionID string

	// Connected is true on attach, false on detach.
	Connected bool

	// Recovered is true when the attach resumed an existing session via
	// reconnect.
	Recovered bool

	// RemoteAddr is the client network address, when known.
	RemoteAddr string
}

func (ConnectionEvent) event() {}

// TurnOutcome describes how a turn ended.
type TurnOutcome string

const (
	// TurnCompleted means the turn ran through ttsComplete (or the text
	// reply for text-mode turns).
	TurnCompleted TurnOutcome = "completed"

	// TurnCancelled means the turn was cancelled (barge-in, session close,
	// or superseding turn).
	TurnCancelled TurnOutcome = "cancelled"

	// TurnFailed means the turn ended with an error event.
	TurnFailed TurnOutcome = "failed"
)

// TurnEvent reports a turn boundary.
type TurnEvent struct {
	// SessionID identifies the session.
	SessionID string

	// Generation is the turn's generation number.
	Generation uint64

	// Began is true for the begin edge, false for the end edge.
	Began bool

	// Outcome is set on the end edge.
	Outcome TurnOutcome

	// Duration is the wall time from admission to the terminal event.
	// Set on the end edge.
	Duration time.Duration
}

func (TurnEvent) event() {}

// ProviderEvent reports one provider operation on the hot path.
type ProviderEvent struct {
	// SessionID identifies the session.
	SessionID string

	// Component is "stt", "llm", "tts" or "vision".
	Component string

	// Provider is the backend name from configuration.
	Provider string

	// Duration is the total operation time.
	Duration time.Duration

	// TimeToFirst is the latency until the first streamed result (token,
	// partial transcript, audio chunk). Zero for non-streaming operations.
	TimeToFirst time.Duration

	// Failed is true when the operation returned an error after retries.
	Failed bool
}

func (ProviderEvent) event() {}

// ToolCallEvent reports a tool invocation boundary.
type ToolCallEvent struct {
	// SessionID identifies the session.
	SessionID string

	// Tool is the tool name.
	Tool string

	// CallID is the provider-assigned tool call id.
	CallID string

	// Began is true for the start edge, false for the end edge.
	Began bool

	// Duration is set on the end edge.
	Duration time.Duration

	// IsError is true when the tool result reported failure. Set on the end
	// edge.
	IsError bool
}

func (ToolCallEvent) event() {}

// StageEvent reports a playbook stage change.
type StageEvent struct {
	// SessionID identifies the session.
	SessionID string

	// From is the stage being left.
	From string

	// To is the stage being entered.
	To string

	// Reason is the transition's condition summary, e.g. "keyword:order".
	Reason string
}

func (StageEvent) event() {}

// ErrorEvent reports an error surfaced to the client or absorbed by a
// component.
type ErrorEvent struct {
	// SessionID identifies the session. Empty for server-level errors.
	SessionID string

	// Component names the failing part ("stt", "llm", "tts", "transport",
	// "playbook", "tool", "vad", "session").
	Component string

	// Code is the wire protocol error code sent to the client, when one was.
	Code string

	// Err is the underlying error.
	Err error
}

func (ErrorEvent) event() {}

// BargeInEvent reports that speech interrupted an active turn.
type BargeInEvent struct {
	// SessionID identifies the session.
	SessionID string

	// Generation is the cancelled turn's generation.
	Generation uint64
}

func (BargeInEvent) event() {}

// Observer receives bus events. Implementations must be safe for concurrent
// use by the single dispatch goroutine and must return quickly; long work
// belongs on the observer's own goroutine.
//
// Embed NoopObserver to implement only the methods of interest.
type Observer interface {
	OnConnection(ev ConnectionEvent)
	OnTurn(ev TurnEvent)
	OnProvider(ev ProviderEvent)
	OnToolCall(ev ToolCallEvent)
	OnStage(ev StageEvent)
	OnError(ev ErrorEvent)
	OnBargeIn(ev BargeInEvent)
}

// NoopObserver implements Observer with empty methods.
type NoopObserver struct{}

func (NoopObserver) OnConnection(ConnectionEvent) {}
func (NoopObserver) OnTurn(TurnEvent)             {}
func (NoopObserver) OnProvider(ProviderEvent)     {}
func (NoopObserver) OnToolCall(ToolCallEvent)     {}
func (NoopObserver) OnStage(StageEvent)           {}
func (NoopObserver) OnError(ErrorEvent)           {}
func (NoopObserver) OnBargeIn(BargeInEvent)       {}

var _ Observer = NoopObserver{}
