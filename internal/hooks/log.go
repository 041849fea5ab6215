package hooks

import "log/slog"

// LogObserver writes every bus event as a structured log line. Routine
// lifecycle events log at debug so production logs stay readable; errors log
// at error level.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver creates a LogObserver writing through logger. A nil logger
// uses slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{log: logger}
}

var _ Observer = (*LogObserver)(nil)

func (l *LogObserver) OnConnection(ev ConnectionEvent) {
	l.log.Info("client connection",
		"session_id", ev.SessionID,
		"connected", ev.Connected,
		"recovered", ev.Recovered,
		"remote", ev.RemoteAddr)
}

func (l *LogObserver) OnTurn(ev TurnEvent) {
	if ev.Began {
		l.log.Debug("turn began", "session_id", ev.SessionID, "generation", ev.Generation)
		return
	}
	l.log.Debug("turn ended",
		"session_id", ev.SessionID,
		"generation", ev.Generation,
		"outcome", string(ev.Outcome),
		"duration", ev.Duration)
}

func (l *LogObserver) OnProvider(ev ProviderEvent) {
	l.log.Debug("provider call",
		"session_id", ev.SessionID,
		"component", ev.Component,
		"provider", ev.Provider,
		"duration", ev.Duration,
		"time_to_first", ev.TimeToFirst,
		"failed", ev.Failed)
}

func (l *LogObserver) OnToolCall(ev ToolCallEvent) {
	if ev.Began {
		l.log.Debug("tool call started",
			"session_id", ev.SessionID, "tool", ev.Tool, "call_id", ev.CallID)
		return
	}
	l.log.Debug("tool call finished",
		"session_id", ev.SessionID,
		"tool", ev.Tool,
		"call_id", ev.CallID,
		"duration", ev.Duration,
		"is_error", ev.IsError)
}

func (l *LogObserver) OnStage(ev StageEvent) {
	l.log.Info("stage change",
		"session_id", ev.SessionID,
		"from", ev.From,
		"to", ev.To,
		"reason", ev.Reason)
}

func (l *LogObserver) OnError(ev ErrorEvent) {
	l.log.Error("pipeline error",
		"session_id", ev.SessionID,
		"component", ev.Component,
		"code", ev.Code,
		"error", ev.Err)
}

func (l *LogObserver) OnBargeIn(ev BargeInEvent) {
	l.log.Debug("barge-in", "session_id", ev.SessionID, "generation", ev.Generation)
}
