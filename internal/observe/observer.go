package observe

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/llmrtc/llmrtc/internal/hooks"
)

// MetricsObserver turns bus events into OTel instrument updates. Register it
// on the hooks bus next to the log observer; everything it records surfaces
// on /metrics through the Prometheus bridge.
//
// Events arrive on the bus dispatch goroutine, so every method must stay
// cheap. Instrument updates are.
type MetricsObserver struct {
	m *Metrics
}

// NewMetricsObserver wires m to the bus event vocabulary.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

var _ hooks.Observer = (*MetricsObserver)(nil)

func (o *MetricsObserver) OnConnection(ev hooks.ConnectionEvent) {
	delta := int64(1)
	if !ev.Connected {
		delta = -1
	}
	o.m.ActiveConnections.Add(context.Background(), delta)
}

func (o *MetricsObserver) OnTurn(ev hooks.TurnEvent) {
	if ev.Began {
		return
	}
	ctx := context.Background()
	o.m.TurnDuration.Record(ctx, ev.Duration.Seconds())
	o.m.Turns.Add(ctx, 1, metric.WithAttributes(
		Attr("outcome", string(ev.Outcome)),
	))
}

func (o *MetricsObserver) OnProvider(ev hooks.ProviderEvent) {
	ctx := context.Background()

	switch ev.Component {
	case "stt":
		o.m.STTDuration.Record(ctx, ev.Duration.Seconds())
	case "llm":
		o.m.LLMDuration.Record(ctx, ev.Duration.Seconds())
	case "tts":
		o.m.TTSDuration.Record(ctx, ev.Duration.Seconds())
	}
	if ev.TimeToFirst > 0 {
		o.m.TimeToFirst.Record(ctx, ev.TimeToFirst.Seconds(), metric.WithAttributes(
			Attr("component", ev.Component),
		))
	}

	status := "ok"
	if ev.Failed {
		status = "error"
		o.m.RecordProviderError(ctx, ev.Provider, ev.Component)
	}
	o.m.RecordProviderRequest(ctx, ev.Provider, ev.Component, status)
}

func (o *MetricsObserver) OnToolCall(ev hooks.ToolCallEvent) {
	if ev.Began {
		return
	}
	ctx := context.Background()
	o.m.ToolExecutionDuration.Record(ctx, ev.Duration.Seconds())

	status := "ok"
	if ev.IsError {
		status = "error"
	}
	o.m.RecordToolCall(ctx, ev.Tool, status)
}

func (o *MetricsObserver) OnStage(ev hooks.StageEvent) {
	o.m.StageTransitions.Add(context.Background(), 1, metric.WithAttributes(
		Attr("from", ev.From),
		Attr("to", ev.To),
	))
}

func (o *MetricsObserver) OnError(ev hooks.ErrorEvent) {
	o.m.ClientErrors.Add(context.Background(), 1, metric.WithAttributes(
		Attr("code", ev.Code),
		Attr("component", ev.Component),
	))
}

func (o *MetricsObserver) OnBargeIn(hooks.BargeInEvent) {
	o.m.BargeIns.Add(context.Background(), 1)
}
