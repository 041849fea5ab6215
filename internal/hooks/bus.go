package hooks

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// defaultQueueSize bounds the dispatch backlog. At one event per turn phase a
// session produces tens of events per minute; 1024 absorbs bursts from many
// sessions without observers ever back-pressuring the pipeline.
const defaultQueueSize = 1024

// Bus fans events out to registered observers from a single dispatch
// goroutine. Emit never blocks; when the queue is full the event is counted
// and dropped. Bus is safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	observers []Observer

	queue    chan Event
	done     chan struct{}
	finished chan struct{}
	closed   sync.Once
	dropped  atomic.Uint64
}

// NewBus creates a Bus and starts its dispatch goroutine. queueSize <= 0
// selects the default.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &Bus{
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Register adds an observer. Events emitted after Register returns are
// delivered to it; events already queued may or may not be.
func (b *Bus) Register(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Emit queues ev for delivery. It never blocks: after Close it is a no-op,
// and when the queue is full the event is dropped and counted.
func (b *Bus) Emit(ev Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, delivers what is already queued, and waits
// for the dispatch goroutine to exit. Safe to call more than once.
func (b *Bus) Close() {
	b.closed.Do(func() { close(b.done) })
	<-b.finished
}

func (b *Bus) dispatch() {
	defer close(b.finished)
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.queue:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	observers := b.observers
	b.mu.RUnlock()
	for _, o := range observers {
		safeNotify(o, ev)
	}
}

// safeNotify dispatches one event to one observer, converting panics into a
// log line so a broken observer cannot take down the bus.
func safeNotify(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("hook observer panicked", "event", eventName(ev), "panic", r)
		}
	}()
	switch e := ev.(type) {
	case ConnectionEvent:
		o.OnConnection(e)
	case TurnEvent:
		o.OnTurn(e)
	case ProviderEvent:
		o.OnProvider(e)
	case ToolCallEvent:
		o.OnToolCall(e)
	case StageEvent:
		o.OnStage(e)
	case ErrorEvent:
		o.OnError(e)
	case BargeInEvent:
		o.OnBargeIn(e)
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case ConnectionEvent:
		return "connection"
	case TurnEvent:
		return "turn"
	case ProviderEvent:
		return "provider"
	case ToolCallEvent:
		return "tool_call"
	case StageEvent:
		return "stage"
	case ErrorEvent:
		return "error"
	case BargeInEvent:
		return "barge_in"
	default:
		return "unknown"
	}
}
