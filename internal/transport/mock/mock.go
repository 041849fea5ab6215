// Package mock provides an in-memory ReliableChannel for tests of components
// that sit above the transport layer.
package mock

import (
	"encoding/json"
	"sync"

	"github.com/llmrtc/llmrtc/internal/transport"
)

// Reliable is a recording in-memory [transport.ReliableChannel]. Tests push
// inbound payloads with Push and inspect outbound traffic with Sent or Kinds.
type Reliable struct {
	mu   sync.Mutex
	sent [][]byte

	in   chan []byte
	done chan struct{}
	once sync.Once

	// SendErr, when set, is returned by every subsequent Send.
	SendErr error
}

var _ transport.ReliableChannel = (*Reliable)(nil)

// NewReliable returns an open mock channel with a buffered inbound queue.
func NewReliable() *Reliable {
	return &Reliable{
		in:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// Send records the payload.
func (r *Reliable) Send(payload []byte) error {
	select {
	case <-r.done:
		return transport.ErrChannelClosed
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.sent = append(r.sent, cp)
	return nil
}

// Inbound returns the queue fed by Push.
func (r *Reliable) Inbound() <-chan []byte { return r.in }

// Done is closed by Close.
func (r *Reliable) Done() <-chan struct{} { return r.done }

// Close marks the channel dead. Idempotent.
func (r *Reliable) Close() error {
	r.once.Do(func() {
		close(r.done)
		close(r.in)
	})
	return nil
}

// Push injects one inbound payload as the peer would. Pushes after Close are
// discarded.
func (r *Reliable) Push(payload []byte) {
	select {
	case <-r.done:
	default:
		r.in <- payload
	}
}

// PushJSON marshals v and injects it as one inbound payload.
func (r *Reliable) PushJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Push(data)
	return nil
}

// Sent returns a copy of all recorded outbound payloads.
func (r *Reliable) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.sent))
	copy(out, r.sent)
	return out
}

// Kinds returns the wire type tag of every recorded outbound event, in send
// order. Payloads that do not decode are reported as "?".
func (r *Reliable) Kinds() []transport.EventType {
	sent := r.Sent()
	kinds := make([]transport.EventType, 0, len(sent))
	for _, payload := range sent {
		var env transport.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			kinds = append(kinds, transport.EventType("?"))
			continue
		}
		kinds = append(kinds, env.Type)
	}
	return kinds
}

// Reset clears all recorded traffic.
func (r *Reliable) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.SendErr = nil
}
