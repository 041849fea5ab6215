package transport

import (
	"fmt"
	"log/slog"
	"sync"
)

// Mux is the per-session transport multiplexer. It owns the session's current
// reliable channel and optional media channel, enforces per-channel FIFO by
// funneling every write through one entry point, and drops late events from
// superseded turn generations.
//
// A Mux outlives its channels: reconnect rebinds fresh channels onto the same
// Mux while the session (and any in-flight turn teardown) keeps a stable
// handle.
type Mux struct {
	mu       sync.Mutex
	reliable ReliableChannel
	media    MediaChannel
	gen      uint64
	dropped  uint64

	log *slog.Logger
}

// MuxOption configures a Mux.
type MuxOption func(*Mux)

// WithLogger sets the logger used for dropped-event and send-failure notes.
func WithLogger(log *slog.Logger) MuxOption {
	return func(m *Mux) {
		m.log = log
	}
}

// WithMedia binds an initial media channel.
func WithMedia(mc MediaChannel) MuxOption {
	return func(m *Mux) {
		m.media = mc
	}
}

// NewMux returns a multiplexer bound to the given reliable channel.
func NewMux(reliable ReliableChannel, opts ...MuxOption) *Mux {
	m := &Mux{
		reliable: reliable,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Reliable returns the currently bound reliable channel.
func (m *Mux) Reliable() ReliableChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reliable
}

// Media returns the currently bound media channel, or nil.
func (m *Mux) Media() MediaChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.media
}

// BindMedia installs the media channel once the peer session is negotiated.
// A previously bound channel is closed.
func (m *Mux) BindMedia(mc MediaChannel) {
	m.mu.Lock()
	old := m.media
	m.media = mc
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// Rebind swaps in fresh channels after a reconnect, closing whatever was
// bound before. media may be nil; the client renegotiates it separately.
func (m *Mux) Rebind(reliable ReliableChannel, media MediaChannel) {
	m.mu.Lock()
	oldReliable := m.reliable
	oldMedia := m.media
	m.reliable = reliable
	m.media = media
	m.mu.Unlock()

	if oldReliable != nil {
		_ = oldReliable.Close()
	}
	if oldMedia != nil {
		_ = oldMedia.Close()
	}
}

// BeginTurn advances the generation gate. Events tagged with an older
// generation are dropped from here on.
func (m *Mux) BeginTurn(gen uint64) {
	m.mu.Lock()
	if gen > m.gen {
		m.gen = gen
	}
	m.mu.Unlock()
}

// Generation returns the currently admitted turn generation.
func (m *Mux) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Dropped returns how many late-generation events were discarded.
func (m *Mux) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Send delivers a session-scope event on the reliable channel.
func (m *Mux) Send(ev Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	ch := m.Reliable()
	if ch == nil {
		return ErrChannelClosed
	}
	if err := ch.Send(payload); err != nil {
		return fmt.Errorf("transport: send %s: %w", ev.Kind(), err)
	}
	return nil
}

// SendError delivers an error event with the given code and message.
func (m *Mux) SendError(code Code, message string) error {
	return m.Send(NewErrorEvent(code, message))
}

// SendTurn delivers a turn-scope event, silently discarding it when gen is no
// longer the admitted generation. Barge-in advances the gate, so stragglers
// from the cancelled turn cannot interleave with the new turn's events.
func (m *Mux) SendTurn(gen uint64, ev Event) error {
	m.mu.Lock()
	stale := gen != m.gen
	if stale {
		m.dropped++
	}
	m.mu.Unlock()
	if stale {
		m.log.Debug("dropping late turn event", "event", ev.Kind(), "generation", gen)
		return nil
	}
	return m.Send(ev)
}

// DeliveryMode reports which channel will carry TTS audio right now.
func (m *Mux) DeliveryMode() DeliveryMode {
	if m.Media() != nil {
		return DeliveryMedia
	}
	return DeliveryReliable
}

// SendTTSAudio routes one synthesized audio chunk: raw frames on the media
// channel when one is bound, otherwise a base64 tts-chunk event on the
// reliable channel. Late generations are discarded like any turn event.
func (m *Mux) SendTTSAudio(gen uint64, format string, sampleRate int, data []byte) error {
	m.mu.Lock()
	stale := gen != m.gen
	if stale {
		m.dropped++
	}
	media := m.media
	m.mu.Unlock()
	if stale {
		return nil
	}
	if media != nil {
		return media.SendAudio(data)
	}
	return m.SendTurn(gen, NewTTSChunkEvent(format, sampleRate, data))
}

// Close tears down both channels. The session stays alive; reconnect rebinds.
func (m *Mux) Close() error {
	m.mu.Lock()
	reliable := m.reliable
	media := m.media
	m.mu.Unlock()

	if media != nil {
		_ = media.Close()
	}
	if reliable != nil {
		return reliable.Close()
	}
	return nil
}
