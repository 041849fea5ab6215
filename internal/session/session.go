// Package session owns the live session registry: creation, lookup,
// reconnect rebinding and idle eviction.
//
// A session outlives its transport. When the client's channels die the
// multiplexer goes stale but the Session itself stays registered, keeping
// its history and playbook state, until either the client reconnects or
// the idle TTL passes. That separation is what makes reconnect recovery
// possible at all.
package session

import (
	"sync"
	"time"

	"github.com/llmrtc/llmrtc/internal/history"
	"github.com/llmrtc/llmrtc/internal/transport"
	"github.com/llmrtc/llmrtc/internal/turn"
)

// Session is one client conversation: a transport multiplexer, a bounded
// history window and a turn engine. Sessions are created and destroyed by
// the Registry; everything else reaches one through registry lookups.
type Session struct {
	// ID is the opaque registry key, sent to the client in ready and
	// reconnect-ack events.
	ID string

	// CreatedAt is when the session entered the registry.
	CreatedAt time.Time

	// ProtocolVersion is the wire protocol version announced at ready.
	ProtocolVersion int

	mux    *transport.Mux
	hist   *history.Store
	engine *turn.Engine

	now func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

// Mux returns the session's transport multiplexer. The Mux pointer is
// stable for the session's lifetime; reconnects swap the channels inside
// it, so holding the returned value across a rebind is safe.
func (s *Session) Mux() *transport.Mux { return s.mux }

// History returns the session's conversation window.
func (s *Session) History() *history.Store { return s.hist }

// Engine returns the session's turn engine.
func (s *Session) Engine() *turn.Engine { return s.engine }

// Touch stamps the session as active now. Every inbound client message
// counts as activity, including pings.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Rebind cancels any in-flight turn and swaps the multiplexer onto fresh
// channels. Cancellation must come first so no event for the old
// conversation leaks onto the new connection.
func (s *Session) Rebind(reliable transport.ReliableChannel, media transport.MediaChannel) {
	s.engine.CancelActive()
	s.mux.Rebind(reliable, media)
	s.Touch()
}

// Close shuts down the engine, then the transport. The session must not
// be used afterwards.
func (s *Session) Close() {
	s.engine.Close()
	_ = s.mux.Close()
}

func (s *Session) idle(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// evictable reports whether the session may be removed: idle for at least
// the TTL and no turn running. An active turn always defers eviction, no
// matter how old the last client message is.
func (s *Session) evictable(now time.Time, ttl time.Duration) bool {
	return s.idle(now) >= ttl && !s.engine.Active()
}
