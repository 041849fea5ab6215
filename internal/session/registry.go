package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmrtc/llmrtc/internal/history"
	"github.com/llmrtc/llmrtc/internal/hooks"
	"github.com/llmrtc/llmrtc/internal/transport"
	"github.com/llmrtc/llmrtc/internal/turn"
)

// Lookup failures surfaced to the reconnect flow. The server maps these
// onto the SESSION_NOT_FOUND and SESSION_EXPIRED wire codes.
var (
	ErrNotFound = errors.New("session: not found")
	ErrExpired  = errors.New("session: expired")
)

const defaultSweepInterval = time.Minute

// EngineFactory builds the turn engine for a new session. The registry
// calls it exactly once per Create, after the session's multiplexer and
// history exist, so the engine can hold both for its lifetime.
type EngineFactory func(id string, mux *transport.Mux, hist *history.Store) *turn.Engine

// Config configures a Registry.
type Config struct {
	// TTL is the idle threshold after which a session becomes evictable.
	// Zero or negative disables eviction entirely.
	TTL time.Duration

	// SweepInterval is how often Run scans for expired sessions.
	// Defaults to one minute.
	SweepInterval time.Duration

	// HistoryLimit bounds each session's history window. Zero or
	// negative means unbounded.
	HistoryLimit int

	// NewEngine builds the turn engine for each created session.
	NewEngine EngineFactory

	// Hooks receives connection lifecycle events. May be nil.
	Hooks *hooks.Bus

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Registry tracks live sessions by id. All methods are safe for
// concurrent use; the internal lock is held only across map operations,
// never across engine or transport shutdown.
type Registry struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry builds an empty registry. Run must be started separately
// for idle eviction to happen.
func NewRegistry(cfg Config) *Registry {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session bound to the given reliable channel and
// returns it. Returns nil after Close; callers should refuse the
// connection in that case.
func (r *Registry) Create(reliable transport.ReliableChannel, remoteAddr string) *Session {
	now := r.now()
	s := &Session{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		ProtocolVersion: transport.ProtocolVersion,
		mux:             transport.NewMux(reliable),
		hist:            history.New(r.cfg.HistoryLimit),
		now:             r.now,
		lastActivity:    now,
	}
	s.engine = r.cfg.NewEngine(s.ID, s.mux, s.hist)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.Close()
		return nil
	}
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.emit(hooks.ConnectionEvent{SessionID: s.ID, Connected: true, RemoteAddr: remoteAddr})
	r.log.Info("session created",
		"session_id", s.ID,
		"remote_addr", remoteAddr,
		"active_sessions", n)
	return s
}

// Get returns the session with the given id, or nil if it is not
// registered. It does not count as activity.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Reconnect rebinds an existing session onto a fresh reliable channel.
// The in-flight turn, if any, is cancelled; history and playbook state
// carry over untouched. The boolean reports whether any history survived
// to be recovered.
//
// Unknown ids return ErrNotFound. Sessions past the idle TTL that the
// sweeper has not collected yet are evicted here and return ErrExpired.
func (r *Registry) Reconnect(id string, reliable transport.ReliableChannel, remoteAddr string) (*Session, bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, false, ErrNotFound
	}
	if r.cfg.TTL > 0 && s.evictable(r.now(), r.cfg.TTL) {
		r.evict(s, "expired on reconnect")
		return nil, false, ErrExpired
	}

	s.Rebind(reliable, nil)
	recovered := s.hist.Len() > 0

	r.emit(hooks.ConnectionEvent{SessionID: s.ID, Connected: true, Recovered: true, RemoteAddr: remoteAddr})
	r.log.Info("session reconnected",
		"session_id", s.ID,
		"remote_addr", remoteAddr,
		"history_recovered", recovered)
	return s, recovered, nil
}

// Touch marks the session as active now and reports whether it exists.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.Touch()
	}
	return ok
}

// Abandon removes a session and shuts down its engine while leaving its
// transport channels untouched. Used when a freshly created session is
// superseded by a reconnect that adopted its connection.
func (r *Registry) Abandon(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.engine.Close()
	r.emit(hooks.ConnectionEvent{SessionID: s.ID})
	r.log.Info("session abandoned", "session_id", s.ID)
}

// Remove evicts a single session immediately, regardless of TTL or turn
// state. Used when a client closes cleanly.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.evict(s, "removed")
	return true
}

// EvictExpired sweeps once, closing every session that is idle past the
// TTL and has no turn running, and returns how many were evicted.
func (r *Registry) EvictExpired() int {
	if r.cfg.TTL <= 0 {
		return 0
	}
	now := r.now()

	r.mu.Lock()
	var expired []*Session
	for _, s := range r.sessions {
		if s.evictable(now, r.cfg.TTL) {
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.evict(s, "idle ttl")
	}
	return len(expired)
}

// Run sweeps for expired sessions on the configured interval until ctx
// is cancelled. Intended to run in the server's errgroup.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := r.EvictExpired(); n > 0 {
				r.log.Debug("idle sweep", "evicted", n)
			}
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close evicts every session and refuses further Creates.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
		r.emit(hooks.ConnectionEvent{SessionID: s.ID})
	}
	r.log.Info("session registry closed", "closed_sessions", len(all))
}

// evict removes the session from the map and shuts it down. Losing the
// race against a concurrent evict is fine; only the winner closes.
func (r *Registry) evict(s *Session, reason string) {
	r.mu.Lock()
	_, ok := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.Close()
	r.emit(hooks.ConnectionEvent{SessionID: s.ID})
	r.log.Info("session evicted",
		"session_id", s.ID,
		"reason", reason,
		"age", r.now().Sub(s.CreatedAt).Round(time.Second))
}

func (r *Registry) emit(ev hooks.ConnectionEvent) {
	if r.cfg.Hooks != nil {
		r.cfg.Hooks.Emit(ev)
	}
}
