// Package server exposes the voice agent over HTTP: a WebSocket endpoint
// speaking the wire protocol, plus health and metrics routes.
//
// Each accepted WebSocket gets its own executor goroutine that performs the
// handshake, dispatches inbound control messages, feeds media-channel audio
// through VAD, and supervises the heartbeat. Session state itself lives in
// the registry so it survives the connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/llmrtc/llmrtc/internal/health"
	"github.com/llmrtc/llmrtc/internal/session"
	"github.com/llmrtc/llmrtc/internal/transport"
	"github.com/llmrtc/llmrtc/internal/vad"
	"github.com/llmrtc/llmrtc/pkg/audio"
	providervad "github.com/llmrtc/llmrtc/pkg/provider/vad"
	"github.com/llmrtc/llmrtc/pkg/provider/vad/energy"
)

const (
	defaultAddr             = ":8080"
	defaultHeartbeatTimeout = 30 * time.Second
	defaultShutdownTimeout  = 15 * time.Second

	readHeaderTimeout = 10 * time.Second

	// maxInboundBytes bounds one inbound WebSocket frame. Base64 WAV
	// fallback utterances dominate; a minute of 16 kHz mono is under 3 MiB
	// encoded.
	maxInboundBytes = 16 << 20
)

// Config carries the transport-facing settings.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// AllowedOrigins is matched against the Origin header during the
	// WebSocket upgrade. Empty allows same-origin requests only.
	AllowedOrigins []string

	// HeartbeatTimeout closes a session's channels when no client message
	// arrives for this long. The session stays registered for reconnect.
	HeartbeatTimeout time.Duration

	// ShutdownTimeout bounds the HTTP drain on exit.
	ShutdownTimeout time.Duration

	// ICEServers are advertised to clients in the ready event.
	ICEServers []transport.ICEServer

	// OpusMedia decodes media-channel frames as Opus before VAD. Off means
	// frames arrive as raw 16-bit PCM.
	OpusMedia bool

	// VAD configures each session's utterance detector.
	VAD vad.Config
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.VAD.SampleRate == 0 {
		c.VAD.SampleRate = vad.DefaultSampleRate
	}
	if c.VAD.Channels == 0 {
		c.VAD.Channels = vad.DefaultChannels
	}
	return c
}

// MediaDecoder turns one compressed media-channel frame into interleaved
// 16-bit little-endian PCM. SampleRate and Channels describe the decoded
// output so the ingest path can convert it to the detector's format.
type MediaDecoder interface {
	Decode(frame []byte) ([]byte, error)
	SampleRate() int
	Channels() int
}

// Option customises a Server.
type Option func(*Server)

// WithMediaDecoder replaces the per-session media frame decoder created when
// OpusMedia is on. Defaults to the gopus Opus decoder.
func WithMediaDecoder(f func(channels int) (MediaDecoder, error)) Option {
	return func(s *Server) { s.newDecoder = f }
}

// WithMediaFactory enables peer media channels: offer messages create one
// through f and bind it to the session. Without a factory, offers are
// answered with WEBRTC_UNAVAILABLE and clients fall back to reliable audio.
func WithMediaFactory(f transport.MediaFactory) Option {
	return func(s *Server) { s.media = f }
}

// WithVADEngine replaces the frame-level detector backend. Defaults to the
// energy engine.
func WithVADEngine(e providervad.Engine) Option {
	return func(s *Server) { s.vadEngine = e }
}

// WithHealth mounts h's liveness and readiness routes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on GET /metrics, typically the Prometheus
// bridge.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMiddleware wraps the whole routing table, the WebSocket route
// included. The observe HTTP middleware rides here.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.middleware = mw }
}

// WithBackground adds fn to the run group alongside the listener and the
// registry sweeper. Archive flushers ride here.
func WithBackground(fn func(context.Context) error) Option {
	return func(s *Server) { s.bg = append(s.bg, fn) }
}

// WithLogger sets the base logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// Server ties the session registry to the outside world.
type Server struct {
	cfg        Config
	log        *slog.Logger
	registry   *session.Registry
	vadEngine  providervad.Engine
	media      transport.MediaFactory
	newDecoder func(channels int) (MediaDecoder, error)
	health     *health.Handler
	metrics    http.Handler
	middleware func(http.Handler) http.Handler
	bg         []func(context.Context) error
}

// New builds a Server around registry.
func New(cfg Config, registry *session.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg.withDefaults(),
		log:      slog.Default(),
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.vadEngine == nil {
		s.vadEngine = energy.New()
	}
	if s.newDecoder == nil {
		s.newDecoder = func(channels int) (MediaDecoder, error) {
			return audio.NewOpusDecoder(channels)
		}
	}
	return s
}

// Handler returns the routing table. Exposed separately from Run so tests
// can mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.middleware != nil {
		return s.middleware(mux)
	}
	return mux
}

// Run serves until ctx is cancelled, then drains HTTP connections and closes
// every live session. The run group carries the listener, the registry's
// idle sweeper, and any background tasks.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		s.log.Info("listening", "addr", s.cfg.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.registry.Run(gctx)
	})
	for _, fn := range s.bg {
		g.Go(func() error { return fn(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.registry.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleWS upgrades the connection, registers a session, and blocks in the
// executor until the connection dies or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxInboundBytes)

	ch := transport.NewWSChannel(r.Context(), conn)
	sess := s.registry.Create(ch, r.RemoteAddr)
	if sess == nil {
		// Registry already closed; shutting down.
		_ = ch.Close()
		return
	}

	ex := &executor{
		srv:        s,
		log:        s.log.With("session_id", sess.ID),
		remoteAddr: r.RemoteAddr,
		ch:         ch,
		sess:       sess,
	}
	ex.run(r.Context())
}
