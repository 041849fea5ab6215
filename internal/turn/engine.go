// Package turn drives the conversational pipeline for one session.
//
// The Engine turns each finished user utterance into a full turn: speech to
// text, a two-phase language model pass (a non-streaming tool loop, then a
// streaming reply), and sentence-by-sentence speech synthesis that plays
// while the reply is still being generated. At most one turn is active per
// engine; admitting a new utterance first cancels and fully retires the
// previous one. Barge-in is the same mechanism surfaced early: a speech
// start during the reply phase cancels the active turn, and the utterance
// that follows becomes the next one.
package turn

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llmrtc/llmrtc/internal/history"
	"github.com/llmrtc/llmrtc/internal/hooks"
	"github.com/llmrtc/llmrtc/internal/playbook"
	"github.com/llmrtc/llmrtc/internal/resilience"
	"github.com/llmrtc/llmrtc/internal/tools"
	"github.com/llmrtc/llmrtc/internal/transport"
	"github.com/llmrtc/llmrtc/pkg/provider/llm"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/provider/tts"
	"github.com/llmrtc/llmrtc/pkg/provider/vision"
	"github.com/llmrtc/llmrtc/pkg/types"
)

const (
	defaultMaxToolCallsPerTurn = 8
	defaultPhase1Timeout       = 30 * time.Second
	defaultSTTTimeout          = 15 * time.Second
	defaultLLMTimeout          = 60 * time.Second
	defaultTTSTimeout          = 30 * time.Second
	defaultVisionTimeout       = 20 * time.Second
	defaultMinFragment         = 24
	defaultSoftCap             = 240
	defaultSuppression         = 300 * time.Millisecond
	defaultTTSSampleRate       = 24000

	// fragBuffer is the TTS pump's queue depth: deep enough that the model
	// stream rarely blocks on synthesis, small enough to bound abandoned
	// work on cancellation.
	fragBuffer = 16
)

// Config tunes a session's turns. The zero value gets usable defaults.
type Config struct {
	// SystemPrompt and LLM drive model calls when no playbook is attached;
	// with a playbook, the active stage's profile wins.
	SystemPrompt string
	LLM          llm.Config

	// TTS is the synthesis configuration for reply audio.
	TTS tts.Config

	// MaxToolCallsPerTurn caps tool-phase iterations. Breaching the cap is
	// not an error: the engine forces a final reply call with tools
	// withheld.
	MaxToolCallsPerTurn int

	// Phase1Timeout bounds the whole tool loop's wall clock. STTTimeout,
	// LLMTimeout, TTSTimeout and VisionTimeout each bound one provider
	// operation.
	Phase1Timeout time.Duration
	STTTimeout    time.Duration
	LLMTimeout    time.Duration
	TTSTimeout    time.Duration
	VisionTimeout time.Duration

	// MinFragment and SoftCap shape reply segmentation for synthesis:
	// fragments end at a sentence boundary once MinFragment bytes long and
	// are force-flushed at SoftCap bytes.
	MinFragment int
	SoftCap     int

	// BargeInSuppression ignores speech starts for this long after a
	// ttsComplete, so residual playback cannot interrupt the next turn.
	BargeInSuppression time.Duration

	// Retry applies to every provider call.
	Retry resilience.RetryPolicy

	// STTName, LLMName, TTSName and VisionName identify the configured
	// backends in latency reports on the hooks bus.
	STTName    string
	LLMName    string
	TTSName    string
	VisionName string
}

func (c Config) withDefaults() Config {
	if c.MaxToolCallsPerTurn <= 0 {
		c.MaxToolCallsPerTurn = defaultMaxToolCallsPerTurn
	}
	if c.Phase1Timeout <= 0 {
		c.Phase1Timeout = defaultPhase1Timeout
	}
	if c.STTTimeout <= 0 {
		c.STTTimeout = defaultSTTTimeout
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = defaultLLMTimeout
	}
	if c.TTSTimeout <= 0 {
		c.TTSTimeout = defaultTTSTimeout
	}
	if c.VisionTimeout <= 0 {
		c.VisionTimeout = defaultVisionTimeout
	}
	if c.MinFragment <= 0 {
		c.MinFragment = defaultMinFragment
	}
	if c.SoftCap <= 0 {
		c.SoftCap = defaultSoftCap
	}
	if c.SoftCap < c.MinFragment {
		c.SoftCap = c.MinFragment
	}
	if c.BargeInSuppression <= 0 {
		c.BargeInSuppression = defaultSuppression
	}
	if c.TTS.Format == "" {
		c.TTS.Format = tts.FormatPCM
	}
	if c.TTS.SampleRate <= 0 {
		c.TTS.SampleRate = defaultTTSSampleRate
	}
	return c
}

// Engine runs turns for one session. Providers are shared across sessions;
// everything else on the engine is per session.
type Engine struct {
	sessionID string
	mux       *transport.Mux
	hist      *history.Store

	llm    llm.Provider
	tts    tts.Provider
	stt    stt.Provider
	vision vision.Provider

	registry *tools.Registry
	pb       *playbook.Engine
	bus      *hooks.Bus
	correct  func(string) string
	archiver Archiver
	gate     *bargeGate
	log      *slog.Logger
	cfg      Config

	mu      sync.Mutex
	gen     uint64
	active  *activeTurn
	pending []types.Attachment
	stage   playbook.State
	closed  bool

	wg sync.WaitGroup
}

// activeTurn tracks the lifecycle of one admitted turn.
type activeTurn struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}

	// interruptible is set once the turn enters its reply phase. Barge-in
	// cancels only interruptible turns; earlier phases are superseded by
	// the utterance that follows instead.
	interruptible atomic.Bool
}

// Exchange is one committed utterance of a turn, as handed to an [Archiver].
type Exchange struct {
	SessionID  string
	Generation uint64
	Role       string
	Text       string
	At         time.Time

	// Took is the latency from turn admission to reply completion and is
	// set only on assistant exchanges.
	Took time.Duration
}

// Archiver persists committed exchanges outside the conversation window.
// The engine calls Archive on the turn path, so implementations must not
// block.
type Archiver interface {
	Archive(Exchange)
}

// Option configures an Engine.
type Option func(*Engine)

// WithSTT enables voice turns with the given transcription backend.
func WithSTT(p stt.Provider) Option { return func(e *Engine) { e.stt = p } }

// WithVision enables attachment digestion with the given backend.
func WithVision(p vision.Provider) Option { return func(e *Engine) { e.vision = p } }

// WithTools offers the registry's tools to the model.
func WithTools(reg *tools.Registry) Option { return func(e *Engine) { e.registry = reg } }

// WithPlaybook overlays a stage machine on the session: every turn uses the
// current stage's prompt, tools and sampling config, and each completed
// turn is evaluated for stage transitions.
func WithPlaybook(pb *playbook.Engine) Option { return func(e *Engine) { e.pb = pb } }

// WithHooks publishes turn, provider, tool, stage and error lifecycle
// events to bus.
func WithHooks(bus *hooks.Bus) Option { return func(e *Engine) { e.bus = bus } }

// WithCorrector post-processes final transcripts before they reach the
// model, e.g. for domain vocabulary correction.
func WithCorrector(fn func(string) string) Option { return func(e *Engine) { e.correct = fn } }

// WithArchiver mirrors every committed user and assistant text to a. The
// engine only ever writes; it never reads archived exchanges back.
func WithArchiver(a Archiver) Option { return func(e *Engine) { e.archiver = a } }

// WithConfig replaces the default tuning knobs.
func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option { return func(e *Engine) { e.log = log } }

// New creates the engine for one session. The multiplexer and history store
// are required. Without an LLM backend every turn fails with a provider
// error; without a TTS backend replies stay text only.
func New(sessionID string, mux *transport.Mux, hist *history.Store, llmProvider llm.Provider, ttsProvider tts.Provider, opts ...Option) *Engine {
	e := &Engine{
		sessionID: sessionID,
		mux:       mux,
		hist:      hist,
		llm:       llmProvider,
		tts:       ttsProvider,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()
	e.gate = newBargeGate(e.cfg.BargeInSuppression)
	if e.pb != nil {
		e.stage = e.pb.InitialState()
	}
	return e
}

// turnInput is what a turn starts from: raw utterance audio or final text,
// plus the attachments drained at admission.
type turnInput struct {
	text        string
	audio       *stt.Audio
	attachments []types.Attachment
}

// HandleUtterance admits one voice-detected utterance as a new turn and
// returns its generation, or zero when the engine is closed. Any active
// turn is cancelled and fully retired first.
//
// ctx must outlive the turn; the session's context is the usual choice.
// Cancelling it cancels the turn.
func (e *Engine) HandleUtterance(ctx context.Context, audio stt.Audio) uint64 {
	return e.admit(ctx, turnInput{audio: &audio})
}

// ExecuteTurn admits already-final text as a new turn, skipping speech
// recognition. No transcript events are emitted; everything else matches
// HandleUtterance.
func (e *Engine) ExecuteTurn(ctx context.Context, text string) uint64 {
	return e.admit(ctx, turnInput{text: text})
}

// EnqueueAttachments queues vision attachments; the next admitted turn
// drains the queue into its user message.
func (e *Engine) EnqueueAttachments(atts ...types.Attachment) {
	if len(atts) == 0 {
		return
	}
	e.mu.Lock()
	e.pending = append(e.pending, atts...)
	e.mu.Unlock()
}

func (e *Engine) admit(ctx context.Context, in turnInput) uint64 {
	e.mu.Lock()
	for e.active != nil {
		prev := e.active
		e.mu.Unlock()
		prev.cancel()
		<-prev.done
		e.mu.Lock()
	}
	if e.closed || ctx.Err() != nil {
		e.mu.Unlock()
		return 0
	}
	e.gen++
	gen := e.gen
	in.attachments = e.pending
	e.pending = nil

	tctx, cancel := context.WithCancel(ctx)
	t := &activeTurn{gen: gen, cancel: cancel, done: make(chan struct{})}
	e.active = t
	e.mu.Unlock()

	e.mux.BeginTurn(gen)
	e.emit(hooks.TurnEvent{SessionID: e.sessionID, Generation: gen, Began: true})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(tctx, t, in)
	}()
	return gen
}

// retire clears the active slot, publishes the turn-end edge, and releases
// anyone waiting for the turn in admit or Close.
func (e *Engine) retire(t *activeTurn, outcome hooks.TurnOutcome, began time.Time) {
	e.mu.Lock()
	if e.active == t {
		e.active = nil
	}
	e.mu.Unlock()
	e.emit(hooks.TurnEvent{
		SessionID:  e.sessionID,
		Generation: t.gen,
		Outcome:    outcome,
		Duration:   time.Since(began),
	})
	close(t.done)
}

// Interrupt reports a detected speech start. When the active turn has
// entered its reply phase and the suppression window is closed, the turn is
// cancelled and Interrupt returns true. Speech during transcription or the
// tool phase does not cancel anything: the utterance that follows
// supersedes the turn on admission instead.
func (e *Engine) Interrupt() bool {
	e.mu.Lock()
	t := e.active
	e.mu.Unlock()
	if t == nil || !t.interruptible.Load() || !e.gate.allow() {
		return false
	}
	t.cancel()
	e.emit(hooks.BargeInEvent{SessionID: e.sessionID, Generation: t.gen})
	return true
}

// Stage returns the current playbook stage id, or "" when no playbook is
// attached.
func (e *Engine) Stage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage.CurrentStage
}

// Active reports whether a turn is currently running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

// CancelActive cancels the running turn, if any, bypassing the barge-in
// gating. Used when the session's transport is torn down or rebound.
func (e *Engine) CancelActive() {
	e.mu.Lock()
	t := e.active
	e.mu.Unlock()
	if t != nil {
		t.cancel()
	}
}

// Close cancels the active turn, refuses new admissions, and waits for all
// turn goroutines to retire. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	t := e.active
	e.mu.Unlock()
	if t != nil {
		t.cancel()
	}
	e.wg.Wait()
}

// Wait blocks until every spawned turn goroutine has exited. Tests use it
// to synchronize on turn completion.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) emit(ev hooks.Event) {
	if e.bus != nil {
		e.bus.Emit(ev)
	}
}
