// Command llmrtc is the main entry point for the LLMRTC voice agent server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmrtc/llmrtc/internal/archive"
	"github.com/llmrtc/llmrtc/internal/config"
	"github.com/llmrtc/llmrtc/internal/health"
	"github.com/llmrtc/llmrtc/internal/history"
	"github.com/llmrtc/llmrtc/internal/hooks"
	"github.com/llmrtc/llmrtc/internal/observe"
	"github.com/llmrtc/llmrtc/internal/playbook"
	"github.com/llmrtc/llmrtc/internal/resilience"
	"github.com/llmrtc/llmrtc/internal/server"
	"github.com/llmrtc/llmrtc/internal/session"
	"github.com/llmrtc/llmrtc/internal/tools"
	"github.com/llmrtc/llmrtc/internal/transcript"
	"github.com/llmrtc/llmrtc/internal/transcript/phonetic"
	"github.com/llmrtc/llmrtc/internal/transport"
	"github.com/llmrtc/llmrtc/internal/turn"
	"github.com/llmrtc/llmrtc/internal/vad"
	"github.com/llmrtc/llmrtc/pkg/provider/llm"
	"github.com/llmrtc/llmrtc/pkg/provider/llm/anyllm"
	oaillm "github.com/llmrtc/llmrtc/pkg/provider/llm/openai"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/provider/stt/deepgram"
	"github.com/llmrtc/llmrtc/pkg/provider/stt/whisper"
	"github.com/llmrtc/llmrtc/pkg/provider/tts"
	"github.com/llmrtc/llmrtc/pkg/provider/tts/coqui"
	"github.com/llmrtc/llmrtc/pkg/provider/tts/elevenlabs"
	providervad "github.com/llmrtc/llmrtc/pkg/provider/vad"
	"github.com/llmrtc/llmrtc/pkg/provider/vad/energy"
	"github.com/llmrtc/llmrtc/pkg/provider/vision"
	oavision "github.com/llmrtc/llmrtc/pkg/provider/vision/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchConfig := flag.Bool("watch", false, "poll the config file and hot-reload the safe subset of changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "llmrtc: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "llmrtc: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("llmrtc starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "llmrtc",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	bus := hooks.NewBus(0)
	bus.Register(hooks.NewLogObserver(logger))
	bus.Register(observe.NewMetricsObserver(metrics))

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── MCP tools (optional) ──────────────────────────────────────────────────
	toolReg := tools.NewRegistry()
	if len(cfg.MCP.Servers) > 0 {
		importer := tools.NewMCPImporter()
		defer func() {
			if err := importer.Close(); err != nil {
				slog.Warn("mcp importer close error", "err", err)
			}
		}()
		for _, mcpSrv := range cfg.MCP.Servers {
			count, err := importer.Import(ctx, toolReg, tools.MCPServerConfig{
				Name:      mcpSrv.Name,
				Transport: mcpSrv.Transport,
				Command:   mcpSrv.Command,
				URL:       mcpSrv.URL,
				Env:       mcpSrv.Env,
			})
			if err != nil {
				slog.Error("failed to import MCP tools", "server", mcpSrv.Name, "err", err)
				return 1
			}
			slog.Info("mcp tools imported", "server", mcpSrv.Name, "tools", count)
		}
	}

	// ── Playbook (optional) ───────────────────────────────────────────────────
	var stages *playbook.Engine
	if cfg.Playbook.Path != "" {
		pb, err := playbook.LoadFile(cfg.Playbook.Path)
		if err != nil {
			slog.Error("failed to load playbook", "path", cfg.Playbook.Path, "err", err)
			return 1
		}
		var pbOpts []playbook.Option
		if len(pb.Intents) > 0 {
			pbOpts = append(pbOpts, playbook.WithClassifier(playbook.NewRuleClassifier(pb.Intents)))
		}
		stages, err = playbook.NewEngine(pb, pbOpts...)
		if err != nil {
			slog.Error("failed to build playbook engine", "err", err)
			return 1
		}
		slog.Info("playbook loaded", "id", pb.ID, "stages", len(pb.Stages), "transitions", len(pb.Transitions))
	}

	// ── Transcript correction ─────────────────────────────────────────────────
	// The corrector sits behind an atomic pointer so a config reload can swap
	// it without touching live sessions. No vocabulary means no correction.
	var corrector atomic.Pointer[transcript.Corrector]
	if c := buildCorrector(cfg.Transcript); c != nil {
		corrector.Store(c)
		slog.Info("transcript correction active", "terms", len(cfg.Transcript.Vocabulary))
	}
	correct := func(text string) string {
		if c := corrector.Load(); c != nil {
			return c.Correct(text)
		}
		return text
	}

	// ── Transcript archive (optional) ─────────────────────────────────────────
	var archiveWriter *archive.Writer
	if cfg.Archive.PostgresDSN != "" {
		archiveWriter, err = archive.New(ctx, cfg.Archive.PostgresDSN, archive.Config{
			FlushInterval: cfg.Archive.FlushInterval,
			BatchSize:     cfg.Archive.BatchSize,
			QueueSize:     cfg.Archive.QueueSize,
			Logger:        logger,
		})
		if err != nil {
			slog.Error("failed to open transcript archive", "err", err)
			return 1
		}
		defer archiveWriter.Close()
		slog.Info("transcript archive connected")
	}

	// ── Turn engine ───────────────────────────────────────────────────────────
	// The base system prompt is read when a session is created, so a hot
	// reload affects new sessions without rewriting running conversations.
	var systemPrompt atomic.Value
	systemPrompt.Store(cfg.Turn.SystemPrompt)

	turnCfg := turn.Config{
		LLM: llm.Config{
			Model:       providers.llmModel,
			Temperature: cfg.Turn.Temperature,
			TopP:        cfg.Turn.TopP,
			MaxTokens:   cfg.Turn.MaxTokens,
		},
		TTS: tts.Config{
			Voice:      cfg.Turn.Voice.Voice,
			Format:     cfg.Turn.Voice.Format,
			SampleRate: cfg.Turn.Voice.SampleRate,
			Speed:      cfg.Turn.Voice.Speed,
		},
		MaxToolCallsPerTurn: cfg.Turn.MaxToolCalls,
		Phase1Timeout:       cfg.Turn.Phase1Timeout,
		STTTimeout:          cfg.Turn.STTTimeout,
		LLMTimeout:          cfg.Turn.LLMTimeout,
		TTSTimeout:          cfg.Turn.TTSTimeout,
		VisionTimeout:       cfg.Turn.VisionTimeout,
		MinFragment:         cfg.Turn.MinFragment,
		SoftCap:             cfg.Turn.SoftCap,
		BargeInSuppression:  cfg.Turn.BargeInSuppression,
		Retry: resilience.RetryPolicy{
			MaxAttempts: cfg.Resilience.Retry.MaxAttempts,
			BaseDelay:   cfg.Resilience.Retry.BaseDelay,
			Multiplier:  cfg.Resilience.Retry.Multiplier,
			MaxDelay:    cfg.Resilience.Retry.MaxDelay,
		},
		LLMName:    providers.llmName,
		STTName:    providers.sttName,
		TTSName:    providers.ttsName,
		VisionName: providers.visionName,
	}

	engineOpts := []turn.Option{
		turn.WithHooks(bus),
		turn.WithLogger(logger),
		turn.WithTools(toolReg),
		turn.WithCorrector(correct),
	}
	if providers.stt != nil {
		engineOpts = append(engineOpts, turn.WithSTT(providers.stt))
	}
	if providers.vision != nil {
		engineOpts = append(engineOpts, turn.WithVision(providers.vision))
	}
	if stages != nil {
		engineOpts = append(engineOpts, turn.WithPlaybook(stages))
	}
	if archiveWriter != nil {
		engineOpts = append(engineOpts, turn.WithArchiver(archiveWriter))
	}

	newEngine := func(id string, mux *transport.Mux, hist *history.Store) *turn.Engine {
		tc := turnCfg
		tc.SystemPrompt, _ = systemPrompt.Load().(string)
		opts := append([]turn.Option{turn.WithConfig(tc)}, engineOpts...)
		return turn.New(id, mux, hist, providers.llm, providers.tts, opts...)
	}

	// ── Session registry ──────────────────────────────────────────────────────
	sessions := session.NewRegistry(session.Config{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		HistoryLimit:  cfg.Session.HistoryLimit,
		NewEngine:     newEngine,
		Hooks:         bus,
		Logger:        logger,
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.SessionLoad(cfg.Session.MaxSessions, sessions.Len),
	}
	if archiveWriter != nil {
		checkers = append(checkers, health.Pinger("archive", archiveWriter.Ping))
	}

	iceServers := make([]transport.ICEServer, 0, len(cfg.Server.ICEServers))
	for _, ice := range cfg.Server.ICEServers {
		iceServers = append(iceServers, transport.ICEServer{
			URLs:       ice.URLs,
			Username:   ice.Username,
			Credential: ice.Credential,
		})
	}

	srvCfg := server.Config{
		Addr:             cfg.Server.ListenAddr,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		HeartbeatTimeout: cfg.Server.HeartbeatTimeout,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		ICEServers:       iceServers,
		OpusMedia:        cfg.Server.OpusMedia,
		VAD: vad.Config{
			SampleRate:       cfg.VAD.SampleRate,
			Channels:         cfg.VAD.Channels,
			SpeechThreshold:  cfg.VAD.SpeechThreshold,
			SilenceThreshold: cfg.VAD.SilenceThreshold,
			MinSpeechMs:      cfg.VAD.MinSpeechMs,
			MinSilenceMs:     cfg.VAD.MinSilenceMs,
			PrerollMs:        cfg.VAD.PrerollMs,
			MaxUtteranceMs:   cfg.VAD.MaxUtteranceMs,
		},
	}

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMiddleware(observe.Middleware(metrics)),
		server.WithMetricsHandler(promhttp.Handler()),
		server.WithHealth(health.New(checkers...)),
	}
	if providers.vad != nil {
		srvOpts = append(srvOpts, server.WithVADEngine(providers.vad))
	}
	if archiveWriter != nil {
		srvOpts = append(srvOpts, server.WithBackground(archiveWriter.Run))
	}

	srv := server.New(srvCfg, sessions, srvOpts...)

	// ── Hot reload (optional) ─────────────────────────────────────────────────
	if *watchConfig {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), new, logLevel, &corrector, &systemPrompt)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
			slog.Info("config watcher active", "path", *configPath)
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	bus.Close()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ────────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with LLMRTC. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":    {"deepgram", "whisper", "whisper-native"},
	"tts":    {"elevenlabs", "coqui"},
	"vision": {"openai"},
	"vad":    {"energy"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native client, which carries the full tool-calling and
	// streaming surface the turn engine depends on.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral and groq all ride the any-llm
	// bridge and share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kws := optStrings(entry.Options, "keywords"); len(kws) > 0 {
			opts = append(opts, deepgram.WithKeywords(kws))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		stability, stOK := optFloat(entry.Options, "stability")
		similarity, simOK := optFloat(entry.Options, "similarity_boost")
		if stOK && simOK {
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Vision ────────────────────────────────────────────────────────────────

	reg.RegisterVision("openai", func(entry config.ProviderEntry) (vision.Provider, error) {
		var opts []oavision.Option
		if entry.Model != "" {
			opts = append(opts, oavision.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oavision.WithBaseURL(entry.BaseURL))
		}
		if mt, ok := optFloat(entry.Options, "max_tokens"); ok && mt > 0 {
			opts = append(opts, oavision.WithMaxTokens(int(mt)))
		}
		return oavision.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (providervad.Engine, error) {
		return energy.New(), nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// pipeline is the provider set the server runs on. LLM, STT and TTS are
// wrapped in fallback chains; the remaining kinds are single providers.
type pipeline struct {
	llm      llm.Provider
	llmName  string
	llmModel string

	stt     stt.Provider
	sttName string

	tts     tts.Provider
	ttsName string

	vision     vision.Provider
	visionName string

	vad providervad.Engine
}

// buildProviders instantiates all providers named in cfg using the registry.
// The first entry of each LLM/STT/TTS list becomes the chain primary and the
// rest become ordered fallbacks behind per-provider circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*pipeline, error) {
	ps := &pipeline{}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.CircuitBreaker.MaxFailures,
			ResetTimeout: cfg.Resilience.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  cfg.Resilience.CircuitBreaker.HalfOpenMax,
		},
	}

	var llmChain *resilience.LLMFallback
	for _, entry := range cfg.Providers.LLM {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		if llmChain == nil {
			llmChain = resilience.NewLLMFallback(p, entry.Name, fbCfg)
			ps.llm = llmChain
			ps.llmName = entry.Name
			ps.llmModel = entry.Model
			slog.Info("provider created", "kind", "llm", "name", entry.Name)
		} else {
			llmChain.AddFallback(entry.Name, p)
			slog.Info("fallback provider created", "kind", "llm", "name", entry.Name)
		}
	}

	var sttChain *resilience.STTFallback
	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateSTT(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "stt", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		if sttChain == nil {
			sttChain = resilience.NewSTTFallback(p, entry.Name, fbCfg)
			ps.stt = sttChain
			ps.sttName = entry.Name
			slog.Info("provider created", "kind", "stt", "name", entry.Name)
		} else {
			sttChain.AddFallback(entry.Name, p)
			slog.Info("fallback provider created", "kind", "stt", "name", entry.Name)
		}
	}

	var ttsChain *resilience.TTSFallback
	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		if ttsChain == nil {
			ttsChain = resilience.NewTTSFallback(p, entry.Name, fbCfg)
			ps.tts = ttsChain
			ps.ttsName = entry.Name
			slog.Info("provider created", "kind", "tts", "name", entry.Name)
		} else {
			ttsChain.AddFallback(entry.Name, p)
			slog.Info("fallback provider created", "kind", "tts", "name", entry.Name)
		}
	}

	if name := cfg.Providers.Vision.Name; name != "" {
		p, err := reg.CreateVision(cfg.Providers.Vision)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "vision", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vision provider %q: %w", name, err)
		} else {
			ps.vision = p
			ps.visionName = name
			slog.Info("provider created", "kind", "vision", "name", name)
		}
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "vad", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			ps.vad = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        LLMRTC — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProviderChain("LLM", cfg.Providers.LLM)
	printProviderChain("STT", cfg.Providers.STT)
	printProviderChain("TTS", cfg.Providers.TTS)
	printProvider("Vision", cfg.Providers.Vision.Name, cfg.Providers.Vision.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	if cfg.Playbook.Path != "" {
		printValue("Playbook", cfg.Playbook.Path)
	} else {
		printValue("Playbook", "(disabled)")
	}
	if cfg.Archive.PostgresDSN != "" {
		printValue("Archive", "postgres")
	} else {
		printValue("Archive", "(disabled)")
	}
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

// printProviderChain prints the primary entry of a provider chain plus a
// fallback count, e.g. "openai / gpt-4o +2".
func printProviderChain(kind string, entries []config.ProviderEntry) {
	if len(entries) == 0 {
		printProvider(kind, "", "")
		return
	}
	value := entries[0].Name
	if entries[0].Model != "" {
		value += " / " + entries[0].Model
	}
	if len(entries) > 1 {
		value += fmt.Sprintf(" +%d", len(entries)-1)
	}
	printValue(kind, value)
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Hot reload ─────────────────────────────────────────────────────────────────

// applyReload applies the hot-reloadable subset of a config change. Anything
// the diff does not track needs a restart and is deliberately ignored here.
func applyReload(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, corrector *atomic.Pointer[transcript.Corrector], prompt *atomic.Value) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranscriptChanged {
		corrector.Store(buildCorrector(cfg.Transcript))
		slog.Info("transcript corrector rebuilt", "terms", len(cfg.Transcript.Vocabulary))
	}
	if d.SystemPromptChanged {
		prompt.Store(cfg.Turn.SystemPrompt)
		slog.Info("system prompt updated", "applies_to", "new sessions")
	}
}

// buildCorrector compiles the vocabulary corrector, or returns nil when no
// terms are configured.
func buildCorrector(tc config.TranscriptConfig) *transcript.Corrector {
	if len(tc.Vocabulary) == 0 {
		return nil
	}
	var opts []phonetic.Option
	if tc.PhoneticThreshold > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(tc.PhoneticThreshold))
	}
	if tc.FuzzyThreshold > 0 {
		opts = append(opts, phonetic.WithFuzzyThreshold(tc.FuzzyThreshold))
	}
	return transcript.New(tc.Vocabulary, transcript.WithMatcher(phonetic.New(opts...)))
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger with a swappable level so the config
// watcher can raise or lower verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optStrings extracts a list of strings from a provider Options map. YAML
// decodes sequences as []any; non-string elements are dropped.
func optStrings(opts map[string]any, key string) []string {
	if opts == nil {
		return nil
	}
	list, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// optFloat extracts a numeric value from a provider Options map. YAML decodes
// numbers as int or float64 depending on their spelling, so both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
