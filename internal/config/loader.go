package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/llmrtc/llmrtc/internal/tools"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":    {"deepgram", "whisper", "whisper-native"},
	"tts":    {"elevenlabs", "coqui"},
	"vision": {"openai"},
	"vad":    {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider chains. Every entry needs a name; unknown names only warn so
	// third-party factories registered by the embedding program still work.
	errs = append(errs, validateChain("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateChain("stt", cfg.Providers.STT)...)
	errs = append(errs, validateChain("tts", cfg.Providers.TTS)...)
	validateProviderName("vision", cfg.Providers.Vision.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Provider availability warnings
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("no LLM provider configured; sessions will not be able to generate replies")
	}
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT provider configured; voice input will be rejected, text turns still work")
	}
	if len(cfg.Providers.TTS) == 0 {
		slog.Warn("no TTS provider configured; replies will be delivered as text only")
	}

	// Turn tuning
	if cfg.Turn.Temperature < 0 || cfg.Turn.Temperature > 2 {
		errs = append(errs, fmt.Errorf("turn.temperature %.2f is out of range [0, 2]", cfg.Turn.Temperature))
	}
	if cfg.Turn.TopP != 0 && (cfg.Turn.TopP <= 0 || cfg.Turn.TopP > 1) {
		errs = append(errs, fmt.Errorf("turn.top_p %.2f is out of range (0, 1]", cfg.Turn.TopP))
	}
	if cfg.Turn.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("turn.max_tokens %d is negative", cfg.Turn.MaxTokens))
	}
	if cfg.Turn.Voice.Speed != 0 {
		if cfg.Turn.Voice.Speed < 0.5 || cfg.Turn.Voice.Speed > 2.0 {
			errs = append(errs, fmt.Errorf("turn.voice.speed %.2f is out of range [0.5, 2.0]", cfg.Turn.Voice.Speed))
		}
	}
	if cfg.Turn.Voice.Format != "" && !cfg.Turn.Voice.Format.IsValid() {
		errs = append(errs, fmt.Errorf("turn.voice.format %q is invalid; valid values: pcm, mp3, ogg, wav", cfg.Turn.Voice.Format))
	}
	if cfg.Turn.MinFragment > 0 && cfg.Turn.SoftCap > 0 && cfg.Turn.MinFragment > cfg.Turn.SoftCap {
		errs = append(errs, fmt.Errorf("turn.min_fragment %d exceeds turn.soft_cap %d", cfg.Turn.MinFragment, cfg.Turn.SoftCap))
	}

	// VAD hysteresis
	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f is out of range [0, 1]", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceThreshold < 0 || cfg.VAD.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f is out of range [0, 1]", cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.SpeechThreshold != 0 && cfg.VAD.SilenceThreshold != 0 && cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f exceeds vad.speech_threshold %.2f; the hysteresis band is inverted", cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}

	// Transcript corrector thresholds
	if cfg.Transcript.PhoneticThreshold != 0 && (cfg.Transcript.PhoneticThreshold < 0 || cfg.Transcript.PhoneticThreshold > 1) {
		errs = append(errs, fmt.Errorf("transcript.phonetic_threshold %.2f is out of range (0, 1]", cfg.Transcript.PhoneticThreshold))
	}
	if cfg.Transcript.FuzzyThreshold != 0 && (cfg.Transcript.FuzzyThreshold < 0 || cfg.Transcript.FuzzyThreshold > 1) {
		errs = append(errs, fmt.Errorf("transcript.fuzzy_threshold %.2f is out of range (0, 1]", cfg.Transcript.FuzzyThreshold))
	}
	if cfg.Transcript.PhoneticThreshold != 0 && cfg.Transcript.FuzzyThreshold != 0 &&
		cfg.Transcript.FuzzyThreshold < cfg.Transcript.PhoneticThreshold {
		slog.Warn("transcript.fuzzy_threshold is below transcript.phonetic_threshold; fuzzy-only matches will be accepted more readily than phonetic ones",
			"fuzzy", cfg.Transcript.FuzzyThreshold,
			"phonetic", cfg.Transcript.PhoneticThreshold,
		)
	}

	// Resilience
	if m := cfg.Resilience.Retry.Multiplier; m != 0 && m < 1 {
		errs = append(errs, fmt.Errorf("resilience.retry.multiplier %.2f is below 1; backoff would shrink between attempts", m))
	}

	// Archive
	if cfg.Archive.PostgresDSN == "" {
		if cfg.Archive.FlushInterval != 0 || cfg.Archive.BatchSize != 0 || cfg.Archive.QueueSize != 0 {
			slog.Warn("archive tuning is set but archive.postgres_dsn is empty; transcript archiving is disabled")
		}
	}
	if cfg.Archive.BatchSize > 0 && cfg.Archive.QueueSize > 0 && cfg.Archive.BatchSize > cfg.Archive.QueueSize {
		slog.Warn("archive.batch_size exceeds archive.queue_size; batches will never fill before the interval flush",
			"batch_size", cfg.Archive.BatchSize,
			"queue_size", cfg.Archive.QueueSize,
		)
	}

	// MCP servers
	mcpNamesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := mcpNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			mcpNamesSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, http", prefix, srv.Transport))
		}
		if srv.Transport == tools.MCPTransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tools.MCPTransportHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateChain checks one ordered provider list. Entries without a name are
// hard errors since the registry cannot look them up.
func validateChain(kind string, chain []ProviderEntry) []error {
	var errs []error
	for i, entry := range chain {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, entry.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
