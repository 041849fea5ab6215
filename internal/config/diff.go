package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: everything else
// (listen address, provider chains, session tuning) needs a restart.
type ConfigDiff struct {
	// LogLevelChanged reports a new verbosity; NewLogLevel carries it.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscriptChanged reports that the corrector vocabulary or its
	// thresholds moved. The corrector is rebuilt and swapped in; turns
	// already past correction keep their old text.
	TranscriptChanged bool

	// SystemPromptChanged reports a new base prompt. Running sessions keep
	// the prompt they started with; sessions created after the reload pick
	// up the new one.
	SystemPromptChanged bool
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.TranscriptChanged || d.SystemPromptChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Transcript.Vocabulary, new.Transcript.Vocabulary) ||
		old.Transcript.PhoneticThreshold != new.Transcript.PhoneticThreshold ||
		old.Transcript.FuzzyThreshold != new.Transcript.FuzzyThreshold {
		d.TranscriptChanged = true
	}

	if old.Turn.SystemPrompt != new.Turn.SystemPrompt {
		d.SystemPromptChanged = true
	}

	return d
}
