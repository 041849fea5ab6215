// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech detector (the built-in energy
// detector, or an external model such as Silero) and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (probability smoothing, hysteresis counters) so that multiple concurrent
// audio streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the low-latency pipeline stage
// that gates STT input. Sessions apply hysteresis internally: a speech edge
// fires only after the configured sustain duration, so a single loud click
// does not open an utterance and a short breath pause does not close one.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 16000, 48000.
	SampleRate int

	// Channels is the number of interleaved channels in each frame. 1 or 2.
	Channels int

	// SpeechThreshold is the probability above which a frame counts towards
	// a speech edge. Range: [0.0, 1.0]. Higher values reduce false positives
	// at the cost of increased speech start latency. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame counts towards
	// a silence edge. Range: [0.0, 1.0]. Must be <= SpeechThreshold; the gap
	// between the two is the hysteresis band. Typical: 0.35.
	SilenceThreshold float64

	// MinSpeechMs is how long frames must stay above SpeechThreshold before
	// VADSpeechStart fires. Typical: 100.
	MinSpeechMs int

	// MinSilenceMs is how long frames must stay below SilenceThreshold
	// before VADSpeechEnd fires. Typical: 500.
	MinSilenceMs int
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Each session maintains its own detection state;
// Reset clears this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw 16-bit little-endian PCM at the
	// SampleRate and Channels configured when the session was created.
	// Frames may vary in length; sustain durations are tracked by sample
	// count, not frame count. Returns an error for malformed frames (odd
	// length, not a whole number of samples) or internal engine failures.
	//
	// This method is called synchronously in the audio pipeline loop; it
	// must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when the audio stream is interrupted or restarted
	// to avoid stale state from the previous segment affecting subsequent
	// frames.
	Reset()

	// Close releases all resources associated with the session. After
	// Close, ProcessFrame must return an error and Reset must be a no-op.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported
	// sample rate, threshold out of range) or if the engine cannot allocate
	// resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
