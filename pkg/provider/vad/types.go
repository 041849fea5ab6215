package vad

// VADEvent represents a voice activity detection result for a single audio
// frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0 to 1.0) for this
	// frame, before hysteresis.
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSilence indicates no speech detected.
	VADSilence VADEventType = iota

	// VADSpeechStart indicates speech has just begun (hysteresis satisfied).
	VADSpeechStart

	// VADSpeechContinue indicates ongoing speech, including short pauses
	// below the silence sustain duration.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended (silence sustained).
	VADSpeechEnd
)

// String returns the lowercase event name for logs.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	default:
		return "silence"
	}
}
