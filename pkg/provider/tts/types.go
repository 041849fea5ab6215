package tts

// Format identifies the audio container/encoding of synthesised speech.
// The wire protocol forwards it verbatim in tts-start so clients know how to
// decode the chunks that follow.
type Format string

const (
	// FormatPCM is raw 16-bit little-endian PCM.
	FormatPCM Format = "pcm"

	// FormatMP3 is MPEG-1 Layer III.
	FormatMP3 Format = "mp3"

	// FormatOgg is Ogg-encapsulated Opus.
	FormatOgg Format = "ogg"

	// FormatWAV is RIFF/WAVE-wrapped PCM.
	FormatWAV Format = "wav"
)

// IsValid reports whether f is a recognised output format.
func (f Format) IsValid() bool {
	switch f {
	case FormatPCM, FormatMP3, FormatOgg, FormatWAV:
		return true
	}
	return false
}

// Config selects the voice and output encoding for one synthesis call.
type Config struct {
	// Voice is the provider-specific voice identifier.
	Voice string

	// Format is the requested output encoding. Empty means FormatPCM.
	Format Format

	// SampleRate is the requested output sample rate in Hz. Zero means the
	// provider default.
	SampleRate int

	// Speed adjusts the speaking rate where the backend supports it
	// (0.5 to 2.0, zero or 1.0 = default).
	Speed float64
}

// Audio is the complete result of a non-streaming Speak call.
type Audio struct {
	// Data is the encoded audio.
	Data []byte

	// Format is the encoding of Data.
	Format Format

	// SampleRate is the sample rate of Data in Hz.
	SampleRate int
}
