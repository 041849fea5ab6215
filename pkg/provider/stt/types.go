package stt

import "time"

// Audio is one complete utterance of raw 16-bit little-endian PCM, as handed
// over by voice activity detection.
type Audio struct {
	// PCM is the interleaved sample data.
	PCM []byte

	// SampleRate is the sample rate in Hz. Common values: 16000 (STT-optimised
	// mono), 48000 (browser Opus decode output).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (preferred by most
	// STT backends). Implementors may downmix stereo internally.
	Channels int
}

// Duration returns the playback length of the utterance. It assumes 16-bit
// samples and returns zero for an unconfigured Audio.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.PCM) / (2 * a.Channels)
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}
