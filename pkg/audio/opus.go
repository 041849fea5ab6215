package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Browser WebRTC audio arrives as 48 kHz Opus at 20 ms frame size. Frames may
// be mono or stereo depending on the client's capture constraints.
const (
	opusSampleRate  = 48000
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusDecoder wraps a gopus Opus decoder for a single inbound media stream.
// Each session gets its own decoder to maintain decoder state correctly
// across consecutive frames. Not safe for concurrent use; confine it to the
// session's media ingest loop.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewOpusDecoder creates a decoder for 48 kHz Opus with the given channel
// count (1 or 2).
func NewOpusDecoder(channels int) (*OpusDecoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: opus decoder supports 1 or 2 channels, got %d", channels)
	}
	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode decodes an Opus packet into interleaved PCM int16 samples and
// returns the result as little-endian bytes at 48 kHz.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// SampleRate returns the decoder's fixed output sample rate (48 kHz).
func (d *OpusDecoder) SampleRate() int { return opusSampleRate }

// Channels returns the decoder's configured channel count.
func (d *OpusDecoder) Channels() int { return d.channels }

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
