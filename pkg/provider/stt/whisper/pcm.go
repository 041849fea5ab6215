package whisper

import "encoding/binary"

// monoFloat32 converts 16-bit signed little-endian PCM to float32 samples in
// [-1.0, 1.0], averaging interleaved channels down to mono. A trailing
// partial frame is ignored.
func monoFloat32(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
