package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM used
// throughout the pipeline.
const bitsPerSample = 16

// ErrInvalidWAV is returned by [DecodeWAV] when the input is not a valid
// RIFF/WAVE container with 16-bit PCM data. Callers map it to the
// INVALID_AUDIO_FORMAT wire code.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct upload
// to batch STT endpoints or for base64 fallback delivery on the reliable
// channel.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a RIFF/WAVE container and returns the raw PCM payload
// along with its sample rate and channel count. Only uncompressed 16-bit
// PCM is accepted; anything else returns an error wrapping [ErrInvalidWAV].
//
// The chunk walker tolerates extra chunks (LIST, fact, …) between fmt and
// data, which browser-generated WAV files commonly include.
func DecodeWAV(wav []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		haveFmt bool
		bits    int
	)

	// Walk sub-chunks starting after the 12-byte RIFF descriptor.
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(wav) {
			return nil, 0, 0, fmt.Errorf("%w: truncated %q chunk", ErrInvalidWAV, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(wav[body : body+2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("%w: unsupported audio format %d (want PCM)", ErrInvalidWAV, format)
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, 0, 0, fmt.Errorf("%w: data chunk before fmt", ErrInvalidWAV)
			}
			if bits != bitsPerSample {
				return nil, 0, 0, fmt.Errorf("%w: %d-bit samples (want %d)", ErrInvalidWAV, bits, bitsPerSample)
			}
			if channels <= 0 || sampleRate <= 0 {
				return nil, 0, 0, fmt.Errorf("%w: fmt chunk declares %d channels at %d Hz", ErrInvalidWAV, channels, sampleRate)
			}
			return wav[body : body+size], sampleRate, channels, nil
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		off = body + size + (size & 1)
	}

	return nil, 0, 0, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// DurationMs returns the duration of a PCM buffer in milliseconds for the
// given format. Returns 0 for invalid inputs.
func DurationMs(pcm []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(pcm) * 1000 / bytesPerSec
}
