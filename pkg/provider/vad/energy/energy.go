// Package energy implements vad.Engine with a time-domain energy detector.
//
// Each frame's RMS level is mapped to a pseudo-probability on a decibel
// scale: full-scale PCM is 1.0 and the noise floor (-60 dBFS) is 0.0. The
// session then applies the configured hysteresis, so thresholds behave the
// same way they would for a model-based detector.
//
// The detector is deterministic and allocation-free per frame, which keeps it
// cheap enough to run inline on the media ingest path.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/llmrtc/llmrtc/pkg/provider/vad"
)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("energy: session closed")

// noiseFloorDB is the RMS level (in dBFS) mapped to probability zero.
const noiseFloorDB = -60.0

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a new energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a fresh detection session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return nil, fmt.Errorf("energy: invalid channel count %d", cfg.Channels)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v must be in [0, speech threshold]", cfg.SilenceThreshold)
	}
	if cfg.MinSpeechMs < 0 || cfg.MinSilenceMs < 0 {
		return nil, errors.New("energy: sustain durations must be >= 0")
	}
	return &session{
		cfg:               cfg,
		minSpeechSamples:  cfg.SampleRate * cfg.MinSpeechMs / 1000,
		minSilenceSamples: cfg.SampleRate * cfg.MinSilenceMs / 1000,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu  sync.Mutex
	cfg vad.Config

	minSpeechSamples  int
	minSilenceSamples int

	inSpeech       bool
	speechSamples  int // consecutive samples at/above SpeechThreshold while silent
	silenceSamples int // consecutive samples at/below SilenceThreshold while speaking
	closed         bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrSessionClosed
	}
	sampleBytes := 2 * s.cfg.Channels
	if len(frame) == 0 || len(frame)%sampleBytes != 0 {
		return vad.VADEvent{}, fmt.Errorf("energy: frame length %d is not a whole number of %d-byte samples", len(frame), sampleBytes)
	}

	p := probability(rms(frame))
	ev := vad.VADEvent{Probability: p}
	samples := len(frame) / sampleBytes

	if s.inSpeech {
		if p <= s.cfg.SilenceThreshold {
			s.silenceSamples += samples
			if s.silenceSamples >= s.minSilenceSamples {
				s.inSpeech = false
				s.speechSamples = 0
				s.silenceSamples = 0
				ev.Type = vad.VADSpeechEnd
				return ev, nil
			}
		} else {
			s.silenceSamples = 0
		}
		ev.Type = vad.VADSpeechContinue
		return ev, nil
	}

	if p >= s.cfg.SpeechThreshold {
		s.speechSamples += samples
		if s.speechSamples >= s.minSpeechSamples {
			s.inSpeech = true
			s.speechSamples = 0
			s.silenceSamples = 0
			ev.Type = vad.VADSpeechStart
			return ev, nil
		}
	} else {
		s.speechSamples = 0
	}
	ev.Type = vad.VADSilence
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.inSpeech = false
	s.speechSamples = 0
	s.silenceSamples = 0
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

// rms computes the root mean square over all interleaved 16-bit samples in
// the frame. Channels are not separated; energy detection does not need to
// distinguish them.
func rms(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// probability maps an RMS level to [0,1] on a decibel scale: full scale is
// 1.0, noiseFloorDB and below is 0.0.
func probability(level float64) float64 {
	if level <= 0 {
		return 0
	}
	db := 20 * math.Log10(level/32768.0)
	p := (db - noiseFloorDB) / -noiseFloorDB
	return math.Max(0, math.Min(1, p))
}
