// Package vad turns a frame-level speech detector into utterance edges for
// the turn engine.
//
// The underlying [vad.Engine] session classifies individual PCM frames; the
// Detector layered on top assembles utterances around its edges: a pre-roll
// ring keeps the ramp-up audio from before the speech-start edge, frames
// between the edges are buffered, and the speech-end edge hands the whole
// buffered utterance (pre-roll included) to the caller. A hard utterance cap
// force-closes pathological never-ending speech.
//
// The Detector is owned by one session executor and is not safe for
// concurrent use.
package vad

import (
	"fmt"

	providervad "github.com/llmrtc/llmrtc/pkg/provider/vad"
)

// Defaults applied by NewDetector for zero Config fields.
const (
	DefaultSampleRate       = 16000
	DefaultChannels         = 1
	DefaultSpeechThreshold  = 0.5
	DefaultSilenceThreshold = 0.35
	DefaultMinSpeechMs      = 100
	DefaultMinSilenceMs     = 500
	DefaultPrerollMs        = 300
	DefaultMaxUtteranceMs   = 30000
)

// Config holds the detector parameters. Zero fields take the package
// defaults.
type Config struct {
	// SampleRate and Channels describe the inbound PCM frames.
	SampleRate int
	Channels   int

	// SpeechThreshold / SilenceThreshold are the hysteresis band passed to
	// the frame-level detector.
	SpeechThreshold  float64
	SilenceThreshold float64

	// MinSpeechMs / MinSilenceMs are the sustain durations for the edges.
	MinSpeechMs  int
	MinSilenceMs int

	// PrerollMs is how much audio from before the speech-start edge is
	// prepended to the utterance.
	PrerollMs int

	// MaxUtteranceMs force-closes an utterance that exceeds this length.
	MaxUtteranceMs int
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.MinSpeechMs == 0 {
		c.MinSpeechMs = DefaultMinSpeechMs
	}
	if c.MinSilenceMs == 0 {
		c.MinSilenceMs = DefaultMinSilenceMs
	}
	if c.PrerollMs == 0 {
		c.PrerollMs = DefaultPrerollMs
	}
	if c.MaxUtteranceMs == 0 {
		c.MaxUtteranceMs = DefaultMaxUtteranceMs
	}
	return c
}

// EdgeKind distinguishes the two utterance edges.
type EdgeKind int

const (
	// SpeechStart marks the onset of an utterance.
	SpeechStart EdgeKind = iota + 1
	// SpeechEnd marks the end of an utterance and carries its audio.
	SpeechEnd
)

// String returns the lowercase edge name for logs.
func (k EdgeKind) String() string {
	switch k {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Edge is one utterance boundary produced by Process.
type Edge struct {
	Kind EdgeKind

	// Utterance is the buffered 16-bit PCM including pre-roll. Set only on
	// SpeechEnd.
	Utterance []byte

	// Probability is the frame probability that produced the edge.
	Probability float64
}

// Detector assembles utterances from a frame-level VAD session.
type Detector struct {
	cfg     Config
	session providervad.SessionHandle

	preroll      []byte
	prerollBytes int

	utterance []byte
	maxBytes  int
	inSpeech  bool
}

// NewDetector creates a detector backed by a fresh session of engine.
func NewDetector(engine providervad.Engine, cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	session, err := engine.NewSession(providervad.Config{
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
		MinSpeechMs:      cfg.MinSpeechMs,
		MinSilenceMs:     cfg.MinSilenceMs,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: new session: %w", err)
	}
	bytesPerMs := cfg.SampleRate * cfg.Channels * 2 / 1000
	return &Detector{
		cfg:          cfg,
		session:      session,
		prerollBytes: cfg.PrerollMs * bytesPerMs,
		maxBytes:     cfg.MaxUtteranceMs * bytesPerMs,
	}, nil
}

// InSpeech reports whether an utterance is currently open.
func (d *Detector) InSpeech() bool { return d.inSpeech }

// Process feeds one PCM frame and returns any edges it produced. The returned
// utterance buffer is owned by the caller; the detector does not reuse it.
func (d *Detector) Process(frame []byte) ([]Edge, error) {
	ev, err := d.session.ProcessFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("vad: process frame: %w", err)
	}

	switch ev.Type {
	case providervad.VADSpeechStart:
		d.inSpeech = true
		d.utterance = append(d.utterance[:0], d.preroll...)
		d.utterance = append(d.utterance, frame...)
		d.preroll = d.preroll[:0]
		return []Edge{{Kind: SpeechStart, Probability: ev.Probability}}, nil

	case providervad.VADSpeechContinue:
		if !d.inSpeech {
			// The underlying session was mid-speech while the detector was
			// not (forced cut); treat as ramp-up audio.
			d.pushPreroll(frame)
			return nil, nil
		}
		d.utterance = append(d.utterance, frame...)
		if d.maxBytes > 0 && len(d.utterance) >= d.maxBytes {
			return []Edge{d.cut(ev.Probability)}, nil
		}
		return nil, nil

	case providervad.VADSpeechEnd:
		if !d.inSpeech {
			return nil, nil
		}
		d.utterance = append(d.utterance, frame...)
		return []Edge{d.cut(ev.Probability)}, nil

	default: // VADSilence
		d.pushPreroll(frame)
		return nil, nil
	}
}

// cut closes the open utterance and hands its audio over. The frame-level
// session is reset so a fresh speech-start fires even when the cut was
// forced mid-speech by the utterance cap.
func (d *Detector) cut(probability float64) Edge {
	utterance := make([]byte, len(d.utterance))
	copy(utterance, d.utterance)
	d.utterance = d.utterance[:0]
	d.inSpeech = false
	d.session.Reset()
	return Edge{Kind: SpeechEnd, Utterance: utterance, Probability: probability}
}

// pushPreroll appends frame to the pre-roll ring, trimming to the configured
// window.
func (d *Detector) pushPreroll(frame []byte) {
	if d.prerollBytes <= 0 {
		return
	}
	d.preroll = append(d.preroll, frame...)
	if over := len(d.preroll) - d.prerollBytes; over > 0 {
		d.preroll = append(d.preroll[:0], d.preroll[over:]...)
	}
}

// Reset drops all buffered audio and detection state.
func (d *Detector) Reset() {
	d.session.Reset()
	d.preroll = d.preroll[:0]
	d.utterance = d.utterance[:0]
	d.inSpeech = false
}

// Close releases the underlying session.
func (d *Detector) Close() error {
	return d.session.Close()
}
