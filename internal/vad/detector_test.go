package vad_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/llmrtc/llmrtc/internal/vad"
	providervad "github.com/llmrtc/llmrtc/pkg/provider/vad"
	"github.com/llmrtc/llmrtc/pkg/provider/vad/energy"
	vadmock "github.com/llmrtc/llmrtc/pkg/provider/vad/mock"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

// frame builds a mono 16-bit PCM frame of n samples, all set to amplitude.
func frame(n int, amplitude int16) []byte {
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(amplitude))
	}
	return buf
}

// scripted builds a detector driven by a scripted frame-level session.
func scripted(t *testing.T, events []providervad.VADEvent, cfg vad.Config) *vad.Detector {
	t.Helper()
	engine := &vadmock.Engine{Session: &vadmock.Session{Events: events}}
	d, err := vad.NewDetector(engine, cfg)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// ── Edge assembly ────────────────────────────────────────────────────────────

// TestDetector_UtteranceAssembly drives silence → start → continue → end and
// verifies the utterance contains pre-roll, start, continue, and end frames
// in order.
func TestDetector_UtteranceAssembly(t *testing.T) {
	t.Parallel()

	d := scripted(t, []providervad.VADEvent{
		{Type: providervad.VADSilence},
		{Type: providervad.VADSpeechStart, Probability: 0.9},
		{Type: providervad.VADSpeechContinue, Probability: 0.8},
		{Type: providervad.VADSpeechEnd, Probability: 0.1},
	}, vad.Config{SampleRate: 16000, Channels: 1, PrerollMs: 1000})

	silent := frame(160, 0)
	rampUp := frame(160, 1000)
	speech := frame(160, 8000)
	tail := frame(160, 100)

	edges, err := d.Process(silent)
	if err != nil || len(edges) != 0 {
		t.Fatalf("silence frame: edges=%v err=%v", edges, err)
	}

	edges, err = d.Process(rampUp)
	if err != nil {
		t.Fatalf("start frame: %v", err)
	}
	if len(edges) != 1 || edges[0].Kind != vad.SpeechStart {
		t.Fatalf("start frame: got %v, want one SpeechStart", edges)
	}
	if !d.InSpeech() {
		t.Error("InSpeech false after start edge")
	}

	edges, err = d.Process(speech)
	if err != nil || len(edges) != 0 {
		t.Fatalf("continue frame: edges=%v err=%v", edges, err)
	}

	edges, err = d.Process(tail)
	if err != nil {
		t.Fatalf("end frame: %v", err)
	}
	if len(edges) != 1 || edges[0].Kind != vad.SpeechEnd {
		t.Fatalf("end frame: got %v, want one SpeechEnd", edges)
	}
	if d.InSpeech() {
		t.Error("InSpeech true after end edge")
	}

	var want bytes.Buffer
	want.Write(silent) // pre-roll
	want.Write(rampUp)
	want.Write(speech)
	want.Write(tail)
	if !bytes.Equal(edges[0].Utterance, want.Bytes()) {
		t.Errorf("utterance: got %d bytes, want %d bytes (pre-roll + speech)", len(edges[0].Utterance), want.Len())
	}
}

// TestDetector_PrerollWindowTrimmed verifies only the configured pre-roll
// window survives long silence.
func TestDetector_PrerollWindowTrimmed(t *testing.T) {
	t.Parallel()

	// 10ms pre-roll at 16kHz mono = 320 bytes.
	d := scripted(t, []providervad.VADEvent{
		{Type: providervad.VADSilence},
		{Type: providervad.VADSilence},
		{Type: providervad.VADSilence},
		{Type: providervad.VADSpeechStart, Probability: 0.9},
		{Type: providervad.VADSpeechEnd, Probability: 0.1},
	}, vad.Config{SampleRate: 16000, Channels: 1, PrerollMs: 10})

	for i := 0; i < 3; i++ {
		if _, err := d.Process(frame(160, int16(i+1))); err != nil { // 160 samples = 320 bytes each
			t.Fatalf("silence %d: %v", i, err)
		}
	}
	if _, err := d.Process(frame(160, 9000)); err != nil {
		t.Fatalf("start: %v", err)
	}
	edges, err := d.Process(frame(160, 0))
	if err != nil || len(edges) != 1 {
		t.Fatalf("end: edges=%v err=%v", edges, err)
	}

	// Pre-roll window (320 bytes) + start frame + end frame.
	wantLen := 320 + 320 + 320
	if len(edges[0].Utterance) != wantLen {
		t.Errorf("utterance length: got %d, want %d", len(edges[0].Utterance), wantLen)
	}
	// The kept pre-roll must be the LAST silence frame (amplitude 3).
	if got := int16(binary.LittleEndian.Uint16(edges[0].Utterance)); got != 3 {
		t.Errorf("pre-roll head amplitude: got %d, want 3", got)
	}
}

// TestDetector_MaxUtteranceForcesCut verifies the hard cap closes a runaway
// utterance and resets the frame-level session.
func TestDetector_MaxUtteranceForcesCut(t *testing.T) {
	t.Parallel()

	session := &vadmock.Session{
		Events: []providervad.VADEvent{
			{Type: providervad.VADSpeechStart, Probability: 0.9},
		},
		EventResult: providervad.VADEvent{Type: providervad.VADSpeechContinue, Probability: 0.9},
	}
	engine := &vadmock.Engine{Session: session}
	// Cap at 20ms = 640 bytes at 16kHz mono.
	d, err := vad.NewDetector(engine, vad.Config{SampleRate: 16000, Channels: 1, MaxUtteranceMs: 20})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if _, err := d.Process(frame(160, 9000)); err != nil { // start, 320 bytes
		t.Fatalf("start: %v", err)
	}
	edges, err := d.Process(frame(160, 9000)) // continue, reaches 640 bytes
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if len(edges) != 1 || edges[0].Kind != vad.SpeechEnd {
		t.Fatalf("got %v, want forced SpeechEnd", edges)
	}
	if len(edges[0].Utterance) != 640 {
		t.Errorf("utterance length: got %d, want 640", len(edges[0].Utterance))
	}
	if session.ResetCallCount == 0 {
		t.Error("frame-level session not reset after forced cut")
	}
	if d.InSpeech() {
		t.Error("InSpeech true after forced cut")
	}
}

func TestDetector_ProcessFrameError(t *testing.T) {
	t.Parallel()

	session := &vadmock.Session{ProcessFrameErr: energy.ErrSessionClosed}
	d, err := vad.NewDetector(&vadmock.Engine{Session: session}, vad.Config{})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	if _, err := d.Process(frame(160, 0)); err == nil {
		t.Fatal("expected error from Process")
	}
}

func TestDetector_ResetDropsState(t *testing.T) {
	t.Parallel()

	session := &vadmock.Session{
		Events: []providervad.VADEvent{{Type: providervad.VADSpeechStart, Probability: 0.9}},
	}
	d, err := vad.NewDetector(&vadmock.Engine{Session: session}, vad.Config{})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	if _, err := d.Process(frame(160, 9000)); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.Reset()
	if d.InSpeech() {
		t.Error("InSpeech true after Reset")
	}
	if session.ResetCallCount != 1 {
		t.Errorf("session resets: got %d, want 1", session.ResetCallCount)
	}
}

// ── Energy backend integration ───────────────────────────────────────────────

// TestDetector_WithEnergyBackend runs the full stack: loud frames open an
// utterance after the sustain window, silence closes it.
func TestDetector_WithEnergyBackend(t *testing.T) {
	t.Parallel()

	d, err := vad.NewDetector(energy.New(), vad.Config{
		SampleRate:   16000,
		Channels:     1,
		MinSpeechMs:  20,
		MinSilenceMs: 20,
		PrerollMs:    10,
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	loud := frame(160, 16000) // 10ms at 16kHz, well above the speech threshold
	quiet := frame(160, 0)

	var started, ended bool
	var utterance []byte
	feed := func(frames int, pcm []byte) {
		t.Helper()
		for i := 0; i < frames; i++ {
			edges, err := d.Process(pcm)
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			for _, e := range edges {
				switch e.Kind {
				case vad.SpeechStart:
					started = true
				case vad.SpeechEnd:
					ended = true
					utterance = e.Utterance
				}
			}
		}
	}

	feed(5, loud)  // 50ms loud: start must fire after 20ms sustain
	feed(5, quiet) // 50ms quiet: end must fire after 20ms sustain

	if !started {
		t.Fatal("no speech-start edge")
	}
	if !ended {
		t.Fatal("no speech-end edge")
	}
	if len(utterance) == 0 {
		t.Fatal("empty utterance")
	}
}
