package whisper_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

// makeTonePCM generates a 440 Hz sine-wave buffer of `samples` 16-bit
// little-endian samples at 16 kHz.
func makeTonePCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_Tone(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	// One second of tone; the transcribed text depends on the model, so only
	// the call contract is asserted.
	tr, err := p.Transcribe(context.Background(), stt.Audio{
		PCM:        makeTonePCM(16000),
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	t.Logf("transcribed text: %q", tr.Text)
}

func TestNativeTranscribe_CancelledContext(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Transcribe(ctx, stt.Audio{PCM: makeTonePCM(160), SampleRate: 16000, Channels: 1})
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestNativeTranscribe_RejectsWrongSampleRate(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	_, err = p.Transcribe(context.Background(), stt.Audio{PCM: makeTonePCM(160), SampleRate: 44100, Channels: 1})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *provider.Error, got %T: %v", err, err)
	}
	if pe.Kind != provider.KindInvalid {
		t.Errorf("Kind = %v; want KindInvalid", pe.Kind)
	}
}

func TestNativeClose_ReleasesModel(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}
}
