package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/llmrtc/llmrtc/pkg/provider"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/types"
)

// ---- URL / query-param tests ----

func TestListenURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.listenURL(stt.Audio{}, false)
	if err != nil {
		t.Fatalf("listenURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "scheme", "https", u.Scheme)
	assertEqual(t, "path", "/v1/listen", u.Path)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if _, ok := q["interim_results"]; ok {
		t.Error("expected no 'interim_results' param for the pre-recorded endpoint")
	}
}

func TestListenURL_Streaming(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.listenURL(stt.Audio{}, true)
	if err != nil {
		t.Fatalf("listenURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "scheme", "wss", u.Scheme)
	assertEqual(t, "interim_results", "true", u.Query().Get("interim_results"))
}

func TestListenURL_AudioParams(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.listenURL(stt.Audio{SampleRate: 48000, Channels: 2}, false)
	if err != nil {
		t.Fatalf("listenURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "channels", "2", q.Get("channels"))
}

func TestListenURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.listenURL(stt.Audio{}, false)
	if err != nil {
		t.Fatalf("listenURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
}

func TestListenURL_Keywords(t *testing.T) {
	p, err := New("key", WithKeywords([]string{"Eldrinax:5", "Zorrath"}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.listenURL(stt.Audio{}, true)
	if err != nil {
		t.Fatalf("listenURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}

	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["Eldrinax:5"] {
		t.Errorf("expected keyword 'Eldrinax:5', got %v", kws)
	}
	if !found["Zorrath"] {
		t.Errorf("expected keyword 'Zorrath', got %v", kws)
	}
}

func TestListenURL_NoKeywords(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.listenURL(stt.Audio{}, false)
	if err != nil {
		t.Fatalf("listenURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	if _, ok := u.Query()["keywords"]; ok {
		t.Error("expected no 'keywords' param when none provided")
	}
}

func TestListenURL_BaseURLOverride(t *testing.T) {
	p, err := New("key", WithBaseURL("http://dg.internal:8080"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.listenURL(stt.Audio{}, true)
	if err != nil {
		t.Fatalf("listenURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "scheme", "ws", u.Scheme)
	assertEqual(t, "host", "dg.internal:8080", u.Host)
	assertEqual(t, "path", "/v1/listen", u.Path)
}

// ---- REST transcription tests ----

func TestTranscribe_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/listen" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("unexpected content type %q", got)
		}
		w.Write([]byte(`{
			"metadata": {"duration": 1.75},
			"results": {"channels": [{"alternatives": [
				{"transcript": "open the pod bay doors", "confidence": 0.97}
			]}]}
		}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), stt.Audio{PCM: []byte{1, 2, 3, 4}, SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	assertEqual(t, "text", "open the pod bay doors", tr.Text)
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	if tr.Confidence != 0.97 {
		t.Errorf("expected confidence 0.97, got %f", tr.Confidence)
	}
	if want := time.Duration(1.75 * float64(time.Second)); tr.Duration != want {
		t.Errorf("expected duration %v, got %v", want, tr.Duration)
	}
}

func TestTranscribe_DurationFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": {"channels": [{"alternatives": [{"transcript": "hi", "confidence": 1}]}]}}`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 32000 bytes of 16-bit mono at 16 kHz is exactly one second.
	audio := stt.Audio{PCM: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	tr, err := p.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Duration != time.Second {
		t.Errorf("expected duration from audio length, got %v", tr.Duration)
	}
}

func TestTranscribe_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_msg":"invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("bad-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), stt.Audio{PCM: []byte{0}})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *provider.Error, got %T: %v", err, err)
	}
	if pe.Kind != provider.KindAuth {
		t.Errorf("expected KindAuth, got %v", pe.Kind)
	}
	if pe.Provider != "deepgram" {
		t.Errorf("expected provider 'deepgram', got %q", pe.Provider)
	}
}

func TestTranscribe_RateLimitRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), stt.Audio{PCM: []byte{0}})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *provider.Error, got %T: %v", err, err)
	}
	if pe.Kind != provider.KindRateLimit {
		t.Errorf("expected KindRateLimit, got %v", pe.Kind)
	}
	if pe.RetryAfter != 3*time.Second {
		t.Errorf("expected RetryAfter 3s, got %v", pe.RetryAfter)
	}
}

func TestTranscribe_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{invalid`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), stt.Audio{PCM: []byte{0}})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *provider.Error, got %T: %v", err, err)
	}
	if pe.Kind != provider.KindInvalid {
		t.Errorf("expected KindInvalid, got %v", pe.Kind)
	}
}

func TestTranscribe_EmptyAlternatives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": {"channels": [{"alternatives": []}]}}`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), stt.Audio{PCM: []byte{0}})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *provider.Error, got %T: %v", err, err)
	}
	if pe.Kind != provider.KindInvalid {
		t.Errorf("expected KindInvalid, got %v", pe.Kind)
	}
}

// ---- streaming tests ----

// fakeDeepgram drains uploaded audio until the CloseStream frame, then plays
// back the given events in order and closes.
func fakeDeepgram(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Token ") {
			t.Errorf("unexpected auth header %q", got)
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			typ, msg, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, ev := range events {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(ev)); err != nil {
				return
			}
		}
	}))
}

func collect(t *testing.T, ch <-chan types.Transcript) []types.Transcript {
	t.Helper()
	var got []types.Transcript
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tr, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, tr)
		case <-deadline:
			t.Fatal("timed out draining transcript channel")
		}
	}
}

func TestTranscribeStream_PartialsThenFinal(t *testing.T) {
	srv := fakeDeepgram(t,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello","confidence":0.5}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there","confidence":1}]}}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"general","confidence":0.6}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"general kenobi","confidence":0.5}]}}`,
		`{"type":"Metadata","request_id":"abc"}`,
	)
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := p.TranscribeStream(ctx, stt.Audio{PCM: make([]byte, 20000), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("TranscribeStream: %v", err)
	}

	got := collect(t, ch)
	if len(got) != 3 {
		t.Fatalf("expected 2 partials and a final, got %d: %v", len(got), got)
	}

	assertEqual(t, "partial[0]", "hello", got[0].Text)
	if got[0].IsFinal {
		t.Error("expected first transcript to be partial")
	}
	assertEqual(t, "partial[1]", "hello there general", got[1].Text)

	final := got[2]
	if !final.IsFinal {
		t.Fatal("expected last transcript to be final")
	}
	assertEqual(t, "final", "hello there general kenobi", final.Text)
	if want := 0.75; final.Confidence != want {
		t.Errorf("expected averaged confidence %v, got %v", want, final.Confidence)
	}
}

func TestTranscribeStream_IgnoresEmptyInterims(t *testing.T) {
	srv := fakeDeepgram(t,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"done","confidence":1}]}}`,
		`{"type":"Metadata"}`,
	)
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := p.TranscribeStream(ctx, stt.Audio{PCM: []byte{0, 0}, SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("TranscribeStream: %v", err)
	}

	got := collect(t, ch)
	if len(got) != 1 {
		t.Fatalf("expected only the final transcript, got %d: %v", len(got), got)
	}
	assertEqual(t, "final", "done", got[0].Text)
}

func TestTranscribeStream_DropWithoutFlush(t *testing.T) {
	// No Metadata event: the server hangs up after one partial, which must
	// surface as a closed channel with no final transcript.
	srv := fakeDeepgram(t,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel","confidence":0.4}]}}`,
	)
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := p.TranscribeStream(ctx, stt.Audio{PCM: []byte{0, 0}, SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("TranscribeStream: %v", err)
	}

	for tr := range ch {
		if tr.IsFinal {
			t.Errorf("expected no final transcript after abnormal close, got %q", tr.Text)
		}
	}
}

func TestTranscribeStream_DialFailure(t *testing.T) {
	p, err := New("key", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = p.TranscribeStream(ctx, stt.Audio{PCM: []byte{0}})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *provider.Error, got %T: %v", err, err)
	}
}

// ---- constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", defaultEndpoint, p.endpoint)
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
