package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/llmrtc/llmrtc/internal/health"
	"github.com/llmrtc/llmrtc/internal/history"
	"github.com/llmrtc/llmrtc/internal/resilience"
	"github.com/llmrtc/llmrtc/internal/server"
	"github.com/llmrtc/llmrtc/internal/session"
	"github.com/llmrtc/llmrtc/internal/transport"
	transportmock "github.com/llmrtc/llmrtc/internal/transport/mock"
	"github.com/llmrtc/llmrtc/internal/turn"
	"github.com/llmrtc/llmrtc/internal/vad"
	"github.com/llmrtc/llmrtc/pkg/audio"
	"github.com/llmrtc/llmrtc/pkg/provider/llm"
	llmmock "github.com/llmrtc/llmrtc/pkg/provider/llm/mock"
	sttmock "github.com/llmrtc/llmrtc/pkg/provider/stt/mock"
	ttsmock "github.com/llmrtc/llmrtc/pkg/provider/tts/mock"
	providervad "github.com/llmrtc/llmrtc/pkg/provider/vad"
	vadmock "github.com/llmrtc/llmrtc/pkg/provider/vad/mock"
	visionmock "github.com/llmrtc/llmrtc/pkg/provider/vision/mock"
	"github.com/llmrtc/llmrtc/pkg/types"
)

// wireEvent is a flat decode target for every server event the tests read.
type wireEvent struct {
	Type             string `json:"type"`
	ID               string `json:"id"`
	ProtocolVersion  int    `json:"protocolVersion"`
	Timestamp        int64  `json:"timestamp"`
	Signal           string `json:"signal"`
	Success          bool   `json:"success"`
	SessionID        string `json:"sessionId"`
	HistoryRecovered bool   `json:"historyRecovered"`
	Text             string `json:"text"`
	IsFinal          bool   `json:"isFinal"`
	Content          string `json:"content"`
	Done             bool   `json:"done"`
	Transport        string `json:"transport"`
	Format           string `json:"format"`
	SampleRate       int    `json:"sampleRate"`
	Data             []byte `json:"data"`
	Code             string `json:"code"`
	Message          string `json:"message"`
}

// wsRig is a full server over mock providers, reachable through real
// WebSocket connections.
type wsRig struct {
	t        *testing.T
	ts       *httptest.Server
	server   *server.Server
	registry *session.Registry
	llm      *llmmock.Provider
	tts      *ttsmock.Streamer
	stt      *sttmock.Provider
	vision   *visionmock.Provider
}

func newWSRig(t *testing.T, cfg server.Config, regCfg session.Config, opts ...server.Option) *wsRig {
	t.Helper()
	r := &wsRig{
		t:      t,
		llm:    &llmmock.Provider{StreamChunks: []llm.Chunk{{Content: "Why did the chicken? "}, {Done: true}}},
		tts:    &ttsmock.Streamer{SpeakChunks: [][]byte{[]byte("pcm")}},
		stt:    &sttmock.Provider{Transcript: types.Transcript{Text: "Tell me a joke.", IsFinal: true}},
		vision: &visionmock.Provider{Description: "a whiteboard covered in arrows"},
	}
	if regCfg.TTL == 0 {
		regCfg.TTL = time.Hour
	}
	regCfg.NewEngine = func(id string, mux *transport.Mux, hist *history.Store) *turn.Engine {
		return turn.New(id, mux, hist, r.llm, r.tts,
			turn.WithSTT(r.stt),
			turn.WithVision(r.vision),
			turn.WithConfig(turn.Config{
				Retry: resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
			}))
	}
	r.registry = session.NewRegistry(regCfg)
	r.server = server.New(cfg, r.registry, opts...)
	r.ts = httptest.NewServer(r.server.Handler())
	t.Cleanup(func() {
		r.ts.Close()
		r.registry.Close()
	})
	return r
}

func (r *wsRig) dial() *websocket.Conn {
	r.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, r.ts.URL+"/ws", nil)
	if err != nil {
		r.t.Fatalf("dial: %v", err)
	}
	conn.SetReadLimit(16 << 20)
	r.t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return ev
}

// collectUntil reads events until terminal (or an error event) arrives and
// returns everything read, terminal included.
func collectUntil(t *testing.T, conn *websocket.Conn, terminal string) []wireEvent {
	t.Helper()
	var evs []wireEvent
	for {
		ev := readEvent(t, conn)
		evs = append(evs, ev)
		if ev.Type == terminal || ev.Type == "error" {
			return evs
		}
	}
}

func kindsOf(evs []wireEvent) []string {
	kinds := make([]string, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Type
	}
	return kinds
}

func sameKinds(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// readReady consumes the handshake event and returns the session id.
func readReady(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ev := readEvent(t, conn)
	if ev.Type != "ready" {
		t.Fatalf("first event = %q, want ready", ev.Type)
	}
	if ev.ID == "" {
		t.Fatal("ready without a session id")
	}
	if ev.ProtocolVersion != transport.ProtocolVersion {
		t.Fatalf("protocolVersion = %d, want %d", ev.ProtocolVersion, transport.ProtocolVersion)
	}
	return ev.ID
}

// wavClip builds a 100ms silence WAV for the reliable-channel audio path.
func wavClip(t *testing.T) []byte {
	t.Helper()
	return audio.EncodeWAV(make([]byte, 3200), 16000, 1)
}

func TestServerHandshakeAndPing(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{})
	conn := rig.dial()

	id := readReady(t, conn)
	if rig.registry.Get(id) == nil {
		t.Fatalf("session %q not registered", id)
	}

	sendJSON(t, conn, map[string]any{"type": "ping", "timestamp": int64(1724572800123)})
	ev := readEvent(t, conn)
	if ev.Type != "pong" || ev.Timestamp != 1724572800123 {
		t.Fatalf("got %+v, want pong echoing the timestamp", ev)
	}
}

func TestServerVoiceTurnOverReliableChannel(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{})
	conn := rig.dial()
	readReady(t, conn)

	sendJSON(t, conn, map[string]any{"type": "audio", "data": wavClip(t)})
	evs := collectUntil(t, conn, "tts-complete")

	want := []string{"transcript", "llm-chunk", "llm-chunk", "tts-start", "tts-chunk", "tts-complete"}
	if !sameKinds(kindsOf(evs), want) {
		t.Fatalf("event kinds = %v, want %v", kindsOf(evs), want)
	}
	if evs[0].Text != "Tell me a joke." || !evs[0].IsFinal {
		t.Fatalf("transcript = %+v", evs[0])
	}
	if evs[1].Content != "Why did the chicken? " || evs[1].Done {
		t.Fatalf("first llm chunk = %+v", evs[1])
	}
	if !evs[2].Done {
		t.Fatalf("second llm chunk not terminal: %+v", evs[2])
	}
	if evs[3].Transport != string(transport.DeliveryReliable) {
		t.Fatalf("tts transport = %q, want %q", evs[3].Transport, transport.DeliveryReliable)
	}
	if string(evs[4].Data) != "pcm" {
		t.Fatalf("tts chunk payload = %q", evs[4].Data)
	}
}

func TestServerReconnectResumesSession(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{})

	connA := rig.dial()
	idA := readReady(t, connA)
	sendJSON(t, connA, map[string]any{"type": "audio", "data": wavClip(t)})
	collectUntil(t, connA, "tts-complete")
	_ = connA.Close(websocket.StatusNormalClosure, "network blip")

	connB := rig.dial()
	idB := readReady(t, connB)
	if idB == idA {
		t.Fatal("fresh connection reused the old session id")
	}

	sendJSON(t, connB, map[string]any{"type": "reconnect", "sessionId": idA})
	ack := readEvent(t, connB)
	if ack.Type != "reconnect-ack" || !ack.Success {
		t.Fatalf("got %+v, want successful reconnect-ack", ack)
	}
	if ack.SessionID != idA {
		t.Fatalf("ack session = %q, want %q", ack.SessionID, idA)
	}
	if !ack.HistoryRecovered {
		t.Fatal("historyRecovered = false after a completed turn")
	}
	if rig.registry.Len() != 1 {
		t.Fatalf("registry holds %d sessions after adoption, want 1", rig.registry.Len())
	}
	if rig.registry.Get(idB) != nil {
		t.Fatal("superseded fresh session still registered")
	}

	// The next turn must see the recovered conversation.
	sendJSON(t, connB, map[string]any{"type": "audio", "data": wavClip(t)})
	collectUntil(t, connB, "tts-complete")

	if len(rig.llm.StreamCalls) != 2 {
		t.Fatalf("llm stream calls = %d, want 2", len(rig.llm.StreamCalls))
	}
	msgs := rig.llm.StreamCalls[1].Req.Messages
	if len(msgs) != 3 {
		t.Fatalf("second turn saw %d messages, want 3 (recovered pair + new)", len(msgs))
	}
	if msgs[0].Role != types.RoleUser || msgs[1].Role != types.RoleAssistant || msgs[2].Role != types.RoleUser {
		t.Fatalf("unexpected roles: %s %s %s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
}

func TestServerReconnectUnknownSession(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{})
	conn := rig.dial()
	id := readReady(t, conn)

	sendJSON(t, conn, map[string]any{"type": "reconnect", "sessionId": "11111111-2222-3333-4444-555555555555"})

	errEv := readEvent(t, conn)
	if errEv.Type != "error" || errEv.Code != string(transport.CodeSessionNotFound) {
		t.Fatalf("got %+v, want SESSION_NOT_FOUND error", errEv)
	}
	ack := readEvent(t, conn)
	if ack.Type != "reconnect-ack" || ack.Success {
		t.Fatalf("got %+v, want failed reconnect-ack", ack)
	}
	if ack.SessionID != id || ack.HistoryRecovered {
		t.Fatalf("failed ack = %+v, want fresh session id %q and no history", ack, id)
	}
}

func TestServerReconnectExpiredSession(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{TTL: time.Nanosecond})

	connA := rig.dial()
	idA := readReady(t, connA)
	_ = connA.Close(websocket.StatusNormalClosure, "gone")

	connB := rig.dial()
	idB := readReady(t, connB)

	sendJSON(t, connB, map[string]any{"type": "reconnect", "sessionId": idA})
	errEv := readEvent(t, connB)
	if errEv.Type != "error" || errEv.Code != string(transport.CodeSessionExpired) {
		t.Fatalf("got %+v, want SESSION_EXPIRED error", errEv)
	}
	ack := readEvent(t, connB)
	if ack.Type != "reconnect-ack" || ack.Success || ack.SessionID != idB {
		t.Fatalf("failed ack = %+v", ack)
	}
	if rig.registry.Get(idA) != nil {
		t.Fatal("expired session still registered")
	}
}

func TestServerOfferWithoutMediaFactory(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{})
	conn := rig.dial()
	readReady(t, conn)

	sendJSON(t, conn, map[string]any{"type": "offer", "signal": "v=0"})
	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Code != string(transport.CodeWebRTCUnavailable) {
		t.Fatalf("got %+v, want WEBRTC_UNAVAILABLE error", ev)
	}
}

func TestServerMediaPathSpeechToSpeech(t *testing.T) {
	loop := transport.NewLoopback()
	scripted := &vadmock.Engine{Session: &vadmock.Session{Events: []providervad.VADEvent{
		{Type: providervad.VADSilence},
		{Type: providervad.VADSpeechStart, Probability: 0.9},
		{Type: providervad.VADSpeechEnd, Probability: 0.1},
	}}}
	rig := newWSRig(t, server.Config{}, session.Config{},
		server.WithMediaFactory(func(context.Context) (transport.MediaChannel, error) { return loop, nil }),
		server.WithVADEngine(scripted),
	)
	conn := rig.dial()
	readReady(t, conn)

	sendJSON(t, conn, map[string]any{"type": "offer", "signal": "v=0 client offer"})
	sig := readEvent(t, conn)
	if sig.Type != "signal" || sig.Signal == "" {
		t.Fatalf("got %+v, want signal with an SDP answer", sig)
	}

	frame := make([]byte, 640) // 20ms of 16 kHz mono
	for i := 0; i < 3; i++ {
		if err := loop.PushAudio(frame); err != nil {
			t.Fatalf("push frame %d: %v", i, err)
		}
	}

	evs := collectUntil(t, conn, "tts-complete")
	want := []string{"speech-start", "speech-end", "transcript", "llm-chunk", "llm-chunk", "tts-start", "tts-complete"}
	if !sameKinds(kindsOf(evs), want) {
		t.Fatalf("event kinds = %v, want %v", kindsOf(evs), want)
	}
	if evs[5].Transport != string(transport.DeliveryMedia) {
		t.Fatalf("tts transport = %q, want %q", evs[5].Transport, transport.DeliveryMedia)
	}

	// Synthesized audio rides the media channel, not the reliable one.
	select {
	case data := <-loop.SentAudio():
		if string(data) != "pcm" {
			t.Fatalf("media audio = %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no synthesized audio on the media channel")
	}
}

// frameDecoder stands in for the Opus decoder: every packet decodes to the
// same 20 ms of 48 kHz mono PCM.
type frameDecoder struct {
	pcm []byte
}

func (d *frameDecoder) Decode([]byte) ([]byte, error) { return d.pcm, nil }
func (d *frameDecoder) SampleRate() int               { return 48000 }
func (d *frameDecoder) Channels() int                 { return 1 }

func TestServerOpusMediaResampledBeforeVAD(t *testing.T) {
	loop := transport.NewLoopback()
	sess := &vadmock.Session{Events: []providervad.VADEvent{
		{Type: providervad.VADSilence},
		{Type: providervad.VADSpeechStart, Probability: 0.9},
		{Type: providervad.VADSpeechEnd, Probability: 0.1},
	}}
	scripted := &vadmock.Engine{Session: sess}
	decoded := make([]byte, 1920) // 960 samples: 20 ms of 48 kHz mono
	rig := newWSRig(t,
		server.Config{OpusMedia: true, VAD: vad.Config{SampleRate: 16000, Channels: 1}},
		session.Config{},
		server.WithMediaFactory(func(context.Context) (transport.MediaChannel, error) { return loop, nil }),
		server.WithVADEngine(scripted),
		server.WithMediaDecoder(func(int) (server.MediaDecoder, error) {
			return &frameDecoder{pcm: decoded}, nil
		}),
	)
	conn := rig.dial()
	readReady(t, conn)

	sendJSON(t, conn, map[string]any{"type": "offer", "signal": "v=0 client offer"})
	if sig := readEvent(t, conn); sig.Type != "signal" {
		t.Fatalf("got %+v, want signal with an SDP answer", sig)
	}

	for i := 0; i < 3; i++ {
		if err := loop.PushAudio([]byte("opus packet")); err != nil {
			t.Fatalf("push frame %d: %v", i, err)
		}
	}
	collectUntil(t, conn, "tts-complete")

	// 960 samples at 48 kHz downsample to 320 samples (640 bytes) at the
	// detector's 16 kHz.
	calls := sess.ProcessFrameCalls
	if len(calls) != 3 {
		t.Fatalf("detector saw %d frames, want 3", len(calls))
	}
	for i, call := range calls {
		if len(call.Frame) != 640 {
			t.Fatalf("detector frame %d is %d bytes, want 640 after downsampling", i, len(call.Frame))
		}
	}

	// The assembled utterance reaches STT at the detector rate, not the
	// decoder's 48 kHz: preroll frame + start frame + end frame.
	if len(rig.stt.TranscribeCalls) != 1 {
		t.Fatalf("stt saw %d utterances, want 1", len(rig.stt.TranscribeCalls))
	}
	got := rig.stt.TranscribeCalls[0].Audio
	if got.SampleRate != 16000 || got.Channels != 1 {
		t.Fatalf("utterance format = %d Hz x%d, want 16000 Hz mono", got.SampleRate, got.Channels)
	}
	if len(got.PCM) != 3*640 {
		t.Fatalf("utterance length = %d bytes, want %d", len(got.PCM), 3*640)
	}
}

func TestServerInvalidMessagesKeepConnection(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{})
	conn := rig.dial()
	readReady(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Code != string(transport.CodeInvalidMessage) {
		t.Fatalf("got %+v, want INVALID_MESSAGE error", ev)
	}

	sendJSON(t, conn, map[string]any{"type": "self-destruct"})
	ev = readEvent(t, conn)
	if ev.Type != "error" || ev.Code != string(transport.CodeInvalidMessage) {
		t.Fatalf("got %+v, want INVALID_MESSAGE error", ev)
	}

	// The session survives bad frames.
	sendJSON(t, conn, map[string]any{"type": "ping", "timestamp": int64(7)})
	if ev := readEvent(t, conn); ev.Type != "pong" {
		t.Fatalf("got %q after bad frames, want pong", ev.Type)
	}
}

func TestServerAttachmentsFeedNextTurn(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{})
	conn := rig.dial()
	readReady(t, conn)

	sendJSON(t, conn, map[string]any{"type": "attachments", "attachments": []map[string]any{
		{"data": []byte{0xFF, 0xD8, 0xFF}, "mediaType": "image/jpeg"},
	}})
	sendJSON(t, conn, map[string]any{"type": "audio", "data": wavClip(t)})
	collectUntil(t, conn, "tts-complete")

	if len(rig.vision.AnalyzeCalls) != 1 {
		t.Fatalf("vision calls = %d, want 1", len(rig.vision.AnalyzeCalls))
	}
	msgs := rig.llm.StreamCalls[0].Req.Messages
	last := msgs[len(msgs)-1]
	if len(last.Attachments) != 1 {
		t.Fatalf("user message carries %d attachments, want 1", len(last.Attachments))
	}
	if last.Attachments[0].Alt != "a whiteboard covered in arrows" {
		t.Fatalf("attachment alt = %q", last.Attachments[0].Alt)
	}
}

func TestServerHealthz(t *testing.T) {
	rig := newWSRig(t, server.Config{}, session.Config{}, server.WithHealth(health.New()))
	resp, err := http.Get(rig.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	rig := newWSRig(t, server.Config{Addr: "127.0.0.1:0"}, session.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.server.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if s := rig.registry.Create(transportmock.NewReliable(), "10.0.0.9:40009"); s != nil {
		t.Fatal("registry accepted a session after shutdown")
	}
}
