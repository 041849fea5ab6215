package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/llmrtc/llmrtc/internal/session"
	"github.com/llmrtc/llmrtc/internal/transport"
	"github.com/llmrtc/llmrtc/internal/vad"
	"github.com/llmrtc/llmrtc/pkg/audio"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/types"
)

// executor drives one client connection: handshake, inbound dispatch, media
// ingest, heartbeat supervision. It holds no provider state of its own; the
// session it is bound to may change once, when a reconnect adopts this
// connection.
type executor struct {
	srv        *Server
	log        *slog.Logger
	remoteAddr string

	ch   *transport.WSChannel
	sess *session.Session

	watchdog *transport.Watchdog
	detector *vad.Detector
	decoder  MediaDecoder
	conv     *audio.FormatConverter
	mediaCh  transport.MediaChannel
	mediaIn  <-chan []byte
}

func (ex *executor) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := ex.sess.Mux().Send(transport.NewReadyEvent(ex.sess.ID, ex.srv.cfg.ICEServers)); err != nil {
		ex.log.Warn("handshake send failed", "error", err)
		return
	}

	// A silent client loses its channels, never its session; the idle TTL
	// decides when the session itself goes.
	ex.watchdog = transport.NewWatchdog(ex.srv.cfg.HeartbeatTimeout, func() {
		ex.log.Info("heartbeat expired; closing channels")
		_ = ex.sess.Mux().Close()
	})
	go ex.watchdog.Run(ctx)

	defer ex.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ex.ch.Inbound():
			if !ok {
				ex.log.Info("control channel closed")
				return
			}
			ex.dispatch(ctx, payload)
		case frame, ok := <-ex.mediaIn:
			if !ok {
				ex.mediaIn = nil
				continue
			}
			ex.ingestFrame(ctx, frame)
		}
	}
}

// teardown releases per-connection resources. The session stays registered.
func (ex *executor) teardown() {
	if ex.detector != nil {
		_ = ex.detector.Close()
	}
	if ex.mediaCh != nil {
		_ = ex.mediaCh.Close()
	}
}

func (ex *executor) dispatch(ctx context.Context, payload []byte) {
	msg, err := transport.DecodeClientMessage(payload)
	if err != nil {
		ex.log.Warn("invalid client message", "error", err)
		_ = ex.sess.Mux().SendError(transport.CodeInvalidMessage, "malformed or unknown message")
		return
	}

	ex.watchdog.Touch()
	ex.srv.registry.Touch(ex.sess.ID)

	switch msg.Type {
	case transport.ClientPing:
		_ = ex.sess.Mux().Send(transport.NewPongEvent(msg.Timestamp))
	case transport.ClientOffer:
		ex.handleOffer(ctx, msg.Signal)
	case transport.ClientReconnect:
		ex.handleReconnect(msg.SessionID)
	case transport.ClientAudio:
		ex.handleAudio(ctx, msg)
	case transport.ClientAttachments:
		ex.enqueueAttachments(msg.Attachments)
	}
}

// handleOffer negotiates the peer media channel and starts routing its
// frames through VAD.
func (ex *executor) handleOffer(ctx context.Context, offer string) {
	mux := ex.sess.Mux()
	if ex.srv.media == nil {
		_ = mux.SendError(transport.CodeWebRTCUnavailable, "no peer media transport configured; use reliable-channel audio")
		return
	}

	media, err := ex.srv.media(ctx)
	if err != nil {
		ex.log.Error("media channel create failed", "error", err)
		_ = mux.SendError(transport.CodeConnectionFailed, "peer media setup failed")
		return
	}
	answer, err := media.Answer(ctx, offer)
	if err != nil {
		_ = media.Close()
		ex.log.Error("sdp answer failed", "error", err)
		_ = mux.SendError(transport.CodeConnectionFailed, "offer rejected")
		return
	}

	if ex.detector == nil {
		det, derr := vad.NewDetector(ex.srv.vadEngine, ex.srv.cfg.VAD)
		if derr != nil {
			_ = media.Close()
			ex.log.Error("vad init failed", "error", derr)
			_ = mux.SendError(transport.CodeVADError, "voice activity detector unavailable")
			return
		}
		ex.detector = det
	}
	if ex.srv.cfg.OpusMedia && ex.decoder == nil {
		dec, derr := ex.srv.newDecoder(ex.srv.cfg.VAD.Channels)
		if derr != nil {
			_ = media.Close()
			ex.log.Error("media decoder init failed", "error", derr)
			_ = mux.SendError(transport.CodeAudioProcessing, "media decoder unavailable")
			return
		}
		ex.decoder = dec
		// Decoder output is typically 48 kHz; the detector runs at the
		// configured VAD format, so decoded frames get resampled on ingest.
		ex.conv = &audio.FormatConverter{Target: audio.Format{
			SampleRate: ex.srv.cfg.VAD.SampleRate,
			Channels:   ex.srv.cfg.VAD.Channels,
		}}
	}

	mux.BindMedia(media)
	ex.mediaCh = media
	ex.mediaIn = media.AudioInput()
	_ = mux.Send(transport.NewSignalEvent(answer))
	ex.log.Info("media channel bound")
}

// handleReconnect resumes an earlier session on this connection. The fresh
// session created at connect time is abandoned once the old one adopts the
// channel; on failure the client keeps the fresh session.
func (ex *executor) handleReconnect(oldID string) {
	if oldID == ex.sess.ID {
		_ = ex.sess.Mux().Send(transport.NewReconnectAckEvent(true, ex.sess.ID, ex.sess.History().Len() > 0))
		return
	}

	adopted, recovered, err := ex.srv.registry.Reconnect(oldID, ex.ch, ex.remoteAddr)
	if err != nil {
		code := transport.CodeSessionNotFound
		if errors.Is(err, session.ErrExpired) {
			code = transport.CodeSessionExpired
		}
		_ = ex.sess.Mux().SendError(code, "session cannot be resumed")
		_ = ex.sess.Mux().Send(transport.NewReconnectAckEvent(false, ex.sess.ID, false))
		return
	}

	fresh := ex.sess.ID
	ex.sess = adopted
	ex.srv.registry.Abandon(fresh)
	if ex.mediaCh != nil {
		adopted.Mux().BindMedia(ex.mediaCh)
	}
	ex.log = ex.srv.log.With("session_id", adopted.ID)
	_ = adopted.Mux().Send(transport.NewReconnectAckEvent(true, adopted.ID, recovered))
	ex.log.Info("reconnect adopted connection",
		"superseded_session_id", fresh,
		"history_recovered", recovered)
}

// handleAudio runs a turn on one complete client-endpointed utterance. The
// reliable-channel fallback carries whole WAV files, so VAD is bypassed.
func (ex *executor) handleAudio(ctx context.Context, msg *transport.ClientMessage) {
	pcm, rate, channels, err := audio.DecodeWAV(msg.Data)
	if err != nil {
		ex.log.Warn("bad audio payload", "error", err)
		_ = ex.sess.Mux().SendError(transport.CodeInvalidAudioFormat, "audio payload must be PCM WAV")
		return
	}
	ex.enqueueAttachments(msg.Attachments)
	ex.sess.Engine().HandleUtterance(ctx, stt.Audio{PCM: pcm, SampleRate: rate, Channels: channels})
}

func (ex *executor) enqueueAttachments(payloads []transport.AttachmentPayload) {
	if len(payloads) == 0 {
		return
	}
	atts := make([]types.Attachment, 0, len(payloads))
	for _, p := range payloads {
		atts = append(atts, p.ToAttachment())
	}
	ex.sess.Engine().EnqueueAttachments(atts...)
}

// ingestFrame pushes one media-channel frame through the utterance detector
// and acts on the edges: speech onset attempts a barge-in, speech end hands
// the utterance to the engine.
func (ex *executor) ingestFrame(ctx context.Context, frame []byte) {
	if ex.detector == nil {
		return
	}
	if ex.decoder != nil {
		pcm, err := ex.decoder.Decode(frame)
		if err != nil {
			ex.log.Warn("media decode failed", "error", err)
			_ = ex.sess.Mux().SendError(transport.CodeAudioProcessing, "undecodable media frame")
			return
		}
		converted := ex.conv.Convert(types.AudioFrame{
			Data:       pcm,
			SampleRate: ex.decoder.SampleRate(),
			Channels:   ex.decoder.Channels(),
		})
		if len(converted.Data) == 0 {
			ex.log.Warn("media decode yielded unusable frame", "bytes", len(pcm))
			return
		}
		frame = converted.Data
	}

	edges, err := ex.detector.Process(frame)
	if err != nil {
		ex.log.Error("vad failed", "error", err)
		_ = ex.sess.Mux().SendError(transport.CodeVADError, "voice activity detection failed")
		return
	}
	for _, edge := range edges {
		switch edge.Kind {
		case vad.SpeechStart:
			_ = ex.sess.Mux().Send(transport.NewSpeechStartEvent())
			if ex.sess.Engine().Interrupt() {
				ex.log.Debug("barge-in", "probability", edge.Probability)
			}
		case vad.SpeechEnd:
			_ = ex.sess.Mux().Send(transport.NewSpeechEndEvent())
			ex.srv.registry.Touch(ex.sess.ID)
			ex.log.Debug("utterance complete",
				"duration_ms", audio.DurationMs(edge.Utterance, ex.srv.cfg.VAD.SampleRate, ex.srv.cfg.VAD.Channels))
			ex.sess.Engine().HandleUtterance(ctx, stt.Audio{
				PCM:        edge.Utterance,
				SampleRate: ex.srv.cfg.VAD.SampleRate,
				Channels:   ex.srv.cfg.VAD.Channels,
			})
		}
	}
}
