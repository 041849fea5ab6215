package transport

import (
	"context"
	"errors"
)

// ErrChannelClosed is returned by channel writes after the underlying
// connection has terminated.
var ErrChannelClosed = errors.New("transport: channel closed")

// ReliableChannel is an ordered lossless duplex channel carrying JSON control
// traffic for one session. Implementations preserve FIFO order for Send and
// deliver inbound payloads until the connection dies.
type ReliableChannel interface {
	// Send queues payload for in-order delivery. It blocks only on outbound
	// backpressure and returns ErrChannelClosed once the channel is dead.
	Send(payload []byte) error

	// Inbound returns the stream of raw inbound payloads. The channel is
	// closed when the connection terminates.
	Inbound() <-chan []byte

	// Done is closed when the underlying connection has terminated, whether
	// by Close, peer disconnect, or transport failure.
	Done() <-chan struct{}

	// Close tears the channel down. Idempotent.
	Close() error
}

// MediaChannel is a lossy unordered channel carrying raw audio frames for one
// session. Peer-connection machinery below the frame-delivery boundary (SDP
// details, ICE, TURN) lives behind this interface.
type MediaChannel interface {
	// Answer processes the client's SDP offer and returns the SDP answer.
	Answer(ctx context.Context, offer string) (answer string, err error)

	// AudioInput returns the stream of inbound microphone frames (16-bit
	// PCM). Consumers must also select on Done; the stream may simply stop
	// when the connection terminates.
	AudioInput() <-chan []byte

	// SendAudio delivers one synthesized audio frame to the peer. Delivery
	// is best-effort; congested frames may be dropped.
	SendAudio(data []byte) error

	// Done is closed when the underlying connection has terminated.
	Done() <-chan struct{}

	// Close tears the channel down. Idempotent.
	Close() error
}

// MediaFactory creates the media channel for a session when the client sends
// an offer. A nil factory means peer media is unavailable and clients fall
// back to reliable-channel audio.
type MediaFactory func(ctx context.Context) (MediaChannel, error)
