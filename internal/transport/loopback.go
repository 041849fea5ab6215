package transport

import (
	"context"
	"sync"
)

const loopbackQueue = 64

// Loopback is an in-process [MediaChannel]. It backs tests and deployments
// without a peer transport; a real WebRTC implementation slots in behind the
// same interface.
type Loopback struct {
	audioIn  chan []byte
	audioOut chan []byte
	done     chan struct{}
	once     sync.Once
}

var _ MediaChannel = (*Loopback)(nil)

// NewLoopback returns a loopback media channel with small bounded queues.
func NewLoopback() *Loopback {
	return &Loopback{
		audioIn:  make(chan []byte, loopbackQueue),
		audioOut: make(chan []byte, loopbackQueue),
		done:     make(chan struct{}),
	}
}

// Answer accepts any offer and returns a canned SDP answer.
func (l *Loopback) Answer(_ context.Context, _ string) (string, error) {
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=LLMRTC Audio\r\n", nil
}

// AudioInput returns the inbound frame stream.
func (l *Loopback) AudioInput() <-chan []byte { return l.audioIn }

// SendAudio delivers one frame to the peer, dropping it when congested.
func (l *Loopback) SendAudio(data []byte) error {
	select {
	case <-l.done:
		return ErrChannelClosed
	default:
	}
	select {
	case l.audioOut <- data:
	default:
		// Lossy by contract; a slow consumer loses frames.
	}
	return nil
}

// Done is closed when the channel has terminated.
func (l *Loopback) Done() <-chan struct{} { return l.done }

// Close tears the channel down. Idempotent.
func (l *Loopback) Close() error {
	l.once.Do(func() {
		close(l.done)
	})
	return nil
}

// PushAudio feeds one inbound frame, as the peer's microphone would. It
// blocks on backpressure and reports ErrChannelClosed after Close.
func (l *Loopback) PushAudio(data []byte) error {
	select {
	case <-l.done:
		return ErrChannelClosed
	default:
	}
	select {
	case l.audioIn <- data:
		return nil
	case <-l.done:
		return ErrChannelClosed
	}
}

// SentAudio exposes the outbound frame stream so tests and local players can
// consume what the peer would receive.
func (l *Loopback) SentAudio() <-chan []byte { return l.audioOut }
