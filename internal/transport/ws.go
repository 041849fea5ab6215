package transport

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

const (
	wsOutboundQueue = 256
	wsInboundQueue  = 64
)

// WSChannel adapts an accepted WebSocket connection to [ReliableChannel].
// A single writer goroutine drains the outbound queue so Send preserves FIFO
// order, and a reader goroutine feeds the inbound queue until the connection
// dies.
type WSChannel struct {
	conn *websocket.Conn

	out  chan []byte
	in   chan []byte
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ ReliableChannel = (*WSChannel)(nil)

// NewWSChannel wraps conn and starts its read and write loops. ctx bounds the
// loops; when it is cancelled the channel shuts down.
func NewWSChannel(ctx context.Context, conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn: conn,
		out:  make(chan []byte, wsOutboundQueue),
		in:   make(chan []byte, wsInboundQueue),
		done: make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.writeLoop(ctx)
	return c
}

// Send queues payload for in-order text-frame delivery.
func (c *WSChannel) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.out <- payload:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// Inbound returns the stream of raw inbound payloads.
func (c *WSChannel) Inbound() <-chan []byte { return c.in }

// Done is closed when the connection has terminated.
func (c *WSChannel) Done() <-chan struct{} { return c.done }

// Close tears the channel down and waits for both loops to exit.
func (c *WSChannel) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

// shutdown marks the channel dead. Safe to call from the loops themselves;
// closing the connection unblocks the sibling loop.
func (c *WSChannel) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
	})
}

func (c *WSChannel) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.in)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			// Peer disconnect or context cancellation.
			c.shutdown()
			return
		}
		select {
		case c.in <- data:
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case payload := <-c.out:
			if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			// Flush whatever is already queued before exiting.
			for {
				select {
				case payload := <-c.out:
					_ = c.conn.Write(ctx, websocket.MessageText, payload)
				default:
					return
				}
			}
		}
	}
}
