package transport

import (
	"context"
	"time"
)

// Watchdog closes a session's channels when the client stops sending
// heartbeats. Only the channels die; the session stays registered and
// reachable via reconnect.
type Watchdog struct {
	timeout time.Duration
	touch   chan struct{}
	expire  func()
}

// NewWatchdog returns a watchdog that calls onExpire once no heartbeat
// arrived for timeout. onExpire runs on the watchdog goroutine.
func NewWatchdog(timeout time.Duration, onExpire func()) *Watchdog {
	return &Watchdog{
		timeout: timeout,
		touch:   make(chan struct{}, 1),
		expire:  onExpire,
	}
}

// Touch records a heartbeat. Never blocks.
func (w *Watchdog) Touch() {
	select {
	case w.touch <- struct{}{}:
	default:
	}
}

// Run blocks until the watchdog expires or ctx is cancelled. A non-positive
// timeout disables the watchdog entirely.
func (w *Watchdog) Run(ctx context.Context) {
	if w.timeout <= 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.touch:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.timeout)
		case <-timer.C:
			w.expire()
			return
		}
	}
}
