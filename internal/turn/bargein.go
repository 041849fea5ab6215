package turn

import (
	"sync"
	"time"
)

// bargeGate implements the suppression window that follows a finished TTS
// playback. Residual assistant audio can leak into the microphone for a
// short moment after ttsComplete and retrigger the voice detector; speech
// starts inside the window are ignored rather than treated as barge-in.
type bargeGate struct {
	mu          sync.Mutex
	suppression time.Duration
	lastDone    time.Time
	now         func() time.Time
}

func newBargeGate(suppression time.Duration) *bargeGate {
	return &bargeGate{suppression: suppression, now: time.Now}
}

// noteComplete marks the end of a TTS playback and opens the window.
func (g *bargeGate) noteComplete() {
	g.mu.Lock()
	g.lastDone = g.now()
	g.mu.Unlock()
}

// allow reports whether a speech start observed now should interrupt.
func (g *bargeGate) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suppression <= 0 || g.lastDone.IsZero() {
		return true
	}
	return g.now().Sub(g.lastDone) >= g.suppression
}
