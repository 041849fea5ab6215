// Package history holds the per-session conversation window sent to the LLM.
//
// The store is append-only between trims and trims itself on append: when the
// message count exceeds the configured limit, whole messages are removed from
// the head until the window fits. The cut never lands inside a tool-pair
// group (an assistant message carrying tool calls plus the tool results that
// follow it), because upstream LLM APIs reject tool results whose triggering
// assistant message is missing from the window.
//
// The system prompt is not stored here; stage resolution supplies it per
// turn, so switching playbook stages never requires rewriting history.
package history

import (
	"sync"

	"github.com/llmrtc/llmrtc/pkg/types"
)

// Store is a bounded conversation history. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	limit    int
	messages []types.Message
}

// New creates a Store keeping at most limit messages. A limit <= 0 disables
// trimming.
func New(limit int) *Store {
	return &Store{limit: limit}
}

// Append adds msgs in order and then trims. A tool-pair group (assistant
// message with tool calls plus its results) should be appended as one batch
// so the trim never observes a half-written group.
func (s *Store) Append(msgs ...types.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
	s.trim()
}

// Snapshot returns a copy of the current window, oldest first. The caller may
// freely modify the returned slice.
func (s *Store) Snapshot() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear wipes all messages.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// trim removes the smallest safe head so that at most limit messages remain.
// The caller must hold s.mu.
//
// The cut index starts at the minimum removal count and advances past any
// tool-result messages, so the kept window never opens with a stranded tool
// result. If the final tool-pair group alone exceeds the limit (possible
// mid-turn, while results are still being appended), the window is left over
// limit; the next append with a safe boundary trims it.
func (s *Store) trim() {
	if s.limit <= 0 || len(s.messages) <= s.limit {
		return
	}
	cut := len(s.messages) - s.limit
	for cut < len(s.messages) && s.messages[cut].Role == types.RoleTool {
		cut++
	}
	if cut >= len(s.messages) {
		return
	}
	kept := make([]types.Message, len(s.messages)-cut)
	copy(kept, s.messages[cut:])
	s.messages = kept
}
