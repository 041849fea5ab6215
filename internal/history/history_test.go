package history_test

import (
	"testing"

	"github.com/llmrtc/llmrtc/internal/history"
	"github.com/llmrtc/llmrtc/pkg/types"
)

func user(text string) types.Message {
	return types.Message{Role: types.RoleUser, Content: text}
}

func assistant(text string) types.Message {
	return types.Message{Role: types.RoleAssistant, Content: text}
}

func assistantToolCall(callID, name string) types.Message {
	return types.Message{
		Role:      types.RoleAssistant,
		ToolCalls: []types.ToolCall{{ID: callID, Name: name, Arguments: "{}"}},
	}
}

func toolResult(callID, name, content string) types.Message {
	return types.Message{
		Role:       types.RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   name,
	}
}

func roles(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestStore_NoTrimUnderLimit(t *testing.T) {
	s := history.New(4)
	s.Append(user("hi"), assistant("hello"))
	if got := s.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	snap := s.Snapshot()
	if snap[0].Content != "hi" || snap[1].Content != "hello" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStore_TrimKeepsToolPairIntact(t *testing.T) {
	// Append [user, assistant(toolCalls), tool, assistant, user] with a
	// limit of 4. The minimum cut of one message lands on the assistant
	// tool-call message, which is a safe start: its result stays adjacent.
	s := history.New(4)
	s.Append(
		user("look up my order"),
		assistantToolCall("t1", "lookup_order"),
		toolResult("t1", "lookup_order", `{"status":"shipped"}`),
		assistant("Your order shipped."),
		user("thanks"),
	)

	snap := s.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("Len = %d, want 4 (roles %v)", len(snap), roles(snap))
	}
	if snap[0].Role == types.RoleTool {
		t.Fatalf("window opens with a stranded tool result: %v", roles(snap))
	}
	if len(snap[0].ToolCalls) != 1 || snap[1].Role != types.RoleTool {
		t.Fatalf("tool pair split: %v", roles(snap))
	}
}

func TestStore_TrimAdvancesPastToolResults(t *testing.T) {
	// With two tool results in the group, the minimum cut would land inside
	// it; the boundary must advance to the next non-tool message even though
	// that leaves the window under the limit.
	s := history.New(4)
	s.Append(
		user("compare prices"),
		assistantToolCall("t1", "search"),
		toolResult("t1", "search", "[]"),
		toolResult("t2", "search", "[]"),
		assistant("Here is what I found."),
		user("go on"),
	)

	snap := s.Snapshot()
	want := []string{types.RoleAssistant, types.RoleUser}
	got := roles(snap)
	if len(got) != len(want) {
		t.Fatalf("roles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roles = %v, want %v", got, want)
		}
	}
}

func TestStore_GroupLargerThanWindowIsKept(t *testing.T) {
	// Mid-turn the window may transiently hold only an unfinished tool-pair
	// group. Splitting it would corrupt the next LLM request, so the store
	// stays over limit until a safe boundary shows up.
	s := history.New(2)
	s.Append(
		assistantToolCall("t1", "a"),
		toolResult("t1", "a", "1"),
		toolResult("t2", "a", "2"),
	)
	if got := s.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3 (group must not be split)", got)
	}

	// The assistant reply provides the boundary; trim catches up.
	s.Append(assistant("done"))
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Role != types.RoleAssistant || snap[0].Content != "done" {
		t.Fatalf("snapshot = %v, want just the reply", roles(snap))
	}
}

func TestStore_TrimIdempotent(t *testing.T) {
	s := history.New(3)
	s.Append(user("a"), assistant("b"), user("c"), assistant("d"))
	first := s.Snapshot()

	// Appending nothing must not move the window.
	s.Append()
	second := s.Snapshot()
	if len(first) != len(second) {
		t.Fatalf("window moved without appends: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Content != second[i].Content {
			t.Fatalf("window changed at %d: %q != %q", i, first[i].Content, second[i].Content)
		}
	}
}

func TestStore_UnlimitedKeepsEverything(t *testing.T) {
	s := history.New(0)
	for i := 0; i < 100; i++ {
		s.Append(user("x"))
	}
	if got := s.Len(); got != 100 {
		t.Fatalf("Len = %d, want 100", got)
	}
}

func TestStore_Clear(t *testing.T) {
	s := history.New(4)
	s.Append(user("a"), assistant("b"))
	s.Clear()
	if got := s.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
	if snap := s.Snapshot(); len(snap) != 0 {
		t.Fatalf("snapshot = %v, want empty", snap)
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := history.New(4)
	s.Append(user("original"))
	snap := s.Snapshot()
	snap[0].Content = "mutated"
	if got := s.Snapshot()[0].Content; got != "original" {
		t.Fatalf("store content = %q, want 'original'", got)
	}
}
