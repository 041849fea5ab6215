package playbook_test

import (
	"testing"
	"time"

	"github.com/llmrtc/llmrtc/internal/playbook"
	"github.com/llmrtc/llmrtc/pkg/provider/llm"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }
func ptrB(v bool) *bool       { return &v }

// supportDesk is the playbook used across the engine tests: a triage stage
// routing to an orders stage on the "order" keyword, with a wildcard
// escalation hatch.
func supportDesk() *playbook.Playbook {
	return &playbook.Playbook{
		ID:                 "support-desk",
		InitialStage:       "triage",
		GlobalSystemPrompt: "You are a support agent for Acme Corp.",
		GlobalTools:        []string{"end_call"},
		Defaults: playbook.LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: ptrF(0.7),
			MaxTokens:   ptrI(512),
		},
		Stages: []playbook.Stage{
			{
				ID:           "triage",
				SystemPrompt: "Figure out what the caller needs.",
			},
			{
				ID:           "orders",
				SystemPrompt: "Help with order lookups and refunds.",
				Tools:        []string{"lookup_order", "end_call"},
				LLM: playbook.LLMConfig{
					Model:       "gpt-4o",
					Temperature: ptrF(0),
				},
			},
			{
				ID:           "escalation",
				SystemPrompt: "Hand the caller off to a human agent.",
				TwoPhase:     ptrB(false),
				ToolChoice:   "none",
			},
		},
		Transitions: []playbook.Transition{
			{
				ID:   "to-orders",
				From: "triage",
				Condition: playbook.Condition{
					Kind:     playbook.CondKeyword,
					Keywords: []string{"order", "refund"},
				},
				Action: playbook.Action{
					TargetStage:       "orders",
					TransitionMessage: "The caller needs order support.",
				},
				Priority: 10,
			},
			{
				ID:        "orders-done",
				From:      "orders",
				Condition: playbook.Condition{Kind: playbook.CondLLMDecision},
				Action:    playbook.Action{TargetStage: "triage"},
			},
			{
				ID:   "escalate",
				From: playbook.Wildcard,
				Condition: playbook.Condition{
					Kind:  playbook.CondMaxTurns,
					Count: 5,
				},
				Action: playbook.Action{
					TargetStage:  "escalation",
					ClearHistory: true,
				},
			},
		},
	}
}

func newEngine(t *testing.T, pb *playbook.Playbook, opts ...playbook.Option) *playbook.Engine {
	t.Helper()
	e, err := playbook.NewEngine(pb, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// ── stage resolution ──────────────────────────────────────────────────────────

func TestResolve_MergesGlobalAndStage(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())
	state := playbook.State{CurrentStage: "orders"}

	prof, err := e.Resolve(state)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	wantPrompt := "You are a support agent for Acme Corp.\n\nHelp with order lookups and refunds."
	if prof.SystemPrompt != wantPrompt {
		t.Errorf("system prompt: got %q, want %q", prof.SystemPrompt, wantPrompt)
	}

	// Tool union keeps declaration order and drops the duplicate end_call.
	wantTools := []string{"end_call", "lookup_order"}
	if len(prof.Tools) != len(wantTools) {
		t.Fatalf("tools: got %v, want %v", prof.Tools, wantTools)
	}
	for i, w := range wantTools {
		if prof.Tools[i] != w {
			t.Errorf("tools[%d]: got %q, want %q", i, prof.Tools[i], w)
		}
	}

	if !prof.TwoPhase {
		t.Error("two-phase: got false, want default true")
	}
	if prof.ToolChoice != "" {
		t.Errorf("tool choice: got %q, want zero value", prof.ToolChoice)
	}
}

// TestResolve_LLMOverrides verifies field-by-field merging, including a
// pointer override carrying a legitimate zero (temperature 0 must beat the
// 0.7 default).
func TestResolve_LLMOverrides(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())

	prof, err := e.Resolve(playbook.State{CurrentStage: "orders"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := llm.Config{Model: "gpt-4o", Temperature: 0, MaxTokens: 512}
	if prof.Config != want {
		t.Errorf("config: got %+v, want %+v", prof.Config, want)
	}

	prof, err = e.Resolve(playbook.State{CurrentStage: "triage"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want = llm.Config{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 512}
	if prof.Config != want {
		t.Errorf("defaults config: got %+v, want %+v", prof.Config, want)
	}
}

func TestResolve_StageSettings(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())

	prof, err := e.Resolve(playbook.State{CurrentStage: "escalation"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if prof.TwoPhase {
		t.Error("two-phase: got true, want false")
	}
	if prof.ToolChoice != llm.ToolChoiceNone {
		t.Errorf("tool choice: got %q, want %q", prof.ToolChoice, llm.ToolChoiceNone)
	}
}

func TestResolve_UnknownStage(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())
	if _, err := e.Resolve(playbook.State{CurrentStage: "zz"}); err == nil {
		t.Fatal("expected error for unknown stage, got nil")
	}
}

// TestResolve_TransitionTargets verifies the llm_decision targets surfaced
// for synthetic tool injection: present only where such transitions depart,
// deduplicated, and including wildcard departures.
func TestResolve_TransitionTargets(t *testing.T) {
	t.Parallel()

	pb := supportDesk()
	pb.Transitions = append(pb.Transitions,
		playbook.Transition{
			ID:        "orders-done-again",
			From:      "orders",
			Condition: playbook.Condition{Kind: playbook.CondLLMDecision},
			Action:    playbook.Action{TargetStage: "triage"},
		},
		playbook.Transition{
			ID:        "anywhere-to-escalation",
			From:      playbook.Wildcard,
			Condition: playbook.Condition{Kind: playbook.CondLLMDecision},
			Action:    playbook.Action{TargetStage: "escalation"},
		},
	)
	e := newEngine(t, pb)

	prof, err := e.Resolve(playbook.State{CurrentStage: "orders"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"triage", "escalation"}
	if len(prof.TransitionTargets) != len(want) {
		t.Fatalf("targets: got %v, want %v", prof.TransitionTargets, want)
	}
	for i, w := range want {
		if prof.TransitionTargets[i] != w {
			t.Errorf("targets[%d]: got %q, want %q", i, prof.TransitionTargets[i], w)
		}
	}

	prof, err = e.Resolve(playbook.State{CurrentStage: "triage"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(prof.TransitionTargets) != 1 || prof.TransitionTargets[0] != "escalation" {
		t.Errorf("triage targets: got %v, want [escalation]", prof.TransitionTargets)
	}
}

func TestTransitionToolDefinition(t *testing.T) {
	t.Parallel()

	def := playbook.TransitionToolDefinition([]string{"orders", "triage"})
	if def.Name != playbook.TransitionToolName {
		t.Errorf("name: got %q, want %q", def.Name, playbook.TransitionToolName)
	}
	props, ok := def.Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("parameters.properties missing: %+v", def.Parameters)
	}
	target, ok := props["target_stage"].(map[string]any)
	if !ok {
		t.Fatalf("target_stage property missing: %+v", props)
	}
	enum, ok := target["enum"].([]any)
	if !ok || len(enum) != 2 || enum[0] != "orders" || enum[1] != "triage" {
		t.Errorf("enum: got %v, want [orders triage]", target["enum"])
	}
}

// ── transition evaluation ─────────────────────────────────────────────────────

// TestEvaluate_KeywordOnUserText covers the triage-to-orders route: a caller
// mentioning their order moves the session into the orders stage and carries
// the transition message.
func TestEvaluate_KeywordOnUserText(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())
	state := e.InitialState()

	fired := e.Evaluate(&state, playbook.Outcome{
		UserText:       "I'd like to check on my Order please",
		AssistantReply: "Sure, let me pull that up.",
	})
	if fired == nil {
		t.Fatal("expected a fired transition, got nil")
	}
	if fired.Transition != "to-orders" {
		t.Errorf("transition: got %q, want %q", fired.Transition, "to-orders")
	}
	if fired.From != "triage" || fired.To != "orders" {
		t.Errorf("route: got %s->%s, want triage->orders", fired.From, fired.To)
	}
	if fired.Reason != "keyword:order" {
		t.Errorf("reason: got %q, want %q", fired.Reason, "keyword:order")
	}
	if fired.Message != "The caller needs order support." {
		t.Errorf("message: got %q", fired.Message)
	}
	if fired.MessageRole != playbook.MessageRoleSystem {
		t.Errorf("message role: got %q, want default system", fired.MessageRole)
	}

	if state.CurrentStage != "orders" {
		t.Errorf("state.CurrentStage: got %q, want %q", state.CurrentStage, "orders")
	}
	if state.TurnsInStage != 0 {
		t.Errorf("state.TurnsInStage: got %d, want 0 after entering", state.TurnsInStage)
	}
}

func TestEvaluate_KeywordOnAssistantReply(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())
	state := e.InitialState()

	fired := e.Evaluate(&state, playbook.Outcome{
		UserText:       "my package never arrived",
		AssistantReply: "I can start a refund for that.",
	})
	if fired == nil {
		t.Fatal("expected a fired transition, got nil")
	}
	if fired.Reason != "keyword:refund" {
		t.Errorf("reason: got %q, want %q", fired.Reason, "keyword:refund")
	}
}

func TestEvaluate_NoMatchAdvancesTurnCounter(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())
	state := e.InitialState()

	for i := 1; i <= 3; i++ {
		if fired := e.Evaluate(&state, playbook.Outcome{UserText: "hello"}); fired != nil {
			t.Fatalf("turn %d: unexpected transition %q", i, fired.Transition)
		}
		if state.TurnsInStage != i {
			t.Errorf("turn %d: TurnsInStage got %d, want %d", i, state.TurnsInStage, i)
		}
	}
	if state.CurrentStage != "triage" {
		t.Errorf("stage: got %q, want triage", state.CurrentStage)
	}
}

// TestEvaluate_MaxTurnsWildcard drives a session past the wildcard escalation
// threshold and verifies the clear-history flag survives.
func TestEvaluate_MaxTurnsWildcard(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())
	state := e.InitialState()

	var fired *playbook.Fired
	for i := 0; i < 5; i++ {
		fired = e.Evaluate(&state, playbook.Outcome{UserText: "hmm"})
	}
	if fired == nil {
		t.Fatal("expected escalation on the fifth turn, got nil")
	}
	if fired.Transition != "escalate" {
		t.Errorf("transition: got %q, want %q", fired.Transition, "escalate")
	}
	if fired.Reason != "max_turns:5" {
		t.Errorf("reason: got %q, want %q", fired.Reason, "max_turns:5")
	}
	if !fired.ClearHistory {
		t.Error("clear history: got false, want true")
	}
	if state.CurrentStage != "escalation" {
		t.Errorf("stage: got %q, want escalation", state.CurrentStage)
	}
}

func TestEvaluate_LLMDecision(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())
	state := playbook.State{CurrentStage: "orders", EnteredAt: time.Now()}

	// A requested stage that no llm_decision transition targets is ignored.
	if fired := e.Evaluate(&state, playbook.Outcome{RequestedStage: "escalation"}); fired != nil {
		t.Fatalf("unexpected transition %q for unreachable request", fired.Transition)
	}

	fired := e.Evaluate(&state, playbook.Outcome{RequestedStage: "triage"})
	if fired == nil {
		t.Fatal("expected a fired transition, got nil")
	}
	if fired.Transition != "orders-done" || fired.Reason != "llm_decision" {
		t.Errorf("got %q (%q), want orders-done (llm_decision)", fired.Transition, fired.Reason)
	}
}

func TestEvaluate_ToolCallAndResult(t *testing.T) {
	t.Parallel()

	pb := supportDesk()
	pb.Transitions = append(pb.Transitions,
		playbook.Transition{
			ID:        "on-lookup",
			From:      "orders",
			Condition: playbook.Condition{Kind: playbook.CondToolCall, Tool: "lookup_order"},
			Action:    playbook.Action{TargetStage: "triage"},
			Priority:  5,
		},
		playbook.Transition{
			ID:   "on-shipped",
			From: "orders",
			Condition: playbook.Condition{
				Kind:           playbook.CondToolResult,
				Tool:           "lookup_order",
				ResultContains: `"status":"shipped"`,
			},
			Action:   playbook.Action{TargetStage: "escalation"},
			Priority: 7,
		},
	)
	e := newEngine(t, pb)

	tests := []struct {
		name    string
		calls   []playbook.ToolCallRecord
		want    string // fired transition id, "" for none
		wantWhy string
	}{
		{
			name:    "tool call matches regardless of result",
			calls:   []playbook.ToolCallRecord{{Name: "lookup_order", Result: `{"status":"pending"}`}},
			want:    "on-lookup",
			wantWhy: "tool_call:lookup_order",
		},
		{
			name:    "tool result substring wins on priority",
			calls:   []playbook.ToolCallRecord{{Name: "lookup_order", Result: `{"status":"shipped"}`}},
			want:    "on-shipped",
			wantWhy: "tool_result:lookup_order",
		},
		{
			name:  "errored result does not match tool_result",
			calls: []playbook.ToolCallRecord{{Name: "lookup_order", Result: `{"error":"boom"}`, IsError: true}},
			want:  "on-lookup",
		},
		{
			name:  "other tool matches nothing",
			calls: []playbook.ToolCallRecord{{Name: "end_call", Result: "null"}},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state := playbook.State{CurrentStage: "orders", EnteredAt: time.Now()}
			fired := e.Evaluate(&state, playbook.Outcome{ToolCalls: tt.calls})
			switch {
			case tt.want == "" && fired != nil:
				t.Fatalf("unexpected transition %q", fired.Transition)
			case tt.want != "" && fired == nil:
				t.Fatalf("expected transition %q, got nil", tt.want)
			case fired != nil && fired.Transition != tt.want:
				t.Errorf("transition: got %q, want %q", fired.Transition, tt.want)
			case fired != nil && tt.wantWhy != "" && fired.Reason != tt.wantWhy:
				t.Errorf("reason: got %q, want %q", fired.Reason, tt.wantWhy)
			}
		})
	}
}

func TestEvaluate_ToolResultPredicate(t *testing.T) {
	t.Parallel()

	pb := supportDesk()
	pb.Transitions = []playbook.Transition{{
		ID:   "big-order",
		From: "orders",
		Condition: playbook.Condition{
			Kind:      playbook.CondToolResult,
			Tool:      "lookup_order",
			Predicate: func(result string) bool { return len(result) > 10 },
		},
		Action: playbook.Action{TargetStage: "escalation"},
	}}
	e := newEngine(t, pb)

	state := playbook.State{CurrentStage: "orders", EnteredAt: time.Now()}
	if fired := e.Evaluate(&state, playbook.Outcome{
		ToolCalls: []playbook.ToolCallRecord{{Name: "lookup_order", Result: "short"}},
	}); fired != nil {
		t.Fatalf("unexpected transition %q", fired.Transition)
	}
	fired := e.Evaluate(&state, playbook.Outcome{
		ToolCalls: []playbook.ToolCallRecord{{Name: "lookup_order", Result: `{"items":[1,2,3]}`}},
	})
	if fired == nil || fired.Transition != "big-order" {
		t.Fatalf("expected big-order, got %+v", fired)
	}
}

func TestEvaluate_Timeout(t *testing.T) {
	t.Parallel()

	pb := supportDesk()
	pb.Transitions = []playbook.Transition{{
		ID:        "stale",
		From:      playbook.Wildcard,
		Condition: playbook.Condition{Kind: playbook.CondTimeout, DurationMs: 60000},
		Action:    playbook.Action{TargetStage: "escalation"},
	}}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := newEngine(t, pb, playbook.WithClock(func() time.Time { return now }))

	state := e.InitialState()
	if fired := e.Evaluate(&state, playbook.Outcome{}); fired != nil {
		t.Fatalf("unexpected transition %q before the deadline", fired.Transition)
	}

	now = now.Add(61 * time.Second)
	fired := e.Evaluate(&state, playbook.Outcome{})
	if fired == nil {
		t.Fatal("expected timeout transition, got nil")
	}
	if fired.Reason != "timeout:60000ms" {
		t.Errorf("reason: got %q, want %q", fired.Reason, "timeout:60000ms")
	}
	if !state.EnteredAt.Equal(now) {
		t.Errorf("EnteredAt not reset: got %v, want %v", state.EnteredAt, now)
	}
}

func TestEvaluate_CustomPredicate(t *testing.T) {
	t.Parallel()

	pb := supportDesk()
	pb.Transitions = []playbook.Transition{{
		ID:   "angry-caller",
		From: playbook.Wildcard,
		Condition: playbook.Condition{
			Kind:   playbook.CondCustom,
			Custom: func(out playbook.Outcome) bool { return len(out.UserText) > 40 },
		},
		Action: playbook.Action{TargetStage: "escalation"},
	}}
	e := newEngine(t, pb)

	state := e.InitialState()
	if fired := e.Evaluate(&state, playbook.Outcome{UserText: "fine"}); fired != nil {
		t.Fatalf("unexpected transition %q", fired.Transition)
	}
	fired := e.Evaluate(&state, playbook.Outcome{
		UserText: "this is the third time I have called about this",
	})
	if fired == nil || fired.Reason != "custom:angry-caller" {
		t.Fatalf("expected custom:angry-caller, got %+v", fired)
	}
}

// TestEvaluate_PriorityAndDeclarationOrder verifies the selection rule: the
// highest priority wins, and among equals the one declared first.
func TestEvaluate_PriorityAndDeclarationOrder(t *testing.T) {
	t.Parallel()

	pb := supportDesk()
	pb.Transitions = []playbook.Transition{
		{
			ID:        "low",
			From:      "triage",
			Condition: playbook.Condition{Kind: playbook.CondKeyword, Keywords: []string{"help"}},
			Action:    playbook.Action{TargetStage: "orders"},
			Priority:  1,
		},
		{
			ID:        "declared-first",
			From:      "triage",
			Condition: playbook.Condition{Kind: playbook.CondKeyword, Keywords: []string{"help"}},
			Action:    playbook.Action{TargetStage: "escalation"},
			Priority:  9,
		},
		{
			ID:        "declared-second",
			From:      "triage",
			Condition: playbook.Condition{Kind: playbook.CondKeyword, Keywords: []string{"help"}},
			Action:    playbook.Action{TargetStage: "orders"},
			Priority:  9,
		},
	}
	e := newEngine(t, pb)

	state := e.InitialState()
	fired := e.Evaluate(&state, playbook.Outcome{UserText: "help me"})
	if fired == nil {
		t.Fatal("expected a fired transition, got nil")
	}
	if fired.Transition != "declared-first" {
		t.Errorf("transition: got %q, want declared-first", fired.Transition)
	}
}

// TestEvaluate_Deterministic re-runs the same outcome from identical states
// and requires the identical decision every time.
func TestEvaluate_Deterministic(t *testing.T) {
	t.Parallel()

	e := newEngine(t, supportDesk())
	out := playbook.Outcome{UserText: "where is my order and my refund"}

	var first *playbook.Fired
	for i := 0; i < 20; i++ {
		state := e.InitialState()
		fired := e.Evaluate(&state, out)
		if fired == nil {
			t.Fatal("expected a fired transition, got nil")
		}
		if first == nil {
			first = fired
			continue
		}
		if fired.Transition != first.Transition || fired.Reason != first.Reason {
			t.Fatalf("run %d diverged: got %q (%q), want %q (%q)",
				i, fired.Transition, fired.Reason, first.Transition, first.Reason)
		}
	}
}

func TestEvaluate_StageHooks(t *testing.T) {
	t.Parallel()

	var exits, enters []string
	pb := supportDesk()
	for i := range pb.Stages {
		id := pb.Stages[i].ID
		pb.Stages[i].OnExit = func() { exits = append(exits, id) }
		pb.Stages[i].OnEnter = func() { enters = append(enters, id) }
	}
	e := newEngine(t, pb)

	state := e.InitialState()
	if fired := e.Evaluate(&state, playbook.Outcome{UserText: "about my order"}); fired == nil {
		t.Fatal("expected a fired transition, got nil")
	}

	if len(exits) != 1 || exits[0] != "triage" {
		t.Errorf("exits: got %v, want [triage]", exits)
	}
	if len(enters) != 1 || enters[0] != "orders" {
		t.Errorf("enters: got %v, want [orders]", enters)
	}
}

func TestEvaluate_ExplicitAssistantMessageRole(t *testing.T) {
	t.Parallel()

	pb := supportDesk()
	pb.Transitions[0].Action.MessageRole = playbook.MessageRoleAssistant
	e := newEngine(t, pb)

	state := e.InitialState()
	fired := e.Evaluate(&state, playbook.Outcome{UserText: "order status"})
	if fired == nil {
		t.Fatal("expected a fired transition, got nil")
	}
	if fired.MessageRole != playbook.MessageRoleAssistant {
		t.Errorf("message role: got %q, want assistant", fired.MessageRole)
	}
}
