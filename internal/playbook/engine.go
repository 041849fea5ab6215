package playbook

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/llmrtc/llmrtc/pkg/provider/llm"
	"github.com/llmrtc/llmrtc/pkg/types"
)

// TransitionToolName is the synthetic tool injected when any llm_decision
// transition departs the current stage. The model calls it to request a
// stage change.
const TransitionToolName = "playbook_transition"

// TransitionToolDefinition builds the synthetic tool definition offered to
// the model, constrained to the given target stages.
func TransitionToolDefinition(targets []string) types.ToolDefinition {
	enum := make([]any, len(targets))
	for i, t := range targets {
		enum[i] = t
	}
	return types.ToolDefinition{
		Name:        TransitionToolName,
		Description: "Move the conversation to a different stage. Call this only when the current stage's goal is complete or the user asks for something the current stage cannot handle.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target_stage": map[string]any{
					"type":        "string",
					"description": "The stage to move to.",
					"enum":        enum,
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Short justification for the change.",
				},
			},
			"required": []any{"target_stage"},
		},
	}
}

// StageProfile is the effective configuration of the active stage, resolved
// against the playbook's global settings. The turn engine consults it before
// every turn.
type StageProfile struct {
	// Stage is the resolved stage id.
	Stage string

	// SystemPrompt is the global prompt plus the stage prompt, blank-line
	// separated.
	SystemPrompt string

	// Tools is the union of global and stage tool names, declaration order,
	// duplicates removed.
	Tools []string

	// ToolChoice constrains tool use for the stage.
	ToolChoice llm.ToolChoice

	// Config is the playbook defaults with stage overrides applied.
	Config llm.Config

	// TwoPhase reports whether the stage uses two-phase turn execution.
	TwoPhase bool

	// TransitionTargets lists the stages reachable through llm_decision
	// transitions. Non-empty means the turn engine must offer the
	// playbook_transition tool with these targets.
	TransitionTargets []string
}

// ToolCallRecord is one tool execution from the turn, as seen by transition
// conditions.
type ToolCallRecord struct {
	Name    string
	CallID  string
	Result  string
	IsError bool
}

// Outcome summarizes a finished turn for transition evaluation.
type Outcome struct {
	// UserText is the final transcript (or typed text) that started the turn.
	UserText string

	// AssistantReply is the assistant's final spoken reply.
	AssistantReply string

	// ToolCalls lists the tools executed during the turn, in order.
	ToolCalls []ToolCallRecord

	// RequestedStage is the target the model asked for through the
	// playbook_transition tool, or empty.
	RequestedStage string
}

// Fired describes the single transition Evaluate applied.
type Fired struct {
	// Transition is the transition's id.
	Transition string

	// From and To are the stage ids before and after.
	From string
	To   string

	// Reason is a short machine-readable cause, e.g. "keyword:order" or
	// "max_turns:10".
	Reason string

	// Message and MessageRole carry the transition message to append to
	// history; Message is empty when the transition has none.
	Message     string
	MessageRole MessageRole

	// ClearHistory requests wiping the conversation before the new stage.
	ClearHistory bool
}

// IntentClassifier assigns an intent label plus confidence to a user
// utterance. Implementations must be safe for concurrent use.
type IntentClassifier interface {
	Classify(text string) (intent string, confidence float64)
}

// Engine evaluates a validated playbook. One engine serves all sessions;
// per-session position travels in State.
type Engine struct {
	pb         *Playbook
	classifier IntentClassifier
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier sets the intent classifier used by intent conditions.
// Without one, intent conditions never match.
func WithClassifier(c IntentClassifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithClock overrides the time source for timeout conditions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine validates the playbook and builds an engine for it.
func NewEngine(pb *Playbook, opts ...Option) (*Engine, error) {
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{pb: pb, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Playbook returns the engine's playbook.
func (e *Engine) Playbook() *Playbook { return e.pb }

// InitialState positions a fresh session at the initial stage.
func (e *Engine) InitialState() State {
	return State{CurrentStage: e.pb.InitialStage, EnteredAt: e.now()}
}

// Resolve computes the effective profile of the state's current stage.
func (e *Engine) Resolve(state State) (StageProfile, error) {
	stage, ok := e.pb.stage(state.CurrentStage)
	if !ok {
		return StageProfile{}, fmt.Errorf("playbook: unknown stage %q", state.CurrentStage)
	}

	prompt := e.pb.GlobalSystemPrompt
	if stage.SystemPrompt != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += stage.SystemPrompt
	}

	twoPhase := true
	if stage.TwoPhase != nil {
		twoPhase = *stage.TwoPhase
	}

	return StageProfile{
		Stage:             stage.ID,
		SystemPrompt:      prompt,
		Tools:             unionStrings(e.pb.GlobalTools, stage.Tools),
		ToolChoice:        llm.ToolChoice(stage.ToolChoice),
		Config:            mergeConfig(e.pb.Defaults, stage.LLM),
		TwoPhase:          twoPhase,
		TransitionTargets: e.decisionTargets(stage.ID),
	}, nil
}

// Evaluate advances the state's turn counter and fires at most one departing
// transition: highest priority first, declaration order breaking ties, first
// match wins. It mutates state (turn counter, and stage position when a
// transition fires) and runs the stages' OnExit/OnEnter hooks.
func (e *Engine) Evaluate(state *State, out Outcome) *Fired {
	state.TurnsInStage++

	idx := make([]int, 0, len(e.pb.Transitions))
	for i, t := range e.pb.Transitions {
		if t.From == state.CurrentStage || t.From == Wildcard {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return e.pb.Transitions[idx[a]].Priority > e.pb.Transitions[idx[b]].Priority
	})

	for _, i := range idx {
		t := e.pb.Transitions[i]
		reason, ok := e.match(t, *state, out)
		if !ok {
			continue
		}
		fired := &Fired{
			Transition:   t.ID,
			From:         state.CurrentStage,
			To:           t.Action.TargetStage,
			Reason:       reason,
			Message:      t.Action.TransitionMessage,
			MessageRole:  t.Action.MessageRole,
			ClearHistory: t.Action.ClearHistory,
		}
		if fired.Message != "" && fired.MessageRole == "" {
			fired.MessageRole = MessageRoleSystem
		}
		e.apply(state, t)
		return fired
	}
	return nil
}

// apply moves the state into the transition's target stage and runs hooks.
// Self-transitions re-enter the stage, resetting its counters.
func (e *Engine) apply(state *State, t Transition) {
	if from, ok := e.pb.stage(state.CurrentStage); ok && from.OnExit != nil {
		from.OnExit()
	}
	state.CurrentStage = t.Action.TargetStage
	state.TurnsInStage = 0
	state.EnteredAt = e.now()
	if to, ok := e.pb.stage(state.CurrentStage); ok && to.OnEnter != nil {
		to.OnEnter()
	}
}

// match reports whether the transition's condition holds for this turn, and
// the reason string to attach when it does.
func (e *Engine) match(t Transition, state State, out Outcome) (string, bool) {
	c := t.Condition
	switch c.Kind {
	case CondKeyword:
		haystacks := []string{strings.ToLower(out.UserText), strings.ToLower(out.AssistantReply)}
		for _, kw := range c.Keywords {
			needle := strings.ToLower(kw)
			for _, h := range haystacks {
				if h != "" && strings.Contains(h, needle) {
					return "keyword:" + kw, true
				}
			}
		}

	case CondIntent:
		if e.classifier == nil || out.UserText == "" {
			return "", false
		}
		intent, conf := e.classifier.Classify(out.UserText)
		if intent == c.Intent && conf >= c.MinConfidence {
			return "intent:" + intent, true
		}

	case CondToolCall:
		for _, tc := range out.ToolCalls {
			if tc.Name == c.Tool {
				return "tool_call:" + c.Tool, true
			}
		}

	case CondToolResult:
		for _, tc := range out.ToolCalls {
			if tc.Name != c.Tool || tc.IsError {
				continue
			}
			if c.Predicate != nil {
				if c.Predicate(tc.Result) {
					return "tool_result:" + c.Tool, true
				}
				continue
			}
			if c.ResultContains == "" || strings.Contains(tc.Result, c.ResultContains) {
				return "tool_result:" + c.Tool, true
			}
		}

	case CondLLMDecision:
		if out.RequestedStage != "" && out.RequestedStage == t.Action.TargetStage {
			return "llm_decision", true
		}

	case CondMaxTurns:
		if state.TurnsInStage >= c.Count {
			return fmt.Sprintf("max_turns:%d", c.Count), true
		}

	case CondTimeout:
		if e.now().Sub(state.EnteredAt) >= time.Duration(c.DurationMs)*time.Millisecond {
			return fmt.Sprintf("timeout:%dms", c.DurationMs), true
		}

	case CondCustom:
		if c.Custom != nil && c.Custom(out) {
			return "custom:" + t.ID, true
		}
	}
	return "", false
}

// decisionTargets collects the llm_decision targets reachable from the
// stage, declaration order, duplicates removed.
func (e *Engine) decisionTargets(stageID string) []string {
	var targets []string
	for _, t := range e.pb.Transitions {
		if t.Condition.Kind != CondLLMDecision {
			continue
		}
		if t.From != stageID && t.From != Wildcard {
			continue
		}
		if !containsString(targets, t.Action.TargetStage) {
			targets = append(targets, t.Action.TargetStage)
		}
	}
	return targets
}

func unionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !containsString(out, s) {
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !containsString(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func mergeConfig(base LLMConfig, over LLMConfig) llm.Config {
	cfg := llm.Config{Model: base.Model}
	if base.Temperature != nil {
		cfg.Temperature = *base.Temperature
	}
	if base.TopP != nil {
		cfg.TopP = *base.TopP
	}
	if base.MaxTokens != nil {
		cfg.MaxTokens = *base.MaxTokens
	}
	if over.Model != "" {
		cfg.Model = over.Model
	}
	if over.Temperature != nil {
		cfg.Temperature = *over.Temperature
	}
	if over.TopP != nil {
		cfg.TopP = *over.TopP
	}
	if over.MaxTokens != nil {
		cfg.MaxTokens = *over.MaxTokens
	}
	return cfg
}
