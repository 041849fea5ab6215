// Package playbook implements the optional stage machine layered over the
// turn engine.
//
// A playbook is an immutable graph of stages and transitions. Before each
// turn the engine resolves the active stage into an effective profile (system
// prompt, tool set, tool choice, LLM config); after each turn it evaluates
// the transitions departing the active stage and fires at most one. Stage
// state (current stage, turns in stage, entry time) lives per session.
package playbook

import (
	"errors"
	"fmt"
	"time"
)

// Wildcard matches any source stage in a transition's From field.
const Wildcard = "*"

// Playbook is the immutable stage machine description. Build it in code or
// load it from YAML with LoadFile; validate with Validate before use.
type Playbook struct {
	// ID names the playbook in logs and archives.
	ID string `yaml:"id"`

	// Stages in declaration order. Ids must be unique.
	Stages []Stage `yaml:"stages"`

	// Transitions in declaration order. Declaration order breaks priority
	// ties. Ids must be unique.
	Transitions []Transition `yaml:"transitions"`

	// InitialStage is the stage a fresh session starts in.
	InitialStage string `yaml:"initial_stage"`

	// GlobalSystemPrompt is prepended to every stage's system prompt.
	GlobalSystemPrompt string `yaml:"global_system_prompt,omitempty"`

	// GlobalTools are offered in every stage, unioned with the stage's own.
	GlobalTools []string `yaml:"global_tools,omitempty"`

	// Defaults seed the LLM config; stage overrides win field by field.
	Defaults LLMConfig `yaml:"defaults,omitempty"`

	// Intents maps intent names to example phrases for the rule classifier.
	// Playbooks wired with a custom classifier may leave it empty.
	Intents map[string][]string `yaml:"intents,omitempty"`
}

// LLMConfig holds LLM parameters. Pointer fields distinguish "not set" from
// legitimate zero values when stage overrides are merged over defaults.
type LLMConfig struct {
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

// Stage is one state of the machine.
type Stage struct {
	ID string `yaml:"id"`

	// SystemPrompt is appended to the playbook's global prompt.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Tools names registry tools offered in this stage.
	Tools []string `yaml:"tools,omitempty"`

	// ToolChoice is auto, none, required, or a specific tool name. Empty
	// means auto.
	ToolChoice string `yaml:"tool_choice,omitempty"`

	// LLM overrides the playbook defaults field by field.
	LLM LLMConfig `yaml:"llm,omitempty"`

	// TwoPhase controls two-phase execution; nil means enabled.
	TwoPhase *bool `yaml:"two_phase,omitempty"`

	// MaxTurns caps turns spent in this stage; 0 means unlimited. The cap
	// only matters to transitions with a max_turns condition.
	MaxTurns int `yaml:"max_turns,omitempty"`

	// TimeoutMs bounds wall-clock time in this stage; 0 means unlimited.
	// Like MaxTurns it is consumed by timeout transitions.
	TimeoutMs int `yaml:"timeout_ms,omitempty"`

	// OnEnter and OnExit run when the stage is entered or left through a
	// transition. Code-built playbooks only.
	OnEnter func() `yaml:"-"`
	OnExit  func() `yaml:"-"`
}

// ConditionKind enumerates the transition condition variants.
type ConditionKind string

// Transition condition kinds.
const (
	CondKeyword     ConditionKind = "keyword"
	CondIntent      ConditionKind = "intent"
	CondToolCall    ConditionKind = "tool_call"
	CondToolResult  ConditionKind = "tool_result"
	CondLLMDecision ConditionKind = "llm_decision"
	CondMaxTurns    ConditionKind = "max_turns"
	CondTimeout     ConditionKind = "timeout"
	CondCustom      ConditionKind = "custom"
)

// IsValid reports whether k is a known condition kind.
func (k ConditionKind) IsValid() bool {
	switch k {
	case CondKeyword, CondIntent, CondToolCall, CondToolResult,
		CondLLMDecision, CondMaxTurns, CondTimeout, CondCustom:
		return true
	}
	return false
}

// Condition is the flattened condition union; which fields matter depends on
// Kind.
type Condition struct {
	Kind ConditionKind `yaml:"kind"`

	// keyword: any of these appears (case-insensitive substring) in the
	// user utterance or the final assistant reply.
	Keywords []string `yaml:"keywords,omitempty"`

	// intent: classified intent of the user utterance matches, with
	// optional minimum confidence.
	Intent        string  `yaml:"intent,omitempty"`
	MinConfidence float64 `yaml:"min_confidence,omitempty"`

	// tool_call / tool_result: the turn executed this tool.
	Tool string `yaml:"tool,omitempty"`

	// tool_result: the successful result content contains this substring.
	// Empty accepts any successful result. Code-built playbooks may set
	// Predicate instead for arbitrary checks.
	ResultContains string                  `yaml:"result_contains,omitempty"`
	Predicate      func(result string) bool `yaml:"-"`

	// max_turns: turns spent in the stage reached this count.
	Count int `yaml:"count,omitempty"`

	// timeout: time spent in the stage reached this duration.
	DurationMs int `yaml:"duration_ms,omitempty"`

	// custom: user-supplied predicate over the turn outcome. Code-built
	// playbooks only.
	Custom func(Outcome) bool `yaml:"-"`
}

// MessageRole selects how a transition message is appended to history.
type MessageRole string

// Transition message roles.
const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleAssistant MessageRole = "assistant"
)

// Action is what a fired transition does.
type Action struct {
	// TargetStage is the stage to enter.
	TargetStage string `yaml:"target_stage"`

	// TransitionMessage, when set, is appended to history as the configured
	// role (default system).
	TransitionMessage string      `yaml:"transition_message,omitempty"`
	MessageRole       MessageRole `yaml:"message_role,omitempty"`

	// ClearHistory wipes the conversation before entering the target stage.
	ClearHistory bool `yaml:"clear_history,omitempty"`
}

// Transition connects stages.
type Transition struct {
	ID string `yaml:"id"`

	// From is a stage id or the wildcard "*".
	From string `yaml:"from"`

	Condition Condition `yaml:"condition"`
	Action    Action    `yaml:"action"`

	// Priority orders evaluation; higher first, declaration order breaks
	// ties.
	Priority int `yaml:"priority,omitempty"`
}

// State is the per-session playbook position.
type State struct {
	CurrentStage string
	TurnsInStage int
	EnteredAt    time.Time
}

// Validate performs the static playbook check: the initial stage exists, all
// transition endpoints exist (or are the wildcard), ids are unique, and every
// condition is well-formed. All problems are reported at once.
func (p *Playbook) Validate() error {
	var errs []error

	stageIDs := make(map[string]struct{}, len(p.Stages))
	for i, s := range p.Stages {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("playbook: stage %d has an empty id", i))
			continue
		}
		if _, dup := stageIDs[s.ID]; dup {
			errs = append(errs, fmt.Errorf("playbook: duplicate stage id %q", s.ID))
		}
		stageIDs[s.ID] = struct{}{}
		if s.ToolChoice != "" && s.ToolChoice != "auto" && s.ToolChoice != "none" && s.ToolChoice != "required" {
			// A specific tool name must be offered by the stage or globally.
			if !containsString(s.Tools, s.ToolChoice) && !containsString(p.GlobalTools, s.ToolChoice) {
				errs = append(errs, fmt.Errorf("playbook: stage %q forces tool %q which it does not offer", s.ID, s.ToolChoice))
			}
		}
	}

	if len(p.Stages) == 0 {
		errs = append(errs, errors.New("playbook: no stages"))
	}
	if p.InitialStage == "" {
		errs = append(errs, errors.New("playbook: initial_stage is required"))
	} else if _, ok := stageIDs[p.InitialStage]; !ok {
		errs = append(errs, fmt.Errorf("playbook: initial_stage %q does not exist", p.InitialStage))
	}

	transitionIDs := make(map[string]struct{}, len(p.Transitions))
	for i, t := range p.Transitions {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("playbook: transition %d has an empty id", i))
		} else {
			if _, dup := transitionIDs[t.ID]; dup {
				errs = append(errs, fmt.Errorf("playbook: duplicate transition id %q", t.ID))
			}
			transitionIDs[t.ID] = struct{}{}
		}
		if t.From != Wildcard {
			if _, ok := stageIDs[t.From]; !ok {
				errs = append(errs, fmt.Errorf("playbook: transition %q from unknown stage %q", t.ID, t.From))
			}
		}
		if _, ok := stageIDs[t.Action.TargetStage]; !ok {
			errs = append(errs, fmt.Errorf("playbook: transition %q targets unknown stage %q", t.ID, t.Action.TargetStage))
		}
		if t.Action.MessageRole != "" && t.Action.MessageRole != MessageRoleSystem && t.Action.MessageRole != MessageRoleAssistant {
			errs = append(errs, fmt.Errorf("playbook: transition %q has invalid message_role %q", t.ID, t.Action.MessageRole))
		}
		errs = append(errs, p.validateCondition(t)...)
	}

	return errors.Join(errs...)
}

func (p *Playbook) validateCondition(t Transition) []error {
	var errs []error
	c := t.Condition
	if !c.Kind.IsValid() {
		return []error{fmt.Errorf("playbook: transition %q has unknown condition kind %q", t.ID, c.Kind)}
	}
	switch c.Kind {
	case CondKeyword:
		if len(c.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("playbook: keyword transition %q has no keywords", t.ID))
		}
	case CondIntent:
		if c.Intent == "" {
			errs = append(errs, fmt.Errorf("playbook: intent transition %q has no intent", t.ID))
		} else if len(p.Intents) > 0 {
			if _, ok := p.Intents[c.Intent]; !ok {
				errs = append(errs, fmt.Errorf("playbook: intent transition %q references undeclared intent %q", t.ID, c.Intent))
			}
		}
	case CondToolCall, CondToolResult:
		if c.Tool == "" {
			errs = append(errs, fmt.Errorf("playbook: %s transition %q has no tool", c.Kind, t.ID))
		}
	case CondMaxTurns:
		if c.Count <= 0 {
			errs = append(errs, fmt.Errorf("playbook: max_turns transition %q needs count > 0", t.ID))
		}
	case CondTimeout:
		if c.DurationMs <= 0 {
			errs = append(errs, fmt.Errorf("playbook: timeout transition %q needs duration_ms > 0", t.ID))
		}
	case CondCustom:
		if c.Custom == nil {
			errs = append(errs, fmt.Errorf("playbook: custom transition %q has no predicate", t.ID))
		}
	}
	return errs
}

// stage returns the stage with the given id.
func (p *Playbook) stage(id string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
