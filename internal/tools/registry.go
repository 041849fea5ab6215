// Package tools implements the per-process tool registry consumed by the
// turn engine's tool loop.
//
// Each tool couples a definition (name, description, JSON-schema parameters)
// with an opaque handler. Execute validates arguments against the schema
// before calling the handler and converts every failure mode (unknown tool,
// schema violation, handler error, handler panic) into an error result, so a
// misbehaving tool can never abort a turn.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/llmrtc/llmrtc/pkg/types"
)

// Handler executes one tool call. args is the raw argument object, already
// validated against the tool's parameter schema. The returned value must be
// JSON-serializable; json.RawMessage passes through verbatim.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool couples a definition with its executor.
type Tool struct {
	Definition types.ToolDefinition
	Handler    Handler
}

// Result is the outcome of one tool invocation, shaped for both the wire
// event and the history tool message.
type Result struct {
	// Content is the JSON payload appended to history: the serialized
	// handler result, or {"error": message} for failures.
	Content string

	// ErrMessage is the human-readable failure; set iff IsError.
	ErrMessage string

	IsError  bool
	Duration time.Duration
}

// ErrToolExists is returned by Register for duplicate tool names.
var ErrToolExists = errors.New("tools: tool already registered")

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry is a concurrent-safe named tool collection. Registration order is
// preserved for stable definition listings.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. The parameter schema is compiled once here; an
// invalid schema is a registration error, not a runtime one.
func (r *Registry) Register(tool Tool) error {
	if tool.Definition.Name == "" {
		return errors.New("tools: tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", tool.Definition.Name)
	}
	params := tool.Definition.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", tool.Definition.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Definition.Name]; ok {
		return fmt.Errorf("%w: %q", ErrToolExists, tool.Definition.Name)
	}
	r.tools[tool.Definition.Name] = entry{tool: tool, schema: schema}
	r.order = append(r.order, tool.Definition.Name)
	return nil
}

// Resolve looks a tool up by name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns the definitions for the named tools, skipping unknown
// names. With no names it returns every registered definition in
// registration order.
func (r *Registry) Definitions(names ...string) []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(names) == 0 {
		names = r.order
	}
	defs := make([]types.ToolDefinition, 0, len(names))
	for _, name := range names {
		if e, ok := r.tools[name]; ok {
			defs = append(defs, e.tool.Definition)
		}
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs one tool call end to end: resolve, validate arguments against
// the schema, invoke the handler, serialize the result. Every failure mode
// becomes an error Result; Execute never returns control flow to abort the
// turn.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) Result {
	start := time.Now()

	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return errorResult(start, fmt.Sprintf("unknown tool %q", call.Name))
	}

	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	validation, err := e.schema.Validate(gojsonschema.NewStringLoader(args))
	if err != nil {
		return errorResult(start, fmt.Sprintf("invalid arguments for %q: %v", call.Name, err))
	}
	if !validation.Valid() {
		details := make([]string, len(validation.Errors()))
		for i, desc := range validation.Errors() {
			details[i] = desc.String()
		}
		return errorResult(start, fmt.Sprintf("arguments for %q failed schema validation: %s", call.Name, strings.Join(details, "; ")))
	}

	value, err := safeInvoke(ctx, e.tool.Handler, json.RawMessage(args))
	if err != nil {
		return errorResult(start, err.Error())
	}

	content, err := marshalResult(value)
	if err != nil {
		return errorResult(start, fmt.Sprintf("tool %q returned an unserializable result: %v", call.Name, err))
	}
	return Result{Content: content, Duration: time.Since(start)}
}

// safeInvoke shields the engine from handler panics.
func safeInvoke(ctx context.Context, h Handler, args json.RawMessage) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return h(ctx, args)
}

// marshalResult serializes a handler result. Raw JSON and strings that
// already hold valid JSON pass through unchanged.
func marshalResult(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case json.RawMessage:
		if !json.Valid(v) {
			return "", errors.New("raw message is not valid JSON")
		}
		return string(v), nil
	case string:
		if json.Valid([]byte(v)) {
			return v, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func errorResult(start time.Time, message string) Result {
	payload, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	if err != nil {
		payload = []byte(`{"error":"tool failed"}`)
	}
	return Result{
		Content:    string(payload),
		ErrMessage: message,
		IsError:    true,
		Duration:   time.Since(start),
	}
}
