package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/llmrtc/llmrtc/pkg/types"
)

// MCPTransport selects how an MCP server is reached.
type MCPTransport string

// Supported MCP transports.
const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "http"
)

// IsValid reports whether t is a known transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPTransportStdio || t == MCPTransportHTTP
}

// MCPServerConfig describes one MCP server whose tools are imported into the
// registry at startup.
type MCPServerConfig struct {
	// Name identifies the server in logs and errors.
	Name string

	// Transport selects stdio (Command) or streamable HTTP (URL).
	Transport MCPTransport

	// Command is the stdio server command line, split on whitespace.
	Command string

	// URL is the streamable-HTTP endpoint.
	URL string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// MCPImporter connects to MCP servers and registers their tools. One SDK
// client manages all sessions; Close tears every session down.
type MCPImporter struct {
	client   *mcpsdk.Client
	sessions []*mcpsdk.ClientSession
}

// NewMCPImporter returns an importer with a fresh SDK client.
func NewMCPImporter() *MCPImporter {
	return &MCPImporter{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "llmrtc", Version: "1.0.0"},
			nil,
		),
	}
}

// Import connects to the server described by cfg, lists its tools and
// registers each one with reg. The handler of an imported tool routes the
// call back through the live MCP session. Returns the number of tools
// registered.
func (m *MCPImporter) Import(ctx context.Context, reg *Registry, cfg MCPServerConfig) (int, error) {
	if cfg.Name == "" {
		return 0, errors.New("tools: mcp server must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return 0, fmt.Errorf("tools: unknown mcp transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case MCPTransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return 0, fmt.Errorf("tools: mcp stdio server %q requires a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case MCPTransportHTTP:
		if cfg.URL == "" {
			return 0, fmt.Errorf("tools: mcp http server %q requires a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		return 0, fmt.Errorf("tools: connect to mcp server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return 0, fmt.Errorf("tools: list tools of mcp server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	registered := 0
	for _, mcpTool := range discovered {
		tool := Tool{
			Definition: definitionFromMCP(mcpTool),
			Handler:    mcpHandler(session, mcpTool.Name),
		}
		if err := reg.Register(tool); err != nil {
			// Name collisions with local tools lose; the local tool wins.
			if errors.Is(err, ErrToolExists) {
				continue
			}
			_ = session.Close()
			return registered, fmt.Errorf("tools: register mcp tool %q: %w", mcpTool.Name, err)
		}
		registered++
	}

	m.sessions = append(m.sessions, session)
	return registered, nil
}

// Close terminates every live MCP session.
func (m *MCPImporter) Close() error {
	var errs []error
	for _, s := range m.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.sessions = nil
	return errors.Join(errs...)
}

// mcpHandler routes one tool call through the session and flattens the text
// content of the reply. JSON replies pass through verbatim.
func mcpHandler(session *mcpsdk.ClientSession, name string) Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var argsMap map[string]any
		if len(args) > 0 && string(args) != "{}" {
			if err := json.Unmarshal(args, &argsMap); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
		}
		result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      name,
			Arguments: argsMap,
		})
		if err != nil {
			return nil, fmt.Errorf("mcp call %q: %w", name, err)
		}
		var sb strings.Builder
		for _, c := range result.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if result.IsError {
			return nil, errors.New(sb.String())
		}
		text := sb.String()
		if json.Valid([]byte(text)) {
			return json.RawMessage(text), nil
		}
		return text, nil
	}
}

// definitionFromMCP converts an SDK tool into the engine-level definition.
func definitionFromMCP(t mcpsdk.Tool) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schemaToMap(t.InputSchema),
	}
}

// schemaToMap normalizes any schema representation to a plain map.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a stdio server command line on whitespace.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
