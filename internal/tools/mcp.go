package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/northstar-hq/northstar/pkg/types"
)

// MCP transport mechanisms.
const (
	MCPTransportStdio = "stdio"
	MCPTransportHTTP  = "http"
)

// MCPServerConfig describes how to connect to a single MCP server whose tool
// catalogue should be imported into a [Registry].
type MCPServerConfig struct {
	// Name is the human-readable identifier for this server, used in log
	// messages and errors. Must be unique within a bridge.
	Name string

	// Transport is [MCPTransportStdio] (spawn a subprocess) or
	// [MCPTransportHTTP] (streamable HTTP endpoint).
	Transport string

	// Command is the executable path and optional arguments used for the
	// stdio transport, e.g. "/usr/local/bin/mcp-server --config /etc/mcp.json".
	Command string

	// URL is the endpoint address used for the http transport.
	URL string

	// Env holds additional environment variables injected into the server
	// process for the stdio transport. May be nil.
	Env map[string]string
}

// MCPBridge connects to external MCP servers and registers their tools as
// ordinary registry handlers. Imported tools are read-only from the audit
// log's perspective: they never emit an [types.AgentAction].
type MCPBridge struct {
	client   *mcpsdk.Client
	sessions map[string]*mcpsdk.ClientSession
}

// NewMCPBridge creates a bridge ready to import servers.
func NewMCPBridge() *MCPBridge {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "northstar-tools", Version: "1.0.0"},
		nil,
	)
	return &MCPBridge{
		client:   client,
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Import connects to the server described by cfg, lists its tools, and
// registers each one with reg. The bridge keeps the session open; call
// [MCPBridge.Close] to release all connections.
func (b *MCPBridge) Import(ctx context.Context, reg *Registry, cfg MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server config must have a non-empty name")
	}
	if _, ok := b.sessions[cfg.Name]; ok {
		return fmt.Errorf("tools: mcp server %q already imported", cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case MCPTransportStdio:
		executable, cmdArgs := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tools: stdio mcp server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, cmdArgs...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case MCPTransportHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: http mcp server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: unknown mcp transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: failed to connect to mcp server %q: %w", cfg.Name, err)
	}

	var imported int
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: failed to list tools for mcp server %q: %w", cfg.Name, err)
		}
		if regErr := reg.Register(bridgeTool(session, *tool)); regErr != nil {
			_ = session.Close()
			return fmt.Errorf("tools: mcp server %q: %w", cfg.Name, regErr)
		}
		imported++
	}
	if imported == 0 {
		_ = session.Close()
		return fmt.Errorf("tools: mcp server %q exposes no tools", cfg.Name)
	}

	b.sessions[cfg.Name] = session
	return nil
}

// Close shuts down all server connections. After Close returns the imported
// tools stop working and the bridge must not be used again.
func (b *MCPBridge) Close() error {
	var errs []error
	for name, session := range b.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tools: closing mcp server %q: %w", name, err))
		}
		delete(b.sessions, name)
	}
	return errors.Join(errs...)
}

// bridgeTool wraps one remote MCP tool as a registry Tool.
func bridgeTool(session *mcpsdk.ClientSession, t mcpsdk.Tool) Tool {
	def := types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schemaToMap(t.InputSchema),
	}
	return Tool{
		Definition: def,
		Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
			var argsMap map[string]any
			if args != "" && args != "{}" {
				if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
					return "", nil, fmt.Errorf("tools: invalid args JSON for mcp tool %q: %w", t.Name, err)
				}
			}

			result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      t.Name,
				Arguments: argsMap,
			})
			if err != nil {
				return "", nil, fmt.Errorf("tools: call to mcp tool %q failed: %w", t.Name, err)
			}

			var sb strings.Builder
			for _, c := range result.Content {
				if tc, ok := c.(*mcpsdk.TextContent); ok {
					sb.WriteString(tc.Text)
				}
			}
			if result.IsError {
				return "", nil, fmt.Errorf("tools: mcp tool %q reported an error: %s", t.Name, sb.String())
			}
			return sb.String(), nil, nil
		},
	}
}

// schemaToMap converts any schema value to a map[string]any via a JSON
// round-trip, defaulting to an empty object schema.
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

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" yields ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
