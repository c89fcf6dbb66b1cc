// Package tools implements the tool execution registry.
//
// A [Registry] maps tool names to in-process handlers and executes tool calls
// requested by the model. Execution never propagates a failure across the
// boundary: an unknown tool, a handler error, and a handler panic all produce
// a [ToolResult] whose text tells the model what went wrong, so a failing
// tool never aborts the turn it belongs to.
//
// Handlers that change external state return a [types.AgentAction] describing
// the change; the turn loop appends those to the audit log. Read-only handlers
// return no action.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/northstar-hq/northstar/pkg/types"
)

// Handler executes one tool call. args is a JSON object string (e.g. "{}" or
// `{"key":"value"}`). On success it returns the textual payload fed back to
// the model and, for side-effecting tools, an action record for the audit
// log. Read-only handlers return a nil action.
//
// Handlers must respect ctx for cancellation; they are invoked one at a time.
type Handler func(ctx context.Context, args string) (string, *types.AgentAction, error)

// Tool pairs a tool's LLM-facing schema with its handler.
type Tool struct {
	// Definition is the tool's public descriptor presented to the LLM.
	Definition types.ToolDefinition

	// Handler is invoked when the model calls the tool.
	Handler Handler
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// ForToolCallID identifies which assistant tool-call request this result
	// answers. Copied verbatim from the originating [types.ToolCall].
	ForToolCallID string

	// Text is the payload fed back to the model as a tool-role message.
	// On failure it contains a short human-readable description instead of
	// the handler output.
	Text string

	// Action is the audit record produced by a side-effecting handler, or a
	// synthesized failure record when the handler errored. Nil for
	// successful read-only tools.
	Action *types.AgentAction
}

// Registry maps tool names to handlers and executes tool calls within a
// scoped error boundary. Safe for concurrent use.
//
// The zero value is NOT usable; create instances with [NewRegistry].
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   *slog.Logger
}

// RegistryOption customizes a [Registry].
type RegistryOption func(*Registry)

// WithLogger sets the logger used for tool failures. Defaults to
// [slog.Default].
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool to the registry. A tool with the same name replaces
// the previous registration.
func (r *Registry) Register(tool Tool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tools: tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil handler", tool.Definition.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = tool
	return nil
}

// RegisterAll registers every tool in the slice, stopping at the first error.
func (r *Registry) RegisterAll(tools []Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Tools returns every registered tool sorted by name, for copying into
// another registry.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Definition.Name < out[j].Definition.Name })
	return out
}

// Definitions returns the schemas of all registered tools, sorted by name so
// the tool list presented to the model is stable across turns.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one tool call and always returns a usable [ToolResult].
//
// An unregistered tool name yields a result telling the model the tool does
// not exist, with no audit action. A handler error or panic yields a result
// with a short failure text and a failed audit action carrying the error
// message. Execute itself never returns an error.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) ToolResult {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return ToolResult{
			ForToolCallID: call.ID,
			Text:          fmt.Sprintf("unknown tool %q: no such tool is registered", call.Name),
		}
	}

	text, action, err := r.invoke(ctx, tool, call.Arguments)
	if err != nil {
		r.log.Warn("tool execution failed",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()))
		if action == nil {
			action = &types.AgentAction{
				Action:     call.Name,
				Parameters: call.Arguments,
			}
		}
		action.Outcome = types.OutcomeFailed
		action.ErrorMessage = err.Error()
		if action.ID == "" {
			action.ID = uuid.NewString()
		}
		return ToolResult{
			ForToolCallID: call.ID,
			Text:          fmt.Sprintf("tool %q failed: %s", call.Name, err),
			Action:        action,
		}
	}

	if action != nil {
		if action.ID == "" {
			action.ID = uuid.NewString()
		}
		if action.Outcome == "" {
			action.Outcome = types.OutcomeSuccess
		}
	}
	return ToolResult{
		ForToolCallID: call.ID,
		Text:          text,
		Action:        action,
	}
}

// ExecuteAll runs every tool call sequentially in slice order and returns the
// results in the same order. Sequential execution keeps the audit log
// deterministic when one assistant turn requests several calls.
func (r *Registry) ExecuteAll(ctx context.Context, calls []types.ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, r.Execute(ctx, call))
	}
	return results
}

// invoke calls the handler with panic recovery so a misbehaving tool cannot
// take down the turn loop.
func (r *Registry) invoke(ctx context.Context, tool Tool, args string) (text string, action *types.AgentAction, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tools: handler for %q panicked: %v", tool.Definition.Name, rec)
		}
	}()
	return tool.Handler(ctx, args)
}
