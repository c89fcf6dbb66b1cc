// Package types defines the shared types used across all Northstar packages.
//
// These types form the lingua franca between providers, the cascade executor,
// the tool registry, and the agent turn loop. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import "time"

// Message represents a single message in an assistant conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the model.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to a model.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in model prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ActionOutcome classifies whether a side effect succeeded.
type ActionOutcome string

const (
	// OutcomeSuccess indicates the tool handler completed its side effect.
	OutcomeSuccess ActionOutcome = "success"

	// OutcomeFailed indicates the handler returned an error; ErrorMessage
	// carries the detail.
	OutcomeFailed ActionOutcome = "failed"
)

// AgentAction is the audit record of a side effect caused by a tool call.
// Actions are created by the tool registry, collected by the turn loop, and
// appended to the audit log once the turn completes. They are never mutated
// or retried after creation.
type AgentAction struct {
	// ID is a UUID assigned when the action is recorded.
	ID string

	// SessionID is the conversation this action belongs to.
	SessionID string

	// Action is the operation name (normally the tool name, e.g. "create_task").
	Action string

	// EntityType classifies what was touched ("task", "trade", "document", …).
	// Empty for operations that do not map to a stored entity.
	EntityType string

	// EntityID is the identifier of the created or modified entity, when known.
	EntityID string

	// Parameters is the JSON-encoded argument payload the tool was invoked with.
	Parameters string

	// Outcome records whether the side effect succeeded.
	Outcome ActionOutcome

	// ErrorMessage holds the failure detail when Outcome is OutcomeFailed.
	ErrorMessage string

	// CreatedAt is when the action was recorded.
	CreatedAt time.Time
}

// ModelCapabilities describes what a completion model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
