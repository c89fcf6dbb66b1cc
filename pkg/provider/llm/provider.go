// Package llm defines the Provider interface for completion model backends.
//
// A provider wraps a remote or local model API (e.g., OpenAI GPT-4o, Anthropic
// Claude, or a local Ollama instance) and exposes a uniform interface for the
// Northstar orchestrator to perform completions without coupling to any
// specific SDK. Failures are reported as classified [*ProviderError] values so
// that the cascade executor can distinguish retryable conditions (rate limits,
// server errors, connection resets) from fatal ones (auth, bad request).
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/northstar-hq/northstar/pkg/types"
)

// Usage holds token accounting information returned by the model backend.
// All counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and system
	// prompt. This value directly affects billing and context-window budget tracking.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a convenience;
	// some providers return it directly rather than computing it from the parts.
	TotalTokens int
}

// Add accumulates other into u. Used by the turn loop to aggregate usage
// across the completions of a multi-turn exchange.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CompletionRequest carries everything the model needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages must
// be non-empty. The same request value is reused unchanged for every attempt in
// a cascade, so implementations must not mutate it.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is typically
	// from the "user" role and drives the response.
	Messages []types.Message

	// Tools is the set of function/tool definitions offered to the model. The model
	// may choose to call one or more of them in its response.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0]. Lower values
	// produce more deterministic outputs; higher values increase creativity. A value
	// of 0.0 typically requests greedy (argmax) decoding.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history. If the provider does not natively support a dedicated
	// system prompt, implementors should prepend it as a "system"-role message.
	SystemPrompt string

	// ResponseFormat optionally requests a structured output mode.
	// An empty string means free-form text; "json" requests a JSON object response
	// on providers that support it.
	ResponseFormat string
}

// Chunk is a single token or fragment emitted by a streaming completion.
// Consumers must handle all fields; a single chunk may carry text, a finish
// signal, tool calls, or any combination thereof.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty if the chunk
	// carries only ToolCalls or a FinishReason.
	Text string

	// FinishReason is set on the final chunk and indicates why generation stopped.
	// Common values are "stop" (natural end), "length" (MaxTokens reached),
	// "tool_calls" (model wants to invoke tools), "error" (mid-stream failure),
	// and "" (non-final chunk).
	FinishReason string

	// ToolCalls contains any tool invocations the model is requesting. For streaming
	// providers these are accumulated across fragments and emitted on the final chunk.
	ToolCalls []types.ToolCall

	// Usage is set on the final chunk when the provider reports token accounting
	// for streamed completions. Nil otherwise.
	Usage *Usage

	// Err carries the classified failure when FinishReason is "error".
	// Nil on all other chunks.
	Err error
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model. The caller is
	// responsible for executing them and appending the results to the conversation.
	ToolCalls []types.ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any completion model backend.
//
// Implementations must be safe for concurrent use from multiple goroutines. Each
// method should propagate context cancellation promptly: when ctx is cancelled the
// method must return (or close its channel) as quickly as possible.
//
// Errors returned by Complete and StreamCompletion should be (or wrap) a
// [*ProviderError] so callers can classify them; implementations use [Classify]
// to convert arbitrary SDK errors.
type Provider interface {
	// Complete sends req to the given model and waits for the full response.
	//
	// model selects the concrete model identifier (e.g., "gpt-4o",
	// "claude-sonnet-4"). A provider backed by a single fixed model may ignore it.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, model string, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req to the given model and returns a read-only
	// channel that emits Chunk values as they arrive. The channel is closed by
	// the implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that occur
	// after the channel is opened are surfaced as a Chunk with FinishReason
	// "error"; the initial error return is non-nil only for failures that prevent
	// the stream from starting (e.g., invalid credentials, malformed request).
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, model string, req CompletionRequest) (<-chan Chunk, error)

	// CountTokens estimates the number of tokens that the given message list would
	// consume in the model's context window.
	//
	// Implementations may call the provider's tokenisation API or perform a local
	// approximation. The result need not be exact but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing what the given model
	// supports. The result is assumed to be constant for the lifetime of the
	// Provider instance.
	Capabilities(model string) types.ModelCapabilities
}
