package agent

import "context"

// PromptBuilder produces the system prompt for a turn. Implementations may
// assemble it from static persona text, session state, or external context.
type PromptBuilder interface {
	BuildSystemPrompt(ctx context.Context, sessionID string) (string, error)
}

// PromptBuilderFunc adapts a plain function to the [PromptBuilder] interface.
type PromptBuilderFunc func(ctx context.Context, sessionID string) (string, error)

// BuildSystemPrompt implements [PromptBuilder].
func (f PromptBuilderFunc) BuildSystemPrompt(ctx context.Context, sessionID string) (string, error) {
	return f(ctx, sessionID)
}

// StaticPrompt is a [PromptBuilder] that always returns the same text.
type StaticPrompt string

// BuildSystemPrompt implements [PromptBuilder].
func (s StaticPrompt) BuildSystemPrompt(context.Context, string) (string, error) {
	return string(s), nil
}
