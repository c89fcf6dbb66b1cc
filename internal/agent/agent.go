// Package agent implements the conversational turn loop.
//
// One [Agent] owns a model cascade policy, a retry executor, a tool registry,
// and the conversation, audit, and usage stores. A turn starts with a user
// message, alternates between model completions and tool executions until the
// model stops requesting tools (or the turn cap is reached), and ends with
// the terminal store writes: the final assistant message, the session usage,
// and the collected audit actions.
//
// The loop is a single logical flow per request. Independent sessions run
// concurrently as separate calls; the only shared state is the external store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/northstar-hq/northstar/internal/cascade"
	"github.com/northstar-hq/northstar/internal/observe"
	"github.com/northstar-hq/northstar/internal/tools"
	"github.com/northstar-hq/northstar/pkg/provider/llm"
	"github.com/northstar-hq/northstar/pkg/store"
	"github.com/northstar-hq/northstar/pkg/types"
)

const (
	// defaultHistoryWindow bounds how many recent messages seed the working
	// history of a turn.
	defaultHistoryWindow = 20

	// defaultMaxTurns caps how many completions one user message may trigger.
	defaultMaxTurns = 5

	// fallbackReply is returned when the model produced no usable answer:
	// either empty content on a terminal completion, or a tool chain that hit
	// the turn cap. A capped loop is a policy decision, not an error.
	fallbackReply = "I'm here to help. How can I assist you?"
)

// Config holds all dependencies needed to create an [Agent].
//
// Required fields are Name, Prompt, Policy, Executor, Conversations, Audit,
// and Usage. Tools may be nil for a conversation-only agent; Metrics may be
// nil to disable instrument recording.
type Config struct {
	// Name identifies this agent in logs, metrics, and usage records.
	Name string

	// Prompt builds the system prompt for each turn.
	Prompt PromptBuilder

	// Policy decides the model cascade for a turn.
	Policy *cascade.Policy

	// Executor drives the cascade against the provider gateway.
	Executor *cascade.Executor

	// Tools is the tool registry offered to the model. Nil means the agent
	// answers from the conversation alone.
	Tools *tools.Registry

	// Conversations persists and reads the message log.
	Conversations store.ConversationStore

	// Audit receives action records produced by side-effecting tools.
	Audit store.AuditStore

	// Usage accumulates per-session token and turn counters.
	Usage store.UsageStore

	// HistoryWindow is the number of recent messages seeding a turn.
	// Defaults to 20.
	HistoryWindow int

	// MaxTurns caps completion cycles per user message. Defaults to 5.
	MaxTurns int

	// Temperature and MaxTokens are passed through to every completion.
	Temperature float64
	MaxTokens   int

	// Metrics records turn, attempt, and tool instruments. May be nil.
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// TurnRequest is one user message addressed to an agent.
type TurnRequest struct {
	// SessionID identifies the conversation. Must not be empty.
	SessionID string

	// Message is the user's text. Must not be empty.
	Message string

	// UserName optionally names the speaker for multi-user sessions.
	UserName string

	// Complexity hints which model the cascade should start from.
	// Defaults to [cascade.ComplexityModerate].
	Complexity cascade.Complexity

	// PreferredModel optionally overrides the cascade's starting model.
	PreferredModel string
}

// TurnResult is the caller-visible outcome of one completed turn.
type TurnResult struct {
	// FinalText is the assistant's answer. Never empty: an empty model
	// response and a capped tool chain both yield a canned fallback.
	FinalText string

	// Actions are the audit records collected from tool executions this
	// turn, in execution order.
	Actions []types.AgentAction

	// ModelUsed is the model that produced the final completion.
	ModelUsed string

	// TokensUsed aggregates usage across every completion of the turn.
	TokensUsed llm.Usage

	// Cycles is the number of completions the turn consumed.
	Cycles int

	// Capped reports that the turn cap ended a still-running tool chain.
	Capped bool

	// Warnings lists degraded-but-non-fatal failures, such as a terminal
	// store write that could not be completed.
	Warnings []string
}

// Agent runs the turn loop for one configured persona.
type Agent struct {
	name    string
	prompt  PromptBuilder
	policy  *cascade.Policy
	exec    *cascade.Executor
	tools   *tools.Registry
	conv    store.ConversationStore
	audit   store.AuditStore
	usage   store.UsageStore
	window  int
	maxTurn int
	temp    float64
	maxTok  int
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates an [Agent] from the given configuration.
func New(cfg Config) (*Agent, error) {
	var errs []error
	if cfg.Name == "" {
		errs = append(errs, errors.New("Name must not be empty"))
	}
	if cfg.Prompt == nil {
		errs = append(errs, errors.New("Prompt must not be nil"))
	}
	if cfg.Policy == nil {
		errs = append(errs, errors.New("Policy must not be nil"))
	}
	if cfg.Executor == nil {
		errs = append(errs, errors.New("Executor must not be nil"))
	}
	if cfg.Conversations == nil {
		errs = append(errs, errors.New("Conversations must not be nil"))
	}
	if cfg.Audit == nil {
		errs = append(errs, errors.New("Audit must not be nil"))
	}
	if cfg.Usage == nil {
		errs = append(errs, errors.New("Usage must not be nil"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("agent: invalid config: %w", errors.Join(errs...))
	}

	window := cfg.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}
	maxTurn := cfg.MaxTurns
	if maxTurn <= 0 {
		maxTurn = defaultMaxTurns
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Agent{
		name:    cfg.Name,
		prompt:  cfg.Prompt,
		policy:  cfg.Policy,
		exec:    cfg.Executor,
		tools:   cfg.Tools,
		conv:    cfg.Conversations,
		audit:   cfg.Audit,
		usage:   cfg.Usage,
		window:  window,
		maxTurn: maxTurn,
		temp:    cfg.Temperature,
		maxTok:  cfg.MaxTokens,
		metrics: cfg.Metrics,
		log:     log,
	}, nil
}

// Name returns the agent's configured name.
func (a *Agent) Name() string { return a.name }

// HandleMessage runs one full turn for a user message and blocks until the
// final answer is available.
//
// The user message is persisted before the first model call, so a crash or
// cancellation mid-turn never loses user input. A cancelled context aborts
// the in-flight cascade, skips remaining cycles, and leaves a cancellation
// marker in the audit log.
func (a *Agent) HandleMessage(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(ctx, 1)
		defer a.metrics.ActiveSessions.Add(ctx, -1)
	}

	working, warnings, err := a.beginTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := a.prompt.BuildSystemPrompt(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("agent: build system prompt: %w", err)
	}

	candidates := a.policy.Build(a.complexity(req), req.PreferredModel)
	defs := a.definitions()

	result := &TurnResult{Warnings: warnings}
	var actions []types.AgentAction

	for cycle := 0; cycle < a.maxTurn; cycle++ {
		outcome := a.exec.Execute(ctx, candidates, llm.CompletionRequest{
			Messages:     working,
			Tools:        defs,
			Temperature:  a.temp,
			MaxTokens:    a.maxTok,
			SystemPrompt: systemPrompt,
		})
		a.recordAttempts(ctx, outcome.Attempts)
		result.Cycles++

		if outcome.Err != nil {
			if ctx.Err() != nil {
				a.markCancelled(ctx, req.SessionID, outcome.Err)
			}
			a.recordTurn(ctx, "failed", start)
			return nil, fmt.Errorf("agent: completion failed: %w", outcome.Err)
		}

		resp := outcome.Response
		result.ModelUsed = outcome.ModelUsed
		result.TokensUsed.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 || a.tools == nil {
			result.FinalText = resp.Content
			if result.FinalText == "" {
				result.FinalText = fallbackReply
			}
			break
		}

		// The model wants tools: record its request, execute sequentially,
		// and feed the results back in the order they were requested.
		working = append(working, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for i, res := range a.tools.ExecuteAll(ctx, resp.ToolCalls) {
			working = append(working, types.Message{
				Role:       "tool",
				Content:    res.Text,
				ToolCallID: res.ForToolCallID,
			})
			if res.Action != nil {
				res.Action.SessionID = req.SessionID
				if res.Action.CreatedAt.IsZero() {
					res.Action.CreatedAt = time.Now().UTC()
				}
				actions = append(actions, *res.Action)
			}
			a.recordToolCall(ctx, resp.ToolCalls[i].Name, res)
		}

		if ctx.Err() != nil {
			a.markCancelled(ctx, req.SessionID, ctx.Err())
			a.recordTurn(ctx, "cancelled", start)
			return nil, fmt.Errorf("agent: turn cancelled: %w", ctx.Err())
		}
	}

	turnOutcome := "completed"
	if result.FinalText == "" {
		// Cap reached while the model was still chaining tools.
		result.FinalText = fallbackReply
		result.Capped = true
		turnOutcome = "capped"
	}
	result.Actions = actions

	result.Warnings = append(result.Warnings, a.finishTurn(ctx, req.SessionID, result, actions)...)
	a.recordTurn(ctx, turnOutcome, start)
	return result, nil
}

// beginTurn persists the user message and seeds the working history from the
// bounded recent window. A history read failure degrades to a single-message
// history rather than failing the turn.
func (a *Agent) beginTurn(ctx context.Context, req TurnRequest) ([]types.Message, []string, error) {
	if req.SessionID == "" {
		return nil, nil, errors.New("agent: session id must not be empty")
	}
	if req.Message == "" {
		return nil, nil, errors.New("agent: message must not be empty")
	}

	userMsg := types.Message{Role: "user", Content: req.Message, Name: req.UserName}
	if _, err := a.conv.AppendMessage(ctx, req.SessionID, userMsg); err != nil {
		return nil, nil, fmt.Errorf("agent: persist user message: %w", err)
	}

	recent, err := a.conv.ReadRecent(ctx, req.SessionID, a.window)
	if err != nil {
		a.log.Warn("failed to read recent history, continuing with the new message only",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()))
		return []types.Message{userMsg}, []string{"history unavailable: " + err.Error()}, nil
	}

	working := make([]types.Message, 0, len(recent)+1)
	for _, m := range recent {
		working = append(working, m.Message)
	}
	// The window read should end with the message just appended; make sure
	// the new input reaches the model even when it does not.
	if len(working) == 0 || working[len(working)-1].Role != "user" {
		working = append(working, userMsg)
	}
	return working, nil, nil
}

// finishTurn performs the three terminal writes. Each is independent and
// best-effort: a failure is logged and returned as a warning, never retried,
// and never hides the user-visible answer.
func (a *Agent) finishTurn(ctx context.Context, sessionID string, result *TurnResult, actions []types.AgentAction) []string {
	// The answer must survive caller disconnection; the turn already
	// completed from the user's perspective.
	ctx = context.WithoutCancel(ctx)

	var warnings []string

	final := types.Message{Role: "assistant", Content: result.FinalText, Name: a.name}
	if _, err := a.conv.AppendMessage(ctx, sessionID, final); err != nil {
		a.log.Warn("failed to persist final assistant message",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		warnings = append(warnings, "assistant message not persisted: "+err.Error())
	}

	if err := a.usage.RecordUsage(ctx, store.SessionUsage{
		SessionID:        sessionID,
		Model:            result.ModelUsed,
		PromptTokens:     result.TokensUsed.PromptTokens,
		CompletionTokens: result.TokensUsed.CompletionTokens,
		TotalTokens:      result.TokensUsed.TotalTokens,
		Turns:            1,
	}); err != nil {
		a.log.Warn("failed to record session usage",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		warnings = append(warnings, "usage not recorded: "+err.Error())
	}

	for _, action := range actions {
		if err := a.audit.AppendAction(ctx, action); err != nil {
			a.log.Warn("failed to append audit action",
				slog.String("session_id", sessionID),
				slog.String("action", action.Action),
				slog.String("error", err.Error()))
			warnings = append(warnings, "audit action not recorded: "+err.Error())
		}
	}

	return warnings
}

// markCancelled leaves a best-effort cancellation marker in the audit log.
// The user message is already persisted, so the session record shows both
// the input and the fact that no answer was produced.
func (a *Agent) markCancelled(ctx context.Context, sessionID string, cause error) {
	marker := types.AgentAction{
		SessionID:    sessionID,
		Action:       "turn_cancelled",
		Outcome:      types.OutcomeFailed,
		ErrorMessage: cause.Error(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.audit.AppendAction(context.WithoutCancel(ctx), marker); err != nil {
		a.log.Warn("failed to record cancellation marker",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

func (a *Agent) complexity(req TurnRequest) cascade.Complexity {
	if req.Complexity == "" {
		return cascade.ComplexityModerate
	}
	return req.Complexity
}

// definitions returns the tool schemas offered to the model, or nil for a
// conversation-only agent.
func (a *Agent) definitions() []types.ToolDefinition {
	if a.tools == nil {
		return nil
	}
	return a.tools.Definitions()
}

func (a *Agent) recordAttempts(ctx context.Context, attempts []cascade.AttemptRecord) {
	if a.metrics == nil {
		return
	}
	for _, at := range attempts {
		a.metrics.RecordAttempt(ctx, at.Model, at.Latency.Seconds(), at.Succeeded, string(at.ErrorKind))
		a.metrics.RecordTokens(ctx, at.Model, int64(at.TokensUsed))
	}
}

func (a *Agent) recordToolCall(ctx context.Context, tool string, res tools.ToolResult) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	if res.Action != nil && res.Action.Outcome == types.OutcomeFailed {
		status = "error"
	}
	a.metrics.RecordToolCall(ctx, tool, status)
}

func (a *Agent) recordTurn(ctx context.Context, outcome string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordTurn(context.WithoutCancel(ctx), a.name, outcome, time.Since(start).Seconds())
}
