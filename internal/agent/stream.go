package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/northstar-hq/northstar/pkg/provider/llm"
	"github.com/northstar-hq/northstar/pkg/types"
)

// StreamEvent is one element of a streamed turn.
//
// Exactly one of the three fields is meaningful per event: Text carries an
// incremental piece of assistant output, Result marks the successful end of
// the turn, and Err marks its failure. The channel is closed after a Result
// or Err event.
type StreamEvent struct {
	Text   string
	Result *TurnResult
	Err    error
}

// StreamMessage runs one full turn like [Agent.HandleMessage] but emits
// assistant text incrementally as it arrives from the provider.
//
// Retries and model fallback happen only while connecting a stream; once the
// first chunk has been observed the attempt is committed, and a mid-stream
// failure ends the turn with an Err event rather than a retry, because the
// caller has already seen part of the answer. Tool-call cycles run between
// streams; text the model emits alongside tool calls is forwarded as it
// arrives.
//
// The returned error covers setup failures only (validation, persisting the
// user message). Everything later in the turn is reported on the channel.
func (a *Agent) StreamMessage(ctx context.Context, req TurnRequest) (<-chan StreamEvent, error) {
	start := time.Now()

	working, warnings, err := a.beginTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := a.prompt.BuildSystemPrompt(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("agent: build system prompt: %w", err)
	}

	events := make(chan StreamEvent, 16)
	go a.streamTurn(ctx, req, working, systemPrompt, warnings, start, events)
	return events, nil
}

func (a *Agent) streamTurn(ctx context.Context, req TurnRequest, working []types.Message, systemPrompt string, warnings []string, start time.Time, events chan<- StreamEvent) {
	defer close(events)
	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(ctx, 1)
		defer a.metrics.ActiveSessions.Add(ctx, -1)
	}

	fail := func(outcome string, err error) {
		if ctx.Err() != nil {
			a.markCancelled(ctx, req.SessionID, err)
			outcome = "cancelled"
		}
		a.recordTurn(ctx, outcome, start)
		events <- StreamEvent{Err: err}
	}

	candidates := a.policy.Build(a.complexity(req), req.PreferredModel)
	defs := a.definitions()

	result := &TurnResult{Warnings: warnings}
	var actions []types.AgentAction

	for cycle := 0; cycle < a.maxTurn; cycle++ {
		so, err := a.exec.ExecuteStream(ctx, candidates, llm.CompletionRequest{
			Messages:     working,
			Tools:        defs,
			Temperature:  a.temp,
			MaxTokens:    a.maxTok,
			SystemPrompt: systemPrompt,
		})
		result.Cycles++
		if so != nil {
			a.recordAttempts(ctx, so.Attempts)
		}
		if err != nil {
			fail("failed", fmt.Errorf("agent: completion failed: %w", err))
			return
		}
		result.ModelUsed = so.ModelUsed

		var content string
		var toolCalls []types.ToolCall
		var streamErr error
		for chunk := range so.Chunks {
			if chunk.FinishReason == "error" {
				streamErr = chunk.Err
				if streamErr == nil {
					streamErr = fmt.Errorf("agent: stream from %s failed", so.ModelUsed)
				}
				break
			}
			if chunk.Text != "" {
				content += chunk.Text
				events <- StreamEvent{Text: chunk.Text}
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}
			if chunk.Usage != nil {
				result.TokensUsed.Add(*chunk.Usage)
			}
		}
		if streamErr != nil {
			// The partial answer has already been observed: no retry.
			fail("failed", fmt.Errorf("agent: stream interrupted: %w", streamErr))
			return
		}

		if len(toolCalls) == 0 || a.tools == nil {
			result.FinalText = content
			if result.FinalText == "" {
				result.FinalText = fallbackReply
				events <- StreamEvent{Text: fallbackReply}
			}
			break
		}

		working = append(working, types.Message{
			Role:      "assistant",
			Content:   content,
			ToolCalls: toolCalls,
		})
		for i, res := range a.tools.ExecuteAll(ctx, toolCalls) {
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
			a.recordToolCall(ctx, toolCalls[i].Name, res)
		}

		if ctx.Err() != nil {
			fail("cancelled", fmt.Errorf("agent: turn cancelled: %w", ctx.Err()))
			return
		}
	}

	turnOutcome := "completed"
	if result.FinalText == "" {
		result.FinalText = fallbackReply
		result.Capped = true
		turnOutcome = "capped"
		events <- StreamEvent{Text: fallbackReply}
	}
	result.Actions = actions

	result.Warnings = append(result.Warnings, a.finishTurn(ctx, req.SessionID, result, actions)...)
	a.recordTurn(ctx, turnOutcome, start)
	events <- StreamEvent{Result: result}
}
