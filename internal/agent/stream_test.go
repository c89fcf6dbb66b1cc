package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/northstar-hq/northstar/internal/tools"
	"github.com/northstar-hq/northstar/pkg/provider/llm"
	llmmock "github.com/northstar-hq/northstar/pkg/provider/llm/mock"
	"github.com/northstar-hq/northstar/pkg/types"
)

// collectEvents drains the event channel with a safety timeout so a stuck
// stream fails the test instead of hanging it.
func collectEvents(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestStreamMessage_EmitsTextThenResult(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hel"},
			{Text: "lo."},
			{FinishReason: "stop", Usage: &llm.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}},
		},
	}
	a, st := newTestAgent(t, provider, nil)

	ch, err := a.StreamMessage(context.Background(), TurnRequest{SessionID: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	events := collectEvents(t, ch)

	if len(events) != 3 {
		t.Fatalf("expected 2 text events and a result, got %d: %+v", len(events), events)
	}
	var text strings.Builder
	for _, ev := range events[:2] {
		text.WriteString(ev.Text)
	}
	if text.String() != "Hello." {
		t.Errorf("streamed text = %q, want %q", text.String(), "Hello.")
	}

	res := events[2].Result
	if res == nil {
		t.Fatal("expected final event to carry the result")
	}
	if res.FinalText != "Hello." {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	if res.Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", res.Cycles)
	}
	if res.TokensUsed.TotalTokens != 16 {
		t.Errorf("TokensUsed total = %d, want 16", res.TokensUsed.TotalTokens)
	}

	// Both the user message and the assembled answer were persisted.
	if got := st.conv.CallCount("AppendMessage"); got != 2 {
		t.Errorf("AppendMessage calls = %d, want 2", got)
	}
	if st.usage.CallCount("RecordUsage") != 1 {
		t.Error("expected usage recorded for the streamed turn")
	}
}

func TestStreamMessage_EmptyStreamFallsBack(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{FinishReason: "stop"}},
	}
	a, _ := newTestAgent(t, provider, nil)

	ch, err := a.StreamMessage(context.Background(), TurnRequest{SessionID: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	events := collectEvents(t, ch)

	if len(events) != 2 {
		t.Fatalf("expected the fallback text and a result, got %+v", events)
	}
	if events[0].Text != fallbackReply {
		t.Errorf("expected the fallback emitted as text, got %q", events[0].Text)
	}
	if events[1].Result == nil || events[1].Result.FinalText != fallbackReply {
		t.Errorf("expected the fallback in the result, got %+v", events[1])
	}
}

func TestStreamMessage_MidStreamErrorEndsTurn(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "The answer is"},
			{FinishReason: "error", Err: errors.New("connection reset")},
		},
	}
	a, st := newTestAgent(t, provider, nil)

	ch, err := a.StreamMessage(context.Background(), TurnRequest{SessionID: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	events := collectEvents(t, ch)

	if len(events) != 2 {
		t.Fatalf("expected partial text then an error, got %+v", events)
	}
	if events[0].Text != "The answer is" {
		t.Errorf("partial text = %q", events[0].Text)
	}
	if events[1].Err == nil || !strings.Contains(events[1].Err.Error(), "connection reset") {
		t.Errorf("expected the stream error surfaced, got %+v", events[1])
	}

	// The partial answer was already observed, so there is no retry.
	if got := len(provider.StreamCalls); got != 1 {
		t.Errorf("provider stream calls = %d, want 1", got)
	}
	// Only the user message made it to the log; the turn produced no answer.
	if got := st.conv.CallCount("AppendMessage"); got != 1 {
		t.Errorf("AppendMessage calls = %d, want 1", got)
	}
}

func TestStreamMessage_ToolLoopHitsCap(t *testing.T) {
	// Every stream requests the same tool, so the turn cap must end it.
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{ToolCalls: []types.ToolCall{{ID: "call_x", Name: "noop", Arguments: "{}"}}},
			{FinishReason: "tool_calls"},
		},
	}
	reg := tools.NewRegistry()
	_ = reg.Register(tools.Tool{
		Definition: types.ToolDefinition{Name: "noop"},
		Handler: func(_ context.Context, _ string) (string, *types.AgentAction, error) {
			return "ok", nil, nil
		},
	})
	a, _ := newTestAgent(t, provider, reg)

	ch, err := a.StreamMessage(context.Background(), TurnRequest{SessionID: "s1", Message: "loop"})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	events := collectEvents(t, ch)

	last := events[len(events)-1]
	if last.Result == nil {
		t.Fatalf("expected a result event, got %+v", last)
	}
	if !last.Result.Capped {
		t.Error("expected Capped")
	}
	if last.Result.FinalText != fallbackReply {
		t.Errorf("FinalText = %q, want the fallback", last.Result.FinalText)
	}
	if got := len(provider.StreamCalls); got != defaultMaxTurns {
		t.Errorf("provider stream calls = %d, want %d", got, defaultMaxTurns)
	}
}

func TestStreamMessage_SetupFailureReturnsError(t *testing.T) {
	provider := &llmmock.Provider{}
	a, st := newTestAgent(t, provider, nil)
	st.conv.AppendMessageErr = errors.New("connection refused")

	ch, err := a.StreamMessage(context.Background(), TurnRequest{SessionID: "s1", Message: "hi"})
	if err == nil {
		t.Fatal("expected setup error when the user message cannot be persisted")
	}
	if ch != nil {
		t.Error("expected no channel on setup failure")
	}
	if len(provider.StreamCalls) != 0 {
		t.Error("the provider must not be called on setup failure")
	}
}
