package cascade

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/northstar-hq/northstar/pkg/provider/llm"
	"github.com/northstar-hq/northstar/pkg/provider/llm/mock"
	"github.com/northstar-hq/northstar/pkg/types"
)

func retryableErr(model string) error {
	return &llm.ProviderError{
		Provider: "mock", Model: model, Status: 429,
		Kind: llm.KindRateLimited, Err: errors.New("rate limited"),
	}
}

func fatalErr(model string) error {
	return &llm.ProviderError{
		Provider: "mock", Model: model, Status: 401,
		Kind: llm.KindAuth, Err: errors.New("bad key"),
	}
}

// noSleep records requested backoff delays without waiting.
func noSleep(delays *[]time.Duration) ExecutorOption {
	return WithSleeper(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

// TestBackoff checks the capped exponential schedule.
func TestBackoff(t *testing.T) {
	tests := []struct {
		retryIndex int
		want       time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{5, 10 * time.Second},
		{63, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.retryIndex); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retryIndex, got, tt.want)
		}
	}
}

// TestExecute_FirstAttemptSucceeds checks the happy path: one attempt, no sleeps.
func TestExecute_FirstAttemptSucceeds(t *testing.T) {
	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "hi",
			Usage:   llm.Usage{TotalTokens: 42},
		},
	}
	var delays []time.Duration
	e := NewExecutor(p, noSleep(&delays))

	out := e.Execute(context.Background(), []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 2},
	}, llm.CompletionRequest{})

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Response.Content != "hi" {
		t.Errorf("unexpected content %q", out.Response.Content)
	}
	if out.ModelUsed != "gpt-4o" {
		t.Errorf("expected ModelUsed gpt-4o, got %q", out.ModelUsed)
	}
	if out.TotalAttempts != 1 || len(out.Attempts) != 1 {
		t.Errorf("expected exactly 1 attempt, got %d/%d", out.TotalAttempts, len(out.Attempts))
	}
	if !out.Attempts[0].Succeeded {
		t.Error("expected attempt marked succeeded")
	}
	if out.Attempts[0].TokensUsed != 42 {
		t.Errorf("expected 42 tokens recorded, got %d", out.Attempts[0].TokensUsed)
	}
	if len(delays) != 0 {
		t.Errorf("expected no backoff, got %v", delays)
	}
}

// TestExecute_BackoffSequence checks delays 1s, 2s, 4s for a candidate with
// maxRetries=3 that fails three times and then succeeds.
func TestExecute_BackoffSequence(t *testing.T) {
	p := &mock.Provider{
		Script: []mock.CompleteResult{
			{Err: retryableErr("gpt-4o")},
			{Err: retryableErr("gpt-4o")},
			{Err: retryableErr("gpt-4o")},
			{Response: &llm.CompletionResponse{Content: "finally"}},
		},
	}
	var delays []time.Duration
	e := NewExecutor(p, noSleep(&delays))

	out := e.Execute(context.Background(), []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 3},
	}, llm.CompletionRequest{})

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d backoffs, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
	if out.TotalAttempts != 4 {
		t.Errorf("expected 4 attempts, got %d", out.TotalAttempts)
	}
}

// TestExecute_NoDelayAfterFinalAttempt checks that a candidate exhausting its
// budget advances without sleeping, and the next candidate is tried.
func TestExecute_NoDelayAfterFinalAttempt(t *testing.T) {
	p := &mock.Provider{
		Script: []mock.CompleteResult{
			{Err: retryableErr("gpt-4o")},
			{Err: retryableErr("gpt-4o")},
			{Response: &llm.CompletionResponse{Content: "from fallback"}},
		},
	}
	var delays []time.Duration
	e := NewExecutor(p, noSleep(&delays))

	out := e.Execute(context.Background(), []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 1},
		{Model: "claude-sonnet-4", MaxRetries: 1},
	}, llm.CompletionRequest{})

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	// One backoff between gpt-4o's two attempts; none before switching candidates.
	if len(delays) != 1 || delays[0] != 1*time.Second {
		t.Errorf("expected single 1s backoff, got %v", delays)
	}
	if out.ModelUsed != "claude-sonnet-4" {
		t.Errorf("expected fallback model used, got %q", out.ModelUsed)
	}
	if out.TotalAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", out.TotalAttempts)
	}
}

// TestExecute_FatalAdvancesImmediately checks that a fatal error on the first
// attempt of candidate A spends none of A's retry budget.
func TestExecute_FatalAdvancesImmediately(t *testing.T) {
	p := &mock.Provider{
		Script: []mock.CompleteResult{
			{Err: fatalErr("gpt-4o")},
			{Response: &llm.CompletionResponse{Content: "ok"}},
		},
	}
	var delays []time.Duration
	e := NewExecutor(p, noSleep(&delays))

	out := e.Execute(context.Background(), []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 2},
		{Model: "claude-sonnet-4", MaxRetries: 2},
	}, llm.CompletionRequest{})

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if len(delays) != 0 {
		t.Errorf("expected no backoff around fatal error, got %v", delays)
	}
	if out.TotalAttempts != 2 {
		t.Errorf("expected 2 attempts total, got %d", out.TotalAttempts)
	}
	if out.Attempts[0].ErrorKind != llm.KindAuth {
		t.Errorf("expected auth kind recorded, got %q", out.Attempts[0].ErrorKind)
	}
	if out.ModelUsed != "claude-sonnet-4" {
		t.Errorf("expected claude-sonnet-4, got %q", out.ModelUsed)
	}
}

// TestExecute_Exhausted checks the aggregated failure outcome.
func TestExecute_Exhausted(t *testing.T) {
	p := &mock.Provider{CompleteErr: retryableErr("any")}
	var delays []time.Duration
	e := NewExecutor(p, noSleep(&delays))

	out := e.Execute(context.Background(), []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 1},
		{Model: "claude-sonnet-4", MaxRetries: 0},
	}, llm.CompletionRequest{})

	if out.Err == nil {
		t.Fatal("expected exhausted error")
	}
	if !errors.Is(out.Err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", out.Err)
	}
	if out.Response != nil {
		t.Error("expected nil response on failure")
	}
	if out.ModelUsed != "" {
		t.Errorf("expected empty ModelUsed on failure, got %q", out.ModelUsed)
	}
	// 2 attempts for gpt-4o + 1 for claude-sonnet-4.
	if out.TotalAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", out.TotalAttempts)
	}
	msg := out.Err.Error()
	for _, model := range []string{"gpt-4o", "claude-sonnet-4"} {
		if !strings.Contains(msg, model) {
			t.Errorf("exhausted error should name %s: %q", model, msg)
		}
	}
	var pe *llm.ProviderError
	if !errors.As(out.Err, &pe) {
		t.Error("exhausted error should carry the last provider error")
	}
}

// TestExecute_ContextCancelled checks that cancellation aborts the run and
// skips remaining candidates.
func TestExecute_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &mock.Provider{CompleteErr: retryableErr("gpt-4o")}
	e := NewExecutor(p, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	out := e.Execute(ctx, []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 3},
		{Model: "claude-sonnet-4", MaxRetries: 3},
	}, llm.CompletionRequest{})

	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", out.Err)
	}
	if out.TotalAttempts != 1 {
		t.Errorf("expected run to stop after 1 attempt, got %d", out.TotalAttempts)
	}
}

// TestExecuteStream_FirstChunkSuccess checks that the stream outcome replays
// the first chunk and the remainder of the winning stream.
func TestExecuteStream_FirstChunkSuccess(t *testing.T) {
	p := &mock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hel"},
			{Text: "lo"},
			{FinishReason: "stop"},
		},
	}
	e := NewExecutor(p)

	out, err := e.ExecuteStream(context.Background(), []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 1},
	}, llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ModelUsed != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %q", out.ModelUsed)
	}

	var text string
	var finish string
	for c := range out.Chunks {
		text += c.Text
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if text != "Hello" {
		t.Errorf("expected streamed text Hello, got %q", text)
	}
	if finish != "stop" {
		t.Errorf("expected finish reason stop, got %q", finish)
	}
}

// TestExecuteStream_InitialErrorFallsBack checks that a connection-level
// failure applies the same classification as the blocking path.
func TestExecuteStream_InitialErrorFallsBack(t *testing.T) {
	failing := &mock.Provider{StreamErr: fatalErr("gpt-4o")}
	// switchProvider fails for the first model and streams for the second.
	p := &switchProvider{
		inner: failing,
		good: &mock.Provider{
			StreamChunks: []llm.Chunk{{Text: "ok"}, {FinishReason: "stop"}},
		},
		goodModel: "claude-sonnet-4",
	}
	e := NewExecutor(p)

	out, err := e.ExecuteStream(context.Background(), []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 2},
		{Model: "claude-sonnet-4", MaxRetries: 0},
	}, llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ModelUsed != "claude-sonnet-4" {
		t.Errorf("expected fallback model, got %q", out.ModelUsed)
	}
	// Fatal error: exactly one failed attempt for gpt-4o, then success.
	if out.TotalAttempts != 2 {
		t.Errorf("expected 2 attempts, got %d", out.TotalAttempts)
	}
	for range out.Chunks {
	}
}

// TestExecuteStream_Exhausted checks the aggregated streaming failure.
func TestExecuteStream_Exhausted(t *testing.T) {
	p := &mock.Provider{StreamErr: fatalErr("gpt-4o")}
	e := NewExecutor(p)

	_, err := e.ExecuteStream(context.Background(), []ModelCandidate{
		{Model: "gpt-4o", MaxRetries: 1},
	}, llm.CompletionRequest{})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

// switchProvider routes stream calls to good for goodModel and inner otherwise.
type switchProvider struct {
	inner     llm.Provider
	good      llm.Provider
	goodModel string
}

func (s *switchProvider) Complete(ctx context.Context, model string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if model == s.goodModel {
		return s.good.Complete(ctx, model, req)
	}
	return s.inner.Complete(ctx, model, req)
}

func (s *switchProvider) StreamCompletion(ctx context.Context, model string, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if model == s.goodModel {
		return s.good.StreamCompletion(ctx, model, req)
	}
	return s.inner.StreamCompletion(ctx, model, req)
}

func (s *switchProvider) CountTokens(messages []types.Message) (int, error) {
	return s.good.CountTokens(messages)
}

func (s *switchProvider) Capabilities(model string) types.ModelCapabilities {
	return s.good.Capabilities(model)
}
