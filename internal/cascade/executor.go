package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/northstar-hq/northstar/pkg/provider/llm"
)

// ErrExhausted is wrapped into the outcome error when every candidate in a
// cascade has failed. It is the only hard failure this package surfaces;
// individual provider errors are recovered by advancing through the cascade.
var ErrExhausted = errors.New("cascade: all candidates failed")

const (
	backoffBase = 1 * time.Second
	backoffCap  = 10 * time.Second
)

// Backoff returns the delay before retry number retryIndex+1 of a candidate:
// min(1s * 2^retryIndex, 10s).
func Backoff(retryIndex int) time.Duration {
	// 1s << 4 already exceeds the cap; avoid shifting into overflow.
	if retryIndex >= 4 {
		return backoffCap
	}
	d := backoffBase << uint(retryIndex)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// AttemptRecord describes a single provider attempt within a cascade run.
type AttemptRecord struct {
	// Model is the candidate model this attempt targeted.
	Model string

	// RetryIndex is the zero-based attempt number within its candidate
	// (0 = first attempt, 1 = first retry, ...).
	RetryIndex int

	// Succeeded reports whether the attempt produced a usable response.
	Succeeded bool

	// Latency is the wall time of the provider call. For streaming attempts
	// it is measured to the first chunk.
	Latency time.Duration

	// TokensUsed is the total token count reported by the provider on
	// success; 0 otherwise.
	TokensUsed int

	// ErrorKind is the classification of the failure; empty on success.
	ErrorKind llm.ErrorKind
}

// Outcome aggregates the result of walking a cascade. Exactly one of Response
// and Err is set. ModelUsed is set iff the run succeeded, and TotalAttempts
// always equals len(Attempts).
type Outcome struct {
	Response      *llm.CompletionResponse
	Err           error
	Attempts      []AttemptRecord
	ModelUsed     string
	TotalAttempts int
}

// StreamOutcome is the streaming counterpart of [Outcome] for a successful
// run. Chunks replays the winning attempt's stream starting from its first
// chunk; Attempts covers every attempt made, including failed candidates.
type StreamOutcome struct {
	Chunks        <-chan llm.Chunk
	Attempts      []AttemptRecord
	ModelUsed     string
	TotalAttempts int
}

// sleepFunc blocks for d or until ctx is cancelled. Injectable for tests.
type sleepFunc func(ctx context.Context, d time.Duration) error

// Executor drives a cascade against one provider gateway. Attempts are
// strictly sequential; candidates are never raced in parallel. Executor is
// stateless across calls and safe for concurrent use.
type Executor struct {
	provider llm.Provider
	sleep    sleepFunc
	log      *slog.Logger
}

// ExecutorOption configures an [Executor].
type ExecutorOption func(*Executor)

// WithSleeper replaces the backoff sleep implementation. Tests use this to
// record requested delays without waiting.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// WithLogger sets the logger used for failover and retry messages.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = l
	}
}

// NewExecutor creates an Executor over the given provider gateway.
func NewExecutor(provider llm.Provider, opts ...ExecutorOption) *Executor {
	e := &Executor{
		provider: provider,
		sleep:    sleepContext,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute walks the cascade in order, attempting each candidate up to
// 1+MaxRetries times, and returns at the first success.
//
// Failures are classified through the provider error taxonomy: retryable
// errors (429/500/503, timeouts, connection resets) trigger a capped
// exponential backoff and another attempt of the same candidate; fatal errors
// advance to the next candidate immediately. No backoff follows a candidate's
// final attempt. Provider failures never panic or escape as raw errors; the
// only error in a returned Outcome is the aggregated [ErrExhausted] (or the
// context's error when the caller cancels mid-run).
func (e *Executor) Execute(ctx context.Context, candidates []ModelCandidate, req llm.CompletionRequest) Outcome {
	var (
		attempts []AttemptRecord
		lastErr  error
	)

	for _, candidate := range candidates {
		for retry := 0; retry <= candidate.MaxRetries; retry++ {
			if err := ctx.Err(); err != nil {
				return cancelledOutcome(attempts, err)
			}

			start := time.Now()
			resp, err := e.provider.Complete(ctx, candidate.Model, req)
			latency := time.Since(start)

			if err == nil {
				attempts = append(attempts, AttemptRecord{
					Model:      candidate.Model,
					RetryIndex: retry,
					Succeeded:  true,
					Latency:    latency,
					TokensUsed: resp.Usage.TotalTokens,
				})
				return Outcome{
					Response:      resp,
					Attempts:      attempts,
					ModelUsed:     candidate.Model,
					TotalAttempts: len(attempts),
				}
			}

			pe := llm.Classify("", candidate.Model, 0, err)
			attempts = append(attempts, AttemptRecord{
				Model:      candidate.Model,
				RetryIndex: retry,
				Latency:    latency,
				ErrorKind:  pe.Kind,
			})
			lastErr = pe

			if pe.Kind == llm.KindCancelled || ctx.Err() != nil {
				cause := context.Cause(ctx)
				if cause == nil {
					cause = pe
				}
				return cancelledOutcome(attempts, cause)
			}

			if !pe.Retryable() {
				e.log.Warn("model failed, trying next candidate",
					"model", candidate.Model, "kind", string(pe.Kind), "error", err)
				break
			}
			if retry == candidate.MaxRetries {
				e.log.Warn("model retry budget exhausted, trying next candidate",
					"model", candidate.Model, "attempts", retry+1, "error", err)
				break
			}

			delay := Backoff(retry)
			e.log.Debug("retryable model failure, backing off",
				"model", candidate.Model, "retry", retry, "delay", delay, "error", err)
			if err := e.sleep(ctx, delay); err != nil {
				return cancelledOutcome(attempts, err)
			}
		}
	}

	return Outcome{
		Err:           exhaustedError(candidates, len(attempts), lastErr),
		Attempts:      attempts,
		TotalAttempts: len(attempts),
	}
}

// ExecuteStream walks the cascade like [Executor.Execute] but for streaming
// completions. Success is declared at the first chunk of an attempt: the
// returned StreamOutcome replays that chunk and then pipes the remainder of
// the winning stream. Failures before the first chunk (connection errors, or
// an error chunk arriving first) follow the same retry/advance classification
// as the blocking path. Failures after the first chunk are not retried; they
// surface to the consumer as an error chunk, since part of the answer has
// already been observed.
func (e *Executor) ExecuteStream(ctx context.Context, candidates []ModelCandidate, req llm.CompletionRequest) (*StreamOutcome, error) {
	var (
		attempts []AttemptRecord
		lastErr  error
	)

	for _, candidate := range candidates {
		for retry := 0; retry <= candidate.MaxRetries; retry++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			start := time.Now()
			first, rest, err := e.openStream(ctx, candidate.Model, req)
			latency := time.Since(start)

			if err == nil {
				attempts = append(attempts, AttemptRecord{
					Model:      candidate.Model,
					RetryIndex: retry,
					Succeeded:  true,
					Latency:    latency,
				})
				out := make(chan llm.Chunk, 1)
				out <- first
				go func() {
					defer close(out)
					for c := range rest {
						select {
						case out <- c:
						case <-ctx.Done():
							return
						}
					}
				}()
				return &StreamOutcome{
					Chunks:        out,
					Attempts:      attempts,
					ModelUsed:     candidate.Model,
					TotalAttempts: len(attempts),
				}, nil
			}

			pe := llm.Classify("", candidate.Model, 0, err)
			attempts = append(attempts, AttemptRecord{
				Model:      candidate.Model,
				RetryIndex: retry,
				Latency:    latency,
				ErrorKind:  pe.Kind,
			})
			lastErr = pe

			if pe.Kind == llm.KindCancelled || ctx.Err() != nil {
				if cause := context.Cause(ctx); cause != nil {
					return nil, cause
				}
				return nil, pe
			}

			if !pe.Retryable() {
				e.log.Warn("model stream failed, trying next candidate",
					"model", candidate.Model, "kind", string(pe.Kind), "error", err)
				break
			}
			if retry == candidate.MaxRetries {
				e.log.Warn("model stream retry budget exhausted, trying next candidate",
					"model", candidate.Model, "attempts", retry+1, "error", err)
				break
			}

			delay := Backoff(retry)
			e.log.Debug("retryable stream failure, backing off",
				"model", candidate.Model, "retry", retry, "delay", delay, "error", err)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, exhaustedError(candidates, len(attempts), lastErr)
}

// openStream starts a stream and waits for its first chunk. A stream whose
// first chunk is an error, or that closes before producing anything, counts
// as a failed attempt.
func (e *Executor) openStream(ctx context.Context, model string, req llm.CompletionRequest) (llm.Chunk, <-chan llm.Chunk, error) {
	ch, err := e.provider.StreamCompletion(ctx, model, req)
	if err != nil {
		return llm.Chunk{}, nil, err
	}

	select {
	case <-ctx.Done():
		go drain(ch)
		return llm.Chunk{}, nil, ctx.Err()
	case first, ok := <-ch:
		if !ok {
			return llm.Chunk{}, nil, fmt.Errorf("stream closed before first chunk")
		}
		if first.FinishReason == "error" {
			go drain(ch)
			if first.Err != nil {
				return llm.Chunk{}, nil, first.Err
			}
			return llm.Chunk{}, nil, fmt.Errorf("stream error: %s", first.Text)
		}
		return first, ch, nil
	}
}

// drain discards remaining chunks so the producing goroutine can exit.
func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}

// cancelledOutcome builds the failure outcome for a caller-cancelled run.
func cancelledOutcome(attempts []AttemptRecord, err error) Outcome {
	return Outcome{
		Err:           err,
		Attempts:      attempts,
		TotalAttempts: len(attempts),
	}
}

// exhaustedError aggregates a full-cascade failure, naming every model
// attempted and carrying the last observed error.
func exhaustedError(candidates []ModelCandidate, totalAttempts int, lastErr error) error {
	models := make([]string, len(candidates))
	for i, c := range candidates {
		models[i] = c.Model
	}
	if lastErr == nil {
		lastErr = errors.New("no candidates attempted")
	}
	return fmt.Errorf("%w after %d attempts (models: %s): %w",
		ErrExhausted, totalAttempts, strings.Join(models, ", "), lastErr)
}
