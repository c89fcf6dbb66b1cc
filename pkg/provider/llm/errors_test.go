package llm

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

// timeoutErr implements net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_StatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  ErrorKind
		retryable bool
	}{
		{"rate limited", 429, KindRateLimited, true},
		{"internal error", 500, KindServerError, true},
		{"unavailable", 503, KindServerError, true},
		{"bad gateway", 502, KindServerError, false},
		{"unauthorized", 401, KindAuth, false},
		{"forbidden", 403, KindAuth, false},
		{"bad request", 400, KindBadRequest, false},
		{"unknown model", 404, KindBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify("openai", "gpt-4o", tt.status, errors.New("boom"))
			if pe.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", pe.Kind, tt.wantKind)
			}
			if got := pe.Retryable(); got != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestClassify_Transport(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
	}{
		{"net timeout", timeoutErr{}, KindTimeout},
		{"econnreset", syscall.ECONNRESET, KindConnReset},
		{"epipe", syscall.EPIPE, KindConnReset},
		{"stringly reset", errors.New("read tcp: connection reset by peer"), KindConnReset},
		{"stringly timeout", errors.New("request timeout exceeded"), KindTimeout},
		{"opaque", errors.New("something else"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify("ollama", "llama3", 0, tt.err)
			if pe.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", pe.Kind, tt.wantKind)
			}
		})
	}
}

func TestClassify_Cancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	pe := Classify("openai", "gpt-4o", 0, ctx.Err())
	if pe.Kind != KindCancelled {
		t.Fatalf("Kind = %q, want %q", pe.Kind, KindCancelled)
	}
	if pe.Retryable() {
		t.Fatal("cancellation must not be retryable")
	}
}

func TestClassify_PassesThroughProviderError(t *testing.T) {
	orig := &ProviderError{Provider: "openai", Model: "gpt-4o", Status: 429, Kind: KindRateLimited, Err: errors.New("slow down")}
	wrapped := fmt.Errorf("attempt failed: %w", orig)

	got := Classify("other", "other-model", 0, wrapped)
	if got != orig {
		t.Fatalf("Classify did not unwrap existing ProviderError: got %+v", got)
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	pe := Classify("openai", "gpt-4o", 500, inner)
	if !errors.Is(pe, inner) {
		t.Fatal("errors.Is failed to find wrapped error")
	}
}
