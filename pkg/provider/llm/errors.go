package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies a provider failure for retry decisions and metrics.
type ErrorKind string

const (
	// KindRateLimited is an HTTP 429 — the provider is throttling us.
	KindRateLimited ErrorKind = "rate_limited"

	// KindServerError is an HTTP 5xx transient server-side failure.
	KindServerError ErrorKind = "server_error"

	// KindTimeout covers request deadlines and network timeouts.
	KindTimeout ErrorKind = "timeout"

	// KindConnReset covers connection resets and abrupt transport failures.
	KindConnReset ErrorKind = "conn_reset"

	// KindAuth is an authentication or authorization failure (401/403).
	KindAuth ErrorKind = "auth"

	// KindBadRequest is a malformed or rejected request (400/404/422),
	// including unsupported model identifiers.
	KindBadRequest ErrorKind = "bad_request"

	// KindCancelled means the caller's context was cancelled mid-request.
	KindCancelled ErrorKind = "cancelled"

	// KindUnknown is any failure that could not be classified further.
	KindUnknown ErrorKind = "unknown"
)

// ProviderError is the classified form of any failure returned by a model
// backend. The cascade executor bases its retry/advance decision entirely on
// this type; SDK-specific error shapes never leak past the provider boundary.
type ProviderError struct {
	// Provider is the backend name ("openai", "anthropic", …). Used in logs
	// and metrics only.
	Provider string

	// Model is the model identifier the failing request targeted.
	Model string

	// Status is the HTTP status code when the failure came from an HTTP
	// response; 0 for transport-level failures.
	Status int

	// Kind is the classification used for retry decisions.
	Kind ErrorKind

	// Err is the underlying error from the SDK or transport.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d, %s): %v", e.Provider, e.Model, e.Status, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Model, e.Kind, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As chains.
func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same model can reasonably succeed:
// rate limits (429), transient server errors (500, 503), and network
// timeout / connection-reset failures. Everything else — auth failures, bad
// requests, unsupported models, cancellation — is fatal for this candidate.
func (e *ProviderError) Retryable() bool {
	switch e.Status {
	case 429, 500, 503:
		return true
	}
	switch e.Kind {
	case KindTimeout, KindConnReset:
		return true
	}
	return false
}

// Classify converts an arbitrary error from an SDK or transport into a
// [*ProviderError]. If err already is (or wraps) a ProviderError it is
// returned unchanged. status may be 0 when no HTTP status is known.
//
// Classification rules, in order:
//  1. context cancellation / deadline on the caller's context → KindCancelled
//  2. known HTTP status codes → their kinds
//  3. net.Error timeouts and ECONNRESET/EPIPE → KindTimeout / KindConnReset
//  4. everything else → KindUnknown
func Classify(provider, model string, status int, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	kind := KindUnknown

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindCancelled
	case status == 429:
		kind = KindRateLimited
	case status >= 500:
		kind = KindServerError
	case status == 401 || status == 403:
		kind = KindAuth
	case status >= 400:
		kind = KindBadRequest
	default:
		kind = classifyTransport(err)
	}

	return &ProviderError{
		Provider: provider,
		Model:    model,
		Status:   status,
		Kind:     kind,
		Err:      err,
	}
}

// classifyTransport inspects transport-level error shapes when no HTTP status
// is available.
func classifyTransport(err error) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindConnReset
	}

	// Some SDKs flatten transport errors into strings before they reach us.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return KindConnReset
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	}
	return KindUnknown
}
