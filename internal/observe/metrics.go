// Package observe provides application-wide observability primitives for
// Northstar: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Northstar metrics.
const meterName = "github.com/northstar-hq/northstar"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CascadeAttemptDuration tracks the latency of individual model attempts.
	// Use with attributes:
	//   attribute.String("model", ...), attribute.String("outcome", ...)
	CascadeAttemptDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end agent turn latency. Use with attribute:
	//   attribute.String("agent", ...)
	TurnDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency. Use with attribute:
	//   attribute.String("tool", ...)
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts model attempts. Use with attributes:
	//   attribute.String("model", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed model attempts. Use with attributes:
	//   attribute.String("model", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Turns counts completed agent turns. Use with attributes:
	//   attribute.String("agent", ...), attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// TokensUsed counts tokens consumed by completed attempts. Use with
	// attribute: attribute.String("model", ...)
	TokensUsed metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of conversations with an in-flight turn.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	// where route is the matched route template, never a raw per-session path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM round-trips and tool calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CascadeAttemptDuration, err = m.Float64Histogram("northstar.cascade.attempt.duration",
		metric.WithDescription("Latency of individual model attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("northstar.turn.duration",
		metric.WithDescription("End-to-end agent turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("northstar.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("northstar.provider.requests",
		metric.WithDescription("Total model attempts by model and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("northstar.provider.errors",
		metric.WithDescription("Total failed model attempts by model and error kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("northstar.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("northstar.turns",
		metric.WithDescription("Total completed agent turns by agent and outcome."),
	); err != nil {
		return nil, err
	}
	if met.TokensUsed, err = m.Int64Counter("northstar.tokens.used",
		metric.WithDescription("Total tokens consumed by model."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("northstar.active_sessions",
		metric.WithDescription("Number of conversations with an in-flight turn."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("northstar.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAttempt records one model attempt: its latency histogram entry, the
// request counter, and (on failure) the error counter.
func (m *Metrics) RecordAttempt(ctx context.Context, model string, seconds float64, succeeded bool, errorKind string) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.CascadeAttemptDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("outcome", outcome),
		),
	)
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("status", outcome),
		),
	)
	if !succeeded {
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("model", model),
				attribute.String("kind", errorKind),
			),
		)
	}
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTurn records a completed agent turn with its duration.
func (m *Metrics) RecordTurn(ctx context.Context, agent, outcome string, seconds float64) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("outcome", outcome),
		),
	)
	m.TurnDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("agent", agent)),
	)
}

// RecordTokens records token consumption attributed to a model.
func (m *Metrics) RecordTokens(ctx context.Context, model string, tokens int64) {
	if tokens <= 0 {
		return
	}
	m.TokensUsed.Add(ctx, tokens,
		metric.WithAttributes(attribute.String("model", model)),
	)
}
