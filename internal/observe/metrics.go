// Package observe provides the observability primitives shared by the relay
// and the practice server: OpenTelemetry metrics, tracing helpers, a
// trace-aware logger and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format via [InitProvider] and [Handler]. Tests should use
// [NewMetrics] with their own [metric.MeterProvider] rather than
// [DefaultMetrics] to avoid cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/cashierchat"

// Metrics holds all OpenTelemetry instruments for the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// CompletionDuration tracks completion round-trip latency. Attributes:
	// source (relay, client), kind (success or failure kind).
	CompletionDuration metric.Float64Histogram

	// CompletionResults counts completion outcomes with the same attributes.
	CompletionResults metric.Int64Counter

	// Turns counts finished conversational turns. Attribute: outcome
	// (reply, apology).
	Turns metric.Int64Counter

	// CaptureFailures counts captures that produced no text. Attribute: reason.
	CaptureFailures metric.Int64Counter

	// RelayRequests counts relay HTTP requests. Attributes: variant, status.
	RelayRequests metric.Int64Counter

	// ProviderErrors counts LLM provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// name, to.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks live practice websocket sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request time. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for hosted LLM
// round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CompletionDuration, err = m.Float64Histogram("cashier.completion.duration",
		metric.WithDescription("Latency of completion round trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompletionResults, err = m.Int64Counter("cashier.completion.results",
		metric.WithDescription("Completion outcomes by source and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("cashier.turns",
		metric.WithDescription("Finished conversational turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFailures, err = m.Int64Counter("cashier.capture.failures",
		metric.WithDescription("Speech captures that produced no text, by reason."),
	); err != nil {
		return nil, err
	}
	if met.RelayRequests, err = m.Int64Counter("cashier.relay.requests",
		metric.WithDescription("Relay requests by variant and HTTP status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("cashier.provider.errors",
		metric.WithDescription("LLM provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("cashier.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("cashier.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("cashier.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordCompletion records one completion round trip. kind is "success" or
// the failure kind.
func (m *Metrics) RecordCompletion(ctx context.Context, source, kind string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("kind", kind),
	)
	m.CompletionDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.CompletionResults.Add(ctx, 1, attrs)
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCaptureFailure counts a capture that produced no text.
func (m *Metrics) RecordCaptureFailure(ctx context.Context, reason string) {
	m.CaptureFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRelayRequest counts a relay request by variant and response status.
func (m *Metrics) RecordRelayRequest(ctx context.Context, variant string, status int) {
	m.RelayRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("variant", variant),
		attribute.String("status", strconv.Itoa(status)),
	))
}

// RecordProviderError counts an LLM provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("to", to),
	))
}
