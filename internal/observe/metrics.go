// Package observe holds the OpenTelemetry metric instruments and tracing
// helpers for the support agent. Metrics are exported for Prometheus
// scraping through the provider set up by [InitProvider]; tests build
// their own [Metrics] with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/kaustubhduse/support-agent"

// Metric names.
const (
	MetricModelRequests    = "support_agent.model.requests"
	MetricModelDuration    = "support_agent.model.duration"
	MetricRateLimitRetries = "support_agent.model.rate_limit_retries"
	MetricInvocationTurns  = "support_agent.invocation.turns"
	MetricToolCalls        = "support_agent.tool.calls"
	MetricToolDuration     = "support_agent.tool.duration"
	MetricRoutingDecisions = "support_agent.router.decisions"
	MetricHTTPDuration     = "support_agent.http.request.duration"
)

// Metrics holds every instrument the service records. The OTel types are
// safe for concurrent use.
type Metrics struct {
	// ModelRequests counts chat completion calls by model and status
	// (ok, rate_limited, error).
	ModelRequests metric.Int64Counter
	ModelDuration metric.Float64Histogram

	// RateLimitRetries counts waits taken after a 429.
	RateLimitRetries metric.Int64Counter

	// InvocationTurns records how many model turns an invocation used.
	InvocationTurns metric.Int64Histogram

	// ToolCalls counts tool executions by tool and status (ok, error).
	ToolCalls    metric.Int64Counter
	ToolDuration metric.Float64Histogram

	// RoutingDecisions counts classifications by intent and fallback.
	RoutingDecisions metric.Int64Counter

	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for hosted
// model round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ModelRequests, err = m.Int64Counter(MetricModelRequests,
		metric.WithDescription("Chat completion requests by model and status."),
	); err != nil {
		return nil, err
	}
	if met.ModelDuration, err = m.Float64Histogram(MetricModelDuration,
		metric.WithDescription("Latency of chat completion requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RateLimitRetries, err = m.Int64Counter(MetricRateLimitRetries,
		metric.WithDescription("Retries taken after a rate-limited model response."),
	); err != nil {
		return nil, err
	}
	if met.InvocationTurns, err = m.Int64Histogram(MetricInvocationTurns,
		metric.WithDescription("Model turns used per agent invocation."),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter(MetricToolCalls,
		metric.WithDescription("Tool executions by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram(MetricToolDuration,
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RoutingDecisions, err = m.Int64Counter(MetricRoutingDecisions,
		metric.WithDescription("Router classifications by intent and fallback."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram(MetricHTTPDuration,
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics bound to the global
// meter provider. Until [InitProvider] runs that provider is a no-op.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordModelRequest counts one chat completion call and its latency.
func (m *Metrics) RecordModelRequest(ctx context.Context, model, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.ModelRequests.Add(ctx, 1, attrs)
	m.ModelDuration.Record(ctx, seconds, attrs)
}

// RecordRateLimitRetry counts one backoff wait.
func (m *Metrics) RecordRateLimitRetry(ctx context.Context, model string) {
	m.RateLimitRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

// RecordInvocation records the turns one invocation used.
func (m *Metrics) RecordInvocation(ctx context.Context, turns int, capped bool) {
	m.InvocationTurns.Record(ctx, int64(turns), metric.WithAttributes(attribute.Bool("capped", capped)))
}

// RecordToolCall counts one tool execution and its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, seconds, attrs)
}

// RecordRoutingDecision counts one classification.
func (m *Metrics) RecordRoutingDecision(ctx context.Context, intent string, fallback bool) {
	m.RoutingDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.Bool("fallback", fallback),
	))
}
