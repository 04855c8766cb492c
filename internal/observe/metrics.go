// Package observe provides application-wide observability primitives for
// VocaHire: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them into a private Prometheus registry served on /metrics.
// [DefaultMetrics] binds to the global meter provider; tests build their own
// instance with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VocaHire metrics.
const meterName = "github.com/vocahire/vocahire"

// Evaluation outcomes recorded on [Metrics.Evaluations].
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Call statuses recorded on provider and tool counters.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the application's instruments. Prefer the Record* helpers;
// they attach the attribute set each dashboard groups by.
type Metrics struct {
	// StageDuration is the latency of one pipeline stage, by "stage".
	StageDuration metric.Float64Histogram

	// EvaluationDuration is the latency of a whole run, by "outcome".
	EvaluationDuration metric.Float64Histogram

	// Evaluations counts finished runs by "outcome" and failing "stage".
	Evaluations metric.Int64Counter

	// FinalScore is the unit-range final score of every completed run,
	// degraded ones included.
	FinalScore metric.Float64Histogram

	// ActiveEvaluations is the number of runs in flight.
	ActiveEvaluations metric.Int64UpDownCounter

	// ProviderRequests counts backend calls by "provider", "kind" and
	// "status". ProviderErrors counts the failed subset.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// ToolCalls and ToolExecutionDuration cover MCP tool invocations.
	ToolCalls             metric.Int64Counter
	ToolExecutionDuration metric.Float64Histogram

	// HTTPRequestDuration is recorded by [Middleware] with "method",
	// "route" (the mux pattern) and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are sized for offline audio processing, where a single
// stage may run for minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// scoreBuckets split the unit interval into tenths.
var scoreBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// builder collects instrument creation errors so NewMetrics can report them
// together.
type builder struct {
	m    metric.Meter
	errs []error
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{m: mp.Meter(meterName)}
	met := &Metrics{
		StageDuration:         b.seconds("vocahire.pipeline.stage.duration", "Latency of a single pipeline stage.", latencyBuckets),
		EvaluationDuration:    b.seconds("vocahire.evaluation.duration", "Latency of a full audio evaluation.", latencyBuckets),
		ToolExecutionDuration: b.seconds("vocahire.tool_execution.duration", "Latency of MCP tool execution.", latencyBuckets),
		HTTPRequestDuration:   b.seconds("vocahire.http.request.duration", "HTTP request latency by method, route and status.", nil),
		Evaluations:           b.counter("vocahire.evaluations", "Finished evaluations by outcome and failing stage."),
		ProviderRequests:      b.counter("vocahire.provider.requests", "Provider backend calls by provider, kind and status."),
		ProviderErrors:        b.counter("vocahire.provider.errors", "Failed provider backend calls by provider and kind."),
		ToolCalls:             b.counter("vocahire.tool.calls", "MCP tool invocations by tool and status."),
	}

	var err error
	met.FinalScore, err = b.m.Float64Histogram("vocahire.evaluation.final_score",
		metric.WithDescription("Distribution of unit-range final scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	)
	b.errs = append(b.errs, err)
	met.ActiveEvaluations, err = b.m.Int64UpDownCounter("vocahire.active_evaluations",
		metric.WithDescription("Evaluations currently running."),
	)
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] bound to
// [otel.GetMeterProvider]. It panics if the instruments cannot be created.
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

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordEvaluation records a finished run. stage names the failing stage for
// [OutcomeFailed] and is empty otherwise.
func (m *Metrics) RecordEvaluation(ctx context.Context, outcome, stage string, d time.Duration) {
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
	))
	m.EvaluationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordScore records a final score already normalised to [0, 1].
func (m *Metrics) RecordScore(ctx context.Context, unit float64) {
	m.FinalScore.Record(ctx, unit)
}

// RecordProviderAttempt counts one call that reached a provider backend.
// A non-nil err also increments the error counter.
func (m *Metrics) RecordProviderAttempt(ctx context.Context, kind, provider string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		append(attrs, attribute.String("status", statusOf(err)))...,
	))
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordToolCall records one MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, err error, d time.Duration) {
	toolAttr := attribute.String("tool", tool)
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(toolAttr, attribute.String("status", statusOf(err))))
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(toolAttr))
}
