// Package observe provides application-wide observability primitives for
// Vivavoce: OpenTelemetry metrics and the provider wiring that bridges them
// to a Prometheus-scrapable endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([Default]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vivavoce metrics.
const meterName = "github.com/kaizen403/vivavoce"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks speech-to-text transcription latency.
	ASRDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end conversational turn latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("operation", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// WorkflowNodes counts workflow node executions. Use with attributes:
	//   attribute.String("node", ...), attribute.String("status", ...)
	WorkflowNodes metric.Int64Counter

	// PhaseTransitions counts session phase changes. Use with attribute:
	//   attribute.String("phase", ...)
	PhaseTransitions metric.Int64Counter

	// Checkpoints counts checkpoint writes. Use with attribute:
	//   attribute.String("reason", ...)
	Checkpoints metric.Int64Counter

	// QuestionsAsked counts questions presented to candidates. Use with
	// attribute: attribute.String("level", ...)
	QuestionsAsked metric.Int64Counter

	// --- Gauges ---

	// SessionsActive tracks the number of live review sessions.
	SessionsActive metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments against the given provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.ASRDuration, err = meter.Float64Histogram(
		"vivavoce.asr.duration",
		metric.WithDescription("Speech-to-text latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.LLMDuration, err = meter.Float64Histogram(
		"vivavoce.llm.duration",
		metric.WithDescription("LLM inference latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.TTSDuration, err = meter.Float64Histogram(
		"vivavoce.tts.duration",
		metric.WithDescription("Text-to-speech synthesis latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.TurnDuration, err = meter.Float64Histogram(
		"vivavoce.turn.duration",
		metric.WithDescription("End-to-end conversational turn latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.ProviderRequests, err = meter.Int64Counter(
		"vivavoce.provider.requests",
		metric.WithDescription("Provider API calls"),
	); err != nil {
		return nil, err
	}
	if m.WorkflowNodes, err = meter.Int64Counter(
		"vivavoce.workflow.nodes",
		metric.WithDescription("Workflow node executions"),
	); err != nil {
		return nil, err
	}
	if m.PhaseTransitions, err = meter.Int64Counter(
		"vivavoce.session.phase_transitions",
		metric.WithDescription("Session phase transitions"),
	); err != nil {
		return nil, err
	}
	if m.Checkpoints, err = meter.Int64Counter(
		"vivavoce.checkpoint.writes",
		metric.WithDescription("Checkpoint snapshot writes"),
	); err != nil {
		return nil, err
	}
	if m.QuestionsAsked, err = meter.Int64Counter(
		"vivavoce.review.questions_asked",
		metric.WithDescription("Questions presented to candidates"),
	); err != nil {
		return nil, err
	}
	if m.SessionsActive, err = meter.Int64UpDownCounter(
		"vivavoce.session.active",
		metric.WithDescription("Live review sessions"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide Metrics instance built against the global
// OTel meter provider. The first call creates the instruments; construction
// errors fall back to instruments from the (no-op) global provider.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The no-op provider never fails; a real provider failing here
			// leaves metrics disabled rather than crashing the session.
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordProviderCall records one provider request with latency and status.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, operation string, d time.Duration, err error) {
	if m.ProviderRequests == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("status", status),
		))
	if m.LLMDuration != nil && provider == "llm" {
		m.LLMDuration.Record(ctx, d.Seconds())
	}
}

// RecordNode records one workflow node execution.
func (m *Metrics) RecordNode(ctx context.Context, node string, err error) {
	if m.WorkflowNodes == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.WorkflowNodes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("node", node),
			attribute.String("status", status),
		))
}
