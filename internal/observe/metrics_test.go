package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func metricByName(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, "llm", "structured", 250*time.Millisecond, nil)
	m.RecordProviderCall(ctx, "llm", "structured", 100*time.Millisecond, errors.New("503"))

	rm := collect(t, reader)
	counter, ok := metricByName(rm, "vivavoce.provider.requests")
	if !ok {
		t.Fatal("provider.requests metric missing")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", counter.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("total provider requests = %d, want 2", total)
	}

	if _, ok := metricByName(rm, "vivavoce.llm.duration"); !ok {
		t.Error("llm.duration histogram missing")
	}
}

func TestRecordNode(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordNode(ctx, "ask_question", nil)
	m.RecordNode(ctx, "evaluate", errors.New("boom"))

	rm := collect(t, reader)
	counter, ok := metricByName(rm, "vivavoce.workflow.nodes")
	if !ok {
		t.Fatal("workflow.nodes metric missing")
	}
	sum := counter.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Errorf("datapoints = %d, want 2 (distinct node/status)", len(sum.DataPoints))
	}
}

func TestZeroValueMetricsSafe(t *testing.T) {
	// A zero-value Metrics (construction failure fallback) must not panic.
	var m Metrics
	m.RecordProviderCall(context.Background(), "llm", "chat", time.Second, nil)
	m.RecordNode(context.Background(), "parse", nil)
}
