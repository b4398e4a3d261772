package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	reader       *sdkmetric.ManualReader
}

// NewTestTelemetry creates telemetry backed by in-memory recorders.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	rec := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		SpanRecorder: rec,
		reader:       reader,
	}
}

// Spans returns all ended spans.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName returns the first ended span named name, or nil.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, s := range t.Spans() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// SpanNames returns the names of all ended spans in end order.
func (t *TestTelemetry) SpanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

// AssertSpanAttribute fails tb unless span has key=want.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, span, key string, want interface{}) {
	tb.Helper()
	s := t.SpanByName(span)
	if s == nil {
		tb.Fatalf("span %q not found, got %v", span, t.SpanNames())
	}
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			if got := kv.Value.AsInterface(); got != want {
				tb.Errorf("span %q attribute %q = %v, want %v", span, key, got, want)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", span, key)
}

// Collect gathers the current metric data.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.reader.Collect(ctx, &rm)
	return rm, err
}

// Int64Sum returns the summed value of a counter across all attribute sets
// matching attrs.
func (t *TestTelemetry) Int64Sum(ctx context.Context, name string, attrs ...attribute.KeyValue) int64 {
	rm, err := t.Collect(ctx)
	if err != nil {
		return 0
	}
	want := attribute.NewSet(attrs...)
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if len(attrs) == 0 || containsAll(dp.Attributes, want) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func containsAll(have, want attribute.Set) bool {
	iter := want.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		v, ok := have.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}
