// Package telemetry wires OpenTelemetry tracing and metrics for finchat.
//
// Each question produces one "finchat.run" span with a child span per stage,
// and the query executor records a span per store attempt. Spans and
// metrics are exported over OTLP (gRPC or HTTP) when enabled; otherwise the
// global no-op providers are used and instrumentation costs nothing.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("finchat/orchestrator")
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
