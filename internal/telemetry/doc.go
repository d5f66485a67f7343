// Package telemetry wires OpenTelemetry tracing and metrics export.
//
// Pipeline stages start spans from the global tracer provider; New installs
// an OTLP-backed provider when telemetry is enabled, so disabled telemetry
// costs a no-op tracer.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Tests use NewTestTelemetry, which records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "pipeline.Ingest")
//	span.End()
//	tt.AssertSpanExists(t, "pipeline.Ingest")
package telemetry
