package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type stageCtxKey struct{}
type loggerCtxKey struct{}

// Run identifies one pipeline execution.
type Run struct {
	ID     string
	Corpus string
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if run, ok := ctx.Value(runCtxKey{}).(Run); ok {
		fields = append(fields, zap.String("run.id", run.ID))
		if run.Corpus != "" {
			fields = append(fields, zap.String("corpus", run.Corpus))
		}
	}

	if stage := StageFromContext(ctx); stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}

	return fields
}

// WithRun attaches run correlation to ctx.
func WithRun(ctx context.Context, runID, corpus string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, Run{ID: runID, Corpus: corpus})
}

// RunFromContext returns the run attached to ctx.
func RunFromContext(ctx context.Context) (Run, bool) {
	run, ok := ctx.Value(runCtxKey{}).(Run)
	return run, ok
}

// WithStage attaches the current pipeline stage (ingest, resolve, ...) to ctx.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// StageFromContext returns the stage attached to ctx, or "".
func StageFromContext(ctx context.Context) string {
	s, _ := ctx.Value(stageCtxKey{}).(string)
	return s
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
