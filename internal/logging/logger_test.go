package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "console", mutate: func(c *Config) { c.Format = "console" }},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: true},
		{name: "no outputs", mutate: func(c *Config) { c.Output.Stderr = false }, wantErr: true},
		{name: "otel without provider", mutate: func(c *Config) { c.Output = OutputConfig{OTEL: true} }, wantErr: true},
		{name: "bad pattern", mutate: func(c *Config) { c.Redaction.Patterns = []string{"("} }, wantErr: true},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: true},
		{name: "empty field value", mutate: func(c *Config) { c.Fields = map[string]string{"k": ""} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			logger, err := NewLogger(cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger.Underlying())
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRun(context.Background(), "run-1", "pages")
	ctx = WithStage(ctx, "resolve")
	tl.Info(ctx, "edges resolved", zap.Int("edges", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "edges resolved")
	tl.AssertField(t, "edges resolved", "run.id", "run-1")
	tl.AssertField(t, "edges resolved", "corpus", "pages")
	tl.AssertField(t, "edges resolved", "stage", "resolve")
	tl.AssertField(t, "edges resolved", "edges", int64(3))
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	tl.Warn(ctx, "upsert retry")

	tl.AssertField(t, "upsert retry", "trace_id", sc.TraceID().String())
	tl.AssertField(t, "upsert retry", "span_id", sc.SpanID().String())
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "candidate")
	tl.Debug(ctx, "skip")
	tl.Error(ctx, "batch dropped")

	assert.Equal(t, 1, tl.CountLevel(TraceLevel))
	assert.Equal(t, 1, tl.CountLevel(zapcore.DebugLevel))
	tl.AssertLogged(t, zapcore.ErrorLevel, "batch dropped")
	tl.AssertNotLogged(t, zapcore.WarnLevel, "batch dropped")
}

func TestContext_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, ok := RunFromContext(ctx)
	assert.False(t, ok)
	assert.Empty(t, StageFromContext(ctx))

	ctx = WithRun(ctx, "r", "code")
	run, ok := RunFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, Run{ID: "r", Corpus: "code"}, run)

	tl := NewTestLogger()
	assert.Same(t, tl.Logger, FromContext(WithLogger(ctx, tl.Logger)))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}
