package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/docgraph/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, enc zapcore.Encoder, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m", Time: time.Unix(0, 0)}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, NewDefaultConfig().Redaction)
	require.NoError(t, err)

	tests := []struct {
		name     string
		field    zap.Field
		contains string
		absent   string
	}{
		{name: "sensitive key", field: zap.String("password", "hunter2"), contains: `"password":"[REDACTED]"`, absent: "hunter2"},
		{name: "key case insensitive", field: zap.String("API_KEY", "k"), contains: `"API_KEY":"[REDACTED]"`},
		{name: "bearer value", field: zap.String("header", "Bearer abc.def"), contains: "[REDACTED:pattern]", absent: "abc.def"},
		{name: "neo4j url with credentials", field: zap.String("uri", "neo4j://neo4j:pw@db:7687"), contains: "[REDACTED:pattern]"},
		{name: "plain value", field: zap.String("collection", "notion_pages"), contains: `"collection":"notion_pages"`},
		{name: "reflected sensitive", field: zap.Any("token", map[string]int{"a": 1}), contains: `"token":"[REDACTED]"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encode(t, enc.Clone(), tt.field)
			assert.Contains(t, out, tt.contains)
			if tt.absent != "" {
				assert.NotContains(t, out, tt.absent)
			}
		})
	}
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, RedactionConfig{})
	require.NoError(t, err)

	assert.Contains(t, encode(t, enc, zap.String("password", "x")), `"password":"x"`)
}

func TestSecretField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(t.Context(), "connecting", Secret("neo4j_password", config.Secret("abcd")))
	tl.AssertField(t, "connecting", "neo4j_password", "[REDACTED:4]")
}
