package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	res := newResource(cfg)

	var found bool
	for _, attr := range res.Attributes() {
		if string(attr.Key) == "service.name" {
			assert.Equal(t, cfg.ServiceName, attr.Value.AsString())
			found = true
		}
	}
	assert.True(t, found, "service.name attribute not found")
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, trace.ParentBased(trace.AlwaysSample()).Description()},
		{0, trace.ParentBased(trace.NeverSample()).Description()},
		{0.5, trace.ParentBased(trace.TraceIDRatioBased(0.5)).Description()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sampler(tt.rate).Description())
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4317", stripScheme("otel:4317"))
}
