package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docgraph/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "docgraph", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.NoError(t, cfg.Validate())
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "https://otel.example.com:4318",
		Protocol:    ProtocolHTTP,
		ServiceName: "docgraph-nightly",
		SampleRate:  0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "docgraph-nightly", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, 0.25, cfg.SampleRate)
	require.NoError(t, cfg.Validate())

	defaults := FromConfig(config.TelemetryConfig{}, "")
	assert.Equal(t, "localhost:4317", defaults.Endpoint)
	assert.Equal(t, "dev", defaults.ServiceVersion)
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mutate func(*Config)) *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		mutate(cfg)
		return cfg
	}
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{name: "disabled skips validation", config: &Config{}},
		{name: "enabled defaults", config: enabled(func(*Config) {})},
		{name: "missing endpoint", config: enabled(func(c *Config) { c.Endpoint = "" }), wantErr: "endpoint is required"},
		{name: "missing service name", config: enabled(func(c *Config) { c.ServiceName = "" }), wantErr: "service_name is required"},
		{name: "unknown protocol", config: enabled(func(c *Config) { c.Protocol = "thrift" }), wantErr: "unknown protocol"},
		{name: "insecure remote", config: enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317" }), wantErr: "insecure connections"},
		{name: "secure remote", config: enabled(func(c *Config) {
			c.Endpoint = "otel.example.com:4317"
			c.Insecure = false
		})},
		{name: "sample rate above one", config: enabled(func(c *Config) { c.SampleRate = 1.5 }), wantErr: "sample_rate"},
		{name: "negative sample rate", config: enabled(func(c *Config) { c.SampleRate = -0.1 }), wantErr: "sample_rate"},
		{name: "zero export interval", config: enabled(func(c *Config) { c.ExportInterval = 0 }), wantErr: "export_interval"},
		{name: "metrics off ignores interval", config: enabled(func(c *Config) {
			c.MetricsEnabled = false
			c.ExportInterval = 0
		})},
		{name: "zero shutdown timeout", config: enabled(func(c *Config) { c.ShutdownTimeout = 0 }), wantErr: "shutdown_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		isLocal  bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.53:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"http://localhost:4318", true},
		{"otel.example.com:4317", false},
		{"10.0.0.5:4317", false},
		{"https://otel.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.isLocal, cfg.isLocalEndpoint())
		})
	}
}
