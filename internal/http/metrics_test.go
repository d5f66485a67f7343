package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/v1/runs/:id", func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")}) })

	for _, target := range []string{"/health", "/api/v1/runs/r1", "/api/v1/runs/r2"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "docgraph.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				byEndpoint := map[string]int64{}
				for _, dp := range sum.DataPoints {
					ep, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					byEndpoint[ep.AsString()] += dp.Value
				}
				// Route patterns, not raw paths, label the series.
				assert.Equal(t, map[string]int64{"/health": 1, "/api/v1/runs/:id": 2}, byEndpoint)
			case "docgraph.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var n uint64
				for _, dp := range hist.DataPoints {
					n += dp.Count
				}
				assert.Equal(t, uint64(3), n)
			}
		}
	}
	assert.True(t, found["docgraph.http.requests_total"])
	assert.True(t, found["docgraph.http.request_duration_seconds"])
	assert.True(t, found["docgraph.http.response_size_bytes"])
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/api/v1/runs/:id", "/api/v1/runs/:id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input))
	}
}
