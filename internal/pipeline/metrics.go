package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Document outcomes.
const (
	outcomeEmbedded   = "embedded"
	outcomeSkipped    = "skipped"
	outcomeInvalid    = "invalid"
	outcomeEmbedError = "embed_error"
)

type metrics struct {
	documents    *prometheus.CounterVec
	edges        prometheus.Gauge
	queryErrors  prometheus.Counter
	stageSeconds *prometheus.GaugeVec
	lastSuccess  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		documents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docgraph",
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents read from the source by outcome",
		}, []string{"outcome"}),
		edges: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docgraph",
			Subsystem: "pipeline",
			Name:      "similarity_edges",
			Help:      "Similarity edges produced by the last resolution",
		}),
		queryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docgraph",
			Subsystem: "pipeline",
			Name:      "neighbour_query_errors_total",
			Help:      "Failed nearest neighbour queries",
		}),
		stageSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docgraph",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last run of each stage",
		}, []string{"stage"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docgraph",
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}
}

// writeMetrics writes the registry in the node exporter textfile format.
func (p *Pipeline) writeMetrics() error {
	if p.cfg.MetricsTextfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(p.cfg.MetricsTextfile, p.deps.Registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
