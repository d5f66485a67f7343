package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Writer's prometheus instruments. They are registered on a
// caller supplied registry so that each run reports its own totals.
type Metrics struct {
	// PointsWritten counts points accepted by an upsert.
	PointsWritten prometheus.Counter

	// PointsDropped counts points lost after the retry also failed.
	PointsDropped prometheus.Counter

	// UpsertAttempts counts upsert calls by result (success, retry, dropped).
	UpsertAttempts *prometheus.CounterVec

	// UpsertDuration tracks how long upsert calls take.
	UpsertDuration prometheus.Histogram
}

// NewMetrics registers the writer metrics on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PointsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docgraph",
			Subsystem: "vectorstore",
			Name:      "points_written_total",
			Help:      "Points persisted to the vector index",
		}),
		PointsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docgraph",
			Subsystem: "vectorstore",
			Name:      "points_dropped_total",
			Help:      "Points dropped after a failed upsert retry",
		}),
		UpsertAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docgraph",
			Subsystem: "vectorstore",
			Name:      "upserts_total",
			Help:      "Upsert batches by outcome",
		}, []string{"result"}),
		UpsertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docgraph",
			Subsystem: "vectorstore",
			Name:      "upsert_duration_seconds",
			Help:      "Duration of upsert calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
