// Package pipeline runs the per-corpus embedding and similarity graph
// pipeline.
//
// A run has two strictly sequential phases. Ingest reads every document from
// the source, embeds the normalized text in fixed-size chunks, writes the
// vectors through the buffered Writer and merges document nodes and their
// structural relationships into the graph. Resolve scans the complete vector
// collection, derives similarity edges and replaces the previous similarity
// relationships in the graph. Recoverable failures are counted in the stats;
// only cancellation and the fatal preconditions wrapped in ErrPrecondition
// abort a phase.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/embeddings"
	"github.com/fyrsmithlabs/docgraph/internal/graph"
	"github.com/fyrsmithlabs/docgraph/internal/identity"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/runlog"
	"github.com/fyrsmithlabs/docgraph/internal/secrets"
	"github.com/fyrsmithlabs/docgraph/internal/similarity"
	"github.com/fyrsmithlabs/docgraph/internal/source"
	"github.com/fyrsmithlabs/docgraph/internal/textnorm"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
)

// ErrPrecondition marks failures that abort a run before anything is
// written: missing collections, unreachable stores, dimension mismatches.
var ErrPrecondition = errors.New("pipeline precondition failed")

// Stats of the two phases.
type (
	IngestStats  = runlog.IngestStats
	ResolveStats = runlog.ResolveStats
)

// PayloadIndex is a payload field index created with the collection.
type PayloadIndex struct {
	Field string
	Type  vectorstore.PayloadIndexType
}

// Config parameterizes the pipeline for one corpus.
type Config struct {
	Corpus     string
	Kind       document.Kind
	Collection string
	Dimension  int
	// Recreate drops and recreates the collection before ingesting.
	Recreate       bool
	PayloadIndexes []PayloadIndex

	HeaderStyle  textnorm.Style
	MaxChars     int
	PreviewChars int
	RequireBody  bool

	BatchSize         int
	FlushSize         int
	RetryDelay        time.Duration
	RequestsPerSecond float64
	IdentityStrategy  identity.Strategy

	TopK           int
	Threshold      float64
	ScrollPageSize int

	Label        string
	KeyProperty  string
	Relationship string
	// ClearGraph deletes the whole graph before ingesting.
	ClearGraph bool

	// Rerank reorders search hits by lexical overlap with the query,
	// weighted by RerankWeight, out of SearchCandidates times the limit.
	Rerank           bool
	RerankWeight     float32
	SearchCandidates int

	// SummaryPath receives the run summary JSON when set.
	SummaryPath string
	// MetricsTextfile receives the run's prometheus metrics when set.
	MetricsTextfile string
}

// Notifier announces finished runs.
type Notifier interface {
	Publish(ctx context.Context, s *runlog.Summary) error
}

// Deps are the collaborators of a pipeline. Index is required; Source and
// Embedder are required by Ingest. A nil Graph disables materialization.
type Deps struct {
	Source   source.Source
	Embedder embeddings.Embedder
	Index    vectorstore.Index
	Graph    graph.Store
	Redactor secrets.Redactor
	Ledger   *runlog.Ledger
	Notifier Notifier
	Revision *source.Revision
	// Registry collects the run's prometheus metrics. A fresh registry is
	// created when nil.
	Registry *prometheus.Registry
	// Tracer defaults to the global provider's "docgraph.pipeline" tracer.
	Tracer trace.Tracer
}

// Pipeline is one configured corpus pipeline. It is not safe for
// concurrent use.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time

	mapper       *identity.Mapper
	normalizer   *textnorm.Normalizer
	materializer *graph.Materializer
	metrics      *metrics
	writerMetric *vectorstore.Metrics

	closers []func() error
}

// New validates cfg and wires the pipeline. logger may be nil.
func New(cfg Config, deps Deps, logger *logging.Logger) (*Pipeline, error) {
	if deps.Index == nil {
		return nil, errors.New("vector index is required")
	}
	if err := vectorstore.ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.Dimension < 1 {
		return nil, fmt.Errorf("dimension must be >= 1, got %d", cfg.Dimension)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Redactor == nil {
		deps.Redactor = secrets.NopRedactor{}
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	mapper, err := identity.NewMapper(cfg.IdentityStrategy)
	if err != nil {
		return nil, err
	}
	normalizer, err := textnorm.New(textnorm.Config{
		Style:       cfg.HeaderStyle,
		MaxChars:    cfg.MaxChars,
		RequireBody: cfg.RequireBody,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:          cfg,
		deps:         deps,
		logger:       logger.Named("pipeline"),
		tracer:       deps.Tracer,
		now:          time.Now,
		mapper:       mapper,
		normalizer:   normalizer,
		metrics:      newMetrics(deps.Registry),
		writerMetric: vectorstore.NewMetrics(deps.Registry),
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("docgraph.pipeline")
	}
	if deps.Graph != nil {
		p.materializer, err = graph.NewMaterializer(deps.Graph, graph.MaterializerConfig{
			Kind:         cfg.Kind,
			Label:        cfg.Label,
			KeyProperty:  cfg.KeyProperty,
			Relationship: cfg.Relationship,
		}, logger)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Registry returns the prometheus registry of this run.
func (p *Pipeline) Registry() *prometheus.Registry { return p.deps.Registry }

// Index returns the vector index.
func (p *Pipeline) Index() vectorstore.Index { return p.deps.Index }

// Ledger returns the run ledger, or nil.
func (p *Pipeline) Ledger() *runlog.Ledger { return p.deps.Ledger }

// Redactor returns the configured secret redactor.
func (p *Pipeline) Redactor() secrets.Redactor { return p.deps.Redactor }

// onClose registers fn to run on Close, in reverse order.
func (p *Pipeline) onClose(fn func() error) {
	p.closers = append(p.closers, fn)
}

// Close releases every store connection opened for the pipeline.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Pipeline) resolver() (*similarity.Resolver, error) {
	return similarity.NewResolver(p.deps.Index, similarity.Config{
		Collection: p.cfg.Collection,
		TopK:       p.cfg.TopK,
		Threshold:  p.cfg.Threshold,
		PageSize:   p.cfg.ScrollPageSize,
	}, p.logger)
}

func precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrPrecondition, fmt.Errorf(format, args...))
}
