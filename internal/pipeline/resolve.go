package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/graph"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/source"
)

// Resolve derives similarity edges from the stored vectors and replaces the
// similarity relationships in the graph with them. The collection must
// exist; an empty one yields no edges and clears the previous set.
func (p *Pipeline) Resolve(ctx context.Context) (*ResolveStats, error) {
	ctx = logging.WithStage(ctx, "resolve")
	ctx, span := p.tracer.Start(ctx, "pipeline.Resolve", trace.WithAttributes(
		attribute.String("corpus", p.cfg.Corpus),
		attribute.String("collection", p.cfg.Collection),
	))
	defer span.End()
	start := p.now()

	if err := p.requireCollection(ctx); err != nil {
		return nil, err
	}
	resolver, err := p.resolver()
	if err != nil {
		return nil, err
	}

	edges, simStats, err := resolver.Resolve(ctx)
	stats := &ResolveStats{Similarity: simStats}
	p.metrics.queryErrors.Add(float64(simStats.Errors))
	finish := func(err error) (*ResolveStats, error) {
		stats.Duration = p.now().Sub(start)
		p.metrics.stageSeconds.WithLabelValues("resolve").Set(stats.Duration.Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return stats, err
	}
	if err != nil {
		return finish(err)
	}
	p.metrics.edges.Set(float64(len(edges)))

	if p.materializer != nil {
		gs, err := p.materializer.ReplaceSimilarity(ctx, edges)
		stats.Graph = gs
		if err != nil {
			return finish(err)
		}
	}

	p.logger.Info(ctx, "resolve completed",
		zap.Int("edges", simStats.Edges),
		zap.Int("errors", stats.Errors()),
	)
	return finish(nil)
}

// Materialize reads the source and merges every non-empty document and its
// structural relationships into the graph, without touching the vector
// index or similarity relationships.
func (p *Pipeline) Materialize(ctx context.Context) (graph.Stats, error) {
	if p.materializer == nil {
		return graph.Stats{}, precondition("no graph store configured")
	}
	if p.deps.Source == nil {
		return graph.Stats{}, precondition("materialize needs a source")
	}
	ctx = logging.WithStage(ctx, "materialize")

	var docs []*document.Document
	err := source.Walk(ctx, p.deps.Source, func(doc *document.Document) error {
		if doc != nil && doc.ID != "" && p.normalizer.Text(doc) != "" {
			docs = append(docs, doc)
		}
		return nil
	})
	if errors.Is(err, source.ErrSourceNotFound) {
		return graph.Stats{}, precondition("%w", err)
	}
	if err != nil {
		return graph.Stats{}, err
	}
	if p.cfg.ClearGraph {
		if err := p.materializer.Clear(ctx); err != nil {
			return graph.Stats{}, precondition("clearing graph: %w", err)
		}
	}
	if err := p.materializer.EnsureSchema(ctx); err != nil {
		return graph.Stats{}, err
	}
	return p.materializer.MergeDocuments(ctx, docs)
}

// Analyze reports graph statistics, or nil without a graph store.
func (p *Pipeline) Analyze(ctx context.Context) (*graph.Analysis, error) {
	if p.materializer == nil {
		return nil, nil
	}
	return p.materializer.Analyze(ctx)
}
