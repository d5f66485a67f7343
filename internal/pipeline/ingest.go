package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/embeddings"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/source"
	"github.com/fyrsmithlabs/docgraph/internal/textnorm"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
)

// record is a document accepted for embedding.
type record struct {
	doc     *document.Document
	pointID string
	text    string
	preview string
}

// ingestRun carries the state of one Ingest call.
type ingestRun struct {
	stats    *IngestStats
	embedder *embeddings.BatchEmbedder
	writer   *vectorstore.Writer
	docs     []*document.Document
	modules  map[string]struct{}
	tags     map[string]struct{}
}

// Ingest reads every document from the source, embeds and writes the
// non-empty ones, then merges them into the graph.
//
// The first source page is read and the collection checked before
// anything is written, so a missing source or an unusable collection fails
// with ErrPrecondition and no side effects. Graph preparation runs before
// the collection is created or recreated. After that, failed chunks,
// dropped upsert batches and failed graph writes are counted in the
// returned stats; only cancellation and source read errors stop the pass,
// in which case the stats gathered so far are returned with the error.
func (p *Pipeline) Ingest(ctx context.Context) (*IngestStats, error) {
	if p.deps.Source == nil || p.deps.Embedder == nil {
		return nil, precondition("ingest needs a source and an embedder")
	}
	ctx = logging.WithStage(ctx, "ingest")
	ctx, span := p.tracer.Start(ctx, "pipeline.Ingest", trace.WithAttributes(
		attribute.String("corpus", p.cfg.Corpus),
		attribute.String("collection", p.cfg.Collection),
	))
	defer span.End()
	start := p.now()

	src := p.deps.Source
	page, err := src.Next(ctx, "")
	if err != nil {
		return nil, p.sourceError(src, err)
	}
	if _, err := p.checkCollection(ctx); err != nil {
		return nil, err
	}
	if p.materializer != nil {
		if p.cfg.ClearGraph {
			if err := p.materializer.Clear(ctx); err != nil {
				return nil, precondition("clearing graph: %w", err)
			}
			p.logger.Info(ctx, "graph cleared")
		}
		if err := p.materializer.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	if err := p.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	run, err := p.newIngestRun()
	if err != nil {
		return nil, err
	}
	finish := func(err error) (*IngestStats, error) {
		p.finishIngest(run, start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return run.stats, err
	}

	cursor := ""
	for {
		if err := p.ingestPage(ctx, run, page.Documents); err != nil {
			return finish(err)
		}
		next := page.NextCursor
		if next == "" || next == cursor {
			break
		}
		cursor = next
		if page, err = src.Next(ctx, cursor); err != nil {
			return finish(fmt.Errorf("reading %s: %w", src.Name(), err))
		}
	}

	if err := run.writer.Flush(ctx); err != nil {
		return finish(err)
	}

	if p.materializer != nil {
		gs, err := p.materializer.MergeDocuments(ctx, run.docs)
		run.stats.Graph = gs
		if err != nil {
			return finish(err)
		}
	}

	stats, _ := finish(nil)
	span.SetAttributes(
		attribute.Int("documents", stats.Total),
		attribute.Int("processed", stats.Processed),
		attribute.Int("errors", stats.Errors()),
	)
	p.logger.Info(ctx, "ingest completed",
		zap.Int("total", stats.Total),
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped+stats.Invalid),
		zap.Int("errors", stats.Errors()),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (p *Pipeline) newIngestRun() (*ingestRun, error) {
	embedder, err := embeddings.NewBatchEmbedder(p.deps.Embedder, embeddings.BatchConfig{
		BatchSize:         p.cfg.BatchSize,
		Dimension:         p.cfg.Dimension,
		RequestsPerSecond: p.cfg.RequestsPerSecond,
	}, p.logger)
	if err != nil {
		return nil, err
	}
	writer, err := vectorstore.NewWriter(p.deps.Index, vectorstore.WriterConfig{
		Collection: p.cfg.Collection,
		FlushSize:  p.cfg.FlushSize,
		RetryDelay: p.cfg.RetryDelay,
	}, p.writerMetric, p.logger)
	if err != nil {
		return nil, err
	}
	return &ingestRun{
		stats:    &IngestStats{},
		embedder: embedder,
		writer:   writer,
		modules:  map[string]struct{}{},
		tags:     map[string]struct{}{},
	}, nil
}

// ingestPage embeds and writes one source page.
func (p *Pipeline) ingestPage(ctx context.Context, run *ingestRun, docs []*document.Document) error {
	records := make([]record, 0, len(docs))
	for _, doc := range docs {
		run.stats.Total++
		rec, ok := p.prepare(ctx, run, doc)
		if !ok {
			continue
		}
		records = append(records, rec)
		run.docs = append(run.docs, doc)
		if doc.Module != "" {
			run.modules[doc.Module] = struct{}{}
		}
		for _, t := range doc.Tags {
			run.tags[t] = struct{}{}
		}
	}
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.text
	}
	res, err := run.embedder.Embed(ctx, texts)
	run.stats.Embedded += len(res.Vectors)
	run.stats.EmbedErrors += res.Dropped
	p.metrics.documents.WithLabelValues(outcomeEmbedded).Add(float64(len(res.Vectors)))
	p.metrics.documents.WithLabelValues(outcomeEmbedError).Add(float64(res.Dropped))
	if err != nil {
		return err
	}

	points := make([]vectorstore.Point, len(res.Vectors))
	for i, v := range res.Vectors {
		r := records[res.Positions[i]]
		points[i] = vectorstore.Point{
			ID:      r.pointID,
			Vector:  v,
			Payload: document.Payload(r.doc, r.preview),
		}
	}
	return run.writer.Write(ctx, points...)
}

// prepare normalizes and redacts doc. It reports false for documents that
// are skipped.
func (p *Pipeline) prepare(ctx context.Context, run *ingestRun, doc *document.Document) (record, bool) {
	if doc == nil || doc.ID == "" {
		run.stats.Invalid++
		p.metrics.documents.WithLabelValues(outcomeInvalid).Inc()
		p.logger.Debug(ctx, "document without id skipped")
		return record{}, false
	}
	pointID, err := p.mapper.Map(doc.ID)
	if err != nil {
		run.stats.Invalid++
		p.metrics.documents.WithLabelValues(outcomeInvalid).Inc()
		return record{}, false
	}

	clean := *doc
	body, findings := p.deps.Redactor.Redact(doc.Body)
	clean.Body = body
	text := p.normalizer.Text(&clean)
	if text == "" {
		run.stats.Skipped++
		p.metrics.documents.WithLabelValues(outcomeSkipped).Inc()
		p.logger.Debug(ctx, "empty document skipped", zap.String("key", doc.ID))
		return record{}, false
	}
	if len(findings) > 0 {
		run.stats.Redactions += len(findings)
		p.logger.Info(ctx, "secrets redacted", zap.String("key", doc.ID), zap.Int("findings", len(findings)))
	}
	return record{
		doc:     &clean,
		pointID: pointID,
		text:    text,
		preview: textnorm.Preview(clean.Body, p.cfg.PreviewChars),
	}, true
}

func (p *Pipeline) finishIngest(run *ingestRun, start time.Time) {
	s := run.stats
	s.Writer = run.writer.Stats()
	s.Processed = s.Writer.Written
	s.Modules = sortedKeys(run.modules)
	s.Tags = sortedKeys(run.tags)
	s.Duration = p.now().Sub(start)
	p.metrics.stageSeconds.WithLabelValues("ingest").Set(s.Duration.Seconds())
}

func (p *Pipeline) sourceError(src source.Source, err error) error {
	if errors.Is(err, source.ErrSourceNotFound) {
		return precondition("source %s: %w", src.Name(), err)
	}
	return fmt.Errorf("reading %s: %w", src.Name(), err)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
