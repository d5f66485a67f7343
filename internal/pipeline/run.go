package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/runlog"
	"github.com/fyrsmithlabs/docgraph/internal/source"
)

// NewSummary starts the summary of a run and returns ctx carrying the run
// id for log correlation.
func (p *Pipeline) NewSummary(ctx context.Context) (context.Context, *runlog.Summary) {
	s := &runlog.Summary{
		RunID:      uuid.NewString(),
		Corpus:     p.cfg.Corpus,
		Collection: p.cfg.Collection,
		VectorDim:  p.cfg.Dimension,
		StartedAt:  p.now().UTC(),
		Revision:   p.deps.Revision,
	}
	if p.deps.Source != nil {
		s.Source = p.deps.Source.Name()
	}
	return logging.WithRun(ctx, s.RunID, s.Corpus), s
}

// Run ingests, resolves and analyzes the corpus, then records the summary.
//
// A summary is returned for every run that got past its preconditions, even
// when a later phase failed; its Status and Error describe the outcome. A
// precondition failure before anything was written returns a nil summary.
func (p *Pipeline) Run(ctx context.Context) (*runlog.Summary, error) {
	ctx, s := p.NewSummary(ctx)
	p.logger.Info(ctx, "run started", zap.String("collection", p.cfg.Collection))

	ingest, err := p.Ingest(ctx)
	s.Ingest = ingest
	if err != nil && ingest == nil && errors.Is(err, ErrPrecondition) {
		return nil, err
	}
	if err == nil {
		s.Resolve, err = p.Resolve(ctx)
	}
	if err == nil {
		p.analyze(ctx, s)
	}
	return s, p.Record(ctx, s, err)
}

func (p *Pipeline) analyze(ctx context.Context, s *runlog.Summary) {
	a, err := p.Analyze(ctx)
	if err != nil {
		p.logger.Warn(ctx, "graph analysis failed", zap.Error(err))
		return
	}
	s.Graph = a
}

// Record finishes s with runErr and persists it to the summary file, the
// ledger, the notifier and the metrics textfile. Persistence failures are
// logged; runErr is returned unchanged.
func (p *Pipeline) Record(ctx context.Context, s *runlog.Summary, runErr error) error {
	if s.Revision == nil {
		if r, ok := p.deps.Source.(interface{ Revision() string }); ok && r.Revision() != "" {
			s.Revision = &source.Revision{Commit: r.Revision()}
		}
	}
	s.Finish(p.now(), runErr)
	if runErr == nil {
		p.metrics.lastSuccess.Set(float64(p.now().Unix()))
	}

	fields := []zap.Field{
		zap.String("status", s.Status),
		zap.Int("processed", s.Processed()),
		zap.Int("skipped", s.Skipped()),
		zap.Int("errors", s.Errors()),
		zap.Int("edges", s.Edges()),
		zap.Float64("duration_seconds", s.DurationSeconds),
	}
	if runErr != nil {
		p.logger.Error(ctx, "run failed", append(fields, zap.Error(runErr))...)
	} else {
		p.logger.Info(ctx, "run completed", fields...)
	}

	if path := p.cfg.SummaryPath; path != "" {
		if err := runlog.WriteSummary(path, s); err != nil {
			p.logger.Warn(ctx, "summary not written", zap.String("path", path), zap.Error(err))
		}
	}
	if l := p.deps.Ledger; l != nil {
		if err := l.Record(ctx, s); err != nil {
			p.logger.Warn(ctx, "run not recorded in ledger", zap.Error(err))
		}
	}
	if n := p.deps.Notifier; n != nil {
		if err := n.Publish(ctx, s); err != nil {
			p.logger.Warn(ctx, "run summary not published", zap.Error(err))
		}
	}
	if err := p.writeMetrics(); err != nil {
		p.logger.Warn(ctx, "metrics not written", zap.Error(err))
	}
	return runErr
}
