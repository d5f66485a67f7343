package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
)

// EnsureCollection prepares the vector collection for ingestion: it is
// dropped first when Recreate is set, created when absent and otherwise
// checked against the configured dimension. Payload indexes are created
// best effort.
func (p *Pipeline) EnsureCollection(ctx context.Context) error {
	idx, name := p.deps.Index, p.cfg.Collection

	exists, err := p.checkCollection(ctx)
	if err != nil {
		return err
	}
	if exists && p.cfg.Recreate {
		if err := idx.DeleteCollection(ctx, name); err != nil {
			return precondition("deleting collection %s: %w", name, err)
		}
		p.logger.Info(ctx, "collection deleted for recreate", zap.String("collection", name))
		exists = false
	}

	if !exists {
		if err := idx.CreateCollection(ctx, name, p.cfg.Dimension); err != nil {
			return precondition("creating collection %s: %w", name, err)
		}
		p.logger.Info(ctx, "collection created",
			zap.String("collection", name),
			zap.Int("dimension", p.cfg.Dimension),
		)
	}

	for _, pi := range p.cfg.PayloadIndexes {
		if err := idx.CreatePayloadIndex(ctx, name, pi.Field, pi.Type); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn(ctx, "payload index not created",
				zap.String("collection", name),
				zap.String("field", pi.Field),
				zap.Error(err),
			)
		}
	}
	return nil
}

// checkCollection reports whether the collection exists and, unless it is
// about to be recreated, that its dimension matches. It writes nothing.
func (p *Pipeline) checkCollection(ctx context.Context) (bool, error) {
	idx, name := p.deps.Index, p.cfg.Collection
	exists, err := idx.CollectionExists(ctx, name)
	if err != nil {
		return false, precondition("checking collection %s: %w", name, err)
	}
	if !exists || p.cfg.Recreate {
		return exists, nil
	}
	size, err := idx.VectorSize(ctx, name)
	if err != nil {
		return true, precondition("reading collection %s: %w", name, err)
	}
	if size != p.cfg.Dimension {
		return true, precondition("collection %s has %d dimensions, embeddings have %d: %w",
			name, size, p.cfg.Dimension, vectorstore.ErrDimensionMismatch)
	}
	return true, nil
}

// requireCollection fails with ErrPrecondition when the collection is
// absent.
func (p *Pipeline) requireCollection(ctx context.Context) error {
	exists, err := p.deps.Index.CollectionExists(ctx, p.cfg.Collection)
	if err != nil {
		return precondition("checking collection %s: %w", p.cfg.Collection, err)
	}
	if !exists {
		return precondition("collection %s: %w", p.cfg.Collection, vectorstore.ErrCollectionNotFound)
	}
	return nil
}
