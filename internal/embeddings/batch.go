package embeddings

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
)

// BatchConfig configures a BatchEmbedder.
type BatchConfig struct {
	// BatchSize is the maximum number of texts per provider call.
	BatchSize int
	// Dimension is the expected vector length. Zero disables the check.
	Dimension int
	// RequestsPerSecond caps provider calls. Zero means unlimited.
	RequestsPerSecond float64
}

// BatchResult holds the vectors produced for one Embed call.
//
// Vectors[i] belongs to input Positions[i]; positions are strictly
// increasing so callers can zip results back onto their records.
type BatchResult struct {
	Vectors   [][]float32
	Positions []int
	// Dropped is the number of inputs whose chunk failed.
	Dropped      int
	FailedChunks int
}

// BatchEmbedder splits input into contiguous chunks and embeds each chunk
// with a single provider call.
type BatchEmbedder struct {
	embedder Embedder
	cfg      BatchConfig
	limiter  *rate.Limiter
	logger   *logging.Logger
	metrics  *Metrics
}

// NewBatchEmbedder wraps embedder.
func NewBatchEmbedder(embedder Embedder, cfg BatchConfig, logger *logging.Logger) (*BatchEmbedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be >= 1, got %d", ErrInvalidConfig, cfg.BatchSize)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("%w: requests per second must be >= 0", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := int(math.Max(1, math.Ceil(cfg.RequestsPerSecond)))

	return &BatchEmbedder{
		embedder: embedder,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.Named("embedder"),
		metrics:  NewMetrics(logger.Underlying()),
	}, nil
}

// Embed embeds texts in order. A chunk whose call fails, or that returns
// the wrong number or shape of vectors, is dropped as a whole and counted;
// the next chunk is still attempted.
//
// The only returned error is ctx.Err(), together with the result gathered
// so far.
func (b *BatchEmbedder) Embed(ctx context.Context, texts []string) (*BatchResult, error) {
	res := &BatchResult{
		Vectors:   make([][]float32, 0, len(texts)),
		Positions: make([]int, 0, len(texts)),
	}

	for start := 0; start < len(texts); start += b.cfg.BatchSize {
		end := min(start+b.cfg.BatchSize, len(texts))
		if err := b.limiter.Wait(ctx); err != nil {
			return res, err
		}

		vectors, err := b.embedder.EmbedDocuments(ctx, texts[start:end])
		if err == nil {
			err = b.checkShape(vectors, end-start)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Dropped += end - start
			res.FailedChunks++
			b.metrics.RecordDropped(ctx, end-start)
			b.logger.Warn(ctx, "embedding chunk dropped",
				zap.Int("offset", start),
				zap.Int("size", end-start),
				zap.Error(err),
			)
			continue
		}

		for i, v := range vectors {
			res.Vectors = append(res.Vectors, v)
			res.Positions = append(res.Positions, start+i)
		}
		b.logger.Trace(ctx, "embedded chunk", zap.Int("offset", start), zap.Int("size", end-start))
	}
	return res, nil
}

func (b *BatchEmbedder) checkShape(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), want)
	}
	if b.cfg.Dimension <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != b.cfg.Dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingFailed, i, len(v), b.cfg.Dimension)
		}
	}
	return nil
}
