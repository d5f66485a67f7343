package vectorstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	Collection string
	// FlushSize is the number of buffered points that triggers an upsert.
	FlushSize int
	// RetryDelay is the pause before the single retry of a failed upsert.
	RetryDelay time.Duration
}

// WriterStats are the Writer's running totals.
type WriterStats struct {
	Written int `json:"written"`
	// Errors is the number of points in dropped batches.
	Errors         int `json:"errors"`
	Retries        int `json:"retries"`
	Batches        int `json:"batches"`
	DroppedBatches int `json:"dropped_batches"`
}

// Writer buffers points and flushes them to an Index in fixed-size
// batches. A failed upsert is retried exactly once after RetryDelay; if the
// retry fails too the batch is dropped and counted, and writing continues.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	index   Index
	cfg     WriterConfig
	metrics *Metrics
	logger  *logging.Logger
	sleep   func(context.Context, time.Duration) error

	buf   []Point
	stats WriterStats
}

// NewWriter creates a Writer. metrics and logger may be nil.
func NewWriter(index Index, cfg WriterConfig, metrics *Metrics, logger *logging.Logger) (*Writer, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrInvalidConfig)
	}
	if cfg.FlushSize < 1 {
		return nil, fmt.Errorf("%w: flush size must be >= 1, got %d", ErrInvalidConfig, cfg.FlushSize)
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{
		index:   index,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("writer"),
		sleep:   sleepContext,
		buf:     make([]Point, 0, cfg.FlushSize),
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Write buffers points, flushing every time the buffer reaches FlushSize.
// It returns an error only when ctx is done.
func (w *Writer) Write(ctx context.Context, points ...Point) error {
	for _, p := range points {
		w.buf = append(w.buf, p)
		if len(w.buf) >= w.cfg.FlushSize {
			if err := w.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes any buffered remainder. Call it once at end of stream.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	return w.flush(ctx)
}

// Stats returns the running totals.
func (w *Writer) Stats() WriterStats {
	return w.stats
}

// Pending returns the number of buffered points.
func (w *Writer) Pending() int {
	return len(w.buf)
}

func (w *Writer) flush(ctx context.Context) error {
	batch := w.buf
	w.buf = make([]Point, 0, w.cfg.FlushSize)
	w.stats.Batches++

	err := w.upsert(ctx, batch)
	if err == nil {
		w.accept(batch)
		return nil
	}

	w.stats.Retries++
	w.metrics.UpsertAttempts.WithLabelValues("retry").Inc()
	w.logger.Warn(ctx, "upsert failed, retrying once",
		zap.String("collection", w.cfg.Collection),
		zap.Int("batch_size", len(batch)),
		zap.Duration("delay", w.cfg.RetryDelay),
		zap.Error(err),
	)
	if err := w.sleep(ctx, w.cfg.RetryDelay); err != nil {
		return err
	}

	if err := w.upsert(ctx, batch); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.stats.Errors += len(batch)
		w.stats.DroppedBatches++
		w.metrics.PointsDropped.Add(float64(len(batch)))
		w.metrics.UpsertAttempts.WithLabelValues("dropped").Inc()
		w.logger.Error(ctx, "upsert retry failed, batch dropped",
			zap.String("collection", w.cfg.Collection),
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		return nil
	}
	w.accept(batch)
	return nil
}

func (w *Writer) upsert(ctx context.Context, batch []Point) error {
	start := time.Now()
	err := w.index.Upsert(ctx, w.cfg.Collection, batch)
	w.metrics.UpsertDuration.Observe(time.Since(start).Seconds())
	return err
}

func (w *Writer) accept(batch []Point) {
	w.stats.Written += len(batch)
	w.metrics.PointsWritten.Add(float64(len(batch)))
	w.metrics.UpsertAttempts.WithLabelValues("success").Inc()
}
