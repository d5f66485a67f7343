// Package similarity derives SIMILAR_TO edges from the vectors already
// stored in a vector index.
//
// The resolver scans the whole collection, queries each point's nearest
// neighbours and keeps candidates at or above a threshold. An unordered pair
// produces at most one edge whose source is the byte-wise smaller document
// key, so repeated passes over unchanged vectors yield the same edge set.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
)

// ErrInvalidConfig is returned by NewResolver for unusable settings.
var ErrInvalidConfig = errors.New("invalid similarity config")

// Config configures a Resolver.
type Config struct {
	Collection string
	// TopK is the number of neighbour candidates evaluated per point.
	TopK int
	// Threshold is the minimum score for an edge, in (0,1].
	Threshold float64
	// PageSize is the scroll page size of the full scan.
	PageSize int
}

// Stats are the totals of one resolution pass.
type Stats struct {
	Points int `json:"points"`
	// Unkeyed counts scanned points without a document key in their payload.
	Unkeyed    int `json:"unkeyed"`
	Queries    int `json:"queries"`
	Candidates int `json:"candidates"`
	// Skipped counts candidates below the threshold.
	Skipped int `json:"skipped"`
	// Suppressed counts candidates whose key precedes the pivot's key.
	Suppressed int `json:"suppressed"`
	// Duplicates counts candidates whose pair was already emitted.
	Duplicates int `json:"duplicates"`
	Edges      int `json:"edges"`
	// Errors counts failed neighbour queries.
	Errors int `json:"errors"`
}

// Resolver computes similarity edges over one collection.
type Resolver struct {
	index  vectorstore.Index
	cfg    Config
	logger *logging.Logger
	tracer trace.Tracer
}

// NewResolver validates cfg and returns a Resolver. logger may be nil.
func NewResolver(index vectorstore.Index, cfg Config, logger *logging.Logger) (*Resolver, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrInvalidConfig)
	}
	if err := vectorstore.ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.TopK < 1 {
		return nil, fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalidConfig, cfg.TopK)
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be in (0,1], got %v", ErrInvalidConfig, cfg.Threshold)
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 100
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		index:  index,
		cfg:    cfg,
		logger: logger.Named("similarity"),
		tracer: otel.Tracer("docgraph.similarity"),
	}, nil
}

// Resolve scans every stored point and returns the deduplicated edge set,
// sorted by source then target. A failed neighbour query is counted and
// skipped; only scan failures and cancellation abort the pass.
func (r *Resolver) Resolve(ctx context.Context) ([]document.SimilarityEdge, Stats, error) {
	ctx, span := r.tracer.Start(ctx, "similarity.Resolve", trace.WithAttributes(
		attribute.String("collection", r.cfg.Collection),
		attribute.Int("top_k", r.cfg.TopK),
		attribute.Float64("threshold", r.cfg.Threshold),
	))
	defer span.End()

	var stats Stats
	points, err := r.scan(ctx)
	stats.Points = len(points)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, stats, err
	}

	edges := make(map[pairKey]document.SimilarityEdge)
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return sortedEdges(edges), stats, err
		}
		key := document.KeyFromPayload(p.Payload)
		if key == "" {
			stats.Unkeyed++
			r.logger.Debug(ctx, "point has no document key", zap.String("point_id", p.ID))
			continue
		}

		stats.Queries++
		hits, err := r.index.Query(ctx, r.cfg.Collection, p.Vector, r.cfg.TopK+1)
		if err != nil {
			if ctx.Err() != nil {
				return sortedEdges(edges), stats, ctx.Err()
			}
			stats.Errors++
			r.logger.Warn(ctx, "neighbour query failed, point skipped",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		r.collect(key, p.ID, hits, edges, &stats)
	}

	out := sortedEdges(edges)
	stats.Edges = len(out)
	span.SetAttributes(attribute.Int("edges", stats.Edges), attribute.Int("errors", stats.Errors))
	r.logger.Info(ctx, "similarity resolved",
		zap.Int("points", stats.Points),
		zap.Int("edges", stats.Edges),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return out, stats, nil
}

func (r *Resolver) scan(ctx context.Context) ([]vectorstore.Point, error) {
	var all []vectorstore.Point
	err := vectorstore.ScanAll(ctx, r.index, r.cfg.Collection, r.cfg.PageSize, func(page []vectorstore.Point) error {
		all = append(all, page...)
		return nil
	})
	if err != nil {
		return all, err
	}
	r.logger.Debug(ctx, "scan complete", zap.Int("points", len(all)))
	return all, nil
}

// collect evaluates up to TopK candidates of one pivot. The pivot itself is
// recognised by point id, never by score.
func (r *Resolver) collect(key, pointID string, hits []vectorstore.ScoredPoint, edges map[pairKey]document.SimilarityEdge, stats *Stats) {
	evaluated := 0
	for _, hit := range hits {
		if hit.ID == pointID {
			continue
		}
		if evaluated == r.cfg.TopK {
			break
		}
		evaluated++

		other := document.KeyFromPayload(hit.Payload)
		if other == "" || other == key {
			continue
		}
		stats.Candidates++

		score := widen(hit.Score)
		if score < r.cfg.Threshold {
			stats.Skipped++
			continue
		}
		// Go string comparison is byte-wise, independent of locale.

		if key > other {
			stats.Suppressed++
			continue
		}
		pk := pairKey{key, other}
		if _, ok := edges[pk]; ok {
			stats.Duplicates++
			continue
		}
		edges[pk] = document.SimilarityEdge{Source: key, Target: other, Score: score}
	}
}

type pairKey struct{ source, target string }

// widen converts a float32 score to the float64 with the same shortest
// decimal form, so 0.9 compares equal to a 0.9 threshold.
func widen(s float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(s), 'g', -1, 32), 64)
	if err != nil {
		return float64(s)
	}
	return v
}

func sortedEdges(m map[pairKey]document.SimilarityEdge) []document.SimilarityEdge {
	out := make([]document.SimilarityEdge, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}
