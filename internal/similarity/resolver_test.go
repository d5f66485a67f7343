package similarity

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
)

// scriptedIndex serves scans from a MemoryIndex and answers neighbour
// queries from a fixed table keyed by point id, so scores need not be
// geometrically consistent.
type scriptedIndex struct {
	*vectorstore.MemoryIndex
	byVector map[float32]string
	hits     map[string][]vectorstore.ScoredPoint
	fail     map[string]error
	limits   []int
}

func (s *scriptedIndex) Query(_ context.Context, _ string, vector []float32, limit int) ([]vectorstore.ScoredPoint, error) {
	s.limits = append(s.limits, limit)
	id := s.byVector[vector[0]]
	if err := s.fail[id]; err != nil {
		return nil, err
	}
	hits := s.hits[id]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func hit(id string, score float32) vectorstore.ScoredPoint {
	return vectorstore.ScoredPoint{
		Point: vectorstore.Point{ID: id, Payload: map[string]any{document.PayloadKey: id}},
		Score: score,
	}
}

// newScripted stores one point per key; vector[0] identifies the point.
func newScripted(t *testing.T, keys ...string) *scriptedIndex {
	t.Helper()
	ctx := context.Background()
	mem := vectorstore.NewMemoryIndex()
	require.NoError(t, mem.CreateCollection(ctx, "docs", 2))
	s := &scriptedIndex{
		MemoryIndex: mem,
		byVector:    map[float32]string{},
		hits:        map[string][]vectorstore.ScoredPoint{},
		fail:        map[string]error{},
	}
	for i, k := range keys {
		marker := float32(i + 1)
		s.byVector[marker] = k
		require.NoError(t, mem.Upsert(ctx, "docs", []vectorstore.Point{{
			ID:      k,
			Vector:  []float32{marker, 1},
			Payload: map[string]any{document.PayloadKey: k},
		}}))
	}
	return s
}

func resolver(t *testing.T, idx vectorstore.Index, topK int, threshold float64) (*Resolver, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	r, err := NewResolver(idx, Config{Collection: "docs", TopK: topK, Threshold: threshold, PageSize: 2}, logger.Logger)
	require.NoError(t, err)
	return r, logger
}

func TestResolve_ThreeDocumentScenario(t *testing.T) {
	idx := newScripted(t, "A", "B", "C")
	idx.hits["A"] = []vectorstore.ScoredPoint{hit("A", 1), hit("B", 0.9), hit("C", 0.3)}
	idx.hits["B"] = []vectorstore.ScoredPoint{hit("B", 1), hit("C", 0.92), hit("A", 0.9)}
	idx.hits["C"] = []vectorstore.ScoredPoint{hit("C", 1), hit("B", 0.92), hit("A", 0.3)}

	r, _ := resolver(t, idx, 2, 0.75)
	edges, stats, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []document.SimilarityEdge{
		{Source: "A", Target: "B", Score: 0.9},
		{Source: "B", Target: "C", Score: 0.92},
	}, edges)
	assert.Equal(t, 3, stats.Points)
	assert.Equal(t, 3, stats.Queries)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 2, stats.Suppressed)
	assert.Zero(t, stats.Duplicates)
	assert.Equal(t, 2, stats.Edges)
	assert.Equal(t, []int{3, 3, 3}, idx.limits)
}

func TestResolve_Invariants(t *testing.T) {
	idx := newScripted(t, "a", "b", "c", "d")
	idx.hits["a"] = []vectorstore.ScoredPoint{hit("a", 1), hit("d", 0.8), hit("b", 0.76)}
	idx.hits["b"] = []vectorstore.ScoredPoint{hit("b", 1), hit("a", 0.76), hit("c", 0.74)}
	idx.hits["c"] = []vectorstore.ScoredPoint{hit("d", 0.99), hit("c", 1), hit("a", 0.5)}
	idx.hits["d"] = []vectorstore.ScoredPoint{hit("c", 0.99), hit("a", 0.8), hit("d", 1)}

	r, _ := resolver(t, idx, 2, 0.75)
	edges, _, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, edges)

	seen := map[[2]string]bool{}
	for _, e := range edges {
		assert.NotEqual(t, e.Source, e.Target, "self edge")
		assert.Less(t, e.Source, e.Target, "source must be the smaller key")
		assert.GreaterOrEqual(t, e.Score, 0.75)
		pair := [2]string{e.Source, e.Target}
		assert.False(t, seen[pair], "duplicate pair %v", pair)
		seen[pair] = true
	}
	assert.Len(t, edges, 3)
}

func TestResolve_PairFoundOnlyFromLargerKeyIsSuppressed(t *testing.T) {
	tests := []struct {
		name string
		hits map[string][]vectorstore.ScoredPoint
		want []document.SimilarityEdge
	}{
		{
			name: "larger key sees smaller",
			hits: map[string][]vectorstore.ScoredPoint{
				"a": {hit("a", 1), hit("z", 0.95)},
				"b": {hit("b", 1), hit("a", 0.8)},
				"z": {hit("z", 1), hit("a", 0.95)},
			},
			want: []document.SimilarityEdge{{Source: "a", Target: "z", Score: 0.95}},
		},
		{
			name: "smaller key truncated by top k",
			hits: map[string][]vectorstore.ScoredPoint{
				"a": {hit("a", 1), hit("c", 0.95), hit("b", 0.9)},
				"b": {hit("b", 1), hit("a", 0.9)},
				"c": {hit("c", 1), hit("a", 0.95)},
			},
			want: []document.SimilarityEdge{{Source: "a", Target: "c", Score: 0.95}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := make([]string, 0, len(tt.hits))
			for k := range tt.hits {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			idx := newScripted(t, keys...)
			idx.hits = tt.hits

			r, _ := resolver(t, idx, 1, 0.75)
			edges, stats, err := r.Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, edges)
			assert.Equal(t, 2, stats.Suppressed)
		})
	}
}

func TestResolve_SelfExcludedByIdentityNotScore(t *testing.T) {
	// Self is not ranked first; a duplicate of it must still be evaluated
	// and no more than TopK other candidates are considered.
	idx := newScripted(t, "p", "q", "r")
	idx.hits["p"] = []vectorstore.ScoredPoint{hit("q", 1), hit("p", 1), hit("r", 0.9)}

	r, _ := resolver(t, idx, 1, 0.75)
	edges, stats, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []document.SimilarityEdge{{Source: "p", Target: "q", Score: 1}}, edges)
	assert.Equal(t, 1, stats.Candidates)
}

func TestResolve_ThresholdBoundary(t *testing.T) {
	idx := newScripted(t, "a", "b", "c")
	idx.hits["a"] = []vectorstore.ScoredPoint{hit("a", 1), hit("b", 0.9), hit("c", 0.8999)}

	r, _ := resolver(t, idx, 2, 0.9)
	edges, stats, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []document.SimilarityEdge{{Source: "a", Target: "b", Score: 0.9}}, edges)
	assert.Equal(t, 1, stats.Skipped)
}

func TestResolve_FailedQueryIsCountedAndSkipped(t *testing.T) {
	idx := newScripted(t, "a", "b", "c")
	idx.fail["a"] = errors.New("deadline exceeded")
	idx.hits["b"] = []vectorstore.ScoredPoint{hit("b", 1), hit("c", 0.8)}

	r, logger := resolver(t, idx, 2, 0.75)
	edges, stats, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, []document.SimilarityEdge{{Source: "b", Target: "c", Score: 0.8}}, edges)
	logger.AssertLogged(t, zapcore.WarnLevel, "neighbour query failed")
}

func TestResolve_UnkeyedPointsAndEmptyCollection(t *testing.T) {
	ctx := context.Background()
	mem := vectorstore.NewMemoryIndex()
	require.NoError(t, mem.CreateCollection(ctx, "docs", 2))

	r, _ := resolver(t, mem, 2, 0.75)
	edges, stats, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
	assert.Zero(t, stats.Points)

	require.NoError(t, mem.Upsert(ctx, "docs", []vectorstore.Point{{ID: "x", Vector: []float32{1, 0}}}))
	_, stats, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unkeyed)
	assert.Zero(t, stats.Queries)
}

func TestResolve_MissingCollection(t *testing.T) {
	r, _ := resolver(t, vectorstore.NewMemoryIndex(), 2, 0.75)
	_, _, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestResolve_RerunIsStable(t *testing.T) {
	ctx := context.Background()
	mem := vectorstore.NewMemoryIndex()
	require.NoError(t, mem.CreateCollection(ctx, "docs", 3))
	require.NoError(t, mem.Upsert(ctx, "docs", []vectorstore.Point{
		{ID: "1", Vector: []float32{1, 0, 0}, Payload: map[string]any{document.PayloadKey: "Sources/App/A.swift"}},
		{ID: "2", Vector: []float32{0.95, 0.05, 0}, Payload: map[string]any{document.PayloadKey: "Sources/App/B.swift"}},
		{ID: "3", Vector: []float32{0, 0, 1}, Payload: map[string]any{document.PayloadKey: "Sources/Net/C.swift"}},
	}))

	r, _ := resolver(t, mem, 2, 0.75)
	first, _, err := r.Resolve(ctx)
	require.NoError(t, err)
	second, _, err := r.Resolve(ctx)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, "Sources/App/A.swift", first[0].Source)
	assert.Equal(t, "Sources/App/B.swift", first[0].Target)
	assert.Equal(t, first, second)
}

func TestResolve_Canceled(t *testing.T) {
	idx := newScripted(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _ := resolver(t, idx, 2, 0.75)
	_, _, err := r.Resolve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewResolver_Validation(t *testing.T) {
	mem := vectorstore.NewMemoryIndex()
	tests := []struct {
		name string
		idx  vectorstore.Index
		cfg  Config
	}{
		{"nil index", nil, Config{Collection: "docs", TopK: 1, Threshold: 0.5}},
		{"bad collection", mem, Config{Collection: "a/b", TopK: 1, Threshold: 0.5}},
		{"zero top k", mem, Config{Collection: "docs", TopK: 0, Threshold: 0.5}},
		{"zero threshold", mem, Config{Collection: "docs", TopK: 1, Threshold: 0}},
		{"threshold above one", mem, Config{Collection: "docs", TopK: 1, Threshold: 1.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.idx, tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestWiden(t *testing.T) {
	assert.Equal(t, 0.9, widen(0.9))
	assert.Equal(t, 0.75, widen(0.75))
	assert.Equal(t, 1.0, widen(1))
}
