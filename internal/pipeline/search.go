package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/embeddings"
	"github.com/fyrsmithlabs/docgraph/internal/reranker"
)

// Hit is a semantic search result.
type Hit struct {
	Key   string  `json:"key"`
	Title string  `json:"title"`
	Score float32 `json:"score"`
	// Rerank is the blended score hits are ordered by when reranking is on.
	Rerank  float32        `json:"rerank_score,omitempty"`
	Preview string         `json:"preview,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Search embeds query and returns the limit nearest documents. With
// reranking enabled, a larger candidate set is fetched and reordered by
// lexical overlap with the query before truncating to limit.
func (p *Pipeline) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}
	if limit < 1 {
		limit = 5
	}
	if p.deps.Embedder == nil {
		return nil, precondition("search needs an embedder")
	}
	if err := p.requireCollection(ctx); err != nil {
		return nil, err
	}

	vector, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vector) != p.cfg.Dimension {
		return nil, fmt.Errorf("query vector has %d dimensions, collection has %d", len(vector), p.cfg.Dimension)
	}

	fetch := limit
	if p.cfg.Rerank {
		fetch = limit * max(p.cfg.SearchCandidates, 1)
	}
	points, err := p.deps.Index.Query(ctx, p.cfg.Collection, vector, fetch)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", p.cfg.Collection, err)
	}
	hits := make([]Hit, 0, len(points))
	for _, sp := range points {
		title, _ := sp.Payload[document.PayloadTitle].(string)
		preview, _ := sp.Payload[document.PayloadPreview].(string)
		hits = append(hits, Hit{
			Key:     document.KeyFromPayload(sp.Payload),
			Title:   title,
			Score:   sp.Score,
			Preview: preview,
			Payload: sp.Payload,
		})
	}
	if p.cfg.Rerank {
		hits = p.rerank(query, hits, limit)
	}
	return hits, nil
}

func (p *Pipeline) rerank(query string, hits []Hit, limit int) []Hit {
	candidates := make([]reranker.Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = reranker.Candidate{Key: h.Key, Text: h.Title + "\n" + h.Preview, Score: h.Score}
	}
	ranked := reranker.New(p.cfg.RerankWeight).Rerank(query, candidates, limit)
	out := make([]Hit, len(ranked))
	for i, r := range ranked {
		out[i] = hits[r.OriginalRank]
		out[i].Rerank = r.Combined
	}
	return out
}

func (p *Pipeline) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if qe, ok := p.deps.Embedder.(embeddings.QueryEmbedder); ok {
		v, err := qe.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		return v, nil
	}
	vs, err := p.deps.Embedder.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vs))
	}
	return vs[0], nil
}
