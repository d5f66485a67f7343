// Package reranker reorders vector search candidates by blending their
// similarity score with lexical overlap against the query.
package reranker

import (
	"sort"
	"strings"
	"unicode"
)

// Candidate is one search result to rerank.
type Candidate struct {
	Key   string
	Text  string
	Score float32
}

// Ranked is a reranked candidate.
type Ranked struct {
	Candidate
	// Overlap is the share of distinct query terms found in Text.
	Overlap float32
	// Combined is the blended score the results are ordered by.
	Combined float32
	// OriginalRank is the position in the input, zero based.
	OriginalRank int
}

// DefaultOverlapWeight weights vector and lexical scores equally.
const DefaultOverlapWeight = 0.5

// Reranker blends vector and lexical scores.
type Reranker struct {
	// OverlapWeight is the weight of lexical overlap in (0,1]; the vector
	// score gets the remainder. Zero means DefaultOverlapWeight.
	OverlapWeight float32
}

// New returns a Reranker giving lexical overlap the given weight. A weight
// above one is clamped; zero or below selects DefaultOverlapWeight.
func New(overlapWeight float32) *Reranker {
	switch {
	case overlapWeight <= 0:
		overlapWeight = DefaultOverlapWeight
	case overlapWeight > 1:
		overlapWeight = 1
	}
	return &Reranker{OverlapWeight: overlapWeight}
}

// Rerank orders candidates by combined score and keeps the best topK; a
// topK below one keeps all. Ties keep input order. A query without usable
// terms leaves the vector ranking in place.
func (r *Reranker) Rerank(query string, candidates []Candidate, topK int) []Ranked {
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	weight := r.weight()
	terms := tokenize(query)

	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		rc := Ranked{Candidate: c, OriginalRank: i, Combined: c.Score}
		if len(terms) > 0 {
			rc.Overlap = overlap(terms, tokenize(c.Text))
			rc.Combined = (1-weight)*c.Score + weight*rc.Overlap
		}
		ranked[i] = rc
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Combined > ranked[j].Combined
	})
	return ranked[:topK]
}

func (r *Reranker) weight() float32 {
	if r == nil || r.OverlapWeight <= 0 {
		return DefaultOverlapWeight
	}
	return r.OverlapWeight
}

// tokenize lowercases text and splits it into terms of three or more
// letters or digits, dropping stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func overlap(query, doc []string) float32 {
	docSet := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		docSet[t] = struct{}{}
	}
	distinct := make(map[string]struct{}, len(query))
	matched := 0
	for _, t := range query {
		if _, seen := distinct[t]; seen {
			continue
		}
		distinct[t] = struct{}{}
		if _, ok := docSet[t]; ok {
			matched++
		}
	}
	return float32(matched) / float32(len(distinct))
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"from": true, "was": true, "are": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "not": true, "all": true, "any": true, "into": true,
}
