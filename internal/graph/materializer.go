package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
)

// Structural relationship types and auxiliary labels.
const (
	RelChildOf   = "CHILD_OF"
	RelLinksTo   = "LINKS_TO"
	RelCreatedOn = "CREATED_ON"
	RelBelongsTo = "BELONGS_TO"

	LabelDate   = "Date"
	LabelModule = "Module"

	// UnknownModule is used for code documents without a module.
	UnknownModule = "Unknown"
)

// MaterializerConfig configures a Materializer for one corpus.
type MaterializerConfig struct {
	Kind         document.Kind
	Label        string
	KeyProperty  string
	Relationship string
}

func (c MaterializerConfig) validate() error {
	switch c.Kind {
	case document.KindPage, document.KindCode:
	default:
		return fmt.Errorf("%w: unknown document kind %q", ErrInvalidIdentifier, c.Kind)
	}
	for _, id := range []string{c.Label, c.KeyProperty, c.Relationship} {
		if err := ValidateIdentifier(id); err != nil {
			return err
		}
	}
	return nil
}

// Stats are the totals of a materialization.
type Stats struct {
	Nodes      int `json:"nodes"`
	NodeErrors int `json:"node_errors"`
	// AuxNodes counts merged Date and Module nodes.
	AuxNodes int `json:"aux_nodes"`
	// Structural counts merged structural relationships by type.
	Structural map[string]int `json:"structural"`
	// Dangling counts structural references whose target is not a node.
	Dangling   int `json:"dangling"`
	EdgeErrors int `json:"edge_errors"`

	Similarity        int   `json:"similarity"`
	SimilarityMissing int   `json:"similarity_missing"`
	SimilarityErrors  int   `json:"similarity_errors"`
	ClearedSimilarity int64 `json:"cleared_similarity"`
}

// Errors is the number of failed writes.
func (s Stats) Errors() int {
	return s.NodeErrors + s.EdgeErrors + s.SimilarityErrors
}

// Materializer writes documents, structural relationships and similarity
// edges to a Store. A failed write is counted and skipped; only
// cancellation stops a pass.
type Materializer struct {
	store  Store
	cfg    MaterializerConfig
	logger *logging.Logger
	tracer trace.Tracer
}

// NewMaterializer validates cfg and returns a Materializer. logger may be nil.
func NewMaterializer(store Store, cfg MaterializerConfig, logger *logging.Logger) (*Materializer, error) {
	if store == nil {
		return nil, errors.New("graph store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Materializer{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("materializer"),
		tracer: otel.Tracer("docgraph.graph"),
	}, nil
}

// Schema returns the constraints and indexes for the configured corpus.
func (m *Materializer) Schema() Schema {
	s := Schema{Unique: []Property{{Label: m.cfg.Label, Name: m.cfg.KeyProperty}}}
	switch m.cfg.Kind {
	case document.KindCode:
		s.Unique = append(s.Unique, Property{Label: LabelModule, Name: "name"})
		s.Indexed = append(s.Indexed, Property{Label: m.cfg.Label, Name: "name"})
	default:
		s.Unique = append(s.Unique, Property{Label: LabelDate, Name: "date"})
		s.Indexed = append(s.Indexed,
			Property{Label: m.cfg.Label, Name: "title"},
			Property{Label: m.cfg.Label, Name: "createdAt"},
		)
	}
	return s
}

// EnsureSchema applies Schema to the store.
func (m *Materializer) EnsureSchema(ctx context.Context) error {
	return m.store.EnsureSchema(ctx, m.Schema())
}

// Materialize merges docs, their structural relationships and edges.
// Existing similarity edges are kept; use ReplaceSimilarity to drop stale ones.
func (m *Materializer) Materialize(ctx context.Context, docs []*document.Document, edges []document.SimilarityEdge) (Stats, error) {
	stats, err := m.MergeDocuments(ctx, docs)
	if err != nil {
		return stats, err
	}
	err = m.mergeSimilarity(ctx, edges, &stats)
	return stats, err
}

// MergeDocuments merges one node per document, then every structural
// relationship. Nodes go first so references within docs resolve
// regardless of order.
func (m *Materializer) MergeDocuments(ctx context.Context, docs []*document.Document) (Stats, error) {
	ctx, span := m.tracer.Start(ctx, "graph.MergeDocuments", trace.WithAttributes(attribute.Int("documents", len(docs))))
	defer span.End()

	stats := Stats{Structural: map[string]int{}}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := m.store.MergeNode(ctx, m.node(doc)); err != nil {
			stats.NodeErrors++
			m.logger.Warn(ctx, "node merge failed", zap.String("key", doc.ID), zap.Error(err))
			continue
		}
		stats.Nodes++
	}

	auxSeen := map[NodeRef]bool{}
	for _, doc := range docs {
		aux, rels := m.structural(doc)
		for _, n := range aux {
			if auxSeen[n.NodeRef] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := m.store.MergeNode(ctx, n); err != nil {
				stats.NodeErrors++
				m.logger.Warn(ctx, "node merge failed", zap.String("label", n.Label), zap.String("key", n.Key), zap.Error(err))
				continue
			}
			auxSeen[n.NodeRef] = true
			stats.AuxNodes++
		}
		for _, rel := range rels {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			ok, err := m.store.MergeRelationship(ctx, rel)
			switch {
			case err != nil:
				stats.EdgeErrors++
				m.logger.Warn(ctx, "relationship merge failed",
					zap.String("type", rel.Type),
					zap.String("from", rel.From.Key),
					zap.String("to", rel.To.Key),
					zap.Error(err),
				)
			case !ok:
				stats.Dangling++
				m.logger.Debug(ctx, "dangling reference dropped",
					zap.String("type", rel.Type),
					zap.String("from", rel.From.Key),
					zap.String("to", rel.To.Key),
				)
			default:
				stats.Structural[rel.Type]++
			}
		}
	}

	m.logger.Info(ctx, "documents materialized",
		zap.Int("nodes", stats.Nodes),
		zap.Int("dangling", stats.Dangling),
		zap.Int("errors", stats.NodeErrors+stats.EdgeErrors),
	)
	return stats, nil
}

// ReplaceSimilarity deletes every relationship of the configured similarity
// type and merges edges in its place.
func (m *Materializer) ReplaceSimilarity(ctx context.Context, edges []document.SimilarityEdge) (Stats, error) {
	ctx, span := m.tracer.Start(ctx, "graph.ReplaceSimilarity", trace.WithAttributes(attribute.Int("edges", len(edges))))
	defer span.End()

	stats := Stats{Structural: map[string]int{}}
	cleared, err := m.store.DeleteRelationships(ctx, m.cfg.Relationship)
	if err != nil {
		return stats, fmt.Errorf("clearing %s: %w", m.cfg.Relationship, err)
	}
	stats.ClearedSimilarity = cleared
	m.logger.Info(ctx, "cleared similarity edges", zap.String("type", m.cfg.Relationship), zap.Int64("deleted", cleared))

	err = m.mergeSimilarity(ctx, edges, &stats)
	return stats, err
}

func (m *Materializer) mergeSimilarity(ctx context.Context, edges []document.SimilarityEdge, stats *Stats) error {
	for _, e := range edges {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := m.store.MergeRelationship(ctx, Relationship{
			From:       m.ref(e.Source),
			To:         m.ref(e.Target),
			Type:       m.cfg.Relationship,
			Properties: map[string]any{"score": e.Score},
		})
		switch {
		case err != nil:
			stats.SimilarityErrors++
			m.logger.Warn(ctx, "similarity merge failed",
				zap.String("source", e.Source),
				zap.String("target", e.Target),
				zap.Error(err),
			)
		case !ok:
			stats.SimilarityMissing++
		default:
			stats.Similarity++
		}
	}
	return nil
}

// Analyze reports graph statistics for the configured corpus.
func (m *Materializer) Analyze(ctx context.Context) (*Analysis, error) {
	title := "title"
	if m.cfg.Kind == document.KindCode {
		title = "name"
	}
	return m.store.Analyze(ctx, AnalysisQuery{
		Label:         m.cfg.Label,
		KeyProperty:   m.cfg.KeyProperty,
		TitleProperty: title,
		Relationship:  m.cfg.Relationship,
		Limit:         5,
	})
}

// Clear deletes the whole graph.
func (m *Materializer) Clear(ctx context.Context) error {
	return m.store.Clear(ctx)
}

func (m *Materializer) ref(key string) NodeRef {
	return NodeRef{Label: m.cfg.Label, KeyProperty: m.cfg.KeyProperty, Key: key}
}

func (m *Materializer) node(doc *document.Document) Node {
	props := map[string]any{}
	switch doc.Kind {
	case document.KindCode:
		props["name"] = doc.FileName
		props["module"] = moduleOf(doc)
		props["subpath"] = doc.Subpath
		props["extension"] = doc.Extension
		props["lines"] = doc.LineCount
		props["imports"] = nonNil(doc.Symbols.Imports)
		props["classes"] = nonNil(doc.Symbols.Classes)
		props["structs"] = nonNil(doc.Symbols.Structs)
		props["protocols"] = nonNil(doc.Symbols.Protocols)
	default:
		title := doc.Title
		if title == "" {
			title = "Untitled"
		}
		props["title"] = title
		props["url"] = doc.URL
		props["wordCount"] = doc.WordCount
		props["blockCount"] = doc.BlockCount
		props["parentId"] = doc.ParentID
		props["parentType"] = doc.ParentType
		props["tags"] = nonNil(doc.Tags)
		if !doc.CreatedAt.IsZero() {
			props["createdAt"] = doc.CreatedAt.UTC().Format(time.RFC3339)
		}
		if !doc.UpdatedAt.IsZero() {
			props["updatedAt"] = doc.UpdatedAt.UTC().Format(time.RFC3339)
		}
	}
	return Node{NodeRef: m.ref(doc.ID), Properties: props}
}

// structural returns auxiliary nodes to merge and the relationships that
// originate at doc.
func (m *Materializer) structural(doc *document.Document) ([]Node, []Relationship) {
	from := m.ref(doc.ID)
	var (
		aux  []Node
		rels []Relationship
	)

	if doc.Kind == document.KindCode {
		module := moduleOf(doc)
		mod := NodeRef{Label: LabelModule, KeyProperty: "name", Key: module}
		aux = append(aux, Node{NodeRef: mod})
		rels = append(rels, Relationship{From: from, To: mod, Type: RelBelongsTo})
		return aux, rels
	}

	if doc.ParentID != "" && doc.ParentID != doc.ID {
		rels = append(rels, Relationship{From: from, To: m.ref(doc.ParentID), Type: RelChildOf})
	}
	seen := map[string]bool{}
	for _, link := range doc.Links {
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		rels = append(rels, Relationship{From: from, To: m.ref(link), Type: RelLinksTo})
	}
	if day := doc.CreatedDate(); day != "" {
		t := doc.CreatedAt.UTC()
		date := NodeRef{Label: LabelDate, KeyProperty: "date", Key: day}
		aux = append(aux, Node{NodeRef: date, Properties: map[string]any{
			"year":  t.Year(),
			"month": int(t.Month()),
			"day":   t.Day(),
		}})
		rels = append(rels, Relationship{From: from, To: date, Type: RelCreatedOn})
	}
	return aux, rels
}

func moduleOf(doc *document.Document) string {
	if doc.Module == "" {
		return UnknownModule
	}
	return doc.Module
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
