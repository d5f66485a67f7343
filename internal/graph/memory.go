package graph

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

// MemoryStore is an in-process Store used for dry runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[NodeRef]map[string]any
	rels   map[relKey]map[string]any
	schema Schema
}

type relKey struct {
	from, to NodeRef
	typ      string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[NodeRef]map[string]any),
		rels:  make(map[relKey]map[string]any),
	}
}

func (m *MemoryStore) EnsureSchema(ctx context.Context, schema Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema.Unique = append(m.schema.Unique, schema.Unique...)
	m.schema.Indexed = append(m.schema.Indexed, schema.Indexed...)
	return ctx.Err()
}

func (m *MemoryStore) MergeNode(_ context.Context, node Node) error {
	if err := validateRef(node.NodeRef); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	props, ok := m.nodes[node.NodeRef]
	if !ok {
		props = map[string]any{node.KeyProperty: node.Key}
		m.nodes[node.NodeRef] = props
	}
	maps.Copy(props, node.Properties)
	return nil
}

func (m *MemoryStore) MergeRelationship(_ context.Context, rel Relationship) (bool, error) {
	if err := validateRelationship(rel); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[rel.From]; !ok {
		return false, nil
	}
	if _, ok := m.nodes[rel.To]; !ok {
		return false, nil
	}
	k := relKey{from: rel.From, to: rel.To, typ: rel.Type}
	props, ok := m.rels[k]
	if !ok {
		props = map[string]any{}
		m.rels[k] = props
	}
	maps.Copy(props, rel.Properties)
	return true, nil
}

func (m *MemoryStore) DeleteRelationships(_ context.Context, relType string) (int64, error) {
	if err := ValidateIdentifier(relType); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.rels {
		if k.typ == relType {
			delete(m.rels, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.nodes)
	clear(m.rels)
	return nil
}

func (m *MemoryStore) Analyze(_ context.Context, q AnalysisQuery) (*Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if q.TitleProperty == "" {
		q.TitleProperty = q.KeyProperty
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}

	a := &Analysis{Nodes: map[string]int64{}, Relationships: map[string]int64{}}
	for ref := range m.nodes {
		a.Nodes[ref.Label]++
	}
	degree := map[NodeRef]int64{}
	for k, props := range m.rels {
		a.Relationships[k.typ]++
		degree[k.from]++
		degree[k.to]++
		if q.Relationship != "" && k.typ == q.Relationship {
			score, _ := props["score"].(float64)
			a.TopSimilar = append(a.TopSimilar, document.SimilarityEdge{Source: k.from.Key, Target: k.to.Key, Score: score})
		}
	}

	var hubs []Hub
	for ref, props := range m.nodes {
		if ref.Label != q.Label {
			continue
		}
		if degree[ref] == 0 {
			a.Isolated++
		}
		title, _ := props[q.TitleProperty].(string)
		hubs = append(hubs, Hub{Key: ref.Key, Title: title, Connections: degree[ref]})
	}
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Connections != hubs[j].Connections {
			return hubs[i].Connections > hubs[j].Connections
		}
		return hubs[i].Key < hubs[j].Key
	})
	a.Hubs = truncate(hubs, q.Limit)

	sort.Slice(a.TopSimilar, func(i, j int) bool {
		if a.TopSimilar[i].Score != a.TopSimilar[j].Score {
			return a.TopSimilar[i].Score > a.TopSimilar[j].Score
		}
		return a.TopSimilar[i].Source < a.TopSimilar[j].Source
	})
	a.TopSimilar = truncate(a.TopSimilar, q.Limit)
	return a, nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }

// Node returns the properties of a stored node.
func (m *MemoryStore) Node(ref NodeRef) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	props, ok := m.nodes[ref]
	return maps.Clone(props), ok
}

// Relationships returns the stored relationships of relType sorted by
// endpoint keys.
func (m *MemoryStore) Relationships(relType string) []Relationship {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Relationship
	for k, props := range m.rels {
		if k.typ == relType {
			out = append(out, Relationship{From: k.from, To: k.to, Type: k.typ, Properties: maps.Clone(props)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From.Key != out[j].From.Key {
			return out[i].From.Key < out[j].From.Key
		}
		return out[i].To.Key < out[j].To.Key
	})
	return out
}

// NodeCount returns the number of nodes with label.
func (m *MemoryStore) NodeCount(label string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for ref := range m.nodes {
		if ref.Label == label {
			n++
		}
	}
	return n
}

// Schema returns every schema element requested so far.
func (m *MemoryStore) Schema() Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

var _ Store = (*MemoryStore)(nil)
