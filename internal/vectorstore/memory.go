package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Index with exact cosine search.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dimension int
	points    map[string]Point
	indexes   map[string]PayloadIndexType
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryIndex) collection(name string) (*memoryCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (m *MemoryIndex) CollectionExists(_ context.Context, collection string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[collection]
	return ok, nil
}

func (m *MemoryIndex) CreateCollection(_ context.Context, collection string, dimension int) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if dimension < 1 {
		return fmt.Errorf("%w: dimension must be >= 1", ErrInvalidConfig)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; ok {
		return fmt.Errorf("collection %s already exists", collection)
	}
	m.collections[collection] = &memoryCollection{
		dimension: dimension,
		points:    make(map[string]Point),
		indexes:   make(map[string]PayloadIndexType),
	}
	return nil
}

func (m *MemoryIndex) DeleteCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *MemoryIndex) VectorSize(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	return c.dimension, nil
}

func (m *MemoryIndex) CreatePayloadIndex(_ context.Context, collection, field string, typ PayloadIndexType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	c.indexes[field] = typ
	return nil
}

// PayloadIndexes returns the declared payload indexes of collection.
func (m *MemoryIndex) PayloadIndexes(collection string) map[string]PayloadIndexType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil
	}
	return maps.Clone(c.indexes)
}

func (m *MemoryIndex) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("%w: point %s has %d dimensions, collection has %d", ErrDimensionMismatch, p.ID, len(p.Vector), c.dimension)
		}
	}
	for _, p := range points {
		c.points[p.ID] = Point{ID: p.ID, Vector: slices.Clone(p.Vector), Payload: maps.Clone(p.Payload)}
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", ErrDimensionMismatch, len(vector), c.dimension)
	}

	hits := make([]ScoredPoint, 0, len(c.points))
	for _, p := range c.points {
		hits = append(hits, ScoredPoint{
			Point: Point{ID: p.ID, Payload: maps.Clone(p.Payload)},
			Score: Cosine(vector, p.Vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) Scroll(_ context.Context, collection string, limit int, cursor string) ([]Point, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return nil, "", err
	}
	ids := slices.Sorted(maps.Keys(c.points))
	page, next := pageIDs(ids, cursor, limit)
	out := make([]Point, 0, len(page))
	for _, id := range page {
		p := c.points[id]
		out = append(out, Point{ID: id, Vector: slices.Clone(p.Vector), Payload: maps.Clone(p.Payload)})
	}
	return out, next, nil
}

func (m *MemoryIndex) Count(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	return len(c.points), nil
}

func (m *MemoryIndex) Close() error { return nil }

// pageIDs returns the page of sorted ids starting at the first id >= cursor
// and the id that starts the following page.
func pageIDs(ids []string, cursor string, limit int) (page []string, next string) {
	if limit < 1 {
		limit = len(ids)
	}
	start := sort.SearchStrings(ids, cursor)
	end := min(start+limit, len(ids))
	if end < len(ids) {
		next = ids[end]
	}
	return ids[start:end], next
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
