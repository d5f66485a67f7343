package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("docgraph.vectorstore.chromem")

const (
	// payloadKey holds the JSON encoded payload in chromem's string metadata.
	payloadKey = "payload"
	// schemaFile records collection dimensions next to the chromem data.
	schemaFile = "docgraph_collections.json"
)

// ChromemConfig holds configuration for the chromem-go embedded database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored documents.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = ".docgraph/vectors"
	}
}

// ChromemIndex implements Index on a persistent chromem-go database.
//
// chromem keeps string metadata only, so payloads are stored as JSON;
// numbers in payloads read back as float64. Collection dimensions are kept
// in a small schema file because chromem collections have no fixed size.
type ChromemIndex struct {
	db     *chromem.DB
	path   string
	logger *zap.Logger

	mu         sync.Mutex
	dimensions map[string]int
}

// NewChromemIndex opens (or creates) the database at config.Path.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	path, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	idx := &ChromemIndex{db: db, path: path, logger: logger, dimensions: make(map[string]int)}
	if err := idx.loadSchema(); err != nil {
		return nil, err
	}

	logger.Info("chromem index opened",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
		zap.Int("collections", len(idx.dimensions)),
	)
	return idx, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemIndex) loadSchema() error {
	data, err := os.ReadFile(filepath.Join(s.path, schemaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading collection schema: %w", err)
	}
	if err := json.Unmarshal(data, &s.dimensions); err != nil {
		return fmt.Errorf("decoding collection schema: %w", err)
	}
	return nil
}

// saveSchema must be called with s.mu held.
func (s *ChromemIndex) saveSchema() error {
	data, err := json.Marshal(s.dimensions)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.path, schemaFile), data, 0o600)
}

// noEmbedding guards against chromem embedding text on its own; every
// document carries a precomputed vector.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index stores precomputed vectors only")
}

func (s *ChromemIndex) collection(name string) (*chromem.Collection, int, error) {
	s.mu.Lock()
	dim, ok := s.dimensions[name]
	s.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	c := s.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, dim, nil
}

func (s *ChromemIndex) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dimensions[collection]
	return ok && s.db.GetCollection(collection, noEmbedding) != nil, nil
}

func (s *ChromemIndex) CreateCollection(ctx context.Context, collection string, dimension int) error {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("dimension", dimension))

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if dimension < 1 {
		return fmt.Errorf("%w: dimension must be >= 1", ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.GetOrCreateCollection(collection, nil, noEmbedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	s.dimensions[collection] = dimension
	return s.saveSchema()
}

func (s *ChromemIndex) DeleteCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	delete(s.dimensions, collection)
	return s.saveSchema()
}

func (s *ChromemIndex) VectorSize(_ context.Context, collection string) (int, error) {
	_, dim, err := s.collection(collection)
	return dim, err
}

// CreatePayloadIndex is a no-op; chromem filters by exhaustive scan.
func (s *ChromemIndex) CreatePayloadIndex(_ context.Context, collection, _ string, _ PayloadIndexType) error {
	_, _, err := s.collection(collection)
	return err
}

func (s *ChromemIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("points", len(points)))

	c, dim, err := s.collection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("%w: point %s has %d dimensions, collection has %d", ErrDimensionMismatch, p.ID, len(p.Vector), dim)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload of %s: %w", p.ID, err)
		}
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Embedding: slices.Clone(p.Vector),
			Metadata:  map[string]string{payloadKey: string(payload)},
		})
	}

	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return fmt.Errorf("adding documents to %s: %w", collection, err)
	}
	return nil
}

func (s *ChromemIndex) Query(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()

	c, dim, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", ErrDimensionMismatch, len(vector), dim)
	}
	limit = min(limit, c.Count())
	if limit < 1 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	hits := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		payload, err := decodePayload(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("point %s: %w", r.ID, err)
		}
		hits = append(hits, ScoredPoint{Point: Point{ID: r.ID, Payload: payload}, Score: r.Similarity})
	}
	return hits, nil
}

// Scroll pages over all documents ordered by id. chromem has no listing
// call, so each page runs an exhaustive query against a unit vector.
func (s *ChromemIndex) Scroll(ctx context.Context, collection string, limit int, cursor string) ([]Point, string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Scroll")
	defer span.End()

	c, dim, err := s.collection(collection)
	if err != nil {
		return nil, "", err
	}
	n := c.Count()
	if n == 0 {
		return nil, "", nil
	}

	unit := make([]float32, dim)
	unit[0] = 1
	results, err := c.QueryEmbedding(ctx, unit, n, nil, nil)
	if err != nil {
		return nil, "", fmt.Errorf("scanning %s: %w", collection, err)
	}

	byID := make(map[string]chromem.Result, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	page, next := pageIDs(slices.Sorted(maps.Keys(byID)), cursor, limit)

	out := make([]Point, 0, len(page))
	for _, id := range page {
		r := byID[id]
		payload, err := decodePayload(r.Metadata)
		if err != nil {
			return nil, "", fmt.Errorf("point %s: %w", id, err)
		}
		out = append(out, Point{ID: id, Vector: slices.Clone(r.Embedding), Payload: payload})
	}
	return out, next, nil
}

func (s *ChromemIndex) Count(_ context.Context, collection string) (int, error) {
	c, _, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemIndex) Close() error {
	return nil
}

func decodePayload(meta map[string]string) (map[string]any, error) {
	raw, ok := meta[payloadKey]
	if !ok || raw == "" {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return payload, nil
}
