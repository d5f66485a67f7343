package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/docgraph/internal/sanitize"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector or collection does not
	// have the expected number of dimensions.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Point is a stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a query hit. Score is the cosine similarity to the query.
type ScoredPoint struct {
	Point
	Score float32
}

// PayloadIndexType is the schema of an indexed payload field.
type PayloadIndexType string

const (
	PayloadKeyword PayloadIndexType = "keyword"
	PayloadInteger PayloadIndexType = "integer"
)

// Index is the vector index the pipeline writes to and resolves against.
type Index interface {
	// CollectionExists reports whether the collection is present.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// CreateCollection creates a cosine collection with fixed dimension.
	CreateCollection(ctx context.Context, collection string, dimension int) error

	// DeleteCollection drops the collection. Missing collections are not an error.
	DeleteCollection(ctx context.Context, collection string) error

	// VectorSize returns the configured dimension of the collection, or
	// ErrCollectionNotFound.
	VectorSize(ctx context.Context, collection string) (int, error)

	// CreatePayloadIndex declares an indexed payload field. Backends
	// without payload indexes treat this as a no-op.
	CreatePayloadIndex(ctx context.Context, collection, field string, typ PayloadIndexType) error

	// Upsert inserts or replaces points by id. Implementations must not
	// retry internally; the Writer owns the retry policy.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Query returns up to limit nearest neighbours of vector ordered by
	// descending score. Returned points carry payload but no vector.
	Query(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error)

	// Scroll returns one page of points with vectors and payload, starting
	// at cursor ("" for the first page). An empty next cursor ends the scan.
	Scroll(ctx context.Context, collection string, limit int, cursor string) (points []Point, next string, err error)

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases the connection.
	Close() error
}

// ValidateCollectionName rejects names that are unsafe as file or URL path
// components.
func ValidateCollectionName(name string) error {
	if err := sanitize.ValidateCollection(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCollectionName, err)
	}
	return nil
}

// ScanAll drains a full scroll of collection, calling fn for every page.
func ScanAll(ctx context.Context, idx Index, collection string, pageSize int, fn func([]Point) error) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		points, next, err := idx.Scroll(ctx, collection, pageSize, cursor)
		if err != nil {
			return fmt.Errorf("scrolling %s: %w", collection, err)
		}
		if len(points) > 0 {
			if err := fn(points); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}
