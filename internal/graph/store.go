// Package graph materializes documents and their relationships in a graph
// store.
//
// Every write uses merge semantics keyed by a node's unique property, so
// re-running materialization refreshes attributes instead of duplicating
// nodes or relationships. Relationships whose endpoints are not both present
// are dropped without error.
package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

var (
	// ErrInvalidIdentifier is returned for labels, property names or
	// relationship types that cannot be safely inlined into a query.
	ErrInvalidIdentifier = errors.New("invalid graph identifier")
)

// NodeRef addresses a node by label and unique key property.
type NodeRef struct {
	Label       string
	KeyProperty string
	Key         string
}

// Node is a node to merge.
type Node struct {
	NodeRef
	Properties map[string]any
}

// Relationship is a directed relationship to merge between two existing nodes.
type Relationship struct {
	From       NodeRef
	To         NodeRef
	Type       string
	Properties map[string]any
}

// Schema lists best-effort uniqueness constraints and property indexes.
type Schema struct {
	Unique  []Property
	Indexed []Property
}

// Property names a property of a label.
type Property struct {
	Label string
	Name  string
}

// Hub is a node ranked by its relationship count.
type Hub struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Connections int64  `json:"connections"`
}

// Analysis summarises the graph after a run.
type Analysis struct {
	Nodes         map[string]int64          `json:"nodes"`
	Relationships map[string]int64          `json:"relationships"`
	Hubs          []Hub                     `json:"hubs"`
	Isolated      int64                     `json:"isolated"`
	TopSimilar    []document.SimilarityEdge `json:"top_similar,omitempty"`
}

// AnalysisQuery selects what Analyze inspects.
type AnalysisQuery struct {
	Label         string
	KeyProperty   string
	TitleProperty string
	Relationship  string
	Limit         int
}

// Store is a graph database with merge semantics.
type Store interface {
	// EnsureSchema creates constraints and indexes. Failures are logged and
	// skipped; only cancellation is returned.
	EnsureSchema(ctx context.Context, schema Schema) error

	// MergeNode creates the node if absent and sets its properties.
	MergeNode(ctx context.Context, node Node) error

	// MergeRelationship merges rel between existing nodes. It reports false
	// when an endpoint does not exist, in which case nothing is written.
	MergeRelationship(ctx context.Context, rel Relationship) (bool, error)

	// DeleteRelationships removes every relationship of relType and returns
	// how many were deleted.
	DeleteRelationships(ctx context.Context, relType string) (int64, error)

	// Clear deletes all nodes and relationships.
	Clear(ctx context.Context) error

	// Analyze reports node, relationship and hub statistics.
	Analyze(ctx context.Context, q AnalysisQuery) (*Analysis, error)

	Close(ctx context.Context) error
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks that name can be inlined as a label, property
// name or relationship type.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func validateRef(r NodeRef) error {
	if err := ValidateIdentifier(r.Label); err != nil {
		return err
	}
	if err := ValidateIdentifier(r.KeyProperty); err != nil {
		return err
	}
	if r.Key == "" {
		return fmt.Errorf("%w: empty key for %s", ErrInvalidIdentifier, r.Label)
	}
	return nil
}

func validateRelationship(rel Relationship) error {
	if err := ValidateIdentifier(rel.Type); err != nil {
		return err
	}
	if err := validateRef(rel.From); err != nil {
		return err
	}
	return validateRef(rel.To)
}
