package graph

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/neo4jdb"
)

// deleteBatch bounds the rows touched by one delete transaction.
const deleteBatch = 10000

// runner executes one Cypher statement as its own unit of work.
type runner interface {
	Write(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Close(ctx context.Context) error
}

// Neo4jStore implements Store on Neo4j.
type Neo4jStore struct {
	db     runner
	logger *logging.Logger
	tracer trace.Tracer
}

// NewNeo4jStore wraps a connected client. The store owns the client and
// closes it in Close.
func NewNeo4jStore(client *neo4jdb.Client, logger *logging.Logger) *Neo4jStore {
	return newNeo4jStore(client, logger)
}

func newNeo4jStore(db runner, logger *logging.Logger) *Neo4jStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Neo4jStore{db: db, logger: logger.Named("graph"), tracer: otel.Tracer("docgraph.graph")}
}

func (s *Neo4jStore) EnsureSchema(ctx context.Context, schema Schema) error {
	for _, p := range schema.Unique {
		cypher, err := uniqueConstraintCypher(p)
		if err := s.schemaStatement(ctx, cypher, err); err != nil {
			return err
		}
	}
	for _, p := range schema.Indexed {
		cypher, err := indexCypher(p)
		if err := s.schemaStatement(ctx, cypher, err); err != nil {
			return err
		}
	}
	return nil
}

func (s *Neo4jStore) schemaStatement(ctx context.Context, cypher string, err error) error {
	if err != nil {
		s.logger.Warn(ctx, "neo4j schema init skipped", zap.Error(err))
		return nil
	}
	if _, err := s.db.Write(ctx, cypher, nil); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Restricted users may not manage schema; merges still work.
		s.logger.Warn(ctx, "neo4j schema init failed (continuing)", zap.String("cypher", cypher), zap.Error(err))
	}
	return nil
}

func uniqueConstraintCypher(p Property) (string, error) {
	if err := validateProperty(p); err != nil {
		return "", err
	}
	name := strings.ToLower(p.Label + "_" + p.Name + "_unique")
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, p.Label, p.Name), nil
}

func indexCypher(p Property) (string, error) {
	if err := validateProperty(p); err != nil {
		return "", err
	}
	name := strings.ToLower(p.Label + "_" + p.Name + "_idx")
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)", name, p.Label, p.Name), nil
}

func validateProperty(p Property) error {
	if err := ValidateIdentifier(p.Label); err != nil {
		return err
	}
	return ValidateIdentifier(p.Name)
}

func (s *Neo4jStore) MergeNode(ctx context.Context, node Node) error {
	if err := validateRef(node.NodeRef); err != nil {
		return err
	}
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $key}) SET n += $props", node.Label, node.KeyProperty)
	_, err := s.db.Write(ctx, cypher, map[string]any{
		"key":   node.Key,
		"props": neo4jProps(node.Properties),
	})
	if err != nil {
		return fmt.Errorf("merge %s %q: %w", node.Label, node.Key, err)
	}
	return nil
}

func (s *Neo4jStore) MergeRelationship(ctx context.Context, rel Relationship) (bool, error) {
	if err := validateRelationship(rel); err != nil {
		return false, err
	}
	rows, err := s.db.Write(ctx, mergeRelationshipCypher(rel), map[string]any{
		"from":  rel.From.Key,
		"to":    rel.To.Key,
		"props": neo4jProps(rel.Properties),
	})
	if err != nil {
		return false, fmt.Errorf("merge %s %q->%q: %w", rel.Type, rel.From.Key, rel.To.Key, err)
	}
	return countOf(rows, "merged") > 0, nil
}

func mergeRelationshipCypher(rel Relationship) string {
	return fmt.Sprintf(`MATCH (a:%s {%s: $from})
MATCH (b:%s {%s: $to})
MERGE (a)-[r:%s]->(b)
SET r += $props
RETURN count(r) AS merged`,
		rel.From.Label, rel.From.KeyProperty,
		rel.To.Label, rel.To.KeyProperty,
		rel.Type)
}

func (s *Neo4jStore) DeleteRelationships(ctx context.Context, relType string) (int64, error) {
	if err := ValidateIdentifier(relType); err != nil {
		return 0, err
	}
	ctx, span := s.tracer.Start(ctx, "graph.DeleteRelationships", trace.WithAttributes(attribute.String("type", relType)))
	defer span.End()

	cypher := fmt.Sprintf("MATCH ()-[r:%s]->() WITH r LIMIT %d DELETE r RETURN count(r) AS deleted", relType, deleteBatch)
	return s.deleteInBatches(ctx, cypher)
}

func (s *Neo4jStore) Clear(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "graph.Clear")
	defer span.End()

	cypher := fmt.Sprintf("MATCH (n) WITH n LIMIT %d DETACH DELETE n RETURN count(n) AS deleted", deleteBatch)
	n, err := s.deleteInBatches(ctx, cypher)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "graph cleared", zap.Int64("nodes", n))
	return nil
}

func (s *Neo4jStore) deleteInBatches(ctx context.Context, cypher string) (int64, error) {
	var total int64
	for {
		rows, err := s.db.Write(ctx, cypher, nil)
		if err != nil {
			return total, fmt.Errorf("delete: %w", err)
		}
		n := countOf(rows, "deleted")
		total += n
		if n < deleteBatch {
			return total, nil
		}
	}
}

func (s *Neo4jStore) Analyze(ctx context.Context, q AnalysisQuery) (*Analysis, error) {
	if err := validateProperty(Property{Label: q.Label, Name: q.KeyProperty}); err != nil {
		return nil, err
	}
	title := q.TitleProperty
	if title == "" {
		title = q.KeyProperty
	}
	if err := ValidateIdentifier(title); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}

	a := &Analysis{Nodes: map[string]int64{}, Relationships: map[string]int64{}}

	rows, err := s.db.Read(ctx, "MATCH (n) RETURN labels(n)[0] AS label, count(*) AS count", nil)
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	for _, r := range rows {
		label, _ := r["label"].(string)
		a.Nodes[label] = asInt64(r["count"])
	}

	rows, err = s.db.Read(ctx, "MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count", nil)
	if err != nil {
		return nil, fmt.Errorf("count relationships: %w", err)
	}
	for _, r := range rows {
		typ, _ := r["type"].(string)
		a.Relationships[typ] = asInt64(r["count"])
	}

	rows, err = s.db.Read(ctx, fmt.Sprintf(`MATCH (n:%s)
OPTIONAL MATCH (n)-[r]-()
WITH n, count(r) AS connections
ORDER BY connections DESC, n.%s ASC
LIMIT $limit
RETURN n.%s AS key, n.%s AS title, connections`, q.Label, q.KeyProperty, q.KeyProperty, title),
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("hub nodes: %w", err)
	}
	for _, r := range rows {
		key, _ := r["key"].(string)
		t, _ := r["title"].(string)
		a.Hubs = append(a.Hubs, Hub{Key: key, Title: t, Connections: asInt64(r["connections"])})
	}

	rows, err = s.db.Read(ctx, fmt.Sprintf("MATCH (n:%s) WHERE NOT (n)--() RETURN count(n) AS count", q.Label), nil)
	if err != nil {
		return nil, fmt.Errorf("isolated nodes: %w", err)
	}
	a.Isolated = countOf(rows, "count")

	if q.Relationship != "" {
		if err := ValidateIdentifier(q.Relationship); err != nil {
			return nil, err
		}
		rows, err = s.db.Read(ctx, fmt.Sprintf(`MATCH (a:%s)-[r:%s]->(b:%s)
RETURN a.%s AS source, b.%s AS target, r.score AS score
ORDER BY r.score DESC
LIMIT $limit`, q.Label, q.Relationship, q.Label, q.KeyProperty, q.KeyProperty),
			map[string]any{"limit": int64(limit)})
		if err != nil {
			return nil, fmt.Errorf("top similar: %w", err)
		}
		for _, r := range rows {
			src, _ := r["source"].(string)
			tgt, _ := r["target"].(string)
			score, _ := r["score"].(float64)
			a.TopSimilar = append(a.TopSimilar, document.SimilarityEdge{Source: src, Target: tgt, Score: score})
		}
	}
	return a, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

// neo4jProps converts property values to types the Bolt protocol accepts.
func neo4jProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case int:
			out[k] = int64(val)
		case float32:
			out[k] = float64(val)
		default:
			out[k] = val
		}
	}
	return out
}

func countOf(rows []map[string]any, key string) int64 {
	if len(rows) == 0 {
		return 0
	}
	return asInt64(rows[0][key])
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

var _ Store = (*Neo4jStore)(nil)
