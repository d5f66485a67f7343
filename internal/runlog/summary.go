// Package runlog records what a pipeline run did: a JSON summary document
// per run and a SQLite ledger of past runs.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/docgraph/internal/graph"
	"github.com/fyrsmithlabs/docgraph/internal/similarity"
	"github.com/fyrsmithlabs/docgraph/internal/source"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// IngestStats are the totals of an ingestion pass.
type IngestStats struct {
	// Total is the number of documents read from the source.
	Total int `json:"total"`
	// Processed is the number of documents whose point was written.
	Processed int `json:"processed"`
	// Skipped counts documents with nothing to embed.
	Skipped int `json:"skipped_empty"`
	// Invalid counts documents without an identifier.
	Invalid int `json:"invalid"`

	Embedded    int `json:"embedded"`
	EmbedErrors int `json:"embed_errors"`
	Redactions  int `json:"redactions"`

	Writer vectorstore.WriterStats `json:"writer"`
	Graph  graph.Stats             `json:"graph"`

	Modules []string `json:"modules,omitempty"`
	Tags    []string `json:"tags,omitempty"`

	Duration time.Duration `json:"-"`
}

// Errors is the number of documents or items lost to recoverable failures.
func (s IngestStats) Errors() int {
	return s.EmbedErrors + s.Writer.Errors + s.Graph.Errors()
}

// ResolveStats are the totals of a similarity pass.
type ResolveStats struct {
	Similarity similarity.Stats `json:"similarity"`
	Graph      graph.Stats      `json:"graph"`

	Duration time.Duration `json:"-"`
}

// Errors is the number of failed queries and edge writes.
func (s ResolveStats) Errors() int {
	return s.Similarity.Errors + s.Graph.Errors()
}

// Summary describes one run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Corpus     string    `json:"corpus"`
	Collection string    `json:"collection"`
	Source     string    `json:"source"`
	VectorDim  int       `json:"vector_dim"`
	StartedAt  time.Time `json:"timestamp"`
	// DurationSeconds is the wall time of the run.
	DurationSeconds float64 `json:"duration_seconds"`
	Status          string  `json:"status"`
	Error           string  `json:"error,omitempty"`

	Ingest   *IngestStats     `json:"ingest,omitempty"`
	Resolve  *ResolveStats    `json:"resolve,omitempty"`
	Graph    *graph.Analysis  `json:"graph_analysis,omitempty"`
	Revision *source.Revision `json:"revision,omitempty"`
}

// Processed is the number of documents written to the vector index.
func (s *Summary) Processed() int {
	if s.Ingest == nil {
		return 0
	}
	return s.Ingest.Processed
}

// Skipped is the number of documents excluded before embedding.
func (s *Summary) Skipped() int {
	if s.Ingest == nil {
		return 0
	}
	return s.Ingest.Skipped + s.Ingest.Invalid
}

// Errors totals recoverable failures over every stage.
func (s *Summary) Errors() int {
	n := 0
	if s.Ingest != nil {
		n += s.Ingest.Errors()
	}
	if s.Resolve != nil {
		n += s.Resolve.Errors()
	}
	return n
}

// Edges is the number of similarity edges resolved.
func (s *Summary) Edges() int {
	if s.Resolve == nil {
		return 0
	}
	return s.Resolve.Similarity.Edges
}

// Finish stamps the duration and status.
func (s *Summary) Finish(now time.Time, err error) {
	s.DurationSeconds = now.Sub(s.StartedAt).Seconds()
	s.Status = StatusCompleted
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
	}
}

// WriteSummary writes s as indented JSON to path, replacing any previous
// file atomically.
func WriteSummary(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating summary directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".summary-*.json")
	if err != nil {
		return fmt.Errorf("creating summary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadSummary reads a summary written by WriteSummary.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding summary %s: %w", path, err)
	}
	return &s, nil
}
