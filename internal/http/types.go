package http

import (
	"github.com/fyrsmithlabs/docgraph/internal/pipeline"
	"github.com/fyrsmithlabs/docgraph/internal/runlog"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Corpus string `json:"corpus"`
}

// RunsResponse is the response body for GET /api/v1/runs.
type RunsResponse struct {
	Corpus string         `json:"corpus"`
	Runs   []runlog.Entry `json:"runs"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Query string         `json:"query"`
	Hits  []pipeline.Hit `json:"hits"`
}

// RedactRequest is the request body for POST /api/v1/redact.
type RedactRequest struct {
	Content string `json:"content"`
}

// RedactResponse is the response body for POST /api/v1/redact.
type RedactResponse struct {
	Content       string   `json:"content"`
	FindingsCount int      `json:"findings_count"`
	Rules         []string `json:"rules,omitempty"`
}
