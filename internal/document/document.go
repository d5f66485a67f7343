// Package document defines the records that flow through the docgraph pipeline.
//
// A Document is produced by a source connector and never mutated afterwards.
// The pipeline derives Points (vector index records) and Edges (graph
// relationships) from it.
package document

import (
	"strings"
	"time"
)

// Kind identifies the shape of a corpus.
type Kind string

const (
	// KindPage is a text page from a knowledge base export.
	KindPage Kind = "page"
	// KindCode is a source file from a repository tree.
	KindCode Kind = "code"
)

// Document is a unit of content read from a source connector.
type Document struct {
	// ID is the stable external identifier (page id or relative path).
	ID string `json:"id"`

	Kind  Kind   `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`

	// ParentID is the structural parent, empty when the document is a root.
	ParentID   string `json:"parent_id,omitempty"`
	ParentType string `json:"parent_type,omitempty"`

	// Links are outbound references to other documents by external id.
	Links []string `json:"links,omitempty"`
	Tags  []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// Source file layout, set for KindCode.
	Path      string `json:"path,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	Module    string `json:"module,omitempty"`
	Subpath   string `json:"subpath,omitempty"`
	Extension string `json:"extension,omitempty"`

	WordCount  int `json:"word_count"`
	BlockCount int `json:"block_count"`
	LineCount  int `json:"line_count"`

	Symbols Symbols `json:"symbols,omitempty"`
}

// Symbols are declarations pulled out of source text by a structural extractor.
// They are descriptive metadata only.
type Symbols struct {
	Imports    []string `json:"imports,omitempty"`
	Classes    []string `json:"classes,omitempty"`
	Structs    []string `json:"structs,omitempty"`
	Enums      []string `json:"enums,omitempty"`
	Protocols  []string `json:"protocols,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	Functions  []string `json:"functions,omitempty"`
}

// IsZero reports whether no symbol was extracted.
func (s Symbols) IsZero() bool {
	return len(s.Imports) == 0 && len(s.Classes) == 0 && len(s.Structs) == 0 &&
		len(s.Enums) == 0 && len(s.Protocols) == 0 && len(s.Extensions) == 0 &&
		len(s.Functions) == 0
}

// CreatedDate returns the creation day as YYYY-MM-DD, or "" when unknown.
func (d *Document) CreatedDate() string {
	if d.CreatedAt.IsZero() {
		return ""
	}
	return d.CreatedAt.UTC().Format("2006-01-02")
}

// CountWords returns the number of whitespace separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// CountLines returns the number of lines in text, matching splitlines semantics:
// a trailing newline does not start a new line.
func CountLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
