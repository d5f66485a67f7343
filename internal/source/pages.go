package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

// PagesOptions configures a PagesSource.
type PagesOptions struct {
	// Path is the JSON export file: an array of page objects.
	Path string
	// PageSize is the number of documents per page. Default 100.
	PageSize int
}

// PagesSource reads a knowledge base page export.
type PagesSource struct {
	opts PagesOptions

	once sync.Once
	docs []*document.Document
	err  error
}

// NewPagesSource returns a PagesSource. The file is read on the first call
// to Next.
func NewPagesSource(opts PagesOptions) *PagesSource {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &PagesSource{opts: opts}
}

func (s *PagesSource) Name() string { return "pages" }

func (s *PagesSource) Next(ctx context.Context, cursor string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.once.Do(func() { s.docs, s.err = loadPages(s.opts.Path) })
	if s.err != nil {
		return nil, s.err
	}
	offset, err := offsetCursor(cursor, len(s.docs))
	if err != nil {
		return nil, err
	}
	docs, next := pageOf(s.docs, offset, s.opts.PageSize)
	return &Page{Documents: docs, NextCursor: next}, nil
}

// exportedPage is one entry of the export file.
type exportedPage struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Content        string       `json:"content"`
	CreatedTime    string       `json:"created_time"`
	LastEditedTime string       `json:"last_edited_time"`
	URL            string       `json:"url"`
	WordCount      int          `json:"word_count"`
	BlockCount     int          `json:"block_count"`
	Parent         exportParent `json:"parent"`
	Links          []string     `json:"links"`
	Tags           []exportTag  `json:"tags"`
}

type exportParent struct {
	Type       string `json:"type"`
	PageID     string `json:"page_id"`
	DatabaseID string `json:"database_id"`
}

// exportTag accepts both "name" and {"name": "...", "color": "..."}.
type exportTag string

func (t *exportTag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*t = exportTag(obj.Name)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = exportTag(s)
	return nil
}

func loadPages(path string) ([]*document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("reading page export: %w", err)
	}
	var pages []exportedPage
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("parsing page export %s: %w", path, err)
	}

	docs := make([]*document.Document, 0, len(pages))
	for _, p := range pages {
		if p.ID == "" {
			continue
		}
		docs = append(docs, p.toDocument())
	}
	return docs, nil
}

func (p exportedPage) toDocument() *document.Document {
	doc := &document.Document{
		ID:         p.ID,
		Kind:       document.KindPage,
		Title:      p.Title,
		Body:       p.Content,
		URL:        p.URL,
		ParentType: p.Parent.Type,
		Links:      p.Links,
		CreatedAt:  parseTime(p.CreatedTime),
		UpdatedAt:  parseTime(p.LastEditedTime),
		WordCount:  p.WordCount,
		BlockCount: p.BlockCount,
	}
	switch {
	case p.Parent.PageID != "":
		doc.ParentID = p.Parent.PageID
	case p.Parent.DatabaseID != "":
		doc.ParentID = p.Parent.DatabaseID
	}
	if doc.WordCount == 0 {
		doc.WordCount = document.CountWords(p.Content)
	}
	for _, t := range p.Tags {
		if t != "" {
			doc.Tags = append(doc.Tags, string(t))
		}
	}
	return doc
}

// parseTime accepts RFC 3339 timestamps with or without fractional seconds.
// Unparseable values yield the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
