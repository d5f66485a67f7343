// Package source implements the connectors that yield documents to the
// pipeline.
//
// Every connector is paged by an opaque cursor: an empty cursor requests the
// first page and an empty NextCursor in the response signals end of stream.
// Connectors read; they never write back to their origin.
package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

var (
	// ErrSourceNotFound is returned when the configured origin does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrInvalidCursor is returned for a cursor the connector did not issue.
	ErrInvalidCursor = errors.New("invalid source cursor")
)

// Page is one page of documents.
type Page struct {
	Documents  []*document.Document
	NextCursor string
}

// Source yields documents page by page.
type Source interface {
	// Next returns the page that starts at cursor.
	Next(ctx context.Context, cursor string) (*Page, error)

	// Name identifies the connector in logs and run summaries.
	Name() string
}

// Walk drains src and calls fn for every document in order. It stops at the
// first error returned by src or fn.
func Walk(ctx context.Context, src Source, fn func(*document.Document) error) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := src.Next(ctx, cursor)
		if err != nil {
			return fmt.Errorf("%s: %w", src.Name(), err)
		}
		for _, doc := range page.Documents {
			if err := fn(doc); err != nil {
				return err
			}
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return nil
		}
		cursor = page.NextCursor
	}
}

// Limited paces page requests to src with limiter.
func Limited(src Source, limiter *rate.Limiter) Source {
	if limiter == nil {
		return src
	}
	return &limitedSource{Source: src, limiter: limiter}
}

type limitedSource struct {
	Source
	limiter *rate.Limiter
}

func (l *limitedSource) Next(ctx context.Context, cursor string) (*Page, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Source.Next(ctx, cursor)
}

// offsetCursor decodes the cursor used by connectors that page through a
// fixed, ordered list.
func offsetCursor(cursor string, total int) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 || n > total {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return n, nil
}

// pageOf slices items[offset:offset+size] and returns the cursor of the
// following page.
func pageOf[T any](items []T, offset, size int) ([]T, string) {
	end := offset + size
	if size <= 0 || end > len(items) {
		end = len(items)
	}
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return items[offset:end], next
}
