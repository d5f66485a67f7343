package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

// staticSource serves a fixed document list through the offset cursor.
type staticSource struct {
	docs     []*document.Document
	size     int
	cursors  []string
	failWith error
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Next(_ context.Context, cursor string) (*Page, error) {
	s.cursors = append(s.cursors, cursor)
	if s.failWith != nil {
		return nil, s.failWith
	}
	offset, err := offsetCursor(cursor, len(s.docs))
	if err != nil {
		return nil, err
	}
	docs, next := pageOf(s.docs, offset, s.size)
	return &Page{Documents: docs, NextCursor: next}, nil
}

func docs(ids ...string) []*document.Document {
	out := make([]*document.Document, len(ids))
	for i, id := range ids {
		out[i] = &document.Document{ID: id}
	}
	return out
}

func collect(t *testing.T, src Source) []string {
	t.Helper()
	var ids []string
	require.NoError(t, Walk(context.Background(), src, func(d *document.Document) error {
		ids = append(ids, d.ID)
		return nil
	}))
	return ids
}

func TestWalk(t *testing.T) {
	tests := []struct {
		name        string
		ids         []string
		size        int
		wantCursors []string
	}{
		{name: "empty", ids: nil, size: 2, wantCursors: []string{""}},
		{name: "single page", ids: []string{"a", "b"}, size: 5, wantCursors: []string{""}},
		{name: "exact pages", ids: []string{"a", "b", "c", "d"}, size: 2, wantCursors: []string{"", "2"}},
		{name: "remainder", ids: []string{"a", "b", "c", "d", "e"}, size: 2, wantCursors: []string{"", "2", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &staticSource{docs: docs(tt.ids...), size: tt.size}
			got := collect(t, src)
			if tt.ids == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.ids, got)
			}
			assert.Equal(t, tt.wantCursors, src.cursors)
		})
	}
}

func TestWalk_Errors(t *testing.T) {
	boom := errors.New("boom")

	err := Walk(context.Background(), &staticSource{failWith: boom}, func(*document.Document) error { return nil })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "static")

	src := &staticSource{docs: docs("a", "b", "c"), size: 1}
	stop := errors.New("stop")
	seen := 0
	err = Walk(context.Background(), src, func(*document.Document) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Walk(ctx, &staticSource{docs: docs("a")}, func(*document.Document) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOffsetCursor(t *testing.T) {
	tests := []struct {
		cursor  string
		total   int
		want    int
		wantErr bool
	}{
		{"", 0, 0, false},
		{"3", 5, 3, false},
		{"5", 5, 5, false},
		{"6", 5, 0, true},
		{"-1", 5, 0, true},
		{"abc", 5, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.cursor, func(t *testing.T) {
			got, err := offsetCursor(tt.cursor, tt.total)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCursor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLimited(t *testing.T) {
	src := &staticSource{docs: docs("a", "b", "c"), size: 1}
	assert.Same(t, Source(src), Limited(src, nil))

	limited := Limited(src, rate.NewLimiter(rate.Inf, 1))
	assert.Equal(t, "static", limited.Name())
	assert.Equal(t, []string{"a", "b", "c"}, collect(t, limited))

	// A limiter that cannot grant a token before the deadline fails the page.
	slow := Limited(src, rate.NewLimiter(rate.Every(time.Hour), 1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := slow.Next(ctx, "")
	require.NoError(t, err)
	_, err = slow.Next(ctx, "1")
	assert.Error(t, err)
}
