package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		body     string
		maxChars int
		want     string
	}{
		{name: "title and body", title: "Roadmap", body: "Q3 goals", want: "Roadmap\n\nQ3 goals"},
		{name: "title only", title: "Roadmap", want: "Roadmap"},
		{name: "body only", body: "orphan text", want: "orphan text"},
		{name: "both empty", want: ""},
		{name: "whitespace only", title: "  ", body: "\n\t", want: ""},
		{name: "truncated", title: "abc", body: "defgh", maxChars: 6, want: "abc\n\nd"},
		{name: "zero cap keeps everything", title: "a", body: "b", maxChars: 0, want: "a\n\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.title, tt.body, tt.maxChars))
		})
	}
}

func TestFileHeader(t *testing.T) {
	got := FileHeader("HomeView.swift", "App", "struct HomeView {}", 0)
	assert.Equal(t, "File: HomeView.swift\nModule: App\n\nstruct HomeView {}", got)

	assert.Equal(t, "", FileHeader("", "App", "", 100))
	assert.Equal(t, "File: x.go", FileHeader("x.go", "", "", 100))
}

func TestTruncate_RuneSafe(t *testing.T) {
	s := strings.Repeat("é", 10) + strings.Repeat("日本", 5)

	got := Truncate(s, 12)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 12, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("é", 10)+"日本", got)

	assert.Equal(t, "short", Truncate("short", 100))
}

func TestNormalizer_Text(t *testing.T) {
	t.Run("page style", func(t *testing.T) {
		n, err := New(Config{Style: StyleTitle, MaxChars: 4096})
		require.NoError(t, err)

		doc := &document.Document{Title: "Meeting notes", Body: "We decided things."}
		assert.Equal(t, "Meeting notes\n\nWe decided things.", n.Text(doc))
		assert.Equal(t, "", n.Text(&document.Document{}))
	})

	t.Run("file style requires body", func(t *testing.T) {
		n, err := New(Config{Style: StyleFile, MaxChars: 8000, RequireBody: true})
		require.NoError(t, err)

		doc := &document.Document{FileName: "Empty.swift", Module: "Core", Body: "   "}
		assert.Equal(t, "", n.Text(doc))

		doc.Body = "import Foundation"
		assert.Equal(t, "File: Empty.swift\nModule: Core\n\nimport Foundation", n.Text(doc))
	})

	t.Run("unknown style", func(t *testing.T) {
		_, err := New(Config{Style: "markdown"})
		assert.Error(t, err)
	})
}
