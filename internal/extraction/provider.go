package extraction

import (
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

// Registry dispatches to an Extractor by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Extractor)}
}

// NewDefaultRegistry registers the Swift pattern extractor and the Go extractor.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	swift, err := NewPatternExtractor(SwiftPatterns())
	if err != nil {
		panic(err) // built-in patterns are constant
	}
	r.Register(".swift", swift)
	r.Register(".go", GoExtractor{})
	return r
}

// Register binds ext (with or without the leading dot) to e.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[normalizeExt(ext)] = e
}

// Extract runs the extractor registered for path's extension. Unknown
// extensions produce empty symbols.
func (r *Registry) Extract(path, content string) document.Symbols {
	e, ok := r.byExt[normalizeExt(filepath.Ext(path))]
	if !ok {
		return NoOpExtractor{}.Extract(path, content)
	}
	return e.Extract(path, content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// NoOpExtractor returns no symbols.
type NoOpExtractor struct{}

// Extract implements Extractor.
func (NoOpExtractor) Extract(string, string) document.Symbols {
	return document.Symbols{}
}

var _ Extractor = (*Registry)(nil)
