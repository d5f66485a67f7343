// Package textnorm builds the text that is sent to the embedding model.
package textnorm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

// Style selects the identifying header placed in front of the body.
type Style string

const (
	// StyleTitle renders "title\n\nbody".
	StyleTitle Style = "title"
	// StyleFile renders "File: name\nModule: module\n\nbody".
	StyleFile Style = "file"
)

// Config configures a Normalizer.
type Config struct {
	Style Style
	// MaxChars caps the output length in characters (runes). Zero disables the cap.
	MaxChars int
	// RequireBody skips documents whose body is blank even if a header exists.
	RequireBody bool
}

// Normalizer turns documents into embeddable text.
type Normalizer struct {
	cfg Config
}

// New validates cfg and returns a Normalizer.
func New(cfg Config) (*Normalizer, error) {
	switch cfg.Style {
	case StyleTitle, StyleFile:
	case "":
		cfg.Style = StyleTitle
	default:
		return nil, fmt.Errorf("unknown header style %q", cfg.Style)
	}
	if cfg.MaxChars < 0 {
		return nil, fmt.Errorf("max chars must be >= 0, got %d", cfg.MaxChars)
	}
	return &Normalizer{cfg: cfg}, nil
}

// Text returns the embeddable text for doc, or "" when the document
// should be skipped.
func (n *Normalizer) Text(doc *document.Document) string {
	if n.cfg.RequireBody && strings.TrimSpace(doc.Body) == "" {
		return ""
	}
	switch n.cfg.Style {
	case StyleFile:
		name := doc.FileName
		if name == "" {
			name = doc.Title
		}
		return FileHeader(name, doc.Module, doc.Body, n.cfg.MaxChars)
	default:
		return Normalize(doc.Title, doc.Body, n.cfg.MaxChars)
	}
}

// Normalize joins title and body with a blank line and caps the result at
// maxChars characters. Empty input yields "".
func Normalize(title, body string, maxChars int) string {
	title = strings.TrimSpace(title)
	var text string
	switch {
	case strings.TrimSpace(body) == "":
		text = title
	case title == "":
		text = body
	default:
		text = title + "\n\n" + body
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return Truncate(text, maxChars)
}

// FileHeader prefixes body with a file/module header and caps the result.
func FileHeader(name, module, body string, maxChars int) string {
	if strings.TrimSpace(name) == "" && strings.TrimSpace(body) == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("File: ")
	b.WriteString(name)
	if module != "" {
		b.WriteString("\nModule: ")
		b.WriteString(module)
	}
	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return Truncate(b.String(), maxChars)
}

// Truncate returns at most maxChars runes of s without splitting a UTF-8
// sequence. maxChars <= 0 returns s unchanged.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	count := 0
	for i := range s {
		if count == maxChars {
			return s[:i]
		}
		count++
	}
	return s
}

// Preview is Truncate for payload previews.
func Preview(s string, maxChars int) string {
	return Truncate(s, maxChars)
}
