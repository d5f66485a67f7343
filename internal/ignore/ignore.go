// Package ignore reads gitignore-style files and matches source paths
// against them.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Parser reads gitignore-style files from a tree root.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a new ignore file parser with the given configuration.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseProject reads all ignore files at root and returns their patterns in
// file order. If none of the files exist the fallback patterns are returned.
func (p *Parser) ParseProject(root string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, name := range p.IgnoreFiles {
		filePatterns, err := parseFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}
	return deduplicate(patterns), nil
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine returns the pattern on line, or "" for blank lines and comments.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// Matcher reports whether a slash-separated path relative to the tree root is
// ignored. Later patterns override earlier ones, so "!keep.txt" re-includes a
// file excluded by "*.txt".
type Matcher struct {
	m     gitignore.Matcher
	empty bool
}

// NewMatcher compiles gitignore patterns.
func NewMatcher(patterns []string) *Matcher {
	ps := make([]gitignore.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p = parseLine(p); p != "" {
			ps = append(ps, gitignore.ParsePattern(p, nil))
		}
	}
	return &Matcher{m: gitignore.NewMatcher(ps), empty: len(ps) == 0}
}

// Match reports whether relPath is ignored.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	if m == nil || m.empty {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	if relPath == "" || relPath == "." {
		return false
	}
	return m.m.Match(strings.Split(relPath, "/"), isDir)
}
