package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/extraction"
	"github.com/fyrsmithlabs/docgraph/internal/ignore"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/sanitize"
)

// RootModule is the module of files directly under the tree root.
const RootModule = "Root"

// maxFileSizeLimit caps FilesOptions.MaxFileSize.
const maxFileSizeLimit = 10 * 1024 * 1024

// defaultSkipDirs are never descended into.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".build":       true,
	"DerivedData":  true,
	"Pods":         true,
	".next":        true,
	"target":       true,
}

// FilesOptions configures a FilesSource.
type FilesOptions struct {
	Root string

	// Include are glob patterns matched against the base name and the
	// relative path. Empty includes every file.
	Include []string
	// Exclude are gitignore-style patterns and take precedence over Include.
	Exclude []string
	// IgnoreFiles are read from Root and appended to Exclude.
	IgnoreFiles []string

	// MaxFileSize in bytes. Default 1 MiB, at most 10 MiB.
	MaxFileSize int64
	PageSize    int

	// Extractor fills Document.Symbols. Nil leaves symbols empty.
	Extractor extraction.Extractor
}

// FilesSource walks a directory tree and yields one document per text file.
// Paths are listed on the first call to Next in lexical order; file contents
// are read per page.
type FilesSource struct {
	opts    FilesOptions
	root    string
	matcher *ignore.Matcher
	logger  *logging.Logger

	once  sync.Once
	paths []string
	err   error
}

// NewFilesSource validates opts and returns a FilesSource. logger may be nil.
func NewFilesSource(opts FilesOptions, logger *logging.Logger) (*FilesSource, error) {
	root, err := validateRoot(opts.Root)
	if err != nil {
		return nil, err
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = 1024 * 1024
	}
	if opts.MaxFileSize < 0 || opts.MaxFileSize > maxFileSizeLimit {
		return nil, fmt.Errorf("max_file_size must be within (0, 10MB], got %d", opts.MaxFileSize)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if err := sanitize.ValidateGlobPatterns(opts.Include); err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}

	excludes := append([]string(nil), opts.Exclude...)
	if len(opts.IgnoreFiles) > 0 {
		fromFiles, err := ignore.NewParser(opts.IgnoreFiles, nil).ParseProject(root)
		if err != nil {
			return nil, fmt.Errorf("reading ignore files: %w", err)
		}
		excludes = append(excludes, fromFiles...)
	}

	if logger == nil {
		logger = logging.NewNop()
	}
	return &FilesSource{
		opts:    opts,
		root:    root,
		matcher: ignore.NewMatcher(excludes),
		logger:  logger.Named("source.files"),
	}, nil
}

func (s *FilesSource) Name() string { return "files" }

// Root returns the cleaned tree root.
func (s *FilesSource) Root() string { return s.root }

func (s *FilesSource) Next(ctx context.Context, cursor string) (*Page, error) {
	s.once.Do(func() { s.paths, s.err = s.list(ctx) })
	if s.err != nil {
		return nil, s.err
	}
	offset, err := offsetCursor(cursor, len(s.paths))
	if err != nil {
		return nil, err
	}
	paths, next := pageOf(s.paths, offset, s.opts.PageSize)

	page := &Page{NextCursor: next}
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := s.read(rel)
		if err != nil {
			s.logger.Warn(ctx, "file skipped", zap.String("path", rel), zap.Error(err))
			continue
		}
		if doc != nil {
			page.Documents = append(page.Documents, doc)
		}
	}
	return page, nil
}

// list returns the slash-separated relative paths of every candidate file.
func (s *FilesSource) list(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && (defaultSkipDirs[d.Name()] || s.matcher.Match(rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if s.shouldInclude(rel, info.Size()) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.root, err)
	}
	return paths, nil
}

func (s *FilesSource) shouldInclude(rel string, size int64) bool {
	if size > s.opts.MaxFileSize {
		return false
	}
	if s.matcher.Match(rel, false) {
		return false
	}
	return matchAny(s.opts.Include, rel)
}

// read returns nil without error for files that are not valid UTF-8.
func (s *FilesSource) read(rel string) (*document.Document, error) {
	content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(content) {
		s.logger.Debug(context.Background(), "binary file skipped", zap.String("path", rel))
		return nil, nil
	}
	return CodeDocument(rel, string(content), s.opts.Extractor), nil
}

// CodeDocument builds the document for a source file at the slash-separated
// relative path rel.
func CodeDocument(rel, content string, extractor extraction.Extractor) *document.Document {
	module, subpath := Layout(rel)
	name := path.Base(rel)
	doc := &document.Document{
		ID:        rel,
		Kind:      document.KindCode,
		Title:     name,
		Body:      content,
		Path:      rel,
		FileName:  name,
		Module:    module,
		Subpath:   subpath,
		Extension: path.Ext(name),
		WordCount: document.CountWords(content),
		LineCount: document.CountLines(content),
	}
	if extractor != nil {
		doc.Symbols = extractor.Extract(rel, content)
	}
	return doc
}

// Layout splits a relative path into its module, the first directory, and
// the directories between the module and the file.
func Layout(rel string) (module, subpath string) {
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return RootModule, ""
	}
	return parts[0], strings.Join(parts[1:len(parts)-1], "/")
}

func validateRoot(root string) (string, error) {
	if root == "" {
		return "", errors.New("source root cannot be empty")
	}
	clean := filepath.Clean(root)
	info, err := os.Stat(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, clean)
		}
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source root must be a directory: %s", clean)
	}
	return clean, nil
}

// matchAny reports whether rel or its base name matches one of patterns. An
// empty pattern list matches everything.
func matchAny(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return true
	}
	base := path.Base(rel)
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
