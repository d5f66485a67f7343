package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/extraction"
	"github.com/fyrsmithlabs/docgraph/internal/ignore"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/sanitize"
)

// NewGitHubClient returns an API client authenticated with token. An empty
// token yields an anonymous client.
func NewGitHubClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// GitHubOptions configures a GitHubSource.
type GitHubOptions struct {
	Owner string
	Repo  string
	// Ref is a branch, tag or commit. Empty uses the default branch.
	Ref string

	Include     []string
	Exclude     []string
	MaxFileSize int64
	PageSize    int

	// Limiter paces API calls. Nil disables pacing.
	Limiter   *rate.Limiter
	Extractor extraction.Extractor
}

// GitHubSource yields the files of a repository tree read through the GitHub
// REST API. The tree is listed once; blobs are fetched per page.
type GitHubSource struct {
	client  *github.Client
	opts    GitHubOptions
	matcher *ignore.Matcher
	logger  *logging.Logger

	once    sync.Once
	entries []*github.TreeEntry
	sha     string
	err     error
}

// NewGitHubSource returns a GitHubSource using client. logger may be nil.
func NewGitHubSource(client *github.Client, opts GitHubOptions, logger *logging.Logger) (*GitHubSource, error) {
	if client == nil {
		return nil, errors.New("github client is required")
	}
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	if err := sanitize.ValidateGlobPatterns(opts.Include); err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 1024 * 1024
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GitHubSource{
		client:  client,
		opts:    opts,
		matcher: ignore.NewMatcher(opts.Exclude),
		logger:  logger.Named("source.github"),
	}, nil
}

func (s *GitHubSource) Name() string { return "github" }

// Revision returns the tree SHA that was listed. It is empty before the
// first call to Next.
func (s *GitHubSource) Revision() string { return s.sha }

func (s *GitHubSource) Next(ctx context.Context, cursor string) (*Page, error) {
	s.once.Do(func() { s.err = s.listTree(ctx) })
	if s.err != nil {
		return nil, s.err
	}
	offset, err := offsetCursor(cursor, len(s.entries))
	if err != nil {
		return nil, err
	}
	entries, next := pageOf(s.entries, offset, s.opts.PageSize)

	page := &Page{NextCursor: next}
	for _, e := range entries {
		doc, err := s.fetch(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn(ctx, "file skipped", zap.String("path", e.GetPath()), zap.Error(err))
			continue
		}
		if doc != nil {
			page.Documents = append(page.Documents, doc)
		}
	}
	return page, nil
}

func (s *GitHubSource) listTree(ctx context.Context) error {
	ref := s.opts.Ref
	if ref == "" {
		if err := s.wait(ctx); err != nil {
			return err
		}
		repo, _, err := s.client.Repositories.Get(ctx, s.opts.Owner, s.opts.Repo)
		if err != nil {
			return s.wrap(err)
		}
		ref = repo.GetDefaultBranch()
	}

	if err := s.wait(ctx); err != nil {
		return err
	}
	tree, _, err := s.client.Git.GetTree(ctx, s.opts.Owner, s.opts.Repo, ref, true)
	if err != nil {
		return s.wrap(err)
	}
	if tree.GetTruncated() {
		s.logger.Warn(ctx, "repository tree truncated by the API, some files are missing",
			zap.String("repo", s.opts.Owner+"/"+s.opts.Repo))
	}

	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		p := e.GetPath()
		if int64(e.GetSize()) > s.opts.MaxFileSize || skippedDir(p) || s.matcher.Match(p, false) || !matchAny(s.opts.Include, p) {
			continue
		}
		s.entries = append(s.entries, e)
	}
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].GetPath() < s.entries[j].GetPath() })
	s.sha = tree.GetSHA()
	s.logger.Info(ctx, "repository tree listed",
		zap.String("repo", s.opts.Owner+"/"+s.opts.Repo),
		zap.String("ref", ref),
		zap.Int("files", len(s.entries)),
	)
	return nil
}

func (s *GitHubSource) fetch(ctx context.Context, e *github.TreeEntry) (*document.Document, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	raw, _, err := s.client.Git.GetBlobRaw(ctx, s.opts.Owner, s.opts.Repo, e.GetSHA())
	if err != nil {
		return nil, s.wrap(err)
	}
	if !utf8.Valid(raw) {
		return nil, nil
	}
	return CodeDocument(e.GetPath(), string(raw), s.opts.Extractor), nil
}

func (s *GitHubSource) wait(ctx context.Context) error {
	if s.opts.Limiter == nil {
		return ctx.Err()
	}
	return s.opts.Limiter.Wait(ctx)
}

func (s *GitHubSource) wrap(err error) error {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: github.com/%s/%s", ErrSourceNotFound, s.opts.Owner, s.opts.Repo)
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("github rate limit exhausted until %s: %w", rateErr.Rate.Reset.Time, err)
	}
	return err
}

// skippedDir reports whether any directory of p is in defaultSkipDirs.
func skippedDir(p string) bool {
	for {
		dir, rest, found := strings.Cut(p, "/")
		if !found {
			return false
		}
		if defaultSkipDirs[dir] {
			return true
		}
		p = rest
	}
}
