package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docgraph/internal/extraction"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
)

func newGitHubTestClient(t *testing.T, mux *http.ServeMux) *github.Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return client
}

func repoMux(t *testing.T) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "app", "default_branch": "main"}`)
	})
	mux.HandleFunc("/repos/acme/app/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		fmt.Fprint(w, `{
			"sha": "0a1b2c",
			"truncated": false,
			"tree": [
				{"path": "App", "type": "tree", "sha": "t1"},
				{"path": "App/B.swift", "type": "blob", "sha": "b2", "size": 30},
				{"path": "App/A.swift", "type": "blob", "sha": "b1", "size": 30},
				{"path": "Pods/Lib/X.swift", "type": "blob", "sha": "b3", "size": 30},
				{"path": "App/Gen.generated.swift", "type": "blob", "sha": "b4", "size": 30},
				{"path": "Huge.swift", "type": "blob", "sha": "b5", "size": 5000000},
				{"path": "README.md", "type": "blob", "sha": "b6", "size": 10}
			]
		}`)
	})
	mux.HandleFunc("/repos/acme/app/git/blobs/b1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "import Foundation\nclass A {}\n")
	})
	mux.HandleFunc("/repos/acme/app/git/blobs/b2", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "server error"}`, http.StatusInternalServerError)
	})
	return mux
}

func TestGitHubSource(t *testing.T) {
	logger := logging.NewTestLogger()
	client := newGitHubTestClient(t, repoMux(t))
	src, err := NewGitHubSource(client, GitHubOptions{
		Owner:     "acme",
		Repo:      "app",
		Include:   []string{"*.swift"},
		Exclude:   []string{"*.generated.swift"},
		PageSize:  1,
		Limiter:   rate.NewLimiter(rate.Inf, 1),
		Extractor: extraction.NewDefaultRegistry(),
	}, logger.Logger)
	require.NoError(t, err)

	first, err := src.Next(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "0a1b2c", src.Revision())
	assert.Equal(t, "1", first.NextCursor)
	require.Len(t, first.Documents, 1)

	a := first.Documents[0]
	assert.Equal(t, "App/A.swift", a.ID)
	assert.Equal(t, "App", a.Module)
	assert.Equal(t, []string{"Foundation"}, a.Symbols.Imports)
	assert.Equal(t, []string{"A"}, a.Symbols.Classes)

	// B.swift fails to download and is skipped.
	second, err := src.Next(context.Background(), first.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, second.Documents)
	assert.Empty(t, second.NextCursor)
	logger.AssertLogged(t, zapcore.WarnLevel, "file skipped")
}

func TestGitHubSource_ExplicitRef(t *testing.T) {
	mux := repoMux(t)
	called := false
	mux.HandleFunc("/repos/acme/app/git/trees/v1.2.0", func(w http.ResponseWriter, r *http.Request) {
		called = true
		fmt.Fprint(w, `{"sha": "ff", "tree": []}`)
	})
	src, err := NewGitHubSource(newGitHubTestClient(t, mux), GitHubOptions{Owner: "acme", Repo: "app", Ref: "v1.2.0"}, nil)
	require.NoError(t, err)

	page, err := src.Next(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, page.Documents)
}

func TestGitHubSource_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})
	src, err := NewGitHubSource(newGitHubTestClient(t, mux), GitHubOptions{Owner: "acme", Repo: "missing"}, nil)
	require.NoError(t, err)

	_, err = src.Next(context.Background(), "")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestNewGitHubSource_Validation(t *testing.T) {
	_, err := NewGitHubSource(nil, GitHubOptions{Owner: "a", Repo: "b"}, nil)
	assert.Error(t, err)
	_, err = NewGitHubSource(github.NewClient(nil), GitHubOptions{Owner: "a"}, nil)
	assert.Error(t, err)
	_, err = NewGitHubSource(github.NewClient(nil), GitHubOptions{Owner: "a", Repo: "b", Include: []string{"["}}, nil)
	assert.Error(t, err)
}

func TestNewGitHubClient(t *testing.T) {
	assert.NotNil(t, NewGitHubClient(context.Background(), ""))
	assert.NotNil(t, NewGitHubClient(context.Background(), "ghp_example"))
}

func TestSkippedDir(t *testing.T) {
	assert.True(t, skippedDir("Pods/Lib/X.swift"))
	assert.True(t, skippedDir("App/node_modules/x.js"))
	assert.False(t, skippedDir("App/A.swift"))
	assert.False(t, skippedDir("vendor"))
}
