package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRevision(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.swift"), []byte("let a = 1\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("a.swift")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{"git@github.com:acme/app.git"}})
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Sources"), 0o755))
	rev, err := ReadRevision(filepath.Join(dir, "Sources"))
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, hash.String(), rev.Commit)
	assert.NotEmpty(t, rev.Branch)
	assert.False(t, rev.Dirty)
	assert.Equal(t, "acme", rev.Owner)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.swift"), []byte("let a = 2\n"), 0o644))
	rev, err = ReadRevision(dir)
	require.NoError(t, err)
	assert.True(t, rev.Dirty)
}

func TestReadRevision_NotARepository(t *testing.T) {
	rev, err := ReadRevision(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, rev)
}

func TestParseGitHubOwner(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"git@github.com:acme/app.git", "acme"},
		{"https://github.com/acme/app.git", "acme"},
		{"https://gitlab.com/acme/app.git", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, parseGitHubOwner(tt.url))
		})
	}
}
