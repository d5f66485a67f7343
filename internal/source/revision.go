package source

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-git/go-git/v5"
)

// Revision identifies the state of a source tree under version control.
type Revision struct {
	Commit string `json:"commit"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty"`
	Remote string `json:"remote,omitempty"`
	// Owner is the GitHub account of the origin remote, when there is one.
	Owner string `json:"owner,omitempty"`
}

// ReadRevision returns the checked-out revision of the git repository that
// contains path. It returns nil without error when path is not inside a
// repository.
func ReadRevision(path string) (*Revision, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}
	rev := &Revision{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		rev.Branch = head.Name().Short()
	}

	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			rev.Dirty = !status.IsClean()
		}
	}

	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			rev.Remote = urls[0]
			rev.Owner = parseGitHubOwner(urls[0])
		}
	}
	return rev, nil
}

var (
	sshRemote   = regexp.MustCompile(`git@github\.com:([^/]+)/`)
	httpsRemote = regexp.MustCompile(`github\.com/([^/]+)/`)
)

// parseGitHubOwner extracts the account from git@github.com:owner/repo.git
// or https://github.com/owner/repo.git.
func parseGitHubOwner(url string) string {
	if m := sshRemote.FindStringSubmatch(url); len(m) > 1 {
		return m[1]
	}
	if m := httpsRemote.FindStringSubmatch(url); len(m) > 1 {
		return m[1]
	}
	return ""
}
