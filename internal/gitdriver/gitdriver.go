// Package gitdriver wraps go-git to give the KB Sync Manager a narrow,
// fast-forward-only contract: configure a remote, pull, inspect status,
// commit, and push with bounded backoff. It never rewrites history and
// never auto-merges a diverged branch — a diverged pull surfaces as
// kerrors.GitConflict for a human to resolve.
package gitdriver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/noteforge/noteforge/internal/kerrors"
)

// RemoteConfig describes how to reach and authenticate against a KB's
// upstream git remote.
type RemoteConfig struct {
	URL      string
	Username string // e.g. "x-access-token" for GitHub PATs
	Token    string
}

// Status summarizes a working copy against HEAD. Driver.Status fills
// Clean, Untracked and Modified; Ahead, Behind and Diverged are not
// populated.
type Status struct {
	Clean     bool
	Ahead     int
	Behind    int
	Diverged  bool
	Untracked []string
	Modified  []string
}

// Driver operates on a single KB git working copy.
type Driver struct {
	path   string
	backoff BackoffConfig
}

type BackoffConfig struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{MaxAttempts: 4, Base: 500 * time.Millisecond, Max: 8 * time.Second}
}

func Open(path string) (*Driver, error) {
	return &Driver{path: path, backoff: DefaultBackoff()}, nil
}

// ConfigureRemote sets (or replaces) the "origin" remote on the working
// copy, initializing a non-bare repository first if one doesn't exist yet.
func (d *Driver) ConfigureRemote(remote RemoteConfig) error {
	repo, err := git.PlainOpen(d.path)
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			return kerrors.Wrap(kerrors.StorageFailure, "open kb repository", err)
		}
		repo, err = git.PlainInit(d.path, false)
		if err != nil {
			return kerrors.Wrap(kerrors.StorageFailure, "init kb repository", err)
		}
	}

	_ = repo.DeleteRemote("origin")
	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{remote.URL},
	})
	if err != nil {
		return kerrors.Wrap(kerrors.StorageFailure, "configure kb remote", err)
	}
	return nil
}

func auth(remote RemoteConfig) transport.AuthMethod {
	if remote.Token == "" {
		return nil
	}
	username := remote.Username
	if username == "" {
		username = "x-access-token"
	}
	return &http.BasicAuth{Username: username, Password: remote.Token}
}

// ErrDiverged indicates the local branch and its upstream have both moved:
// a fast-forward pull is impossible and this is surfaced as GitConflict.
var ErrDiverged = errors.New("gitdriver: branch has diverged from upstream")

// Pull fetches and fast-forwards the current branch. A diverged history
// returns ErrDiverged (wrapped as kerrors.GitConflict) rather than
// attempting any merge.
func (d *Driver) Pull(ctx context.Context, remote RemoteConfig) error {
	repo, err := git.PlainOpen(d.path)
	if err != nil {
		return kerrors.Wrap(kerrors.StorageFailure, "open kb repository", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return kerrors.Wrap(kerrors.StorageFailure, "open kb worktree", err)
	}

	return d.withBackoff(ctx, "pull", func() error {
		err := wt.PullContext(ctx, &git.PullOptions{
			RemoteName: "origin",
			Auth:       auth(remote),
		})
		switch {
		case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
			return nil
		case errors.Is(err, git.ErrNonFastForwardUpdate):
			return kerrors.Wrap(kerrors.GitConflict, "kb branch has diverged from upstream", ErrDiverged)
		case isAuthError(err):
			return kerrors.Wrap(kerrors.GitAuthFailed, "git authentication failed", err)
		default:
			return kerrors.Wrap(kerrors.GitNetwork, "git pull failed", err)
		}
	})
}

func isAuthError(err error) bool {
	return errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, transport.ErrInvalidAuthMethod)
}

// Status reports the working copy's current state against HEAD.
func (d *Driver) Status() (Status, error) {
	repo, err := git.PlainOpen(d.path)
	if err != nil {
		return Status{}, kerrors.Wrap(kerrors.StorageFailure, "open kb repository", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Status{}, kerrors.Wrap(kerrors.StorageFailure, "open kb worktree", err)
	}
	raw, err := wt.Status()
	if err != nil {
		return Status{}, kerrors.Wrap(kerrors.StorageFailure, "read kb status", err)
	}

	st := Status{Clean: raw.IsClean()}
	for path, fileStatus := range raw {
		switch fileStatus.Worktree {
		case git.Untracked:
			st.Untracked = append(st.Untracked, path)
		case git.Modified, git.Added, git.Deleted:
			st.Modified = append(st.Modified, path)
		}
	}
	return st, nil
}

// Commit stages all changes under the working copy and creates a commit
// with the given author identity and message, initializing a non-bare
// repository first if the working copy has none yet (a local KB's first
// commit). Returns the empty hash with no error when there is nothing to
// commit.
func (d *Driver) Commit(message, authorName, authorEmail string, when time.Time) (plumbing.Hash, error) {
	repo, err := git.PlainOpen(d.path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(d.path, false)
	}
	if err != nil {
		return plumbing.ZeroHash, kerrors.Wrap(kerrors.StorageFailure, "open kb repository", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, kerrors.Wrap(kerrors.StorageFailure, "open kb worktree", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return plumbing.ZeroHash, kerrors.Wrap(kerrors.StorageFailure, "stage kb changes", err)
	}

	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, kerrors.Wrap(kerrors.StorageFailure, "read kb status", err)
	}
	if status.IsClean() {
		return plumbing.ZeroHash, nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: authorName, Email: authorEmail, When: when},
	})
	if err != nil {
		return plumbing.ZeroHash, kerrors.Wrap(kerrors.StorageFailure, "commit kb changes", err)
	}
	return hash, nil
}

// Push pushes the current branch to origin with bounded exponential
// backoff, distinguishing auth failures (no retry) from transient network
// failures (retried).
func (d *Driver) Push(ctx context.Context, remote RemoteConfig) error {
	repo, err := git.PlainOpen(d.path)
	if err != nil {
		return kerrors.Wrap(kerrors.StorageFailure, "open kb repository", err)
	}

	return d.withBackoff(ctx, "push", func() error {
		err := repo.PushContext(ctx, &git.PushOptions{
			RemoteName: "origin",
			Auth:       auth(remote),
		})
		switch {
		case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
			return nil
		case errors.Is(err, git.ErrNonFastForwardUpdate):
			return kerrors.Wrap(kerrors.GitConflict, "remote has diverged; pull required before push", ErrDiverged)
		case isAuthError(err):
			return kerrors.Wrap(kerrors.GitAuthFailed, "git authentication failed", err)
		default:
			return kerrors.Wrap(kerrors.GitNetwork, "git push failed", err)
		}
	})
}

// withBackoff retries op up to MaxAttempts times with full-jitter
// exponential backoff, but never retries GitConflict or GitAuthFailed —
// those require human intervention, not patience.
func (d *Driver) withBackoff(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < d.backoff.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if kerrors.Is(lastErr, kerrors.GitConflict) || kerrors.Is(lastErr, kerrors.GitAuthFailed) {
			return lastErr
		}
		if attempt == d.backoff.MaxAttempts-1 {
			break
		}

		delay := time.Duration(math.Min(
			float64(d.backoff.Max),
			float64(d.backoff.Base)*math.Pow(2, float64(attempt)),
		))
		delay = time.Duration(rand.Int63n(int64(delay) + 1))

		select {
		case <-ctx.Done():
			return kerrors.Wrap(kerrors.Timeout, fmt.Sprintf("git %s cancelled", op), ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}
