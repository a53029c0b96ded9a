package gitdriver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"
)

func TestConfigureRemoteInitializesRepository(t *testing.T) {
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "kb")
	require.NoError(t, os.MkdirAll(kbPath, 0o755))

	d, err := Open(kbPath)
	require.NoError(t, err)
	require.NoError(t, d.ConfigureRemote(RemoteConfig{URL: "https://example.invalid/kb.git"}))

	repo, err := git.PlainOpen(kbPath)
	require.NoError(t, err)
	remotes, err := repo.Remotes()
	require.NoError(t, err)
	require.Len(t, remotes, 1)
	require.Equal(t, "origin", remotes[0].Config().Name)
}

func TestCommitNoChangesReturnsZeroHash(t *testing.T) {
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "kb")
	require.NoError(t, os.MkdirAll(kbPath, 0o755))

	d, err := Open(kbPath)
	require.NoError(t, err)
	require.NoError(t, d.ConfigureRemote(RemoteConfig{URL: "https://example.invalid/kb.git"}))

	hash, err := d.Commit("empty", "Bot", "bot@example.invalid", time.Now())
	require.NoError(t, err)
	require.True(t, hash.IsZero())
}

func TestCommitAndStatus(t *testing.T) {
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "kb")
	require.NoError(t, os.MkdirAll(kbPath, 0o755))

	d, err := Open(kbPath)
	require.NoError(t, err)
	require.NoError(t, d.ConfigureRemote(RemoteConfig{URL: "https://example.invalid/kb.git"}))

	require.NoError(t, os.WriteFile(filepath.Join(kbPath, "note.md"), []byte("# hi\n"), 0o644))

	st, err := d.Status()
	require.NoError(t, err)
	require.False(t, st.Clean)
	require.Contains(t, st.Untracked, "note.md")

	hash, err := d.Commit("add note", "Bot", "bot@example.invalid", time.Now())
	require.NoError(t, err)
	require.False(t, hash.IsZero())

	st, err = d.Status()
	require.NoError(t, err)
	require.True(t, st.Clean)
}

func TestPushWithoutRemoteReturnsGitNetworkOrAuthError(t *testing.T) {
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "kb")
	require.NoError(t, os.MkdirAll(kbPath, 0o755))

	d, err := Open(kbPath)
	require.NoError(t, err)
	d.backoff = BackoffConfig{MaxAttempts: 1, Base: time.Millisecond, Max: time.Millisecond}
	require.NoError(t, d.ConfigureRemote(RemoteConfig{URL: "https://127.0.0.1:1/nonexistent.git"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = d.Push(ctx, RemoteConfig{URL: "https://127.0.0.1:1/nonexistent.git"})
	require.Error(t, err)
}
