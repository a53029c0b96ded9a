package credstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "credentials.json"), []byte("test-master-key-material"))
	require.NoError(t, err)
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(1, "git_token", "ghp_supersecret"))

	got, err := s.Get(1, "git_token")
	require.NoError(t, err)
	require.Equal(t, "ghp_supersecret", got)
}

func TestGetUnknownNameErrors(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(1, "missing")
	require.Error(t, err)
}

func TestCiphertextNotStoredInPlaintext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	s, err := New(path, []byte("another-master-key"))
	require.NoError(t, err)
	require.NoError(t, s.Set(42, "git_token", "do-not-leak-me"))

	raw, err := readAll(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "do-not-leak-me")
}

func TestDeleteSingleAndAll(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(1, "a", "x"))
	require.NoError(t, s.Set(1, "b", "y"))

	require.NoError(t, s.Delete(1, "a"))
	_, err := s.Get(1, "a")
	require.Error(t, err)
	_, err = s.Get(1, "b")
	require.NoError(t, err)

	require.NoError(t, s.Delete(1, ""))
	_, err = s.Get(1, "b")
	require.Error(t, err)
}

func TestDifferentUsersAreIsolated(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(1, "git_token", "user1secret"))
	_, err := s.Get(2, "git_token")
	require.Error(t, err)
}
