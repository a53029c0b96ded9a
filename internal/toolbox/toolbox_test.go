package toolbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withWD(t *testing.T) (context.Context, string) {
	t.Helper()
	dir := t.TempDir()
	return WithWorkingDir(context.Background(), dir), dir
}

func TestFileCreateRejectsTraversal(t *testing.T) {
	ctx, _ := withWD(t)
	result := FileCreateTool{}.Execute(ctx, map[string]interface{}{"path": "../../etc/passwd", "content": "x"})
	require.True(t, result.IsError)
}

func TestFileCreateRejectsAbsoluteEscape(t *testing.T) {
	ctx, _ := withWD(t)
	result := FileCreateTool{}.Execute(ctx, map[string]interface{}{"path": "/etc/passwd", "content": "x"})
	require.True(t, result.IsError)
}

func TestFileCreateThenReadRoundTrip(t *testing.T) {
	ctx, dir := withWD(t)
	res := FileCreateTool{}.Execute(ctx, map[string]interface{}{"path": "note.md", "content": "hello"})
	require.False(t, res.IsError)
	require.Len(t, res.Mutated, 1)

	data, err := os.ReadFile(filepath.Join(dir, "note.md"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	read := KBReadTool{}.Execute(ctx, map[string]interface{}{"path": "note.md"})
	require.False(t, read.IsError)
	require.Equal(t, "hello", read.ForModel)
}

func TestFileCreateRejectsExisting(t *testing.T) {
	ctx, _ := withWD(t)
	require.False(t, FileCreateTool{}.Execute(ctx, map[string]interface{}{"path": "a.md", "content": "1"}).IsError)
	res := FileCreateTool{}.Execute(ctx, map[string]interface{}{"path": "a.md", "content": "2"})
	require.True(t, res.IsError)
}

func TestFolderDeleteRefusesRoot(t *testing.T) {
	ctx, _ := withWD(t)
	res := FolderDeleteTool{}.Execute(ctx, map[string]interface{}{"path": "."})
	require.True(t, res.IsError)
}

func TestSymlinkEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	link := filepath.Join(dir, "escape")
	require.NoError(t, os.Symlink(outside, link))

	ctx := WithWorkingDir(context.Background(), dir)
	res := KBReadTool{}.Execute(ctx, map[string]interface{}{"path": "escape/secret.txt"})
	require.True(t, res.IsError)
}

func TestRegistryWhitelistsByMode(t *testing.T) {
	reg := NewRegistry(FileCreateTool{}, KBReadTool{}, GitCommandTool{})
	require.True(t, reg.Allowed(ModeNote, "file_create"))
	require.False(t, reg.Allowed(ModeAsk, "file_create"))
	require.True(t, reg.Allowed(ModeAsk, "kb_read"))
	require.True(t, reg.Allowed(ModeTask, "git_command"))
	require.False(t, reg.Allowed(ModeNote, "git_command"))
}

func TestGitCommandRejectsNonWhitelistedSubcommand(t *testing.T) {
	ctx, _ := withWD(t)
	res := GitCommandTool{}.Execute(ctx, map[string]interface{}{"args": []interface{}{"push"}})
	require.True(t, res.IsError)
}

func TestFileMoveUpdatesBothPaths(t *testing.T) {
	ctx, dir := withWD(t)
	require.False(t, FileCreateTool{}.Execute(ctx, map[string]interface{}{"path": "a.md", "content": "x"}).IsError)
	res := FileMoveTool{}.Execute(ctx, map[string]interface{}{"src": "a.md", "dst": "sub/b.md"})
	require.False(t, res.IsError)

	_, err := os.Stat(filepath.Join(dir, "a.md"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "sub", "b.md"))
	require.NoError(t, err)
}

type fakeHub struct {
	calls []string
}

func (f *fakeHub) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	f.calls = append(f.calls, name)
	return json.RawMessage(`{"success":true}`), nil
}

func TestKBVectorSearchDelegatesToHub(t *testing.T) {
	hub := &fakeHub{}
	tool := KBVectorSearchTool{Hub: hub, KBID: "kb1"}
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "transformers"})
	require.False(t, res.IsError)
	require.Equal(t, []string{"vector_search"}, hub.calls)
}

func TestPlanTodoInvokesCallback(t *testing.T) {
	var captured []string
	tool := PlanTodoTool{OnPlan: func(items []string) { captured = items }}
	res := tool.Execute(context.Background(), map[string]interface{}{"items": []interface{}{"step1", "step2"}})
	require.False(t, res.IsError)
	require.Equal(t, []string{"step1", "step2"}, captured)
}
