package mcphub

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, dir string, spec ServerSpec) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, sanitizeFileName(spec.Name)+".json"), data, 0o644))
}

func TestListAccessibleMergesSharedAndUser(t *testing.T) {
	base := t.TempDir()
	reg := NewServerRegistry(base)

	writeSpec(t, filepath.Join(base, "mcp_servers"), ServerSpec{Name: "shared-tool", Enabled: true, Transport: TransportSSE, URL: "https://shared.example/sse"})
	writeSpec(t, filepath.Join(base, "mcp_servers", "user_1"), ServerSpec{Name: "private-tool", Enabled: true, Transport: TransportStdio, Command: "mytool"})

	specs, err := reg.ListAccessible(1)
	require.NoError(t, err)
	require.Len(t, specs, 2)
}

func TestUserScopeReplacesSharedEntirely(t *testing.T) {
	base := t.TempDir()
	reg := NewServerRegistry(base)

	writeSpec(t, filepath.Join(base, "mcp_servers"), ServerSpec{Name: "shared-tool", Enabled: true, Transport: TransportSSE, URL: "https://shared.example/sse", Description: "shared version"})
	writeSpec(t, filepath.Join(base, "mcp_servers", "user_1"), ServerSpec{Name: "shared-tool", Enabled: false, Transport: TransportStdio, Command: "local-override"})

	specs, err := reg.ListAccessible(1)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, TransportStdio, specs[0].Transport)
	require.False(t, specs[0].Enabled)
	require.Empty(t, specs[0].Description)
}

func TestAddEnableDisableRemove(t *testing.T) {
	base := t.TempDir()
	reg := NewServerRegistry(base)

	require.NoError(t, reg.Add(7, ServerSpec{Name: "tool-a", Enabled: true, Transport: TransportStdio, Command: "echo"}))
	specs, err := reg.ListAccessible(7)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.True(t, specs[0].Enabled)

	require.NoError(t, reg.SetEnabled(7, "tool-a", false))
	specs, err = reg.ListAccessible(7)
	require.NoError(t, err)
	require.False(t, specs[0].Enabled)

	require.NoError(t, reg.Remove(7, "tool-a"))
	specs, err = reg.ListAccessible(7)
	require.NoError(t, err)
	require.Len(t, specs, 0)
}

func TestUsersDoNotSeeEachOthersPrivateServers(t *testing.T) {
	base := t.TempDir()
	reg := NewServerRegistry(base)

	require.NoError(t, reg.Add(1, ServerSpec{Name: "tool-1", Enabled: true, Transport: TransportStdio, Command: "echo"}))
	require.NoError(t, reg.Add(2, ServerSpec{Name: "tool-2", Enabled: true, Transport: TransportStdio, Command: "echo"}))

	specs1, err := reg.ListAccessible(1)
	require.NoError(t, err)
	require.Len(t, specs1, 1)
	require.Equal(t, "tool-1", specs1[0].Name)
}
