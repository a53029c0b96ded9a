package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestOverlay(t *testing.T, env map[string]string) *OverlayStore {
	t.Helper()
	dir := t.TempDir()
	s := NewOverlayStore(filepath.Join(dir, "overlay.json"))
	s.envLookup = func(key string) string { return env[key] }
	return s
}

func TestPrecedenceEnvBeatsOverlayBeatsDefault(t *testing.T) {
	s := newTestOverlay(t, map[string]string{})

	v, err := s.Get(1, "AGENT_TIMEOUT_SECONDS", 300)
	require.NoError(t, err)
	require.Equal(t, 300, v)

	require.NoError(t, s.SetUserOverride(1, "AGENT_TIMEOUT_SECONDS", "120"))
	v, err = s.Get(1, "AGENT_TIMEOUT_SECONDS", 300)
	require.NoError(t, err)
	require.Equal(t, 120, v)

	s.envLookup = func(key string) string {
		if key == envVarFor("AGENT_TIMEOUT_SECONDS") {
			return "60"
		}
		return ""
	}
	v, err = s.Get(1, "AGENT_TIMEOUT_SECONDS", 300)
	require.NoError(t, err)
	require.Equal(t, 60, v)
}

func TestResetUserOverrideRevertsToDefault(t *testing.T) {
	s := newTestOverlay(t, map[string]string{})
	require.NoError(t, s.SetUserOverride(1, "KB_TOPICS_ONLY", "false"))

	v, err := s.Get(1, "KB_TOPICS_ONLY", true)
	require.NoError(t, err)
	require.Equal(t, false, v)

	require.NoError(t, s.ResetUserOverride(1, "KB_TOPICS_ONLY"))
	v, err = s.Get(1, "KB_TOPICS_ONLY", true)
	require.NoError(t, err)
	require.Equal(t, true, v)
}

func TestSetUserOverrideRejectsReadOnly(t *testing.T) {
	s := newTestOverlay(t, map[string]string{})
	err := s.SetUserOverride(1, "MCP_HUB_URL", "http://evil.example")
	require.Error(t, err)

	v, err := s.Get(1, "MCP_HUB_URL", "")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestSetUserOverrideRejectsSecret(t *testing.T) {
	s := newTestOverlay(t, map[string]string{})
	err := s.SetUserOverride(1, "CRED_GIT_TOKEN", "ghp_leak")
	require.Error(t, err)

	v, err := s.Get(1, "CRED_GIT_TOKEN", "")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestSetUserOverrideValidatesEnum(t *testing.T) {
	s := newTestOverlay(t, map[string]string{})
	require.Error(t, s.SetUserOverride(1, "KB_MODE", "bogus"))
	require.NoError(t, s.SetUserOverride(1, "KB_MODE", "ask"))
}

func TestSetUserOverrideUnknownFieldErrors(t *testing.T) {
	s := newTestOverlay(t, map[string]string{})
	require.Error(t, s.SetUserOverride(1, "NOT_A_FIELD", "x"))
}

func TestUsersAreIsolated(t *testing.T) {
	s := newTestOverlay(t, map[string]string{})
	require.NoError(t, s.SetUserOverride(1, "RATE_LIMIT_PER_MINUTE", "5"))

	v, err := s.Get(2, "RATE_LIMIT_PER_MINUTE", 20)
	require.NoError(t, err)
	require.Equal(t, 20, v)

	v, err = s.Get(1, "RATE_LIMIT_PER_MINUTE", 20)
	require.NoError(t, err)
	require.Equal(t, 5, v)
}

func TestParseBoolExplicitForms(t *testing.T) {
	trueForms := []string{"true", "1", "yes", "on", "TRUE", "On"}
	for _, v := range trueForms {
		b, err := ParseBool(v)
		require.NoError(t, err)
		require.True(t, b)
	}
	falseForms := []string{"false", "0", "no", "off"}
	for _, v := range falseForms {
		b, err := ParseBool(v)
		require.NoError(t, err)
		require.False(t, b)
	}
	_, err := ParseBool("maybe")
	require.Error(t, err)
}
