package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(3)
	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(1, 60))
	}
	require.False(t, l.Allow(1, 60))
}

func TestUsersAreIndependent(t *testing.T) {
	l := New(1)
	require.True(t, l.Allow(1, 60))
	require.False(t, l.Allow(1, 60))
	require.True(t, l.Allow(2, 60))
}

func TestZeroOrNegativeRateDisablesLimiting(t *testing.T) {
	l := New(1)
	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(1, 0))
	}
}

func TestResetClearsBucket(t *testing.T) {
	l := New(1)
	require.True(t, l.Allow(1, 60))
	require.False(t, l.Allow(1, 60))
	l.Reset(1)
	require.True(t, l.Allow(1, 60))
}
