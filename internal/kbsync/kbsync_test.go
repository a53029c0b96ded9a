package kbsync

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kbRoot := filepath.Join(dir, "kb")
	m := New(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	release, err := m.Acquire(ctx, kbRoot)
	require.NoError(t, err)
	release()
	release() // idempotent
}

func TestWithLockMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	kbRoot := filepath.Join(dir, "kb")
	m := New(time.Minute)

	var counter int32
	var peak int32
	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = m.WithLock(ctx, kbRoot, func() error {
				n := atomic.AddInt32(&counter, 1)
				if n > atomic.LoadInt32(&peak) {
					atomic.StoreInt32(&peak, n)
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&counter, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	require.EqualValues(t, 1, peak)
}

func TestStaleLockIsRecovered(t *testing.T) {
	dir := t.TempDir()
	kbRoot := filepath.Join(dir, "kb")
	lockPath := filepath.Join(kbRoot, ".sync.lock")
	require.NoError(t, os.MkdirAll(kbRoot, 0o755))

	stale := flock.New(lockPath)
	require.NoError(t, stale.Lock())
	// Simulate a crashed holder: back-date the lock file's mtime beyond staleAfter.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	// Leak the OS-level lock by not unlocking; recovery removes the file.
	m := New(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	release, err := m.Acquire(ctx, kbRoot)
	require.NoError(t, err)
	release()
}

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	dir := t.TempDir()
	kbRoot := filepath.Join(dir, "kb")
	m := New(time.Minute)

	holderCtx := context.Background()
	release, err := m.Acquire(holderCtx, kbRoot)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, kbRoot)
	require.Error(t, err)
}
