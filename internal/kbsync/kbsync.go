// Package kbsync implements the KB Sync Manager: the dual-layer mutual
// exclusion that guards every knowledge-base working copy against
// concurrent mutation, both from goroutines inside this process and from
// other gateway processes sharing the same data directory.
package kbsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/noteforge/noteforge/internal/kerrors"
)

// Manager hands out exclusive access to KB working copies by path. Lock
// acquisition always takes the in-process mutex before the cross-process
// flock. WithLock releases both on every exit path including panics; a
// caller of Acquire releases them by calling the returned Release.
type Manager struct {
	mu         sync.Mutex
	inProcess  map[string]*sync.Mutex
	staleAfter time.Duration
}

func New(staleAfter time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Manager{
		inProcess:  make(map[string]*sync.Mutex),
		staleAfter: staleAfter,
	}
}

func (m *Manager) inProcessMutex(kbRootPath string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.inProcess[kbRootPath]
	if !ok {
		mu = &sync.Mutex{}
		m.inProcess[kbRootPath] = mu
	}
	return mu
}

// Release is returned by Acquire; calling it more than once is a no-op.
type Release func()

// Acquire takes both layers of the lock for kbRootPath, honoring ctx's
// deadline. It blocks on the in-process mutex first (fast, fair within
// this process via Go's runtime queue), then the flock (fair across
// processes via the OS). If the flock file is older than staleAfter and
// its holder's PID is no longer alive, the lock is force-broken before
// retrying — this is best-effort recovery from a crashed gateway process,
// not a guarantee: a live but wedged holder is never force-broken.
func (m *Manager) Acquire(ctx context.Context, kbRootPath string) (Release, error) {
	inProc := m.inProcessMutex(kbRootPath)

	acquired := make(chan struct{})
	go func() {
		inProc.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-ctx.Done():
		go func() { <-acquired; inProc.Unlock() }()
		return nil, kerrors.Wrap(kerrors.Timeout, "kb lock: in-process acquisition timed out", ctx.Err())
	}

	if err := os.MkdirAll(kbRootPath, 0o755); err != nil {
		inProc.Unlock()
		return nil, kerrors.Wrap(kerrors.StorageFailure, "kb lock: create knowledge base root", err)
	}

	lockPath := filepath.Join(kbRootPath, ".sync.lock")
	fl := flock.New(lockPath)

	locked, err := m.tryAcquireFlock(ctx, fl, lockPath)
	if err != nil {
		inProc.Unlock()
		return nil, err
	}
	if !locked {
		inProc.Unlock()
		return nil, kerrors.New(kerrors.Timeout, "kb lock: cross-process acquisition timed out")
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_ = fl.Unlock()
			inProc.Unlock()
		})
	}
	return release, nil
}

func (m *Manager) tryAcquireFlock(ctx context.Context, fl *flock.Flock, lockPath string) (bool, error) {
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return false, kerrors.Wrap(kerrors.StorageFailure, "kb lock: flock attempt failed", err)
		}
		if locked {
			return true, nil
		}

		if stale, err := m.isStale(lockPath); err == nil && stale {
			slog.Warn("kbsync.stale_lock_recovered", "path", lockPath)
			_ = os.Remove(lockPath)
			continue
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (m *Manager) isStale(lockPath string) (bool, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) > m.staleAfter, nil
}

// WithLock runs fn while holding kbRootPath's lock, guaranteeing release
// on return, error, or panic.
func (m *Manager) WithLock(ctx context.Context, kbRootPath string, fn func() error) error {
	release, err := m.Acquire(ctx, kbRootPath)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// ErrDeadlineExceeded is not returned by Acquire, which reports a
// timed-out acquisition as a kerrors.Timeout error.
var ErrDeadlineExceeded = fmt.Errorf("kb lock: deadline exceeded")
