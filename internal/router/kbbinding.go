package router

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofrs/flock"

	"github.com/noteforge/noteforge/internal/kerrors"
)

// KBKind distinguishes a knowledge base cloned from a remote Git host from
// one that only ever lives on local disk.
type KBKind string

const (
	KBKindLocal  KBKind = "local"
	KBKindRemote KBKind = "remote"
)

// KBBinding is the knowledge base currently bound to a
// user, resolved once per message group by kbservice before it ever
// touches the filesystem or git.
type KBBinding struct {
	KBName      string `json:"kb_name"`
	KBRootPath  string `json:"kb_root_path"`
	KBKind      KBKind `json:"kb_kind"`
	RemoteURL   string `json:"remote_url,omitempty"`
	GitUsername string `json:"git_username,omitempty"`
}

// BindingStore persists KBBinding values as a single JSON document, file-locked
// the same way the dedup log and settings overlay are, so every gateway
// process sharing the data directory sees the same bindings.
type BindingStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

func NewBindingStore(path string) *BindingStore {
	return &BindingStore{path: path, lock: flock.New(path + ".lock")}
}

type bindingDoc struct {
	Users map[string]KBBinding `json:"users"`
}

func (s *BindingStore) load() (bindingDoc, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return bindingDoc{Users: map[string]KBBinding{}}, nil
		}
		return bindingDoc{}, fmt.Errorf("kbbinding: read: %w", err)
	}
	if len(data) == 0 {
		return bindingDoc{Users: map[string]KBBinding{}}, nil
	}
	var d bindingDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return bindingDoc{}, fmt.Errorf("kbbinding: parse: %w", err)
	}
	if d.Users == nil {
		d.Users = map[string]KBBinding{}
	}
	return d, nil
}

func (s *BindingStore) save(d bindingDoc) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("kbbinding: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("kbbinding: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("kbbinding: write: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func bindingUserKey(userID int64) string { return strconv.FormatInt(userID, 10) }

// Get returns userID's current binding. ok is false (and the zero value is
// returned) when the user has never bound a knowledge base.
func (s *BindingStore) Get(userID int64) (binding KBBinding, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return KBBinding{}, false, fmt.Errorf("kbbinding: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return KBBinding{}, false, err
	}
	b, ok := d.Users[bindingUserKey(userID)]
	return b, ok, nil
}

// MustGet is Get plus the KBUnbound error mapping handlers and kbservice
// both need when a user issues a command that requires a bound KB.
func (s *BindingStore) MustGet(userID int64) (KBBinding, error) {
	b, ok, err := s.Get(userID)
	if err != nil {
		return KBBinding{}, err
	}
	if !ok {
		return KBBinding{}, kerrors.New(kerrors.KBUnbound, "no knowledge base bound")
	}
	return b, nil
}

// Set binds userID to binding, replacing any prior binding outright.
func (s *BindingStore) Set(userID int64, binding KBBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("kbbinding: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	d.Users[bindingUserKey(userID)] = binding
	return s.save(d)
}

// Unset removes userID's binding entirely.
func (s *BindingStore) Unset(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("kbbinding: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	delete(d.Users, bindingUserKey(userID))
	return s.save(d)
}
