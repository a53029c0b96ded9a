// Package credstore persists per-user secrets (Git credentials) encrypted
// at rest with a key derived from environment material. Values are never
// logged and never returned in plaintext to any surface other than the
// direct Get caller.
package credstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/noteforge/noteforge/internal/kerrors"
)

// GitTokenName is the credential name kbservice and the /creds command
// surface use for a user's Git host access token; GitUsername itself is
// not a secret and lives on the KBBinding instead.
const GitTokenName = "git_token"

// Store is the encrypted credential store. One process-wide instance is
// shared across services; file-level locking makes it safe across
// processes sharing the same data directory.
type Store struct {
	path string
	lock *flock.Flock
	aead func() (cipherAEAD, error)

	mu sync.Mutex
}

// cipherAEAD is the minimal AEAD surface Store needs; kept as an
// interface so tests can stub it without pulling real key material.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// New creates a Store at path, deriving its encryption key from masterKey
// via HKDF-SHA256. masterKey normally comes from an environment variable
// (e.g. NOTEFORGE_CRED_MASTER_KEY) and is never persisted to disk.
func New(path string, masterKey []byte) (*Store, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("credstore: master key is required")
	}
	key, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
		aead: func() (cipherAEAD, error) {
			return chacha20poly1305.New(key)
		},
	}, nil
}

func deriveKey(masterKey []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, nil, []byte("noteforge-credstore-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("credstore: derive key: %w", err)
	}
	return key, nil
}

type entry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type onDisk struct {
	// Users maps user_id -> name -> encrypted entry.
	Users map[string]map[string]entry `json:"users"`
}

func (s *Store) load() (onDisk, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return onDisk{Users: map[string]map[string]entry{}}, nil
		}
		return onDisk{}, fmt.Errorf("credstore: read: %w", err)
	}
	if len(data) == 0 {
		return onDisk{Users: map[string]map[string]entry{}}, nil
	}
	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		return onDisk{}, fmt.Errorf("credstore: parse: %w", err)
	}
	if d.Users == nil {
		d.Users = map[string]map[string]entry{}
	}
	return d, nil
}

func (s *Store) save(d onDisk) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("credstore: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credstore: write: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func userKey(userID int64) string { return fmt.Sprintf("%d", userID) }

// Set encrypts and stores secret under (userID, name), replacing any
// existing value for that name.
func (s *Store) Set(userID int64, name, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aead, err := s.aead()
	if err != nil {
		return fmt.Errorf("credstore: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("credstore: nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, []byte(secret), []byte(name))

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("credstore: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	uk := userKey(userID)
	if d.Users[uk] == nil {
		d.Users[uk] = map[string]entry{}
	}
	d.Users[uk][name] = entry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return s.save(d)
}

// Get decrypts and returns the secret stored under (userID, name).
func (s *Store) Get(userID int64, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return "", fmt.Errorf("credstore: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return "", err
	}
	e, ok := d.Users[userKey(userID)][name]
	if !ok {
		return "", kerrors.New(kerrors.InputRejected, "no credential with that name")
	}
	nonce, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil {
		return "", fmt.Errorf("credstore: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("credstore: decode ciphertext: %w", err)
	}
	aead, err := s.aead()
	if err != nil {
		return "", fmt.Errorf("credstore: init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", fmt.Errorf("credstore: decrypt failed")
	}
	return string(plaintext), nil
}

// Delete removes a single named credential, or all credentials for
// userID when name is empty.
func (s *Store) Delete(userID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("credstore: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	uk := userKey(userID)
	if name == "" {
		delete(d.Users, uk)
	} else {
		delete(d.Users[uk], name)
	}
	return s.save(d)
}
