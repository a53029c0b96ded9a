package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/noteforge/noteforge/internal/kerrors"
)

// OverlayStore persists per-user setting overrides as a single JSON
// document, file-locked for cross-process safety (mirrors the dedup log's
// read-modify-write discipline).
type OverlayStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex

	// envLookup is injected for testability; defaults to os.Getenv.
	envLookup func(string) string
}

func NewOverlayStore(path string) *OverlayStore {
	return &OverlayStore{
		path:      path,
		lock:      flock.New(path + ".lock"),
		envLookup: os.Getenv,
	}
}

type overlayDoc struct {
	// Users maps user_id -> setting name -> raw typed value.
	Users map[string]map[string]interface{} `json:"users"`
}

func (s *OverlayStore) load() (overlayDoc, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return overlayDoc{Users: map[string]map[string]interface{}{}}, nil
		}
		return overlayDoc{}, fmt.Errorf("overlay: read: %w", err)
	}
	if len(data) == 0 {
		return overlayDoc{Users: map[string]map[string]interface{}{}}, nil
	}
	var d overlayDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return overlayDoc{}, fmt.Errorf("overlay: parse: %w", err)
	}
	if d.Users == nil {
		d.Users = map[string]map[string]interface{}{}
	}
	return d, nil
}

func (s *OverlayStore) save(d overlayDoc) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("overlay: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("overlay: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("overlay: write: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func envVarFor(name string) string { return "NOTEFORGE_" + name }

// Get resolves the effective value of name for userID following the
// precedence order: runtime env var > per-user overlay > global default.
// (The main JSON5 config file tier is already folded into Default()/the
// caller-supplied fallback before it ever reaches here.)
func (s *OverlayStore) Get(userID int64, name string, fallback interface{}) (interface{}, error) {
	spec, ok := Lookup(name)
	if !ok {
		return nil, kerrors.New(kerrors.InputRejected, fmt.Sprintf("unknown setting %q", name))
	}

	if raw := s.envLookup(envVarFor(name)); raw != "" {
		return parseTyped(spec, raw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("overlay: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return nil, err
	}
	if userVals, ok := d.Users[userIDKey(userID)]; ok {
		if v, ok := userVals[name]; ok {
			if f, isFloat := v.(float64); isFloat && spec.Type == TypeInt {
				return int(f), nil
			}
			return v, nil
		}
	}
	return fallback, nil
}

// SetUserOverride validates and persists a typed override for userID,
// rejecting readonly and secret fields outright.
func (s *OverlayStore) SetUserOverride(userID int64, name, rawValue string) error {
	spec, ok := Lookup(name)
	if !ok {
		return kerrors.New(kerrors.InputRejected, fmt.Sprintf("unknown setting %q", name))
	}
	if spec.ReadOnly {
		return kerrors.New(kerrors.InputRejected, fmt.Sprintf("%s is read-only", name))
	}
	if spec.Secret {
		return kerrors.New(kerrors.InputRejected, fmt.Sprintf("%s cannot be set via overlay", name))
	}
	typed, err := parseTyped(spec, rawValue)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("overlay: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	uk := userIDKey(userID)
	if d.Users[uk] == nil {
		d.Users[uk] = map[string]interface{}{}
	}
	d.Users[uk][name] = typed
	return s.save(d)
}

// ResetUserOverride removes a per-user override, reverting to the global
// default on the next Get.
func (s *OverlayStore) ResetUserOverride(userID int64, name string) error {
	spec, ok := Lookup(name)
	if !ok {
		return kerrors.New(kerrors.InputRejected, fmt.Sprintf("unknown setting %q", name))
	}
	if spec.ReadOnly || spec.Secret {
		return kerrors.New(kerrors.InputRejected, fmt.Sprintf("%s cannot be reset via overlay", name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("overlay: lock: %w", err)
	}
	defer s.lock.Unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	delete(d.Users[userIDKey(userID)], name)
	return s.save(d)
}

func userIDKey(userID int64) string { return strconv.FormatInt(userID, 10) }

func parseTyped(spec FieldSpec, raw string) (interface{}, error) {
	switch spec.Type {
	case TypeBool:
		b, err := ParseBool(raw)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.InputRejected, fmt.Sprintf("%s must be a bool", spec.Name), err)
		}
		return b, nil
	case TypeInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.InputRejected, fmt.Sprintf("%s must be an int", spec.Name), err)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.InputRejected, fmt.Sprintf("%s must be a float", spec.Name), err)
		}
		return f, nil
	case TypeEnum:
		for _, v := range spec.EnumVals {
			if v == raw {
				return raw, nil
			}
		}
		return nil, kerrors.New(kerrors.InputRejected, fmt.Sprintf("%s must be one of %s", spec.Name, strings.Join(spec.EnumVals, ", ")))
	case TypeIntList:
		parts := strings.Split(raw, ",")
		vals := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, kerrors.Wrap(kerrors.InputRejected, fmt.Sprintf("%s must be a comma-separated int list", spec.Name), err)
			}
			vals = append(vals, n)
		}
		return vals, nil
	case TypePath, TypeString:
		return raw, nil
	default:
		return raw, nil
	}
}
