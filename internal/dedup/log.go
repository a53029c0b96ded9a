// Package dedup implements the processed-event log: an idempotent,
// concurrency-safe record of content fingerprints that have already been
// handled, so a retried delivery of the same grouped batch is a no-op.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// Record is one entry in the dedup log.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	UserID      int64     `json:"user_id"`
	Preview     string    `json:"preview"`
	Timestamp   time.Time `json:"timestamp"`
}

// Log is the on-disk processed-event log. Every mutation is guarded by a
// cross-process advisory file lock so concurrent gateway processes sharing
// the same data directory never race on the read-modify-write cycle.
type Log struct {
	path string
	lock *flock.Flock
}

// New opens (without creating) the processed-event log at path. The file
// is created lazily on first Record call.
func New(path string) *Log {
	return &Log{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

type onDisk struct {
	Records map[string]Record `json:"records"`
}

func (l *Log) load() (onDisk, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return onDisk{Records: map[string]Record{}}, nil
		}
		return onDisk{}, fmt.Errorf("read processed log: %w", err)
	}
	if len(data) == 0 {
		return onDisk{Records: map[string]Record{}}, nil
	}
	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		return onDisk{}, fmt.Errorf("parse processed log: %w", err)
	}
	if d.Records == nil {
		d.Records = map[string]Record{}
	}
	return d, nil
}

func (l *Log) save(d onDisk) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal processed log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create processed log dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write processed log: %w", err)
	}
	return os.Rename(tmp, l.path)
}

// IsProcessed reports whether fingerprint has already been recorded.
func (l *Log) IsProcessed(fingerprint string) (bool, error) {
	if err := l.lock.Lock(); err != nil {
		return false, fmt.Errorf("lock processed log: %w", err)
	}
	defer l.lock.Unlock()

	d, err := l.load()
	if err != nil {
		return false, err
	}
	_, ok := d.Records[fingerprint]
	return ok, nil
}

// Record atomically appends fingerprint if and only if it is not already
// present, under the cross-process lock. Re-recording the same
// fingerprint is a no-op: once recorded, a fingerprint is never
// un-recorded or overwritten.
func (l *Log) Record(fingerprint string, userID int64, preview string, ts time.Time) error {
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock processed log: %w", err)
	}
	defer l.lock.Unlock()

	d, err := l.load()
	if err != nil {
		return err
	}
	if _, exists := d.Records[fingerprint]; exists {
		return nil
	}
	d.Records[fingerprint] = Record{
		Fingerprint: fingerprint,
		UserID:      userID,
		Preview:     preview,
		Timestamp:   ts,
	}
	return l.save(d)
}

// Prune removes records older than ttl. Used by the daily pruning job
// (the processed-event log is pruned on a TTL, default
// 90 days, to bound the dedup log's size without affecting correctness —
// a fingerprint older than the TTL is assumed never to be retried).
func (l *Log) Prune(ttl time.Duration, now time.Time) (int, error) {
	if err := l.lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock processed log: %w", err)
	}
	defer l.lock.Unlock()

	d, err := l.load()
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-ttl)
	removed := 0
	for fp, rec := range d.Records {
		if rec.Timestamp.Before(cutoff) {
			delete(d.Records, fp)
			removed++
		}
	}
	if removed > 0 {
		if err := l.save(d); err != nil {
			return removed, err
		}
		slog.Info("dedup.pruned", "removed", removed, "ttl", ttl.String())
	}
	return removed, nil
}

// Fingerprint computes the deterministic, order-stable content hash used
// as the dedup key: canonicalized texts joined by "\n\n", sorted media
// digests, and an optional forward-source identifier, all SHA-256'd.
func Fingerprint(combinedText string, mediaDigests []string, forwardSource string) string {
	sorted := append([]string(nil), mediaDigests...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(combinedText)))
	h.Write([]byte{0})
	for _, d := range sorted {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	h.Write([]byte(forwardSource))
	return hex.EncodeToString(h.Sum(nil))
}
