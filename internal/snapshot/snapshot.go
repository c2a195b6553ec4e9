// Package snapshot records content digests for the files of the local website
// directory. A persisted snapshot is the durable record of what has already
// been published; the next session diffs the live directory against it.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Absent is the digest reported for a file that could not be opened, usually
// because it was deleted between listing and hashing.
const Absent = ""

// chunkSize is the read size used while hashing.
const chunkSize = 8192

// Snapshot maps an absolute file path to its hex SHA-256 digest.
type Snapshot map[string]string

// Releaser reports whether a file basename is held back until a later time.
// schedule.Schedule satisfies it.
type Releaser interface {
	// HeldAt returns true if name is gated and its release is after asOf.
	HeldAt(name string, asOf time.Time) bool
}

// Compute returns the hex SHA-256 digest of the file at path.
// A file that cannot be opened yields Absent rather than an error.
func Compute(path string) string {
	// #nosec G304 - paths come from a directory listing we control
	f, err := os.Open(path)
	if err != nil {
		return Absent
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return Absent
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotDirectory hashes every immediate child of dir. Subdirectories are
// skipped; the walk is not recursive.
func SnapshotDirectory(dir string) (Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	snap := make(Snapshot, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		snap[path] = Compute(path)
	}
	return snap, nil
}

// Load reads a persisted snapshot. A missing file yields an empty snapshot
// and is created empty on disk so the path is known to be writable.
// An empty path means persistence is disabled and also yields an empty snapshot.
func Load(path string) (Snapshot, error) {
	if path == "" {
		return Snapshot{}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		snap := Snapshot{}
		if err := Save(path, snap); err != nil {
			return nil, err
		}
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	snap := Snapshot{}
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return snap, nil
}

// Save writes the snapshot wholesale, replacing any previous content.
func Save(path string, snap Snapshot) error {
	if snap == nil {
		snap = Snapshot{}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot %s: %w", path, err)
	}
	return nil
}

// Trim removes every entry whose basename is still held back at asOf, so
// that a later session offers those files for upload again. The input is
// not modified.
func Trim(snap Snapshot, r Releaser, asOf time.Time) Snapshot {
	out := make(Snapshot, len(snap))
	for path, digest := range snap {
		if r != nil && r.HeldAt(filepath.Base(path), asOf) {
			continue
		}
		out[path] = digest
	}
	return out
}
