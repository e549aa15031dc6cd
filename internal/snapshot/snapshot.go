// Package snapshot persists per-file content hashes for a codebase and
// computes added/removed/modified sets across runs. The aggregate Merkle
// root is a cheap equality check between two trees.
package snapshot

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/probeshift/codectx/internal/walker"
)

// Changes holds the relative paths that differ from the persisted snapshot.
// The three sets are disjoint.
type Changes struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether no changes were detected.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// fileFormat is the on-disk shape.
type fileFormat struct {
	MerkleRoot string            `json:"merkle_root"`
	Entries    map[string]string `json:"entries"`
}

// Snapshot tracks one codebase root.
type Snapshot struct {
	root string
	path string
	wlk  *walker.Walker
	opts walker.Options

	mu      sync.Mutex
	entries map[string]string
}

// PathFor returns the snapshot file location for a canonical root.
func PathFor(dir, root string) string {
	sum := md5.Sum([]byte(root))
	return filepath.Join(dir, hex.EncodeToString(sum[:])+".json")
}

// Load initializes a Snapshot for root, reading the persisted state if
// present. A corrupt snapshot file is discarded with a warning so the next
// run indexes from scratch.
func Load(dir, root string, wlk *walker.Walker, opts walker.Options) (*Snapshot, error) {
	s := &Snapshot{
		root:    root,
		path:    PathFor(dir, root),
		wlk:     wlk,
		opts:    opts,
		entries: make(map[string]string),
	}

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		var ff fileFormat
		if err := json.Unmarshal(data, &ff); err != nil {
			slog.Warn("discarding corrupt snapshot",
				slog.String("path", s.path),
				slog.String("error", err.Error()))
		} else if ff.Entries != nil {
			s.entries = ff.Entries
		}
	case os.IsNotExist(err):
		// First run for this root.
	default:
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	return s, nil
}

// Delete removes the on-disk snapshot for a root. Missing file is not an
// error.
func Delete(dir, root string) error {
	err := os.Remove(PathFor(dir, root))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a snapshot file is present for root.
func Exists(dir, root string) bool {
	_, err := os.Stat(PathFor(dir, root))
	return err == nil
}

// CheckForChanges walks the root, hashes every present file, and diffs
// against the persisted mapping. On success the in-memory state advances to
// the current tree, so a second call without filesystem mutation reports no
// changes. Unreadable files are skipped with a warning.
func (s *Snapshot) CheckForChanges(ctx context.Context) (Changes, error) {
	files, err := s.wlk.Walk(ctx, s.root, s.opts)
	if err != nil {
		return Changes{}, fmt.Errorf("walk %s: %w", s.root, err)
	}

	current := make(map[string]string, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return Changes{}, err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable file in snapshot diff",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			continue
		}
		sum := sha256.Sum256(data)
		current[rel] = hex.EncodeToString(sum[:])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ch Changes
	for rel, hash := range current {
		prev, ok := s.entries[rel]
		switch {
		case !ok:
			ch.Added = append(ch.Added, rel)
		case prev != hash:
			ch.Modified = append(ch.Modified, rel)
		}
	}
	for rel := range s.entries {
		if _, ok := current[rel]; !ok {
			ch.Removed = append(ch.Removed, rel)
		}
	}

	sort.Strings(ch.Added)
	sort.Strings(ch.Removed)
	sort.Strings(ch.Modified)

	s.entries = current
	return ch, nil
}

// MerkleRoot returns the aggregate hash over the sorted in-memory entries.
func (s *Snapshot) MerkleRoot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return merkleRoot(s.entries)
}

// Len returns the number of tracked files.
func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Commit atomically replaces the on-disk snapshot with the in-memory state.
func (s *Snapshot) Commit() error {
	s.mu.Lock()
	ff := fileFormat{
		MerkleRoot: merkleRoot(s.entries),
		Entries:    s.entries,
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func merkleRoot(entries map[string]string) string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(entries[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
