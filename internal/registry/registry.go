// Package registry tracks the lifecycle of every indexed codebase and
// persists it to a single JSON file rewritten atomically on change.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	cerr "github.com/probeshift/codectx/internal/errors"
	"github.com/probeshift/codectx/internal/vectorstore"
)

// fileVersion is bumped when the on-disk shape changes incompatibly.
const fileVersion = 1

// Status is the lifecycle state of a codebase.
type Status string

const (
	StatusIndexing    Status = "indexing"
	StatusIndexed     Status = "indexed"
	StatusIndexFailed Status = "indexfailed"
)

// Stats summarizes a completed index run.
type Stats struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// Codebase is one registered root and its state.
type Codebase struct {
	RootPath             string  `json:"root_path"`
	Status               Status  `json:"status"`
	ProgressPercent      float64 `json:"progress_percent"`
	LastUpdatedMS        int64   `json:"last_updated_ms"`
	Stats                *Stats  `json:"stats,omitempty"`
	ErrorMessage         string  `json:"error_message,omitempty"`
	LastAttemptedPercent float64 `json:"last_attempted_percent,omitempty"`
	CollectionName       string  `json:"collection_name"`
}

// fileFormat keeps indexed and in-progress entries in disjoint lists.
type fileFormat struct {
	Version        int        `json:"version"`
	LastUpdatedMS  int64      `json:"last_updated_ms"`
	Indexes        []Codebase `json:"indexes"`
	ActiveIndexing []Codebase `json:"activeIndexing"`
}

// Registry is the in-memory root → Codebase map with durable backing.
// A single mutex serializes mutations; every mutation flushes.
type Registry struct {
	mu      sync.Mutex
	path    string
	hybrid  bool
	entries map[string]*Codebase
}

// Load reads the registry file at path, creating an empty registry when the
// file does not exist. A corrupt file is a hard error: silently starting
// fresh would orphan collections in the store. An empty path keeps the
// registry purely in memory, for store backends whose collections do not
// outlive the process.
func Load(path string, hybrid bool) (*Registry, error) {
	r := &Registry{
		path:    path,
		hybrid:  hybrid,
		entries: make(map[string]*Codebase),
	}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeRegistryCorrupt, "failed to read registry file", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, cerr.New(cerr.ErrCodeRegistryCorrupt,
			fmt.Sprintf("registry file %s is not valid JSON", path), err)
	}

	for _, list := range [][]Codebase{ff.Indexes, ff.ActiveIndexing} {
		for i := range list {
			cb := list[i]
			r.entries[cb.RootPath] = &cb
		}
	}
	return r, nil
}

// Register transitions a root into the indexing state. Re-registering an
// existing entry restarts it from zero, whatever its state: the registry
// records intent, while the per-root lock file decides whether a run is
// actually live, so an entry stranded in indexing by a cancelled or
// crashed run can be taken over.
func (r *Registry) Register(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	collection := vectorstore.CollectionName(root, r.hybrid)
	for other, cb := range r.entries {
		if other != root && cb.CollectionName == collection {
			return cerr.New(cerr.ErrCodeInternal,
				fmt.Sprintf("collection name collision between %s and %s", root, other), nil)
		}
	}

	r.entries[root] = &Codebase{
		RootPath:       root,
		Status:         StatusIndexing,
		LastUpdatedMS:  nowMS(),
		CollectionName: collection,
	}
	r.flushLocked()
	return nil
}

// SetIndexing updates progress. Percent never moves backwards.
func (r *Registry) SetIndexing(root string, percent float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, err := r.get(root)
	if err != nil {
		return err
	}
	cb.Status = StatusIndexing
	if percent > cb.ProgressPercent {
		cb.ProgressPercent = percent
	}
	cb.LastUpdatedMS = nowMS()
	r.flushLocked()
	return nil
}

func (r *Registry) SetIndexed(root string, stats Stats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, err := r.get(root)
	if err != nil {
		return err
	}
	cb.Status = StatusIndexed
	cb.ProgressPercent = 100
	cb.Stats = &stats
	cb.ErrorMessage = ""
	cb.LastAttemptedPercent = 0
	cb.LastUpdatedMS = nowMS()
	r.flushLocked()
	return nil
}

func (r *Registry) SetIndexFailed(root string, message string, lastPercent float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, err := r.get(root)
	if err != nil {
		return err
	}
	cb.Status = StatusIndexFailed
	cb.ErrorMessage = message
	cb.LastAttemptedPercent = lastPercent
	cb.LastUpdatedMS = nowMS()
	r.flushLocked()
	return nil
}

func (r *Registry) Remove(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[root]; !ok {
		return notIndexed(root)
	}
	delete(r.entries, root)
	r.flushLocked()
	return nil
}

func (r *Registry) Status(root string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, err := r.get(root)
	if err != nil {
		return "", err
	}
	return cb.Status, nil
}

// Info returns a copy of the codebase record.
func (r *Registry) Info(root string) (Codebase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, err := r.get(root)
	if err != nil {
		return Codebase{}, err
	}
	return *cb, nil
}

func (r *Registry) AllIndexed() []Codebase {
	return r.byStatus(StatusIndexed)
}

func (r *Registry) AllIndexing() []Codebase {
	return r.byStatus(StatusIndexing)
}

// All returns every registered codebase sorted by root path.
func (r *Registry) All() []Codebase {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Codebase, 0, len(r.entries))
	for _, cb := range r.entries {
		out = append(out, *cb)
	}
	sortByRoot(out)
	return out
}

// Len reports the number of registered codebases.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// FindContainingIndex resolves a path to the registered root that contains
// it. The longest matching root wins so nested registrations resolve to the
// nearest ancestor.
func (r *Registry) FindContainingIndex(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best string
	for root := range r.entries {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if len(root) > len(best) {
			best = root
		}
	}
	return best, best != ""
}

func (r *Registry) byStatus(status Status) []Codebase {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Codebase
	for _, cb := range r.entries {
		if cb.Status == status {
			out = append(out, *cb)
		}
	}
	sortByRoot(out)
	return out
}

func (r *Registry) get(root string) (*Codebase, error) {
	cb, ok := r.entries[root]
	if !ok {
		return nil, notIndexed(root)
	}
	return cb, nil
}

// flushLocked persists the current state. A failed write is retried once
// and then logged; the in-memory state stays authoritative either way.
func (r *Registry) flushLocked() {
	if err := r.write(); err != nil {
		if err = r.write(); err != nil {
			slog.Warn("failed to persist registry",
				slog.String("path", r.path),
				slog.String("error", err.Error()))
		}
	}
}

// write serializes to a unique temp file and renames it into place. An
// advisory flock guards against interleaved writers from other processes
// on the same file.
func (r *Registry) write() error {
	if r.path == "" {
		return nil
	}
	ff := fileFormat{
		Version:       fileVersion,
		LastUpdatedMS: nowMS(),
	}
	for _, cb := range r.entries {
		if cb.Status == StatusIndexed {
			ff.Indexes = append(ff.Indexes, *cb)
		} else {
			ff.ActiveIndexing = append(ff.ActiveIndexing, *cb)
		}
	}
	sortByRoot(ff.Indexes)
	sortByRoot(ff.ActiveIndexing)

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}

	guard := flock.New(r.path + ".flock")
	if err := guard.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := guard.Unlock(); err != nil {
			slog.Warn("failed to release registry flock", slog.String("error", err.Error()))
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".registry-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func notIndexed(root string) error {
	return cerr.New(cerr.ErrCodeNotIndexed,
		fmt.Sprintf("codebase %s is not indexed", root), nil)
}

func sortByRoot(list []Codebase) {
	sort.Slice(list, func(i, j int) bool { return list[i].RootPath < list[j].RootPath })
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
