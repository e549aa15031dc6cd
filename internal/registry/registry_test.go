package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/probeshift/codectx/internal/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), true)
	require.NoError(t, err)
	return r
}

func TestRegisterLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	root := filepath.Join(string(filepath.Separator), "home", "user", "project")

	require.NoError(t, r.Register(root))

	status, err := r.Status(root)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexing, status)

	require.NoError(t, r.SetIndexing(root, 40))
	require.NoError(t, r.SetIndexed(root, Stats{Files: 12, Chunks: 340}))

	info, err := r.Info(root)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, info.Status)
	assert.Equal(t, float64(100), info.ProgressPercent)
	require.NotNil(t, info.Stats)
	assert.Equal(t, 12, info.Stats.Files)
	assert.NotEmpty(t, info.CollectionName)
}

func TestRegisterTakesOverStrandedIndexing(t *testing.T) {
	r := newTestRegistry(t)
	root := filepath.Join(string(filepath.Separator), "repo")

	require.NoError(t, r.Register(root))
	require.NoError(t, r.SetIndexing(root, 62))

	// A cancelled run leaves the entry in indexing; registering again
	// restarts it from zero.
	require.NoError(t, r.Register(root))
	info, err := r.Info(root)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexing, info.Status)
	assert.Equal(t, float64(0), info.ProgressPercent)
}

func TestRegisterRetriesAfterFailure(t *testing.T) {
	r := newTestRegistry(t)
	root := filepath.Join(string(filepath.Separator), "repo")

	require.NoError(t, r.Register(root))
	require.NoError(t, r.SetIndexFailed(root, "insert failed", 62))

	info, err := r.Info(root)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexFailed, info.Status)
	assert.Equal(t, "insert failed", info.ErrorMessage)
	assert.Equal(t, float64(62), info.LastAttemptedPercent)

	// Failed codebases can be registered again.
	require.NoError(t, r.Register(root))
	status, err := r.Status(root)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexing, status)
}

func TestProgressMonotone(t *testing.T) {
	r := newTestRegistry(t)
	root := filepath.Join(string(filepath.Separator), "repo")

	require.NoError(t, r.Register(root))
	require.NoError(t, r.SetIndexing(root, 50))
	require.NoError(t, r.SetIndexing(root, 30))

	info, err := r.Info(root)
	require.NoError(t, err)
	assert.Equal(t, float64(50), info.ProgressPercent)
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t)
	root := filepath.Join(string(filepath.Separator), "repo")

	require.NoError(t, r.Register(root))
	require.NoError(t, r.Remove(root))

	_, err := r.Status(root)
	require.Error(t, err)
	assert.True(t, cerr.HasCode(err, cerr.ErrCodeNotIndexed))

	err = r.Remove(root)
	assert.True(t, cerr.HasCode(err, cerr.ErrCodeNotIndexed))
}

func TestFindContainingIndex(t *testing.T) {
	r := newTestRegistry(t)
	sep := string(filepath.Separator)
	outer := filepath.Join(sep, "home", "user", "mono")
	inner := filepath.Join(sep, "home", "user", "mono", "services", "api")

	require.NoError(t, r.Register(outer))
	require.NoError(t, r.Register(inner))

	tests := []struct {
		name string
		path string
		want string
		ok   bool
	}{
		{"exact outer", outer, outer, true},
		{"exact inner", inner, inner, true},
		{"under inner resolves to inner", filepath.Join(inner, "handlers"), inner, true},
		{"under outer only", filepath.Join(outer, "lib"), outer, true},
		{"sibling prefix is not containment", outer + "repo", "", false},
		{"unrelated", filepath.Join(sep, "tmp", "x"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.FindContainingIndex(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	sep := string(filepath.Separator)
	done := filepath.Join(sep, "repo-done")
	active := filepath.Join(sep, "repo-active")

	r, err := Load(path, true)
	require.NoError(t, err)
	require.NoError(t, r.Register(done))
	require.NoError(t, r.SetIndexed(done, Stats{Files: 3, Chunks: 40}))
	require.NoError(t, r.Register(active))
	require.NoError(t, r.SetIndexing(active, 25))

	// Disjoint lists on disk.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ff fileFormat
	require.NoError(t, json.Unmarshal(data, &ff))
	assert.Equal(t, fileVersion, ff.Version)
	require.Len(t, ff.Indexes, 1)
	require.Len(t, ff.ActiveIndexing, 1)
	assert.Equal(t, done, ff.Indexes[0].RootPath)
	assert.Equal(t, active, ff.ActiveIndexing[0].RootPath)

	// Fresh load sees the same state.
	r2, err := Load(path, true)
	require.NoError(t, err)
	status, err := r2.Status(done)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, status)
	status, err = r2.Status(active)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexing, status)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path, true)
	require.Error(t, err)
	assert.True(t, cerr.HasCode(err, cerr.ErrCodeRegistryCorrupt))
}

func TestEphemeralRegistryWritesNothing(t *testing.T) {
	r, err := Load("", true)
	require.NoError(t, err)

	root := filepath.Join(string(filepath.Separator), "repo")
	require.NoError(t, r.Register(root))
	require.NoError(t, r.SetIndexed(root, Stats{Files: 1, Chunks: 2}))

	status, err := r.Status(root)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, status)
}

func TestLoadMissingFile(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.json"), true)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestAllByStatus(t *testing.T) {
	r := newTestRegistry(t)
	sep := string(filepath.Separator)

	for _, root := range []string{filepath.Join(sep, "a"), filepath.Join(sep, "b"), filepath.Join(sep, "c")} {
		require.NoError(t, r.Register(root))
	}
	require.NoError(t, r.SetIndexed(filepath.Join(sep, "b"), Stats{}))

	indexed := r.AllIndexed()
	require.Len(t, indexed, 1)
	assert.Equal(t, filepath.Join(sep, "b"), indexed[0].RootPath)

	indexing := r.AllIndexing()
	assert.Len(t, indexing, 2)
	assert.Equal(t, 3, r.Len())
}
