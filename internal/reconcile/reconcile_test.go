package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeshift/codectx/internal/config"
	"github.com/probeshift/codectx/internal/embed"
	"github.com/probeshift/codectx/internal/ignore"
	"github.com/probeshift/codectx/internal/lockfile"
	"github.com/probeshift/codectx/internal/pipeline"
	"github.com/probeshift/codectx/internal/registry"
	"github.com/probeshift/codectx/internal/snapshot"
	"github.com/probeshift/codectx/internal/splitter"
	"github.com/probeshift/codectx/internal/vectorstore"
	"github.com/probeshift/codectx/internal/walker"
)

type stubProvider struct{}

func (stubProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t)), 1, 0}
	}
	return vecs, nil
}

func (stubProvider) ProviderName() string { return "stub" }
func (stubProvider) MaxSingleBatch() int  { return 8 }
func (stubProvider) MaxTokens() int       { return 8192 }

type env struct {
	cfg   *config.Config
	reg   *registry.Registry
	store *vectorstore.MemoryStore
	pipe  *pipeline.Pipeline
	rec   *Reconciler
	root  string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	reg, err := registry.Load(cfg.RegistryPath(), true)
	require.NoError(t, err)

	store := vectorstore.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	wlk := walker.New(ignore.NewResolver("", nil))
	pipe := pipeline.New(cfg, wlk, splitter.New(), embed.NewClient(stubProvider{}, 0), store)
	locks := lockfile.NewManager(cfg.LockDir())

	return &env{
		cfg:   cfg,
		reg:   reg,
		store: store,
		pipe:  pipe,
		rec:   New(cfg, reg, pipe, store, locks),
		root:  t.TempDir(),
	}
}

func (e *env) indexRoot(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	collection := vectorstore.CollectionName(e.root, true)
	require.NoError(t, e.store.CreateHybridCollection(ctx, collection, 3, ""))
	require.NoError(t, e.reg.Register(e.root))

	_, err := e.pipe.Index(ctx, e.root, collection, pipeline.Options{Hybrid: true})
	require.NoError(t, err)
	require.NoError(t, e.reg.SetIndexed(e.root, registry.Stats{Files: 1, Chunks: 1}))
	return collection
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunOncePicksUpChanges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	writeFile(t, e.root, "a.go", "package a\n\nfunc A() {}\n")
	collection := e.indexRoot(t)

	writeFile(t, e.root, "b.go", "package a\n\nfunc B() {}\n")

	e.rec.RunOnce(ctx)

	docs, err := e.store.Query(ctx, collection, vectorstore.Filter{RelativePath: "b.go"}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, docs)
}

func TestRunOnceSkipsIndexingCodebases(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	writeFile(t, e.root, "a.go", "package a\n")
	require.NoError(t, e.reg.Register(e.root))

	// Still indexing: the reconciler must leave it alone.
	e.rec.RunOnce(ctx)

	collection := vectorstore.CollectionName(e.root, true)
	exists, err := e.store.HasCollection(ctx, collection)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunOnceMissingRootSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	writeFile(t, e.root, "a.go", "package a\n")
	collection := e.indexRoot(t)

	require.NoError(t, os.RemoveAll(e.root))

	// Must not panic, must not remove the registry entry or the collection.
	e.rec.RunOnce(ctx)

	status, err := e.reg.Status(e.root)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusIndexed, status)

	exists, err := e.store.HasCollection(ctx, collection)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunOnceMissingCollectionDeletesSnapshot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	writeFile(t, e.root, "a.go", "package a\n")
	collection := e.indexRoot(t)
	require.True(t, snapshot.Exists(e.cfg.SnapshotDir(), e.root))

	// Simulate external deletion of the collection.
	require.NoError(t, e.store.DropCollection(ctx, collection))

	e.rec.RunOnce(ctx)

	assert.False(t, snapshot.Exists(e.cfg.SnapshotDir(), e.root))
}

func TestBackgroundLoopStopsOnEmptyRegistry(t *testing.T) {
	e := newEnv(t)
	e.rec.SetCadence(20*time.Millisecond, 5*time.Millisecond)

	e.rec.Start(context.Background())

	// Empty registry: the loop exits on its first tick.
	assert.Eventually(t, func() bool {
		e.rec.mu.Lock()
		defer e.rec.mu.Unlock()
		return e.rec.cancel == nil
	}, time.Second, 10*time.Millisecond)

	e.rec.Stop()
}

func TestBackgroundLoopReconciles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	writeFile(t, e.root, "a.go", "package a\n\nfunc A() {}\n")
	collection := e.indexRoot(t)
	writeFile(t, e.root, "b.go", "package a\n\nfunc B() {}\n")

	e.rec.SetCadence(50*time.Millisecond, 5*time.Millisecond)
	e.rec.Start(ctx)
	defer e.rec.Stop()

	assert.Eventually(t, func() bool {
		docs, err := e.store.Query(ctx, collection, vectorstore.Filter{RelativePath: "b.go"}, 0)
		return err == nil && len(docs) > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.rec.SetCadence(time.Hour, time.Hour)

	e.rec.Start(context.Background())
	e.rec.Start(context.Background())
	e.rec.Stop()
}
