package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeshift/codectx/internal/config"
	"github.com/probeshift/codectx/internal/embed"
	cerr "github.com/probeshift/codectx/internal/errors"
	"github.com/probeshift/codectx/internal/registry"
	"github.com/probeshift/codectx/internal/vectorstore"
)

// stubProvider maps known texts to fixed unit vectors so similarity is
// controllable from the test.
type stubProvider struct {
	vectors map[string][]float32
}

func (p *stubProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := p.vectors[t]; ok {
			vecs[i] = v
		} else {
			vecs[i] = []float32{0, 0, 1}
		}
	}
	return vecs, nil
}

func (p *stubProvider) ProviderName() string { return "stub" }
func (p *stubProvider) MaxSingleBatch() int  { return 8 }
func (p *stubProvider) MaxTokens() int       { return 8192 }

type env struct {
	cfg    *config.Config
	reg    *registry.Registry
	store  *vectorstore.MemoryStore
	router *Router
	root   string
	coll   string
}

func newEnv(t *testing.T, hybrid bool) *env {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Indexing.HybridMode = hybrid

	reg, err := registry.Load(cfg.RegistryPath(), hybrid)
	require.NoError(t, err)

	store := vectorstore.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	provider := &stubProvider{vectors: map[string][]float32{
		"auth query": {1, 0, 0},
	}}

	root := t.TempDir()
	coll := vectorstore.CollectionName(root, hybrid)
	if hybrid {
		require.NoError(t, store.CreateHybridCollection(ctx, coll, 3, ""))
	} else {
		require.NoError(t, store.CreateCollection(ctx, coll, 3, ""))
	}
	require.NoError(t, reg.Register(root))
	require.NoError(t, reg.SetIndexed(root, registry.Stats{Files: 2, Chunks: 2}))

	return &env{
		cfg:    cfg,
		reg:    reg,
		store:  store,
		router: New(cfg, reg, embed.NewClient(provider, 0), store),
		root:   root,
		coll:   coll,
	}
}

func (e *env) seed(t *testing.T, docs ...vectorstore.Document) {
	t.Helper()
	require.NoError(t, e.store.InsertHybrid(context.Background(), e.coll, docs))
}

func doc(id, rel, content string, vec []float32) vectorstore.Document {
	return vectorstore.Document{
		ID:            id,
		Vector:        vec,
		Content:       content,
		RelativePath:  rel,
		StartLine:     1,
		EndLine:       5,
		FileExtension: filepath.Ext(rel),
		Metadata:      map[string]string{"language": "go"},
	}
}

func TestSearchDense(t *testing.T) {
	e := newEnv(t, false)

	e.seed(t,
		doc("chunk_auth", "auth/token.go", "func ValidateToken() {}", []float32{1, 0, 0}),
		doc("chunk_far", "misc/far.go", "func Unrelated() {}", []float32{-1, 0, 0}),
	)

	hits, err := e.router.Search(context.Background(), e.root, "auth query", Options{TopK: 10})
	require.NoError(t, err)

	// The opposite vector scores below the default threshold.
	require.Len(t, hits, 1)
	assert.Equal(t, "auth/token.go", hits[0].RelativePath)
	assert.Equal(t, "go", hits[0].Language)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestSearchHybrid(t *testing.T) {
	e := newEnv(t, true)

	e.seed(t,
		doc("chunk_a", "a.go", "func validateAuthToken() error { return nil }", []float32{1, 0, 0}),
		doc("chunk_b", "b.go", "func renderTemplate() error { return nil }", []float32{1, 0, 0}),
	)

	hits, err := e.router.Search(context.Background(), e.root, "auth query", Options{TopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a.go", hits[0].RelativePath)
}

func TestSearchNotIndexed(t *testing.T) {
	e := newEnv(t, false)

	_, err := e.router.Search(context.Background(), filepath.Join(t.TempDir(), "elsewhere"), "auth query", Options{TopK: 5})
	require.Error(t, err)
	assert.True(t, cerr.HasCode(err, cerr.ErrCodeNotIndexed))
}

func TestSearchCollectionMissing(t *testing.T) {
	e := newEnv(t, false)

	require.NoError(t, e.store.DropCollection(context.Background(), e.coll))

	_, err := e.router.Search(context.Background(), e.root, "auth query", Options{TopK: 5})
	require.Error(t, err)
	assert.True(t, cerr.HasCode(err, cerr.ErrCodeCollectionMissing))
}

func TestSearchSubtreePostFilter(t *testing.T) {
	e := newEnv(t, false)

	e.seed(t,
		doc("chunk_in", "pkg/auth/token.go", "token", []float32{1, 0, 0}),
		doc("chunk_out", "pkg/web/render.go", "render", []float32{0.9, 0.1, 0}),
	)

	subtree := filepath.Join(e.root, "pkg", "auth")
	hits, err := e.router.Search(context.Background(), subtree, "auth query", Options{TopK: 10})
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, "pkg/auth/token.go", hits[0].RelativePath)
}

func TestSearchExtensionFilter(t *testing.T) {
	e := newEnv(t, false)

	e.seed(t,
		doc("chunk_go", "a.go", "golang", []float32{1, 0, 0}),
		doc("chunk_py", "a.py", "python", []float32{0.95, 0, 0}),
	)

	hits, err := e.router.Search(context.Background(), e.root, "auth query", Options{
		TopK:       10,
		Extensions: []string{"py"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.py", hits[0].RelativePath)
}

func TestSearchThresholdOverride(t *testing.T) {
	e := newEnv(t, false)

	e.seed(t,
		doc("chunk_a", "a.go", "alpha", []float32{1, 0, 0}),
		doc("chunk_b", "b.go", "beta", []float32{-1, 0, 0}),
	)

	zero := 0.0
	hits, err := e.router.Search(context.Background(), e.root, "auth query", Options{
		TopK:      10,
		Threshold: &zero,
	})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestNormalizeExtensions(t *testing.T) {
	assert.Equal(t, []string{".go", ".py", ".ts"}, normalizeExtensions([]string{"go", ".py", " TS "}))
	assert.Empty(t, normalizeExtensions([]string{"", "  "}))
}
