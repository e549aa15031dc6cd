package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/probeshift/codectx/internal/errors"
)

func testDoc(id, path, content string, vec []float32) Document {
	return Document{
		ID:            id,
		Vector:        vec,
		Content:       content,
		RelativePath:  path,
		StartLine:     1,
		EndLine:       10,
		FileExtension: ".go",
		Metadata:      map[string]string{"language": "go"},
	}
}

func TestMemoryStoreCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	exists, err := s.HasCollection(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.CreateHybridCollection(ctx, "c1", 3, ""))
	require.NoError(t, s.CreateCollection(ctx, "c2", 3, ""))

	// Creating an existing collection is an error; it must be dropped
	// first.
	err = s.CreateHybridCollection(ctx, "c1", 3, "")
	require.Error(t, err)
	assert.True(t, cerr.HasCode(err, cerr.ErrCodeStoreSchema))

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, names)

	require.NoError(t, s.DropCollection(ctx, "c1"))
	exists, err = s.HasCollection(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.CreateHybridCollection(ctx, "c1", 3, ""))
}

func TestMemoryStoreCollectionLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	ok, err := s.CheckCollectionLimit(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.CreateCollection(ctx, "a", 3, ""))
	require.NoError(t, s.CreateCollection(ctx, "b", 3, ""))

	ok, err = s.CheckCollectionLimit(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreInsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateCollection(ctx, "c", 3, ""))

	err := s.Insert(ctx, "c", []Document{testDoc("chunk_1", "a.go", "x", []float32{1, 0})})
	require.Error(t, err)
	assert.True(t, cerr.HasCode(err, cerr.ErrCodeStoreInsert))
}

func TestMemoryStoreSearchRanksNearestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateCollection(ctx, "c", 3, ""))

	docs := []Document{
		testDoc("chunk_a", "a.go", "alpha", []float32{1, 0, 0}),
		testDoc("chunk_b", "b.go", "beta", []float32{0, 1, 0}),
		testDoc("chunk_c", "c.go", "gamma", []float32{0.9, 0.1, 0}),
	}
	require.NoError(t, s.Insert(ctx, "c", docs))

	hits, err := s.Search(ctx, "c", []float32{1, 0, 0}, SearchOptions{TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "chunk_a", hits[0].Document.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestMemoryStoreSearchThreshold(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateCollection(ctx, "c", 2, ""))

	docs := []Document{
		testDoc("chunk_near", "a.go", "near", []float32{1, 0}),
		testDoc("chunk_far", "b.go", "far", []float32{-1, 0}),
	}
	require.NoError(t, s.Insert(ctx, "c", docs))

	hits, err := s.Search(ctx, "c", []float32{1, 0}, SearchOptions{TopK: 10, Threshold: 0.3})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "chunk_near", hits[0].Document.ID)
}

func TestMemoryStoreSearchExtensionFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateCollection(ctx, "c", 2, ""))

	py := testDoc("chunk_py", "a.py", "python", []float32{1, 0})
	py.FileExtension = ".py"
	goDoc := testDoc("chunk_go", "a.go", "golang", []float32{0.99, 0.01})

	require.NoError(t, s.Insert(ctx, "c", []Document{py, goDoc}))

	hits, err := s.Search(ctx, "c", []float32{1, 0}, SearchOptions{
		TopK:   10,
		Filter: &Filter{Extensions: []string{".py"}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "chunk_py", hits[0].Document.ID)
}

func TestMemoryStoreHybridSearchKeywordBoost(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateHybridCollection(ctx, "c", 2, ""))

	// Both docs equally close in dense space; keywords decide the order.
	docs := []Document{
		testDoc("chunk_auth", "auth.go", "func validateAuthToken(token string) error", []float32{1, 0}),
		testDoc("chunk_misc", "misc.go", "func formatOutput(w io.Writer) error", []float32{1, 0}),
	}
	require.NoError(t, s.InsertHybridBatched(ctx, "c", docs))

	hits, err := s.HybridSearch(ctx, "c", []float32{1, 0}, "validate auth token", SearchOptions{TopK: 2, RRFK: 60})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "chunk_auth", hits[0].Document.ID)
}

func TestMemoryStoreQueryByRelativePath(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateCollection(ctx, "c", 2, ""))

	docs := []Document{
		testDoc("chunk_1", "pkg/a.go", "one", []float32{1, 0}),
		testDoc("chunk_2", "pkg/a.go", "two", []float32{0, 1}),
		testDoc("chunk_3", "pkg/b.go", "three", []float32{1, 1}),
	}
	require.NoError(t, s.Insert(ctx, "c", docs))

	got, err := s.Query(ctx, "c", Filter{RelativePath: "pkg/a.go"}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, "c", Filter{RelativePath: "pkg/a.go"}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateCollection(ctx, "c", 2, ""))

	require.NoError(t, s.Insert(ctx, "c", []Document{
		testDoc("chunk_1", "a.go", "one", []float32{1, 0}),
		testDoc("chunk_2", "b.go", "two", []float32{0, 1}),
	}))

	require.NoError(t, s.Delete(ctx, "c", []string{"chunk_1"}))

	got, err := s.Query(ctx, "c", Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "chunk_2", got[0].ID)

	hits, err := s.Search(ctx, "c", []float32{1, 0}, SearchOptions{TopK: 5})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "chunk_1", h.Document.ID)
	}
}

func TestMemoryStoreReinsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateCollection(ctx, "c", 2, ""))

	doc := testDoc("chunk_1", "a.go", "v1", []float32{1, 0})
	require.NoError(t, s.Insert(ctx, "c", []Document{doc}))

	doc.Content = "v2"
	doc.Vector = []float32{0, 1}
	require.NoError(t, s.Insert(ctx, "c", []Document{doc}))

	got, err := s.Query(ctx, "c", Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].Content)
}

func TestMemoryStoreMissingCollection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_, err := s.Search(ctx, "nope", []float32{1}, SearchOptions{TopK: 1})
	require.Error(t, err)
	assert.True(t, cerr.HasCode(err, cerr.ErrCodeStoreQuery))
}

func TestCollectionNameDeterministic(t *testing.T) {
	a := CollectionName("/home/user/project", true)
	b := CollectionName("/home/user/project", true)
	assert.Equal(t, a, b)

	assert.True(t, len(a) == len(HybridCollectionPrefix)+1+8, "got %q", a)
	assert.Contains(t, a, HybridCollectionPrefix+"_")

	dense := CollectionName("/home/user/project", false)
	assert.Contains(t, dense, DenseCollectionPrefix+"_")
	assert.NotEqual(t, a, dense)

	other := CollectionName("/home/user/other", true)
	assert.NotEqual(t, a, other)
}

func TestPointUUIDShape(t *testing.T) {
	u := pointUUID("chunk_0123456789abcdef")
	assert.Len(t, u, 36)
	assert.Equal(t, u, pointUUID("chunk_0123456789abcdef"))
	assert.NotEqual(t, u, pointUUID("chunk_fedcba9876543210"))

	for i, r := range u {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			assert.Equal(t, '-', r, fmt.Sprintf("position %d", i))
		}
	}
}
