package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	cerr "github.com/probeshift/codectx/internal/errors"
)

// MemoryStore is a process-local Store backed by coder/hnsw graphs. It
// exists for offline use and tests; nothing is persisted.
type MemoryStore struct {
	mu             sync.RWMutex
	collections    map[string]*memoryCollection
	maxCollections int
	closed         bool
}

type memoryCollection struct {
	dim    int
	hybrid bool
	graph  *hnsw.Graph[uint64]

	docs   map[string]Document
	sparse map[string]SparseVector

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// NewMemoryStore creates an empty in-memory store. maxCollections <= 0
// means unlimited.
func NewMemoryStore(maxCollections int) *MemoryStore {
	return &MemoryStore{
		collections:    make(map[string]*memoryCollection),
		maxCollections: maxCollections,
	}
}

func newMemoryCollection(dim int, hybrid bool) *memoryCollection {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20

	return &memoryCollection{
		dim:    dim,
		hybrid: hybrid,
		graph:  graph,
		docs:   make(map[string]Document),
		sparse: make(map[string]SparseVector),
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func (s *MemoryStore) HasCollection(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, cerr.StoreError("connect", "store is closed", nil)
	}
	_, ok := s.collections[name]
	return ok, nil
}

func (s *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cerr.StoreError("connect", "store is closed", nil)
	}
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) CheckCollectionLimit(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, cerr.StoreError("connect", "store is closed", nil)
	}
	if s.maxCollections <= 0 {
		return true, nil
	}
	return len(s.collections) < s.maxCollections, nil
}

func (s *MemoryStore) CreateCollection(_ context.Context, name string, dim int, _ string) error {
	return s.create(name, dim, false)
}

func (s *MemoryStore) CreateHybridCollection(_ context.Context, name string, dim int, _ string) error {
	return s.create(name, dim, true)
}

func (s *MemoryStore) create(name string, dim int, hybrid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cerr.StoreError("connect", "store is closed", nil)
	}
	if _, ok := s.collections[name]; ok {
		return cerr.StoreError("schema",
			fmt.Sprintf("collection %s already exists", name), nil)
	}
	s.collections[name] = newMemoryCollection(dim, hybrid)
	return nil
}

func (s *MemoryStore) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cerr.StoreError("connect", "store is closed", nil)
	}
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) Insert(ctx context.Context, name string, docs []Document) error {
	return s.insert(name, docs)
}

func (s *MemoryStore) InsertHybrid(ctx context.Context, name string, docs []Document) error {
	return s.insert(name, docs)
}

func (s *MemoryStore) InsertHybridBatched(ctx context.Context, name string, docs []Document) error {
	return s.insert(name, docs)
}

func (s *MemoryStore) insert(name string, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(name)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		if len(doc.Vector) != coll.dim {
			return cerr.StoreError("insert",
				fmt.Sprintf("vector has %d dimensions, collection %s expects %d",
					len(doc.Vector), name, coll.dim), nil)
		}
	}

	for _, doc := range docs {
		// Lazy deletion on replace: orphan the old graph node rather than
		// removing it, which coder/hnsw handles badly for the last node.
		if oldKey, ok := coll.idMap[doc.ID]; ok {
			delete(coll.keyMap, oldKey)
		}

		key := coll.nextKey
		coll.nextKey++

		vec := make([]float32, len(doc.Vector))
		copy(vec, doc.Vector)
		normalizeInPlace(vec)

		coll.graph.Add(hnsw.MakeNode(key, vec))
		coll.idMap[doc.ID] = key
		coll.keyMap[key] = doc.ID
		coll.docs[doc.ID] = doc
		if coll.hybrid {
			coll.sparse[doc.ID] = EncodeSparse(doc.Content)
		}
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, name string, filter Filter, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(coll.docs))
	for id := range coll.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var docs []Document
	for _, id := range ids {
		doc := coll.docs[id]
		if !matchesFilter(doc, filter) {
			continue
		}
		docs = append(docs, doc)
		if limit > 0 && len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

func (s *MemoryStore) Search(_ context.Context, name string, vector []float32, opts SearchOptions) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	hits := coll.denseSearch(vector, opts)
	return applyThreshold(hits, opts.Threshold), nil
}

func (s *MemoryStore) HybridSearch(_ context.Context, name string, vector []float32, queryText string, opts SearchOptions) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	dense := applyThreshold(coll.denseSearch(vector, opts), opts.Threshold)
	sparse := coll.sparseSearch(queryText, opts)

	fused := FuseRRF(dense, sparse, opts.RRFK)
	if opts.TopK > 0 && len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	return fused, nil
}

func (s *MemoryStore) Delete(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(name)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if key, ok := coll.idMap[id]; ok {
			delete(coll.keyMap, key)
			delete(coll.idMap, id)
		}
		delete(coll.docs, id)
		delete(coll.sparse, id)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}

func (s *MemoryStore) collection(name string) (*memoryCollection, error) {
	if s.closed {
		return nil, cerr.StoreError("connect", "store is closed", nil)
	}
	coll, ok := s.collections[name]
	if !ok {
		return nil, cerr.StoreError("query",
			fmt.Sprintf("collection %s does not exist", name), nil)
	}
	return coll, nil
}

// denseSearch oversamples the graph because filters and lazy-deleted nodes
// thin out raw results.
func (c *memoryCollection) denseSearch(vector []float32, opts SearchOptions) []SearchHit {
	if c.graph.Len() == 0 {
		return nil
	}

	k := searchLimit(opts)
	oversample := k * 4
	if oversample > c.graph.Len() {
		oversample = c.graph.Len()
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	nodes := c.graph.Search(query, oversample)

	hits := make([]SearchHit, 0, k)
	for _, node := range nodes {
		id, ok := c.keyMap[node.Key]
		if !ok {
			continue
		}
		doc := c.docs[id]
		if opts.Filter != nil && !matchesFilter(doc, *opts.Filter) {
			continue
		}
		// Cosine similarity, matching what Qdrant reports for Cosine
		// distance collections.
		score := 1 - float64(c.graph.Distance(query, node.Value))
		hits = append(hits, SearchHit{Document: doc, Score: score})
		if len(hits) >= k {
			break
		}
	}
	return hits
}

func (c *memoryCollection) sparseSearch(queryText string, opts SearchOptions) []SearchHit {
	if !c.hybrid {
		return nil
	}
	query := EncodeSparse(queryText)
	if query.IsZero() {
		return nil
	}

	var hits []SearchHit
	for id, vec := range c.sparse {
		doc := c.docs[id]
		if opts.Filter != nil && !matchesFilter(doc, *opts.Filter) {
			continue
		}
		score := query.Dot(vec)
		if score <= 0 {
			continue
		}
		hits = append(hits, SearchHit{Document: doc, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})

	if k := searchLimit(opts); len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
