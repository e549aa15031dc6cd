package vectorstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	cerr "github.com/probeshift/codectx/internal/errors"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantStore implements Store over a Qdrant gRPC connection.
type QdrantStore struct {
	client         *qdrant.Client
	maxCollections int
}

// QdrantConfig carries connection settings for NewQdrantStore.
type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	MaxCollections int
}

// NewQdrantStore connects to Qdrant and verifies reachability with a
// health check retried under exponential backoff.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, cerr.StoreError("connect", "failed to create qdrant client", err)
	}

	s := &QdrantStore{client: client, maxCollections: cfg.MaxCollections}
	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		_ = client.Close()
		return nil, cerr.StoreError("connect",
			fmt.Sprintf("qdrant unreachable at %s:%d", cfg.Host, cfg.Port), err)
	}
	return s, nil
}

func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		result, err := s.client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if result == nil || result.Title == "" {
			return fmt.Errorf("health check returned invalid response")
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (s *QdrantStore) HasCollection(ctx context.Context, name string) (bool, error) {
	names, err := s.ListCollections(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, cerr.StoreError("connect", "failed to list collections", err)
	}
	return names, nil
}

// CheckCollectionLimit reports whether another collection can still be
// created under the configured ceiling.
func (s *QdrantStore) CheckCollectionLimit(ctx context.Context) (bool, error) {
	if s.maxCollections <= 0 {
		return true, nil
	}
	names, err := s.ListCollections(ctx)
	if err != nil {
		return false, err
	}
	return len(names) < s.maxCollections, nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dim int, description string) error {
	return s.createCollection(ctx, name, dim, false)
}

func (s *QdrantStore) CreateHybridCollection(ctx context.Context, name string, dim int, description string) error {
	return s.createCollection(ctx, name, dim, true)
}

func (s *QdrantStore) createCollection(ctx context.Context, name string, dim int, hybrid bool) error {
	exists, err := s.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return cerr.StoreError("schema",
			fmt.Sprintf("collection %s already exists", name), nil)
	}

	req := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	}
	if hybrid {
		req.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		})
	}

	if err := s.client.CreateCollection(ctx, req); err != nil {
		return cerr.StoreError("schema",
			fmt.Sprintf("failed to create collection %s", name), err)
	}

	// Keyword indexes for the fields queries filter on.
	for _, field := range []string{"relativePath", "fileExtension"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return cerr.StoreError("schema",
				fmt.Sprintf("failed to index field %s on %s", field, name), err)
		}
	}

	return nil
}

func (s *QdrantStore) DropCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return cerr.StoreError("schema",
			fmt.Sprintf("failed to drop collection %s", name), err)
	}
	return nil
}

func (s *QdrantStore) Insert(ctx context.Context, name string, docs []Document) error {
	return s.insert(ctx, name, docs, false)
}

func (s *QdrantStore) InsertHybrid(ctx context.Context, name string, docs []Document) error {
	return s.insert(ctx, name, docs, true)
}

// InsertHybridBatched splits large inserts so a single RPC carries at most
// InsertBatchSize points.
func (s *QdrantStore) InsertHybridBatched(ctx context.Context, name string, docs []Document) error {
	for start := 0; start < len(docs); start += InsertBatchSize {
		end := start + InsertBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.insert(ctx, name, docs[start:end], true); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) insert(ctx context.Context, name string, docs []Document, hybrid bool) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		vectors := map[string]*qdrant.Vector{
			denseVectorName: qdrant.NewVector(doc.Vector...),
		}
		if hybrid {
			sparse := EncodeSparse(doc.Content)
			if !sparse.IsZero() {
				vectors[sparseVectorName] = qdrant.NewVectorSparse(sparse.Indices, sparse.Values)
			}
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(doc.ID)),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(docPayload(doc)),
		}
	}

	return s.upsertWithRetry(ctx, name, points)
}

func (s *QdrantStore) upsertWithRetry(ctx context.Context, name string, points []*qdrant.PointStruct) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
		})
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return cerr.StoreError("insert",
			fmt.Sprintf("failed to upsert %d points into %s", len(points), name), err)
	}
	return nil
}

// Query scrolls the collection for documents matching the filter. No
// vector search is involved.
func (s *QdrantStore) Query(ctx context.Context, name string, filter Filter, limit int) ([]Document, error) {
	var (
		docs   []Document
		offset *qdrant.PointId
	)

	batch := uint32(InsertBatchSize)
	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Filter:         qdrantFilter(filter),
			Limit:          qdrant.PtrOf(batch),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, cerr.StoreError("query",
				fmt.Sprintf("failed to scroll collection %s", name), err)
		}

		for _, point := range results {
			// The offset point opens the next page, so it comes back a
			// second time.
			if isBoundaryPoint(offset, point.Id) {
				continue
			}
			docs = append(docs, payloadDocument(point.Payload))
			if limit > 0 && len(docs) >= limit {
				return docs, nil
			}
		}

		if uint32(len(results)) < batch {
			return docs, nil
		}
		offset = results[len(results)-1].Id
	}
}

// isBoundaryPoint reports whether id is the scroll offset the previous page
// already delivered. Point ids here are always UUIDs.
func isBoundaryPoint(offset, id *qdrant.PointId) bool {
	return offset != nil && id != nil && id.GetUuid() != "" && id.GetUuid() == offset.GetUuid()
}

// Search runs dense similarity search and drops hits below the threshold.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, opts SearchOptions) ([]SearchHit, error) {
	hits, err := s.denseQuery(ctx, name, vector, opts)
	if err != nil {
		return nil, err
	}
	return applyThreshold(hits, opts.Threshold), nil
}

// HybridSearch fuses dense similarity with a sparse keyword query over the
// same collection. The dense threshold applies before fusion so low-quality
// semantic matches cannot ride in on rank alone.
func (s *QdrantStore) HybridSearch(ctx context.Context, name string, vector []float32, queryText string, opts SearchOptions) ([]SearchHit, error) {
	dense, err := s.denseQuery(ctx, name, vector, opts)
	if err != nil {
		return nil, err
	}
	dense = applyThreshold(dense, opts.Threshold)

	sparse := EncodeSparse(queryText)
	var sparseHits []SearchHit
	if !sparse.IsZero() {
		sparseHits, err = s.sparseQuery(ctx, name, sparse, opts)
		if err != nil {
			return nil, err
		}
	}

	fusedHits := FuseRRF(dense, sparseHits, opts.RRFK)
	if opts.TopK > 0 && len(fusedHits) > opts.TopK {
		fusedHits = fusedHits[:opts.TopK]
	}
	return fusedHits, nil
}

func (s *QdrantStore) denseQuery(ctx context.Context, name string, vector []float32, opts SearchOptions) ([]SearchHit, error) {
	using := denseVectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Using:          &using,
		Filter:         qdrantFilterOpt(opts.Filter),
		Limit:          qdrant.PtrOf(uint64(searchLimit(opts))),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerr.StoreError("search",
			fmt.Sprintf("dense search failed on %s", name), err)
	}
	return scoredHits(results), nil
}

func (s *QdrantStore) sparseQuery(ctx context.Context, name string, sparse SparseVector, opts SearchOptions) ([]SearchHit, error) {
	using := sparseVectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
		Using:          &using,
		Filter:         qdrantFilterOpt(opts.Filter),
		Limit:          qdrant.PtrOf(uint64(searchLimit(opts))),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerr.StoreError("search",
			fmt.Sprintf("sparse search failed on %s", name), err)
	}
	return scoredHits(results), nil
}

func (s *QdrantStore) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointUUID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return cerr.StoreError("insert",
			fmt.Sprintf("failed to delete %d points from %s", len(ids), name), err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointUUID derives a stable UUID-shaped point ID from a chunk ID. Qdrant
// only accepts integer or UUID point IDs, so the chunk ID itself lives in
// the payload.
func pointUUID(id string) string {
	sum := md5.Sum([]byte(id))
	h := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

func docPayload(doc Document) map[string]any {
	payload := map[string]any{
		"id":            doc.ID,
		"content":       doc.Content,
		"relativePath":  doc.RelativePath,
		"startLine":     doc.StartLine,
		"endLine":       doc.EndLine,
		"fileExtension": doc.FileExtension,
	}
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	return payload
}

func payloadDocument(payload map[string]*qdrant.Value) Document {
	doc := Document{
		ID:            payload["id"].GetStringValue(),
		Content:       payload["content"].GetStringValue(),
		RelativePath:  payload["relativePath"].GetStringValue(),
		StartLine:     int(payload["startLine"].GetIntegerValue()),
		EndLine:       int(payload["endLine"].GetIntegerValue()),
		FileExtension: payload["fileExtension"].GetStringValue(),
	}

	known := map[string]bool{
		"id": true, "content": true, "relativePath": true,
		"startLine": true, "endLine": true, "fileExtension": true,
	}
	for k, v := range payload {
		if known[k] {
			continue
		}
		if sv := v.GetStringValue(); sv != "" {
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string)
			}
			doc.Metadata[k] = sv
		}
	}
	return doc
}

func scoredHits(results []*qdrant.ScoredPoint) []SearchHit {
	hits := make([]SearchHit, 0, len(results))
	for _, point := range results {
		hits = append(hits, SearchHit{
			Document: payloadDocument(point.Payload),
			Score:    float64(point.Score),
		})
	}
	return hits
}

func applyThreshold(hits []SearchHit, threshold float64) []SearchHit {
	if threshold <= 0 {
		return hits
	}
	kept := hits[:0]
	for _, hit := range hits {
		if hit.Score >= threshold {
			kept = append(kept, hit)
		}
	}
	return kept
}

func searchLimit(opts SearchOptions) int {
	if opts.TopK > 0 {
		return opts.TopK
	}
	return 10
}

func qdrantFilterOpt(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	return qdrantFilter(*f)
}

func qdrantFilter(f Filter) *qdrant.Filter {
	var must, should []*qdrant.Condition
	if f.RelativePath != "" {
		must = append(must, qdrant.NewMatch("relativePath", f.RelativePath))
	}
	for _, ext := range f.Extensions {
		should = append(should, qdrant.NewMatch("fileExtension", ext))
	}
	if must == nil && should == nil {
		return nil
	}
	return &qdrant.Filter{Must: must, Should: should}
}
