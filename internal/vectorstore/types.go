// Package vectorstore defines the collection-based persistence contract for
// chunk documents and provides Qdrant and in-memory backends. Hybrid
// collections carry a dense vector and a deterministic BM25-style sparse
// vector computed from content.
package vectorstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
)

// Collection name prefixes by mode.
const (
	HybridCollectionPrefix = "hybrid_code_chunks"
	DenseCollectionPrefix  = "code_chunks"
)

// InsertBatchSize bounds a single insert RPC.
const InsertBatchSize = 100

// Document is a persisted chunk.
type Document struct {
	ID            string
	Vector        []float32
	Content       string
	RelativePath  string
	StartLine     int
	EndLine       int
	FileExtension string
	// Metadata carries at least codebase_path, language, and chunk_index.
	Metadata map[string]string
}

// SearchHit is one scored search result.
type SearchHit struct {
	Document Document
	Score    float64
}

// Filter narrows query and search scope. Zero fields are inactive.
type Filter struct {
	// RelativePath matches documents of exactly this relative path.
	RelativePath string
	// Extensions keeps documents whose FileExtension is in the list.
	Extensions []string
}

// SearchOptions tunes Search and HybridSearch.
type SearchOptions struct {
	TopK int
	// Threshold drops hits scoring below it when positive.
	Threshold float64
	// RRFK is the reciprocal-rank-fusion constant for hybrid search.
	RRFK int
	// Filter optionally narrows candidates.
	Filter *Filter
}

// Store is the vector store contract. Implementations must be safe for
// concurrent use on different documents and must surface the collection
// limit as the canonical CollectionLimitReached error code.
type Store interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, dim int, description string) error
	CreateHybridCollection(ctx context.Context, name string, dim int, description string) error
	DropCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
	// CheckCollectionLimit returns false without side effects when the
	// backend has reached its collection ceiling.
	CheckCollectionLimit(ctx context.Context) (bool, error)

	Insert(ctx context.Context, name string, docs []Document) error
	InsertHybrid(ctx context.Context, name string, docs []Document) error
	// InsertHybridBatched chunks inserts so a single RPC stays under the
	// backend's per-call size limit.
	InsertHybridBatched(ctx context.Context, name string, docs []Document) error

	Query(ctx context.Context, name string, filter Filter, limit int) ([]Document, error)
	Search(ctx context.Context, name string, vector []float32, opts SearchOptions) ([]SearchHit, error)
	HybridSearch(ctx context.Context, name string, vector []float32, queryText string, opts SearchOptions) ([]SearchHit, error)
	Delete(ctx context.Context, name string, ids []string) error

	Close() error
}

// CollectionName derives the deterministic collection name for a canonical
// root: prefix + "_" + first 8 hex chars of MD5(root). Stable across runs
// for a given path and mode.
func CollectionName(root string, hybrid bool) string {
	prefix := DenseCollectionPrefix
	if hybrid {
		prefix = HybridCollectionPrefix
	}
	sum := md5.Sum([]byte(root))
	return prefix + "_" + hex.EncodeToString(sum[:])[:8]
}

// matchesFilter applies a Filter to a document.
func matchesFilter(doc Document, f Filter) bool {
	if f.RelativePath != "" && doc.RelativePath != f.RelativePath {
		return false
	}
	if len(f.Extensions) > 0 {
		ok := false
		for _, ext := range f.Extensions {
			if doc.FileExtension == ext {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
