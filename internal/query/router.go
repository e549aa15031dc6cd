// Package query resolves a search path to its owning indexed collection
// and runs dense or hybrid retrieval against it.
package query

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/probeshift/codectx/internal/config"
	"github.com/probeshift/codectx/internal/embed"
	cerr "github.com/probeshift/codectx/internal/errors"
	"github.com/probeshift/codectx/internal/registry"
	"github.com/probeshift/codectx/internal/vectorstore"
)

// DefaultThreshold drops hits scoring below it unless overridden.
const DefaultThreshold = 0.3

// Hit is one ranked search result.
type Hit struct {
	RelativePath string  `json:"relative_path"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	Language     string  `json:"language"`
	Score        float64 `json:"score"`
	Content      string  `json:"content"`
}

// Options tunes a single search.
type Options struct {
	TopK int
	// Threshold overrides DefaultThreshold when non-nil.
	Threshold *float64
	// Extensions restricts hits to the given file extensions.
	Extensions []string
}

// Router routes searches through the registry to the vector store.
type Router struct {
	cfg      *config.Config
	reg      *registry.Registry
	embedder *embed.Client
	store    vectorstore.Store
}

// New creates a Router.
func New(cfg *config.Config, reg *registry.Registry, embedder *embed.Client, store vectorstore.Store) *Router {
	return &Router{cfg: cfg, reg: reg, embedder: embedder, store: store}
}

// Search embeds the query and retrieves the best-matching chunks for path.
// Hybrid mode comes from configuration. When path is a subtree of the
// indexed root, hits outside the subtree are filtered out.
func (r *Router) Search(ctx context.Context, path, queryText string, opts Options) ([]Hit, error) {
	path = filepath.Clean(path)

	root, ok := r.reg.FindContainingIndex(path)
	if !ok {
		return nil, cerr.New(cerr.ErrCodeNotIndexed,
			fmt.Sprintf("no indexed codebase contains %s", path), nil)
	}

	info, err := r.reg.Info(root)
	if err != nil {
		return nil, err
	}

	exists, err := r.store.HasCollection(ctx, info.CollectionName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, cerr.New(cerr.ErrCodeCollectionMissing,
			fmt.Sprintf("collection %s for %s no longer exists; re-index to restore it",
				info.CollectionName, root), nil)
	}

	vector, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	threshold := DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	searchOpts := vectorstore.SearchOptions{
		TopK:      opts.TopK,
		Threshold: threshold,
		RRFK:      r.cfg.Search.RRFK,
	}
	if len(opts.Extensions) > 0 {
		searchOpts.Filter = &vectorstore.Filter{Extensions: normalizeExtensions(opts.Extensions)}
	}

	var hits []vectorstore.SearchHit
	if r.cfg.Indexing.HybridMode {
		hits, err = r.store.HybridSearch(ctx, info.CollectionName, vector, queryText, searchOpts)
	} else {
		hits, err = r.store.Search(ctx, info.CollectionName, vector, searchOpts)
	}
	if err != nil {
		return nil, err
	}

	if path != root {
		hits = filterSubtree(hits, root, path)
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, Hit{
			RelativePath: h.Document.RelativePath,
			StartLine:    h.Document.StartLine,
			EndLine:      h.Document.EndLine,
			Language:     h.Document.Metadata["language"],
			Score:        h.Score,
			Content:      h.Document.Content,
		})
	}
	return out, nil
}

// filterSubtree keeps hits whose absolute location lies under path.
func filterSubtree(hits []vectorstore.SearchHit, root, path string) []vectorstore.SearchHit {
	kept := hits[:0]
	for _, h := range hits {
		abs := filepath.Join(root, filepath.FromSlash(h.Document.RelativePath))
		if abs == path || strings.HasPrefix(abs, path+string(filepath.Separator)) {
			kept = append(kept, h)
		}
	}
	return kept
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
