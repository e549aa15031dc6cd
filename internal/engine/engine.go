// Package engine is the façade over the indexing core: it owns the
// registry, pipeline, query router, reconciler, and cross-process locks,
// and exposes the public operations the CLI calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/probeshift/codectx/internal/config"
	"github.com/probeshift/codectx/internal/embed"
	cerr "github.com/probeshift/codectx/internal/errors"
	"github.com/probeshift/codectx/internal/ignore"
	"github.com/probeshift/codectx/internal/lockfile"
	"github.com/probeshift/codectx/internal/pipeline"
	"github.com/probeshift/codectx/internal/query"
	"github.com/probeshift/codectx/internal/reconcile"
	"github.com/probeshift/codectx/internal/registry"
	"github.com/probeshift/codectx/internal/snapshot"
	"github.com/probeshift/codectx/internal/splitter"
	"github.com/probeshift/codectx/internal/vectorstore"
	"github.com/probeshift/codectx/internal/walker"
)

// MaxSearchLimit caps search result count.
const MaxSearchLimit = 50

// MaxConcurrentIndexRuns bounds index runs across processes on one machine.
const MaxConcurrentIndexRuns = 3

// Index statuses surfaced to callers, beyond the pipeline's own.
const (
	StatusCollectionLimit = "collection_limit_reached"
)

// IndexOptions adjusts IndexCodebase.
type IndexOptions struct {
	Force            bool
	CustomExtensions []string
	CustomIgnore     []string
	Progress         pipeline.ProgressFunc
}

// IndexResult is the outcome of IndexCodebase.
type IndexResult struct {
	Path         string `json:"path"`
	IndexedFiles int    `json:"indexed_files"`
	TotalChunks  int    `json:"total_chunks"`
	Status       string `json:"status"`
}

// SearchOptions adjusts SearchCode.
type SearchOptions struct {
	Limit      int
	Extensions []string
	Threshold  *float64
}

// Engine wires the core components together.
type Engine struct {
	cfg      *config.Config
	reg      *registry.Registry
	store    vectorstore.Store
	embedder *embed.Client
	pipe     *pipeline.Pipeline
	router   *query.Router
	locks    *lockfile.Manager
	slots    *lockfile.Semaphore
	rec      *reconcile.Reconciler
}

// New assembles an Engine from configuration, an embedding client, and a
// vector store backend.
func New(cfg *config.Config, embedder *embed.Client, store vectorstore.Store) (*Engine, error) {
	regPath := cfg.RegistryPath()
	if cfg.Store.Backend == config.StoreBackendMemory {
		// In-memory collections die with the process; a durable registry
		// would point at collections that no longer exist next run.
		regPath = ""
	}
	reg, err := registry.Load(regPath, cfg.Indexing.HybridMode)
	if err != nil {
		return nil, err
	}

	resolver := ignore.NewResolver("", cfg.Indexing.CustomIgnore)
	wlk := walker.New(resolver)
	split := splitter.New()
	pipe := pipeline.New(cfg, wlk, split, embedder, store)
	locks := lockfile.NewManager(cfg.LockDir())

	e := &Engine{
		cfg:      cfg,
		reg:      reg,
		store:    store,
		embedder: embedder,
		pipe:     pipe,
		router:   query.New(cfg, reg, embedder, store),
		locks:    locks,
		slots:    lockfile.NewSemaphore(cfg.LockDir(), "indexing", MaxConcurrentIndexRuns),
		rec:      reconcile.New(cfg, reg, pipe, store, locks),
	}
	return e, nil
}

// StartReconciler launches background reconciliation. Safe to call more
// than once.
func (e *Engine) StartReconciler(ctx context.Context) {
	if e.reg.Len() > 0 {
		e.rec.Start(ctx)
	}
}

// ReconcileOnce runs a single synchronous reconciliation pass over every
// indexed codebase.
func (e *Engine) ReconcileOnce(ctx context.Context) {
	e.rec.RunOnce(ctx)
}

// SetReconcileCadence overrides the background reconciliation interval and
// initial delay. Must be called before StartReconciler.
func (e *Engine) SetReconcileCadence(interval, initialDelay time.Duration) {
	e.rec.SetCadence(interval, initialDelay)
}

// Close releases held locks and the store connection.
func (e *Engine) Close() error {
	e.rec.Stop()
	e.locks.ReleaseAll()
	return e.store.Close()
}

// Registry exposes the registry for status reporting.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// IndexCodebase indexes the codebase at path. Force drops an existing
// index first. Hitting the store's collection ceiling is terminal but not
// an error: the caller gets a response with StatusCollectionLimit.
func (e *Engine) IndexCodebase(ctx context.Context, path string, opts IndexOptions) (IndexResult, error) {
	root, err := ResolvePath(path)
	if err != nil {
		return IndexResult{}, err
	}

	retrying, err := e.checkRegistrable(root, opts.Force)
	if err != nil {
		return IndexResult{}, err
	}

	hybrid := e.cfg.Indexing.HybridMode
	collection := vectorstore.CollectionName(root, hybrid)

	hasCollection, err := e.store.HasCollection(ctx, collection)
	if err != nil {
		return IndexResult{}, err
	}
	if hasCollection && !opts.Force && !retrying {
		return IndexResult{}, cerr.New(cerr.ErrCodeAlreadyIndexed,
			fmt.Sprintf("codebase %s is already indexed; use force to re-index", root), nil)
	}

	if !hasCollection {
		ok, err := e.store.CheckCollectionLimit(ctx)
		if err != nil {
			return IndexResult{}, err
		}
		if !ok {
			return IndexResult{Path: root, Status: StatusCollectionLimit}, nil
		}
	}

	acquired, err := e.locks.TryAcquire(root)
	if err != nil {
		return IndexResult{}, err
	}
	if !acquired {
		return IndexResult{}, cerr.New(cerr.ErrCodeAlreadyIndexing,
			fmt.Sprintf("another process is indexing %s", root), nil)
	}
	defer func() {
		if err := e.locks.Release(root); err != nil {
			slog.Warn("failed to release index lock",
				slog.String("root", root),
				slog.String("error", err.Error()))
		}
	}()

	slot, ok, err := e.slots.TryAcquire()
	if err != nil {
		return IndexResult{}, err
	}
	if !ok {
		return IndexResult{}, cerr.New(cerr.ErrCodeLockHeld,
			fmt.Sprintf("all %d indexing slots are in use; try again later", e.slots.Slots()), nil)
	}
	defer func() {
		if err := e.slots.Release(slot); err != nil {
			slog.Warn("failed to release indexing slot",
				slog.Int("slot", slot),
				slog.String("error", err.Error()))
		}
	}()

	if opts.Force {
		if err := e.dropArtifacts(ctx, root, collection); err != nil {
			return IndexResult{}, err
		}
		hasCollection = false
	}

	dim, err := e.embedder.Dimension(ctx)
	if err != nil {
		return IndexResult{}, err
	}

	if !hasCollection {
		description := fmt.Sprintf("codectx index of %s", root)
		if hybrid {
			err = e.store.CreateHybridCollection(ctx, collection, dim, description)
		} else {
			err = e.store.CreateCollection(ctx, collection, dim, description)
		}
		if err != nil {
			return IndexResult{}, err
		}
	}

	if err := e.reg.Register(root); err != nil {
		return IndexResult{}, err
	}

	pipeOpts := pipeline.Options{
		Hybrid:          hybrid,
		ExtraExtensions: config.MergeList(e.cfg.Indexing.CustomExtensions, opts.CustomExtensions),
		ExtraIgnore:     config.MergeList(e.cfg.Indexing.CustomIgnore, opts.CustomIgnore),
		Progress: func(p pipeline.Progress) {
			if err := e.reg.SetIndexing(root, p.Percent); err != nil {
				slog.Debug("progress update failed", slog.String("error", err.Error()))
			}
			if opts.Progress != nil {
				opts.Progress(p)
			}
		},
	}

	res, err := e.pipe.Index(ctx, root, collection, pipeOpts)
	if err != nil {
		if cerr.HasCode(err, cerr.ErrCodeIndexCancelled) {
			// State stays indexing with the last percent so a later
			// registration resumes forward.
			return IndexResult{}, err
		}
		info, infoErr := e.reg.Info(root)
		percent := 0.0
		if infoErr == nil {
			percent = info.ProgressPercent
		}
		if regErr := e.reg.SetIndexFailed(root, err.Error(), percent); regErr != nil {
			slog.Warn("failed to record index failure", slog.String("error", regErr.Error()))
		}
		return IndexResult{}, err
	}

	if err := e.reg.SetIndexed(root, registry.Stats{Files: res.IndexedFiles, Chunks: res.TotalChunks}); err != nil {
		return IndexResult{}, err
	}

	e.StartReconciler(context.WithoutCancel(ctx))

	return IndexResult{
		Path:         root,
		IndexedFiles: res.IndexedFiles,
		TotalChunks:  res.TotalChunks,
		Status:       res.Status,
	}, nil
}

// checkRegistrable rejects paths already covered by another registration.
// An entry stuck in indexing or indexfailed is not rejected here: whether a
// run is genuinely in progress is the cross-process lock's call, so a
// cancelled or crashed run becomes retryable the moment its lock is free.
func (e *Engine) checkRegistrable(root string, force bool) (retrying bool, err error) {
	owner, ok := e.reg.FindContainingIndex(root)
	if !ok {
		return false, nil
	}

	if owner != root {
		return false, cerr.New(cerr.ErrCodeSubtreeCovered,
			fmt.Sprintf("%s is covered by the index at %s; search through it instead", root, owner), nil)
	}

	status, err := e.reg.Status(root)
	if err != nil {
		return false, err
	}
	if status == registry.StatusIndexed {
		if !force {
			return false, cerr.New(cerr.ErrCodeAlreadyIndexed,
				fmt.Sprintf("codebase %s is already indexed; use force to re-index", root), nil)
		}
		return false, nil
	}
	return true, nil
}

func (e *Engine) dropArtifacts(ctx context.Context, root, collection string) error {
	exists, err := e.store.HasCollection(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		if err := e.store.DropCollection(ctx, collection); err != nil {
			return err
		}
	}
	return snapshot.Delete(e.cfg.SnapshotDir(), root)
}

// SearchCode retrieves ranked code spans for a natural-language query
// scoped to path.
func (e *Engine) SearchCode(ctx context.Context, path, queryText string, opts SearchOptions) ([]query.Hit, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.Search.TopK
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	return e.router.Search(ctx, resolved, queryText, query.Options{
		TopK:       limit,
		Threshold:  opts.Threshold,
		Extensions: opts.Extensions,
	})
}

// ClearIndex removes the collection, snapshot, and registry entry for
// path.
func (e *Engine) ClearIndex(ctx context.Context, path string) error {
	root, err := ResolvePath(path)
	if err != nil {
		return err
	}

	info, err := e.reg.Info(root)
	if err != nil {
		return err
	}

	return e.locks.WithLock(root, func() error {
		exists, err := e.store.HasCollection(ctx, info.CollectionName)
		if err != nil {
			return err
		}
		if exists {
			if err := e.store.DropCollection(ctx, info.CollectionName); err != nil {
				return err
			}
		}
		if err := snapshot.Delete(e.cfg.SnapshotDir(), root); err != nil {
			return err
		}
		return e.reg.Remove(root)
	})
}

// Status reports one codebase when path is non-empty, otherwise all.
func (e *Engine) Status(path string) ([]registry.Codebase, error) {
	if path == "" {
		return e.reg.All(), nil
	}

	root, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	owner, ok := e.reg.FindContainingIndex(root)
	if !ok {
		return nil, cerr.New(cerr.ErrCodeNotIndexed,
			fmt.Sprintf("no indexed codebase contains %s", root), nil)
	}
	info, err := e.reg.Info(owner)
	if err != nil {
		return nil, err
	}
	return []registry.Codebase{info}, nil
}
