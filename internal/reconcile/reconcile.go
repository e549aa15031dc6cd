// Package reconcile keeps indexed codebases current by periodically
// applying snapshot diffs through the pipeline.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/probeshift/codectx/internal/config"
	"github.com/probeshift/codectx/internal/lockfile"
	"github.com/probeshift/codectx/internal/pipeline"
	"github.com/probeshift/codectx/internal/registry"
	"github.com/probeshift/codectx/internal/snapshot"
	"github.com/probeshift/codectx/internal/vectorstore"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultInitialDelay = 5 * time.Second
)

// Reconciler periodically reconciles every indexed codebase. At most one
// run is active at a time; overlapping ticks are skipped.
type Reconciler struct {
	cfg   *config.Config
	reg   *registry.Registry
	pipe  *pipeline.Pipeline
	store vectorstore.Store
	locks *lockfile.Manager

	interval     time.Duration
	initialDelay time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// New creates a Reconciler with the default cadence.
func New(cfg *config.Config, reg *registry.Registry, pipe *pipeline.Pipeline, store vectorstore.Store, locks *lockfile.Manager) *Reconciler {
	return &Reconciler{
		cfg:          cfg,
		reg:          reg,
		pipe:         pipe,
		store:        store,
		locks:        locks,
		interval:     DefaultInterval,
		initialDelay: DefaultInitialDelay,
	}
}

// SetCadence overrides the tick interval and initial delay.
func (r *Reconciler) SetCadence(interval, initialDelay time.Duration) {
	r.interval = interval
	r.initialDelay = initialDelay
}

// Start launches the background loop if it is not already running. The
// loop stops itself when the registry becomes empty; call Start again
// after registering a new codebase.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(loopCtx, r.done)
}

// Stop terminates the background loop and waits for it to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Reconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(r.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if r.reg.Len() == 0 {
			slog.Debug("registry empty, reconciler stopping")
			r.clearCancel()
			return
		}

		r.tick(ctx)
		timer.Reset(r.interval)
	}
}

// tick runs one reconcile pass unless one is already in flight.
func (r *Reconciler) tick(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		slog.Debug("reconcile already in progress, skipping tick")
		return
	}
	defer r.running.Store(false)

	r.RunOnce(ctx)
}

// RunOnce reconciles every indexed codebase. Per-codebase errors are
// logged and do not abort the pass.
func (r *Reconciler) RunOnce(ctx context.Context) {
	for _, cb := range r.reg.AllIndexed() {
		if ctx.Err() != nil {
			return
		}
		if err := r.reconcileOne(ctx, cb); err != nil {
			slog.Warn("reconcile failed for codebase",
				slog.String("root", cb.RootPath),
				slog.String("error", err.Error()))
		}
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, cb registry.Codebase) error {
	if _, err := os.Stat(cb.RootPath); os.IsNotExist(err) {
		slog.Warn("indexed root no longer exists, skipping",
			slog.String("root", cb.RootPath))
		return nil
	}

	return r.locks.WithLock(cb.RootPath, func() error {
		exists, err := r.store.HasCollection(ctx, cb.CollectionName)
		if err != nil {
			return err
		}
		if !exists {
			// Collection removed externally: drop the snapshot so the
			// next index run starts from scratch.
			slog.Warn("collection missing, deleting snapshot",
				slog.String("root", cb.RootPath),
				slog.String("collection", cb.CollectionName))
			return snapshot.Delete(r.cfg.SnapshotDir(), cb.RootPath)
		}

		changes, err := r.pipe.ReindexByChange(ctx, cb.RootPath, cb.CollectionName, pipeline.Options{
			Hybrid: r.cfg.Indexing.HybridMode,
		})
		if err != nil {
			return err
		}
		if !changes.Empty() {
			slog.Info("reconciled codebase",
				slog.String("root", cb.RootPath),
				slog.Int("added", len(changes.Added)),
				slog.Int("removed", len(changes.Removed)),
				slog.Int("modified", len(changes.Modified)))
		}
		return nil
	})
}

func (r *Reconciler) clearCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}
