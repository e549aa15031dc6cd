// Package pipeline drives a full index run: walk, split, embed in adaptive
// batches, and insert into the vector store with two-stage overlap.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/probeshift/codectx/internal/config"
	"github.com/probeshift/codectx/internal/embed"
	cerr "github.com/probeshift/codectx/internal/errors"
	"github.com/probeshift/codectx/internal/snapshot"
	"github.com/probeshift/codectx/internal/splitter"
	"github.com/probeshift/codectx/internal/vectorstore"
	"github.com/probeshift/codectx/internal/walker"
)

// MaxChunksPerRun caps a single codebase run. Hitting it stops processing
// at the next chunk boundary; persisted chunks stay.
const MaxChunksPerRun = 450_000

// chunkLimit mirrors MaxChunksPerRun; tests lower it.
var chunkLimit = MaxChunksPerRun

// scanBudget is the fixed progress share consumed by preparation and
// scanning before file-level progress starts.
const scanBudget = 15.0

// Run statuses.
const (
	StatusCompleted    = "completed"
	StatusLimitReached = "limit_reached"
)

// Progress is one progress callback payload.
type Progress struct {
	Percent float64
	Phase   string
}

// ProgressFunc receives progress updates. Calls come from a single
// goroutine and the percent is monotone non-decreasing within a run.
type ProgressFunc func(Progress)

// Result summarizes a completed run.
type Result struct {
	IndexedFiles int
	TotalChunks  int
	Status       string
}

// Options adjusts a single run.
type Options struct {
	Progress        ProgressFunc
	ExtraExtensions []string
	ExtraIgnore     []string
	Hybrid          bool
}

// Pipeline wires the walker, splitter, embedder, and store together.
type Pipeline struct {
	cfg      *config.Config
	wlk      *walker.Walker
	split    *splitter.Splitter
	embedder *embed.Client
	store    vectorstore.Store
}

// New creates a Pipeline.
func New(cfg *config.Config, wlk *walker.Walker, split *splitter.Splitter, embedder *embed.Client, store vectorstore.Store) *Pipeline {
	return &Pipeline{cfg: cfg, wlk: wlk, split: split, embedder: embedder, store: store}
}

type limits struct {
	batchSize       int
	fileConcurrency int
	apiConcurrency  int
	memoryLimitMB   int
}

func (p *Pipeline) limits() limits {
	fc := p.cfg.Indexing.FileConcurrency
	if fc <= 0 {
		fc = config.DefaultFileConcurrency()
	}
	mem := p.cfg.Indexing.MemoryLimitMB
	if mem < config.DefaultMemoryLimitMB {
		mem = config.DefaultMemoryLimitMB
	}
	return limits{
		batchSize:       p.embedder.BatchSize(),
		fileConcurrency: fc,
		apiConcurrency:  embed.APIConcurrency(p.embedder.ProviderName(), p.cfg.Indexing.APIConcurrency),
		memoryLimitMB:   mem,
	}
}

func (p *Pipeline) walkOptions(opts Options) walker.Options {
	return walker.Options{
		ExtraExtensions: opts.ExtraExtensions,
		ExtraIgnore:     opts.ExtraIgnore,
	}
}

// Index runs a full index of root into collection. On clean completion the
// codebase snapshot is committed; on cancellation or failure it is not.
func (p *Pipeline) Index(ctx context.Context, root, collection string, opts Options) (Result, error) {
	report := progressReporter(opts.Progress)

	files, err := p.wlk.Walk(ctx, root, p.walkOptions(opts))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, cancelled(0)
		}
		return Result{}, cerr.PathError(root, err)
	}

	if len(files) == 0 {
		report(Progress{Percent: 100, Phase: "No files to index"})
		return Result{Status: StatusCompleted}, nil
	}

	report(Progress{Percent: scanBudget, Phase: fmt.Sprintf("Found %d files", len(files))})

	res, err := p.indexFiles(ctx, root, collection, files, opts, report)
	if err != nil {
		return res, err
	}

	if err := p.commitSnapshot(ctx, root, opts); err != nil {
		slog.Warn("failed to commit snapshot after index run",
			slog.String("root", root),
			slog.String("error", err.Error()))
	}
	return res, nil
}

// ReindexByChange diffs root against its snapshot and applies a targeted
// delete + reinsert for the changed subset.
func (p *Pipeline) ReindexByChange(ctx context.Context, root, collection string, opts Options) (snapshot.Changes, error) {
	snap, err := snapshot.Load(p.cfg.SnapshotDir(), root, p.wlk, p.walkOptions(opts))
	if err != nil {
		return snapshot.Changes{}, err
	}

	changes, err := snap.CheckForChanges(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return snapshot.Changes{}, cancelled(0)
		}
		return snapshot.Changes{}, err
	}
	if changes.Empty() {
		return changes, nil
	}

	slog.Info("applying incremental changes",
		slog.String("root", root),
		slog.Int("added", len(changes.Added)),
		slog.Int("removed", len(changes.Removed)),
		slog.Int("modified", len(changes.Modified)))

	// Stale documents first so modified files are never double-represented.
	stale := append(append([]string(nil), changes.Removed...), changes.Modified...)
	sort.Strings(stale)
	for _, rel := range stale {
		if err := p.deleteByPath(ctx, collection, rel); err != nil {
			return changes, err
		}
	}

	var subset []string
	for _, rel := range append(append([]string(nil), changes.Added...), changes.Modified...) {
		subset = append(subset, filepath.Join(root, filepath.FromSlash(rel)))
	}
	sort.Strings(subset)

	if len(subset) > 0 {
		report := progressReporter(opts.Progress)
		if _, err := p.indexFiles(ctx, root, collection, subset, opts, report); err != nil {
			return changes, err
		}
	}

	if err := snap.Commit(); err != nil {
		return changes, err
	}
	return changes, nil
}

func (p *Pipeline) deleteByPath(ctx context.Context, collection, rel string) error {
	docs, err := p.store.Query(ctx, collection, vectorstore.Filter{RelativePath: rel}, 0)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return p.store.Delete(ctx, collection, ids)
}

func (p *Pipeline) commitSnapshot(ctx context.Context, root string, opts Options) error {
	snap, err := snapshot.Load(p.cfg.SnapshotDir(), root, p.wlk, p.walkOptions(opts))
	if err != nil {
		return err
	}
	if _, err := snap.CheckForChanges(ctx); err != nil {
		return err
	}
	return snap.Commit()
}

// fileChunks is one processed file's output, delivered to the coordinator.
type fileChunks struct {
	chunks []splitter.Chunk
}

// indexFiles is the two-stage core: file workers feed a single coordinator
// that freezes adaptive batches; embed workers overlap with a store
// inserter behind a bounded queue.
func (p *Pipeline) indexFiles(ctx context.Context, root, collection string, files []string, opts Options, report ProgressFunc) (Result, error) {
	lim := p.limits()

	// In-flight embeds and inserts run to completion even after
	// cancellation so no partial documents land in the store.
	opCtx := context.WithoutCancel(ctx)

	var (
		insertedChunks atomic.Int64
		filesIndexed   atomic.Int64
		stopFiles      atomic.Bool
		limitReached   atomic.Bool
		insertFailed   atomic.Bool

		insertErrOnce sync.Once
		insertErr     error
	)

	results := make(chan fileChunks)
	batches := make(chan []splitter.Chunk)
	inserts := make(chan []vectorstore.Document, 2*lim.apiConcurrency)

	abortInserts := func(err error) {
		insertErrOnce.Do(func() {
			insertErr = err
			insertFailed.Store(true)
			stopFiles.Store(true)
		})
	}

	// Stage 0: concurrent read + split.
	go func() {
		defer close(results)
		g := new(errgroup.Group)
		g.SetLimit(lim.fileConcurrency)
		for _, path := range files {
			if ctx.Err() != nil || stopFiles.Load() {
				break
			}
			path := path
			g.Go(func() error {
				chunks, ok := p.processFile(ctx, root, path)
				if ok {
					filesIndexed.Add(1)
				}
				// Failed files still count toward progress.
				results <- fileChunks{chunks: chunks}
				return nil
			})
		}
		_ = g.Wait()
	}()

	// Coordinator: the only progress callsite and the only batch freezer.
	go func() {
		defer close(batches)

		var (
			buffer     []splitter.Chunk
			totalSeen  int
			filesDone  int
			filesTotal = len(files)
		)

		flush := func() {
			if len(buffer) == 0 {
				return
			}
			batches <- buffer
			buffer = nil
			if ratio := memoryRatio(lim.memoryLimitMB); ratio > 0.7 {
				gcHint()
			}
		}

		for fc := range results {
			filesDone++
			report(Progress{
				Percent: scanBudget + (100-scanBudget)*float64(filesDone)/float64(filesTotal),
				Phase:   fmt.Sprintf("Indexed %d/%d files", filesDone, filesTotal),
			})

			for _, chunk := range fc.chunks {
				if totalSeen >= chunkLimit {
					limitReached.Store(true)
					stopFiles.Store(true)
					break
				}
				buffer = append(buffer, chunk)
				totalSeen++
			}

			threshold := lim.batchSize
			ratio := memoryRatio(lim.memoryLimitMB)
			if ratio > 0.8 && threshold > 1 {
				threshold /= 2
			}
			for len(buffer) >= threshold || (ratio > 0.9 && len(buffer) > 0) {
				if len(buffer) > threshold {
					head := buffer[:threshold]
					rest := buffer[threshold:]
					buffer = rest
					batches <- head
				} else {
					flush()
				}
				ratio = memoryRatio(lim.memoryLimitMB)
			}

			if stopFiles.Load() {
				break
			}
		}

		// Drain remaining worker sends, then flush the tail.
		for range results {
			filesDone++
		}
		if ctx.Err() == nil && !insertFailed.Load() {
			flush()
		}
	}()

	// Stage A: embedding workers.
	var embedWG sync.WaitGroup
	for i := 0; i < lim.apiConcurrency; i++ {
		embedWG.Add(1)
		go func() {
			defer embedWG.Done()
			for batch := range batches {
				if insertFailed.Load() {
					continue
				}
				texts := make([]string, len(batch))
				for i, c := range batch {
					texts[i] = c.Content
				}
				vecs, err := p.embedder.EmbedBatch(opCtx, texts)
				if err != nil {
					// The client already retried; drop the batch and move on.
					slog.Warn("dropping batch after embedding failure",
						slog.Int("chunks", len(batch)),
						slog.String("error", err.Error()))
					continue
				}
				inserts <- buildDocuments(root, batch, vecs)
			}
		}()
	}

	go func() {
		embedWG.Wait()
		close(inserts)
	}()

	// Stage B: single inserter keeps store write pressure predictable.
	var insertWG sync.WaitGroup
	insertWG.Add(1)
	go func() {
		defer insertWG.Done()
		for docs := range inserts {
			if insertFailed.Load() {
				continue
			}
			var err error
			if opts.Hybrid {
				err = p.store.InsertHybridBatched(opCtx, collection, docs)
			} else {
				err = p.store.Insert(opCtx, collection, docs)
			}
			if err != nil {
				abortInserts(err)
				continue
			}
			insertedChunks.Add(int64(len(docs)))
		}
	}()

	insertWG.Wait()

	res := Result{
		IndexedFiles: int(filesIndexed.Load()),
		TotalChunks:  int(insertedChunks.Load()),
		Status:       StatusCompleted,
	}
	if limitReached.Load() {
		res.Status = StatusLimitReached
	}

	if insertErr != nil {
		return res, cerr.StoreError("insert", "index run aborted by store failure", insertErr)
	}
	if err := ctx.Err(); err != nil {
		return res, cancelled(lastPercent(len(files), int(filesIndexed.Load())))
	}

	report(Progress{Percent: 100, Phase: "Indexing complete"})
	return res, nil
}

// processFile reads and splits one file. Any failure logs and skips.
func (p *Pipeline) processFile(ctx context.Context, root, path string) ([]splitter.Chunk, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("skipping unreadable file",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, false
	}
	rel = filepath.ToSlash(rel)

	language := p.split.LanguageFor(strings.ToLower(filepath.Ext(path)))
	chunks, err := p.split.Split(ctx, data, language, rel)
	if err != nil {
		slog.Warn("skipping unsplittable file",
			slog.String("path", rel),
			slog.String("error", err.Error()))
		return nil, false
	}
	return chunks, true
}

func buildDocuments(root string, chunks []splitter.Chunk, vecs [][]float32) []vectorstore.Document {
	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorstore.Document{
			ID:            c.ID(),
			Vector:        vecs[i],
			Content:       c.Content,
			RelativePath:  c.FilePath,
			StartLine:     c.StartLine,
			EndLine:       c.EndLine,
			FileExtension: strings.ToLower(filepath.Ext(c.FilePath)),
			Metadata: map[string]string{
				"codebase_path": root,
				"language":      c.Language,
				"chunk_index":   strconv.Itoa(c.Index),
			},
		}
	}
	return docs
}

// progressReporter wraps the callback with a monotonicity clamp.
func progressReporter(fn ProgressFunc) ProgressFunc {
	var last float64
	return func(p Progress) {
		if p.Percent < last {
			p.Percent = last
		}
		last = p.Percent
		if fn != nil {
			fn(p)
		}
	}
}

func lastPercent(total, done int) float64 {
	if total == 0 {
		return 0
	}
	return scanBudget + (100-scanBudget)*float64(done)/float64(total)
}

func cancelled(percent float64) error {
	return cerr.New(cerr.ErrCodeIndexCancelled, "indexing cancelled", nil).
		WithDetail("last_percent", fmt.Sprintf("%.0f", percent))
}
