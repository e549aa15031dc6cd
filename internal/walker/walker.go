// Package walker enumerates the indexable files of a codebase root,
// honoring the merged ignore pattern set and a supported-extension list.
package walker

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/probeshift/codectx/internal/ignore"
)

// MaxFileSize is the largest file the walker will yield. Larger files are
// almost always generated or vendored artifacts.
const MaxFileSize = 5 * 1024 * 1024

// Walker scans a root producing supported, non-ignored files.
type Walker struct {
	resolver *ignore.Resolver
	exts     map[string]struct{}
}

// Options adjusts a single walk.
type Options struct {
	// ExtraExtensions is appended to the default supported set.
	ExtraExtensions []string
	// ExtraIgnore is appended to the resolved ignore set.
	ExtraIgnore []string
}

// New creates a Walker with the default extension set.
func New(resolver *ignore.Resolver) *Walker {
	return NewWithExtensions(resolver, DefaultExtensions())
}

// NewWithExtensions creates a Walker with a custom extension list.
func NewWithExtensions(resolver *ignore.Resolver, extensions []string) *Walker {
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Walker{resolver: resolver, exts: exts}
}

// Walk returns the absolute paths of all supported files under root, sorted
// for deterministic output. Directory symlinks are followed only when the
// target stays within root.
func (w *Walker) Walk(ctx context.Context, root string, opts Options) ([]string, error) {
	root = filepath.Clean(root)

	matcher := w.resolver.Resolve(root, opts.ExtraIgnore)

	exts := w.exts
	if len(opts.ExtraExtensions) > 0 {
		exts = make(map[string]struct{}, len(w.exts)+len(opts.ExtraExtensions))
		for e := range w.exts {
			exts[e] = struct{}{}
		}
		for _, e := range opts.ExtraExtensions {
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts[strings.ToLower(e)] = struct{}{}
		}
	}

	visited := map[string]struct{}{root: {}}
	var files []string

	if err := w.walkDir(ctx, root, root, matcher, exts, visited, &files); err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func (w *Walker) walkDir(ctx context.Context, root, dir string, matcher *ignore.Matcher, exts map[string]struct{}, visited map[string]struct{}, files *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if dir == root {
			return err
		}
		slog.Warn("skipping unreadable directory", slog.String("path", dir), slog.String("error", err.Error()))
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		switch {
		case entry.IsDir():
			if matcher.Ignores(rel, true) {
				continue
			}
			if err := w.walkDir(ctx, root, path, matcher, exts, visited, files); err != nil {
				return err
			}

		case entry.Type()&fs.ModeSymlink != 0:
			target, ok := resolveSymlinkWithin(path, root)
			if !ok {
				continue
			}
			info, err := os.Stat(path)
			if err != nil || !info.IsDir() {
				// File symlinks outside the root were already rejected;
				// inside the root the real file is reached by the walk itself.
				continue
			}
			if matcher.Ignores(rel, true) {
				continue
			}
			if _, seen := visited[target]; seen {
				continue
			}
			visited[target] = struct{}{}
			if err := w.walkDir(ctx, root, path, matcher, exts, visited, files); err != nil {
				return err
			}

		case entry.Type().IsRegular():
			if matcher.Ignores(rel, false) {
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if _, ok := exts[ext]; !ok {
				continue
			}
			if info, err := entry.Info(); err == nil && info.Size() > MaxFileSize {
				slog.Debug("skipping oversized file", slog.String("path", rel), slog.Int64("size", info.Size()))
				continue
			}
			*files = append(*files, path)
		}
	}

	return nil
}

// resolveSymlinkWithin resolves a symlink and reports whether the target
// stays inside root.
func resolveSymlinkWithin(path, root string) (string, bool) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", false
	}
	rootReal, err := filepath.EvalSymlinks(root)
	if err != nil {
		rootReal = root
	}
	if target == rootReal || strings.HasPrefix(target, rootReal+string(filepath.Separator)) {
		return target, true
	}
	return "", false
}
