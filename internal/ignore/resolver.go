package ignore

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultPatterns are always active regardless of project ignore files.
var defaultPatterns = []string{
	".git/",
	".hg/",
	".svn/",
	".idea/",
	".vscode/",
	"node_modules/",
	"bower_components/",
	"vendor/",
	"dist/",
	"build/",
	"out/",
	"target/",
	"bin/",
	"obj/",
	"coverage/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".mypy_cache/",
	".pytest_cache/",
	".gradle/",
	".next/",
	".nuxt/",
	".cache/",
	"*.min.js",
	"*.min.css",
	"*.map",
	"*.lock",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"*.log",
	"*.tmp",
	"*.swp",
	".DS_Store",
	"Thumbs.db",
}

const resolverCacheSize = 256

// Resolver builds per-root pattern sets by merging, in order: built-in
// defaults, root-level ignore files, an optional global user file, and
// caller-supplied patterns. Resolution is cached per root.
type Resolver struct {
	globalFile string
	custom     []string
	cache      *lru.Cache[string, *Matcher]
}

// NewResolver creates a Resolver. globalFile may be empty. custom patterns
// (typically from the environment) apply to every root.
func NewResolver(globalFile string, custom []string) *Resolver {
	cache, _ := lru.New[string, *Matcher](resolverCacheSize)
	return &Resolver{
		globalFile: globalFile,
		custom:     custom,
		cache:      cache,
	}
}

// Resolve returns the merged pattern set for root, loading ignore sources on
// first use. extra patterns are appended (deduplicated) onto the cached set,
// never replacing it.
func (r *Resolver) Resolve(root string, extra []string) *Matcher {
	m, ok := r.cache.Get(root)
	if !ok {
		m = r.load(root)
		r.cache.Add(root, m)
	}
	if len(extra) > 0 {
		m.Add(extra...)
	}
	return m
}

// Invalidate drops the cached set for root.
func (r *Resolver) Invalidate(root string) {
	r.cache.Remove(root)
}

func (r *Resolver) load(root string) *Matcher {
	m := NewMatcher()
	m.Add(defaultPatterns...)

	for _, path := range rootIgnoreFiles(root) {
		if err := m.AddFromFile(path); err != nil {
			slog.Warn("skipping unreadable ignore file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	if r.globalFile != "" {
		if _, err := os.Stat(r.globalFile); err == nil {
			if err := m.AddFromFile(r.globalFile); err != nil {
				slog.Warn("skipping unreadable global ignore file",
					slog.String("path", r.globalFile),
					slog.String("error", err.Error()))
			}
		}
	}

	m.Add(r.custom...)
	return m
}

// rootIgnoreFiles lists dotfile ignore sources at the codebase root
// (.gitignore, .dockerignore, .codectxignore, ...). .npmignore is a
// packaging manifest, not an exclusion list, and is skipped.
func rootIgnoreFiles(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, "ignore") {
			continue
		}
		if name == ".npmignore" {
			continue
		}
		files = append(files, filepath.Join(root, name))
	}
	return files
}
