package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveDefaults(t *testing.T) {
	r := NewResolver("", nil)
	m := r.Resolve(t.TempDir(), nil)

	assert.True(t, m.Ignores("node_modules/left-pad/index.js", false))
	assert.True(t, m.Ignores(".git/HEAD", false))
	assert.False(t, m.Ignores("main.go", false))
}

func TestResolveProjectIgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "*.generated.go\n")
	writeFile(t, filepath.Join(root, ".dockerignore"), "testdata/\n")

	r := NewResolver("", nil)
	m := r.Resolve(root, nil)

	assert.True(t, m.Ignores("api.generated.go", false))
	assert.True(t, m.Ignores("testdata/fixture.json", false))
}

func TestResolveSkipsNpmignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".npmignore"), "src/\n")

	r := NewResolver("", nil)
	m := r.Resolve(root, nil)

	assert.False(t, m.Ignores("src/index.ts", false))
}

func TestResolveGlobalFile(t *testing.T) {
	root := t.TempDir()
	global := filepath.Join(t.TempDir(), "global-ignore")
	writeFile(t, global, "*.bak\n")

	r := NewResolver(global, nil)
	m := r.Resolve(root, nil)

	assert.True(t, m.Ignores("old.bak", false))
}

func TestResolveMissingGlobalFileNotError(t *testing.T) {
	r := NewResolver(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	m := r.Resolve(t.TempDir(), nil)
	assert.NotNil(t, m)
}

func TestResolveCustomAndExtraPreserved(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "*.generated.go\n")

	r := NewResolver("", []string{"*.proto.bak"})
	m := r.Resolve(root, []string{"internal/experiments/"})

	// All three layers are active at once.
	assert.True(t, m.Ignores("api.generated.go", false))
	assert.True(t, m.Ignores("x.proto.bak", false))
	assert.True(t, m.Ignores("internal/experiments/run.go", false))

	// A second resolve with more extras keeps earlier ones.
	m2 := r.Resolve(root, []string{"*.snap"})
	assert.True(t, m2.Ignores("internal/experiments/run.go", false))
	assert.True(t, m2.Ignores("ui.snap", false))
}

func TestResolveCachesPerRoot(t *testing.T) {
	root := t.TempDir()
	r := NewResolver("", nil)

	m1 := r.Resolve(root, nil)
	m2 := r.Resolve(root, nil)
	assert.Same(t, m1, m2)

	r.Invalidate(root)
	m3 := r.Resolve(root, nil)
	assert.NotSame(t, m1, m3)
}

func TestResolveUnreadableRootNotFatal(t *testing.T) {
	r := NewResolver("", nil)
	m := r.Resolve(filepath.Join(t.TempDir(), "missing"), nil)

	assert.NotNil(t, m)
	assert.True(t, m.Ignores(".git/config", false))
}
