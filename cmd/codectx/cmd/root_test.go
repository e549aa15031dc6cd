package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCommandCfg(t, "", args...)
}

func runCommandCfg(t *testing.T, extraCfg string, args ...string) (string, error) {
	t.Helper()

	dataDir := t.TempDir()
	cfgFile := filepath.Join(dataDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("data_dir: "+dataDir+"\n"+extraCfg), 0o644))

	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--config", cfgFile}, args...))

	err := root.Execute()
	return buf.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"index", "search", "status", "clear", "watch", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "codectx")
}

func TestStatusEmptyRegistry(t *testing.T) {
	out, err := runCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No codebases indexed.")
}

func TestStatusUnknownPath(t *testing.T) {
	_, err := runCommand(t, "status", t.TempDir())
	require.Error(t, err)
}

func TestWatchOnceEmptyRegistry(t *testing.T) {
	out, err := runCommandCfg(t, "embedding:\n  provider: ollama\n", "watch", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to watch")
}
