package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobfs/internal/util"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "blobfs.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("verbose: 1\nbackend: s3\nroots: [logs]\n"), 0o644))

	root := newRootCmd()
	require.NoError(t, root.ParseFlags([]string{"-c", cfgFile, "-v", "5", "-b", "memory"}))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, util.TraceLevel, cfg.LogLvl)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, []string{"default", "logs"}, cfg.Roots)
}

func TestLoadConfig_Invalid(t *testing.T) {
	root := newRootCmd()
	require.NoError(t, root.ParseFlags([]string{"-r", "bad:root"}))
	_, err := loadConfig(root)
	assert.Error(t, err)
}

func TestCommands_SingleProcess(t *testing.T) {
	// every invocation opens a fresh memory store
	out, err := run(t, "", "-b", "memory", "ls")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, "", "-b", "memory", "stat", "default:")
	require.NoError(t, err)
	assert.Contains(t, out, "status:   Empty")
	assert.Contains(t, out, "views:    basic")

	_, err = run(t, "hello", "-b", "memory", "put", "-", "a.txt")
	require.NoError(t, err)

	_, err = run(t, "", "-b", "memory", "mkdir", "missing/child")
	assert.Error(t, err)

	_, err = run(t, "", "-b", "memory", "cat", "nope.txt")
	assert.Error(t, err)

	_, err = run(t, "", "-b", "unknown", "ls")
	assert.Error(t, err)
}

func TestApplyCmd(t *testing.T) {
	nodes := filepath.Join(t.TempDir(), "nodes.json")
	require.NoError(t, os.WriteFile(nodes, []byte(`[
		{"type": "dir", "path": "a/b"},
		{"type": "file", "path": "a/b/c.txt", "sources": [{"type": "inline", "text": "c"}]}
	]`), 0o644))

	out, err := run(t, "", "-b", "memory", "apply", nodes)
	require.NoError(t, err)
	assert.Contains(t, out, "created 2 directories, 1 files")

	_, err = run(t, "", "-b", "memory", "apply", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
