package requests

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobfs/backends"
	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/filesystem"
)

func newFS(t *testing.T) (*filesystem.FileSystem, *backends.MemoryStore) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	mem := backends.NewMemoryStore(cfg.Roots...)
	fs, err := filesystem.Open(context.Background(), nil, "mem://"+t.Name(), mem, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs, mem
}

func readAll(t *testing.T, mem *backends.MemoryStore, key string) string {
	t.Helper()
	rc, err := mem.OpenRangeRead(context.Background(), config.DefaultRoot, key, 0, -1)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestApply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/remote":
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			_, _ = w.Write([]byte("from http"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "local.txt")
	require.NoError(t, os.WriteFile(local, []byte("from disk"), 0o644))

	nodes, skipped, err := ParseNodes([]byte(`[
		{"type": "dir", "path": "empty/nested"},
		{"type": "file", "path": "deep/down/inline.txt", "content_type": "text/plain",
			"sources": [{"type": "inline", "text": "inline"}]},
		{"type": "file", "path": "remote.txt",
			"sources": [{"type": "http", "url": "` + srv.URL + `/remote", "headers": {"X-Test": "yes"}}]},
		{"type": "file", "path": "fallback.txt", "sources": [
			{"type": "http", "url": "` + srv.URL + `/missing"},
			{"type": "local", "path": "` + local + `"}
		]}
	]`))
	require.NoError(t, err)
	require.Zero(t, skipped)

	fs, mem := newFS(t)
	res, err := Apply(context.Background(), fs, nodes)
	require.NoError(t, err)
	assert.Equal(t, Result{Dirs: 4, Files: 3}, res)

	assert.Equal(t, "inline", readAll(t, mem, "deep/down/inline.txt"))
	assert.Equal(t, "from http", readAll(t, mem, "remote.txt"))
	assert.Equal(t, "from disk", readAll(t, mem, "fallback.txt"))

	props, err := mem.GetProperties(context.Background(), config.DefaultRoot, "deep/down/inline.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", props.ContentType)

	for _, dir := range []string{"empty", "empty/nested", "deep", "deep/down"} {
		p, err := fs.GetPath(dir)
		require.NoError(t, err)
		st, err := fs.Status(context.Background(), p)
		require.NoError(t, err)
		assert.True(t, st.IsDirectory(), dir)
	}
}

func TestApply_ExistingAndFailures(t *testing.T) {
	fs, mem := newFS(t)
	require.NoError(t, mem.PutBlob(config.DefaultRoot, "keep.txt", []byte("old"), nil))
	require.NoError(t, mem.PutBlob(config.DefaultRoot, "replace.txt", []byte("old"), nil))
	require.NoError(t, mem.PutBlob(config.DefaultRoot, "file", []byte("not a dir"), nil))

	nodes, _, err := ParseNodes([]byte(`[
		{"type": "file", "path": "keep.txt", "sources": [{"type": "inline", "text": "new"}]},
		{"type": "file", "path": "replace.txt", "replace": true, "sources": [{"type": "inline", "text": "new"}]},
		{"type": "file", "path": "gone.txt", "sources": [{"type": "local", "path": "/does/not/exist"}]},
		{"type": "dir", "path": "file/sub"}
	]`))
	require.NoError(t, err)

	res, err := Apply(context.Background(), fs, nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.txt")
	assert.Contains(t, err.Error(), "not a directory")
	assert.Equal(t, Result{Files: 1, Skipped: 1}, res)

	assert.Equal(t, "old", readAll(t, mem, "keep.txt"))
	assert.Equal(t, "new", readAll(t, mem, "replace.txt"))
}
