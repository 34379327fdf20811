package filesystem

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/backends"
	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/fspath"
)

const testRoot = config.DefaultRoot

// recordingStore counts store round trips and can inject listing failures.
type recordingStore struct {
	blobfs.ObjectStore

	lists      atomic.Int64
	rangeReads atomic.Int64
	staged     atomic.Int64

	mu         sync.Mutex
	listErr    error
	commitIDs  []string
	commitOpts *blobfs.CommitOptions
}

func (s *recordingStore) ListFlat(ctx context.Context, container string, opts blobfs.ListOptions) (*blobfs.ListPage, error) {
	s.lists.Add(1)
	s.mu.Lock()
	err := s.listErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.ObjectStore.ListFlat(ctx, container, opts)
}

func (s *recordingStore) OpenRangeRead(ctx context.Context, container, key string, offset, length int64) (io.ReadCloser, error) {
	s.rangeReads.Add(1)
	return s.ObjectStore.OpenRangeRead(ctx, container, key, offset, length)
}

func (s *recordingStore) StageBlock(ctx context.Context, container, key, blockID string, data []byte) error {
	s.staged.Add(1)
	return s.ObjectStore.StageBlock(ctx, container, key, blockID, data)
}

func (s *recordingStore) CommitBlocks(ctx context.Context, container, key string, blockIDs []string, opts *blobfs.CommitOptions) error {
	s.mu.Lock()
	s.commitIDs = append([]string(nil), blockIDs...)
	s.commitOpts = opts
	s.mu.Unlock()
	return s.ObjectStore.CommitBlocks(ctx, container, key, blockIDs, opts)
}

func (s *recordingStore) failListing(err error) {
	s.mu.Lock()
	s.listErr = err
	s.mu.Unlock()
}

func (s *recordingStore) lastCommit() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitIDs
}

type testFS struct {
	*FileSystem
	mem *backends.MemoryStore
	rec *recordingStore
}

// newTestFS opens a filesystem over a fresh memory store holding the default
// root. mutate may adjust the config before open.
func newTestFS(t *testing.T, mutate func(*config.Config)) *testFS {
	t.Helper()
	cfg := config.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	mem := backends.NewMemoryStore(cfg.Roots...)
	rec := &recordingStore{ObjectStore: mem}
	fs, err := Open(context.Background(), nil, "mem://"+t.Name(), rec, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return &testFS{FileSystem: fs, mem: mem, rec: rec}
}

func (tf *testFS) path(t *testing.T, s string) fspath.Path {
	t.Helper()
	p, err := tf.GetPath(s)
	require.NoError(t, err)
	return p
}

func (tf *testFS) putFile(t *testing.T, key string, data string) {
	t.Helper()
	require.NoError(t, tf.mem.PutBlob(testRoot, key, []byte(data), nil))
}

func (tf *testFS) putMarker(t *testing.T, key string) {
	t.Helper()
	require.NoError(t, tf.mem.PutBlob(testRoot, key, nil, blobfs.MarkerMetadata()))
}

// names drains a directory listing into child names.
func names(t *testing.T, it *DirectoryIterator) []string {
	t.Helper()
	var out []string
	for e, err := range it.All() {
		require.NoError(t, err)
		out = append(out, e.Name())
	}
	return out
}
