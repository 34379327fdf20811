package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/config"
)

// MockObjectStore implements blobfs.ObjectStore for testing across packages
type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) GetProperties(ctx context.Context, container, key string) (*blobfs.BlobProperties, error) {
	args := m.Called(ctx, container, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blobfs.BlobProperties), args.Error(1)
}

func (m *MockObjectStore) PutMarker(ctx context.Context, container, key string, cond *blobfs.Conditions) error {
	args := m.Called(ctx, container, key, cond)
	return args.Error(0)
}

func (m *MockObjectStore) ListFlat(ctx context.Context, container string, opts blobfs.ListOptions) (*blobfs.ListPage, error) {
	args := m.Called(ctx, container, opts)

	// Handle function return types (for paging tests)
	if fn, ok := args.Get(0).(func(blobfs.ListOptions) *blobfs.ListPage); ok {
		return fn(opts), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blobfs.ListPage), args.Error(1)
}

func (m *MockObjectStore) Delete(ctx context.Context, container, key string) error {
	args := m.Called(ctx, container, key)
	return args.Error(0)
}

func (m *MockObjectStore) OpenRangeRead(ctx context.Context, container, key string, offset, length int64) (io.ReadCloser, error) {
	args := m.Called(ctx, container, key, offset, length)

	// Handle function return types (for complex tests)
	if fn, ok := args.Get(0).(func(int64, int64) io.ReadCloser); ok {
		return fn(offset, length), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockObjectStore) StageBlock(ctx context.Context, container, key, blockID string, data []byte) error {
	args := m.Called(ctx, container, key, blockID, data)
	return args.Error(0)
}

func (m *MockObjectStore) CommitBlocks(ctx context.Context, container, key string, blockIDs []string, opts *blobfs.CommitOptions) error {
	args := m.Called(ctx, container, key, blockIDs, opts)
	return args.Error(0)
}

func (m *MockObjectStore) DiscardBlocks(ctx context.Context, container, key string) error {
	args := m.Called(ctx, container, key)
	return args.Error(0)
}

func (m *MockObjectStore) Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string, cond *blobfs.Conditions) error {
	args := m.Called(ctx, srcContainer, srcKey, dstContainer, dstKey, cond)
	return args.Error(0)
}

func (m *MockObjectStore) ContainerExists(ctx context.Context, container string) (bool, error) {
	args := m.Called(ctx, container)
	return args.Bool(0), args.Error(1)
}

var _ blobfs.ObjectStore = (*MockObjectStore)(nil)

// MockStoreProvider builds stores from a config for registry tests
type MockStoreProvider struct {
	mock.Mock
}

func (m *MockStoreProvider) NewStore(cfg *config.Config) (blobfs.ObjectStore, error) {
	args := m.Called(cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(blobfs.ObjectStore), args.Error(1)
}
