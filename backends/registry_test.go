package backends

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/internal/mocks"
)

func TestRegister_SingleProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	mockProvider := &mocks.MockStoreProvider{}

	r.Register(MemoryBackendType, mockProvider)
	provider, err := r.GetProvider(MemoryBackendType)

	require.NoError(t, err)
	assert.Equal(t, mockProvider, provider)
}

func TestRegister_MultipleProviders(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	mockProvider1 := &mocks.MockStoreProvider{}
	mockProvider2 := &mocks.MockStoreProvider{}

	r.Register("test1", mockProvider1)
	r.Register("test2", mockProvider2)

	provider1, err := r.GetProvider("test1")
	require.NoError(t, err)
	assert.Same(t, mockProvider1, provider1)

	provider2, err := r.GetProvider("test2")
	require.NoError(t, err)
	assert.Same(t, mockProvider2, provider2)
	assert.ElementsMatch(t, []string{"test1", "test2"}, r.Types())
}

func TestRegister_DuplicateProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	mockProvider1 := &mocks.MockStoreProvider{}
	mockProvider2 := &mocks.MockStoreProvider{}

	r.Register("test", mockProvider1)
	r.Register("test", mockProvider2)

	provider, err := r.GetProvider("test")
	require.NoError(t, err)
	assert.Same(t, mockProvider1, provider)
}

func TestRegister_Concurrent(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	r := NewRegistry()

	for i := range 100 {
		wg.Go(func() {
			backendType := fmt.Sprintf("test%d", i)
			mockProvider := &mocks.MockStoreProvider{}
			r.Register(backendType, mockProvider)
			provider, err := r.GetProvider(backendType)
			assert.NoError(t, err)
			assert.Same(t, mockProvider, provider)
		})
	}
	wg.Wait()
	assert.Len(t, r.Types(), 100)
}

func TestGetProvider_NonExistentProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.GetProvider("nonexistent")
	assert.ErrorIs(t, err, blobfs.ErrNotFound)
}

func TestNewStore_ValidConfig(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	mockProvider := &mocks.MockStoreProvider{}
	store := NewMemoryStore()
	r.Register("test", mockProvider)

	cfg := config.NewDefaultConfig()
	cfg.Backend = "test"
	mockProvider.On("NewStore", cfg).Return(store, nil)

	ret, err := r.NewStore(cfg)
	require.NoError(t, err)
	mockProvider.AssertCalled(t, "NewStore", cfg)
	assert.Same(t, store, ret)
}

func TestNewStore_UnregisteredProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	cfg := config.NewDefaultConfig()
	cfg.Backend = "foo"

	_, err := r.NewStore(cfg)
	assert.ErrorIs(t, err, blobfs.ErrNotFound)
}

func TestNewStore_ProviderError(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	mockProvider := &mocks.MockStoreProvider{}
	r.Register("test", mockProvider)

	expErr := fmt.Errorf("test error")
	mockProvider.On("NewStore", mock.Anything).Return(nil, expErr)

	cfg := config.NewDefaultConfig()
	cfg.Backend = "test"
	_, err := r.NewStore(cfg)
	require.Error(t, err)
	mockProvider.AssertExpectations(t)
	assert.Equal(t, expErr, err)
}

func TestNewStore_Metrics(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterBuiltins(r, MemoryBackendType)
	r.UseMetrics(NewMetrics(prometheus.NewRegistry()))

	cfg := config.NewDefaultConfig()
	cfg.Metrics = true
	store, err := r.NewStore(cfg)
	require.NoError(t, err)

	inst, ok := store.(*InstrumentedStore)
	require.True(t, ok, "store should be instrumented")
	assert.IsType(t, &MemoryStore{}, inst.Unwrap())

	cfg.Metrics = false
	store, err = r.NewStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	t.Run("all by default", func(t *testing.T) {
		r := NewRegistry()
		RegisterBuiltins(r)
		assert.ElementsMatch(t, []string{MemoryBackendType, S3BackendType}, r.Types())
	})

	t.Run("memory store has configured roots", func(t *testing.T) {
		r := NewRegistry()
		RegisterBuiltins(r, MemoryBackendType)

		cfg := config.NewConfig(&config.ConfigOverride{Roots: []string{"photos"}})
		store, err := r.NewStore(cfg)
		require.NoError(t, err)

		for _, root := range []string{config.DefaultRoot, "photos"} {
			ok, err := store.ContainerExists(context.Background(), root)
			require.NoError(t, err)
			assert.True(t, ok, root)
		}
	})
}
