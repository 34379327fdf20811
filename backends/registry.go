package backends

import (
	"fmt"
	"sync"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/internal/util"
)

// StoreProvider builds an object store from the runtime config. One provider is
// registered per backend type.
type StoreProvider interface {
	NewStore(cfg *config.Config) (blobfs.ObjectStore, error)
}

// ProviderFunc adapts a plain function to [StoreProvider].
type ProviderFunc func(cfg *config.Config) (blobfs.ObjectStore, error)

func (f ProviderFunc) NewStore(cfg *config.Config) (blobfs.ObjectStore, error) {
	return f(cfg)
}

// Registry maps backend type names (config.Config.Backend) to their providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]StoreProvider
	metrics   *Metrics
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]StoreProvider)}
}

// Register ties a provider to a backend type and should be called for each
// backend type during app init. The first registration for a type wins.
func (r *Registry) Register(backendType string, p StoreProvider) {
	logger := util.GetLogger("Backends.Register")

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[backendType]; exists {
		logger.Debug().Str("type", backendType).Msg("Backend already registered")
		return
	}
	r.providers[backendType] = p
}

// GetProvider returns the provider registered for backendType.
func (r *Registry) GetProvider(backendType string) (StoreProvider, error) {
	r.mu.RLock()
	p, ok := r.providers[backendType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider for backend %q: %w", backendType, blobfs.ErrNotFound)
	}
	return p, nil
}

// Types returns the registered backend type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	return types
}

// UseMetrics makes [Registry.NewStore] wrap stores with m when cfg.Metrics is set.
func (r *Registry) UseMetrics(m *Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// NewStore picks the provider for cfg.Backend and builds the store.
// All expected backend types should be registered with [Registry.Register]
// before calling this function.
func (r *Registry) NewStore(cfg *config.Config) (blobfs.ObjectStore, error) {
	logger := util.GetLogger("Backends.NewStore")

	p, err := r.GetProvider(cfg.Backend)
	if err != nil {
		return nil, err
	}
	store, err := p.NewStore(cfg)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.Backend).Msg("Failed to create store")
		return nil, err
	}
	r.mu.RLock()
	m := r.metrics
	r.mu.RUnlock()
	if cfg.Metrics && m != nil {
		store = Instrument(store, cfg.Backend, m)
	}
	logger.Debug().Str("backend", cfg.Backend).Bool("metrics", cfg.Metrics).Msg("Created store")
	return store, nil
}
