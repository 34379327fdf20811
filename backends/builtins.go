package backends

import (
	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/config"
)

// NOTE: If build bloat from the AWS SDK becomes a concern look into build tags
// i.e. //go:build !nos3

type BuiltInBackendType = string

const (
	MemoryBackendType BuiltInBackendType = "memory"
	S3BackendType     BuiltInBackendType = "s3"
)

// RegisterBuiltins registers all built-in backends by default
// or only the specific ones if keys are provided
func RegisterBuiltins(r *Registry, backends ...BuiltInBackendType) {
	if len(backends) == 0 {
		backends = append(backends, MemoryBackendType, S3BackendType)
	}

	for _, key := range backends {
		switch key {
		case MemoryBackendType:
			r.Register(key, ProviderFunc(newMemoryFromConfig))
		case S3BackendType:
			r.Register(key, ProviderFunc(newS3FromConfig))
		}
	}
}

// newMemoryFromConfig creates one container per configured root.
func newMemoryFromConfig(cfg *config.Config) (blobfs.ObjectStore, error) {
	return NewMemoryStore(cfg.Roots...), nil
}

func newS3FromConfig(cfg *config.Config) (blobfs.ObjectStore, error) {
	return NewS3StoreFromOptions(cfg.S3)
}
