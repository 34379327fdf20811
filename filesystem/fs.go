// Package filesystem implements a hierarchical filesystem over a flat
// [blobfs.ObjectStore]. Directories are either virtual (inferred from
// descendants) or concrete (a zero-length marker blob).
package filesystem

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

// FileSystem is an open handle onto one object store. Every path, stream and
// channel it creates observes Close.
type FileSystem struct {
	id       uuid.UUID
	uri      string
	store    blobfs.ObjectStore
	cfg      *config.Config
	closed   atomic.Bool
	registry *Registry // nil when opened without one
}

// Open creates a filesystem over store and registers it in reg under uri.
// reg may be nil. A nil cfg uses defaults.
func Open(ctx context.Context, reg *Registry, uri string, store blobfs.ObjectStore, cfg *config.Config) (*FileSystem, error) {
	logger := util.GetLogger("FS.Open")

	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid config: %w", blobfs.ErrIllegalArgument, err)
	}
	fs := &FileSystem{
		id:    uuid.New(),
		uri:   uri,
		store: store,
		cfg:   cfg,
	}

	for _, root := range cfg.Roots {
		ok, err := store.ContainerExists(ctx, root)
		if err != nil {
			return nil, blobfs.WrapTransport("ContainerExists", root, "", err)
		}
		if !ok {
			logger.Warn().Str("uri", uri).Str("root", root).Msg("Configured root has no backing container")
		}
	}

	if reg != nil {
		if err := reg.register(fs); err != nil {
			return nil, err
		}
		fs.registry = reg
	}
	logger.Info().Str("uri", uri).Str("id", fs.id.String()).Strs("roots", cfg.Roots).Msg("Opened filesystem")
	return fs, nil
}

// ID identifies the filesystem. Paths carry it and are only usable with the
// filesystem that created them.
func (fs *FileSystem) ID() uuid.UUID { return fs.id }

// URI is the key the filesystem is registered under.
func (fs *FileSystem) URI() string { return fs.uri }

// Config returns the runtime config. Callers must not modify it.
func (fs *FileSystem) Config() *config.Config { return fs.cfg }

// IsOpen reports whether Close has not been called yet.
func (fs *FileSystem) IsOpen() bool { return !fs.closed.Load() }

// Close marks the filesystem closed and deregisters it. Outstanding streams and
// channels fail with [blobfs.ErrFileSystemClosed] from then on. Closing twice is
// a no-op.
func (fs *FileSystem) Close() error {
	logger := util.GetLogger("FS.Close")

	if fs.closed.Swap(true) {
		return nil
	}
	if fs.registry != nil {
		fs.registry.deregister(fs)
	}
	logger.Info().Str("uri", fs.uri).Str("id", fs.id.String()).Msg("Closed filesystem")
	return nil
}

func (fs *FileSystem) checkOpen() error {
	if fs.closed.Load() {
		return fmt.Errorf("%s: %w", fs.uri, blobfs.ErrFileSystemClosed)
	}
	return nil
}

// GetPath parses first and more, joined by the separator, into a path owned by
// this filesystem.
func (fs *FileSystem) GetPath(first string, more ...string) (fspath.Path, error) {
	if err := fs.checkOpen(); err != nil {
		return fspath.Path{}, err
	}
	return fspath.Join(fs.id, first, more...)
}

// DefaultRoot returns the container relative paths resolve against.
func (fs *FileSystem) DefaultRoot() string { return fs.cfg.DefaultRoot }

// RootDirectories returns one rooted path per configured container.
func (fs *FileSystem) RootDirectories() ([]fspath.Path, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	roots := make([]fspath.Path, 0, len(fs.cfg.Roots))
	for _, r := range fs.cfg.Roots {
		p, err := fspath.Parse(fs.id, r+fspath.RootSuffix)
		if err != nil {
			return nil, err
		}
		roots = append(roots, p)
	}
	return roots, nil
}

// isRoot reports whether name is one of the configured containers.
func (fs *FileSystem) isRoot(name string) bool {
	return slices.Contains(fs.cfg.Roots, name)
}
