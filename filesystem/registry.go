package filesystem

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/internal/util"
)

// Registry tracks open filesystems by URI. A URI can be opened again once the
// filesystem registered under it is closed.
type Registry struct {
	open *xsync.Map[string, *FileSystem]
}

func NewRegistry() *Registry {
	return &Registry{open: xsync.NewMap[string, *FileSystem]()}
}

func (r *Registry) register(fs *FileSystem) error {
	if _, loaded := r.open.LoadOrStore(fs.uri, fs); loaded {
		return fmt.Errorf("filesystem %q: %w", fs.uri, blobfs.ErrAlreadyExists)
	}
	return nil
}

// deregister removes fs only if it is still the one registered under its URI.
func (r *Registry) deregister(fs *FileSystem) {
	r.open.Compute(fs.uri, func(cur *FileSystem, loaded bool) (*FileSystem, xsync.ComputeOp) {
		if loaded && cur == fs {
			return nil, xsync.DeleteOp
		}
		return cur, xsync.CancelOp
	})
}

// Lookup returns the open filesystem registered under uri.
func (r *Registry) Lookup(uri string) (*FileSystem, error) {
	fs, ok := r.open.Load(uri)
	if !ok {
		return nil, fmt.Errorf("filesystem %q: %w", uri, blobfs.ErrNotFound)
	}
	return fs, nil
}

// Len returns the number of open filesystems.
func (r *Registry) Len() int { return r.open.Size() }

// CloseAll closes every registered filesystem and returns their errors combined.
func (r *Registry) CloseAll() error {
	logger := util.GetLogger("FS.Registry")

	var result *multierror.Error
	var all []*FileSystem
	r.open.Range(func(_ string, fs *FileSystem) bool {
		all = append(all, fs)
		return true
	})
	for _, fs := range all {
		if err := fs.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", fs.uri, err))
		}
	}
	logger.Debug().Int("closed", len(all)).Msg("Closed all filesystems")
	return result.ErrorOrNil()
}
