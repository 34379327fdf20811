package filesystem

import (
	"context"
	"errors"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

// DirectoryStatus classifies a path at the time it was observed. Two
// observations may disagree under concurrent writers.
type DirectoryStatus int

const (
	DoesNotExist  DirectoryStatus = iota
	NotADirectory                 // a blob that is not a marker exists at the key
	Empty                         // a marker exists and nothing is stored below it
	NotEmpty                      // at least one blob is stored below the key
)

func (s DirectoryStatus) String() string {
	switch s {
	case DoesNotExist:
		return "DoesNotExist"
	case NotADirectory:
		return "NotADirectory"
	case Empty:
		return "Empty"
	case NotEmpty:
		return "NotEmpty"
	}
	return "DirectoryStatus(?)"
}

// IsDirectory reports whether s is Empty or NotEmpty.
func (s DirectoryStatus) IsDirectory() bool {
	return s == Empty || s == NotEmpty
}

// Status infers the directory status of p from at most one property lookup and
// one single-entry listing.
func (fs *FileSystem) Status(ctx context.Context, p fspath.Path) (DirectoryStatus, error) {
	if err := fs.checkOpen(); err != nil {
		return DoesNotExist, err
	}
	r, err := fs.Resource(p)
	if err != nil {
		return DoesNotExist, err
	}
	st, _, err := fs.status(ctx, r)
	return st, err
}

// status also returns the blob properties when a blob exists at exactly r.Key.
func (fs *FileSystem) status(ctx context.Context, r Resource) (DirectoryStatus, *blobfs.BlobProperties, error) {
	logger := util.GetLogger("FS.Status")

	var props *blobfs.BlobProperties
	if !r.IsContainerRoot() {
		var err error
		props, err = fs.store.GetProperties(ctx, r.Container, r.Key)
		switch {
		case errors.Is(err, blobfs.ErrNotFound):
			props = nil
		case err != nil:
			return DoesNotExist, nil, blobfs.WrapTransport("GetProperties", r.Container, r.Key, err)
		case !props.IsDirectoryMarker:
			return NotADirectory, props, nil
		}
	}

	// The separator-terminated prefix plus delimiter grouping keeps siblings like
	// "dir2" or "dir.txt" out of the result.
	page, err := fs.store.ListFlat(ctx, r.Container, blobfs.ListOptions{
		Prefix:     r.dirPrefix(),
		Delimiter:  blobfs.Separator,
		MaxResults: 1,
	})
	if errors.Is(err, blobfs.ErrNotFound) {
		// missing container
		return DoesNotExist, nil, nil
	}
	if err != nil {
		return DoesNotExist, nil, blobfs.WrapTransport("ListFlat", r.Container, r.dirPrefix(), err)
	}

	st := DoesNotExist
	switch {
	case len(page.Blobs) > 0 || len(page.CommonPrefixes) > 0:
		st = NotEmpty
	case props != nil || r.IsContainerRoot():
		st = Empty
	}
	logger.Debug().Str("resource", r.String()).Stringer("status", st).Msg("Resolved status")
	return st, props, nil
}

// ParentDirectoryExists reports whether p's parent is an existing directory.
// The top level of a configured root always exists; deeper parents are checked
// against their own root.
func (fs *FileSystem) ParentDirectoryExists(ctx context.Context, p fspath.Path) (bool, error) {
	if err := fs.checkOpen(); err != nil {
		return false, err
	}
	parent, ok := p.Normalize().Parent()
	if !ok || parent.IsRoot() {
		root := p.RootName()
		if root == "" {
			root = fs.cfg.DefaultRoot
		}
		return fs.isRoot(root), nil
	}
	st, err := fs.Status(ctx, parent)
	if err != nil {
		return false, err
	}
	return st.IsDirectory(), nil
}
