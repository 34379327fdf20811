package filesystem

import (
	"context"
	"errors"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

// CreateDirectory writes a directory marker at p. It fails with
// [blobfs.ErrAlreadyExists] when anything exists at p, including a virtual
// directory, and with [blobfs.ErrNotFound] when the parent is missing.
func (fs *FileSystem) CreateDirectory(ctx context.Context, p fspath.Path) error {
	logger := util.GetLogger("FS.CreateDirectory")

	if err := fs.checkOpen(); err != nil {
		return err
	}
	r, err := fs.Resource(p)
	if err != nil {
		return err
	}
	if r.IsContainerRoot() {
		return &blobfs.PathError{Op: "mkdir", Path: p.String(), Err: blobfs.ErrAlreadyExists}
	}
	st, _, err := fs.status(ctx, r)
	if err != nil {
		return err
	}
	if st != DoesNotExist {
		return &blobfs.PathError{Op: "mkdir", Path: p.String(), Err: blobfs.ErrAlreadyExists}
	}
	ok, err := fs.ParentDirectoryExists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return &blobfs.PathError{Op: "mkdir", Path: p.String(), Err: blobfs.ErrNotFound}
	}

	err = fs.store.PutMarker(ctx, r.Container, r.Key, &blobfs.Conditions{IfNoneMatch: blobfs.ETagAny})
	if errors.Is(err, blobfs.ErrAlreadyExists) {
		// lost a race with another writer
		return &blobfs.PathError{Op: "mkdir", Path: p.String(), Err: blobfs.WrapTransport("PutMarker", r.Container, r.Key, err)}
	}
	if err != nil {
		logger.Error().Err(err).Str("resource", r.String()).Msg("Failed to create directory marker")
		return blobfs.WrapTransport("PutMarker", r.Container, r.Key, err)
	}
	logger.Info().Str("resource", r.String()).Msg("Created directory")
	return nil
}

// Delete removes the file or empty concrete directory at p. A virtual
// directory always has children and fails with [blobfs.ErrDirectoryNotEmpty].
func (fs *FileSystem) Delete(ctx context.Context, p fspath.Path) error {
	logger := util.GetLogger("FS.Delete")

	if err := fs.checkOpen(); err != nil {
		return err
	}
	r, err := fs.Resource(p)
	if err != nil {
		return err
	}
	if r.IsContainerRoot() {
		return &blobfs.PathError{Op: "delete", Path: p.String(), Err: blobfs.ErrUnsupported}
	}
	st, _, err := fs.status(ctx, r)
	if err != nil {
		return err
	}
	switch st {
	case DoesNotExist:
		return &blobfs.PathError{Op: "delete", Path: p.String(), Err: blobfs.ErrNotFound}
	case NotEmpty:
		return &blobfs.PathError{Op: "delete", Path: p.String(), Err: blobfs.ErrDirectoryNotEmpty}
	}

	if err := fs.store.Delete(ctx, r.Container, r.Key); err != nil {
		if errors.Is(err, blobfs.ErrNotFound) {
			return &blobfs.PathError{Op: "delete", Path: p.String(), Err: blobfs.WrapTransport("Delete", r.Container, r.Key, err)}
		}
		logger.Error().Err(err).Str("resource", r.String()).Msg("Failed to delete blob")
		return blobfs.WrapTransport("Delete", r.Container, r.Key, err)
	}
	logger.Info().Str("resource", r.String()).Stringer("status", st).Msg("Deleted")
	return nil
}

// CopyOptions control [FileSystem.Copy].
type CopyOptions struct {
	ReplaceExisting bool
}

// Copy copies src to dst. A file is copied server-side; a directory, virtual
// or concrete, becomes an empty marker at dst without its children. Copying a
// path onto itself does nothing.
func (fs *FileSystem) Copy(ctx context.Context, src, dst fspath.Path, opts CopyOptions) error {
	logger := util.GetLogger("FS.Copy")

	if err := fs.checkOpen(); err != nil {
		return err
	}
	sr, err := fs.Resource(src)
	if err != nil {
		return err
	}
	dr, err := fs.Resource(dst)
	if err != nil {
		return err
	}
	if dr.IsContainerRoot() {
		return &blobfs.PathError{Op: "copy", Path: dst.String(), Err: blobfs.ErrUnsupported}
	}

	srcSt, _, err := fs.status(ctx, sr)
	if err != nil {
		return err
	}
	if srcSt == DoesNotExist {
		return &blobfs.PathError{Op: "copy", Path: src.String(), Err: blobfs.ErrNotFound}
	}
	if sr == dr {
		return nil
	}

	dstSt, _, err := fs.status(ctx, dr)
	if err != nil {
		return err
	}
	switch {
	case dstSt != DoesNotExist && !opts.ReplaceExisting:
		return &blobfs.PathError{Op: "copy", Path: dst.String(), Err: blobfs.ErrAlreadyExists}
	case dstSt == NotEmpty:
		return &blobfs.PathError{Op: "copy", Path: dst.String(), Err: blobfs.ErrDirectoryNotEmpty}
	}
	ok, err := fs.ParentDirectoryExists(ctx, dst)
	if err != nil {
		return err
	}
	if !ok {
		return &blobfs.PathError{Op: "copy", Path: dst.String(), Err: blobfs.ErrNotFound}
	}

	var cond *blobfs.Conditions
	if !opts.ReplaceExisting {
		cond = &blobfs.Conditions{IfNoneMatch: blobfs.ETagAny}
	}
	if srcSt.IsDirectory() {
		if dstSt == Empty {
			// an equivalent marker is already there
			return nil
		}
		if dstSt == NotADirectory {
			if err := fs.store.Delete(ctx, dr.Container, dr.Key); err != nil && !errors.Is(err, blobfs.ErrNotFound) {
				return blobfs.WrapTransport("Delete", dr.Container, dr.Key, err)
			}
		}
		if err := fs.store.PutMarker(ctx, dr.Container, dr.Key, cond); err != nil {
			return blobfs.WrapTransport("PutMarker", dr.Container, dr.Key, err)
		}
	} else if err := fs.store.Copy(ctx, sr.Container, sr.Key, dr.Container, dr.Key, cond); err != nil {
		return blobfs.WrapTransport("Copy", dr.Container, dr.Key, err)
	}
	logger.Info().Str("src", sr.String()).Str("dst", dr.String()).Stringer("kind", srcSt).Msg("Copied")
	return nil
}
