package server

import (
	"context"
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/blobfs"
)

// toStatus maps filesystem errors onto errno values.
func toStatus(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, blobfs.ErrClosed):
		return fuse.Status(syscall.EBADF)
	case errors.Is(err, blobfs.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, blobfs.ErrAlreadyExists):
		return fuse.Status(syscall.EEXIST)
	case errors.Is(err, blobfs.ErrDirectoryNotEmpty):
		return fuse.Status(syscall.ENOTEMPTY)
	case errors.Is(err, blobfs.ErrNotDirectory):
		return fuse.ENOTDIR
	case errors.Is(err, blobfs.ErrIsDirectory):
		return fuse.Status(syscall.EISDIR)
	case errors.Is(err, blobfs.ErrUnsupported):
		return fuse.Status(syscall.ENOTSUP)
	case errors.Is(err, blobfs.ErrInvalidPath), errors.Is(err, blobfs.ErrIllegalArgument):
		return fuse.EINVAL
	case errors.Is(err, blobfs.ErrConditionNotMet):
		return fuse.Status(syscall.EAGAIN)
	case errors.Is(err, context.Canceled):
		return fuse.Status(syscall.EINTR)
	}
	return fuse.EIO
}

// requestContext returns a context canceled when the kernel interrupts the
// request. stop must be called once the request is done.
func requestContext(cancel <-chan struct{}) (ctx context.Context, stop context.CancelFunc) {
	ctx, stop = context.WithCancel(context.Background())
	if cancel != nil {
		go func() {
			select {
			case <-cancel:
				stop()
			case <-ctx.Done():
			}
		}()
	}
	return ctx, stop
}
