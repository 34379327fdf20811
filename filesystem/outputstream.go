package filesystem

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

// WriteOptions control how a write target is opened.
type WriteOptions struct {
	CreateNew   bool // fail with ErrAlreadyExists when the target exists
	ContentType string
	Metadata    map[string]string
}

// OutputStream buffers writes into Config.BlockSize blocks, stages each block as
// it fills and commits the ordered block list on Close. Nothing is visible to
// readers before Close.
type OutputStream struct {
	fs        *FileSystem
	ctx       context.Context
	path      fspath.Path
	res       Resource
	blockSize int
	commit    blobfs.CommitOptions
	closedErr error // reported once closed; channels report ErrChannelClosed

	mu       sync.Mutex
	closed   bool
	buf      []byte
	blockIDs []string
	written  int64
}

// NewOutputStream opens p for writing. The parent directory must exist and p
// must not be a directory.
func (fs *FileSystem) NewOutputStream(ctx context.Context, p fspath.Path, opts WriteOptions) (*OutputStream, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	r, err := fs.Resource(p)
	if err != nil {
		return nil, err
	}
	if r.IsContainerRoot() {
		return nil, &blobfs.PathError{Op: "create", Path: p.String(), Err: blobfs.ErrIsDirectory}
	}
	ok, err := fs.ParentDirectoryExists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &blobfs.PathError{Op: "create", Path: p.String(), Err: fmt.Errorf("parent directory: %w", blobfs.ErrNotFound)}
	}
	st, _, err := fs.status(ctx, r)
	if err != nil {
		return nil, err
	}
	switch {
	case st.IsDirectory():
		return nil, &blobfs.PathError{Op: "create", Path: p.String(), Err: blobfs.ErrIsDirectory}
	case st == NotADirectory && opts.CreateNew:
		return nil, &blobfs.PathError{Op: "create", Path: p.String(), Err: blobfs.ErrAlreadyExists}
	}

	out := &OutputStream{
		fs:        fs,
		ctx:       ctx,
		path:      p,
		res:       r,
		blockSize: fs.cfg.BlockSize,
		commit: blobfs.CommitOptions{
			ContentType: opts.ContentType,
			Metadata:    opts.Metadata,
		},
		closedErr: blobfs.ErrStreamClosed,
		buf:       make([]byte, 0, fs.cfg.BlockSize),
	}
	if opts.CreateNew {
		out.commit.Conditions = &blobfs.Conditions{IfNoneMatch: blobfs.ETagAny}
	}
	return out, nil
}

func (o *OutputStream) checkOpen() error {
	if err := o.fs.checkOpen(); err != nil {
		return err
	}
	if o.closed {
		return fmt.Errorf("%s: %w", o.path, o.closedErr)
	}
	return nil
}

// Write buffers b, staging every block that fills up.
func (o *OutputStream) Write(b []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return 0, err
	}
	n := 0
	for n < len(b) {
		take := min(o.blockSize-len(o.buf), len(b)-n)
		o.buf = append(o.buf, b[n:n+take]...)
		n += take
		o.written += int64(take)
		if len(o.buf) == o.blockSize {
			if err := o.stageLocked(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// stageLocked uploads the buffered bytes as one block.
func (o *OutputStream) stageLocked() error {
	logger := util.GetLogger("FS.OutputStream")

	if len(o.buf) == 0 {
		return nil
	}
	id := newBlockID()
	if err := o.fs.store.StageBlock(o.ctx, o.res.Container, o.res.Key, id, o.buf); err != nil {
		return blobfs.WrapTransport("StageBlock", o.res.Container, o.res.Key, err)
	}
	logger.Trace().
		Str("resource", o.res.String()).
		Int("block", len(o.blockIDs)).
		Int("bytes", len(o.buf)).
		Msg("Staged block")
	o.blockIDs = append(o.blockIDs, id)
	o.buf = o.buf[:0]
	return nil
}

// newBlockID returns a base64 encoded random UUID. All IDs have the same length.
func newBlockID() string {
	id := uuid.New()
	return base64.StdEncoding.EncodeToString(id[:])
}

// Flush stages any partially filled block. It does not make data visible, and
// a store may still hold a small block back until more data arrives.
func (o *OutputStream) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}
	return o.stageLocked()
}

// Written returns the number of bytes accepted so far.
func (o *OutputStream) Written() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

// IsOpen reports whether neither the stream nor its filesystem is closed.
func (o *OutputStream) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.checkOpen() == nil
}

// Abort closes the stream without committing and discards the staged blocks.
// The previous content, if any, is untouched. Only the first call does any work.
func (o *OutputStream) Abort() error {
	logger := util.GetLogger("FS.OutputStream")

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.buf = nil
	logger.Debug().
		Str("resource", o.res.String()).
		Int("blocks", len(o.blockIDs)).
		Msg("Aborted write")
	if len(o.blockIDs) == 0 {
		return nil
	}
	o.blockIDs = nil
	if err := o.fs.store.DiscardBlocks(o.ctx, o.res.Container, o.res.Key); err != nil {
		return blobfs.WrapTransport("DiscardBlocks", o.res.Container, o.res.Key, err)
	}
	return nil
}

// Close stages the remainder and commits all blocks in write order. Only the
// first call does any work.
func (o *OutputStream) Close() error {
	logger := util.GetLogger("FS.OutputStream")

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.fs.checkOpen(); err != nil {
		return err
	}
	if err := o.stageLocked(); err != nil {
		return err
	}
	if err := o.fs.store.CommitBlocks(o.ctx, o.res.Container, o.res.Key, o.blockIDs, &o.commit); err != nil {
		return &blobfs.PathError{Op: "commit", Path: o.path.String(), Err: blobfs.WrapTransport("CommitBlocks", o.res.Container, o.res.Key, err)}
	}
	logger.Debug().
		Str("resource", o.res.String()).
		Int("blocks", len(o.blockIDs)).
		Int64("bytes", o.written).
		Msg("Committed blob")
	o.buf = nil
	return nil
}
