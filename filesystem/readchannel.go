package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

type readState int

const (
	readUnopened  readState = iota // no range download open; next read opens one at pos
	readStreaming                  // body is open at pos
	readExhausted                  // end of data seen at pos
	readClosed
)

// ReadChannel is a seekable, read-only byte channel over one blob. Seeking only
// moves the cursor; the ranged download is re-opened lazily on the next read.
// Not safe for concurrent use beyond Close.
type ReadChannel struct {
	fs   *FileSystem
	ctx  context.Context
	path fspath.Path
	res  Resource
	size int64

	mu    sync.Mutex
	state readState
	pos   int64
	body  io.ReadCloser
}

// NewReadChannel opens p for reading. The blob's size is fixed at open.
func (fs *FileSystem) NewReadChannel(ctx context.Context, p fspath.Path) (*ReadChannel, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	r, props, err := fs.openForRead(ctx, p)
	if err != nil {
		return nil, err
	}
	return &ReadChannel{fs: fs, ctx: ctx, path: p, res: r, size: props.Size}, nil
}

// openForRead resolves p and checks it names a readable blob.
func (fs *FileSystem) openForRead(ctx context.Context, p fspath.Path) (Resource, *blobfs.BlobProperties, error) {
	r, err := fs.Resource(p)
	if err != nil {
		return Resource{}, nil, err
	}
	if r.IsContainerRoot() {
		return Resource{}, nil, &blobfs.PathError{Op: "open", Path: p.String(), Err: blobfs.ErrIsDirectory}
	}
	props, err := fs.store.GetProperties(ctx, r.Container, r.Key)
	if errors.Is(err, blobfs.ErrNotFound) {
		return Resource{}, nil, &blobfs.PathError{Op: "open", Path: p.String(), Err: blobfs.WrapTransport("GetProperties", r.Container, r.Key, err)}
	}
	if err != nil {
		return Resource{}, nil, blobfs.WrapTransport("GetProperties", r.Container, r.Key, err)
	}
	if props.IsDirectoryMarker {
		return Resource{}, nil, &blobfs.PathError{Op: "open", Path: p.String(), Err: blobfs.ErrIsDirectory}
	}
	return r, props, nil
}

// checkOpen reports a closed filesystem before a closed channel.
func (c *ReadChannel) checkOpen() error {
	if err := c.fs.checkOpen(); err != nil {
		return err
	}
	if c.state == readClosed {
		return fmt.Errorf("%s: %w", c.path, blobfs.ErrChannelClosed)
	}
	return nil
}

// Read reads up to len(b) bytes at the current position. At end of data it
// returns 0, io.EOF, on every call.
func (c *ReadChannel) Read(b []byte) (int, error) {
	logger := util.GetLogger("FS.ReadChannel")

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}

	switch c.state {
	case readExhausted:
		return 0, io.EOF
	case readUnopened:
		if c.pos >= c.size {
			c.state = readExhausted
			return 0, io.EOF
		}
		// bytes appended after open stay invisible
		body, err := c.fs.store.OpenRangeRead(c.ctx, c.res.Container, c.res.Key, c.pos, c.size-c.pos)
		if err != nil {
			return 0, blobfs.WrapTransport("OpenRangeRead", c.res.Container, c.res.Key, err)
		}
		logger.Trace().Str("resource", c.res.String()).Int64("pos", c.pos).Msg("Opened ranged read")
		c.body = body
		c.state = readStreaming
	}

	n, err := c.body.Read(b)
	c.pos += int64(n)
	switch {
	case errors.Is(err, io.EOF):
		c.dropBody()
		c.state = readExhausted
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	case err != nil:
		c.dropBody()
		c.state = readUnopened
		return n, blobfs.WrapTransport("Read", c.res.Container, c.res.Key, err)
	}
	return n, nil
}

// Position returns the read cursor.
func (c *ReadChannel) Position() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return c.pos, nil
}

// SetPosition moves the read cursor. Positions past the end are allowed and
// read as end of data.
func (c *ReadChannel) SetPosition(pos int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.setPositionLocked(pos)
}

func (c *ReadChannel) setPositionLocked(pos int64) error {
	if pos < 0 {
		return fmt.Errorf("%w: negative position %d", blobfs.ErrIllegalArgument, pos)
	}
	if pos == c.pos {
		return nil
	}
	c.dropBody()
	c.state = readUnopened
	c.pos = pos
	return nil
}

// Seek implements io.Seeker on top of SetPosition.
func (c *ReadChannel) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = c.pos + offset
	case io.SeekEnd:
		abs = c.size + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", blobfs.ErrIllegalArgument, whence)
	}
	if err := c.setPositionLocked(abs); err != nil {
		return 0, err
	}
	return c.pos, nil
}

// ReadAt reads len(b) bytes at off, moving the cursor. It returns io.EOF when
// fewer bytes are available.
func (c *ReadChannel) ReadAt(b []byte, off int64) (int, error) {
	if err := c.SetPosition(off); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(c, b)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

// Size returns the blob size observed when the channel was opened.
func (c *ReadChannel) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return c.size, nil
}

// Truncate is unsupported on a read channel.
func (c *ReadChannel) Truncate(int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return fmt.Errorf("truncate %s: %w", c.path, blobfs.ErrUnsupported)
}

// Write is unsupported on a read channel.
func (c *ReadChannel) Write([]byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("write %s: %w", c.path, blobfs.ErrUnsupported)
}

// IsOpen reports whether neither the channel nor its filesystem is closed.
func (c *ReadChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkOpen() == nil
}

// Close releases the open download. Closing twice is a no-op.
func (c *ReadChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == readClosed {
		return nil
	}
	c.dropBody()
	c.state = readClosed
	return nil
}

func (c *ReadChannel) dropBody() {
	if c.body != nil {
		_ = c.body.Close()
		c.body = nil
	}
}
