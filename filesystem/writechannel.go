package filesystem

import (
	"context"
	"fmt"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
)

// WriteChannel is a forward-only byte channel over an [OutputStream]. Position
// and Size both equal the bytes written; seeking and reading are unsupported.
type WriteChannel struct {
	out *OutputStream
}

// NewWriteChannel opens p for writing with the same rules as [FileSystem.NewOutputStream].
func (fs *FileSystem) NewWriteChannel(ctx context.Context, p fspath.Path, opts WriteOptions) (*WriteChannel, error) {
	out, err := fs.NewOutputStream(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	out.closedErr = blobfs.ErrChannelClosed
	return &WriteChannel{out: out}, nil
}

func (c *WriteChannel) Write(b []byte) (int, error) {
	return c.out.Write(b)
}

func (c *WriteChannel) Position() (int64, error) {
	return c.Size()
}

func (c *WriteChannel) Size() (int64, error) {
	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	if err := c.out.checkOpen(); err != nil {
		return 0, err
	}
	return c.out.written, nil
}

func (c *WriteChannel) unsupported(op string) error {
	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	if err := c.out.checkOpen(); err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", op, c.out.path, blobfs.ErrUnsupported)
}

// SetPosition is unsupported.
func (c *WriteChannel) SetPosition(int64) error { return c.unsupported("seek") }

// Seek is unsupported.
func (c *WriteChannel) Seek(int64, int) (int64, error) { return 0, c.unsupported("seek") }

// Truncate is unsupported.
func (c *WriteChannel) Truncate(int64) error { return c.unsupported("truncate") }

// Read is unsupported.
func (c *WriteChannel) Read([]byte) (int, error) { return 0, c.unsupported("read") }

// Flush stages buffered bytes without committing them.
func (c *WriteChannel) Flush() error { return c.out.Flush() }

func (c *WriteChannel) IsOpen() bool { return c.out.IsOpen() }

// Close commits the blob. Closing twice is a no-op.
func (c *WriteChannel) Close() error { return c.out.Close() }
