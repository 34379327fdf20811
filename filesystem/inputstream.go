package filesystem

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
)

// InputStream reads a blob sequentially through a buffer filled by one ranged
// download of Config.ChunkSize bytes at a time. It supports Mark and Reset.
type InputStream struct {
	fs    *FileSystem
	ctx   context.Context
	path  fspath.Path
	res   Resource
	size  int64
	chunk int

	mu       sync.Mutex
	closed   bool
	buf      []byte
	bufStart int64 // blob offset of buf[0]
	pos      int64
	mark     int64 // -1 when unset
	limit    int64
}

// NewInputStream opens p for buffered sequential reads.
func (fs *FileSystem) NewInputStream(ctx context.Context, p fspath.Path) (*InputStream, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	r, props, err := fs.openForRead(ctx, p)
	if err != nil {
		return nil, err
	}
	return &InputStream{
		fs:    fs,
		ctx:   ctx,
		path:  p,
		res:   r,
		size:  props.Size,
		chunk: fs.cfg.ChunkSize,
		mark:  -1,
	}, nil
}

func (s *InputStream) checkOpen() error {
	if err := s.fs.checkOpen(); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("%s: %w", s.path, blobfs.ErrStreamClosed)
	}
	return nil
}

// Read copies buffered bytes into b, refilling the buffer when it is drained.
func (s *InputStream) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}
	if s.pos >= s.size {
		return 0, io.EOF
	}
	if s.pos < s.bufStart || s.pos >= s.bufStart+int64(len(s.buf)) {
		if err := s.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(b, s.buf[s.pos-s.bufStart:])
	s.pos += int64(n)
	return n, nil
}

func (s *InputStream) fill() error {
	want := int(min(int64(s.chunk), s.size-s.pos))
	rc, err := s.fs.store.OpenRangeRead(s.ctx, s.res.Container, s.res.Key, s.pos, int64(want))
	if err != nil {
		return blobfs.WrapTransport("OpenRangeRead", s.res.Container, s.res.Key, err)
	}
	defer rc.Close()

	if cap(s.buf) < s.chunk {
		s.buf = make([]byte, 0, s.chunk)
	}
	n, err := io.ReadFull(rc, s.buf[:want])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		s.buf = s.buf[:0]
		return blobfs.WrapTransport("Read", s.res.Container, s.res.Key, err)
	}
	s.buf = s.buf[:n]
	s.bufStart = s.pos
	if n == 0 {
		// blob shrank since open
		return io.EOF
	}
	return nil
}

// Skip advances up to n bytes without reading them and returns how many were
// skipped.
func (s *InputStream) Skip(n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	skipped := min(n, max(s.size-s.pos, 0))
	s.pos += skipped
	return skipped, nil
}

// Mark remembers the current position. Reset may return to it as long as no
// more than limit bytes were read in between.
func (s *InputStream) Mark(limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mark = s.pos
	s.limit = int64(limit)
	return nil
}

// Reset returns to the last mark. It fails with [blobfs.ErrInvalidMark] when no
// mark was set or the mark's read limit was exceeded.
func (s *InputStream) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.mark < 0 {
		return fmt.Errorf("%s: no mark set: %w", s.path, blobfs.ErrInvalidMark)
	}
	if s.pos-s.mark > s.limit {
		return fmt.Errorf("%s: read %d bytes past mark with limit %d: %w", s.path, s.pos-s.mark, s.limit, blobfs.ErrInvalidMark)
	}
	s.pos = s.mark
	return nil
}

// MarkSupported is always true.
func (s *InputStream) MarkSupported() bool { return true }

// Available returns the number of bytes that can be read without a download.
func (s *InputStream) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	end := s.bufStart + int64(len(s.buf))
	if s.pos < s.bufStart || s.pos >= end {
		return 0, nil
	}
	return int(end - s.pos), nil
}

// Size returns the blob size observed at open.
func (s *InputStream) Size() int64 { return s.size }

// Position returns the number of bytes consumed so far.
func (s *InputStream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Close releases the buffer. Closing twice is a no-op.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buf = nil
	return nil
}
