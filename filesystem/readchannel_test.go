package filesystem

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/config"
)

func openReadChannel(t *testing.T, tf *testFS, path string) *ReadChannel {
	t.Helper()
	rc, err := tf.NewReadChannel(context.Background(), tf.path(t, path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestReadChannel_ReadSeek(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, nil)
	tf.putFile(t, "f", "hello world")
	rc := openReadChannel(t, tf, "f")

	size, err := rc.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)

	buf := make([]byte, 5)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	pos, err := rc.Position()
	require.NoError(t, err)
	assert.EqualValues(t, 5, pos)

	require.NoError(t, rc.SetPosition(6))
	rest, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "world", string(rest))

	for range 2 {
		n, err = rc.Read(buf)
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
	}

	abs, err := rc.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 6, abs)
	abs, err = rc.Seek(-1, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 5, abs)
	n, err = rc.Read(buf[:1])
	require.NoError(t, err)
	assert.Equal(t, " ", string(buf[:n]))
}

func TestReadChannel_PositionBounds(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, nil)
	tf.putFile(t, "f", "abc")
	rc := openReadChannel(t, tf, "f")

	require.NoError(t, rc.SetPosition(3))
	n, err := rc.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, rc.SetPosition(100))
	_, err = rc.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)

	err = rc.SetPosition(-1)
	assert.ErrorIs(t, err, blobfs.ErrIllegalArgument)
	pos, err := rc.Position()
	require.NoError(t, err)
	assert.EqualValues(t, 100, pos)

	_, err = rc.Seek(0, 42)
	assert.ErrorIs(t, err, blobfs.ErrIllegalArgument)
}

func TestReadChannel_ReopensLazily(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, nil)
	tf.putFile(t, "f", "0123456789")
	rc := openReadChannel(t, tf, "f")
	assert.EqualValues(t, 0, tf.rec.rangeReads.Load())

	buf := make([]byte, 2)
	for range 3 {
		_, err := rc.Read(buf)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, tf.rec.rangeReads.Load(), "sequential reads share one download")

	require.NoError(t, rc.SetPosition(1))
	require.NoError(t, rc.SetPosition(8))
	assert.EqualValues(t, 1, tf.rec.rangeReads.Load(), "seeking alone does not download")

	n, err := rc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "89", string(buf[:n]))
	assert.EqualValues(t, 2, tf.rec.rangeReads.Load())
}

func TestReadChannel_SizeFixedAtOpen(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, func(c *config.Config) { c.ChunkSize = 4 })
	tf.putFile(t, "f", "0123456789")
	rc := openReadChannel(t, tf, "f")
	in, err := tf.NewInputStream(context.Background(), tf.path(t, "f"))
	require.NoError(t, err)
	defer in.Close()

	tf.putFile(t, "f", "0123456789appended")

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	size, err := rc.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 10, size)

	data, err = io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestReadChannel_ReadAt(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, nil)
	tf.putFile(t, "f", "0123456789")
	rc := openReadChannel(t, tf, "f")

	buf := make([]byte, 4)
	n, err := rc.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf[:n]))

	n, err = rc.ReadAt(buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "89", string(buf[:n]))
}

func TestReadChannel_Unsupported(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, nil)
	tf.putFile(t, "f", "abc")
	rc := openReadChannel(t, tf, "f")

	assert.ErrorIs(t, rc.Truncate(0), blobfs.ErrUnsupported)
	_, err := rc.Write([]byte("x"))
	assert.ErrorIs(t, err, blobfs.ErrUnsupported)
}

func TestNewReadChannel_Errors(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, nil)
	tf.putMarker(t, "dir")

	_, err := tf.NewReadChannel(context.Background(), tf.path(t, "missing"))
	assert.ErrorIs(t, err, blobfs.ErrNotFound)
	assert.True(t, blobfs.IsNotFound(err))

	_, err = tf.NewReadChannel(context.Background(), tf.path(t, "dir"))
	assert.ErrorIs(t, err, blobfs.ErrIsDirectory)

	_, err = tf.NewReadChannel(context.Background(), tf.path(t, "default:"))
	assert.ErrorIs(t, err, blobfs.ErrIsDirectory)
}

func TestReadChannel_ClosedPrecedence(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, nil)
	tf.putFile(t, "f", "abc")
	rc := openReadChannel(t, tf, "f")

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
	assert.False(t, rc.IsOpen())
	_, err := rc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, blobfs.ErrChannelClosed)
	assert.ErrorIs(t, err, blobfs.ErrClosed)

	require.NoError(t, tf.Close())
	_, err = rc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, blobfs.ErrFileSystemClosed)
	_, err = rc.Position()
	assert.ErrorIs(t, err, blobfs.ErrFileSystemClosed)
	assert.ErrorIs(t, rc.Truncate(0), blobfs.ErrFileSystemClosed)
}

func TestInputStream_ReadsInChunks(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, func(c *config.Config) { c.ChunkSize = 4 })
	tf.putFile(t, "f", "0123456789")
	in, err := tf.NewInputStream(context.Background(), tf.path(t, "f"))
	require.NoError(t, err)
	defer in.Close()

	data, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.EqualValues(t, 3, tf.rec.rangeReads.Load())
	assert.EqualValues(t, 10, in.Position())

	n, err := in.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestInputStream_MarkReset(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, func(c *config.Config) { c.ChunkSize = 4 })
	tf.putFile(t, "f", "0123456789")
	in, err := tf.NewInputStream(context.Background(), tf.path(t, "f"))
	require.NoError(t, err)
	defer in.Close()

	assert.True(t, in.MarkSupported())
	assert.ErrorIs(t, in.Reset(), blobfs.ErrInvalidMark)

	buf := make([]byte, 2)
	_, err = io.ReadFull(in, buf)
	require.NoError(t, err)
	avail, err := in.Available()
	require.NoError(t, err)
	assert.Equal(t, 2, avail)

	require.NoError(t, in.Mark(4))
	three := make([]byte, 3)
	_, err = io.ReadFull(in, three)
	require.NoError(t, err)
	assert.Equal(t, "234", string(three))
	require.NoError(t, in.Reset())
	assert.EqualValues(t, 2, in.Position())
	_, err = io.ReadFull(in, three)
	require.NoError(t, err)
	assert.Equal(t, "234", string(three))

	require.NoError(t, in.Mark(1))
	_, err = io.ReadFull(in, three)
	require.NoError(t, err)
	assert.ErrorIs(t, in.Reset(), blobfs.ErrInvalidMark)

	require.NoError(t, in.Close())
	assert.ErrorIs(t, in.Mark(1), blobfs.ErrStreamClosed)
}

func TestInputStream_Skip(t *testing.T) {
	t.Parallel()
	tf := newTestFS(t, nil)
	tf.putFile(t, "f", "0123456789")
	in, err := tf.NewInputStream(context.Background(), tf.path(t, "f"))
	require.NoError(t, err)

	n, err := in.Skip(3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	b := make([]byte, 1)
	_, err = in.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "3", string(b))

	n, err = in.Skip(100)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	require.NoError(t, in.Close())
	_, err = in.Read(b)
	assert.ErrorIs(t, err, blobfs.ErrStreamClosed)
}
