package server

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/backends"
	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/filesystem"
)

func newTestRaw(t *testing.T) (*FuseRaw, *backends.MemoryStore) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Roots = append(cfg.Roots, "photos")
	cfg.BlockSize = 4
	mem := backends.NewMemoryStore(cfg.Roots...)
	fs, err := filesystem.Open(context.Background(), nil, "mem://"+t.Name(), mem, cfg)
	require.NoError(t, err)
	raw := NewFuseRaw(fs)
	t.Cleanup(func() {
		raw.OnUnmount()
		_ = fs.Close()
	})
	return raw, mem
}

func lookup(t *testing.T, raw *FuseRaw, parent uint64, name string) (fuse.EntryOut, fuse.Status) {
	t.Helper()
	var out fuse.EntryOut
	st := raw.Lookup(nil, &fuse.InHeader{NodeId: parent}, name, &out)
	return out, st
}

// listDir opens, reads and releases a directory, returning the names listed.
func listDir(t *testing.T, raw *FuseRaw, id uint64) map[string]uint32 {
	t.Helper()
	var open fuse.OpenOut
	require.Equal(t, fuse.OK, raw.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: id}}, &open))
	defer raw.ReleaseDir(&fuse.ReleaseIn{Fh: open.Fh})

	h, ok := raw.handles.get(open.Fh)
	require.True(t, ok)
	got := map[string]uint32{}
	require.NoError(t, h.dir.fill(0, func(e fuse.DirEntry) bool {
		got[e.Name] = e.Mode
		return true
	}))
	return got
}

func TestFuseRaw_MountRoot(t *testing.T) {
	t.Parallel()
	raw, _ := newTestRaw(t)

	var attr fuse.AttrOut
	require.Equal(t, fuse.OK, raw.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}}, &attr))
	assert.EqualValues(t, dirMode, attr.Mode)

	got := listDir(t, raw, fuse.FUSE_ROOT_ID)
	assert.Equal(t, map[string]uint32{".": fuse.S_IFDIR, "..": fuse.S_IFDIR, "default": fuse.S_IFDIR, "photos": fuse.S_IFDIR}, got)

	out, st := lookup(t, raw, fuse.FUSE_ROOT_ID, "default")
	require.Equal(t, fuse.OK, st)
	assert.NotEqual(t, uint64(fuse.FUSE_ROOT_ID), out.NodeId)
	assert.EqualValues(t, dirMode, out.Attr.Mode)

	_, st = lookup(t, raw, fuse.FUSE_ROOT_ID, "nope")
	assert.Equal(t, fuse.ENOENT, st)

	var mk fuse.EntryOut
	st = raw.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}}, "new", &mk)
	assert.Equal(t, fuse.EPERM, st)
}

func TestFuseRaw_LookupAndList(t *testing.T) {
	t.Parallel()
	raw, mem := newTestRaw(t)
	require.NoError(t, mem.PutBlob("default", "docs/a.txt", []byte("hello"), nil))
	require.NoError(t, mem.PutBlob("default", "docs/empty", nil, blobfs.MarkerMetadata()))
	require.NoError(t, mem.PutBlob("default", "docs/sub/b", []byte("b"), nil))

	root, st := lookup(t, raw, fuse.FUSE_ROOT_ID, "default")
	require.Equal(t, fuse.OK, st)
	docs, st := lookup(t, raw, root.NodeId, "docs")
	require.Equal(t, fuse.OK, st)
	assert.EqualValues(t, dirMode, docs.Attr.Mode)

	file, st := lookup(t, raw, docs.NodeId, "a.txt")
	require.Equal(t, fuse.OK, st)
	assert.EqualValues(t, fileMode, file.Attr.Mode)
	assert.EqualValues(t, 5, file.Attr.Size)

	again, st := lookup(t, raw, docs.NodeId, "a.txt")
	require.Equal(t, fuse.OK, st)
	assert.Equal(t, file.NodeId, again.NodeId, "a path keeps its node ID while looked up")

	_, st = lookup(t, raw, docs.NodeId, "missing")
	assert.Equal(t, fuse.ENOENT, st)

	got := listDir(t, raw, docs.NodeId)
	assert.Equal(t, map[string]uint32{
		".":     fuse.S_IFDIR,
		"..":    fuse.S_IFDIR,
		"a.txt": fuse.S_IFREG,
		"empty": 0,
		"sub":   fuse.S_IFDIR,
	}, got)
}

func TestFuseRaw_CreateWriteRead(t *testing.T) {
	t.Parallel()
	raw, mem := newTestRaw(t)
	root, st := lookup(t, raw, fuse.FUSE_ROOT_ID, "default")
	require.Equal(t, fuse.OK, st)

	var created fuse.CreateOut
	st = raw.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: root.NodeId}, Flags: syscall.O_WRONLY | syscall.O_CREAT}, "f.txt", &created)
	require.Equal(t, fuse.OK, st)

	var attr fuse.AttrOut
	require.Equal(t, fuse.OK, raw.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: created.NodeId}}, &attr), "a file being written is visible to getattr")

	n, st := raw.Write(nil, &fuse.WriteIn{Fh: created.Fh, Offset: 0}, []byte("hello "))
	require.Equal(t, fuse.OK, st)
	assert.EqualValues(t, 6, n)
	_, st = raw.Write(nil, &fuse.WriteIn{Fh: created.Fh, Offset: 2}, []byte("x"))
	assert.Equal(t, fuse.Status(syscall.ENOTSUP), st, "only sequential writes")
	_, st = raw.Write(nil, &fuse.WriteIn{Fh: created.Fh, Offset: 6}, []byte("world"))
	require.Equal(t, fuse.OK, st)

	require.Equal(t, fuse.OK, raw.Flush(nil, &fuse.FlushIn{Fh: created.Fh}))
	raw.Release(nil, &fuse.ReleaseIn{Fh: created.Fh})

	props, err := mem.GetProperties(context.Background(), "default", "f.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 11, props.Size)

	var open fuse.OpenOut
	require.Equal(t, fuse.OK, raw.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: created.NodeId}, Flags: syscall.O_RDONLY}, &open))
	defer raw.Release(nil, &fuse.ReleaseIn{Fh: open.Fh})

	buf := make([]byte, 64)
	res, st := raw.Read(nil, &fuse.ReadIn{Fh: open.Fh, Offset: 6, Size: 64}, buf)
	require.Equal(t, fuse.OK, st)
	data, st := res.Bytes(make([]byte, 64))
	require.Equal(t, fuse.OK, st)
	assert.Equal(t, "world", string(data))

	res, st = raw.Read(nil, &fuse.ReadIn{Fh: open.Fh, Offset: 100, Size: 8}, buf)
	require.Equal(t, fuse.OK, st)
	assert.Zero(t, res.Size())

	st = raw.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: created.NodeId}, Flags: syscall.O_RDWR}, &open)
	assert.Equal(t, fuse.Status(syscall.ENOTSUP), st)
}

func TestFuseRaw_CreateExclusive(t *testing.T) {
	t.Parallel()
	raw, mem := newTestRaw(t)
	require.NoError(t, mem.PutBlob("default", "taken", []byte("x"), nil))
	root, _ := lookup(t, raw, fuse.FUSE_ROOT_ID, "default")

	var out fuse.CreateOut
	st := raw.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: root.NodeId}, Flags: syscall.O_WRONLY | syscall.O_CREAT | syscall.O_EXCL}, "taken", &out)
	assert.Equal(t, fuse.Status(syscall.EEXIST), st)
}

func TestFuseRaw_MkdirUnlinkRmdir(t *testing.T) {
	t.Parallel()
	raw, mem := newTestRaw(t)
	require.NoError(t, mem.PutBlob("default", "file", []byte("x"), nil))
	require.NoError(t, mem.PutBlob("default", "full/x", []byte("x"), nil))
	root, _ := lookup(t, raw, fuse.FUSE_ROOT_ID, "default")
	hdr := &fuse.InHeader{NodeId: root.NodeId}

	var dir fuse.EntryOut
	require.Equal(t, fuse.OK, raw.Mkdir(nil, &fuse.MkdirIn{InHeader: *hdr}, "d", &dir))
	assert.EqualValues(t, dirMode, dir.Attr.Mode)
	assert.Equal(t, fuse.Status(syscall.EEXIST), raw.Mkdir(nil, &fuse.MkdirIn{InHeader: *hdr}, "d", &dir))

	assert.Equal(t, fuse.Status(syscall.EISDIR), raw.Unlink(nil, hdr, "d"))
	assert.Equal(t, fuse.ENOTDIR, raw.Rmdir(nil, hdr, "file"))
	assert.Equal(t, fuse.Status(syscall.ENOTEMPTY), raw.Rmdir(nil, hdr, "full"))
	assert.Equal(t, fuse.ENOENT, raw.Unlink(nil, hdr, "missing"))

	assert.Equal(t, fuse.OK, raw.Unlink(nil, hdr, "file"))
	assert.Equal(t, fuse.OK, raw.Rmdir(nil, hdr, "d"))
	_, st := lookup(t, raw, root.NodeId, "d")
	assert.Equal(t, fuse.ENOENT, st)
}

func TestFuseRaw_TruncateToZero(t *testing.T) {
	t.Parallel()
	raw, mem := newTestRaw(t)
	require.NoError(t, mem.PutBlob("default", "f", []byte("contents"), nil))
	root, _ := lookup(t, raw, fuse.FUSE_ROOT_ID, "default")
	f, st := lookup(t, raw, root.NodeId, "f")
	require.Equal(t, fuse.OK, st)

	in := &fuse.SetAttrIn{}
	in.NodeId = f.NodeId
	in.Valid = fuse.FATTR_SIZE
	var out fuse.AttrOut
	require.Equal(t, fuse.OK, raw.SetAttr(nil, in, &out))
	assert.Zero(t, out.Size)

	in.Size = 3
	assert.Equal(t, fuse.Status(syscall.ENOTSUP), raw.SetAttr(nil, in, &out))
}

func TestFuseRaw_Forget(t *testing.T) {
	t.Parallel()
	raw, mem := newTestRaw(t)
	require.NoError(t, mem.PutBlob("default", "f", []byte("x"), nil))
	root, _ := lookup(t, raw, fuse.FUSE_ROOT_ID, "default")
	first, _ := lookup(t, raw, root.NodeId, "f")
	_, _ = lookup(t, raw, root.NodeId, "f")

	raw.Forget(first.NodeId, 1)
	_, ok := raw.nodes.get(first.NodeId)
	assert.True(t, ok, "one lookup is still outstanding")

	raw.Forget(first.NodeId, 1)
	_, ok = raw.nodes.get(first.NodeId)
	assert.False(t, ok)

	var attr fuse.AttrOut
	assert.Equal(t, fuse.ENOENT, raw.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: first.NodeId}}, &attr))

	next, _ := lookup(t, raw, root.NodeId, "f")
	assert.NotEqual(t, first.NodeId, next.NodeId)
}

func TestToStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want fuse.Status
	}{
		{nil, fuse.OK},
		{blobfs.ErrNotFound, fuse.ENOENT},
		{&blobfs.TransportError{Op: "GetProperties", Err: blobfs.ErrNotFound}, fuse.ENOENT},
		{&blobfs.PathError{Op: "mkdir", Path: "a", Err: blobfs.ErrAlreadyExists}, fuse.Status(syscall.EEXIST)},
		{blobfs.ErrDirectoryNotEmpty, fuse.Status(syscall.ENOTEMPTY)},
		{blobfs.ErrNotDirectory, fuse.ENOTDIR},
		{blobfs.ErrIsDirectory, fuse.Status(syscall.EISDIR)},
		{blobfs.ErrUnsupported, fuse.Status(syscall.ENOTSUP)},
		{blobfs.ErrInvalidPath, fuse.EINVAL},
		{blobfs.ErrChannelClosed, fuse.Status(syscall.EBADF)},
		{context.Canceled, fuse.Status(syscall.EINTR)},
		{assert.AnError, fuse.EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toStatus(tt.err), "%v", tt.err)
	}
}
