package server

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/filesystem"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

// FuseRaw implements the low-level FUSE wire protocol over a [filesystem.FileSystem].
// The mount root lists the configured containers; everything below them is
// resolved through the filesystem on every request.
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
type FuseRaw struct {
	fuse.RawFileSystem
	fs      *filesystem.FileSystem
	nodes   *nodeRegistry
	handles *handleTable

	attrTimeout  time.Duration
	entryTimeout time.Duration
	mounted      time.Time

	// ctx outlives single requests; open channels use it
	ctx    context.Context
	cancel context.CancelFunc
	server *fuse.Server
}

func NewFuseRaw(fs *filesystem.FileSystem) *FuseRaw {
	attr, entry := fs.Config().Timeouts()
	ctx, cancel := context.WithCancel(context.Background())
	return &FuseRaw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		nodes:         newNodeRegistry(),
		handles:       newHandleTable(),
		attrTimeout:   attr,
		entryTimeout:  entry,
		mounted:       time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (r *FuseRaw) Init(s *fuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Str("uri", r.fs.URI()).Msg("FUSE initialized")
	r.server = s
}

// OnUnmount closes every open handle. Pending writes are committed.
func (r *FuseRaw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	if err := r.handles.closeAll(); err != nil {
		logger.Error().Err(err).Msg("Failed to close handles on unmount")
	}
	r.cancel()
	logger.Info().Msg("FUSE unmounted")
}

func (r *FuseRaw) String() string {
	return "blobfs"
}

// Access allows everything; permission bits are not modeled.
func (r *FuseRaw) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	return fuse.OK
}

// childPath resolves name under parent. Children of the mount root are the
// configured containers.
func (r *FuseRaw) childPath(parent *node, name string) (fspath.Path, error) {
	if !parent.isMountRoot() {
		return parent.path.Child(name)
	}
	roots, err := r.fs.RootDirectories()
	if err != nil {
		return fspath.Path{}, err
	}
	for _, root := range roots {
		if root.RootName() == name {
			return root, nil
		}
	}
	return fspath.Path{}, &blobfs.PathError{Op: "lookup", Path: name, Err: blobfs.ErrNotFound}
}

// attr reads the attributes of n, accounting for a file that is still being
// written through an open handle.
func (r *FuseRaw) attr(ctx context.Context, n *node) (*fuse.Attr, error) {
	if n.isMountRoot() {
		return dirAttr(n.id, r.mounted), nil
	}
	a, err := r.fs.ReadAttributes(ctx, n.path)
	if errors.Is(err, blobfs.ErrNotFound) {
		if wc := r.handles.writer(n.id); wc != nil {
			size, _ := wc.Size()
			return fileAttr(n.id, size, time.Now()), nil
		}
	}
	if err != nil {
		return nil, err
	}
	return attrFromAttributes(n.id, a, r.mounted), nil
}

func (r *FuseRaw) fillEntry(out *fuse.EntryOut, n *node, attr *fuse.Attr) {
	out.NodeId = n.id
	out.Attr = *attr
	out.SetEntryTimeout(r.entryTimeout)
	out.SetAttrTimeout(r.attrTimeout)
}

// lookupChild resolves name under parentID, stats it and registers a node for
// it. The node's lookup count is only incremented on success.
func (r *FuseRaw) lookupChild(ctx context.Context, parentID uint64, name string, out *fuse.EntryOut) fuse.Status {
	parent, ok := r.nodes.get(parentID)
	if !ok {
		return fuse.ENOENT
	}
	p, err := r.childPath(parent, name)
	if err != nil {
		return toStatus(err)
	}
	a, err := r.fs.ReadAttributes(ctx, p)
	if err != nil {
		return toStatus(err)
	}
	n := r.nodes.ensure(p)
	r.fillEntry(out, n, attrFromAttributes(n.id, a, r.mounted))
	return fuse.OK
}

// Lookup is called by the kernel when the VFS wants to know about a file inside
// a directory.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Lookup")
	logger.Trace().Uint64("parent", header.NodeId).Str("name", name).Msg("Lookup called")

	ctx, stop := requestContext(cancel)
	defer stop()
	return r.lookupChild(ctx, header.NodeId, name, out)
}

// Forget is called when the kernel discards entries from its dentry cache. It
// must not do I/O.
func (r *FuseRaw) Forget(nodeid, nlookup uint64) {
	r.nodes.forget(nodeid, nlookup)
}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	n, ok := r.nodes.get(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	ctx, stop := requestContext(cancel)
	defer stop()
	attr, err := r.attr(ctx, n)
	if err != nil {
		return toStatus(err)
	}
	out.Attr = *attr
	out.SetTimeout(r.attrTimeout)
	return fuse.OK
}

// SetAttr only supports truncation to zero, which the kernel issues ahead of
// an O_TRUNC open. Other changes are accepted and ignored.
func (r *FuseRaw) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	logger := util.GetLogger("Fuse.SetAttr")

	n, ok := r.nodes.get(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	ctx, stop := requestContext(cancel)
	defer stop()

	if input.Valid&fuse.FATTR_SIZE != 0 {
		if input.Size != 0 || n.isMountRoot() {
			return fuse.Status(syscall.ENOTSUP)
		}
		if r.handles.writer(n.id) == nil {
			wc, err := r.fs.NewWriteChannel(ctx, n.path, filesystem.WriteOptions{})
			if err != nil {
				return toStatus(err)
			}
			if err := wc.Close(); err != nil {
				logger.Error().Err(err).Str("path", n.path.String()).Msg("Failed to truncate")
				return toStatus(err)
			}
		}
	}
	attr, err := r.attr(ctx, n)
	if err != nil {
		return toStatus(err)
	}
	out.Attr = *attr
	out.SetTimeout(r.attrTimeout)
	return fuse.OK
}

func (r *FuseRaw) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Mkdir")

	parent, ok := r.nodes.get(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	if parent.isMountRoot() {
		return fuse.EPERM
	}
	p, err := parent.path.Child(name)
	if err != nil {
		return toStatus(err)
	}
	ctx, stop := requestContext(cancel)
	defer stop()
	if err := r.fs.CreateDirectory(ctx, p); err != nil {
		logger.Debug().Err(err).Str("path", p.String()).Msg("Mkdir failed")
		return toStatus(err)
	}
	return r.lookupChild(ctx, input.NodeId, name, out)
}

func (r *FuseRaw) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return r.remove(cancel, header, name, false)
}

func (r *FuseRaw) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return r.remove(cancel, header, name, true)
}

func (r *FuseRaw) remove(cancel <-chan struct{}, header *fuse.InHeader, name string, dir bool) fuse.Status {
	parent, ok := r.nodes.get(header.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	if parent.isMountRoot() {
		return fuse.EPERM
	}
	p, err := parent.path.Child(name)
	if err != nil {
		return toStatus(err)
	}
	ctx, stop := requestContext(cancel)
	defer stop()

	st, err := r.fs.Status(ctx, p)
	if err != nil {
		return toStatus(err)
	}
	switch {
	case st == filesystem.DoesNotExist:
		return fuse.ENOENT
	case dir && st == filesystem.NotADirectory:
		return fuse.ENOTDIR
	case !dir && st.IsDirectory():
		return fuse.Status(syscall.EISDIR)
	}
	return toStatus(r.fs.Delete(ctx, p))
}

// Create creates and opens a file for sequential writing. The file becomes
// visible to other readers when the handle is flushed.
func (r *FuseRaw) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	logger := util.GetLogger("Fuse.Create")

	parent, ok := r.nodes.get(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	if parent.isMountRoot() {
		return fuse.EPERM
	}
	p, err := parent.path.Child(name)
	if err != nil {
		return toStatus(err)
	}
	opts := filesystem.WriteOptions{CreateNew: input.Flags&syscall.O_EXCL != 0}
	wc, err := r.fs.NewWriteChannel(r.ctx, p, opts)
	if err != nil {
		return toStatus(err)
	}
	n := r.nodes.ensure(p)
	out.Fh = r.handles.add(&handle{node: n, write: wc})
	r.fillEntry(&out.EntryOut, n, fileAttr(n.id, 0, time.Now()))
	logger.Debug().Str("path", p.String()).Uint64("fh", out.Fh).Msg("Created file")
	return fuse.OK
}

// Open opens a file read-only or write-only. Writes replace the whole file and
// must be sequential.
func (r *FuseRaw) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	n, ok := r.nodes.get(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	if n.isMountRoot() {
		return fuse.Status(syscall.EISDIR)
	}
	h := &handle{node: n}
	switch input.Flags & syscall.O_ACCMODE {
	case syscall.O_RDONLY:
		rc, err := r.fs.NewReadChannel(r.ctx, n.path)
		if err != nil {
			return toStatus(err)
		}
		h.read = rc
	case syscall.O_WRONLY:
		if input.Flags&syscall.O_APPEND != 0 {
			return fuse.Status(syscall.ENOTSUP)
		}
		wc, err := r.fs.NewWriteChannel(r.ctx, n.path, filesystem.WriteOptions{})
		if err != nil {
			return toStatus(err)
		}
		h.write = wc
	default:
		return fuse.Status(syscall.ENOTSUP)
	}
	out.Fh = r.handles.add(h)
	return fuse.OK
}

func (r *FuseRaw) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	h, ok := r.handles.get(input.Fh)
	if !ok || h.read == nil {
		return nil, fuse.Status(syscall.EBADF)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	buf = buf[:min(len(buf), int(input.Size))]
	n, err := h.read.ReadAt(buf, int64(input.Offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (r *FuseRaw) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	logger := util.GetLogger("Fuse.Write")

	h, ok := r.handles.get(input.Fh)
	if !ok || h.write == nil {
		return 0, fuse.Status(syscall.EBADF)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	pos, err := h.write.Position()
	if err != nil {
		return 0, toStatus(err)
	}
	if int64(input.Offset) != pos {
		logger.Debug().
			Uint64("offset", input.Offset).
			Int64("position", pos).
			Msg("Rejected non-sequential write")
		return 0, fuse.Status(syscall.ENOTSUP)
	}
	n, err := h.write.Write(data)
	return uint32(n), toStatus(err)
}

// Flush commits a written file. Writes after the first flush fail.
func (r *FuseRaw) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	logger := util.GetLogger("Fuse.Flush")

	h, ok := r.handles.get(input.Fh)
	if !ok {
		return fuse.Status(syscall.EBADF)
	}
	if h.write == nil {
		return fuse.OK
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.write.Close(); err != nil {
		logger.Error().Err(err).Str("path", h.node.path.String()).Msg("Failed to commit file")
		return toStatus(err)
	}
	return fuse.OK
}

func (r *FuseRaw) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	r.release(input.Fh)
}

func (r *FuseRaw) release(fh uint64) {
	logger := util.GetLogger("Fuse.Release")

	h, ok := r.handles.remove(fh)
	if !ok {
		return
	}
	if err := h.close(); err != nil {
		logger.Error().Err(err).Uint64("fh", fh).Msg("Failed to close handle")
	}
}

func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	n, ok := r.nodes.get(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	if n.isMountRoot() {
		roots, err := r.fs.RootDirectories()
		if err != nil {
			return toStatus(err)
		}
		d := newDirHandle(nil, nil)
		for _, root := range roots {
			d.entries = append(d.entries, fuse.DirEntry{Name: root.RootName(), Mode: fuse.S_IFDIR, Ino: unknownIno})
		}
		out.Fh = r.handles.add(&handle{node: n, dir: d})
		return fuse.OK
	}

	ds, err := r.fs.NewDirectoryStream(r.ctx, n.path, nil)
	if err != nil {
		return toStatus(err)
	}
	it, err := ds.Iterator()
	if err != nil {
		_ = ds.Close()
		return toStatus(err)
	}
	out.Fh = r.handles.add(&handle{node: n, dir: newDirHandle(ds, it)})
	return fuse.OK
}

func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	logger := util.GetLogger("Fuse.ReadDir")

	h, ok := r.handles.get(input.Fh)
	if !ok || h.dir == nil {
		return fuse.Status(syscall.EBADF)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.dir.fill(input.Offset, out.AddDirEntry); err != nil {
		logger.Error().Err(err).Str("path", h.node.path.String()).Msg("Listing failed")
		return toStatus(err)
	}
	return fuse.OK
}

func (r *FuseRaw) ReleaseDir(input *fuse.ReleaseIn) {
	r.release(input.Fh)
}

func (r *FuseRaw) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	out.Bsize = blockSize
	out.Frsize = blockSize
	out.NameLen = 1024
	return fuse.OK
}
