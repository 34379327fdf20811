package server

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/brettbedarf/blobfs/filesystem"
)

// handle is an open file or directory. Exactly one of read, write and dir is
// set. Requests on one handle may arrive concurrently; mu serializes them.
type handle struct {
	node  *node
	mu    sync.Mutex
	read  *filesystem.ReadChannel
	write *filesystem.WriteChannel
	dir   *dirHandle
}

func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.read != nil:
		return h.read.Close()
	case h.write != nil:
		return h.write.Close()
	case h.dir != nil:
		return h.dir.close()
	}
	return nil
}

// handleTable maps FUSE file handles to open channels and directory streams.
type handleTable struct {
	lastFh atomic.Uint64
	open   *xsync.Map[uint64, *handle]
}

func newHandleTable() *handleTable {
	return &handleTable{open: xsync.NewMap[uint64, *handle]()}
}

func (t *handleTable) add(h *handle) uint64 {
	fh := t.lastFh.Add(1)
	t.open.Store(fh, h)
	return fh
}

func (t *handleTable) get(fh uint64) (*handle, bool) {
	return t.open.Load(fh)
}

func (t *handleTable) remove(fh uint64) (*handle, bool) {
	return t.open.LoadAndDelete(fh)
}

// writer returns an open write handle on node id, if any.
func (t *handleTable) writer(id uint64) *filesystem.WriteChannel {
	var wc *filesystem.WriteChannel
	t.open.Range(func(_ uint64, h *handle) bool {
		if h.write != nil && h.node.id == id && h.write.IsOpen() {
			wc = h.write
			return false
		}
		return true
	})
	return wc
}

// closeAll closes every handle, i.e. on unmount.
func (t *handleTable) closeAll() error {
	var errs []error
	t.open.Range(func(fh uint64, h *handle) bool {
		t.open.Delete(fh)
		errs = append(errs, h.close())
		return true
	})
	return errors.Join(errs...)
}

// dirHandle serves READDIR requests from a directory iterator. Entries already
// returned are kept so the kernel can resume at any earlier offset.
type dirHandle struct {
	stream  *filesystem.DirectoryStream // nil for the mount root
	it      *filesystem.DirectoryIterator
	entries []fuse.DirEntry
	done    bool
}

func newDirHandle(stream *filesystem.DirectoryStream, it *filesystem.DirectoryIterator) *dirHandle {
	return &dirHandle{
		stream: stream,
		it:     it,
		entries: []fuse.DirEntry{
			{Name: ".", Mode: fuse.S_IFDIR, Ino: unknownIno},
			{Name: "..", Mode: fuse.S_IFDIR, Ino: unknownIno},
		},
		done: it == nil,
	}
}

// fill passes entries starting at offset to add until add reports a full
// buffer or the directory is exhausted.
func (d *dirHandle) fill(offset uint64, add func(fuse.DirEntry) bool) error {
	for i := offset; ; i++ {
		for uint64(len(d.entries)) <= i {
			if d.done {
				return nil
			}
			if !d.it.HasNext() {
				d.done = true
				continue
			}
			e, err := d.it.Next()
			if err != nil {
				d.done = true
				return err
			}
			d.entries = append(d.entries, fuse.DirEntry{Name: e.Name(), Mode: direntMode(e), Ino: unknownIno})
		}
		if !add(d.entries[i]) {
			return nil
		}
	}
}

func (d *dirHandle) close() error {
	if d.stream == nil {
		return nil
	}
	return d.stream.Close()
}
