package server

import (
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/blobfs/filesystem"
)

const (
	blockSize = 4096
	fileMode  = fuse.S_IFREG | 0o644
	dirMode   = fuse.S_IFDIR | 0o755

	// unknownIno is reported in directory listings; the kernel looks entries up
	// before it relies on their inode numbers
	unknownIno = 0xffffffff
)

// newDefaultAttr returns the attributes shared by every node.
// NOTE: Mode, Size and times are set by the caller
func newDefaultAttr(ino uint64) *fuse.Attr {
	return &fuse.Attr{
		Ino:   ino,
		Nlink: 1,
		Owner: fuse.Owner{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
		Blksize: blockSize, // preferred size for fs ops
	}
}

func setTimes(attr *fuse.Attr, t time.Time) {
	sec, nsec := uint64(t.Unix()), uint32(t.Nanosecond())
	attr.Atime, attr.Mtime, attr.Ctime = sec, sec, sec
	attr.Atimensec, attr.Mtimensec, attr.Ctimensec = nsec, nsec, nsec
}

func dirAttr(ino uint64, mtime time.Time) *fuse.Attr {
	attr := newDefaultAttr(ino)
	attr.Mode = dirMode
	attr.Nlink = 2
	setTimes(attr, mtime)
	return attr
}

func fileAttr(ino uint64, size int64, mtime time.Time) *fuse.Attr {
	attr := newDefaultAttr(ino)
	attr.Mode = fileMode
	attr.Size = uint64(size)
	attr.Blocks = (uint64(size) + 511) / 512
	setTimes(attr, mtime)
	return attr
}

// attrFromAttributes converts the basic attribute view. Virtual directories have
// no modification time and report the mount time instead.
func attrFromAttributes(ino uint64, a *filesystem.Attributes, fallback time.Time) *fuse.Attr {
	basic := a.Basic()
	mtime := basic.LastModified
	if mtime.IsZero() {
		mtime = fallback
	}
	if basic.IsDirectory {
		return dirAttr(ino, mtime)
	}
	return fileAttr(ino, basic.Size, mtime)
}

// direntMode reports a listing entry's type. A zero-length blob may be a
// directory marker, so its type is left unknown until the kernel looks it up.
func direntMode(e filesystem.Entry) uint32 {
	switch {
	case e.Kind == filesystem.EntryPrefix:
		return fuse.S_IFDIR
	case e.Size == 0:
		return 0
	}
	return fuse.S_IFREG
}
