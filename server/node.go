package server

import (
	"sync/atomic"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

// node is a kernel-visible inode. It only remembers the path it was looked up
// by; everything else is read from the store on demand.
type node struct {
	id      uint64
	path    fspath.Path // empty for the mount root
	key     string
	lookups int64 // kernel lookup count; guarded by the registry's byPath bucket
}

func (n *node) isMountRoot() bool { return n.id == fuse.FUSE_ROOT_ID }

// nodeRegistry maps FUSE node IDs to paths. IDs are assigned on first lookup for
// the session only and released once the kernel forgets every lookup.
type nodeRegistry struct {
	lastNodeID atomic.Uint64
	byID       *xsync.Map[uint64, *node]
	byPath     *xsync.Map[string, *node]
}

func newNodeRegistry() *nodeRegistry {
	r := &nodeRegistry{
		byID:   xsync.NewMap[uint64, *node](),
		byPath: xsync.NewMap[string, *node](),
	}
	root := &node{id: fuse.FUSE_ROOT_ID, lookups: 1}
	r.lastNodeID.Store(fuse.FUSE_ROOT_ID)
	r.byID.Store(root.id, root)
	return r
}

func (r *nodeRegistry) get(id uint64) (*node, bool) {
	return r.byID.Load(id)
}

// ensure returns the node for p, allocating an ID when p has none, and counts
// one kernel lookup against it.
func (r *nodeRegistry) ensure(p fspath.Path) *node {
	key := p.Normalize().String()
	n, _ := r.byPath.Compute(key, func(cur *node, loaded bool) (*node, xsync.ComputeOp) {
		if loaded {
			cur.lookups++
			return cur, xsync.CancelOp
		}
		n := &node{id: r.lastNodeID.Add(1), path: p, key: key, lookups: 1}
		r.byID.Store(n.id, n)
		return n, xsync.UpdateOp
	})
	return n
}

// forget drops nlookup lookups from id and releases the ID when none are left.
func (r *nodeRegistry) forget(id, nlookup uint64) {
	logger := util.GetLogger("Fuse.NodeRegistry")

	n, ok := r.byID.Load(id)
	if !ok || n.isMountRoot() {
		return
	}
	r.byPath.Compute(n.key, func(cur *node, loaded bool) (*node, xsync.ComputeOp) {
		if !loaded || cur != n {
			return cur, xsync.CancelOp
		}
		n.lookups -= int64(nlookup)
		if n.lookups > 0 {
			return cur, xsync.CancelOp
		}
		r.byID.Delete(id)
		logger.Trace().Uint64("nodeID", id).Str("path", n.key).Msg("Released node ID")
		return nil, xsync.DeleteOp
	})
}

// size returns the number of live node IDs, the mount root included.
func (r *nodeRegistry) size() int { return r.byID.Size() }
