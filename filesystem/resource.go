package filesystem

import (
	"fmt"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
)

// Resource binds a path to its backing blob. It is derived on every call and
// never cached.
type Resource struct {
	Container string
	Key       string // "" for the container root
}

func (r Resource) String() string {
	return r.Container + fspath.RootSuffix + blobfs.Separator + r.Key
}

// IsContainerRoot reports whether r is the root of its container.
func (r Resource) IsContainerRoot() bool { return r.Key == "" }

// dirPrefix is the listing prefix selecting r's children.
func (r Resource) dirPrefix() string {
	if r.Key == "" {
		return ""
	}
	return r.Key + blobfs.Separator
}

// Resource resolves p to its container and key. Relative paths use the default
// root; the path is normalized first and may not climb above its root.
func (fs *FileSystem) Resource(p fspath.Path) (Resource, error) {
	if p.Owner() != fs.id {
		return Resource{}, fmt.Errorf("%w: path %q belongs to another filesystem", blobfs.ErrIllegalArgument, p)
	}
	n := p.Normalize()
	if elems := n.Elements(); len(elems) > 0 && elems[0] == ".." {
		return Resource{}, fmt.Errorf("%w: %q escapes its root", blobfs.ErrInvalidPath, p)
	}
	container := n.RootName()
	if container == "" {
		container = fs.cfg.DefaultRoot
	}
	return Resource{Container: container, Key: n.Key()}, nil
}
