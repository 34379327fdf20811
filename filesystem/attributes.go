package filesystem

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
)

// View names an attribute projection.
type View string

const (
	ViewBasic View = "basic"
	ViewBlob  View = "blob"
)

// Attributes is the single attribute record of a path. Which projections are
// available depends on what backs the path; virtual directories and container
// roots only support [ViewBasic].
type Attributes struct {
	views map[View]struct{}

	size         int64
	lastModified time.Time
	isDir        bool
	isMarker     bool
	props        *blobfs.BlobProperties
}

// BasicView holds attributes every path has.
type BasicView struct {
	Size         int64
	LastModified time.Time // zero for virtual directories
	IsDirectory  bool
	IsRegular    bool
}

// BlobView exposes the properties of the blob backing a path.
type BlobView struct {
	ETag              string
	ContentType       string
	Metadata          map[string]string
	IsDirectoryMarker bool
}

// Supports reports whether v can be projected.
func (a *Attributes) Supports(v View) bool {
	_, ok := a.views[v]
	return ok
}

// Views lists the supported views in name order.
func (a *Attributes) Views() []View {
	return slices.Sorted(maps.Keys(a.views))
}

// Basic returns the basic projection.
func (a *Attributes) Basic() BasicView {
	return BasicView{
		Size:         a.size,
		LastModified: a.lastModified,
		IsDirectory:  a.isDir,
		IsRegular:    !a.isDir,
	}
}

// Blob returns the blob projection or [blobfs.ErrUnsupported] when no blob
// backs the path.
func (a *Attributes) Blob() (BlobView, error) {
	if !a.Supports(ViewBlob) {
		return BlobView{}, fmt.Errorf("view %q: %w", ViewBlob, blobfs.ErrUnsupported)
	}
	return BlobView{
		ETag:              a.props.ETag,
		ContentType:       a.props.ContentType,
		Metadata:          maps.Clone(a.props.Metadata),
		IsDirectoryMarker: a.isMarker,
	}, nil
}

// View returns the projection named v.
func (a *Attributes) View(v View) (any, error) {
	switch {
	case !a.Supports(v):
		return nil, fmt.Errorf("view %q: %w", v, blobfs.ErrUnsupported)
	case v == ViewBasic:
		return a.Basic(), nil
	default:
		return a.Blob()
	}
}

// ReadAttributes reads the attributes of p with one property lookup, plus a
// single-entry listing when no blob exists at p.
func (fs *FileSystem) ReadAttributes(ctx context.Context, p fspath.Path) (*Attributes, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	r, err := fs.Resource(p)
	if err != nil {
		return nil, err
	}
	basicOnly := &Attributes{views: map[View]struct{}{ViewBasic: {}}, isDir: true}
	if r.IsContainerRoot() {
		ok, err := fs.store.ContainerExists(ctx, r.Container)
		if err != nil {
			return nil, blobfs.WrapTransport("ContainerExists", r.Container, "", err)
		}
		if !ok {
			return nil, &blobfs.PathError{Op: "stat", Path: p.String(), Err: blobfs.ErrNotFound}
		}
		return basicOnly, nil
	}

	props, err := fs.store.GetProperties(ctx, r.Container, r.Key)
	switch {
	case err == nil:
		return &Attributes{
			views:        map[View]struct{}{ViewBasic: {}, ViewBlob: {}},
			size:         props.Size,
			lastModified: props.LastModified,
			isDir:        props.IsDirectoryMarker,
			isMarker:     props.IsDirectoryMarker,
			props:        props,
		}, nil
	case !errors.Is(err, blobfs.ErrNotFound):
		return nil, blobfs.WrapTransport("GetProperties", r.Container, r.Key, err)
	}

	st, _, err := fs.status(ctx, r)
	if err != nil {
		return nil, err
	}
	if st != NotEmpty {
		return nil, &blobfs.PathError{Op: "stat", Path: p.String(), Err: blobfs.ErrNotFound}
	}
	return basicOnly, nil
}
