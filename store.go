// Package blobfs contains the core domain types and interfaces for emulating a
// hierarchical filesystem on top of a flat object store.
package blobfs

import (
	"context"
	"io"
	"strings"
	"time"
)

// Separator delimits name elements in both filesystem paths and backing blob keys.
const Separator = "/"

// DirectoryMarkerKey is the metadata key that flags a zero-length blob as an
// explicit directory marker. Backends must match it case-insensitively since some
// transports canonicalize metadata header names.
const DirectoryMarkerKey = "hdi_isfolder"

// ObjectStore defines the object operations the filesystem layer is built on.
// Keys are '/'-delimited blob names within a container; the store itself has no
// notion of directories.
//
// Implementations return errors wrapping [ErrNotFound] for missing objects and
// [ErrAlreadyExists] / [ErrConditionNotMet] for failed [Conditions].
type ObjectStore interface {
	// GetProperties returns the properties of the blob stored at exactly key.
	GetProperties(ctx context.Context, container, key string) (*BlobProperties, error)

	// PutMarker creates a zero-length blob flagged as a directory marker.
	PutMarker(ctx context.Context, container, key string, cond *Conditions) error

	// ListFlat returns one page of a flat listing. When opts.Delimiter is set, keys
	// sharing the prefix up to the next delimiter are grouped into a single
	// common prefix (which includes the trailing delimiter).
	ListFlat(ctx context.Context, container string, opts ListOptions) (*ListPage, error)

	// Delete removes the blob stored at key.
	Delete(ctx context.Context, container, key string) error

	// OpenRangeRead opens a download of length bytes starting at offset.
	// A negative length reads to the end of the blob.
	OpenRangeRead(ctx context.Context, container, key string, offset, length int64) (io.ReadCloser, error)

	// StageBlock uploads an uncommitted block for key. A store may hold small
	// blocks back and upload them together with later ones.
	StageBlock(ctx context.Context, container, key, blockID string, data []byte) error

	// CommitBlocks finalizes key from previously staged blocks, in order,
	// replacing any existing blob. Stores that coalesce blocks only accept the
	// full staged sequence.
	CommitBlocks(ctx context.Context, container, key string, blockIDs []string, opts *CommitOptions) error

	// DiscardBlocks drops every uncommitted block staged for key. It is a no-op
	// when nothing is staged.
	DiscardBlocks(ctx context.Context, container, key string) error

	// Copy copies a blob server-side. Conditions apply to the destination.
	Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string, cond *Conditions) error

	// ContainerExists reports whether the container is present in the store.
	ContainerExists(ctx context.Context, container string) (bool, error)
}

// BlobProperties contains standardized blob properties across all backends
type BlobProperties struct {
	Size              int64
	LastModified      time.Time
	ETag              string
	ContentType       string
	Metadata          map[string]string
	IsDirectoryMarker bool
}

// Conditions are optional preconditions evaluated atomically by the store where
// the backend supports it.
type Conditions struct {
	IfMatch     string // ETag the existing blob must have
	IfNoneMatch string // "*" means the blob must not exist
}

// ETagAny used with [Conditions.IfNoneMatch] requires the target to not exist.
const ETagAny = "*"

// CommitOptions configure the blob produced by [ObjectStore.CommitBlocks].
type CommitOptions struct {
	ContentType string
	Metadata    map[string]string
	Conditions  *Conditions
}

// ListOptions configure a single [ObjectStore.ListFlat] call.
type ListOptions struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string // Opaque token from a previous [ListPage]
	MaxResults        int    // Page size hint; <= 0 uses the backend default
}

// ListPage is one page of a flat listing. Blobs and CommonPrefixes are each in
// key order.
type ListPage struct {
	Blobs          []BlobItem
	CommonPrefixes []string
	NextToken      string // Empty when the listing is complete
}

// BlobItem is a blob returned by a listing.
type BlobItem struct {
	Name string
	Size int64
}

// IsMarkerMetadata reports whether metadata flags a directory marker.
func IsMarkerMetadata(md map[string]string) bool {
	for k, v := range md {
		if strings.EqualFold(k, DirectoryMarkerKey) && strings.EqualFold(v, "true") {
			return true
		}
	}
	return false
}

// MarkerMetadata returns fresh metadata for a directory marker blob.
func MarkerMetadata() map[string]string {
	return map[string]string{DirectoryMarkerKey: "true"}
}
