// Package requests turns a JSON nodes file into directories and files created
// through a [filesystem.FileSystem]. It is used to seed a store before mounting.
package requests

import (
	"context"
	"io"
)

// NodeType valid types are FileNodeType "file", DirNodeType "dir"
type NodeType string

const (
	FileNodeType NodeType = "file"
	DirNodeType  NodeType = "dir"
)

// NodeRequest has common fields embedded in concrete request types
type NodeRequest struct {
	Path string // resolved against the filesystem's default root when relative
	Type NodeType
}

// DirCreateRequest creates a directory marker. Missing ancestors are created too.
type DirCreateRequest struct {
	NodeRequest
}

// FileCreateRequest creates a blob from the first of Sources that opens.
type FileCreateRequest struct {
	NodeRequest
	ContentType string
	Metadata    map[string]string
	Replace     bool // overwrite an existing blob instead of skipping it
	Sources     []FileSource
}

// SourceType names a registered content source, i.e. "inline" or "http".
type SourceType string

// ContentSource yields the bytes of a file being seeded.
type ContentSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource is one candidate source for a file. Lower Priority is tried first.
type FileSource struct {
	Type     SourceType
	Priority int
	Source   ContentSource
}
