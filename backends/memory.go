package backends

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/blake3"

	"github.com/brettbedarf/blobfs"
)

// DefaultMemoryPageSize is used when a listing does not pass a page size hint.
const DefaultMemoryPageSize = 5000

// MemoryStore implements [blobfs.ObjectStore] in process memory. It performs
// exact prefix+delimiter grouping and opaque continuation tokens, so it behaves
// like a real object store for listing purposes. Useful for tests and as the
// default backend.
type MemoryStore struct {
	containers *xsync.Map[string, *memContainer]
	now        func() time.Time
}

type memContainer struct {
	mu     sync.RWMutex
	keys   []string // sorted; guarded by mu
	blobs  map[string]*memBlob
	staged map[string]map[string][]byte // key -> blockID -> data
}

// memBlob contents are never mutated once stored; writes replace the blob.
type memBlob struct {
	data  []byte
	props blobfs.BlobProperties
}

// NewMemoryStore returns an empty store with the given containers created.
func NewMemoryStore(containers ...string) *MemoryStore {
	s := &MemoryStore{
		containers: xsync.NewMap[string, *memContainer](),
		now:        time.Now,
	}
	for _, c := range containers {
		s.CreateContainer(c)
	}
	return s
}

// CreateContainer adds a container if it does not exist yet.
func (s *MemoryStore) CreateContainer(name string) {
	s.containers.LoadOrStore(name, &memContainer{
		blobs:  make(map[string]*memBlob),
		staged: make(map[string]map[string][]byte),
	})
}

// PutBlob stores data at key in one shot, bypassing block staging.
func (s *MemoryStore) PutBlob(container, key string, data []byte, metadata map[string]string) error {
	c, err := s.container(container)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, s.newBlob(slices.Clone(data), metadata, ""))
	return nil
}

// StagedBlockCount returns the number of uncommitted blocks for key.
func (s *MemoryStore) StagedBlockCount(container, key string) int {
	c, err := s.container(container)
	if err != nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.staged[key])
}

func (s *MemoryStore) container(name string) (*memContainer, error) {
	c, ok := s.containers.Load(name)
	if !ok {
		return nil, fmt.Errorf("container %q: %w", name, blobfs.ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) newBlob(data []byte, metadata map[string]string, contentType string) *memBlob {
	sum := blake3.Sum256(data)
	return &memBlob{
		data: data,
		props: blobfs.BlobProperties{
			Size:              int64(len(data)),
			LastModified:      s.now(),
			ETag:              `"` + hex.EncodeToString(sum[:16]) + `"`,
			ContentType:       contentType,
			Metadata:          maps.Clone(metadata),
			IsDirectoryMarker: blobfs.IsMarkerMetadata(metadata),
		},
	}
}

// putLocked stores b at key. Caller must hold c.mu.Lock().
func (c *memContainer) putLocked(key string, b *memBlob) {
	if _, exists := c.blobs[key]; !exists {
		i, _ := slices.BinarySearch(c.keys, key)
		c.keys = slices.Insert(c.keys, i, key)
	}
	c.blobs[key] = b
}

// checkLocked evaluates cond against the current blob at key. Caller must hold c.mu.
func (c *memContainer) checkLocked(key string, cond *blobfs.Conditions) error {
	if cond == nil {
		return nil
	}
	existing, exists := c.blobs[key]
	if cond.IfNoneMatch != "" && exists {
		if cond.IfNoneMatch == blobfs.ETagAny {
			return fmt.Errorf("%s: %w", key, blobfs.ErrAlreadyExists)
		}
		if cond.IfNoneMatch == existing.props.ETag {
			return fmt.Errorf("%s: if-none-match %s: %w", key, cond.IfNoneMatch, blobfs.ErrConditionNotMet)
		}
	}
	if cond.IfMatch != "" {
		if !exists || (cond.IfMatch != blobfs.ETagAny && cond.IfMatch != existing.props.ETag) {
			return fmt.Errorf("%s: if-match %s: %w", key, cond.IfMatch, blobfs.ErrConditionNotMet)
		}
	}
	return nil
}

func (s *MemoryStore) GetProperties(_ context.Context, container, key string) (*blobfs.BlobProperties, error) {
	c, err := s.container(container)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", key, blobfs.ErrNotFound)
	}
	props := b.props
	props.Metadata = maps.Clone(b.props.Metadata)
	return &props, nil
}

func (s *MemoryStore) PutMarker(_ context.Context, container, key string, cond *blobfs.Conditions) error {
	c, err := s.container(container)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(key, cond); err != nil {
		return err
	}
	c.putLocked(key, s.newBlob(nil, blobfs.MarkerMetadata(), ""))
	return nil
}

func (s *MemoryStore) ListFlat(_ context.Context, container string, opts blobfs.ListOptions) (*blobfs.ListPage, error) {
	c, err := s.container(container)
	if err != nil {
		return nil, err
	}
	marker, err := decodeToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}
	pageSize := opts.MaxResults
	if pageSize <= 0 {
		pageSize = DefaultMemoryPageSize
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	start, _ := slices.BinarySearch(c.keys, opts.Prefix)
	// the group of the last common prefix returned is skipped entirely on resume
	var group string
	if marker != "" {
		i, found := slices.BinarySearch(c.keys, marker)
		if found {
			i++
		}
		start = max(start, i)
		if opts.Delimiter != "" && strings.HasSuffix(marker, opts.Delimiter) {
			group = marker
		}
	}

	page := &blobfs.ListPage{}
	count := 0
	last := ""
	for _, key := range c.keys[start:] {
		if !strings.HasPrefix(key, opts.Prefix) {
			break
		}
		if group != "" && strings.HasPrefix(key, group) {
			continue
		}
		if count == pageSize {
			page.NextToken = encodeToken(last)
			break
		}
		rest := key[len(opts.Prefix):]
		if opts.Delimiter != "" {
			if j := strings.Index(rest, opts.Delimiter); j >= 0 {
				group = opts.Prefix + rest[:j+len(opts.Delimiter)]
				page.CommonPrefixes = append(page.CommonPrefixes, group)
				last = group
				count++
				continue
			}
		}
		page.Blobs = append(page.Blobs, blobfs.BlobItem{Name: key, Size: c.blobs[key].props.Size})
		last = key
		count++
	}
	return page, nil
}

func encodeToken(marker string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(marker))
}

func decodeToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: malformed continuation token: %v", blobfs.ErrIllegalArgument, err)
	}
	return string(b), nil
}

func (s *MemoryStore) Delete(_ context.Context, container, key string) error {
	c, err := s.container(container)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blobs[key]; !ok {
		return fmt.Errorf("blob %q: %w", key, blobfs.ErrNotFound)
	}
	delete(c.blobs, key)
	if i, found := slices.BinarySearch(c.keys, key); found {
		c.keys = slices.Delete(c.keys, i, i+1)
	}
	return nil
}

func (s *MemoryStore) OpenRangeRead(_ context.Context, container, key string, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", blobfs.ErrIllegalArgument, offset)
	}
	c, err := s.container(container)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	b, ok := c.blobs[key]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", key, blobfs.ErrNotFound)
	}
	size := int64(len(b.data))
	start := min(offset, size)
	end := size
	if length >= 0 {
		end = min(start+length, size)
	}
	return io.NopCloser(bytes.NewReader(b.data[start:end])), nil
}

func (s *MemoryStore) StageBlock(_ context.Context, container, key, blockID string, data []byte) error {
	c, err := s.container(container)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	blocks, ok := c.staged[key]
	if !ok {
		blocks = make(map[string][]byte)
		c.staged[key] = blocks
	}
	blocks[blockID] = slices.Clone(data)
	return nil
}

func (s *MemoryStore) CommitBlocks(_ context.Context, container, key string, blockIDs []string, opts *blobfs.CommitOptions) error {
	c, err := s.container(container)
	if err != nil {
		return err
	}
	if opts == nil {
		opts = &blobfs.CommitOptions{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(key, opts.Conditions); err != nil {
		return err
	}
	blocks := c.staged[key]
	var buf bytes.Buffer
	for _, id := range blockIDs {
		data, ok := blocks[id]
		if !ok {
			return fmt.Errorf("%w: block %q was not staged for %q", blobfs.ErrIllegalArgument, id, key)
		}
		buf.Write(data)
	}
	c.putLocked(key, s.newBlob(buf.Bytes(), opts.Metadata, opts.ContentType))
	delete(c.staged, key)
	return nil
}

func (s *MemoryStore) DiscardBlocks(_ context.Context, container, key string) error {
	c, err := s.container(container)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.staged, key)
	return nil
}

func (s *MemoryStore) Copy(_ context.Context, srcContainer, srcKey, dstContainer, dstKey string, cond *blobfs.Conditions) error {
	src, err := s.container(srcContainer)
	if err != nil {
		return err
	}
	dst, err := s.container(dstContainer)
	if err != nil {
		return err
	}

	src.mu.RLock()
	b, ok := src.blobs[srcKey]
	src.mu.RUnlock()
	if !ok {
		return fmt.Errorf("blob %q: %w", srcKey, blobfs.ErrNotFound)
	}

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if err := dst.checkLocked(dstKey, cond); err != nil {
		return err
	}
	dst.putLocked(dstKey, s.newBlob(b.data, b.props.Metadata, b.props.ContentType))
	return nil
}

func (s *MemoryStore) ContainerExists(_ context.Context, container string) (bool, error) {
	_, ok := s.containers.Load(container)
	return ok, nil
}

var _ blobfs.ObjectStore = (*MemoryStore)(nil)
