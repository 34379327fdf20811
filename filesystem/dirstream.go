package filesystem

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

// Filter decides whether a child path is yielded by a directory stream. A
// returned error ends the iteration with a [blobfs.TransportError].
type Filter func(fspath.Path) (bool, error)

// AcceptAll is a [Filter] that accepts every child.
func AcceptAll(fspath.Path) (bool, error) { return true, nil }

// EntryKind tells how a child was discovered in the listing.
type EntryKind int

const (
	EntryBlob   EntryKind = iota // a blob stored directly under the directory
	EntryPrefix                  // a common prefix, i.e. a virtual or concrete subdirectory
)

func (k EntryKind) String() string {
	if k == EntryPrefix {
		return "prefix"
	}
	return "blob"
}

// Entry is one immediate child of a listed directory.
type Entry struct {
	Path fspath.Path
	Kind EntryKind
	Size int64 // blob size; 0 for prefixes
}

// Name returns the last element of the entry's path.
func (e Entry) Name() string {
	name, _ := e.Path.FileName()
	return name.String()
}

// DirectoryStream lists the immediate children of a directory. It hands out a
// single iterator.
type DirectoryStream struct {
	fs     *FileSystem
	ctx    context.Context
	dir    fspath.Path
	res    Resource
	filter Filter

	mu     sync.Mutex
	closed bool
	it     *DirectoryIterator
}

// NewDirectoryStream opens a stream over dir's children. filter may be nil to
// accept everything. dir must be an existing directory.
func (fs *FileSystem) NewDirectoryStream(ctx context.Context, dir fspath.Path, filter Filter) (*DirectoryStream, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	r, err := fs.Resource(dir)
	if err != nil {
		return nil, err
	}
	st, _, err := fs.status(ctx, r)
	if err != nil {
		return nil, err
	}
	switch st {
	case DoesNotExist:
		return nil, &blobfs.PathError{Op: "opendir", Path: dir.String(), Err: blobfs.ErrNotFound}
	case NotADirectory:
		return nil, &blobfs.PathError{Op: "opendir", Path: dir.String(), Err: blobfs.ErrNotDirectory}
	}
	if filter == nil {
		filter = AcceptAll
	}
	return &DirectoryStream{fs: fs, ctx: ctx, dir: dir, res: r, filter: filter}, nil
}

// Iterator returns the stream's iterator. A second call fails with
// [blobfs.ErrIteratorAlreadyOpen].
func (s *DirectoryStream) Iterator() (*DirectoryIterator, error) {
	if err := s.fs.checkOpen(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s: %w", s.dir, blobfs.ErrStreamClosed)
	}
	if s.it != nil {
		return nil, fmt.Errorf("%s: %w", s.dir, blobfs.ErrIteratorAlreadyOpen)
	}
	s.it = &DirectoryIterator{s: s, prefix: s.res.dirPrefix()}
	return s.it, nil
}

// Close invalidates the stream and its iterator. It may be called while
// another goroutine iterates; the iterator releases its buffered page on its
// next call. Closing twice is a no-op.
func (s *DirectoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *DirectoryStream) checkOpen() error {
	if err := s.fs.checkOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%s: %w", s.dir, blobfs.ErrStreamClosed)
	}
	return nil
}

// listItem is a blob or common prefix from one page, merged in key order.
type listItem struct {
	key  string
	kind EntryKind
	size int64
}

// DirectoryIterator walks a directory one listing page at a time. The next page
// is only requested once the buffered one is consumed. Not safe for concurrent
// use.
type DirectoryIterator struct {
	s      *DirectoryStream
	prefix string

	page    []listItem
	pos     int
	token   string
	fetched bool
	pages   int

	// keys of listed blobs whose common prefix may still follow; a marker blob
	// and the prefix of the same name are reported once
	pending []string

	next    *Entry
	pendErr error
	err     error // terminal
}

// HasNext reports whether Next will return an entry or an error. It does not
// advance past an unconsumed entry, so repeated calls are safe.
func (it *DirectoryIterator) HasNext() bool {
	if it.checkOpen() != nil {
		return false
	}
	if it.next != nil || it.pendErr != nil {
		return true
	}
	if it.err != nil {
		return false
	}
	it.advance()
	return it.next != nil || it.pendErr != nil
}

// Next returns the next entry. A listing or filter failure is returned once,
// wrapped in a [blobfs.TransportError]; after that and after exhaustion Next
// fails with [blobfs.ErrNoSuchElement].
func (it *DirectoryIterator) Next() (Entry, error) {
	if err := it.checkOpen(); err != nil {
		return Entry{}, err
	}
	if !it.HasNext() {
		return Entry{}, fmt.Errorf("%s: %w", it.s.dir, blobfs.ErrNoSuchElement)
	}
	if it.pendErr != nil {
		it.err, it.pendErr = it.pendErr, nil
		return Entry{}, it.err
	}
	e := *it.next
	it.next = nil
	return e, nil
}

// checkOpen reports a closed stream or filesystem and drops the buffered
// listing state once either is closed.
func (it *DirectoryIterator) checkOpen() error {
	err := it.s.checkOpen()
	if err != nil {
		it.page, it.pending, it.next = nil, nil, nil
	}
	return err
}

// Err returns the error that ended the iteration, if any.
func (it *DirectoryIterator) Err() error {
	if it.pendErr != nil {
		return it.pendErr
	}
	return it.err
}

// Pages returns the number of listing pages requested so far.
func (it *DirectoryIterator) Pages() int { return it.pages }

// All adapts the iterator to a range-over-func sequence. Iteration stops after
// the first error.
func (it *DirectoryIterator) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for it.HasNext() {
			e, err := it.Next()
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

func (it *DirectoryIterator) advance() {
	logger := util.GetLogger("FS.DirectoryIterator")

	for {
		if it.pos >= len(it.page) {
			if it.fetched && it.token == "" {
				return
			}
			if err := it.fetch(); err != nil {
				it.pendErr = err
				return
			}
			continue
		}
		item := it.page[it.pos]
		it.pos++

		if it.seenAsBlob(item) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(item.key, it.prefix), blobfs.Separator)
		if name == "" {
			continue
		}
		child, err := it.s.dir.Child(name)
		if err != nil {
			logger.Warn().Err(err).Str("key", item.key).Msg("Skipping child with unrepresentable name")
			continue
		}
		ok, err := it.s.filter(child)
		if err != nil {
			it.pendErr = &blobfs.TransportError{Op: "filter", Container: it.s.res.Container, Key: item.key, Err: err}
			return
		}
		if item.kind == EntryBlob {
			it.pending = append(it.pending, item.key)
		}
		if ok {
			it.next = &Entry{Path: child, Kind: item.kind, Size: item.size}
			return
		}
	}
}

// seenAsBlob reports whether item is the common prefix of a blob that was
// already listed. Pending blob keys that sort before item can no longer match a
// later prefix and are dropped, which keeps pending bounded by the page.
func (it *DirectoryIterator) seenAsBlob(item listItem) bool {
	kept := it.pending[:0]
	found := false
	for _, key := range it.pending {
		dirKey := key + blobfs.Separator
		switch {
		case item.kind == EntryPrefix && dirKey == item.key:
			found = true
		case dirKey >= item.key:
			kept = append(kept, key)
		}
	}
	it.pending = kept
	return found
}

func (it *DirectoryIterator) fetch() error {
	logger := util.GetLogger("FS.DirectoryIterator")

	r := it.s.res
	page, err := it.s.fs.store.ListFlat(it.s.ctx, r.Container, blobfs.ListOptions{
		Prefix:            it.prefix,
		Delimiter:         blobfs.Separator,
		ContinuationToken: it.token,
		MaxResults:        it.s.fs.cfg.ListPageSize,
	})
	if err != nil {
		return blobfs.WrapTransport("ListFlat", r.Container, it.prefix, err)
	}
	it.fetched = true
	it.pages++
	it.token = page.NextToken
	it.pos = 0
	it.page = mergePage(it.page[:0], page)
	logger.Debug().
		Str("resource", r.String()).
		Int("page", it.pages).
		Int("entries", len(it.page)).
		Bool("more", it.token != "").
		Msg("Fetched listing page")
	return nil
}

// mergePage interleaves a page's blobs and common prefixes by key.
func mergePage(dst []listItem, page *blobfs.ListPage) []listItem {
	bi, pi := 0, 0
	for bi < len(page.Blobs) || pi < len(page.CommonPrefixes) {
		if pi >= len(page.CommonPrefixes) || (bi < len(page.Blobs) && page.Blobs[bi].Name < page.CommonPrefixes[pi]) {
			b := page.Blobs[bi]
			dst = append(dst, listItem{key: b.Name, kind: EntryBlob, size: b.Size})
			bi++
			continue
		}
		dst = append(dst, listItem{key: page.CommonPrefixes[pi], kind: EntryPrefix})
		pi++
	}
	return dst
}
