// Package fspath implements the hierarchical path model used by the filesystem:
// an optional root (a container name written as `name:`) followed by ordered name
// elements. Paths are immutable values and perform no I/O.
package fspath

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brettbedarf/blobfs"
)

// RootSuffix terminates the root element of a rooted path, i.e. "photos:/2024/a.jpg"
const RootSuffix = ":"

// Path is an immutable hierarchical identifier bound to the filesystem that
// created it. The zero value is the empty relative path of no filesystem.
type Path struct {
	owner uuid.UUID
	root  string   // container name without RootSuffix; "" when relative
	elems []string // never contains empty strings
}

// Parse parses s into a Path owned by the filesystem identified by owner.
// Repeated separators are collapsed and leading/trailing separators dropped.
//
// A root qualifier is only valid as the first element and only once; a colon
// anywhere else fails with [blobfs.ErrInvalidPath].
func Parse(owner uuid.UUID, s string) (Path, error) {
	p := Path{owner: owner}
	leadingSep := strings.HasPrefix(s, blobfs.Separator)
	for i, part := range splitElems(s) {
		if !strings.Contains(part, RootSuffix) {
			p.elems = append(p.elems, part)
			continue
		}
		name := strings.TrimSuffix(part, RootSuffix)
		switch {
		case i != 0 || leadingSep:
			return Path{}, invalidPath(s, "root qualifier %q must be the first element", part)
		case !strings.HasSuffix(part, RootSuffix):
			return Path{}, invalidPath(s, "element %q contains a reserved character", part)
		case name == "":
			return Path{}, invalidPath(s, "empty root name")
		case strings.Contains(name, RootSuffix):
			return Path{}, invalidPath(s, "element %q contains more than one root qualifier", part)
		}
		p.root = name
	}
	return p, nil
}

// Join joins first and more with the separator and parses the result.
func Join(owner uuid.UUID, first string, more ...string) (Path, error) {
	if len(more) == 0 {
		return Parse(owner, first)
	}
	parts := make([]string, 0, len(more)+1)
	parts = append(parts, first)
	parts = append(parts, more...)
	return Parse(owner, strings.Join(parts, blobfs.Separator))
}

// MustParse is like [Parse] but panics on invalid input. Meant for tests and
// constant paths.
func MustParse(owner uuid.UUID, s string) Path {
	p, err := Parse(owner, s)
	if err != nil {
		panic(err)
	}
	return p
}

func splitElems(s string) []string {
	raw := strings.Split(s, blobfs.Separator)
	elems := make([]string, 0, len(raw))
	for _, e := range raw {
		if e != "" {
			elems = append(elems, e)
		}
	}
	return elems
}

func invalidPath(s, format string, args ...any) error {
	return fmt.Errorf("%w: %q: %s", blobfs.ErrInvalidPath, s, fmt.Sprintf(format, args...))
}

// Owner returns the identity of the filesystem the path belongs to.
func (p Path) Owner() uuid.UUID { return p.owner }

// IsAbsolute reports whether the path has a root. Only rooted paths are absolute.
func (p Path) IsAbsolute() bool { return p.root != "" }

// IsEmpty reports whether the path has neither a root nor any elements.
func (p Path) IsEmpty() bool { return p.root == "" && len(p.elems) == 0 }

// RootName returns the root's container name, or "" for a relative path.
func (p Path) RootName() string { return p.root }

// Root returns the root component as a path of its own.
func (p Path) Root() (Path, bool) {
	if p.root == "" {
		return Path{}, false
	}
	return Path{owner: p.owner, root: p.root}, true
}

// IsRoot reports whether the path consists of a root only.
func (p Path) IsRoot() bool { return p.root != "" && len(p.elems) == 0 }

// NameCount returns the number of name elements, excluding the root.
func (p Path) NameCount() int { return len(p.elems) }

// Elements returns a copy of the name elements.
func (p Path) Elements() []string {
	return append([]string(nil), p.elems...)
}

// Name returns element i as a relative path.
func (p Path) Name(i int) (Path, error) {
	if i < 0 || i >= len(p.elems) {
		return Path{}, fmt.Errorf("%w: name index %d out of range [0,%d)", blobfs.ErrIllegalArgument, i, len(p.elems))
	}
	return Path{owner: p.owner, elems: []string{p.elems[i]}}, nil
}

// FileName returns the last element as a relative path.
func (p Path) FileName() (Path, bool) {
	if len(p.elems) == 0 {
		return Path{}, false
	}
	return Path{owner: p.owner, elems: []string{p.elems[len(p.elems)-1]}}, true
}

// Parent returns the path without its last element. A single-element relative
// path and a root have no parent; the parent of "c:/a" is "c:".
func (p Path) Parent() (Path, bool) {
	switch {
	case len(p.elems) == 0:
		return Path{}, false
	case len(p.elems) == 1 && p.root == "":
		return Path{}, false
	}
	return p.with(p.root, p.elems[:len(p.elems)-1]), true
}

// Child returns p with name appended as a single element. name must be a
// plain element: no separator, no root qualifier, not `.` or `..`.
func (p Path) Child(name string) (Path, error) {
	switch {
	case name == "", name == currentDir, name == parentDir:
		return Path{}, invalidPath(name, "not a child name")
	case strings.Contains(name, blobfs.Separator), strings.Contains(name, RootSuffix):
		return Path{}, invalidPath(name, "element contains a reserved character")
	}
	elems := make([]string, 0, len(p.elems)+1)
	elems = append(elems, p.elems...)
	elems = append(elems, name)
	return Path{owner: p.owner, root: p.root, elems: elems}, nil
}

// Subpath returns the relative path of elements [begin, end).
func (p Path) Subpath(begin, end int) (Path, error) {
	if begin < 0 || begin >= len(p.elems) || end <= begin || end > len(p.elems) {
		return Path{}, fmt.Errorf("%w: subpath [%d,%d) out of range for %d elements",
			blobfs.ErrIllegalArgument, begin, end, len(p.elems))
	}
	return p.with("", p.elems[begin:end]), nil
}

// StartsWith reports whether p begins with other: same filesystem, same root
// and other's elements as a prefix.
func (p Path) StartsWith(other Path) bool {
	if p.owner != other.owner || p.root != other.root || len(other.elems) > len(p.elems) {
		return false
	}
	for i, e := range other.elems {
		if p.elems[i] != e {
			return false
		}
	}
	return true
}

// EndsWith reports whether p ends with other. A rooted other must equal p.
func (p Path) EndsWith(other Path) bool {
	if p.owner != other.owner {
		return false
	}
	if other.root != "" {
		return p.Equal(other)
	}
	if len(other.elems) > len(p.elems) || len(other.elems) == 0 {
		return false
	}
	off := len(p.elems) - len(other.elems)
	for i, e := range other.elems {
		if p.elems[off+i] != e {
			return false
		}
	}
	return true
}

// Resolve resolves other against p. An absolute other is returned unchanged, an
// empty other yields p, and otherwise the elements are concatenated as-is;
// `.` and `..` are kept (see [Path.Normalize]).
func (p Path) Resolve(other Path) Path {
	switch {
	case other.IsAbsolute():
		return other
	case other.IsEmpty():
		return p
	}
	elems := make([]string, 0, len(p.elems)+len(other.elems))
	elems = append(elems, p.elems...)
	elems = append(elems, other.elems...)
	return Path{owner: p.owner, root: p.root, elems: elems}
}

// ResolveString parses other with p's owner and resolves it against p.
func (p Path) ResolveString(other string) (Path, error) {
	o, err := Parse(p.owner, other)
	if err != nil {
		return Path{}, err
	}
	return p.Resolve(o), nil
}

// Relativize constructs the relative path from p to other. Both paths must be
// rooted at the same root or both relative.
func (p Path) Relativize(other Path) (Path, error) {
	if p.IsAbsolute() != other.IsAbsolute() {
		return Path{}, fmt.Errorf("%w: %q and %q", blobfs.ErrIllegalRelativize, p, other)
	}
	if p.root != other.root {
		return Path{}, fmt.Errorf("%w: roots %q and %q differ", blobfs.ErrIllegalRelativize, p.root, other.root)
	}
	i := 0
	for i < len(p.elems) && i < len(other.elems) && p.elems[i] == other.elems[i] {
		i++
	}
	elems := make([]string, 0, len(p.elems)-i+len(other.elems)-i)
	for range p.elems[i:] {
		elems = append(elems, "..")
	}
	elems = append(elems, other.elems[i:]...)
	return p.with("", elems), nil
}

// Key joins the name elements with the separator. The root is not included.
func (p Path) Key() string {
	return strings.Join(p.elems, blobfs.Separator)
}

// String returns the canonical form: "root:", "root:/a/b" or "a/b".
func (p Path) String() string {
	key := p.Key()
	if p.root == "" {
		return key
	}
	if key == "" {
		return p.root + RootSuffix
	}
	return p.root + RootSuffix + blobfs.Separator + key
}

// Equal reports structural equality. Paths from different filesystems are never equal.
func (p Path) Equal(other Path) bool {
	if p.owner != other.owner || p.root != other.root || len(p.elems) != len(other.elems) {
		return false
	}
	for i := range p.elems {
		if p.elems[i] != other.elems[i] {
			return false
		}
	}
	return true
}

// Compare orders paths by root, then element by element lexicographically.
// A path sorts before any longer path it is a prefix of.
func (p Path) Compare(other Path) int {
	if c := strings.Compare(p.root, other.root); c != 0 {
		return c
	}
	for i := 0; i < len(p.elems) && i < len(other.elems); i++ {
		if c := strings.Compare(p.elems[i], other.elems[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.elems) < len(other.elems):
		return -1
	case len(p.elems) > len(other.elems):
		return 1
	}
	return 0
}

func (p Path) with(root string, elems []string) Path {
	return Path{owner: p.owner, root: root, elems: append([]string(nil), elems...)}
}
