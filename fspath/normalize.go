package fspath

const (
	currentDir = "."
	parentDir  = ".."
)

// Normalize removes `.` elements and collapses each `..` with the non-`..`
// element immediately before it. A `..` with nothing to collapse against is
// kept, so a rooted path never ascends above its root.
func (p Path) Normalize() Path {
	out := make([]string, 0, len(p.elems))
	for _, e := range p.elems {
		switch e {
		case currentDir:
			continue
		case parentDir:
			if n := len(out); n > 0 && out[n-1] != parentDir {
				out = out[:n-1]
				continue
			}
		}
		out = append(out, e)
	}
	return p.with(p.root, out)
}

// IsNormalized reports whether Normalize would leave p unchanged.
func (p Path) IsNormalized() bool {
	return p.Normalize().Equal(p)
}
