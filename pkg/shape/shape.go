// Package shape implements the structured n-dimensional index algebra used
// throughout the engine: a navigation/signal axis split (Shape) and an
// origin+extent region within it (Slice).
package shape

import "fmt"

// Shape is an ordered tuple of positive axis extents with a declared split
// point separating the leading navigation axes from the trailing signal
// axes. Sizes are allowed to be 0 only for an empty dataset.
type Shape struct {
	dims     []int64
	navSplit int
}

// New builds a Shape from dims with the first navDims axes treated as
// navigation and the remainder as signal.
func New(dims []int64, navDims int) Shape {
	if navDims < 0 || navDims > len(dims) {
		navDims = len(dims)
	}
	cp := make([]int64, len(dims))
	copy(cp, dims)
	return Shape{dims: cp, navSplit: navDims}
}

// Dims returns the full ordered tuple of axis extents.
func (s Shape) Dims() []int64 {
	cp := make([]int64, len(s.dims))
	copy(cp, s.dims)
	return cp
}

// NDim returns the total number of axes.
func (s Shape) NDim() int { return len(s.dims) }

// Nav returns the leading navigation-axes sub-shape.
func (s Shape) Nav() Shape {
	return Shape{dims: append([]int64(nil), s.dims[:s.navSplit]...), navSplit: s.navSplit}
}

// Sig returns the trailing signal-axes sub-shape.
func (s Shape) Sig() Shape {
	d := append([]int64(nil), s.dims[s.navSplit:]...)
	return Shape{dims: d, navSplit: 0}
}

// NavSize returns the product of the navigation axes.
func (s Shape) NavSize() int64 { return product(s.dims[:s.navSplit]) }

// SigSize returns the product of the signal axes.
func (s Shape) SigSize() int64 { return product(s.dims[s.navSplit:]) }

// Size returns the product of all axes.
func (s Shape) Size() int64 { return product(s.dims) }

// FlattenNav collapses the navigation axes into a single leading axis of
// extent NavSize, leaving the signal axes untouched.
func (s Shape) FlattenNav() Shape {
	d := append([]int64{s.NavSize()}, s.dims[s.navSplit:]...)
	return Shape{dims: d, navSplit: 1}
}

// WithExtra appends extra trailing axes (e.g. a UDF's per-item result
// shape) to the signal portion of the shape.
func (s Shape) WithExtra(extra Shape) Shape {
	d := append(append([]int64(nil), s.dims...), extra.dims...)
	return Shape{dims: d, navSplit: s.navSplit}
}

func (s Shape) String() string {
	return fmt.Sprintf("Shape%v/nav=%d", s.dims, s.navSplit)
}

// product returns the product of dims, using the empty-product identity
// (1) for a zero-axis shape, so that a buffer's scalar (no extra axes)
// per-item result has size 1, not 0.
func product(dims []int64) int64 {
	p := int64(1)
	for _, d := range dims {
		p *= d
	}
	return p
}

// Equal reports structural equality (same dims, same split).
func (s Shape) Equal(o Shape) bool {
	if s.navSplit != o.navSplit || len(s.dims) != len(o.dims) {
		return false
	}
	for i := range s.dims {
		if s.dims[i] != o.dims[i] {
			return false
		}
	}
	return true
}
