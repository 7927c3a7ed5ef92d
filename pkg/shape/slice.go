package shape

import "fmt"

// Slice is a (origin, shape) pair addressing a contiguous region of a
// dataset. A Slice is flat-nav when its origin/shape navigation axes have
// already been collapsed to a single dimension (see Shape.FlattenNav).
type Slice struct {
	Origin Shape
	Shape  Shape
}

// NewSlice builds a Slice from parallel origin/shape dims, both split at
// navDims.
func NewSlice(origin, extent []int64, navDims int) Slice {
	return Slice{Origin: New(origin, navDims), Shape: New(extent, navDims)}
}

// IsFlatNav reports whether the slice's navigation axes are collapsed to
// a single dimension.
func (s Slice) IsFlatNav() bool {
	return s.Shape.navSplit <= 1
}

// NavRange returns the [start, end) flat-nav range this slice covers,
// valid only once the slice (or its FlattenNav'd form) is flat-nav.
func (s Slice) NavRange() (start, end int64) {
	fo, fe := s.Origin.FlattenNav(), s.Shape.FlattenNav()
	start = fo.dims[0]
	end = start + fe.dims[0]
	return
}

// FlattenNav returns a copy of the slice with both origin and shape
// nav-flattened.
func (s Slice) FlattenNav() Slice {
	return Slice{Origin: s.Origin.FlattenNav(), Shape: s.Shape.FlattenNav()}
}

// NavPopCounter is satisfied by anything that can answer how many active
// (ROI-true) navigation positions fall within a flat-nav [0, n) prefix.
// roi.Mask implements this; it is expressed as an interface here so that
// package shape does not need to depend on package roi.
type NavPopCounter interface {
	PopCountPrefix(n int64) int64
	Len() int64
}

// AdjustForROI returns the slice restricted to ROI-selected navigation
// positions: the navigation extent becomes the count of true entries
// covered by the slice, and the navigation origin becomes the count of
// true entries strictly before the slice's start. The signal axes are
// unchanged. roi == nil is the identity transform.
func (s Slice) AdjustForROI(roi NavPopCounter) Slice {
	if roi == nil {
		return s
	}
	flat := s.FlattenNav()
	start, end := flat.NavRange()
	newStart := roi.PopCountPrefix(start)
	newEnd := roi.PopCountPrefix(end)

	origin := append([]int64{newStart}, s.Origin.dims[s.Origin.navSplit:]...)
	extent := append([]int64{newEnd - newStart}, s.Shape.dims[s.Shape.navSplit:]...)
	return Slice{
		Origin: Shape{dims: origin, navSplit: 1},
		Shape:  Shape{dims: extent, navSplit: 1},
	}
}

func (s Slice) String() string {
	return fmt.Sprintf("origin=%s shape=%s", s.Origin, s.Shape)
}
