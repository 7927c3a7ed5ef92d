package buffer

import "github.com/taimin-go/tiledreduce/pkg/engerrors"

// View is a mutable sub-range of a Buffer's storage selected by the
// currently processed unit of data. A View must not outlive the next
// set_view_* call on its owning Buffer (enforced informally, as in the
// teacher corpus: callers must respect the lifecycle, there is no
// defensive generational check).
type View struct {
	buf    *Buffer
	data   []float64
	staged bool
	// stageLo/stageHi record where a staged view scatters back to on Flush.
	stageLo, stageHi int64
}

// Data returns the view's slice. Writes are visible to Flush/merge once
// the current dispatch granularity ends.
func (v *View) Data() []float64 { return v.data }

func (b *Buffer) setView(v *View) { b.view = v }

// CurrentView returns the buffer's active view, or nil.
func (b *Buffer) CurrentView() *View { return b.view }

// GetViewForDataset returns a view covering the buffer's entire
// dataset-bound storage.
func (b *Buffer) GetViewForDataset() (*View, error) {
	if err := b.requireAllocated(); err != nil {
		return nil, err
	}
	v := &View{buf: b, data: b.data}
	b.setView(v)
	return v, nil
}

// GetViewForPartition returns a view covering the buffer's entire
// partition-bound storage (for KindSig/KindSingle this is identical to
// the dataset view; for KindNav it is the partition's ROI-compressed
// slice).
func (b *Buffer) GetViewForPartition() (*View, error) {
	if err := b.requireAllocated(); err != nil {
		return nil, err
	}
	v := &View{buf: b, data: b.data}
	b.setView(v)
	return v, nil
}

// GetViewForTile returns a view for the tile spanning the unfiltered
// dataset flat-nav range [globalStart, globalEnd). For KindSig/KindSingle
// buffers this is always the whole storage. For KindNav buffers whose
// tile covers zero ROI-true positions, ok is false and the caller must
// skip this tile for this buffer's UDF without dispatching.
func (b *Buffer) GetViewForTile(globalStart, globalEnd int64) (v *View, ok bool, err error) {
	if err = b.requireAllocated(); err != nil {
		return nil, false, err
	}
	if b.kind != KindNav {
		v = &View{buf: b, data: b.data}
		b.setView(v)
		return v, true, nil
	}
	lo, hi := b.localRange(globalStart, globalEnd)
	if hi <= lo {
		return nil, false, nil
	}
	el := b.extraLen()
	v = &View{buf: b, data: b.data[lo*el : hi*el]}
	b.setView(v)
	return v, true, nil
}

// GetContiguousViewForTile is identical to GetViewForTile but guarantees
// the returned memory is contiguous for in-place writes. Host buffers are
// already laid out contiguously in ROI-compressed nav order, so this is a
// direct slice; device-resident buffers are gathered into a host staging
// slice that Flush scatters back.
func (b *Buffer) GetContiguousViewForTile(globalStart, globalEnd int64) (v *View, ok bool, err error) {
	v, ok, err = b.GetViewForTile(globalStart, globalEnd)
	if err != nil || !ok || b.where != Device {
		return v, ok, err
	}
	staged := make([]float64, len(v.data))
	copy(staged, v.data)
	lo, hi := b.localRange(globalStart, globalEnd)
	sv := &View{buf: b, data: staged, staged: true, stageLo: lo, stageHi: hi}
	b.setView(sv)
	return sv, true, nil
}

// GetViewForFrame returns a single-frame view at unfiltered dataset
// flat-nav index globalIdx. ok is false when the frame is excluded by
// ROI, in which case the caller must not dispatch process_frame for it.
func (b *Buffer) GetViewForFrame(globalIdx int64) (v *View, ok bool, err error) {
	return b.GetViewForTile(globalIdx, globalIdx+1)
}

// Flush propagates any staged writes back into storage. Mandatory after
// each partition, and a no-op for unstaged views.
func (b *Buffer) Flush() error {
	if b.view != nil && b.view.staged {
		el := b.extraLen()
		copy(b.data[b.view.stageLo*el:b.view.stageHi*el], b.view.data)
	}
	return nil
}

// ClearViews drops the buffer's current view.
func (b *Buffer) ClearViews() { b.view = nil }

// Export performs one-time finalization before ship-back: it marks the
// buffer exported and leaves the storage, which is always a host
// []float64, unchanged. Calling it twice is an error.
func (b *Buffer) Export() error {
	if b.exported {
		return engerrors.Shape("buffer: export called twice")
	}
	b.exported = true
	return nil
}

func (b *Buffer) requireAllocated() error {
	if !b.allocated {
		return engerrors.Shape("buffer: view requested before allocate")
	}
	return nil
}
