package buffer

import (
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
)

// AuxBuffer is caller-supplied, pre-populated per-item data (e.g. a
// per-frame scan parameter) that the engine slices to each partition but
// never allocates or writes itself (spec §3 AuxBuffer).
type AuxBuffer struct {
	extraShape shape.Shape
	dt         dtype.DType
	// full holds one extraShape-sized row per dataset navigation position,
	// in row-major, *unfiltered* order (pre-populated by the caller over
	// every nav position regardless of ROI).
	full []float64
}

// NewAux wraps caller data as an AuxBuffer. len(data) must equal
// datasetNavSize * extra.Size() (or extra.Size() treated as 1 when extra
// is a scalar per-item shape).
func NewAux(extra shape.Shape, dt dtype.DType, data []float64) *AuxBuffer {
	return &AuxBuffer{extraShape: extra, dt: dt, full: data}
}

func (a *AuxBuffer) extraLen() int64 {
	n := a.extraShape.Size()
	if n == 0 {
		return 1
	}
	return n
}

// SliceForPartition re-slices the aux buffer's storage to the partition's
// ROI-selected rows, returning an already-allocated host KindNav Buffer
// ready to be viewed exactly like an engine-allocated nav buffer. This is
// the Go equivalent of the original engine's AuxBufferWrapper slicing
// performed by copy_for_partition (spec §3 Lifecycle, §4.5).
func (a *AuxBuffer) SliceForPartition(r *roi.Mask, partStart, partEnd int64) *Buffer {
	el := a.extraLen()
	out := make([]float64, 0, (partEnd-partStart)*el)
	for i := partStart; i < partEnd; i++ {
		if r == nil || r.At(i) {
			out = append(out, a.full[i*el:(i+1)*el]...)
		}
	}
	buf := New(KindNav, a.extraShape, a.dt, Host)
	buf.roi = r
	buf.bind = partitionBound
	if r != nil {
		buf.navBaseline = r.PopCountPrefix(partStart)
	} else {
		buf.navBaseline = partStart
	}
	buf.navCount = int64(len(out)) / el
	buf.data = out
	buf.allocated = true
	return buf
}
