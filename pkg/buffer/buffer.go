// Package buffer implements the typed, shape-polymorphic result-buffer
// abstraction (spec §4.1): Buffer and its view lifecycle, and the named
// BufferGroup collection (spec §4.2).
package buffer

import (
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/engerrors"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
)

// Kind selects a Buffer's base-shape semantics (spec §4.1).
type Kind uint8

const (
	// KindNav buffers carry one slot per navigation position (ROI-compressed).
	KindNav Kind = iota
	// KindSig buffers carry the dataset's full signal shape, independent of
	// partitioning; used for accumulators that reduce over navigation.
	KindSig
	// KindSingle buffers carry no base shape, only extra_shape.
	KindSingle
)

func (k Kind) String() string {
	switch k {
	case KindNav:
		return "nav"
	case KindSig:
		return "sig"
	case KindSingle:
		return "single"
	default:
		return "unknown"
	}
}

// Where selects host or accelerator-resident storage.
type Where uint8

const (
	Host Where = iota
	Device
)

type binding uint8

const (
	unbound binding = iota
	datasetBound
	partitionBound
)

// Buffer is a typed result/aux buffer that re-slices itself to the
// currently processed unit of data (dataset/partition/tile/frame).
//
// Storage is kept as a flat []float64 regardless of the buffer's logical
// DType; DType only governs promotion/cast-safety bookkeeping, and Export
// performs no value conversion. This keeps the engine's core free of a
// dependency on a general n-dimensional array library (none of the
// retrieval pack's teachers ship one for arbitrary element types; gonum is
// matrix-algebra oriented and is not used by this module, see DESIGN.md)
// while still letting per-dtype elementwise work happen through the
// vectorized backends in pkg/device.
type Buffer struct {
	kind       Kind
	extraShape shape.Shape
	dt         dtype.DType
	where      Where

	bind        binding
	roi         *roi.Mask
	datasetSig  shape.Shape
	navBaseline int64 // popcount(roi[0:binding_start]), baseline for tile/frame lookups
	navCount    int64 // nav extent of the current binding

	data      []float64
	allocated bool
	exported  bool

	view *View
}

// New declares a buffer of the given kind, extra shape, dtype and
// memory class. It is unbound and unallocated until Set/Allocate are
// called.
func New(kind Kind, extra shape.Shape, dt dtype.DType, where Where) *Buffer {
	return &Buffer{kind: kind, extraShape: extra, dt: dt, where: where}
}

func (b *Buffer) Kind() Kind          { return b.kind }
func (b *Buffer) DType() dtype.DType  { return b.dt }
func (b *Buffer) Where() Where        { return b.where }
func (b *Buffer) ExtraShape() shape.Shape { return b.extraShape }

func (b *Buffer) extraLen() int64 {
	n := b.extraShape.Size()
	if n == 0 {
		return 1
	}
	return n
}

// baseLen returns the number of "rows" (nav positions, sig elements, or 1
// for single) in the current binding.
func (b *Buffer) baseLen() int64 {
	switch b.kind {
	case KindNav:
		return b.navCount
	case KindSig:
		return b.datasetSig.Size()
	case KindSingle:
		return 1
	}
	return 0
}

// SetShapeDS binds the buffer to the dataset: for KindNav the navigation
// extent becomes the ROI's true-count (or the full dataset nav size when
// roi is nil); for KindSig the signal shape is fixed to the dataset's
// signal shape. Re-binding (dataset or partition) replaces storage on the
// next Allocate.
func (b *Buffer) SetShapeDS(datasetNav, datasetSig shape.Shape, r *roi.Mask) error {
	b.roi = r
	b.datasetSig = datasetSig
	b.bind = datasetBound
	b.navBaseline = 0
	b.allocated = false
	b.exported = false
	switch b.kind {
	case KindNav:
		if r != nil {
			if err := r.ValidateAgainst(datasetNav); err != nil {
				return err
			}
			b.navCount = r.PopCount()
		} else {
			b.navCount = datasetNav.NavSize()
		}
	case KindSig:
		b.navCount = 0
	case KindSingle:
		b.navCount = 0
	}
	return nil
}

// SetShapePartition binds the buffer to one partition spanning the
// unfiltered flat-nav range [partStart, partEnd) of the dataset. The
// navigation extent of a KindNav buffer becomes the count of ROI-true
// entries within that range; navBaseline is cached so tile/frame views
// can be resolved relative to the partition's own popcount origin.
func (b *Buffer) SetShapePartition(datasetSig shape.Shape, r *roi.Mask, partStart, partEnd int64) error {
	b.roi = r
	b.datasetSig = datasetSig
	b.bind = partitionBound
	b.allocated = false
	b.exported = false
	switch b.kind {
	case KindNav:
		if r != nil {
			b.navBaseline = r.PopCountPrefix(partStart)
			b.navCount = r.PopCountPrefix(partEnd) - b.navBaseline
		} else {
			b.navBaseline = partStart
			b.navCount = partEnd - partStart
		}
	case KindSig, KindSingle:
		b.navBaseline = 0
		b.navCount = 0
	}
	return nil
}

// Allocate zero-initializes storage for the current binding. Calling it
// twice on the same binding without an intervening Set* call is an error.
func (b *Buffer) Allocate(where Where) error {
	if b.bind == unbound {
		return engerrors.Config("buffer: allocate called before set_shape_ds/set_shape_partition")
	}
	if b.allocated {
		return engerrors.Shapef("buffer: already allocated for this binding (kind=%s)", b.kind)
	}
	b.where = where
	n := b.baseLen() * b.extraLen()
	b.data = make([]float64, n)
	b.allocated = true
	return nil
}

// HasData reports whether storage has been allocated.
func (b *Buffer) HasData() bool { return b.allocated }

// Clone returns an independent copy of b: its own storage slice, no
// current view. Used to take a stable point-in-time snapshot of a global
// result buffer that is still being written to by later merges (spec
// §4.5 "yields a snapshot... after each merged task").
func (b *Buffer) Clone() *Buffer {
	out := *b
	out.view = nil
	if b.data != nil {
		out.data = append([]float64(nil), b.data...)
	}
	return &out
}

// RawData returns the entire backing storage, independent of any current
// view.
func (b *Buffer) RawData() []float64 { return b.data }

// localRange maps a tile/frame's [start, end) expressed in the
// currently-bound coordinate space (dataset-bound: unfiltered dataset
// flat-nav; partition-bound: unfiltered dataset flat-nav, will be offset
// by the partition's own baseline) to a [lo, hi) index range into this
// buffer's storage.
func (b *Buffer) localRange(globalStart, globalEnd int64) (int64, int64) {
	if b.roi == nil {
		return globalStart - (globalStartBaselineAdjust(b)), globalEnd - (globalStartBaselineAdjust(b))
	}
	lo := b.roi.PopCountPrefix(globalStart) - b.navBaseline
	hi := b.roi.PopCountPrefix(globalEnd) - b.navBaseline
	return lo, hi
}

func globalStartBaselineAdjust(b *Buffer) int64 {
	if b.bind == partitionBound {
		return b.navBaseline
	}
	return 0
}
