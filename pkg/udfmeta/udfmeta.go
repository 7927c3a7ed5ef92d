// Package udfmeta defines the immutable per-(partition, tiling) context
// snapshot handed to every UDF (spec §3 UDFMeta).
package udfmeta

import (
	"github.com/taimin-go/tiledreduce/pkg/device"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
)

// DeviceClass is the worker's processing class.
type DeviceClass uint8

const (
	CPU DeviceClass = iota
	CUDA
)

func (d DeviceClass) String() string {
	if d == CUDA {
		return "cuda"
	}
	return "cpu"
}

// TilingPreferences are a UDF's soft hints forwarded to the Negotiator
// collaborator (spec §4.3 get_tiling_preferences).
type TilingPreferences struct {
	Depth     int
	TotalSize int64
}

// TilingScheme carries the Negotiator's tiling decision (spec §6
// Negotiator collaborator); its internal shape is opaque to the engine
// beyond what the tile iterator needs, so it is modelled here only by the
// fields the runner itself consults.
type TilingScheme struct {
	Depth     int
	TotalSize int64
	Index     int
}

// Meta is the immutable snapshot described in spec §3: everything on it
// is fixed for the duration of one partition/tiling except Slice, which
// the PartitionRunner mutates before every dispatch.
type Meta struct {
	PartitionShape shape.Shape // ROI-adjusted
	DatasetShape   shape.Shape
	ROI            *roi.Mask // reshaped to nav, nil if absent
	DatasetDType   dtype.DType
	InputDType     dtype.DType
	Tiling         *TilingScheme // nil until negotiated
	Corrections    interface{}
	Device         DeviceClass

	// XP is the array-capability accessor a UDF uses instead of touching
	// a numeric library directly (spec §6 "the runner addresses it
	// through the UDF's xp accessor and never directly").
	XP device.XP

	// Slice is set by the runner immediately before each process_* call
	// and reflects the unit of data currently being processed.
	Slice shape.Slice
}

// Clone returns a shallow copy suitable for rebuilding after negotiation
// (new Tiling) without aliasing the Slice field across UDFs.
func (m Meta) Clone() Meta {
	return m
}
