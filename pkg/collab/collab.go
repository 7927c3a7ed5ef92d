// Package collab declares the external collaborators spec.md §6 treats as
// out of scope: dataset readers and their partition/tile iterators, the
// tiling-preference Negotiator, and the task Executor. The engine depends
// only on these interfaces; concrete readers/negotiators/cluster
// executors live outside this module. pkg/localexec provides a minimal
// in-process implementation used by tests.
package collab

import (
	"context"

	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// Corrections is an opaque value passed through UDFMeta to UDFs and to
// Partition.SetCorrections.
type Corrections = interface{}

// Frame is a single navigation-position's signal data, as handed to a
// frame-granularity UDF.
type Frame struct {
	Slice shape.Slice
	Data  []float64
}

// Tile is a sub-block of a partition produced by the tile iterator; it
// iterates as frames along its leading (navigation) axis.
type Tile interface {
	// Slice is the tile's coverage, expressed in the dataset's unfiltered
	// flat-nav coordinate space (tile_slice in spec.md §6).
	Slice() shape.Slice
	// Data returns the tile's raw sample data, laid out [nav, sig...].
	Data() []float64
	// NumFrames returns the number of navigation rows in this tile.
	NumFrames() int
	// Frame returns the i'th frame of this tile.
	Frame(i int) Frame
}

// TileIterator yields the tiles of one partition in a fixed, engine-
// respected order (spec §5 Ordering).
type TileIterator interface {
	Next(ctx context.Context) (Tile, bool, error)
	Close() error
}

// Partition is a contiguous block of navigation positions owned by one
// dataset reader unit.
type Partition interface {
	Slice() shape.Slice // unfiltered flat-nav range within the dataset
	DType() dtype.DType
	MetaShape() shape.Shape
	GetTiles(ctx context.Context, scheme *udfmeta.TilingScheme, r *roi.Mask, destDType dtype.DType) (TileIterator, error)
	SetCorrections(c Corrections) error
	GetLocations() []string
}

// Dataset is the top-level collaborator the Dispatcher drives.
type Dataset interface {
	Shape() shape.Shape
	DType() dtype.DType
	GetPartitions(ctx context.Context) ([]Partition, error)
}

// NegotiationRequest bundles what the Negotiator needs to pick a tiling.
type NegotiationRequest struct {
	Preferences []udfmeta.TilingPreferences
	Partition   Partition
	ReadDType   dtype.DType
	ROI         *roi.Mask
}

// Negotiator picks a TilingScheme honoring every UDF's preferences as
// soft hints.
type Negotiator interface {
	Negotiate(ctx context.Context, req NegotiationRequest) (*udfmeta.TilingScheme, error)
}

// Executor runs Tasks (opaque to this package; see the tiledreduce root
// package for the concrete Task type) and streams back results.
type Executor interface {
	// RunTasks submits tasks under cancelID and returns a channel of
	// (result, task-index, err) triples in arrival order. Results are
	// []byte: the gob-encoded, zstd-compressed result tuple
	// for the task at that index (spec §6 "Tasks must be serialisable").
	RunTasks(ctx context.Context, cancelID string, tasks [][]byte) (<-chan TaskArrival, error)
	Cancel(cancelID string)
}

// TaskArrival is one Executor result arrival.
type TaskArrival struct {
	TaskIndex int
	Result    []byte
	Err       error
}
