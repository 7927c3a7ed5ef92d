package runner

import (
	"context"

	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/device"
	"github.com/taimin-go/tiledreduce/pkg/shape"
	"github.com/taimin-go/tiledreduce/pkg/udf"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// stream drives the Streaming state (spec §4.4 step 3): pull tiles from
// the partition's iterator in order, skip any whose ROI popcount is zero,
// and dispatch each to every UDF at its declared granularity.
func stream(ctx context.Context, part collab.Partition, states []*udfState, scheme *udfmeta.TilingScheme, opts Options) error {
	it, err := part.GetTiles(ctx, scheme, opts.ROI, states[0].meta.InputDType)
	if err != nil {
		return err
	}
	defer it.Close()

	partSlice := part.Slice().FlattenNav()

	for {
		tile, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		tileSlice := tile.Slice().FlattenNav()
		tileStart, tileEnd := tileSlice.NavRange()
		if !rangeSelected(opts, tileStart, tileEnd) {
			continue
		}

		for _, st := range states {
			dispatchTileV := tile
			if st.deviceMode {
				dispatchTileV = transferToDevice(st.meta.XP, tile)
			}
			switch st.granularity {
			case udf.GranularityTile:
				if err := dispatchTile(st, tileSlice, dispatchTileV); err != nil {
					return err
				}
			case udf.GranularityFrame:
				if err := dispatchFrames(opts, st, dispatchTileV, tileSlice, tileStart); err != nil {
					return err
				}
			case udf.GranularityPartition:
				if err := dispatchPartitionTile(st, partSlice, tileStart, tileEnd, dispatchTileV); err != nil {
					return err
				}
			}
			st.results.ClearViews()
		}
	}
	return nil
}

func dispatchTile(st *udfState, tileSlice shape.Slice, tile collab.Tile) error {
	start, end := tileSlice.NavRange()
	if err := st.results.SetContiguousViewForTile(start, end); err != nil {
		return err
	}
	st.meta.Slice = tileSlice
	tp := st.impl.(udf.TileProcessor)
	return tp.ProcessTile(&st.meta, st.results, tile)
}

func dispatchPartitionTile(st *udfState, partSlice shape.Slice, start, end int64, tile collab.Tile) error {
	if err := st.results.SetViewForTile(start, end); err != nil {
		return err
	}
	st.meta.Slice = partSlice
	pp := st.impl.(udf.PartitionProcessor)
	return pp.ProcessPartition(&st.meta, st.results, tile)
}

func dispatchFrames(opts Options, st *udfState, tile collab.Tile, tileSlice shape.Slice, tileStart int64) error {
	fp := st.impl.(udf.FrameProcessor)
	sigDims := append([]int64(nil), tileSlice.Shape.Dims()[1:]...)
	sigOrigin := tileSlice.Origin.Dims()[1:]

	for i := 0; i < tile.NumFrames(); i++ {
		globalIdx := tileStart + int64(i)
		if !rangeSelected(opts, globalIdx, globalIdx+1) {
			continue
		}
		if err := st.results.SetViewForFrame(globalIdx); err != nil {
			return err
		}

		origin := append([]int64{globalIdx}, sigOrigin...)
		extent := append([]int64{1}, sigDims...)
		frameSlice := shape.NewSlice(origin, extent, 1)
		st.meta.Slice = frameSlice

		frame := tile.Frame(i)
		if err := fp.ProcessFrame(&st.meta, st.results, frame); err != nil {
			return err
		}
	}
	return nil
}

// deviceTile wraps a host-resident Tile whose sample data has been moved
// through the worker's xp accessor into device-resident storage, so a
// cupy-like UDF never reads the host-backed slice directly (spec §4.4
// step 3, spec §6 "the runner addresses it through the UDF's xp accessor
// and never directly").
type deviceTile struct {
	collab.Tile
	data   []float64
	frames int
}

// transferToDevice copies tile's data through xp into a freshly allocated
// slice before a device-mode UDF is dispatched against it. There is no
// CUDA driver wired into this module (see DESIGN.md), so the "device"
// side of the transfer is backed by the same vectorized host XP as the
// CPU path; what this isolates is the indirection and the copy, not a
// distinct physical memory space.
func transferToDevice(xp device.XP, tile collab.Tile) collab.Tile {
	src := tile.Data()
	dst := make([]float64, len(src))
	xp.Copy(dst, src)
	return deviceTile{Tile: tile, data: dst, frames: tile.NumFrames()}
}

func (t deviceTile) Data() []float64 { return t.data }

func (t deviceTile) Frame(i int) collab.Frame {
	host := t.Tile.Frame(i)
	sig := len(t.data) / t.frames
	return collab.Frame{Slice: host.Slice, Data: t.data[i*sig : (i+1)*sig]}
}

// rangeSelected reports whether the unfiltered flat-nav range [start, end)
// contains at least one ROI-selected position, so empty-after-ROI tiles
// and frames are skipped entirely rather than dispatched with a
// zero-length view (spec §8 "Empty-ROI skip").
func rangeSelected(opts Options, start, end int64) bool {
	if end <= start {
		return false
	}
	if opts.ROI == nil {
		return true
	}
	return opts.ROI.PopCountPrefix(end)-opts.ROI.PopCountPrefix(start) > 0
}
