package localexec

import (
	"context"

	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// defaultTileDepth is used when the negotiated scheme carries no usable
// depth hint.
const defaultTileDepth = 16

// Partition is a contiguous flat-nav range of a Dataset.
type Partition struct {
	dataset     *Dataset
	start, end  int64
	sigSize     int64
	metaSig     shape.Shape
	corrections collab.Corrections
}

func (p *Partition) Slice() shape.Slice {
	return shape.NewSlice([]int64{p.start}, []int64{p.end - p.start}, 1)
}

func (p *Partition) DType() dtype.DType { return p.dataset.dt }

func (p *Partition) MetaShape() shape.Shape {
	return shape.New(append([]int64{p.end - p.start}, p.metaSig.Dims()...), 1)
}

func (p *Partition) GetLocations() []string { return []string{"local"} }

func (p *Partition) SetCorrections(c collab.Corrections) error {
	p.corrections = c
	return nil
}

func (p *Partition) GetTiles(ctx context.Context, scheme *udfmeta.TilingScheme, r *roi.Mask, destDType dtype.DType) (collab.TileIterator, error) {
	depth := int64(defaultTileDepth)
	if scheme != nil && scheme.Depth > 0 {
		depth = int64(scheme.Depth)
	}
	return &tileIterator{partition: p, depth: depth, pos: p.start, roiMask: r}, nil
}

type tileIterator struct {
	partition *Partition
	depth     int64
	pos       int64
	roiMask   *roi.Mask
}

func (it *tileIterator) Next(ctx context.Context) (collab.Tile, bool, error) {
	for it.pos < it.partition.end {
		start := it.pos
		end := start + it.depth
		if end > it.partition.end {
			end = it.partition.end
		}
		it.pos = end
		if roiForRange(it.roiMask, start, end) == 0 {
			continue
		}
		return newTile(it.partition, start, end), true, nil
	}
	return nil, false, nil
}

func (it *tileIterator) Close() error { return nil }

func newTile(p *Partition, start, end int64) collab.Tile {
	sig := p.sigSize
	data := p.dataset.data[start*sig : end*sig]
	return &Tile{
		slice: shape.NewSlice([]int64{start}, []int64{end - start}, 1),
		data:  data,
		sig:   sig,
	}
}

// Tile is a contiguous flat-nav sub-range of a Partition's data.
type Tile struct {
	slice shape.Slice
	data  []float64
	sig   int64
}

func (t *Tile) Slice() shape.Slice { return t.slice }
func (t *Tile) Data() []float64    { return t.data }

func (t *Tile) NumFrames() int {
	return int(t.slice.Shape.Dims()[0])
}

func (t *Tile) Frame(i int) collab.Frame {
	start := int64(i) * t.sig
	end := start + t.sig
	origin, extent := t.slice.Origin.Dims(), t.slice.Shape.Dims()
	frameOrigin := append([]int64{origin[0] + int64(i)}, origin[1:]...)
	frameExtent := append([]int64{1}, extent[1:]...)
	return collab.Frame{
		Slice: shape.NewSlice(frameOrigin, frameExtent, 1),
		Data:  t.data[start:end],
	}
}
