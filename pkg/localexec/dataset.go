// Package localexec is a minimal in-process reference implementation of
// the dataset/partition/tile, Negotiator and Executor collaborators spec.md
// §6 treats as external. It exists only for tests and examples; it is not
// part of the engine's public contract, which depends solely on
// pkg/collab's interfaces.
package localexec

import (
	"context"

	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
)

// Dataset is a flat in-memory array dataset, row-major over [nav..., sig...].
type Dataset struct {
	shape shape.Shape
	dt    dtype.DType
	data  []float64
	// PartitionCount splits the flat navigation range into roughly equal
	// contiguous partitions.
	PartitionCount int
}

// NewDataset returns a Dataset over data, laid out according to s, split
// into n roughly-equal partitions.
func NewDataset(s shape.Shape, dt dtype.DType, data []float64, n int) *Dataset {
	if n < 1 {
		n = 1
	}
	return &Dataset{shape: s, dt: dt, data: data, PartitionCount: n}
}

func (d *Dataset) Shape() shape.Shape { return d.shape }
func (d *Dataset) DType() dtype.DType { return d.dt }

func (d *Dataset) GetPartitions(ctx context.Context) ([]collab.Partition, error) {
	navSize := d.shape.NavSize()
	sigSize := d.shape.SigSize()
	n := int64(d.PartitionCount)
	if n > navSize {
		n = navSize
	}
	if n < 1 {
		n = 1
	}
	base := navSize / n
	rem := navSize % n

	out := make([]collab.Partition, 0, n)
	var start int64
	for i := int64(0); i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		end := start + size
		out = append(out, &Partition{
			dataset: d,
			start:   start,
			end:     end,
			sigSize: sigSize,
			metaSig: d.shape.Sig(),
		})
		start = end
	}
	return out, nil
}

// roiForRange reports the active flat-nav count in [start, end) under r,
// or end-start when r is nil.
func roiForRange(r *roi.Mask, start, end int64) int64 {
	if r == nil {
		return end - start
	}
	return r.PopCountPrefix(end) - r.PopCountPrefix(start)
}
