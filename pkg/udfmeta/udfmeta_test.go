package udfmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/shape"
)

func TestMetaCloneDoesNotAliasSlice(t *testing.T) {
	m := Meta{
		DatasetShape: shape.New([]int64{4, 4}, 1),
		DatasetDType: dtype.Float32,
		InputDType:   dtype.Float32,
		Slice:        shape.NewSlice([]int64{0}, []int64{2}, 1),
	}
	clone := m.Clone()
	clone.Slice = shape.NewSlice([]int64{2}, []int64{2}, 1)

	origStart, origEnd := m.Slice.NavRange()
	cloneStart, cloneEnd := clone.Slice.NavRange()
	assert.Equal(t, int64(0), origStart)
	assert.Equal(t, int64(2), origEnd)
	assert.Equal(t, int64(2), cloneStart)
	assert.Equal(t, int64(4), cloneEnd)
}

func TestDeviceClassString(t *testing.T) {
	assert.Equal(t, "cpu", CPU.String())
	assert.Equal(t, "cuda", CUDA.String())
}
