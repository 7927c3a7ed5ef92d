package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
)

func TestNavBufferDatasetAllocateNoROI(t *testing.T) {
	datasetNav := shape.New([]int64{10}, 1)
	datasetSig := shape.New([]int64{4, 4}, 0)

	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, b.SetShapeDS(datasetNav, datasetSig, nil))
	require.NoError(t, b.Allocate(Host))
	assert.True(t, b.HasData())
	assert.Equal(t, 10, len(b.RawData()))
}

func TestNavBufferDatasetAllocateUnderROI(t *testing.T) {
	datasetNav := shape.New([]int64{10}, 1)
	datasetSig := shape.New([]int64{4, 4}, 0)
	m := roi.New(datasetNav, []bool{true, false, true, false, true, false, false, false, false, true})

	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, b.SetShapeDS(datasetNav, datasetSig, &m))
	require.NoError(t, b.Allocate(Host))
	assert.Equal(t, 4, len(b.RawData())) // 4 true entries
}

func TestSigBufferIgnoresROI(t *testing.T) {
	datasetNav := shape.New([]int64{10}, 1)
	datasetSig := shape.New([]int64{2, 2}, 0)
	m := roi.New(datasetNav, []bool{true, false, false, false, false, false, false, false, false, false})

	b := New(KindSig, shape.Shape{}, dtype.Float64, Host)
	require.NoError(t, b.SetShapeDS(datasetNav, datasetSig, &m))
	require.NoError(t, b.Allocate(Host))
	assert.Equal(t, 4, len(b.RawData())) // full sig shape, unaffected by ROI
}

func TestAllocateTwiceWithoutRebindIsError(t *testing.T) {
	datasetNav := shape.New([]int64{4}, 1)
	datasetSig := shape.New([]int64{2}, 0)
	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, b.SetShapeDS(datasetNav, datasetSig, nil))
	require.NoError(t, b.Allocate(Host))
	assert.Error(t, b.Allocate(Host))
}

func TestGetViewForTileSkipsZeroROIRange(t *testing.T) {
	datasetNav := shape.New([]int64{10}, 1)
	datasetSig := shape.New([]int64{1}, 0)
	m := roi.New(datasetNav, []bool{false, false, true, false, false, false, false, false, false, false})

	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, b.SetShapeDS(datasetNav, datasetSig, &m))
	require.NoError(t, b.Allocate(Host))

	// tile [0,2) contains no ROI-true position
	_, ok, err := b.GetViewForTile(0, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// tile [2,4) contains exactly one
	v, ok, err := b.GetViewForTile(2, 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, len(v.Data()))
}

func TestViewLifecycleFlushAndClear(t *testing.T) {
	datasetNav := shape.New([]int64{4}, 1)
	datasetSig := shape.New([]int64{1}, 0)
	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, b.SetShapeDS(datasetNav, datasetSig, nil))
	require.NoError(t, b.Allocate(Host))

	v, ok, err := b.GetViewForTile(0, 4)
	require.NoError(t, err)
	require.True(t, ok)
	v.Data()[0] = 42
	assert.Equal(t, float64(42), b.RawData()[0])

	require.NoError(t, b.Flush())
	b.ClearViews()
	assert.Nil(t, b.CurrentView())
}

func TestExportTwiceIsError(t *testing.T) {
	datasetNav := shape.New([]int64{2}, 1)
	datasetSig := shape.New([]int64{1}, 0)
	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, b.SetShapeDS(datasetNav, datasetSig, nil))
	require.NoError(t, b.Allocate(Host))
	require.NoError(t, b.Export())
	assert.Error(t, b.Export())
}

func TestGroupDeclareRejectsDuplicateNames(t *testing.T) {
	g := NewGroup()
	b1 := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	b2 := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, g.Declare("intensity", b1))
	assert.Error(t, g.Declare("intensity", b2))
}

func TestGroupSnapshotReflectsCurrentView(t *testing.T) {
	datasetNav := shape.New([]int64{4}, 1)
	datasetSig := shape.New([]int64{1}, 0)
	g := NewGroup()
	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, g.Declare("sum", b))
	require.NoError(t, g.AllocateForDataset(datasetNav, datasetSig, nil, Host))
	require.NoError(t, g.SetViewForTile(0, 4))
	copy(b.CurrentView().Data(), []float64{1, 2, 3, 4})
	snap := g.Snapshot()
	assert.Equal(t, []float64{1, 2, 3, 4}, snap["sum"])
}

func TestBufferCloneIsIndependentStorage(t *testing.T) {
	datasetNav := shape.New([]int64{4}, 1)
	datasetSig := shape.New([]int64{1}, 0)
	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, b.SetShapeDS(datasetNav, datasetSig, nil))
	require.NoError(t, b.Allocate(Host))
	copy(b.RawData(), []float64{1, 2, 3, 4})

	clone := b.Clone()
	assert.Equal(t, []float64{1, 2, 3, 4}, clone.RawData())

	b.RawData()[0] = 99
	assert.Equal(t, float64(1), clone.RawData()[0], "clone storage must not alias the original")
}

func TestGroupCloneIsIndependentPerBuffer(t *testing.T) {
	datasetNav := shape.New([]int64{4}, 1)
	datasetSig := shape.New([]int64{1}, 0)
	g := NewGroup()
	b := New(KindNav, shape.Shape{}, dtype.Float32, Host)
	require.NoError(t, g.Declare("sum", b))
	require.NoError(t, g.AllocateForDataset(datasetNav, datasetSig, nil, Host))
	require.NoError(t, g.SetViewForTile(0, 4))
	copy(b.CurrentView().Data(), []float64{1, 2, 3, 4})
	g.ClearViews()

	clone := g.Clone()
	before := append([]float64(nil), clone.Snapshot()["sum"]...)

	require.NoError(t, g.SetViewForTile(0, 4))
	copy(b.CurrentView().Data(), []float64{100, 200, 300, 400})
	g.ClearViews()

	assert.Equal(t, before, clone.Snapshot()["sum"], "clone must be unaffected by writes into the original group")
	assert.Equal(t, []float64{100, 200, 300, 400}, g.Snapshot()["sum"])
}

func TestAuxBufferSliceForPartitionRespectsROI(t *testing.T) {
	datasetNav := shape.New([]int64{6}, 1)
	m := roi.New(datasetNav, []bool{true, false, true, true, false, false})
	full := []float64{10, 11, 12, 13, 14, 15}
	aux := NewAux(shape.Shape{}, dtype.Float64, full)

	b := aux.SliceForPartition(&m, 0, 4)
	assert.True(t, b.HasData())
	assert.Equal(t, []float64{10, 12, 13}, b.RawData())
}
