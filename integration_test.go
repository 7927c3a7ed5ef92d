package tiledreduce_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tiledreduce "github.com/taimin-go/tiledreduce"
	"github.com/taimin-go/tiledreduce/pkg/buffer"
	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/localexec"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
	"github.com/taimin-go/tiledreduce/pkg/udf"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// pixelSumUDF sums every sample into a single nav-shaped "intensity"
// buffer's current view (process_tile granularity). BufDType, if the
// zero value, defaults to float32 so most call sites can use the bare
// pixelSumUDF{} literal; tests exercising dtype promotion set it
// explicitly to a buffer wide enough to safely hold the negotiated
// input dtype (spec §4.3 default merge's safe-cast check).
type pixelSumUDF struct{ BufDType dtype.DType }

func (u pixelSumUDF) resultDType() dtype.DType {
	if u.BufDType == (dtype.DType{}) {
		return dtype.Float32
	}
	return u.BufDType
}

func (u pixelSumUDF) GetResultBuffers(meta *udfmeta.Meta) (*buffer.Group, error) {
	g := buffer.NewGroup()
	b := buffer.New(buffer.KindNav, shape.Shape{}, u.resultDType(), buffer.Host)
	if err := g.Declare("intensity", b); err != nil {
		return nil, err
	}
	return g, nil
}

// ProcessTile sums each frame's signal into the view. The view is
// already ROI-compressed (spec §4.1 "Views under ROI"), so an
// ROI-excluded frame is skipped and the output position advances only
// for frames actually selected, in the same order the tile yields them.
func (pixelSumUDF) ProcessTile(meta *udfmeta.Meta, results *buffer.Group, tile collab.Tile) error {
	out := results.Attr("intensity")
	data := tile.Data()
	frames := tile.NumFrames()
	sig := int64(len(data)) / int64(frames)
	tileStart, _ := meta.Slice.NavRange()

	j := 0
	for i := 0; i < frames; i++ {
		globalIdx := tileStart + int64(i)
		if meta.ROI != nil && !meta.ROI.At(globalIdx) {
			continue
		}
		var sum float64
		for _, v := range data[int64(i)*sig : (int64(i)+1)*sig] {
			sum += v
		}
		out[j] = sum
		j++
	}
	return nil
}

// sigAccumulatorUDF accumulates every frame's signal into one
// dataset-wide KindSig buffer; requires a custom merge since it is not
// kind=nav.
type sigAccumulatorUDF struct{}

func (u sigAccumulatorUDF) GetResultBuffers(meta *udfmeta.Meta) (*buffer.Group, error) {
	g := buffer.NewGroup()
	// KindSig sizes itself to the dataset's own signal shape, so no
	// extra_shape is needed for an accumulator matching it exactly.
	b := buffer.New(buffer.KindSig, shape.Shape{}, dtype.Float64, buffer.Host)
	if err := g.Declare("total", b); err != nil {
		return nil, err
	}
	return g, nil
}

func (u sigAccumulatorUDF) ProcessFrame(meta *udfmeta.Meta, results *buffer.Group, frame collab.Frame) error {
	out := results.Attr("total")
	for i, v := range frame.Data {
		out[i] += v
	}
	return nil
}

func (u sigAccumulatorUDF) Merge(meta *udfmeta.Meta, dest, src buffer.Proxy) error {
	d, s := dest["total"], src["total"]
	for i := range d {
		d[i] += s[i]
	}
	return nil
}

type float64PreferringUDF struct{ pixelSumUDF }

func (float64PreferringUDF) GetPreferredInputDType() dtype.DType { return dtype.Float64 }

type cudaOnlyUDF struct{ pixelSumUDF }

func (cudaOnlyUDF) GetBackends() []udf.DeclaredBackend {
	return []udf.DeclaredBackend{udf.BackendCUDA}
}

func buildDispatcher(t *testing.T, values []float64, navSize, partitions int) (*tiledreduce.Dispatcher, *localexec.Executor) {
	t.Helper()
	s := shape.New([]int64{int64(navSize), 1}, 1)
	ds := localexec.NewDataset(s, dtype.Float32, values, partitions)
	neg := localexec.Negotiator{}
	exec := localexec.NewExecutor(ds, neg, 1)
	return tiledreduce.New(ds, exec, neg), exec
}

func TestPixelSumEndToEnd(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	d, _ := buildDispatcher(t, values, 6, 2)

	results, err := d.RunForDataset(context.Background(), []udf.UDF{pixelSumUDF{}}, tiledreduce.RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, values, results[0].Snapshot()["intensity"])
}

func TestROISelectsSubsetOfFrames(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50, 60}
	d, _ := buildDispatcher(t, values, 6, 3)

	nav := shape.New([]int64{6}, 1)
	m := roi.New(nav, []bool{true, false, true, false, true, false})

	results, err := d.RunForDataset(context.Background(), []udf.UDF{pixelSumUDF{}}, tiledreduce.RunOptions{ROI: &m})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 30, 50}, results[0].Snapshot()["intensity"])
}

func TestDTypePromotionAcrossUDFs(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	d, _ := buildDispatcher(t, values, 4, 1)

	// One UDF prefers float64 input; the negotiated input dtype for the
	// whole dispatch must promote to float64 for every UDF in the set
	// (spec §4.3), so both buffers are declared float64-wide to safely
	// hold it under the default merge's safe-cast check.
	preferring := float64PreferringUDF{pixelSumUDF{BufDType: dtype.Float64}}
	plain := pixelSumUDF{BufDType: dtype.Float64}

	results, err := d.RunForDataset(context.Background(), []udf.UDF{preferring, plain}, tiledreduce.RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, values, results[0].Snapshot()["intensity"])
	assert.Equal(t, values, results[1].Snapshot()["intensity"])
}

func TestSigAccumulatorMergesAcrossPartitions(t *testing.T) {
	// 4 nav positions, each with a 2-element signal.
	values := []float64{1, 1, 2, 2, 3, 3, 4, 4}
	s := shape.New([]int64{4, 2}, 1)
	ds := localexec.NewDataset(s, dtype.Float32, values, 2)
	neg := localexec.Negotiator{}
	exec := localexec.NewExecutor(ds, neg, 1)
	d := tiledreduce.New(ds, exec, neg)

	results, err := d.RunForDataset(context.Background(), []udf.UDF{sigAccumulatorUDF{}}, tiledreduce.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 10}, results[0].Snapshot()["total"])
}

func TestBackendIntersectionRejectsIncompatibleUDFSet(t *testing.T) {
	values := []float64{1, 2}
	d, _ := buildDispatcher(t, values, 2, 1)

	_, err := d.RunForDataset(context.Background(), []udf.UDF{pixelSumUDF{}, cudaOnlyUDF{}}, tiledreduce.RunOptions{})
	assert.Error(t, err)
}

func TestAsyncStreamingYieldsSnapshotPerPartition(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	d, _ := buildDispatcher(t, values, 6, 3)

	out, errc := d.RunForDatasetAsync(context.Background(), []udf.UDF{pixelSumUDF{}}, "job-1", tiledreduce.RunOptions{})

	var snapshots int
	var first, last []*buffer.Group
	for groups := range out {
		snapshots++
		if first == nil {
			first = groups
		}
		last = groups
	}
	require.NoError(t, <-errc)
	require.GreaterOrEqual(t, snapshots, 2)
	require.Len(t, last, 1)
	assert.Equal(t, values, last[0].Snapshot()["intensity"])

	// The first yielded snapshot must be a stable point-in-time copy: its
	// values, retained across every later merge the dispatcher performs
	// into its own global buffers, must still show only the partition(s)
	// merged by the time it was sent, not the fully-merged final state
	// (spec §4.5, spec §8 scenario 6).
	firstIntensity := append([]float64(nil), first[0].Snapshot()["intensity"]...)
	assert.NotEqual(t, values, firstIntensity, "first snapshot already equals the fully-merged result; snapshots are aliasing live storage")
	assert.Equal(t, firstIntensity, first[0].Snapshot()["intensity"], "retained snapshot values changed after later merges")
}

func TestSerializationSelfTestRoundTrips(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	d, _ := buildDispatcher(t, values, 4, 2)

	nav := shape.New([]int64{4}, 1)
	m := roi.New(nav, []bool{true, false, true, true})

	parts, err := d.Dataset.GetPartitions(context.Background())
	require.NoError(t, err)

	task := tiledreduce.Task{Index: 0, Partition: parts[0], UDFs: []udf.UDF{pixelSumUDF{}}, ROI: &m, CancelID: "self-test"}
	assert.NoError(t, tiledreduce.SelfTest(task))
}
