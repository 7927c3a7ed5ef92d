package localexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

func negotiationRequestWithDepths(depths ...int) collab.NegotiationRequest {
	prefs := make([]udfmeta.TilingPreferences, len(depths))
	for i, d := range depths {
		prefs[i] = udfmeta.TilingPreferences{Depth: d}
	}
	return collab.NegotiationRequest{Preferences: prefs}
}

func smallDataset() *Dataset {
	// 6 nav positions, 1x1 sig, values 0..5.
	s := shape.New([]int64{6, 1, 1}, 1)
	data := []float64{0, 1, 2, 3, 4, 5}
	return NewDataset(s, dtype.Float32, data, 2)
}

func TestDatasetPartitionsCoverWholeRange(t *testing.T) {
	d := smallDataset()
	parts, err := d.GetPartitions(context.Background())
	require.NoError(t, err)
	require.Len(t, parts, 2)

	var total int64
	for _, p := range parts {
		start, end := p.Slice().FlattenNav().NavRange()
		total += end - start
	}
	assert.Equal(t, int64(6), total)
}

func TestTileIteratorSkipsZeroROITiles(t *testing.T) {
	d := smallDataset()
	parts, err := d.GetPartitions(context.Background())
	require.NoError(t, err)
	p := parts[0].(*Partition)

	nav := shape.New([]int64{6}, 1)
	m := roi.New(nav, []bool{false, false, false, true, true, true})

	it, err := p.GetTiles(context.Background(), nil, &m, dtype.Float32)
	require.NoError(t, err)
	defer it.Close()

	var tiles int
	for {
		tile, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		tiles++
		start, end := tile.Slice().FlattenNav().NavRange()
		assert.True(t, m.PopCountPrefix(end)-m.PopCountPrefix(start) > 0)
	}
	assert.Greater(t, tiles, 0)
}

func TestNegotiatorPicksMinimumDepth(t *testing.T) {
	n := Negotiator{}
	// req.Partition/ReadDType/ROI unused by this Negotiator's decision.
	scheme, err := n.Negotiate(context.Background(), negotiationRequestWithDepths(8, 4, 16))
	require.NoError(t, err)
	assert.Equal(t, 4, scheme.Depth)
}

func TestNegotiatorDefaultsWhenNoPreferences(t *testing.T) {
	n := Negotiator{}
	scheme, err := n.Negotiate(context.Background(), negotiationRequestWithDepths())
	require.NoError(t, err)
	assert.Equal(t, defaultTileDepth, scheme.Depth)
}
