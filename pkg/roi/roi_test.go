package roi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taimin-go/tiledreduce/pkg/shape"
)

func makeBits(n int, trueAt ...int) []bool {
	b := make([]bool, n)
	for _, i := range trueAt {
		b[i] = true
	}
	return b
}

func TestMaskPopCountAndPrefix(t *testing.T) {
	nav := shape.New([]int64{10}, 1)
	m := New(nav, makeBits(10, 1, 3, 4, 9))

	assert.Equal(t, int64(10), m.Len())
	assert.Equal(t, int64(4), m.PopCount())
	assert.Equal(t, int64(0), m.PopCountPrefix(0))
	assert.Equal(t, int64(0), m.PopCountPrefix(1))
	assert.Equal(t, int64(1), m.PopCountPrefix(2))
	assert.Equal(t, int64(3), m.PopCountPrefix(5))
	assert.Equal(t, int64(4), m.PopCountPrefix(10))
	assert.Equal(t, int64(4), m.PopCountPrefix(100))
}

func TestMaskSpansMultipleWords(t *testing.T) {
	n := 200
	trueAt := []int{0, 63, 64, 65, 127, 128, 199}
	nav := shape.New([]int64{int64(n)}, 1)
	m := New(nav, makeBits(n, trueAt...))

	assert.Equal(t, int64(len(trueAt)), m.PopCount())
	assert.Equal(t, int64(len(trueAt)), m.PopCountPrefix(int64(n)))
	// prefix strictly before the first element at index 128 should count
	// everything up to and including index 127.
	assert.Equal(t, int64(5), m.PopCountPrefix(128))
}

func TestMaskAtAndCompressedIndex(t *testing.T) {
	nav := shape.New([]int64{5}, 1)
	m := New(nav, makeBits(5, 1, 3))

	assert.False(t, m.At(0))
	assert.True(t, m.At(1))
	assert.False(t, m.At(2))
	assert.True(t, m.At(3))

	idx, ok := m.CompressedIndex(1)
	require.True(t, ok)
	assert.Equal(t, int64(0), idx)

	idx, ok = m.CompressedIndex(3)
	require.True(t, ok)
	assert.Equal(t, int64(1), idx)

	_, ok = m.CompressedIndex(2)
	assert.False(t, ok)
}

func TestMaskValidateAgainst(t *testing.T) {
	nav := shape.New([]int64{4, 4}, 2)
	m := New(nav, makeBits(16))

	assert.NoError(t, m.ValidateAgainst(shape.New([]int64{4, 4}, 2)))
	assert.Error(t, m.ValidateAgainst(shape.New([]int64{2, 8}, 2)))
}
