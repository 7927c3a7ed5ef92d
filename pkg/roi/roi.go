// Package roi implements the region-of-interest mask: a boolean selection
// over a dataset's navigation axes, and the popcount machinery used to
// compress navigation-indexed buffers and slices to "count of true
// entries".
package roi

import (
	"github.com/ajroetker/go-highway/hwy"

	"github.com/taimin-go/tiledreduce/pkg/engerrors"
	"github.com/taimin-go/tiledreduce/pkg/shape"
)

// Mask is a boolean mask over a dataset's flattened navigation axes,
// stored bit-packed so that popcount-prefix queries run over machine
// words rather than individual bools.
type Mask struct {
	navShape shape.Shape
	n        int64
	words    []uint64
	// prefix[i] is the number of true bits in words[:i].
	prefix []int64
}

// New builds a Mask from a dense []bool over nav positions in row-major
// (flat-nav) order. navShape is the dataset's unflattened nav shape,
// kept for shape validation against a dataset's declared nav shape.
func New(navShape shape.Shape, bits []bool) Mask {
	n := int64(len(bits))
	nw := int((n + 63) / 64)
	words := make([]uint64, nw)
	for i, b := range bits {
		if b {
			words[i/64] |= 1 << uint(i%64)
		}
	}
	return Mask{navShape: navShape, n: n, words: words, prefix: prefixPopcounts(words)}
}

// prefixPopcounts computes, for each word index i, the cumulative
// popcount of words[:i]. Per-word popcounts are computed in chunks with
// go-highway's vectorized PopCount rather than a scalar bit-twiddling
// loop; only the cumulative scan across words is inherently sequential.
func prefixPopcounts(words []uint64) []int64 {
	prefix := make([]int64, len(words)+1)
	perWord := make([]uint64, len(words))
	lanes := hwy.MaxLanes[uint64]()
	if lanes < 1 {
		lanes = 1
	}
	for i := 0; i < len(words); i += lanes {
		end := i + lanes
		if end > len(words) {
			end = len(words)
		}
		counts := hwy.PopCount(hwy.Load(words[i:end]))
		hwy.Store(counts, perWord[i:end])
	}
	var running int64
	for i, c := range perWord {
		prefix[i] = running
		running += int64(c)
	}
	prefix[len(words)] = running
	return prefix
}

func bitsOnesCount64(w uint64) int {
	count := 0
	for w != 0 {
		w &= w - 1
		count++
	}
	return count
}

// Len returns the total number of navigation positions covered by the
// mask (true and false).
func (m Mask) Len() int64 { return m.n }

// PopCount returns the total number of true entries in the mask.
func (m Mask) PopCount() int64 {
	if len(m.prefix) == 0 {
		return 0
	}
	return m.prefix[len(m.prefix)-1]
}

// PopCountPrefix returns the number of true entries in [0, n) for the
// flat-nav index n. It satisfies shape.NavPopCounter.
func (m Mask) PopCountPrefix(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if n >= m.n {
		return m.PopCount()
	}
	wi := n / 64
	base := m.prefix[wi]
	rem := n % 64
	if rem == 0 {
		return base
	}
	w := m.words[wi] & ((uint64(1) << uint(rem)) - 1)
	return base + int64(bitsOnesCount64(w))
}

// CompressedIndex maps an unfiltered flat-nav index i to its position in
// the ROI-compressed (true-entries-only) coordinate space. ok is false
// when i is excluded by the mask, in which case the returned index is
// meaningless. Used by process_partition-mode UDFs to recover the
// compressed row a given frame corresponds to (the original engine's
// UDFData.get_array_index).
func (m Mask) CompressedIndex(i int64) (idx int64, ok bool) {
	if !m.At(i) {
		return 0, false
	}
	return m.PopCountPrefix(i), true
}

// At reports whether navigation position i is selected.
func (m Mask) At(i int64) bool {
	if i < 0 || i >= m.n {
		return false
	}
	return m.words[i/64]&(1<<uint(i%64)) != 0
}

// ValidateAgainst checks that the mask's navigation shape matches the
// dataset's declared navigation shape, returning a ConfigError otherwise.
func (m Mask) ValidateAgainst(datasetNav shape.Shape) error {
	if !m.navShape.Equal(datasetNav) {
		return engerrors.Configf("roi shape %v does not match dataset nav shape %v", m.navShape, datasetNav)
	}
	return nil
}
