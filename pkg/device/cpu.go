package device

import "github.com/ajroetker/go-highway/hwy"

// cpuXP implements XP over host float64 slices. Add, Sum and Copy use
// go-highway's portable SIMD operations, processing MaxLanes[float64]()
// elements per vector op; Zero is a plain scalar loop.
type cpuXP struct{}

func (cpuXP) Add(dst, a, b []float64) {
	lanes := hwy.MaxLanes[float64]()
	if lanes < 1 {
		lanes = 1
	}
	for i := 0; i < len(dst); i += lanes {
		end := i + lanes
		if end > len(dst) {
			end = len(dst)
		}
		va := hwy.Load(a[i:end])
		vb := hwy.Load(b[i:end])
		hwy.Store(hwy.Add(va, vb), dst[i:end])
	}
}

func (cpuXP) Sum(a []float64) float64 {
	lanes := hwy.MaxLanes[float64]()
	if lanes < 1 {
		lanes = 1
	}
	var total float64
	for i := 0; i < len(a); i += lanes {
		end := i + lanes
		if end > len(a) {
			end = len(a)
		}
		total += hwy.ReduceSum(hwy.Load(a[i:end]))
	}
	return total
}

func (cpuXP) Zero(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
}

func (cpuXP) Copy(dst, src []float64) {
	lanes := hwy.MaxLanes[float64]()
	if lanes < 1 {
		lanes = 1
	}
	for i := 0; i < len(dst); i += lanes {
		end := i + lanes
		if end > len(dst) {
			end = len(dst)
		}
		hwy.Store(hwy.Load(src[i:end]), dst[i:end])
	}
}
