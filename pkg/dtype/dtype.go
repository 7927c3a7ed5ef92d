// Package dtype models the small set of numeric element types the engine
// moves around (buffer storage, dataset samples, UDF-preferred input
// types) and the numeric-promotion rule used to fold them together.
package dtype

import "fmt"

// Kind orders the four numeric families by promotion precedence:
// bool < int < float < complex.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindComplex
)

// DType is a (kind, width-in-bits) pair, e.g. {KindFloat, 32} == "float32".
type DType struct {
	Kind  Kind
	Width int // bits
}

var (
	Bool       = DType{KindBool, 8}
	Int8       = DType{KindInt, 8}
	Int16      = DType{KindInt, 16}
	Int32      = DType{KindInt, 32}
	Int64      = DType{KindInt, 64}
	Float32    = DType{KindFloat, 32}
	Float64    = DType{KindFloat, 64}
	Complex64  = DType{KindComplex, 64}
	Complex128 = DType{KindComplex, 128}
)

func (d DType) String() string {
	names := map[Kind]string{KindBool: "bool", KindInt: "int", KindFloat: "float", KindComplex: "complex"}
	return fmt.Sprintf("%s%d", names[d.Kind], d.Width)
}

// Promote folds two dtypes under standard numeric promotion: the wider
// Kind wins; within the same Kind the wider width wins; promoting across
// Kind boundaries widens to the minimum width of the winning Kind that is
// at least as large as both operands' widths (e.g. int16 + float32 ->
// float32; int64 + float32 -> float64; bool + complex64 -> complex64).
func Promote(a, b DType) DType {
	if a.Kind == b.Kind {
		if a.Width >= b.Width {
			return a
		}
		return b
	}
	hi, lo := a, b
	if lo.Kind > hi.Kind {
		hi, lo = lo, hi
	}
	width := hi.Width
	if lo.Width > width {
		width = lo.Width
	}
	return minWidthFor(hi.Kind, width)
}

// PromoteAll folds a non-empty sequence of dtypes left to right.
func PromoteAll(dtypes ...DType) DType {
	if len(dtypes) == 0 {
		return Float32
	}
	out := dtypes[0]
	for _, d := range dtypes[1:] {
		out = Promote(out, d)
	}
	return out
}

// CanSafeCast reports whether a value of dtype src can be copied into a
// buffer of dtype dst without loss: same Kind and dst at least as wide, or
// a Kind promotion that would not narrow (dst already the result of
// Promote(src, dst)).
func CanSafeCast(src, dst DType) bool {
	return Promote(src, dst) == dst
}

func minWidthFor(k Kind, width int) DType {
	switch k {
	case KindBool:
		return Bool
	case KindInt:
		for _, w := range []int{8, 16, 32, 64} {
			if w >= width {
				return DType{KindInt, w}
			}
		}
		return Int64
	case KindFloat:
		for _, w := range []int{32, 64} {
			if w >= width {
				return DType{KindFloat, w}
			}
		}
		return Float64
	case KindComplex:
		for _, w := range []int{64, 128} {
			if w >= width {
				return DType{KindComplex, w}
			}
		}
		return Complex128
	}
	return Float32
}
