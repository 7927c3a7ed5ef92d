package udf

import (
	"github.com/taimin-go/tiledreduce/pkg/buffer"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/engerrors"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// Validate picks u's dispatch granularity once, at registration time,
// refusing UDFs that declare more than one or none of
// ProcessTile/ProcessFrame/ProcessPartition (spec §9 design notes).
func Validate(u UDF) (Granularity, error) {
	_, hasTile := u.(TileProcessor)
	_, hasFrame := u.(FrameProcessor)
	_, hasPart := u.(PartitionProcessor)
	n := count(hasTile, hasFrame, hasPart)
	switch {
	case n == 0:
		return 0, engerrors.Config("udf declares no process_tile/process_frame/process_partition method")
	case n > 1:
		return 0, engerrors.Config("udf declares more than one of process_tile/process_frame/process_partition")
	case hasTile:
		return GranularityTile, nil
	case hasFrame:
		return GranularityFrame, nil
	default:
		return GranularityPartition, nil
	}
}

func count(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// RequiresCustomMerge reports whether results (as declared by
// GetResultBuffers) contains any non-nav buffer, in which case the
// default merge is unusable and u must implement Merger (spec §4.3
// "requires custom merge").
func RequiresCustomMerge(results *buffer.Group) bool {
	for _, name := range results.Names() {
		b, _ := results.Get(name)
		if b.Kind() != buffer.KindNav {
			return true
		}
	}
	return false
}

// CheckMergeable fails fast (spec §7 NotImplementedError) when u needs a
// custom merge but does not provide one.
func CheckMergeable(u UDF, results *buffer.Group) error {
	if RequiresCustomMerge(results) {
		if _, ok := u.(Merger); !ok {
			return engerrors.NotImplemented("udf declares a non-nav result buffer and must provide a custom merge")
		}
	}
	return nil
}

// DefaultMerge implements spec §4.3's default merge: elementwise copy
// dest[k][:] = src[k] under a safe-cast check, valid only for kind=nav
// buffers. meta.InputDType is checked against each buffer's declared
// dtype so a buffer that would silently narrow the negotiated input
// dtype is rejected (the original engine's check_cast/force_dtype,
// ported per SPEC_FULL.md §9).
func DefaultMerge(meta *udfmeta.Meta, results *buffer.Group, dest, src buffer.Proxy) error {
	for _, name := range results.Names() {
		b, _ := results.Get(name)
		if b.Kind() != buffer.KindNav {
			return engerrors.NotImplementedf("default merge: buffer %q has kind=%s, only kind=nav is supported", name, b.Kind())
		}
		if !dtype.CanSafeCast(meta.InputDType, b.DType()) {
			return engerrors.TypeCast("merge would narrow " + meta.InputDType.String() + " into " + b.DType().String() + " for buffer " + name)
		}
		d, s := dest[name], src[name]
		if len(d) != len(s) {
			return engerrors.Shapef("default merge: buffer %q dest/src length mismatch (%d vs %d)", name, len(d), len(s))
		}
		copy(d, s)
	}
	return nil
}
