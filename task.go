package tiledreduce

import (
	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/udf"
)

// Task is the serialisable unit of work the Dispatcher hands to the
// executor (spec §4.1 glossary "Task"): a partition handle, its index,
// the UDF set (the same slice for every task; it is not copied per
// partition), the dispatch-level ROI and backend filter, and the
// corrections transform.
//
// Partition and UDFs are not gob-encodable in general (they are
// arbitrary user types addressed through interfaces), so the executor
// collaborator is expected to route a Task to a worker by reference
// (e.g. the in-process localexec.Executor) or by re-resolving Index
// against a shared partition table. Envelope carries the subset of a
// Task that genuinely must cross a serialisation boundary, and is what
// SelfTest exercises (spec §7 SerializationError, §9 pickling self-test).
type Task struct {
	Index       int
	Partition   collab.Partition
	UDFs        []udf.UDF
	ROI         *roi.Mask
	Backends    []udf.DeclaredBackend
	Corrections collab.Corrections
	CancelID    string
}

// Envelope is the gob-serialisable metadata of a Task: the dispatcher
// sends one encoded Envelope per task to the Executor, out-of-band from
// the UDF/Partition values themselves, and SelfTest round-trips it.
type Envelope struct {
	Index       int
	Backends    []udf.DeclaredBackend
	CancelID    string
	Corrections collab.Corrections
	ROIBits     []bool
	ROINavDims  []int64
}

func envelopeOf(t Task) Envelope {
	e := Envelope{
		Index:       t.Index,
		Backends:    t.Backends,
		CancelID:    t.CancelID,
		Corrections: t.Corrections,
	}
	if t.ROI != nil {
		n := t.ROI.Len()
		bits := make([]bool, n)
		for i := int64(0); i < n; i++ {
			bits[i] = t.ROI.At(i)
		}
		e.ROIBits = bits
	}
	return e
}
