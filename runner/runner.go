// Package runner implements the PartitionRunner state machine (spec §4.4):
// it executes one (partition x UDF-set) tuple on a worker, taking it
// through Init -> Negotiated -> Streaming -> Finalized.
package runner

import (
	"context"

	"github.com/grailbio/base/log"

	"github.com/taimin-go/tiledreduce/pkg/buffer"
	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/device"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/engerrors"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
	"github.com/taimin-go/tiledreduce/pkg/udf"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// Options configures one PartitionRunner invocation.
type Options struct {
	DatasetShape shape.Shape
	DatasetDType dtype.DType
	ROI          *roi.Mask
	Device       udfmeta.DeviceClass
	Corrections  collab.Corrections
	Negotiator   collab.Negotiator
	// Threads bounds concurrent use of multi-threaded numeric libraries
	// for the duration of the run (spec §5).
	Threads int
}

type udfState struct {
	impl        udf.UDF
	granularity udf.Granularity
	tag         udf.Tag
	deviceMode  bool // true for cupy-like (device-resident) UDFs
	results     *buffer.Group
	taskData    map[string]interface{}
	meta        udfmeta.Meta
}

// Run executes udfs against one partition and returns their finalized
// result groups in the same order as udfs. On any failure the partition
// is aborted, the process-wide device id is restored to its value on
// entry, and the error is returned.
func Run(ctx context.Context, part collab.Partition, udfs []udf.UDF, opts Options) ([]*buffer.Group, error) {
	if len(udfs) == 0 {
		return nil, engerrors.Config("no udfs given to run")
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	threadLimiter := device.NewThreadLimiter(opts.Threads)
	releaseThreads, err := threadLimiter.Acquire(ctx)
	if err != nil {
		return nil, engerrors.Devicef("thread limit: %v", err)
	}
	defer releaseThreads()

	if opts.Device == udfmeta.CUDA {
		releaseDevice, err := device.Acquire(ctx, 0)
		if err != nil {
			return nil, err
		}
		defer releaseDevice()
	}

	states, err := initPartition(part, udfs, opts)
	if err != nil {
		return nil, err
	}

	scheme, err := negotiate(ctx, part, states, opts)
	if err != nil {
		log.Error.Printf("negotiation failed for partition %s: %v", part.Slice(), err)
		return nil, err
	}
	for i := range states {
		states[i].meta.Tiling = scheme
	}

	if err := stream(ctx, part, states, scheme, opts); err != nil {
		log.Error.Printf("partition %s: %v", part.Slice(), err)
		return nil, err
	}

	results, err := finalize(states)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("partition %s: %d udfs finalized", part.Slice(), len(results))
	return results, nil
}

func initPartition(part collab.Partition, udfs []udf.UDF, opts Options) ([]*udfState, error) {
	partSlice := part.Slice()
	partStart, partEnd := partSlice.FlattenNav().NavRange()

	datasetSig := opts.DatasetShape.Sig()

	preferred := make([]dtype.DType, 0, len(udfs)+1)
	preferred = append(preferred, opts.DatasetDType)
	for _, u := range udfs {
		preferred = append(preferred, udf.PreferredInputDType(u))
	}
	inputDType := dtype.PromoteAll(preferred...)

	adjustedPartSlice := partSlice.AdjustForROI(roiPopCounter(opts.ROI))

	states := make([]*udfState, 0, len(udfs))
	for _, u := range udfs {
		granularity, err := udf.Validate(u)
		if err != nil {
			return nil, err
		}
		tag, deviceMode, err := assignBackend(u, opts.Device)
		if err != nil {
			return nil, err
		}

		meta := udfmeta.Meta{
			PartitionShape: adjustedPartSlice.Shape,
			DatasetShape:   opts.DatasetShape,
			ROI:            opts.ROI,
			DatasetDType:   opts.DatasetDType,
			InputDType:     inputDType,
			Device:         opts.Device,
			Corrections:    opts.Corrections,
			XP:             device.CPU(),
		}

		results, err := u.GetResultBuffers(&meta)
		if err != nil {
			return nil, err
		}
		if err := results.AllocateForPartition(datasetSig, opts.ROI, partStart, partEnd, buffer.Host); err != nil {
			return nil, err
		}
		if err := udf.CheckMergeable(u, results); err != nil {
			return nil, err
		}

		var taskData map[string]interface{}
		if tdp, ok := u.(udf.TaskDataProvider); ok {
			taskData, err = tdp.GetTaskData(&meta)
			if err != nil {
				return nil, err
			}
		}

		st := &udfState{
			impl:        u,
			granularity: granularity,
			tag:         tag,
			deviceMode:  deviceMode,
			results:     results,
			taskData:    taskData,
			meta:        meta,
		}
		if pp, ok := u.(udf.Preprocessor); ok {
			if err := pp.Preprocess(&st.meta, results); err != nil {
				return nil, err
			}
		}
		states = append(states, st)
	}
	return states, nil
}

// assignBackend resolves a UDF's declared backend set against the
// worker's device class into a concrete Tag (spec §4.4 step 1; the
// reconciliation of spec.md's two backend vocabularies is documented in
// DESIGN.md).
func assignBackend(u udf.UDF, class udfmeta.DeviceClass) (udf.Tag, bool, error) {
	decl := udf.Backends(u)
	has := func(b udf.DeclaredBackend) bool {
		for _, d := range decl {
			if d == b {
				return true
			}
		}
		return false
	}
	switch class {
	case udfmeta.CPU:
		if !has(udf.BackendCPU) {
			return "", false, engerrors.Config("udf does not declare the cpu backend required on a cpu worker")
		}
		return udf.TagCPUNative, false, nil
	case udfmeta.CUDA:
		switch {
		case has(udf.BackendCupy):
			return udf.TagCUDANative, true, nil
		case has(udf.BackendCUDA):
			return udf.TagDeviceNative, false, nil
		default:
			return "", false, engerrors.Config("udf declares no backend compatible with a cuda worker")
		}
	default:
		return "", false, engerrors.Configf("unknown device class %v", class)
	}
}

func negotiate(ctx context.Context, part collab.Partition, states []*udfState, opts Options) (*udfmeta.TilingScheme, error) {
	if opts.Negotiator == nil {
		return nil, engerrors.Config("no negotiator configured")
	}
	prefs := make([]udfmeta.TilingPreferences, len(states))
	for i, st := range states {
		prefs[i] = udf.TilingPreferencesOf(st.impl)
	}
	req := collab.NegotiationRequest{
		Preferences: prefs,
		Partition:   part,
		ReadDType:   states[0].meta.InputDType,
		ROI:         opts.ROI,
	}
	return opts.Negotiator.Negotiate(ctx, req)
}

func finalize(states []*udfState) ([]*buffer.Group, error) {
	out := make([]*buffer.Group, len(states))
	for i, st := range states {
		if err := st.results.Flush(); err != nil {
			return nil, err
		}
		st.results.ClearViews()
		if pp, ok := st.impl.(udf.Postprocessor); ok {
			if err := pp.Postprocess(&st.meta, st.results); err != nil {
				return nil, err
			}
		}
		if c, ok := st.impl.(udf.Cleanup); ok {
			c.Cleanup()
		}
		st.results.ClearViews()
		if err := st.results.Export(); err != nil {
			return nil, err
		}
		out[i] = st.results
	}
	return out, nil
}

// roiPopCounter adapts a possibly-nil *roi.Mask to shape.NavPopCounter,
// since a nil *roi.Mask must not satisfy the interface with a non-nil
// value (which would make shape.Slice.AdjustForROI treat "no ROI" as "ROI
// selecting nothing").
func roiPopCounter(r *roi.Mask) shape.NavPopCounter {
	if r == nil {
		return nil
	}
	return roiAdapter{r}
}

type roiAdapter struct{ m *roi.Mask }

func (a roiAdapter) PopCountPrefix(n int64) int64 { return a.m.PopCountPrefix(n) }
func (a roiAdapter) Len() int64                   { return a.m.Len() }
