// Package tiledreduce is the coordinator-side Dispatcher (spec §4.5): it
// allocates global result buffers, generates one Task per non-empty
// partition, submits them to the Executor collaborator, and merges
// arriving partial results back into the global buffers.
package tiledreduce

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/grailbio/base/log"

	"github.com/taimin-go/tiledreduce/pkg/buffer"
	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/engerrors"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/udf"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// Dispatcher drives one dataset's execution against an Executor
// collaborator (pkg/localexec.Executor for in-process use, or any other
// implementation of collab.Executor).
type Dispatcher struct {
	Dataset    collab.Dataset
	Executor   collab.Executor
	Negotiator collab.Negotiator
	// Threads is recorded here but not read by the Dispatcher; the
	// per-partition thread bound is whatever the Executor passes to
	// runner.Options.Threads (e.g. localexec.Executor.Threads).
	Threads int
}

// New returns a Dispatcher for dataset, driving udf execution through
// executor with tiling decisions from negotiator.
func New(dataset collab.Dataset, executor collab.Executor, negotiator collab.Negotiator) *Dispatcher {
	return &Dispatcher{Dataset: dataset, Executor: executor, Negotiator: negotiator, Threads: 1}
}

// Submitter is implemented by an Executor collaborator that needs the
// live Task values (Partition, UDFs) registered out of band before
// RunTasks resolves the envelope bytes it's handed back to them —
// collab.Executor's RunTasks only carries []byte, since Task is not
// generically gob-encodable (see task.go). pkg/localexec.Executor is one
// such collaborator; a real cluster executor that ships Partition/UDF by
// value across the wire would not need this.
type Submitter interface {
	Submit(tasks []Task)
}

// RunOptions configures one dispatch.
type RunOptions struct {
	ROI         *roi.Mask
	Corrections collab.Corrections
	// Backends further narrows task resource resolution beyond the
	// intersection of the UDFs' own declared backends.
	Backends []udf.DeclaredBackend
	// Progress, if set, is called after each partition merges.
	Progress func(done, total int)
}

// RunForDataset is the blocking entry point (spec §4.5 run_for_dataset):
// it returns the final global result groups, one per udf in input order.
func (d *Dispatcher) RunForDataset(ctx context.Context, udfs []udf.UDF, opts RunOptions) ([]*buffer.Group, error) {
	snapshots, err := d.runForDataset(ctx, udfs, "", opts, nil)
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// RunForDatasetAsync is the streaming entry point (spec §4.5
// run_for_dataset_async): it yields a snapshot of the current global
// result groups after every merged partition, plus a final snapshot even
// if no partition produced one, and stops early if ctx is cancelled.
// cancelID is registered with the Executor so a caller can abort
// in-flight tasks out of band.
func (d *Dispatcher) RunForDatasetAsync(ctx context.Context, udfs []udf.UDF, cancelID string, opts RunOptions) (<-chan []*buffer.Group, <-chan error) {
	out := make(chan []*buffer.Group, 1)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		_, err := d.runForDataset(ctx, udfs, cancelID, opts, out)
		if err != nil {
			errc <- err
		}
	}()
	return out, errc
}

func (d *Dispatcher) runForDataset(ctx context.Context, udfs []udf.UDF, cancelID string, opts RunOptions, async chan<- []*buffer.Group) ([]*buffer.Group, error) {
	if len(udfs) == 0 {
		return nil, engerrors.Config("no udfs given to dispatch")
	}
	datasetShape := d.Dataset.Shape()
	datasetDType := d.Dataset.DType()

	if opts.ROI != nil {
		if err := opts.ROI.ValidateAgainst(datasetShape.Nav()); err != nil {
			return nil, err
		}
	}

	inputDType := computeInputDType(datasetDType, udfs)
	datasetMeta := &udfmeta.Meta{
		DatasetShape: datasetShape,
		ROI:          opts.ROI,
		DatasetDType: datasetDType,
		InputDType:   inputDType,
		Corrections:  opts.Corrections,
	}

	globals := make([]*buffer.Group, len(udfs))
	for i, u := range udfs {
		g, err := u.GetResultBuffers(datasetMeta)
		if err != nil {
			return nil, err
		}
		if err := g.AllocateForDataset(datasetShape.Nav(), datasetShape.Sig(), opts.ROI, buffer.Host); err != nil {
			return nil, err
		}
		if err := udf.CheckMergeable(u, g); err != nil {
			return nil, err
		}
		if pp, ok := u.(udf.Preprocessor); ok {
			if err := g.SetViewForDataset(); err != nil {
				return nil, err
			}
			if err := pp.Preprocess(datasetMeta, g); err != nil {
				return nil, err
			}
			g.ClearViews()
		}
		globals[i] = g
	}

	backendSet, resources, err := resolveResources(udfs, opts.Backends)
	if err != nil {
		return nil, err
	}
	log.Printf("dispatch: resolved task resources %v from backend set %v", resources, backendSet)

	tasks, err := d.buildTasks(ctx, udfs, opts, backendSet, cancelID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		if async != nil {
			async <- snapshotAll(globals)
		}
		return globals, nil
	}

	if s, ok := d.Executor.(Submitter); ok {
		s.Submit(tasks)
	}

	taskBytes := make([][]byte, len(tasks))
	for i, t := range tasks {
		b, err := EncodeEnvelope(envelopeOf(t))
		if err != nil {
			return nil, engerrors.Serialization(err)
		}
		taskBytes[i] = b
	}

	arrivals, err := d.Executor.RunTasks(ctx, cancelID, taskBytes)
	if err != nil {
		return nil, engerrors.Executor(err)
	}

	var mergeErr error
	done := 0
	for arrival := range arrivals {
		if arrival.Err != nil {
			if mergeErr == nil {
				mergeErr = engerrors.Executor(arrival.Err)
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			if mergeErr == nil {
				mergeErr = err
			}
			continue
		}
		t := tasks[arrival.TaskIndex]
		partials, err := DecodeResult(arrival.Result)
		if err != nil {
			if mergeErr == nil {
				mergeErr = engerrors.Serialization(err)
			}
			continue
		}
		log.Debug.Printf("merging task %d (key %x)", t.Index, taskKey(t))
		if err := mergePartition(datasetMeta, udfs, globals, partials, t); err != nil {
			if mergeErr == nil {
				mergeErr = err
			}
			continue
		}
		done++
		if opts.Progress != nil {
			opts.Progress(done, len(tasks))
		}
		if async != nil {
			async <- snapshotAll(globals)
		}
	}
	if mergeErr != nil {
		return nil, mergeErr
	}
	return globals, nil
}

func computeInputDType(datasetDType dtype.DType, udfs []udf.UDF) dtype.DType {
	preferred := make([]dtype.DType, 0, len(udfs)+1)
	preferred = append(preferred, datasetDType)
	for _, u := range udfs {
		preferred = append(preferred, udf.PreferredInputDType(u))
	}
	return dtype.PromoteAll(preferred...)
}

// resolveResources intersects every UDF's declared backends, narrows by
// filter, and maps the result to a task resource request (spec §4.5
// "Task resource resolution").
func resolveResources(udfs []udf.UDF, filter []udf.DeclaredBackend) ([]udf.DeclaredBackend, map[string]int, error) {
	inter := udf.Backends(udfs[0])
	for _, u := range udfs[1:] {
		inter = intersect(inter, udf.Backends(u))
	}
	if len(filter) > 0 {
		inter = intersect(inter, filter)
	}
	if len(inter) == 0 {
		return nil, nil, engerrors.Config("empty backend intersection across udf set and dispatcher filter")
	}
	has := func(b udf.DeclaredBackend) bool {
		for _, x := range inter {
			if x == b {
				return true
			}
		}
		return false
	}
	hasCPU := has(udf.BackendCPU)
	hasDevice := has(udf.BackendCUDA) || has(udf.BackendCupy)
	switch {
	case hasCPU && !hasDevice:
		return inter, map[string]int{"CPU": 1, "compute": 1}, nil
	case hasCPU && hasDevice:
		return inter, map[string]int{"compute": 1}, nil
	case hasDevice:
		return inter, map[string]int{"CUDA": 1, "compute": 1}, nil
	default:
		return nil, nil, engerrors.Config("empty backend intersection across udf set and dispatcher filter")
	}
}

func intersect(a, b []udf.DeclaredBackend) []udf.DeclaredBackend {
	set := make(map[udf.DeclaredBackend]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	var out []udf.DeclaredBackend
	for _, x := range b {
		if set[x] {
			out = append(out, x)
		}
	}
	return out
}

// buildTasks iterates partitions concurrently (one errgroup goroutine per
// partition, no concurrency limit),
// skipping any whose ROI popcount is 0 (spec §4.5 "skip partitions whose
// ROI popcount is 0").
func (d *Dispatcher) buildTasks(ctx context.Context, udfs []udf.UDF, opts RunOptions, backends []udf.DeclaredBackend, cancelID string) ([]Task, error) {
	parts, err := d.Dataset.GetPartitions(ctx)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		idx int
		t   Task
		ok  bool
	}
	results := make([]indexed, len(parts))

	var g errgroup.Group
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			start, end := p.Slice().FlattenNav().NavRange()
			if opts.ROI != nil && opts.ROI.PopCountPrefix(end)-opts.ROI.PopCountPrefix(start) == 0 {
				results[i] = indexed{idx: i, ok: false}
				return nil
			}
			if end <= start {
				results[i] = indexed{idx: i, ok: false}
				return nil
			}
			if opts.Corrections != nil {
				if err := p.SetCorrections(opts.Corrections); err != nil {
					return err
				}
			}
			results[i] = indexed{idx: i, ok: true, t: Task{
				Partition:   p,
				UDFs:        udfs,
				ROI:         opts.ROI,
				Backends:    backends,
				Corrections: opts.Corrections,
				CancelID:    cancelID,
			}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var tasks []Task
	for _, r := range results {
		if r.ok {
			r.t.Index = len(tasks)
			tasks = append(tasks, r.t)
		}
	}
	return tasks, nil
}

func mergePartition(meta *udfmeta.Meta, udfs []udf.UDF, globals []*buffer.Group, partials []buffer.Proxy, t Task) error {
	start, end := t.Partition.Slice().FlattenNav().NavRange()
	for i, u := range udfs {
		g := globals[i]
		if err := g.SetViewForTile(start, end); err != nil {
			return err
		}
		dest := g.Snapshot()
		src := partials[i]
		var err error
		if m, ok := u.(udf.Merger); ok {
			err = m.Merge(meta, dest, src)
		} else {
			err = udf.DefaultMerge(meta, g, dest, src)
		}
		g.ClearViews()
		if err != nil {
			return err
		}
	}
	return nil
}

// snapshotAll returns an independent copy of globals: each group's
// buffers get their own storage (buffer.Group.Clone), so a value handed
// to the async channel is a stable point-in-time view, unaffected by
// merges the dispatcher performs into globals afterward.
func snapshotAll(globals []*buffer.Group) []*buffer.Group {
	out := make([]*buffer.Group, len(globals))
	for i, g := range globals {
		out[i] = g.Clone()
	}
	return out
}
