package localexec

import (
	"context"
	"sync"

	tiledreduce "github.com/taimin-go/tiledreduce"
	"github.com/taimin-go/tiledreduce/pkg/buffer"
	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/engerrors"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
	"github.com/taimin-go/tiledreduce/runner"
)

// Executor runs Tasks in-process, one goroutine per task, bounded by
// MaxConcurrency. It is a reference implementation of collab.Executor for
// tests and examples, not a production cluster executor (spec §6 treats
// the real executor as an external collaborator).
type Executor struct {
	Dataset    *Dataset
	Negotiator collab.Negotiator
	Threads    int
	// MaxConcurrency bounds the number of PartitionRunners running at
	// once; 0 means unbounded.
	MaxConcurrency int

	mu        sync.Mutex
	work      map[int]tiledreduce.Task
	cancelled map[string]bool
}

// NewExecutor returns an Executor whose GetTiles/negotiation calls are
// served by dataset and negotiator.
func NewExecutor(dataset *Dataset, negotiator collab.Negotiator, threads int) *Executor {
	if threads <= 0 {
		threads = 1
	}
	return &Executor{
		Dataset:    dataset,
		Negotiator: negotiator,
		Threads:    threads,
		work:       make(map[int]tiledreduce.Task),
		cancelled:  make(map[string]bool),
	}
}

// Submit registers tasks so a later RunTasks call can resolve the
// envelope bytes it's given back to live Partition/UDF values; this
// executor does not serialise those (see task.go's Envelope doc).
func (e *Executor) Submit(tasks []tiledreduce.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tasks {
		e.work[t.Index] = t
	}
}

func (e *Executor) Cancel(cancelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[cancelID] = true
}

func (e *Executor) isCancelled(cancelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[cancelID]
}

func (e *Executor) RunTasks(ctx context.Context, cancelID string, tasks [][]byte) (<-chan collab.TaskArrival, error) {
	out := make(chan collab.TaskArrival, len(tasks))

	var sem chan struct{}
	if e.MaxConcurrency > 0 {
		sem = make(chan struct{}, e.MaxConcurrency)
	}

	var wg sync.WaitGroup
	for _, raw := range tasks {
		raw := raw
		env, err := tiledreduce.DecodeEnvelope(raw)
		if err != nil {
			out <- collab.TaskArrival{Err: engerrors.Serialization(err)}
			continue
		}
		e.mu.Lock()
		t, ok := e.work[env.Index]
		e.mu.Unlock()
		if !ok {
			out <- collab.TaskArrival{TaskIndex: env.Index, Err: engerrors.Configf("executor: unknown task index %d", env.Index)}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			out <- e.runOne(ctx, t, env, cancelID)
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (e *Executor) runOne(ctx context.Context, t tiledreduce.Task, env tiledreduce.Envelope, cancelID string) collab.TaskArrival {
	if e.isCancelled(cancelID) {
		return collab.TaskArrival{TaskIndex: t.Index, Err: engerrors.Config("executor: task stream cancelled")}
	}

	r := rehydrateROI(env)
	if r == nil {
		r = t.ROI
	}

	groups, err := runner.Run(ctx, t.Partition, t.UDFs, runner.Options{
		DatasetShape: e.Dataset.Shape(),
		DatasetDType: e.Dataset.DType(),
		ROI:          r,
		Device:       0,
		Corrections:  t.Corrections,
		Negotiator:   e.Negotiator,
		Threads:      e.Threads,
	})
	if err != nil {
		return collab.TaskArrival{TaskIndex: t.Index, Err: err}
	}

	proxies := make([]buffer.Proxy, len(groups))
	for i, g := range groups {
		proxies[i] = g.Snapshot()
	}
	resultBytes, err := tiledreduce.EncodeResult(proxies)
	if err != nil {
		return collab.TaskArrival{TaskIndex: t.Index, Err: engerrors.Serialization(err)}
	}
	return collab.TaskArrival{TaskIndex: t.Index, Result: resultBytes}
}

// rehydrateROI reconstructs a roi.Mask from the envelope's bit vector so
// that the gob round-trip is load-bearing rather than decorative: the
// worker's ROI view of a task is exactly what crossed the wire, not a
// live pointer shared with the dispatcher.
func rehydrateROI(env tiledreduce.Envelope) *roi.Mask {
	if len(env.ROIBits) == 0 {
		return nil
	}
	navShape := shape.New([]int64{int64(len(env.ROIBits))}, 1)
	m := roi.New(navShape, env.ROIBits)
	return &m
}
