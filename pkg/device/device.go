// Package device models the "Device backend" collaborator of spec.md §6:
// a host/device array capability set (elementwise ops, reductions,
// transfer) that the PartitionRunner addresses only through a UDF's xp
// accessor, plus the process-wide CUDA device id resource described in
// spec §5 and its scoped, save-and-restore acquisition.
package device

import (
	"context"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/sync/once"

	"github.com/taimin-go/tiledreduce/pkg/engerrors"
)

// XP is the array-capability surface a UDF addresses via its xp
// accessor (spec §6 "the runner addresses it through the UDF's xp
// accessor and never directly").
type XP interface {
	// Add computes dst = a + b elementwise; len(dst)==len(a)==len(b).
	Add(dst, a, b []float64)
	// Sum returns the sum of all elements of a.
	Sum(a []float64) float64
	// Zero clears dst to the zero value.
	Zero(dst []float64)
	// Copy transfers src into dst; len(dst)==len(src). Device-mode
	// dispatch uses this to move a host tile into device-resident
	// storage before a UDF sees it (spec §4.4 step 3).
	Copy(dst, src []float64)
}

var cpuBackend = &cpuXP{}

// CPU returns the host-memory XP backend. Its elementwise/reduction
// primitives are vectorized with go-highway rather than hand-rolled
// scalar loops (SPEC_FULL.md §4).
func CPU() XP {
	return cpuBackend
}

// deviceMu guards the process-wide current device id. A limiter with
// capacity 1 doubles as a context-cancellable mutex: Acquire(ctx, 1)
// blocks (cancellably) until the sole token is available, Release(1)
// gives it back. This is the same limiter type the retrieval pack's
// bigmachine executor uses to bound concurrent commits.
var (
	deviceMu        = limiter.New()
	initOnce        once.Map
	currentDeviceID = -1
)

// ensureInit seeds the device mutex's single token exactly once, even
// under concurrent first callers; once.Map caches the (nil) error so
// later calls are free.
func ensureInit() error {
	return initOnce.Do("device-mutex", func() error {
		deviceMu.Release(1)
		return nil
	})
}

// CurrentDevice returns the process-wide selected CUDA device id, or -1
// if none is selected.
func CurrentDevice() int {
	return currentDeviceID
}

// Acquire scopes the process-wide CUDA device id to id for the duration
// the caller holds the returned release function, which restores the
// previous id. Acquire always returns a non-nil release once it returns
// a nil error, and release is guaranteed to run on every exit path by
// the caller deferring it immediately (spec §5 "guaranteeing that a
// caller-observed device id is unchanged on any exit path").
func Acquire(ctx context.Context, id int) (release func(), err error) {
	if err := ensureInit(); err != nil {
		return nil, err
	}
	if err := deviceMu.Acquire(ctx, 1); err != nil {
		return nil, engerrors.Devicef("acquire device %d: %v", id, err)
	}
	prev := currentDeviceID
	currentDeviceID = id
	return func() {
		currentDeviceID = prev
		deviceMu.Release(1)
	}, nil
}

// ThreadLimiter bounds how many OS threads a multi-threaded numeric
// library may use concurrently, scoped to one PartitionRunner (spec §5
// "pinned to one thread for the duration of the run... via a scoped
// acquisition with guaranteed release").
type ThreadLimiter struct {
	lim *limiter.Limiter
}

// NewThreadLimiter returns a limiter with n initial tokens.
func NewThreadLimiter(n int) *ThreadLimiter {
	l := limiter.New()
	l.Release(n)
	return &ThreadLimiter{lim: l}
}

// Acquire takes one token, blocking (cancellably via ctx) until
// available, and returns a release function.
func (t *ThreadLimiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := t.lim.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { t.lim.Release(1) }, nil
}
