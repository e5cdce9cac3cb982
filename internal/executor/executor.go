// Package executor implements the parallel job dispatcher, spec.md §4.7:
// N workers pull jobs from a caller-supplied source, run them
// concurrently, and report back to a single-threaded collator. Built on
// github.com/sourcegraph/conc for structured per-worker goroutine
// lifetimes — conc's panic-propagation and join semantics are a direct
// fit for "first error wins, later ones suppressed" and for guaranteeing
// cancellation always joins every worker before returning.
// go.uber.org/multierr aggregates the suppressed worker errors behind
// the first one, for diagnostics without breaking the first-error-wins
// contract.
package executor

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"pig/internal/xerr"
)

// Job is one unit of work a worker executes; workerIdx identifies which
// of the N logical workers picked it up (used by callers' JobSource to
// implement the queue-sweep rules, e.g. restore's per-target queues).
type Job interface {
	Run(ctx context.Context, workerIdx int) error
}

// JobSource returns the next Job for workerIdx, or nil when that worker
// has nothing left to do right now (it may still receive work later if
// other workers free up shared queues).
type JobSource func(workerIdx int) Job

// Result pairs a finished job's worker index with its outcome.
type Result struct {
	WorkerIdx int
	Err       error
}

// Executor runs a bounded pool of workerCount goroutines pulling from
// source until it is exhausted (returns nil for every worker index in
// the same pass) or a worker fails.
type Executor struct {
	WorkerCount int
	Source      JobSource
	// OnResult, if set, is invoked from a single goroutine (never
	// concurrently) as each job completes — the only place manifest
	// mutations may safely happen, per spec.md §5's "concurrent workers
	// cannot race on manifest state."
	OnResult func(Result)
}

// Run drives the executor to completion or first error. It loops calling
// Step until the source reports no more work for any worker.
func (e *Executor) Run(ctx context.Context) error {
	for {
		done, err := e.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step runs one wave: every worker that currently has a job from Source
// runs it to completion, concurrently, via a conc pool; the first error
// is returned (others are folded into it via multierr for diagnostics).
// done is true when no worker had a job this wave.
func (e *Executor) Step(ctx context.Context) (done bool, firstErr error) {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	var mu sync.Mutex
	var errs error
	any := false

	for i := 0; i < e.WorkerCount; i++ {
		job := e.Source(i)
		if job == nil {
			continue
		}
		any = true
		idx := i
		p.Go(func(ctx context.Context) error {
			err := job.Run(ctx, idx)
			mu.Lock()
			if e.OnResult != nil {
				e.OnResult(Result{WorkerIdx: idx, Err: err})
			}
			if err != nil {
				errs = multierr.Append(errs, err)
			}
			mu.Unlock()
			return err
		})
	}
	if !any {
		return true, nil
	}
	if err := p.Wait(); err != nil {
		if errs != nil {
			return false, wrapFirst(errs)
		}
		return false, xerr.Wrap(xerr.Protocol, err, "worker pool failed")
	}
	return false, nil
}

// wrapFirst returns the first error multierr collected, annotated so
// callers that only care about "did it fail" still get an *xerr.Error;
// the full set remains available via multierr.Errors for logging.
func wrapFirst(errs error) error {
	all := multierr.Errors(errs)
	if len(all) == 0 {
		return nil
	}
	if _, ok := all[0].(*xerr.Error); ok {
		return all[0]
	}
	return xerr.Wrap(xerr.Protocol, all[0], "worker job failed")
}
