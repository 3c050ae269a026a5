// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package securechannel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of work the orchestrator hands off for a channel:
// for an OpenSecureChannel turn, nonce generation, key derivation and
// installation of the new epoch. The asymmetric decode and encode of
// the message itself run on the caller's goroutine, not as a Job.
// Run executes on a worker-pool goroutine; the connection goroutine
// that submitted it waits in Channel.Submit for the result, so it
// reads no further bytes off the wire while this one is in flight.
type Job struct {
	Run func(ctx context.Context) (result any, err error)
	// Done receives one {result, err} pair once a worker has run the
	// job; it is never closed.
	Done chan jobResult
}

type jobResult struct {
	Value any
	Err   error
}

// jobQueue is the single-slot, per-channel serialization queue: one
// in-flight job per channel at a time. A channel's second job may wait
// in the slot, but Route does not hand it to the pool until the first
// job's Run has returned.
type jobQueue struct {
	jobs chan Job
}

func newJobQueue() *jobQueue {
	return &jobQueue{jobs: make(chan Job, 1)}
}

// Submit enqueues a job for this channel. It blocks while another job
// of this channel is already waiting in the slot, providing back-pressure against
// further chunks of the same message while one is outstanding.
func (q *jobQueue) Submit(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool is the bounded worker pool that drains every channel's
// jobQueue. Different channels progress in parallel; a single
// channel's jobs run strictly in submission order because its Route
// goroutine hands them to the pool one at a time, each only after the
// previous one has finished. Its workers run under an
// errgroup so a worker panic-free exit is observable through Wait
// instead of silently vanishing.
type Pool struct {
	work chan Job
	g    *errgroup.Group
}

// NewPool starts n worker goroutines under ctx, supervised by an
// errgroup; callers route a channel's jobs into the pool via
// Pool.Route.
func NewPool(ctx context.Context, n int) *Pool {
	if n < 1 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{work: make(chan Job, n), g: g}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}
	return p
}

// Wait blocks until every worker goroutine has returned, which happens
// once the context NewPool was given is cancelled. It never returns a
// non-nil error: workers exit only on cancellation, never on a job
// failure, since job errors are delivered back through Job.Done.
func (p *Pool) Wait() error {
	return p.g.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.work:
			if !ok {
				return
			}
			value, err := job.Run(ctx)
			select {
			case job.Done <- jobResult{Value: value, Err: err}:
			default:
			}
		}
	}
}

// Route forwards a channel's queued job into the shared worker pool.
// It is started once per Channel by Registry.Open.
func (p *Pool) Route(ctx context.Context, q *jobQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			// Wait for this job's Run to return before taking the
			// channel's next job, keeping one job in flight per channel.
			finished := make(chan struct{})
			run := job.Run
			job.Run = func(ctx context.Context) (any, error) {
				defer close(finished)
				return run(ctx)
			}
			select {
			case p.work <- job:
			case <-ctx.Done():
				return
			}
			select {
			case <-finished:
			case <-ctx.Done():
				return
			}
		}
	}
}
