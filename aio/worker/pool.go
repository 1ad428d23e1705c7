// Package worker implements the C4.W variant of the reactor: a fixed pool
// of worker goroutines, each with a bounded inbound queue, used to fan out
// concurrent child reads during an async traverse instead of confining all
// I/O to a single goroutine.
package worker

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrWouldBlock is returned by TrySubmit when the target worker's queue is
// full — the bounded-channel approximation of the lock-free queue's
// would_block outcome.
var ErrWouldBlock = errors.New("worker: queue would block")

// Job is one unit of work dispatched to a worker.
type Job func(ctx context.Context) (any, error)

type request struct {
	job    Job
	result chan<- jobResult
}

type jobResult struct {
	value any
	err   error
}

// Pool is a fixed set of worker goroutines, each reading from its own
// bounded channel. Jobs are routed to workers by a caller-chosen index
// (typically the child branch nibble), so that reads for the same logical
// stream serialize on one worker while different branches run concurrently.
type Pool struct {
	queues []chan request
	cancel context.CancelFunc
	group  *errgroup.Group
	ctx    context.Context
}

// New starts workerCount goroutines, each with a queue of the given depth.
func New(ctx context.Context, workerCount, queueDepth int) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{
		queues: make([]chan request, workerCount),
		cancel: cancel,
		group:  g,
		ctx:    gctx,
	}
	for i := 0; i < workerCount; i++ {
		q := make(chan request, queueDepth)
		p.queues[i] = q
		g.Go(func() error {
			return p.run(gctx, q)
		})
	}
	return p
}

func (p *Pool) run(ctx context.Context, q chan request) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-q:
			value, err := req.job(ctx)
			req.result <- jobResult{value: value, err: err}
		}
	}
}

// WorkerCount reports how many workers this pool runs.
func (p *Pool) WorkerCount() int { return len(p.queues) }

// Submit blocks until worker index%WorkerCount() accepts job, then blocks
// for its result. Intended for the common case where callers fan out with
// errgroup.Go themselves and want each call to own its own goroutine.
func (p *Pool) Submit(ctx context.Context, index int, job Job) (any, error) {
	q := p.queues[index%len(p.queues)]
	resultCh := make(chan jobResult, 1)
	select {
	case q <- request{job: job, result: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TrySubmit attempts a non-blocking enqueue onto worker index%WorkerCount(),
// returning ErrWouldBlock if that worker's queue is full.
func (p *Pool) TrySubmit(index int, job Job) (<-chan struct {
	Value any
	Err   error
}, error) {
	q := p.queues[index%len(p.queues)]
	resultCh := make(chan jobResult, 1)
	select {
	case q <- request{job: job, result: resultCh}:
	default:
		return nil, ErrWouldBlock
	}
	out := make(chan struct {
		Value any
		Err   error
	}, 1)
	go func() {
		r := <-resultCh
		out <- struct {
			Value any
			Err   error
		}{Value: r.value, Err: r.err}
	}()
	return out, nil
}

// FanOut submits one job per slice entry, job i going to worker
// i%WorkerCount(), and waits for all of them, returning the first error
// (via errgroup.Group). On failure the submissions still waiting are
// cancelled; jobs themselves run under the pool's own context.
func FanOut(ctx context.Context, p *Pool, jobs []Job) ([]any, error) {
	results := make([]any, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			v, err := p.Submit(gctx, i, job)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Wait cancels the pool's context and waits for every worker goroutine to
// return. Worker goroutines always return nil, so Wait returns nil; a
// job's error goes only to the caller that submitted it.
func (p *Pool) Wait() error {
	p.cancel()
	return p.group.Wait()
}
