// Package aio implements a completion-based asynchronous I/O reactor: a
// single goroutine owns a channel of completions and invokes receivers only
// when it drains that channel, preserving a single-thread-owns-callbacks
// contract without green threads or a fiber runtime. The actual I/O is
// performed on ordinary goroutines spawned per operation; the reactor is
// the serialization point for receiver invocation, not a thread pool.
package aio

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Submit once the reactor has been shut down.
var ErrClosed = errors.New("aio: reactor closed")

// Op is the work a submitted operation performs off the reactor goroutine.
// It returns a result and an error; exactly one of them is meaningful.
type Op func() (any, error)

// Receiver consumes the outcome of a completed Op, invoked on the reactor
// goroutine from Poll.
type Receiver func(result any, err error)

type completion struct {
	receiver Receiver
	result   any
	err      error
}

// Reactor serializes completion delivery for operations submitted to it.
// The zero value is not usable; construct with New.
type Reactor struct {
	completions chan completion

	mu       sync.Mutex
	closed   bool
	inFlight int
}

// New builds a Reactor with the given completion queue depth.
func New(queueDepth int) *Reactor {
	return &Reactor{completions: make(chan completion, queueDepth)}
}

// Submit starts op on a fresh goroutine and arranges for receiver to be
// invoked with its outcome the next time Poll runs on the reactor
// goroutine. Submit itself never blocks and never calls receiver directly.
func (r *Reactor) Submit(op Op, receiver Receiver) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.inFlight++
	r.mu.Unlock()

	go func() {
		result, err := op()
		r.completions <- completion{receiver: receiver, result: result, err: err}
	}()
	return nil
}

// Poll drains completed operations and invokes their receivers on the
// calling goroutine, which must be the single goroutine that owns this
// reactor. With block set, Poll waits for at least one completion before
// returning if none are immediately available; it always returns as soon as
// the completion queue runs dry. It returns the number of receivers
// invoked.
func (r *Reactor) Poll(block bool) int {
	count := 0
	for {
		select {
		case c := <-r.completions:
			r.deliver(c)
			count++
			continue
		default:
		}
		if block && count == 0 {
			c, ok := <-r.completions
			if !ok {
				return count
			}
			r.deliver(c)
			count++
			continue
		}
		return count
	}
}

func (r *Reactor) deliver(c completion) {
	c.receiver(c.result, c.err)
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
}

// Quiesce blocks, polling, until every submitted operation has completed.
// Intended for shutdown paths and tests, not the steady-state hot path.
func (r *Reactor) Quiesce() {
	for {
		r.mu.Lock()
		n := r.inFlight
		r.mu.Unlock()
		if n == 0 {
			return
		}
		r.Poll(true)
	}
}

// Close marks the reactor closed to new Submit calls. Already in-flight
// operations still deliver their completions; callers should Quiesce
// before Close if they need every receiver to run.
func (r *Reactor) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// InFlight reports the number of operations submitted but not yet
// delivered.
func (r *Reactor) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}
