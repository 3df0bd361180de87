// Package queue runs tasks one at a time in submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"jsonkv/internal/logging"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrPanic  = errors.New("task panicked")
)

var logger = logging.For("queue")

// Task is a unit of work. Its result settles the caller's Future.
type Task func() (any, error)

// Future is the pending outcome of a submitted Task.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(v any, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Done is closed once the task has completed or been rejected.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task settles or ctx is done. Giving up on ctx does
// not cancel the task.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	task Task
	fut  *Future
}

// Queue is a single-worker FIFO task runner. A failing or panicking task
// rejects only its own Future.
type Queue struct {
	mu      sync.Mutex
	pending []entry
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New starts a queue with its worker goroutine. Call Close to stop it.
func New() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Call enqueues task and returns immediately.
func (q *Queue) Call(task Task) *Future {
	f := newFuture()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.settle(nil, ErrClosed)
		return f
	}
	q.pending = append(q.pending, entry{task: task, fut: f})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return f
}

// Len returns the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects pending tasks with ErrClosed, lets the in-flight task finish
// and stops the worker. Must not be called from inside a task.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	rejected := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, e := range rejected {
		e.fut.settle(nil, ErrClosed)
	}
	close(q.stop)
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		e, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}
		e.fut.settle(invoke(e.task))
	}
}

func (q *Queue) next() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return entry{}, false
	}
	e := q.pending[0]
	q.pending[0] = entry{}
	q.pending = q.pending[1:]
	return e, true
}

func invoke(task Task) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r)
			v, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task()
}

// Do runs fn on q and waits for its typed result.
func Do[T any](ctx context.Context, q *Queue, fn func() (T, error)) (T, error) {
	var zero T
	v, err := q.Call(func() (any, error) { return fn() }).Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}
