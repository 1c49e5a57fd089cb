// Package dispatch runs callbacks on a single serial execution context.
package dispatch

import (
	"sync"
)

// Dispatcher schedules fn for later execution
type Dispatcher interface {
	Dispatch(fn func())
}

// Immediate runs every callback synchronously on the calling goroutine
type Immediate struct{}

// Dispatch calls fn directly
func (Immediate) Dispatch(fn func()) { fn() }

// Queue is an unbounded FIFO drained by one goroutine. Callbacks never run
// concurrently with each other and run in submission order.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

// NewQueue starts a queue and its worker goroutine
func NewQueue() *Queue {
	q := &Queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Dispatch enqueues fn. Callbacks submitted after Close are dropped.
func (q *Queue) Dispatch(fn func()) {
	q.TryDispatch(fn)
}

// TryDispatch enqueues fn and reports whether it was accepted. It is false
// once the queue is closed.
func (q *Queue) TryDispatch(fn func()) bool {
	if fn == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
	return true
}

// Close stops accepting work, drains what is already queued and waits for the worker
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	<-q.done
}

// Done is closed once the worker has exited
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

// Sync runs fn on d and blocks until it has returned. It reports false
// without running fn when d is a closed Queue.
func Sync(d Dispatcher, fn func()) bool {
	done := make(chan struct{})
	run := func() {
		defer close(done)
		fn()
	}
	if q, ok := d.(interface{ TryDispatch(func()) bool }); ok {
		if !q.TryDispatch(run) {
			return false
		}
	} else {
		d.Dispatch(run)
	}
	<-done
	return true
}
