// Package async provides a single-assignment result for background operations.
package async

import (
	"context"
	"sync"

	"trip-planner/internal/shared/dispatch"
)

// Future holds the eventual outcome of an operation. It resolves exactly once.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns an unresolved future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that already carries value and err
func Resolved[T any](value T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(value, err)
	return f
}

// Failed returns a future already resolved with err
func Failed[T any](err error) *Future[T] {
	var zero T
	return Resolved(zero, err)
}

// Go runs fn on a new goroutine and resolves the future with its result
func Go[T any](fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		f.Resolve(fn())
	}()
	return f
}

// Resolve sets the outcome. Only the first call has an effect; it reports whether it won.
func (f *Future[T]) Resolve(value T, err error) bool {
	won := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		won = true
		close(f.done)
	})
	return won
}

// Done is closed once the future is resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome, blocking until it is available
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Wait blocks until the future resolves or ctx ends
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then calls fn with the outcome on d once the future resolves
func (f *Future[T]) Then(d dispatch.Dispatcher, fn func(T, error)) {
	go func() {
		<-f.done
		d.Dispatch(func() { fn(f.value, f.err) })
	}()
}
