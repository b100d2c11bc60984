package storage

import (
	"context"
	"sync"
)

// Future is a value that may not have resolved yet. A Future is created
// either already resolved (Resolved, Failed) or through a Promise.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Promise is the write side of a Future. Resolve and Reject are
// first-call-wins; later calls are no-ops.
type Promise[T any] struct {
	fut  *Future[T]
	once sync.Once
}

// NewPromise creates an unresolved promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{fut: &Future[T]{done: make(chan struct{})}}
}

// Resolve fulfills the promise with a value.
func (p *Promise[T]) Resolve(value T) {
	p.once.Do(func() {
		p.fut.value = value
		close(p.fut.done)
	})
}

// Reject fails the promise.
func (p *Promise[T]) Reject(err error) {
	p.once.Do(func() {
		p.fut.err = err
		close(p.fut.done)
	})
}

// Future returns the read side of the promise.
func (p *Promise[T]) Future() *Future[T] {
	return p.fut
}

// Resolved returns an already-resolved future.
func Resolved[T any](value T) *Future[T] {
	done := make(chan struct{})
	close(done)
	return &Future[T]{done: done, value: value}
}

// Failed returns an already-failed future.
func Failed[T any](err error) *Future[T] {
	done := make(chan struct{})
	close(done)
	return &Future[T]{done: done, err: err}
}

// Await blocks until the future resolves or the context is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Ready reports whether the future has resolved, without blocking.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done exposes the resolution channel for select loops.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result is an engine answer that is either immediately available or pending.
type Result[T any] struct {
	now     T
	fut     *Future[T]
	pending bool
}

// Immediate wraps a value that was available without suspending.
func Immediate[T any](value T) Result[T] {
	return Result[T]{now: value}
}

// Pending wraps a future for a value that requires I/O.
func Pending[T any](fut *Future[T]) Result[T] {
	return Result[T]{fut: fut, pending: true}
}

// Now returns the immediate value. ok is false when the result is pending.
func (r Result[T]) Now() (T, bool) {
	if r.pending {
		var zero T
		return zero, false
	}
	return r.now, true
}

// Future returns the result as a future, resolving immediately when the
// value was already available.
func (r Result[T]) Future() *Future[T] {
	if r.pending {
		return r.fut
	}
	return Resolved(r.now)
}
