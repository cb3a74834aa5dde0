// Package async provides the small scheduling pieces the photo store is built on:
// a task that resolves exactly once and dispatchers to hand results to a
// foreground context.
package async

import (
	"context"
	"sync"
)

// Task is the handle to background work. It resolves exactly once, either
// with a value or with an error.
type Task[T any] struct {
	once sync.Once
	done chan struct{}

	val T
	err error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

// Go runs fn on its own goroutine and returns the task tracking it.
func Go[T any](fn func() (T, error)) *Task[T] {
	t := newTask[T]()
	go func() {
		v, err := fn()
		t.resolve(v, err)
	}()

	return t
}

// Resolved returns a task that is already complete.
func Resolved[T any](v T, err error) *Task[T] {
	t := newTask[T]()
	t.resolve(v, err)
	return t
}

// Resolves the task. Only the first call has any effect.
func (t *Task[T]) resolve(v T, err error) bool {
	resolved := false
	t.once.Do(func() {
		t.val, t.err = v, err
		close(t.done)
		resolved = true
	})

	return resolved
}

// Done is closed once the task has resolved.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task resolves or ctx is done.
//
// Giving up on the wait doesn't stop the work itself.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then calls fn with the result on the given dispatcher once the task resolves.
func (t *Task[T]) Then(d Dispatcher, fn func(T, error)) {
	go func() {
		<-t.done
		d.Dispatch(func() { fn(t.val, t.err) })
	}()
}
