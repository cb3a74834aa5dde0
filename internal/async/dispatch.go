package async

import (
	"context"
	"errors"
	"sync/atomic"
)

// Dispatcher runs callbacks on some execution context the caller owns.
type Dispatcher interface {
	Dispatch(fn func())
}

// Inline runs callbacks immediately on whichever goroutine dispatched them.
type Inline struct{}

func (Inline) Dispatch(fn func()) { fn() }

// ErrQueueStopped is returned by Run when the queue is running or was already run once.
var ErrQueueStopped = errors.New("queue stopped")

// Queue is a single foreground context: callbacks run one at a time, in the
// order they were dispatched, on the goroutine calling Run.
type Queue struct {
	fns     chan func()
	done    chan struct{}
	started atomic.Bool
}

// NewQueue creates a queue that buffers up to size callbacks before Dispatch blocks.
func NewQueue(size int) *Queue {
	return &Queue{
		fns:  make(chan func(), size),
		done: make(chan struct{}),
	}
}

// Dispatch enqueues fn. Callbacks dispatched after Run has returned are dropped.
func (q *Queue) Dispatch(fn func()) {
	select {
	case <-q.done:
	case q.fns <- fn:
	}
}

// Run drains the queue until ctx is done. Only the first call runs it.
func (q *Queue) Run(ctx context.Context) error {
	if !q.started.CompareAndSwap(false, true) {
		return ErrQueueStopped
	}
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-q.fns:
			fn()
		}
	}
}
