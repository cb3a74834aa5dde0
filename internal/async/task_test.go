package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskResolvesOnce(t *testing.T) {
	task := newTask[int]()

	assert.True(t, task.resolve(1, nil))
	assert.False(t, task.resolve(2, errors.New("late")))

	v, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestGoPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	task := Go(func() (string, error) { return "", boom })

	_, err := task.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestWaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	task := Go(func() (int, error) {
		<-block
		return 0, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-task.Done():
		t.Fatal("task should still be running")
	default:
	}
}

func TestThenRunsOnQueueInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(8)
	go q.Run(ctx)

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	wg.Add(3)
	for i := range 3 {
		Resolved(i, nil).Then(q, func(v int, err error) {
			defer wg.Done()
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{0, 1, 2}, got)
}

func TestQueueRunsCallbacksSerially(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(0)
	go q.Run(ctx)

	var (
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	// active/maxSeen are only touched on the queue goroutine.
	wg.Add(20)
	for range 20 {
		go q.Dispatch(func() {
			defer wg.Done()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			time.Sleep(time.Millisecond)
			active--
		})
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestQueueRunTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(1)
	cancel()
	require.NoError(t, q.Run(ctx))

	assert.ErrorIs(t, q.Run(context.Background()), ErrQueueStopped)

	// Dispatching to a stopped queue must not block.
	q.Dispatch(func() {})
	q.Dispatch(func() {})
}

func TestQueueConcurrentRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(1)

	const runners = 8
	errs := make(chan error, runners)
	var wg sync.WaitGroup
	for range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- q.Run(ctx)
		}()
	}

	// All but one give up straight away
	for range runners - 1 {
		assert.ErrorIs(t, <-errs, ErrQueueStopped)
	}
	cancel()
	wg.Wait()
	assert.NoError(t, <-errs)
}
