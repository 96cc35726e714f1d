package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesJobs(t *testing.T) {
	wm := NewWorkerManager[int](10, 3)

	var sum atomic.Int64
	var wg sync.WaitGroup
	wg.Add(5)
	wm.SetWorker(func(_ int, job int) {
		sum.Add(int64(job))
		wg.Done()
	})

	done := make(chan error, 1)
	go func() { done <- wm.Start(context.Background()) }()

	for i := 1; i <= 5; i++ {
		require.NoError(t, wm.Enqueue(context.Background(), i))
	}
	wg.Wait()
	assert.Equal(t, int64(15), sum.Load())

	wm.Exit()
	wm.Exit()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_StopsOnContext(t *testing.T) {
	wm := NewWorkerManager[string](1, 2)
	wm.SetWorker(func(int, string) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wm.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_EnqueueAfterExit(t *testing.T) {
	wm := NewWorkerManager[int](0, 1)
	wm.Exit()

	err := wm.Enqueue(context.Background(), 1)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestWorkerManager_StartWithoutHandler(t *testing.T) {
	wm := NewWorkerManager[int](1, 1)
	assert.Error(t, wm.Start(context.Background()))
}
