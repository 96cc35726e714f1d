package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/nimasrn/courier-dispatch/pkg/logger"
)

var ErrTerminated = errors.New("workers terminated")

type WorkerHandler[T any] func(workerIndex int, job T)

type WorkerManager[T any] struct {
	jobChannel     chan T
	numberOfWorker int
	do             WorkerHandler[T]
	quit           chan struct{}
	quitOnce       sync.Once
	waiter         sync.WaitGroup
}

// NewWorkerManager
// is a job manager based on go routines. Define the number of internal
// workers, and start publishing jobs using Enqueue. Jobs are distributed
// among the pool until the context given to Start is done or Exit is called.
func NewWorkerManager[T any](bufferSize, numberOfWorkers int) *WorkerManager[T] {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	return &WorkerManager[T]{
		numberOfWorker: numberOfWorkers,
		jobChannel:     make(chan T, bufferSize),
		quit:           make(chan struct{}),
	}
}

func (w *WorkerManager[T]) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager[T]) SetWorker(worker WorkerHandler[T]) {
	w.do = worker
}

// Enqueue
// Publishes a job onto the channel, giving up when ctx is done or the
// pool has exited.
func (w *WorkerManager[T]) Enqueue(ctx context.Context, job T) error {
	select {
	case w.jobChannel <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrTerminated
	}
}

// Start
// starts off the workers and blocks until they all stop.
func (w *WorkerManager[T]) Start(ctx context.Context) error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}

	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-ctx.Done():
					return
				case <-w.quit:
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()

	return ErrTerminated
}

// Exit
// stops every worker after its current job. Safe to call more than once.
func (w *WorkerManager[T]) Exit() {
	w.quitOnce.Do(func() {
		logger.Info("worker manager is going to be shutdown", "workers", w.numberOfWorker)
		close(w.quit)
	})
}
