package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/queue"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/nimasrn/courier-dispatch/pkg/prom"
	"github.com/nimasrn/courier-dispatch/pkg/redis"
	"github.com/nimasrn/courier-dispatch/pkg/worker"
)

const ProcessingTimeout = time.Second * 10
const ShutdownTimeout = time.Minute

// Processor handles one job kind.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
	GetType() model.JobKind
}

type ServiceConfig struct {
	Queue             queue.QueueConfig
	Consumers         int
	PoolSize          int
	ProcessingTimeout time.Duration
}

// ProcessorService runs the queue consumers and hands every job to a
// shared worker pool, waiting for the result to decide ack or retry.
type ProcessorService struct {
	adapter     redis.RedisAdapter
	config      ServiceConfig
	queues      []*queue.Queue
	processors  map[model.JobKind]Processor
	idempotency *IdempotencyService
	metrics     *ServiceMetrics
	worker      *worker.WorkerManager[*jobRequest]
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

type jobRequest struct {
	job        *queue.Job
	resultChan chan error
	ctx        context.Context
}

func NewProcessorService(adapter redis.RedisAdapter, idempotency *IdempotencyService, config ServiceConfig) *ProcessorService {
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = ProcessingTimeout
	}
	if config.Queue.HandlerTimeout <= 0 {
		config.Queue.HandlerTimeout = config.ProcessingTimeout + time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:     adapter,
		config:      config,
		processors:  make(map[model.JobKind]Processor),
		idempotency: idempotency,
		metrics:     NewServiceMetrics(),
		worker:      worker.NewWorkerManager[*jobRequest](config.PoolSize*2, config.PoolSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *ProcessorService) RegisterProcessor(p Processor) {
	s.processors[p.GetType()] = p
	logger.Info("registered processor", "job_key", p.GetType())
}

func (s *ProcessorService) Metrics() *ServiceMetrics {
	return s.metrics
}

// Queues returns the consumer queues created by Start.
func (s *ProcessorService) Queues() []*queue.Queue {
	return s.queues
}

func (s *ProcessorService) Start() error {
	logger.Info("starting processor service...")

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(s.ctx); err != nil && !errors.Is(err, worker.ErrTerminated) {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < s.config.Consumers; i++ {
		queueConfig := s.config.Queue
		queueConfig.ConsumerName = fmt.Sprintf("%s-instance-%d", queueConfig.ConsumerName, i)

		q, err := queue.NewQueue(s.ctx, s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}
		if err := q.Consume(s.handleJob); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
		logger.Info("started consumer instance", "instance", i, "consumer", queueConfig.ConsumerName)
	}

	logger.Info("processor service started", "consumers", len(s.queues), "workers", s.config.PoolSize)
	return nil
}

func (s *ProcessorService) Stop() {
	logger.Info("shutting down processor service...")

	var wg sync.WaitGroup
	for i, q := range s.queues {
		wg.Add(1)
		go func(index int, q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping queue", "queue", index, "error", err)
			}
		}(i, q)
	}
	wg.Wait()

	s.cancel()
	s.worker.Exit()
	s.wg.Wait()

	snap := s.metrics.Snapshot()
	logger.Info("processor service stopped", "total_processed", snap.Processed, "total_failed", snap.Failed)
}

// handleJob is the queue handler. It blocks until a worker finishes the job.
func (s *ProcessorService) handleJob(ctx context.Context, job *queue.Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, s.config.ProcessingTimeout)
	defer cancel()

	req := &jobRequest{
		job:        job,
		resultChan: make(chan error, 1),
		ctx:        jobCtx,
	}

	if err := s.worker.Enqueue(jobCtx, req); err != nil {
		return fmt.Errorf("failed to hand job to worker pool: %w", err)
	}

	select {
	case err := <-req.resultChan:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process job: %w", jobCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, req *jobRequest) {
	select {
	case <-req.ctx.Done():
		logger.Warn("job context done before processing started", "worker", workerIndex, "job_id", req.job.JobID)
		return
	default:
	}

	// resultChan is buffered, the handler may already have given up
	req.resultChan <- s.process(req.ctx, req.job)
}

func (s *ProcessorService) process(ctx context.Context, job *queue.Job) error {
	p, ok := s.processors[job.Kind]
	if !ok {
		// dead-lettered so it can be replayed once a processor exists
		s.metrics.RecordFailure(job.Kind)
		prom.NotificationProcessed(string(job.Kind), "unknown", 0)
		return fmt.Errorf("%w: no processor for %s", queue.ErrUnprocessable, job.Kind)
	}

	var pc *ProcessingContext
	if s.idempotency != nil {
		var err error
		pc, err = s.idempotency.AcquireProcessingLock(ctx, job.JobID)
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			logger.Info("job already processed, skipping", "job_id", job.JobID, "job_key", job.Kind)
			s.metrics.RecordSkipped(job.Kind)
			return nil
		case err != nil:
			return err
		}
	}

	start := time.Now()
	err := p.Process(ctx, job)
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.RecordFailure(job.Kind)
		prom.NotificationProcessed(string(job.Kind), "failed", elapsed.Seconds())
		logger.Error("failed to process job", "job_id", job.JobID, "job_key", job.Kind, "attempt", job.Attempt, "error", err)
		if pc != nil {
			_ = s.idempotency.ReleaseLock(context.WithoutCancel(ctx), pc)
		}
		return err
	}

	s.metrics.RecordSuccess(job.Kind, elapsed)
	prom.NotificationProcessed(string(job.Kind), "ok", elapsed.Seconds())
	if pc != nil {
		if err := s.idempotency.MarkSuccess(context.WithoutCancel(ctx), pc); err != nil {
			logger.Warn("failed to mark job processed", "job_id", job.JobID, "error", err)
		}
	}
	return nil
}
