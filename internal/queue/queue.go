package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/nimasrn/courier-dispatch/pkg/prom"
	"github.com/nimasrn/courier-dispatch/pkg/redis"
)

const (
	fieldJobID      = "job_id"
	fieldJobKey     = "job_key"
	fieldPayload    = "payload"
	fieldEnqueuedAt = "enqueued_at"
	fieldAttempts   = "attempts"
	fieldFailedAt   = "failed_at"
	fieldOriginalID = "original_id"

	dlqSuffix = ":dlq"
)

var ErrDeadLetterNotFound = errors.New("dead letter not found")

// ErrUnprocessable is returned by a handler for a job no retry can fix. The
// job goes to the dead-letter stream at once.
var ErrUnprocessable = errors.New("job cannot be processed")

// Job is one queued unit of work as seen by a consumer.
type Job struct {
	ID         string // stream entry id
	JobID      string
	Kind       model.JobKind
	Payload    []byte
	EnqueuedAt time.Time
	Attempt    int64
}

// Unmarshal decodes the payload frozen at enqueue time.
func (j *Job) Unmarshal(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// Handler processes a job. A nil return acknowledges and removes the job;
// an error leaves it pending for a later retry unless it wraps
// ErrUnprocessable.
type Handler func(ctx context.Context, job *Job) error

type DeadLetter struct {
	ID         string
	OriginalID string
	JobID      string
	Kind       model.JobKind
	Payload    []byte
	Attempts   int64
	FailedAt   time.Time
}

type QueueConfig struct {
	Name           string
	ConsumerGroup  string
	ConsumerName   string
	MaxRetries     int64
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration
	HandlerTimeout time.Duration
	BatchSize      int64
}

type QueueStats struct {
	Length      int64
	Pending     int64
	DeadLetters int64
}

type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue creates the consumer group when it does not exist yet.
func NewQueue(ctx context.Context, adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 2 * time.Second
	}
	if config.MaxBackoff < config.BaseBackoff {
		config.MaxBackoff = config.BaseBackoff
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 10 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}

	err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0")
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s: %w", config.ConsumerGroup, err)
	}

	qctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		adapter: adapter,
		config:  config,
		ctx:     qctx,
		cancel:  cancel,
	}, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

func (q *Queue) DeadLetterName() string {
	return q.config.Name + dlqSuffix
}

// Backoff is the idle time a job must reach after its attempt-th delivery
// before it is handed out again.
func Backoff(attempt int64, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return max
	}
	d := base << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Enqueue serializes payload and appends it to the stream. The stream is
// never trimmed: finished jobs are deleted on ack, so every entry left is
// still owed a delivery. The returned id
// is the job id carried through retries and dead-lettering.
func (q *Queue) Enqueue(ctx context.Context, kind model.JobKind, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	jobID := uuid.NewString()
	if _, err := q.publish(ctx, q.config.Name, jobID, kind, data); err != nil {
		return "", err
	}
	return jobID, nil
}

func (q *Queue) publish(ctx context.Context, stream, jobID string, kind model.JobKind, data []byte) (string, error) {
	id, err := q.adapter.XAdd(ctx, stream, map[string]interface{}{
		fieldJobID:      jobID,
		fieldJobKey:     string(kind),
		fieldPayload:    string(data),
		fieldEnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish job: %w", err)
	}
	return id, nil
}

// Consume starts the polling loop in the background. Stop ends it.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("job handler is required")
	}

	q.handler = handler
	q.wg.Add(1)
	go q.consumeLoop()

	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.poll(q.ctx)
		}
	}
}

// poll retries due jobs first, then reads new ones.
func (q *Queue) poll(ctx context.Context) {
	if err := q.reclaim(ctx); err != nil && ctx.Err() == nil {
		logger.Error("failed to reclaim pending jobs", "queue", q.config.Name, "error", err)
	}
	if err := q.readNew(ctx); err != nil && ctx.Err() == nil {
		logger.Error("failed to read jobs", "queue", q.config.Name, "error", err)
	}
}

func (q *Queue) readNew(ctx context.Context) error {
	messages, err := q.adapter.XReadGroup(ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", q.config.BatchSize, -1)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return nil
		}
		return err
	}

	for _, m := range messages {
		job := toJob(m)
		job.Attempt = 1
		q.handle(ctx, job)
	}
	return nil
}

// reclaim claims pending jobs whose backoff has elapsed. A job delivered
// more than MaxRetries+1 times is moved to the dead-letter stream instead.
func (q *Queue) reclaim(ctx context.Context) error {
	pending, err := q.adapter.XPendingExt(ctx, q.config.Name, q.config.ConsumerGroup, "-", "+", q.config.BatchSize*10)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return nil
		}
		return err
	}

	for _, p := range pending {
		wait := Backoff(p.RetryCount, q.config.BaseBackoff, q.config.MaxBackoff)
		if p.Idle < wait {
			continue
		}

		// the claim resets idle time, so only one consumer wins an entry
		claimed, err := q.adapter.XClaim(ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, wait, p.ID)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			// deleted from the stream while still pending, the payload is gone
			logger.Error("pending job lost from stream", "queue", q.config.Name, "entry_id", p.ID, "attempts", p.RetryCount)
			prom.NotificationLost()
			q.ack(ctx, p.ID)
			continue
		}

		for _, m := range claimed {
			job := toJob(m)
			job.Attempt = p.RetryCount + 1
			if job.Attempt > q.config.MaxRetries+1 {
				q.deadLetter(ctx, job, p.RetryCount)
				continue
			}
			logger.Info("retrying job", "queue", q.config.Name, "job_id", job.JobID, "job_key", job.Kind, "attempt", job.Attempt)
			q.handle(ctx, job)
		}
	}
	return nil
}

func (q *Queue) handle(ctx context.Context, job *Job) {
	hctx, cancel := context.WithTimeout(ctx, q.config.HandlerTimeout)
	defer cancel()

	if err := q.handler(hctx, job); err != nil {
		if errors.Is(err, ErrUnprocessable) {
			logger.Error("job is unprocessable", "queue", q.config.Name, "job_id", job.JobID, "job_key", job.Kind, "error", err)
			q.deadLetter(ctx, job, job.Attempt)
			return
		}
		logger.Warn("job failed", "queue", q.config.Name, "job_id", job.JobID, "job_key", job.Kind,
			"attempt", job.Attempt, "max_retries", q.config.MaxRetries, "error", err)
		return
	}
	q.ack(ctx, job.ID)
}

// ack acknowledges and removes the entry from the stream.
func (q *Queue) ack(ctx context.Context, id string) {
	if err := q.adapter.XAck(ctx, q.config.Name, q.config.ConsumerGroup, id); err != nil {
		logger.Error("failed to ack job", "queue", q.config.Name, "entry_id", id, "error", err)
		return
	}
	if err := q.adapter.XDel(ctx, q.config.Name, id); err != nil {
		logger.Warn("failed to delete acked job", "queue", q.config.Name, "entry_id", id, "error", err)
	}
}

func (q *Queue) deadLetter(ctx context.Context, job *Job, attempts int64) {
	_, err := q.adapter.XAdd(ctx, q.DeadLetterName(), map[string]interface{}{
		fieldJobID:      job.JobID,
		fieldJobKey:     string(job.Kind),
		fieldPayload:    string(job.Payload),
		fieldEnqueuedAt: job.EnqueuedAt.Format(time.RFC3339Nano),
		fieldOriginalID: job.ID,
		fieldAttempts:   attempts,
		fieldFailedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		// stays pending and is retried for dead-lettering on the next poll
		logger.Error("failed to dead-letter job", "queue", q.config.Name, "job_id", job.JobID, "error", err)
		return
	}

	prom.NotificationDeadLettered()
	logger.Error("job moved to dead-letter stream", "queue", q.config.Name, "job_id", job.JobID, "job_key", job.Kind, "attempts", attempts)
	q.ack(ctx, job.ID)
}

// DeadLetters returns up to n dead-lettered jobs, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, n int64) ([]DeadLetter, error) {
	messages, err := q.adapter.XRange(ctx, q.DeadLetterName(), "-", "+", n)
	if err != nil {
		return nil, err
	}

	letters := make([]DeadLetter, 0, len(messages))
	for _, m := range messages {
		letters = append(letters, toDeadLetter(m))
	}
	return letters, nil
}

// Replay puts a dead-lettered job back on the queue with its original job
// id and removes it from the dead-letter stream.
func (q *Queue) Replay(ctx context.Context, id string) (string, error) {
	messages, err := q.adapter.XRange(ctx, q.DeadLetterName(), id, id, 1)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}

	dl := toDeadLetter(messages[0])
	entryID, err := q.publish(ctx, q.config.Name, dl.JobID, dl.Kind, dl.Payload)
	if err != nil {
		return "", err
	}
	if err := q.adapter.XDel(ctx, q.DeadLetterName(), id); err != nil {
		return "", fmt.Errorf("failed to remove replayed dead letter: %w", err)
	}

	logger.Info("dead letter replayed", "queue", q.config.Name, "job_id", dl.JobID, "entry_id", entryID)
	return entryID, nil
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	length, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{Length: length}

	if pending, err := q.adapter.XPendingCount(ctx, q.config.Name, q.config.ConsumerGroup); err == nil {
		stats.Pending = pending
	}
	if dead, err := q.adapter.XLen(ctx, q.DeadLetterName()); err == nil {
		stats.DeadLetters = dead
	}

	prom.QueueLength(q.config.Name, stats.Length)
	prom.QueueLength(q.DeadLetterName(), stats.DeadLetters)
	return stats, nil
}

func toJob(m redis.StreamMessage) *Job {
	job := &Job{
		ID:         m.ID,
		JobID:      stringValue(m.Values, fieldJobID),
		Kind:       model.JobKind(stringValue(m.Values, fieldJobKey)),
		Payload:    []byte(stringValue(m.Values, fieldPayload)),
		EnqueuedAt: timeValue(m.Values, fieldEnqueuedAt),
	}
	if job.JobID == "" {
		job.JobID = m.ID
	}
	return job
}

func toDeadLetter(m redis.StreamMessage) DeadLetter {
	attempts, _ := strconv.ParseInt(stringValue(m.Values, fieldAttempts), 10, 64)
	return DeadLetter{
		ID:         m.ID,
		OriginalID: stringValue(m.Values, fieldOriginalID),
		JobID:      stringValue(m.Values, fieldJobID),
		Kind:       model.JobKind(stringValue(m.Values, fieldJobKey)),
		Payload:    []byte(stringValue(m.Values, fieldPayload)),
		Attempts:   attempts,
		FailedAt:   timeValue(m.Values, fieldFailedAt),
	}
}

func stringValue(values map[string]interface{}, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func timeValue(values map[string]interface{}, key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, stringValue(values, key))
	if err != nil {
		return time.Time{}
	}
	return t
}
