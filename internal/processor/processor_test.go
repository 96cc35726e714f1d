package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/queue"
	"github.com/nimasrn/courier-dispatch/pkg/redis"
	"github.com/nimasrn/courier-dispatch/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, mail model.Mail) error {
	return m.Called(ctx, mail).Error(0)
}

// recordingMailer fails its first n sends, n being failures.
type recordingMailer struct {
	mu       sync.Mutex
	failures int
	sent     []model.Mail
	calls    int
}

func (r *recordingMailer) Send(ctx context.Context, mail model.Mail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return errors.New("relay unavailable")
	}
	r.sent = append(r.sent, mail)
	return nil
}

func (r *recordingMailer) Sent() []model.Mail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Mail(nil), r.sent...)
}

func (r *recordingMailer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func jobFor(t *testing.T, payload model.NotifyDeliverymanPayload) *queue.Job {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "1-0", JobID: "job-1", Kind: model.JobNotifyDeliverymanMail, Payload: data, Attempt: 1}
}

func TestNotifyDeliverymanMailProcessor(t *testing.T) {
	mailer := new(MockMailer)
	mailer.On("Send", mock.Anything, mock.MatchedBy(func(m model.Mail) bool {
		return m.To == "Ana <ana@courier.test>" && m.Context["date"] == "dia 04 de março, às 10:00h"
	})).Return(nil).Once()

	p := NewNotifyDeliverymanMailProcessor(mailer, nil)
	assert.Equal(t, model.JobNotifyDeliverymanMail, p.GetType())
	require.NoError(t, p.Process(context.Background(), jobFor(t, samplePayload())))
	mailer.AssertExpectations(t)
}

func TestNotifyDeliverymanMailProcessor_Failures(t *testing.T) {
	mailer := new(MockMailer)
	mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("relay down"))
	p := NewNotifyDeliverymanMailProcessor(mailer, nil)

	assert.Error(t, p.Process(context.Background(), jobFor(t, samplePayload())))

	bad := &queue.Job{JobID: "job-2", Kind: model.JobNotifyDeliverymanMail, Payload: []byte("{")}
	assert.Error(t, p.Process(context.Background(), bad))
	mailer.AssertNumberOfCalls(t, "Send", 1)
}

func newTestService(t *testing.T, mailer Mailer, maxRetries int64) (*ProcessorService, *queue.Queue, redis.RedisAdapter) {
	_, adapter := helpers.SetupTestRedis(t)

	queueConfig := queue.QueueConfig{
		Name:          "test:notifications",
		ConsumerGroup: "workers",
		ConsumerName:  "worker",
		MaxRetries:    maxRetries,
		BaseBackoff:   5 * time.Millisecond,
		MaxBackoff:    20 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		BatchSize:     10,
	}

	producer, err := queue.NewQueue(context.Background(), adapter, queueConfig)
	require.NoError(t, err)

	svc := NewProcessorService(adapter, NewIdempotencyService(adapter, DefaultIdempotencyConfig()), ServiceConfig{
		Queue:             queueConfig,
		Consumers:         2,
		PoolSize:          4,
		ProcessingTimeout: time.Second,
	})
	svc.RegisterProcessor(NewNotifyDeliverymanMailProcessor(mailer, nil))
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)

	return svc, producer, adapter
}

func TestProcessorService_DeliversMail(t *testing.T) {
	mailer := &recordingMailer{}
	svc, producer, adapter := newTestService(t, mailer, 3)
	ctx := context.Background()

	_, err := producer.Enqueue(ctx, model.JobNotifyDeliverymanMail, samplePayload())
	require.NoError(t, err)

	helpers.AssertEventually(t, 3*time.Second, func() bool { return len(mailer.Sent()) == 1 }, "mail not sent")
	assert.Equal(t, "Bruno - Rua Augusta, 1500 - Sala 12", mailer.Sent()[0].Context["recipient"])

	helpers.AssertEventually(t, 2*time.Second, func() bool {
		n, err := adapter.XLen(ctx, producer.Name())
		return err == nil && n == 0
	}, "job not removed after success")

	snap := svc.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Processed)
	assert.Len(t, svc.Queues(), 2)
}

func TestProcessorService_RetriesThenDelivers(t *testing.T) {
	mailer := &recordingMailer{failures: 2}
	svc, producer, _ := newTestService(t, mailer, 3)

	_, err := producer.Enqueue(context.Background(), model.JobNotifyDeliverymanMail, samplePayload())
	require.NoError(t, err)

	helpers.AssertEventually(t, 3*time.Second, func() bool { return len(mailer.Sent()) == 1 }, "mail not sent after retries")
	assert.Equal(t, 3, mailer.Calls())

	snap := svc.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Failed)
}

func TestProcessorService_DeadLettersAfterMaxRetries(t *testing.T) {
	mailer := &recordingMailer{failures: 1000}
	_, producer, _ := newTestService(t, mailer, 2)
	ctx := context.Background()

	jobID, err := producer.Enqueue(ctx, model.JobNotifyDeliverymanMail, samplePayload())
	require.NoError(t, err)

	var dead []queue.DeadLetter
	helpers.AssertEventually(t, 3*time.Second, func() bool {
		dead, err = producer.DeadLetters(ctx, 10)
		return err == nil && len(dead) == 1
	}, "job not dead-lettered")

	assert.Equal(t, jobID, dead[0].JobID)
	assert.Equal(t, 3, mailer.Calls())
	assert.Empty(t, mailer.Sent())
}

func TestProcessorService_UnknownKindIsDeadLettered(t *testing.T) {
	mailer := &recordingMailer{}
	svc, producer, adapter := newTestService(t, mailer, 3)
	ctx := context.Background()

	jobID, err := producer.Enqueue(ctx, model.JobKind("Unknown"), map[string]string{})
	require.NoError(t, err)

	var dead []queue.DeadLetter
	helpers.AssertEventually(t, 2*time.Second, func() bool {
		dead, err = producer.DeadLetters(ctx, 10)
		return err == nil && len(dead) == 1
	}, "unknown job not dead-lettered")

	assert.Equal(t, jobID, dead[0].JobID)
	assert.Equal(t, int64(1), dead[0].Attempts)
	assert.Zero(t, mailer.Calls())

	n, err := adapter.XLen(ctx, producer.Name())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().Failed)
}

func TestProcessorService_SkipsProcessedJob(t *testing.T) {
	mailer := &recordingMailer{}
	svc, _, adapter := newTestService(t, mailer, 3)
	ctx := context.Background()

	job := jobFor(t, samplePayload())
	require.NoError(t, svc.process(ctx, job))
	require.NoError(t, svc.process(ctx, job))

	assert.Equal(t, 1, mailer.Calls())
	assert.Len(t, svc.Metrics().Snapshot().Kinds, 1)
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().Kinds[0].Skipped)

	exists, err := adapter.Exist(ctx, DefaultIdempotencyConfig().ProcessedKeyPrefix+job.JobID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
