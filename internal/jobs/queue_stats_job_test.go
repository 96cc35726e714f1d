package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	gateway "github.com/nimasrn/courier-dispatch/internal/gateways"
	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/processor"
	"github.com/nimasrn/courier-dispatch/internal/queue"
	"github.com/nimasrn/courier-dispatch/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStatsSource struct {
	mock.Mock
}

func (m *MockStatsSource) Name() string {
	return "notifications"
}

func (m *MockStatsSource) GetStats(ctx context.Context) (*queue.QueueStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*queue.QueueStats)
	return stats, args.Error(1)
}

type relayStats []gateway.RelayStats

func (r relayStats) GetRelayStats() []gateway.RelayStats { return r }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestQueueStatsJob_Run(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	q, err := queue.NewQueue(context.Background(), adapter, queue.QueueConfig{Name: "notifications", ConsumerGroup: "workers"})
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), model.JobNotifyDeliverymanMail, map[string]string{})
	require.NoError(t, err)

	metrics := processor.NewServiceMetrics()
	metrics.RecordSuccess(model.JobNotifyDeliverymanMail, 20*time.Millisecond)

	job := NewQueueStatsJob("", adapter, metrics, q)
	assert.True(t, job.Run(context.Background()))
}

func TestQueueStatsJob_Unhealthy(t *testing.T) {
	lagging := new(MockStatsSource)
	lagging.On("GetStats", mock.Anything).Return(&queue.QueueStats{Length: 20000, Pending: 20000}, nil)
	assert.False(t, NewQueueStatsJob("", nil, nil, lagging).Run(context.Background()))

	broken := new(MockStatsSource)
	broken.On("GetStats", mock.Anything).Return(nil, errors.New("timeout"))
	assert.False(t, NewQueueStatsJob("", nil, nil, broken).Run(context.Background()))

	assert.False(t, NewQueueStatsJob("", failingPinger{}, nil).Run(context.Background()))
}

func TestQueueStatsJob_Relays(t *testing.T) {
	src := new(MockStatsSource)
	src.On("GetStats", mock.Anything).Return(&queue.QueueStats{}, nil)

	oneUp := relayStats{
		{Name: "primary", State: gateway.StateCircuitOpen.String(), TotalRequests: 9, FailedReqs: 9, ConsecutiveFails: 5},
		{Name: "secondary", State: gateway.StateHealthy.String(), TotalRequests: 4, SuccessRate: 1},
	}
	assert.True(t, NewQueueStatsJob("", nil, nil, src).WithRelays(oneUp).Run(context.Background()))

	allDown := relayStats{
		{Name: "primary", State: gateway.StateCircuitOpen.String()},
		{Name: "secondary", State: gateway.StateUnhealthy.String()},
	}
	assert.False(t, NewQueueStatsJob("", nil, nil, src).WithRelays(allDown).Run(context.Background()))
}

func TestQueueStatsJob_StartStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	src := new(MockStatsSource)
	src.On("GetStats", mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case ran <- struct{}{}:
			default:
			}
		}).
		Return(&queue.QueueStats{}, nil)

	job := NewQueueStatsJob("@every 1s", nil, nil, src)
	require.NoError(t, job.Start())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("stats job never ran")
	}
	job.Stop()

	assert.Error(t, NewQueueStatsJob("not a schedule", nil, nil).Start())
}
