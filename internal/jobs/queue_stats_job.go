package jobs

import (
	"context"
	"time"

	gateway "github.com/nimasrn/courier-dispatch/internal/gateways"
	"github.com/nimasrn/courier-dispatch/internal/processor"
	"github.com/nimasrn/courier-dispatch/internal/queue"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "@every 30s"
	highLagPending  = 10000
)

type QueueStatsSource interface {
	Name() string
	GetStats(ctx context.Context) (*queue.QueueStats, error)
}

type MetricsSource interface {
	Snapshot() processor.MetricsSnapshot
}

type RelayStatsSource interface {
	GetRelayStats() []gateway.RelayStats
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatsJob periodically logs stream length, pending and dead-letter
// counts together with the worker's processing rates.
type QueueStatsJob struct {
	queues   []QueueStatsSource
	metrics  MetricsSource
	redis    Pinger
	relays   RelayStatsSource
	schedule string
	cron     *cron.Cron
	log      *logger.ZapLogger
}

func NewQueueStatsJob(schedule string, redis Pinger, metrics MetricsSource, queues ...QueueStatsSource) *QueueStatsJob {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &QueueStatsJob{
		queues:   queues,
		metrics:  metrics,
		redis:    redis,
		schedule: schedule,
		cron:     cron.New(cron.WithLogger(cron.PrintfLogger(logger.GetLogger()))),
		log:      logger.Named("queue_stats_job"),
	}
}

// WithRelays adds the mail relays to every report.
func (j *QueueStatsJob) WithRelays(relays RelayStatsSource) *QueueStatsJob {
	j.relays = relays
	return j
}

func (j *QueueStatsJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		j.Run(ctx)
	}); err != nil {
		return err
	}

	j.cron.Start()
	j.log.Info("queue stats job started", "schedule", j.schedule)
	return nil
}

func (j *QueueStatsJob) Stop() {
	<-j.cron.Stop().Done()
	j.log.Info("queue stats job stopped")
}

// Run performs one report. It reports whether every check passed.
func (j *QueueStatsJob) Run(ctx context.Context) bool {
	healthy := true

	if j.redis != nil {
		if err := j.redis.Ping(ctx); err != nil {
			j.log.Error("health check failed: redis unreachable", "error", err)
			return false
		}
	}

	for _, q := range j.queues {
		stats, err := q.GetStats(ctx)
		if err != nil {
			j.log.Warn("queue stats unavailable", "queue", q.Name(), "error", err)
			healthy = false
			continue
		}

		j.log.Info("queue stats", "queue", q.Name(), "length", stats.Length, "pending", stats.Pending, "dead_letters", stats.DeadLetters)
		if stats.Pending > highLagPending {
			j.log.Warn("queue has high lag", "queue", q.Name(), "pending", stats.Pending)
			healthy = false
		}
		if stats.DeadLetters > 0 {
			j.log.Warn("dead letters waiting for replay", "queue", q.Name(), "dead_letters", stats.DeadLetters)
		}
	}

	if j.relays != nil {
		stats := j.relays.GetRelayStats()
		available := 0
		for _, r := range stats {
			j.log.Info("relay stats", "relay", r.Name, "state", r.State, "requests", r.TotalRequests,
				"failed", r.FailedReqs, "success_rate", r.SuccessRate, "avg_latency_ms", r.AvgLatencyMs)
			if r.State == gateway.StateHealthy.String() {
				available++
			} else {
				j.log.Warn("relay not healthy", "relay", r.Name, "state", r.State, "consecutive_fails", r.ConsecutiveFails)
			}
		}
		if len(stats) > 0 && available == 0 {
			j.log.Error("no healthy mail relay")
			healthy = false
		}
	}

	if j.metrics != nil {
		snap := j.metrics.Snapshot()
		j.log.Info("processor stats", "total_processed", snap.Processed, "total_failed", snap.Failed,
			"rate_per_second", snap.RatePerSecond, "uptime_seconds", snap.Uptime.Seconds())
		for _, k := range snap.Kinds {
			j.log.Info("job kind stats", "job_key", k.Kind, "processed", k.Processed, "failed", k.Failed, "skipped", k.Skipped, "avg_duration_ms", k.AvgDurationMs)
		}
	}

	return healthy
}
