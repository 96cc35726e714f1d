package processor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
)

type kindCounters struct {
	processed  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	durationNs atomic.Int64
}

// ServiceMetrics keeps in-process counters per job kind for the periodic
// stats report. Prometheus carries the same numbers for scraping.
type ServiceMetrics struct {
	mu        sync.RWMutex
	kinds     map[model.JobKind]*kindCounters
	startedAt time.Time
}

type KindStats struct {
	Kind          model.JobKind
	Processed     int64
	Failed        int64
	Skipped       int64
	AvgDurationMs int64
}

type MetricsSnapshot struct {
	Kinds         []KindStats
	Processed     int64
	Failed        int64
	RatePerSecond float64
	Uptime        time.Duration
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{
		kinds:     make(map[model.JobKind]*kindCounters),
		startedAt: time.Now(),
	}
}

func (m *ServiceMetrics) counters(kind model.JobKind) *kindCounters {
	m.mu.RLock()
	c, ok := m.kinds[kind]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.kinds[kind]; !ok {
		c = &kindCounters{}
		m.kinds[kind] = c
	}
	return c
}

func (m *ServiceMetrics) RecordSuccess(kind model.JobKind, duration time.Duration) {
	c := m.counters(kind)
	c.processed.Add(1)
	c.durationNs.Add(int64(duration))
}

func (m *ServiceMetrics) RecordFailure(kind model.JobKind) {
	m.counters(kind).failed.Add(1)
}

// RecordSkipped counts redeliveries of jobs that had already completed.
func (m *ServiceMetrics) RecordSkipped(kind model.JobKind) {
	m.counters(kind).skipped.Add(1)
}

func (m *ServiceMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{Uptime: time.Since(m.startedAt)}
	for kind, c := range m.kinds {
		ks := KindStats{
			Kind:      kind,
			Processed: c.processed.Load(),
			Failed:    c.failed.Load(),
			Skipped:   c.skipped.Load(),
		}
		if ks.Processed > 0 {
			ks.AvgDurationMs = time.Duration(c.durationNs.Load() / ks.Processed).Milliseconds()
		}
		snap.Kinds = append(snap.Kinds, ks)
		snap.Processed += ks.Processed
		snap.Failed += ks.Failed
	}
	if secs := snap.Uptime.Seconds(); secs > 0 {
		snap.RatePerSecond = float64(snap.Processed) / secs
	}
	return snap
}
