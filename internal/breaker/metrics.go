package breaker

import (
	"sync/atomic"
	"time"
)

// Metrics are the breaker's internal counters. Latency keeps a running mean
// over all attempted calls (successes and failures alike).
type Metrics struct {
	Calls        atomic.Int64
	Failures     atomic.Int64
	Opens        atomic.Int64
	Closes       atomic.Int64
	FallbackUses atomic.Int64
	CacheHits    atomic.Int64

	latencyTotal atomic.Int64 // nanoseconds
	latencyCount atomic.Int64
}

func (m *Metrics) observeLatency(d time.Duration) {
	m.latencyTotal.Add(int64(d))
	m.latencyCount.Add(1)
}

// MetricsSnapshot is a consistent-enough copy for logging and admin output.
type MetricsSnapshot struct {
	Calls        int64         `json:"calls"`
	Failures     int64         `json:"failures"`
	Opens        int64         `json:"opens"`
	Closes       int64         `json:"closes"`
	FallbackUses int64         `json:"fallback_uses"`
	CacheHits    int64         `json:"cache_hits"`
	MeanLatency  time.Duration `json:"mean_latency_ns"`
}

func (m *Metrics) snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Calls:        m.Calls.Load(),
		Failures:     m.Failures.Load(),
		Opens:        m.Opens.Load(),
		Closes:       m.Closes.Load(),
		FallbackUses: m.FallbackUses.Load(),
		CacheHits:    m.CacheHits.Load(),
	}
	if n := m.latencyCount.Load(); n > 0 {
		snap.MeanLatency = time.Duration(m.latencyTotal.Load() / n)
	}
	return snap
}
