// Package metrics tracks route latency and connection pool health in memory.
package metrics

import (
	"database/sql"
	"slices"
	"sync"
	"time"
)

const defaultWindow = 1000

// LatencyTracker keeps a sliding window of recent latencies.
type LatencyTracker struct {
	mu         sync.Mutex
	samples    []time.Duration
	maxSamples int
	total      int64
}

func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = defaultWindow
	}
	return &LatencyTracker{
		samples:    make([]time.Duration, 0, windowSize),
		maxSamples: windowSize,
	}
}

func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.maxSamples {
		// drop the oldest tenth at once
		drop := max(lt.maxSamples/10, 1)
		lt.samples = append(lt.samples[:0], lt.samples[drop:]...)
	}
	lt.samples = append(lt.samples, d)
	lt.total++
}

// LatencyStats summarizes the current window. Count is the lifetime total.
type LatencyStats struct {
	Count   int64   `json:"count"`
	Samples int     `json:"samples"`
	MinMS   float64 `json:"min_ms"`
	MaxMS   float64 `json:"max_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	sorted := slices.Clone(lt.samples)
	total := lt.total
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyStats{Count: total}
	}
	slices.Sort(sorted)

	var sum time.Duration
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	return LatencyStats{
		Count:   total,
		Samples: n,
		MinMS:   millis(sorted[0]),
		MaxMS:   millis(sorted[n-1]),
		AvgMS:   millis(sum / time.Duration(n)),
		P50MS:   millis(percentile(sorted, 0.50)),
		P95MS:   millis(percentile(sorted, 0.95)),
		P99MS:   millis(percentile(sorted, 0.99)),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// LatencyRegistry holds one tracker per route.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

func (r *LatencyRegistry) Record(route string, d time.Duration) {
	r.mu.RLock()
	tracker, ok := r.trackers[route]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if tracker, ok = r.trackers[route]; !ok {
			tracker = NewLatencyTracker(r.window)
			r.trackers[route] = tracker
		}
		r.mu.Unlock()
	}
	tracker.Record(d)
}

func (r *LatencyRegistry) AllStats() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]LatencyStats, len(r.trackers))
	for route, tracker := range r.trackers {
		result[route] = tracker.Stats()
	}
	return result
}

type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// PoolStats is a JSON view of sql.DBStats plus a health verdict.
type PoolStats struct {
	OpenConnections    int              `json:"open_connections"`
	InUse              int              `json:"in_use"`
	Idle               int              `json:"idle"`
	MaxOpenConnections int              `json:"max_open_connections"`
	WaitCount          int64            `json:"wait_count"`
	WaitDurationMS     int64            `json:"wait_duration_ms"`
	Status             PoolHealthStatus `json:"status"`
	Utilization        float64          `json:"utilization"`
}

func DBPoolStats(db *sql.DB) PoolStats {
	if db == nil {
		return PoolStats{Status: PoolHealthy}
	}
	return assessPool(db.Stats())
}

func assessPool(s sql.DBStats) PoolStats {
	out := PoolStats{
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		MaxOpenConnections: s.MaxOpenConnections,
		WaitCount:          s.WaitCount,
		WaitDurationMS:     s.WaitDuration.Milliseconds(),
		Status:             PoolHealthy,
	}
	if s.MaxOpenConnections == 0 {
		return out
	}

	out.Utilization = float64(s.InUse) / float64(s.MaxOpenConnections)
	switch {
	case out.Utilization >= 0.95:
		out.Status = PoolUnhealthy
	case out.Utilization >= 0.80:
		out.Status = PoolDegraded
	}
	if s.WaitCount > 0 && s.WaitDuration > 5*time.Second && out.Status == PoolHealthy {
		out.Status = PoolDegraded
	}
	return out
}
