/*Package perf wraps hardware operations with timing and proves the engine
meets its real-time budget.

Every operation produces a Sample tagged sync or async.  Samples aggregate
into rolling metrics (latency extremes and averages, throughput, time saved
by the DMA path, budget violations, lock contention, error rate in ppm); a
fixed constraint set validates the metrics against configured thresholds; a
monitor task re-validates periodically and raises leveled alerts.

Raw numbers live in bounded ring buffers, so steady-state operation
allocates nothing per sample.
*/
package perf

import (
	"sync"
	"time"

	"github.com/brandondube/ringo"
)

// Mode tags a sample with the write path that produced it.
type Mode int

const (
	// Sync is a blocking driver write
	Sync Mode = iota

	// Async is a non-blocking transaction through the DMA engine
	Async
)

// String returns the name of the mode
func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

// Sample is one timed hardware operation.
//
// Duration is wall time from issue to completion.  Blocked is how long the
// scheduler thread was occupied; for a sync write the two are equal, for an
// async write Blocked covers only initiation and the completion poll.
type Sample struct {
	Start    time.Time
	Duration time.Duration
	Blocked  time.Duration
	Unit     int
	Mode     Mode
	Bytes    int
	OK       bool
}

// Monitor aggregates samples into rolling metrics.  All methods are safe
// for concurrent use.
type Monitor struct {
	mu sync.Mutex

	budget time.Duration

	samples CircleSample
	lat     ringo.CircleF64
	times   ringo.CircleTime

	ops        uint64
	errs       uint64
	bytes      uint64
	violations uint64

	syncOps  uint64
	asyncOps uint64
	latTotal time.Duration
	latMin   time.Duration
	latMax   time.Duration
	saved    time.Duration
	lockWait time.Duration
}

// NewMonitor creates a monitor.  budget is the cooperative time-slice limit
// a single operation must not exceed; capacity bounds the sample ring.
func NewMonitor(budget time.Duration, capacity int) *Monitor {
	if capacity <= 0 {
		capacity = 256
	}
	m := &Monitor{budget: budget}
	m.samples.Init(capacity)
	m.lat.Init(capacity)
	m.times.Init(capacity)
	return m
}

// Observe records one operation.
func (m *Monitor) Observe(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples.Append(s)
	m.lat.Append(s.Duration.Seconds())
	m.times.Append(s.Start)
	m.ops++
	m.bytes += uint64(s.Bytes)
	if !s.OK {
		m.errs++
	}
	if s.Mode == Async {
		m.asyncOps++
		m.saved += s.Duration - s.Blocked
	} else {
		m.syncOps++
	}
	if m.budget > 0 && s.Blocked > m.budget {
		m.violations++
	}
	m.latTotal += s.Duration
	// the first sample seeds the minimum; zero is a legitimate duration
	if m.ops == 1 || s.Duration < m.latMin {
		m.latMin = s.Duration
	}
	if s.Duration > m.latMax {
		m.latMax = s.Duration
	}
}

// ObserveLockWait accumulates time spent waiting on unit locks
func (m *Monitor) ObserveLockWait(d time.Duration) {
	m.mu.Lock()
	m.lockWait += d
	m.mu.Unlock()
}

// Metrics is a snapshot of the rolling aggregates.
type Metrics struct {
	Operations  uint64        `json:"operations"`
	SyncOps     uint64        `json:"sync_ops"`
	AsyncOps    uint64        `json:"async_ops"`
	Errors      uint64        `json:"errors"`
	ErrorPPM    float64       `json:"error_ppm"`
	MinLatency  time.Duration `json:"min_latency_ns"`
	MaxLatency  time.Duration `json:"max_latency_ns"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
	OpsPerSec   float64       `json:"ops_per_sec"`
	BytesPerSec float64       `json:"bytes_per_sec"`
	TimeSaved   time.Duration `json:"dma_time_saved_ns"`
	Violations  uint64        `json:"slice_violations"`
	LockWait    time.Duration `json:"lock_wait_ns"`
}

// Metrics returns the current aggregate snapshot.  Throughput is computed
// over the span of the sample ring, so it reflects recent activity rather
// than process lifetime.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Metrics{
		Operations: m.ops,
		SyncOps:    m.syncOps,
		AsyncOps:   m.asyncOps,
		Errors:     m.errs,
		MinLatency: m.latMin,
		MaxLatency: m.latMax,
		TimeSaved:  m.saved,
		Violations: m.violations,
		LockWait:   m.lockWait,
	}
	if m.ops > 0 {
		out.AvgLatency = m.latTotal / time.Duration(m.ops)
		out.ErrorPPM = float64(m.errs) / float64(m.ops) * 1e6
	}
	ss := m.samples.Contiguous()
	if len(ss) > 1 {
		span := ss[len(ss)-1].Start.Sub(ss[0].Start)
		if span > 0 {
			secs := span.Seconds()
			out.OpsPerSec = float64(len(ss)-1) / secs
			var ringBytes int
			for _, s := range ss {
				ringBytes += s.Bytes
			}
			out.BytesPerSec = float64(ringBytes) / secs
		}
	}
	return out
}

// Latencies returns the rolling latency series in seconds, least to most
// recent, for external plotting.
func (m *Monitor) Latencies() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lat.Contiguous()
}

// Samples returns the retained raw samples, least to most recent.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples.Contiguous()
}
