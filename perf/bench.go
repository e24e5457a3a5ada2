package perf

import (
	"fmt"
	"strings"
	"time"
)

// BenchResult reports a controlled back-to-back comparison of the sync and
// async write paths.  It answers whether DMA mode is worth enabling on a
// given hardware configuration.
type BenchResult struct {
	N          int           `json:"n"`
	SyncTotal  time.Duration `json:"sync_total_ns"`
	AsyncTotal time.Duration `json:"async_total_ns"`
	SyncAvg    time.Duration `json:"sync_avg_ns"`
	AsyncAvg   time.Duration `json:"async_avg_ns"`
	Saved      time.Duration `json:"saved_ns"`
	GainPct    float64       `json:"gain_pct"`
	SyncErrs   int           `json:"sync_errors"`
	AsyncErrs  int           `json:"async_errors"`
}

// Benchmark times n back-to-back operations through each path.  syncOp is
// one blocking write; asyncOp is one async initiation and must return once
// the scheduler thread is free again (not once the transfer completes) —
// the difference between the two totals is exactly the time the DMA engine
// returns to the scheduler.
func Benchmark(n int, syncOp, asyncOp func() error) BenchResult {
	res := BenchResult{N: n}
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := syncOp(); err != nil {
			res.SyncErrs++
		}
	}
	res.SyncTotal = time.Since(start)

	start = time.Now()
	for i := 0; i < n; i++ {
		if err := asyncOp(); err != nil {
			res.AsyncErrs++
		}
	}
	res.AsyncTotal = time.Since(start)

	if n > 0 {
		res.SyncAvg = res.SyncTotal / time.Duration(n)
		res.AsyncAvg = res.AsyncTotal / time.Duration(n)
	}
	res.Saved = res.SyncTotal - res.AsyncTotal
	if res.SyncTotal > 0 {
		res.GainPct = float64(res.Saved) / float64(res.SyncTotal) * 100
	}
	return res
}

// Summary renders the benchmark result as text for the console.
func (r BenchResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "benchmark over %d operations per path\n", r.N)
	fmt.Fprintf(&b, "  sync:  total %v, avg %v, errors %d\n", r.SyncTotal, r.SyncAvg, r.SyncErrs)
	fmt.Fprintf(&b, "  async: total %v, avg %v, errors %d\n", r.AsyncTotal, r.AsyncAvg, r.AsyncErrs)
	fmt.Fprintf(&b, "  saved %v (%.1f%% gain)\n", r.Saved, r.GainPct)
	if r.GainPct > 0 {
		b.WriteString("async mode is worthwhile on this configuration\n")
	} else {
		b.WriteString("async mode shows no gain on this configuration\n")
	}
	return b.String()
}
