package perf

import (
	"testing"
	"time"
)

func sampleAt(t0 time.Time, offset, dur time.Duration, mode Mode, ok bool) Sample {
	blocked := dur
	if mode == Async {
		blocked = dur / 10
	}
	return Sample{
		Start:    t0.Add(offset),
		Duration: dur,
		Blocked:  blocked,
		Mode:     mode,
		Bytes:    16,
		OK:       ok,
	}
}

func TestMetricsAggregation(t *testing.T) {
	m := NewMonitor(time.Millisecond, 16)
	t0 := time.Now()
	m.Observe(sampleAt(t0, 0, 100*time.Microsecond, Sync, true))
	m.Observe(sampleAt(t0, time.Second, 300*time.Microsecond, Sync, true))
	m.Observe(sampleAt(t0, 2*time.Second, 200*time.Microsecond, Async, false))

	mt := m.Metrics()
	if mt.Operations != 3 || mt.SyncOps != 2 || mt.AsyncOps != 1 {
		t.Fatalf("op counts wrong: %+v", mt)
	}
	if mt.MinLatency != 100*time.Microsecond {
		t.Errorf("min latency: expected 100us got %v", mt.MinLatency)
	}
	if mt.MaxLatency != 300*time.Microsecond {
		t.Errorf("max latency: expected 300us got %v", mt.MaxLatency)
	}
	if mt.AvgLatency != 200*time.Microsecond {
		t.Errorf("avg latency: expected 200us got %v", mt.AvgLatency)
	}
	if mt.Errors != 1 {
		t.Errorf("expected 1 error, got %d", mt.Errors)
	}
	// 1 error in 3 ops
	if mt.ErrorPPM < 333000 || mt.ErrorPPM > 334000 {
		t.Errorf("error ppm: expected ~333333 got %.0f", mt.ErrorPPM)
	}
	// 2 intervals over 2 seconds
	if mt.OpsPerSec < 0.9 || mt.OpsPerSec > 1.1 {
		t.Errorf("ops/sec: expected ~1 got %.2f", mt.OpsPerSec)
	}
	// async saved duration - blocked = 180us
	if mt.TimeSaved != 180*time.Microsecond {
		t.Errorf("time saved: expected 180us got %v", mt.TimeSaved)
	}
}

// A coarse clock can time a fast operation at exactly zero; that is a real
// minimum, not an unset one.
func TestZeroDurationSampleIsMinimum(t *testing.T) {
	m := NewMonitor(time.Millisecond, 8)
	m.Observe(Sample{Start: time.Now(), Mode: Sync, OK: true})
	m.Observe(sampleAt(time.Now(), 0, 100*time.Microsecond, Sync, true))
	if mt := m.Metrics(); mt.MinLatency != 0 {
		t.Errorf("min latency: expected 0 got %v", mt.MinLatency)
	}
}

func TestSliceViolations(t *testing.T) {
	m := NewMonitor(time.Millisecond, 16)
	t0 := time.Now()
	m.Observe(sampleAt(t0, 0, 500*time.Microsecond, Sync, true))
	if m.Metrics().Violations != 0 {
		t.Error("violation counted for in-budget operation")
	}
	m.Observe(sampleAt(t0, 0, 2*time.Millisecond, Sync, true))
	if m.Metrics().Violations != 1 {
		t.Error("violation not counted for over-budget operation")
	}
	// async over-budget duration with small blocked time is not a violation
	m.Observe(sampleAt(t0, 0, 5*time.Millisecond, Async, true))
	if m.Metrics().Violations != 1 {
		t.Error("async transfer duration counted against the scheduler budget")
	}
}

func TestValidate(t *testing.T) {
	m := NewMonitor(time.Millisecond, 16)
	t0 := time.Now()
	for i := 0; i < 10; i++ {
		m.Observe(sampleAt(t0, time.Duration(i)*time.Millisecond, 100*time.Microsecond, Sync, true))
	}
	c := Constraints{
		MaxLatency:    time.Millisecond,
		MinThroughput: 100,
		MaxErrorPPM:   1000,
	}
	rep := m.Validate(c)
	if !rep.Pass {
		t.Fatalf("expected pass, got %+v", rep)
	}
	if len(rep.Constraints) != 4 {
		t.Fatalf("expected 4 constraints, got %d", len(rep.Constraints))
	}

	// trip the latency constraint
	m.Observe(sampleAt(t0, 20*time.Millisecond, 10*time.Millisecond, Sync, true))
	rep = m.Validate(c)
	if rep.Pass {
		t.Fatal("expected failure after over-limit latency")
	}
	var failed []string
	for _, cr := range rep.Constraints {
		if !cr.Pass {
			failed = append(failed, cr.Name)
		}
	}
	// the 10ms operation also blew the slice budget
	if len(failed) != 2 {
		t.Errorf("expected max_latency and zero_slice_violations to fail, got %v", failed)
	}
}

func TestWatchRaisesAlerts(t *testing.T) {
	m := NewMonitor(time.Millisecond, 16)
	t0 := time.Now()
	m.Observe(sampleAt(t0, 0, 10*time.Millisecond, Sync, true))
	w := NewWatch(m, Constraints{MaxLatency: time.Millisecond}, func() bool { return false }, time.Hour, nil, 8)
	w.Evaluate(time.Now())
	alerts := w.Alerts()
	if len(alerts) < 2 {
		t.Fatalf("expected constraint + health alerts, got %d", len(alerts))
	}
	var critical, warning bool
	for _, a := range alerts {
		if a.Level == LevelCritical {
			critical = true
		}
		if a.Level == LevelWarning {
			warning = true
		}
	}
	if !critical || !warning {
		t.Errorf("expected critical and warning alerts, got %+v", alerts)
	}
}

func TestWatchStepHonorsInterval(t *testing.T) {
	m := NewMonitor(time.Millisecond, 16)
	t0 := time.Now()
	m.Observe(sampleAt(t0, 0, 10*time.Millisecond, Sync, true))
	w := NewWatch(m, Constraints{MaxLatency: time.Millisecond}, nil, time.Hour, nil, 8)
	w.Step()
	n := len(w.Alerts())
	if n == 0 {
		t.Fatal("first Step did not evaluate")
	}
	w.Step()
	if len(w.Alerts()) != n {
		t.Error("second Step within interval re-evaluated")
	}
}

func TestBenchmark(t *testing.T) {
	syncDelay := 2 * time.Millisecond
	res := Benchmark(5,
		func() error { time.Sleep(syncDelay); return nil },
		func() error { return nil },
	)
	if res.N != 5 {
		t.Fatalf("expected N=5, got %d", res.N)
	}
	if res.SyncTotal < 5*syncDelay {
		t.Errorf("sync total %v implausibly small", res.SyncTotal)
	}
	if res.GainPct <= 50 {
		t.Errorf("expected large gain for free async op, got %.1f%%", res.GainPct)
	}
	if res.SyncErrs != 0 || res.AsyncErrs != 0 {
		t.Errorf("unexpected errors: %d sync, %d async", res.SyncErrs, res.AsyncErrs)
	}
}

func TestCircleSampleWraparound(t *testing.T) {
	var c CircleSample
	c.Init(4)
	for i := 0; i < 6; i++ {
		c.Append(Sample{Unit: i})
	}
	out := c.Contiguous()
	if len(out) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(out))
	}
	for i, s := range out {
		if s.Unit != i+2 {
			t.Errorf("position %d: expected unit %d got %d", i, i+2, s.Unit)
		}
	}
}
