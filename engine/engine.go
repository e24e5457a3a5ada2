/*Package engine is the concurrent DAC update engine.

It owns one driver, one lock, one update state, and one worker task per DAC
unit.  The producer deposits logical values into the Input Buffer; the
dispatch task copies dirty slices to the Output Buffer and bumps sequence
counters; each unit's worker detects the bump, copies its slice into a
private scratch buffer, and issues either a blocking driver write or a
non-blocking DMA transaction.  The recovery manager and the performance
monitor observe every operation's outcome and timing.

All tasks run cooperatively on the sched round-robin loop; the only
blocking anywhere is a synchronous driver write, which is exactly the cost
the DMA path exists to avoid.
*/
package engine

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/y3i12/master-of-muppets-sub001/dac"
	"github.com/y3i12/master-of-muppets-sub001/i2cdma"
	"github.com/y3i12/master-of-muppets-sub001/perf"
	"github.com/y3i12/master-of-muppets-sub001/recovery"
	"github.com/y3i12/master-of-muppets-sub001/sched"
)

// Unit bundles one DAC chip's collaborators for Engine construction.  DMA
// may be nil to force the blocking path for that unit.
type Unit struct {
	Driver dac.Driver
	Desc   dac.Descriptor
	DMA    *i2cdma.Engine
}

// unitRT is the orchestrator-owned runtime of one unit.  Workers address
// it by index; nothing outside the engine holds a reference.
type unitRT struct {
	driver  dac.Driver
	desc    dac.Descriptor
	dma     *i2cdma.Engine
	batcher dac.Batcher
	frame   []byte

	// issueCost is the scheduler-thread time of the last async initiation,
	// written and read only by the unit's worker
	issueCost time.Duration
}

// Options are the engine tunables.
type Options struct {
	// RefreshInterval is the watchdog's forced-refresh period
	RefreshInterval time.Duration

	// StuckAfter is how long an async operation may stay pending before the
	// watchdog fails it
	StuckAfter time.Duration
}

// Engine is the concurrency orchestrator.
type Engine struct {
	store *Store
	units []unitRT
	rec   *recovery.Manager
	mon   *perf.Monitor
	log   *zap.Logger
	opts  Options
}

// New initializes the drivers from their descriptors and assembles the
// orchestrator.  One worker task per unit plus the dispatch and watchdog
// tasks are registered on sch.
func New(units []Unit, rec *recovery.Manager, mon *perf.Monitor, log *zap.Logger, opts Options, sch *sched.Scheduler) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	counts := make([]int, len(units))
	for i, u := range units {
		counts[i] = u.Driver.Channels()
	}
	e := &Engine{
		store: NewStore(counts),
		units: make([]unitRT, len(units)),
		rec:   rec,
		mon:   mon,
		log:   log,
		opts:  opts,
	}
	for i, u := range units {
		if err := u.Driver.Init(u.Desc); err != nil {
			return nil, fmt.Errorf("engine: unit %d init: %w", i, err)
		}
		rt := &e.units[i]
		rt.driver = u.Driver
		rt.desc = u.Desc
		rt.dma = u.DMA
		if b, ok := u.Driver.(dac.Batcher); ok && u.DMA != nil {
			rt.batcher = b
			rt.frame = make([]byte, b.BatchLen())
		}
	}
	if mon != nil {
		e.store.onLockWait = mon.ObserveLockWait
	}
	if sch != nil {
		sch.Add(sched.Func{TaskName: "dispatch", F: e.store.Dispatch})
		for i := range e.units {
			sch.Add(&worker{e: e, u: i})
		}
		sch.Add(&watchdog{e: e})
	}
	return e, nil
}

// Store exposes the shared buffer store: the producer entry points
// (SetChannel, SetChannels) and the dirty-marking operations.
func (e *Engine) Store() *Store { return e.store }

// RestartRequested surfaces the recovery manager's restart escalation; the
// outer application decides what to do with it.
func (e *Engine) RestartRequested() <-chan struct{} { return e.rec.RestartRequested() }

// Close disables every driver, releasing their framing lines.
func (e *Engine) Close() error {
	var firstErr error
	for i := range e.units {
		if err := e.units[i].driver.Disable(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine: unit %d disable: %w", i, err)
		}
	}
	return firstErr
}

// ErrUnitBusy is returned by Bench when the unit has an operation in flight.
var ErrUnitBusy = errors.New("engine: unit busy")

// Bench runs the controlled blocking-versus-async comparison against the
// unit's real hardware.  The unit lock is held for the whole run, so the
// worker skips the unit and the measurement sees no scheduler traffic; the
// current output values are rewritten n times per mode.
func (e *Engine) Bench(unit, n int) (perf.BenchResult, error) {
	rt := &e.units[unit]
	if rt.dma == nil || rt.batcher == nil {
		return perf.BenchResult{}, fmt.Errorf("engine: unit %d has no DMA engine", unit)
	}
	st := &e.store.unit[unit]
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inProgress || st.asyncPending {
		return perf.BenchResult{}, ErrUnitBusy
	}
	copy(st.scratch, e.store.outputSlice(unit))

	syncOp := func() error {
		if err := rt.driver.Enable(); err != nil {
			return err
		}
		err := rt.driver.SetValues(st.scratch)
		if derr := rt.driver.Disable(); err == nil {
			err = derr
		}
		return err
	}
	asyncOp := func() error {
		nb, err := rt.batcher.EncodeBatch(st.scratch, rt.frame)
		if err != nil {
			return err
		}
		// drain the single slot so back-to-back initiations succeed
		for !rt.dma.Start(rt.frame[:nb]) {
			if rt.dma.Completed() {
				rt.dma.Reset()
			}
		}
		return nil
	}
	res := perf.Benchmark(n, syncOp, asyncOp)
	// collect the tail transfer before releasing the unit
	for rt.dma.Busy() && !rt.dma.Completed() {
		time.Sleep(time.Millisecond)
	}
	rt.dma.Reset()
	return res, nil
}

// worker is the per-unit cooperative task.  One Step is one pass: poll
// async completion, else claim new work and issue, else yield.
type worker struct {
	e *Engine
	u int
}

// Name identifies the task
func (w *worker) Name() string { return fmt.Sprintf("dac-worker-%d", w.u) }

// Step runs one cooperative pass for the unit
func (w *worker) Step() {
	e := w.e
	rt := &e.units[w.u]
	st := &e.store.unit[w.u]

	// per-unit state is taken non-blocking; a contended lock means the
	// dispatcher or a benchmark owns the unit, so yield this pass
	if !st.mu.TryLock() {
		return
	}

	// an outstanding async transaction is polled before anything else
	if st.asyncPending {
		pendingSince := st.pendingSince
		claimed := st.claimed
		st.mu.Unlock()
		if !rt.dma.Completed() {
			return // still in flight; yield
		}
		code := rt.dma.Err()
		rt.dma.Reset()
		if err := rt.driver.Disable(); err != nil && code == i2cdma.Success {
			code = i2cdma.Classify(err)
		}
		w.finish(claimed, pendingSince, time.Since(pendingSince), rt.issueCost, perf.Async, code)
		return
	}

	// claim new work: sequence moved, nothing in flight, no backoff hold
	seq := st.seq.Load()
	if seq == st.processed || st.inProgress || time.Now().Before(st.retryAt) {
		st.mu.Unlock()
		return
	}
	claimed := seq
	copy(st.scratch, e.store.outputSlice(w.u))
	st.inProgress = true
	st.claimed = claimed
	st.mu.Unlock()

	if rt.dma != nil && rt.batcher != nil && !e.rec.ForcedSync(w.u) {
		if w.issueAsync(rt, st) {
			return
		}
		// engine rejected the start; not a hardware fault.  Resolve by
		// immediate synchronous fallback, never by queueing.
		st.mu.Lock()
		st.fallbacks++
		st.mu.Unlock()
		e.log.Debug("async start rejected, falling back to sync", zap.Int("unit", w.u))
	}
	w.writeSync(rt, st, claimed)
}

// issueAsync hands the scratch buffer to the DMA engine.  It returns false
// if the transaction did not start; the caller owns the fallback.
func (w *worker) issueAsync(rt *unitRT, st *UnitState) bool {
	// a completed transfer with nothing pending is one the watchdog
	// abandoned that finished late; collect it so the slot frees up
	if rt.dma.Completed() {
		rt.dma.Reset()
	}
	n, err := rt.batcher.EncodeBatch(st.scratch, rt.frame)
	if err != nil {
		return false
	}
	if err := rt.driver.Enable(); err != nil {
		return false
	}
	start := time.Now()
	if !rt.dma.Start(rt.frame[:n]) {
		rt.driver.Disable()
		return false
	}
	rt.issueCost = time.Since(start)
	st.mu.Lock()
	st.asyncPending = true
	st.pendingSince = start
	st.mu.Unlock()
	return true
}

// writeSync performs the blocking path: enable, batch write, disable, and
// immediate completion.
func (w *worker) writeSync(rt *unitRT, st *UnitState, claimed uint64) {
	start := time.Now()
	code := i2cdma.Success
	if err := rt.driver.Enable(); err != nil {
		code = i2cdma.Classify(err)
	} else {
		if err := rt.driver.SetValues(st.scratch); err != nil {
			code = i2cdma.Classify(err)
		}
		if err := rt.driver.Disable(); err != nil && code == i2cdma.Success {
			code = i2cdma.Classify(err)
		}
	}
	d := time.Since(start)
	w.finish(claimed, start, d, d, perf.Sync, code)
}

// finish records the outcome of one completed operation: state update,
// performance sample, and recovery bookkeeping.
func (w *worker) finish(claimed uint64, start time.Time, d, blocked time.Duration, mode perf.Mode, code i2cdma.Code) {
	e := w.e
	st := &e.store.unit[w.u]
	st.mu.Lock()
	st.processed = claimed
	st.asyncPending = false
	st.inProgress = false
	st.lastDuration = d
	if code != i2cdma.Success {
		st.errorCount++
	}
	st.mu.Unlock()

	if e.mon != nil {
		bytes := 2 * len(st.scratch)
		if rt := &e.units[w.u]; rt.batcher != nil {
			bytes = rt.batcher.BatchLen()
		}
		e.mon.Observe(perf.Sample{
			Start:    start,
			Duration: d,
			Blocked:  blocked,
			Unit:     w.u,
			Mode:     mode,
			Bytes:    bytes,
			OK:       code == i2cdma.Success,
		})
	}

	if code == i2cdma.Success {
		e.rec.Success(w.u)
		return
	}
	e.apply(w.u, e.rec.Handle(w.u, code), code)
}

// apply executes a recovery decision for a unit.
func (e *Engine) apply(unit int, d recovery.Decision, code i2cdma.Code) {
	st := &e.store.unit[unit]
	switch d.Strategy {
	case recovery.RetryImmediate:
		e.store.MarkDirty(unit)
	case recovery.RetryWithDelay:
		st.mu.Lock()
		st.retryAt = time.Now().Add(d.Delay)
		st.mu.Unlock()
		e.store.MarkDirty(unit)
	case recovery.FallbackToSync:
		// the manager flagged the unit; re-mark so the latest values land
		// through the blocking path
		e.store.MarkDirty(unit)
		e.log.Warn("unit degraded to synchronous writes",
			zap.Int("unit", unit), zap.String("code", code.String()))
	case recovery.ResetPeripheral:
		e.resetUnit(unit)
	case recovery.SystemRestart:
		e.log.Error("restart requested", zap.Int("unit", unit), zap.String("code", code.String()))
	}
}

// resetUnit reinitializes a unit's bus engine and driver in place.
func (e *Engine) resetUnit(unit int) {
	rt := &e.units[unit]
	if rt.dma != nil && rt.dma.Completed() {
		rt.dma.Reset()
	}
	if err := rt.driver.Init(rt.desc); err != nil {
		e.log.Error("peripheral reset failed", zap.Int("unit", unit), zap.Error(err))
		return
	}
	e.log.Warn("peripheral reset", zap.Int("unit", unit))
	e.store.MarkDirty(unit)
}

// watchdog forces a periodic refresh of every unit and fails operations
// stuck pending far longer than any plausible transfer.
type watchdog struct {
	e    *Engine
	last time.Time
}

// Name identifies the task
func (wd *watchdog) Name() string { return "watchdog" }

// Step runs one watchdog pass
func (wd *watchdog) Step() {
	e := wd.e
	now := time.Now()
	if now.Sub(wd.last) >= e.opts.RefreshInterval {
		wd.last = now
		e.store.MarkAllDirty()
	}
	if e.opts.StuckAfter <= 0 {
		return
	}
	for u := range e.units {
		st := &e.store.unit[u]
		if !st.mu.TryLock() {
			continue // scanned again next pass
		}
		stuck := st.asyncPending && now.Sub(st.pendingSince) > e.opts.StuckAfter
		if stuck {
			// fail the operation in place; the transfer goroutine, if it
			// ever returns, parks in the engine slot until collected
			st.processed = st.claimed
			st.asyncPending = false
			st.inProgress = false
			st.errorCount++
		}
		st.mu.Unlock()
		if !stuck {
			continue
		}
		rt := &e.units[u]
		if rt.dma.Completed() {
			rt.dma.Reset()
		}
		rt.driver.Disable()
		e.log.Warn("stuck async operation failed by watchdog", zap.Int("unit", u))
		e.apply(u, e.rec.Handle(u, i2cdma.Timeout), i2cdma.Timeout)
	}
}
