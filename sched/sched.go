/*Package sched is a cooperative round-robin task scheduler.

The engine targets a single thread of execution: every task runs on one
goroutine, in registration order, one Step at a time.  A Step is the unit of
cooperation; returning from it is the yield.  There is no preemption, so a
Step that blocks for an unbounded hardware wait starves every other task;
that contract is what makes the non-blocking transaction engine necessary.

StepAll runs one full pass synchronously and exists so tests can drive the
schedule deterministically.
*/
package sched

import (
	"context"
	"time"
)

// Task is one cooperatively scheduled activity.  Step runs briefly and
// returns; it must never block on hardware.
type Task interface {
	// Name identifies the task in logs and step observations
	Name() string

	// Step runs one pass of the task
	Step()
}

// StepObserver receives the duration of every task step.  It is an optional
// instrumentation hook; the scheduler itself knows nothing about metrics.
type StepObserver func(task string, d time.Duration)

// Scheduler runs its tasks round-robin on a single goroutine.
type Scheduler struct {
	tasks   []Task
	observe StepObserver
}

// New creates an empty scheduler.  observe may be nil.
func New(observe StepObserver) *Scheduler {
	return &Scheduler{observe: observe}
}

// Add appends a task to the run queue.  Add is not safe to call once Run
// has started.
func (s *Scheduler) Add(t Task) {
	s.tasks = append(s.tasks, t)
}

// Len returns the number of registered tasks
func (s *Scheduler) Len() int { return len(s.tasks) }

// StepAll runs exactly one pass over every task, in order.
func (s *Scheduler) StepAll() {
	for _, t := range s.tasks {
		if s.observe != nil {
			start := time.Now()
			t.Step()
			s.observe(t.Name(), time.Since(start))
		} else {
			t.Step()
		}
	}
}

// Run loops StepAll until ctx is cancelled.  It owns the calling goroutine.
// When every task reports idle passes the loop still spins; tasks are
// expected to be cheap when there is nothing to do.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.StepAll()
	}
}

// Func adapts a bare function into a Task.
type Func struct {
	TaskName string
	F        func()
}

// Name returns the task name
func (f Func) Name() string { return f.TaskName }

// Step invokes the wrapped function
func (f Func) Step() { f.F() }
