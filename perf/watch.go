package perf

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Level grades an alert.
type Level int

const (
	// LevelInfo is informational
	LevelInfo Level = iota

	// LevelWarning is a degradation that does not yet violate constraints
	LevelWarning

	// LevelCritical is a constraint violation or loss of health
	LevelCritical
)

// String returns the name of the level
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert is one raised condition.
type Alert struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"-"`
	Name    string    `json:"level"`
	Message string    `json:"message"`
}

// Watch is the independent monitor task: every interval it re-validates the
// constraint set and the health predicate, raising alerts into a bounded
// ring.  Logging of repeated alerts is rate limited so a flapping unit
// cannot flood the log.  Watch satisfies sched.Task.
type Watch struct {
	monitor     *Monitor
	constraints Constraints
	healthy     func() bool
	interval    time.Duration
	log         *zap.Logger
	limit       *rate.Limiter

	mu     sync.Mutex
	last   time.Time
	alerts CircleAlert
}

// NewWatch creates the monitor task.  healthy may be nil; log may be nil
// for silent operation; capacity bounds the alert ring.
func NewWatch(m *Monitor, c Constraints, healthy func() bool, interval time.Duration, log *zap.Logger, capacity int) *Watch {
	if capacity <= 0 {
		capacity = 32
	}
	w := &Watch{
		monitor:     m,
		constraints: c,
		healthy:     healthy,
		interval:    interval,
		log:         log,
		limit:       rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
	w.alerts.Init(capacity)
	return w
}

// Name identifies the task
func (w *Watch) Name() string { return "perf-watch" }

// Step re-validates once per interval; off-interval passes return
// immediately so the task costs nothing between evaluations.
func (w *Watch) Step() {
	now := time.Now()
	w.mu.Lock()
	if now.Sub(w.last) < w.interval {
		w.mu.Unlock()
		return
	}
	w.last = now
	w.mu.Unlock()
	w.Evaluate(now)
}

// Evaluate runs one validation pass, raising alerts for each violated
// constraint and for loss of health.
func (w *Watch) Evaluate(now time.Time) {
	rep := w.monitor.Validate(w.constraints)
	for _, c := range rep.Constraints {
		if c.Pass {
			continue
		}
		w.raise(Alert{
			Time:    now,
			Level:   LevelCritical,
			Name:    LevelCritical.String(),
			Message: "constraint violated: " + c.Name,
		})
	}
	if w.healthy != nil && !w.healthy() {
		w.raise(Alert{
			Time:    now,
			Level:   LevelWarning,
			Name:    LevelWarning.String(),
			Message: "system unhealthy: unit errors or error rate over ceiling",
		})
	}
}

func (w *Watch) raise(a Alert) {
	w.mu.Lock()
	w.alerts.Append(a)
	w.mu.Unlock()
	if w.log == nil || !w.limit.Allow() {
		return
	}
	switch a.Level {
	case LevelCritical:
		w.log.Error(a.Message, zap.Time("at", a.Time))
	case LevelWarning:
		w.log.Warn(a.Message, zap.Time("at", a.Time))
	default:
		w.log.Info(a.Message, zap.Time("at", a.Time))
	}
}

// Alerts returns the retained alerts, least to most recent.
func (w *Watch) Alerts() []Alert {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alerts.Contiguous()
}
