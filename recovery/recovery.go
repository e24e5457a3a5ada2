/*Package recovery classifies bus faults and drives per-unit recovery.

Every hardware operation ends in a status, never a propagated fault: the
manager turns a transport code plus the unit's recent history into a
severity and a recovery decision.  A flaky unit degrades to synchronous
writes; a dead unit stops updating; neither ever halts the other units or
the producer path.  The only externally visible escalation is a restart
request, surfaced on a channel and never executed here.

Severity escalates with consecutive occurrences on the same unit, so an
isolated NAK is a warning while the fifth in a row is critical.
*/
package recovery

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/y3i12/master-of-muppets-sub001/i2cdma"
)

// Severity grades an error event.
type Severity int

const (
	// Info is a benign event recorded for diagnostics only
	Info Severity = iota

	// Warning is a recoverable fault with no service impact yet
	Warning

	// Error is a fault that cost at least one hardware update
	Error

	// Critical means a unit has degraded service (sync fallback, reset)
	Critical

	// Fatal means recovery inside the engine is no longer plausible
	Fatal
)

// String returns the name of the severity
func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Strategy is the chosen recovery action.
type Strategy int

const (
	// None takes no action
	None Strategy = iota

	// RetryImmediate retries on the next scheduler pass
	RetryImmediate

	// RetryWithDelay retries after a bounded backoff delay
	RetryWithDelay

	// FallbackToSync forces the unit to blocking writes until healthy
	FallbackToSync

	// ResetPeripheral reinitializes the unit's bus engine
	ResetPeripheral

	// SystemRestart is signaled upward, never executed here
	SystemRestart
)

// String returns the name of the strategy
func (s Strategy) String() string {
	switch s {
	case None:
		return "NONE"
	case RetryImmediate:
		return "RETRY_IMMEDIATE"
	case RetryWithDelay:
		return "RETRY_WITH_DELAY"
	case FallbackToSync:
		return "FALLBACK_TO_SYNC"
	case ResetPeripheral:
		return "RESET_PERIPHERAL"
	case SystemRestart:
		return "SYSTEM_RESTART"
	default:
		return "UNKNOWN"
	}
}

// Event is one recorded error occurrence.
type Event struct {
	Time      time.Time   `json:"time"`
	Code      i2cdma.Code `json:"-"`
	CodeName  string      `json:"code"`
	Severity  Severity    `json:"-"`
	SevName   string      `json:"severity"`
	Strategy  Strategy    `json:"-"`
	StratName string      `json:"strategy"`
	Unit      int         `json:"unit"`
	Retry     int         `json:"retry"`
}

// Decision is the manager's answer to one fault.
type Decision struct {
	Strategy Strategy

	// Delay applies when Strategy is RetryWithDelay
	Delay time.Duration
}

// Config holds the recovery thresholds.
type Config struct {
	// FallbackAfter is the consecutive-error count that forces sync fallback
	FallbackAfter int

	// LiftAfter is the success streak that lifts a fallback
	LiftAfter int

	// MaxErrorRatePct is the overall error rate ceiling for Healthy
	MaxErrorRatePct float64

	// Events is the capacity of the event ring
	Events int
}

type unitState struct {
	consecutive int
	streak      int
	lastError   time.Time
	fallback    bool
	bo          backoff.ExponentialBackOff
}

// Manager classifies faults, selects recovery, and tracks per-unit health.
// All methods are safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	cfg   Config
	units []unitState

	events      CircleEvent
	byCode      [5]uint64
	byStrategy  [6]uint64
	ops         uint64
	errs        uint64
	recovered   uint64
	unrecovered uint64

	restart chan struct{}
}

// New creates a manager for the given unit count.
func New(cfg Config, units int) *Manager {
	if cfg.Events <= 0 {
		cfg.Events = 64
	}
	m := &Manager{
		cfg:     cfg,
		units:   make([]unitState, units),
		restart: make(chan struct{}, 1),
	}
	m.events.Init(cfg.Events)
	for i := range m.units {
		m.units[i].bo = newBackOff()
	}
	return m
}

// newBackOff returns the delay policy for RetryWithDelay.  Bounded: delays
// start at 1ms and cap at 50ms so a retried unit still refreshes within a
// forced-refresh period.
func newBackOff() backoff.ExponentialBackOff {
	return backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         50 * time.Millisecond,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
}

// Classify grades a transport code given the unit's consecutive-error count
// (including this occurrence).
func (m *Manager) Classify(code i2cdma.Code, consecutive int) Severity {
	if code == i2cdma.Success {
		return Info
	}
	var sev Severity
	switch code {
	case i2cdma.NAK, i2cdma.ArbitrationLost:
		sev = Warning
	default:
		sev = Error
	}
	if m.cfg.FallbackAfter > 0 {
		if consecutive >= 3*m.cfg.FallbackAfter {
			return Fatal
		}
		if consecutive >= m.cfg.FallbackAfter {
			if sev < Critical {
				sev = Critical
			}
		}
	}
	return sev
}

// Success records a clean operation for the unit, advancing its streak and
// lifting a sync fallback once the streak reaches the configured length.
func (m *Manager) Success(unit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	u := &m.units[unit]
	if u.consecutive > 0 {
		m.recovered++
	}
	u.consecutive = 0
	u.bo.Reset()
	if u.fallback {
		u.streak++
		if u.streak >= m.cfg.LiftAfter {
			u.fallback = false
			u.streak = 0
		}
	}
}

// Handle records one fault on a unit and returns the recovery decision.
func (m *Manager) Handle(unit int, code i2cdma.Code) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	m.errs++
	u := &m.units[unit]
	u.consecutive++
	u.streak = 0
	u.lastError = time.Now()
	if int(code) >= 0 && int(code) < len(m.byCode) {
		m.byCode[code]++
	}

	sev := m.Classify(code, u.consecutive)
	d := m.decide(u, code, sev)
	if u.consecutive > 1 {
		m.unrecovered++
	}

	m.byStrategy[d.Strategy]++
	m.events.Append(Event{
		Time:      u.lastError,
		Code:      code,
		CodeName:  code.String(),
		Severity:  sev,
		SevName:   sev.String(),
		Strategy:  d.Strategy,
		StratName: d.Strategy.String(),
		Unit:      unit,
		Retry:     u.consecutive - 1,
	})
	return d
}

func (m *Manager) decide(u *unitState, code i2cdma.Code, sev Severity) Decision {
	switch {
	case sev == Fatal:
		select {
		case m.restart <- struct{}{}:
		default:
		}
		return Decision{Strategy: SystemRestart}
	case code == i2cdma.DMATransferError && u.consecutive >= 2*m.cfg.FallbackAfter:
		return Decision{Strategy: ResetPeripheral}
	case u.consecutive >= m.cfg.FallbackAfter:
		u.fallback = true
		u.streak = 0
		return Decision{Strategy: FallbackToSync}
	case u.consecutive == 1 && sev <= Warning:
		return Decision{Strategy: RetryImmediate}
	default:
		return Decision{Strategy: RetryWithDelay, Delay: u.bo.NextBackOff()}
	}
}

// ForcedSync reports whether the unit is currently forced to blocking writes
func (m *Manager) ForcedSync(unit int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.units[unit].fallback
}

// Reset clears a unit's recovery state, lifting any fallback immediately.
func (m *Manager) Reset(unit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &m.units[unit]
	u.consecutive = 0
	u.streak = 0
	u.fallback = false
	u.bo.Reset()
}

// RestartRequested yields when a Fatal classification asks the outer
// application to restart.  The channel never yields twice for one request.
func (m *Manager) RestartRequested() <-chan struct{} {
	return m.restart
}

// ErrorRate returns the overall error rate in percent
func (m *Manager) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorRateLocked()
}

func (m *Manager) errorRateLocked() float64 {
	if m.ops == 0 {
		return 0
	}
	return float64(m.errs) / float64(m.ops) * 100
}

// Healthy reports whether no unit exceeds its consecutive-error threshold
// and the overall error rate is below the configured ceiling
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.units {
		if m.units[i].consecutive >= m.cfg.FallbackAfter {
			return false
		}
	}
	return m.errorRateLocked() < m.cfg.MaxErrorRatePct
}

// UnitStatus is the externally visible recovery state of one unit.
type UnitStatus struct {
	Unit        int       `json:"unit"`
	Consecutive int       `json:"consecutive_errors"`
	LastError   time.Time `json:"last_error"`
	ForcedSync  bool      `json:"forced_sync"`
}

// Stats is a snapshot of the manager's aggregate counters.
type Stats struct {
	Operations  uint64            `json:"operations"`
	Errors      uint64            `json:"errors"`
	ErrorRate   float64           `json:"error_rate_pct"`
	Recovered   uint64            `json:"recovered"`
	Unrecovered uint64            `json:"unrecovered"`
	ByCode      map[string]uint64 `json:"by_code"`
	ByStrategy  map[string]uint64 `json:"by_strategy"`
	Units       []UnitStatus      `json:"units"`
	Healthy     bool              `json:"healthy"`
	Events      []Event           `json:"events"`
}

// Stats returns a snapshot of counters, per-unit state, and recent events.
func (m *Manager) Stats() Stats {
	healthy := m.Healthy()
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Operations:  m.ops,
		Errors:      m.errs,
		ErrorRate:   m.errorRateLocked(),
		Recovered:   m.recovered,
		Unrecovered: m.unrecovered,
		ByCode:      make(map[string]uint64),
		ByStrategy:  make(map[string]uint64),
		Healthy:     healthy,
		Events:      m.events.Contiguous(),
	}
	for c, n := range m.byCode {
		if n > 0 {
			s.ByCode[i2cdma.Code(c).String()] = n
		}
	}
	for st, n := range m.byStrategy {
		if n > 0 {
			s.ByStrategy[Strategy(st).String()] = n
		}
	}
	for i := range m.units {
		s.Units = append(s.Units, UnitStatus{
			Unit:        i,
			Consecutive: m.units[i].consecutive,
			LastError:   m.units[i].lastError,
			ForcedSync:  m.units[i].fallback,
		})
	}
	return s
}

// Summary renders the statistics as text for the console.
func (m *Manager) Summary() string {
	s := m.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "operations %d, errors %d (%.3f%%), recovered %d, unrecovered %d\n",
		s.Operations, s.Errors, s.ErrorRate, s.Recovered, s.Unrecovered)
	for name, n := range s.ByCode {
		fmt.Fprintf(&b, "  %s: %d\n", name, n)
	}
	for _, u := range s.Units {
		state := "ok"
		if u.ForcedSync {
			state = "sync fallback"
		}
		fmt.Fprintf(&b, "  unit %d: %d consecutive errors, %s\n", u.Unit, u.Consecutive, state)
	}
	if s.Healthy {
		b.WriteString("healthy\n")
	} else {
		b.WriteString("NOT healthy\n")
	}
	return b.String()
}
