package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrChannelRange is generated when a global channel index is outside
	// the configured geometry
	ErrChannelRange = errors.New("global channel index out of range")

	// ErrValueTearing is generated when a multi-channel write would run past
	// the end of the input buffer
	ErrValueTearing = errors.New("multi-channel write exceeds buffer")
)

// UnitState is the lock-protected update state of one DAC unit.
//
// The invariant enforced here, jointly by the mutex and the flags: at most
// one hardware operation is in flight per unit at any time.  seq only
// increases; a worker starts a new operation only when seq has moved past
// processed and nothing is in flight.
type UnitState struct {
	mu sync.Mutex

	// seq is atomic so dirty-marking never waits on the unit lock; all
	// other fields are guarded by mu
	seq atomic.Uint64

	processed    uint64
	claimed      uint64
	inProgress   bool
	asyncPending bool
	pendingSince time.Time
	retryAt      time.Time
	errorCount   uint64
	fallbacks    uint64
	lastDuration time.Duration

	scratch []uint16
}

// Store owns the shared channel buffers: the Input Buffer written by the
// producer under a global lock, and the Output Buffer committed to hardware
// by the unit workers under per-unit locks.  The split decouples producer
// cadence from hardware-write cadence.
//
// Buffers are sized once at construction and never reallocated.
type Store struct {
	counts  []int
	offsets []int
	total   int

	mu     sync.Mutex // global producer lock
	input  []uint16
	output []uint16
	dirty  []bool

	// onLockWait, when set, observes how long Dispatch waited for the
	// global lock; contention here is producer back-pressure
	onLockWait func(time.Duration)

	unit []UnitState
}

// NewStore builds the buffers for the given per-unit channel counts.
func NewStore(counts []int) *Store {
	s := &Store{counts: append([]int(nil), counts...)}
	s.offsets = make([]int, len(counts))
	for i, n := range counts {
		s.offsets[i] = s.total
		s.total += n
	}
	s.input = make([]uint16, s.total)
	s.output = make([]uint16, s.total)
	s.dirty = make([]bool, len(counts))
	s.unit = make([]UnitState, len(counts))
	for i := range s.unit {
		s.unit[i].scratch = make([]uint16, counts[i])
	}
	return s
}

// Units returns the unit count
func (s *Store) Units() int { return len(s.counts) }

// Channels returns the channel count of one unit
func (s *Store) Channels(unit int) int { return s.counts[unit] }

// TotalChannels returns the global channel count
func (s *Store) TotalChannels() int { return s.total }

// unitFor maps a global channel index to its owning unit
func (s *Store) unitFor(channel int) int {
	for i := len(s.offsets) - 1; i > 0; i-- {
		if channel >= s.offsets[i] {
			return i
		}
	}
	return 0
}

// SetChannel writes one logical value into the Input Buffer under the
// global producer lock.  This is the producer's sole entry point; the
// upstream protocol parser needs nothing else.
func (s *Store) SetChannel(channel int, value uint16) error {
	if channel < 0 || channel >= s.total {
		return ErrChannelRange
	}
	s.mu.Lock()
	s.input[channel] = value
	s.dirty[s.unitFor(channel)] = true
	s.mu.Unlock()
	return nil
}

// SetChannels writes consecutive logical values starting at channel under a
// single hold of the global lock, so a multi-channel message can never tear.
func (s *Store) SetChannels(channel int, values []uint16) error {
	if channel < 0 || channel >= s.total {
		return ErrChannelRange
	}
	if channel+len(values) > s.total {
		return ErrValueTearing
	}
	s.mu.Lock()
	copy(s.input[channel:], values)
	for c := channel; c < channel+len(values); c++ {
		s.dirty[s.unitFor(c)] = true
	}
	s.mu.Unlock()
	return nil
}

// Dispatch copies each dirty unit's slice from the Input to the Output
// Buffer and bumps that unit's sequence counter.  Lock acquisition is
// non-blocking: a unit whose lock is held is skipped this pass rather than
// waited on, so the dispatch loop never stalls on a busy unit.
func (s *Store) Dispatch() {
	start := time.Now()
	s.mu.Lock()
	if s.onLockWait != nil {
		s.onLockWait(time.Since(start))
	}
	defer s.mu.Unlock()
	for u := range s.counts {
		if !s.dirty[u] {
			continue
		}
		st := &s.unit[u]
		if !st.mu.TryLock() {
			continue // busy; retry next pass
		}
		off := s.offsets[u]
		copy(s.output[off:off+s.counts[u]], s.input[off:off+s.counts[u]])
		st.seq.Add(1)
		st.mu.Unlock()
		s.dirty[u] = false
	}
}

// MarkDirty bumps a unit's sequence counter without touching the buffers,
// forcing its worker to re-commit the current Output values.
func (s *Store) MarkDirty(unit int) {
	s.unit[unit].seq.Add(1)
}

// MarkAllDirty bumps every unit's sequence counter.  The watchdog calls
// this on its fixed interval, guaranteeing periodic hardware refresh
// independent of producer activity.
func (s *Store) MarkAllDirty() {
	for u := range s.unit {
		s.MarkDirty(u)
	}
}

// TryLock attempts the unit's lock without blocking
func (s *Store) TryLock(unit int) bool {
	return s.unit[unit].mu.TryLock()
}

// Unlock releases the unit's lock
func (s *Store) Unlock(unit int) {
	s.unit[unit].mu.Unlock()
}

// outputSlice returns the unit's Output-Buffer window.  Callers must hold
// the unit lock.
func (s *Store) outputSlice(unit int) []uint16 {
	off := s.offsets[unit]
	return s.output[off : off+s.counts[unit]]
}

// UnitStatus is a snapshot of one unit's update state for diagnostics and
// tests.
type UnitStatus struct {
	Seq          uint64        `json:"seq"`
	Processed    uint64        `json:"processed"`
	InProgress   bool          `json:"in_progress"`
	AsyncPending bool          `json:"async_pending"`
	Errors       uint64        `json:"errors"`
	Fallbacks    uint64        `json:"fallbacks"`
	LastDuration time.Duration `json:"last_duration_ns"`
}

// Status snapshots a unit's update state.
func (s *Store) Status(unit int) UnitStatus {
	st := &s.unit[unit]
	st.mu.Lock()
	defer st.mu.Unlock()
	return UnitStatus{
		Seq:          st.seq.Load(),
		Processed:    st.processed,
		InProgress:   st.inProgress,
		AsyncPending: st.asyncPending,
		Errors:       st.errorCount,
		Fallbacks:    st.fallbacks,
		LastDuration: st.lastDuration,
	}
}
