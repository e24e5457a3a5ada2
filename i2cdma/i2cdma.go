/*Package i2cdma provides a non-blocking bus-write engine.

A blocking I2C batch write costs tens of microseconds; at a few kilohertz of
updates across several chips that wait starves the cooperative scheduler.
The engine moves the wait off the caller's path: Start copies the frame,
returns immediately, and the transfer completes in the background the way a
DMA controller would.  Completion is observed by polling on later scheduler
passes, never by blocking.

State machine per engine, one outstanding transaction at most:

	Idle -> InFlight -> Complete(code) -> Idle

Start returns false when the engine is not Idle; the caller must treat that
as "did not start" and fall back to a synchronous write.  Rejected starts
are never queued.
*/
package i2cdma

import (
	"strings"
	"sync/atomic"
	"time"
)

// Code classifies the outcome of a completed transaction.
type Code int32

const (
	// Success is a clean completion
	Success Code = iota

	// Timeout means the transfer did not complete within the expected window
	Timeout

	// NAK means the device did not acknowledge a byte
	NAK

	// DMATransferError is a transfer-engine fault that is none of the others
	DMATransferError

	// ArbitrationLost means another master won the bus during the transfer
	ArbitrationLost
)

// String returns the name of the code
func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Timeout:
		return "TIMEOUT"
	case NAK:
		return "NAK"
	case DMATransferError:
		return "DMA_TRANSFER_ERROR"
	case ArbitrationLost:
		return "ARBITRATION_LOST"
	default:
		return "UNKNOWN"
	}
}

const (
	stateIdle int32 = iota
	stateInFlight
	stateComplete
)

// Txer issues one write frame on the bus.  i2c.Dev satisfies it.
type Txer interface {
	Tx(w, r []byte) error
}

// Engine is a single-slot non-blocking transfer engine bound to one device.
// It is safe for one initiator polled from the scheduler thread; the
// background transfer only touches the atomic fields.
type Engine struct {
	dev    Txer
	window time.Duration

	state atomic.Int32
	code  atomic.Int32

	// owned by the initiator while Idle, by the transfer while InFlight
	buf     []byte
	started time.Time
}

// New creates an engine for one device.  window is how long a transfer may
// take before it is classified as a timeout.
func New(dev Txer, window time.Duration) *Engine {
	return &Engine{dev: dev, window: window}
}

// Start begins a transfer of w and returns immediately.  The frame is copied
// so the caller may reuse w.  It returns false, without side effects, if a
// transaction is already outstanding or its result has not been collected.
func (e *Engine) Start(w []byte) bool {
	if !e.state.CompareAndSwap(stateIdle, stateInFlight) {
		return false
	}
	e.buf = append(e.buf[:0], w...)
	e.started = time.Now()
	go e.transfer()
	return true
}

func (e *Engine) transfer() {
	err := e.dev.Tx(e.buf, nil)
	elapsed := time.Since(e.started)
	code := Classify(err)
	if code == Success && e.window > 0 && elapsed > e.window {
		code = Timeout
	}
	e.code.Store(int32(code))
	e.state.Store(stateComplete)
}

// Completed reports, without blocking, whether the outstanding transaction
// has finished.  It is false while Idle.
func (e *Engine) Completed() bool {
	return e.state.Load() == stateComplete
}

// Busy reports whether a transaction is outstanding or awaiting collection
func (e *Engine) Busy() bool {
	return e.state.Load() != stateIdle
}

// Err returns the code of the finished transaction.  It is only meaningful
// after Completed reports true.
func (e *Engine) Err() Code {
	return Code(e.code.Load())
}

// Failed reports whether the finished transaction ended in error
func (e *Engine) Failed() bool {
	return e.Completed() && e.Err() != Success
}

// Reset collects a finished transaction, returning the engine to Idle.  It
// has no effect while a transfer is in flight.
func (e *Engine) Reset() {
	e.state.CompareAndSwap(stateComplete, stateIdle)
}

// StartedAt returns when the outstanding transaction was issued.  The zero
// time is returned while Idle.  The watchdog uses this to flag a transfer
// that never reports completion.
func (e *Engine) StartedAt() time.Time {
	if e.state.Load() == stateIdle {
		return time.Time{}
	}
	return e.started
}

// Classify maps a bus error to a transport code.  Driver stacks do not agree
// on error types, so this matches on the conventional substrings.
func Classify(err error) Code {
	if err == nil {
		return Success
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline"):
		return Timeout
	case strings.Contains(s, "nak") || strings.Contains(s, "nack") || strings.Contains(s, "not acknowledged") || strings.Contains(s, "no acknowledge"):
		return NAK
	case strings.Contains(s, "arbitration"):
		return ArbitrationLost
	default:
		return DMATransferError
	}
}
