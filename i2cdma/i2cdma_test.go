package i2cdma

import (
	"errors"
	"testing"
	"time"
)

// gateTxer blocks each Tx until released, modeling a slow bus.
type gateTxer struct {
	release chan struct{}
	err     error
	frames  [][]byte
}

func (g *gateTxer) Tx(w, r []byte) error {
	<-g.release
	cp := make([]byte, len(w))
	copy(cp, w)
	g.frames = append(g.frames, cp)
	return g.err
}

func waitComplete(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !e.Completed() {
		if time.Now().After(deadline) {
			t.Fatal("transaction never completed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartDoesNotBlock(t *testing.T) {
	g := &gateTxer{release: make(chan struct{})}
	e := New(g, 0)
	done := make(chan bool, 1)
	go func() { done <- e.Start([]byte{1, 2, 3}) }()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Start returned false on idle engine")
		}
	case <-time.After(time.Second):
		t.Fatal("Start blocked on a busy bus")
	}
	if e.Completed() {
		t.Error("Completed true while transfer in flight")
	}
	if !e.Busy() {
		t.Error("Busy false while transfer in flight")
	}
	close(g.release)
	waitComplete(t, e)
	if e.Err() != Success {
		t.Errorf("expected SUCCESS, got %v", e.Err())
	}
	e.Reset()
	if e.Busy() {
		t.Error("Busy true after Reset")
	}
}

func TestStartRejectsWhileBusy(t *testing.T) {
	g := &gateTxer{release: make(chan struct{})}
	e := New(g, 0)
	if !e.Start([]byte{1}) {
		t.Fatal("first Start rejected")
	}
	if e.Start([]byte{2}) {
		t.Error("second Start accepted while in flight")
	}
	close(g.release)
	waitComplete(t, e)
	// still rejected until the result is collected
	if e.Start([]byte{3}) {
		t.Error("Start accepted before Reset collected the result")
	}
	e.Reset()
	if !e.Start([]byte{4}) {
		t.Error("Start rejected on idle engine")
	}
	waitComplete(t, e)
}

func TestFrameCopied(t *testing.T) {
	g := &gateTxer{release: make(chan struct{})}
	e := New(g, 0)
	w := []byte{0xAA, 0xBB}
	if !e.Start(w) {
		t.Fatal("Start rejected")
	}
	w[0] = 0 // caller reuses its buffer
	close(g.release)
	waitComplete(t, e)
	if g.frames[0][0] != 0xAA {
		t.Errorf("engine transmitted caller-mutated frame: %#02x", g.frames[0][0])
	}
}

func TestErrorClassified(t *testing.T) {
	g := &gateTxer{release: make(chan struct{}), err: errors.New("i2c: device not acknowledged")}
	close(g.release)
	e := New(g, 0)
	if !e.Start([]byte{1}) {
		t.Fatal("Start rejected")
	}
	waitComplete(t, e)
	if !e.Failed() {
		t.Fatal("Failed false on NAK")
	}
	if e.Err() != NAK {
		t.Errorf("expected NAK, got %v", e.Err())
	}
}

func TestSlowTransferIsTimeout(t *testing.T) {
	g := &gateTxer{release: make(chan struct{})}
	e := New(g, time.Millisecond)
	if !e.Start([]byte{1}) {
		t.Fatal("Start rejected")
	}
	time.Sleep(5 * time.Millisecond)
	close(g.release)
	waitComplete(t, e)
	if e.Err() != Timeout {
		t.Errorf("expected TIMEOUT for transfer past window, got %v", e.Err())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err      error
		expected Code
	}{
		{nil, Success},
		{errors.New("i2c: timeout waiting for transfer"), Timeout},
		{errors.New("write deadline exceeded"), Timeout},
		{errors.New("NACK received"), NAK},
		{errors.New("arbitration lost on bus 1"), ArbitrationLost},
		{errors.New("something else entirely"), DMATransferError},
	}
	for _, tc := range cases {
		if out := Classify(tc.err); out != tc.expected {
			t.Errorf("Classify(%v): expected %v got %v", tc.err, tc.expected, out)
		}
	}
}

func TestCodeString(t *testing.T) {
	if Timeout.String() != "TIMEOUT" || Success.String() != "SUCCESS" {
		t.Error("Code.String mismatch")
	}
}
