package mcp4728

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/y3i12/master-of-muppets-sub001/dac"
)

func newTestDev(t *testing.T) (*Dev, *i2ctest.Record, *gpiotest.Pin) {
	t.Helper()
	rec := &i2ctest.Record{}
	pin := &gpiotest.Pin{N: "LDAC"}
	d := New()
	if err := d.Init(dac.Descriptor{Bus: rec, Addr: 0x60, Pin: pin}); err != nil {
		t.Fatalf("Init err=%v", err)
	}
	return d, rec, pin
}

func TestSetValuesFastWriteFrame(t *testing.T) {
	d, rec, _ := newTestDev(t)
	if err := d.SetValues([]uint16{0, 32768, 65535, 0}); err != nil {
		t.Fatalf("SetValues err=%v", err)
	}
	if len(rec.Ops) != 1 {
		t.Fatalf("expected 1 bus transaction, got %d", len(rec.Ops))
	}
	// codes 0, 2047, 4095, 0 packed two bytes per channel
	expected := []byte{0x00, 0x00, 0x07, 0xff, 0x0f, 0xff, 0x00, 0x00}
	got := rec.Ops[0].W
	if len(got) != len(expected) {
		t.Fatalf("expected %d bytes on the wire, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("byte %d: expected %#02x got %#02x", i, expected[i], got[i])
		}
	}
}

func TestSetValuesWrongCount(t *testing.T) {
	d, _, _ := newTestDev(t)
	if err := d.SetValues([]uint16{1, 2, 3}); err != dac.ErrValueCount {
		t.Errorf("expected ErrValueCount, got %v", err)
	}
}

func TestSetChannelRange(t *testing.T) {
	d, _, _ := newTestDev(t)
	if err := d.SetChannel(4, 0); err != dac.ErrChannelRange {
		t.Errorf("expected ErrChannelRange, got %v", err)
	}
	if err := d.SetChannel(-1, 0); err != dac.ErrChannelRange {
		t.Errorf("expected ErrChannelRange, got %v", err)
	}
}

func TestDisableLatchPulse(t *testing.T) {
	d, _, pin := newTestDev(t)
	if err := d.Enable(); err != nil {
		t.Fatalf("Enable err=%v", err)
	}
	if pin.L != gpio.High {
		t.Errorf("expected LDAC high after Enable, got %v", pin.L)
	}
	if err := d.Disable(); err != nil {
		t.Fatalf("Disable err=%v", err)
	}
	// pin ends high; the low pulse latched the outputs
	if pin.L != gpio.High {
		t.Errorf("expected LDAC high after Disable pulse, got %v", pin.L)
	}
}

func TestSetVoltage(t *testing.T) {
	d, rec, _ := newTestDev(t)
	if err := d.SetVoltage(0, FullScale); err != nil {
		t.Fatalf("SetVoltage err=%v", err)
	}
	if len(rec.Ops) != 1 {
		t.Fatalf("expected 1 bus transaction, got %d", len(rec.Ops))
	}
	// full scale is the maximum code in a multi-write frame
	w := rec.Ops[0].W
	if w[0] != cmdMultiWrite || w[1] != 0x0f || w[2] != 0xff {
		t.Errorf("expected multi-write full scale, got % 02x", w)
	}
	if err := d.SetVoltage(0, FullScale+1); err != dac.ErrVoltageRange {
		t.Errorf("expected ErrVoltageRange, got %v", err)
	}
}

func TestUninitialized(t *testing.T) {
	d := New()
	if err := d.SetAll(0); err != dac.ErrNotInitialized {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}
