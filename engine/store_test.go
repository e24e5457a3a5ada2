package engine

import (
	"errors"
	"testing"
)

func TestSetChannelRejectsOutOfRange(t *testing.T) {
	s := NewStore([]int{8, 8})
	if err := s.SetChannel(-1, 0); !errors.Is(err, ErrChannelRange) {
		t.Errorf("negative index: got %v, expected ErrChannelRange", err)
	}
	if err := s.SetChannel(16, 0); !errors.Is(err, ErrChannelRange) {
		t.Errorf("index past end: got %v, expected ErrChannelRange", err)
	}
	if err := s.SetChannel(15, 1); err != nil {
		t.Errorf("last valid index: got %v, expected nil", err)
	}
}

func TestSetChannelsRejectsOverrun(t *testing.T) {
	s := NewStore([]int{4, 4})
	if err := s.SetChannels(6, []uint16{1, 2, 3}); !errors.Is(err, ErrValueTearing) {
		t.Errorf("overrun: got %v, expected ErrValueTearing", err)
	}
	if err := s.SetChannels(6, []uint16{1, 2}); err != nil {
		t.Errorf("exact fit: got %v, expected nil", err)
	}
}

func TestSetChannelsSpansUnits(t *testing.T) {
	s := NewStore([]int{4, 4})
	if err := s.SetChannels(2, []uint16{10, 20, 30, 40}); err != nil {
		t.Fatal(err)
	}
	s.Dispatch()
	if got := s.Status(0).Seq; got != 1 {
		t.Errorf("unit 0 seq: got %d, expected 1", got)
	}
	if got := s.Status(1).Seq; got != 1 {
		t.Errorf("unit 1 seq: got %d, expected 1", got)
	}
	if got := s.outputSlice(1)[1]; got != 40 {
		t.Errorf("unit 1 channel 1: got %d, expected 40", got)
	}
}

// writes between dispatches coalesce into a single sequence bump per unit
func TestDispatchCoalesces(t *testing.T) {
	s := NewStore([]int{8})
	for i := 0; i < 5; i++ {
		if err := s.SetChannel(3, uint16(100+i)); err != nil {
			t.Fatal(err)
		}
	}
	s.Dispatch()
	if got := s.Status(0).Seq; got != 1 {
		t.Errorf("seq after coalesced writes: got %d, expected 1", got)
	}
	if got := s.outputSlice(0)[3]; got != 104 {
		t.Errorf("output value: got %d, expected 104 (latest write)", got)
	}
	// a clean dispatch pass with no new writes does nothing
	s.Dispatch()
	if got := s.Status(0).Seq; got != 1 {
		t.Errorf("seq after idle dispatch: got %d, expected 1", got)
	}
}

func TestDispatchSkipsBusyUnit(t *testing.T) {
	s := NewStore([]int{8, 8})
	if err := s.SetChannel(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetChannel(8, 2); err != nil {
		t.Fatal(err)
	}
	if !s.TryLock(0) {
		t.Fatal("could not take idle unit lock")
	}
	s.Dispatch()
	if got := s.Status(1).Seq; got != 1 {
		t.Errorf("unlocked unit seq: got %d, expected 1", got)
	}
	s.Unlock(0)
	if got := s.Status(0).Seq; got != 0 {
		t.Errorf("locked unit seq: got %d, expected 0 (skipped)", got)
	}
	// the unit stayed dirty; the next pass picks it up
	s.Dispatch()
	if got := s.Status(0).Seq; got != 1 {
		t.Errorf("unit seq after retry pass: got %d, expected 1", got)
	}
}

func TestMarkAllDirty(t *testing.T) {
	s := NewStore([]int{4, 8, 4})
	s.MarkAllDirty()
	for u := 0; u < s.Units(); u++ {
		if got := s.Status(u).Seq; got != 1 {
			t.Errorf("unit %d seq: got %d, expected 1", u, got)
		}
	}
}

func TestGeometry(t *testing.T) {
	s := NewStore([]int{4, 8})
	if got := s.TotalChannels(); got != 12 {
		t.Errorf("total channels: got %d, expected 12", got)
	}
	if got := s.Channels(1); got != 8 {
		t.Errorf("unit 1 channels: got %d, expected 8", got)
	}
	if got := s.unitFor(3); got != 0 {
		t.Errorf("channel 3 unit: got %d, expected 0", got)
	}
	if got := s.unitFor(4); got != 1 {
		t.Errorf("channel 4 unit: got %d, expected 1", got)
	}
}
