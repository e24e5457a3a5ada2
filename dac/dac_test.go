package dac_test

import (
	"errors"
	"fmt"
	"testing"

	"periph.io/x/conn/v3/physic"

	"github.com/y3i12/master-of-muppets-sub001/dac"
)

func ExampleRescale() {
	fmt.Println(dac.Rescale(32768, 4095, 65535))
	// Output: 2047
}

func TestRescaleBoundaries(t *testing.T) {
	cases := []struct {
		logical   uint16
		deviceMax uint16
		expected  uint16
	}{
		{0, 4095, 0},
		{32767, 4095, 2047}, // engine midpoint
		{65535, 4095, 4095},
		{0, 255, 0},
		{65535, 255, 255},
		{65535, 65535, 65535},
	}
	for _, tc := range cases {
		out := dac.Rescale(tc.logical, tc.deviceMax, 65535)
		if out != tc.expected {
			t.Errorf("Rescale(%d, %d) expected %d got %d", tc.logical, tc.deviceMax, tc.expected, out)
		}
	}
}

func TestPotentialToValue(t *testing.T) {
	full := 4096 * physic.MilliVolt
	cases := []struct {
		v        physic.ElectricPotential
		expected uint16
	}{
		{0, 0},
		{full, 65535},
		{full / 2, 32767},
	}
	for _, tc := range cases {
		out, err := dac.PotentialToValue(tc.v, full, 65535)
		if err != nil {
			t.Fatalf("PotentialToValue(%v) unexpected error %v", tc.v, err)
		}
		if out != tc.expected {
			t.Errorf("PotentialToValue(%v) expected %d got %d", tc.v, tc.expected, out)
		}
	}
	if _, err := dac.PotentialToValue(-physic.MilliVolt, full, 65535); !errors.Is(err, dac.ErrVoltageRange) {
		t.Errorf("negative potential: got %v, expected ErrVoltageRange", err)
	}
	if _, err := dac.PotentialToValue(full+physic.MilliVolt, full, 65535); !errors.Is(err, dac.ErrVoltageRange) {
		t.Errorf("over-range potential: got %v, expected ErrVoltageRange", err)
	}
}

func TestRescaleMonotonic(t *testing.T) {
	var prev uint16
	for v := 0; v <= 65535; v += 257 {
		out := dac.Rescale(uint16(v), 4095, 65535)
		if out < prev {
			t.Fatalf("Rescale not monotonic at %d: %d < %d", v, out, prev)
		}
		prev = out
	}
}
