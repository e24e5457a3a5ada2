/*Package config holds the engine configuration.

The engine runs from compiled-in defaults; a YAML file may overlay any field.
Loading follows the koanf two-provider pattern: defaults come from the structs
provider, the file provider wins where present.  A missing file is not an
error, so a bare binary runs with defaults.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// Engine-wide fixed constants.  These are part of the value contract between
// the producer and the drivers, not tunables.
const (
	// MaxValue is the maximum logical channel value.  Producers write values
	// in [0, MaxValue]; drivers rescale to their native resolution.
	MaxValue uint16 = 65535
)

// Unit describes one DAC chip: which bus it hangs off, its address on that
// bus, and the GPIO pin used for framing (LDAC strobe or address select,
// depending on the chip).
type Unit struct {
	// Driver selects the chip driver, one of "mcp4728" or "max5825"
	Driver string `koanf:"driver" yaml:"driver"`

	// Bus is the bus name as understood by periph's i2creg, e.g. "1" or
	// "/dev/i2c-1".  Empty selects the platform default bus.
	Bus string `koanf:"bus" yaml:"bus"`

	// Addr is the 7-bit I2C address of the chip
	Addr uint16 `koanf:"addr" yaml:"addr"`

	// Pin is the name of the GPIO pin wired to the chip's LDAC or
	// address-select input.  Empty means the pin is strapped in hardware.
	Pin string `koanf:"pin" yaml:"pin"`
}

// Config is the full set of engine tunables.
type Config struct {
	// Units lists the DAC chips to drive, in unit-index order
	Units []Unit `koanf:"units" yaml:"units"`

	// DMA enables the asynchronous transaction engine.  When false every
	// write takes the blocking path.
	DMA bool `koanf:"dma" yaml:"dma"`

	// TimeSlice is the cooperative scheduling budget for a single worker
	// step.  Steps longer than this count as budget violations.
	TimeSlice time.Duration `koanf:"timeslice" yaml:"timeslice"`

	// RefreshInterval is how often the watchdog forces a full refresh of
	// every unit regardless of producer activity
	RefreshInterval time.Duration `koanf:"refresh" yaml:"refresh"`

	// StuckAfter is how long an async operation may stay pending before the
	// watchdog treats it as failed even without a completion report
	StuckAfter time.Duration `koanf:"stuckafter" yaml:"stuckafter"`

	// FallbackAfter is the consecutive-error count on one unit that forces
	// it to synchronous writes
	FallbackAfter int `koanf:"fallbackafter" yaml:"fallbackafter"`

	// LiftAfter is the success streak that lifts a sync fallback
	LiftAfter int `koanf:"liftafter" yaml:"liftafter"`

	// MaxErrorRatePct is the overall error rate, in percent, above which the
	// system is considered unhealthy
	MaxErrorRatePct float64 `koanf:"maxerrorratepct" yaml:"maxerrorratepct"`

	// MaxLatency is the constraint on a single hardware operation
	MaxLatency time.Duration `koanf:"maxlatency" yaml:"maxlatency"`

	// MinThroughput is the constraint on operations per second
	MinThroughput float64 `koanf:"minthroughput" yaml:"minthroughput"`

	// MaxErrorPPM is the constraint on error rate in parts per million
	MaxErrorPPM float64 `koanf:"maxerrorppm" yaml:"maxerrorppm"`

	// MonitorInterval is how often the monitor task re-validates constraints
	MonitorInterval time.Duration `koanf:"monitorinterval" yaml:"monitorinterval"`

	// Addr is the listen address for the diagnostics HTTP server
	Addr string `koanf:"addr" yaml:"addr"`
}

// Default returns the compiled-in configuration: two 8-channel chips on the
// default bus, DMA on, thresholds sized for a 1kHz update cadence.
func Default() Config {
	return Config{
		Units: []Unit{
			{Driver: "max5825", Bus: "", Addr: 0x10, Pin: ""},
			{Driver: "max5825", Bus: "", Addr: 0x11, Pin: ""},
		},
		DMA:             true,
		TimeSlice:       10 * time.Microsecond,
		RefreshInterval: 100 * time.Millisecond,
		StuckAfter:      250 * time.Millisecond,
		FallbackAfter:   3,
		LiftAfter:       16,
		MaxErrorRatePct: 1,
		MaxLatency:      500 * time.Microsecond,
		MinThroughput:   100,
		MaxErrorPPM:     10000,
		MonitorInterval: time.Second,
		Addr:            ":8000",
	}
}

// Load overlays the YAML file at path onto the defaults.  A missing file is
// ignored; any other read or parse failure is an error.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return Config{}, fmt.Errorf("error loading config: %w", err)
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Validate checks field sanity, returning an error naming the first bad field.
func (c Config) Validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("config: at least one unit required")
	}
	for i, u := range c.Units {
		if u.Driver != "mcp4728" && u.Driver != "max5825" {
			return fmt.Errorf("config: unit %d: unknown driver %q", i, u.Driver)
		}
		if u.Addr == 0 || u.Addr > 0x7F {
			return fmt.Errorf("config: unit %d: addr %#x out of 7-bit range", i, u.Addr)
		}
	}
	if c.TimeSlice <= 0 {
		return fmt.Errorf("config: timeslice must be > 0")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("config: refresh must be > 0")
	}
	if c.StuckAfter <= 0 {
		return fmt.Errorf("config: stuckafter must be > 0")
	}
	if c.FallbackAfter < 1 {
		return fmt.Errorf("config: fallbackafter must be >= 1")
	}
	if c.LiftAfter < 1 {
		return fmt.Errorf("config: liftafter must be >= 1")
	}
	if c.MaxErrorRatePct < 0 || c.MaxErrorRatePct > 100 {
		return fmt.Errorf("config: maxerrorratepct must be in [0,100]")
	}
	return nil
}
