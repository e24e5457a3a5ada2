/*Package dac defines the capability contract every DAC chip driver satisfies.

The engine works in a driver-independent logical range, [0, config.MaxValue].
A driver owns the mapping from that range to the native resolution of its
chip, as well as the bus framing (Enable/Disable) around a batch write.

A conforming driver is used like:
	d := mcp4728.New()
	err := d.Init(dac.Descriptor{Bus: bus, Addr: 0x60, Pin: ldac})
	if err != nil {
		log.Fatal(err)
	}
	err = d.Enable()
	err = d.SetValues(values) // one logical value per channel
	err = d.Disable()

Enable and Disable bracket every batch so a driver may hold its strobe or
select pin for exactly the duration of the transfer.
*/
package dac

import (
	"errors"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var (
	// ErrChannelRange is generated when a channel index is outside the
	// driver's channel count
	ErrChannelRange = errors.New("channel index out of range")

	// ErrVoltageRange is generated when a requested output potential is
	// negative or beyond the chip's full-scale output
	ErrVoltageRange = errors.New("voltage outside output range")

	// ErrValueCount is generated when a batch write carries the wrong number
	// of values for the driver
	ErrValueCount = errors.New("value count does not match channel count")

	// ErrNotInitialized is generated when an operation is issued before Init
	ErrNotInitialized = errors.New("driver not initialized")
)

// Descriptor carries the per-unit hardware parameters supplied at startup:
// the shared bus, the chip's address on it, and the framing pin (LDAC strobe
// or address select, chip dependent).  Pin may be nil when the line is
// strapped in hardware.
type Descriptor struct {
	Bus  i2c.Bus
	Addr uint16
	Pin  gpio.PinOut
}

// Driver is the capability contract for one multi-channel DAC chip.
//
// SetChannel and SetAll update the driver's staging buffer; SetValues
// replaces it wholesale.  All three commit to the chip in a single bus
// transaction.  Values are logical, in [0, config.MaxValue].
type Driver interface {
	// Channels returns the chip's channel count
	Channels() int

	// Init binds the driver to its bus and pin; it must be called exactly
	// once before any other method
	Init(Descriptor) error

	// Enable frames the start of a batch (asserts the chip's strobe or
	// select line).  Calls are not nested.
	Enable() error

	// Disable frames the end of a batch
	Disable() error

	// SetChannel writes one logical value to one channel
	SetChannel(channel int, value uint16) error

	// SetAll writes the same logical value to every channel
	SetAll(value uint16) error

	// SetValues writes one logical value per channel; len(values) must
	// equal Channels()
	SetValues(values []uint16) error
}

// Batcher is satisfied by drivers whose chip accepts a whole batch as one
// bus frame.  The asynchronous transaction engine requires it: the frame is
// encoded up front and handed to the engine, which owns the transfer.
type Batcher interface {
	// BatchLen returns the wire length of a full batch frame
	BatchLen() int

	// EncodeBatch packs one logical value per channel into dst and returns
	// the number of bytes written
	EncodeBatch(values []uint16, dst []byte) (int, error)
}

// Rescale maps a logical value onto a device code by integer scaling:
// device = logical * deviceMax / engineMax.  The intermediate product is
// carried in 32 bits so a full-scale 16-bit logical value cannot overflow.
func Rescale(logical uint16, deviceMax uint16, engineMax uint16) uint16 {
	return uint16(uint32(logical) * uint32(deviceMax) / uint32(engineMax))
}

// PotentialToValue converts a desired output potential to a logical value,
// given the potential the chip produces at full scale.  The value will
// roughly be v/(fullScale/engineMax).
func PotentialToValue(v, fullScale physic.ElectricPotential, engineMax uint16) (uint16, error) {
	if v < 0 || v > fullScale {
		return 0, ErrVoltageRange
	}
	return uint16(uint64(v) * uint64(engineMax) / uint64(fullScale)), nil
}
