/*Package max5825 drives the Maxim MAX5825 8-channel 12-bit I2C DAC.

The chip is addressed on a shared bus; its A0 input selects which of two
addresses it answers, so a pair of chips can share a bus with one select
line.  Enable asserts the select line for this chip, Disable releases it.

The MAX5825 processes a stream of 3-byte commands within a single bus
transaction, so a full batch is one frame: a CODEn command per channel
followed by LOAD_ALL, which moves every staged code to the outputs at once.
*/
package max5825

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/y3i12/master-of-muppets-sub001/config"
	"github.com/y3i12/master-of-muppets-sub001/dac"
)

const (
	// NumChannels is the channel count of the chip
	NumChannels = 8

	// DeviceMax is the native full-scale code (12-bit)
	DeviceMax = 4095

	cmdCode        = 0x80 // CODEn: stage a code, no load
	cmdLoad        = 0x90 // LOADn: load a staged code
	cmdCodeLoad    = 0xB0 // CODEn_LOADn: stage and load one channel
	cmdCodeAllLoad = 0xC2 // CODE_ALL_LOAD_ALL: same code everywhere
	cmdLoadAll     = 0xC1 // LOAD_ALL: load every staged code

	// batch frame: one CODEn command per channel plus a trailing LOAD_ALL
	batchBytes = (NumChannels + 1) * 3
)

// FullScale is the output at the maximum code with the default 2.5V
// internal reference selection.
const FullScale physic.ElectricPotential = 2500 * physic.MilliVolt

// Dev is one MAX5825 on a shared bus.  It satisfies dac.Driver and
// dac.Batcher.
type Dev struct {
	d    i2c.Dev
	sel  gpio.PinOut
	init bool
}

// New returns an uninitialized driver; call Init before use.
func New() *Dev {
	return &Dev{}
}

// Channels returns the chip's channel count
func (d *Dev) Channels() int { return NumChannels }

// Init binds the driver to its bus, address, and address-select pin
func (d *Dev) Init(desc dac.Descriptor) error {
	d.d = i2c.Dev{Bus: desc.Bus, Addr: desc.Addr}
	d.sel = desc.Pin
	d.init = true
	if d.sel != nil {
		if err := d.sel.Out(gpio.Low); err != nil {
			return fmt.Errorf("max5825: select setup: %w", err)
		}
	}
	return nil
}

// Enable asserts the address-select line so the chip answers at the
// configured address
func (d *Dev) Enable() error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	if d.sel == nil {
		return nil
	}
	return d.sel.Out(gpio.High)
}

// Disable releases the address-select line
func (d *Dev) Disable() error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	if d.sel == nil {
		return nil
	}
	return d.sel.Out(gpio.Low)
}

// SetChannel stages and loads one channel with a CODEn_LOADn command
func (d *Dev) SetChannel(channel int, value uint16) error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	if channel < 0 || channel >= NumChannels {
		return dac.ErrChannelRange
	}
	code := dac.Rescale(value, DeviceMax, config.MaxValue)
	w := [3]byte{cmdCodeLoad | byte(channel), byte(code >> 4), byte(code << 4)}
	if err := d.d.Tx(w[:], nil); err != nil {
		return fmt.Errorf("max5825: %w", err)
	}
	return nil
}

// SetVoltage writes one channel as an output potential against FullScale
func (d *Dev) SetVoltage(channel int, v physic.ElectricPotential) error {
	value, err := dac.PotentialToValue(v, FullScale, config.MaxValue)
	if err != nil {
		return err
	}
	return d.SetChannel(channel, value)
}

// SetAll writes the same logical value to every channel with a single
// CODE_ALL_LOAD_ALL command
func (d *Dev) SetAll(value uint16) error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	code := dac.Rescale(value, DeviceMax, config.MaxValue)
	w := [3]byte{cmdCodeAllLoad, byte(code >> 4), byte(code << 4)}
	if err := d.d.Tx(w[:], nil); err != nil {
		return fmt.Errorf("max5825: %w", err)
	}
	return nil
}

// SetValues writes one logical value per channel as a single command-stream
// frame.  len(values) must be 8.
func (d *Dev) SetValues(values []uint16) error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	var w [batchBytes]byte
	n, err := d.EncodeBatch(values, w[:])
	if err != nil {
		return err
	}
	if err := d.d.Tx(w[:n], nil); err != nil {
		return fmt.Errorf("max5825: %w", err)
	}
	return nil
}

// BatchLen returns the wire length of a full batch frame
func (d *Dev) BatchLen() int { return batchBytes }

// EncodeBatch packs a full batch into dst: CODEn triplets for channels 0-7
// followed by LOAD_ALL.  dst must hold BatchLen() bytes.
func (d *Dev) EncodeBatch(values []uint16, dst []byte) (int, error) {
	if len(values) != NumChannels {
		return 0, dac.ErrValueCount
	}
	if len(dst) < batchBytes {
		return 0, dac.ErrValueCount
	}
	for i, v := range values {
		code := dac.Rescale(v, DeviceMax, config.MaxValue)
		dst[i*3] = cmdCode | byte(i)
		dst[i*3+1] = byte(code >> 4)
		dst[i*3+2] = byte(code << 4)
	}
	off := NumChannels * 3
	dst[off] = cmdLoadAll
	dst[off+1] = 0
	dst[off+2] = 0
	return batchBytes, nil
}
