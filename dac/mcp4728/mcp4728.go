/*Package mcp4728 drives the Microchip MCP4728 4-channel 12-bit I2C DAC.

The chip is addressed on a shared bus and latched through its LDAC pin:
Enable raises LDAC so writes land in the input registers without reaching
the outputs, Disable pulses LDAC low to move every staged value to the
outputs at once.  This gives glitch-free simultaneous update across the four
channels of a batch.

Datasheet: https://ww1.microchip.com/downloads/en/devicedoc/22039d.pdf
*/
package mcp4728

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
	NumChannels = 4

	// DeviceMax is the native full-scale code (12-bit)
	DeviceMax = 4095

	cmdMultiWrite = 0x40
	dacMask       = 0x03
)

// InternalRef is the chip's internal precision reference.  With the 2x gain
// bit set, full-scale output is twice this.
const InternalRef physic.ElectricPotential = 2048 * physic.MilliVolt

// FullScale is the output at the maximum code with the internal reference
// and 2x gain.  VDD must be 5V to actually reach it.
const FullScale = 2 * InternalRef

// Dev is one MCP4728 on a shared bus.  It satisfies dac.Driver and
// dac.Batcher.
type Dev struct {
	d    i2c.Dev
	ldac gpio.PinOut
	init bool
}

// New returns an uninitialized driver; call Init before use.
func New() *Dev {
	return &Dev{}
}

// Channels returns the chip's channel count
func (d *Dev) Channels() int { return NumChannels }

// Init binds the driver to its bus, address and LDAC pin
func (d *Dev) Init(desc dac.Descriptor) error {
	d.d = i2c.Dev{Bus: desc.Bus, Addr: desc.Addr}
	d.ldac = desc.Pin
	d.init = true
	if d.ldac != nil {
		// hold outputs until the first Disable
		if err := d.ldac.Out(gpio.High); err != nil {
			return fmt.Errorf("mcp4728: ldac setup: %w", err)
		}
	}
	return nil
}

// Enable raises LDAC so staged writes do not reach the outputs
func (d *Dev) Enable() error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	if d.ldac == nil {
		return nil
	}
	return d.ldac.Out(gpio.High)
}

// Disable pulses LDAC low, latching every staged value to the outputs
func (d *Dev) Disable() error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	if d.ldac == nil {
		return nil
	}
	if err := d.ldac.Out(gpio.Low); err != nil {
		return err
	}
	return d.ldac.Out(gpio.High)
}

// SetChannel writes one logical value to one channel using a single-channel
// multi-write command
func (d *Dev) SetChannel(channel int, value uint16) error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	if channel < 0 || channel >= NumChannels {
		return dac.ErrChannelRange
	}
	code := dac.Rescale(value, DeviceMax, config.MaxValue)
	w := [3]byte{
		cmdMultiWrite | byte(channel&dacMask)<<1,
		byte(code >> 8),
		byte(code),
	}
	if err := d.d.Tx(w[:], nil); err != nil {
		return fmt.Errorf("mcp4728: %w", err)
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

// SetAll writes the same logical value to all four channels
func (d *Dev) SetAll(value uint16) error {
	var vs [NumChannels]uint16
	for i := range vs {
		vs[i] = value
	}
	return d.SetValues(vs[:])
}

// SetValues writes one logical value per channel as a single fast-write
// frame.  len(values) must be 4.
func (d *Dev) SetValues(values []uint16) error {
	if !d.init {
		return dac.ErrNotInitialized
	}
	var w [NumChannels * 2]byte
	n, err := d.EncodeBatch(values, w[:])
	if err != nil {
		return err
	}
	if err := d.d.Tx(w[:n], nil); err != nil {
		return fmt.Errorf("mcp4728: %w", err)
	}
	return nil
}

// BatchLen returns the wire length of a full batch frame
func (d *Dev) BatchLen() int { return NumChannels * 2 }

// EncodeBatch packs a full batch into dst as a fast-write frame, two bytes
// per channel, and returns the number of bytes written.  dst must hold
// BatchLen() bytes.
func (d *Dev) EncodeBatch(values []uint16, dst []byte) (int, error) {
	if len(values) != NumChannels {
		return 0, dac.ErrValueCount
	}
	if len(dst) < NumChannels*2 {
		return 0, dac.ErrValueCount
	}
	for i, v := range values {
		code := dac.Rescale(v, DeviceMax, config.MaxValue)
		dst[i*2] = byte(code>>8) & 0x0f // fast write: top bits 00, no PD
		dst[i*2+1] = byte(code)
	}
	return NumChannels * 2, nil
}
