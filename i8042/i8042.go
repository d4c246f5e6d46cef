// Package i8042 emulates the small slice of an i8042 PS/2 controller
// that guest kernels poke on their reboot path.
package i8042

import (
	"github.com/pkg/errors"

	"github.com/govmm/superio/device"
)

const (
	// CommandOffset is where command bytes land, relative to the base
	// address the device is mapped at.
	CommandOffset = 4

	// CmdResetCPU asks the machine to reset.
	CmdResetCPU = 0xfe
)

// Device accepts the CPU reset command and drops everything else. It
// exists so the usual guest reboot sequence has somewhere to go.
type Device struct {
	reset device.Trigger
}

// New returns a Device that fires reset when a guest sends CmdResetCPU.
func New(reset device.Trigger) *Device {
	return &Device{reset: reset}
}

// Read returns 0: the controller exposes no readable state.
func (d *Device) Read(offset byte) byte {
	return 0
}

// Write handles a guest write. Only the reset command has an effect.
func (d *Device) Write(offset, value byte) error {
	if offset != CommandOffset || value != CmdResetCPU {
		return nil
	}

	if err := d.reset.Trigger(); err != nil {
		return errors.Wrap(err, "signal CPU reset")
	}

	return nil
}
