// Package device holds the collaborator contracts shared by the device
// emulations in this module. Devices signal the driver-side world through
// these interfaces without knowing which notification primitive (eventfd,
// irqfd, test double) sits behind them.
package device

// Trigger is the notification capability a device invokes to tell the
// VMM that an interrupt condition changed. One call corresponds to one
// observable transition; the device never calls it for transitions the
// driver cannot observe.
type Trigger interface {
	Trigger() error
}

// TriggerFunc adapts a function to the Trigger interface.
type TriggerFunc func() error

// Trigger implements the Trigger interface.
func (f TriggerFunc) Trigger() error {
	if f == nil {
		return nil
	}

	return f()
}
