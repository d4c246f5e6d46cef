package serial

import (
	"io"

	"github.com/pkg/errors"

	"github.com/govmm/superio/device"
)

// ErrInvalidState rejects a snapshot no reachable device could have
// produced.
var ErrInvalidState = errors.New("invalid device state")

// State is a plain snapshot of the architectural device state. It
// carries no behavior, so a snapshot layer above this package can encode
// it however it likes.
type State struct {
	DivisorLow  byte // baud divisor latch, low byte
	DivisorHigh byte // baud divisor latch, high byte
	IER         byte // Interrupt Enable Register
	LCR         byte // Line Control Register
	LSR         byte // Line Status Register
	MCR         byte // Modem Control Register
	MSR         byte // Modem Status Register
	SCR         byte // Scratch Register

	// THRPending reports a latched transmitter-empty interrupt the guest
	// has not acknowledged yet.
	THRPending bool

	// Fifo holds the receive queue content, oldest byte first.
	Fifo []byte
}

// State snapshots the device. The returned value shares no memory with
// the device.
func (s *Serial) State() State {
	return State{
		DivisorLow:  s.divisorLow,
		DivisorHigh: s.divisorHigh,
		IER:         s.ier,
		LCR:         s.lcr,
		LSR:         s.lsr,
		MCR:         s.mcr,
		MSR:         s.msr,
		SCR:         s.scr,
		THRPending:  s.thrPending,
		Fifo:        s.fifo.bytes(),
	}
}

// NewFromState rebuilds a Serial from a snapshot, wiring the
// collaborators the same way NewWithEvents does. It fails with
// ErrInvalidState when the queued input cannot fit the receive FIFO.
// Restoring signals nothing: the state is adopted as already observed.
func NewFromState(st State, t device.Trigger, ev Events, out io.Writer) (*Serial, error) {
	if len(st.Fifo) > FifoCapacity {
		return nil, errors.Wrapf(ErrInvalidState, "%d bytes queued, FIFO holds %d",
			len(st.Fifo), FifoCapacity)
	}

	s := NewWithEvents(t, ev, out)
	s.divisorLow = st.DivisorLow
	s.divisorHigh = st.DivisorHigh
	s.ier = st.IER & ierValidBits
	s.lcr = st.LCR
	s.lsr = st.LSR
	s.mcr = st.MCR & mcrValidBits
	s.msr = st.MSR
	s.scr = st.SCR
	s.thrPending = st.THRPending
	s.fifo.load(st.Fifo)

	// Data-Ready must agree with the restored queue.
	if s.fifo.len() > 0 {
		s.lsr |= LSRDataReadyBit
	} else {
		s.lsr &^= LSRDataReadyBit
	}

	s.reported = s.currentCause()

	return s, nil
}
