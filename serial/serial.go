// Package serial emulates a UART 16550A serial console at register level.
//
// The device exposes the eight byte-wide registers a 16550A maps at its
// port base, a 64-byte receive FIFO fed by the host through
// EnqueueRawBytes, and the four interrupt sources of the 16550A family
// arbitrated in hardware priority order. Interrupt transitions are
// signaled through a device.Trigger so the surrounding VMM decides how
// they reach the guest (eventfd, irqfd, in-process). Guest output goes to
// an io.Writer supplied at construction.
//
// A Serial performs no locking of its own; callers that dispatch register
// accesses from more than one goroutine serialize them.
//
// Register reference: https://www.lammertbies.nl/comm/info/serial-uart
package serial

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/govmm/superio/device"
)

// Register offsets from the port base address (COM1 bases them at 0x3f8).
// Offsets 0 and 1 are multiplexed by the DLAB bit in LCR: with DLAB set
// they address the two baud divisor latch bytes instead.
const (
	DataOffset = 0 // RBR on read, THR on write
	IEROffset  = 1
	IIROffset  = 2 // FCR on write, which this device accepts and ignores
	LCROffset  = 3
	MCROffset  = 4
	LSROffset  = 5
	MSROffset  = 6
	SCROffset  = 7
)

// IER bits. Only the four 16550A interrupt sources are writable.
const (
	IERRDABit         = 0x01
	IERTHREmptyBit    = 0x02
	IERRLSBit         = 0x04
	IERModemStatusBit = 0x08

	ierValidBits = 0x0f
)

// IIR codes. Bits 6-7 are wired high to advertise the 16550A FIFOs, see
// https://elixir.bootlin.com/linux/latest/source/drivers/tty/serial/8250/8250_port.c
// for how the Linux 8250 driver probes them.
const (
	IIRFIFOEnabledBits = 0xc0
	IIRNone            = 0x01
	IIRRLS             = 0x06
	IIRRDA             = 0x04
	IIRTHREmpty        = 0x02
	IIRModemStatus     = 0x00
)

// LCR bits. The word format fields are stored but not enforced on the
// byte stream.
const (
	LCRDLABBit = 0x80
)

// LSR bits.
const (
	LSRDataReadyBit    = 0x01
	LSROverrunBit      = 0x02
	LSRParityErrorBit  = 0x04
	LSRFramingErrorBit = 0x08
	LSRBreakBit        = 0x10
	LSRTHREmptyBit     = 0x20
	LSRIdleBit         = 0x40

	lsrErrorBits = LSROverrunBit | LSRParityErrorBit | LSRFramingErrorBit | LSRBreakBit
)

// MCR bits. Loop closes the internal loopback path.
const (
	MCRDTRBit  = 0x01
	MCRRTSBit  = 0x02
	MCROut1Bit = 0x04
	MCROut2Bit = 0x08
	MCRLoopBit = 0x10

	mcrValidBits = 0x1f
)

// MSR bits. The low nibble latches a delta for every input line that
// changed since MSR was last read.
const (
	MSRDeltaCTSBit = 0x01
	MSRDeltaDSRBit = 0x02
	MSRDeltaRIBit  = 0x04
	MSRDeltaDCDBit = 0x08
	MSRCTSBit      = 0x10
	MSRDSRBit      = 0x20
	MSRRIBit       = 0x40
	MSRDCDBit      = 0x80

	msrDeltaBits = 0x0f
	msrInputBits = 0xf0
)

// Reset values. The divisor encodes 9600 baud, the line is 8N1, OUT2 is
// raised because PC wiring gates the IRQ line on it, and the modem inputs
// report a connected, ready peer. LSR keeps THR-empty and idle set
// permanently: transmission is synchronous, so the device is always ready
// for another byte.
const (
	defaultBaudDivisorLow  = 0x0c
	defaultBaudDivisorHigh = 0x00
	defaultInterruptEnable = 0x00
	defaultLineControl     = 0x03
	defaultLineStatus      = LSRTHREmptyBit | LSRIdleBit
	defaultModemControl    = MCROut2Bit
	defaultModemStatus     = MSRDSRBit | MSRCTSBit | MSRDCDBit
	defaultScratch         = 0x00
)

// ErrFifoFull rejects a host injection that does not fit the remaining
// receive FIFO capacity. Nothing is queued; the FIFO content is exactly
// what it was before the call.
var ErrFifoFull = errors.New("receive FIFO full")

// Serial emulates one UART 16550A instance.
//
// Methods are not safe for concurrent use.
type Serial struct {
	divisorLow  byte
	divisorHigh byte
	ier         byte
	lcr         byte
	lsr         byte
	mcr         byte
	msr         byte
	scr         byte

	// thrPending latches the transmitter-empty interrupt condition. Every
	// THR write sets it; the guest clears it by reading IIR while it is
	// the reported cause.
	thrPending bool

	// reported is the cause most recently computed by the arbiter, kept
	// only to detect observable transitions. IIR is always derived from
	// the live condition bits, never from stored interrupt state.
	reported Cause

	fifo rxFIFO

	trigger device.Trigger
	events  Events
	out     io.Writer
}

// New creates a Serial that writes guest output to out and signals
// interrupt transitions through t. t must not be nil; a nil out discards
// the output.
func New(t device.Trigger, out io.Writer) *Serial {
	return NewWithEvents(t, nil, out)
}

// NewWithEvents is New with an instrumentation sink attached. A nil ev
// behaves like NoEvents.
func NewWithEvents(t device.Trigger, ev Events, out io.Writer) *Serial {
	if ev == nil {
		ev = NoEvents{}
	}

	if out == nil {
		out = io.Discard
	}

	return &Serial{
		divisorLow:  defaultBaudDivisorLow,
		divisorHigh: defaultBaudDivisorHigh,
		ier:         defaultInterruptEnable,
		lcr:         defaultLineControl,
		lsr:         defaultLineStatus,
		mcr:         defaultModemControl,
		msr:         defaultModemStatus,
		scr:         defaultScratch,
		trigger:     t,
		events:      ev,
		out:         out,
	}
}

func (s *Serial) dlab() bool {
	return s.lcr&LCRDLABBit != 0
}

func (s *Serial) inLoopMode() bool {
	return s.mcr&MCRLoopBit != 0
}

func (s *Serial) ierEnabled(bit byte) bool {
	return s.ier&bit != 0
}

// currentCause walks the interrupt conditions in hardware priority order
// and returns the first one that is both true and enabled in IER.
func (s *Serial) currentCause() Cause {
	switch {
	case s.ierEnabled(IERRLSBit) && s.lsr&lsrErrorBits != 0:
		return CauseReceiverLineStatus
	case s.ierEnabled(IERRDABit) && s.fifo.len() > 0:
		return CauseReceivedDataAvailable
	case s.ierEnabled(IERTHREmptyBit) && s.thrPending:
		return CauseTHREmpty
	case s.ierEnabled(IERModemStatusBit) && s.msr&msrDeltaBits != 0:
		return CauseModemStatus
	}

	return CauseNone
}

func (c Cause) iirCode() byte {
	switch c {
	case CauseReceiverLineStatus:
		return IIRRLS
	case CauseReceivedDataAvailable:
		return IIRRDA
	case CauseTHREmpty:
		return IIRTHREmpty
	case CauseModemStatus:
		return IIRModemStatus
	}

	return IIRNone
}

// updateInterrupts recomputes the reported cause and signals the trigger
// once when the driver-visible cause changed. Transitions to CauseNone
// stay silent: the trigger injects interrupt edges and a cleared
// condition has no edge to inject. forceTHR re-signals an unchanged
// transmitter-empty cause so that a driver waiting for the next THR
// interrupt after every write cannot stall.
func (s *Serial) updateInterrupts(forceTHR bool) error {
	cause := s.currentCause()
	changed := cause != s.reported
	s.reported = cause

	if cause == CauseNone {
		return nil
	}

	if !changed && !(forceTHR && cause == CauseTHREmpty) {
		return nil
	}

	s.events.InterruptRaised(cause)

	if err := s.trigger.Trigger(); err != nil {
		return errors.Wrap(err, "signal interrupt")
	}

	return nil
}

// Read handles a guest read of the register at offset. The returned byte
// is always the architectural result. A non-nil error reports a trigger
// failure: clearing a condition on read can uncover a lower-priority
// pending interrupt that must be signaled. Offsets past SCR read as 0.
func (s *Serial) Read(offset byte) (byte, error) {
	switch {
	case offset == DataOffset && s.dlab():
		return s.divisorLow, nil
	case offset == IEROffset && s.dlab():
		return s.divisorHigh, nil
	case offset == DataOffset:
		return s.readData()
	case offset == IEROffset:
		return s.ier, nil
	case offset == IIROffset:
		return s.readIIR()
	case offset == LCROffset:
		return s.lcr, nil
	case offset == MCROffset:
		return s.mcr, nil
	case offset == LSROffset:
		return s.readLSR()
	case offset == MSROffset:
		return s.readMSR()
	case offset == SCROffset:
		return s.scr, nil
	}

	return 0, nil
}

// readData pops the oldest received byte. An empty FIFO reads as 0; the
// driver is expected to check LSR Data-Ready first.
func (s *Serial) readData() (byte, error) {
	b, _ := s.fifo.pop()
	if s.fifo.len() == 0 {
		s.lsr &^= LSRDataReadyBit
	}

	return b, s.updateInterrupts(false)
}

// readIIR reports the pending cause. A pending cause survives the read
// and clears only with its underlying condition. The one exception is
// transmitter-empty, which the read acknowledges.
func (s *Serial) readIIR() (byte, error) {
	iir := IIRFIFOEnabledBits | s.reported.iirCode()

	if s.reported == CauseTHREmpty {
		s.thrPending = false

		return iir, s.updateInterrupts(false)
	}

	return iir, nil
}

// readLSR returns the line status. The error flags report once: reading
// them clears them.
func (s *Serial) readLSR() (byte, error) {
	lsr := s.lsr
	if lsr&lsrErrorBits == 0 {
		return lsr, nil
	}

	s.lsr &^= lsrErrorBits

	return lsr, s.updateInterrupts(false)
}

// readMSR returns the modem status and clears the delta bits.
func (s *Serial) readMSR() (byte, error) {
	msr := s.msr
	s.msr &^= msrDeltaBits

	return msr, s.updateInterrupts(false)
}

// Write handles a guest write to the register at offset. The
// architectural effect always takes place; a non-nil error additionally
// reports that the output sink or the trigger failed. Writes to FCR and
// to offsets past SCR are accepted and ignored.
func (s *Serial) Write(offset, value byte) error {
	switch {
	case offset == DataOffset && s.dlab():
		s.divisorLow = value
	case offset == IEROffset && s.dlab():
		s.divisorHigh = value
	case offset == DataOffset:
		return s.writeData(value)
	case offset == IEROffset:
		s.ier = value & ierValidBits

		return s.updateInterrupts(false)
	case offset == LCROffset:
		s.lcr = value
	case offset == MCROffset:
		return s.writeMCR(value)
	case offset == SCROffset:
		s.scr = value
	}

	return nil
}

// writeData transmits one byte. With the loopback path closed the byte
// lands in the receive FIFO under the same fullness policy as host
// injection; overflow there is an overrun the guest observes through
// LSR, not an error on the write.
func (s *Serial) writeData(value byte) error {
	if s.inLoopMode() {
		if !s.fifo.push(value) {
			s.lsr |= LSROverrunBit
			s.events.FifoOverrun()

			return s.updateInterrupts(false)
		}

		s.lsr |= LSRDataReadyBit
		s.events.ByteReceived()

		return s.updateInterrupts(false)
	}

	s.thrPending = true

	_, werr := s.out.Write([]byte{value})
	if werr != nil {
		s.events.TxLostByte()
	} else {
		s.events.ByteTransmitted()
	}

	nerr := s.updateInterrupts(s.ierEnabled(IERTHREmptyBit))

	// A sink failure takes precedence over a notification failure.
	if werr != nil {
		return errors.Wrap(werr, "write to output sink")
	}

	return nerr
}

// writeMCR stores the control bits and redrives the modem input lines:
// with the loop closed the four outputs feed the four inputs (DTR->DSR,
// RTS->CTS, OUT1->RI, OUT2->DCD); with it open the inputs return to the
// fixed ready state.
func (s *Serial) writeMCR(value byte) error {
	s.mcr = value & mcrValidBits

	if s.inLoopMode() {
		var inputs byte

		if s.mcr&MCRDTRBit != 0 {
			inputs |= MSRDSRBit
		}

		if s.mcr&MCRRTSBit != 0 {
			inputs |= MSRCTSBit
		}

		if s.mcr&MCROut1Bit != 0 {
			inputs |= MSRRIBit
		}

		if s.mcr&MCROut2Bit != 0 {
			inputs |= MSRDCDBit
		}

		s.setModemInputs(inputs)
	} else {
		s.setModemInputs(defaultModemStatus)
	}

	return s.updateInterrupts(false)
}

// setModemInputs replaces the MSR input lines and latches a delta bit for
// every line that changed.
func (s *Serial) setModemInputs(inputs byte) {
	inputs &= msrInputBits
	delta := ((s.msr ^ inputs) & msrInputBits) >> 4
	s.msr = inputs | s.msr&msrDeltaBits | delta
}

// EnqueueRawBytes queues host-side input for the guest. The call queues
// either every byte or none: input that exceeds the remaining FIFO
// capacity leaves the FIFO untouched, raises the overrun flag for the
// guest and returns ErrFifoFull. Input is discarded while loopback mode
// is active, as the external receive line is disconnected from the
// device.
func (s *Serial) EnqueueRawBytes(p []byte) error {
	if s.inLoopMode() || len(p) == 0 {
		return nil
	}

	if len(p) > s.fifo.free() {
		s.lsr |= LSROverrunBit
		s.events.FifoOverrun()

		if err := s.updateInterrupts(false); err != nil {
			return fmt.Errorf("%w: %w", ErrFifoFull, err)
		}

		return ErrFifoFull
	}

	for _, b := range p {
		s.fifo.push(b)
		s.events.ByteReceived()
	}

	s.lsr |= LSRDataReadyBit

	return s.updateInterrupts(false)
}
