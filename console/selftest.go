package console

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/govmm/superio/eventfd"
	"github.com/govmm/superio/i8042"
	"github.com/govmm/superio/rtc"
	"github.com/govmm/superio/serial"
)

// SelfTest drives the devices through a scripted exchange, one progress
// line per stage on w. It needs no terminal and stops at the first
// mismatch.
func SelfTest(w io.Writer) error {
	for _, stage := range []func(io.Writer) error{
		serialEcho,
		serialLoopback,
		serialOverrun,
		clockCounts,
		resetLine,
	} {
		if err := stage(w); err != nil {
			return err
		}
	}

	return nil
}

// serialEcho injects host bytes and echoes them back through the
// transmitter, the round trip the interactive console makes per
// keystroke.
func serialEcho(w io.Writer) error {
	intr, err := eventfd.New(eventfd.CloseOnExec | eventfd.NonBlock)
	if err != nil {
		return errors.Wrap(err, "interrupt eventfd")
	}

	defer func() { _ = intr.Close() }()

	var out bytes.Buffer

	s := serial.New(intr, &out)

	if err := s.Write(serial.IEROffset, serial.IERRDABit|serial.IERRLSBit); err != nil {
		return err
	}

	if err := s.EnqueueRawBytes([]byte("ping")); err != nil {
		return err
	}

	if _, err := intr.Read(); err != nil {
		return errors.Wrap(err, "receive interrupt not delivered")
	}

	for {
		lsr, err := s.Read(serial.LSROffset)
		if err != nil {
			return err
		}

		if lsr&serial.LSRDataReadyBit == 0 {
			break
		}

		b, err := s.Read(serial.DataOffset)
		if err != nil {
			return err
		}

		if err := s.Write(serial.DataOffset, b); err != nil {
			return err
		}
	}

	if got := out.String(); got != "ping" {
		return errors.Errorf("serial echo: expected %q, got %q", "ping", got)
	}

	iir, err := s.Read(serial.IIROffset)
	if err != nil {
		return err
	}

	if iir != serial.IIRFIFOEnabledBits|serial.IIRNone {
		return errors.Errorf("serial echo: interrupt still pending, IIR %#x", iir)
	}

	fmt.Fprintln(w, "serial echo: ok")

	return nil
}

// serialLoopback closes the modem loop and reads written bytes back out
// of the receive FIFO.
func serialLoopback(w io.Writer) error {
	intr, err := eventfd.New(eventfd.CloseOnExec | eventfd.NonBlock)
	if err != nil {
		return errors.Wrap(err, "interrupt eventfd")
	}

	defer func() { _ = intr.Close() }()

	var out bytes.Buffer

	s := serial.New(intr, &out)

	if err := s.Write(serial.MCROffset, serial.MCRLoopBit|serial.MCROut2Bit); err != nil {
		return err
	}

	const msg = "pong"

	for i := 0; i < len(msg); i++ {
		if err := s.Write(serial.DataOffset, msg[i]); err != nil {
			return err
		}
	}

	var got []byte

	for {
		lsr, err := s.Read(serial.LSROffset)
		if err != nil {
			return err
		}

		if lsr&serial.LSRDataReadyBit == 0 {
			break
		}

		b, err := s.Read(serial.DataOffset)
		if err != nil {
			return err
		}

		got = append(got, b)
	}

	if string(got) != msg {
		return errors.Errorf("loopback: expected %q, got %q", msg, got)
	}

	if out.Len() != 0 {
		return errors.Errorf("loopback: %d bytes leaked to the sink", out.Len())
	}

	fmt.Fprintln(w, "modem loopback: ok")

	return nil
}

// serialOverrun fills the receive FIFO and confirms the overflow is
// reported both to the host and to the guest.
func serialOverrun(w io.Writer) error {
	intr, err := eventfd.New(eventfd.CloseOnExec | eventfd.NonBlock)
	if err != nil {
		return errors.Wrap(err, "interrupt eventfd")
	}

	defer func() { _ = intr.Close() }()

	s := serial.New(intr, nil)

	if err := s.Write(serial.IEROffset, serial.IERRLSBit); err != nil {
		return err
	}

	if err := s.EnqueueRawBytes(make([]byte, serial.FifoCapacity)); err != nil {
		return err
	}

	err = s.EnqueueRawBytes([]byte{0xff})
	if !errors.Is(err, serial.ErrFifoFull) {
		return errors.Errorf("overrun: expected %v, got %v", serial.ErrFifoFull, err)
	}

	if _, err := intr.Read(); err != nil {
		return errors.Wrap(err, "line-status interrupt not delivered")
	}

	lsr, err := s.Read(serial.LSROffset)
	if err != nil {
		return err
	}

	if lsr&serial.LSROverrunBit == 0 {
		return errors.Errorf("overrun: flag not set, LSR %#x", lsr)
	}

	lsr, err = s.Read(serial.LSROffset)
	if err != nil {
		return err
	}

	if lsr&serial.LSROverrunBit != 0 {
		return errors.Errorf("overrun: flag did not clear, LSR %#x", lsr)
	}

	fmt.Fprintln(w, "fifo overrun: ok")

	return nil
}

// clockCounts loads the PL031 and reads the counter back.
func clockCounts(w io.Writer) error {
	r := rtc.New()

	const loaded = 1_700_000_000

	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, loaded)
	r.Write(rtc.RTCLR, data)

	r.Read(rtc.RTCDR, data)

	// Allow for a second-boundary between the load and the read.
	if got := binary.LittleEndian.Uint32(data); got < loaded || got > loaded+1 {
		return errors.Errorf("rtc: expected %d, got %d", loaded, got)
	}

	r.Read(rtc.AMBAIDLow, data)

	if got := binary.LittleEndian.Uint32(data); got != 0x31 {
		return errors.Errorf("rtc: expected PrimeCell ID 0x31, got %#x", got)
	}

	fmt.Fprintln(w, "rtc counter: ok")

	return nil
}

// resetLine sends the reset command and watches it arrive on the
// eventfd.
func resetLine(w io.Writer) error {
	reset, err := eventfd.New(eventfd.CloseOnExec | eventfd.NonBlock)
	if err != nil {
		return errors.Wrap(err, "reset eventfd")
	}

	defer func() { _ = reset.Close() }()

	kbd := i8042.New(reset)

	// A non-command write must not fire the line.
	if err := kbd.Write(0, i8042.CmdResetCPU); err != nil {
		return err
	}

	if _, err := reset.Read(); !errors.Is(err, unix.EAGAIN) {
		return errors.Errorf("reset: expected no signal, got %v", err)
	}

	if err := kbd.Write(i8042.CommandOffset, i8042.CmdResetCPU); err != nil {
		return err
	}

	n, err := reset.Read()
	if err != nil {
		return errors.Wrap(err, "reset not delivered")
	}

	if n != 1 {
		return errors.Errorf("reset: expected 1 signal, got %d", n)
	}

	fmt.Fprintln(w, "i8042 reset: ok")

	return nil
}
