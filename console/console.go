// Package console attaches the emulated serial-port devices to the
// hosting terminal. It is the host half of the setup: keyboard input is
// injected into the UART receive path, a watcher goroutine plays the
// part of the guest's interrupt handler, and guest-visible output comes
// back out through the UART sink.
package console

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/profile"

	"github.com/govmm/superio/eventfd"
	"github.com/govmm/superio/i8042"
	"github.com/govmm/superio/rtc"
	"github.com/govmm/superio/serial"
	"github.com/govmm/superio/term"
)

type Config struct {
	// Loopback starts the UART with the modem loop closed, so typed
	// bytes come back through the receive path instead of the sink.
	Loopback bool

	// Stats prints the device event counters on exit.
	Stats bool

	// Pprof holds a directory for a CPU profile, empty for none.
	Pprof string
}

type Console struct {
	Config

	serial   *serial.Serial
	kbd      *i8042.Device
	rtc      *rtc.RTC
	intrEvt  *eventfd.EventFd
	resetEvt *eventfd.EventFd
	stats    *eventCounters

	// mu serializes device access between the input pump and the
	// watchers, and with it every write to stdout.
	mu sync.Mutex

	stdin  io.Reader
	stdout io.Writer
}

func New(c Config) *Console {
	return &Console{Config: c}
}

// Init instantiates the devices and programs them the way a guest
// driver would at boot.
func (c *Console) Init() error {
	if c.stdin == nil {
		c.stdin = os.Stdin
	}

	if c.stdout == nil {
		c.stdout = os.Stdout
	}

	intr, err := eventfd.New(eventfd.CloseOnExec)
	if err != nil {
		return errors.Wrap(err, "interrupt eventfd")
	}

	reset, err := eventfd.New(eventfd.CloseOnExec)
	if err != nil {
		_ = intr.Close()

		return errors.Wrap(err, "reset eventfd")
	}

	c.intrEvt = intr
	c.resetEvt = reset
	c.stats = &eventCounters{}
	c.serial = serial.NewWithEvents(intr, c.stats, c.stdout)
	c.kbd = i8042.New(reset)
	c.rtc = rtc.New()

	if c.Loopback {
		if err := c.serial.Write(serial.MCROffset, serial.MCRLoopBit|serial.MCROut2Bit); err != nil {
			return errors.Wrap(err, "close modem loop")
		}
	}

	if err := c.serial.Write(serial.IEROffset, serial.IERRDABit|serial.IERRLSBit); err != nil {
		return errors.Wrap(err, "unmask interrupts")
	}

	// Load the wall clock, the way a guest kernel programs the PL031.
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(time.Now().Unix()))
	c.rtc.Write(rtc.RTCLR, data)

	return nil
}

// wakeValue pokes a watcher off its blocking eventfd read at shutdown.
// Device fires add 1 each, so the two kinds stay distinguishable even
// when the counter coalesces them into one read.
const wakeValue = uint64(1) << 32

// Run pumps terminal input into the devices until Ctrl-A x or EOF.
func (c *Console) Run() error {
	if c.Pprof != "" {
		defer profile.Start(profile.ProfilePath(c.Pprof)).Stop()
	}

	if term.IsTerminal() {
		restoreMode, err := term.SetRawMode()
		if err != nil {
			return err
		}

		defer restoreMode()
	} else {
		fmt.Fprintln(os.Stderr, "stdin is not a terminal; driving the console from piped input")
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			v, err := c.intrEvt.Read()
			if err != nil {
				log.Printf("interrupt eventfd: %v", err)

				return
			}

			if v%wakeValue > 0 {
				c.serveInterrupts()
			}

			if v >= wakeValue {
				return
			}
		}
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			v, err := c.resetEvt.Read()
			if err != nil {
				log.Printf("reset eventfd: %v", err)

				return
			}

			if v%wakeValue > 0 {
				c.mu.Lock()
				fmt.Fprintf(c.stdout, "guest requested CPU reset\r\n")
				c.mu.Unlock()
			}

			if v >= wakeValue {
				return
			}
		}
	}()

	c.pump()

	if err := c.intrEvt.Write(wakeValue); err != nil {
		log.Printf("wake interrupt watcher: %v", err)
	}

	if err := c.resetEvt.Write(wakeValue); err != nil {
		log.Printf("wake reset watcher: %v", err)
	}

	wg.Wait()

	if c.Stats {
		fmt.Fprintf(c.stdout, "%s\r\n", c.stats.summary())
	}

	return nil
}

// Close releases the eventfds. Run must have returned.
func (c *Console) Close() error {
	if c.intrEvt != nil {
		if err := c.intrEvt.Close(); err != nil {
			return err
		}
	}

	if c.resetEvt != nil {
		return c.resetEvt.Close()
	}

	return nil
}

// pump feeds stdin into the UART byte by byte. Ctrl-A prefixes the
// escapes: x quits, r sends the guest reset command, t reads the clock.
func (c *Console) pump() {
	var before byte

	in := bufio.NewReader(c.stdin)

	for {
		b, err := in.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("stdin: %v", err)
			}

			return
		}

		if before == 0x1 {
			switch b {
			case 'x':
				return
			case 'r':
				c.requestReset()

				before = b

				continue
			case 't':
				c.reportTime()

				before = b

				continue
			}
		}

		c.inject(b)

		before = b
	}
}

// inject queues one byte on the receive path, waiting out a full FIFO
// so a fast paste does not drop keystrokes.
func (c *Console) inject(b byte) {
	for {
		c.mu.Lock()

		var err error
		if c.Loopback {
			err = c.serial.Write(serial.DataOffset, b)
		} else {
			err = c.serial.EnqueueRawBytes([]byte{b})
		}

		c.mu.Unlock()

		if !errors.Is(err, serial.ErrFifoFull) {
			if err != nil {
				log.Printf("input: %v", err)
			}

			return
		}

		// Give the watcher room to drain.
		time.Sleep(time.Millisecond)
	}
}

// serveInterrupts is the guest interrupt handler in miniature: read the
// cause, service it, repeat until the device reports none pending.
func (c *Console) serveInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		iir, err := c.serial.Read(serial.IIROffset)
		if err != nil {
			log.Printf("read IIR: %v", err)
		}

		switch iir &^ serial.IIRFIFOEnabledBits {
		case serial.IIRNone:
			return
		case serial.IIRRLS:
			lsr, err := c.serial.Read(serial.LSROffset)
			if err != nil {
				log.Printf("read LSR: %v", err)
			}

			if lsr&serial.LSROverrunBit != 0 {
				fmt.Fprintf(c.stdout, "\r\ninput overrun, keystrokes dropped\r\n")
			}
		case serial.IIRRDA:
			c.drainInput()
		case serial.IIRTHREmpty:
			// Acknowledged by the IIR read itself. Nothing to refill,
			// the pump pushes input as it arrives.
		case serial.IIRModemStatus:
			if _, err := c.serial.Read(serial.MSROffset); err != nil {
				log.Printf("read MSR: %v", err)
			}
		}
	}
}

// drainInput empties the receive FIFO. Normally each byte is echoed
// back through the transmitter so it lands in the sink; with the loop
// closed the sink is disconnected and the bytes go straight out.
func (c *Console) drainInput() {
	for {
		lsr, err := c.serial.Read(serial.LSROffset)
		if err != nil {
			log.Printf("read LSR: %v", err)
		}

		if lsr&serial.LSRDataReadyBit == 0 {
			return
		}

		b, err := c.serial.Read(serial.DataOffset)
		if err != nil {
			log.Printf("read RBR: %v", err)
		}

		if c.Loopback {
			if _, err := c.stdout.Write([]byte{b}); err != nil {
				log.Printf("stdout: %v", err)
			}

			continue
		}

		if err := c.serial.Write(serial.DataOffset, b); err != nil {
			log.Printf("echo: %v", err)
		}
	}
}

func (c *Console) requestReset() {
	c.mu.Lock()
	err := c.kbd.Write(i8042.CommandOffset, i8042.CmdResetCPU)
	c.mu.Unlock()

	if err != nil {
		log.Printf("reset request: %v", err)
	}
}

func (c *Console) reportTime() {
	data := make([]byte, 4)

	c.mu.Lock()
	c.rtc.Read(rtc.RTCDR, data)
	fmt.Fprintf(c.stdout, "\r\nrtc: %d\r\n", binary.LittleEndian.Uint32(data))
	c.mu.Unlock()
}
