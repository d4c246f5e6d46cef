// Package eventfd wraps the Linux eventfd(2) counter object behind a small
// typed API. An EventFd is the usual notification primitive between a device
// emulation and the thread that injects interrupts into the guest: the device
// adds to the counter, the driver side blocks in Read until it becomes
// nonzero. The same fd can be handed to KVM as an irqfd, in which case the
// kernel consumes the counter directly.
package eventfd

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Creation flags, see eventfd(2).
const (
	CloseOnExec = unix.EFD_CLOEXEC
	NonBlock    = unix.EFD_NONBLOCK
	Semaphore   = unix.EFD_SEMAPHORE
)

// EventFd owns one eventfd file descriptor.
type EventFd struct {
	fd int
}

// New creates an eventfd with an initial counter of zero.
func New(flags int) (*EventFd, error) {
	fd, err := unix.Eventfd(0, flags)
	if err != nil {
		return nil, errors.Wrap(err, "create eventfd")
	}

	return &EventFd{fd: fd}, nil
}

// Write adds v to the counter.
func (e *EventFd) Write(v uint64) error {
	var buf [8]byte

	binary.NativeEndian.PutUint64(buf[:], v)

	for {
		n, err := unix.Write(e.fd, buf[:])
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return err
		}

		if n != len(buf) {
			return errors.Errorf("eventfd write: %d bytes", n)
		}

		return nil
	}
}

// Read returns the current counter value and resets it to zero. Without
// NonBlock it blocks until the counter is nonzero.
func (e *EventFd) Read() (uint64, error) {
	var buf [8]byte

	for {
		n, err := unix.Read(e.fd, buf[:])
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return 0, err
		}

		if n != len(buf) {
			return 0, errors.Errorf("eventfd read: %d bytes", n)
		}

		return binary.NativeEndian.Uint64(buf[:]), nil
	}
}

// Trigger adds 1 to the counter. It makes *EventFd usable directly as a
// device notification sink.
func (e *EventFd) Trigger() error {
	return e.Write(1)
}

// Clone duplicates the file descriptor. Both copies refer to the same
// counter and both must be closed.
func (e *EventFd) Clone() (*EventFd, error) {
	fd, err := unix.FcntlInt(uintptr(e.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "clone eventfd")
	}

	return &EventFd{fd: fd}, nil
}

// Fd exposes the raw descriptor for poll/irqfd wiring.
func (e *EventFd) Fd() int {
	return e.fd
}

// Close releases the file descriptor.
func (e *EventFd) Close() error {
	return unix.Close(e.fd)
}
