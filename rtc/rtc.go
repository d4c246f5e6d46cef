// Package rtc emulates an ARM PrimeCell PL031 real-time clock.
//
// The register file is the one from section 3.2 of the PL031 TRM
// (https://developer.arm.com/documentation/ddi0224/c), a 0x1000-byte
// region of 32-bit little-endian registers. The counter ticks at 1Hz
// off the host clock and reads zero at construction, like the hardware
// coming out of reset. The alarm carried by the match register is not
// implemented, so the device never asserts an interrupt on its own;
// the raw status only moves under guest writes.
//
// An RTC is not safe for concurrent use. The bus layer that owns the
// device serializes guest accesses.
package rtc

import (
	"encoding/binary"
	"time"
)

// Register offsets from the base address.
const (
	RTCDR   = 0x000 // Data Register, read-only.
	RTCMR   = 0x004 // Match Register.
	RTCLR   = 0x008 // Load Register.
	RTCCR   = 0x00c // Control Register.
	RTCIMSC = 0x010 // Interrupt Mask Set or Clear Register.
	RTCRIS  = 0x014 // Raw Interrupt Status, read-only.
	RTCMIS  = 0x018 // Masked Interrupt Status, read-only.
	RTCICR  = 0x01c // Interrupt Clear Register, write-only.
)

// The PrimeCell and AMBA identification registers, one byte per 32-bit
// register starting at AMBAIDLow.
const (
	AMBAIDLow  = 0xfe0
	AMBAIDHigh = 0xfff
)

var ambaIDs = [8]byte{0x31, 0x10, 0x04, 0x00, 0x0d, 0xf0, 0x05, 0xb1}

// Events receives notice of guest accesses the device ignored. The bus
// layer typically counts them.
type Events interface {
	// InvalidRead is called when a guest reads a write-only or unmapped
	// offset.
	InvalidRead()

	// InvalidWrite is called when a guest writes a read-only or
	// unmapped offset.
	InvalidWrite()
}

// NoEvents discards all events.
type NoEvents struct{}

func (NoEvents) InvalidRead() {}

func (NoEvents) InvalidWrite() {}

// RTC emulates the PL031 register file.
type RTC struct {
	lr     uint32 // Load Register.
	offset int64  // Added to the host clock to produce the counter.
	mr     uint32 // Match Register, stored only.
	imsc   uint32 // Interrupt mask, one valid bit.
	ris    uint32 // Raw interrupt status, one valid bit.

	events Events
	now    func() time.Time
}

// New returns an RTC whose counter reads zero, like hardware out of
// reset. A guest that wants wall-clock time loads it through RTCLR.
func New() *RTC {
	return NewWithEvents(nil)
}

// NewWithEvents is New with an event receiver attached. A nil ev
// discards events.
func NewWithEvents(ev Events) *RTC {
	return newRTC(ev, time.Now)
}

func newRTC(ev Events, now func() time.Time) *RTC {
	if ev == nil {
		ev = NoEvents{}
	}

	return &RTC{
		offset: -now().Unix(),
		events: ev,
		now:    now,
	}
}

// value is the current counter reading. The conversion wraps at 32
// bits, the way the hardware counter rolls over.
func (r *RTC) value() uint32 {
	return uint32(r.now().Unix() + r.offset)
}

// Read handles a guest read of the 32-bit register at offset, storing
// the value little-endian in data. Reads of write-only or unmapped
// offsets leave data untouched.
func (r *RTC) Read(offset uint16, data []byte) {
	if len(data) < 4 {
		r.events.InvalidRead()

		return
	}

	var v uint32

	switch {
	case offset >= AMBAIDLow && offset <= AMBAIDHigh:
		// One ID byte per register; accesses align down.
		v = uint32(ambaIDs[(offset-AMBAIDLow)>>2])
	case offset == RTCDR:
		v = r.value()
	case offset == RTCMR:
		v = r.mr
	case offset == RTCLR:
		v = r.lr
	case offset == RTCCR:
		// The clock is always enabled.
		v = 1
	case offset == RTCIMSC:
		v = r.imsc
	case offset == RTCRIS:
		v = r.ris
	case offset == RTCMIS:
		v = r.ris & r.imsc
	default:
		r.events.InvalidRead()

		return
	}

	binary.LittleEndian.PutUint32(data, v)
}

// Write handles a guest write of the 32-bit little-endian value in data
// to the register at offset. Writes to read-only or unmapped offsets
// are dropped.
func (r *RTC) Write(offset uint16, data []byte) {
	if len(data) < 4 {
		r.events.InvalidWrite()

		return
	}

	val := binary.LittleEndian.Uint32(data)

	switch offset {
	case RTCMR:
		// Stored for reads only: the alarm is not implemented.
		r.mr = val
	case RTCLR:
		// A load must read back from RTCDR immediately, so the counter
		// offset moves together with the register.
		r.offset = int64(val) - r.now().Unix()
		r.lr = val
	case RTCCR:
		// Writing 1 resets the counter. The clock cannot be disabled.
		if val == 1 {
			r.lr = 0
			r.offset = -r.now().Unix()
		}
	case RTCIMSC:
		r.imsc = val & 1
	case RTCICR:
		r.ris &^= val
	default:
		r.events.InvalidWrite()
	}
}
