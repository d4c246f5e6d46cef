package console

import (
	"fmt"
	"sync/atomic"

	"github.com/govmm/superio/serial"
)

// eventCounters tallies device events. The device fires them from
// whichever goroutine touched it, and the summary is read after the
// watchers stop, so the counters are atomic.
type eventCounters struct {
	received    atomic.Uint64
	transmitted atomic.Uint64
	lost        atomic.Uint64
	overruns    atomic.Uint64
	interrupts  atomic.Uint64
}

func (e *eventCounters) ByteReceived() { e.received.Add(1) }

func (e *eventCounters) ByteTransmitted() { e.transmitted.Add(1) }

func (e *eventCounters) TxLostByte() { e.lost.Add(1) }

func (e *eventCounters) FifoOverrun() { e.overruns.Add(1) }

func (e *eventCounters) InterruptRaised(serial.Cause) { e.interrupts.Add(1) }

func (e *eventCounters) summary() string {
	return fmt.Sprintf("received=%d transmitted=%d lost=%d overruns=%d interrupts=%d",
		e.received.Load(), e.transmitted.Load(), e.lost.Load(),
		e.overruns.Load(), e.interrupts.Load())
}
