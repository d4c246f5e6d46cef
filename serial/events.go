package serial

// Cause identifies the interrupt source the arbiter currently reports
// through IIR.
type Cause int

// Interrupt causes in 16550A priority order, highest first.
const (
	CauseNone Cause = iota
	CauseReceiverLineStatus
	CauseReceivedDataAvailable
	CauseTHREmpty
	CauseModemStatus
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseReceiverLineStatus:
		return "receiver line status"
	case CauseReceivedDataAvailable:
		return "received data available"
	case CauseTHREmpty:
		return "transmitter holding register empty"
	case CauseModemStatus:
		return "modem status"
	}

	return "unknown"
}

// Events receives instrumentation callbacks from the device. Hooks run
// synchronously inside the register operation that caused them and must
// not call back into the device. They carry no influence on emulated
// behavior; a device constructed without an Events sink behaves
// identically.
type Events interface {
	// ByteReceived runs for every byte accepted into the receive FIFO.
	ByteReceived()

	// FifoOverrun runs when input is dropped because it does not fit
	// the receive FIFO.
	FifoOverrun()

	// InterruptRaised runs for every notification sent to the trigger.
	InterruptRaised(cause Cause)

	// ByteTransmitted runs for every byte the output sink accepted.
	ByteTransmitted()

	// TxLostByte runs when the output sink failed and the byte was
	// dropped.
	TxLostByte()
}

// NoEvents discards all callbacks.
type NoEvents struct{}

func (NoEvents) ByteReceived()         {}
func (NoEvents) FifoOverrun()          {}
func (NoEvents) InterruptRaised(Cause) {}
func (NoEvents) ByteTransmitted()      {}
func (NoEvents) TxLostByte()           {}
