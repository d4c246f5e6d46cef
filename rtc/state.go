package rtc

// State is a plain snapshot of the PL031 register file. The host clock
// is not part of it: a restored device keeps ticking off whatever clock
// the new process has.
type State struct {
	LR     uint32 // Load Register.
	Offset int64  // Counter offset relative to the host clock.
	MR     uint32 // Match Register.
	IMSC   uint32 // Interrupt mask.
	RIS    uint32 // Raw interrupt status.
}

// State snapshots the device.
func (r *RTC) State() State {
	return State{
		LR:     r.lr,
		Offset: r.offset,
		MR:     r.mr,
		IMSC:   r.imsc,
		RIS:    r.ris,
	}
}

// NewFromState rebuilds an RTC from a snapshot. Reserved bits of the
// interrupt registers are dropped. Any snapshot is restorable, so there
// is no error to return.
func NewFromState(st State, ev Events) *RTC {
	r := NewWithEvents(ev)
	r.lr = st.LR
	r.offset = st.Offset
	r.mr = st.MR
	r.imsc = st.IMSC & 1
	r.ris = st.RIS & 1

	return r
}
