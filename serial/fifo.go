package serial

// FifoCapacity bounds the bytes queued on behalf of a guest that is not
// draining its receive buffer.
const FifoCapacity = 64

// rxFIFO is a fixed-capacity byte ring, oldest first.
type rxFIFO struct {
	buf   [FifoCapacity]byte
	start int
	size  int
}

func (f *rxFIFO) len() int { return f.size }

func (f *rxFIFO) free() int { return FifoCapacity - f.size }

// push appends b and reports whether there was room for it.
func (f *rxFIFO) push(b byte) bool {
	if f.size == FifoCapacity {
		return false
	}

	f.buf[(f.start+f.size)%FifoCapacity] = b
	f.size++

	return true
}

// pop removes and returns the oldest byte; ok is false on an empty ring.
func (f *rxFIFO) pop() (b byte, ok bool) {
	if f.size == 0 {
		return 0, false
	}

	b = f.buf[f.start]
	f.start = (f.start + 1) % FifoCapacity
	f.size--

	return b, true
}

// bytes copies out the queued content in order.
func (f *rxFIFO) bytes() []byte {
	out := make([]byte, f.size)
	for i := range out {
		out[i] = f.buf[(f.start+i)%FifoCapacity]
	}

	return out
}

// load replaces the content with p. The caller checks len(p) fits.
func (f *rxFIFO) load(p []byte) {
	f.start = 0
	f.size = copy(f.buf[:], p)
}
