package crsf

import "time"

const (
	// DefaultReceiveTimeout is how long a partial frame may sit in the
	// buffer before it is flushed.
	DefaultReceiveTimeout = 100 * time.Millisecond

	maxReprocessPerInputByte = 5
)

// ResyncCause says why the reassembler discarded buffered bytes.
type ResyncCause int

const (
	ResyncBadLength ResyncCause = iota
	ResyncBadCRC
	ResyncOverflow
	ResyncStale
)

func (c ResyncCause) String() string {
	switch c {
	case ResyncBadLength:
		return "bad_length"
	case ResyncBadCRC:
		return "bad_crc"
	case ResyncOverflow:
		return "overflow"
	case ResyncStale:
		return "stale"
	default:
		return "unknown"
	}
}

// ReassemblerStats counts reassembler outcomes since construction.
type ReassemblerStats struct {
	Frames    uint64
	BadLength uint64
	BadCRC    uint64
	Overflow  uint64
	Stale     uint64
}

// Reassembler turns an arbitrary byte stream into validated frames. It holds
// at most one maximum frame plus one byte and resynchronizes by discarding a
// single byte whenever the head of the buffer cannot start a valid frame.
// It is not safe for concurrent use.
type Reassembler struct {
	buf     [rxBufferSize]byte
	n       int
	last    time.Time
	timeout time.Duration
	stats   ReassemblerStats

	// OnFrame receives each validated frame. The Frame owns its payload.
	OnFrame func(Frame)
	// OnResync is called once per discard decision.
	OnResync func(ResyncCause)
}

// NewReassembler returns a reassembler with the given receive timeout;
// zero selects DefaultReceiveTimeout.
func NewReassembler(timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}
	return &Reassembler{timeout: timeout}
}

// Feed appends one byte received at now and extracts whatever frames it
// completes.
func (r *Reassembler) Feed(b byte, now time.Time) {
	r.last = now
	r.buf[r.n] = b
	r.n++
	r.process()
	if r.n == len(r.buf) {
		// Guard only: size <= MaxFrameSize means a full buffer always holds
		// a complete candidate, which process has already consumed.
		r.n = 0
		r.resync(ResyncOverflow)
	}
}

// Write feeds every byte of p with the same timestamp. It never fails.
func (r *Reassembler) Write(p []byte, now time.Time) {
	for _, b := range p {
		r.Feed(b, now)
	}
}

// FlushIfStale drains a partial frame once no byte has arrived for longer
// than the receive timeout. Each discarded byte is followed by another
// evaluation so a valid frame behind garbage is still delivered.
func (r *Reassembler) FlushIfStale(now time.Time) {
	if r.n == 0 || now.Sub(r.last) <= r.timeout {
		return
	}
	r.process()
	if r.n > 0 {
		r.resync(ResyncStale)
	}
	for r.n > 0 {
		r.shift(1)
		r.process()
	}
}

// Len returns the number of buffered bytes.
func (r *Reassembler) Len() int { return r.n }

// LastReceive returns the time of the most recent byte.
func (r *Reassembler) LastReceive() time.Time { return r.last }

// Stats returns a copy of the outcome counters.
func (r *Reassembler) Stats() ReassemblerStats { return r.stats }

// Reset discards buffered bytes.
func (r *Reassembler) Reset() { r.n = 0 }

// process evaluates the head of the buffer, then re-evaluates after each
// consumed frame or discarded byte, bounded per input byte.
func (r *Reassembler) process() {
	for pass := 0; pass <= maxReprocessPerInputByte; pass++ {
		if !r.step() {
			return
		}
	}
}

// step makes at most one decision about the buffer head and reports
// whether the buffer changed.
func (r *Reassembler) step() bool {
	if r.n < 2 {
		return false
	}
	size := int(r.buf[1])
	if size < MinFrameSize || size > MaxFrameSize {
		r.resync(ResyncBadLength)
		r.shift(1)
		return true
	}
	if r.n < size+2 {
		return false
	}
	if Checksum(r.buf[2:size+1]) != r.buf[size+1] {
		r.resync(ResyncBadCRC)
		r.shift(1)
		return true
	}
	fr := parseFrame(r.buf[:size+2])
	r.stats.Frames++
	r.shift(size + 2)
	if r.OnFrame != nil {
		r.OnFrame(fr)
	}
	return true
}

func (r *Reassembler) shift(cnt int) {
	if cnt >= r.n {
		r.n = 0
		return
	}
	copy(r.buf[:], r.buf[cnt:r.n])
	r.n -= cnt
}

func (r *Reassembler) resync(c ResyncCause) {
	switch c {
	case ResyncBadLength:
		r.stats.BadLength++
	case ResyncBadCRC:
		r.stats.BadCRC++
	case ResyncOverflow:
		r.stats.Overflow++
	case ResyncStale:
		r.stats.Stale++
	}
	if r.OnResync != nil {
		r.OnResync(c)
	}
}
