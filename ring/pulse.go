package ring

import (
	"errors"
	"sync/atomic"
	"time"
)

var ErrBadCapacity = errors.New("ring capacity must be positive")

// Polarizations is the number of receive channels carried by every pulse.
const Polarizations = 2

const (
	H = 0
	V = 1
)

// Pulse is one slot of the pulse ring. Raw samples are written by the
// producer, compressed samples by one compression worker, and the moment
// stage only reads the slot once PulseCompressed is set.
type Pulse struct {
	status Flags
	seq    atomic.Uint64

	Time              time.Time
	Gates             int
	Azimuth           float32
	Elevation         float32
	AzimuthVelocity   float32
	ElevationVelocity float32

	// Raw holds interleaved 16-bit I/Q samples, two per gate.
	Raw [Polarizations][]int16

	// CompressedGates is the number of valid gates in Y, I and Q.
	CompressedGates int
	Y               [Polarizations][]complex64
	I               [Polarizations][]float32
	Q               [Polarizations][]float32
}

func (p *Pulse) Seq() uint64            { return p.seq.Load() }
func (p *Pulse) Status() PulseStatus    { return PulseStatus(p.status.Load()) }
func (p *Pulse) Has(s PulseStatus) bool { return p.status.Has(uint32(s)) }
func (p *Pulse) Set(s PulseStatus)      { p.status.Set(uint32(s)) }

func (p *Pulse) RawGate(pol, g int) complex64 {
	return complex(float32(p.Raw[pol][2*g]), float32(p.Raw[pol][2*g+1]))
}

// SetRawGate stores one sample, saturating to the int16 range.
func (p *Pulse) SetRawGate(pol, g int, v complex64) {
	p.Raw[pol][2*g] = saturate(real(v))
	p.Raw[pol][2*g+1] = saturate(imag(v))
}

func saturate(f float32) int16 {
	switch {
	case f >= 32767:
		return 32767
	case f <= -32768:
		return -32768
	case f < 0:
		return int16(f - 0.5)
	}
	return int16(f + 0.5)
}

// PulseRing is a fixed ring of pulse slots with a single writer. The write
// cursor counts published pulses; slot i holds sequence numbers congruent
// to i modulo the capacity.
type PulseRing struct {
	slots []Pulse
	gates int
	head  atomic.Uint64
}

func NewPulseRing(depth, gateCapacity int) (*PulseRing, error) {
	if depth <= 0 || gateCapacity <= 0 {
		return nil, ErrBadCapacity
	}
	r := &PulseRing{slots: make([]Pulse, depth), gates: gateCapacity}
	for i := range r.slots {
		p := &r.slots[i]
		for pol := 0; pol < Polarizations; pol++ {
			p.Raw[pol] = make([]int16, 2*gateCapacity)
			p.Y[pol] = make([]complex64, gateCapacity)
			p.I[pol] = make([]float32, gateCapacity)
			p.Q[pol] = make([]float32, gateCapacity)
		}
	}
	return r, nil
}

func (r *PulseRing) Capacity() int     { return len(r.slots) }
func (r *PulseRing) GateCapacity() int { return r.gates }

// Head is the write cursor: the sequence number of the next pulse.
func (r *PulseRing) Head() uint64 { return r.head.Load() }

func (r *PulseRing) At(seq uint64) *Pulse { return &r.slots[seq%uint64(len(r.slots))] }

// Claim returns the slot for the next pulse with its status cleared. Only
// the producer may call it, and only once per Publish.
func (r *PulseRing) Claim() *Pulse {
	seq := r.head.Load()
	p := r.At(seq)
	p.status.Reset(0)
	p.seq.Store(seq)
	p.CompressedGates = 0
	return p
}

// Publish sets the producer's bits on the claimed pulse and advances the
// write cursor. The bits must include PulseHasIQData.
func (r *PulseRing) Publish(p *Pulse, bits PulseStatus) {
	p.Set(bits | PulseHasIQData)
	r.head.Add(1)
}

// Staleness is how far a consumer at seq trails the producer, as a
// fraction of the ring. A consumer that has been lapped reports 1.
func (r *PulseRing) Staleness(seq uint64) float64 {
	return staleness(r.Head(), seq, len(r.slots))
}

func staleness(head, seq uint64, capacity int) float64 {
	if seq >= head {
		return 0
	}
	lag := head - seq
	if lag >= uint64(capacity) {
		return 1
	}
	return float64(lag) / float64(capacity)
}

// Reader is one consumer's cursor over the pulse ring.
type Reader struct {
	r    *PulseRing
	pos  uint64
	want PulseStatus
	lost uint64
}

// NewReader starts a cursor at the current write cursor that only yields
// pulses with all of want set.
func (r *PulseRing) NewReader(want PulseStatus) *Reader {
	return &Reader{r: r, pos: r.Head(), want: want}
}

func (rd *Reader) Pos() uint64  { return rd.pos }
func (rd *Reader) Lost() uint64 { return rd.lost }

// Next returns the pulse at the cursor and advances past it, or nil if the
// producer has not published it or its required bits are not yet set.
func (rd *Reader) Next() *Pulse {
	head := rd.r.Head()
	if rd.pos >= head {
		return nil
	}
	capacity := uint64(len(rd.r.slots))
	if head-rd.pos > capacity {
		rd.lost += head - capacity - rd.pos
		rd.pos = head - capacity
	}
	p := rd.r.At(rd.pos)
	if p.Seq() != rd.pos {
		// Overwritten after the head was read.
		rd.lost++
		rd.pos++
		return nil
	}
	if !p.Has(rd.want) {
		return nil
	}
	rd.pos++
	return p
}
