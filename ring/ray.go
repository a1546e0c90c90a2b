package ring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Product indexes the moment arrays of a ray.
type Product int

const (
	ProductZ  Product = iota // reflectivity, dBZ
	ProductV                 // radial velocity, m/s
	ProductW                 // spectrum width, m/s
	ProductD                 // differential reflectivity, dB
	ProductP                 // differential phase, degrees
	ProductR                 // correlation coefficient
	ProductK                 // specific differential phase, degrees/km
	ProductSh                // H channel SNR, dB
	ProductSv                // V channel SNR, dB
	ProductQ                 // signal quality index
	ProductVv                // V channel velocity
	ProductWv                // V channel spectrum width
	ProductCount
)

var productSymbols = [ProductCount]string{"Z", "V", "W", "D", "P", "R", "K", "Sh", "Sv", "Q", "Vv", "Wv"}

func (p Product) String() string {
	if p < 0 || p >= ProductCount {
		return "?"
	}
	return productSymbols[p]
}

func ParseProduct(s string) (Product, error) {
	for p, sym := range productSymbols {
		if sym == s {
			return Product(p), nil
		}
	}
	return 0, fmt.Errorf("unknown product %q", s)
}

// Span is a contiguous run of pulses contributing to one ray. Origin is a
// pulse sequence number; the ring index of the i-th pulse is
// (Origin+i) mod Modulo, so a span may wrap around the end of the ring.
type Span struct {
	Origin uint64
	Length int
	Modulo int
}

func (s Span) Seq(i int) uint64 { return s.Origin + uint64(i) }
func (s Span) Index(i int) int  { return int((s.Origin + uint64(i)) % uint64(s.Modulo)) }
func (s Span) End() uint64      { return s.Origin + uint64(s.Length) }

// Valid reports whether the span fits in its ring.
func (s Span) Valid() bool { return s.Length > 0 && s.Modulo > 0 && s.Length <= s.Modulo }

type Ray struct {
	status Flags
	seq    atomic.Uint64

	Span           Span
	StartTime      time.Time
	EndTime        time.Time
	StartAzimuth   float32
	EndAzimuth     float32
	StartElevation float32
	EndElevation   float32
	Gates          int

	Data    [ProductCount][]float32
	Display [ProductCount][]uint8
}

func (r *Ray) Seq() uint64          { return r.seq.Load() }
func (r *Ray) Status() RayStatus    { return RayStatus(r.status.Load()) }
func (r *Ray) Has(s RayStatus) bool { return r.status.Has(uint32(s)) }
func (r *Ray) Set(s RayStatus)      { r.status.Set(uint32(s)) }

// MarkStreamed is the only mutation a collector may make to a Ready ray.
func (r *Ray) MarkStreamed() { r.Set(RayStreamed) }

func (r *Ray) done() bool { return r.status.Any(uint32(RayProcessed | RaySkipped)) }

// RayRing has a single writer (the gatherer claiming slots for spans) and
// exposes rays to collectors strictly in sequence order.
type RayRing struct {
	slots []Ray
	gates int
	head  atomic.Uint64
	ready atomic.Uint64
}

func NewRayRing(depth, gateCapacity int) (*RayRing, error) {
	if depth <= 0 || gateCapacity <= 0 {
		return nil, ErrBadCapacity
	}
	r := &RayRing{slots: make([]Ray, depth), gates: gateCapacity}
	for i := range r.slots {
		for p := Product(0); p < ProductCount; p++ {
			r.slots[i].Data[p] = make([]float32, gateCapacity)
			r.slots[i].Display[p] = make([]uint8, gateCapacity)
		}
	}
	return r, nil
}

func (r *RayRing) Capacity() int       { return len(r.slots) }
func (r *RayRing) GateCapacity() int   { return r.gates }
func (r *RayRing) Head() uint64        { return r.head.Load() }
func (r *RayRing) At(seq uint64) *Ray  { return &r.slots[seq%uint64(len(r.slots))] }
func (r *RayRing) ReadyCursor() uint64 { return r.ready.Load() }

// Claim resets the next slot to Processing and advances the write cursor.
// It returns nil while the previous occupant of the slot is still being
// computed, which only happens once the ring has wrapped onto in-flight work.
func (r *RayRing) Claim() *Ray {
	seq := r.head.Load()
	ray := r.At(seq)
	if seq >= uint64(len(r.slots)) && !ray.Has(RayReady) {
		return nil
	}
	ray.status.Reset(uint32(RayProcessing))
	ray.seq.Store(seq)
	ray.Gates = 0
	r.head.Add(1)
	return ray
}

// Advance marks finished rays Ready in sequence order, stopping at the first
// ray still in Processing. It returns the number of rays exposed.
func (r *RayRing) Advance() int {
	n := 0
	for pos, head := r.ready.Load(), r.head.Load(); pos < head; pos++ {
		ray := r.At(pos)
		if !ray.done() {
			break
		}
		ray.Set(RayReady)
		r.ready.Store(pos + 1)
		n++
	}
	return n
}

// RayReader is a collector's cursor over Ready rays.
type RayReader struct {
	r    *RayRing
	pos  uint64
	lost uint64
}

func (r *RayRing) NewReader() *RayReader { return &RayReader{r: r, pos: r.ReadyCursor()} }

func (rd *RayReader) Pos() uint64  { return rd.pos }
func (rd *RayReader) Lost() uint64 { return rd.lost }

// Next returns the next Ready ray, or nil if none is exposed yet.
func (rd *RayReader) Next() *Ray {
	ready := rd.r.ReadyCursor()
	if rd.pos >= ready {
		return nil
	}
	capacity := uint64(len(rd.r.slots))
	if ready-rd.pos > capacity {
		rd.lost += ready - capacity - rd.pos
		rd.pos = ready - capacity
	}
	ray := rd.r.At(rd.pos)
	if ray.Seq() != rd.pos || !ray.Has(RayReady) {
		rd.lost++
		rd.pos++
		return nil
	}
	rd.pos++
	return ray
}
