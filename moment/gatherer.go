package moment

import (
	"math"
	"time"

	"github.com/chzchzchz/momentrx/ring"
)

// MinSpan is the longest span that is still skipped as degenerate.
const MinSpan = 3

type boundary struct {
	time      time.Time
	azimuth   float32
	elevation float32
}

func boundaryOf(p *ring.Pulse) boundary {
	return boundary{time: p.Time, azimuth: p.Azimuth, elevation: p.Elevation}
}

// spanInfo is a closed span with the angles and times of its first and
// last pulses, read while the pulses were known to be current.
type spanInfo struct {
	ring.Span
	first, last boundary
}

// gatherer groups consecutive compressed pulses in one azimuth bin into
// spans of at most maxSpan pulses.
type gatherer struct {
	binWidth float64
	maxSpan  int
	modulo   int

	open bool
	bin  int
	cur  spanInfo
}

func newGatherer(binWidth float64, maxSpan, modulo int) *gatherer {
	if binWidth <= 0 {
		binWidth = 1
	}
	if maxSpan <= 0 || maxSpan > modulo {
		maxSpan = modulo
	}
	return &gatherer{binWidth: binWidth, maxSpan: maxSpan, modulo: modulo}
}

func (gt *gatherer) binOf(az float32) int {
	a := math.Mod(float64(az), 360)
	if a < 0 {
		a += 360
	}
	return int(a / gt.binWidth)
}

// add appends p to the open span, first closing the span if p is in a new
// bin or does not follow it, and closing again once the span is full.
func (gt *gatherer) add(p *ring.Pulse, emit func(spanInfo)) {
	bin := gt.binOf(p.Azimuth)
	if gt.open && (bin != gt.bin || p.Seq() != gt.cur.End()) {
		gt.flush(emit)
	}
	b := boundaryOf(p)
	if !gt.open {
		gt.open, gt.bin = true, bin
		gt.cur = spanInfo{Span: ring.Span{Origin: p.Seq(), Modulo: gt.modulo}, first: b}
	}
	gt.cur.Length++
	gt.cur.last = b
	if gt.cur.Length >= gt.maxSpan {
		gt.flush(emit)
	}
}

// flush closes the open span, if any.
func (gt *gatherer) flush(emit func(spanInfo)) {
	if !gt.open {
		return
	}
	gt.open = false
	emit(gt.cur)
}

func (gt *gatherer) pending() int {
	if !gt.open {
		return 0
	}
	return gt.cur.Length
}
