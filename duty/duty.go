// Package duty measures how busy pool workers are and how far they trail
// their producer, and sheds load when they fall too far behind.
package duty

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// Tracker is one worker's sliding window of (busy, full) period pairs. The
// worker owns Begin and End; the fields read by the watcher are atomic.
type Tracker struct {
	busy []time.Duration
	full []time.Duration
	idx  int

	sumBusy time.Duration
	sumFull time.Duration

	begin   time.Time
	pending time.Duration

	duty atomic.Uint64
	lag  atomic.Uint64
	done atomic.Uint64
}

func NewTracker(depth int) *Tracker {
	if depth <= 0 {
		depth = 1
	}
	return &Tracker{busy: make([]time.Duration, depth), full: make([]time.Duration, depth)}
}

// Begin starts a busy period. The previous busy period and the time
// between the two Begins form one window entry.
func (t *Tracker) Begin(now time.Time) {
	if !t.begin.IsZero() {
		t.push(t.pending, now.Sub(t.begin))
	}
	t.begin, t.pending = now, 0
}

// End closes the busy period opened by Begin.
func (t *Tracker) End(now time.Time) {
	t.pending = now.Sub(t.begin)
	t.done.Add(1)
}

func (t *Tracker) push(busy, full time.Duration) {
	t.sumBusy += busy - t.busy[t.idx]
	t.sumFull += full - t.full[t.idx]
	t.busy[t.idx], t.full[t.idx] = busy, full
	t.idx = (t.idx + 1) % len(t.busy)
	d := 0.0
	if t.sumFull > 0 {
		d = float64(t.sumBusy) / float64(t.sumFull)
	}
	t.duty.Store(math.Float64bits(d))
}

func (t *Tracker) DutyCycle() float64 { return math.Float64frombits(t.duty.Load()) }
func (t *Tracker) Lag() float64       { return math.Float64frombits(t.lag.Load()) }
func (t *Tracker) SetLag(v float64)   { t.lag.Store(math.Float64bits(v)) }
func (t *Tracker) ResetLag()          { t.lag.Store(0) }

// Processed counts completed busy periods.
func (t *Tracker) Processed() uint64 { return t.done.Load() }

// MaxLag is the largest staleness across a pool.
func MaxLag(ts []*Tracker) float64 {
	m := 0.0
	for _, t := range ts {
		if l := t.Lag(); l > m {
			m = l
		}
	}
	return m
}

// Format renders a pool as "12 34 | 0.05" with per-worker duty cycle
// percentages followed by the maximum lag.
func Format(ts []*Tracker) string {
	var b strings.Builder
	for i, t := range ts {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%2.0f", 100*t.DutyCycle())
	}
	fmt.Fprintf(&b, " | %.2f", MaxLag(ts))
	return b.String()
}

// Stat is a telemetry snapshot of one worker.
type Stat struct {
	Worker    int     `json:"worker"`
	DutyCycle float64 `json:"duty_cycle"`
	Lag       float64 `json:"lag"`
	Processed uint64  `json:"processed"`
}

func Stats(ts []*Tracker) []Stat {
	ret := make([]Stat, len(ts))
	for i, t := range ts {
		ret[i] = Stat{Worker: i, DutyCycle: t.DutyCycle(), Lag: t.Lag(), Processed: t.Processed()}
	}
	return ret
}

// Telemetry is the snapshot an engine exposes to status pages. A lag above
// Threshold opens a skip window of Window items.
type Telemetry struct {
	Name      string  `json:"name"`
	Active    bool    `json:"active"`
	Workers   []Stat  `json:"workers"`
	Threshold float64 `json:"threshold"`
	Window    int     `json:"window"`
	Overflows uint64  `json:"overflows"`
	Skipped   uint64  `json:"skipped"`
	Anomalies uint64  `json:"anomalies"`
	Lost      uint64  `json:"lost"`
	Status    string  `json:"status"`
}
