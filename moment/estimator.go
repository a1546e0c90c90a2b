// Package moment turns spans of compressed pulses into rays of radar
// moments: a gatherer groups pulses by azimuth and a pool of pinned workers
// estimates, derives, masks and quantizes the products.
package moment

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

var ErrSpanTooShort = errors.New("span too short for estimator")

const (
	PulsePair    = "pulse-pair"
	MultiLag     = "multi-lag"
	PulsePairHop = "pulse-pair-hop"
)

// Estimator fills a scratch's per-polarization signal, SNR, SQI, phase and
// width estimates from its accumulated pulses.
type Estimator interface {
	Name() string
	// Lags lists the correlation lags the estimator reads.
	Lags() []int
	MinPulses() int
	Estimate(sc *Scratch, cal *Calibration, gates int)
}

// NewEstimator selects an estimator by name. lags applies to multi-lag and
// hops to pulse-pair-hop.
func NewEstimator(name string, lags, hops int) (Estimator, error) {
	switch name {
	case PulsePair, "":
		return pulsePair{}, nil
	case MultiLag:
		if lags < 2 || lags > 4 {
			return nil, fmt.Errorf("multi-lag needs 2 to 4 lags, got %d", lags)
		}
		return multiLag{lags: lags}, nil
	case PulsePairHop:
		if hops < 1 {
			return nil, fmt.Errorf("pulse-pair-hop needs a positive hop count, got %d", hops)
		}
		return pulsePairHop{hops: hops}, nil
	}
	return nil, fmt.Errorf("unknown estimator %q", name)
}

type pulsePair struct{}

func (pulsePair) Name() string   { return PulsePair }
func (pulsePair) Lags() []int    { return []int{0, 1, 2} }
func (pulsePair) MinPulses() int { return 3 }

func (pulsePair) Estimate(sc *Scratch, cal *Calibration, gates int) {
	sc.accumulate(gates)
	for pol := range sc.signal {
		fromLag(sc, cal, pol, gates, sc.Lag(pol, 1), 1)
	}
}

// fromLag derives every per-gate estimate of one polarization from lag zero
// and the correlation r at lag step.
func fromLag(sc *Scratch, cal *Calibration, pol, gates int, r []complex128, step int) {
	r0 := sc.Lag(pol, 0)
	noise := cal.Noise[pol]
	for g := 0; g < gates; g++ {
		p := real(r0[g])
		s := math.Max(0, p-noise)
		a := cmplx.Abs(r[g])
		sc.signal[pol][g] = s
		sc.snr[pol][g] = s / noise
		sc.sqi[pol][g] = 0
		if p > 0 {
			sc.sqi[pol][g] = a / p
		}
		sc.phase[pol][g] = cmplx.Phase(r[g]) / float64(step)
		sc.beta[pol][g] = 0
		if a > 0 {
			sc.beta[pol][g] = math.Log(math.Max(s/a, 1)) / float64(step*step)
		}
	}
}

// multiLag fits ln|R_k| = a - b k^2 over lags 1..L, the Gaussian spectrum
// model. exp(a) estimates signal power without the noise floor and b gives
// the width.
type multiLag struct{ lags int }

func (multiLag) Name() string     { return MultiLag }
func (m multiLag) MinPulses() int { return m.lags + 2 }

func (m multiLag) Lags() []int {
	ls := make([]int, m.lags+1)
	for i := range ls {
		ls[i] = i
	}
	return ls
}

func (m multiLag) Estimate(sc *Scratch, cal *Calibration, gates int) {
	sc.accumulate(gates)
	for pol := range sc.signal {
		r1 := sc.Lag(pol, 1)
		fromLag(sc, cal, pol, gates, r1, 1)
		r0 := sc.Lag(pol, 0)
		for g := 0; g < gates; g++ {
			a, b, ok := m.fit(sc, pol, g)
			if !ok {
				continue
			}
			s := math.Min(math.Exp(a), real(r0[g]))
			sc.signal[pol][g] = s
			sc.snr[pol][g] = s / cal.Noise[pol]
			sc.beta[pol][g] = math.Max(b, 0)
		}
	}
}

func (m multiLag) fit(sc *Scratch, pol, g int) (a, b float64, ok bool) {
	var n, sx, sy, sxx, sxy float64
	for k := 1; k <= m.lags; k++ {
		v := cmplx.Abs(sc.Lag(pol, k)[g])
		if v <= 0 {
			continue
		}
		x, y := float64(k*k), math.Log(v)
		n++
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	d := n*sxx - sx*sx
	if n < 2 || d == 0 {
		return 0, 0, false
	}
	slope := (n*sxy - sx*sy) / d
	return (sy - slope*sx) / n, -slope, true
}

// pulsePairHop correlates only pulses on the same hop of a frequency-hopped
// waveform, pulse n using hop n mod hops.
type pulsePairHop struct{ hops int }

func (pulsePairHop) Name() string     { return PulsePairHop }
func (h pulsePairHop) Lags() []int    { return []int{0, h.hops, 2 * h.hops} }
func (h pulsePairHop) MinPulses() int { return 2*h.hops + 1 }

func (h pulsePairHop) Estimate(sc *Scratch, cal *Calibration, gates int) {
	sc.accumulate(gates)
	for pol := range sc.signal {
		fromLag(sc, cal, pol, gates, sc.Lag(pol, h.hops), h.hops)
	}
}
