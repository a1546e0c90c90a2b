package moment

import (
	"github.com/chzchzchz/momentrx/ring"
)

// Scratch is one worker's accumulator memory, sized once at engine start.
type Scratch struct {
	gates  int
	pulses []*ring.Pulse

	// lags are the accumulated correlation lags; acc[pol][i] holds lag
	// lags[i] for every gate.
	lags  []int
	acc   [ring.Polarizations][][]complex128
	cross []complex128

	// Per polarization estimates.
	signal [ring.Polarizations][]float64
	snr    [ring.Polarizations][]float64
	sqi    [ring.Polarizations][]float64
	phase  [ring.Polarizations][]float64
	beta   [ring.Polarizations][]float64

	phi    []float64
	censor []bool
	// censorV additionally blanks the products that read the V channel.
	censorV []bool
}

func NewScratch(gates, maxSpan int, lags []int) *Scratch {
	sc := &Scratch{
		gates:  gates,
		pulses: make([]*ring.Pulse, 0, maxSpan),
		lags:   append([]int(nil), lags...),
		cross:  make([]complex128, gates),
		phi:    make([]float64, gates),
		censor: make([]bool, gates),

		censorV: make([]bool, gates),
	}
	for pol := 0; pol < ring.Polarizations; pol++ {
		sc.acc[pol] = make([][]complex128, len(lags))
		for i := range lags {
			sc.acc[pol][i] = make([]complex128, gates)
		}
		sc.signal[pol] = make([]float64, gates)
		sc.snr[pol] = make([]float64, gates)
		sc.sqi[pol] = make([]float64, gates)
		sc.phase[pol] = make([]float64, gates)
		sc.beta[pol] = make([]float64, gates)
	}
	return sc
}

// Lag returns the accumulated correlation at lag k, which must be one of
// the scratch's lags.
func (sc *Scratch) Lag(pol, k int) []complex128 {
	for i, l := range sc.lags {
		if l == k {
			return sc.acc[pol][i]
		}
	}
	return nil
}

// accumulate computes the autocorrelation at every lag and the
// lag-zero cross-correlation over sc.pulses for the first gates gates:
// R_k = 1/(N-k) sum X[n] X[n-k]*, C0 = 1/N sum Xh Xv*.
func (sc *Scratch) accumulate(gates int) {
	n := len(sc.pulses)
	for pol := 0; pol < ring.Polarizations; pol++ {
		for i := range sc.lags {
			clear(sc.acc[pol][i][:gates])
		}
	}
	clear(sc.cross[:gates])
	for i, p := range sc.pulses {
		for pol := 0; pol < ring.Polarizations; pol++ {
			xi, xq := p.I[pol][:gates], p.Q[pol][:gates]
			for li, k := range sc.lags {
				if k > i {
					continue
				}
				q := sc.pulses[i-k]
				yi, yq := q.I[pol][:gates], q.Q[pol][:gates]
				a := sc.acc[pol][li][:gates]
				for g := range a {
					x := complex(float64(xi[g]), float64(xq[g]))
					a[g] += x * complex(float64(yi[g]), -float64(yq[g]))
				}
			}
		}
		hi, hq := p.I[ring.H][:gates], p.Q[ring.H][:gates]
		vi, vq := p.I[ring.V][:gates], p.Q[ring.V][:gates]
		c := sc.cross[:gates]
		for g := range c {
			c[g] += complex(float64(hi[g]), float64(hq[g])) * complex(float64(vi[g]), -float64(vq[g]))
		}
	}
	inv := complex(1/float64(n), 0)
	for pol := 0; pol < ring.Polarizations; pol++ {
		for li, k := range sc.lags {
			if n <= k {
				clear(sc.acc[pol][li][:gates])
				continue
			}
			s := complex(1/float64(n-k), 0)
			a := sc.acc[pol][li][:gates]
			for g := range a {
				a[g] *= s
			}
		}
	}
	for g := range sc.cross[:gates] {
		sc.cross[g] *= inv
	}
}
