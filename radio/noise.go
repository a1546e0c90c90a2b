package radio

import (
	"sort"

	"github.com/chzchzchz/momentrx/ring"
)

// NoisePower averages raw power per gate over many pulses. With most gates
// holding only receiver noise, the median gate is the noise floor.
type NoisePower struct {
	avg    [ring.Polarizations][]float64
	pulses int
}

func NewNoisePower(gates int) *NoisePower {
	np := &NoisePower{}
	for pol := range np.avg {
		np.avg[pol] = make([]float64, gates)
	}
	return np
}

func (np *NoisePower) Add(p *ring.Pulse) {
	gates := min(p.Gates, len(np.avg[ring.H]))
	for pol := range np.avg {
		for g := 0; g < gates; g++ {
			v := p.RawGate(pol, g)
			re, im := float64(real(v)), float64(imag(v))
			np.avg[pol][g] += re*re + im*im
		}
	}
	np.pulses++
}

func (np *NoisePower) Pulses() int { return np.pulses }

// Average is the mean power of every gate.
func (np *NoisePower) Average(pol int) []float64 {
	ret := make([]float64, len(np.avg[pol]))
	if np.pulses == 0 {
		return ret
	}
	for g, v := range np.avg[pol] {
		ret[g] = v / float64(np.pulses)
	}
	return ret
}

func (np *NoisePower) NoiseFloor(pol int) float64 {
	med := np.Average(pol)
	if len(med) == 0 {
		return 0
	}
	sort.Float64s(med)
	return med[len(med)/2]
}
