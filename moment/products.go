package moment

import (
	"math"
	"math/cmplx"

	"github.com/chzchzchz/momentrx/ring"
)

// Thresholds censor gates before quantization.
type Thresholds struct {
	// SNR in dB.
	SNR float64
	SQI float64
}

var nan32 = float32(math.NaN())

// derive writes every product of the first gates gates into ray.Data from
// the scratch's estimates.
func derive(sc *Scratch, cal *Calibration, ray *ring.Ray, gates int) {
	d := &ray.Data
	var z [ring.Polarizations]float64
	prev := 0.0
	for g := 0; g < gates; g++ {
		for pol := 0; pol < ring.Polarizations; pol++ {
			z[pol] = 10*math.Log10(sc.signal[pol][g]) + cal.RangeCorrection(pol, g)
		}
		d[ring.ProductZ][g] = float32(z[ring.H])
		d[ring.ProductD][g] = float32(z[ring.H] - z[ring.V] + cal.DOffset)
		d[ring.ProductV][g] = float32(cal.VelocityFactor() * sc.phase[ring.H][g])
		d[ring.ProductVv][g] = float32(cal.VelocityFactor() * sc.phase[ring.V][g])
		d[ring.ProductW][g] = float32(cal.WidthFactor() * math.Sqrt(sc.beta[ring.H][g]))
		d[ring.ProductWv][g] = float32(cal.WidthFactor() * math.Sqrt(sc.beta[ring.V][g]))
		d[ring.ProductSh][g] = float32(10 * math.Log10(sc.snr[ring.H][g]))
		d[ring.ProductSv][g] = float32(10 * math.Log10(sc.snr[ring.V][g]))
		d[ring.ProductQ][g] = float32(sc.sqi[ring.H][g])
		d[ring.ProductR][g] = float32(rhoHV(sc, g))

		// Unwrap the differential phase along range.
		phi := cmplx.Phase(sc.cross[g]) * 180 / math.Pi
		if g > 0 {
			phi = prev + wrap180(phi-prev)
		}
		sc.phi[g] = phi
		prev = phi
		d[ring.ProductP][g] = float32(phi + cal.POffset)
		d[ring.ProductK][g] = 0
		if g > 0 {
			d[ring.ProductK][g] = float32(cal.KDPFactor() * (phi - sc.phi[g-1]))
		}
	}
}

// rhoHV is |C0| normalized by the channel powers, with the noise bias of
// each channel removed.
func rhoHV(sc *Scratch, g int) float64 {
	h, v := real(sc.Lag(ring.H, 0)[g]), real(sc.Lag(ring.V, 0)[g])
	snrH, snrV := sc.snr[ring.H][g], sc.snr[ring.V][g]
	if h <= 0 || v <= 0 || snrH <= 0 || snrV <= 0 {
		return 0
	}
	return cmplx.Abs(sc.cross[g]) / math.Sqrt(h*v) * math.Sqrt((1+1/snrH)*(1+1/snrV))
}

func wrap180(d float64) float64 {
	d = math.Mod(d, 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}

// mask censors gates under the SNR or SQI thresholds, then censors every
// gate whose successor was censored. Despeckling reads the threshold mask
// only, so it does not cascade. Gates where the V channel alone is under the
// SNR threshold are censored for the V products only.
func mask(sc *Scratch, th Thresholds, gates int) {
	snr := math.Pow(10, th.SNR/10)
	c := sc.censor[:gates]
	for g := range c {
		c[g] = sc.snr[ring.H][g] < snr || sc.sqi[ring.H][g] < th.SQI
	}
	// Forward order reads each successor before it is rewritten.
	for g := 0; g+1 < gates; g++ {
		c[g] = c[g] || c[g+1]
	}
	cv := sc.censorV[:gates]
	for g := range cv {
		cv[g] = c[g] || !(sc.snr[ring.V][g] >= snr)
	}
}

// readsV reports whether a product depends on the V channel.
func readsV(p ring.Product) bool {
	switch p {
	case ring.ProductD, ring.ProductR, ring.ProductP, ring.ProductK, ring.ProductVv, ring.ProductWv:
		return true
	}
	return false
}
