package moment

import (
	"math"

	"github.com/chzchzchz/momentrx/ring"
)

// Scale maps [Min, Max] onto display bytes 1..255; 0 marks a censored gate.
type Scale struct {
	Min, Max float32
}

func (s Scale) Quantize(v float32) uint8 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	x := (v - s.Min) / (s.Max - s.Min) * 254
	switch {
	case x <= 0:
		return 1
	case x >= 254:
		return 255
	}
	return uint8(1 + x + 0.5)
}

// Value is the center of a display byte's bin.
func (s Scale) Value(b uint8) float32 {
	if b == 0 {
		return float32(math.NaN())
	}
	return s.Min + float32(b-1)/254*(s.Max-s.Min)
}

// Scales are the display ranges of every product.
type Scales [ring.ProductCount]Scale

func DefaultScales(cal *Calibration) Scales {
	va := float32(cal.Nyquist())
	var s Scales
	s[ring.ProductZ] = Scale{-32, 94.5}
	s[ring.ProductV] = Scale{-va, va}
	s[ring.ProductW] = Scale{0, va}
	s[ring.ProductD] = Scale{-8, 8}
	s[ring.ProductP] = Scale{0, 360}
	s[ring.ProductR] = Scale{0, 1.05}
	s[ring.ProductK] = Scale{-10, 20}
	s[ring.ProductSh] = Scale{-10, 60}
	s[ring.ProductSv] = Scale{-10, 60}
	s[ring.ProductQ] = Scale{0, 1}
	s[ring.ProductVv] = s[ring.ProductV]
	s[ring.ProductWv] = s[ring.ProductW]
	return s
}

// quantize blanks censored gates in every product except the channel SNRs,
// blanks values that are not finite, then fills the display bytes.
func quantize(sc *Scratch, scales *Scales, ray *ring.Ray, gates int) {
	for p := ring.Product(0); p < ring.ProductCount; p++ {
		data, disp := ray.Data[p][:gates], ray.Display[p][:gates]
		censor := sc.censor[:gates]
		if readsV(p) {
			censor = sc.censorV[:gates]
		}
		keep := p == ring.ProductSh || p == ring.ProductSv
		for g := range data {
			if (censor[g] && !keep) || math.IsInf(float64(data[g]), 0) {
				data[g] = nan32
			}
			disp[g] = scales[p].Quantize(data[g])
		}
	}
}
