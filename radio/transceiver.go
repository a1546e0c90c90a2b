package radio

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/chzchzchz/momentrx/ring"
)

// Transceiver synthesizes pulses of a rotating antenna looking at a uniform
// wind: every gate carries A exp(j(theta + omega(az) n)) plus complex noise,
// with omega(az) = Omega cos(az) and A falling off with range.
type Transceiver struct {
	Gates int
	// PRF in Hz paces the pulses; zero publishes as fast as the ring takes
	// them, still stamping angles as if at DefaultPRF.
	PRF float64
	// RPM is the antenna rotation rate.
	RPM       float64
	Elevation float32
	Amplitude float64
	// Omega is the Doppler phase step per pulse along the wind.
	Omega float64
	Noise float64
	// Hops adds a fixed phase per hop, pulse n using hop n mod Hops.
	Hops int
	// Pulses stops the transceiver after that many pulses; zero runs until
	// cancelled.
	Pulses int
	Seed   int64
}

const DefaultPRF = 1000

func (t *Transceiver) Info() SourceInfo {
	return SourceInfo{Id: "synthetic", Kind: "synthetic", Gates: t.Gates, PRF: t.PRF}
}

func (t *Transceiver) Close() error { return nil }

func (t *Transceiver) Run(ctx context.Context, r *ring.PulseRing) error {
	gates := min(t.Gates, r.GateCapacity())
	if gates <= 0 {
		gates = r.GateCapacity()
	}
	prf := t.PRF
	if prf <= 0 {
		prf = DefaultPRF
	}
	rng := rand.New(rand.NewSource(t.Seed))
	hops := make([]float64, max(t.Hops, 1))
	for i := 1; i < len(hops); i++ {
		hops[i] = rng.Float64() * 2 * math.Pi
	}
	pace := newPacer(t.PRF)
	degPerPulse := t.RPM * 6 / prf
	for n := 0; t.Pulses == 0 || n < t.Pulses; n++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p := r.Claim()
		seq := p.Seq()
		az := math.Mod(float64(seq)*degPerPulse, 360)
		omega := t.Omega * math.Cos(az*math.Pi/180)
		theta := omega*float64(seq) + hops[seq%uint64(len(hops))]
		for pol := 0; pol < ring.Polarizations; pol++ {
			for g := 0; g < gates; g++ {
				a := t.Amplitude / (1 + float64(g)/16)
				v := complex(
					a*math.Cos(theta)+t.Noise*rng.NormFloat64(),
					a*math.Sin(theta)+t.Noise*rng.NormFloat64())
				p.SetRawGate(pol, g, complex64(v))
			}
		}
		pace.wait(ctx)
		p.Time = time.Now()
		p.Gates = gates
		p.Azimuth = float32(az)
		p.Elevation = t.Elevation
		p.AzimuthVelocity = float32(t.RPM * 6)
		r.Publish(p, ring.PulseHasPosition)
	}
	return nil
}
