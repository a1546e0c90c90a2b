package moment

import (
	"errors"
	"math"

	"github.com/chzchzchz/momentrx/ring"
)

var ErrBadCalibration = errors.New("calibration needs positive wavelength, prt and gate spacing")

// Calibration converts correlations into physical units. The exported
// fields are inputs; Prepare derives the per-gate tables and factors.
type Calibration struct {
	// Noise is the linear noise power per polarization in raw units.
	Noise [ring.Polarizations]float64
	// ZOffset is added to each channel's reflectivity, dB.
	ZOffset [ring.Polarizations]float64
	// DOffset is added to differential reflectivity, dB.
	DOffset float64
	// POffset is added to differential phase, degrees.
	POffset float64
	// GateSpacing in meters, Wavelength in meters, PRT in seconds.
	GateSpacing float64
	Wavelength  float64
	PRT         float64

	rangeCorrection [ring.Polarizations][]float64
	velocityFactor  float64
	widthFactor     float64
	kdpFactor       float64
}

// DefaultCalibration is an S-band radar at 1 kHz PRF with 250 m gates.
func DefaultCalibration() Calibration {
	return Calibration{
		Noise:       [ring.Polarizations]float64{1, 1},
		GateSpacing: 250,
		Wavelength:  0.107,
		PRT:         1e-3,
	}
}

// Prepare returns a copy with range correction tables for gates gates.
func (c Calibration) Prepare(gates int) (*Calibration, error) {
	if c.Wavelength <= 0 || c.PRT <= 0 || c.GateSpacing <= 0 {
		return nil, ErrBadCalibration
	}
	for pol := range c.Noise {
		if c.Noise[pol] <= 0 {
			c.Noise[pol] = math.SmallestNonzeroFloat32
		}
		rc := make([]float64, gates)
		for g := range rc {
			km := (float64(g) + 0.5) * c.GateSpacing / 1000
			rc[g] = 20*math.Log10(km) + c.ZOffset[pol]
		}
		c.rangeCorrection[pol] = rc
	}
	// Positive velocities move away from the radar.
	c.velocityFactor = -c.Wavelength / (4 * math.Pi * c.PRT)
	c.widthFactor = c.Wavelength / (2 * math.Sqrt2 * math.Pi * c.PRT)
	// Two-way phase per km of range.
	c.kdpFactor = 1000 / (2 * c.GateSpacing)
	return &c, nil
}

// Nyquist is the unambiguous velocity in m/s.
func (c *Calibration) Nyquist() float64 { return c.Wavelength / (4 * c.PRT) }

func (c *Calibration) VelocityFactor() float64 { return c.velocityFactor }
func (c *Calibration) WidthFactor() float64    { return c.widthFactor }
func (c *Calibration) KDPFactor() float64      { return c.kdpFactor }

func (c *Calibration) RangeCorrection(pol, g int) float64 { return c.rangeCorrection[pol][g] }
