package duty

import "sync/atomic"

const (
	DefaultThreshold    = 0.9
	DefaultSkipFraction = 0.1
)

// Controller is the shed policy of one engine. Only the engine's watcher
// calls Admit; the counters may be read from anywhere.
type Controller struct {
	threshold float64
	window    int
	remaining int

	overflows atomic.Uint64
	skipped   atomic.Uint64
}

// NewController opens skip windows of fraction*capacity items whenever
// the pool's maximum lag exceeds threshold.
func NewController(capacity int, threshold, fraction float64) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if fraction <= 0 {
		fraction = DefaultSkipFraction
	}
	w := int(float64(capacity) * fraction)
	if w < 1 {
		w = 1
	}
	return &Controller{threshold: threshold, window: w}
}

// Admit reports whether the next item should be computed. Items arriving
// inside a skip window are shed. Closing a window zeroes each worker's lag
// so one episode is counted once.
func (c *Controller) Admit(pool []*Tracker) bool {
	if c.remaining == 0 && MaxLag(pool) > c.threshold {
		c.overflows.Add(1)
		c.remaining = c.window
	}
	if c.remaining == 0 {
		return true
	}
	c.remaining--
	c.skipped.Add(1)
	if c.remaining == 0 {
		for _, t := range pool {
			t.ResetLag()
		}
	}
	return false
}

func (c *Controller) Window() int        { return c.window }
func (c *Controller) Skipping() bool     { return c.remaining > 0 }
func (c *Controller) Overflows() uint64  { return c.overflows.Load() }
func (c *Controller) Skipped() uint64    { return c.skipped.Load() }
func (c *Controller) Threshold() float64 { return c.threshold }
