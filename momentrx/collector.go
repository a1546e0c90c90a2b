package momentrx

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/momentrx/ring"
	"github.com/chzchzchz/momentrx/sched"
)

// Sink sees every Ready ray once, in sequence order. The ray must not be
// modified and is only valid until the sink returns.
type Sink func(ray *ring.Ray)

// Collector follows the ray ring's ready cursor and hands rays to sinks.
type Collector struct {
	rd *ring.RayReader

	mu    sync.RWMutex
	sinks []Sink
	last  *RaySummary

	rays atomic.Uint64
	lost atomic.Uint64
	torn atomic.Uint64
}

type RaySummary struct {
	Seq       uint64    `json:"seq"`
	Status    string    `json:"status"`
	Time      time.Time `json:"time"`
	Azimuth   float32   `json:"azimuth"`
	Elevation float32   `json:"elevation"`
	Pulses    int       `json:"pulses"`
	Gates     int       `json:"gates"`
	// MeanZ averages the uncensored reflectivity, dBZ.
	MeanZ float64 `json:"mean_z"`
	// MeanV averages the uncensored velocity, m/s.
	MeanV float64 `json:"mean_v"`
}

func NewCollector(r *ring.RayRing) *Collector {
	return &Collector{rd: r.NewReader()}
}

func (c *Collector) Add(s Sink) {
	c.mu.Lock()
	c.sinks = append(c.sinks, s)
	c.mu.Unlock()
}

func (c *Collector) Run(ctx context.Context) {
	t := time.NewTicker(sched.PollInterval)
	defer t.Stop()
	for {
		ray := c.rd.Next()
		c.lost.Store(c.rd.Lost())
		if ray == nil {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			continue
		}
		c.collect(ray)
	}
}

func (c *Collector) collect(ray *ring.Ray) {
	seq := ray.Seq()
	sum := summarize(ray)
	c.mu.RLock()
	for _, s := range c.sinks {
		s(ray)
	}
	c.mu.RUnlock()
	if ray.Seq() != seq {
		// The gatherer reclaimed the slot while sinks were reading it.
		c.torn.Add(1)
		return
	}
	ray.MarkStreamed()
	c.rays.Add(1)
	c.mu.Lock()
	c.last = &sum
	c.mu.Unlock()
}

func summarize(ray *ring.Ray) RaySummary {
	sum := RaySummary{
		Seq:       ray.Seq(),
		Status:    ray.Status().String(),
		Time:      ray.EndTime,
		Azimuth:   ray.EndAzimuth,
		Elevation: ray.EndElevation,
		Pulses:    ray.Span.Length,
		Gates:     ray.Gates,
	}
	sum.MeanZ = mean(ray.Data[ring.ProductZ][:ray.Gates])
	sum.MeanV = mean(ray.Data[ring.ProductV][:ray.Gates])
	return sum
}

func mean(v []float32) float64 {
	var sum float64
	n := 0
	for _, x := range v {
		if !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0) {
			sum += float64(x)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (c *Collector) Rays() uint64 { return c.rays.Load() }

// Lost counts rays overwritten before or while being collected.
func (c *Collector) Lost() uint64 { return c.lost.Load() + c.torn.Load() }

func (c *Collector) Last() *RaySummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
