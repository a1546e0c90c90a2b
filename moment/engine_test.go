package moment

import (
	"io"
	"log"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/chzchzchz/momentrx/ring"
	"github.com/chzchzchz/momentrx/sched"
)

const testGates = 8

func newTestEngine(t *testing.T, cfg Config) (*Engine, *ring.PulseRing, *ring.RayRing) {
	pulses, err := ring.NewPulseRing(128, testGates)
	if err != nil {
		t.Fatal(err)
	}
	rays, err := ring.NewRayRing(16, testGates)
	if err != nil {
		t.Fatal(err)
	}
	cal := DefaultCalibration()
	cal.Noise = [ring.Polarizations]float64{0.01, 0.01}
	cfg.CoreOrigin = -1
	cfg.IdleFlush = 50 * time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	e, err := NewEngine(pulses, rays, cal, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	return e, pulses, rays
}

// publishTone writes n compressed pulses at one azimuth carrying a noiseless
// tone advancing omega radians per pulse.
func publishTone(r *ring.PulseRing, n int, az float32, omega float64) {
	for i := 0; i < n; i++ {
		p := r.Claim()
		ph := omega * float64(p.Seq())
		for pol := 0; pol < ring.Polarizations; pol++ {
			for g := 0; g < testGates; g++ {
				v := complex(float32(10*math.Cos(ph)), float32(10*math.Sin(ph)))
				p.Y[pol][g] = v
				p.I[pol][g], p.Q[pol][g] = real(v), imag(v)
			}
		}
		p.Time = time.Unix(0, int64(p.Seq()))
		p.Azimuth = az
		p.Gates, p.CompressedGates = testGates, testGates
		r.Publish(p, ring.PulseHasPosition|ring.PulseCompressed)
	}
}

func readRays(t *testing.T, rd *ring.RayReader, n int) []*ring.Ray {
	var rays []*ring.Ray
	deadline := time.Now().Add(5 * time.Second)
	for len(rays) < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d rays became ready", len(rays), n)
		}
		if ray := rd.Next(); ray != nil {
			rays = append(rays, ray)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	return rays
}

func TestEngineRays(t *testing.T) {
	for _, s := range []sched.Strategy{sched.Blocking, sched.Polling} {
		e, pulses, rays := newTestEngine(t, Config{Workers: 3, Strategy: s, Thresholds: Thresholds{SNR: 3, SQI: 0.5}})
		rd := rays.NewReader()
		const omega = 0.5
		publishTone(pulses, 10, 10.5, omega)
		publishTone(pulses, 2, 11.5, omega)
		publishTone(pulses, 20, 12.5, omega)

		got := readRays(t, rd, 3)
		wantLen := []int{10, 2, 20}
		wantStatus := []ring.RayStatus{ring.RayProcessed, ring.RaySkipped, ring.RayProcessed}
		for i, ray := range got {
			if ray.Seq() != uint64(i) || ray.Span.Length != wantLen[i] {
				t.Fatalf("%s: ray %d seq %d span %+v", s, i, ray.Seq(), ray.Span)
			}
			if !ray.Has(wantStatus[i] | ring.RayReady) {
				t.Fatalf("%s: ray %d status %v", s, i, ray.Status())
			}
		}
		ray := got[0]
		if ray.Gates != testGates || ray.StartAzimuth != 10.5 || ray.EndTime.UnixNano() != 9 {
			t.Fatalf("%s: ray metadata %d gates az %v end %v", s, ray.Gates, ray.StartAzimuth, ray.EndTime)
		}
		v := float32(e.Calibration().VelocityFactor() * omega)
		for g := 0; g < testGates-1; g++ {
			if d := ray.Data[ring.ProductV][g] - v; d > 1e-3 || d < -1e-3 {
				t.Fatalf("%s: gate %d velocity %v, want %v", s, g, ray.Data[ring.ProductV][g], v)
			}
			if ray.Display[ring.ProductV][g] == 0 {
				t.Fatalf("%s: gate %d censored", s, g)
			}
		}
		if got[1].Gates != 0 {
			t.Fatalf("%s: skipped ray has %d gates", s, got[1].Gates)
		}
		for seq := uint64(0); seq < 32; seq++ {
			if !pulses.At(seq).Has(ring.PulseConsumed) {
				t.Fatalf("%s: pulse %d not consumed", s, seq)
			}
		}
		if e.Telemetry().Anomalies != 1 {
			t.Fatalf("%s: expected the short span as the only anomaly, got %d", s, e.Telemetry().Anomalies)
		}
		e.Stop()
	}
}

func TestReadyRayIsImmutable(t *testing.T) {
	_, pulses, rays := newTestEngine(t, Config{Workers: 2})
	rd := rays.NewReader()
	publishTone(pulses, 12, 100.5, -0.3)
	ray := readRays(t, rd, 1)[0]
	first := append([]float32(nil), ray.Data[ring.ProductZ][:testGates]...)
	disp := append([]uint8(nil), ray.Display[ring.ProductZ][:testGates]...)
	for i := 0; i < 10; i++ {
		time.Sleep(time.Millisecond)
		for g := range first {
			if ray.Data[ring.ProductZ][g] != first[g] || ray.Display[ring.ProductZ][g] != disp[g] {
				t.Fatalf("ready ray changed at gate %d", g)
			}
		}
	}
	ray.MarkStreamed()
	if !ray.Has(ring.RayReady | ring.RayStreamed) {
		t.Fatalf("status %v", ray.Status())
	}
}

func TestEngineRejectsNarrowRayRing(t *testing.T) {
	pulses, _ := ring.NewPulseRing(8, 16)
	rays, _ := ring.NewRayRing(8, 8)
	if _, err := NewEngine(pulses, rays, DefaultCalibration(), Config{}); err == nil {
		t.Fatal("expected error for a ray ring narrower than the pulses")
	}
}

func TestEngineStatus(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{Workers: 2})
	time.Sleep(150 * time.Millisecond)
	if s := e.Status(); len(s) < 2 || s[:2] != "M2" {
		t.Fatalf("status %q", s)
	}
	tel := e.Telemetry()
	if tel.Name != "moment" || len(tel.Workers) != 2 {
		t.Fatalf("telemetry %+v", tel)
	}
}

func TestOverloadSkipsOneWindowOfRays(t *testing.T) {
	const gates, span = 2048, 8
	pulses, _ := ring.NewPulseRing(256, gates)
	rays, _ := ring.NewRayRing(64, gates)
	e, err := NewEngine(pulses, rays, DefaultCalibration(), Config{
		Workers:      1,
		MaxSpan:      span,
		IdleFlush:    time.Second,
		CoreOrigin:   -1,
		Threshold:    0.3,
		SkipFraction: 0.1,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	window := e.Telemetry().Window
	if window != 6 {
		t.Fatalf("expected a window of 6, got %d", window)
	}

	publish := func(spans int) {
		for i := 0; i < spans*span; i++ {
			p := pulses.Claim()
			p.Azimuth = 45.5
			p.Gates, p.CompressedGates = gates, gates
			pulses.Publish(p, ring.PulseHasPosition|ring.PulseCompressed)
		}
	}
	waitReady := func(n uint64) {
		deadline := time.Now().Add(10 * time.Second)
		for rays.ReadyCursor() < n {
			if time.Now().After(deadline) {
				t.Fatalf("%d of %d rays ready: %s", rays.ReadyCursor(), n, e.Status())
			}
			time.Sleep(time.Millisecond)
		}
	}
	// A burst of 28 spans leaves the single worker far behind; spans
	// closing while it works through the backlog are skipped.
	publish(28)
	deadline := time.Now().Add(5 * time.Second)
	for first := rays.At(0); rays.Head() == 0 || !(first.Has(ring.RayProcessed) || first.Has(ring.RaySkipped)); {
		if time.Now().After(deadline) {
			t.Fatal("first ray never finished")
		}
		runtime.Gosched()
	}
	publish(window)
	n := uint64(28 + window)
	waitReady(n)
	// Trickle spans through any window still open.
	for i := 0; e.Telemetry().Skipped%uint64(window) != 0; i++ {
		if i > window {
			t.Fatalf("skip window never closed: %s", e.Status())
		}
		publish(1)
		n++
		waitReady(n)
	}

	tm := e.Telemetry()
	if tm.Overflows == 0 {
		t.Fatalf("no overflow under load: %+v", tm)
	}
	if tm.Skipped != tm.Overflows*uint64(window) {
		t.Fatalf("%d overflows skipped %d rays, want %d each", tm.Overflows, tm.Skipped, window)
	}
	skipped := 0
	for seq := uint64(0); seq < n; seq++ {
		ray := rays.At(seq)
		switch {
		case ray.Seq() != seq || !ray.Has(ring.RayReady) || ray.Span.Length != span:
			t.Fatalf("ray %d: seq %d status %v span %+v", seq, ray.Seq(), ray.Status(), ray.Span)
		case ray.Has(ring.RaySkipped):
			skipped++
			if ray.Gates != 0 {
				t.Fatalf("skipped ray %d has %d gates", seq, ray.Gates)
			}
		case ray.Gates != gates:
			t.Fatalf("ray %d has %d gates", seq, ray.Gates)
		}
	}
	if uint64(skipped) != tm.Skipped || tm.Anomalies != 0 {
		t.Fatalf("%d skipped rays, %d shed, %d anomalies", skipped, tm.Skipped, tm.Anomalies)
	}
	for seq := uint64(0); seq < n*span; seq++ {
		if !pulses.At(seq).Has(ring.PulseConsumed) {
			t.Fatalf("pulse %d not consumed", seq)
		}
	}
}
