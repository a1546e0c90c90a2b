package duty

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestDutyCycleWindow(t *testing.T) {
	tr := NewTracker(4)
	now := time.Unix(0, 0)
	// 25% busy: 1ms of work every 4ms.
	for i := 0; i < 10; i++ {
		tr.Begin(now)
		tr.End(now.Add(time.Millisecond))
		now = now.Add(4 * time.Millisecond)
	}
	if d := tr.DutyCycle(); math.Abs(d-0.25) > 1e-9 {
		t.Fatalf("expected 0.25, got %v", d)
	}
	// Window forgets the old rate after depth periods.
	for i := 0; i < 4; i++ {
		tr.Begin(now)
		tr.End(now.Add(3 * time.Millisecond))
		now = now.Add(4 * time.Millisecond)
	}
	tr.Begin(now)
	if d := tr.DutyCycle(); math.Abs(d-0.75) > 1e-9 {
		t.Fatalf("expected 0.75, got %v", d)
	}
	if tr.Processed() != 14 {
		t.Fatalf("expected 14 processed, got %d", tr.Processed())
	}
}

func TestBackpressureOneEpisode(t *testing.T) {
	pool := []*Tracker{NewTracker(1), NewTracker(1)}
	c := NewController(100, 0.9, 0.1)
	if c.Window() != 10 {
		t.Fatalf("expected window 10, got %d", c.Window())
	}
	if !c.Admit(pool) {
		t.Fatal("expected admit with no lag")
	}
	pool[1].SetLag(0.95)
	shed := 0
	for i := 0; i < 50; i++ {
		if !c.Admit(pool) {
			shed++
		}
	}
	if shed != 10 {
		t.Fatalf("expected exactly one window of 10 shed items, got %d", shed)
	}
	if c.Overflows() != 1 {
		t.Fatalf("expected 1 overflow, got %d", c.Overflows())
	}
	if pool[1].Lag() != 0 {
		t.Fatal("lag not reset after window closed")
	}

	// A second episode counts again.
	pool[0].SetLag(0.91)
	c.Admit(pool)
	if c.Overflows() != 2 || !c.Skipping() {
		t.Fatalf("expected second episode, got %d", c.Overflows())
	}
	if c.Skipped() != 11 {
		t.Fatalf("expected 11 skipped, got %d", c.Skipped())
	}
}

func TestThresholdIsExclusive(t *testing.T) {
	pool := []*Tracker{NewTracker(1)}
	pool[0].SetLag(0.9)
	c := NewController(10, 0.9, 0.1)
	if !c.Admit(pool) {
		t.Fatal("lag equal to the threshold must not shed")
	}
}

func TestFormat(t *testing.T) {
	pool := []*Tracker{NewTracker(1), NewTracker(1)}
	pool[1].SetLag(0.5)
	s := Format(pool)
	if !strings.HasSuffix(s, "| 0.50") {
		t.Fatalf("got %q", s)
	}
	if st := Stats(pool); len(st) != 2 || st[1].Lag != 0.5 {
		t.Fatalf("got %+v", st)
	}
}
