// Package sched holds the suspension and placement policies shared by the
// worker pools: how an idle worker waits for its next assignment, how
// assignments reach it, and which core it runs on.
package sched

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// PollInterval bounds how long any wait loop goes without rechecking the
// engine's active flag.
var PollInterval = 200 * time.Microsecond

type Strategy string

const (
	// Blocking parks the worker on a channel receive.
	Blocking Strategy = "blocking"
	// Polling spins on a generation counter with short sleeps.
	Polling Strategy = "polling"
)

// Semaphore counts posted work items for one worker.
type Semaphore interface {
	Post()
	// Wait takes one post. Once active is cleared it returns false and
	// leaves any pending posts.
	Wait(active *atomic.Bool) bool
}

func NewSemaphore(s Strategy, depth int) (Semaphore, error) {
	switch s {
	case Blocking, "":
		return &chanSemaphore{c: make(chan struct{}, depth)}, nil
	case Polling:
		return &pollSemaphore{}, nil
	}
	return nil, fmt.Errorf("unknown suspension strategy %q", s)
}

type chanSemaphore struct{ c chan struct{} }

func (s *chanSemaphore) Post() { s.c <- struct{}{} }

// Wait returns false once active is cleared, even with posts pending.
func (s *chanSemaphore) Wait(active *atomic.Bool) bool {
	if !active.Load() {
		return false
	}
	t := time.NewTimer(PollInterval)
	defer t.Stop()
	for {
		select {
		case <-s.c:
			return true
		case <-t.C:
			if !active.Load() {
				return false
			}
			t.Reset(PollInterval)
		}
	}
}

// pollSemaphore is the portable fallback: the poster bumps a generation
// counter and the waiter consumes generations one at a time.
type pollSemaphore struct {
	posted atomic.Uint64
	taken  uint64
}

func (s *pollSemaphore) Post() { s.posted.Add(1) }

func (s *pollSemaphore) Wait(active *atomic.Bool) bool {
	for spins := 0; ; spins++ {
		if !active.Load() {
			return false
		}
		if s.posted.Load() > s.taken {
			s.taken++
			return true
		}
		if spins < 64 {
			runtime.Gosched()
			continue
		}
		time.Sleep(PollInterval)
	}
}

// Sleep waits one poll interval and reports whether the engine is still
// active. Watchers use it between checks of the producer cursor.
func Sleep(active *atomic.Bool) bool {
	time.Sleep(PollInterval)
	return active.Load()
}

// Pin locks the calling goroutine to its OS thread and restricts that thread
// to core. A negative core leaves placement to the scheduler.
func Pin(core int) error {
	if core < 0 {
		return nil
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(core % runtime.NumCPU())
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("pin to core %d: %w", core, err)
	}
	return nil
}

// Unpin releases the thread locked by Pin.
func Unpin(core int) {
	if core >= 0 {
		runtime.UnlockOSThread()
	}
}

// Cores assigns consecutive cores starting at origin to n workers, or -1 to
// each when origin is negative.
func Cores(origin, n int) []int {
	cores := make([]int, n)
	for i := range cores {
		if origin < 0 {
			cores[i] = -1
		} else {
			cores[i] = origin + i
		}
	}
	return cores
}
