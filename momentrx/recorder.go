package momentrx

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/momentrx/radio"
	"github.com/chzchzchz/momentrx/ring"
	"github.com/chzchzchz/momentrx/sched"
	"github.com/chzchzchz/momentrx/store"
)

// Recorder copies raw pulses from the ring into a capture file. It reads
// behind the compression stage and never marks pulses.
type Recorder struct {
	rd *ring.Reader
	pw *radio.PulseWriter
	f  *os.File

	// mu orders writes against Close.
	mu     sync.Mutex
	closed bool

	pulses atomic.Uint64
	torn   atomic.Uint64
}

func NewRecorder(r *ring.PulseRing, cs *store.CaptureStore, gates int, prf float64) (*Recorder, error) {
	f, err := cs.OpenFile(gates)
	if err != nil {
		return nil, err
	}
	pw, err := radio.NewPulseWriter(f, gates, prf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Recorder{rd: r.NewReader(ring.PulseHasIQData), pw: pw, f: f}, nil
}

func (rc *Recorder) Path() string { return rc.f.Name() }

// Run writes pulses until ctx is done and the recorder has caught up, or
// until the recorder is closed.
func (rc *Recorder) Run(ctx context.Context) error {
	for {
		p := rc.rd.Next()
		if p == nil {
			if ctx.Err() != nil || rc.isClosed() {
				return nil
			}
			time.Sleep(sched.PollInterval)
			continue
		}
		if ok, err := rc.write(p); !ok || err != nil {
			return err
		}
	}
}

// write records one pulse, returning false once the recorder is closed.
func (rc *Recorder) write(p *ring.Pulse) (bool, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false, nil
	}
	seq := p.Seq()
	if err := rc.pw.Write(p); err != nil {
		return false, err
	}
	if p.Seq() != seq {
		rc.torn.Add(1)
	}
	rc.pulses.Add(1)
	return true, nil
}

func (rc *Recorder) isClosed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

func (rc *Recorder) Pulses() uint64 { return rc.pulses.Load() }

// Lost counts pulses overwritten before or while being written. It is
// only valid once Run has returned.
func (rc *Recorder) Lost() uint64 { return rc.rd.Lost() + rc.torn.Load() }

// Close waits out a write in progress, stops Run and closes the file.
func (rc *Recorder) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return nil
	}
	rc.closed = true
	return rc.f.Close()
}
