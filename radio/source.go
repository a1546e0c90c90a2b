// Package radio holds the producers that feed the pulse ring: a synthetic
// transceiver, pulse file replay and an external transceiver helper.
package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chzchzchz/momentrx/ring"
)

var ErrUnknownSource = errors.New("unknown pulse source")

type Source interface {
	// Run publishes pulses into r until ctx is done or the source ends.
	Run(ctx context.Context, r *ring.PulseRing) error
	Info() SourceInfo
	Close() error
}

type SourceInfo struct {
	Id    string  `json:"id"`
	Kind  string  `json:"kind"`
	Gates int     `json:"gates"`
	PRF   float64 `json:"prf"`
}

type SourceConfig struct {
	Kind    string
	Path    string
	Command []string
	Transceiver
}

// NewSource opens a producer by kind: "synthetic", "file" or "cmd".
func NewSource(ctx context.Context, cfg SourceConfig) (Source, error) {
	switch cfg.Kind {
	case "synthetic", "":
		t := cfg.Transceiver
		return &t, nil
	case "file":
		return OpenFileSource(cfg.Path, cfg.PRF)
	case "cmd":
		return NewCommandSource(ctx, cfg.Path, cfg.Command)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Kind)
}

// FileSource replays a pulse file, paced at prf when prf is positive.
type FileSource struct {
	f   *os.File
	pr  *PulseReader
	prf float64
}

func OpenFileSource(path string, prf float64) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	pr, err := NewPulseReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &FileSource{f: f, pr: pr, prf: prf}, nil
}

func (fs *FileSource) Info() SourceInfo {
	return SourceInfo{Id: fs.f.Name(), Kind: "file", Gates: fs.pr.Gates(), PRF: fs.prf}
}

func (fs *FileSource) Run(ctx context.Context, r *ring.PulseRing) error {
	return publishAll(ctx, fs.pr, r, fs.prf)
}

func (fs *FileSource) Close() error { return fs.f.Close() }

// publishAll copies records from pr into the ring until the stream ends.
func publishAll(ctx context.Context, pr *PulseReader, r *ring.PulseRing, prf float64) error {
	p := newPacer(prf)
	for ctx.Err() == nil {
		slot := r.Claim()
		if _, err := pr.Read(slot); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		p.wait(ctx)
		r.Publish(slot, ring.PulseHasPosition)
	}
	return ctx.Err()
}

// pacer releases pulses at a fixed rate, catching up after stalls rather
// than sleeping once per pulse.
type pacer struct {
	period time.Duration
	start  time.Time
	n      int64
}

func newPacer(prf float64) *pacer {
	p := &pacer{start: time.Now()}
	if prf > 0 {
		p.period = time.Duration(float64(time.Second) / prf)
	}
	return p
}

func (p *pacer) wait(ctx context.Context) {
	p.n++
	if p.period == 0 {
		return
	}
	due := p.start.Add(time.Duration(p.n) * p.period)
	if d := time.Until(due); d > time.Millisecond {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
}
