package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/chzchzchz/momentrx/ring"
	"github.com/kr/pty"
	"golang.org/x/sys/unix"
)

var ErrNoCommand = errors.New("no transceiver command")

// CommandSource runs an external transceiver helper under a pty, mirroring
// its console, and reads its pulse stream from a FIFO.
type CommandSource struct {
	fifo string
	cmd  *exec.Cmd
	fpty *os.File

	mu    sync.RWMutex
	gates int
	prf   float64
}

func NewCommandSource(ctx context.Context, fifo string, args []string) (*CommandSource, error) {
	if len(args) == 0 {
		return nil, ErrNoCommand
	}
	if err := makeFIFO(fifo); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	fpty, err := pty.Start(cmd)
	if err != nil {
		os.Remove(fifo)
		return nil, err
	}
	go io.Copy(os.Stdout, fpty)
	return &CommandSource{fifo: fifo, cmd: cmd, fpty: fpty}, nil
}

// makeFIFO creates the pulse FIFO. A node left at the path by a crashed run
// is removed and the FIFO created again; failing twice is fatal.
func makeFIFO(path string) error {
	err := unix.Mkfifo(path, 0600)
	if err == nil || !errors.Is(err, unix.EEXIST) {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale fifo: %w", err)
	}
	if err := unix.Mkfifo(path, 0600); err != nil {
		return fmt.Errorf("recreate fifo %s: %w", path, err)
	}
	return nil
}

func (cs *CommandSource) Info() SourceInfo {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return SourceInfo{Id: cs.cmd.Path, Kind: "cmd", Gates: cs.gates, PRF: cs.prf}
}

func (cs *CommandSource) Run(ctx context.Context, r *ring.PulseRing) error {
	f, err := cs.open(ctx)
	if err != nil {
		return err
	}
	defer f.Close()
	pr, err := NewPulseReader(f)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	cs.gates, cs.prf = pr.Gates(), pr.PRF()
	cs.mu.Unlock()
	// The helper paces its own stream.
	return publishAll(ctx, pr, r, 0)
}

// open waits for the helper to open its end of the FIFO. Opening the write
// side ourselves releases the blocked open on cancellation.
func (cs *CommandSource) open(ctx context.Context) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.Open(cs.fifo)
		ch <- result{f, err}
	}()
	select {
	case res := <-ch:
		return res.f, res.err
	case <-ctx.Done():
		if w, err := os.OpenFile(cs.fifo, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
			w.Close()
		}
		if res := <-ch; res.f != nil {
			res.f.Close()
		}
		return nil, ctx.Err()
	}
}

func (cs *CommandSource) Close() error {
	cs.fpty.Close()
	err := cs.cmd.Wait()
	os.Remove(cs.fifo)
	return err
}
