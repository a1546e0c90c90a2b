// Package momentrx wires a pulse source, the compression engine and the
// moment engine around a shared pulse ring and ray ring.
package momentrx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chzchzchz/momentrx/compress"
	"github.com/chzchzchz/momentrx/config"
	"github.com/chzchzchz/momentrx/duty"
	"github.com/chzchzchz/momentrx/moment"
	"github.com/chzchzchz/momentrx/radio"
	"github.com/chzchzchz/momentrx/ring"
	"github.com/chzchzchz/momentrx/store"
)

type Pipeline struct {
	Id       uuid.UUID
	Pulses   *ring.PulseRing
	Rays     *ring.RayRing
	Compress *compress.Engine
	Moment   *moment.Engine
	Source   radio.Source
	Rx       *Collector
	Feed     *Feed

	mu      sync.RWMutex
	started time.Time
	srcDone bool
	srcErr  error
}

// New builds the rings and engines described by cfg and opens its source.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	pulses, err := ring.NewPulseRing(cfg.Pulse.Depth, cfg.Pulse.Gates)
	if err != nil {
		return nil, fmt.Errorf("pulse ring: %w", err)
	}
	rays, err := ring.NewRayRing(cfg.Ray.Depth, max(cfg.Ray.Gates, cfg.Pulse.Gates))
	if err != nil {
		return nil, fmt.Errorf("ray ring: %w", err)
	}
	var fs *compress.FilterSet
	if cfg.Compress.Filters != "" {
		st := store.NewFilterStore()
		if err := st.Load(cfg.Compress.Filters); err != nil {
			return nil, err
		}
		if fs, err = st.FilterSet(); err != nil {
			return nil, err
		}
	}
	ce, err := compress.NewEngine(pulses, fs, cfg.CompressEngine(nil))
	if err != nil {
		return nil, err
	}
	me, err := moment.NewEngine(pulses, rays, cfg.MomentCalibration(), cfg.MomentEngine(nil))
	if err != nil {
		ce.Close()
		return nil, err
	}
	src, err := radio.NewSource(ctx, cfg.RadioSource())
	if err != nil {
		ce.Close()
		return nil, err
	}
	p := &Pipeline{
		Id:       uuid.New(),
		Pulses:   pulses,
		Rays:     rays,
		Compress: ce,
		Moment:   me,
		Source:   src,
		Rx:       NewCollector(rays),
		Feed:     NewFeed(),
	}
	p.Rx.Add(p.Feed.Sink)
	return p, nil
}

// Serve runs the engines and the collector, then the source. A finished
// source leaves the engines draining until ctx is done.
func (p *Pipeline) Serve(ctx context.Context) error {
	if err := p.Compress.Start(); err != nil {
		return err
	}
	defer p.Compress.Stop()
	if err := p.Moment.Start(); err != nil {
		return err
	}
	defer p.Moment.Stop()
	p.mu.Lock()
	p.started = time.Now()
	p.mu.Unlock()

	var wg sync.WaitGroup
	defer wg.Wait()
	rxctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Rx.Run(rxctx)
	}()

	err := p.Source.Run(ctx, p.Pulses)
	if err == io.EOF || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		err = nil
	}
	p.mu.Lock()
	p.srcDone, p.srcErr = true, err
	p.mu.Unlock()
	if err != nil {
		log.Printf("source %s: %v", p.Source.Info().Id, err)
		return err
	}
	<-ctx.Done()
	return nil
}

func (p *Pipeline) Close() error {
	p.Compress.Close()
	return p.Source.Close()
}

// Status is a one-line summary of both stages and the collector.
func (p *Pipeline) Status() string {
	return fmt.Sprintf("%s | %s | rx %d lost %d",
		p.Compress.Status(), p.Moment.Status(), p.Rx.Rays(), p.Rx.Lost())
}

type Telemetry struct {
	Id        string             `json:"id"`
	Uptime    string             `json:"uptime"`
	Source    radio.SourceInfo   `json:"source"`
	SrcDone   bool               `json:"source_done"`
	SrcErr    string             `json:"source_error,omitempty"`
	Pulses    uint64             `json:"pulses"`
	Stages    []duty.Telemetry   `json:"stages"`
	Estimator string             `json:"estimator"`
	Rays      uint64             `json:"rays"`
	RaysLost  uint64             `json:"rays_lost"`
	Last      *RaySummary        `json:"last,omitempty"`
	Feeds     int                `json:"feeds"`
	Dropped   uint64             `json:"feed_dropped"`
	Cal       moment.Calibration `json:"calibration"`
}

func (p *Pipeline) Telemetry() Telemetry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t := Telemetry{
		Id:        p.Id.String(),
		Source:    p.Source.Info(),
		SrcDone:   p.srcDone,
		Pulses:    p.Pulses.Head(),
		Stages:    []duty.Telemetry{p.Compress.Telemetry(), p.Moment.Telemetry()},
		Estimator: p.Moment.Estimator().Name(),
		Rays:      p.Rx.Rays(),
		RaysLost:  p.Rx.Lost(),
		Last:      p.Rx.Last(),
		Feeds:     p.Feed.Subscribers(),
		Dropped:   p.Feed.Dropped(),
		Cal:       *p.Moment.Calibration(),
	}
	if !p.started.IsZero() {
		t.Uptime = time.Since(p.started).Truncate(time.Millisecond).String()
	}
	if p.srcErr != nil {
		t.SrcErr = p.srcErr.Error()
	}
	return t
}
