// Package compress runs matched-filter pulse compression over the pulse ring
// with a watcher goroutine and a pool of pinned workers.
package compress

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/momentrx/dft"
	"github.com/chzchzchz/momentrx/duty"
	"github.com/chzchzchz/momentrx/ring"
	"github.com/chzchzchz/momentrx/sched"
)

var (
	ErrGateMismatch = errors.New("declared gate count does not fit the pulse buffer")
	ErrRunning      = errors.New("engine already running")
)

type Config struct {
	Workers      int
	Backend      dft.Backend
	PlanCapacity int
	Strategy     sched.Strategy
	// CoreOrigin is the first core workers are pinned to; negative disables
	// pinning.
	CoreOrigin int
	// RequirePosition waits for HasPosition as well as HasIQData.
	RequirePosition bool
	InboxDepth      int
	DutyDepth       int
	Threshold       float64
	SkipFraction    float64
	Logger          *log.Logger
}

type Engine struct {
	cfg   Config
	ring  *ring.PulseRing
	plans *dft.Cache
	log   *log.Logger

	// mu serializes filter swaps and plan pre-warming.
	mu      sync.Mutex
	filters atomic.Pointer[FilterSet]
	version uint64

	workers  []*worker
	trackers []*duty.Tracker
	bp       *duty.Controller

	active atomic.Bool
	wg     sync.WaitGroup

	anomalies   atomic.Uint64
	lost        atomic.Uint64
	lastAnomaly atomic.Int64

	statusMu sync.Mutex
	status   string
}

type worker struct {
	id    int
	core  int
	e     *Engine
	sem   sched.Semaphore
	inbox *sched.Inbox[uint64]
	duty  *duty.Tracker

	version   uint64
	templates map[templateKey][]complex64
}

type templateKey struct {
	group, filter, size int
}

func NewEngine(r *ring.PulseRing, fs *FilterSet, cfg Config) (*Engine, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.InboxDepth <= 0 {
		cfg.InboxDepth = r.Capacity()
	}
	if cfg.DutyDepth <= 0 {
		cfg.DutyDepth = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[compress] ", log.LstdFlags)
	}
	plans, err := dft.NewCache(cfg.Backend, cfg.Workers, cfg.PlanCapacity)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		ring:  r,
		plans: plans,
		log:   cfg.Logger,
		bp:    duty.NewController(r.Capacity(), cfg.Threshold, cfg.SkipFraction),
	}
	cores := sched.Cores(cfg.CoreOrigin, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		sem, err := sched.NewSemaphore(cfg.Strategy, cfg.InboxDepth)
		if err != nil {
			return nil, err
		}
		w := &worker{
			id:        i,
			core:      cores[i],
			e:         e,
			sem:       sem,
			inbox:     sched.NewInbox[uint64](cfg.InboxDepth),
			duty:      duty.NewTracker(cfg.DutyDepth),
			templates: make(map[templateKey][]complex64),
		}
		e.workers = append(e.workers, w)
		e.trackers = append(e.trackers, w.duty)
	}
	if fs == nil {
		fs = NewImpulseFilterSet(r.GateCapacity())
	}
	if err := e.SetFilters(fs); err != nil {
		return nil, err
	}
	return e, nil
}

// SetFilters publishes a new waveform. Plans for every size the set can need
// at full gate capacity are built before the swap so that running out of
// plan cache surfaces here rather than inside a worker.
func (e *Engine) SetFilters(fs *FilterSet) error {
	if fs == nil || fs.GroupCount() == 0 {
		return ErrNoFilterGroup
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range fs.TransformSizes(e.ring.GateCapacity()) {
		for w := range e.workers {
			if _, err := e.plans.Get(w, n); err != nil {
				return fmt.Errorf("prepare %d point transform: %w", n, err)
			}
		}
	}
	e.version++
	next := *fs
	next.version = e.version
	e.filters.Store(&next)
	return nil
}

func (e *Engine) Filters() *FilterSet { return e.filters.Load() }

func (e *Engine) Start() error {
	if !e.active.CompareAndSwap(false, true) {
		return ErrRunning
	}
	want := ring.PulseHasIQData
	if e.cfg.RequirePosition {
		want |= ring.PulseHasPosition
	}
	rd := e.ring.NewReader(want)
	e.wg.Add(len(e.workers) + 1)
	for _, w := range e.workers {
		go w.run()
	}
	go e.watch(rd)
	return nil
}

// Stop clears the active flag and joins the watcher and every worker. Items
// already taken by a worker run to completion.
func (e *Engine) Stop() {
	e.active.Store(false)
	e.wg.Wait()
}

func (e *Engine) Close() {
	e.Stop()
	e.plans.Close()
}

func (e *Engine) watch(rd *ring.Reader) {
	defer e.wg.Done()
	next := 0
	lastStatus := time.Now()
	for e.active.Load() {
		if time.Since(lastStatus) > 100*time.Millisecond {
			e.refreshStatus()
			lastStatus = time.Now()
		}
		p := rd.Next()
		e.lost.Store(rd.Lost())
		if p == nil {
			sched.Sleep(&e.active)
			continue
		}
		if !e.bp.Admit(e.trackers) {
			skip(p)
			continue
		}
		w := e.workers[next]
		next = (next + 1) % len(e.workers)
		if !w.inbox.Push(p.Seq()) {
			e.anomaly(p.Seq(), fmt.Errorf("worker %d inbox full", w.id))
			skip(p)
			continue
		}
		w.sem.Post()
	}
	e.refreshStatus()
}

// skip marks a pulse compressed-empty.
func skip(p *ring.Pulse) {
	p.CompressedGates = 0
	p.Set(ring.PulseCompressed)
}

func (w *worker) run() {
	defer w.e.wg.Done()
	if err := sched.Pin(w.core); err != nil {
		w.e.log.Printf("worker %d: %v", w.id, err)
	}
	defer sched.Unpin(w.core)
	for w.sem.Wait(&w.e.active) {
		seq, ok := w.inbox.Pop()
		if !ok {
			continue
		}
		w.duty.Begin(time.Now())
		w.duty.SetLag(w.e.ring.Staleness(seq))
		p := w.e.ring.At(seq)
		if p.Seq() == seq {
			if err := w.compress(p); err != nil {
				w.e.anomaly(seq, err)
				p.CompressedGates = 0
			}
			p.Set(ring.PulseCompressed)
		}
		w.duty.End(time.Now())
	}
}

func (w *worker) compress(p *ring.Pulse) error {
	fs := w.e.filters.Load()
	if fs == nil || fs.GroupCount() == 0 {
		return ErrNoFilterGroup
	}
	gates := p.Gates
	if gates <= 0 || gates > w.e.ring.GateCapacity() || len(p.Raw[ring.H]) < 2*gates {
		return fmt.Errorf("%d gates: %w", gates, ErrGateMismatch)
	}
	if w.version != fs.version {
		clear(w.templates)
		w.version = fs.version
	}
	gi := fs.GroupIndex(p.Seq())
	written := 0
	for pol := 0; pol < ring.Polarizations; pol++ {
		y := p.Y[pol][:gates]
		clear(y)
		for fi, f := range fs.Groups[gi] {
			written = max(written, w.apply(p, pol, y, gi, fi, f))
		}
		is, qs := p.I[pol][:gates], p.Q[pol][:gates]
		for g, v := range y {
			is[g], qs[g] = real(v), imag(v)
		}
	}
	p.CompressedGates = written
	return nil
}

// apply convolves one template with the pulse's samples from the template's
// origin and writes the valid part of the result into y. It returns the gate
// after the last one written.
func (w *worker) apply(p *ring.Pulse, pol int, y []complex64, gi, fi int, f Filter) int {
	gates := len(y)
	if f.Origin >= gates {
		return 0
	}
	n := transformSize(gates, f)
	plan, err := w.e.plans.Get(w.id, n)
	if err != nil {
		// Running out of plan cache is a configuration error.
		panic(err)
	}
	in := plan.In()
	m := min(gates-f.Origin, n)
	for i := 0; i < m; i++ {
		in[i] = p.RawGate(pol, f.Origin+i)
	}
	clear(in[m:])
	plan.ForwardInPlace()
	h := w.template(plan, gi, fi, f)
	for i := range in {
		in[i] *= h[i]
	}
	plan.InverseInPlace()
	count := outputLength(gates, n, f)
	scale := complex(1/float32(n), 0)
	for k := 0; k < count; k++ {
		y[f.Origin+k] = in[f.Length-1+k] * scale
	}
	if count == 0 {
		return 0
	}
	return f.Origin + count
}

// template returns the cached transform of a filter's taps.
func (w *worker) template(plan dft.Plan, gi, fi int, f Filter) []complex64 {
	k := templateKey{gi, fi, plan.Size()}
	if h, ok := w.templates[k]; ok {
		return h
	}
	aux := plan.Aux()
	clear(aux)
	copy(aux, f.Taps)
	plan.ForwardOutOfPlace()
	h := append([]complex64(nil), plan.Out()...)
	w.templates[k] = h
	return h
}

func transformSize(gates int, f Filter) int {
	return dft.NextPow2(min(gates, f.MaxOutput))
}

// outputLength is the valid part of the linear convolution,
// min(gates-length+1, maxOutput), further bounded by what the transform and
// the pulse from the filter's origin can hold. A length 1 template keeps
// every gate.
func outputLength(gates, n int, f Filter) int {
	count := min(gates-f.Length+1, f.MaxOutput, n-f.Length+1, gates-f.Origin)
	return max(count, 0)
}

// anomaly counts a per-item failure and logs at most once a second.
func (e *Engine) anomaly(seq uint64, err error) {
	total := e.anomalies.Add(1)
	now := time.Now().UnixNano()
	last := e.lastAnomaly.Load()
	if now-last < int64(time.Second) || !e.lastAnomaly.CompareAndSwap(last, now) {
		return
	}
	e.log.Printf("pulse %d: %v (%d anomalies)", seq, err, total)
}

func (e *Engine) refreshStatus() {
	s := fmt.Sprintf("C%d %s ovf %d skip %d err %d lost %d",
		len(e.workers), duty.Format(e.trackers), e.bp.Overflows(), e.bp.Skipped(), e.anomalies.Load(), e.lost.Load())
	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

// Status is the one-line summary refreshed by the watcher.
func (e *Engine) Status() string {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.status == "" {
		return fmt.Sprintf("C%d idle", len(e.workers))
	}
	return e.status
}

func (e *Engine) Telemetry() duty.Telemetry {
	return duty.Telemetry{
		Name:      "compress",
		Active:    e.Active(),
		Workers:   duty.Stats(e.trackers),
		Threshold: e.bp.Threshold(),
		Window:    e.bp.Window(),
		Overflows: e.bp.Overflows(),
		Skipped:   e.bp.Skipped(),
		Anomalies: e.anomalies.Load(),
		Lost:      e.lost.Load(),
		Status:    e.Status(),
	}
}

func (e *Engine) Active() bool { return e.active.Load() }
