package moment

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/momentrx/duty"
	"github.com/chzchzchz/momentrx/ring"
	"github.com/chzchzchz/momentrx/sched"
)

var (
	ErrRunning     = errors.New("engine already running")
	ErrEmptyPulse  = errors.New("span holds a pulse without compressed gates")
	ErrOverwritten = errors.New("span overwritten by the producer")
)

type Config struct {
	Workers   int
	Estimator string
	Lags      int
	Hops      int
	// BinWidth is the azimuth bin in degrees.
	BinWidth float64
	MaxSpan  int
	// IdleFlush closes an open span once no pulse has arrived for this long.
	IdleFlush  time.Duration
	Thresholds Thresholds
	Strategy   sched.Strategy
	CoreOrigin int

	InboxDepth   int
	DutyDepth    int
	Threshold    float64
	SkipFraction float64
	Logger       *log.Logger
}

type Engine struct {
	cfg    Config
	pulses *ring.PulseRing
	rays   *ring.RayRing
	est    Estimator
	log    *log.Logger

	// mu serializes calibration swaps.
	mu     sync.Mutex
	cal    atomic.Pointer[Calibration]
	scales atomic.Pointer[Scales]

	workers  []*worker
	trackers []*duty.Tracker
	bp       *duty.Controller
	next     int

	active atomic.Bool
	wg     sync.WaitGroup

	anomalies   atomic.Uint64
	lost        atomic.Uint64
	short       atomic.Uint64
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
	sc    *Scratch
}

func NewEngine(pulses *ring.PulseRing, rays *ring.RayRing, cal Calibration, cfg Config) (*Engine, error) {
	if pulses.GateCapacity() > rays.GateCapacity() {
		return nil, fmt.Errorf("ray ring holds %d gates, pulses carry %d", rays.GateCapacity(), pulses.GateCapacity())
	}
	est, err := NewEstimator(cfg.Estimator, cfg.Lags, cfg.Hops)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxSpan <= 0 || cfg.MaxSpan > pulses.Capacity() {
		cfg.MaxSpan = pulses.Capacity()
	}
	if cfg.InboxDepth <= 0 {
		cfg.InboxDepth = rays.Capacity()
	}
	if cfg.DutyDepth <= 0 {
		cfg.DutyDepth = 64
	}
	if cfg.IdleFlush <= 0 {
		cfg.IdleFlush = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[moment] ", log.LstdFlags)
	}
	e := &Engine{
		cfg:    cfg,
		pulses: pulses,
		rays:   rays,
		est:    est,
		log:    cfg.Logger,
		bp:     duty.NewController(rays.Capacity(), cfg.Threshold, cfg.SkipFraction),
	}
	if err := e.SetCalibration(cal); err != nil {
		return nil, err
	}
	cores := sched.Cores(cfg.CoreOrigin, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		sem, err := sched.NewSemaphore(cfg.Strategy, cfg.InboxDepth)
		if err != nil {
			return nil, err
		}
		w := &worker{
			id:    i,
			core:  cores[i],
			e:     e,
			sem:   sem,
			inbox: sched.NewInbox[uint64](cfg.InboxDepth),
			duty:  duty.NewTracker(cfg.DutyDepth),
			sc:    NewScratch(pulses.GateCapacity(), cfg.MaxSpan, est.Lags()),
		}
		e.workers = append(e.workers, w)
		e.trackers = append(e.trackers, w.duty)
	}
	return e, nil
}

// SetCalibration publishes new calibration and display scales. Workers pick
// them up with their next span.
func (e *Engine) SetCalibration(cal Calibration) error {
	c, err := cal.Prepare(e.pulses.GateCapacity())
	if err != nil {
		return err
	}
	s := DefaultScales(c)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cal.Store(c)
	e.scales.Store(&s)
	return nil
}

func (e *Engine) Calibration() *Calibration { return e.cal.Load() }
func (e *Engine) Estimator() Estimator      { return e.est }

func (e *Engine) Start() error {
	if !e.active.CompareAndSwap(false, true) {
		return ErrRunning
	}
	rd := e.pulses.NewReader(ring.PulseCompressed)
	e.wg.Add(len(e.workers) + 1)
	for _, w := range e.workers {
		go w.run()
	}
	go e.gather(rd)
	return nil
}

// Stop clears the active flag and joins the gatherer and every worker.
func (e *Engine) Stop() {
	e.active.Store(false)
	e.wg.Wait()
}

func (e *Engine) gather(rd *ring.Reader) {
	defer e.wg.Done()
	gt := newGatherer(e.cfg.BinWidth, e.cfg.MaxSpan, e.pulses.Capacity())
	lost := rd.Lost()
	lastPulse, lastStatus := time.Now(), time.Now()
	for e.active.Load() {
		if time.Since(lastStatus) > 100*time.Millisecond {
			e.refreshStatus()
			lastStatus = time.Now()
		}
		e.rays.Advance()
		p := rd.Next()
		if l := rd.Lost(); l != lost {
			// Pulses went missing; never span across the gap.
			lost = l
			e.lost.Store(l)
			gt.flush(e.emit)
		}
		if p == nil {
			if gt.pending() > 0 && time.Since(lastPulse) > e.cfg.IdleFlush {
				gt.flush(e.emit)
			}
			sched.Sleep(&e.active)
			continue
		}
		lastPulse = time.Now()
		gt.add(p, e.emit)
	}
	e.rays.Advance()
	e.refreshStatus()
}

// claim waits for the next ray slot, advancing the ready cursor so slots
// finished by workers can be reused.
func (e *Engine) claim() *ring.Ray {
	for {
		if ray := e.rays.Claim(); ray != nil {
			return ray
		}
		e.rays.Advance()
		if !sched.Sleep(&e.active) {
			return nil
		}
	}
}

// emit turns a closed span into a ray, assigning it to the next worker or
// marking it Skipped.
func (e *Engine) emit(si spanInfo) {
	ray := e.claim()
	if ray == nil {
		return
	}
	ray.Span = si.Span
	ray.StartTime, ray.EndTime = si.first.time, si.last.time
	ray.StartAzimuth, ray.EndAzimuth = si.first.azimuth, si.last.azimuth
	ray.StartElevation, ray.EndElevation = si.first.elevation, si.last.elevation
	switch {
	case si.Length <= MinSpan:
		e.short.Add(1)
		e.anomaly(ray.Seq(), fmt.Errorf("%d pulse span: %w", si.Length, ErrSpanTooShort))
		e.skip(ray)
		return
	case !e.bp.Admit(e.trackers):
		e.skip(ray)
		return
	}
	w := e.workers[e.next]
	e.next = (e.next + 1) % len(e.workers)
	if !w.inbox.Push(ray.Seq()) {
		e.anomaly(ray.Seq(), fmt.Errorf("worker %d inbox full", w.id))
		e.skip(ray)
		return
	}
	w.sem.Post()
}

func (e *Engine) skip(ray *ring.Ray) {
	ray.Gates = 0
	e.consume(ray.Span)
	ray.Set(ring.RaySkipped)
}

func (e *Engine) consume(s ring.Span) {
	for i := 0; i < s.Length; i++ {
		if p := e.pulses.At(s.Seq(i)); p.Seq() == s.Seq(i) {
			p.Set(ring.PulseConsumed)
		}
	}
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
		ray := w.e.rays.At(seq)
		w.duty.Begin(time.Now())
		w.duty.SetLag(w.e.pulses.Staleness(ray.Span.Origin))
		if err := w.process(ray); err != nil {
			w.e.anomaly(seq, err)
			w.e.skip(ray)
		} else {
			w.e.consume(ray.Span)
			ray.Set(ring.RayProcessed)
		}
		w.duty.End(time.Now())
	}
}

// process estimates every product of one ray from its span. The calibration
// and scales are captured once so a concurrent swap never splits a ray.
func (w *worker) process(ray *ring.Ray) error {
	cal, scales := w.e.cal.Load(), w.e.scales.Load()
	sc, span := w.sc, ray.Span
	if span.Length < w.e.est.MinPulses() {
		return fmt.Errorf("%d pulses for %s: %w", span.Length, w.e.est.Name(), ErrSpanTooShort)
	}
	if span.Length > cap(sc.pulses) {
		return fmt.Errorf("%d pulse span exceeds scratch", span.Length)
	}
	sc.pulses = sc.pulses[:0]
	gates := sc.gates
	for i := 0; i < span.Length; i++ {
		p := w.e.pulses.At(span.Seq(i))
		if p.Seq() != span.Seq(i) {
			return ErrOverwritten
		}
		gates = min(gates, p.CompressedGates)
		sc.pulses = append(sc.pulses, p)
	}
	if gates == 0 {
		return ErrEmptyPulse
	}
	w.e.est.Estimate(sc, cal, gates)
	if w.e.pulses.At(span.Origin).Seq() != span.Origin {
		return ErrOverwritten
	}
	derive(sc, cal, ray, gates)
	mask(sc, w.e.cfg.Thresholds, gates)
	quantize(sc, scales, ray, gates)
	ray.Gates = gates
	return nil
}

func (e *Engine) anomaly(seq uint64, err error) {
	total := e.anomalies.Add(1)
	now := time.Now().UnixNano()
	last := e.lastAnomaly.Load()
	if now-last < int64(time.Second) || !e.lastAnomaly.CompareAndSwap(last, now) {
		return
	}
	e.log.Printf("ray %d: %v (%d anomalies)", seq, err, total)
}

func (e *Engine) refreshStatus() {
	s := fmt.Sprintf("M%d %s ovf %d skip %d short %d err %d rays %d",
		len(e.workers), duty.Format(e.trackers), e.bp.Overflows(), e.bp.Skipped(),
		e.short.Load(), e.anomalies.Load(), e.rays.ReadyCursor())
	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

func (e *Engine) Status() string {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.status == "" {
		return fmt.Sprintf("M%d idle", len(e.workers))
	}
	return e.status
}

func (e *Engine) Telemetry() duty.Telemetry {
	return duty.Telemetry{
		Name:      "moment",
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
