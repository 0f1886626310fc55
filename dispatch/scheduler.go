// Package dispatch implements the dispatch scheduler, the heart of the
// sorter core (spec.md 4.6): it turns a classified item into a precisely
// timed diverter activation, or drops it with a typed reason. The
// scheduler's own loop never blocks on I/O; every Activate call runs on
// its own goroutine bounded by a global concurrency semaphore.
package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sorterctl/classify"
	"sorterctl/clock"
	"sorterctl/errcode"
	"sorterctl/gpio"
	"sorterctl/telemetry"
)

var backgroundCtx = context.Background()

// CategoryConfig is the per-category static configuration the scheduler
// reads at every scheduling decision (copy-on-reload, per spec.md 3).
type CategoryConfig struct {
	DistanceM          float64
	ActivationDuration time.Duration
	ActivationLead     time.Duration
	Diverter           gpio.Actuator
}

// GlobalSettings is diverter_control_settings.global_settings.
type GlobalSettings struct {
	SimultaneousActivations   bool
	TimeoutBetweenActivations time.Duration
	// CongestionGrace bounds how far a congestion offset may push fire_ts
	// past its originally computed time before the item is dropped
	// CONGESTED (the "latest acceptable time" of spec.md 4.6 step 5,
	// left unconfigured by the source; the orchestrator sets it to twice
	// TimeoutBetweenActivations).
	CongestionGrace time.Duration
	// MaxConcurrentActivations bounds the number of Activate calls the
	// scheduler allows in flight at once, across all diverters.
	MaxConcurrentActivations int64
}

// BinGate reports whether a category's destination bin currently blocks
// new fires (full or critical fill state).
type BinGate interface {
	Blocking(category classify.Category) bool
}

// FaultReporter is the recovery supervisor's fault-intake surface.
type FaultReporter interface {
	ReportFault(kind errcode.Code, component string, err error)
}

// Config bundles everything the scheduler needs at construction time.
type Config struct {
	Clock         clock.Clock
	Telemetry     *telemetry.Telemetry
	Categories    map[classify.Category]CategoryConfig
	Global        GlobalSettings
	BeltSpeedMps  func() float64
	SystemRunning func() bool
	BinGate       BinGate
	Faults        FaultReporter
	Grace         time.Duration // jitter tolerance for the monotonicity/stale checks
	PollInterval  time.Duration
}

// Scheduler is the dispatch scheduler.
type Scheduler struct {
	clk           clock.Clock
	tel           *telemetry.Telemetry
	categories    map[classify.Category]CategoryConfig
	global        GlobalSettings
	beltSpeed     func() float64
	systemRunning func() bool
	binGate       BinGate
	faults        FaultReporter
	grace         time.Duration
	pollInterval  time.Duration
	sem           *semaphore.Weighted

	mu                sync.Mutex
	queue             fireQueue
	pendingByDiverter map[classify.Category][]window
	pendingGlobal     []window
	generation        uint64
}

// New constructs a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	weight := cfg.Global.MaxConcurrentActivations
	if weight <= 0 {
		weight = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return &Scheduler{
		clk: cfg.Clock, tel: cfg.Telemetry, categories: cfg.Categories, global: cfg.Global,
		beltSpeed: cfg.BeltSpeedMps, systemRunning: cfg.SystemRunning, binGate: cfg.BinGate,
		faults: cfg.Faults, grace: cfg.Grace, pollInterval: cfg.PollInterval,
		sem:               semaphore.NewWeighted(weight),
		pendingByDiverter: make(map[classify.Category][]window),
	}
}

// Schedule is the entry point called once an item has been classified. It
// implements the seven-step algorithm of spec.md 4.6.
func (s *Scheduler) Schedule(item Item) {
	cfg, ok := s.categories[item.Category]
	if !ok {
		s.drop(item, errcode.DropClassifierError)
		return
	}

	speed := s.beltSpeed()
	if speed <= 0 || (s.systemRunning != nil && !s.systemRunning()) {
		s.drop(item, errcode.DropBeltNotReady)
		return
	}

	travelS := cfg.DistanceM / speed
	fireTs := item.TriggerTs.Add(time.Duration(travelS * float64(time.Second))).Add(-cfg.ActivationLead)

	now := s.clk.Now()
	if fireTs.Before(now) {
		s.drop(item, errcode.DropLate)
		return
	}

	if s.binGate != nil && s.binGate.Blocking(item.Category) {
		s.drop(item, errcode.DropBinFull)
		return
	}

	finalFireTs, ok := s.reserveSlot(item.Category, fireTs, cfg.ActivationDuration)
	if !ok {
		s.drop(item, errcode.DropCongested)
		return
	}

	s.enqueue(item, cfg, finalFireTs)
}

// reserveSlot finds the earliest non-overlapping start time for a window
// of the given duration, honouring per-diverter serialization always and
// cross-diverter serialization only when SimultaneousActivations is
// false. It returns false if the resulting offset exceeds CongestionGrace
// past the originally requested fireTs.
func (s *Scheduler) reserveSlot(cat classify.Category, fireTs time.Time, duration time.Duration) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	s.pendingByDiverter[cat] = pruneStale(s.pendingByDiverter[cat], now)
	s.pendingGlobal = pruneStale(s.pendingGlobal, now)

	start := fireTs
	for {
		moved := false

		own := latestOverlapping(s.pendingByDiverter[cat], window{start, start.Add(duration)})
		if !own.IsZero() {
			start = own.Add(s.global.TimeoutBetweenActivations)
			moved = true
		}

		if !s.global.SimultaneousActivations {
			other := latestOverlapping(s.pendingGlobal, window{start, start.Add(duration)})
			if !other.IsZero() {
				start = other.Add(s.global.TimeoutBetweenActivations)
				moved = true
			}
		}

		if !moved {
			break
		}
	}

	latest := fireTs.Add(s.global.CongestionGrace)
	if start.After(latest) {
		return time.Time{}, false
	}

	w := window{start, start.Add(duration)}
	s.pendingByDiverter[cat] = append(s.pendingByDiverter[cat], w)
	s.pendingGlobal = append(s.pendingGlobal, w)
	return start, true
}

// latestOverlapping returns the end time of the latest window overlapping
// candidate, or the zero time if none overlaps.
func latestOverlapping(windows []window, candidate window) time.Time {
	var latest time.Time
	for _, w := range windows {
		if w.overlaps(candidate) && w.end.After(latest) {
			latest = w.end
		}
	}
	return latest
}

func (s *Scheduler) enqueue(item Item, cfg CategoryConfig, fireTs time.Time) {
	item.FireDeadline = fireTs
	s.mu.Lock()
	s.generation++
	gen := s.generation
	heap.Push(&s.queue, &pendingFire{item: item, category: item.Category, fireTs: fireTs, generation: gen})
	s.mu.Unlock()
}

func (s *Scheduler) drop(item Item, reason errcode.Code) {
	item.Outcome = Dropped
	if s.tel != nil {
		s.tel.PublishItemDropped(telemetry.ItemDropped{
			ItemID: item.ID, TriggerTs: item.TriggerTs, Reason: reason,
		})
	}
}

// CancelAll cancels every pending fire immediately, for emergency stop.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.queue {
		f.cancelled = true
	}
	s.queue = nil
	s.pendingByDiverter = make(map[classify.Category][]window)
	s.pendingGlobal = nil
}

// CancelBeyondGrace cancels pending fires whose fire_ts is further out
// than pauseGrace from now, for a transition to paused; imminent fires
// within the grace window are left to complete.
func (s *Scheduler) CancelBeyondGrace(pauseGrace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	var keep fireQueue
	for _, f := range s.queue {
		if f.fireTs.After(now.Add(pauseGrace)) {
			f.cancelled = true
			continue
		}
		keep = append(keep, f)
	}
	heap.Init(&keep)
	s.queue = keep
}

// Run drives the scheduler loop: every PollInterval it pops due fires and
// dispatches each to its own goroutine, bounded by the concurrency
// semaphore. It never blocks on actuator I/O itself.
func (s *Scheduler) Run(done <-chan struct{}) {
	ticker := s.clk.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C():
			s.dispatchDue(now)
		}
	}
}

func (s *Scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	due := peekDue(&s.queue, now)
	s.mu.Unlock()

	for _, f := range due {
		if f.cancelled {
			continue
		}
		if now.After(f.fireTs.Add(s.grace)) {
			s.drop(f.item, errcode.DropLate)
			continue
		}
		go s.activate(f)
	}
}

func (s *Scheduler) activate(f *pendingFire) {
	ctxErr := s.sem.Acquire(backgroundCtx, 1)
	if ctxErr != nil {
		return
	}
	defer s.sem.Release(1)

	cfg := s.categories[f.category]
	item := f.item
	item.Actuated = true

	err := cfg.Diverter.Activate(cfg.ActivationDuration)
	if err != nil {
		if s.faults != nil {
			s.faults.ReportFault(errcode.HardwareFailure, string(f.category), err)
		}
		item.Outcome = Failed
		if s.tel != nil {
			s.tel.PublishAlert(telemetry.Alert{
				Severity: telemetry.SeverityError, Kind: errcode.HardwareFailure,
				Component: string(f.category), Message: err.Error(),
			})
		}
		return
	}

	item.Outcome = Delivered
	status := cfg.Diverter.Status()
	if s.tel != nil {
		s.tel.PublishItemActuated(telemetry.ItemActuated{
			ItemID: item.ID, TriggerTs: item.TriggerTs, ClassifyTs: item.ClassifyTs,
			FireTs: f.fireTs, Category: item.Category, Confidence: item.Confidence,
			BBox: item.BBox, DiverterOpCount: status.OpCount,
		})
	}
}
