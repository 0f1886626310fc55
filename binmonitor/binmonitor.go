// Package binmonitor implements the bin-fill monitor: it polls each
// category's ultrasonic sensor on its own interval, tracks a hysteresis
// state machine over the fill fraction, and publishes bin.changed on
// every transition. The dispatch scheduler consults it through the
// dispatch.BinGate interface.
package binmonitor

import (
	"sync"
	"time"

	"sorterctl/classify"
	"sorterctl/clock"
	"sorterctl/gpio"
	"sorterctl/telemetry"
)

// State is the bin's closed enum, per spec.md 3.
type State string

const (
	OK       State = "ok"
	Warn     State = "warn"
	Full     State = "full"
	Critical State = "critical"
)

// Thresholds are percentages in [0,100].
type Thresholds struct {
	WarnPct     float64
	FullPct     float64
	CriticalPct float64
}

// binEntry is one monitored bin.
type binEntry struct {
	sensor     *gpio.UltrasonicSensor
	thresholds Thresholds
	interval   time.Duration

	mu       sync.Mutex
	state     State
	fraction  float64
	lastTs    time.Time
}

// Monitor polls every registered bin and maintains its fill state.
type Monitor struct {
	clk clock.Clock
	tel *telemetry.Telemetry

	mu   sync.RWMutex
	bins map[classify.Category]*binEntry
}

// New returns an empty Monitor.
func New(clk clock.Clock, tel *telemetry.Telemetry) *Monitor {
	return &Monitor{clk: clk, tel: tel, bins: make(map[classify.Category]*binEntry)}
}

// Register adds a bin for category, polled at interval.
func (m *Monitor) Register(category classify.Category, sensor *gpio.UltrasonicSensor, thresholds Thresholds, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bins[category] = &binEntry{sensor: sensor, thresholds: thresholds, interval: interval, state: OK}
}

// Blocking implements dispatch.BinGate: a category's fires are blocked
// while its bin reads full or critical.
func (m *Monitor) Blocking(category classify.Category) bool {
	m.mu.RLock()
	b, ok := m.bins[category]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Full || b.state == Critical
}

// State returns the current state and fill fraction for category.
func (m *Monitor) State(category classify.Category) (State, float64) {
	m.mu.RLock()
	b, ok := m.bins[category]
	m.mu.RUnlock()
	if !ok {
		return OK, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.fraction
}

// Run polls every registered bin on its own ticker until done closes.
func (m *Monitor) Run(done <-chan struct{}) {
	m.mu.RLock()
	entries := make(map[classify.Category]*binEntry, len(m.bins))
	for k, v := range m.bins {
		entries[k] = v
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for cat, b := range entries {
		wg.Add(1)
		go func(cat classify.Category, b *binEntry) {
			defer wg.Done()
			m.pollOne(cat, b, done)
		}(cat, b)
	}
	wg.Wait()
}

func (m *Monitor) pollOne(cat classify.Category, b *binEntry, done <-chan struct{}) {
	ticker := m.clk.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C():
			distance, err := b.sensor.Sample()
			if err != nil {
				continue // sensor_failure is reported by the caller's recovery wiring
			}
			fraction := b.sensor.FillFraction(distance)
			m.update(cat, b, fraction, now)
		}
	}
}

func (m *Monitor) update(cat classify.Category, b *binEntry, fraction float64, now time.Time) {
	pct := fraction * 100

	b.mu.Lock()
	prev := b.state
	next := nextState(pct, prev, b.thresholds)
	b.state = next
	b.fraction = fraction
	b.lastTs = now
	b.mu.Unlock()

	if next != prev && m.tel != nil {
		m.tel.PublishBinChanged(telemetry.BinChanged{Category: cat, Fraction: fraction, State: string(next)})
	}
}

// nextState applies the threshold table with the full-state exit
// hysteresis from spec.md 3: once full or critical, the bin only drops
// back toward warn/ok once the reading falls below warn_pct - 5.
func nextState(pct float64, current State, th Thresholds) State {
	switch {
	case pct >= th.CriticalPct:
		return Critical
	case pct >= th.FullPct:
		return Full
	}

	if current == Full || current == Critical {
		if pct < th.WarnPct-5 {
			if pct >= th.WarnPct {
				return Warn
			}
			return OK
		}
		return Full
	}

	if pct >= th.WarnPct {
		return Warn
	}
	return OK
}
