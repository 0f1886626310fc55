// Package safety implements the safety supervisor: the e-stop loop and the
// operational-limits watchdog, the highest-priority subsystem per
// spec.md 4.8. It never asks permission — it forces transitions on the
// state machine's priority channel and commands the belt directly.
package safety

import (
	"time"

	"sorterctl/clock"
	"sorterctl/errcode"
	"sorterctl/statemachine"
	"sorterctl/telemetry"
)

// Belt is the subset of belt.Controller the supervisor commands directly.
type Belt interface {
	EmergencyStop() error
}

// Scheduler is the subset of dispatch.Scheduler the supervisor drains on
// an e-stop.
type Scheduler interface {
	CancelAll()
}

// MetricLimit is a warn/critical threshold pair for one sampled metric.
type MetricLimit struct {
	Warn     float64
	Critical float64
}

// Limits mirrors safety_settings.operational_limits and the cpu/mem/temp
// entries of monitoring_settings.performance_monitoring.alerts.
type Limits struct {
	CPUPercent  MetricLimit
	MemPercent  MetricLimit
	TempCelsius MetricLimit

	MaxContinuousRuntime time.Duration
	MaxObjectsPerHour    float64

	// Margin and ClearSamples implement the hysteresis rule: a metric
	// must read below (threshold - Margin) for ClearSamples consecutive
	// samples before the watchdog will let the system resume.
	Margin      float64
	ClearSamples int
}

// Sampler supplies the watchdog's raw readings.
type Sampler struct {
	CPUPercent   func() float64
	MemPercent   func() float64
	TempC        func() float64
	Runtime      func() time.Duration
	ItemsPerHour func() float64
}

// Config configures a Supervisor.
type Config struct {
	Clock         clock.Clock
	Telemetry     *telemetry.Telemetry
	Machine       *statemachine.Machine
	Belt          Belt
	Scheduler     Scheduler
	DisableDiverters func()

	EStopAsserted func() bool
	EStopPollInterval time.Duration

	Limits  Limits
	Sampler Sampler
	WatchdogInterval time.Duration
}

// Supervisor runs the two safety loops.
type Supervisor struct {
	clk       clock.Clock
	tel       *telemetry.Telemetry
	machine   *statemachine.Machine
	belt      Belt
	scheduler Scheduler
	disableDiverters func()

	estopAsserted     func() bool
	estopPollInterval time.Duration

	limits  Limits
	sampler Sampler
	watchdogInterval time.Duration

	cpuClear, memClear, tempClear, runtimeClear, throughputClear int
	tripped bool
}

// New returns a Supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		clk: cfg.Clock, tel: cfg.Telemetry, machine: cfg.Machine, belt: cfg.Belt,
		scheduler: cfg.Scheduler, disableDiverters: cfg.DisableDiverters,
		estopAsserted: cfg.EStopAsserted, estopPollInterval: cfg.EStopPollInterval,
		limits: cfg.Limits, sampler: cfg.Sampler, watchdogInterval: cfg.WatchdogInterval,
	}
}

// RunEStopLoop samples the E-stop input at EStopPollInterval. On
// assertion it forces state -> error, stops the belt non-ramped, cancels
// every pending fire, disables all diverters, and publishes a critical
// alert — all within one tick, per the safety-precedence testable
// property.
func (s *Supervisor) RunEStopLoop(done <-chan struct{}) {
	ticker := s.clk.NewTicker(s.estopPollInterval)
	defer ticker.Stop()

	wasAsserted := false
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			asserted := s.estopAsserted != nil && s.estopAsserted()
			if asserted && !wasAsserted {
				s.onEStopAsserted()
			}
			wasAsserted = asserted
		}
	}
}

func (s *Supervisor) onEStopAsserted() {
	if s.machine != nil {
		_ = s.machine.ForceTransition(statemachine.Error, string(errcode.EStop))
	}
	if s.scheduler != nil {
		s.scheduler.CancelAll()
	}
	if s.belt != nil {
		_ = s.belt.EmergencyStop()
	}
	if s.disableDiverters != nil {
		s.disableDiverters()
	}
	if s.tel != nil {
		s.tel.PublishAlert(telemetry.Alert{
			Severity: telemetry.SeverityCritical, Kind: errcode.EStop,
			Component: "safety", Message: "emergency stop asserted",
		})
	}
}

// RunLimitsWatchdog samples CPU/mem/temp/runtime/throughput at
// WatchdogInterval. A hard threshold crossing pauses the system with a
// warning; a critical threshold crossing forces error. Hysteresis holds
// the clamp until ClearSamples consecutive readings sit below threshold
// minus Margin.
func (s *Supervisor) RunLimitsWatchdog(done <-chan struct{}) {
	ticker := s.clk.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			s.sample()
		}
	}
}

func (s *Supervisor) sample() {
	cpu := s.readOr(s.sampler.CPUPercent)
	mem := s.readOr(s.sampler.MemPercent)
	temp := s.readOr(s.sampler.TempC)
	runtime := s.readDurationOr(s.sampler.Runtime)
	throughput := s.readOr(s.sampler.ItemsPerHour)

	switch {
	case s.limits.CPUPercent.Critical > 0 && cpu >= s.limits.CPUPercent.Critical:
		s.trip(statemachine.Error, errcode.HighCPULoad, "critical cpu limit exceeded")
		return
	case s.limits.MemPercent.Critical > 0 && mem >= s.limits.MemPercent.Critical:
		s.trip(statemachine.Error, errcode.MemoryLeak, "critical memory limit exceeded")
		return
	case s.limits.TempCelsius.Critical > 0 && temp >= s.limits.TempCelsius.Critical:
		s.trip(statemachine.Error, errcode.HighTemperature, "critical temperature limit exceeded")
		return
	}

	// Continuous runtime and item throughput are configured as single
	// thresholds (no separate warn/critical pair), so crossing either one
	// is treated as a hard limit: pause with a warning, same as a warn-tier
	// cpu/mem/temp crossing.
	var kind errcode.Code
	var reason string
	switch {
	case s.limits.CPUPercent.Warn > 0 && cpu >= s.limits.CPUPercent.Warn:
		kind, reason = errcode.HighCPULoad, "operational limit exceeded"
	case s.limits.MemPercent.Warn > 0 && mem >= s.limits.MemPercent.Warn:
		kind, reason = errcode.MemoryLeak, "operational limit exceeded"
	case s.limits.TempCelsius.Warn > 0 && temp >= s.limits.TempCelsius.Warn:
		kind, reason = errcode.HighTemperature, "operational limit exceeded"
	case s.limits.MaxContinuousRuntime > 0 && runtime >= s.limits.MaxContinuousRuntime:
		kind, reason = errcode.RuntimeExceeded, "continuous runtime limit exceeded"
	case s.limits.MaxObjectsPerHour > 0 && throughput >= s.limits.MaxObjectsPerHour:
		kind, reason = errcode.ThroughputExceeded, "item throughput limit exceeded"
	}
	if kind != "" {
		s.cpuClear, s.memClear, s.tempClear, s.runtimeClear, s.throughputClear = 0, 0, 0, 0, 0
		s.trip(statemachine.Paused, kind, reason)
		return
	}

	if !s.tripped {
		return
	}

	s.updateClear(cpu, s.limits.CPUPercent.Warn, &s.cpuClear)
	s.updateClear(mem, s.limits.MemPercent.Warn, &s.memClear)
	s.updateClear(temp, s.limits.TempCelsius.Warn, &s.tempClear)
	// A limit of zero means that check is disabled; don't let it block
	// clearing on the metrics that actually tripped.
	if s.limits.MaxContinuousRuntime > 0 {
		s.updateClear(runtime.Seconds(), s.limits.MaxContinuousRuntime.Seconds(), &s.runtimeClear)
	} else {
		s.runtimeClear = s.limits.ClearSamples
	}
	if s.limits.MaxObjectsPerHour > 0 {
		s.updateClear(throughput, s.limits.MaxObjectsPerHour, &s.throughputClear)
	} else {
		s.throughputClear = s.limits.ClearSamples
	}

	if s.cpuClear >= s.limits.ClearSamples && s.memClear >= s.limits.ClearSamples && s.tempClear >= s.limits.ClearSamples &&
		s.runtimeClear >= s.limits.ClearSamples && s.throughputClear >= s.limits.ClearSamples {
		s.tripped = false
		if s.machine != nil {
			_ = s.machine.Transition(statemachine.Running, "limits_cleared")
		}
	}
}

func (s *Supervisor) readDurationOr(f func() time.Duration) time.Duration {
	if f == nil {
		return 0
	}
	return f()
}

func (s *Supervisor) updateClear(v, warn float64, counter *int) {
	if warn <= 0 || v < warn-s.limits.Margin {
		*counter++
	} else {
		*counter = 0
	}
}

func (s *Supervisor) readOr(f func() float64) float64 {
	if f == nil {
		return 0
	}
	return f()
}

func (s *Supervisor) trip(target statemachine.State, kind errcode.Code, reason string) {
	s.tripped = true
	if s.machine != nil {
		if target == statemachine.Error {
			_ = s.machine.ForceTransition(target, reason)
		} else {
			_ = s.machine.Transition(target, reason)
		}
	}
	if s.tel != nil {
		sev := telemetry.SeverityWarn
		if target == statemachine.Error {
			sev = telemetry.SeverityCritical
		}
		s.tel.PublishAlert(telemetry.Alert{Severity: sev, Kind: kind, Component: "safety", Message: reason})
	}
}
