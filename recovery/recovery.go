// Package recovery implements the fault/recovery supervisor: it subscribes
// to fault reports, maintains a per-(kind,component) record, and applies
// the strategy table of spec.md 7 with a cooldown and a retry budget. A
// global restart budget bounds total restarts across every kind, closing
// the retry-without-deadline risk spec.md 9 calls out.
package recovery

import (
	"sync"
	"time"

	"sorterctl/clock"
	"sorterctl/errcode"
	"sorterctl/telemetry"
)

// Strategy is the action the supervisor takes for a fault kind.
type Strategy string

const (
	Retry    Strategy = "retry"
	Restart  Strategy = "restart"
	Failover Strategy = "failover"
	Escalate Strategy = "escalate"
)

var defaultStrategy = map[errcode.Code]Strategy{
	errcode.CameraFailure:      Failover,
	errcode.AIModelFailure:     Failover,
	errcode.HardwareFailure:    Retry,
	errcode.SensorFailure:      Retry,
	errcode.BeltFailure:        Escalate,
	errcode.BinFullFault:       Escalate,
	errcode.MemoryLeak:         Restart,
	errcode.HighTemperature:    Escalate,
	errcode.HighCPULoad:        Escalate,
	errcode.RuntimeExceeded:    Escalate,
	errcode.ThroughputExceeded: Escalate,
	errcode.EStop:              Escalate,
	errcode.ConfigInvalid:      Escalate,
}

// record is the per-(kind,component) recovery state.
type record struct {
	consecutive    int
	lastRecoveryTs time.Time
	firstTs        time.Time
}

type key struct {
	kind      errcode.Code
	component string
}

// Actions the supervisor drives when a strategy fires. All are optional:
// a nil Escalate or ForcePreFaultState is skipped, while a nil Retry,
// RestartComponent or Failover makes its strategy escalate instead.
type Actions struct {
	Retry          func(kind errcode.Code, component string) error
	RestartComponent func(component string) error
	Failover       func(kind errcode.Code, component string) error
	Escalate       func(reason string)
	ForcePreFaultState func()
}

// Config configures one Supervisor instance.
type Config struct {
	Clock     clock.Clock
	Telemetry *telemetry.Telemetry
	Actions   Actions

	MaxConsecutiveFailures int
	FailureRecoveryDelay   time.Duration // strategy budget window is 2x this
	MaxRestartAttempts     int           // global budget across all kinds
	RestartDelay           time.Duration // global budget window is N x this
}

// Supervisor is the recovery supervisor.
type Supervisor struct {
	clk     clock.Clock
	tel     *telemetry.Telemetry
	actions Actions

	maxConsecutive int
	recoveryDelay  time.Duration
	maxRestarts    int
	restartDelay   time.Duration

	mu             sync.Mutex
	records        map[key]*record
	globalRestarts []time.Time // restart timestamps within the rolling window
}

// New returns a Supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		clk: cfg.Clock, tel: cfg.Telemetry, actions: cfg.Actions,
		maxConsecutive: cfg.MaxConsecutiveFailures,
		recoveryDelay:  cfg.FailureRecoveryDelay,
		maxRestarts:    cfg.MaxRestartAttempts,
		restartDelay:   cfg.RestartDelay,
		records:        make(map[key]*record),
	}
}

// ReportFault is the FaultReporter entry point other components call on
// any caught error. It publishes an Alert and drives the configured
// strategy.
func (s *Supervisor) ReportFault(kind errcode.Code, component string, cause error) {
	now := s.clk.Now()
	k := key{kind: kind, component: component}

	s.mu.Lock()
	rec, ok := s.records[k]
	if !ok {
		rec = &record{firstTs: now}
		s.records[k] = rec
	} else if rec.consecutive == 0 {
		rec.firstTs = now
	}
	rec.consecutive++
	s.mu.Unlock()

	severity := telemetry.SeverityError
	if kind == errcode.EStop || kind == errcode.BinFullFault {
		severity = telemetry.SeverityCritical
	}
	if s.tel != nil {
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		s.tel.PublishAlert(telemetry.Alert{Severity: severity, Kind: kind, Component: component, Message: msg})
	}

	if s.budgetExceeded(rec, now) {
		s.escalate(k, "budget_exceeded")
		return
	}

	switch defaultStrategy[kind] {
	case Retry:
		s.doRetry(k, rec, now)
	case Restart:
		s.doRestart(k, rec, now)
	case Failover:
		s.doFailover(k, rec, now)
	default:
		s.escalate(k, "no_automatic_recovery")
	}
}

// budgetExceeded enforces "at most max_consecutive_failures within
// failure_recovery_delay_s * 2" per spec.md 4.9.
func (s *Supervisor) budgetExceeded(rec *record, now time.Time) bool {
	if s.maxConsecutive <= 0 {
		return false
	}
	if rec.consecutive < s.maxConsecutive {
		return false
	}
	window := s.recoveryDelay * 2
	return window <= 0 || now.Sub(rec.firstTs) <= window
}

func (s *Supervisor) doRetry(k key, rec *record, now time.Time) {
	if s.actions.Retry == nil {
		s.escalate(k, "no_retry_action")
		return
	}
	if err := s.actions.Retry(k.kind, k.component); err != nil {
		return
	}
	s.succeed(k, rec, now)
}

func (s *Supervisor) doFailover(k key, rec *record, now time.Time) {
	if s.actions.Failover == nil {
		s.escalate(k, "no_failover_action")
		return
	}
	if err := s.actions.Failover(k.kind, k.component); err != nil {
		s.escalate(k, "failover_failed")
		return
	}
	s.succeed(k, rec, now)
}

func (s *Supervisor) doRestart(k key, rec *record, now time.Time) {
	if !s.reserveGlobalRestart(now) {
		s.escalate(k, "restart_budget_exhausted")
		return
	}
	if s.actions.RestartComponent == nil {
		s.escalate(k, "no_restart_action")
		return
	}
	if err := s.actions.RestartComponent(k.component); err != nil {
		s.escalate(k, "restart_failed")
		return
	}
	s.succeed(k, rec, now)
}

// reserveGlobalRestart enforces the cross-kind restart budget spec.md 9
// requires: max_restart_attempts within restart_delay_s * N.
func (s *Supervisor) reserveGlobalRestart(now time.Time) bool {
	if s.maxRestarts <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.restartDelay * time.Duration(s.maxRestarts)
	var kept []time.Time
	for _, ts := range s.globalRestarts {
		if window <= 0 || now.Sub(ts) <= window {
			kept = append(kept, ts)
		}
	}
	s.globalRestarts = kept

	if len(s.globalRestarts) >= s.maxRestarts {
		return false
	}
	s.globalRestarts = append(s.globalRestarts, now)
	return true
}

func (s *Supervisor) succeed(k key, rec *record, now time.Time) {
	s.mu.Lock()
	rec.consecutive = 0
	rec.lastRecoveryTs = now
	s.mu.Unlock()

	if s.actions.ForcePreFaultState != nil {
		s.actions.ForcePreFaultState()
	}
}

func (s *Supervisor) escalate(k key, reason string) {
	if s.actions.Escalate != nil {
		s.actions.Escalate(reason)
	}
	if s.tel != nil {
		s.tel.PublishAlert(telemetry.Alert{
			Severity: telemetry.SeverityCritical, Kind: k.kind, Component: k.component,
			Message: "escalated: " + reason,
		})
	}
}
