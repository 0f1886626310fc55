// Package statemachine implements the system state machine: the guarded
// transition graph of spec.md 4.7, with a single writer goroutine so state
// transitions are totally ordered per spec.md 5. The safety supervisor
// resolves its cyclic coupling with this package by sending intents on a
// priority channel (ForceTransition) that the writer drains ahead of any
// ordinary request, per spec.md 9.
package statemachine

import (
	"errors"
	"time"

	"sorterctl/clock"
	"sorterctl/telemetry"
)

// State is the system's closed enum of operating states.
type State string

const (
	Initializing State = "initializing"
	Idle         State = "idle"
	Running      State = "running"
	Paused       State = "paused"
	Maintenance  State = "maintenance"
	Error        State = "error"
	Recovering   State = "recovering"
	ShuttingDown State = "shutting_down"
	Shutdown     State = "shutdown"
)

var legal = map[State]map[State]bool{
	Initializing: {Idle: true, Error: true},
	Idle:         {Running: true, Maintenance: true, ShuttingDown: true, Error: true},
	Running:      {Paused: true, Maintenance: true, Error: true, Recovering: true, ShuttingDown: true},
	Paused:       {Running: true, Maintenance: true, Error: true, ShuttingDown: true},
	Maintenance:  {Idle: true, ShuttingDown: true},
	Error:        {Recovering: true, ShuttingDown: true},
	Recovering:   {Idle: true, Running: true, Error: true, ShuttingDown: true},
	ShuttingDown: {Shutdown: true},
	Shutdown:     {},
}

// ErrIllegalTransition is returned when the requested transition is not an
// edge of the graph above.
var ErrIllegalTransition = errors.New("statemachine: illegal transition")

// ErrGuardFailed is returned when the transition is legal but a guard
// rejects it (e.g. running requires belt running and no asserted E-stop).
var ErrGuardFailed = errors.New("statemachine: guard rejected transition")

// Guards are evaluated before entering Running; all external health
// signals the machine depends on are injected rather than imported, so the
// package stays free of belt/safety/recovery dependencies.
type Guards struct {
	BeltRunning       func() bool
	ComponentsHealthy func() bool
	EStopAsserted     func() bool
}

type request struct {
	to     State
	reason string
	done   chan error
}

// Machine owns SystemState and is the sole writer of it.
type Machine struct {
	clock             clock.Clock
	telemetry         *telemetry.Telemetry
	guards            Guards
	maintenanceTimeout time.Duration

	normalCh chan request
	forceCh  chan request

	state     State
	enteredTs time.Time
	lastReason string
}

// New returns a Machine starting in Initializing.
func New(clk clock.Clock, tel *telemetry.Telemetry, guards Guards, maintenanceTimeout time.Duration) *Machine {
	return &Machine{
		clock: clk, telemetry: tel, guards: guards, maintenanceTimeout: maintenanceTimeout,
		normalCh: make(chan request, 8),
		forceCh:  make(chan request, 8),
		state:    Initializing,
	}
}

// State returns the current state. Safe to call from any goroutine; it
// does not go through the writer loop because it never mutates.
func (m *Machine) State() State { return m.state }

// Transition requests an ordinary, guarded transition. Blocks until the
// writer loop processes it.
func (m *Machine) Transition(to State, reason string) error {
	return m.send(m.normalCh, to, reason)
}

// ForceTransition requests a priority transition, e.g. safety forcing
// Error on E-stop assertion. Drained ahead of any pending ordinary
// request.
func (m *Machine) ForceTransition(to State, reason string) error {
	return m.send(m.forceCh, to, reason)
}

func (m *Machine) send(ch chan request, to State, reason string) error {
	req := request{to: to, reason: reason, done: make(chan error, 1)}
	ch <- req
	return <-req.done
}

// Run is the single-writer loop. It exits when done is closed.
func (m *Machine) Run(done <-chan struct{}) {
	var maintenanceDeadline <-chan time.Time

	for {
		// Priority drain: force requests always go first, ahead of any
		// ordinary request or timer that happens to also be ready.
		select {
		case req := <-m.forceCh:
			m.apply(req, true)
		default:
			select {
			case <-done:
				return
			case req := <-m.forceCh:
				m.apply(req, true)
			case req := <-m.normalCh:
				m.apply(req, false)
			case <-maintenanceDeadline:
				if m.state == Maintenance {
					m.commit(Idle, "maintenance_timeout")
				}
			}
		}

		if m.state == Maintenance {
			if maintenanceDeadline == nil && m.maintenanceTimeout > 0 {
				maintenanceDeadline = m.clock.After(m.maintenanceTimeout)
			}
		} else {
			maintenanceDeadline = nil
		}
	}
}

func (m *Machine) apply(req request, forced bool) {
	if !forced {
		if !legal[m.state][req.to] {
			req.done <- ErrIllegalTransition
			return
		}
		if req.to == Running && !m.runningGuardOK() {
			req.done <- ErrGuardFailed
			return
		}
	}
	m.commit(req.to, req.reason)
	req.done <- nil
}

func (m *Machine) runningGuardOK() bool {
	if m.guards.EStopAsserted != nil && m.guards.EStopAsserted() {
		return false
	}
	if m.guards.BeltRunning != nil && !m.guards.BeltRunning() {
		return false
	}
	if m.guards.ComponentsHealthy != nil && !m.guards.ComponentsHealthy() {
		return false
	}
	return true
}

func (m *Machine) commit(to State, reason string) {
	from := m.state
	m.state = to
	m.enteredTs = m.clock.Now()
	m.lastReason = reason
	if m.telemetry != nil {
		m.telemetry.PublishStateChanged(telemetry.StateChanged{
			From: string(from), To: string(to), Reason: reason,
		})
	}
}
