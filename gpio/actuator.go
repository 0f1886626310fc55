package gpio

import (
	"sync/atomic"
	"time"
)

// ActuatorType is a closed enum; new kinds are a code change, not a plugin.
type ActuatorType string

const (
	Stepper ActuatorType = "stepper"
	OnOff   ActuatorType = "on_off"
)

// ActuatorStatus is the capability's self-report, per spec.md 4.2.
type ActuatorStatus struct {
	Enabled    bool
	LastOpTs   time.Time
	OpCount    uint64
	FaultCount uint64
}

// Actuator is the uniform diverter capability. A single in-flight
// activation is allowed per instance; concurrent calls fail fast with
// ErrBusy.
type Actuator interface {
	Initialize() error
	Activate(duration time.Duration) error
	Home() error
	Status() ActuatorStatus
	Shutdown()
}

// inflight is the shared single-activation guard embedded by both actuator
// variants.
type inflight struct {
	busy       atomic.Bool
	enabled    atomic.Bool
	opCount    atomic.Uint64
	faultCount atomic.Uint64
	lastOpTs   atomic.Int64 // unix nanos
}

func (g *inflight) acquire() bool { return g.busy.CompareAndSwap(false, true) }
func (g *inflight) release()      { g.busy.Store(false) }

func (g *inflight) status() ActuatorStatus {
	return ActuatorStatus{
		Enabled:    g.enabled.Load(),
		LastOpTs:   time.Unix(0, g.lastOpTs.Load()),
		OpCount:    g.opCount.Load(),
		FaultCount: g.faultCount.Load(),
	}
}

func (g *inflight) recordOp(now time.Time) {
	g.opCount.Add(1)
	g.lastOpTs.Store(now.UnixNano())
}
