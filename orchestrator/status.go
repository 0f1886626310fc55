package orchestrator

import (
	"sorterctl/classify"
	"sorterctl/gpio"
	"sorterctl/statemachine"
	"sorterctl/telemetry"
)

// Status is the GetStatus() response: current state, per-diverter health,
// and the most recent metrics snapshot.
type Status struct {
	State      statemachine.State
	Diverters  map[classify.Category]gpio.ActuatorStatus
	LastMetrics *telemetry.Metrics
}

// GetStatus implements the Control API's status query.
func (o *Orchestrator) GetStatus() Status {
	diverters := make(map[classify.Category]gpio.ActuatorStatus, len(o.diverters))
	for cat, act := range o.diverters {
		diverters[cat] = act.Status()
	}

	var last *telemetry.Metrics
	o.metricsMu.Lock()
	if n := len(o.metricsRing); n > 0 {
		m := o.metricsRing[n-1]
		last = &m
	}
	o.metricsMu.Unlock()

	return Status{State: o.machine.State(), Diverters: diverters, LastMetrics: last}
}
