package orchestrator

import (
	"sorterctl/bus"
	"sorterctl/errcode"
	"sorterctl/sorterconfig"
	"sorterctl/statemachine"
	"sorterctl/telemetry"
)

// Start ramps the belt up to the configured nominal speed and transitions
// idle -> running. Fails if the system is unhealthy or E-stop is asserted
// (the running guard) or if the belt refuses to start.
func (o *Orchestrator) Start() error {
	snap := o.cfg.Load()
	if err := o.beltCtrl.Start(snap.Belt.BeltSpeedMps); err != nil {
		o.log.Error().Err(err).Msg("belt start failed")
		return err
	}
	if err := o.machine.Transition(statemachine.Running, "start"); err != nil {
		_ = o.beltCtrl.Stop(false)
		o.log.Error().Err(err).Msg("start transition rejected")
		return err
	}
	o.log.Info().Msg("started")
	return nil
}

// Stop drains pending fires beyond the shutdown deadline, ramps the belt
// down, and walks shutting_down -> shutdown.
func (o *Orchestrator) Stop() error {
	if err := o.machine.Transition(statemachine.ShuttingDown, "stop"); err != nil {
		return err
	}
	o.scheduler.CancelBeyondGrace(o.shutdownDrain)
	_ = o.beltCtrl.Stop(true)
	return o.machine.Transition(statemachine.Shutdown, "drained")
}

// Pause transitions running -> paused, letting fires already within the
// pause grace window complete and cancelling the rest.
func (o *Orchestrator) Pause() error {
	if err := o.machine.Transition(statemachine.Paused, "pause"); err != nil {
		return err
	}
	o.scheduler.CancelBeyondGrace(o.pauseGrace)
	return o.beltCtrl.Pause()
}

// Resume resumes the belt at its prior nominal speed and transitions
// paused -> running.
func (o *Orchestrator) Resume() error {
	if err := o.beltCtrl.Resume(); err != nil {
		return err
	}
	return o.machine.Transition(statemachine.Running, "resume")
}

// EmergencyStop is the operator-initiated counterpart to the safety
// supervisor's physical E-stop loop: force error, drain, cut belt power,
// disable diverters, publish a critical alert.
func (o *Orchestrator) EmergencyStop() error {
	o.log.Error().Msg("emergency stop requested")
	err := o.machine.ForceTransition(statemachine.Error, string(errcode.EStop))
	o.scheduler.CancelAll()
	_ = o.beltCtrl.EmergencyStop()
	o.disableAllDiverters()
	if o.tel != nil {
		o.tel.PublishAlert(telemetry.Alert{
			Severity: telemetry.SeverityCritical, Kind: errcode.EStop,
			Component: "control_api", Message: "emergency stop requested",
		})
	}
	return err
}

// EnterMaintenance transitions idle -> maintenance.
func (o *Orchestrator) EnterMaintenance() error {
	return o.machine.Transition(statemachine.Maintenance, "enter_maintenance")
}

// ExitMaintenance transitions maintenance -> idle.
func (o *Orchestrator) ExitMaintenance() error {
	return o.machine.Transition(statemachine.Idle, "exit_maintenance")
}

// ReloadConfig validates and atomically swaps the configuration snapshot.
// Reloading the snapshot currently in effect is an observable no-op.
func (o *Orchestrator) ReloadConfig(next sorterconfig.Snapshot) error {
	return o.cfg.Reload(next)
}

// Subscribe returns a raw bus subscription on topic for the external API
// layer to relay to its own transport.
func (o *Orchestrator) Subscribe(topic bus.Topic) *bus.Subscription {
	return o.tel.Subscribe(topic)
}
