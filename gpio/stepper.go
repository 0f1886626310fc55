package gpio

import (
	"time"

	"sorterctl/x/mathx"
)

// StepperActuator drives a step/direction/enable stepper diverter. On
// Activate it enables the driver, pulses StepsPerActivation steps in
// Direction with a linear step-delay ramp from StartStepDelay down to
// MinStepDelay over RampSteps, optionally reverses the same count when
// ReturnToHome is set, then disables.
type StepperActuator struct {
	inflight

	Dir    DigitalOut
	Step   DigitalOut
	Enable DigitalOut

	StepsPerActivation uint16
	Direction          bool // true = forward (ActivationDirection)
	ReturnToHome       bool

	StartStepDelay time.Duration
	MinStepDelay   time.Duration
	RampSteps      uint16

	MaxOperations uint64 // 0 = unlimited

	Now func() time.Time // injected for tests; defaults to time.Now
}

func (s *StepperActuator) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *StepperActuator) Initialize() error {
	s.enabled.Store(true)
	return s.Enable.Write(false)
}

func (s *StepperActuator) Shutdown() {
	s.enabled.Store(false)
	_ = s.Enable.Write(false)
}

// Activate ignores duration: a stepper's pulse count is configured, not
// timed. duration is accepted to satisfy the Actuator interface uniformly.
func (s *StepperActuator) Activate(_ time.Duration) error {
	if !s.enabled.Load() {
		return ErrDisabled
	}
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	if s.MaxOperations > 0 && s.opCount.Load() >= s.MaxOperations {
		s.faultCount.Add(1)
		// Operator policy: still activate despite the maintenance fault.
	}

	if err := s.Enable.Write(true); err != nil {
		s.faultCount.Add(1)
		return err
	}
	if err := s.pulse(s.Direction, s.StepsPerActivation); err != nil {
		s.faultCount.Add(1)
		_ = s.Enable.Write(false)
		return err
	}
	if s.ReturnToHome {
		if err := s.pulse(!s.Direction, s.StepsPerActivation); err != nil {
			s.faultCount.Add(1)
			_ = s.Enable.Write(false)
			return err
		}
	}
	if err := s.Enable.Write(false); err != nil {
		s.faultCount.Add(1)
		return err
	}
	s.recordOp(s.now())
	return nil
}

func (s *StepperActuator) pulse(forward bool, steps uint16) error {
	if err := s.Dir.Write(forward); err != nil {
		return err
	}
	rampSteps := s.RampSteps
	if rampSteps == 0 || rampSteps > steps {
		rampSteps = steps
	}
	for i := uint16(0); i < steps; i++ {
		delay := s.MinStepDelay
		if rampSteps > 0 && i < rampSteps {
			t := uint16((uint32(i) * 65535) / uint32(rampSteps))
			delay = lerpDuration(s.StartStepDelay, s.MinStepDelay, t)
		}
		if err := s.Step.Write(true); err != nil {
			return err
		}
		time.Sleep(delay)
		if err := s.Step.Write(false); err != nil {
			return err
		}
	}
	return nil
}

func lerpDuration(a, b time.Duration, t uint16) time.Duration {
	return time.Duration(mathx.LerpU16(uint16(a.Microseconds()), uint16(b.Microseconds()), t)) * time.Microsecond
}

// Home resets the diverter to its rest position by pulsing the reverse
// direction for StepsPerActivation steps, with the same step-delay ramp
// as Activate, without recording an operation count.
func (s *StepperActuator) Home() error {
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()
	if err := s.Enable.Write(true); err != nil {
		return err
	}
	defer s.Enable.Write(false)
	return s.pulse(!s.Direction, s.StepsPerActivation)
}

func (s *StepperActuator) Status() ActuatorStatus { return s.status() }
