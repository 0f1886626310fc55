// Package belt drives the conveyor's PWM motor: ramped accel/decel between
// named states, with the nominal running speed exposed to the dispatch
// scheduler. The scheduler treats speed as instantaneous at the nominal
// value during State == Running and refuses to schedule new fires
// otherwise.
package belt

import (
	"errors"
	"sync"
	"time"

	"sorterctl/clock"
	"sorterctl/gpio"
	"sorterctl/x/mathx"
	"sorterctl/x/ramp"
)

// State is the belt's own closed enum, per spec.md 4.4.
type State string

const (
	Stopped      State = "stopped"
	Accelerating State = "accelerating"
	Running      State = "running"
	Decelerating State = "decelerating"
	EmergencyStopped State = "emergency_stop"
)

// ErrInvalidSpeed is returned by Start when the requested speed is outside
// (0, MaxSpeedMps].
var ErrInvalidSpeed = errors.New("belt: invalid target speed")

// Controller owns the PWM output line. No other component touches it.
type Controller struct {
	PWM   gpio.PWMOut
	Clock clock.Clock

	MaxSpeedMps  float64
	MinDutyPct   float64
	MaxDutyPct   float64
	AccelTime    time.Duration
	DecelTime    time.Duration
	RampSteps    uint16

	mu           sync.Mutex
	state        State
	nominalSpeed float64
}

// New returns a stopped controller.
func New(pwm gpio.PWMOut, clk clock.Clock, maxSpeedMps, minDutyPct, maxDutyPct float64, accel, decel time.Duration, rampSteps uint16) *Controller {
	return &Controller{
		PWM: pwm, Clock: clk,
		MaxSpeedMps: maxSpeedMps, MinDutyPct: minDutyPct, MaxDutyPct: maxDutyPct,
		AccelTime: accel, DecelTime: decel, RampSteps: rampSteps,
		state: Stopped,
	}
}

// State returns the current state under lock.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NominalSpeedMps is the speed the scheduler should assume while Running.
func (c *Controller) NominalSpeedMps() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return 0
	}
	return c.nominalSpeed
}

func (c *Controller) dutyForSpeed(speedMps float64) float64 {
	return mathx.MapF64(speedMps, 0, c.MaxSpeedMps, c.MinDutyPct, c.MaxDutyPct)
}

// Start ramps the belt up to targetSpeedMps and leaves it Running.
func (c *Controller) Start(targetSpeedMps float64) error {
	if targetSpeedMps <= 0 || targetSpeedMps > c.MaxSpeedMps {
		return ErrInvalidSpeed
	}
	c.mu.Lock()
	if c.state == EmergencyStopped {
		c.mu.Unlock()
		return errors.New("belt: locked out after emergency stop")
	}
	c.state = Accelerating
	c.mu.Unlock()

	fromDuty := c.dutyForSpeed(0)
	toDuty := c.dutyForSpeed(targetSpeedMps)
	if err := c.ramp(fromDuty, toDuty, c.AccelTime); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = Running
	c.nominalSpeed = targetSpeedMps
	c.mu.Unlock()
	return nil
}

// Stop ramps the belt down to zero when ramped is true, matching the
// conveyor controller's default graceful stop; otherwise it cuts power
// immediately (still distinct from EmergencyStop, which also locks out
// Start until reset).
func (c *Controller) Stop(ramped bool) error {
	c.mu.Lock()
	cur := c.nominalSpeed
	if c.state == Stopped || c.state == EmergencyStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = Decelerating
	c.mu.Unlock()

	if ramped {
		fromDuty := c.dutyForSpeed(cur)
		if err := c.ramp(fromDuty, c.dutyForSpeed(0), c.DecelTime); err != nil {
			return err
		}
	} else {
		if err := c.PWM.SetDutyCycle(0); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.state = Stopped
	c.nominalSpeed = 0
	c.mu.Unlock()
	return nil
}

// Pause is a ramped stop that preserves the ability to Resume at the same
// nominal speed.
func (c *Controller) Pause() error {
	c.mu.Lock()
	speed := c.nominalSpeed
	if c.state != Running {
		c.mu.Unlock()
		return nil
	}
	c.state = Decelerating
	c.mu.Unlock()

	if err := c.ramp(c.dutyForSpeed(speed), c.dutyForSpeed(0), c.DecelTime); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = Stopped
	c.nominalSpeed = speed // retained for Resume
	c.mu.Unlock()
	return nil
}

// Resume ramps back to the speed Pause was called at.
func (c *Controller) Resume() error {
	c.mu.Lock()
	speed := c.nominalSpeed
	if speed <= 0 {
		c.mu.Unlock()
		return ErrInvalidSpeed
	}
	c.mu.Unlock()
	return c.Start(speed)
}

// EmergencyStop cuts power immediately, non-ramped, and locks out Start
// until the controller is explicitly reset by the safety supervisor's
// operator-acknowledge flow.
func (c *Controller) EmergencyStop() error {
	c.mu.Lock()
	c.state = EmergencyStopped
	c.nominalSpeed = 0
	c.mu.Unlock()
	return c.PWM.SetDutyCycle(0)
}

// Reset clears the emergency-stop lockout, returning to Stopped. Called
// only after an operator acknowledges the e-stop release.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == EmergencyStopped {
		c.state = Stopped
	}
}

func (c *Controller) ramp(fromPct, toPct float64, duration time.Duration) error {
	const scale = 100 // 0..10000 represents 0..100.00%
	from := uint16(fromPct * scale)
	to := uint16(toPct * scale)
	top := uint16(c.MaxDutyPct * scale)

	var rampErr error
	tick := func(d time.Duration) bool {
		<-c.Clock.After(d)
		return true
	}
	set := func(level uint16) {
		if rampErr != nil {
			return
		}
		rampErr = c.PWM.SetDutyCycle(float64(level) / scale)
	}
	ramp.StartLinear(from, to, top, uint32(duration.Milliseconds()), c.RampSteps, tick, set)
	return rampErr
}
