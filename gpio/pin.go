// Package gpio provides the Actuator and Sensor capability abstractions
// the rest of the core schedules against: a uniform Activate/Home/Status
// surface for diverters, and edge/ultrasonic sensor readers with debounce
// and smoothing built in. Pin access itself is a narrow interface so the
// real Raspberry Pi GPIO lines and test fakes satisfy the same contract.
package gpio

import "errors"

// DigitalOut is a single output-capable GPIO line.
type DigitalOut interface {
	Write(high bool) error
}

// DigitalIn is a single input-capable GPIO line.
type DigitalIn interface {
	Read() (high bool, err error)
}

// PWMOut is a PWM-capable output line used by the belt controller.
type PWMOut interface {
	SetFrequency(hz uint32) error
	SetDutyCycle(pct float64) error // 0..100
}

// ErrBusy is returned when a capability rejects a concurrent call while one
// is already in flight.
var ErrBusy = errors.New("gpio: capability busy")

// ErrDisabled is returned when a capability has been disabled (fault
// tolerance, maintenance) and refuses to act.
var ErrDisabled = errors.New("gpio: capability disabled")
