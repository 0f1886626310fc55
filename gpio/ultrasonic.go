package gpio

import (
	"errors"
	"time"

	"sorterctl/x/mathx"
)

// ErrEchoTimeout is returned by EchoMeter.Measure when no echo returns
// within the configured timeout.
var ErrEchoTimeout = errors.New("gpio: ultrasonic echo timeout")

// EchoMeter abstracts a trigger/echo distance measurement (e.g. HC-SR04):
// it pulses the trigger line and times the echo line's high pulse,
// returning a one-shot distance reading.
type EchoMeter interface {
	Measure(timeout time.Duration) (distanceM float64, err error)
}

// UltrasonicSensor polls an EchoMeter, applies a moving average over
// SmoothingSamples, and maps the smoothed distance to a bin fill fraction.
type UltrasonicSensor struct {
	Meter   EchoMeter
	Timeout time.Duration

	SmoothingSamples int
	EmptyDistanceM   float64
	FullDistanceM    float64

	samples []float64
	next    int
	filled  bool
}

// NewUltrasonicSensor returns a sensor with the given smoothing window.
func NewUltrasonicSensor(meter EchoMeter, timeout time.Duration, smoothingSamples int, emptyM, fullM float64) *UltrasonicSensor {
	if smoothingSamples < 1 {
		smoothingSamples = 1
	}
	return &UltrasonicSensor{
		Meter: meter, Timeout: timeout,
		SmoothingSamples: smoothingSamples,
		EmptyDistanceM:   emptyM,
		FullDistanceM:    fullM,
		samples:          make([]float64, smoothingSamples),
	}
}

// Sample takes one raw reading, folds it into the moving average, and
// returns the smoothed distance. ErrEchoTimeout propagates unsmoothed so
// the caller can mark the sensor degraded.
func (u *UltrasonicSensor) Sample() (smoothedM float64, err error) {
	d, err := u.Meter.Measure(u.Timeout)
	if err != nil {
		return 0, err
	}
	u.samples[u.next] = d
	u.next = (u.next + 1) % len(u.samples)
	if u.next == 0 {
		u.filled = true
	}
	return u.average(), nil
}

func (u *UltrasonicSensor) average() float64 {
	n := len(u.samples)
	if !u.filled {
		n = u.next
		if n == 0 {
			n = 1
		}
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += u.samples[i]
	}
	return sum / float64(n)
}

// FillFraction maps a smoothed distance reading to [0,1]: EmptyDistanceM
// maps to 0, FullDistanceM maps to 1, linearly, clamped at the ends.
func (u *UltrasonicSensor) FillFraction(distanceM float64) float64 {
	return mathx.MapF64(distanceM, u.EmptyDistanceM, u.FullDistanceM, 0, 1)
}
