// Package ambienttemp adapts the AHT20 I2C driver's Trigger/Collect
// capability shape into a single blocking Celsius reading the safety
// supervisor's limits watchdog can sample on each tick.
package ambienttemp

import (
	"time"

	"sorterctl/drivers/aht20"
)

// Sensor wraps an aht20.Device as the watchdog's enclosure-temperature
// source.
type Sensor struct {
	dev   *aht20.Device
	sleep func(time.Duration)
}

// New returns a Sensor. sleep defaults to time.Sleep; tests may override
// it to avoid real waits.
func New(dev *aht20.Device) *Sensor {
	return &Sensor{dev: dev, sleep: time.Sleep}
}

// ReadCelsius triggers a measurement, waits the device's reported
// conversion time, and collects the result, retrying briefly while the
// device reports not-ready.
func (s *Sensor) ReadCelsius() (float64, error) {
	after, err := s.dev.Trigger()
	if err != nil {
		return 0, err
	}
	s.sleep(after)

	for attempt := 0; attempt < 3; attempt++ {
		sample, err := s.dev.Collect()
		if err == aht20.ErrNotReady {
			s.sleep(5 * time.Millisecond)
			continue
		}
		if err != nil {
			return 0, err
		}
		return float64(sample.CelsiusX10()) / 10.0, nil
	}
	return 0, aht20.ErrNotReady
}
