// Package aht20 drives an AHT20 temperature/humidity sensor over I2C.
//
// The safety supervisor uses this as its enclosure-ambient-temperature
// source for the operational-limits watchdog. It exposes a two-phase
// measurement API matching the rest of the core's Trigger/Collect
// capability shape:
//
//	after, err := d.Trigger()  // start a measurement (fast, non-blocking)
//	s, err := d.Collect()      // fetch when ready; returns ErrNotReady while busy
//
// NOTE: I2C.Tx must perform a write followed by a repeated-start read when
// both w and r are non-nil, without releasing the bus between them.
package aht20

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Address is the AHT20's fixed I2C address.
const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

// ErrNotReady signals that a measurement was triggered but has not
// completed conversion yet; callers should retry Collect after a short
// backoff.
var ErrNotReady = errors.New("aht20: not ready")

// Device wraps an I2C connection to a single AHT20 sensor.
type Device struct {
	bus     drivers.I2C
	Address uint16

	initialized bool
	buf         [7]byte // reused to avoid per-read allocation
}

// New returns a Device bound to an already-configured I2C bus.
func New(bus drivers.I2C) *Device {
	return &Device{bus: bus, Address: Address}
}

// Init performs the device's one-time calibration check and, if needed,
// forces initialisation. Safe to call more than once.
func (d *Device) Init() error {
	st, err := d.status()
	if err == nil && st&statusCalibrated != 0 {
		d.initialized = true
		return nil
	}
	if err := d.bus.Tx(d.Address, []byte{cmdInitialize, 0x08, 0x00}, nil); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	d.initialized = true
	return nil
}

// Reset issues a soft reset. Callers should wait ~20ms before further use.
func (d *Device) Reset() error {
	return d.bus.Tx(d.Address, []byte{cmdSoftReset}, nil)
}

func (d *Device) status() (byte, error) {
	data := []byte{0}
	if err := d.bus.Tx(d.Address, []byte{cmdStatus}, data); err != nil {
		return 0, err
	}
	return data[0], nil
}

// Trigger starts a measurement. It is a quick register write; the caller
// should wait collectAfter before calling Collect.
func (d *Device) Trigger() (collectAfter time.Duration, err error) {
	if !d.initialized {
		if err := d.Init(); err != nil {
			return 0, err
		}
	}
	if err := d.bus.Tx(d.Address, []byte{cmdTrigger, 0x33, 0x00}, nil); err != nil {
		return 0, err
	}
	return 80 * time.Millisecond, nil
}

// Collect reads one measurement. Returns ErrNotReady while the device is
// still converting; any other error is a bus/protocol failure.
func (d *Device) Collect() (Sample, error) {
	data := d.buf[:]
	if err := d.bus.Tx(d.Address, nil, data); err != nil {
		return Sample{}, err
	}
	if (data[0]&statusCalibrated) == 0 || (data[0]&statusBusy) != 0 {
		return Sample{}, ErrNotReady
	}
	hraw := (uint32(data[1]) << 12) | (uint32(data[2]) << 4) | (uint32(data[3]) >> 4)
	traw := (uint32(data[3]&0x0F) << 16) | (uint32(data[4]) << 8) | uint32(data[5])
	return Sample{RawHumidity: hraw, RawTemp: traw}, nil
}

// Sample holds one raw reading pair.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

// CelsiusX10 returns tenths of a degree Celsius (e.g. 231 => 23.1C),
// avoiding floating point on the measurement hot path.
func (s Sample) CelsiusX10() int32 {
	return ((int32(s.RawTemp) * 2000) / 0x100000) - 500
}

// RelHumidityX10 returns tenths of a percent relative humidity.
func (s Sample) RelHumidityX10() int32 {
	return (int32(s.RawHumidity) * 1000) / 0x100000
}
