package gpio

import "time"

// OnOffActuator drives a single-pin flap/gate diverter: assert the pin to
// ActiveState for the activation duration, then release.
type OnOffActuator struct {
	inflight

	Pin         DigitalOut
	ActiveState bool

	MaxOperations uint64

	Now func() time.Time
}

func (o *OnOffActuator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *OnOffActuator) Initialize() error {
	o.enabled.Store(true)
	return o.Pin.Write(!o.ActiveState)
}

func (o *OnOffActuator) Shutdown() {
	o.enabled.Store(false)
	_ = o.Pin.Write(!o.ActiveState)
}

func (o *OnOffActuator) Activate(duration time.Duration) error {
	if !o.enabled.Load() {
		return ErrDisabled
	}
	if !o.acquire() {
		return ErrBusy
	}
	defer o.release()

	if o.MaxOperations > 0 && o.opCount.Load() >= o.MaxOperations {
		o.faultCount.Add(1)
	}

	if err := o.Pin.Write(o.ActiveState); err != nil {
		o.faultCount.Add(1)
		return err
	}
	time.Sleep(duration)
	if err := o.Pin.Write(!o.ActiveState); err != nil {
		o.faultCount.Add(1)
		return err
	}
	o.recordOp(o.now())
	return nil
}

// Home is a no-op for the on/off variant: the gate is already at rest
// whenever it is not activated.
func (o *OnOffActuator) Home() error { return nil }

func (o *OnOffActuator) Status() ActuatorStatus { return o.status() }
