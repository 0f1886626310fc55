package orchestrator

import (
	"context"
	"sync"
	"time"

	"sorterctl/classify"
	"sorterctl/gpio"
)

// fakePin is an in-memory DigitalIn/DigitalOut loopback.
type fakePin struct {
	mu   sync.Mutex
	high bool
}

func (p *fakePin) Write(high bool) error {
	p.mu.Lock()
	p.high = high
	p.mu.Unlock()
	return nil
}

func (p *fakePin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high, nil
}

// fakePWM records duty-cycle writes without driving anything.
type fakePWM struct {
	mu  sync.Mutex
	pct float64
}

func (p *fakePWM) SetFrequency(hz uint32) error { return nil }

func (p *fakePWM) SetDutyCycle(pct float64) error {
	p.mu.Lock()
	p.pct = pct
	p.mu.Unlock()
	return nil
}

// fakeActuator is a zero-latency Actuator: Activate returns immediately so
// tests never wait out a real activation_duration.
type fakeActuator struct {
	mu      sync.Mutex
	opCount uint64
	enabled bool
}

func (f *fakeActuator) Initialize() error {
	f.mu.Lock()
	f.enabled = true
	f.mu.Unlock()
	return nil
}

func (f *fakeActuator) Home() error { return nil }

func (f *fakeActuator) Shutdown() {
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
}

func (f *fakeActuator) Activate(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opCount++
	return nil
}

func (f *fakeActuator) Status() gpio.ActuatorStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gpio.ActuatorStatus{Enabled: f.enabled, OpCount: f.opCount}
}

func (f *fakeActuator) activations() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opCount
}

// fakeMeter returns a fixed distance reading, standing in for an
// always-empty or always-full bin depending on the test.
type fakeMeter struct {
	mu        sync.Mutex
	distanceM float64
}

func (m *fakeMeter) Measure(time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.distanceM, nil
}

func (m *fakeMeter) set(d float64) {
	m.mu.Lock()
	m.distanceM = d
	m.mu.Unlock()
}

// fakeClassifier returns a fixed result, or an error when errNext is set.
type fakeClassifier struct {
	mu      sync.Mutex
	result  classify.Result
	errNext error
}

func (c *fakeClassifier) Classify(ctx context.Context, frame []byte, deadline time.Time) (classify.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errNext != nil {
		err := c.errNext
		c.errNext = nil
		return classify.Result{}, err
	}
	return c.result, nil
}

func (c *fakeClassifier) setResult(r classify.Result) {
	c.mu.Lock()
	c.result = r
	c.mu.Unlock()
}

func (c *fakeClassifier) setError(err error) {
	c.mu.Lock()
	c.errNext = err
	c.mu.Unlock()
}

func fakeCaptureOK() ([]byte, error) { return []byte{1}, nil }
