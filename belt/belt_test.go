package belt

import (
	"sync"
	"testing"
	"time"

	"sorterctl/clock"
)

type fakePWM struct {
	mu   sync.Mutex
	duty []float64
	freq uint32
}

func (f *fakePWM) SetFrequency(hz uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freq = hz
	return nil
}

func (f *fakePWM) SetDutyCycle(pct float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duty = append(f.duty, pct)
	return nil
}

func (f *fakePWM) last() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.duty) == 0 {
		return 0
	}
	return f.duty[len(f.duty)-1]
}

func runRampAsync(t *testing.T, v *clock.Virtual, fn func() error) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func driveVirtual(v *clock.Virtual, step time.Duration, n int) {
	for i := 0; i < n; i++ {
		// Let the ramp goroutine register its next wait before advancing.
		time.Sleep(time.Millisecond)
		v.Advance(step)
	}
}

func TestController_StartRampsToRunning(t *testing.T) {
	pwm := &fakePWM{}
	v := clock.NewVirtual(time.Unix(0, 0))
	c := New(pwm, v, 0.5, 10, 90, 200*time.Millisecond, 200*time.Millisecond, 5)

	done := runRampAsync(t, v, func() error { return c.Start(0.3) })
	driveVirtual(v, 10*time.Millisecond, 30)

	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != Running {
		t.Fatalf("expected Running, got %v", c.State())
	}
	if c.NominalSpeedMps() != 0.3 {
		t.Fatalf("expected nominal speed 0.3, got %v", c.NominalSpeedMps())
	}
	if pwm.last() <= 10 {
		t.Fatalf("expected duty above minimum, got %v", pwm.last())
	}
}

func TestController_StartRejectsOutOfRangeSpeed(t *testing.T) {
	pwm := &fakePWM{}
	v := clock.NewVirtual(time.Unix(0, 0))
	c := New(pwm, v, 0.5, 10, 90, time.Millisecond, time.Millisecond, 1)

	if err := c.Start(1.0); err != ErrInvalidSpeed {
		t.Fatalf("expected ErrInvalidSpeed, got %v", err)
	}
	if err := c.Start(0); err != ErrInvalidSpeed {
		t.Fatalf("expected ErrInvalidSpeed for zero, got %v", err)
	}
}

func TestController_EmergencyStopLocksOutStart(t *testing.T) {
	pwm := &fakePWM{}
	v := clock.NewVirtual(time.Unix(0, 0))
	c := New(pwm, v, 0.5, 10, 90, time.Millisecond, time.Millisecond, 1)

	if err := c.EmergencyStop(); err != nil {
		t.Fatalf("estop: %v", err)
	}
	if c.State() != EmergencyStopped {
		t.Fatalf("expected EmergencyStopped, got %v", c.State())
	}
	if err := c.Start(0.2); err == nil {
		t.Fatal("expected Start to fail while locked out")
	}

	c.Reset()
	if c.State() != Stopped {
		t.Fatalf("expected Stopped after reset, got %v", c.State())
	}
}

func TestController_StopNonRampedCutsPowerImmediately(t *testing.T) {
	pwm := &fakePWM{}
	v := clock.NewVirtual(time.Unix(0, 0))
	c := New(pwm, v, 0.5, 10, 90, 50*time.Millisecond, 50*time.Millisecond, 3)

	done := runRampAsync(t, v, func() error { return c.Start(0.3) })
	driveVirtual(v, 10*time.Millisecond, 10)
	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := c.Stop(false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.State() != Stopped {
		t.Fatalf("expected Stopped, got %v", c.State())
	}
	if pwm.last() != 0 {
		t.Fatalf("expected duty 0 after non-ramped stop, got %v", pwm.last())
	}
}
