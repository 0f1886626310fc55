package safety

import (
	"context"
	"testing"
	"time"

	"sorterctl/bus"
	"sorterctl/clock"
	"sorterctl/errcode"
	"sorterctl/statemachine"
	"sorterctl/telemetry"
)

type fakeBelt struct{ stopped bool }

func (f *fakeBelt) EmergencyStop() error { f.stopped = true; return nil }

type fakeScheduler struct{ cancelled bool }

func (f *fakeScheduler) CancelAll() { f.cancelled = true }

func newRunningMachine(t *testing.T, v *clock.Virtual, tel *telemetry.Telemetry) *statemachine.Machine {
	t.Helper()
	guards := statemachine.Guards{
		BeltRunning:       func() bool { return true },
		ComponentsHealthy: func() bool { return true },
		EStopAsserted:     func() bool { return false },
	}
	m := statemachine.New(v, tel, guards, 0)
	done := make(chan struct{})
	go m.Run(done)
	t.Cleanup(func() { close(done) })
	_ = m.Transition(statemachine.Idle, "init")
	_ = m.Transition(statemachine.Running, "start")
	return m
}

func TestEStopLoop_AssertionForcesErrorAndStopsBelt(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	tel := telemetry.New(bus.NewBus(8))
	defer tel.Close()
	m := newRunningMachine(t, v, tel)

	belt := &fakeBelt{}
	sched := &fakeScheduler{}
	asserted := false
	disabled := false

	s := New(Config{
		Clock: v, Telemetry: tel, Machine: m, Belt: belt, Scheduler: sched,
		DisableDiverters: func() { disabled = true },
		EStopAsserted:     func() bool { return asserted },
		EStopPollInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go s.RunEStopLoop(done)
	defer close(done)

	// Give the loop a chance to register its ticker before advancing.
	time.Sleep(10 * time.Millisecond)
	asserted = true
	v.Advance(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if m.State() != statemachine.Error {
		t.Fatalf("expected Error state, got %v", m.State())
	}
	if !belt.stopped {
		t.Fatal("expected belt EmergencyStop called")
	}
	if !sched.cancelled {
		t.Fatal("expected scheduler CancelAll called")
	}
	if !disabled {
		t.Fatal("expected diverters disabled")
	}
}

func TestLimitsWatchdog_CriticalTempForcesError(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	tel := telemetry.New(bus.NewBus(8))
	defer tel.Close()
	m := newRunningMachine(t, v, tel)

	s := New(Config{
		Clock: v, Telemetry: tel, Machine: m,
		Limits: Limits{
			TempCelsius: MetricLimit{Warn: 60, Critical: 80},
			Margin:      5, ClearSamples: 2,
		},
		Sampler:          Sampler{TempC: func() float64 { return 85 }},
		WatchdogInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go s.RunLimitsWatchdog(done)
	defer close(done)

	// Give the loop a chance to register its ticker before advancing.
	time.Sleep(10 * time.Millisecond)
	v.Advance(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if m.State() != statemachine.Error {
		t.Fatalf("expected Error state on critical temp, got %v", m.State())
	}
}

func TestLimitsWatchdog_WarnTempPauses(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	tel := telemetry.New(bus.NewBus(8))
	defer tel.Close()
	m := newRunningMachine(t, v, tel)

	s := New(Config{
		Clock: v, Telemetry: tel, Machine: m,
		Limits: Limits{
			TempCelsius: MetricLimit{Warn: 60, Critical: 80},
			Margin:      5, ClearSamples: 2,
		},
		Sampler:          Sampler{TempC: func() float64 { return 65 }},
		WatchdogInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go s.RunLimitsWatchdog(done)
	defer close(done)

	// Give the loop a chance to register its ticker before advancing.
	time.Sleep(10 * time.Millisecond)
	v.Advance(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if m.State() != statemachine.Paused {
		t.Fatalf("expected Paused on warn-level temp, got %v", m.State())
	}
}

func TestLimitsWatchdog_CPUCriticalReportsHighCPULoad(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	tel := telemetry.New(bus.NewBus(8))
	defer tel.Close()
	m := newRunningMachine(t, v, tel)

	sub := tel.Subscribe(telemetry.TopicAlert)

	s := New(Config{
		Clock: v, Telemetry: tel, Machine: m,
		Limits: Limits{
			CPUPercent: MetricLimit{Warn: 70, Critical: 90},
			Margin:     5, ClearSamples: 2,
		},
		Sampler:          Sampler{CPUPercent: func() float64 { return 95 }},
		WatchdogInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go s.RunLimitsWatchdog(done)
	defer close(done)

	// Give the loop a chance to register its ticker before advancing.
	time.Sleep(10 * time.Millisecond)
	v.Advance(10 * time.Millisecond)

	msg, err := recvAlert(sub)
	if err != nil {
		t.Fatalf("no alert observed: %v", err)
	}
	alert := msg.Payload.(telemetry.Alert)
	if alert.Kind != errcode.HighCPULoad {
		t.Fatalf("got alert kind %s, want %s", alert.Kind, errcode.HighCPULoad)
	}
	if m.State() != statemachine.Error {
		t.Fatalf("expected Error state on critical cpu, got %v", m.State())
	}
}

func TestLimitsWatchdog_RuntimeExceededPauses(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	tel := telemetry.New(bus.NewBus(8))
	defer tel.Close()
	m := newRunningMachine(t, v, tel)

	sub := tel.Subscribe(telemetry.TopicAlert)

	s := New(Config{
		Clock: v, Telemetry: tel, Machine: m,
		Limits: Limits{
			MaxContinuousRuntime: time.Hour,
			Margin:               5, ClearSamples: 2,
		},
		Sampler:          Sampler{Runtime: func() time.Duration { return 2 * time.Hour }},
		WatchdogInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go s.RunLimitsWatchdog(done)
	defer close(done)

	// Give the loop a chance to register its ticker before advancing.
	time.Sleep(10 * time.Millisecond)
	v.Advance(10 * time.Millisecond)

	msg, err := recvAlert(sub)
	if err != nil {
		t.Fatalf("no alert observed: %v", err)
	}
	alert := msg.Payload.(telemetry.Alert)
	if alert.Kind != errcode.RuntimeExceeded {
		t.Fatalf("got alert kind %s, want %s", alert.Kind, errcode.RuntimeExceeded)
	}
	if m.State() != statemachine.Paused {
		t.Fatalf("expected Paused on exceeded continuous runtime, got %v", m.State())
	}
}

func TestLimitsWatchdog_ThroughputExceededPauses(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	tel := telemetry.New(bus.NewBus(8))
	defer tel.Close()
	m := newRunningMachine(t, v, tel)

	sub := tel.Subscribe(telemetry.TopicAlert)

	s := New(Config{
		Clock: v, Telemetry: tel, Machine: m,
		Limits: Limits{
			MaxObjectsPerHour: 1000,
			Margin:            5, ClearSamples: 2,
		},
		Sampler:          Sampler{ItemsPerHour: func() float64 { return 1200 }},
		WatchdogInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go s.RunLimitsWatchdog(done)
	defer close(done)

	// Give the loop a chance to register its ticker before advancing.
	time.Sleep(10 * time.Millisecond)
	v.Advance(10 * time.Millisecond)

	msg, err := recvAlert(sub)
	if err != nil {
		t.Fatalf("no alert observed: %v", err)
	}
	alert := msg.Payload.(telemetry.Alert)
	if alert.Kind != errcode.ThroughputExceeded {
		t.Fatalf("got alert kind %s, want %s", alert.Kind, errcode.ThroughputExceeded)
	}
	if m.State() != statemachine.Paused {
		t.Fatalf("expected Paused on exceeded throughput, got %v", m.State())
	}
}

func recvAlert(sub *bus.Subscription) (*bus.Message, error) {
	timer := time.NewTimer(200 * time.Millisecond)
	defer timer.Stop()
	select {
	case m := <-sub.Channel():
		return m, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}
