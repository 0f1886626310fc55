package binmonitor

import (
	"errors"
	"testing"
	"time"

	"sorterctl/bus"
	"sorterctl/classify"
	"sorterctl/clock"
	"sorterctl/gpio"
	"sorterctl/telemetry"
)

var testThresholds = Thresholds{WarnPct: 70, FullPct: 90, CriticalPct: 98}

type fakeMeter struct {
	distanceM float64
	err       error
}

func (f *fakeMeter) Measure(time.Duration) (float64, error) { return f.distanceM, f.err }

func newSensor(meter *fakeMeter) *gpio.UltrasonicSensor {
	return gpio.NewUltrasonicSensor(meter, time.Second, 1, 1.0, 0.0)
}

func TestNextState_BoundaryAtFullThresholdIsFull(t *testing.T) {
	got := nextState(90, OK, testThresholds)
	if got != Full {
		t.Fatalf("expected Full at exactly full_pct, got %v", got)
	}
}

func TestNextState_WarnBelowFullThreshold(t *testing.T) {
	got := nextState(75, OK, testThresholds)
	if got != Warn {
		t.Fatalf("expected Warn, got %v", got)
	}
}

func TestNextState_FullHoldsUntilBelowWarnMinusMargin(t *testing.T) {
	// still above warn_pct - 5 (65): must hold at Full.
	got := nextState(68, Full, testThresholds)
	if got != Full {
		t.Fatalf("expected Full to hold via hysteresis, got %v", got)
	}
	// now below warn_pct - 5: allowed to clear.
	got = nextState(60, Full, testThresholds)
	if got != OK {
		t.Fatalf("expected OK once below warn_pct-5, got %v", got)
	}
}

func TestNextState_CriticalAboveCriticalThreshold(t *testing.T) {
	got := nextState(99, Full, testThresholds)
	if got != Critical {
		t.Fatalf("expected Critical, got %v", got)
	}
}

func TestMonitor_BlockingFalseForUnknownCategory(t *testing.T) {
	m := New(clock.Real{}, nil)
	if m.Blocking(classify.Metal) {
		t.Fatal("unregistered category must not block")
	}
}

func TestMonitor_PollTransitionsAndPublishesBinChanged(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	tel := telemetry.New(bus.NewBus(8))
	defer tel.Close()

	sub := tel.Subscribe(telemetry.TopicBinChanged)
	defer sub.Unsubscribe()

	meter := &fakeMeter{distanceM: 0.05} // near empty distance -> near-full fraction
	sensor := newSensor(meter)
	m := New(v, tel)
	m.Register(classify.Metal, sensor, testThresholds, 10*time.Millisecond)

	done := make(chan struct{})
	go m.Run(done)
	defer close(done)

	// Give the polling goroutines a chance to register their tickers.
	time.Sleep(10 * time.Millisecond)
	v.Advance(10 * time.Millisecond)

	select {
	case msg := <-sub.Channel():
		ev := msg.Payload.(telemetry.BinChanged)
		if ev.Category != classify.Metal {
			t.Fatalf("unexpected category %v", ev.Category)
		}
		if ev.State != string(Full) && ev.State != string(Critical) {
			t.Fatalf("expected full or critical state, got %v", ev.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bin.changed")
	}

	if !m.Blocking(classify.Metal) {
		t.Fatal("expected Blocking true once bin reads full")
	}
}

func TestMonitor_SensorErrorDoesNotPanic(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	meter := &fakeMeter{err: errors.New("echo timeout")}
	sensor := newSensor(meter)
	m := New(v, nil)
	m.Register(classify.Plastic, sensor, testThresholds, 10*time.Millisecond)

	done := make(chan struct{})
	go m.Run(done)
	defer close(done)

	// Give the polling goroutines a chance to register their tickers.
	time.Sleep(10 * time.Millisecond)
	v.Advance(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if m.Blocking(classify.Plastic) {
		t.Fatal("a failed sample must not flip the bin to blocking")
	}
}
