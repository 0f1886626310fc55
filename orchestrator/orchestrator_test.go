package orchestrator

import (
	"context"
	"testing"
	"time"

	"sorterctl/bus"
	"sorterctl/classify"
	"sorterctl/clock"
	"sorterctl/errcode"
	"sorterctl/gpio"
	"sorterctl/sorterconfig"
	"sorterctl/statemachine"
	"sorterctl/telemetry"
)

// testSnapshot returns a single-category (metal) configuration tuned with
// short durations so tests run against the real clock without waiting out
// production-sized timeouts.
func testSnapshot() sorterconfig.Snapshot {
	return sorterconfig.Snapshot{
		System: sorterconfig.SystemSettings{MaxRestartAttempts: 3, RestartDelay: time.Second},
		AIModel: sorterconfig.AIModelSettings{
			MinConfidence: 0.5, FallbackCategory: classify.Other, MaxInferenceTime: time.Second,
		},
		Belt: sorterconfig.ConveyorBeltSettings{
			BeltSpeedMps: 1.0,
			DistanceCameraToDiverters:  map[classify.Category]float64{classify.Metal: 0.05},
			DiverterActivationDuration: map[classify.Category]time.Duration{classify.Metal: 10 * time.Millisecond},
			MinDutyPct: 0, MaxDutyPct: 100,
			AccelTime: 10 * time.Millisecond, DecelTime: 10 * time.Millisecond,
		},
		Sensors: sorterconfig.SensorsSettings{
			CameraTrigger: sorterconfig.CameraTriggerSensor{Debounce: time.Millisecond},
			BinLevel: map[classify.Category]sorterconfig.BinLevelSensor{
				classify.Metal: {
					EmptyDistanceM: 1.0, FullDistanceM: 0.1,
					FullPct: 85, CriticalPct: 95, SmoothingSamples: 1, UpdateInterval: 5 * time.Millisecond,
				},
			},
		},
		Diverters: sorterconfig.DiverterControlSettings{
			Diverters: map[classify.Category]sorterconfig.DiverterSettings{
				classify.Metal: {Type: gpio.OnOff, ActivationDuration: 10 * time.Millisecond},
			},
			Global: sorterconfig.DiverterGlobalSettings{
				TimeoutBetweenActivations: 5 * time.Millisecond,
				MaxConsecutiveFailures:    3,
				FailureRecoveryDelay:      20 * time.Millisecond,
			},
		},
		Safety: sorterconfig.SafetySettings{
			OperationalLimits: sorterconfig.OperationalLimits{
				MaxTemperatureCelsius: 65, MaxContinuousRuntime: time.Hour, MaxObjectsPerHour: 1e6,
			},
		},
	}
}

type testRig struct {
	orch       *Orchestrator
	triggerPin *fakePin
	actuator   *fakeActuator
	meter      *fakeMeter
	classifier *fakeClassifier
	cancel     context.CancelFunc
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	snap := testSnapshot()
	store, err := sorterconfig.NewStore(snap)
	if err != nil {
		t.Fatalf("testSnapshot rejected: %v", err)
	}

	triggerPin := &fakePin{}
	cameraTrigger := gpio.NewEdgeSensor(triggerPin, clock.Real{}, time.Millisecond, time.Millisecond, true)

	act := &fakeActuator{}
	meter := &fakeMeter{distanceM: 1.0}
	binSensor := gpio.NewUltrasonicSensor(meter, time.Second, 1, 1.0, 0.1)
	classifier := &fakeClassifier{result: classify.Result{Category: classify.Metal, Confidence: 0.95}}

	orch := New(Config{
		Clock:         clock.Real{},
		Bus:           bus.NewBus(32),
		ConfigStore:   store,
		CameraTrigger: cameraTrigger,
		CaptureFrame:  fakeCaptureOK,
		Classifier:    classifier,
		Diverters:     map[classify.Category]gpio.Actuator{classify.Metal: act},
		BinSensors:    map[classify.Category]*gpio.UltrasonicSensor{classify.Metal: binSensor},
		BeltPWM:       &fakePWM{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = orch.Run(ctx) }()

	return &testRig{orch: orch, triggerPin: triggerPin, actuator: act, meter: meter, classifier: classifier, cancel: cancel}
}

func (r *testRig) stop() { r.cancel() }

func waitForState(t *testing.T, orch *Orchestrator, want statemachine.State, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if orch.GetStatus().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, currently %s", want, orch.GetStatus().State)
}

func recvOrTimeout(ch <-chan *bus.Message, d time.Duration) (*bus.Message, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m := <-ch:
		return m, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

func pulseTrigger(pin *fakePin) {
	_ = pin.Write(true)
	time.Sleep(3 * time.Millisecond)
	_ = pin.Write(false)
}

func TestOrchestrator_HappyPath_TriggerToActuation(t *testing.T) {
	rig := newTestRig(t)
	defer rig.stop()

	waitForState(t, rig.orch, statemachine.Idle, time.Second)
	if err := rig.orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub := rig.orch.Subscribe(telemetry.TopicItemActuated)
	pulseTrigger(rig.triggerPin)

	m, err := recvOrTimeout(sub.Channel(), time.Second)
	if err != nil {
		t.Fatalf("no item.actuated observed: %v", err)
	}
	e, ok := m.Payload.(telemetry.ItemActuated)
	if !ok {
		t.Fatalf("unexpected payload type %T", m.Payload)
	}
	if e.Category != classify.Metal {
		t.Errorf("got category %s, want metal", e.Category)
	}
	if rig.actuator.activations() == 0 {
		t.Error("diverter was never activated")
	}
}

func TestOrchestrator_BinFull_DropsItems(t *testing.T) {
	rig := newTestRig(t)
	defer rig.stop()

	rig.meter.set(0.1) // at FullDistanceM: bin reads 100% full

	waitForState(t, rig.orch, statemachine.Idle, time.Second)
	if err := rig.orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let the bin monitor observe the full reading before triggering.
	time.Sleep(30 * time.Millisecond)

	sub := rig.orch.Subscribe(telemetry.TopicItemDropped)
	pulseTrigger(rig.triggerPin)

	m, err := recvOrTimeout(sub.Channel(), time.Second)
	if err != nil {
		t.Fatalf("no item.dropped observed: %v", err)
	}
	e := m.Payload.(telemetry.ItemDropped)
	if e.Reason != errcode.DropBinFull {
		t.Errorf("got drop reason %s, want %s", e.Reason, errcode.DropBinFull)
	}
	if rig.actuator.activations() != 0 {
		t.Error("diverter activated despite a full bin")
	}
}

func TestOrchestrator_ClassifierError_DropsWithClassifierError(t *testing.T) {
	rig := newTestRig(t)
	defer rig.stop()

	waitForState(t, rig.orch, statemachine.Idle, time.Second)
	if err := rig.orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rig.classifier.setError(classify.ErrModelError)
	sub := rig.orch.Subscribe(telemetry.TopicItemDropped)
	pulseTrigger(rig.triggerPin)

	m, err := recvOrTimeout(sub.Channel(), time.Second)
	if err != nil {
		t.Fatalf("no item.dropped observed: %v", err)
	}
	e := m.Payload.(telemetry.ItemDropped)
	if e.Reason != errcode.DropClassifierError {
		t.Errorf("got drop reason %s, want %s", e.Reason, errcode.DropClassifierError)
	}
}

func TestOrchestrator_EmergencyStop_ForcesErrorAndCutsPower(t *testing.T) {
	rig := newTestRig(t)
	defer rig.stop()

	waitForState(t, rig.orch, statemachine.Idle, time.Second)
	if err := rig.orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.orch, statemachine.Running, time.Second)

	if err := rig.orch.EmergencyStop(); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if got := rig.orch.GetStatus().State; got != statemachine.Error {
		t.Fatalf("got state %s, want error", got)
	}
	if rig.actuator.Status().Enabled {
		t.Error("diverter still enabled after emergency stop")
	}
}

func TestOrchestrator_PauseResume_RoundTrips(t *testing.T) {
	rig := newTestRig(t)
	defer rig.stop()

	waitForState(t, rig.orch, statemachine.Idle, time.Second)
	if err := rig.orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.orch, statemachine.Running, time.Second)

	if err := rig.orch.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitForState(t, rig.orch, statemachine.Paused, time.Second)

	if err := rig.orch.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForState(t, rig.orch, statemachine.Running, time.Second)
}
