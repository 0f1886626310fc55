// Package orchestrator wires every other package leaf-first and runs the
// trigger -> classify -> schedule pipeline. It owns the configuration
// snapshot and exposes the Control API capability handle external
// transports (HTTP, WebSocket, CLI) call into, per spec.md 6.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sorterctl/belt"
	"sorterctl/binmonitor"
	"sorterctl/bus"
	"sorterctl/classify"
	"sorterctl/clock"
	"sorterctl/dispatch"
	"sorterctl/errcode"
	"sorterctl/gpio"
	"sorterctl/recovery"
	"sorterctl/safety"
	"sorterctl/sorterconfig"
	"sorterctl/statemachine"
	"sorterctl/telemetry"
	"sorterctl/x/timex"
)

// AmbientSensor is the temperature source wired into the safety watchdog.
type AmbientSensor interface {
	ReadCelsius() (float64, error)
}

// Config bundles every external collaborator the orchestrator wires
// together. Nil-valued optional fields degrade gracefully (e.g. a nil
// TempSensor always reads 0C).
type Config struct {
	Clock       clock.Clock
	Bus         *bus.Bus
	ConfigStore *sorterconfig.Store

	CameraTrigger *gpio.EdgeSensor
	CaptureFrame  func() ([]byte, error)
	Classifier    classify.Classifier
	BackupClassifier classify.Classifier

	EStopInput gpio.DigitalIn

	Diverters  map[classify.Category]gpio.Actuator
	BinSensors map[classify.Category]*gpio.UltrasonicSensor
	BeltPWM    gpio.PWMOut

	TempSensor   AmbientSensor
	CPUPercent   func() float64
	MemPercent   func() float64
	Runtime      func() time.Duration
	ItemsPerHour func() float64

	SchedulerPollInterval time.Duration
	MetricsInterval       time.Duration
	ShutdownDrain         time.Duration
	PauseGrace            time.Duration
	MaintenanceTimeout    time.Duration

	// Logger receives lifecycle and fault events. The zero value disables
	// logging (zerolog.Logger's zero value discards everything written
	// through it).
	Logger zerolog.Logger
}

// Orchestrator is the assembled core. Construct with New, then call Run.
type Orchestrator struct {
	clk clock.Clock
	tel *telemetry.Telemetry
	cfg *sorterconfig.Store

	machine    *statemachine.Machine
	beltCtrl   *belt.Controller
	classifier *classify.Client
	scheduler  *dispatch.Scheduler
	recoverySup *recovery.Supervisor
	safetySup  *safety.Supervisor
	binMon     *binmonitor.Monitor

	cameraTrigger *gpio.EdgeSensor
	captureFrame  func() ([]byte, error)
	estopInput    gpio.DigitalIn
	diverters     map[classify.Category]gpio.Actuator

	shutdownDrain time.Duration
	pauseGrace    time.Duration

	itemID atomic.Uint64

	metricsInterval time.Duration
	metricsMu       sync.Mutex
	metricsRing     []telemetry.Metrics
	itemsProcessed  uint64
	confidenceSum   float64
	categoryCounts  map[classify.Category]uint64

	cpuPercent func() float64
	memPercent func() float64
	tempC      func() float64

	log zerolog.Logger
}

// New assembles the core from cfg. It does not start any goroutine; call
// Run to do that.
func New(cfg Config) *Orchestrator {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	tel := telemetry.New(cfg.Bus)

	snap := cfg.ConfigStore.Load()

	if snap.Belt.PWMFrequencyHz > 0 {
		_ = cfg.BeltPWM.SetFrequency(uint32(snap.Belt.PWMFrequencyHz))
		cmpLog := cfg.Logger.With().Str("cmp", "orchestrator").Logger()
		cmpLog.Debug().
			Uint32("freq_hz", uint32(snap.Belt.PWMFrequencyHz)).
			Uint64("period_ns", timex.PeriodFromHz(uint32(snap.Belt.PWMFrequencyHz))).
			Msg("belt pwm frequency set")
	}
	beltCtrl := belt.New(cfg.BeltPWM, clk, snap.Belt.BeltSpeedMps, snap.Belt.MinDutyPct, snap.Belt.MaxDutyPct,
		snap.Belt.AccelTime, snap.Belt.DecelTime, 16)

	classifier := &classify.Client{
		Primary: cfg.Classifier, Backup: cfg.BackupClassifier,
		MinConfidence: snap.AIModel.MinConfidence, FallbackCategory: snap.AIModel.FallbackCategory,
	}

	estopFn := estopAssertedFrom(cfg.EStopInput)

	// machine is predeclared so the guard closures below can capture it by
	// reference; they are only ever invoked after New returns, by which
	// point machine is assigned.
	var machine *statemachine.Machine
	guards := statemachine.Guards{
		BeltRunning:       func() bool { return beltCtrl.State() == belt.Running },
		ComponentsHealthy: func() bool { return machine.State() != statemachine.Error },
		EStopAsserted:     estopFn,
	}
	machine = statemachine.New(clk, tel, guards, cfg.MaintenanceTimeout)

	o := &Orchestrator{
		clk: clk, tel: tel, cfg: cfg.ConfigStore,
		machine: machine, beltCtrl: beltCtrl, classifier: classifier,
		cameraTrigger: cfg.CameraTrigger, captureFrame: cfg.CaptureFrame,
		estopInput: cfg.EStopInput, diverters: cfg.Diverters,
		shutdownDrain: orDefault(cfg.ShutdownDrain, 5*time.Second),
		pauseGrace:    orDefault(cfg.PauseGrace, 2*time.Second),
		metricsInterval: orDefault(cfg.MetricsInterval, 5*time.Second),
		categoryCounts:  make(map[classify.Category]uint64),
		cpuPercent:      cfg.CPUPercent,
		memPercent:      cfg.MemPercent,
		tempC:           readTempFrom(cfg.TempSensor),
		log:             cfg.Logger.With().Str("cmp", "orchestrator").Logger(),
	}

	recoveryActions := recovery.Actions{
		Retry: func(kind errcode.Code, component string) error {
			if act, ok := o.diverters[classify.Category(component)]; ok {
				return act.Initialize()
			}
			return nil
		},
		Failover: func(kind errcode.Code, component string) error {
			if kind == errcode.AIModelFailure {
				return o.classifier.FailoverToBackup()
			}
			return nil // camera driver failover is an external collaborator concern
		},
		RestartComponent: func(component string) error { return nil },
		Escalate: func(reason string) {
			_ = o.machine.ForceTransition(statemachine.Error, reason)
		},
		ForcePreFaultState: func() {
			if o.machine.State() == statemachine.Error {
				_ = o.machine.Transition(statemachine.Recovering, "recovery_succeeded")
			}
		},
	}
	recoverySup := recovery.New(recovery.Config{
		Clock: clk, Telemetry: tel, Actions: recoveryActions,
		MaxConsecutiveFailures: snap.Diverters.Global.MaxConsecutiveFailures,
		FailureRecoveryDelay:   snap.Diverters.Global.FailureRecoveryDelay,
		MaxRestartAttempts:     snap.System.MaxRestartAttempts,
		RestartDelay:           snap.System.RestartDelay,
	})
	o.recoverySup = recoverySup

	binMon := binmonitor.New(clk, tel)
	for cat, sensor := range cfg.BinSensors {
		b := snap.Sensors.BinLevel[cat]
		th := binmonitor.Thresholds{WarnPct: b.FullPct * 0.8, FullPct: b.FullPct, CriticalPct: b.CriticalPct}
		interval := b.UpdateInterval
		if interval <= 0 {
			interval = time.Second
		}
		binMon.Register(cat, sensor, th, interval)
	}
	o.binMon = binMon

	categories := make(map[classify.Category]dispatch.CategoryConfig, len(cfg.Diverters))
	for cat, act := range cfg.Diverters {
		dist := snap.Belt.DistanceCameraToDiverters[cat]
		dur := snap.Belt.DiverterActivationDuration[cat]
		categories[cat] = dispatch.CategoryConfig{DistanceM: dist, ActivationDuration: dur, Diverter: act}
	}
	scheduler := dispatch.New(dispatch.Config{
		Clock: clk, Telemetry: tel, Categories: categories,
		Global: dispatch.GlobalSettings{
			SimultaneousActivations:   snap.Diverters.Global.SimultaneousActivations,
			TimeoutBetweenActivations: snap.Diverters.Global.TimeoutBetweenActivations,
			CongestionGrace:           snap.Diverters.Global.TimeoutBetweenActivations * 2,
			MaxConcurrentActivations:  int64(len(cfg.Diverters)),
		},
		BeltSpeedMps:  beltCtrl.NominalSpeedMps,
		SystemRunning: func() bool { return machine.State() == statemachine.Running },
		BinGate:       binMon,
		Faults:        recoverySup,
		Grace:         200 * time.Millisecond,
		PollInterval:  orDefault(cfg.SchedulerPollInterval, 5*time.Millisecond),
	})
	o.scheduler = scheduler

	safetySup := safety.New(safety.Config{
		Clock: clk, Telemetry: tel, Machine: machine, Belt: beltCtrl, Scheduler: scheduler,
		DisableDiverters:  o.disableAllDiverters,
		EStopAsserted:     estopFn,
		EStopPollInterval: 10 * time.Millisecond,
		Limits: safety.Limits{
			CPUPercent:  snap.Monitoring.Alerts.CPUPercent,
			MemPercent:  snap.Monitoring.Alerts.MemPercent,
			TempCelsius: snap.Monitoring.Alerts.TempCelsius,
			MaxContinuousRuntime: snap.Safety.OperationalLimits.MaxContinuousRuntime,
			MaxObjectsPerHour:    snap.Safety.OperationalLimits.MaxObjectsPerHour,
			Margin:       5,
			ClearSamples: 3,
		},
		Sampler: safety.Sampler{
			CPUPercent: cfg.CPUPercent, MemPercent: cfg.MemPercent,
			TempC: readTempFrom(cfg.TempSensor), Runtime: cfg.Runtime, ItemsPerHour: cfg.ItemsPerHour,
		},
		WatchdogInterval: time.Second,
	})
	o.safetySup = safetySup

	return o
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func estopAssertedFrom(in gpio.DigitalIn) func() bool {
	return func() bool {
		if in == nil {
			return false
		}
		high, err := in.Read()
		return err == nil && high
	}
}

func readTempFrom(sensor AmbientSensor) func() float64 {
	return func() float64 {
		if sensor == nil {
			return 0
		}
		c, err := sensor.ReadCelsius()
		if err != nil {
			return 0
		}
		return c
	}
}

func (o *Orchestrator) disableAllDiverters() {
	for _, act := range o.diverters {
		act.Shutdown()
	}
}

// homeAllDiverters runs the startup self-test: every diverter is homed once
// before the system enters idle. A single diverter's homing failure is
// reported as a hardware_failure fault, not an escalation, and the rest are
// still homed.
func (o *Orchestrator) homeAllDiverters() {
	for cat, act := range o.diverters {
		if err := act.Initialize(); err != nil {
			o.log.Warn().Err(err).Str("category", string(cat)).Msg("diverter initialize failed")
			o.recoverySup.ReportFault(errcode.HardwareFailure, string(cat), err)
			continue
		}
		if err := act.Home(); err != nil {
			o.log.Warn().Err(err).Str("category", string(cat)).Msg("diverter home failed")
			o.recoverySup.ReportFault(errcode.HardwareFailure, string(cat), err)
			continue
		}
		o.log.Debug().Str("category", string(cat)).Msg("diverter homed")
	}
}

// Run starts every supervised goroutine with errgroup, homes the
// diverters, and enters idle. It blocks until ctx is cancelled or a
// supervised goroutine returns an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { o.machine.Run(done); return nil })
	g.Go(func() error { o.scheduler.Run(done); return nil })
	g.Go(func() error { o.safetySup.RunEStopLoop(done); return nil })
	g.Go(func() error { o.safetySup.RunLimitsWatchdog(done); return nil })
	g.Go(func() error { o.binMon.Run(done); return nil })
	g.Go(func() error { return o.cameraTrigger.Run(done) })
	g.Go(func() error { o.runPipeline(done); return nil })
	g.Go(func() error { o.runMetricsLoop(done); return nil })

	o.log.Info().Msg("homing diverters")
	o.homeAllDiverters()
	if err := o.machine.Transition(statemachine.Idle, "startup_complete"); err != nil {
		o.log.Error().Err(err).Msg("startup transition to idle failed")
		return err
	}
	o.log.Info().Msg("entered idle, core running")

	err := g.Wait()
	o.log.Info().Err(err).Msg("orchestrator stopped")
	return err
}

func (o *Orchestrator) nextItemID() uint64 { return o.itemID.Add(1) }
