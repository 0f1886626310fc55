// cmd/sorterctl runs the core against simulated hardware: no camera, no
// GPIO, no ultrasonic rangefinders, just enough of a stand-in to exercise
// the full trigger -> classify -> schedule -> divert pipeline end to end
// and watch its telemetry on the console.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sorterctl/bus"
	"sorterctl/classify"
	"sorterctl/clock"
	"sorterctl/gpio"
	"sorterctl/orchestrator"
	"sorterctl/sorterconfig"
	"sorterctl/telemetry"
)

const (
	triggerInterval = 600 * time.Millisecond
	busQueueLen     = 32
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap := demoSnapshot()
	store, err := sorterconfig.NewStore(snap)
	if err != nil {
		logger.Fatal().Err(err).Msg("demo config rejected at startup")
	}

	b := bus.NewBus(busQueueLen)

	triggerPin := &simPin{}
	trigger := &simTrigger{pin: triggerPin, interval: triggerInterval}
	go trigger.run(ctx)

	cameraTrigger := gpio.NewEdgeSensor(triggerPin, clock.Real{}, 5*time.Millisecond,
		snap.Sensors.CameraTrigger.Debounce, true)

	diverters := make(map[classify.Category]gpio.Actuator, len(snap.Diverters.Diverters))
	binSensors := make(map[classify.Category]*gpio.UltrasonicSensor, len(snap.Sensors.BinLevel))

	for cat, d := range snap.Diverters.Diverters {
		diverters[cat] = &gpio.OnOffActuator{
			Pin:                &simPin{},
			ActiveState:        true,
			MaxOperations:      d.MaxOperations,
		}
	}
	for cat, b := range snap.Sensors.BinLevel {
		meter := newSimEchoMeter(b.EmptyDistanceM, b.FullDistanceM)
		binSensors[cat] = gpio.NewUltrasonicSensor(meter, time.Second, b.SmoothingSamples, b.EmptyDistanceM, b.FullDistanceM)
	}

	orch := orchestrator.New(orchestrator.Config{
		Clock:         clock.Real{},
		Bus:           b,
		ConfigStore:   store,
		CameraTrigger: cameraTrigger,
		CaptureFrame:  captureFakeFrame,
		Classifier:    newSimClassifier(0.9),
		Diverters:     diverters,
		BinSensors:    binSensors,
		BeltPWM:       &simPWM{},
		Logger:        logger,
	})

	logControlEvents(orch, logger)

	logger.Info().Msg("starting core")
	go func() {
		if err := orch.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("core stopped with error")
		}
	}()

	// Give homing a moment to finish before asking for idle -> running.
	time.Sleep(200 * time.Millisecond)
	if err := orch.Start(); err != nil {
		logger.Error().Err(err).Msg("start rejected")
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	if err := orch.Stop(); err != nil {
		logger.Error().Err(err).Msg("stop rejected")
	}
	fmt.Println("sorterctl: stopped")
}

// logControlEvents subscribes to the telemetry topics an operator console
// would render and logs each one through zerolog.
func logControlEvents(orch *orchestrator.Orchestrator, logger zerolog.Logger) {
	state := orch.Subscribe(telemetry.TopicStateChanged)
	alert := orch.Subscribe(telemetry.TopicAlert)
	dropped := orch.Subscribe(telemetry.TopicItemDropped)
	binChanged := orch.Subscribe(telemetry.TopicBinChanged)

	go func() {
		for {
			select {
			case m := <-state.Channel():
				if e, ok := m.Payload.(telemetry.StateChanged); ok {
					logger.Info().Str("from", e.From).Str("to", e.To).Str("reason", e.Reason).Msg("state changed")
				}
			case m := <-alert.Channel():
				if e, ok := m.Payload.(telemetry.Alert); ok {
					logger.Warn().Str("severity", string(e.Severity)).Str("kind", string(e.Kind)).
						Str("component", e.Component).Msg(e.Message)
				}
			case m := <-dropped.Channel():
				if e, ok := m.Payload.(telemetry.ItemDropped); ok {
					logger.Debug().Uint64("item_id", e.ItemID).Str("reason", string(e.Reason)).Msg("item dropped")
				}
			case m := <-binChanged.Channel():
				if e, ok := m.Payload.(telemetry.BinChanged); ok {
					logger.Info().Str("category", string(e.Category)).Float64("fraction", e.Fraction).
						Str("state", e.State).Msg("bin changed")
				}
			}
		}
	}()
}
