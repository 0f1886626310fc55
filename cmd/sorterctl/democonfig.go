package main

import (
	"time"

	"sorterctl/classify"
	"sorterctl/gpio"
	"sorterctl/safety"
	"sorterctl/sorterconfig"
)

// demoSnapshot is a complete, valid configuration for the five canonical
// categories, standing in for whatever file or HTTP config source a real
// deployment would load at startup.
func demoSnapshot() sorterconfig.Snapshot {
	categories := []classify.Category{classify.Metal, classify.Plastic, classify.Glass, classify.Carton, classify.Other}

	distances := make(map[classify.Category]float64, len(categories))
	durations := make(map[classify.Category]time.Duration, len(categories))
	diverters := make(map[classify.Category]sorterconfig.DiverterSettings, len(categories))
	bins := make(map[classify.Category]sorterconfig.BinLevelSensor, len(categories))

	for i, cat := range categories {
		distances[cat] = 0.5 + float64(i)*0.3
		durations[cat] = 400 * time.Millisecond
		diverters[cat] = sorterconfig.DiverterSettings{
			Type:                gpio.OnOff,
			ActivationDirection: true,
			ActivationDuration:  400 * time.Millisecond,
			MaxOperations:       0,
		}
		bins[cat] = sorterconfig.BinLevelSensor{
			EmptyDistanceM:   1.2,
			FullDistanceM:    0.15,
			FullPct:          85,
			CriticalPct:      95,
			SmoothingSamples: 4,
			UpdateInterval:   500 * time.Millisecond,
		}
	}

	return sorterconfig.Snapshot{
		System: sorterconfig.SystemSettings{
			ErrorRecoveryEnabled: true,
			MaxProcessingErrors:  20,
			AutoRestartOnError:   true,
			MaxRestartAttempts:   3,
			RestartDelay:         2 * time.Second,
			DataRetentionDays:    30,
		},
		Camera: sorterconfig.CameraSettings{
			Index: 0, FrameWidth: 1280, FrameHeight: 720, FPS: 30, WarmupFrames: 5,
		},
		AIModel: sorterconfig.AIModelSettings{
			ModelPath:        "models/sorter-primary.onnx",
			BackupModelPath:  "models/sorter-backup.onnx",
			MinConfidence:    0.6,
			FallbackCategory: classify.Other,
			MaxInferenceTime: 150 * time.Millisecond,
		},
		Belt: sorterconfig.ConveyorBeltSettings{
			BeltSpeedMps:               0.8,
			DistanceCameraToDiverters:  distances,
			DiverterActivationDuration: durations,
			PWMFrequencyHz:             1000,
			MinDutyPct:                 10,
			MaxDutyPct:                 100,
			AccelTime:                  1500 * time.Millisecond,
			DecelTime:                  1500 * time.Millisecond,
		},
		Sensors: sorterconfig.SensorsSettings{
			CameraTrigger: sorterconfig.CameraTriggerSensor{
				TriggerMode: "light_curtain", Debounce: 40 * time.Millisecond,
			},
			BinLevel: bins,
		},
		Diverters: sorterconfig.DiverterControlSettings{
			Diverters: diverters,
			Global: sorterconfig.DiverterGlobalSettings{
				SimultaneousActivations:   false,
				TimeoutBetweenActivations: 50 * time.Millisecond,
				MaxConsecutiveFailures:    5,
				FailureRecoveryDelay:      3 * time.Second,
				AutoDisableOnFault:        true,
			},
		},
		Safety: sorterconfig.SafetySettings{
			EmergencyStopEnabled: true,
			MaxFailedAttempts:    5,
			LockoutDuration:      10 * time.Second,
			OperationalLimits: sorterconfig.OperationalLimits{
				MaxContinuousRuntime:  12 * time.Hour,
				MaxObjectsPerHour:     3600,
				MaxTemperatureCelsius: 65,
			},
		},
		Monitoring: sorterconfig.MonitoringSettings{
			Alerts: sorterconfig.AlertThresholds{
				CPUPercent:  safety.MetricLimit{Warn: 80, Critical: 95},
				MemPercent:  safety.MetricLimit{Warn: 80, Critical: 95},
				TempCelsius: safety.MetricLimit{Warn: 55, Critical: 65},
			},
		},
	}
}
