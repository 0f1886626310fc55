// Package sorterconfig defines the immutable configuration snapshot
// consumed by the core (spec.md 6) and the atomic hot-reload store that
// hands it out, generalizing the HAL's config-shape idiom to the sorter's
// own sections.
package sorterconfig

import (
	"time"

	"sorterctl/classify"
	"sorterctl/errcode"
	"sorterctl/gpio"
	"sorterctl/safety"
)

// SystemSettings is system_settings.
type SystemSettings struct {
	ErrorRecoveryEnabled bool
	MaxProcessingErrors  int
	AutoRestartOnError   bool
	MaxRestartAttempts   int
	RestartDelay         time.Duration
	DataRetentionDays    int
}

// CameraSettings is camera_settings.
type CameraSettings struct {
	Index         int
	FrameWidth    int
	FrameHeight   int
	FPS           int
	WarmupFrames  int
	BackupCameras []int
	AutoRecovery  bool
}

// AIModelSettings is ai_model_settings.
type AIModelSettings struct {
	ModelPath        string
	BackupModelPath  string
	MinConfidence    float64
	FallbackCategory classify.Category
	ClassMapping     map[string]classify.Category
	MaxInferenceTime time.Duration
}

// ConveyorBeltSettings is conveyor_belt_settings.
type ConveyorBeltSettings struct {
	BeltSpeedMps               float64
	DistanceCameraToDiverters  map[classify.Category]float64
	DiverterActivationDuration map[classify.Category]time.Duration
	PWMFrequencyHz             float64
	MinDutyPct                 float64
	MaxDutyPct                 float64
	AccelTime                  time.Duration
	DecelTime                  time.Duration
	EmergencyStopPinBCM        int
}

// CameraTriggerSensor is sensors_settings.camera_trigger_sensor.
type CameraTriggerSensor struct {
	PinBCM      int
	TriggerMode string
	Debounce    time.Duration
}

// BinLevelSensor is one entry of sensors_settings.bin_level_sensors.
type BinLevelSensor struct {
	TriggerPinBCM    int
	EchoPinBCM       int
	EmptyDistanceM   float64
	FullDistanceM    float64
	FullPct          float64
	CriticalPct      float64
	SmoothingSamples int
	UpdateInterval   time.Duration
}

// SensorsSettings is sensors_settings.
type SensorsSettings struct {
	CameraTrigger CameraTriggerSensor
	BinLevel      map[classify.Category]BinLevelSensor
}

// DiverterSettings is one entry of diverter_control_settings.diverters.
type DiverterSettings struct {
	Type                gpio.ActuatorType
	DirPinBCM           int
	StepPinBCM          int
	EnablePinBCM        int
	StepsPerActivation  uint16
	ActivationDirection bool
	ReturnToHome        bool
	ActivationDuration  time.Duration
	MaxOperations       uint64
}

// DiverterGlobalSettings is diverter_control_settings.global_settings.
type DiverterGlobalSettings struct {
	SimultaneousActivations   bool
	TimeoutBetweenActivations time.Duration
	MaxConsecutiveFailures    int
	FailureRecoveryDelay      time.Duration
	AutoDisableOnFault        bool
}

// DiverterControlSettings is diverter_control_settings.
type DiverterControlSettings struct {
	Diverters map[classify.Category]DiverterSettings
	Global    DiverterGlobalSettings
}

// OperationalLimits is safety_settings.operational_limits.
type OperationalLimits struct {
	MaxContinuousRuntime  time.Duration
	MaxObjectsPerHour     float64
	MaxTemperatureCelsius float64
}

// SafetySettings is safety_settings.
type SafetySettings struct {
	EmergencyStopEnabled bool
	MaxFailedAttempts    int
	LockoutDuration      time.Duration
	OperationalLimits    OperationalLimits
}

// AlertThresholds is monitoring_settings.performance_monitoring.alerts.
type AlertThresholds struct {
	CPUPercent     safety.MetricLimit
	MemPercent     safety.MetricLimit
	TempCelsius    safety.MetricLimit
	ProcessingTime safety.MetricLimit
	ErrorRate      safety.MetricLimit
}

// MonitoringSettings is monitoring_settings.
type MonitoringSettings struct {
	Alerts AlertThresholds
}

// Snapshot is the whole immutable configuration view handed to the core.
type Snapshot struct {
	System     SystemSettings
	Camera     CameraSettings
	AIModel    AIModelSettings
	Belt       ConveyorBeltSettings
	Sensors    SensorsSettings
	Diverters  DiverterControlSettings
	Safety     SafetySettings
	Monitoring MonitoringSettings
}

// Validate checks the snapshot and returns the first rejected field as a
// config_invalid error, per spec.md 6's ReloadConfig contract. A nil
// return means the snapshot is acceptable.
func Validate(s Snapshot) error {
	switch {
	case s.AIModel.MinConfidence < 0 || s.AIModel.MinConfidence > 1:
		return invalid("ai_model_settings.min_confidence", "must be in [0,1]")
	case s.Belt.BeltSpeedMps < 0:
		return invalid("conveyor_belt_settings.belt_speed_mps", "must be >= 0")
	case s.Belt.MinDutyPct < 0 || s.Belt.MaxDutyPct > 100 || s.Belt.MinDutyPct > s.Belt.MaxDutyPct:
		return invalid("conveyor_belt_settings.min/max_duty_cycle", "must satisfy 0 <= min <= max <= 100")
	case s.Safety.OperationalLimits.MaxTemperatureCelsius <= 0:
		return invalid("safety_settings.operational_limits.max_temperature_celsius", "must be > 0")
	case s.Diverters.Global.TimeoutBetweenActivations < 0:
		return invalid("diverter_control_settings.global_settings.timeout_between_activations_ms", "must be >= 0")
	}

	for cat, d := range s.Diverters.Diverters {
		if d.ActivationDuration <= 0 {
			return invalid("diverter_control_settings.diverters."+string(cat)+".activation_duration_s", "must be > 0")
		}
		if dist, ok := s.Belt.DistanceCameraToDiverters[cat]; ok && dist < 0 {
			return invalid("conveyor_belt_settings.distance_camera_to_diverters_m."+string(cat), "must be >= 0")
		}
	}

	for cat, b := range s.Sensors.BinLevel {
		if b.FullPct <= 0 || b.FullPct > 100 {
			return invalid("sensors_settings.bin_level_sensors."+string(cat)+".full_percent", "must be in (0,100]")
		}
		if b.CriticalPct < b.FullPct || b.CriticalPct > 100 {
			return invalid("sensors_settings.bin_level_sensors."+string(cat)+".critical_percent", "must be >= full_percent and <= 100")
		}
	}

	return nil
}

func invalid(field, reason string) error {
	return &errcode.E{C: errcode.ConfigInvalid, Op: "Validate", Msg: field + ": " + reason}
}
