package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"
	InvalidTopic      Code = "invalid_topic"

	UnknownBus Code = "unknown_bus"
	BusInUse   Code = "bus_in_use"
	UnknownPin Code = "unknown_pin"
	PinInUse   Code = "pin_in_use"
	Timeout    Code = "timeout"

	Error Code = "error" // generic fallback
)

// Fault kinds, as published by components and consumed by the recovery
// supervisor to select a strategy (retry, restart, failover, escalate).
const (
	CameraFailure      Code = "camera_failure"
	AIModelFailure     Code = "ai_model_failure"
	HardwareFailure    Code = "hardware_failure"
	SensorFailure      Code = "sensor_failure"
	BeltFailure        Code = "belt_failure"
	BinFullFault       Code = "bin_full"
	MemoryLeak         Code = "memory_leak"
	HighTemperature    Code = "high_temperature"
	HighCPULoad        Code = "high_cpu_load"
	RuntimeExceeded    Code = "runtime_exceeded"
	ThroughputExceeded Code = "throughput_exceeded"
	EStop              Code = "e_stop"
	ConfigInvalid      Code = "config_invalid"
)

// Item drop reasons, published on ItemDropped telemetry events.
const (
	DropLate             Code = "LATE"
	DropBinFull          Code = "BIN_FULL"
	DropCongested        Code = "CONGESTED"
	DropBeltNotReady     Code = "BELT_NOT_READY"
	DropLowConfidence    Code = "LOW_CONFIDENCE"
	DropClassifierError  Code = "CLASSIFIER_ERROR"
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Extend the heuristics per platform/driver.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	return Error
}
