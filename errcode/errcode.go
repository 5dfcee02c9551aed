package errcode

import (
	"errors"

	"envsense-go/drivers/bme280"
)

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
	Timeout    Code = "timeout"

	// Sensor-facing codes.
	I2CFault      Code = "i2c_fault"
	InvalidChipID Code = "invalid_chip_id"
	NotCalibrated Code = "not_calibrated"
	NoData        Code = "no_data"
	InvalidData   Code = "invalid_data"
	Checksum      Code = "checksum"

	Error Code = "error" // generic fallback
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

	var chipErr *bme280.ChipIDError
	var busErr *bme280.BusError
	switch {
	case errors.As(err, &chipErr):
		return InvalidChipID
	case errors.As(err, &busErr):
		return I2CFault
	case errors.Is(err, bme280.ErrTimeout):
		return Timeout
	case errors.Is(err, bme280.ErrNotCalibrated):
		return NotCalibrated
	case errors.Is(err, bme280.ErrNoData):
		return NoData
	case errors.Is(err, bme280.ErrInvalidData):
		return InvalidData
	case errors.Is(err, bme280.ErrChecksum):
		return Checksum
	case errors.Is(err, bme280.ErrNotReady):
		return Busy
	}
	return Error
}
