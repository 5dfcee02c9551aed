package bme280

import "errors"

// Errors returned by the driver. Transport faults are wrapped in BusError
// and never retried internally; everything else is a sentinel the caller can
// compare against.
var (
	// ErrChecksum is reserved for transports that add integrity checks on
	// top of the raw register protocol.
	ErrChecksum = errors.New("bme280: checksum mismatch")

	// ErrInvalidData reports malformed or inconsistent raw bytes.
	ErrInvalidData = errors.New("bme280: invalid data")

	// ErrNoData means every active channel reported the skip sentinel.
	ErrNoData = errors.New("bme280: no measurement data")

	// ErrTimeout means the measuring bit never cleared within the poll bound.
	// Retryable: usually transient bus contention or a slow conversion.
	ErrTimeout = errors.New("bme280: timeout")

	// ErrNotCalibrated means an operation was attempted before a successful
	// Setup.
	ErrNotCalibrated = errors.New("bme280: not calibrated")

	// ErrNotReady is returned by Collect while a conversion is running.
	ErrNotReady = errors.New("bme280: not ready")
)

// BusError wraps an underlying I2C transport fault.
type BusError struct {
	Err error
}

func (e *BusError) Error() string { return "bme280: i2c fault: " + e.Err.Error() }
func (e *BusError) Unwrap() error { return e.Err }

// ChipIDError reports that the device at the configured address did not
// identify as a BME280. Fatal for the instance: re-instantiate against the
// right address rather than retrying Setup.
type ChipIDError struct {
	Got byte
}

func (e *ChipIDError) Error() string {
	const digits = "0123456789abcdef"
	return "bme280: wrong chip id 0x" + string([]byte{digits[e.Got>>4], digits[e.Got&0x0F]})
}
