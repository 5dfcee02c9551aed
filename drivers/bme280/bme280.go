// Package bme280 provides a driver for the Bosch BME280 combined
// humidity/pressure/temperature sensor on an I2C bus.
//
// Blocking use:
//
//	d := bme280.New(bus, bme280.Address)
//	err := d.Setup(bme280.DefaultConfig().WithMode(bme280.ModeForced))
//	m, err := d.Read() // trigger + bounded poll + compensate
//
// Two-phase use, for schedulers that must not block:
//
//	err := d.Trigger()            // start a forced conversion (fast)
//	m, err := d.Collect()         // returns ErrNotReady while converting
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when
// both w and r are provided, without releasing the bus.
//
// The device owns its bus handle for the driver's lifetime; callers sharing
// one physical bus across devices must serialise access externally. One
// logical task drives one Device: there is no internal locking.
package bme280

import (
	"time"

	"tinygo.org/x/drivers"
)

// Controller states. A Device is created uninitialized, becomes configured
// by a successful Setup, and passes through measuring while a forced
// conversion is in flight.
type state uint8

const (
	stateUninitialized state = iota
	stateConfigured
	stateMeasuring
)

// Poll bounds. The status poll loop is the only wait the driver enforces
// internally; exceeding it surfaces ErrTimeout instead of blocking forever.
const (
	pollInterval = 10 * time.Millisecond
	maxPolls     = 20
	resetSettle  = 10 * time.Millisecond
)

// Device wraps an I2C connection to a BME280 device.
type Device struct {
	bus  drivers.I2C
	addr uint16

	state state
	cfg   Config
	cal   calibrationData

	w   [2]byte         // write scratch, avoids per-call allocations
	buf [lenCalibA]byte // read scratch, sized for the largest burst
}

// New creates a driver for the device at addr (Address or AddressAlt; 0
// selects Address). Only the object is created; the device is not touched
// until Setup.
func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = Address
	}
	return &Device{bus: bus, addr: addr}
}

// Connected reads the chip id register and reports whether a BME280
// answered. Useful for probing both addresses before Setup.
func (d *Device) Connected() bool {
	id, err := d.readRegister(regChipID)
	return err == nil && id == ChipID
}

// Setup verifies the chip id, soft-resets the device, waits for the NVM
// calibration copy to finish, loads the compensation constants and applies
// cfg. Calibration is re-read from the device on every call; nothing is
// persisted across power cycles.
//
// Control registers are written in the order ctrl_hum, ctrl_meas, config:
// the device only latches humidity oversampling on a ctrl_meas write.
//
// A ChipIDError means the wrong part (or none) answered at this address and
// is not worth retrying. Any other failure leaves the device unconfigured;
// a caller that cancelled mid-Setup must run Setup again before trusting
// reads.
func (d *Device) Setup(cfg Config) error {
	d.state = stateUninitialized

	id, err := d.readRegister(regChipID)
	if err != nil {
		return err
	}
	if id != ChipID {
		return &ChipIDError{Got: id}
	}

	if err := d.writeRegister(regSoftReset, resetCode); err != nil {
		return err
	}
	time.Sleep(resetSettle)

	// After reset the device copies calibration from NVM; im_update stays
	// high while the copy runs.
	ready := false
	for i := 0; i < maxPolls; i++ {
		st, err := d.readRegister(regStatus)
		if err != nil {
			return err
		}
		if st&statusImUpdate == 0 {
			ready = true
			break
		}
		time.Sleep(pollInterval)
	}
	if !ready {
		return ErrTimeout
	}

	if err := d.loadCalibration(); err != nil {
		return err
	}

	ctrlHum, ctrlMeas, config := cfg.controlBytes()
	if err := d.writeRegister(regCtrlHum, ctrlHum); err != nil {
		return err
	}
	if err := d.writeRegister(regCtrlMeas, ctrlMeas); err != nil {
		return err
	}
	if err := d.writeRegister(regConfig, config); err != nil {
		return err
	}

	d.cfg = cfg
	d.state = stateConfigured
	return nil
}

// Config returns the sampling configuration applied by the last successful
// Setup. Changing the configuration requires another Setup call.
func (d *Device) Config() Config { return d.cfg }

// Read performs one full measurement cycle and returns compensated values.
//
// In Normal mode the device converts continuously: Read does no trigger
// write, checks status once for an in-flight register update, and fetches
// the freshest burst. In Forced (or Sleep) mode Read arms one conversion
// and polls the measuring bit at pollInterval up to maxPolls times,
// returning ErrTimeout if it never clears.
func (d *Device) Read() (Measurements, error) {
	if d.state == stateUninitialized {
		return Measurements{}, ErrNotCalibrated
	}

	if d.cfg.Mode == ModeNormal {
		st, err := d.readRegister(regStatus)
		if err != nil {
			return Measurements{}, err
		}
		if st&statusImUpdate != 0 {
			// Register shadowing in progress; settle once and continue.
			time.Sleep(pollInterval)
		}
		raw, err := d.readRaw()
		if err != nil {
			return Measurements{}, err
		}
		return d.compensate(raw)
	}

	if err := d.Trigger(); err != nil {
		return Measurements{}, err
	}
	for i := 0; i < maxPolls; i++ {
		m, err := d.Collect()
		if err == ErrNotReady {
			time.Sleep(pollInterval)
			continue
		}
		return m, err
	}
	d.state = stateConfigured
	return Measurements{}, ErrTimeout
}

// Trigger starts one forced conversion. It is a single ctrl_meas write:
// forced-mode bits self-clear to Sleep on the device once the conversion
// finishes, so every Trigger re-arms it. In Normal mode the device is
// already converting and Trigger writes nothing.
func (d *Device) Trigger() error {
	if d.state == stateUninitialized {
		return ErrNotCalibrated
	}
	if d.cfg.Mode == ModeNormal {
		return nil
	}
	forced := d.cfg.WithMode(ModeForced)
	_, ctrlMeas, _ := forced.controlBytes()
	if err := d.writeRegister(regCtrlMeas, ctrlMeas); err != nil {
		return err
	}
	d.state = stateMeasuring
	return nil
}

// TriggerHint returns the nominal conversion time for the configured
// oversampling, for callers that schedule Collect instead of polling.
func (d *Device) TriggerHint() time.Duration {
	return d.cfg.conversionTime()
}

// Collect fetches and compensates one measurement. ErrNotReady is returned
// while a conversion is still in flight.
func (d *Device) Collect() (Measurements, error) {
	if d.state == stateUninitialized {
		return Measurements{}, ErrNotCalibrated
	}
	st, err := d.readRegister(regStatus)
	if err != nil {
		return Measurements{}, err
	}
	if st&statusMeasuring != 0 {
		return Measurements{}, ErrNotReady
	}
	raw, err := d.readRaw()
	if err != nil {
		return Measurements{}, err
	}
	if d.state == stateMeasuring {
		d.state = stateConfigured
	}
	return d.compensate(raw)
}

// Reset issues a soft reset. The device reverts to its power-on defaults;
// run Setup again before reading.
func (d *Device) Reset() error {
	d.state = stateUninitialized
	return d.writeRegister(regSoftReset, resetCode)
}

// readRaw assembles the three ADC words from one 8-byte burst starting at
// regData: press msb/lsb/xlsb, temp msb/lsb/xlsb, hum msb/lsb.
func (d *Device) readRaw() (rawSample, error) {
	buf := d.buf[:lenData]
	if err := d.readRegisters(regData, buf); err != nil {
		return rawSample{}, err
	}
	return rawSample{
		pressure:    uint32(buf[0])<<12 | uint32(buf[1])<<4 | uint32(buf[2])>>4,
		temperature: uint32(buf[3])<<12 | uint32(buf[4])<<4 | uint32(buf[5])>>4,
		humidity:    uint32(buf[6])<<8 | uint32(buf[7]),
	}, nil
}

// compensate converts a raw triple into physical units. A channel whose
// oversampling is Skip reads back the sensor's sentinel pattern and reports
// zero; ErrNoData is returned only when every channel carries its sentinel.
// Pressure and humidity compensation both feed on t_fine, so with the
// temperature channel skipped they report zero as well.
func (d *Device) compensate(raw rawSample) (Measurements, error) {
	skipT := raw.temperature == skip20
	skipP := raw.pressure == skip20
	skipH := raw.humidity == skip16
	if skipT && skipP && skipH {
		return Measurements{}, ErrNoData
	}

	var m Measurements
	if skipT {
		return m, nil
	}
	var tFine int32
	m.Temperature, tFine = d.cal.compensateTemperature(int32(raw.temperature))
	if !skipP {
		m.Pressure = d.cal.compensatePressure(int32(raw.pressure), tFine)
	}
	if !skipH {
		m.Humidity = d.cal.compensateHumidity(int32(raw.humidity), tFine)
	}
	return m, nil
}

func (d *Device) loadCalibration() error {
	var a [lenCalibA]byte
	var b [lenCalibB]byte
	if err := d.readRegisters(regCalibA, a[:]); err != nil {
		return err
	}
	if err := d.readRegisters(regCalibB, b[:]); err != nil {
		return err
	}
	d.cal = parseCalibration(&a, &b)
	return nil
}

// ---------------- Low-level register access ----------------

func (d *Device) readRegister(reg byte) (byte, error) {
	d.w[0] = reg
	if err := d.bus.Tx(d.addr, d.w[:1], d.buf[:1]); err != nil {
		return 0, &BusError{Err: err}
	}
	return d.buf[0], nil
}

func (d *Device) readRegisters(reg byte, dst []byte) error {
	d.w[0] = reg
	if err := d.bus.Tx(d.addr, d.w[:1], dst); err != nil {
		return &BusError{Err: err}
	}
	return nil
}

func (d *Device) writeRegister(reg, val byte) error {
	d.w[0] = reg
	d.w[1] = val
	if err := d.bus.Tx(d.addr, d.w[:2], nil); err != nil {
		return &BusError{Err: err}
	}
	return nil
}
