// Package bme280 provides constants for register addresses and bitfields used
// in the operation of the BME280 humidity/pressure/temperature sensor.
package bme280

const (
	// 7-bit I2C addresses. SDO strapped low selects 0x76, high selects 0x77.
	Address    = 0x76
	AddressAlt = 0x77

	// ChipID is the fixed identifier the device returns from regChipID.
	ChipID = 0x60

	// --- Register sub-addresses ---

	regChipID    = 0xD0
	regSoftReset = 0xE0 // write resetCode to soft-reset
	regCtrlHum   = 0xF2 // humidity oversampling; latched by the next regCtrlMeas write
	regStatus    = 0xF3
	regCtrlMeas  = 0xF4 // temp/pressure oversampling + mode
	regConfig    = 0xF5 // standby + filter (+ spi3w_en, kept 0)
	regData      = 0xF7 // 8-byte burst: press(3), temp(3), hum(2)

	// Calibration is split across two discontiguous blocks.
	regCalibA = 0x88 // 26 bytes: T1..T3, P1..P9, reserved, H1
	regCalibB = 0xE1 // 7 bytes: H2..H6

	lenCalibA = 26
	lenCalibB = 7
	lenData   = 8

	resetCode = 0xB6

	// --- Status bits ---
	statusMeasuring = 1 << 3 // conversion in progress
	statusImUpdate  = 1 << 0 // NVM data being copied to registers

	// Raw readout sentinels when a channel's oversampling is Skip.
	skip20 = 0x80000
	skip16 = 0x8000
)
