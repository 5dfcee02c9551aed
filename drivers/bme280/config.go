package bme280

import "time"

// Oversampling selects how many ADC samples are averaged per reported
// measurement. SamplingSkip disables the channel; its raw readout then
// carries the device's skip sentinel.
type Oversampling uint8

const (
	SamplingSkip Oversampling = iota
	Sampling1X
	Sampling2X
	Sampling4X
	Sampling8X
	Sampling16X
)

// Mode selects the power mode. Forced runs one conversion and falls back to
// Sleep; Normal cycles continuously with the configured standby time.
type Mode uint8

const (
	ModeSleep  Mode = 0x00
	ModeForced Mode = 0x01 // 0x02 encodes identically on-device
	ModeNormal Mode = 0x03
)

// Standby selects the idle interval between conversions in Normal mode.
// Codes follow the datasheet t_sb table (not monotonic in time).
type Standby uint8

const (
	Standby0_5ms Standby = iota
	Standby62ms          // 62.5 ms
	Standby125ms
	Standby250ms
	Standby500ms
	Standby1000ms
	Standby10ms
	Standby20ms
)

// Filter selects the IIR filter coefficient applied to successive readings.
type Filter uint8

const (
	FilterOff Filter = iota
	Filter2X
	Filter4X
	Filter8X
	Filter16X
)

// Config is a complete sampling configuration. It is a value type: the With*
// setters return updated copies, so a Config handed to Setup is never
// mutated behind the device's back. Every representable combination is legal
// on the device; there is nothing to validate.
type Config struct {
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
	Mode        Mode
	Standby     Standby
	Filter      Filter
}

// DefaultConfig mirrors the device's reset state intent: every channel at 1x,
// sleeping, slowest standby, filter off.
func DefaultConfig() Config {
	return Config{
		Temperature: Sampling1X,
		Pressure:    Sampling1X,
		Humidity:    Sampling1X,
		Mode:        ModeSleep,
		Standby:     Standby1000ms,
		Filter:      FilterOff,
	}
}

func (c Config) WithTemperatureOversampling(o Oversampling) Config {
	c.Temperature = o
	return c
}

func (c Config) WithPressureOversampling(o Oversampling) Config {
	c.Pressure = o
	return c
}

func (c Config) WithHumidityOversampling(o Oversampling) Config {
	c.Humidity = o
	return c
}

func (c Config) WithMode(m Mode) Config {
	c.Mode = m
	return c
}

func (c Config) WithStandby(s Standby) Config {
	c.Standby = s
	return c
}

func (c Config) WithFilter(f Filter) Config {
	c.Filter = f
	return c
}

// controlBytes encodes the configuration into its three control registers.
// ctrl_hum carries only the humidity oversampling; ctrl_meas packs
// temperature and pressure oversampling around the mode bits; config packs
// standby and filter, with the spi3w_en bit held at 0.
//
// Write order on the device is ctrl_hum, then ctrl_meas, then config:
// ctrl_hum changes only take effect after a ctrl_meas write.
func (c Config) controlBytes() (ctrlHum, ctrlMeas, config byte) {
	ctrlHum = byte(c.Humidity) & 0x07
	ctrlMeas = (byte(c.Temperature)&0x07)<<5 | (byte(c.Pressure)&0x07)<<2 | byte(c.Mode)&0x03
	config = (byte(c.Standby)&0x07)<<5 | (byte(c.Filter)&0x07)<<2
	return ctrlHum, ctrlMeas, config
}

// conversionTime returns the nominal worst-case duration of one conversion
// with this configuration, from the datasheet timing model: 1.25 ms base,
// 2.3 ms per temperature/pressure sample, 0.575 ms extra per pressure and
// humidity conversion.
func (c Config) conversionTime() time.Duration {
	us := 1250
	if n := c.Temperature.samples(); n > 0 {
		us += 2300 * n
	}
	if n := c.Pressure.samples(); n > 0 {
		us += 2300*n + 575
	}
	if n := c.Humidity.samples(); n > 0 {
		us += 2300*n + 575
	}
	return time.Duration(us) * time.Microsecond
}

func (o Oversampling) samples() int {
	switch o {
	case Sampling1X:
		return 1
	case Sampling2X:
		return 2
	case Sampling4X:
		return 4
	case Sampling8X:
		return 8
	case Sampling16X:
		return 16
	default:
		return 0
	}
}
