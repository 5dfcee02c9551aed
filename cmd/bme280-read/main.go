//go:build linux

// bme280-read takes a one-shot forced-mode reading from a BME280 on a
// Linux I²C bus and prints the compensated values. Useful for checking
// wiring before flashing the Pico firmware.
package main

import (
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"envsense-go/drivers/bme280"
	"envsense-go/services/hal/platform"
)

func main() {
	busID := flag.String("bus", "i2c1", "I2C bus id (i2c0, i2c1, ...)")
	addr := flag.Uint("addr", bme280.Address, "device address")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	buses := platform.NewBuses()
	defer buses.Close()

	bus, ok := buses.ByID(*busID)
	if !ok {
		log.WithField("bus", *busID).Error("unknown bus id")
		os.Exit(1)
	}

	dev := bme280.New(bus, uint16(*addr))
	cfg := bme280.DefaultConfig().
		WithMode(bme280.ModeForced).
		WithPressureOversampling(bme280.Sampling16X)

	if err := dev.Setup(cfg); err != nil {
		log.WithError(err).WithField("addr", *addr).Error("setup failed")
		os.Exit(1)
	}
	log.WithFields(log.Fields{"bus": *busID, "addr": *addr}).Debug("sensor ready")

	m, err := dev.Read()
	if err != nil {
		log.WithError(err).Error("read failed")
		os.Exit(1)
	}

	log.WithFields(log.Fields{
		"temperature_c": m.Temperature,
		"pressure_pa":   m.Pressure,
		"humidity_pct":  m.Humidity,
	}).Info("measurement")
}
