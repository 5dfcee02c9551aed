//go:build rp2040

// Package platform wires the HAL's bus factories and the bridge's UART
// dialler onto the hardware (or host) the firmware runs on.
package platform

import (
	"context"
	"io"

	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"

	"envsense-go/services/bridge"
)

// Buses owns the configured I²C peripherals on the RP2040.
type Buses struct {
	i2c map[string]drivers.I2C
}

// NewBuses configures the on-chip I²C controllers with the default Pico
// wiring (i2c0 on GP4/GP5, i2c1 on GP2/GP3) at freqHz.
func NewBuses(freqHz uint32) *Buses {
	if freqHz == 0 {
		freqHz = 400_000
	}

	machine.I2C0_SDA_PIN.Configure(machine.PinConfig{Mode: machine.PinI2C})
	machine.I2C0_SCL_PIN.Configure(machine.PinConfig{Mode: machine.PinI2C})
	machine.I2C0.Configure(machine.I2CConfig{
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
		Frequency: freqHz,
	})

	return &Buses{i2c: map[string]drivers.I2C{
		"i2c0": machine.I2C0,
	}}
}

func (b *Buses) ByID(id string) (drivers.I2C, bool) {
	bus, ok := b.i2c[id]
	return bus, ok
}

// UARTDial opens a hardware UART for the bridge uplink. Install it with
// bridge.UARTDial = platform.UARTDial before starting the bridge service.
func UARTDial(ctx context.Context, u bridge.UARTConfig) (io.ReadWriteCloser, error) {
	hw := uartx.UART0
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(u.Baud),
		TX:       machine.Pin(u.TxPin),
		RX:       machine.Pin(u.RxPin),
	}); err != nil {
		return nil, err
	}
	return &uartLink{ctx: ctx, u: hw}, nil
}

// uartLink adapts uartx's context-based receive to io.ReadWriteCloser.
type uartLink struct {
	ctx context.Context
	u   *uartx.UART
}

func (l *uartLink) Read(p []byte) (int, error)  { return l.u.RecvSomeContext(l.ctx, p) }
func (l *uartLink) Write(p []byte) (int, error) { return l.u.Write(p) }

// Close is a no-op: the hardware UART has no teardown, and the bridge
// reopens it on the next dial.
func (l *uartLink) Close() error { return nil }
