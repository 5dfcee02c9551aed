//go:build linux

// Package platform wires the HAL's bus factories and the bridge's UART
// dialler onto the hardware (or host) the firmware runs on.
package platform

import (
	"fmt"
	"sync"

	"github.com/d2r2/go-i2c"
	"github.com/d2r2/go-logger"
	"tinygo.org/x/drivers"
)

func init() {
	// The d2r2 layer logs every transfer at debug by default.
	logger.ChangePackageLogLevel("i2c", logger.InfoLevel)
}

// Buses exposes the host's /dev/i2c-N adapters through the same ByID
// factory the RP2040 build provides.
type Buses struct {
	mu   sync.Mutex
	open map[string]*hostI2C
}

func NewBuses() *Buses {
	return &Buses{open: make(map[string]*hostI2C)}
}

// ByID maps ids like "i2c0" or "i2c1" to the matching /dev/i2c-N bus.
// Device handles are opened lazily on first transfer per target address.
func (b *Buses) ByID(id string) (drivers.I2C, bool) {
	n, ok := parseBusID(id)
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.open[id]; ok {
		return h, true
	}
	h := &hostI2C{bus: n, devs: make(map[uint16]*i2c.I2C)}
	b.open[id] = h
	return h, true
}

// Close releases every device handle opened through this factory.
func (b *Buses) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for _, h := range b.open {
		if err := h.close(); err != nil && first == nil {
			first = err
		}
	}
	b.open = make(map[string]*hostI2C)
	return first
}

func parseBusID(id string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(id, "i2c%d", &n); err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// hostI2C adapts the d2r2 per-device handles to the drivers.I2C bus
// interface. The kernel interface binds a file descriptor to one slave
// address, so a handle is kept per address.
type hostI2C struct {
	bus  int
	mu   sync.Mutex
	devs map[uint16]*i2c.I2C
}

func (h *hostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devs[addr]
	if !ok {
		var err error
		d, err = i2c.NewI2C(uint8(addr), h.bus)
		if err != nil {
			return err
		}
		h.devs[addr] = d
	}
	if len(w) > 0 {
		if _, err := d.WriteBytes(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if _, err := d.ReadBytes(r); err != nil {
			return err
		}
	}
	return nil
}

func (h *hostI2C) close() error {
	var first error
	for _, d := range h.devs {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	h.devs = make(map[uint16]*i2c.I2C)
	return nil
}
