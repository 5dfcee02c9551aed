// services/hal/adaptor_bme280.go
package hal

import (
	"context"
	"time"

	"envsense-go/drivers/bme280"
	"envsense-go/types"

	"tinygo.org/x/drivers"
)

type bme280Adaptor struct {
	id  string
	dev *bme280.Device
}

// NewBME280Adaptor probes and configures the device. Forced mode keeps the
// sensor asleep between worker cycles, which also avoids self-heating.
func NewBME280Adaptor(id string, bus drivers.I2C, addr uint16, cfg bme280.Config) (Adaptor, error) {
	dev := bme280.New(bus, addr)
	if err := dev.Setup(cfg); err != nil {
		return nil, err
	}
	return &bme280Adaptor{id: id, dev: dev}, nil
}

func (a *bme280Adaptor) ID() string { return a.id }

func (a *bme280Adaptor) Capabilities() []CapInfo {
	return []CapInfo{
		{Kind: string(types.KindTemperature), Info: types.Info{
			SchemaVersion: 1, Driver: "bme280",
			Detail: map[string]any{"unit": "C", "precision": 0.01},
		}},
		{Kind: string(types.KindHumidity), Info: types.Info{
			SchemaVersion: 1, Driver: "bme280",
			Detail: map[string]any{"unit": "%RH", "precision": 0.01},
		}},
		{Kind: string(types.KindPressure), Info: types.Info{
			SchemaVersion: 1, Driver: "bme280",
			Detail: map[string]any{"unit": "Pa", "precision": 1},
		}},
	}
}

func (a *bme280Adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	if err := a.dev.Trigger(); err != nil {
		return 0, err
	}
	return a.dev.TriggerHint(), nil
}

func (a *bme280Adaptor) Collect(ctx context.Context) (Sample, error) {
	m, err := a.dev.Collect()
	if err != nil {
		if err == bme280.ErrNotReady {
			return nil, ErrNotReady
		}
		return nil, err
	}
	ts := time.Now().UnixMilli()
	return Sample{
		{Kind: string(types.KindTemperature), Payload: types.TemperatureValue{CentiC: int32(m.Temperature * 100)}, TsMs: ts},
		{Kind: string(types.KindHumidity), Payload: types.HumidityValue{CentiPercent: uint16(m.Humidity * 100)}, TsMs: ts},
		{Kind: string(types.KindPressure), Payload: types.PressureValue{Pa: int32(m.Pressure)}, TsMs: ts},
	}, nil
}

func (a *bme280Adaptor) Control(kind, method string, payload any) (any, error) {
	switch method {
	case "reset":
		// Full re-init: soft reset loses the control registers.
		if err := a.dev.Reset(); err != nil {
			return nil, err
		}
		if err := a.dev.Setup(a.dev.Config()); err != nil {
			return nil, err
		}
		return map[string]any{"reset": true}, nil
	default:
		return nil, ErrUnsupported
	}
}
