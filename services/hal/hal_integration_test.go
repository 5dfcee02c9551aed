// services/hal/hal_integration_test.go
package hal

import (
	"context"
	"strings"
	"testing"
	"time"

	"envsense-go/bus"
	"envsense-go/types"

	"tinygo.org/x/drivers"
)

// fakeI2C is defined in adaptor_bme280_test.go.

// fakeFactory satisfies I2CBusFactory.
type fakeFactory struct {
	i2c drivers.I2C
}

func (f fakeFactory) ByID(id string) (drivers.I2C, bool) {
	if id == "i2c0" {
		return f.i2c, true
	}
	return nil, false
}

func TestHAL_EndToEnd_BME280(t *testing.T) {
	b := bus.NewBus(128)
	halConn := b.NewConnection("hal")

	factory := fakeFactory{i2c: &fakeI2C{}}

	ctx, cancel := context.WithCancel(context.Background())
	go Run(ctx, halConn, factory)

	// 1) Wait for HAL 'awaiting_config'
	stateSub := halConn.Subscribe(bus.Topic{"hal", "state"})
	defer halConn.Unsubscribe(stateSub)
	// Cancel *after* all Unsubscribe defers are registered so it runs first at teardown.
	defer cancel()

	waitReady := time.Now().Add(1 * time.Second)
	ready := false
	for time.Now().Before(waitReady) && !ready {
		select {
		case m := <-stateSub.Channel():
			if s, ok := m.Payload.(types.ServiceState); ok &&
				s.Level == "idle" && s.Status == "awaiting_config" {
				ready = true
			}
		case <-time.After(20 * time.Millisecond):
		}
	}
	if !ready {
		t.Fatal("HAL did not report awaiting_config")
	}

	// 2) Subscribe to capability tree
	valSub := halConn.Subscribe(bus.Topic{"hal", "capability", "#"})
	defer halConn.Unsubscribe(valSub)

	// 3) Publish config
	cfg := map[string]any{
		"version": 1,
		"buses": []map[string]any{
			{"id": "i2c0", "type": "i2c"},
		},
		"devices": []map[string]any{
			{
				"id":      "bme280-0",
				"type":    "bme280",
				"bus_ref": map[string]any{"id": "i2c0", "type": "i2c"},
				"params":  map[string]any{"addr": 0x76, "mode": "forced"},
			},
		},
	}
	halConn.Publish(halConn.NewMessage(bus.Topic{"config", "hal"}, cfg, false))

	// 4) Discover capability IDs via retained info docs
	var tempID, humID, pressID = -1, -1, -1
	waitIDsDeadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(waitIDsDeadline) && (tempID < 0 || humID < 0 || pressID < 0) {
		select {
		case m := <-valSub.Channel():
			if len(m.Topic) >= 5 && m.Topic[4] == "info" {
				kind, _ := m.Topic[2].(string)
				if id, ok := asInt(m.Topic[3]); ok {
					switch kind {
					case "temperature":
						tempID = id
					case "humidity":
						humID = id
					case "pressure":
						pressID = id
					}
				}
			}
		case <-time.After(20 * time.Millisecond):
		}
	}
	if tempID < 0 || humID < 0 || pressID < 0 {
		t.Fatalf("did not receive capability info in time (temp=%d hum=%d press=%d)",
			tempID, humID, pressID)
	}

	// 5) Immediate measurement (request-reply)
	req := halConn.NewMessage(bus.Topic{"hal", "capability", "temperature", tempID, "control", "read_now"}, nil, false)
	rctx, rcancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	_, err := halConn.RequestWait(rctx, req)
	rcancel()
	if err != nil {
		t.Fatalf("read_now request failed: %v", err)
	}

	// 6) Expect a temperature value
	gotValue := false
	valDeadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(valDeadline) && !gotValue {
		select {
		case m := <-valSub.Channel():
			if len(m.Topic) >= 5 && m.Topic[2] == "temperature" && m.Topic[4] == "value" {
				if v, ok := m.Payload.(types.TemperatureValue); ok &&
					v.CentiC > 2500 && v.CentiC < 2516 {
					gotValue = true
				}
			}
		case <-time.After(20 * time.Millisecond):
		}
	}
	if !gotValue {
		t.Fatal("did not receive temperature value after read_now")
	}

	// 7) set_rate round-trip
	rateReq := halConn.NewMessage(
		bus.Topic{"hal", "capability", "pressure", pressID, "control", "set_rate"},
		map[string]any{"period_ms": 500}, false)
	rctx2, rcancel2 := context.WithTimeout(context.Background(), 400*time.Millisecond)
	reply, err := halConn.RequestWait(rctx2, rateReq)
	rcancel2()
	if err != nil {
		t.Fatalf("set_rate request failed: %v", err)
	}
	if mm, _ := reply.Payload.(map[string]any); mm == nil || mm["ok"] != true {
		t.Fatalf("set_rate reply not ok: %#v", reply.Payload)
	}
}

func TestHAL_MalformedDeviceParams(t *testing.T) {
	b := bus.NewBus(32)
	halConn := b.NewConnection("hal")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, halConn, fakeFactory{i2c: &fakeI2C{}})

	stateSub := halConn.Subscribe(bus.Topic{"hal", "state"})
	defer halConn.Unsubscribe(stateSub)
	infoSub := halConn.Subscribe(bus.Topic{"hal", "capability", "#"})
	defer halConn.Unsubscribe(infoSub)

	time.Sleep(20 * time.Millisecond)

	cfg := map[string]any{
		"version": 1,
		"buses":   []map[string]any{{"id": "i2c0", "type": "i2c"}},
		"devices": []map[string]any{
			{
				"id":      "bme280-0",
				"type":    "bme280",
				"bus_ref": map[string]any{"id": "i2c0", "type": "i2c"},
				"params":  map[string]any{"addr": "0x76"}, // addr must be a number
			},
		},
	}
	halConn.Publish(halConn.NewMessage(bus.Topic{"config", "hal"}, cfg, false))

	gotError := false
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) && !gotError {
		select {
		case m := <-stateSub.Channel():
			if s, ok := m.Payload.(types.ServiceState); ok &&
				s.Level == "error" && strings.HasPrefix(s.Status, "device_params_invalid") {
				gotError = true
			}
		case <-time.After(20 * time.Millisecond):
		}
	}
	if !gotError {
		t.Fatal("HAL did not report device_params_invalid for malformed params")
	}

	// Bad params must not bring the device up with defaults.
	select {
	case m := <-infoSub.Channel():
		t.Fatalf("unexpected capability message after rejected params: %v", m.Topic)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestHAL_ControlUnknownCapability(t *testing.T) {
	b := bus.NewBus(32)
	halConn := b.NewConnection("hal")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, halConn, fakeFactory{i2c: &fakeI2C{}})

	time.Sleep(20 * time.Millisecond)

	req := halConn.NewMessage(bus.Topic{"hal", "capability", "temperature", 99, "control", "read_now"}, nil, false)
	rctx, rcancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer rcancel()
	reply, err := halConn.RequestWait(rctx, req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	er, ok := reply.Payload.(types.ErrorReply)
	if !ok || er.OK {
		t.Fatalf("expected error reply for unknown capability, got %#v", reply.Payload)
	}
}
