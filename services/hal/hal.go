// services/hal/hal.go
package hal

import (
	"context"
	"encoding/json"
	"time"

	"envsense-go/bus"
	"envsense-go/drivers/bme280"
	"envsense-go/errcode"
	"envsense-go/types"
	"envsense-go/x/mathx"
)

// -----------------------------------------------------------------------------
// Entry point
// -----------------------------------------------------------------------------

// Run drives the HAL service until ctx is cancelled. It owns the device
// registry, one measure worker per physical bus, and the retained
// hal/capability/... documents on the message bus.
func Run(ctx context.Context, conn *bus.Connection, i2cFactory I2CBusFactory) {
	h := &service{
		conn:        conn,
		i2cFactory:  i2cFactory,
		workers:     map[string]MeasurementWorker{},
		adaptors:    map[string]Adaptor{},
		devices:     map[string]devEntry{},
		capToDev:    map[capKey]string{},
		nextCapID:   map[string]int{},
		devPeriodMS: map[string]int{},
		devNextDue:  map[string]time.Time{},
		results:     make(chan Result, 32),
	}
	h.loop(ctx)
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

type devEntry struct {
	adaptor Adaptor
	caps    map[string]int // kind -> numeric capability id
	busID   string
}

type capKey struct {
	kind string
	id   int
}

type service struct {
	conn       *bus.Connection
	i2cFactory I2CBusFactory

	workers  map[string]MeasurementWorker
	adaptors map[string]Adaptor
	devices  map[string]devEntry

	capToDev  map[capKey]string
	nextCapID map[string]int

	devPeriodMS map[string]int
	devNextDue  map[string]time.Time

	timer *time.Timer

	// Results fan-in from all workers.
	results chan Result
}

// -----------------------------------------------------------------------------
// Main loop
// -----------------------------------------------------------------------------

func (s *service) loop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.Topic{"config", "hal"})
	ctrlSub := s.conn.Subscribe(bus.Topic{"hal", "capability", "+", "+", "control", "+"})
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	if !s.timer.Stop() {
		drainTimer(s.timer)
	}

	for {
		if next := s.earliestDevDue(); next.IsZero() {
			resetTimer(s.timer, time.Hour)
		} else {
			resetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg HALConfig
			if err := decodeJSON(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.publishState("error", "apply_config_failed", err)
				continue
			}
			s.publishState("ready", "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case <-s.timer.C:
			now := time.Now()
			for devID, due := range s.devNextDue {
				if !now.Before(due) {
					s.submitMeasure(devID, false)
					s.bumpDevNext(devID, now)
				}
			}

		case r := <-s.results:
			s.handleResult(r)
		}
	}
}

// handleControl dispatches hal/capability/<kind>/<id:int>/control/<method>.
func (s *service) handleControl(msg *bus.Message) {
	if len(msg.Topic) < 6 {
		return
	}
	kind, _ := msg.Topic[2].(string)
	idNum, ok := asInt(msg.Topic[3])
	if !ok || kind == "" {
		s.replyErr(msg, "invalid capability address")
		return
	}
	devID, ok := s.capToDev[capKey{kind: kind, id: idNum}]
	if !ok {
		s.replyErr(msg, "unknown capability")
		return
	}
	method, _ := msg.Topic[5].(string)

	switch method {
	case "read_now":
		if s.submitMeasure(devID, true) {
			s.bumpDevNext(devID, time.Now())
			s.replyOK(msg, nil)
		} else {
			s.replyErr(msg, "busy")
		}
	case "set_rate":
		ms := parsePeriodMS(msg.Payload)
		if ms > 0 {
			s.devPeriodMS[devID] = mathx.Clamp(ms, 200, 3_600_000)
			s.bumpDevNext(devID, time.Now())
			s.replyOK(msg, map[string]any{"period_ms": s.devPeriodMS[devID]})
		} else {
			s.replyErr(msg, "invalid period")
		}
	default:
		ent := s.devices[devID]
		if ent.adaptor == nil {
			s.replyErr(msg, "no adaptor")
			return
		}
		if res, err := ent.adaptor.Control(kind, method, msg.Payload); err == nil {
			s.replyOK(msg, map[string]any{"result": res})
		} else {
			s.replyErr(msg, err.Error())
		}
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func (s *service) applyConfig(ctx context.Context, cfg HALConfig) error {
	seen := map[string]struct{}{}

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		seen[d.ID] = struct{}{}

		// Skip if already present (simple idempotence for now)
		if _, exists := s.devices[d.ID]; exists {
			continue
		}

		var ad Adaptor
		var busID string
		periodMS := 0

		switch d.Type {
		case "bme280":
			if d.BusRef.Type != "i2c" || d.BusRef.ID == "" {
				continue
			}
			i2c, ok := s.i2cFactory.ByID(d.BusRef.ID)
			if !ok {
				continue
			}
			var p BME280Params
			if err := decodeJSON(d.Params, &p); err != nil {
				s.publishState("error", "device_params_invalid", err)
				continue
			}

			a, err := NewBME280Adaptor(d.ID, i2c, uint16(p.Addr), p.driverConfig())
			if err != nil {
				s.publishState("error", "device_setup_failed", err)
				continue
			}
			ad = a
			busID = d.BusRef.ID
			periodMS = p.PeriodMS
			if periodMS <= 0 {
				periodMS = 2000
			}

			if _, ok := s.workers[busID]; !ok {
				w := NewMeasurementWorker(WorkerConfig{})
				w.Start(ctx)
				go forwardResults(ctx, w.Results(), s.results)
				s.workers[busID] = w
			}

		default:
			continue
		}

		s.adaptors[d.ID] = ad
		entry := devEntry{adaptor: ad, busID: busID, caps: map[string]int{}}

		for _, ci := range ad.Capabilities() {
			id := s.nextCapID[ci.Kind]
			s.nextCapID[ci.Kind]++

			entry.caps[ci.Kind] = id
			s.capToDev[capKey{kind: ci.Kind, id: id}] = d.ID

			s.pubRet(capTopicInt(ci.Kind, id, "info"), ci.Info)
			s.pubRet(capTopicInt(ci.Kind, id, "state"),
				types.CapabilityStatus{Link: types.LinkUp, TS: time.Now().UnixMilli()})
		}
		s.devices[d.ID] = entry

		if periodMS > 0 {
			s.devPeriodMS[d.ID] = periodMS
			s.devNextDue[d.ID] = time.Now().Add(200 * time.Millisecond)
		}
	}

	// Tidy-up: remove devices not in config
	for devID, ent := range s.devices {
		if _, ok := seen[devID]; ok {
			continue
		}
		for kind, id := range ent.caps {
			s.pubRet(capTopicInt(kind, id, "info"), nil)
			s.pubRet(capTopicInt(kind, id, "state"),
				types.CapabilityStatus{Link: types.LinkDown, TS: time.Now().UnixMilli()})
			delete(s.capToDev, capKey{kind: kind, id: id})
		}
		delete(s.devices, devID)
		delete(s.adaptors, devID)
		delete(s.devPeriodMS, devID)
		delete(s.devNextDue, devID)
	}

	return nil
}

// BME280Params is the device-specific config shape.
type BME280Params struct {
	Addr     int    `json:"addr,omitempty"`      // 0 selects the default address
	Mode     string `json:"mode,omitempty"`      // "forced" (default) | "normal"
	PeriodMS int    `json:"period_ms,omitempty"` // sampling period, default 2000
	OsTemp   int    `json:"os_temp,omitempty"`   // 1,2,4,8,16; 0 -> 1
	OsPress  int    `json:"os_press,omitempty"`
	OsHum    int    `json:"os_hum,omitempty"`
	Filter   int    `json:"filter,omitempty"` // 0,2,4,8,16
}

func (p BME280Params) driverConfig() bme280.Config {
	cfg := bme280.DefaultConfig().
		WithTemperatureOversampling(osFromInt(p.OsTemp)).
		WithPressureOversampling(osFromInt(p.OsPress)).
		WithHumidityOversampling(osFromInt(p.OsHum)).
		WithFilter(filterFromInt(p.Filter))
	if p.Mode == "normal" {
		cfg = cfg.WithMode(bme280.ModeNormal).WithStandby(bme280.Standby125ms)
	} else {
		cfg = cfg.WithMode(bme280.ModeForced)
	}
	return cfg
}

func osFromInt(n int) bme280.Oversampling {
	switch n {
	case 2:
		return bme280.Sampling2X
	case 4:
		return bme280.Sampling4X
	case 8:
		return bme280.Sampling8X
	case 16:
		return bme280.Sampling16X
	default:
		return bme280.Sampling1X
	}
}

func filterFromInt(n int) bme280.Filter {
	switch n {
	case 2:
		return bme280.Filter2X
	case 4:
		return bme280.Filter4X
	case 8:
		return bme280.Filter8X
	case 16:
		return bme280.Filter16X
	default:
		return bme280.FilterOff
	}
}

// -----------------------------------------------------------------------------
// Results and helpers
// -----------------------------------------------------------------------------

func forwardResults(ctx context.Context, from <-chan Result, to chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-from:
			select {
			case to <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok {
		return false
	}
	w := s.workers[ent.busID]
	if w == nil {
		return false
	}
	return w.Submit(MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio})
}

func (s *service) bumpDevNext(devID string, from time.Time) {
	period := time.Duration(mathx.Clamp(s.devPeriodMS[devID], 200, 3_600_000)) * time.Millisecond
	s.devNextDue[devID] = from.Add(period)
}

func (s *service) earliestDevDue() time.Time {
	var min time.Time
	for _, t := range s.devNextDue {
		if !t.IsZero() && (min.IsZero() || t.Before(min)) {
			min = t
		}
	}
	return min
}

func (s *service) handleResult(r Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	now := time.Now().UnixMilli()

	if r.Err != nil {
		code := errcode.MapDriverErr(r.Err)
		for kind, id := range ent.caps {
			s.pubRet(capTopicInt(kind, id, "state"), types.CapabilityStatus{
				Link: types.LinkDegraded, TS: now,
				Code: string(code), Error: r.Err.Error(),
			})
		}
		return
	}
	// Publish each reading to its mapped capability id.
	for _, rd := range r.Sample {
		id, ok := ent.caps[rd.Kind]
		if !ok {
			continue
		}
		s.conn.Publish(s.conn.NewMessage(
			capTopicInt(rd.Kind, id, "value"),
			rd.Payload,
			false,
		))
		s.pubRet(capTopicInt(rd.Kind, id, "state"),
			types.CapabilityStatus{Link: types.LinkUp, TS: now})
	}
}

func (s *service) publishState(level, status string, err error) {
	state := types.ServiceState{Level: level, Status: status, TS: time.Now().UnixMilli()}
	if err != nil {
		state.Status = status + ": " + err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.Topic{"hal", "state"}, state, true))
}

func (s *service) replyOK(req *bus.Message, extra map[string]any) {
	if len(req.ReplyTo) == 0 {
		return
	}
	m := map[string]any{"ok": true}
	for k, v := range extra {
		m[k] = v
	}
	s.conn.Reply(req, m, false)
}

func (s *service) replyErr(req *bus.Message, e string) {
	if len(req.ReplyTo) == 0 {
		return
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: e}, false)
}

func capTopicInt(kind string, id int, rest ...bus.Token) bus.Topic {
	base := bus.Topic{"hal", "capability", kind, id}
	return append(base, rest...)
}

func (s *service) pubRet(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

func parsePeriodMS(p any) int {
	if m, ok := p.(map[string]any); ok {
		switch v := m["period_ms"].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

func decodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		// Accept maps, structs, numbers… by marshaling then decoding to T.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
