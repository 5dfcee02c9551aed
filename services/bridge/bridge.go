// Package bridge uplinks sensor readings to a remote peer over a serial
// link. Capability values published on the local bus are forwarded as
// length-prefixed JSON frames; publishes arriving from the peer are replayed
// onto the local bus. The link is supervised: pings keep it alive, loss
// triggers reconnect with exponential backoff.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"envsense-go/bus"
	"envsense-go/types"
)

// Start runs the bridge service until ctx is cancelled. Configuration
// arrives as JSON on {"config","bridge"}; each new config tears down the
// current link and dials again.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{conn: conn}
	s.run(ctx)
}

// Config is the JSON shape expected on config/bridge.
type Config struct {
	Transport TransportConfig `json:"transport"`
}

type TransportConfig struct {
	// "uart", or any name added via RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
}

// UARTConfig carries enough for an injected dialler to open the port. Pin
// numbers are platform ids; the UART instance choice lives in UARTDial.
type UARTConfig struct {
	Baud           int `json:"baud"`
	RxPin          int `json:"rx_pin"`
	TxPin          int `json:"tx_pin"`
	ReadTimeoutMS  int `json:"read_timeout_ms,omitempty"` // 0 means blocking
	WriteTimeoutMS int `json:"write_timeout_ms,omitempty"`
}

var stateTopic = bus.Topic{"bridge", "state"}

type Service struct {
	conn *bus.Connection

	mu        sync.Mutex
	cancelCur context.CancelFunc
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.Topic{"config", "bridge"})
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopLink()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.restartLink(ctx, cfg)
		}
	}
}

func (s *Service) stopLink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelCur != nil {
		s.cancelCur()
		s.cancelCur = nil
	}
}

func (s *Service) restartLink(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.cancelCur != nil {
		s.cancelCur()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancelCur = cancel
	s.mu.Unlock()

	go s.superviseLink(ctx, cfg)
}

// superviseLink dials, serves, and redials with backoff until ctx ends or
// the link closes cleanly.
func (s *Service) superviseLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := expBackoff(250*time.Millisecond, 5*time.Second)
	for ctx.Err() == nil {
		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !waitCtx(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		err = s.serveLink(ctx, rwc)
		_ = rwc.Close()
		if err == nil {
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !waitCtx(ctx, delay) {
			return
		}
	}
}

// telemetryFrame is the on-wire shape of one forwarded bus message.
type telemetryFrame struct {
	Topic   []any `json:"topic"`
	Payload any   `json:"payload"`
	TsMs    int64 `json:"ts_ms"`
}

// serveLink owns an open link: uplinks every hal capability value, pings on
// an interval, and replays remote publishes locally.
func (s *Service) serveLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	fr := frameReader{r: rwc}
	fw := frameWriter{w: rwc}

	telSub := s.conn.Subscribe(bus.Topic{"hal", "capability", "+", "+", "value"})
	defer s.conn.Unsubscribe(telSub)

	readErr := make(chan error, 1)
	downlink := make(chan Frame, 8)
	go func() {
		for {
			f, err := fr.read()
			if err != nil {
				readErr <- err
				return
			}
			switch f.Type {
			case framePong:
			case framePub:
				select {
				case downlink <- f:
				default:
					// Congested; dropping beats stalling the reader.
				}
			default:
				// frameSub/frameUnsub/frameAck: interest sync is not
				// negotiated yet.
			}
		}
	}()

	ping := time.NewTicker(5 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = fw.write(Frame{Type: frameClose})
			return nil
		case err := <-readErr:
			return err
		case m := <-telSub.Channel():
			body, err := json.Marshal(telemetryFrame{
				Topic:   []any(m.Topic),
				Payload: m.Payload,
				TsMs:    time.Now().UnixMilli(),
			})
			if err != nil {
				continue
			}
			if err := fw.write(Frame{Type: framePub, Payload: body}); err != nil {
				return err
			}
		case f := <-downlink:
			s.republish(f)
		case <-ping.C:
			if err := fw.write(Frame{Type: framePing}); err != nil {
				return err
			}
		}
	}
}

// republish turns a remote publish frame into a local bus message. Topic
// tokens arrive as JSON values (strings, float64s), all comparable.
func (s *Service) republish(f Frame) {
	var tf telemetryFrame
	if err := json.Unmarshal(f.Payload, &tf); err != nil {
		return
	}
	if len(tf.Topic) == 0 {
		return
	}
	s.conn.Publish(s.conn.NewMessage(bus.Topic(tf.Topic), tf.Payload, false))
}

// ---------------- Transports ----------------

// Transport dials the remote peer.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu     sync.RWMutex
	registry  = map[string]transportFactory{}
	errNoDial = errors.New("bridge: UARTDial not installed")
)

// RegisterTransport adds a named transport ("tcp", "ws", ...).
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	if cfg.Type == "uart" {
		if cfg.UART == nil {
			return nil, errors.New("bridge: uart transport requires uart config")
		}
		return &uartTransport{cfg: *cfg.UART}, nil
	}
	return nil, fmt.Errorf("bridge: unknown transport type %q", cfg.Type)
}

// UARTDial is installed by platform code before Start. It opens the
// configured hardware (or test) port.
var UARTDial func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error)

type uartTransport struct {
	cfg UARTConfig
}

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	return UARTDial(ctx, u.cfg)
}

func (u *uartTransport) String() string { return "uart" }

// ---------------- Framing ----------------

// Frames are type byte + big-endian uint16 length + payload. JSON payloads
// keep the peer debuggable with a logic analyser; a binary codec can slot in
// behind the same frame types later.
const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameSub   byte = 0x11
	frameUnsub byte = 0x12
	frameAck   byte = 0x13
	frameClose byte = 0x7f
)

type Frame struct {
	Type    byte
	Payload []byte
}

type frameReader struct{ r io.Reader }
type frameWriter struct{ w io.Writer }

func (fr *frameReader) read() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(hdr[1])<<8 | int(hdr[2])
	f := Frame{Type: hdr[0]}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(fr.r, f.Payload); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

func (fw *frameWriter) write(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("bridge: frame too large: %d", len(f.Payload))
	}
	hdr := [3]byte{f.Type, byte(len(f.Payload) >> 8), byte(len(f.Payload))}
	if _, err := fw.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := fw.w.Write(f.Payload)
	return err
}

// ---------------- Helpers ----------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	var raw []byte
	switch v := p.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		// Bus payloads are often already-decoded maps; round-trip them.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		raw = b
	}
	err := json.Unmarshal(raw, &cfg)
	return cfg, err
}

func (s *Service) publishState(level, status string, err error) {
	state := types.ServiceState{Level: level, Status: status, TS: time.Now().UnixMilli()}
	if err != nil {
		state.Status = status + ": " + err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(stateTopic, state, true))
}

func expBackoff(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	next := min
	return func() time.Duration {
		d := next
		next *= 2
		if next > max {
			next = max
		}
		return d
	}
}

func waitCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
