// bridge/bridge_test.go
package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"envsense-go/bus"
	"envsense-go/types"
)

func TestBridge_EstablishesUARTLinkAndReportsState(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	// Subscribe to bridge/state (retained) and verify initial status.
	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)

	first := nextStatePayload(t, stateSub, 500*time.Millisecond)
	assertLevelStatus(t, first, "idle", "awaiting_config")

	// Inject a UART dialler that returns a net.Pipe; keep the remote end to simulate link loss.
	prevDial := UARTDial
	defer func() { UARTDial = prevDial }()
	var remote io.ReadWriteCloser
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		lc, rc := net.Pipe()
		remote = rc
		// Remote peer loop: respond to ping frames; ignore others.
		go remotePeer(rc)
		return lc, nil
	}

	// Publish a valid UART config.
	cfg := `{"transport":{"type":"uart","uart":{"baud":115200,"rx_pin":1,"tx_pin":0}}}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))

	up := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	// Close the remote to force link loss; expect degraded state.
	if remote != nil {
		_ = remote.Close()
	}

	degraded := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, degraded, "degraded", "link_lost_retrying")
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_bad")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)

	_ = nextStatePayload(t, stateSub, 500*time.Millisecond) // initial awaiting_config

	// Publish a config with an unknown transport type.
	cfg := `{"transport":{"type":"bogus"}}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))

	errState := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, errState, "error", "transport_init_failed")
}

func TestBridge_UplinksCapabilityValues(t *testing.T) {
	b := bus.NewBus(32)
	conn := b.NewConnection("bridge_uplink")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)
	_ = nextStatePayload(t, stateSub, 500*time.Millisecond) // awaiting_config

	prevDial := UARTDial
	defer func() { UARTDial = prevDial }()
	frames := make(chan []byte, 8)
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		lc, rc := net.Pipe()
		go capturingPeer(rc, frames)
		return lc, nil
	}

	cfg := `{"transport":{"type":"uart","uart":{"baud":115200,"rx_pin":1,"tx_pin":0}}}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))
	up := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	// Publish a sensor value until the bridge forwards it as a framed JSON
	// document (its value subscription comes up just after the state flip).
	var frame []byte
	deadline := time.Now().Add(time.Second)
	for frame == nil && time.Now().Before(deadline) {
		conn.Publish(conn.NewMessage(
			bus.Topic{"hal", "capability", "temperature", 0, "value"},
			map[string]any{"centi_c": 2508}, false))
		select {
		case frame = <-frames:
		case <-time.After(25 * time.Millisecond):
		}
	}

	if frame == nil {
		t.Fatal("no uplink frame received")
	}

	var tf struct {
		Topic   []any          `json:"topic"`
		Payload map[string]any `json:"payload"`
	}
	if err := jsonUnmarshal(frame, &tf); err != nil {
		t.Fatalf("bad uplink frame: %v (%q)", err, frame)
	}
	if len(tf.Topic) != 5 || tf.Topic[0] != "hal" || tf.Topic[2] != "temperature" {
		t.Fatalf("unexpected uplink topic: %v", tf.Topic)
	}
	if cc, _ := tf.Payload["centi_c"].(float64); cc != 2508 {
		t.Fatalf("unexpected uplink payload: %v", tf.Payload)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func jsonUnmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// capturingPeer services pings like remotePeer but also forwards the payload
// of every PUB frame (0x10) into out.
func capturingPeer(c io.ReadWriteCloser, out chan<- []byte) {
	defer c.Close()
	hdr := make([]byte, 3)
	for {
		if _, err := io.ReadFull(c, hdr); err != nil {
			return
		}
		typ := hdr[0]
		n := int(hdr[1])<<8 | int(hdr[2])
		var buf []byte
		if n > 0 {
			buf = make([]byte, n)
			if _, err := io.ReadFull(c, buf); err != nil {
				return
			}
		}
		switch typ {
		case 0x01:
			if _, err := c.Write([]byte{0x02, 0x00, 0x00}); err != nil {
				return
			}
		case 0x10:
			select {
			case out <- buf:
			default:
			}
		}
	}
}

// remotePeer minimally services the framing used by the bridge: it replies PONG to PING
// and drains any payload of other frames. It exits on read/write error.
func remotePeer(c io.ReadWriteCloser) {
	defer c.Close()
	hdr := make([]byte, 3)
	buf := make([]byte, 0, 256)
	for {
		if _, err := io.ReadFull(c, hdr); err != nil {
			return
		}
		typ := hdr[0]
		n := int(hdr[1])<<8 | int(hdr[2])
		if n > 0 {
			if cap(buf) < n {
				buf = make([]byte, n)
			} else {
				buf = buf[:n]
			}
			if _, err := io.ReadFull(c, buf); err != nil {
				return
			}
		}
		// If we receive a ping (0x01), reply with pong (0x02).
		if typ == 0x01 {
			// type, length MSB, length LSB (no payload)
			if _, err := c.Write([]byte{0x02, 0x00, 0x00}); err != nil {
				return
			}
		}
	}
}

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) types.ServiceState {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.ServiceState)
		if !ok {
			t.Fatalf("state payload type: got %T, want types.ServiceState", m.Payload)
		}
		return st
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return types.ServiceState{}
	}
}

// Error detail is appended to the status string, so match on prefix.
func assertLevelStatus(t *testing.T, st types.ServiceState, wantLevel, wantStatus string) {
	t.Helper()
	if st.Level != wantLevel || !strings.HasPrefix(st.Status, wantStatus) {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q",
			st.Level, st.Status, wantLevel, wantStatus)
	}
}
