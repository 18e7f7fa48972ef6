package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/events"
)

// Local delivery must survive a Redis that was never reachable.
func TestRedisBusDegradedStillDeliversLocally(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.WriteTimeout = 100 * time.Millisecond

	bus, err := NewRedisBus(cfg, "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer bus.Close()

	if bus.Connected() {
		t.Fatal("bus should report degraded with no Redis to talk to")
	}

	sub := bus.Subscribe(events.EventScreenOnline)
	bus.Publish(events.EventScreenOnline, events.Payload{"screen_id": "screen-1"})

	select {
	case got := <-sub:
		if got["screen_id"] != "screen-1" {
			t.Fatalf("got payload %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("local delivery must not depend on the broker")
	}

	bus.Unsubscribe(events.EventScreenOnline, sub)
	if _, ok := <-sub; ok {
		t.Fatal("unsubscribed channel should be closed")
	}
}

func TestNATSBusUnreachableBrokerStillDeliversLocally(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 100 * time.Millisecond
	cfg.ReconnectWait = 50 * time.Millisecond
	cfg.MaxReconnects = 1

	bus, err := NewNATSBus(cfg, "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	defer bus.Close()

	if bus.Connected() {
		t.Fatal("bus should not report connected")
	}

	sub := bus.Subscribe(events.EventPlayerStatus)
	bus.Publish(events.EventPlayerStatus, events.Payload{"screen_id": "screen-1", "status": "paused"})

	select {
	case got := <-sub:
		if got["status"] != "paused" {
			t.Fatalf("got payload %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("local delivery must not depend on the broker")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := events.Payload{"screen_id": "screen-1", "cycle": float64(3)}

	natsData, err := marshalNATSMessage(events.EventPlayerCycleComplete, payload, "node-a")
	if err != nil {
		t.Fatalf("marshal NATS envelope: %v", err)
	}
	natsMsg, err := unmarshalNATSMessage(natsData)
	if err != nil {
		t.Fatalf("unmarshal NATS envelope: %v", err)
	}
	if natsMsg.EventType != events.EventPlayerCycleComplete || natsMsg.NodeID != "node-a" {
		t.Fatalf("envelope fields mangled: %+v", natsMsg)
	}
	if natsMsg.MessageID == "" {
		t.Fatal("NATS envelope should carry a message ID")
	}
	if natsMsg.Payload["cycle"] != float64(3) {
		t.Fatalf("payload mangled: %v", natsMsg.Payload)
	}

	redisData, err := marshalMessage(events.EventScreenOffline, payload, "node-b")
	if err != nil {
		t.Fatalf("marshal Redis envelope: %v", err)
	}
	redisMsg, err := unmarshalMessage(redisData)
	if err != nil {
		t.Fatalf("unmarshal Redis envelope: %v", err)
	}
	if redisMsg.EventType != events.EventScreenOffline || redisMsg.NodeID != "node-b" {
		t.Fatalf("envelope fields mangled: %+v", redisMsg)
	}

	if _, err := unmarshalMessage([]byte("not json")); err == nil {
		t.Fatal("expected an error for a garbage envelope")
	}
}

func TestGenerateNodeID(t *testing.T) {
	a := generateNodeID()
	b := generateNodeID()
	if a == "" || b == "" {
		t.Fatal("node IDs should not be empty")
	}
	if a == b {
		t.Fatalf("node IDs should be unique, both were %q", a)
	}
}
