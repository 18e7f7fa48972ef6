package events

import "testing"

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	first := bus.Subscribe(EventPlayerStatus)
	second := bus.Subscribe(EventPlayerStatus)
	other := bus.Subscribe(EventScheduleApplied)

	bus.Publish(EventPlayerStatus, Payload{"screen_id": "screen-1", "status": "playing"})

	for name, sub := range map[string]Subscriber{"first": first, "second": second} {
		select {
		case got := <-sub:
			if got["screen_id"] != "screen-1" {
				t.Errorf("%s subscriber got payload %v", name, got)
			}
		default:
			t.Errorf("%s subscriber did not receive the event", name)
		}
	}

	select {
	case got := <-other:
		t.Errorf("subscriber for a different event type received %v", got)
	default:
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(EventScreenOnline)
	bus.Unsubscribe(EventScreenOnline, sub)

	if _, ok := <-sub; ok {
		t.Fatal("unsubscribed channel should be closed")
	}

	// Publishing after the only subscriber left must not panic.
	bus.Publish(EventScreenOnline, Payload{"screen_id": "screen-1"})
}

func TestBusDropsEventsForSlowSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(EventPlayerTimeUpdate)

	// Overflow the subscriber buffer without draining. Publish must not
	// block, extra events are dropped.
	for i := 0; i < cap(sub)+5; i++ {
		bus.Publish(EventPlayerTimeUpdate, Payload{"seq": i})
	}

	if len(sub) != cap(sub) {
		t.Fatalf("expected a full buffer of %d events, got %d", cap(sub), len(sub))
	}
}

func TestBusCloseIsFinal(t *testing.T) {
	bus := NewBus()

	a := bus.Subscribe(EventScreenOnline)
	b := bus.Subscribe(EventScreenOffline)

	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for name, sub := range map[string]Subscriber{"online": a, "offline": b} {
		if _, ok := <-sub; ok {
			t.Errorf("%s subscriber channel should be closed", name)
		}
	}

	// Neither publishing nor a late unsubscribe may panic after Close.
	bus.Publish(EventScreenOnline, Payload{})
	bus.Unsubscribe(EventScreenOnline, a)
}
