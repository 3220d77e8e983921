package event

import (
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	first, cancelFirst := bus.Subscribe()
	second, cancelSecond := bus.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	bus.Publish(New(TypeTerminalCreated, map[string]string{"terminal_id": "abc"}))

	for _, ch := range []<-chan Event{first, second} {
		select {
		case evt := <-ch:
			if evt.Type != TypeTerminalCreated {
				t.Fatalf("unexpected type: %s", evt.Type)
			}
			if evt.Fields["terminal_id"] != "abc" {
				t.Fatalf("unexpected fields: %#v", evt.Fields)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(New(TypeFlowExecuted, nil))
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBusWithBuffer(1)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(New(TypeMessageQueued, map[string]string{"id": "1"}))
	bus.Publish(New(TypeMessageQueued, map[string]string{"id": "2"}))

	evt := <-ch
	if evt.Fields["id"] != "1" {
		t.Fatalf("expected first event kept, got %#v", evt.Fields)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected second event dropped, got %#v", extra.Fields)
	default:
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe()
	bus.Close()

	if _, open := <-ch; open {
		t.Fatal("expected closed channel after bus close")
	}
}
