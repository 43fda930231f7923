package events

import (
	"testing"
	"time"
)

func TestHubFiltersByParty(t *testing.T) {
	hub := NewHub(4)
	creator := hub.Subscribe("creator-1")
	brand := hub.Subscribe("brand-1")
	other := hub.Subscribe("creator-2")
	all := hub.Subscribe("")
	defer creator.Close()
	defer brand.Close()
	defer other.Close()
	defer all.Close()

	hub.Publish(Event{Type: DealCreated, DealID: "d1", CreatorID: "creator-1", BrandID: "brand-1"})

	for name, sub := range map[string]*Subscription{"creator": creator, "brand": brand, "all": all} {
		select {
		case ev := <-sub.C:
			if ev.DealID != "d1" || ev.At.IsZero() {
				t.Fatalf("%s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive event", name)
		}
	}
	select {
	case ev := <-other.C:
		t.Fatalf("unrelated subscriber received %+v", ev)
	default:
	}
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(Event{Type: PaymentPaid})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if got := len(sub.C); got != 1 {
		t.Fatalf("buffered events = %d, want 1", got)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(0)
	sub := hub.Subscribe("x")
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", hub.Subscribers())
	}
	sub.Close()
	sub.Close()
	if hub.Subscribers() != 0 {
		t.Fatalf("subscribers = %d after close", hub.Subscribers())
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("channel should be closed")
	}
	hub.Publish(Event{Type: DealCreated})
}
