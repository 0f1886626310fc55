package telemetry

import (
	"testing"
	"time"

	"sorterctl/bus"
	"sorterctl/classify"
	"sorterctl/errcode"
)

func TestPublishItemActuated_DeliversToSubscriber(t *testing.T) {
	b := bus.NewBus(4)
	tel := New(b)
	defer tel.Close()

	sub := tel.Subscribe(TopicItemActuated)

	tel.PublishItemActuated(ItemActuated{ItemID: 7, Category: classify.Metal})

	select {
	case msg := <-sub.Channel():
		ev, ok := msg.Payload.(ItemActuated)
		if !ok || ev.ItemID != 7 {
			t.Fatalf("unexpected payload: %#v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ItemActuated")
	}
}

func TestPublishItemDropped_CarriesReason(t *testing.T) {
	b := bus.NewBus(4)
	tel := New(b)
	defer tel.Close()

	sub := tel.Subscribe(TopicItemDropped)
	tel.PublishItemDropped(ItemDropped{ItemID: 3, Reason: errcode.DropLate})

	msg := <-sub.Channel()
	ev := msg.Payload.(ItemDropped)
	if ev.Reason != errcode.DropLate {
		t.Fatalf("expected DropLate, got %v", ev.Reason)
	}
}

func TestPublishStateChanged_IsRetainedForLateSubscriber(t *testing.T) {
	b := bus.NewBus(4)
	tel := New(b)
	defer tel.Close()

	tel.PublishStateChanged(StateChanged{From: "idle", To: "running"})

	sub := tel.Subscribe(TopicStateChanged)
	select {
	case msg := <-sub.Channel():
		ev := msg.Payload.(StateChanged)
		if ev.To != "running" {
			t.Fatalf("expected retained state 'running', got %v", ev.To)
		}
	case <-time.After(time.Second):
		t.Fatal("expected retained StateChanged delivered to late subscriber")
	}
}

func TestPublishAlert_CriticalSeverity(t *testing.T) {
	b := bus.NewBus(4)
	tel := New(b)
	defer tel.Close()

	sub := tel.Subscribe(TopicAlert)
	tel.PublishAlert(Alert{Severity: SeverityCritical, Kind: errcode.EStop, Component: "safety"})

	msg := <-sub.Channel()
	ev := msg.Payload.(Alert)
	if ev.Severity != SeverityCritical || ev.Kind != errcode.EStop {
		t.Fatalf("unexpected alert: %+v", ev)
	}
}
