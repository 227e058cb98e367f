package bus

import (
	"testing"
	"time"

	"opguard/internal/domain"
)

func TestQueue_PublishSubscribe(t *testing.T) {
	q := NewQueue(2, testLogger())
	if !q.Publish(domain.HostEvent{Type: domain.EventActorJoin, Actor: "a"}) {
		t.Fatal("publish rejected")
	}
	ev := <-q.Subscribe()
	if ev.Actor != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestQueue_FullTimesOut(t *testing.T) {
	q := NewQueue(1, testLogger())
	q.SetPublishTimeout(10 * time.Millisecond)

	if !q.Publish(domain.HostEvent{Type: domain.EventActorJoin}) {
		t.Fatal("first publish should fit")
	}
	if q.Publish(domain.HostEvent{Type: domain.EventActorJoin}) {
		t.Fatal("second publish should time out on a full queue")
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(1, testLogger())
	q.Close()
	q.Close()

	if q.Publish(domain.HostEvent{Type: domain.EventActorJoin}) {
		t.Fatal("publish after close must be rejected")
	}
	if _, ok := <-q.Subscribe(); ok {
		t.Fatal("subscription should be closed")
	}
}
