package stream_test

import (
	"testing"
	"time"

	"gavel/internal/message"
	"gavel/internal/submit/stream"
)

func recv(t *testing.T, events <-chan stream.Event) stream.Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(time.Second):
		t.Fatalf("expected an event")
		return stream.Event{}
	}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	t.Parallel()
	hub := stream.NewHub()
	first, cancelFirst := hub.Subscribe(1)
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe(1)
	defer cancelSecond()
	other, cancelOther := hub.Subscribe(2)
	defer cancelOther()

	hub.Broadcast(1, message.StatusRunning)

	for _, events := range []<-chan stream.Event{first, second} {
		event := recv(t, events)
		if event.SubmissionID != 1 || event.Status != message.StatusRunning {
			t.Fatalf("unexpected event: %+v", event)
		}
	}
	select {
	case event := <-other:
		t.Fatalf("subscriber for another submission must not receive %+v", event)
	default:
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	t.Parallel()
	hub := stream.NewHub()
	events, cancel := hub.Subscribe(7)
	cancel()

	hub.Broadcast(7, message.StatusPassed)

	select {
	case event := <-events:
		t.Fatalf("canceled subscriber must not receive %+v", event)
	default:
	}
}

func TestHubBroadcastNeverBlocks(t *testing.T) {
	t.Parallel()
	hub := stream.NewHub()
	_, cancel := hub.Subscribe(3)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more events than any subscriber buffer holds.
		for i := 0; i < 100; i++ {
			hub.Broadcast(3, message.StatusRunning)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a slow subscriber")
	}
}
