package sse

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSubscribeReceivesFramedBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id, frames := hub.Subscribe("")
	if id == "" {
		t.Fatal("subscribe must assign a connection id")
	}
	if hub.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", hub.Len())
	}

	hub.Broadcast(EventArrivalUpdated, map[string]any{"routeId": "r1"})

	select {
	case frame := <-frames:
		got := string(frame)
		if !strings.HasPrefix(got, "event: arrival_updated\ndata: ") {
			t.Errorf("bad frame prefix: %q", got)
		}
		if !strings.HasSuffix(got, "\n\n") {
			t.Errorf("frame must end with a blank line: %q", got)
		}
		if !strings.Contains(got, `"routeId":"r1"`) {
			t.Errorf("payload missing from frame: %q", got)
		}
	default:
		t.Fatal("no frame delivered")
	}
}

func TestUnsubscribedClientReceivesNothing(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id, frames := hub.Subscribe("")

	hub.Unsubscribe(id)
	if hub.Len() != 0 {
		t.Fatalf("registry size = %d after unsubscribe, want 0", hub.Len())
	}

	hub.Broadcast(EventArrivalUpdated, map[string]any{"routeId": "r1"})

	// The channel is closed on removal; it must hold no frames.
	if frame, ok := <-frames; ok {
		t.Fatalf("unsubscribed client received %q", frame)
	}

	// A second unsubscribe for the same id is a no-op.
	hub.Unsubscribe(id)
}

func TestStalledSubscriberIsDropped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, stalled := hub.Subscribe("")
	_, healthy := hub.Subscribe("")

	// Fill the stalled client's backlog without draining it, while the
	// healthy client keeps consuming.
	for i := 0; i < clientBuffer+1; i++ {
		hub.Broadcast(EventMessageCreated, map[string]int{"seq": i})
		select {
		case <-healthy:
		default:
			t.Fatal("healthy client missed a frame")
		}
	}

	if hub.Len() != 1 {
		t.Fatalf("stalled client should be deregistered, registry size = %d", hub.Len())
	}

	// The stalled client kept a full backlog and its channel was closed.
	drained := 0
	for range stalled {
		drained++
	}
	if drained != clientBuffer {
		t.Errorf("stalled client backlog = %d, want %d", drained, clientBuffer)
	}

	// Delivery to the survivor is unaffected.
	hub.Broadcast(EventMessageCreated, map[string]string{"body": "still here"})
	if len(healthy) != 1 {
		t.Error("healthy client should still be receiving")
	}
}

func TestBroadcastDeviceFilters(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, mine := hub.Subscribe("tablet-1")
	_, other := hub.Subscribe("tablet-2")
	_, unfiltered := hub.Subscribe("")

	hub.BroadcastDevice("tablet-1", EventMessageCreated, map[string]string{"body": "hi"})

	if len(mine) != 1 {
		t.Error("targeted subscriber should receive the event")
	}
	if len(other) != 0 {
		t.Error("differently filtered subscriber should not receive the event")
	}
	if len(unfiltered) != 1 {
		t.Error("unfiltered subscriber should receive device-targeted events")
	}
}

func TestCloseDropsEveryone(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, a := hub.Subscribe("")
	_, b := hub.Subscribe("x")

	hub.Close()

	if hub.Len() != 0 {
		t.Fatalf("registry size = %d after close, want 0", hub.Len())
	}
	if _, ok := <-a; ok {
		t.Error("channel a should be closed")
	}
	if _, ok := <-b; ok {
		t.Error("channel b should be closed")
	}

	// Subscribing after close yields an already-closed channel.
	_, late := hub.Subscribe("")
	if _, ok := <-late; ok {
		t.Error("post-close subscription should be closed immediately")
	}
}

func TestBadPayloadIsDroppedQuietly(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, frames := hub.Subscribe("")

	hub.Broadcast(EventArrivalUpdated, func() {}) // not JSON-serializable

	if len(frames) != 0 {
		t.Error("unserializable payload must not produce a frame")
	}
	if hub.Len() != 1 {
		t.Error("subscriber must not be dropped for a producer-side error")
	}
}
