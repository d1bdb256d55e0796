package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	return &logger
}

func collect(t *testing.T, sub Subscription, event string) <-chan json.RawMessage {
	t.Helper()
	ch := make(chan json.RawMessage, 8)
	sub.On(event, func(data json.RawMessage) {
		ch <- data
	})
	return ch
}

func mustReceive(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("expected event not received")
		return nil
	}
}

func TestHubBroadcastsToAllSubscribers(t *testing.T) {
	hub := NewHub(testLogger())
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, "chat-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer a.Close()
	b, err := hub.Subscribe(ctx, "chat-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Close()

	gotA := collect(t, a, EventCallEnded)
	gotB := collect(t, b, EventCallEnded)

	if err := hub.Publish(ctx, "chat-1", EventCallEnded, struct{}{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mustReceive(t, gotA)
	mustReceive(t, gotB)
}

func TestHubScopesDeliveryToChannel(t *testing.T) {
	hub := NewHub(testLogger())
	ctx := context.Background()

	other, err := hub.Subscribe(ctx, "chat-2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer other.Close()

	got := collect(t, other, EventCallEnded)

	if err := hub.Publish(ctx, "chat-1", EventCallEnded, struct{}{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-got:
		t.Fatal("event leaked across channels")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubNoReplayForLateSubscriber(t *testing.T) {
	hub := NewHub(testLogger())
	ctx := context.Background()

	if err := hub.Publish(ctx, "chat-1", EventCallEnded, struct{}{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	late, err := hub.Subscribe(ctx, "chat-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer late.Close()

	got := collect(t, late, EventCallEnded)
	select {
	case <-got:
		t.Fatal("late subscriber replayed an old event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubDeliversInOrderPerSubscription(t *testing.T) {
	hub := NewHub(testLogger())
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "chat-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	got := collect(t, sub, EventNewMessage)

	for i := 0; i < 5; i++ {
		if err := hub.Publish(ctx, "chat-1", EventNewMessage, map[string]int{"seq": i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for want := 0; want < 5; want++ {
		data := mustReceive(t, got)
		var payload struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Seq != want {
			t.Fatalf("out of order: got seq %d, want %d", payload.Seq, want)
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(testLogger())
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "chat-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	got := collect(t, sub, EventCallEnded)

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if n := hub.SubscriberCount("chat-1"); n != 0 {
		t.Fatalf("subscriber count after close = %d, want 0", n)
	}

	if err := hub.Publish(ctx, "chat-1", EventCallEnded, struct{}{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-got:
		t.Fatal("received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
