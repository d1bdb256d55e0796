// Package signaling carries call-coordination events between the two parties
// of a chat. It is a thin layer over a named pub/sub channel: delivery is
// broadcast to current subscribers only, at most once, with no replay for a
// party that was disconnected at publish time. Consumers must stay correct
// under loss and reordering.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
)

// Event names recognized on a chat channel.
const (
	// EventCallInitiated proposes a call; payload is the call invitation.
	EventCallInitiated = "call-initiated"
	// EventCallResponse answers a proposal; payload is {"accepted": bool}.
	EventCallResponse = "call-response"
	// EventCallEnded terminates an active call; payload is empty.
	EventCallEnded = "call-ended"
	// EventNewMessage delivers a chat message on the same channel.
	EventNewMessage = "new-message"
)

// ErrPublish wraps any failure to hand an event to the transport.
var ErrPublish = errors.New("signaling publish failed")

// Envelope is one event as carried on a channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Handler consumes one event payload. Handlers for a single subscription run
// sequentially in delivery order.
type Handler func(data json.RawMessage)

// Subscription is a live attachment to one channel.
type Subscription interface {
	// On registers a handler for an event name. Events with no handler are
	// dropped. Safe to call while events are flowing.
	On(event string, fn Handler)

	// Close detaches from the channel. Idempotent.
	Close() error
}

// Bus publishes and receives typed events on named channels.
type Bus interface {
	// Subscribe attaches to a channel. The subscription receives only
	// events published after it is established.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Publish broadcasts an event to every current subscriber of the
	// channel. Fire-and-forget: success means the transport accepted it,
	// not that any party received it.
	Publish(ctx context.Context, channel, event string, data any) error
}
