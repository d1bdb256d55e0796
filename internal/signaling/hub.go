package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const subscriptionBuffer = 16

// Hub is the in-process delivery engine behind the pub/sub channels. The
// HTTP layer bridges remote subscribers onto it over websockets; local code
// can use it directly as a Bus.
type Hub struct {
	log *zerolog.Logger

	mu       sync.RWMutex
	channels map[string]map[*hubSubscription]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		log:      logger,
		channels: make(map[string]map[*hubSubscription]struct{}),
	}
}

// Subscribe attaches to a channel and starts the subscription's dispatch
// goroutine.
func (h *Hub) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &hubSubscription{
		hub:      h,
		channel:  channel,
		events:   make(chan Envelope, subscriptionBuffer),
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*hubSubscription]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.run()
	return sub, nil
}

// SubscribeAll attaches a raw observer that receives every envelope on the
// channel regardless of event name. The websocket bridge uses it to forward
// whole channels to remote subscribers.
func (h *Hub) SubscribeAll(ctx context.Context, channel string, fn func(Envelope)) (Subscription, error) {
	sub, err := h.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	hs := sub.(*hubSubscription)
	hs.handlerMu.Lock()
	hs.raw = append(hs.raw, fn)
	hs.handlerMu.Unlock()
	return sub, nil
}

// Publish fans an event out to every current subscriber of the channel.
// Subscribers that cannot keep up lose the event rather than block the
// publisher.
func (h *Hub) Publish(_ context.Context, channel, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", ErrPublish, err)
	}

	env := Envelope{Channel: channel, Event: event, Data: payload}

	h.mu.RLock()
	subs := h.channels[channel]
	for sub := range subs {
		select {
		case sub.events <- env:
		default:
			h.log.Warn().
				Str("channel", channel).
				Str("event", event).
				Msg("dropping event for slow subscriber")
		}
	}
	h.mu.RUnlock()

	return nil
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	if subs, ok := h.channels[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.channels, sub.channel)
		}
	}
	h.mu.Unlock()
}

// SubscriberCount reports how many subscriptions a channel currently has.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

type hubSubscription struct {
	hub     *Hub
	channel string
	events  chan Envelope

	handlerMu sync.RWMutex
	handlers  map[string][]Handler
	raw       []func(Envelope)

	closeOnce sync.Once
	done      chan struct{}
}

func (s *hubSubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case env := <-s.events:
			s.dispatch(env)
		}
	}
}

func (s *hubSubscription) dispatch(env Envelope) {
	s.handlerMu.RLock()
	handlers := make([]Handler, len(s.handlers[env.Event]))
	copy(handlers, s.handlers[env.Event])
	raw := make([]func(Envelope), len(s.raw))
	copy(raw, s.raw)
	s.handlerMu.RUnlock()

	for _, fn := range raw {
		fn(env)
	}
	for _, fn := range handlers {
		fn(env.Data)
	}
}

func (s *hubSubscription) On(event string, fn Handler) {
	s.handlerMu.Lock()
	s.handlers[event] = append(s.handlers[event], fn)
	s.handlerMu.Unlock()
}

func (s *hubSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
	return nil
}

var _ Bus = (*Hub)(nil)
