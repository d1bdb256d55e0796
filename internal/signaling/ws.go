package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// WSBus is a Bus backed by the carecall server: publishes go through the
// HTTP publish endpoint, subscriptions ride a websocket per channel.
type WSBus struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	log        *zerolog.Logger
}

// NewWSBus creates a bus client for the server at baseURL (http:// or
// https:// form; the websocket scheme is derived from it).
func NewWSBus(baseURL, authToken string, httpClient *http.Client, logger *zerolog.Logger) *WSBus {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WSBus{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: httpClient,
		log:        logger,
	}
}

// Publish posts the event to the publish endpoint. Fire-and-forget beyond
// transport acceptance.
func (b *WSBus) Publish(ctx context.Context, channel, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", ErrPublish, err)
	}
	body, err := json.Marshal(Envelope{Channel: channel, Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %w", ErrPublish, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrPublish, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %s", ErrPublish, resp.Status)
	}
	return nil
}

// Subscribe dials the websocket subscribe endpoint for the channel and
// starts a read loop that dispatches incoming envelopes.
func (b *WSBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	wsURL, err := b.subscribeURL(channel)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: b.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial subscribe endpoint: %w", err)
	}

	sub := &wsSubscription{
		conn:     conn,
		channel:  channel,
		log:      b.log,
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

func (b *WSBus) subscribeURL(channel string) (string, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("channel", channel)
	if b.authToken != "" {
		q.Set("token", b.authToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsSubscription struct {
	conn    *websocket.Conn
	channel string
	log     *zerolog.Logger

	handlerMu sync.RWMutex
	handlers  map[string][]Handler

	closeOnce sync.Once
	done      chan struct{}
}

func (s *wsSubscription) readLoop() {
	ctx := context.Background()
	for {
		var env Envelope
		if err := wsjson.Read(ctx, s.conn, &env); err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, context.Canceled) {
					s.log.Warn().Err(err).Str("channel", s.channel).Msg("subscription read failed")
				}
				_ = s.Close()
			}
			return
		}
		if env.Channel != "" && env.Channel != s.channel {
			continue
		}
		s.dispatch(env)
	}
}

func (s *wsSubscription) dispatch(env Envelope) {
	s.handlerMu.RLock()
	handlers := make([]Handler, len(s.handlers[env.Event]))
	copy(handlers, s.handlers[env.Event])
	s.handlerMu.RUnlock()

	for _, fn := range handlers {
		fn(env.Data)
	}
}

func (s *wsSubscription) On(event string, fn Handler) {
	s.handlerMu.Lock()
	s.handlers[event] = append(s.handlers[event], fn)
	s.handlerMu.Unlock()
}

func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
	})
	return nil
}

var _ Bus = (*WSBus)(nil)
