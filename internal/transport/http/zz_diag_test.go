package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/carelinkhq/carecall/internal/auth"
	"github.com/carelinkhq/carecall/internal/signaling"
)

func TestDiagRawWS(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler)
	defer ts.Close()

	bearer := env.bearer(t, "client-1", "Sam Ortiz", auth.RoleClient)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + ts.URL[len("http"):] + "/ws?channel=chat-1&token=" + bearer
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: ts.Client()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		t.Logf("hub subscribers on chat-1: %d", env.hub.SubscriberCount("chat-1"))
		if env.hub.SubscriberCount("chat-1") > 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := env.hub.Publish(ctx, "chat-1", signaling.EventCallInitiated, map[string]string{"room_id": "r1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var envl signaling.Envelope
	readCtx, readCancel := context.WithTimeout(ctx, 3*time.Second)
	defer readCancel()
	if err := wsjson.Read(readCtx, conn, &envl); err != nil {
		t.Fatalf("read: %v (subscribers=%d)", err, env.hub.SubscriberCount("chat-1"))
	}
	t.Logf("got envelope: %+v", envl)
}
