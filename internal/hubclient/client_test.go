package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

var testUpgrader = websocket.Upgrader{}

// fakeHub runs a minimal hub instance: auth handshake, then a scripted
// handler per received command.
func fakeHub(t *testing.T, token string, handle func(ws *websocket.Conn, cmd map[string]any)) config.InstanceConfig {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != endpointPath {
			http.NotFound(w, r)
			return
		}
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if err := ws.WriteJSON(map[string]string{"type": "auth_required"}); err != nil {
			return
		}
		var auth map[string]string
		if err := ws.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != token {
			ws.WriteJSON(map[string]string{"type": "auth_invalid", "message": "invalid token"}) //nolint:errcheck
			return
		}
		if err := ws.WriteJSON(map[string]string{"type": "auth_ok"}); err != nil {
			return
		}

		for {
			var cmd map[string]any
			if err := ws.ReadJSON(&cmd); err != nil {
				return
			}
			if handle != nil {
				handle(ws, cmd)
			}
		}
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return config.InstanceConfig{ID: "home", Host: u.Hostname(), Port: port, Token: token}
}

func TestDialer_AuthHandshake(t *testing.T) {
	instance := fakeHub(t, "secret", nil)

	conn, err := NewDialer().Dial(context.Background(), instance)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn.Close()
}

func TestDialer_AuthRejected(t *testing.T) {
	instance := fakeHub(t, "secret", nil)
	instance.Token = "wrong"

	_, err := NewDialer().Dial(context.Background(), instance)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestConn_SendEnvelope(t *testing.T) {
	received := make(chan map[string]any, 4)
	instance := fakeHub(t, "secret", func(_ *websocket.Conn, cmd map[string]any) {
		received <- cmd
	})

	conn, err := NewDialer().Dial(context.Background(), instance)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	token1, err := conn.Send(context.Background(), "call_service", json.RawMessage(`{"domain":"light","service":"turn_on"}`))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	token2, err := conn.Send(context.Background(), "get_states", nil)
	if err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	if token2 != token1+1 {
		t.Errorf("command ids not monotonically increasing: %d then %d", token1, token2)
	}

	cmd := <-received
	if cmd["type"] != "call_service" {
		t.Errorf("type = %v", cmd["type"])
	}
	if int64(cmd["id"].(float64)) != token1 {
		t.Errorf("id = %v, want %d", cmd["id"], token1)
	}
	if cmd["domain"] != "light" || cmd["service"] != "turn_on" {
		t.Errorf("payload not flattened into envelope: %v", cmd)
	}
}

func TestConn_Send_RejectsNonObjectPayload(t *testing.T) {
	instance := fakeHub(t, "secret", nil)
	conn, err := NewDialer().Dial(context.Background(), instance)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Send(context.Background(), "call_service", json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected error for array payload")
	}
}

func TestConn_ReceiveMapping(t *testing.T) {
	instance := fakeHub(t, "secret", func(ws *websocket.Conn, cmd map[string]any) {
		id := int64(cmd["id"].(float64))
		switch cmd["type"] {
		case "ok_command":
			ws.WriteJSON(map[string]any{"id": id, "type": "result", "success": true, "result": []string{"a", "b"}}) //nolint:errcheck
		case "bad_command":
			ws.WriteJSON(map[string]any{"id": id, "type": "result", "success": false, "error": map[string]string{"message": "nope"}}) //nolint:errcheck
		case "subscribe_events":
			ws.WriteJSON(map[string]any{"id": id, "type": "result", "success": true})                                  //nolint:errcheck
			ws.WriteJSON(map[string]any{"type": "pong"})                                                               //nolint:errcheck
			ws.WriteJSON(map[string]any{"id": id, "type": "event", "event": map[string]string{"entity": "light.bed"}}) //nolint:errcheck
		}
	})

	conn, err := NewDialer().Dial(context.Background(), instance)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Success result
	token, err := conn.Send(ctx, "ok_command", nil)
	if err != nil {
		t.Fatal(err)
	}
	inbound, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if inbound.Kind != relay.InboundResult || inbound.Token != token {
		t.Errorf("inbound = %+v", inbound)
	}
	if string(inbound.Payload) != `["a","b"]` {
		t.Errorf("Payload = %s", inbound.Payload)
	}

	// Error result
	token, err = conn.Send(ctx, "bad_command", nil)
	if err != nil {
		t.Fatal(err)
	}
	inbound, err = conn.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inbound.Kind != relay.InboundError || inbound.Token != token || inbound.Message != "nope" {
		t.Errorf("inbound = %+v", inbound)
	}

	// Subscription ack, pong skipped, then event
	token, err = conn.Send(ctx, "subscribe_events", nil)
	if err != nil {
		t.Fatal(err)
	}
	inbound, err = conn.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inbound.Kind != relay.InboundResult || inbound.Token != token {
		t.Errorf("ack = %+v", inbound)
	}
	inbound, err = conn.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inbound.Kind != relay.InboundEvent || inbound.SubscriptionID != token {
		t.Errorf("event = %+v", inbound)
	}
	if !strings.Contains(string(inbound.Payload), "light.bed") {
		t.Errorf("event payload = %s", inbound.Payload)
	}
}
