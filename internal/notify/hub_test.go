package notify

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
)

func testHub(t *testing.T, republish Republisher) *Hub {
	t.Helper()
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	return NewHub(config.WebSocketConfig{PingInterval: 30, PongTimeout: 60, MaxMessageSize: 4096}, logger, republish)
}

// registerClient attaches a connection-less client with the given buffer
// capacity. A zero capacity makes the client reject every delivery, which
// stands in for an unreachable connection.
func registerClient(h *Hub, identity string, capacity int) *Client {
	client := &Client{
		hub:      h,
		send:     make(chan []byte, capacity),
		identity: identity,
	}
	h.Register(client)
	return client
}

func receivedKind(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshalling delivered message: %v", err)
		}
		return msg.EventType
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no message delivered")
		return ""
	}
}

// TestHub_IsolatedDeliveryFailure verifies one identity's unreachable
// connection never aborts delivery to the remaining identities.
func TestHub_IsolatedDeliveryFailure(t *testing.T) {
	hub := testHub(t, nil)

	clients := make(map[string]*Client)
	for i := 1; i <= 5; i++ {
		identity := fmt.Sprintf("user%d", i)
		capacity := sendBufferSize
		if i == 3 {
			capacity = 0 // unreachable
		}
		clients[identity] = registerClient(hub, identity, capacity)
	}

	hub.ConnectionStatus("home", "connected", "")

	for identity, client := range clients {
		if identity == "user3" {
			if len(client.send) != 0 {
				t.Errorf("unreachable identity received a message")
			}
			continue
		}
		if kind := receivedKind(t, client); kind != KindConnectionStatus {
			t.Errorf("identity %s received kind %q", identity, kind)
		}
	}
}

func TestHub_SystemIdentityExcluded(t *testing.T) {
	hub := testHub(t, nil)

	system := registerClient(hub, SystemIdentity, sendBufferSize)
	user := registerClient(hub, "alice", sendBufferSize)

	hub.StateChanged("home", "light.kitchen", "off", "on")

	if len(system.send) != 0 {
		t.Error("system identity must not receive broadcasts")
	}
	if kind := receivedKind(t, user); kind != KindStateChanged {
		t.Errorf("user received kind %q", kind)
	}

	identities := hub.Identities()
	if len(identities) != 1 || identities[0] != "alice" {
		t.Errorf("Identities() = %v, system must be excluded", identities)
	}
}

func TestHub_MultipleClientsPerIdentity(t *testing.T) {
	hub := testHub(t, nil)

	tab1 := registerClient(hub, "alice", sendBufferSize)
	tab2 := registerClient(hub, "alice", sendBufferSize)

	hub.InstanceSwitched("cabin", "home")

	if kind := receivedKind(t, tab1); kind != KindInstanceSwitched {
		t.Errorf("tab1 received %q", kind)
	}
	if kind := receivedKind(t, tab2); kind != KindInstanceSwitched {
		t.Errorf("tab2 received %q", kind)
	}

	// Delivery to an identity succeeds if at least one connection accepts
	dead := registerClient(hub, "bob", 0)
	live := registerClient(hub, "bob", sendBufferSize)
	_ = dead

	hub.InstanceInvalidated("home")
	if kind := receivedKind(t, live); kind != KindInstanceInvalidated {
		t.Errorf("live bob connection received %q", kind)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := testHub(t, nil)

	client := registerClient(hub, "alice", sendBufferSize)
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", hub.ClientCount())
	}

	// Unregistering twice must not panic on a double close
	hub.Unregister(client)

	// Publishing to a closed client's channel must not panic either
	hub.RegistryUpdated("home", "device", "created", "dev-1")
}

type capturedPublish struct {
	topic   string
	payload []byte
}

type fakeRepublisher struct {
	published []capturedPublish
	fail      bool
}

func (f *fakeRepublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if f.fail {
		return fmt.Errorf("broker unavailable")
	}
	f.published = append(f.published, capturedPublish{topic: topic, payload: payload})
	return nil
}

func TestHub_MQTTRepublish(t *testing.T) {
	pub := &fakeRepublisher{}
	hub := testHub(t, pub)

	hub.ConnectionStatus("home", "disconnected", "read timeout")

	if len(pub.published) != 1 {
		t.Fatalf("republished %d messages, want 1", len(pub.published))
	}
	if pub.published[0].topic != "grayrelay/notify/connection_status" {
		t.Errorf("topic = %q", pub.published[0].topic)
	}

	var msg Message
	if err := json.Unmarshal(pub.published[0].payload, &msg); err != nil {
		t.Fatalf("republished payload: %v", err)
	}
	if msg.EventType != KindConnectionStatus {
		t.Errorf("EventType = %q", msg.EventType)
	}
}

func TestHub_MQTTRepublishFailureIsNonFatal(t *testing.T) {
	pub := &fakeRepublisher{fail: true}
	hub := testHub(t, pub)

	user := registerClient(hub, "alice", sendBufferSize)

	// Must not panic and must still deliver to identities
	hub.ConnectionStatus("home", "connected", "")
	if kind := receivedKind(t, user); kind != KindConnectionStatus {
		t.Errorf("received %q", kind)
	}
}
