package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
)

// Notification message types.
const (
	MsgTypeEvent = "event"
	MsgTypePong  = "pong"

	// SystemIdentity is the super-privileged identity excluded from every
	// broadcast; it acts, it doesn't watch.
	SystemIdentity = "system"

	// sendBufferSize is the per-client outbound message buffer size.
	sendBufferSize = 256

	// mqttTopicPrefix is where notifications are republished for
	// non-portal consumers.
	mqttTopicPrefix = "grayrelay/notify/"
)

// Message is the envelope every notification is delivered in.
type Message struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Republisher mirrors notifications onto an MQTT broker. The mqtt
// infrastructure client implements this; nil disables republishing.
type Republisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Hub fans already-computed notifications out to every authenticated
// identity. The registry is populated explicitly at session start and end;
// a notification never scans anything but the live connection set.
//
// Delivery is best effort with isolated failures: one identity's dead or
// slow connection is logged and skipped, never aborting delivery to the
// rest.
type Hub struct {
	cfg       config.WebSocketConfig
	logger    *logging.Logger
	republish Republisher

	mu         sync.RWMutex
	identities map[string]map[*Client]struct{}
}

// NewHub creates a broadcast hub. republish may be nil.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, republish Republisher) *Hub {
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		republish:  republish,
		identities: make(map[string]map[*Client]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client under its identity at session start.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	clients, ok := h.identities[client.identity]
	if !ok {
		clients = make(map[*Client]struct{})
		h.identities[client.identity] = clients
	}
	clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("notify client connected", "identity", client.identity, "clients", h.ClientCount())
}

// Unregister removes a client at session end. Only the goroutine that
// removes the client from the registry closes its send channel, preventing
// double-close panics during shutdown.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	clients, ok := h.identities[client.identity]
	var existed bool
	if ok {
		_, existed = clients[client]
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.identities, client.identity)
		}
	}
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("notify client disconnected", "identity", client.identity, "clients", h.ClientCount())
}

// Publish delivers one notification to every registered identity except the
// system identity, then mirrors it to MQTT when configured.
func (h *Hub) Publish(kind string, payload any) {
	msg := Message{
		Type:      MsgTypeEvent,
		EventType: kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshalling notification", "kind", kind, "error", err)
		return
	}

	// Snapshot the registry under the lock, deliver outside it
	h.mu.RLock()
	snapshot := make(map[string][]*Client, len(h.identities))
	for identity, clients := range h.identities {
		if identity == SystemIdentity {
			continue
		}
		list := make([]*Client, 0, len(clients))
		for client := range clients {
			list = append(list, client)
		}
		snapshot[identity] = list
	}
	h.mu.RUnlock()

	delivered := 0
	for identity, clients := range snapshot {
		if err := deliverToIdentity(clients, data); err != nil {
			// One identity's failure never aborts the rest
			h.logger.Warn("notification delivery failed", "identity", identity, "kind", kind, "error", err)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		h.logger.Debug("notification delivered", "kind", kind, "identities", delivered)
	}

	if h.republish != nil {
		if err := h.republish.Publish(mqttTopicPrefix+kind, data, 0, false); err != nil {
			h.logger.Warn("mqtt republish failed", "kind", kind, "error", err)
		}
	}
}

// deliverToIdentity pushes the payload to each of an identity's
// connections; it succeeds if at least one accepts it.
func deliverToIdentity(clients []*Client, data []byte) error {
	if len(clients) == 0 {
		return fmt.Errorf("no live connections")
	}
	ok := false
	for _, client := range clients {
		if client.trySend(data) {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("all %d connections rejected the message", len(clients))
	}
	return nil
}

// Identities returns the currently registered identities, excluding system.
func (h *Hub) Identities() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.identities))
	for identity := range h.identities {
		if identity == SystemIdentity {
			continue
		}
		out = append(out, identity)
	}
	return out
}

// ClientCount returns the number of connected clients across all identities.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.identities {
		count += len(clients)
	}
	return count
}

// closeAll disconnects every client so their write pumps exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for identity, clients := range h.identities {
		for client := range clients {
			close(client.send)
			if client.conn != nil {
				client.conn.Close() //nolint:errcheck // Best-effort shutdown
			}
		}
		delete(h.identities, identity)
	}
}
