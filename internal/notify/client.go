package notify

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one live websocket connection belonging to an identity. An
// identity may hold several clients (multiple tabs, multiple devices); the
// hub delivers to all of them.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity string
}

// NewClient wraps an upgraded websocket connection for the given identity.
// The caller must Register it with the hub and then call Start.
func NewClient(hub *Hub, conn *websocket.Conn, identity string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		identity: identity,
	}
}

// Identity returns the identity this connection authenticated as.
func (c *Client) Identity() string {
	return c.identity
}

// Start launches the read and write pumps. Returns immediately.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// trySend queues data for delivery. Returns false when the client is gone
// or its buffer is full; a slow consumer drops messages rather than
// blocking the hub.
func (c *Client) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump consumes inbound frames until the connection closes. The portal
// only sends pings; anything else is ignored. Any inbound frame refreshes
// the read deadline.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close() //nolint:errcheck // Connection is being torn down
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	pingInterval := time.Duration(c.hub.cfg.PingInterval) * time.Second
	pongWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("notify read error", "identity", c.identity, "error", err)
			} else {
				c.hub.logger.Debug("notify connection closed", "identity", c.identity)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			c.sendMessage(Message{Type: MsgTypePong, Timestamp: time.Now().UTC().Format(time.RFC3339)})
		}
	}
}

// writePump drains the send channel onto the connection and keeps the link
// alive with protocol pings.
func (c *Client) writePump() {
	pingInterval := time.Duration(c.hub.cfg.PingInterval) * time.Second
	pongWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Connection is being torn down
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage marshals and queues one message for this client only.
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}
