package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// Protocol constants for the hub websocket API.
const (
	// endpointPath is the websocket endpoint on every hub instance.
	endpointPath = "/api/websocket"

	// handshakeTimeout bounds the dial plus auth exchange.
	handshakeTimeout = 10 * time.Second

	// writeTimeout bounds a single outbound frame.
	writeTimeout = 10 * time.Second

	frameAuthRequired = "auth_required"
	frameAuth         = "auth"
	frameAuthOK       = "auth_ok"
	frameAuthInvalid  = "auth_invalid"
	frameResult       = "result"
	frameEvent        = "event"
	framePong         = "pong"
)

// ErrAuthFailed indicates the instance rejected the configured access token.
var ErrAuthFailed = errors.New("hubclient: authentication failed")

// frame is the JSON envelope every hub message travels in. Outbound
// messages carry the command id and type alongside the flattened payload;
// inbound messages carry one of the result/error/event shapes.
type frame struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Error   *frameError     `json:"error,omitempty"`

	// auth handshake fields
	AccessToken string `json:"access_token,omitempty"`
	Message     string `json:"message,omitempty"`
}

type frameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Conn is a live authenticated connection to one hub instance. It
// implements the relay's Conn contract: opaque sends with a monotonically
// increasing command id, and demultiplexed inbound messages.
type Conn struct {
	ws      *websocket.Conn
	nextID  atomic.Int64
	writeMu sync.Mutex
}

// Send flattens the payload into the hub envelope, assigns the next command
// id, and writes the frame. The returned id is the in-flight token the
// instance echoes on its response.
func (c *Conn) Send(_ context.Context, kind string, payload json.RawMessage) (int64, error) {
	body := make(map[string]any)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return 0, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}

	id := c.nextID.Add(1)
	body["id"] = id
	body["type"] = kind

	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshalling frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, fmt.Errorf("writing frame: %w", err)
	}
	return id, nil
}

// Receive blocks for the next result, error, or event frame. Frames the
// relay has no use for (pongs, unknown types) are skipped.
func (c *Conn) Receive(ctx context.Context) (*relay.Inbound, error) {
	for {
		if deadline, ok := ctx.Deadline(); ok {
			//nolint:errcheck // Best-effort deadline; read error caught below
			c.ws.SetReadDeadline(deadline)
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("reading frame: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decoding frame: %w", err)
		}

		switch f.Type {
		case frameResult:
			if f.Success != nil && !*f.Success {
				message := "unspecified error"
				if f.Error != nil {
					message = f.Error.Message
				}
				return &relay.Inbound{Kind: relay.InboundError, Token: f.ID, Message: message}, nil
			}
			return &relay.Inbound{Kind: relay.InboundResult, Token: f.ID, Payload: f.Result}, nil
		case frameEvent:
			return &relay.Inbound{Kind: relay.InboundEvent, SubscriptionID: f.ID, Payload: f.Event}, nil
		case framePong:
			continue
		default:
			continue
		}
	}
}

// Close tears down the websocket. Safe to call more than once.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Dialer connects and authenticates against hub instances. It satisfies the
// relay's Dialer contract; one Dialer serves every configured instance.
type Dialer struct{}

// NewDialer creates a hub dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial opens the websocket and walks the auth handshake: the instance
// announces auth_required, the dialer presents the instance's access token,
// and the instance confirms with auth_ok.
func (d *Dialer) Dial(ctx context.Context, instance config.InstanceConfig) (relay.Conn, error) {
	endpoint := url.URL{
		Scheme: "ws",
		Host:   fmt.Sprintf("%s:%d", instance.Host, instance.Port),
		Path:   endpointPath,
	}
	if instance.TLS {
		endpoint.Scheme = "wss"
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint.String(), err)
	}

	if err := authenticate(ws, instance.Token); err != nil {
		ws.Close() //nolint:errcheck // Handshake failed, connection is useless
		return nil, err
	}

	return &Conn{ws: ws}, nil
}

// authenticate walks the auth exchange on a fresh connection.
func authenticate(ws *websocket.Conn, token string) error {
	//nolint:errcheck // Best-effort deadline; read errors caught below
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer ws.SetReadDeadline(time.Time{}) //nolint:errcheck // Reset after handshake

	var hello frame
	if err := ws.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading auth challenge: %w", err)
	}
	if hello.Type != frameAuthRequired {
		return fmt.Errorf("unexpected handshake frame %q", hello.Type)
	}

	if err := ws.WriteJSON(frame{Type: frameAuth, AccessToken: token}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	var verdict frame
	if err := ws.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("reading auth verdict: %w", err)
	}
	switch verdict.Type {
	case frameAuthOK:
		return nil
	case frameAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthFailed, verdict.Message)
	default:
		return fmt.Errorf("unexpected auth verdict %q", verdict.Type)
	}
}
