package relay

import (
	"context"
	"encoding/json"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// InboundKind classifies a message received from an instance connection.
type InboundKind string

const (
	// InboundResult is a successful response to a previously sent message.
	// For subscription requests it is the subscription acknowledgment.
	InboundResult InboundKind = "result"

	// InboundError is an explicit failure response to a previously sent message.
	InboundError InboundKind = "error"

	// InboundEvent is an asynchronous event for an active subscription.
	InboundEvent InboundKind = "event"
)

// Inbound is one message received from an instance connection, already
// stripped of transport framing.
type Inbound struct {
	// Kind classifies the message.
	Kind InboundKind

	// Token is the in-flight token of the outbound message this responds
	// to. Set for result and error messages.
	Token int64

	// SubscriptionID identifies the subscription an event belongs to.
	// For a subscription acknowledgment it carries the id the instance
	// assigned; when zero the worker falls back to Token.
	SubscriptionID int64

	// Payload is the opaque response body or event body.
	Payload json.RawMessage

	// Message is the human-readable detail on error messages.
	Message string
}

// Conn is the relay's entire contract with an instance connection. The
// worker sends opaque messages and receives demultiplexed inbound messages;
// framing, authentication, and protocol details live behind this interface.
type Conn interface {
	// Send serializes one message onto the connection and returns the
	// in-flight token the instance will use to correlate its response.
	Send(ctx context.Context, kind string, payload json.RawMessage) (int64, error)

	// Receive blocks until the next inbound message arrives. It returns an
	// error when the connection is no longer usable.
	Receive(ctx context.Context) (*Inbound, error)

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Dialer establishes connections to instances. One Dialer serves all
// configured instances; the worker redials through it after every drop.
type Dialer interface {
	Dial(ctx context.Context, instance config.InstanceConfig) (Conn, error)
}
