package mailbox

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a mailbox entry.
//
// States only move forward along the transition graph; no component may move
// an entry backward, and a terminal state is never reopened.
type State string

// Mailbox entry states.
const (
	// StatePending means the entry is queued and not yet picked up by a
	// connection worker.
	StatePending State = "pending"

	// StateProcessing means a connection worker has sent the request to the
	// instance and is awaiting the reply.
	StateProcessing State = "processing"

	// StateSubscribed means the instance acknowledged a subscription; events
	// will be routed to this entry as they arrive.
	StateSubscribed State = "subscribed"

	// StateCollecting means at least one subscription event has been
	// appended and more may follow.
	StateCollecting State = "collecting"

	// StateDone means the result (or harvested events) is available.
	StateDone State = "done"

	// StateFailed means the instance returned an error or the connection
	// dropped while the entry was in flight.
	StateFailed State = "failed"

	// StateTimeout means the caller's deadline expired before a terminal
	// state was reached; a late reply is silently discarded.
	StateTimeout State = "timeout"
)

// validTransitions defines the forward-only state graph shared by the
// connection workers and callers.
var validTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateSubscribed, StateDone, StateFailed, StateTimeout},
	StateSubscribed: {StateCollecting, StateDone, StateFailed, StateTimeout},
	StateCollecting: {StateDone, StateFailed, StateTimeout},
	StateDone:       {},
	StateFailed:     {},
	StateTimeout:    {},
}

// Valid reports whether s is a recognised state.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Terminal reports whether s is a terminal state (done, failed, timeout).
// Terminal entries accept no further mutation except deletion.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateTimeout
}

// Collecting reports whether s accepts appended subscription events.
func (s State) Collecting() bool {
	return s == StateSubscribed || s == StateCollecting
}

// CanTransition reports whether the graph allows moving from -> to.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Entry is one mailbox row: a relayed request or subscription and its state.
//
// Payload, Result, and Events are opaque at this layer; only the connection
// worker and the instance itself interpret their contents.
type Entry struct {
	// ID is the row's unique identifier.
	ID string

	// InstanceID identifies which external instance this entry targets.
	// Always set; entries are never shared across instances.
	InstanceID string

	// CorrelationID is the caller-generated token used by the caller to
	// find its own entry. Unique among all non-deleted entries.
	CorrelationID string

	// Kind names the operation to relay (opaque to the mailbox).
	Kind string

	// Payload is the serialized request body.
	Payload json.RawMessage

	// IsSubscription marks a long-lived event stream rather than a
	// single call.
	IsSubscription bool

	// ExternalToken is the instance-assigned in-flight token, recorded by
	// the connection worker at send time.
	ExternalToken *int64

	// ExternalSubscriptionID routes inbound events to this entry once the
	// instance acknowledges the subscription.
	ExternalSubscriptionID *int64

	// Events holds accumulated subscription events; empty for plain
	// requests. EventCount always equals len(Events).
	Events     []json.RawMessage
	EventCount int

	State State

	// Result is the serialized response body, set only on done.
	Result json.RawMessage

	// Error is the human-readable failure detail, set only on
	// failed/timeout.
	Error string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fields carries the optional column updates applied together with a state
// transition. Nil/empty members are left untouched.
type Fields struct {
	// Result sets the response body (used with a transition to done).
	Result json.RawMessage

	// Error sets the failure detail (used with failed/timeout).
	Error string

	// ExternalToken records the in-flight token at send time.
	ExternalToken *int64

	// ExternalSubscriptionID records the acknowledged subscription id.
	ExternalSubscriptionID *int64
}
