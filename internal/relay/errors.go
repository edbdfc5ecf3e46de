package relay

import (
	"errors"
	"fmt"
	"strings"
)

// connLostDetail is the marker written into a mailbox entry's error field
// when its instance connection drops. Failure classification keys off this
// prefix, so it must stay stable.
const connLostDetail = "connection to instance lost"

var (
	// ErrDeadlineExceeded indicates a caller's wall-clock deadline expired
	// before its mailbox entry reached a terminal state. Never retried
	// automatically; the business caller decides.
	ErrDeadlineExceeded = errors.New("relay: deadline exceeded")

	// ErrConnectionLost indicates the entry was failed because the instance
	// connection dropped while it was in flight. Retryable once the worker
	// reconnects.
	ErrConnectionLost = errors.New("relay: connection to instance lost")

	// ErrUnknownInstance indicates a call referenced an instance id that is
	// not configured.
	ErrUnknownInstance = errors.New("relay: unknown instance")
)

// ExternalError carries an explicit failure returned by the instance,
// surfaced to the caller verbatim.
type ExternalError struct {
	Detail string
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("relay: external service error: %s", e.Detail)
}

// classifyFailure maps a failed entry's recorded error detail to the typed
// failure a caller receives.
func classifyFailure(detail string) error {
	if strings.HasPrefix(detail, connLostDetail) {
		return ErrConnectionLost
	}
	return &ExternalError{Detail: detail}
}
