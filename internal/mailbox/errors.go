package mailbox

import "errors"

// Domain errors for the mailbox package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, mailbox.ErrStaleState) {
//	    // benign race: another component already moved the entry on
//	}
var (
	// ErrNotFound is returned when an entry id or correlation id does not exist.
	ErrNotFound = errors.New("mailbox: entry not found")

	// ErrDuplicateCorrelation is returned when inserting an entry whose
	// correlation id already exists. This indicates a caller bug and is
	// fatal to that call.
	ErrDuplicateCorrelation = errors.New("mailbox: duplicate correlation id")

	// ErrStaleState is returned by conditional updates when the row's
	// current state no longer matches the expected from-state. This is a
	// benign race (another component won) and is typically ignored.
	ErrStaleState = errors.New("mailbox: stale state")

	// ErrNotCollecting is returned when appending an event to an entry that
	// is not in the subscribed or collecting state.
	ErrNotCollecting = errors.New("mailbox: entry not collecting events")

	// ErrInvalidTransition is returned when a requested state change is not
	// permitted by the transition graph.
	ErrInvalidTransition = errors.New("mailbox: invalid state transition")
)
