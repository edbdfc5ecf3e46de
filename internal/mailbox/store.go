package mailbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat is the fixed-width timestamp format stored in the database.
// Fixed fractional width keeps lexicographic string comparison equivalent to
// chronological comparison, which the reaper's age sweep relies on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// completeRetries bounds the read-then-compare-and-swap loop in
// CompleteSubscription when events keep arriving concurrently.
const completeRetries = 5

// Store defines the interface for mailbox persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Store interface {
	// Insert creates a new entry in the pending state.
	// Returns ErrDuplicateCorrelation if the correlation id already exists.
	Insert(ctx context.Context, entry *Entry) error

	// Get retrieves an entry by its unique identifier.
	// Returns ErrNotFound if the entry does not exist.
	Get(ctx context.Context, id string) (*Entry, error)

	// FindByCorrelation retrieves an entry by its caller-generated
	// correlation id. Returns ErrNotFound if no entry matches.
	FindByCorrelation(ctx context.Context, correlationID string) (*Entry, error)

	// FindByExternalToken retrieves the entry whose in-flight token matches,
	// scoped to one instance. Returns ErrNotFound if no entry matches.
	FindByExternalToken(ctx context.Context, instanceID string, token int64) (*Entry, error)

	// FindBySubscription retrieves the entry routing events for the given
	// external subscription id, scoped to one instance.
	FindBySubscription(ctx context.Context, instanceID string, subscriptionID int64) (*Entry, error)

	// ListPending returns up to limit pending entries for an instance,
	// oldest first.
	ListPending(ctx context.Context, instanceID string, limit int) ([]Entry, error)

	// UpdateState performs a conditional state transition: it succeeds only
	// if the row's current state equals from. Returns ErrInvalidTransition
	// if the graph forbids from -> to, ErrStaleState if the row has moved
	// on, ErrNotFound if the row is gone.
	UpdateState(ctx context.Context, id string, from, to State, fields Fields) error

	// AppendEvent atomically appends one event and increments event_count.
	// Only valid while the entry is subscribed or collecting; otherwise
	// returns ErrNotCollecting.
	AppendEvent(ctx context.Context, id string, event json.RawMessage) error

	// MarkTimeout forces an in-flight entry to the timeout state with the
	// given detail. The update is conditional: it is silently skipped
	// (applied=false) when the entry is still pending, already terminal,
	// or deleted.
	MarkTimeout(ctx context.Context, id string, detail string) (applied bool, err error)

	// CompleteSubscription atomically copies the accumulated events into
	// result and transitions the entry to done, returning the events.
	// Returns ErrNotCollecting unless the entry is subscribed or collecting.
	CompleteSubscription(ctx context.Context, id string) ([]json.RawMessage, error)

	// FailInFlight marks every processing/subscribed/collecting entry for
	// an instance as failed with the given detail, returning how many rows
	// were affected. Used when the instance connection drops.
	FailInFlight(ctx context.Context, instanceID string, detail string) (int64, error)

	// DeleteOlderThan removes every entry created before the cutoff,
	// regardless of state, returning how many rows were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Delete removes a single entry by id.
	// Returns ErrNotFound if the entry does not exist.
	Delete(ctx context.Context, id string) error
}

// entryColumns is the column list shared by every SELECT.
const entryColumns = `id, instance_id, correlation_id, message_kind, payload,
	is_subscription, external_token, external_subscription_id,
	events, event_count, state, result, error, created_at, updated_at`

// SQLiteStore implements Store using SQLite.
//
// All mutation is via conditional single-row updates; there are no multi-row
// transactions spanning the relay, so concurrent workers, callers, and the
// reaper cannot deadlock against each other.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed mailbox store.
// The db parameter should be an open SQLite connection with the mailbox
// schema applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert creates a new entry in the pending state.
func (s *SQLiteStore) Insert(ctx context.Context, entry *Entry) error {
	if entry.InstanceID == "" {
		return errors.New("mailbox: instance id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}
	if entry.State == "" {
		entry.State = StatePending
	}
	if len(entry.Payload) == 0 {
		entry.Payload = json.RawMessage(`{}`)
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	eventsJSON, err := marshalEvents(entry.Events)
	if err != nil {
		return fmt.Errorf("marshalling events: %w", err)
	}
	entry.EventCount = len(entry.Events)

	query := `
		INSERT INTO mailbox (
			id, instance_id, correlation_id, message_kind, payload,
			is_subscription, external_token, external_subscription_id,
			events, event_count, state, result, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.InstanceID,
		entry.CorrelationID,
		entry.Kind,
		string(entry.Payload),
		boolToInt(entry.IsSubscription),
		nullableInt64(entry.ExternalToken),
		nullableInt64(entry.ExternalSubscriptionID),
		eventsJSON,
		entry.EventCount,
		string(entry.State),
		nullableRaw(entry.Result),
		nullableString(entry.Error),
		entry.CreatedAt.Format(timeFormat),
		entry.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateCorrelation
		}
		return fmt.Errorf("inserting entry: %w", err)
	}

	return nil
}

// Get retrieves an entry by its unique identifier.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	return s.queryOne(ctx, "WHERE id = ?", id)
}

// FindByCorrelation retrieves an entry by its correlation id.
func (s *SQLiteStore) FindByCorrelation(ctx context.Context, correlationID string) (*Entry, error) {
	return s.queryOne(ctx, "WHERE correlation_id = ?", correlationID)
}

// FindByExternalToken retrieves the entry whose in-flight token matches.
func (s *SQLiteStore) FindByExternalToken(ctx context.Context, instanceID string, token int64) (*Entry, error) {
	return s.queryOne(ctx, "WHERE instance_id = ? AND external_token = ?", instanceID, token)
}

// FindBySubscription retrieves the entry for the given subscription id.
func (s *SQLiteStore) FindBySubscription(ctx context.Context, instanceID string, subscriptionID int64) (*Entry, error) {
	return s.queryOne(ctx, "WHERE instance_id = ? AND external_subscription_id = ?", instanceID, subscriptionID)
}

// ListPending returns up to limit pending entries for an instance, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context, instanceID string, limit int) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM mailbox
		WHERE instance_id = ? AND state = ?
		ORDER BY created_at
		LIMIT ?`, entryColumns)

	rows, err := s.db.QueryContext(ctx, query, instanceID, string(StatePending), limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	return entries, nil
}

// UpdateState performs a conditional state transition.
//
// The WHERE clause carries the expected from-state, so a connection worker,
// a timed-out caller, and the reaper can race without lost updates: exactly
// one of them wins, the others observe ErrStaleState.
func (s *SQLiteStore) UpdateState(ctx context.Context, id string, from, to State, fields Fields) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	set := []string{"state = ?", "updated_at = ?"}
	args := []any{string(to), time.Now().UTC().Format(timeFormat)}

	if fields.Result != nil {
		set = append(set, "result = ?")
		args = append(args, string(fields.Result))
	}
	if fields.Error != "" {
		set = append(set, "error = ?")
		args = append(args, fields.Error)
	}
	if fields.ExternalToken != nil {
		set = append(set, "external_token = ?")
		args = append(args, *fields.ExternalToken)
	}
	if fields.ExternalSubscriptionID != nil {
		set = append(set, "external_subscription_id = ?")
		args = append(args, *fields.ExternalSubscriptionID)
	}

	query := fmt.Sprintf("UPDATE mailbox SET %s WHERE id = ? AND state = ?", strings.Join(set, ", "))
	args = append(args, id, string(from))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating entry state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a lost race from a deleted row
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStaleState
	}

	return nil
}

// AppendEvent atomically appends one event and increments event_count.
//
// The append and the counter increment happen in a single UPDATE with a
// state guard, so events and event_count can never be observed mismatched
// and no event is accepted after a caller finalizes the subscription.
func (s *SQLiteStore) AppendEvent(ctx context.Context, id string, event json.RawMessage) error {
	if len(event) == 0 {
		event = json.RawMessage(`null`)
	}

	query := `
		UPDATE mailbox
		SET events = json_insert(events, '$[#]', json(?)),
		    event_count = event_count + 1,
		    updated_at = ?
		WHERE id = ? AND state IN (?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		string(event),
		time.Now().UTC().Format(timeFormat),
		id,
		string(StateSubscribed),
		string(StateCollecting),
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNotCollecting
	}

	return nil
}

// MarkTimeout forces an in-flight entry to the timeout state.
//
// Pending entries are left alone: the worker never picked them up, so they
// either drain later (and the late result is discarded) or age out via the
// reaper. Terminal entries are also left alone, which is how a late worker
// response and a caller timeout resolve their race.
func (s *SQLiteStore) MarkTimeout(ctx context.Context, id string, detail string) (bool, error) {
	query := `
		UPDATE mailbox
		SET state = ?, error = ?, updated_at = ?
		WHERE id = ? AND state IN (?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		string(StateTimeout),
		detail,
		time.Now().UTC().Format(timeFormat),
		id,
		string(StateProcessing),
		string(StateSubscribed),
		string(StateCollecting),
	)
	if err != nil {
		return false, fmt.Errorf("marking entry timeout: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// CompleteSubscription atomically copies the accumulated events into result
// and transitions the entry to done.
//
// An event appended after this call's read is lost; the accepted contract is
// that consumers needing every event unsubscribe at the instance before
// harvesting. The conditional update retries a few times in case the state
// flips subscribed -> collecting between the read and the write.
func (s *SQLiteStore) CompleteSubscription(ctx context.Context, id string) ([]json.RawMessage, error) {
	for attempt := 0; attempt < completeRetries; attempt++ {
		entry, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !entry.State.Collecting() {
			return nil, ErrNotCollecting
		}

		resultJSON, err := marshalEvents(entry.Events)
		if err != nil {
			return nil, fmt.Errorf("marshalling harvested events: %w", err)
		}

		err = s.UpdateState(ctx, id, entry.State, StateDone, Fields{Result: json.RawMessage(resultJSON)})
		if err == nil {
			return entry.Events, nil
		}
		if errors.Is(err, ErrStaleState) {
			continue // state moved under us; re-read and retry
		}
		return nil, err
	}
	return nil, ErrStaleState
}

// FailInFlight marks every in-flight entry for an instance as failed.
func (s *SQLiteStore) FailInFlight(ctx context.Context, instanceID string, detail string) (int64, error) {
	query := `
		UPDATE mailbox
		SET state = ?, error = ?, updated_at = ?
		WHERE instance_id = ? AND state IN (?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		string(StateFailed),
		detail,
		time.Now().UTC().Format(timeFormat),
		instanceID,
		string(StateProcessing),
		string(StateSubscribed),
		string(StateCollecting),
	)
	if err != nil {
		return 0, fmt.Errorf("failing in-flight entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

// DeleteOlderThan removes every entry created before the cutoff, regardless
// of state.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM mailbox WHERE created_at < ?",
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

// Delete removes a single entry by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM mailbox WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// queryOne executes a single-row query with the given WHERE clause.
func (s *SQLiteStore) queryOne(ctx context.Context, where string, args ...any) (*Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM mailbox %s", entryColumns, where)
	row := s.db.QueryRowContext(ctx, query, args...)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying entry: %w", err)
	}
	return entry, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry scans a row or rows result into an Entry.
func scanEntry(scanner rowScanner) (*Entry, error) {
	var e Entry
	var payload, eventsJSON, state string
	var isSubscription int
	var externalToken, externalSubscriptionID sql.NullInt64
	var result, errDetail sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&e.ID,
		&e.InstanceID,
		&e.CorrelationID,
		&e.Kind,
		&payload,
		&isSubscription,
		&externalToken,
		&externalSubscriptionID,
		&eventsJSON,
		&e.EventCount,
		&state,
		&result,
		&errDetail,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Payload = json.RawMessage(payload)
	e.IsSubscription = isSubscription != 0
	e.State = State(state)

	if externalToken.Valid {
		e.ExternalToken = &externalToken.Int64
	}
	if externalSubscriptionID.Valid {
		e.ExternalSubscriptionID = &externalSubscriptionID.Int64
	}
	if result.Valid {
		e.Result = json.RawMessage(result.String)
	}
	if errDetail.Valid {
		e.Error = errDetail.String
	}

	if err := json.Unmarshal([]byte(eventsJSON), &e.Events); err != nil {
		return nil, fmt.Errorf("unmarshalling events: %w", err)
	}

	var parseErr error
	e.CreatedAt, parseErr = time.Parse(timeFormat, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	e.UpdatedAt, parseErr = time.Parse(timeFormat, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &e, nil
}

// marshalEvents serializes the events slice as a JSON array string.
func marshalEvents(events []json.RawMessage) (string, error) {
	if len(events) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// nullableString returns a sql.NullString for optional strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableRaw returns a sql.NullString for optional JSON values.
func nullableRaw(raw json.RawMessage) sql.NullString {
	if raw == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// nullableInt64 returns a sql.NullInt64 for optional int64 pointers.
func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
