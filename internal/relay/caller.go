package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/mailbox"
)

// Caller runs inside synchronous request handlers. It inserts mailbox
// entries and polls the store until they resolve; it never talks to an
// instance connection directly, so callers and workers can live in
// different processes sharing the same database file.
type Caller struct {
	store   mailbox.Store
	cfg     config.RelayConfig
	logger  *logging.Logger
	metrics Metrics
}

// NewCaller creates a caller over the given store.
func NewCaller(store mailbox.Store, cfg config.RelayConfig, logger *logging.Logger, metrics Metrics) *Caller {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Caller{store: store, cfg: cfg, logger: logger, metrics: metrics}
}

// Call relays one message to an instance and blocks until a result, a
// recorded failure, or the timeout. A timeout of zero uses the configured
// default. The wall-clock deadline is hard: Call returns within timeout
// plus at most one poll interval regardless of worker behaviour.
func (c *Caller) Call(ctx context.Context, instanceID, kind string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultCallTimeout
	}

	entry := &mailbox.Entry{
		InstanceID: instanceID,
		Kind:       kind,
		Payload:    payload,
	}
	if err := c.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("inserting mailbox entry: %w", err)
	}

	started := time.Now()
	result, err := c.await(ctx, entry.ID, timeout)
	c.metrics.RecordCall(instanceID, kind, time.Since(started), callOutcome(err))
	return result, err
}

// await polls one entry until it is terminal or the deadline passes.
func (c *Caller) await(ctx context.Context, id string, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.Now().Add(timeout)

	for {
		entry, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("polling mailbox entry: %w", err)
		}

		if result, terminal, err := terminalOutcome(entry); terminal {
			return result, err
		}

		if time.Now().After(deadline) {
			if err := c.giveUp(ctx, id, timeout); err != nil {
				return nil, err
			}
			// Terminal outcome won the race with the timeout mark
			final, err := c.store.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("re-reading mailbox entry: %w", err)
			}
			result, _, outcomeErr := terminalOutcome(final)
			return result, outcomeErr
		}

		if !sleepCtx(ctx, jitteredInterval(c.cfg.PollInterval)) {
			return nil, ctx.Err()
		}
	}
}

// giveUp marks an entry timed out after the caller's deadline expired. The
// conditional update loses gracefully: if a worker reached a terminal state
// in the same instant, that outcome is returned instead.
func (c *Caller) giveUp(ctx context.Context, id string, timeout time.Duration) error {
	applied, err := c.store.MarkTimeout(ctx, id, fmt.Sprintf("no response within %s", timeout))
	if err != nil {
		return fmt.Errorf("marking entry timeout: %w", err)
	}
	if !applied {
		entry, getErr := c.store.Get(ctx, id)
		if getErr == nil {
			if _, terminal, _ := terminalOutcome(entry); terminal {
				// The worker won by a hair; don't throw the outcome away,
				// whether it is a result or a recorded failure.
				c.logger.Debug("terminal state beat caller timeout", "entry", id)
				return nil
			}
		}
		// Still pending: the worker never picked it up. The entry stays
		// for the reaper and any late drain is observed by nobody.
	}
	return fmt.Errorf("%w: no response within %s", ErrDeadlineExceeded, timeout)
}

// Subscribe opens a subscription on an instance and blocks until the
// instance acknowledges it, returning the correlation id as the handle for
// a later Harvest.
func (c *Caller) Subscribe(ctx context.Context, instanceID, kind string, payload json.RawMessage) (string, error) {
	entry := &mailbox.Entry{
		InstanceID:     instanceID,
		Kind:           kind,
		Payload:        payload,
		IsSubscription: true,
	}
	if err := c.store.Insert(ctx, entry); err != nil {
		return "", fmt.Errorf("inserting subscription entry: %w", err)
	}

	deadline := time.Now().Add(c.cfg.SubscribeTimeout)

	for {
		current, err := c.store.Get(ctx, entry.ID)
		if err != nil {
			return "", fmt.Errorf("polling subscription entry: %w", err)
		}

		if current.State.Collecting() {
			return current.CorrelationID, nil
		}
		if _, terminal, err := terminalOutcome(current); terminal {
			if err == nil {
				err = fmt.Errorf("%w: subscription finalized before acknowledgment", ErrDeadlineExceeded)
			}
			return "", err
		}

		if time.Now().After(deadline) {
			if err := c.giveUp(ctx, entry.ID, c.cfg.SubscribeTimeout); err != nil {
				return "", err
			}
			// Terminal outcome won the race with the timeout mark.
			final, err := c.store.Get(ctx, entry.ID)
			if err != nil {
				return "", fmt.Errorf("re-reading subscription entry: %w", err)
			}
			_, _, outcomeErr := terminalOutcome(final)
			if outcomeErr == nil {
				outcomeErr = fmt.Errorf("%w: subscription finalized before acknowledgment", ErrDeadlineExceeded)
			}
			return "", outcomeErr
		}

		if !sleepCtx(ctx, jitteredInterval(c.cfg.PollInterval)) {
			return "", ctx.Err()
		}
	}
}

// Harvest finalizes a subscription: the accumulated events are copied into
// the entry's result, the entry moves to done, and the events are returned.
// Events arriving after this call are rejected by the store's state guard.
func (c *Caller) Harvest(ctx context.Context, correlationID string) ([]json.RawMessage, error) {
	entry, err := c.store.FindByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if !entry.IsSubscription {
		return nil, mailbox.ErrNotCollecting
	}
	return c.store.CompleteSubscription(ctx, entry.ID)
}

// Lookup returns the current mailbox entry for a correlation id. Used by
// the inspection API; callers normally only see terminal outcomes.
func (c *Caller) Lookup(ctx context.Context, correlationID string) (*mailbox.Entry, error) {
	return c.store.FindByCorrelation(ctx, correlationID)
}

// terminalOutcome maps a terminal entry to the value/error pair a caller
// receives. The middle return is false while the entry is still in flight.
func terminalOutcome(entry *mailbox.Entry) (json.RawMessage, bool, error) {
	switch entry.State {
	case mailbox.StateDone:
		return entry.Result, true, nil
	case mailbox.StateFailed:
		return nil, true, classifyFailure(entry.Error)
	case mailbox.StateTimeout:
		return nil, true, fmt.Errorf("%w: %s", ErrDeadlineExceeded, entry.Error)
	default:
		return nil, false, nil
	}
}

// jitteredInterval spreads poll wakeups across concurrent callers: base
// plus up to half the base, randomized per poll.
func jitteredInterval(base time.Duration) time.Duration {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return base + time.Duration(rand.Int63n(int64(base/2)))
}

// callOutcome labels a call result for metrics.
func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	default:
		return "error"
	}
}
