package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/mailbox"
)

// Worker behaviour constants.
const (
	// drainBatchSize caps how many pending entries one drain pass claims.
	drainBatchSize = 32

	// tokenLookupRetries is how many times inbound dispatch re-checks the
	// store for an unknown token. The claim write races the instance's
	// response on fast round-trips.
	tokenLookupRetries = 3

	// tokenLookupDelay is the pause between token lookup attempts.
	tokenLookupDelay = 25 * time.Millisecond
)

// Notifier receives connection lifecycle notifications from workers.
// The broadcast hub implements this; NopNotifier discards everything.
type Notifier interface {
	ConnectionStatus(instanceID, status, message string)
}

// NopNotifier is a Notifier that discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ConnectionStatus(string, string, string) {}

// Metrics receives relay measurements. The influx recorder implements this;
// NopMetrics discards everything.
type Metrics interface {
	RecordQueueDepth(instanceID string, depth int)
	RecordCall(instanceID, kind string, duration time.Duration, outcome string)
	RecordConnection(instanceID string, connected bool)
	RecordReaperSweep(deleted int64)
}

// NopMetrics is a Metrics implementation that discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordQueueDepth(string, int)                     {}
func (NopMetrics) RecordCall(string, string, time.Duration, string) {}
func (NopMetrics) RecordConnection(string, bool)                    {}
func (NopMetrics) RecordReaperSweep(int64)                          {}

// Worker owns the sole persistent connection to one instance. It drains
// pending mailbox entries onto the connection and writes every inbound
// message back into the matching mailbox row. All correlation state lives in
// the store, so the worker can restart (or run in a different process from
// the callers) without losing track of outstanding requests.
type Worker struct {
	instance  config.InstanceConfig
	store     mailbox.Store
	dialer    Dialer
	cfg       config.RelayConfig
	logger    *logging.Logger
	notifier  Notifier
	metrics   Metrics
	connected atomic.Bool
}

// NewWorker creates a connection worker for one instance. The worker does
// nothing until Run is called.
func NewWorker(instance config.InstanceConfig, store mailbox.Store, dialer Dialer, cfg config.RelayConfig, logger *logging.Logger, notifier Notifier, metrics Metrics) *Worker {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Worker{
		instance: instance,
		store:    store,
		dialer:   dialer,
		cfg:      cfg,
		logger:   logger.With("instance", instance.ID),
		notifier: notifier,
		metrics:  metrics,
	}
}

// Connected reports whether the worker currently holds a live connection.
func (w *Worker) Connected() bool {
	return w.connected.Load()
}

// Run connects to the instance and relays messages until the context is
// cancelled. On connection loss it fails every in-flight entry for the
// instance and reconnects with exponential backoff; entries still pending
// stay pending and drain after reconnection.
func (w *Worker) Run(ctx context.Context) {
	delay := w.cfg.ReconnectInitialDelay

	for {
		conn, err := w.dialer.Dial(ctx, w.instance)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("instance connection failed", "error", err, "retry_in", delay)
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextDelay(delay, w.cfg.ReconnectMaxDelay)
			continue
		}

		delay = w.cfg.ReconnectInitialDelay
		w.connected.Store(true)
		w.metrics.RecordConnection(w.instance.ID, true)
		w.notifier.ConnectionStatus(w.instance.ID, "connected", "")
		w.logger.Info("instance connected")

		sessionErr := w.session(ctx, conn)
		conn.Close() //nolint:errcheck // Connection is already dead or being replaced

		w.connected.Store(false)
		w.metrics.RecordConnection(w.instance.ID, false)

		if ctx.Err() != nil {
			return
		}

		detail := connLostDetail
		if sessionErr != nil {
			detail += ": " + sessionErr.Error()
		}
		failed, err := w.store.FailInFlight(ctx, w.instance.ID, detail)
		if err != nil {
			w.logger.Error("failing in-flight entries", "error", err)
		} else if failed > 0 {
			w.logger.Warn("failed in-flight entries after connection loss", "count", failed)
		}

		w.notifier.ConnectionStatus(w.instance.ID, "disconnected", detail)
		w.logger.Warn("instance disconnected", "error", sessionErr, "retry_in", delay)

		if !sleepCtx(ctx, delay) {
			return
		}
		delay = nextDelay(delay, w.cfg.ReconnectMaxDelay)
	}
}

// session runs the drain and receive loops over one live connection and
// returns when either loop fails or the context is cancelled.
func (w *Worker) session(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- w.drainLoop(ctx, conn) }()
	go func() { errCh <- w.receiveLoop(ctx, conn) }()

	err := <-errCh
	cancel()
	conn.Close() //nolint:errcheck // Unblocks the other loop
	<-errCh

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// drainLoop periodically forwards pending entries onto the connection,
// backing off up to DrainMaxBackoff while the queue stays empty.
func (w *Worker) drainLoop(ctx context.Context, conn Conn) error {
	interval := w.cfg.DrainInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		sent, err := w.drainPending(ctx, conn)
		if err != nil {
			return err
		}

		if sent == 0 {
			interval = nextDelay(interval, w.cfg.DrainMaxBackoff)
		} else {
			interval = w.cfg.DrainInterval
		}
		timer.Reset(interval)
	}
}

// drainPending claims one batch of pending entries and sends them. A send
// failure aborts the session; entries not yet claimed stay pending and are
// retried after reconnection.
func (w *Worker) drainPending(ctx context.Context, conn Conn) (int, error) {
	entries, err := w.store.ListPending(ctx, w.instance.ID, drainBatchSize)
	if err != nil {
		w.logger.Error("listing pending entries", "error", err)
		return 0, nil
	}
	w.metrics.RecordQueueDepth(w.instance.ID, len(entries))

	sent := 0
	for i := range entries {
		entry := &entries[i]

		token, err := conn.Send(ctx, entry.Kind, entry.Payload)
		if err != nil {
			return sent, err
		}

		err = w.store.UpdateState(ctx, entry.ID, mailbox.StatePending, mailbox.StateProcessing, mailbox.Fields{
			ExternalToken: &token,
		})
		if err != nil {
			// Entry vanished or was claimed elsewhere; the response for
			// this token will be discarded on arrival.
			w.logger.Debug("pending entry gone before claim", "entry", entry.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// receiveLoop dispatches inbound messages until the connection fails.
// Dispatch errors are logged, never fatal: a message that matches nothing is
// a late response for a timed-out or reaped entry and is dropped.
func (w *Worker) receiveLoop(ctx context.Context, conn Conn) error {
	for {
		inbound, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		w.dispatch(ctx, inbound)
	}
}

// dispatch writes one inbound message into its mailbox row.
func (w *Worker) dispatch(ctx context.Context, inbound *Inbound) {
	switch inbound.Kind {
	case InboundResult:
		w.dispatchResult(ctx, inbound)
	case InboundError:
		w.dispatchError(ctx, inbound)
	case InboundEvent:
		w.dispatchEvent(ctx, inbound)
	default:
		w.logger.Warn("unknown inbound message kind", "kind", inbound.Kind)
	}
}

func (w *Worker) dispatchResult(ctx context.Context, inbound *Inbound) {
	entry, err := w.findByToken(ctx, inbound.Token)
	if err != nil {
		w.logger.Debug("discarding result for unknown token", "token", inbound.Token)
		return
	}

	if entry.IsSubscription {
		// Subscription acknowledgment: record the id events will carry.
		subID := inbound.SubscriptionID
		if subID == 0 {
			subID = inbound.Token
		}
		err = w.store.UpdateState(ctx, entry.ID, mailbox.StateProcessing, mailbox.StateSubscribed, mailbox.Fields{
			ExternalSubscriptionID: &subID,
		})
		if err != nil {
			w.logger.Debug("discarding subscription ack", "entry", entry.ID, "error", err)
		}
		return
	}

	err = w.store.UpdateState(ctx, entry.ID, mailbox.StateProcessing, mailbox.StateDone, mailbox.Fields{
		Result: inbound.Payload,
	})
	if err != nil {
		// The caller's timeout won the race; the result is dropped.
		w.logger.Debug("discarding late result", "entry", entry.ID, "error", err)
	}
}

func (w *Worker) dispatchError(ctx context.Context, inbound *Inbound) {
	entry, err := w.findByToken(ctx, inbound.Token)
	if err != nil {
		w.logger.Debug("discarding error for unknown token", "token", inbound.Token)
		return
	}
	if entry.State.Terminal() {
		w.logger.Debug("discarding late error", "entry", entry.ID)
		return
	}

	err = w.store.UpdateState(ctx, entry.ID, entry.State, mailbox.StateFailed, mailbox.Fields{
		Error: inbound.Message,
	})
	if err != nil {
		w.logger.Debug("discarding late error", "entry", entry.ID, "error", err)
	}
}

func (w *Worker) dispatchEvent(ctx context.Context, inbound *Inbound) {
	entry, err := w.store.FindBySubscription(ctx, w.instance.ID, inbound.SubscriptionID)
	if err != nil {
		w.logger.Debug("discarding event for unknown subscription", "subscription", inbound.SubscriptionID)
		return
	}

	if err := w.store.AppendEvent(ctx, entry.ID, inbound.Payload); err != nil {
		// Subscription already harvested or failed
		w.logger.Debug("discarding event", "entry", entry.ID, "error", err)
		return
	}

	if entry.State == mailbox.StateSubscribed {
		// First event moves the entry to collecting; a concurrent event's
		// identical flip losing this race is harmless.
		err := w.store.UpdateState(ctx, entry.ID, mailbox.StateSubscribed, mailbox.StateCollecting, mailbox.Fields{})
		if err != nil && !errors.Is(err, mailbox.ErrStaleState) {
			w.logger.Debug("marking subscription collecting", "entry", entry.ID, "error", err)
		}
	}
}

// findByToken looks up the entry for an in-flight token, retrying briefly
// because the claim write may still be landing when the response arrives.
func (w *Worker) findByToken(ctx context.Context, token int64) (*mailbox.Entry, error) {
	var entry *mailbox.Entry
	var err error
	for attempt := 0; attempt < tokenLookupRetries; attempt++ {
		entry, err = w.store.FindByExternalToken(ctx, w.instance.ID, token)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, mailbox.ErrNotFound) {
			return nil, err
		}
		if !sleepCtx(ctx, tokenLookupDelay) {
			return nil, ctx.Err()
		}
	}
	return nil, err
}

// nextDelay doubles a backoff delay up to the cap.
func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// sleepCtx sleeps for the duration unless the context is cancelled first.
// Returns false if the context ended the sleep.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
