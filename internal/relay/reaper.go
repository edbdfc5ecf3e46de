package relay

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/mailbox"
)

// Reaper periodically deletes mailbox entries older than the retention
// window, regardless of state. An unresolved entry past the window is data
// loss by design: its caller gave up long ago.
type Reaper struct {
	store   mailbox.Store
	cfg     config.RelayConfig
	logger  *logging.Logger
	metrics Metrics
}

// NewReaper creates a reaper over the given store.
func NewReaper(store mailbox.Store, cfg config.RelayConfig, logger *logging.Logger, metrics Metrics) *Reaper {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Reaper{store: store, cfg: cfg, logger: logger, metrics: metrics}
}

// Run sweeps on the configured interval until the context is cancelled.
// One sweep runs immediately so a restart doesn't defer cleanup of a
// backlog by a full interval.
func (r *Reaper) Run(ctx context.Context) {
	r.Sweep(ctx)

	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep deletes every entry created before the retention cutoff.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.RetentionWindow)

	deleted, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("reaping expired mailbox entries", "error", err)
		return
	}
	r.metrics.RecordReaperSweep(deleted)
	if deleted > 0 {
		r.logger.Info("reaped expired mailbox entries", "count", deleted, "older_than", cutoff.UTC())
	}
}
