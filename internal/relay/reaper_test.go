package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/mailbox"
)

// TestReaper_Sweep verifies the reaper deletes exactly the entries past the
// retention window, regardless of state.
func TestReaper_Sweep(t *testing.T) {
	store := testStore(t)
	cfg := testRelayConfig()
	cfg.RetentionWindow = time.Hour
	ctx := context.Background()

	insertAged := func(t *testing.T, age time.Duration, state mailbox.State) *mailbox.Entry {
		t.Helper()
		entry := &mailbox.Entry{
			InstanceID: "home",
			Kind:       "call_service",
			Payload:    json.RawMessage(`{}`),
			CreatedAt:  time.Now().UTC().Add(-age),
		}
		if err := store.Insert(ctx, entry); err != nil {
			t.Fatal(err)
		}
		if state != mailbox.StatePending {
			if err := store.UpdateState(ctx, entry.ID, mailbox.StatePending, mailbox.StateProcessing, mailbox.Fields{}); err != nil {
				t.Fatal(err)
			}
			if state == mailbox.StateDone {
				if err := store.UpdateState(ctx, entry.ID, mailbox.StateProcessing, mailbox.StateDone, mailbox.Fields{}); err != nil {
					t.Fatal(err)
				}
			}
		}
		return entry
	}

	// Past the window in three different states, all must go
	expiredPending := insertAged(t, 2*time.Hour, mailbox.StatePending)
	expiredInFlight := insertAged(t, 90*time.Minute, mailbox.StateProcessing)
	expiredDone := insertAged(t, 61*time.Minute, mailbox.StateDone)

	// Inside the window, must survive
	freshPending := insertAged(t, time.Minute, mailbox.StatePending)
	freshDone := insertAged(t, 30*time.Minute, mailbox.StateDone)

	reaper := NewReaper(store, cfg, testLogger(), nil)
	reaper.Sweep(ctx)

	for _, id := range []string{expiredPending.ID, expiredInFlight.ID, expiredDone.ID} {
		if _, err := store.Get(ctx, id); !errors.Is(err, mailbox.ErrNotFound) {
			t.Errorf("expired entry %s should be deleted, got %v", id, err)
		}
	}
	for _, id := range []string{freshPending.ID, freshDone.ID} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Errorf("fresh entry %s should survive, got %v", id, err)
		}
	}
}
