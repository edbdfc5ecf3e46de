package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-relay/internal/mailbox"
)

// callRequest is the request body for POST /instances/{instance}/call.
type callRequest struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`
}

// subscribeRequest is the request body for POST /instances/{instance}/subscriptions.
type subscribeRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// entryView is the mailbox inspection representation of an entry. Events
// are summarized by count; the payloads travel through harvest.
type entryView struct {
	CorrelationID  string          `json:"correlation_id"`
	InstanceID     string          `json:"instance_id"`
	Kind           string          `json:"kind"`
	State          string          `json:"state"`
	IsSubscription bool            `json:"is_subscription"`
	EventCount     int             `json:"event_count"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func viewOf(entry *mailbox.Entry) entryView {
	return entryView{
		CorrelationID:  entry.CorrelationID,
		InstanceID:     entry.InstanceID,
		Kind:           entry.Kind,
		State:          string(entry.State),
		IsSubscription: entry.IsSubscription,
		EventCount:     entry.EventCount,
		Result:         entry.Result,
		Error:          entry.Error,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
	}
}

// handleListInstances returns every configured instance and its connection
// state.
func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": s.relay.Instances(),
	})
}

// handleCall relays one message to an instance and blocks until it
// resolves or times out.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance")

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Kind == "" {
		writeBadRequest(w, "kind is required")
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	result, err := s.relay.Call(r.Context(), instanceID, req.Kind, req.Payload, timeout)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result": result,
	})
}

// handleSubscribe opens a subscription on an instance and returns the
// correlation id used to harvest it later.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance")

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Kind == "" {
		writeBadRequest(w, "kind is required")
		return
	}

	correlation, err := s.relay.Subscribe(r.Context(), instanceID, req.Kind, req.Payload)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"correlation_id": correlation,
	})
}

// handleHarvest finalizes a subscription and returns its accumulated
// events. The subscription must belong to the instance in the path.
func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance")
	correlation := chi.URLParam(r, "correlation")

	entry, err := s.relay.Lookup(r.Context(), correlation)
	if err != nil {
		writeRelayError(w, err)
		return
	}
	if entry.InstanceID != instanceID {
		writeNotFound(w, "subscription not found on this instance")
		return
	}

	events, err := s.relay.Harvest(r.Context(), correlation)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleGetMailboxEntry returns the current state of a mailbox entry.
func (s *Server) handleGetMailboxEntry(w http.ResponseWriter, r *http.Request) {
	correlation := chi.URLParam(r, "correlation")

	entry, err := s.relay.Lookup(r.Context(), correlation)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(entry))
}
