package notify

import "time"

// Notification kinds pushed through the hub.
const (
	KindStateChanged        = "state_changed"
	KindConnectionStatus    = "connection_status"
	KindRegistryUpdated     = "registry_updated"
	KindInstanceInvalidated = "instance_invalidated"
	KindInstanceFellBack    = "instance_fell_back"
	KindInstanceSwitched    = "instance_switched"
)

// StateChangedPayload reports an entity state transition on an instance.
type StateChangedPayload struct {
	Entity     string `json:"entity"`
	Old        any    `json:"old"`
	New        any    `json:"new"`
	Timestamp  string `json:"timestamp"`
	InstanceID string `json:"instance_id"`
}

// ConnectionStatusPayload reports an instance connection transition.
type ConnectionStatusPayload struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	InstanceID string `json:"instance_id"`
}

// RegistryUpdatedPayload reports a change to an instance's device or area
// registry.
type RegistryUpdatedPayload struct {
	Kind       string `json:"kind"`
	Action     string `json:"action"`
	TargetID   string `json:"target_id"`
	InstanceID string `json:"instance_id"`
}

// InstanceEventPayload reports instance selection changes: an instance
// becoming invalid, a fallback to another instance, or an explicit switch.
type InstanceEventPayload struct {
	InstanceID string `json:"instance_id"`
	PreviousID string `json:"previous_id,omitempty"`
}

// StateChanged publishes an entity state transition.
func (h *Hub) StateChanged(instanceID, entity string, oldState, newState any) {
	h.Publish(KindStateChanged, StateChangedPayload{
		Entity:     entity,
		Old:        oldState,
		New:        newState,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		InstanceID: instanceID,
	})
}

// ConnectionStatus publishes an instance connection transition. Satisfies
// the relay's Notifier contract.
func (h *Hub) ConnectionStatus(instanceID, status, message string) {
	h.Publish(KindConnectionStatus, ConnectionStatusPayload{
		Status:     status,
		Message:    message,
		InstanceID: instanceID,
	})
}

// RegistryUpdated publishes a device/area registry change.
func (h *Hub) RegistryUpdated(instanceID, kind, action, targetID string) {
	h.Publish(KindRegistryUpdated, RegistryUpdatedPayload{
		Kind:       kind,
		Action:     action,
		TargetID:   targetID,
		InstanceID: instanceID,
	})
}

// InstanceInvalidated publishes that an instance is no longer usable.
func (h *Hub) InstanceInvalidated(instanceID string) {
	h.Publish(KindInstanceInvalidated, InstanceEventPayload{InstanceID: instanceID})
}

// InstanceFellBack publishes an automatic fallback from one instance to
// another.
func (h *Hub) InstanceFellBack(instanceID, previousID string) {
	h.Publish(KindInstanceFellBack, InstanceEventPayload{InstanceID: instanceID, PreviousID: previousID})
}

// InstanceSwitched publishes an explicit instance selection change.
func (h *Hub) InstanceSwitched(instanceID, previousID string) {
	h.Publish(KindInstanceSwitched, InstanceEventPayload{InstanceID: instanceID, PreviousID: previousID})
}
