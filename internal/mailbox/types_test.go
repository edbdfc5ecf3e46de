package mailbox

import "testing"

func TestState_Valid(t *testing.T) {
	valid := []State{
		StatePending, StateProcessing, StateSubscribed,
		StateCollecting, StateDone, StateFailed, StateTimeout,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("state %q should be valid", s)
		}
	}

	if State("cancelled").Valid() {
		t.Error("unknown state should not be valid")
	}
	if State("").Valid() {
		t.Error("empty state should not be valid")
	}
}

func TestState_Terminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StatePending, false},
		{StateProcessing, false},
		{StateSubscribed, false},
		{StateCollecting, false},
		{StateDone, true},
		{StateFailed, true},
		{StateTimeout, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("State(%q).Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestState_Collecting(t *testing.T) {
	if !StateSubscribed.Collecting() {
		t.Error("subscribed should accept events")
	}
	if !StateCollecting.Collecting() {
		t.Error("collecting should accept events")
	}
	if StateProcessing.Collecting() {
		t.Error("processing should not accept events")
	}
	if StateDone.Collecting() {
		t.Error("done should not accept events")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StatePending, StateProcessing, true},
		{StatePending, StateDone, false},
		{StatePending, StateSubscribed, false},
		{StateProcessing, StateDone, true},
		{StateProcessing, StateFailed, true},
		{StateProcessing, StateTimeout, true},
		{StateProcessing, StateSubscribed, true},
		{StateProcessing, StatePending, false},
		{StateSubscribed, StateCollecting, true},
		{StateSubscribed, StateDone, true},
		{StateCollecting, StateDone, true},
		{StateCollecting, StateSubscribed, false},
		{StateDone, StateProcessing, false},
		{StateFailed, StatePending, false},
		{StateTimeout, StateDone, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}
