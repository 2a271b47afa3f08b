package actor

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateStarting, StateBuilding, true},
		{StateBuilding, StateReady, true},
		{StateBuilding, StateRestarting, true},
		{StateReady, StateRestarting, true},
		{StateRestarting, StateBackoff, true},
		{StateBackoff, StateBuilding, true},
		{StateReady, StateStopped, true},
		{StateReady, StateBuilding, false},
		{StateBackoff, StateReady, false},
		{StateStopped, StateBuilding, false},
		{StateStarting, StateReady, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	st := Status{State: StateReady, Generation: 3, Restarts: 2, Since: time.Unix(0, 0).UTC()}
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["state"] != "ready" {
		t.Errorf("expected state ready, got %v", decoded["state"])
	}
}

func TestTransition_Validate(t *testing.T) {
	if err := NewTransition(StateBuilding, StateReady, "").Validate(); err != nil {
		t.Errorf("expected valid transition, got %v", err)
	}
	err := NewTransition(StateBackoff, StateReady, "").Validate()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err.Error() != "invalid state transition: backoff -> ready" {
		t.Errorf("unexpected message %q", err)
	}
}
