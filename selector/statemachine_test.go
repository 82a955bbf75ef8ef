package selector

import (
	"errors"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		to    State
		valid bool
	}{
		{"received to candidates", Received, CandidatesFound, true},
		{"received to failed", Received, Failed, true},
		{"candidates to scored", CandidatesFound, Scored, true},
		{"scored to reserved", Scored, Reserved, true},
		{"scored straight to spawning", Scored, Spawning, true},
		{"reserved to assigned", Reserved, Assigned, true},
		{"reserved to spawning", Reserved, Spawning, true},
		{"spawning to partial", Spawning, PartiallyAssigned, true},
		{"spawning to failed", Spawning, Failed, true},
		{"received cannot skip to assigned", Received, Assigned, false},
		{"assigned is terminal", Assigned, Received, false},
		{"failed is terminal", Failed, Spawning, false},
		{"partial is terminal", PartiallyAssigned, Assigned, false},
	}

	var sm stateMachine
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tt.from
			err := sm.transition(&state, tt.to)
			if tt.valid {
				if err != nil {
					t.Fatalf("expected valid transition, got %v", err)
				}
				if state != tt.to {
					t.Errorf("state not advanced, got %s", state)
				}

				return
			}
			if !errors.Is(err, ErrInvalidStateTransition) {
				t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
			}
			if state != tt.from {
				t.Errorf("state must not move on invalid transition, got %s", state)
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{Assigned, PartiallyAssigned, Failed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []State{Received, CandidatesFound, Scored, Reserved, Spawning} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}
