package selector

import "errors"

var ErrInvalidStateTransition = errors.New("invalid request state transition")

// State tracks the phases a single acquisition request moves through.
type State uint8

const (
	Received State = iota
	CandidatesFound
	Scored
	Reserved
	Spawning
	Assigned
	PartiallyAssigned
	Failed
)

func (s State) String() string {
	switch s {
	case Received:
		return "Received"
	case CandidatesFound:
		return "CandidatesFound"
	case Scored:
		return "Scored"
	case Reserved:
		return "Reserved"
	case Spawning:
		return "Spawning"
	case Assigned:
		return "Assigned"
	case PartiallyAssigned:
		return "PartiallyAssigned"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state ends a request.
func (s State) Terminal() bool {
	return s == Assigned || s == PartiallyAssigned || s == Failed
}

type stateMachine struct{}

func (sm stateMachine) validTransition(from, to State) bool {
	validTransitions := map[State][]State{
		Received:          {CandidatesFound, Failed},
		CandidatesFound:   {Scored, Failed},
		Scored:            {Reserved, Spawning, Failed},
		Reserved:          {Spawning, Assigned, PartiallyAssigned, Failed},
		Spawning:          {Assigned, PartiallyAssigned, Failed},
		Assigned:          {}, // Terminal state
		PartiallyAssigned: {}, // Terminal state
		Failed:            {}, // Terminal state
	}

	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}

	return false
}

func (sm stateMachine) transition(current *State, to State) error {
	if !sm.validTransition(*current, to) {
		return ErrInvalidStateTransition
	}
	*current = to

	return nil
}
