package match

type State string

const (
	StateNotStarted          State = "not_started"
	StateCalled              State = "called"
	StateCheckedIn           State = "checked_in"
	StateInProgress          State = "in_progress"
	StatePendingConfirmation State = "pending_confirmation"
	StateCompleted           State = "completed"
	StateDisputed            State = "disputed"
	StateDQ                  State = "dq"
)

var stateRank = map[State]int{
	StateNotStarted:          0,
	StateCalled:              1,
	StateCheckedIn:           2,
	StateInProgress:          3,
	StatePendingConfirmation: 4,
	StateDisputed:            5,
	StateCompleted:           6,
	StateDQ:                  6,
}

func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// IsTerminal reports whether no further score mutation is allowed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateDQ
}

// AcceptsReports reports whether players may still report or confirm.
func (s State) AcceptsReports() bool {
	return s.Valid() && !s.IsTerminal() && s != StateDisputed
}

func (s State) PrettyString() string {
	switch s {
	case StateNotStarted:
		return "Not started"
	case StateCalled:
		return "Called"
	case StateCheckedIn:
		return "Checked in"
	case StateInProgress:
		return "In progress"
	case StatePendingConfirmation:
		return "Pending confirmation"
	case StateCompleted:
		return "Completed"
	case StateDisputed:
		return "Disputed"
	case StateDQ:
		return "DQ"
	default:
		return "?"
	}
}

// NonTerminalStates lists every state a match may be disqualified from.
func NonTerminalStates() []State {
	return []State{
		StateNotStarted,
		StateCalled,
		StateCheckedIn,
		StateInProgress,
		StatePendingConfirmation,
		StateDisputed,
	}
}

// Upstream set activity states.
const (
	UpstreamCreated   = 1
	UpstreamActive    = 2
	UpstreamCompleted = 3
	UpstreamReady     = 4
	UpstreamInvalid   = 5
	UpstreamCalled    = 6
	UpstreamQueued    = 7
)

// FromUpstream maps an upstream set state to a match state. Unknown and
// invalid states are reported as not ok. A created set still needs both
// entrants before it is ingested.
func FromUpstream(state int) (State, bool) {
	switch state {
	case UpstreamCreated, UpstreamReady, UpstreamQueued:
		return StateNotStarted, true
	case UpstreamCalled:
		return StateCalled, true
	case UpstreamActive:
		return StateInProgress, true
	case UpstreamCompleted:
		return StateCompleted, true
	default:
		return "", false
	}
}
