package tournament

import (
	"fmt"
	"time"
)

type State string

const (
	StateCreated            State = "created"
	StateRegistrationOpen   State = "registration_open"
	StateRegistrationClosed State = "registration_closed"
	StateInProgress         State = "in_progress"
	StateCompleted          State = "completed"
	StateCancelled          State = "cancelled"
)

var stateOrder = map[State]int{
	StateCreated:            0,
	StateRegistrationOpen:   1,
	StateRegistrationClosed: 2,
	StateInProgress:         3,
	StateCompleted:          4,
	StateCancelled:          4,
}

func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

func NonTerminalStates() []State {
	return []State{StateCreated, StateRegistrationOpen, StateRegistrationClosed, StateInProgress}
}

func (s State) PrettyString() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRegistrationOpen:
		return "Registration open"
	case StateRegistrationClosed:
		return "Registration closed"
	case StateInProgress:
		return "In progress"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "?"
	}
}

// CanTransition reports whether a tournament may move from s to to. States
// only move forward through the lifecycle, except that any non-terminal state
// may be cancelled.
func (s State) CanTransition(to State) bool {
	if !s.Valid() || !to.Valid() || s == to || s.IsTerminal() {
		return false
	}
	if to == StateCancelled {
		return true
	}
	return stateOrder[to] > stateOrder[s]
}

func CheckTransition(from, to State) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("bad tournament transition %q -> %q", from, to)
	}
	return nil
}

type Tournament struct {
	ID           string `gorm:"primaryKey"`
	Slug         string `gorm:"uniqueIndex"`
	Name         string
	ExternalID   string   `gorm:"index"`
	OwnerID      string   `gorm:"index"`
	State        State    `gorm:"index"`
	EventIDs     []string `gorm:"serializer:json"`
	Tracked      bool     `gorm:"index"`
	StartAt      *time.Time
	LastPolledAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Upstream tournament states, as reported by the bracket service.
const (
	UpstreamCreated   = 1
	UpstreamActive    = 2
	UpstreamCompleted = 3
)

// FromUpstream maps an upstream tournament to a local lifecycle state.
func FromUpstream(state int, registrationOpen bool, registrationClosesAt *time.Time, now time.Time) State {
	switch {
	case state == UpstreamCompleted:
		return StateCompleted
	case state == UpstreamActive:
		return StateInProgress
	case registrationOpen:
		return StateRegistrationOpen
	case registrationClosesAt != nil && !now.Before(*registrationClosesAt):
		return StateRegistrationClosed
	default:
		return StateCreated
	}
}
