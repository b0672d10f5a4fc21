package poll

import (
	"fmt"
	"time"

	"github.com/alex65536/bracketd/internal/tournament"
)

// Intervals are the poll periods per tournament lifecycle tier.
type Intervals struct {
	InProgress       time.Duration `toml:"in-progress"`
	RegistrationOpen time.Duration `toml:"registration-open"`
	// Created and RegistrationClosed tournaments.
	Idle time.Duration `toml:"idle"`
}

func (i *Intervals) FillDefaults() {
	if i.InProgress == 0 {
		i.InProgress = 15 * time.Second
	}
	if i.RegistrationOpen == 0 {
		i.RegistrationOpen = 60 * time.Second
	}
	if i.Idle == 0 {
		i.Idle = 300 * time.Second
	}
}

func (i *Intervals) Validate() error {
	if i.InProgress < 0 || i.RegistrationOpen < 0 || i.Idle < 0 {
		return fmt.Errorf("negative interval")
	}
	return nil
}

func DefaultIntervals() Intervals {
	var i Intervals
	i.FillDefaults()
	return i
}

// For returns the poll interval for a tournament in state s. It returns false
// for terminal states, which are not polled any more.
func (i Intervals) For(s tournament.State) (time.Duration, bool) {
	switch s {
	case tournament.StateInProgress:
		return i.InProgress, true
	case tournament.StateRegistrationOpen:
		return i.RegistrationOpen, true
	case tournament.StateCreated, tournament.StateRegistrationClosed:
		return i.Idle, true
	default:
		return 0, false
	}
}

// IntervalFor applies the default tiers.
func IntervalFor(s tournament.State) (time.Duration, bool) {
	return DefaultIntervals().For(s)
}
