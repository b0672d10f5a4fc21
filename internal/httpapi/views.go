package httpapi

import (
	"encoding/json"
	"time"

	"github.com/alex65536/bracketd/internal/match"
	"github.com/alex65536/bracketd/internal/poll"
	"github.com/alex65536/bracketd/internal/tournament"
)

type tournamentView struct {
	ID           string           `json:"id"`
	Slug         string           `json:"slug"`
	Name         string           `json:"name"`
	ExternalID   string           `json:"external_id,omitempty"`
	OwnerID      string           `json:"owner_id,omitempty"`
	State        tournament.State `json:"state"`
	EventIDs     []string         `json:"event_ids"`
	Tracked      bool             `json:"tracked"`
	StartAt      *time.Time       `json:"start_at,omitempty"`
	LastPolledAt *time.Time       `json:"last_polled_at,omitempty"`
}

func viewTournament(t *tournament.Tournament) tournamentView {
	events := t.EventIDs
	if events == nil {
		events = []string{}
	}
	return tournamentView{
		ID:           t.ID,
		Slug:         t.Slug,
		Name:         t.Name,
		ExternalID:   t.ExternalID,
		OwnerID:      t.OwnerID,
		State:        t.State,
		EventIDs:     events,
		Tracked:      t.Tracked,
		StartAt:      t.StartAt,
		LastPolledAt: t.LastPolledAt,
	}
}

type playerView struct {
	Slot          int    `json:"slot"`
	PlayerID      string `json:"player_id"`
	Name          string `json:"name,omitempty"`
	ReportedScore *int   `json:"reported_score"`
	IsWinner      *bool  `json:"is_winner"`
}

type matchView struct {
	ID            string       `json:"id"`
	TournamentID  string       `json:"tournament_id"`
	EventID       string       `json:"event_id"`
	ExternalSetID string       `json:"external_set_id"`
	Round         int          `json:"round"`
	FullRoundText string       `json:"full_round_text,omitempty"`
	State         match.State  `json:"state"`
	Players       []playerView `json:"players"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func viewMatch(m *match.Match) matchView {
	players := make([]playerView, len(m.Players))
	for i, p := range m.Players {
		players[i] = playerView{
			Slot:          p.Slot,
			PlayerID:      p.PlayerID,
			ReportedScore: p.ReportedScore,
			IsWinner:      p.IsWinner,
		}
		if p.Player != nil {
			players[i].Name = p.Player.Name
		}
	}
	return matchView{
		ID:            m.ID,
		TournamentID:  m.TournamentID,
		EventID:       m.EventID,
		ExternalSetID: m.ExternalSetID,
		Round:         m.Round,
		FullRoundText: m.FullRoundText,
		State:         m.State,
		Players:       players,
		UpdatedAt:     m.UpdatedAt,
	}
}

type auditView struct {
	Action  string          `json:"action"`
	ActorID string          `json:"actor_id,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Before  json.RawMessage `json:"before,omitempty"`
	After   json.RawMessage `json:"after,omitempty"`
	At      time.Time       `json:"at"`
}

func viewAudit(r *match.AuditRecord) auditView {
	return auditView{
		Action:  r.Action,
		ActorID: r.ActorID,
		Reason:  r.Reason,
		Before:  json.RawMessage(r.Before),
		After:   json.RawMessage(r.After),
		At:      r.CreatedAt,
	}
}

type pollStatusView struct {
	LastPolledAt *time.Time `json:"last_polled_at"`
	IntervalMS   *int64     `json:"interval_ms"`
	NextPollAt   *time.Time `json:"next_poll_at"`
}

func viewPollStatus(st poll.Status) pollStatusView {
	v := pollStatusView{
		LastPolledAt: st.LastPolledAt,
		NextPollAt:   st.NextPollAt,
	}
	if st.Interval != nil {
		ms := st.Interval.Milliseconds()
		v.IntervalMS = &ms
	}
	return v
}

type jobView struct {
	TournamentID string    `json:"tournament_id"`
	NextPollAt   time.Time `json:"next_poll_at"`
	IntervalMS   int64     `json:"interval_ms"`
	Running      bool      `json:"running"`
}

func viewJob(j poll.JobInfo) jobView {
	return jobView{
		TournamentID: j.TournamentID,
		NextPollAt:   j.NextPollAt,
		IntervalMS:   j.Interval.Milliseconds(),
		Running:      j.Running,
	}
}
