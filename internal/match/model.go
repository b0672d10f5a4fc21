package match

import (
	"time"

	"github.com/alex65536/bracketd/internal/util/clone"
	"github.com/alex65536/bracketd/internal/util/sliceutil"
	"gorm.io/datatypes"
)

type Player struct {
	ID                string `gorm:"primaryKey"`
	ExternalEntrantID string `gorm:"uniqueIndex"`
	Name              string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Match struct {
	ID            string `gorm:"primaryKey"`
	TournamentID  string `gorm:"index"`
	EventID       string `gorm:"index"`
	ExternalSetID string `gorm:"uniqueIndex"`
	Round         int
	FullRoundText string
	State         State         `gorm:"index"`
	Players       []MatchPlayer `gorm:"foreignKey:MatchID"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m Match) Clone() Match {
	m.Players = clone.DeepSlice(m.Players)
	return m
}

// Participant returns the match player referencing playerID, or nil.
func (m *Match) Participant(playerID string) *MatchPlayer {
	return sliceutil.Find(m.Players, func(p *MatchPlayer) bool {
		return p.PlayerID == playerID
	})
}

// Opponent returns the other match player, or nil if playerID does not take
// part in the match.
func (m *Match) Opponent(playerID string) *MatchPlayer {
	if m.Participant(playerID) == nil {
		return nil
	}
	return sliceutil.Find(m.Players, func(p *MatchPlayer) bool {
		return p.PlayerID != playerID
	})
}

// Slot returns the player in the given slot (1 or 2), or nil.
func (m *Match) Slot(slot int) *MatchPlayer {
	return sliceutil.Find(m.Players, func(p *MatchPlayer) bool {
		return p.Slot == slot
	})
}

func (m *Match) Winners() int {
	n := 0
	for _, p := range m.Players {
		if p.IsWinner != nil && *p.IsWinner {
			n++
		}
	}
	return n
}

type MatchPlayer struct {
	ID            string  `gorm:"primaryKey"`
	MatchID       string  `gorm:"uniqueIndex:idx_match_slot"`
	Slot          int     `gorm:"uniqueIndex:idx_match_slot"`
	PlayerID      string  `gorm:"index"`
	Player        *Player `gorm:"foreignKey:PlayerID"`
	ReportedScore *int
	IsWinner      *bool
}

func (p MatchPlayer) Clone() MatchPlayer {
	p.Player = clone.TrivialPtr(p.Player)
	p.ReportedScore = clone.TrivialPtr(p.ReportedScore)
	p.IsWinner = clone.TrivialPtr(p.IsWinner)
	return p
}

// Report is the latest result claimed by one participant.
type Report struct {
	ID         string `gorm:"primaryKey"`
	MatchID    string `gorm:"uniqueIndex:idx_report_match_reporter"`
	ReporterID string `gorm:"uniqueIndex:idx_report_match_reporter"`
	WinnerID   string
	Score1     int
	Score2     int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Report) TableName() string { return "match_reports" }

// Agrees reports whether two reports describe the same outcome.
func (r *Report) Agrees(o *Report) bool {
	return r.WinnerID == o.WinnerID && r.Score1 == o.Score1 && r.Score2 == o.Score2
}

type AuditRecord struct {
	ID        string `gorm:"primaryKey"`
	MatchID   string `gorm:"index"`
	Action    string
	ActorID   string
	Reason    string
	Before    datatypes.JSON
	After     datatypes.JSON
	CreatedAt time.Time
}

func (AuditRecord) TableName() string { return "match_audits" }

const (
	ActionReport     = "report"
	ActionConfirm    = "confirm"
	ActionDisqualify = "disqualify"
	ActionResolve    = "resolve"
	ActionSync       = "sync"
)

type playerSnapshot struct {
	PlayerID      string `json:"player_id"`
	Slot          int    `json:"slot"`
	ReportedScore *int   `json:"reported_score"`
	IsWinner      *bool  `json:"is_winner"`
}

type snapshot struct {
	State   State            `json:"state"`
	Players []playerSnapshot `json:"players"`
}

func snapshotOf(m *Match) snapshot {
	return snapshot{
		State: m.State,
		Players: sliceutil.Map(m.Players, func(p MatchPlayer) playerSnapshot {
			return playerSnapshot{
				PlayerID:      p.PlayerID,
				Slot:          p.Slot,
				ReportedScore: p.ReportedScore,
				IsWinner:      p.IsWinner,
			}
		}),
	}
}
