package startgg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ID is an upstream object id. The API returns ids both as JSON numbers and
// as strings, depending on the field.
type ID string

func (i *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}
	if len(data) != 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("unmarshal id: %w", err)
		}
		*i = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unmarshal id: %w", err)
	}
	*i = ID(n.String())
	return nil
}

func (i ID) String() string { return string(i) }

// Timestamp is a unix time in seconds.
type Timestamp int64

func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0).UTC()
}

// TimePtr converts a nullable timestamp.
func TimePtr(t *Timestamp) *time.Time {
	if t == nil {
		return nil
	}
	v := t.Time()
	return &v
}

const (
	TournamentCreated   = 1
	TournamentActive    = 2
	TournamentCompleted = 3
)

const (
	SetCreated   = 1
	SetActive    = 2
	SetCompleted = 3
	SetReady     = 4
	SetInvalid   = 5
	SetCalled    = 6
	SetQueued    = 7
)

type Owner struct {
	ID ID `json:"id"`
}

type Event struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	State       string `json:"state"`
	NumEntrants int    `json:"numEntrants"`
}

type Tournament struct {
	ID                   ID         `json:"id"`
	Slug                 string     `json:"slug"`
	Name                 string     `json:"name"`
	State                int        `json:"state"`
	IsRegistrationOpen   bool       `json:"isRegistrationOpen"`
	RegistrationClosesAt *Timestamp `json:"registrationClosesAt"`
	StartAt              *Timestamp `json:"startAt"`
	EndAt                *Timestamp `json:"endAt"`
	Owner                *Owner     `json:"owner"`
	Events               []Event    `json:"events"`
}

type Entrant struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type Score struct {
	// Negative values mark a disqualification.
	Value *float64 `json:"value"`
}

type Standing struct {
	Stats struct {
		Score Score `json:"score"`
	} `json:"stats"`
}

type Slot struct {
	Entrant  *Entrant  `json:"entrant"`
	Standing *Standing `json:"standing"`
}

// Score returns the reported game count of the slot, or nil if unknown.
func (s *Slot) Score() *int {
	if s.Standing == nil || s.Standing.Stats.Score.Value == nil {
		return nil
	}
	v := int(*s.Standing.Stats.Score.Value)
	return &v
}

type Set struct {
	ID            ID     `json:"id"`
	Round         int    `json:"round"`
	FullRoundText string `json:"fullRoundText"`
	State         int    `json:"state"`
	WinnerID      *ID    `json:"winnerId"`
	Slots         []Slot `json:"slots"`
}

type PageInfo struct {
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
}

type EntrantPage struct {
	PageInfo PageInfo  `json:"pageInfo"`
	Nodes    []Entrant `json:"nodes"`
}

type setPage struct {
	PageInfo PageInfo `json:"pageInfo"`
	Nodes    []Set    `json:"nodes"`
}

type tournamentPage struct {
	PageInfo PageInfo     `json:"pageInfo"`
	Nodes    []Tournament `json:"nodes"`
}
