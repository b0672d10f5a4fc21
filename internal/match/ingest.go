package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alex65536/bracketd/internal/apperr"
	"github.com/alex65536/bracketd/internal/util/idgen"
	"github.com/alex65536/bracketd/internal/util/slogx"
)

type EntrantUpdate struct {
	ExternalID string
	Name       string
	// Nil if unknown. Negative means the entrant was disqualified upstream.
	Score *int
}

// SetUpdate is one upstream set as seen by a sync.
type SetUpdate struct {
	ExternalSetID   string
	EventID         string
	Round           int
	FullRoundText   string
	UpstreamState   int
	WinnerEntrantID string
	Entrants        [2]EntrantUpdate
}

func (u *SetUpdate) ready() bool {
	return u.Entrants[0].ExternalID != "" && u.Entrants[1].ExternalID != ""
}

type upstreamResult struct {
	winnerSlot int
	scores     [2]*int
	dq         bool
}

// result derives the final outcome of a completed set. It reports false if
// the winner cannot be determined.
func (u *SetUpdate) result() (upstreamResult, bool) {
	var res upstreamResult
	for i, en := range u.Entrants {
		if u.WinnerEntrantID != "" && en.ExternalID == u.WinnerEntrantID {
			res.winnerSlot = i + 1
		}
		if en.Score != nil && *en.Score < 0 {
			res.dq = true
		}
	}
	s1, s2 := u.Entrants[0].Score, u.Entrants[1].Score
	if res.winnerSlot == 0 && s1 != nil && s2 != nil && *s1 != *s2 {
		res.winnerSlot = 1
		if *s2 > *s1 {
			res.winnerSlot = 2
		}
	}
	if res.winnerSlot == 0 {
		return upstreamResult{}, false
	}
	if res.dq {
		res.scores[res.winnerSlot-1] = intPtr(2)
		res.scores[2-res.winnerSlot] = intPtr(0)
	} else {
		res.scores = [2]*int{s1, s2}
	}
	return res, true
}

type IngestStats struct {
	Created   int
	Advanced  int
	Completed int
	Unchanged int
	Skipped   int
	Conflicts int
}

func (s IngestStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("created", s.Created),
		slog.Int("advanced", s.Advanced),
		slog.Int("completed", s.Completed),
		slog.Int("unchanged", s.Unchanged),
		slog.Int("skipped", s.Skipped),
		slog.Int("conflicts", s.Conflicts),
	)
}

type ingestOutcome int

const (
	outcomeUnchanged ingestOutcome = iota
	outcomeSkipped
	outcomeCreated
	outcomeAdvanced
	outcomeCompleted
	outcomeConflict
)

func (s *IngestStats) add(o ingestOutcome) {
	switch o {
	case outcomeUnchanged:
		s.Unchanged++
	case outcomeSkipped:
		s.Skipped++
	case outcomeCreated:
		s.Created++
	case outcomeAdvanced:
		s.Advanced++
	case outcomeCompleted:
		s.Completed++
	case outcomeConflict:
		s.Conflicts++
	}
}

// Ingest reconciles upstream sets with local matches. Each set is applied in
// its own transaction. Local state never moves backwards, and a local DQ or
// completion is never overwritten. Per-set failures are joined into the
// returned error; the rest of the sets are still applied.
func (e *Engine) Ingest(ctx context.Context, tournamentID string, sets []SetUpdate) (IngestStats, error) {
	var stats IngestStats
	var errs []error
	for i := range sets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		su := &sets[i]
		outcome, err := e.ingestOne(ctx, tournamentID, su)
		if err != nil {
			e.log.Warn("could not ingest set",
				slog.String("tournament_id", tournamentID),
				slog.String("set_id", su.ExternalSetID),
				slogx.Err(err),
			)
			errs = append(errs, fmt.Errorf("set %q: %w", su.ExternalSetID, err))
			continue
		}
		stats.add(outcome)
	}
	return stats, errors.Join(errs...)
}

func (e *Engine) ingestOne(ctx context.Context, tournamentID string, su *SetUpdate) (ingestOutcome, error) {
	to, ok := FromUpstream(su.UpstreamState)
	if !ok || !su.ready() {
		return outcomeSkipped, nil
	}
	var res upstreamResult
	if to == StateCompleted {
		if res, ok = su.result(); !ok {
			// Finished upstream without a usable result; treat as still running.
			to = StateInProgress
		} else if res.dq {
			to = StateDQ
		}
	}

	var (
		m       Match
		before  State
		outcome ingestOutcome
	)
	err := e.db.InMatchTx(ctx, func(tx Tx) error {
		var (
			found bool
			err   error
		)
		m, found, err = tx.FindMatchBySet(su.ExternalSetID)
		if err != nil {
			return fmt.Errorf("find match: %w", err)
		}
		if !found {
			outcome = outcomeCreated
			return e.createFromSet(tx, &m, tournamentID, su, to, res)
		}
		before = m.State
		orig := m.Clone()
		switch {
		case m.State.IsTerminal():
			outcome = outcomeUnchanged
			return nil
		case to.IsTerminal():
			outcome = outcomeCompleted
			if err := moveState(tx, &m, to); err != nil {
				return err
			}
			if err := applyResult(tx, &m, res.winnerSlot, res.scores); err != nil {
				return err
			}
			return writeAudit(tx, ActionSync, "", "", &orig, &m)
		case m.State == StatePendingConfirmation || m.State == StateDisputed:
			outcome = outcomeUnchanged
			return nil
		case stateRank[to] > stateRank[m.State]:
			outcome = outcomeAdvanced
			return moveState(tx, &m, to)
		default:
			outcome = outcomeUnchanged
			return nil
		}
	})
	if apperr.Is(err, apperr.KindConflict) {
		return outcomeConflict, nil
	}
	if err != nil {
		return 0, err
	}
	switch outcome {
	case outcomeCreated:
		e.publish("match_created", "", "", &m)
	case outcomeAdvanced, outcomeCompleted:
		e.publish(ActionSync, "", before, &m)
	}
	return outcome, nil
}

func (e *Engine) createFromSet(tx Tx, m *Match, tournamentID string, su *SetUpdate, to State, res upstreamResult) error {
	*m = Match{
		ID:            idgen.ID(),
		TournamentID:  tournamentID,
		EventID:       su.EventID,
		ExternalSetID: su.ExternalSetID,
		Round:         su.Round,
		FullRoundText: su.FullRoundText,
		State:         to,
	}
	for i, en := range su.Entrants {
		p := Player{
			ExternalEntrantID: en.ExternalID,
			Name:              en.Name,
		}
		if err := tx.UpsertPlayer(&p); err != nil {
			return fmt.Errorf("upsert player: %w", err)
		}
		mp := MatchPlayer{
			ID:       idgen.ID(),
			MatchID:  m.ID,
			Slot:     i + 1,
			PlayerID: p.ID,
		}
		if to.IsTerminal() {
			mp.ReportedScore = res.scores[i]
			mp.IsWinner = boolPtr(res.winnerSlot == i+1)
		}
		m.Players = append(m.Players, mp)
	}
	if err := tx.CreateMatch(m); err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}
