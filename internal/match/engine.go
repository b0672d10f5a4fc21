package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alex65536/bracketd/internal/apperr"
	"github.com/alex65536/bracketd/internal/feed"
	"github.com/alex65536/bracketd/internal/util/clone"
	"github.com/alex65536/bracketd/internal/util/idgen"
	"github.com/alex65536/bracketd/internal/util/sliceutil"
	"github.com/alex65536/bracketd/internal/util/timeutil"
	"gorm.io/datatypes"
)

// Tx is a datastore transaction. Any error returned from the function passed
// to DB.InMatchTx rolls back every write made through Tx.
type Tx interface {
	GetMatch(id string) (Match, error)
	FindMatchBySet(externalSetID string) (Match, bool, error)
	CreateMatch(m *Match) error
	UpsertPlayer(p *Player) error
	// SetStateIf moves the match to state to only if its current state is one
	// of from. It reports whether the row was updated.
	SetStateIf(id string, from []State, to State) (bool, error)
	UpdatePlayerResult(matchPlayerID string, score *int, isWinner *bool) error
	SaveReport(r *Report) error
	ListReports(matchID string) ([]Report, error)
	InsertAudit(a *AuditRecord) error
}

type DB interface {
	InMatchTx(ctx context.Context, f func(tx Tx) error) error
	GetMatch(ctx context.Context, id string) (Match, error)
	ListMatches(ctx context.Context, tournamentID string) ([]Match, error)
	ListAudit(ctx context.Context, matchID string) ([]AuditRecord, error)
}

type Notifier interface {
	Publish(ev feed.Event)
}

type Engine struct {
	log      *slog.Logger
	db       DB
	notifier Notifier
}

// NewEngine creates the match lifecycle engine. notifier may be nil.
func NewEngine(log *slog.Logger, db DB, notifier Notifier) *Engine {
	return &Engine{
		log:      log,
		db:       db,
		notifier: notifier,
	}
}

func (e *Engine) Get(ctx context.Context, matchID string) (Match, error) {
	return e.db.GetMatch(ctx, matchID)
}

func (e *Engine) List(ctx context.Context, tournamentID string) ([]Match, error) {
	return e.db.ListMatches(ctx, tournamentID)
}

func (e *Engine) Audit(ctx context.Context, matchID string) ([]AuditRecord, error) {
	if _, err := e.db.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	return e.db.ListAudit(ctx, matchID)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func validateScores(score1, score2 int) error {
	if score1 < 0 || score2 < 0 {
		return apperr.Validationf("scores must be non-negative")
	}
	if score1 == 0 && score2 == 0 {
		return apperr.Validationf("at least one score must be positive")
	}
	return nil
}

func validateWinner(m *Match, winnerID string, score1, score2 int) error {
	winner := m.Participant(winnerID)
	if winner == nil {
		return apperr.Validationf("winner %q does not take part in match %q", winnerID, m.ID)
	}
	own, other := score1, score2
	if winner.Slot == 2 {
		own, other = score2, score1
	}
	if own <= other {
		return apperr.Validationf("winner must have the higher score")
	}
	return nil
}

func participant(m *Match, playerID string) (*MatchPlayer, *MatchPlayer, error) {
	p := m.Participant(playerID)
	if p == nil {
		return nil, nil, apperr.NotFoundf("player %q does not take part in match %q", playerID, m.ID)
	}
	opp := m.Opponent(playerID)
	if opp == nil {
		return nil, nil, fmt.Errorf("match %q has no opponent for %q", m.ID, playerID)
	}
	return p, opp, nil
}

// applyResult stores the result on both players. scores is indexed by slot.
func applyResult(tx Tx, m *Match, winnerSlot int, scores [2]*int) error {
	for i := range m.Players {
		p := &m.Players[i]
		if p.Slot < 1 || p.Slot > 2 {
			return fmt.Errorf("bad slot %v for match player %q", p.Slot, p.ID)
		}
		score := clone.TrivialPtr(scores[p.Slot-1])
		isWinner := boolPtr(p.Slot == winnerSlot)
		if err := tx.UpdatePlayerResult(p.ID, score, isWinner); err != nil {
			return fmt.Errorf("update player: %w", err)
		}
		p.ReportedScore = score
		p.IsWinner = isWinner
	}
	return nil
}

// moveState is a compare-and-swap from the state observed in m.
func moveState(tx Tx, m *Match, to State) error {
	ok, err := tx.SetStateIf(m.ID, []State{m.State}, to)
	if err != nil {
		return fmt.Errorf("update match state: %w", err)
	}
	if !ok {
		return apperr.Conflictf("match %q was changed by another writer", m.ID)
	}
	m.State = to
	return nil
}

func writeAudit(tx Tx, action, actorID, reason string, before, after *Match) error {
	b, err := json.Marshal(snapshotOf(before))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	a, err := json.Marshal(snapshotOf(after))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	err = tx.InsertAudit(&AuditRecord{
		ID:      idgen.ID(),
		MatchID: before.ID,
		Action:  action,
		ActorID: actorID,
		Reason:  reason,
		Before:  datatypes.JSON(b),
		After:   datatypes.JSON(a),
	})
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (e *Engine) publish(kind, actorID string, before State, m *Match) {
	if e.notifier == nil || before == m.State {
		return
	}
	e.notifier.Publish(feed.Event{
		Kind:         kind,
		TournamentID: m.TournamentID,
		MatchID:      m.ID,
		From:         string(before),
		To:           string(m.State),
		ActorID:      actorID,
		At:           timeutil.NowUTC(),
	})
}

// Report records a result claimed by reporterID. The first report moves the
// match to PendingConfirmation; a second report from the opponent completes
// the match if both agree and disputes it otherwise.
func (e *Engine) Report(ctx context.Context, matchID, reporterID, winnerID string, score1, score2 int) (Match, error) {
	if err := validateScores(score1, score2); err != nil {
		return Match{}, err
	}
	var m Match
	var before State
	err := e.db.InMatchTx(ctx, func(tx Tx) error {
		var err error
		m, err = tx.GetMatch(matchID)
		if err != nil {
			return err
		}
		orig := m.Clone()
		before = m.State
		_, opp, err := participant(&m, reporterID)
		if err != nil {
			return err
		}
		if !m.State.AcceptsReports() {
			return apperr.InvalidStatef("match %q is %s", m.ID, m.State.PrettyString())
		}
		if err := validateWinner(&m, winnerID, score1, score2); err != nil {
			return err
		}

		rep := Report{
			MatchID:    m.ID,
			ReporterID: reporterID,
			WinnerID:   winnerID,
			Score1:     score1,
			Score2:     score2,
		}
		if err := tx.SaveReport(&rep); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		reports, err := tx.ListReports(m.ID)
		if err != nil {
			return fmt.Errorf("list reports: %w", err)
		}
		oppRep := sliceutil.Find(reports, func(r *Report) bool {
			return r.ReporterID == opp.PlayerID
		})

		switch {
		case oppRep == nil:
			err = moveState(tx, &m, StatePendingConfirmation)
		case oppRep.Agrees(&rep):
			if err = moveState(tx, &m, StateCompleted); err == nil {
				err = applyResult(tx, &m, m.Participant(winnerID).Slot, [2]*int{intPtr(score1), intPtr(score2)})
			}
		default:
			err = moveState(tx, &m, StateDisputed)
		}
		if err != nil {
			return err
		}
		return writeAudit(tx, ActionReport, reporterID, "", &orig, &m)
	})
	if err != nil {
		return Match{}, err
	}
	e.log.Info("match reported",
		slog.String("match_id", m.ID),
		slog.String("reporter_id", reporterID),
		slog.String("state", string(m.State)),
	)
	e.publish(ActionReport, reporterID, before, &m)
	return m, nil
}

// Confirm accepts the opponent's pending report and completes the match.
func (e *Engine) Confirm(ctx context.Context, matchID, playerID string) (Match, error) {
	var m Match
	err := e.db.InMatchTx(ctx, func(tx Tx) error {
		var err error
		m, err = tx.GetMatch(matchID)
		if err != nil {
			return err
		}
		orig := m.Clone()
		_, opp, err := participant(&m, playerID)
		if err != nil {
			return err
		}
		if m.State != StatePendingConfirmation {
			return apperr.InvalidStatef("match %q is %s, not pending confirmation", m.ID, m.State.PrettyString())
		}
		reports, err := tx.ListReports(m.ID)
		if err != nil {
			return fmt.Errorf("list reports: %w", err)
		}
		pending := sliceutil.Find(reports, func(r *Report) bool {
			return r.ReporterID == opp.PlayerID
		})
		if pending == nil {
			return apperr.InvalidStatef("no report from the opponent to confirm")
		}
		winner := m.Participant(pending.WinnerID)
		if winner == nil {
			return fmt.Errorf("pending report names unknown winner %q", pending.WinnerID)
		}
		if err := moveState(tx, &m, StateCompleted); err != nil {
			return err
		}
		scores := [2]*int{intPtr(pending.Score1), intPtr(pending.Score2)}
		if err := applyResult(tx, &m, winner.Slot, scores); err != nil {
			return err
		}
		return writeAudit(tx, ActionConfirm, playerID, "", &orig, &m)
	})
	if err != nil {
		return Match{}, err
	}
	e.log.Info("match confirmed", slog.String("match_id", m.ID), slog.String("player_id", playerID))
	e.publish(ActionConfirm, playerID, StatePendingConfirmation, &m)
	return m, nil
}

// Disqualify removes playerID from the match and awards it to the opponent.
// The state guard, both player updates and the audit record commit as one
// transaction. Losing the guard to another writer yields a conflict.
func (e *Engine) Disqualify(ctx context.Context, matchID, playerID, actorID, reason string) (Match, error) {
	var m Match
	var before State
	err := e.db.InMatchTx(ctx, func(tx Tx) error {
		var err error
		m, err = tx.GetMatch(matchID)
		if err != nil {
			return err
		}
		orig := m.Clone()
		before = m.State
		dq, opp, err := participant(&m, playerID)
		if err != nil {
			return err
		}
		ok, err := tx.SetStateIf(m.ID, NonTerminalStates(), StateDQ)
		if err != nil {
			return fmt.Errorf("update match state: %w", err)
		}
		if !ok {
			return apperr.Conflictf("match %q is already completed or disqualified", m.ID)
		}
		m.State = StateDQ
		var scores [2]*int
		scores[dq.Slot-1] = intPtr(0)
		scores[opp.Slot-1] = intPtr(2)
		if err := applyResult(tx, &m, opp.Slot, scores); err != nil {
			return err
		}
		return writeAudit(tx, ActionDisqualify, actorID, reason, &orig, &m)
	})
	if err != nil {
		return Match{}, err
	}
	e.log.Info("player disqualified",
		slog.String("match_id", m.ID),
		slog.String("player_id", playerID),
		slog.String("actor_id", actorID),
	)
	e.publish(ActionDisqualify, actorID, before, &m)
	return m, nil
}

// Resolve settles a disputed match with the result decided by an admin.
func (e *Engine) Resolve(ctx context.Context, matchID, winnerID string, score1, score2 int, actorID, reason string) (Match, error) {
	if err := validateScores(score1, score2); err != nil {
		return Match{}, err
	}
	var m Match
	err := e.db.InMatchTx(ctx, func(tx Tx) error {
		var err error
		m, err = tx.GetMatch(matchID)
		if err != nil {
			return err
		}
		orig := m.Clone()
		if err := validateWinner(&m, winnerID, score1, score2); err != nil {
			return err
		}
		if m.State != StateDisputed {
			return apperr.InvalidStatef("match %q is %s, not disputed", m.ID, m.State.PrettyString())
		}
		if err := moveState(tx, &m, StateCompleted); err != nil {
			return err
		}
		scores := [2]*int{intPtr(score1), intPtr(score2)}
		if err := applyResult(tx, &m, m.Participant(winnerID).Slot, scores); err != nil {
			return err
		}
		return writeAudit(tx, ActionResolve, actorID, reason, &orig, &m)
	})
	if err != nil {
		return Match{}, err
	}
	e.log.Info("dispute resolved", slog.String("match_id", m.ID), slog.String("actor_id", actorID))
	e.publish(ActionResolve, actorID, StateDisputed, &m)
	return m, nil
}
