package database

import (
	"context"
	"fmt"

	"github.com/alex65536/bracketd/internal/apperr"
	"github.com/alex65536/bracketd/internal/match"
	"github.com/alex65536/bracketd/internal/util/idgen"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ match.DB = (*DB)(nil)

type matchTx struct {
	tx *gorm.DB
}

var _ match.Tx = matchTx{}

func (d *DB) InMatchTx(ctx context.Context, f func(tx match.Tx) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(matchTx{tx: tx})
	})
}

func withPlayers(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Players", func(db *gorm.DB) *gorm.DB {
		return db.Order("slot")
	}).Preload("Players.Player")
}

func getMatch(tx *gorm.DB, id string) (match.Match, error) {
	var res []match.Match
	err := withPlayers(tx).Where("id = ?", id).Limit(1).Find(&res).Error
	if err != nil {
		return match.Match{}, fmt.Errorf("get match: %w", err)
	}
	if len(res) == 0 {
		return match.Match{}, apperr.NotFoundf("match %q not found", id)
	}
	return res[0], nil
}

func (d *DB) GetMatch(ctx context.Context, id string) (match.Match, error) {
	return getMatch(d.db.WithContext(ctx), id)
}

func (d *DB) ListMatches(ctx context.Context, tournamentID string) ([]match.Match, error) {
	var res []match.Match
	err := withPlayers(d.db.WithContext(ctx)).
		Where("tournament_id = ?", tournamentID).
		Order("round").Order("id").
		Find(&res).Error
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return res, nil
}

func (d *DB) ListAudit(ctx context.Context, matchID string) ([]match.AuditRecord, error) {
	var res []match.AuditRecord
	err := d.db.WithContext(ctx).Where("match_id = ?", matchID).Order("created_at").Order("id").Find(&res).Error
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return res, nil
}

func (t matchTx) GetMatch(id string) (match.Match, error) {
	return getMatch(t.tx, id)
}

func (t matchTx) FindMatchBySet(externalSetID string) (match.Match, bool, error) {
	var res []match.Match
	err := withPlayers(t.tx).Where("external_set_id = ?", externalSetID).Limit(1).Find(&res).Error
	if err != nil {
		return match.Match{}, false, fmt.Errorf("find match by set: %w", err)
	}
	if len(res) == 0 {
		return match.Match{}, false, nil
	}
	return res[0], true, nil
}

func (t matchTx) CreateMatch(m *match.Match) error {
	if err := t.tx.Create(m).Error; err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

func (t matchTx) UpsertPlayer(p *match.Player) error {
	if p.ID == "" {
		p.ID = idgen.ID()
	}
	err := t.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_entrant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	var stored match.Player
	if err := t.tx.Where("external_entrant_id = ?", p.ExternalEntrantID).First(&stored).Error; err != nil {
		return fmt.Errorf("reload player: %w", err)
	}
	*p = stored
	return nil
}

func (t matchTx) SetStateIf(id string, from []match.State, to match.State) (bool, error) {
	res := t.tx.Model(&match.Match{}).
		Where("id = ? AND state IN ?", id, from).
		Update("state", to)
	if res.Error != nil {
		return false, fmt.Errorf("guarded state update: %w", res.Error)
	}
	return res.RowsAffected != 0, nil
}

func (t matchTx) UpdatePlayerResult(matchPlayerID string, score *int, isWinner *bool) error {
	res := t.tx.Model(&match.MatchPlayer{}).
		Where("id = ?", matchPlayerID).
		Updates(map[string]any{
			"reported_score": score,
			"is_winner":      isWinner,
		})
	if res.Error != nil {
		return fmt.Errorf("update match player: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("match player %q not found", matchPlayerID)
	}
	return nil
}

func (t matchTx) SaveReport(r *match.Report) error {
	if r.ID == "" {
		r.ID = idgen.ID()
	}
	err := t.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}, {Name: "reporter_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"winner_id", "score1", "score2", "updated_at"}),
	}).Create(r).Error
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	var stored match.Report
	err = t.tx.Where("match_id = ? AND reporter_id = ?", r.MatchID, r.ReporterID).First(&stored).Error
	if err != nil {
		return fmt.Errorf("reload report: %w", err)
	}
	*r = stored
	return nil
}

func (t matchTx) ListReports(matchID string) ([]match.Report, error) {
	var res []match.Report
	if err := t.tx.Where("match_id = ?", matchID).Order("updated_at").Find(&res).Error; err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return res, nil
}

func (t matchTx) InsertAudit(a *match.AuditRecord) error {
	if err := t.tx.Create(a).Error; err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}
