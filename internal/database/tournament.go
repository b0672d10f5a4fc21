package database

import (
	"context"
	"fmt"
	"time"

	"github.com/alex65536/bracketd/internal/apperr"
	"github.com/alex65536/bracketd/internal/tournament"
	"github.com/alex65536/bracketd/internal/util/idgen"
	"gorm.io/gorm/clause"
)

func (d *DB) GetTournament(ctx context.Context, id string) (tournament.Tournament, error) {
	var res []tournament.Tournament
	err := d.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&res).Error
	if err != nil {
		return tournament.Tournament{}, fmt.Errorf("get tournament: %w", err)
	}
	if len(res) == 0 {
		return tournament.Tournament{}, apperr.NotFoundf("tournament %q not found", id)
	}
	return res[0], nil
}

func (d *DB) FindTournamentBySlug(ctx context.Context, slug string) (tournament.Tournament, bool, error) {
	var res []tournament.Tournament
	err := d.db.WithContext(ctx).Where("slug = ?", slug).Limit(1).Find(&res).Error
	if err != nil {
		return tournament.Tournament{}, false, fmt.Errorf("find tournament: %w", err)
	}
	if len(res) == 0 {
		return tournament.Tournament{}, false, nil
	}
	return res[0], true, nil
}

func (d *DB) ListTournaments(ctx context.Context) ([]tournament.Tournament, error) {
	var res []tournament.Tournament
	if err := d.db.WithContext(ctx).Order("created_at").Find(&res).Error; err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	return res, nil
}

// ListTrackedTournaments returns tracked tournaments that are not in a
// terminal state.
func (d *DB) ListTrackedTournaments(ctx context.Context) ([]tournament.Tournament, error) {
	var res []tournament.Tournament
	err := d.db.WithContext(ctx).
		Where("tracked = ? AND state NOT IN ?", true,
			[]tournament.State{tournament.StateCompleted, tournament.StateCancelled}).
		Find(&res).Error
	if err != nil {
		return nil, fmt.Errorf("list tracked tournaments: %w", err)
	}
	return res, nil
}

// SaveTournament inserts t or refreshes the metadata of the row with the same
// slug. The state and tracking flag of an existing row are left alone; they
// only change through SetTournamentStateIf and SetTracked. On return t holds
// the stored row.
func (d *DB) SaveTournament(ctx context.Context, t *tournament.Tournament) error {
	if t.ID == "" {
		t.ID = idgen.ID()
	}
	db := d.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "external_id", "owner_id", "event_ids", "start_at", "updated_at",
		}),
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("save tournament: %w", err)
	}
	var stored tournament.Tournament
	if err := db.Where("slug = ?", t.Slug).First(&stored).Error; err != nil {
		return fmt.Errorf("reload tournament: %w", err)
	}
	*t = stored
	return nil
}

func (d *DB) SetTournamentStateIf(ctx context.Context, id string, from []tournament.State, to tournament.State) (bool, error) {
	res := d.db.WithContext(ctx).Model(&tournament.Tournament{}).
		Where("id = ? AND state IN ?", id, from).
		Update("state", to)
	if res.Error != nil {
		return false, fmt.Errorf("guarded state update: %w", res.Error)
	}
	return res.RowsAffected != 0, nil
}

func (d *DB) SetTracked(ctx context.Context, id string, tracked bool) error {
	res := d.db.WithContext(ctx).Model(&tournament.Tournament{}).Where("id = ?", id).Update("tracked", tracked)
	if res.Error != nil {
		return fmt.Errorf("set tracked: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("tournament %q not found", id)
	}
	return nil
}

func (d *DB) MarkPolled(ctx context.Context, id string, at time.Time) error {
	res := d.db.WithContext(ctx).Model(&tournament.Tournament{}).Where("id = ?", id).Update("last_polled_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("mark polled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("tournament %q not found", id)
	}
	return nil
}
