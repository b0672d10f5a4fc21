// Package mirror keeps local tournaments in step with the upstream bracket
// service. A sync refreshes the tournament row and feeds its sets into the
// match engine.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alex65536/bracketd/internal/apperr"
	"github.com/alex65536/bracketd/internal/feed"
	"github.com/alex65536/bracketd/internal/match"
	"github.com/alex65536/bracketd/internal/startgg"
	"github.com/alex65536/bracketd/internal/tournament"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/alex65536/bracketd/internal/util/timeutil"
)

type Store interface {
	GetTournament(ctx context.Context, id string) (tournament.Tournament, error)
	FindTournamentBySlug(ctx context.Context, slug string) (tournament.Tournament, bool, error)
	ListTournaments(ctx context.Context) ([]tournament.Tournament, error)
	SaveTournament(ctx context.Context, t *tournament.Tournament) error
	SetTournamentStateIf(ctx context.Context, id string, from []tournament.State, to tournament.State) (bool, error)
	SetTracked(ctx context.Context, id string, tracked bool) error
	MarkPolled(ctx context.Context, id string, at time.Time) error
}

type Scheduler interface {
	Track(ctx context.Context, id string) error
	Untrack(id string)
}

type Ingester interface {
	Ingest(ctx context.Context, tournamentID string, sets []match.SetUpdate) (match.IngestStats, error)
}

type Notifier interface {
	Publish(ev feed.Event)
}

type Options struct {
	EntrantsPerPage int            `toml:"entrants-per-page"`
	Now             timeutil.Clock `toml:"-"`
}

func (o *Options) FillDefaults() {
	if o.EntrantsPerPage == 0 {
		o.EntrantsPerPage = 64
	}
}

type Mirror struct {
	o        Options
	log      *slog.Logger
	api      startgg.API
	store    Store
	engine   Ingester
	sched    Scheduler
	notifier Notifier
}

// New creates a mirror. notifier may be nil.
func New(log *slog.Logger, api startgg.API, store Store, engine Ingester, sched Scheduler, notifier Notifier, o Options) *Mirror {
	o.FillDefaults()
	return &Mirror{
		o:        o,
		log:      log,
		api:      api,
		store:    store,
		engine:   engine,
		sched:    sched,
		notifier: notifier,
	}
}

func (m *Mirror) now() time.Time {
	return m.o.Now.Now()
}

func upstreamState(ut *startgg.Tournament, now time.Time) tournament.State {
	return tournament.FromUpstream(ut.State, ut.IsRegistrationOpen, startgg.TimePtr(ut.RegistrationClosesAt), now)
}

// refreshMeta copies upstream metadata into t. State is handled separately,
// since it only moves forward.
func refreshMeta(t *tournament.Tournament, ut *startgg.Tournament) {
	if ut.Slug != "" {
		t.Slug = ut.Slug
	}
	t.Name = ut.Name
	t.ExternalID = ut.ID.String()
	t.OwnerID = ""
	if ut.Owner != nil {
		t.OwnerID = ut.Owner.ID.String()
	}
	t.EventIDs = make([]string, len(ut.Events))
	for i, ev := range ut.Events {
		t.EventIDs[i] = ev.ID.String()
	}
	t.StartAt = startgg.TimePtr(ut.StartAt)
}

// advance moves t to the upstream state if that is a legal forward step.
// Upstream regressions are logged and ignored.
func (m *Mirror) advance(ctx context.Context, t *tournament.Tournament, to tournament.State) error {
	from := t.State
	if from == to {
		return nil
	}
	log := m.log.With(slog.String("tournament_id", t.ID))
	if !from.CanTransition(to) {
		log.Info("ignoring upstream state regression",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return nil
	}
	ok, err := m.store.SetTournamentStateIf(ctx, t.ID, []tournament.State{from}, to)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if !ok {
		log.Warn("tournament state changed concurrently, skipping state update")
		return nil
	}
	t.State = to
	log.Info("tournament state changed", slog.String("from", string(from)), slog.String("to", string(to)))
	m.publish(feed.Event{
		Kind:         "tournament_state",
		TournamentID: t.ID,
		From:         string(from),
		To:           string(to),
		At:           m.now(),
	})
	return nil
}

func (m *Mirror) publish(ev feed.Event) {
	if m.notifier != nil {
		m.notifier.Publish(ev)
	}
}

func (m *Mirror) trackUpstream(ctx context.Context, ut *startgg.Tournament) (tournament.Tournament, error) {
	to := upstreamState(ut, m.now())
	t, found, err := m.store.FindTournamentBySlug(ctx, ut.Slug)
	if err != nil {
		return tournament.Tournament{}, err
	}
	if !found {
		t = tournament.Tournament{State: to}
	}
	refreshMeta(&t, ut)
	t.Tracked = true
	if err := m.store.SaveTournament(ctx, &t); err != nil {
		return tournament.Tournament{}, err
	}
	if !t.Tracked {
		if err := m.store.SetTracked(ctx, t.ID, true); err != nil {
			return tournament.Tournament{}, err
		}
		t.Tracked = true
	}
	if err := m.advance(ctx, &t, to); err != nil {
		return tournament.Tournament{}, err
	}
	if err := m.sched.Track(ctx, t.ID); err != nil {
		return tournament.Tournament{}, fmt.Errorf("schedule: %w", err)
	}
	m.log.Info("tracking tournament",
		slog.String("tournament_id", t.ID),
		slog.String("slug", t.Slug),
		slog.String("state", string(t.State)),
	)
	return t, nil
}

// Track starts mirroring the tournament with the given upstream slug. Tracking
// an already tracked tournament only refreshes it.
func (m *Mirror) Track(ctx context.Context, slug string) (tournament.Tournament, error) {
	if slug == "" {
		return tournament.Tournament{}, apperr.Validationf("empty slug")
	}
	ut, err := m.api.GetTournament(ctx, slug)
	if err != nil {
		return tournament.Tournament{}, fmt.Errorf("fetch tournament: %w", err)
	}
	return m.trackUpstream(ctx, ut)
}

// TrackOwner tracks every tournament owned by the upstream user.
func (m *Mirror) TrackOwner(ctx context.Context, ownerID string) ([]tournament.Tournament, error) {
	if ownerID == "" {
		return nil, apperr.Validationf("empty owner id")
	}
	uts, err := m.api.GetTournamentsByOwner(ctx, startgg.ID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("fetch owner tournaments: %w", err)
	}
	res := make([]tournament.Tournament, 0, len(uts))
	for i := range uts {
		t, err := m.trackUpstream(ctx, &uts[i])
		if err != nil {
			return res, fmt.Errorf("track %q: %w", uts[i].Slug, err)
		}
		res = append(res, t)
	}
	return res, nil
}

// Untrack stops polling the tournament. Its data stays in place.
func (m *Mirror) Untrack(ctx context.Context, id string) error {
	if err := m.store.SetTracked(ctx, id, false); err != nil {
		return err
	}
	m.sched.Untrack(id)
	m.log.Info("untracked tournament", slog.String("tournament_id", id))
	return nil
}

// Cancel moves a non-terminal tournament to Cancelled and stops polling it.
func (m *Mirror) Cancel(ctx context.Context, id, actorID string) (tournament.Tournament, error) {
	t, err := m.store.GetTournament(ctx, id)
	if err != nil {
		return tournament.Tournament{}, err
	}
	if t.State.IsTerminal() {
		return tournament.Tournament{}, apperr.InvalidStatef("tournament is already %v", t.State.PrettyString())
	}
	ok, err := m.store.SetTournamentStateIf(ctx, id, tournament.NonTerminalStates(), tournament.StateCancelled)
	if err != nil {
		return tournament.Tournament{}, fmt.Errorf("cancel: %w", err)
	}
	if !ok {
		return tournament.Tournament{}, apperr.Conflictf("tournament %q was completed or cancelled concurrently", id)
	}
	m.sched.Untrack(id)
	from := t.State
	t.State = tournament.StateCancelled
	m.log.Info("tournament cancelled",
		slog.String("tournament_id", id),
		slog.String("actor_id", actorID),
	)
	m.publish(feed.Event{
		Kind:         "tournament_state",
		TournamentID: id,
		From:         string(from),
		To:           string(t.State),
		ActorID:      actorID,
		At:           m.now(),
	})
	return t, nil
}

func (m *Mirror) List(ctx context.Context) ([]tournament.Tournament, error) {
	return m.store.ListTournaments(ctx)
}

func (m *Mirror) Get(ctx context.Context, id string) (tournament.Tournament, error) {
	return m.store.GetTournament(ctx, id)
}

// Sync performs one poll of the tournament.
func (m *Mirror) Sync(ctx context.Context, id string) error {
	log := m.log.With(slog.String("tournament_id", id))
	t, err := m.store.GetTournament(ctx, id)
	if err != nil {
		return err
	}
	ut, err := m.api.GetTournament(ctx, t.Slug)
	if err != nil {
		return fmt.Errorf("fetch tournament: %w", err)
	}
	to := upstreamState(ut, m.now())
	refreshMeta(&t, ut)
	if err := m.store.SaveTournament(ctx, &t); err != nil {
		return err
	}
	if err := m.advance(ctx, &t, to); err != nil {
		return err
	}

	var updates []match.SetUpdate
	for _, ev := range ut.Events {
		evUpdates, err := m.eventSets(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("event %v: %w", ev.ID, err)
		}
		updates = append(updates, evUpdates...)
	}
	stats, ingestErr := m.engine.Ingest(ctx, t.ID, updates)
	if ingestErr != nil {
		log.Warn("some sets were not ingested", slogx.Err(ingestErr))
	}
	if err := m.store.MarkPolled(ctx, t.ID, m.now()); err != nil {
		return errors.Join(ingestErr, fmt.Errorf("mark polled: %w", err))
	}
	log.Info("tournament synced",
		slog.String("state", string(t.State)),
		slog.Int("sets", len(updates)),
		slog.Any("stats", stats),
	)
	if ingestErr != nil {
		return fmt.Errorf("ingest: %w", ingestErr)
	}
	return nil
}

func (m *Mirror) eventSets(ctx context.Context, eventID startgg.ID) ([]match.SetUpdate, error) {
	sets, err := m.api.GetEventSets(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("fetch sets: %w", err)
	}
	entrants, err := startgg.AllEntrants(ctx, m.api, eventID, m.o.EntrantsPerPage)
	if err != nil {
		return nil, fmt.Errorf("fetch entrants: %w", err)
	}
	names := make(map[startgg.ID]string, len(entrants))
	for _, en := range entrants {
		names[en.ID] = en.Name
	}
	res := make([]match.SetUpdate, len(sets))
	for i := range sets {
		res[i] = setUpdate(eventID, &sets[i], names)
	}
	return res, nil
}

func setUpdate(eventID startgg.ID, s *startgg.Set, names map[startgg.ID]string) match.SetUpdate {
	u := match.SetUpdate{
		ExternalSetID: s.ID.String(),
		EventID:       eventID.String(),
		Round:         s.Round,
		FullRoundText: s.FullRoundText,
		UpstreamState: s.State,
	}
	if s.WinnerID != nil {
		u.WinnerEntrantID = s.WinnerID.String()
	}
	for i := range min(len(s.Slots), 2) {
		slot := &s.Slots[i]
		if slot.Entrant == nil || slot.Entrant.ID == "" {
			continue
		}
		name := slot.Entrant.Name
		if name == "" {
			name = names[slot.Entrant.ID]
		}
		u.Entrants[i] = match.EntrantUpdate{
			ExternalID: slot.Entrant.ID.String(),
			Name:       name,
			Score:      slot.Score(),
		}
	}
	return u
}
