package poll

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alex65536/bracketd/internal/apperr"
	"github.com/alex65536/bracketd/internal/tournament"
	"github.com/alex65536/bracketd/internal/util/httputil"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/alex65536/bracketd/internal/util/timeutil"
	"golang.org/x/sync/semaphore"
)

type Options struct {
	Intervals          Intervals      `toml:"intervals"`
	MaxConcurrentPolls int            `toml:"max-concurrent-polls"`
	DBTimeout          time.Duration  `toml:"db-timeout"`
	Now                timeutil.Clock `toml:"-"`
}

func (o *Options) FillDefaults() {
	o.Intervals.FillDefaults()
	if o.MaxConcurrentPolls == 0 {
		o.MaxConcurrentPolls = 8
	}
	if o.DBTimeout == 0 {
		o.DBTimeout = 10 * time.Second
	}
}

func (o *Options) Validate() error {
	if err := o.Intervals.Validate(); err != nil {
		return fmt.Errorf("intervals: %w", err)
	}
	if o.MaxConcurrentPolls < 0 {
		return fmt.Errorf("negative max concurrent polls")
	}
	return nil
}

type Store interface {
	GetTournament(ctx context.Context, id string) (tournament.Tournament, error)
	ListTrackedTournaments(ctx context.Context) ([]tournament.Tournament, error)
}

type Syncer interface {
	Sync(ctx context.Context, tournamentID string) error
}

type SyncFunc func(ctx context.Context, tournamentID string) error

func (f SyncFunc) Sync(ctx context.Context, tournamentID string) error {
	return f(ctx, tournamentID)
}

type job struct {
	tournamentID string
	nextPollAt   time.Time
	interval     time.Duration
	index        int
	running      bool
	pending      bool
	removed      bool
}

type jobHeap []*job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].nextPollAt.Before(h[j].nextPollAt) }

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[0 : n-1]
	return x
}

// Scheduler keeps one poll job per tracked tournament. Jobs sit in a min-heap
// keyed by their next poll time and a single timer waits for the earliest one.
// A job is taken off the heap while its sync runs, so polls of one tournament
// never overlap.
type Scheduler struct {
	o      Options
	store  Store
	syncer Syncer
	log    *slog.Logger
	sem    *semaphore.Weighted

	mu      sync.Mutex
	jobs    map[string]*job
	heap    jobHeap
	notify  chan struct{}
	running bool
	wg      sync.WaitGroup
}

func New(log *slog.Logger, store Store, syncer Syncer, o Options) (*Scheduler, error) {
	o.FillDefaults()
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("bad options: %w", err)
	}
	return &Scheduler{
		o:      o,
		store:  store,
		syncer: syncer,
		log:    log,
		sem:    semaphore.NewWeighted(int64(o.MaxConcurrentPolls)),
		jobs:   make(map[string]*job),
		notify: make(chan struct{}, 1),
	}, nil
}

func (s *Scheduler) now() time.Time {
	return s.o.Now.Now()
}

func (s *Scheduler) onHeapUpdatedUnlocked() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) armUnlocked(id string, at time.Time, interval time.Duration) {
	j, ok := s.jobs[id]
	if !ok {
		j = &job{tournamentID: id, index: -1}
		s.jobs[id] = j
	}
	j.removed = false
	j.interval = interval
	if j.running {
		// Re-armed when the sync in flight finishes.
		return
	}
	j.nextPollAt = at
	if j.index >= 0 {
		heap.Fix(&s.heap, j.index)
	} else {
		heap.Push(&s.heap, j)
	}
	s.onHeapUpdatedUnlocked()
}

func (s *Scheduler) removeUnlocked(id string) {
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	if j.index >= 0 {
		heap.Remove(&s.heap, j.index)
	}
	if j.running {
		j.removed = true
		return
	}
	delete(s.jobs, id)
}

// nextInterval reads the tournament and decides whether it is still polled.
func (s *Scheduler) nextInterval(ctx context.Context, id string) (tournament.Tournament, time.Duration, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.o.DBTimeout)
	defer cancel()
	t, err := s.store.GetTournament(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return tournament.Tournament{}, 0, false, nil
		}
		return tournament.Tournament{}, 0, false, fmt.Errorf("get tournament: %w", err)
	}
	if !t.Tracked {
		return t, 0, false, nil
	}
	interval, ok := s.o.Intervals.For(t.State)
	return t, interval, ok, nil
}

// Track arms a job for a tournament: immediately if it was never polled, else
// one interval after its last poll.
func (s *Scheduler) Track(ctx context.Context, id string) error {
	t, interval, ok, err := s.nextInterval(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.removeUnlocked(id)
		return nil
	}
	s.armUnlocked(id, s.firstPoll(t, interval), interval)
	return nil
}

func (s *Scheduler) firstPoll(t tournament.Tournament, interval time.Duration) time.Time {
	if t.LastPolledAt == nil {
		return s.now()
	}
	return t.LastPolledAt.Add(interval)
}

// ScheduleNext re-reads the tournament state and arms its job one interval
// from now, or drops the job if the tournament is terminal or untracked.
func (s *Scheduler) ScheduleNext(ctx context.Context, id string) error {
	_, interval, ok, err := s.nextInterval(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.removeUnlocked(id)
		return nil
	}
	s.armUnlocked(id, s.now().Add(interval), interval)
	return nil
}

func (s *Scheduler) Untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeUnlocked(id)
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type Status struct {
	LastPolledAt *time.Time
	Interval     *time.Duration
	NextPollAt   *time.Time
}

// Status reports the poll timing of a tournament. Interval is nil when the
// tournament is untracked or no longer polled; NextPollAt is nil also when it
// was never polled.
func (s *Scheduler) Status(ctx context.Context, id string) (Status, error) {
	t, err := s.store.GetTournament(ctx, id)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if t.LastPolledAt != nil {
		st.LastPolledAt = timeutil.Ptr(*t.LastPolledAt)
	}
	if !t.Tracked {
		return st, nil
	}
	interval, ok := s.o.Intervals.For(t.State)
	if !ok {
		return st, nil
	}
	st.Interval = &interval
	if t.LastPolledAt != nil {
		st.NextPollAt = timeutil.Ptr(t.LastPolledAt.Add(interval))
	}
	return st, nil
}

type TriggerResult struct {
	Scheduled bool   `json:"scheduled"`
	Message   string `json:"message"`
}

const (
	MsgNotFound   = "Tournament not found"
	MsgTerminal   = "Tournament is completed or cancelled"
	MsgNotRunning = "Scheduler is not running"
	MsgScheduled  = "Poll scheduled"
)

// TriggerImmediate queues one out-of-band sync. A trigger that arrives while
// the tournament is being synced runs right after the current sync finishes.
func (s *Scheduler) TriggerImmediate(ctx context.Context, id string) (TriggerResult, error) {
	t, err := s.store.GetTournament(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return TriggerResult{Message: MsgNotFound}, apperr.Wrap(err, apperr.KindNotFound, MsgNotFound)
		}
		return TriggerResult{}, fmt.Errorf("get tournament: %w", err)
	}
	if t.State.IsTerminal() {
		return TriggerResult{Message: MsgTerminal}, apperr.InvalidStatef(MsgTerminal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return TriggerResult{Message: MsgNotRunning}, apperr.NotRunningf(MsgNotRunning)
	}
	interval, _ := s.o.Intervals.For(t.State)
	j, ok := s.jobs[id]
	if ok && j.running {
		j.pending = true
	} else {
		s.armUnlocked(id, s.now(), interval)
	}
	return TriggerResult{Scheduled: true, Message: MsgScheduled}, nil
}

type JobInfo struct {
	TournamentID string
	NextPollAt   time.Time
	Interval     time.Duration
	Running      bool
}

func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.removed {
			continue
		}
		res = append(res, JobInfo{
			TournamentID: j.tournamentID,
			NextPollAt:   j.nextPollAt,
			Interval:     j.interval,
			Running:      j.running,
		})
	}
	return res
}

func (s *Scheduler) reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.o.DBTimeout)
	defer cancel()
	ts, err := s.store.ListTrackedTournaments(ctx)
	if err != nil {
		return fmt.Errorf("list tracked tournaments: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ts {
		interval, ok := s.o.Intervals.For(t.State)
		if !ok {
			continue
		}
		s.armUnlocked(t.ID, s.firstPoll(t, interval), interval)
	}
	s.log.Info("loaded tracked tournaments", slog.Int("count", len(ts)))
	return nil
}

// popDueUnlocked takes every job due at now off the heap and returns the wait
// until the next one, or a negative duration if the heap is empty.
func (s *Scheduler) popDueUnlocked(now time.Time) ([]*job, time.Duration) {
	var due []*job
	for len(s.heap) != 0 {
		top := s.heap[0]
		if top.nextPollAt.After(now) {
			return due, top.nextPollAt.Sub(now)
		}
		heap.Pop(&s.heap)
		top.running = true
		due = append(due, top)
	}
	return due, -1
}

// Run drives polling until ctx is done. Only one Run may be active at a time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.wg.Wait()
	}()

	if err := s.reload(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	s.log.Info("poll scheduler started")
	for {
		s.mu.Lock()
		due, wait := s.popDueUnlocked(s.now())
		s.mu.Unlock()
		for _, j := range due {
			s.launch(ctx, j.tournamentID)
		}

		var timerC <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			s.log.Info("poll scheduler stopped")
			return nil
		case <-timerC:
		case <-s.notify:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

func (s *Scheduler) launch(ctx context.Context, id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.finish(ctx, id, false)
			return
		}
		defer s.sem.Release(1)
		s.poll(ctx, id)
		s.finish(ctx, id, true)
	}()
}

func (s *Scheduler) poll(ctx context.Context, id string) {
	ctx = httputil.NewReqIDContext(ctx)
	log := s.log.With(
		slog.String("tournament_id", id),
		slog.String("rid", httputil.ExtractReqID(ctx)),
	)
	start := time.Now()
	if err := s.syncer.Sync(ctx, id); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("poll failed, will retry on next tick", slogx.Err(err))
		return
	}
	log.Debug("poll finished", slog.Duration("elapsed", time.Since(start)))
}

// finish re-arms the job after its sync. A failed sync keeps the previous
// interval so that polling continues.
func (s *Scheduler) finish(ctx context.Context, id string, polled bool) {
	var (
		interval time.Duration
		keep     bool
		err      error
	)
	if polled && ctx.Err() == nil {
		_, interval, keep, err = s.nextInterval(ctx, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.running = false
	switch {
	case j.removed:
		delete(s.jobs, id)
	case !polled || ctx.Err() != nil:
		s.armUnlocked(id, j.nextPollAt, j.interval)
	case err != nil:
		s.log.Warn("could not reschedule poll", slog.String("tournament_id", id), slogx.Err(err))
		s.armUnlocked(id, s.now().Add(j.interval), j.interval)
	case !keep:
		s.log.Info("tournament no longer polled", slog.String("tournament_id", id))
		delete(s.jobs, id)
	case j.pending:
		j.pending = false
		s.armUnlocked(id, s.now(), interval)
	default:
		s.armUnlocked(id, s.now().Add(interval), interval)
	}
}
