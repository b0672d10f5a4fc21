package startgg

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/alex65536/bracketd/internal/apperr"
)

// Mock is an in-memory API for tests.
type Mock struct {
	mu          sync.Mutex
	tournaments map[string]Tournament
	sets        map[ID][]Set
	entrants    map[ID][]Entrant
	err         error
	calls       map[string]int
}

type MockOption func(*Mock)

func WithTournament(t Tournament) MockOption {
	return func(m *Mock) { m.tournaments[t.Slug] = t }
}

func WithSets(eventID ID, sets []Set) MockOption {
	return func(m *Mock) { m.sets[eventID] = sets }
}

func WithEntrants(eventID ID, entrants []Entrant) MockOption {
	return func(m *Mock) { m.entrants[eventID] = entrants }
}

// WithError makes every call fail with err.
func WithError(err error) MockOption {
	return func(m *Mock) { m.err = err }
}

var _ API = (*Mock)(nil)

func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		tournaments: make(map[string]Tournament),
		sets:        make(map[ID][]Set),
		entrants:    make(map[ID][]Entrant),
		calls:       make(map[string]int),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Update applies opts to a live mock.
func (m *Mock) Update(opts ...MockOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range opts {
		o(m)
	}
}

func (m *Mock) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Mock) enter(method string) error {
	m.calls[method]++
	return m.err
}

func (m *Mock) GetTournament(_ context.Context, slug string) (*Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("getTournament"); err != nil {
		return nil, err
	}
	t, ok := m.tournaments[slug]
	if !ok {
		return nil, apperr.NotFoundf("tournament %q not found upstream", slug)
	}
	t.Events = append([]Event(nil), t.Events...)
	return &t, nil
}

func (m *Mock) GetEventSets(_ context.Context, eventID ID) ([]Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("getEventSets"); err != nil {
		return nil, err
	}
	return append([]Set(nil), m.sets[eventID]...), nil
}

func (m *Mock) GetEventEntrants(_ context.Context, eventID ID, page, perPage int) (*EntrantPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("getEventEntrants"); err != nil {
		return nil, err
	}
	if page <= 0 || perPage <= 0 {
		return nil, apperr.Validationf("bad page %d of size %d", page, perPage)
	}
	all := m.entrants[eventID]
	res := &EntrantPage{
		PageInfo: PageInfo{
			Total:      len(all),
			TotalPages: (len(all) + perPage - 1) / perPage,
			Page:       page,
			PerPage:    perPage,
		},
	}
	lo := min((page-1)*perPage, len(all))
	hi := min(page*perPage, len(all))
	res.Nodes = append([]Entrant(nil), all[lo:hi]...)
	return res, nil
}

func (m *Mock) GetTournamentsByOwner(_ context.Context, ownerID ID) ([]Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("getTournamentsByOwner"); err != nil {
		return nil, err
	}
	var res []Tournament
	for _, t := range m.tournaments {
		if t.Owner != nil && t.Owner.ID == ownerID {
			res = append(res, t)
		}
	}
	slices.SortFunc(res, func(a, b Tournament) int { return strings.Compare(a.Slug, b.Slug) })
	return res, nil
}
