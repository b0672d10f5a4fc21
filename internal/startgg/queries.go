package startgg

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alex65536/bracketd/internal/apperr"
)

const tournamentFields = `
	id
	slug
	name
	state
	isRegistrationOpen
	registrationClosesAt
	startAt
	endAt
	owner { id }
	events { id name state numEntrants }
`

const pageInfoFields = `pageInfo { total totalPages page perPage }`

const tournamentQuery = `
query TournamentBySlug($slug: String!) {
	tournament(slug: $slug) {` + tournamentFields + `}
}`

const eventSetsQuery = `
query EventSets($eventId: ID!, $page: Int!, $perPage: Int!) {
	event(id: $eventId) {
		sets(page: $page, perPage: $perPage, sortType: STANDARD) {
			` + pageInfoFields + `
			nodes {
				id
				round
				fullRoundText
				state
				winnerId
				slots {
					entrant { id name }
					standing { stats { score { value } } }
				}
			}
		}
	}
}`

const eventEntrantsQuery = `
query EventEntrants($eventId: ID!, $page: Int!, $perPage: Int!) {
	event(id: $eventId) {
		entrants(query: {page: $page, perPage: $perPage}) {
			` + pageInfoFields + `
			nodes { id name }
		}
	}
}`

const ownerTournamentsQuery = `
query TournamentsByOwner($ownerId: ID!, $page: Int!, $perPage: Int!) {
	tournaments(query: {page: $page, perPage: $perPage, filter: {ownerId: $ownerId}}) {
		` + pageInfoFields + `
		nodes {` + tournamentFields + `}
	}
}`

// Upper bound on pages fetched by a single call.
const maxPages = 100

func (c *Client) GetTournament(ctx context.Context, slug string) (*Tournament, error) {
	type data struct {
		Tournament *Tournament `json:"tournament"`
	}
	rsp, err := query[data](ctx, c, "getTournament", tournamentQuery,
		map[string]any{"slug": slug}, slug)
	if err != nil {
		return nil, err
	}
	if rsp.Tournament == nil {
		return nil, apperr.NotFoundf("tournament %q not found upstream", slug)
	}
	return rsp.Tournament, nil
}

func (c *Client) getSetPage(ctx context.Context, eventID ID, page int) (*setPage, error) {
	type data struct {
		Event *struct {
			Sets setPage `json:"sets"`
		} `json:"event"`
	}
	rsp, err := query[data](ctx, c, "getEventSets", eventSetsQuery,
		map[string]any{"eventId": eventID, "page": page, "perPage": c.o.PerPage},
		eventID, page, c.o.PerPage)
	if err != nil {
		return nil, err
	}
	if rsp.Event == nil {
		return nil, apperr.NotFoundf("event %v not found upstream", eventID)
	}
	return &rsp.Event.Sets, nil
}

// GetEventSets fetches every page of the event's sets.
func (c *Client) GetEventSets(ctx context.Context, eventID ID) ([]Set, error) {
	var sets []Set
	for page := 1; page <= maxPages; page++ {
		p, err := c.getSetPage(ctx, eventID, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		sets = append(sets, p.Nodes...)
		if page >= p.PageInfo.TotalPages || len(p.Nodes) == 0 {
			return sets, nil
		}
	}
	c.log.Warn("event sets truncated", slog.String("event_id", eventID.String()), slog.Int("pages", maxPages))
	return sets, nil
}

func (c *Client) GetEventEntrants(ctx context.Context, eventID ID, page, perPage int) (*EntrantPage, error) {
	if page <= 0 || perPage <= 0 {
		return nil, apperr.Validationf("bad page %d of size %d", page, perPage)
	}
	type data struct {
		Event *struct {
			Entrants EntrantPage `json:"entrants"`
		} `json:"event"`
	}
	rsp, err := query[data](ctx, c, "getEventEntrants", eventEntrantsQuery,
		map[string]any{"eventId": eventID, "page": page, "perPage": perPage},
		eventID, page, perPage)
	if err != nil {
		return nil, err
	}
	if rsp.Event == nil {
		return nil, apperr.NotFoundf("event %v not found upstream", eventID)
	}
	return &rsp.Event.Entrants, nil
}

// GetTournamentsByOwner fetches every tournament the user owns.
func (c *Client) GetTournamentsByOwner(ctx context.Context, ownerID ID) ([]Tournament, error) {
	type data struct {
		Tournaments *tournamentPage `json:"tournaments"`
	}
	var res []Tournament
	for page := 1; page <= maxPages; page++ {
		rsp, err := query[data](ctx, c, "getTournamentsByOwner", ownerTournamentsQuery,
			map[string]any{"ownerId": ownerID, "page": page, "perPage": c.o.PerPage},
			ownerID, page, c.o.PerPage)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if rsp.Tournaments == nil {
			return res, nil
		}
		res = append(res, rsp.Tournaments.Nodes...)
		if page >= rsp.Tournaments.PageInfo.TotalPages || len(rsp.Tournaments.Nodes) == 0 {
			return res, nil
		}
	}
	return res, nil
}

// AllEntrants walks every entrant page of the event.
func AllEntrants(ctx context.Context, api API, eventID ID, perPage int) ([]Entrant, error) {
	var res []Entrant
	for page := 1; page <= maxPages; page++ {
		p, err := api.GetEventEntrants(ctx, eventID, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("entrants page %d: %w", page, err)
		}
		res = append(res, p.Nodes...)
		if page >= p.PageInfo.TotalPages || len(p.Nodes) == 0 {
			return res, nil
		}
	}
	return res, nil
}
