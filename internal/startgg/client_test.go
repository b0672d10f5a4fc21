package startgg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alex65536/bracketd/internal/apperr"
	"github.com/alex65536/bracketd/internal/cache"
	"github.com/alex65536/bracketd/internal/retry"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/alex65536/bracketd/internal/util/timeutil"
)

const evoTournament = `{"data":{"tournament":{
	"id": 612345,
	"slug": "tournament/evo-2024",
	"name": "EVO 2024",
	"state": 2,
	"isRegistrationOpen": false,
	"registrationClosesAt": 1719792000,
	"startAt": 1721347200,
	"endAt": null,
	"owner": {"id": 42},
	"events": [{"id": 1001, "name": "Street Fighter 6", "state": "ACTIVE", "numEntrants": 4}]
}}}`

type fakeUpstream struct {
	t        *testing.T
	requests atomic.Int32
	handle   func(w http.ResponseWriter, req gqlRequest, n int)
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(f.requests.Add(1))
	if got := r.Header.Get("Authorization"); got != "Bearer secret" {
		f.t.Errorf("bad authorization header %q", got)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("read body: %v", err)
	}
	var req gqlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		f.t.Errorf("unmarshal request: %v", err)
	}
	f.handle(w, req, n)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func testOptions(endpoint string) Options {
	return Options{
		Endpoint:          endpoint,
		RequestsPerMinute: 600000,
		PerPage:           2,
		Retry: retry.Policy{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
			Jitter:     1.0,
		},
	}
}

func newTestClient(t *testing.T, store cache.Store, handle func(w http.ResponseWriter, req gqlRequest, n int)) (*Client, *fakeUpstream) {
	t.Helper()
	up := &fakeUpstream{t: t, handle: handle}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)
	c, err := New(slogx.DiscardLogger(), testOptions(srv.URL), "secret", store, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	return c, up
}

func TestGetTournament(t *testing.T) {
	c, up := newTestClient(t, nil, func(w http.ResponseWriter, req gqlRequest, _ int) {
		if !strings.Contains(req.Query, "TournamentBySlug") {
			t.Errorf("unexpected query %q", req.Query)
		}
		if req.Variables["slug"] != "tournament/evo-2024" {
			t.Errorf("unexpected variables %v", req.Variables)
		}
		writeJSON(w, http.StatusOK, evoTournament)
	})
	tr, err := c.GetTournament(context.Background(), "tournament/evo-2024")
	if err != nil {
		t.Fatal(err)
	}
	if tr.ID != "612345" || tr.Name != "EVO 2024" || tr.State != TournamentActive {
		t.Fatalf("unexpected tournament %+v", tr)
	}
	if tr.Owner == nil || tr.Owner.ID != "42" {
		t.Fatalf("unexpected owner %+v", tr.Owner)
	}
	if len(tr.Events) != 1 || tr.Events[0].ID != "1001" {
		t.Fatalf("unexpected events %+v", tr.Events)
	}
	start := TimePtr(tr.StartAt)
	if start == nil || !start.Equal(time.Date(2024, 7, 19, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
	if tr.EndAt != nil {
		t.Fatalf("unexpected end %v", tr.EndAt)
	}
	if n := up.requests.Load(); n != 1 {
		t.Fatalf("expected one request, got %v", n)
	}
}

func TestGetTournamentNotFound(t *testing.T) {
	c, _ := newTestClient(t, nil, func(w http.ResponseWriter, _ gqlRequest, _ int) {
		writeJSON(w, http.StatusOK, `{"data":{"tournament":null}}`)
	})
	_, err := c.GetTournament(context.Background(), "tournament/nope")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	clock := timeutil.NewManual(time.Date(2024, 7, 19, 12, 0, 0, 0, time.UTC))
	store := cache.NewMemory(clock.Clock())
	c, up := newTestClient(t, store, func(w http.ResponseWriter, _ gqlRequest, _ int) {
		writeJSON(w, http.StatusOK, evoTournament)
	})
	ctx := context.Background()

	first, err := c.GetTournament(ctx, "tournament/evo-2024")
	if err != nil {
		t.Fatal(err)
	}
	stored, ok := store.Get(ctx, cache.Key("getTournament", "tournament/evo-2024"))
	if !ok {
		t.Fatal("result not cached")
	}
	storedCopy := bytes.Clone(stored)

	clock.Advance(29 * time.Second)
	second, err := c.GetTournament(ctx, "tournament/evo-2024")
	if err != nil {
		t.Fatal(err)
	}
	if n := up.requests.Load(); n != 1 {
		t.Fatalf("cache hit reached upstream: %v requests", n)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached value differs:\n%+v\n%+v", first, second)
	}
	again, _ := store.Get(ctx, cache.Key("getTournament", "tournament/evo-2024"))
	if !bytes.Equal(again, storedCopy) {
		t.Fatal("cache entry mutated")
	}

	clock.Advance(2 * time.Second)
	if _, err := c.GetTournament(ctx, "tournament/evo-2024"); err != nil {
		t.Fatal(err)
	}
	if n := up.requests.Load(); n != 2 {
		t.Fatalf("expired entry not refetched: %v requests", n)
	}
}

func TestCacheDisabled(t *testing.T) {
	c, up := newTestClient(t, nil, func(w http.ResponseWriter, _ gqlRequest, _ int) {
		writeJSON(w, http.StatusOK, evoTournament)
	})
	for range 3 {
		if _, err := c.GetTournament(context.Background(), "tournament/evo-2024"); err != nil {
			t.Fatal(err)
		}
	}
	if n := up.requests.Load(); n != 3 {
		t.Fatalf("expected every call upstream, got %v requests", n)
	}
}

func TestRateLimitIsRetried(t *testing.T) {
	c, up := newTestClient(t, nil, func(w http.ResponseWriter, _ gqlRequest, n int) {
		if n <= 2 {
			writeJSON(w, http.StatusTooManyRequests, `{"success":false,"message":"Rate limit exceeded - api-token"}`)
			return
		}
		writeJSON(w, http.StatusOK, evoTournament)
	})
	tr, err := c.GetTournament(context.Background(), "tournament/evo-2024")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Slug != "tournament/evo-2024" {
		t.Fatalf("unexpected tournament %+v", tr)
	}
	if n := up.requests.Load(); n != 3 {
		t.Fatalf("expected 3 requests, got %v", n)
	}
}

func TestRateLimitExhausted(t *testing.T) {
	c, up := newTestClient(t, nil, func(w http.ResponseWriter, _ gqlRequest, _ int) {
		writeJSON(w, http.StatusTooManyRequests, `{"success":false,"message":"Rate limit exceeded - api-token"}`)
	})
	_, err := c.GetTournament(context.Background(), "tournament/evo-2024")
	var exceeded *retry.RateLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected rate limit exceeded, got %v", err)
	}
	if exceeded.Attempts != 3 {
		t.Fatalf("unexpected attempts %v", exceeded.Attempts)
	}
	if n := up.requests.Load(); n != 3 {
		t.Fatalf("expected 3 requests, got %v", n)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(err error) bool
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"message":"Invalid authentication token"}`,
			check: func(err error) bool {
				var e *AuthError
				return errors.As(err, &e) && e.Status == http.StatusUnauthorized
			},
		},
		{
			name:   "graphql",
			status: http.StatusOK,
			body:   `{"errors":[{"message":"Cannot query field \"foo\""}],"data":null}`,
			check: func(err error) bool {
				var e *GraphQLError
				return errors.As(err, &e) && len(e.Errors) == 1
			},
		},
		{
			name:   "graphql-bad-request",
			status: http.StatusBadRequest,
			body:   `{"errors":[{"message":"Variable \"$slug\" of required type \"String!\" was not provided."}]}`,
			check: func(err error) bool {
				var e *GraphQLError
				return errors.As(err, &e)
			},
		},
		{
			name:   "server-error",
			status: http.StatusInternalServerError,
			body:   "upstream exploded",
			check: func(err error) bool {
				var e *HTTPError
				return errors.As(err, &e) && e.Status == http.StatusInternalServerError
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, up := newTestClient(t, nil, func(w http.ResponseWriter, _ gqlRequest, _ int) {
				writeJSON(w, tc.status, tc.body)
			})
			_, err := c.GetTournament(context.Background(), "tournament/evo-2024")
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if n := up.requests.Load(); n != 1 {
				t.Fatalf("non-throttling error retried: %v requests", n)
			}
		})
	}
}

func TestMissingToken(t *testing.T) {
	c, err := New(slogx.DiscardLogger(), testOptions("http://127.0.0.1:1"), "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.GetTournament(context.Background(), "tournament/evo-2024")
	var e *AuthError
	if !errors.As(err, &e) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestGetEventSetsAllPages(t *testing.T) {
	pages := map[float64]string{
		1: `{"data":{"event":{"sets":{"pageInfo":{"total":3,"totalPages":2,"page":1,"perPage":2},"nodes":[
			{"id":1,"round":1,"fullRoundText":"Winners Round 1","state":3,"winnerId":11,
			 "slots":[{"entrant":{"id":11,"name":"Daigo"},"standing":{"stats":{"score":{"value":2}}}},
			          {"entrant":{"id":12,"name":"Justin"},"standing":{"stats":{"score":{"value":0}}}}]},
			{"id":"preview_2_0","round":1,"fullRoundText":"Winners Round 1","state":1,"winnerId":null,
			 "slots":[{"entrant":null,"standing":null},{"entrant":null,"standing":null}]}]}}}}`,
		2: `{"data":{"event":{"sets":{"pageInfo":{"total":3,"totalPages":2,"page":2,"perPage":2},"nodes":[
			{"id":3,"round":-1,"fullRoundText":"Losers Round 1","state":2,"winnerId":null,
			 "slots":[{"entrant":{"id":13,"name":"Tokido"},"standing":null},
			          {"entrant":{"id":14,"name":"Punk"},"standing":{"stats":{"score":{"value":-1}}}}]}]}}}}`,
	}
	c, up := newTestClient(t, nil, func(w http.ResponseWriter, req gqlRequest, _ int) {
		page, _ := req.Variables["page"].(float64)
		if req.Variables["eventId"] != "1001" {
			t.Errorf("unexpected event id %v", req.Variables["eventId"])
		}
		writeJSON(w, http.StatusOK, pages[page])
	})
	sets, err := c.GetEventSets(context.Background(), "1001")
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 3 {
		t.Fatalf("expected 3 sets, got %v", len(sets))
	}
	if n := up.requests.Load(); n != 2 {
		t.Fatalf("expected 2 requests, got %v", n)
	}
	if sets[0].WinnerID == nil || *sets[0].WinnerID != "11" {
		t.Fatalf("unexpected winner %v", sets[0].WinnerID)
	}
	if s := sets[0].Slots[0].Score(); s == nil || *s != 2 {
		t.Fatalf("unexpected score %v", s)
	}
	if sets[1].ID != "preview_2_0" || sets[1].Slots[0].Entrant != nil {
		t.Fatalf("unexpected preview set %+v", sets[1])
	}
	if s := sets[2].Slots[1].Score(); s == nil || *s != -1 {
		t.Fatalf("unexpected dq score %v", s)
	}
	if sets[2].Slots[0].Score() != nil {
		t.Fatal("expected unknown score")
	}
}

func TestAllEntrantsMock(t *testing.T) {
	var entrants []Entrant
	for _, name := range []string{"Daigo", "Justin", "Tokido", "Punk", "MenaRD"} {
		entrants = append(entrants, Entrant{ID: ID(name), Name: name})
	}
	m := NewMock(WithEntrants("1001", entrants))
	got, err := AllEntrants(context.Background(), m, "1001", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, entrants) {
		t.Fatalf("unexpected entrants %+v", got)
	}
	if n := m.Calls("getEventEntrants"); n != 3 {
		t.Fatalf("expected 3 pages, got %v", n)
	}
}

func TestIDUnmarshal(t *testing.T) {
	var v struct {
		A ID  `json:"a"`
		B ID  `json:"b"`
		C ID  `json:"c"`
		D *ID `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a": 123, "b": "preview_1", "c": null, "d": 9007199254740993}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != "123" || v.B != "preview_1" || v.C != "" || v.D == nil || *v.D != "9007199254740993" {
		t.Fatalf("unexpected ids %+v", v)
	}
}
