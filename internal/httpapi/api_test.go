package httpapi_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alex65536/bracketd/internal/database"
	"github.com/alex65536/bracketd/internal/feed"
	"github.com/alex65536/bracketd/internal/httpapi"
	"github.com/alex65536/bracketd/internal/match"
	"github.com/alex65536/bracketd/internal/mirror"
	"github.com/alex65536/bracketd/internal/poll"
	"github.com/alex65536/bracketd/internal/startgg"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/gorilla/websocket"
)

const token = "s3cret"

type env struct {
	api    *startgg.Mock
	hub    *feed.Hub
	sched  *poll.Scheduler
	mirror *mirror.Mirror
	srv    *httptest.Server
}

func newEnv(t *testing.T, opts ...startgg.MockOption) *env {
	t.Helper()
	log := slogx.DiscardLogger()
	db, err := database.New(log, database.Options{Path: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(db.Close)
	hub := feed.NewHub(log, feed.Options{})
	t.Cleanup(hub.Close)

	api := startgg.NewMock(opts...)
	engine := match.NewEngine(log, db, hub)
	var mr *mirror.Mirror
	sched, err := poll.New(log, db, poll.SyncFunc(func(ctx context.Context, id string) error {
		return mr.Sync(ctx, id)
	}), poll.Options{})
	if err != nil {
		t.Fatal(err)
	}
	mr = mirror.New(log, api, db, engine, sched, hub, mirror.Options{})

	h, err := httpapi.Handler(log, httpapi.Config{
		Token:   token,
		Poller:  sched,
		Tracker: mr,
		Matches: engine,
		Hub:     hub,
	}, httpapi.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{api: api, hub: hub, sched: sched, mirror: mr, srv: srv}
}

func (e *env) runScheduler(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.sched.Run(ctx) }()
	deadline := time.Now().Add(5 * time.Second)
	for !e.sched.Running() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not start")
		}
		time.Sleep(time.Millisecond)
	}
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("run: %v", err)
		}
	})
}

func (e *env) request(t *testing.T, method, path, actor string, body any) *http.Request {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	return req
}

func send(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	rsp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return rsp.StatusCode, data
}

func (e *env) do(t *testing.T, method, path, actor string, body any, out any) int {
	t.Helper()
	code, data := send(t, e.request(t, method, path, actor, body))
	if out != nil && len(data) != 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
	}
	return code
}

type errorBody struct {
	Error string `json:"error"`
}

type tournamentBody struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	State string `json:"state"`
}

type matchBody struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Players []struct {
		Slot     int    `json:"slot"`
		PlayerID string `json:"player_id"`
		Name     string `json:"name"`
		IsWinner *bool  `json:"is_winner"`
	} `json:"players"`
}

const slug = "tournament/evo-2024"

func activeTournament() startgg.Tournament {
	return startgg.Tournament{
		ID:     "42",
		Slug:   slug,
		Name:   "Evo 2024",
		State:  startgg.TournamentActive,
		Owner:  &startgg.Owner{ID: "7"},
		Events: []startgg.Event{{ID: "100", Name: "Street Fighter 6"}},
	}
}

func readySet() startgg.MockOption {
	return startgg.WithSets("100", []startgg.Set{{
		ID: "5001", Round: 1, FullRoundText: "Winners Round 1", State: startgg.SetReady,
		Slots: []startgg.Slot{
			{Entrant: &startgg.Entrant{ID: "1", Name: "Punk"}},
			{Entrant: &startgg.Entrant{ID: "2", Name: "Tokido"}},
		},
	}})
}

func TestHealthzNeedsNoToken(t *testing.T) {
	e := newEnv(t)
	rsp, err := http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	rsp.Body.Close()
	if rsp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status %v", rsp.StatusCode)
	}
}

func TestBadToken(t *testing.T) {
	e := newEnv(t)
	for _, auth := range []string{"", "Bearer nope", "Basic " + token} {
		req := e.request(t, http.MethodGet, "/api/tournaments", "", nil)
		req.Header.Set("Authorization", auth)
		rsp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		rsp.Body.Close()
		if rsp.StatusCode != http.StatusUnauthorized {
			t.Errorf("auth %q: unexpected status %v", auth, rsp.StatusCode)
		}
		if rsp.Header.Get("WWW-Authenticate") == "" {
			t.Errorf("auth %q: no WWW-Authenticate header", auth)
		}
	}
}

func TestTrackAndGet(t *testing.T) {
	e := newEnv(t, startgg.WithTournament(activeTournament()))

	var tr tournamentBody
	if code := e.do(t, http.MethodPost, "/api/tournaments", "", map[string]string{"slug": slug}, &tr); code != http.StatusCreated {
		t.Fatalf("unexpected status %v", code)
	}
	if tr.ID == "" || tr.Slug != slug || tr.State != "in_progress" {
		t.Fatalf("unexpected tournament %+v", tr)
	}

	var got tournamentBody
	if code := e.do(t, http.MethodGet, "/api/tournaments/"+tr.ID, "", nil, &got); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if got != tr {
		t.Fatalf("expected %+v, got %+v", tr, got)
	}

	var list []tournamentBody
	if code := e.do(t, http.MethodGet, "/api/tournaments", "", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("unexpected list %v %+v", code, list)
	}

	var eb errorBody
	if code := e.do(t, http.MethodGet, "/api/tournaments/missing", "", nil, &eb); code != http.StatusNotFound {
		t.Fatalf("unexpected status %v", code)
	}
	if eb.Error == "" {
		t.Fatal("no error message")
	}
	if code := e.do(t, http.MethodPost, "/api/tournaments", "", map[string]string{"slug": "tournament/nope"}, nil); code != http.StatusNotFound {
		t.Fatalf("unexpected status %v", code)
	}
	if code := e.do(t, http.MethodPost, "/api/tournaments", "", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Fatalf("unexpected status %v", code)
	}
	if code := e.do(t, http.MethodPost, "/api/tournaments", "", map[string]int{"bogus": 1}, nil); code != http.StatusBadRequest {
		t.Fatalf("unexpected status %v", code)
	}
}

func TestPollStatusAndTrigger(t *testing.T) {
	e := newEnv(t, startgg.WithTournament(activeTournament()))
	var tr tournamentBody
	e.do(t, http.MethodPost, "/api/tournaments", "", map[string]string{"slug": slug}, &tr)

	var st struct {
		LastPolledAt *time.Time `json:"last_polled_at"`
		IntervalMS   *int64     `json:"interval_ms"`
		NextPollAt   *time.Time `json:"next_poll_at"`
	}
	if code := e.do(t, http.MethodGet, "/api/tournaments/"+tr.ID+"/poll", "", nil, &st); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if st.IntervalMS == nil || *st.IntervalMS != 15000 || st.LastPolledAt != nil || st.NextPollAt != nil {
		t.Fatalf("unexpected status %+v", st)
	}

	type triggerBody struct {
		Scheduled bool   `json:"scheduled"`
		Message   string `json:"message"`
	}
	var res triggerBody
	if code := e.do(t, http.MethodPost, "/api/tournaments/"+tr.ID+"/poll", "", nil, &res); code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %v", code)
	}
	if res != (triggerBody{Scheduled: false, Message: poll.MsgNotRunning}) {
		t.Fatalf("unexpected body %+v", res)
	}
	res = triggerBody{}
	if code := e.do(t, http.MethodPost, "/api/tournaments/nope/poll", "", nil, &res); code != http.StatusNotFound {
		t.Fatalf("unexpected status %v", code)
	}
	if res.Message != poll.MsgNotFound || res.Scheduled {
		t.Fatalf("unexpected body %+v", res)
	}

	e.runScheduler(t)
	res = triggerBody{}
	if code := e.do(t, http.MethodPost, "/api/tournaments/"+tr.ID+"/poll", "", nil, &res); code != http.StatusAccepted {
		t.Fatalf("unexpected status %v", code)
	}
	if !res.Scheduled || res.Message != poll.MsgScheduled {
		t.Fatalf("unexpected body %+v", res)
	}

	var jobs []struct {
		TournamentID string `json:"tournament_id"`
		IntervalMS   int64  `json:"interval_ms"`
	}
	if code := e.do(t, http.MethodGet, "/api/jobs", "", nil, &jobs); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if len(jobs) != 1 || jobs[0].TournamentID != tr.ID || jobs[0].IntervalMS != 15000 {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	res = triggerBody{}
	if code := e.do(t, http.MethodPost, "/api/tournaments/"+tr.ID+"/cancel", "admin", nil, nil); code != http.StatusOK {
		t.Fatalf("unexpected cancel status %v", code)
	}
	if code := e.do(t, http.MethodPost, "/api/tournaments/"+tr.ID+"/poll", "", nil, &res); code != http.StatusConflict {
		t.Fatalf("unexpected status %v", code)
	}
	if res.Message != poll.MsgTerminal {
		t.Fatalf("unexpected body %+v", res)
	}
}

func TestCancelNeedsActor(t *testing.T) {
	e := newEnv(t, startgg.WithTournament(activeTournament()))
	var tr tournamentBody
	e.do(t, http.MethodPost, "/api/tournaments", "", map[string]string{"slug": slug}, &tr)
	if code := e.do(t, http.MethodPost, "/api/tournaments/"+tr.ID+"/cancel", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("unexpected status %v", code)
	}
	var got tournamentBody
	if code := e.do(t, http.MethodPost, "/api/tournaments/"+tr.ID+"/cancel", "admin", nil, &got); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if got.State != "cancelled" {
		t.Fatalf("unexpected state %v", got.State)
	}
	if code := e.do(t, http.MethodPost, "/api/tournaments/"+tr.ID+"/cancel", "admin", nil, nil); code != http.StatusConflict {
		t.Fatalf("unexpected status %v", code)
	}
	if code := e.do(t, http.MethodDelete, "/api/tournaments/"+tr.ID+"/track", "", nil, nil); code != http.StatusNoContent {
		t.Fatalf("unexpected untrack status %v", code)
	}
}

// syncedMatch tracks the tournament, syncs it once and returns its only match.
func (e *env) syncedMatch(t *testing.T) (string, matchBody) {
	t.Helper()
	var tr tournamentBody
	if code := e.do(t, http.MethodPost, "/api/tournaments", "", map[string]string{"slug": slug}, &tr); code != http.StatusCreated {
		t.Fatalf("unexpected status %v", code)
	}
	if err := e.mirror.Sync(context.Background(), tr.ID); err != nil {
		t.Fatal(err)
	}
	var ms []matchBody
	if code := e.do(t, http.MethodGet, "/api/tournaments/"+tr.ID+"/matches", "", nil, &ms); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if len(ms) != 1 || len(ms[0].Players) != 2 {
		t.Fatalf("unexpected matches %+v", ms)
	}
	return tr.ID, ms[0]
}

func TestReportAndConfirm(t *testing.T) {
	e := newEnv(t, startgg.WithTournament(activeTournament()), readySet())
	_, m := e.syncedMatch(t)
	if m.State != "not_started" {
		t.Fatalf("unexpected state %v", m.State)
	}
	p1, p2 := m.Players[0].PlayerID, m.Players[1].PlayerID
	if m.Players[0].Name != "Punk" || m.Players[1].Name != "Tokido" {
		t.Fatalf("unexpected players %+v", m.Players)
	}
	path := "/api/matches/" + m.ID

	rep := map[string]any{"winner_id": p1, "score1": 3, "score2": 1}
	if code := e.do(t, http.MethodPost, path+"/report", "", rep, nil); code != http.StatusBadRequest {
		t.Fatalf("report without actor: unexpected status %v", code)
	}
	if code := e.do(t, http.MethodPost, path+"/report", "stranger", rep, nil); code != http.StatusNotFound {
		t.Fatalf("report by stranger: unexpected status %v", code)
	}
	bad := map[string]any{"winner_id": p1, "score1": 1, "score2": 3}
	if code := e.do(t, http.MethodPost, path+"/report", p1, bad, nil); code != http.StatusBadRequest {
		t.Fatalf("inconsistent report: unexpected status %v", code)
	}
	if code := e.do(t, http.MethodPost, path+"/report", p1, map[string]any{"winner_id": p1}, nil); code != http.StatusBadRequest {
		t.Fatalf("report without scores: unexpected status %v", code)
	}

	var got matchBody
	if code := e.do(t, http.MethodPost, path+"/report", p1, rep, &got); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if got.State != "pending_confirmation" {
		t.Fatalf("unexpected state %v", got.State)
	}
	if code := e.do(t, http.MethodPost, path+"/confirm", p1, nil, nil); code != http.StatusConflict {
		t.Fatalf("self confirm: unexpected status %v", code)
	}
	if code := e.do(t, http.MethodPost, path+"/confirm", p2, nil, &got); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if got.State != "completed" || got.Players[0].IsWinner == nil || !*got.Players[0].IsWinner {
		t.Fatalf("unexpected match %+v", got)
	}
	if code := e.do(t, http.MethodPost, path+"/disqualify", "admin", map[string]string{"player_id": p2}, nil); code != http.StatusConflict {
		t.Fatalf("disqualify completed: unexpected status %v", code)
	}

	var audit []struct {
		Action  string          `json:"action"`
		ActorID string          `json:"actor_id"`
		After   json.RawMessage `json:"after"`
	}
	if code := e.do(t, http.MethodGet, path+"/audit", "", nil, &audit); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if len(audit) != 2 || audit[0].Action != match.ActionReport || audit[1].Action != match.ActionConfirm {
		t.Fatalf("unexpected audit %+v", audit)
	}
	if audit[1].ActorID != p2 || len(audit[1].After) == 0 {
		t.Fatalf("unexpected confirm audit %+v", audit[1])
	}
	if code := e.do(t, http.MethodGet, "/api/matches/nope", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unexpected status %v", code)
	}
}

func TestDisputeAndResolve(t *testing.T) {
	e := newEnv(t, startgg.WithTournament(activeTournament()), readySet())
	_, m := e.syncedMatch(t)
	p1, p2 := m.Players[0].PlayerID, m.Players[1].PlayerID
	path := "/api/matches/" + m.ID

	e.do(t, http.MethodPost, path+"/report", p1, map[string]any{"winner_id": p1, "score1": 3, "score2": 1}, nil)
	var got matchBody
	e.do(t, http.MethodPost, path+"/report", p2, map[string]any{"winner_id": p2, "score1": 0, "score2": 3}, &got)
	if got.State != "disputed" {
		t.Fatalf("unexpected state %v", got.State)
	}
	res := map[string]any{"winner_id": p2, "score1": 2, "score2": 3, "reason": "video evidence"}
	if code := e.do(t, http.MethodPost, path+"/resolve", "", res, nil); code != http.StatusBadRequest {
		t.Fatalf("resolve without actor: unexpected status %v", code)
	}
	if code := e.do(t, http.MethodPost, path+"/resolve", "admin", res, &got); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if got.State != "completed" || got.Players[1].IsWinner == nil || !*got.Players[1].IsWinner {
		t.Fatalf("unexpected match %+v", got)
	}
}

func TestDisqualify(t *testing.T) {
	e := newEnv(t, startgg.WithTournament(activeTournament()), readySet())
	_, m := e.syncedMatch(t)
	p1 := m.Players[0].PlayerID
	path := "/api/matches/" + m.ID

	if code := e.do(t, http.MethodPost, path+"/disqualify", "admin", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Fatalf("unexpected status %v", code)
	}
	var got matchBody
	if code := e.do(t, http.MethodPost, path+"/disqualify", "admin", map[string]string{"player_id": p1, "reason": "no show"}, &got); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if got.State != "dq" || got.Players[1].IsWinner == nil || !*got.Players[1].IsWinner {
		t.Fatalf("unexpected match %+v", got)
	}
}

func TestGzippedList(t *testing.T) {
	var opts []startgg.MockOption
	for i := range 20 {
		tr := activeTournament()
		tr.ID = startgg.ID(fmt.Sprint(1000 + i))
		tr.Slug = fmt.Sprintf("tournament/weekly-%02d", i)
		tr.Name = fmt.Sprintf("Weekly Tournament With A Rather Long Name #%d", i)
		opts = append(opts, startgg.WithTournament(tr))
	}
	e := newEnv(t, opts...)
	var tracked []tournamentBody
	if code := e.do(t, http.MethodPost, "/api/tournaments", "", map[string]string{"owner_id": "7"}, &tracked); code != http.StatusOK {
		t.Fatalf("unexpected status %v", code)
	}
	if len(tracked) != 20 {
		t.Fatalf("expected 20 tournaments, got %v", len(tracked))
	}

	req := e.request(t, http.MethodGet, "/api/tournaments", "", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rsp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer rsp.Body.Close()
	if enc := rsp.Header.Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("unexpected encoding %q", enc)
	}
	zr, err := gzip.NewReader(rsp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var list []tournamentBody
	if err := json.NewDecoder(zr).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 20 {
		t.Fatalf("expected 20 tournaments, got %v", len(list))
	}
}

func TestFeed(t *testing.T) {
	e := newEnv(t, startgg.WithTournament(activeTournament()), readySet())
	tid, m := e.syncedMatch(t)
	p1 := m.Players[0].PlayerID

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/tournaments/" + tid + "/feed?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	e.do(t, http.MethodPost, "/api/matches/"+m.ID+"/report", p1, map[string]any{"winner_id": p1, "score1": 2, "score2": 0}, nil)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev feed.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != match.ActionReport || ev.MatchID != m.ID || ev.From != "not_started" || ev.To != "pending_confirmation" || ev.ActorID != p1 {
		t.Fatalf("unexpected event %+v", ev)
	}

	bad := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/tournaments/" + tid + "/feed?access_token=nope"
	if _, rsp, err := websocket.DefaultDialer.Dial(bad, nil); err == nil || rsp == nil || rsp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
