// Package httpapi is the JSON surface used by the chat bot and the web portal.
// Callers authenticate with a shared bearer token and pass the identity of the
// already-authorized user in the X-Actor-ID header.
package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/alex65536/bracketd/internal/feed"
	"github.com/alex65536/bracketd/internal/match"
	"github.com/alex65536/bracketd/internal/poll"
	"github.com/alex65536/bracketd/internal/tournament"
	"github.com/alex65536/bracketd/internal/util/httputil"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/alex65536/bracketd/internal/util/websockutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Poller interface {
	Status(ctx context.Context, id string) (poll.Status, error)
	TriggerImmediate(ctx context.Context, id string) (poll.TriggerResult, error)
	ListJobs() []poll.JobInfo
}

type Tracker interface {
	Track(ctx context.Context, slug string) (tournament.Tournament, error)
	TrackOwner(ctx context.Context, ownerID string) ([]tournament.Tournament, error)
	Untrack(ctx context.Context, id string) error
	Cancel(ctx context.Context, id, actorID string) (tournament.Tournament, error)
	Get(ctx context.Context, id string) (tournament.Tournament, error)
	List(ctx context.Context) ([]tournament.Tournament, error)
}

type Matches interface {
	Get(ctx context.Context, matchID string) (match.Match, error)
	List(ctx context.Context, tournamentID string) ([]match.Match, error)
	Audit(ctx context.Context, matchID string) ([]match.AuditRecord, error)
	Report(ctx context.Context, matchID, reporterID, winnerID string, score1, score2 int) (match.Match, error)
	Confirm(ctx context.Context, matchID, playerID string) (match.Match, error)
	Disqualify(ctx context.Context, matchID, playerID, actorID, reason string) (match.Match, error)
	Resolve(ctx context.Context, matchID, winnerID string, score1, score2 int, actorID, reason string) (match.Match, error)
}

type Options struct {
	RequestTimeout time.Duration       `toml:"request-timeout"`
	MaxBodySize    int64               `toml:"max-body-size"`
	WebSocket      websockutil.Options `toml:"websocket"`
}

func (o *Options) FillDefaults() {
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.MaxBodySize == 0 {
		o.MaxBodySize = 64 * 1024
	}
	o.WebSocket.FillDefaults()
}

type Config struct {
	Token   string
	Poller  Poller
	Tracker Tracker
	Matches Matches
	// Optional. Without a hub the feed endpoint is not mounted.
	Hub *feed.Hub
}

type server struct {
	o       Options
	cfg     Config
	log     *slog.Logger
	sockets *websockutil.SessionFactory
}

const actorHeader = "X-Actor-ID"

func Handler(log *slog.Logger, cfg Config, o Options) (http.Handler, error) {
	o.FillDefaults()
	if cfg.Token == "" {
		return nil, fmt.Errorf("no api token")
	}
	if cfg.Poller == nil || cfg.Tracker == nil || cfg.Matches == nil {
		return nil, fmt.Errorf("missing backend")
	}
	s := &server{
		o:       o,
		cfg:     cfg,
		log:     log,
		sockets: websockutil.NewSessionFactory(o.WebSocket),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.wrapRequest)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Group(func(r chi.Router) {
			r.Use(gziphandler.GzipHandler)
			r.Use(middleware.Timeout(o.RequestTimeout))

			r.Get("/tournaments", s.handle(s.listTournaments))
			r.Post("/tournaments", s.handle(s.track))
			r.Get("/tournaments/{id}", s.handle(s.getTournament))
			r.Delete("/tournaments/{id}/track", s.handle(s.untrack))
			r.Post("/tournaments/{id}/cancel", s.handle(s.cancel))
			r.Get("/tournaments/{id}/poll", s.handle(s.pollStatus))
			r.Post("/tournaments/{id}/poll", s.handle(s.triggerPoll))
			r.Get("/tournaments/{id}/matches", s.handle(s.listMatches))
			r.Get("/jobs", s.handle(s.listJobs))

			r.Get("/matches/{id}", s.handle(s.getMatch))
			r.Get("/matches/{id}/audit", s.handle(s.matchAudit))
			r.Post("/matches/{id}/report", s.handle(s.report))
			r.Post("/matches/{id}/confirm", s.handle(s.confirm))
			r.Post("/matches/{id}/disqualify", s.handle(s.disqualify))
			r.Post("/matches/{id}/resolve", s.handle(s.resolve))
		})
		if cfg.Hub != nil {
			r.Get("/tournaments/{id}/feed", s.handle(s.feed))
		}
	})
	return r, nil
}

func (s *server) wrapRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req = httputil.WrapRequest(req)
		w.Header().Set(httputil.RequestIDHeader, httputil.ExtractReqID(req.Context()))
		next.ServeHTTP(w, req)
	})
}

func bearerToken(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return ""
		}
		return token
	}
	// Browsers cannot set headers on websocket requests.
	if websockIsUpgrade(req) {
		return req.URL.Query().Get("access_token")
	}
	return ""
}

func websockIsUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

func (s *server) requireToken(next http.Handler) http.Handler {
	want := []byte(s.cfg.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		got := []byte(bearerToken(req))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.log.Info("rejected request with bad token",
				slog.String("addr", req.RemoteAddr),
				slog.String("path", req.URL.Path),
			)
			err := httputil.MakeAuthError("bad token", `Bearer realm="bracketd"`)
			if err := httputil.WriteErrorResponse(err, w); err != nil {
				s.log.Info("error writing error response", slogx.Err(err))
			}
			return
		}
		next.ServeHTTP(w, req)
	})
}
