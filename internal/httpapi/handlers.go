package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alex65536/bracketd/internal/apperr"
	"github.com/alex65536/bracketd/internal/retry"
	"github.com/alex65536/bracketd/internal/startgg"
	"github.com/alex65536/bracketd/internal/util/httputil"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/go-chi/chi/v5"
)

type handlerFunc func(w http.ResponseWriter, req *http.Request, log *slog.Logger) error

func (s *server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		log := s.log.With(
			slog.String("addr", req.RemoteAddr),
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("rid", httputil.ExtractReqID(req.Context())),
		)
		if actor := req.Header.Get(actorHeader); actor != "" {
			log = log.With(slog.String("actor_id", actor))
		}
		log.Debug("handle api request")
		if err := fn(w, req, log); err != nil {
			err = s.mapError(log, err)
			if err := httputil.WriteErrorResponse(err, w); err != nil {
				log.Info("error writing error response", slogx.Err(err))
			}
		}
	}
}

// statusOf maps an error from the core to an HTTP status.
func statusOf(err error) int {
	var authErr *startgg.AuthError
	if errors.As(err, &authErr) {
		return http.StatusBadGateway
	}
	var exceeded *retry.RateLimitExceededError
	if errors.As(err, &exceeded) {
		return http.StatusServiceUnavailable
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotRunning:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) mapError(log *slog.Logger, err error) error {
	if httpErr := (*httputil.Error)(nil); errors.As(err, &httpErr) {
		return err
	}
	code := statusOf(err)
	var msg string
	var appErr *apperr.Error
	switch {
	case code == http.StatusBadGateway:
		msg = "upstream authentication failed"
	case errors.As(err, new(*retry.RateLimitExceededError)):
		msg = "upstream rate limit exceeded, try again later"
	case code != http.StatusInternalServerError && errors.As(err, &appErr):
		msg = appErr.Message
	default:
		log.Warn("request failed", slogx.Err(err))
		return err
	}
	log.Info("request rejected", slog.Int("status", code), slogx.Err(err))
	return httputil.MakeError(code, msg)
}

func (s *server) decode(w http.ResponseWriter, req *http.Request, v any) error {
	body := http.MaxBytesReader(w, req.Body, s.o.MaxBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return httputil.MakeError(http.StatusBadRequest, "empty request body")
		}
		return httputil.MakeError(http.StatusBadRequest, "bad json: "+err.Error())
	}
	return nil
}

func actor(req *http.Request) (string, error) {
	a := strings.TrimSpace(req.Header.Get(actorHeader))
	if a == "" {
		return "", httputil.MakeError(http.StatusBadRequest, "missing "+actorHeader+" header")
	}
	return a, nil
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, code int, v any) error {
	if err := httputil.WriteJSON(w, code, v); err != nil {
		log.Info("error writing response", slogx.Err(err))
	}
	return nil
}

func (s *server) listTournaments(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	ts, err := s.cfg.Tracker.List(req.Context())
	if err != nil {
		return err
	}
	res := make([]tournamentView, len(ts))
	for i := range ts {
		res[i] = viewTournament(&ts[i])
	}
	return writeJSON(w, log, http.StatusOK, res)
}

type trackRequest struct {
	Slug    string `json:"slug,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`
}

func (s *server) track(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	var body trackRequest
	if err := s.decode(w, req, &body); err != nil {
		return err
	}
	switch {
	case body.Slug != "" && body.OwnerID != "":
		return httputil.MakeError(http.StatusBadRequest, "slug and owner_id are mutually exclusive")
	case body.OwnerID != "":
		ts, err := s.cfg.Tracker.TrackOwner(req.Context(), body.OwnerID)
		if err != nil {
			return err
		}
		res := make([]tournamentView, len(ts))
		for i := range ts {
			res[i] = viewTournament(&ts[i])
		}
		return writeJSON(w, log, http.StatusOK, res)
	default:
		t, err := s.cfg.Tracker.Track(req.Context(), body.Slug)
		if err != nil {
			return err
		}
		return writeJSON(w, log, http.StatusCreated, viewTournament(&t))
	}
}

func (s *server) getTournament(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	t, err := s.cfg.Tracker.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, log, http.StatusOK, viewTournament(&t))
}

func (s *server) untrack(w http.ResponseWriter, req *http.Request, _ *slog.Logger) error {
	if err := s.cfg.Tracker.Untrack(req.Context(), chi.URLParam(req, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *server) cancel(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	actorID, err := actor(req)
	if err != nil {
		return err
	}
	t, err := s.cfg.Tracker.Cancel(req.Context(), chi.URLParam(req, "id"), actorID)
	if err != nil {
		return err
	}
	return writeJSON(w, log, http.StatusOK, viewTournament(&t))
}

func (s *server) pollStatus(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	st, err := s.cfg.Poller.Status(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, log, http.StatusOK, viewPollStatus(st))
}

func (s *server) triggerPoll(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	res, err := s.cfg.Poller.TriggerImmediate(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		if res.Message == "" {
			return err
		}
		log.Info("poll trigger rejected", slog.String("message", res.Message))
		return httputil.MakeErrorWithBody(statusOf(err), res.Message, res)
	}
	return writeJSON(w, log, http.StatusAccepted, res)
}

func (s *server) listJobs(w http.ResponseWriter, _ *http.Request, log *slog.Logger) error {
	jobs := s.cfg.Poller.ListJobs()
	res := make([]jobView, len(jobs))
	for i, j := range jobs {
		res[i] = viewJob(j)
	}
	return writeJSON(w, log, http.StatusOK, res)
}

func (s *server) listMatches(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	id := chi.URLParam(req, "id")
	if _, err := s.cfg.Tracker.Get(req.Context(), id); err != nil {
		return err
	}
	ms, err := s.cfg.Matches.List(req.Context(), id)
	if err != nil {
		return err
	}
	res := make([]matchView, len(ms))
	for i := range ms {
		res[i] = viewMatch(&ms[i])
	}
	return writeJSON(w, log, http.StatusOK, res)
}

func (s *server) getMatch(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	m, err := s.cfg.Matches.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, log, http.StatusOK, viewMatch(&m))
}

func (s *server) matchAudit(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	id := chi.URLParam(req, "id")
	if _, err := s.cfg.Matches.Get(req.Context(), id); err != nil {
		return err
	}
	recs, err := s.cfg.Matches.Audit(req.Context(), id)
	if err != nil {
		return err
	}
	res := make([]auditView, len(recs))
	for i := range recs {
		res[i] = viewAudit(&recs[i])
	}
	return writeJSON(w, log, http.StatusOK, res)
}

type scoreRequest struct {
	WinnerID string `json:"winner_id"`
	Score1   *int   `json:"score1"`
	Score2   *int   `json:"score2"`
	Reason   string `json:"reason,omitempty"`
}

func (r *scoreRequest) validate() error {
	if r.WinnerID == "" {
		return apperr.Validationf("winner_id is required")
	}
	if r.Score1 == nil || r.Score2 == nil {
		return apperr.Validationf("score1 and score2 are required")
	}
	return nil
}

func (s *server) report(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	reporterID, err := actor(req)
	if err != nil {
		return err
	}
	var body scoreRequest
	if err := s.decode(w, req, &body); err != nil {
		return err
	}
	if err := body.validate(); err != nil {
		return err
	}
	m, err := s.cfg.Matches.Report(req.Context(), chi.URLParam(req, "id"), reporterID, body.WinnerID, *body.Score1, *body.Score2)
	if err != nil {
		return err
	}
	return writeJSON(w, log, http.StatusOK, viewMatch(&m))
}

func (s *server) confirm(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	playerID, err := actor(req)
	if err != nil {
		return err
	}
	m, err := s.cfg.Matches.Confirm(req.Context(), chi.URLParam(req, "id"), playerID)
	if err != nil {
		return err
	}
	return writeJSON(w, log, http.StatusOK, viewMatch(&m))
}

type disqualifyRequest struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason"`
}

func (s *server) disqualify(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	actorID, err := actor(req)
	if err != nil {
		return err
	}
	var body disqualifyRequest
	if err := s.decode(w, req, &body); err != nil {
		return err
	}
	if body.PlayerID == "" {
		return apperr.Validationf("player_id is required")
	}
	m, err := s.cfg.Matches.Disqualify(req.Context(), chi.URLParam(req, "id"), body.PlayerID, actorID, body.Reason)
	if err != nil {
		return err
	}
	return writeJSON(w, log, http.StatusOK, viewMatch(&m))
}

func (s *server) resolve(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	actorID, err := actor(req)
	if err != nil {
		return err
	}
	var body scoreRequest
	if err := s.decode(w, req, &body); err != nil {
		return err
	}
	if err := body.validate(); err != nil {
		return err
	}
	m, err := s.cfg.Matches.Resolve(req.Context(), chi.URLParam(req, "id"), body.WinnerID, *body.Score1, *body.Score2, actorID, body.Reason)
	if err != nil {
		return err
	}
	return writeJSON(w, log, http.StatusOK, viewMatch(&m))
}
