package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alex65536/bracketd/internal/feed"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/go-chi/chi/v5"
)

func encodeEvents(log *slog.Logger, sub *feed.Subscription, done <-chan struct{}) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for ev := range sub.C() {
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error("could not marshal feed event", slogx.Err(err))
				continue
			}
			select {
			case out <- data:
			case <-done:
				return
			}
		}
	}()
	return out
}

func (s *server) feed(w http.ResponseWriter, req *http.Request, log *slog.Logger) error {
	id := chi.URLParam(req, "id")
	if _, err := s.cfg.Tracker.Get(req.Context(), id); err != nil {
		return err
	}

	sub := s.cfg.Hub.Subscribe(id)
	defer sub.Close()

	session, err := s.sockets.NewSession(w, req, log)
	if err != nil {
		// The upgrader has already replied.
		return nil
	}
	log.Info("feed subscriber connected", slog.String("tournament_id", id))

	done := make(chan struct{})
	src := encodeEvents(log, sub, done)
	err = session.Serve(req.Context(), src)
	close(done)
	if err != nil {
		log.Info("feed session ended", slogx.Err(err))
		return nil
	}
	log.Info("feed subscriber disconnected", slog.String("tournament_id", id))
	return nil
}
