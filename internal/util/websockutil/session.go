package websockutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/gorilla/websocket"
)

// Session is a server-to-client message stream over a websocket. Messages from
// the peer are read only to process control frames and are otherwise dropped.
type Session struct {
	conn *websocket.Conn
	log  *slog.Logger
	o    *Options
}

type SessionFactory struct {
	o        Options
	upgrader websocket.Upgrader
}

func NewSessionFactory(o Options) *SessionFactory {
	o.FillDefaults()
	return &SessionFactory{
		o:        o,
		upgrader: o.Upgrader(),
	}
}

func (f *SessionFactory) NewSession(w http.ResponseWriter, req *http.Request, log *slog.Logger) (*Session, error) {
	conn, err := f.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn("could not upgrade websocket", slogx.Err(err))
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	return &Session{conn: conn, log: log, o: &f.o}, nil
}

func (s *Session) readLoop(done chan<- struct{}) {
	defer close(done)
	s.conn.SetReadLimit(s.o.ReadMsgLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.o.PingTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.o.PingTimeout))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Info("could not read from websocket", slogx.Err(err))
			}
			return
		}
	}
}

func (s *Session) sendClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.o.WriteDeadline)); err != nil {
		s.log.Info("could not send close message", slogx.Err(err))
	}
}

// Serve writes every message from src as a text frame until ctx is done, src
// is closed or the peer goes away. The connection is closed on return.
func (s *Session) Serve(ctx context.Context, src <-chan []byte) error {
	readDone := make(chan struct{})
	go s.readLoop(readDone)
	defer func() {
		_ = s.conn.Close()
		<-readDone
	}()

	ticker := time.NewTicker(s.o.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.sendClose(websocket.CloseGoingAway, "server shutting down")
			return nil
		case <-readDone:
			return nil
		case data, ok := <-src:
			if !ok {
				s.sendClose(websocket.CloseNormalClosure, "")
				return nil
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.o.WriteDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.o.WriteDeadline)); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}
