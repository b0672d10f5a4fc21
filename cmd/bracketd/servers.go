package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"

	"github.com/alex65536/bracketd/internal/util/slogx"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"
)

type servers struct {
	o        *Options
	insecure *http.Server
	secure   *http.Server
	ctx      context.Context
	cancel   func()
	log      *slog.Logger
}

func newServers(parentCtx context.Context, log *slog.Logger, o *Options, handler http.Handler) *servers {
	ctx, cancel := context.WithCancel(parentCtx)
	s := &servers{
		o:      o,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	baseCtx := func(net.Listener) context.Context { return ctx }
	if o.HTTPS == nil {
		s.insecure = &http.Server{
			Addr:        o.Addr,
			Handler:     handler,
			BaseContext: baseCtx,
		}
		return s
	}
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(slices.Clone(o.HTTPS.AllowedSecureDomains)...),
		Cache:      autocert.DirCache(o.HTTPS.CachePath),
	}
	s.secure = &http.Server{
		Addr:        o.HTTPS.Addr,
		TLSConfig:   m.TLSConfig(),
		Handler:     handler,
		BaseContext: baseCtx,
	}
	// The insecure listener still answers ACME challenges when not exposed.
	insecureHandler := http.Handler(nil)
	if o.HTTPS.ExposeInsecure {
		insecureHandler = handler
	}
	s.insecure = &http.Server{
		Addr:        o.Addr,
		Handler:     m.HTTPHandler(insecureHandler),
		BaseContext: baseCtx,
	}
	return s
}

func (s *servers) iterServers(f func(name string, serv *http.Server)) {
	if s.insecure != nil {
		f("insecure", s.insecure)
	}
	if s.secure != nil {
		f("secure", s.secure)
	}
}

// Run serves until ctx is done or a listener fails, then shuts every server
// down.
func (s *servers) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.iterServers(func(name string, serv *http.Server) {
		g.Go(func() error {
			log := s.log.With(slog.String("name", name), slog.String("addr", serv.Addr))
			log.Info("starting http server")
			var err error
			if name == "secure" {
				err = serv.ListenAndServeTLS("", "")
			} else {
				err = serv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %v server: %w", name, err)
			}
			return nil
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})
	return g.Wait()
}

func (s *servers) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.o.ShutdownTimeout)
	defer cancel()
	s.iterServers(func(name string, serv *http.Server) {
		log := s.log.With(slog.String("name", name))
		log.Info("stopping http server")
		if err := serv.Shutdown(ctx); err != nil {
			log.Warn("could not shut down server", slogx.Err(err))
		}
	})
	s.cancel()
}
