package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alex65536/bracketd/internal/cache"
	"github.com/alex65536/bracketd/internal/database"
	"github.com/alex65536/bracketd/internal/feed"
	"github.com/alex65536/bracketd/internal/match"
	"github.com/alex65536/bracketd/internal/mirror"
	"github.com/alex65536/bracketd/internal/poll"
	"github.com/alex65536/bracketd/internal/startgg"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/alex65536/bracketd/internal/util/style"
)

func newLogger(o *Options) *slog.Logger {
	log := slogx.New(style.Stderr(), style.IsStderrTTY(), o.Log)
	return log.With(slog.String("instance", o.InstanceName))
}

// app is the wired core shared by all subcommands.
type app struct {
	log    *slog.Logger
	db     *database.DB
	store  cache.Store
	client *startgg.Client
	hub    *feed.Hub
	engine *match.Engine
	sched  *poll.Scheduler
	mirror *mirror.Mirror
}

func newApp(ctx context.Context, log *slog.Logger, opts *Options, secrets *Secrets) (_ *app, err error) {
	a := &app{log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = database.New(log.With(slog.String("component", "db")), opts.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.store, err = cache.New(ctx, log.With(slog.String("component", "cache")), opts.Cache)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	a.client, err = startgg.New(log.With(slog.String("component", "startgg")), opts.StartGG, secrets.StartGGToken, a.store, nil)
	if err != nil {
		return nil, fmt.Errorf("create startgg client: %w", err)
	}
	a.hub = feed.NewHub(log.With(slog.String("component", "feed")), opts.Feed)
	a.engine = match.NewEngine(log.With(slog.String("component", "match")), a.db, a.hub)

	// The scheduler syncs through the mirror, and the mirror arms jobs on the
	// scheduler.
	var mr *mirror.Mirror
	syncer := poll.SyncFunc(func(ctx context.Context, id string) error {
		return mr.Sync(ctx, id)
	})
	a.sched, err = poll.New(log.With(slog.String("component", "poll")), a.db, syncer, opts.Poll)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	mr = mirror.New(log.With(slog.String("component", "mirror")), a.client, a.db, a.engine, a.sched, a.hub, opts.Mirror)
	a.mirror = mr
	return a, nil
}

func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("could not close cache", slogx.Err(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
