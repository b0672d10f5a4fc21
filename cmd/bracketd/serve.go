package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alex65536/bracketd/internal/cache"
	"github.com/alex65536/bracketd/internal/httpapi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Args:  cobra.ExactArgs(0),
		Short: "Run the poll scheduler and the HTTP API",
	}
	flags := addConfigFlags(cmd, true)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runWithSignals(func(ctx context.Context) error {
			a, opts, secrets, err := flags.load(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if secrets.StartGGToken == "" {
				a.log.Warn("no startgg token configured, polls will fail")
			}
			return serve(ctx, a, opts, secrets)
		})
	}
	return cmd
}

func serve(ctx context.Context, a *app, opts *Options, secrets *Secrets) error {
	log := a.log
	handler, err := httpapi.Handler(log.With(slog.String("component", "httpapi")), httpapi.Config{
		Token:   secrets.APIToken,
		Poller:  a.sched,
		Tracker: a.mirror,
		Matches: a.engine,
		Hub:     a.hub,
	}, opts.API)
	if err != nil {
		return fmt.Errorf("create api handler: %w", err)
	}
	srv := newServers(ctx, log, opts, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.sched.Run(gctx); err != nil {
			return fmt.Errorf("run scheduler: %w", err)
		}
		return nil
	})
	if mem, ok := a.store.(*cache.Memory); ok {
		g.Go(func() error {
			mem.RunJanitor(gctx, log, opts.Cache.JanitorInterval)
			return nil
		})
	}
	g.Go(func() error {
		return srv.Run(gctx)
	})
	// Stopping the scheduler or the servers stops everything else.
	g.Go(func() error {
		<-gctx.Done()
		a.hub.Close()
		return nil
	})

	log.Info("bracketd started")
	err = g.Wait()
	log.Info("bracketd stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
