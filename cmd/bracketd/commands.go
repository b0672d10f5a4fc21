package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/alex65536/bracketd/internal/tournament"
	"github.com/alex65536/bracketd/internal/util/style"
	"github.com/spf13/cobra"
)

func stateColor(s tournament.State) string {
	switch s {
	case tournament.StateInProgress:
		return style.Green
	case tournament.StateRegistrationOpen:
		return style.Cyan
	case tournament.StateCancelled:
		return style.Red
	case tournament.StateCompleted:
		return style.Bold
	default:
		return style.Yellow
	}
}

func printTournament(w io.Writer, t *tournament.Tournament) {
	_, _ = fmt.Fprintf(w, "%v  %v  %v\n",
		style.With(t.ID, style.Bold),
		style.With(t.State.PrettyString(), stateColor(t.State)),
		t.Slug,
	)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func newTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track [slug]...",
		Short: "Start mirroring tournaments",
		Long: `Start mirroring tournaments by slug, or every tournament of an owner when
--owner is given. A running server picks the new tournaments up on restart.
`,
	}
	flags := addConfigFlags(cmd, true)
	owner := cmd.Flags().String("owner", "", "track every tournament of this owner")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if (*owner == "") == (len(args) == 0) {
			return fmt.Errorf("give either slugs or --owner")
		}
		return runWithSignals(func(ctx context.Context) error {
			a, _, _, err := flags.load(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if *owner != "" {
				ts, err := a.mirror.TrackOwner(ctx, *owner)
				if err != nil {
					return fmt.Errorf("track owner: %w", err)
				}
				for i := range ts {
					printTournament(style.Stdout(), &ts[i])
				}
				return nil
			}
			for _, slug := range args {
				t, err := a.mirror.Track(ctx, slug)
				if err != nil {
					return fmt.Errorf("track %q: %w", slug, err)
				}
				printTournament(style.Stdout(), &t)
			}
			return nil
		})
	}
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <tournament-id>",
		Args:  cobra.ExactArgs(1),
		Short: "Show the poll status of a tournament",
	}
	flags := addConfigFlags(cmd, false)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runWithSignals(func(ctx context.Context) error {
			a, _, _, err := flags.load(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.mirror.Get(ctx, args[0])
			if err != nil {
				return err
			}
			st, err := a.sched.Status(ctx, t.ID)
			if err != nil {
				return err
			}
			printTournament(style.Stdout(), &t)
			fmt.Printf("last polled: %v\n", formatTime(st.LastPolledAt))
			if st.Interval == nil {
				fmt.Println("not polled any more")
				return nil
			}
			fmt.Printf("interval:    %v\n", *st.Interval)
			fmt.Printf("next poll:   %v\n", formatTime(st.NextPollAt))
			return nil
		})
	}
	return cmd
}

func newPollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <tournament-id>",
		Args:  cobra.ExactArgs(1),
		Short: "Sync a tournament with upstream once",
	}
	flags := addConfigFlags(cmd, true)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runWithSignals(func(ctx context.Context) error {
			a, _, _, err := flags.load(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.mirror.Sync(ctx, args[0]); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			t, err := a.mirror.Get(ctx, args[0])
			if err != nil {
				return err
			}
			printTournament(style.Stdout(), &t)
			return nil
		})
	}
	return cmd
}

func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <tournament-id>",
		Args:  cobra.ExactArgs(1),
		Short: "Cancel a tournament locally and stop polling it",
	}
	flags := addConfigFlags(cmd, false)
	actor := cmd.Flags().String("actor", "cli", "actor recorded for the cancellation")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runWithSignals(func(ctx context.Context) error {
			a, _, _, err := flags.load(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.mirror.Cancel(ctx, args[0], *actor)
			if err != nil {
				return err
			}
			printTournament(style.Stdout(), &t)
			return nil
		})
	}
	return cmd
}
