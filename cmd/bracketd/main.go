package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alex65536/bracketd/internal/util/signal"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Version: "indev",
	Use:     "bracketd",
	Short:   "Mirrors start.gg brackets and tracks reported match results",
	Long: `bracketd polls tournaments from start.gg, keeps a local copy of their
matches and lets players report and confirm results through an HTTP API.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

type configFlags struct {
	options string
	secrets string
}

func addConfigFlags(cmd *cobra.Command, needSecrets bool) *configFlags {
	var f configFlags
	p := cmd.Flags()
	p.StringVarP(&f.options, "options", "o", "", "options file")
	p.StringVarP(&f.secrets, "secrets", "s", "", "secrets file")
	if err := cmd.MarkFlagRequired("options"); err != nil {
		panic(err)
	}
	if needSecrets {
		if err := cmd.MarkFlagRequired("secrets"); err != nil {
			panic(err)
		}
	}
	return &f
}

// load reads the configuration and builds the core. The caller must close the
// returned app.
func (f *configFlags) load(ctx context.Context, generateSecrets bool) (*app, *Options, *Secrets, error) {
	opts, err := loadOptions(f.options)
	if err != nil {
		return nil, nil, nil, err
	}
	secrets, err := loadSecrets(f.secrets, generateSecrets)
	if err != nil {
		return nil, nil, nil, err
	}
	log := newLogger(opts)
	a, err := newApp(ctx, log, opts, secrets)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, opts, secrets, nil
}

// runWithSignals runs f with a context that is cancelled on SIGINT or SIGTERM.
func runWithSignals(f func(ctx context.Context) error) error {
	ctx, cancel := signal.NotifyContext(context.Background())
	defer cancel()
	return f(ctx)
}

func main() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTrackCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newPollCmd())
	rootCmd.AddCommand(newCancelCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
