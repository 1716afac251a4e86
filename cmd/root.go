// Package cmd wires the newspipe CLI.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amasri/newspipe/internal/app"
	"github.com/amasri/newspipe/internal/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType struct{}

var appKey appKeyType

// newAppFn is the application factory, replaceable in tests.
var newAppFn = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newspipe",
		Short: "Feed ingestion and enrichment pipeline.",
		Long: `newspipe polls syndication feeds, deduplicates items, publishes them onto a
partitioned log, and enriches them with full article content persisted to an
idempotent store.`,

		// Runs after flags are parsed, before the subcommand's RunE: load
		// config, build services, and hand them to subcommands through the
		// context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			a, err := newAppFn(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and NEWSPIPE_* env vars apply without one)")

	cmd.AddCommand(newPollCmd())
	cmd.AddCommand(newConsumeCmd())
	cmd.AddCommand(newPipelineCmd())

	return cmd
}

// appFromContext returns the injected App.
func appFromContext(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
