// Package cmd defines the syncboard CLI: the dashboard backend and its
// polling terminal client.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncboard",
		Short: "A read-mostly dashboard over a music sync engine.",
		Long: `syncboard derives per-track sync status from the engine's Postgres facts
and Redis progress cache, serves it over HTTP, and renders it in a polling
terminal client.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() error {
	return newRootCmd().Execute()
}
