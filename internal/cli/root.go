// Package cli implements the syncworker command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/kavaro/sync-worker/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the syncworker CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncworker",
		Short: "Offline-first document sync",
		Long:  "syncworker runs the server side of an offline-first, three-tier document sync: an authoritative replica behind an HTTP push endpoint.",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig(opts *RootOptions) (Config, error) {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	logging.Init(cfg.Logging)
	return cfg, nil
}
