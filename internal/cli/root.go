// Package cli wires the strand commands: the worker loop, the control
// API server, and thin store operations for deploy and inspection.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	Verbose bool
	Config  string
}

// NewRootCommand creates the strand root command with all subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "strand",
		Short:         "Durable workflow engine",
		Long:          "Strand runs workflow definitions as durable instances: every step commits to the store, so a crash resumes exactly where it left off.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(opts.Verbose)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "strand.yaml", "path to config file")

	cmd.AddCommand(
		NewRunCommand(opts),
		NewServeCommand(opts),
		NewDeployCommand(opts),
		NewListCommand(opts),
		NewInspectCommand(opts),
		NewResetCommand(opts),
	)

	return cmd
}

// configureLogging installs the process-wide slog handler.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
