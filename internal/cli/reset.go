package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/config"
	"github.com/roach88/strand/internal/store"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Database string
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset <instance-id>",
		Short: "Re-open an instance from the beginning",
		Long: `Reset an instance: status back to runnable, scheduled immediately,
lease cleared, every step back to pending with zero attempts.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resetInstance(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func resetInstance(cmd *cobra.Command, opts *ResetOptions, id string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	err = st.ResetInstance(cmd.Context(), id, time.Now())
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "instance not found", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to reset instance", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", id)
	return nil
}
