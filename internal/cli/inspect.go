package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/config"
	"github.com/roach88/strand/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "inspect <instance-id>",
		Short:         "Show an instance with its steps and blackboard",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectInstance(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func inspectInstance(cmd *cobra.Command, opts *InspectOptions, id string) error {
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

	ctx := cmd.Context()
	inst, err := st.GetInstance(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "instance not found", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read instance", err)
	}

	steps, err := st.StepsForInstance(ctx, inst.ID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read steps", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "instance: %s\nstatus:   %s\n", inst.ID, inst.Status)
	if inst.NextRunAt != nil {
		fmt.Fprintf(out, "next run: %s\n", inst.NextRunAt.Format("2006-01-02 15:04:05"))
	}
	if inst.LeaseOwner != nil {
		fmt.Fprintf(out, "lease:    %s until %s\n", *inst.LeaseOwner, inst.LeaseUntil.Format("15:04:05"))
	}

	ids := make([]string, 0, len(steps))
	for nodeID := range steps {
		ids = append(ids, nodeID)
	}
	sort.Strings(ids)
	fmt.Fprintln(out, "steps:")
	for _, nodeID := range ids {
		s := steps[nodeID]
		fmt.Fprintf(out, "  %-40s %-10s attempts=%d", nodeID, s.Status, s.Attempts)
		if s.LastError != "" {
			fmt.Fprintf(out, " error=%q", s.LastError)
		}
		fmt.Fprintln(out)
	}

	bb, err := json.MarshalIndent(inst.Blackboard, "", "  ")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode blackboard", err)
	}
	fmt.Fprintf(out, "blackboard:\n%s\n", bb)
	return nil
}
