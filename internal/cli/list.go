package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/config"
	"github.com/roach88/strand/internal/store"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Database string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List deployed workflows and their instances",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAll(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func listAll(cmd *cobra.Command, opts *ListOptions) error {
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
	defs, err := st.ListDefinitions(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list definitions", err)
	}
	insts, err := st.ListInstances(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list instances", err)
	}

	names := make(map[string]string, len(defs))
	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKFLOW\tID\tUPDATED")
	for _, d := range defs {
		names[d.ID] = d.Name
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.ID, d.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()

	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tWORKFLOW\tSTATUS\tNEXT RUN")
	for _, inst := range insts {
		next := "-"
		if inst.NextRunAt != nil {
			next = inst.NextRunAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", inst.ID, names[inst.DefinitionID], inst.Status, next)
	}
	tw.Flush()

	return nil
}
