package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/compiler"
	"github.com/roach88/strand/internal/config"
	"github.com/roach88/strand/internal/def"
	"github.com/roach88/strand/internal/store"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	Database string
	Name     string
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy <definition.json>",
		Short: "Validate and register a workflow definition",
		Long: `Validate a definition tree and upsert it under a name. Redeploying
an existing name replaces the tree; instances pick up the new tree on
their next step.

Example:
  strand deploy --db ./strand.db --name onboarding ./onboarding.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return deployDefinition(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "workflow name (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func deployDefinition(cmd *cobra.Command, opts *DeployOptions, path string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read definition", err)
	}

	root, err := compiler.ValidateDefinition(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "definition rejected", err)
	}
	canonical, err := def.MarshalTree(root)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode definition", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	d, err := st.UpsertDefinition(cmd.Context(), opts.Name, canonical)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to register definition", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "deployed %s (%s)\n", d.Name, d.ID)
	return nil
}
