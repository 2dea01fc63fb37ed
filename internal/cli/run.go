package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/config"
	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Workers  int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start worker loops against the database",
		Long: `Start one or more worker loops. Each worker claims ready instances
from the store, executes one leaf step at a time, and commits every
transition. Multiple processes may run against the same database; the
lease serializes them per instance.

Example:
  strand run --db ./strand.db
  strand run --db ./strand.db --workers 4 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of worker loops (overrides config)")

	return cmd
}

func runWorkers(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Workers > 0 {
		cfg.Worker.Count = opts.Workers
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Started %d worker(s). Press Ctrl-C to stop.\n", cfg.Worker.Count)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Count; i++ {
		w := engine.NewWorker(st,
			engine.WithLease(cfg.Worker.Lease()),
			engine.WithMaxAttempts(cfg.Worker.MaxAttempts),
			engine.WithBackoffBase(cfg.Worker.BackoffBase()),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("worker exited", "worker_id", w.ID(), "error", err)
			}
		}()
	}
	wg.Wait()

	slog.Info("all workers stopped")
	return nil
}

// signalContext derives a context cancelled by SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
