package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/timer"
)

// HeartbeatPath is written by the run command on every heartbeat.
const HeartbeatPath = "/system/heartbeat"

// SystemOwner issues the run command's own graph operations.
const SystemOwner = "system"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database  string
	Seed      string
	Heartbeat string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve a resource graph",
		Long: `Open a resource graph, restore it from the database, apply an optional
seed file and run the timer scheduler until interrupted.

A heartbeat timer writes its fire count to /system/heartbeat.

Example:
  resgraph run --db ./graph.db
  resgraph run --db ./graph.db --seed ./seed.yaml --heartbeat 5s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (in-memory graph if empty)")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML seed file of types and nodes")
	cmd.Flags().StringVar(&opts.Heartbeat, "heartbeat", "", "heartbeat period (default from config)")
	opts.bind(cmd, "database", "db")
	opts.bind(cmd, "heartbeat", "heartbeat")

	return cmd
}

func runGraph(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	var seed *Seed
	var types *graph.TypeTable
	if opts.Seed != "" {
		if seed, err = LoadSeed(opts.Seed); err != nil {
			return WrapExitError(ExitCommandError, "failed to load seed", err)
		}
		types = seed.TypeTable()
	}

	rt, err := OpenRuntime(cfg, types)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open graph", err)
	}
	defer func() {
		if closeErr := rt.Close(context.Background()); closeErr != nil {
			slog.Error("error closing runtime", "error", closeErr)
		}
	}()

	sess := rt.Graph.Session(SystemOwner)
	if seed != nil {
		if err := seed.Apply(sess); err != nil {
			return WrapExitError(ExitCommandError, "failed to apply seed", err)
		}
		slog.Info("seed applied", "path", opts.Seed, "nodes", len(seed.Nodes))
	}

	if err := sess.CreateNode(HeartbeatPath, ""); err != nil {
		return WrapExitError(ExitFailure, "failed to create heartbeat node", err)
	}
	_, err = rt.Timers.CreateTimer(cfg.Heartbeat, timer.ListenerFunc(func(t *timer.Timer) {
		fires, _ := t.Stats()
		if err := sess.SetValue(HeartbeatPath, ir.Int(fires)); err != nil {
			slog.Warn("heartbeat write failed", "error", err)
		}
	}))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start heartbeat", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("graph serving", "db", cfg.Database, "seq", rt.Graph.Seq(), "heartbeat", cfg.Heartbeat)
	fmt.Fprintln(cmd.OutOrStdout(), "Graph ready. Press Ctrl-C to stop.")

	if err := rt.Timers.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}

	slog.Info("graph stopped gracefully", "seq", rt.Graph.Seq())
	return nil
}
