package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
	apperrors "github.com/alexisbeaulieu97/pipewright/pkg/errors"
)

type runOptions struct {
	executionType string
	timeout       time.Duration
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <definition-file>",
		Short: "Launch a definition and process it in this process until it completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, root, args[0], opts)
		},
	}

	addTypeFlag(cmd, &opts.executionType)
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")

	return cmd
}

func runRun(cmd *cobra.Command, root *rootFlags, path string, opts *runOptions) error {
	typ, err := parseType(opts.executionType)
	if err != nil {
		return newCommandError("run", "reading --type", err, "Use 'pipeline' or 'orchestration'.")
	}
	document, err := readDefinition(path, cmd.InOrStdin())
	if err != nil {
		return newCommandError("run", "reading definition", err, "Pass a readable YAML or JSON file, or '-' for stdin.")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newAppContext(ctx, root.configPath, root.verbose, cmd.ErrOrStderr())
	if err != nil {
		return newCommandError("run", "initialising services", err, suggestionFor(err))
	}
	defer app.Close()

	launched, err := app.Launcher.Launch(ctx, typ, document)
	if err != nil {
		return newCommandError("run", "launching definition", err, suggestionFor(err))
	}

	final := launched
	if !launched.Status.IsComplete() {
		final, err = driveUntilComplete(ctx, app, launched, opts.timeout)
		if err != nil {
			return newCommandError("run", fmt.Sprintf("waiting for execution %s", launched.ID), err,
				"Inspect it with 'pipewright get "+launched.ID+"'.")
		}
	}

	p := newPrinter(cmd.OutOrStdout(), root.jsonOutput)
	if err := p.execution(final); err != nil {
		return err
	}
	if !final.Status.IsSuccessful() && final.Status != execution.StatusFailedContinue {
		return apperrors.NewExecutionError(final.ID, fmt.Errorf("finished with status %s", final.Status))
	}
	return nil
}

// driveUntilComplete runs the worker alongside a status poll and stops both
// once the execution reaches a complete status or timeout elapses.
func driveUntilComplete(ctx context.Context, app *AppContext, e *execution.Execution, timeout time.Duration) (*execution.Execution, error) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var final *execution.Execution
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return app.Worker.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		var err error
		final, err = waitForCompletion(gctx, app.Repo, e.Type, e.ID, app.Config.PollInterval())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return final, nil
}

func waitForCompletion(ctx context.Context, repo ports.ExecutionRepository, typ execution.Type, id string, interval time.Duration) (*execution.Execution, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e, err := repo.Retrieve(ctx, typ, id)
		if err != nil {
			return nil, err
		}
		if e.Status.IsComplete() {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
