package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/operator"
)

type controlOptions struct {
	executionType string
	user          string
	reason        string
	ignoreStatus  bool
}

// operatorAction performs one administrative action. The command prints the
// execution as stored afterwards; deleted executions are reported by id only.
type operatorAction func(ctx context.Context, op *operator.Operator, typ execution.Type, args []string, opts *controlOptions) error

func newControlCmd(root *rootFlags, use, short, verb, done string, args cobra.PositionalArgs, action operatorAction) (*cobra.Command, *controlOptions) {
	opts := &controlOptions{}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, root, verb, done, args, opts, action)
		},
	}

	addTypeFlag(cmd, &opts.executionType)

	return cmd, opts
}

func runControl(cmd *cobra.Command, root *rootFlags, verb, done string, args []string, opts *controlOptions, action operatorAction) error {
	typ, err := parseType(opts.executionType)
	if err != nil {
		return newCommandError(verb, "reading --type", err, "Use 'pipeline' or 'orchestration'.")
	}

	ctx := cmd.Context()
	app, err := newAppContext(ctx, root.configPath, root.verbose, cmd.ErrOrStderr())
	if err != nil {
		return newCommandError(verb, "initialising services", err, suggestionFor(err))
	}
	defer app.Close()

	id := args[0]
	if err := action(ctx, app.Operator, typ, args, opts); err != nil {
		return newCommandError(verb, fmt.Sprintf("updating execution %q", id), err, suggestionFor(err))
	}

	p := newPrinter(cmd.OutOrStdout(), root.jsonOutput)
	e, err := app.Repo.Retrieve(ctx, typ, id)
	if execution.IsNotFound(err) {
		return p.action(done, &execution.Execution{ID: id, Type: typ})
	}
	if err != nil {
		return newCommandError(verb, fmt.Sprintf("reading execution %q", id), err, suggestionFor(err))
	}
	return p.action(done, e)
}

func newCancelCmd(root *rootFlags) *cobra.Command {
	cmd, opts := newControlCmd(root, "cancel <execution-id>", "Cancel an execution", "cancel", "canceled", cobra.ExactArgs(1),
		func(ctx context.Context, op *operator.Operator, typ execution.Type, args []string, opts *controlOptions) error {
			return op.Cancel(ctx, typ, args[0], opts.user, opts.reason)
		})
	cmd.Flags().StringVar(&opts.user, "user", defaultUser(), "User recorded as having canceled the execution")
	cmd.Flags().StringVar(&opts.reason, "reason", "", "Reason recorded with the cancellation")
	return cmd
}

func newPauseCmd(root *rootFlags) *cobra.Command {
	cmd, opts := newControlCmd(root, "pause <execution-id>", "Pause a running execution", "pause", "paused", cobra.ExactArgs(1),
		func(ctx context.Context, op *operator.Operator, typ execution.Type, args []string, opts *controlOptions) error {
			return op.Pause(ctx, typ, args[0], opts.user)
		})
	cmd.Flags().StringVar(&opts.user, "user", defaultUser(), "User recorded as having paused the execution")
	return cmd
}

func newResumeCmd(root *rootFlags) *cobra.Command {
	cmd, opts := newControlCmd(root, "resume <execution-id>", "Resume a paused execution", "resume", "resumed", cobra.ExactArgs(1),
		func(ctx context.Context, op *operator.Operator, typ execution.Type, args []string, opts *controlOptions) error {
			return op.Resume(ctx, typ, args[0], opts.user, opts.ignoreStatus)
		})
	cmd.Flags().StringVar(&opts.user, "user", defaultUser(), "User recorded as having resumed the execution")
	cmd.Flags().BoolVar(&opts.ignoreStatus, "ignore-status", false, "Resume even when the execution is not PAUSED")
	return cmd
}

func newDeleteCmd(root *rootFlags) *cobra.Command {
	cmd, _ := newControlCmd(root, "delete <execution-id>", "Delete a stored execution", "delete", "deleted", cobra.ExactArgs(1),
		func(ctx context.Context, op *operator.Operator, typ execution.Type, args []string, _ *controlOptions) error {
			return op.Delete(ctx, typ, args[0])
		})
	return cmd
}

func newRestartCmd(root *rootFlags) *cobra.Command {
	cmd, _ := newControlCmd(root, "restart <execution-id> <stage-id>", "Restart a stage and everything downstream of it", "restart", "restarted", cobra.ExactArgs(2),
		func(ctx context.Context, op *operator.Operator, typ execution.Type, args []string, _ *controlOptions) error {
			return op.Restart(ctx, typ, args[0], args[1])
		})
	return cmd
}
