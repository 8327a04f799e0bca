package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type getOptions struct {
	executionType string
}

func newGetCmd(root *rootFlags) *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show an execution and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, root, args[0], opts)
		},
	}

	addTypeFlag(cmd, &opts.executionType)

	return cmd
}

func runGet(cmd *cobra.Command, root *rootFlags, id string, opts *getOptions) error {
	if strings.TrimSpace(id) == "" {
		return newCommandError("get", "validating execution ID", errors.New("execution ID cannot be empty"), "Provide the execution ID you wish to inspect.")
	}
	typ, err := parseType(opts.executionType)
	if err != nil {
		return newCommandError("get", "reading --type", err, "Use 'pipeline' or 'orchestration'.")
	}

	app, err := newAppContext(cmd.Context(), root.configPath, root.verbose, cmd.ErrOrStderr())
	if err != nil {
		return newCommandError("get", "initialising services", err, suggestionFor(err))
	}
	defer app.Close()

	e, err := app.Repo.Retrieve(cmd.Context(), typ, id)
	if err != nil {
		return newCommandError("get", fmt.Sprintf("looking up execution %q", id), err, suggestionFor(err))
	}
	return newPrinter(cmd.OutOrStdout(), root.jsonOutput).execution(e)
}
