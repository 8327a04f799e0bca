package main

import (
	"github.com/spf13/cobra"
)

type launchOptions struct {
	executionType string
}

func newLaunchCmd(root *rootFlags) *cobra.Command {
	opts := &launchOptions{}

	cmd := &cobra.Command{
		Use:   "launch <definition-file>",
		Short: "Store and start a definition for a running 'pipewright serve' to process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd, root, args[0], opts)
		},
	}

	addTypeFlag(cmd, &opts.executionType)

	return cmd
}

func runLaunch(cmd *cobra.Command, root *rootFlags, path string, opts *launchOptions) error {
	typ, err := parseType(opts.executionType)
	if err != nil {
		return newCommandError("launch", "reading --type", err, "Use 'pipeline' or 'orchestration'.")
	}
	document, err := readDefinition(path, cmd.InOrStdin())
	if err != nil {
		return newCommandError("launch", "reading definition", err, "Pass a readable YAML or JSON file, or '-' for stdin.")
	}

	app, err := newAppContext(cmd.Context(), root.configPath, root.verbose, cmd.ErrOrStderr())
	if err != nil {
		return newCommandError("launch", "initialising services", err, suggestionFor(err))
	}
	defer app.Close()

	e, err := app.Launcher.Launch(cmd.Context(), typ, document)
	if err != nil {
		return newCommandError("launch", "launching definition", err, suggestionFor(err))
	}
	return newPrinter(cmd.OutOrStdout(), root.jsonOutput).action("launched", e)
}
