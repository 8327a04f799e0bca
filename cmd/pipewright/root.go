package main

import (
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
)

type rootFlags struct {
	configPath string
	verbose    bool
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "pipewright",
		Short:         "Pipewright runs and operates multi-stage deployment executions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(logging.WithCorrelationID(cmd.Context(), logging.GenerateCorrelationID()))
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the application configuration (default "+defaultConfigPath+")")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Output in JSON format")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newLaunchCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newGetCmd(flags))
	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newCancelCmd(flags))
	cmd.AddCommand(newPauseCmd(flags))
	cmd.AddCommand(newResumeCmd(flags))
	cmd.AddCommand(newDeleteCmd(flags))
	cmd.AddCommand(newRestartCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func addTypeFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "type", "t", string(execution.TypePipeline), "Execution type (pipeline or orchestration)")
}
