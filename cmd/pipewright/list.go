package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

const defaultListLimit = 20

type listOptions struct {
	executionType    string
	application      string
	pipelineConfigID string
	statuses         []string
	limit            int
	since            time.Duration
	buffered         bool
}

func newListCmd(root *rootFlags) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, root, opts)
		},
	}

	addTypeFlag(cmd, &opts.executionType)
	cmd.Flags().StringVar(&opts.application, "application", "", "Only executions of this application")
	cmd.Flags().StringVar(&opts.pipelineConfigID, "pipeline-config", "", "Only pipelines of this configuration id")
	cmd.Flags().StringSliceVar(&opts.statuses, "status", nil, "Only executions in these statuses (repeatable)")
	cmd.Flags().IntVar(&opts.limit, "limit", defaultListLimit, "Maximum number of executions (0 for all)")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only executions started within this duration")
	cmd.Flags().BoolVar(&opts.buffered, "buffered", false, "Only pipelines waiting for a concurrency slot")

	return cmd
}

func (o *listOptions) criteria(now time.Time) (ports.ExecutionCriteria, error) {
	criteria := ports.ExecutionCriteria{Limit: o.limit}
	for _, raw := range o.statuses {
		status, err := execution.ParseStatus(strings.ToUpper(strings.TrimSpace(raw)))
		if err != nil {
			return criteria, err
		}
		criteria.Statuses = append(criteria.Statuses, status)
	}
	if o.since > 0 {
		criteria.StartTimeCutoff = now.Add(-o.since)
	}
	return criteria, nil
}

func runList(cmd *cobra.Command, root *rootFlags, opts *listOptions) error {
	typ, err := parseType(opts.executionType)
	if err != nil {
		return newCommandError("list", "reading --type", err, "Use 'pipeline' or 'orchestration'.")
	}
	criteria, err := opts.criteria(time.Now())
	if err != nil {
		return newCommandError("list", "reading --status", err, "Use statuses such as RUNNING, SUCCEEDED or TERMINAL.")
	}
	if opts.pipelineConfigID != "" && typ != execution.TypePipeline {
		return newCommandError("list", "reading --pipeline-config", fmt.Errorf("only pipelines have a configuration id"), "Drop --type or set it to 'pipeline'.")
	}

	app, err := newAppContext(cmd.Context(), root.configPath, root.verbose, cmd.ErrOrStderr())
	if err != nil {
		return newCommandError("list", "initialising services", err, suggestionFor(err))
	}
	defer app.Close()

	ctx := cmd.Context()
	var executions []*execution.Execution
	switch {
	case opts.buffered:
		executions, err = app.Repo.RetrieveBufferedExecutions(ctx)
	case opts.pipelineConfigID != "":
		executions, err = ports.Collect(app.Repo.RetrievePipelinesForPipelineConfigID(ctx, opts.pipelineConfigID, criteria))
	case opts.application != "":
		executions, err = ports.Collect(app.Repo.RetrieveByApplication(ctx, typ, opts.application, criteria))
	default:
		executions, err = ports.Collect(app.Repo.RetrieveExecutions(ctx, typ, criteria))
	}
	if err != nil {
		return newCommandError("list", "retrieving executions", err, suggestionFor(err))
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].BuildTime.After(executions[j].BuildTime)
	})
	return newPrinter(cmd.OutOrStdout(), root.jsonOutput).executions(executions)
}
