package ports

import (
	"context"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// ExecutionCriteria narrows bulk retrieval.
type ExecutionCriteria struct {
	// Limit caps the number of executions returned; zero means unlimited.
	Limit int
	// Statuses keeps only executions in one of the listed statuses.
	Statuses []execution.Status
	// StartTimeCutoff drops executions whose start time precedes it.
	StartTimeCutoff time.Time
}

// Matches reports whether the execution satisfies the status and cutoff filters.
func (c ExecutionCriteria) Matches(e *execution.Execution) bool {
	if len(c.Statuses) > 0 {
		found := false
		for _, s := range c.Statuses {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !c.StartTimeCutoff.IsZero() && !e.StartTime.IsZero() && e.StartTime.Before(c.StartTimeCutoff) {
		return false
	}
	return true
}

// ExecutionResult is one element of a streamed retrieval. Exactly one of
// Execution or Err is set.
type ExecutionResult struct {
	Execution *execution.Execution
	Err       error
}

// ExecutionRepository is the durable store for executions. Implementations
// must be safe for concurrent use across processes: status transitions are
// atomic per execution and the stage order index is only mutated alongside
// the stage data it refers to.
//
// Streamed retrievals return a channel that is closed when the scan ends or
// ctx is cancelled. Each call starts a fresh scan.
type ExecutionRepository interface {
	Store(ctx context.Context, e *execution.Execution) error
	StoreStage(ctx context.Context, stage *execution.Stage) error
	UpdateStageContext(ctx context.Context, stage *execution.Stage) error
	RemoveStage(ctx context.Context, e *execution.Execution, stageID string) error
	AddStage(ctx context.Context, stage *execution.Stage) error
	// StoreStageIf and StartTask are compare-and-set writes. They report
	// whether this caller made the transition.
	StoreStageIf(ctx context.Context, stage *execution.Stage, expected execution.Status) (bool, error)
	StartTask(ctx context.Context, stage *execution.Stage, taskID string, at time.Time) (bool, error)

	Cancel(ctx context.Context, typ execution.Type, id, user, reason string) error
	Pause(ctx context.Context, typ execution.Type, id, user string) error
	Resume(ctx context.Context, typ execution.Type, id, user string, ignoreCurrentStatus bool) error
	IsCanceled(ctx context.Context, typ execution.Type, id string) (bool, error)
	UpdateStatus(ctx context.Context, typ execution.Type, id string, status execution.Status) error

	Retrieve(ctx context.Context, typ execution.Type, id string) (*execution.Execution, error)
	Delete(ctx context.Context, typ execution.Type, id string) error
	HasExecution(ctx context.Context, typ execution.Type, id string) (bool, error)
	RetrieveAllExecutionIDs(ctx context.Context, typ execution.Type) ([]string, error)

	RetrieveExecutions(ctx context.Context, typ execution.Type, criteria ExecutionCriteria) <-chan ExecutionResult
	RetrieveByApplication(ctx context.Context, typ execution.Type, application string, criteria ExecutionCriteria) <-chan ExecutionResult
	RetrievePipelinesForPipelineConfigID(ctx context.Context, pipelineConfigID string, criteria ExecutionCriteria) <-chan ExecutionResult
	RetrievePipelinesForPipelineConfigIDsBetweenBuildTimeBoundary(ctx context.Context, pipelineConfigIDs []string, from, to time.Time, limit int) ([]*execution.Execution, error)
	RetrieveByCorrelationID(ctx context.Context, typ execution.Type, correlationID string) (*execution.Execution, error)
	ClaimCorrelationID(ctx context.Context, typ execution.Type, correlationID, id string) (bool, error)
	RetrieveBufferedExecutions(ctx context.Context) ([]*execution.Execution, error)

	// HandlesPartition reports whether this process drives live work for
	// executions tagged with the given partition.
	HandlesPartition(partition string) bool
}

// Collect drains a result stream into a slice, stopping at the first error.
func Collect(results <-chan ExecutionResult) ([]*execution.Execution, error) {
	var out []*execution.Execution
	var firstErr error
	for r := range results {
		if firstErr != nil {
			continue
		}
		if r.Err != nil {
			firstErr = r.Err
			continue
		}
		out = append(out, r.Execution)
	}
	return out, firstErr
}
