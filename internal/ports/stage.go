package ports

import (
	"context"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/taskgraph"
)

// StageDefinitionBuilder describes how a stage type is expanded into tasks.
// Optional behaviour is expressed through the capability interfaces below and
// discovered with type assertions.
type StageDefinitionBuilder interface {
	// Type is the stage type key the builder is registered under.
	Type() string
	// BuildTaskGraph appends the stage's tasks to b.
	BuildTaskGraph(stage *execution.Stage, b *taskgraph.Builder)
}

// Aliased builders can also be resolved by alternative type names.
type Aliased interface {
	Aliases() []string
}

// AroundStagesBuilder injects synthetic stages that run before and/or after
// the parent. Each returned stage must carry its synthetic owner.
type AroundStagesBuilder interface {
	AroundStages(parent *execution.Stage) []*execution.Stage
}

// ParallelStagesBuilder injects synthetic before-stages that run concurrently.
type ParallelStagesBuilder interface {
	ParallelStages(parent *execution.Stage) []*execution.Stage
}

// AfterStagesBuilder injects synthetic stages that run after the parent's tasks.
type AfterStagesBuilder interface {
	AfterStages(parent *execution.Stage) []*execution.Stage
}

// OnFailureStagesBuilder injects synthetic after-stages when the parent fails.
type OnFailureStagesBuilder interface {
	OnFailureStages(parent *execution.Stage) []*execution.Stage
}

// RestartPreparer resets stage-specific context before a restart.
type RestartPreparer interface {
	PrepareForRestart(stage *execution.Stage)
}

// TaskResult is the outcome of one task invocation. A RUNNING result
// suspends the task; a non-zero ScheduledTime tells the dispatcher when to
// invoke it again.
type TaskResult struct {
	Status        execution.Status
	Context       map[string]interface{}
	Outputs       map[string]interface{}
	ScheduledTime time.Time
}

// Task is an opaque unit of work invoked by the engine.
type Task interface {
	Execute(ctx context.Context, stage *execution.Stage) (TaskResult, error)
}

// RetryableTask tasks are re-invoked after BackoffPeriod while they report RUNNING.
type RetryableTask interface {
	Task
	BackoffPeriod() time.Duration
}

// TaskResolver looks tasks up by implementation name.
type TaskResolver interface {
	ResolveTask(implementation string) (Task, error)
}
