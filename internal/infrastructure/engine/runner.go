package engine

import (
	"context"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/stage"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

// UnsupportedOperations can be embedded by runners that only start
// executions. Every other operation reports UNSUPPORTED_OPERATION.
type UnsupportedOperations struct{}

// Restart implements ports.ExecutionRunner.
func (UnsupportedOperations) Restart(context.Context, *execution.Execution, string) error {
	return execution.NewUnsupportedOperation("restart")
}

// Reschedule implements ports.ExecutionRunner.
func (UnsupportedOperations) Reschedule(context.Context, *execution.Execution) error {
	return execution.NewUnsupportedOperation("reschedule")
}

// Unpause implements ports.ExecutionRunner.
func (UnsupportedOperations) Unpause(context.Context, *execution.Execution) error {
	return execution.NewUnsupportedOperation("unpause")
}

// Cancel implements ports.ExecutionRunner.
func (UnsupportedOperations) Cancel(context.Context, *execution.Execution, string, string) error {
	return execution.NewUnsupportedOperation("cancel")
}

// QueueRunner implements ports.ExecutionRunner by enqueueing messages for the
// handler. Start plans the execution synchronously so unknown stage types are
// reported to the caller.
type QueueRunner struct {
	queue   Queue
	repo    ports.ExecutionRepository
	planner *stage.Planner
	logger  ports.Logger
}

// NewQueueRunner wires a runner.
func NewQueueRunner(queue Queue, repo ports.ExecutionRepository, planner *stage.Planner, logger ports.Logger) *QueueRunner {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &QueueRunner{queue: queue, repo: repo, planner: planner, logger: logger.With("component", "queue_runner")}
}

// Start plans every stage, persists the expanded execution and enqueues it.
func (r *QueueRunner) Start(ctx context.Context, e *execution.Execution) error {
	added, err := r.planner.Plan(e)
	if err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := r.repo.Store(ctx, e); err != nil {
		return err
	}
	r.logger.Info(ctx, "queued execution start", "execution_id", e.ID, "stages", len(e.Stages()), "synthetic_stages", len(added))
	return r.queue.Push(ctx, executionMessage(KindStartExecution, e), 0)
}

// Restart enqueues a restart of the stage.
func (r *QueueRunner) Restart(ctx context.Context, e *execution.Execution, stageID string) error {
	msg := executionMessage(KindRestartStage, e)
	msg.StageID = stageID
	return r.queue.Push(ctx, msg, 0)
}

// Reschedule wakes the execution's running tasks immediately.
func (r *QueueRunner) Reschedule(ctx context.Context, e *execution.Execution) error {
	return r.queue.Push(ctx, executionMessage(KindRescheduleExecution, e), 0)
}

// Unpause resumes the execution's paused tasks.
func (r *QueueRunner) Unpause(ctx context.Context, e *execution.Execution) error {
	return r.queue.Push(ctx, executionMessage(KindResumeExecution, e), 0)
}

// Cancel pushes cancellation into the running execution.
func (r *QueueRunner) Cancel(ctx context.Context, e *execution.Execution, user, reason string) error {
	msg := executionMessage(KindCancelExecution, e)
	msg.User = user
	msg.Reason = reason
	return r.queue.Push(ctx, msg, 0)
}

var _ ports.ExecutionRunner = (*QueueRunner)(nil)
