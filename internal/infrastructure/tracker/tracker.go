// Package tracker bounds how many executions of one pipeline configuration
// run at a time. Executions beyond the limit wait in a queue that lives in
// Redis so every engine process shares it.
package tracker

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

// activeStatuses are the statuses that keep an execution's started slot.
var activeStatuses = []execution.Status{
	execution.StatusNotStarted,
	execution.StatusRunning,
	execution.StatusPaused,
	execution.StatusSuspended,
}

// StartTracker records started and queued pipelines per configuration.
type StartTracker struct {
	stack  *RedisPipelineStack
	repo   ports.ExecutionRepository
	logger ports.Logger
}

// Option configures a StartTracker.
type Option func(*StartTracker)

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(t *StartTracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewStartTracker builds a tracker over the stack and repository.
func NewStartTracker(stack *RedisPipelineStack, repo ports.ExecutionRepository, opts ...Option) *StartTracker {
	t := &StartTracker{stack: stack, repo: repo, logger: logging.NewNoOpLogger()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "start_tracker")
	return t
}

// AddToStarted records the execution as started unconditionally.
func (t *StartTracker) AddToStarted(ctx context.Context, pipelineConfigID, executionID string) error {
	if err := t.stack.AddStarted(ctx, pipelineConfigID, executionID); err != nil {
		return fmt.Errorf("add %s to started: %w", executionID, err)
	}
	return nil
}

// QueueIfNotStarted queues the execution when limit executions of the
// configuration are already started, and otherwise records it as started.
// Started entries whose executions the repository no longer reports as
// active are released first; a replica lagging behind can therefore release
// a slot that is still in use.
func (t *StartTracker) QueueIfNotStarted(ctx context.Context, pipelineConfigID, executionID string, limit int) (bool, error) {
	if err := t.reconcile(ctx, pipelineConfigID); err != nil {
		return false, err
	}
	queued, err := t.stack.AddUnlessFull(ctx, pipelineConfigID, executionID, limit)
	if err != nil {
		return false, fmt.Errorf("queue %s: %w", executionID, err)
	}
	t.logger.Debug(ctx, "start gate evaluated", "pipeline_config_id", pipelineConfigID, "execution_id", executionID, "queued", queued)
	return queued, nil
}

// MarkAsFinished releases the execution's started slot and reports whether
// this call released it.
func (t *StartTracker) MarkAsFinished(ctx context.Context, pipelineConfigID, executionID string) (bool, error) {
	released, err := t.stack.RemoveStarted(ctx, pipelineConfigID, executionID)
	if err != nil {
		return false, fmt.Errorf("mark %s finished: %w", executionID, err)
	}
	return released, nil
}

// StartNextQueued moves the next queued execution of the configuration to
// the started stack and returns its id, or "" when none is queued. With
// oldest the longest-waiting execution is taken, otherwise the newest.
func (t *StartTracker) StartNextQueued(ctx context.Context, pipelineConfigID string, oldest bool) (string, error) {
	id, err := t.stack.StartNextQueued(ctx, pipelineConfigID, oldest)
	if err != nil {
		return "", fmt.Errorf("start next queued for %s: %w", pipelineConfigID, err)
	}
	return id, nil
}

// RemoveFromQueue drops a queued execution.
func (t *StartTracker) RemoveFromQueue(ctx context.Context, pipelineConfigID, executionID string) error {
	if err := t.stack.RemoveQueued(ctx, pipelineConfigID, executionID); err != nil {
		return fmt.Errorf("dequeue %s: %w", executionID, err)
	}
	return nil
}

// StartedExecutions lists every started execution id.
func (t *StartTracker) StartedExecutions(ctx context.Context) ([]string, error) {
	return t.stack.AllStarted(ctx)
}

// QueuedPipelines lists the queued execution ids of a configuration, newest first.
func (t *StartTracker) QueuedPipelines(ctx context.Context, pipelineConfigID string) ([]string, error) {
	return t.stack.Queued(ctx, pipelineConfigID)
}

func (t *StartTracker) reconcile(ctx context.Context, pipelineConfigID string) error {
	started, err := t.stack.Started(ctx, pipelineConfigID)
	if err != nil {
		return fmt.Errorf("list started for %s: %w", pipelineConfigID, err)
	}
	if len(started) == 0 {
		return nil
	}

	active, err := ports.Collect(t.repo.RetrievePipelinesForPipelineConfigID(ctx, pipelineConfigID,
		ports.ExecutionCriteria{Statuses: activeStatuses}))
	if err != nil {
		return err
	}
	running := make(map[string]bool, len(active))
	for _, e := range active {
		running[e.ID] = true
	}

	for _, id := range started {
		if running[id] {
			continue
		}
		t.logger.Warn(ctx, "releasing started entry of inactive execution", "pipeline_config_id", pipelineConfigID, "execution_id", id)
		if _, err := t.MarkAsFinished(ctx, pipelineConfigID, id); err != nil {
			return err
		}
	}
	return nil
}
