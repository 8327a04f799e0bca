package tracker

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

const supersededReason = "Canceled by a newer execution of the same pipeline configuration"

// Listener promotes queued pipelines when a started pipeline completes.
type Listener struct {
	tracker *StartTracker
	repo    ports.ExecutionRepository
	runner  ports.ExecutionRunner
	logger  ports.Logger
}

// NewListener wires the promotion logic.
func NewListener(tracker *StartTracker, repo ports.ExecutionRepository, runner ports.ExecutionRunner, logger ports.Logger) *Listener {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Listener{tracker: tracker, repo: repo, runner: runner, logger: logger.With("component", "start_listener")}
}

// Subscribe registers the listener for execution completion events.
func (l *Listener) Subscribe(publisher ports.EventPublisher) (ports.Subscription, error) {
	return publisher.Subscribe(ports.EventExecutionComplete, l.Handle)
}

// Handle reacts to a completion event. Only pipelines are tracked.
func (l *Listener) Handle(ctx context.Context, event ports.DomainEvent) error {
	if e, ok := event.Payload().(ports.ExecutionEvent); ok && e.ExecutionType != execution.TypePipeline {
		return nil
	}
	return l.ProcessCompleted(ctx)
}

// ProcessCompleted walks every started pipeline; each one that is complete is
// released and the next queued pipeline of its configuration is promoted.
// Only the caller whose release removed the started entry promotes, so
// concurrent listeners start each queued pipeline once. Started entries
// pointing at executions that no longer exist are dropped.
func (l *Listener) ProcessCompleted(ctx context.Context) error {
	started, err := l.tracker.StartedExecutions(ctx)
	if err != nil {
		return err
	}
	for _, id := range started {
		e, err := l.repo.Retrieve(ctx, execution.TypePipeline, id)
		if execution.IsNotFound(err) {
			l.logger.Warn(ctx, "dropping started entry of missing execution", "execution_id", id)
			if _, err := l.tracker.MarkAsFinished(ctx, "", id); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if !e.Status.IsComplete() {
			continue
		}
		released, err := l.tracker.MarkAsFinished(ctx, e.PipelineConfigID, id)
		if err != nil {
			return err
		}
		if !released {
			l.logger.Debug(ctx, "started entry already released", "execution_id", id)
			continue
		}
		if err := l.promote(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// promote starts the next queued pipeline of the completed pipeline's
// configuration. With keepWaitingPipelines the oldest waits its turn and is
// started; otherwise the newest is started and the rest are canceled.
func (l *Listener) promote(ctx context.Context, completed *execution.Execution) error {
	configID := completed.PipelineConfigID
	next, err := l.tracker.StartNextQueued(ctx, configID, completed.KeepWaitingPipelines)
	if err != nil || next == "" {
		return err
	}

	if !completed.KeepWaitingPipelines {
		superseded, err := l.tracker.QueuedPipelines(ctx, configID)
		if err != nil {
			return err
		}
		for _, id := range superseded {
			if err := l.tracker.RemoveFromQueue(ctx, configID, id); err != nil {
				return err
			}
			if err := l.repo.Cancel(ctx, execution.TypePipeline, id, "system", supersededReason); err != nil && !execution.IsNotFound(err) {
				return fmt.Errorf("cancel superseded %s: %w", id, err)
			}
			l.logger.Info(ctx, "canceled superseded pipeline", "pipeline_config_id", configID, "execution_id", id)
		}
	}

	e, err := l.repo.Retrieve(ctx, execution.TypePipeline, next)
	if execution.IsNotFound(err) || (err == nil && e.Status.IsComplete()) {
		l.logger.Warn(ctx, "queued pipeline can no longer start", "execution_id", next)
		if _, err := l.tracker.MarkAsFinished(ctx, configID, next); err != nil {
			return err
		}
		return l.promote(ctx, completed)
	}
	if err != nil {
		return err
	}
	if err := l.repo.UpdateStatus(ctx, execution.TypePipeline, next, execution.StatusNotStarted); err != nil {
		return err
	}
	e.Status = execution.StatusNotStarted
	l.logger.Info(ctx, "starting queued pipeline", "pipeline_config_id", configID, "execution_id", next,
		"keep_waiting", completed.KeepWaitingPipelines)
	return l.runner.Start(ctx, e)
}
