// Package operator exposes administrative actions on executions. Each action
// tells the live runner first and then records the change durably, retrying
// both steps a bounded number of times.
package operator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
	apperrors "github.com/alexisbeaulieu97/pipewright/pkg/errors"
)

const (
	DefaultAttempts = 5
	DefaultInterval = 100 * time.Millisecond
)

// Operator combines runner and repository calls for cancel, pause, resume,
// delete and restart.
type Operator struct {
	runner   ports.ExecutionRunner
	repo     ports.ExecutionRepository
	logger   ports.Logger
	metrics  ports.MetricsCollector
	attempts int
	interval time.Duration
}

// Option configures an Operator.
type Option func(*Operator)

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(o *Operator) {
		o.logger = logger
	}
}

// WithMetrics injects a metrics collector.
func WithMetrics(metrics ports.MetricsCollector) Option {
	return func(o *Operator) {
		o.metrics = metrics
	}
}

// WithRetry overrides the attempt count and the fixed pause between attempts.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(o *Operator) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if interval >= 0 {
			o.interval = interval
		}
	}
}

// New builds an operator.
func New(runner ports.ExecutionRunner, repo ports.ExecutionRepository, opts ...Option) *Operator {
	o := &Operator{
		runner:   runner,
		repo:     repo,
		logger:   logging.NewNoOpLogger(),
		attempts: DefaultAttempts,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewNoOpLogger()
	}
	o.logger = o.logger.With("component", "operator")
	return o
}

// Cancel stops the execution. The runner is only told when this process owns
// the execution's partition; the canceled flag is always persisted.
func (o *Operator) Cancel(ctx context.Context, typ execution.Type, id, user, reason string) error {
	e, err := o.repo.Retrieve(ctx, typ, id)
	if err != nil {
		return err
	}
	return o.perform(ctx, "cancel", id,
		func() error {
			if !o.repo.HandlesPartition(e.Partition) {
				o.logger.Debug(ctx, "partition not owned, skipping runner cancel", "execution_id", id, "partition", e.Partition)
				return nil
			}
			return o.runner.Cancel(ctx, e, user, reason)
		},
		func() error { return o.repo.Cancel(ctx, typ, id, user, reason) },
	)
}

// Pause reschedules the execution's running work and records the pause.
func (o *Operator) Pause(ctx context.Context, typ execution.Type, id, user string) error {
	e, err := o.repo.Retrieve(ctx, typ, id)
	if err != nil {
		return err
	}
	return o.perform(ctx, "pause", id,
		func() error { return o.runner.Reschedule(ctx, e) },
		func() error { return o.repo.Pause(ctx, typ, id, user) },
	)
}

// Resume unpauses the execution. ignoreCurrentStatus resumes even when the
// execution is not PAUSED.
func (o *Operator) Resume(ctx context.Context, typ execution.Type, id, user string, ignoreCurrentStatus bool) error {
	e, err := o.repo.Retrieve(ctx, typ, id)
	if err != nil {
		return err
	}
	return o.perform(ctx, "resume", id,
		func() error { return o.runner.Unpause(ctx, e) },
		func() error { return o.repo.Resume(ctx, typ, id, user, ignoreCurrentStatus) },
	)
}

// Delete removes the execution from the repository.
func (o *Operator) Delete(ctx context.Context, typ execution.Type, id string) error {
	return o.perform(ctx, "delete", id, nil, func() error { return o.repo.Delete(ctx, typ, id) })
}

// Restart reruns a completed stage and everything downstream of it.
func (o *Operator) Restart(ctx context.Context, typ execution.Type, id, stageID string) error {
	e, err := o.repo.Retrieve(ctx, typ, id)
	if err != nil {
		return err
	}
	if _, err := e.StageByID(stageID); err != nil {
		return err
	}
	return o.perform(ctx, "restart", id, func() error { return o.runner.Restart(ctx, e, stageID) }, nil)
}

// perform runs the runner step and then the repository step. Domain errors
// other than unsupported runner operations are returned as they are; other
// failures are retried and, once retries run out, logged and dropped.
func (o *Operator) perform(ctx context.Context, action, id string, runnerStep, repoStep func() error) error {
	if runnerStep != nil {
		if err := o.retry(ctx, action, id, "runner", runnerStep); err != nil {
			if !execution.IsUnsupported(err) {
				return err
			}
			o.logger.Debug(ctx, "runner does not support action", "action", action, "execution_id", id)
		}
	}
	if repoStep != nil {
		return o.retry(ctx, action, id, "repository", repoStep)
	}
	return nil
}

func (o *Operator) retry(ctx context.Context, action, id, target string, step func() error) error {
	policy := backoff.WithMaxRetries(backoff.WithContext(backoff.NewConstantBackOff(o.interval), ctx), uint64(o.attempts-1))
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := step()
		if isDomainError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		o.logger.Warn(ctx, "operator action failed, retrying", "action", action, "target", target,
			"execution_id", id, "attempt", attempts, "retry_in", wait, "error", err)
	})
	if err == nil {
		return nil
	}
	if isDomainError(err) || ctx.Err() != nil {
		return err
	}

	exhausted := apperrors.NewRetryExhaustedError(action, attempts, err)
	o.logger.Error(ctx, "operator action abandoned", "action", action, "target", target, "execution_id", id, "error", exhausted)
	if o.metrics != nil {
		o.metrics.IncCounter(ctx, ports.MetricOperatorFailures, map[string]string{"action": action})
	}
	return nil
}

func isDomainError(err error) bool {
	var derr *execution.DomainError
	return err != nil && errors.As(err, &derr)
}
