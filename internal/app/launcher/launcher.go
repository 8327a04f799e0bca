// Package launcher turns submitted definitions into stored, started
// executions. It deduplicates retriggers by correlation id, holds pipelines
// back while their configuration is at its concurrency limit, and records
// executions that fail to start.
package launcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
	apperrors "github.com/alexisbeaulieu97/pipewright/pkg/errors"
)

const canceledBySystem = "system"

// StartGate decides whether a pipeline may start now or must wait behind
// running executions of its configuration.
type StartGate interface {
	QueueIfNotStarted(ctx context.Context, pipelineConfigID, executionID string, limit int) (bool, error)
}

// Launcher stores and starts executions.
type Launcher struct {
	parser ports.DefinitionParser
	repo   ports.ExecutionRepository
	runner ports.ExecutionRunner
	gate   StartGate
	events ports.EventPublisher
	logger ports.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// WithStartGate enables concurrency limiting for pipelines.
func WithStartGate(gate StartGate) Option {
	return func(l *Launcher) {
		l.gate = gate
	}
}

// WithEvents publishes execution.complete for executions that fail to start.
func WithEvents(events ports.EventPublisher) Option {
	return func(l *Launcher) {
		l.events = events
	}
}

// WithClock overrides the clock used for build times.
func WithClock(now func() time.Time) Option {
	return func(l *Launcher) {
		l.now = now
	}
}

// WithIDGenerator overrides execution and stage id generation.
func WithIDGenerator(newID func() string) Option {
	return func(l *Launcher) {
		l.newID = newID
	}
}

// New builds a launcher.
func New(parser ports.DefinitionParser, repo ports.ExecutionRepository, runner ports.ExecutionRunner, opts ...Option) *Launcher {
	l := &Launcher{
		parser: parser,
		repo:   repo,
		runner: runner,
		logger: logging.NewNoOpLogger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.NewNoOpLogger()
	}
	l.logger = l.logger.With("component", "launcher")
	return l
}

// Launch parses the document and starts the execution it describes. When an
// incomplete execution already carries the document's correlation id that
// execution is returned instead.
func (l *Launcher) Launch(ctx context.Context, typ execution.Type, document []byte) (*execution.Execution, error) {
	e, err := l.parser.Parse(ctx, typ, document)
	if err != nil {
		return nil, err
	}
	return l.Start(ctx, e)
}

// Start assigns identifiers to e, stores it and hands it to the runner, or
// buffers it when its pipeline configuration is at its concurrency limit.
// A runner failure is recorded on the execution rather than returned.
func (l *Launcher) Start(ctx context.Context, e *execution.Execution) (*execution.Execution, error) {
	if cid := e.CorrelationID(); cid != "" {
		existing, err := l.repo.RetrieveByCorrelationID(ctx, e.Type, cid)
		switch {
		case err == nil:
			l.logger.Info(ctx, "execution already running for correlation id", "correlation_id", cid, "execution_id", existing.ID)
			return existing, nil
		case !execution.IsNotFound(err):
			return nil, fmt.Errorf("look up correlation id %s: %w", cid, err)
		}
	}

	if e.ID == "" {
		e.ID = l.newID()
	}
	for _, s := range e.Stages() {
		if s.ID == "" {
			s.ID = l.newID()
		}
	}
	if e.BuildTime.IsZero() {
		e.BuildTime = l.now().UTC()
	}
	e.Status = execution.StatusNotStarted
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := l.repo.Store(ctx, e); err != nil {
		return nil, fmt.Errorf("store execution %s: %w", e.ID, err)
	}
	if cid := e.CorrelationID(); cid != "" {
		claimed, err := l.repo.ClaimCorrelationID(ctx, e.Type, cid, e.ID)
		if err != nil {
			return nil, fmt.Errorf("claim correlation id %s: %w", cid, err)
		}
		if !claimed {
			return l.yield(ctx, e, cid)
		}
	}

	queued, err := l.queueIfLimited(ctx, e)
	if err != nil {
		return nil, err
	}
	if queued {
		return e, nil
	}

	if err := l.runner.Start(ctx, e); err != nil {
		return l.startupFailure(ctx, e, err)
	}
	l.logger.Info(ctx, "execution launched", "execution_id", e.ID, "execution_type", string(e.Type), "application", e.Application)
	return e, nil
}

// yield discards e after a concurrent launch claimed its correlation id and
// returns the execution that won.
func (l *Launcher) yield(ctx context.Context, e *execution.Execution, cid string) (*execution.Execution, error) {
	if err := l.repo.Delete(ctx, e.Type, e.ID); err != nil {
		return nil, fmt.Errorf("discard duplicate %s: %w", e.ID, err)
	}
	existing, err := l.repo.RetrieveByCorrelationID(ctx, e.Type, cid)
	if err != nil {
		return nil, fmt.Errorf("look up correlation id %s: %w", cid, err)
	}
	l.logger.Info(ctx, "execution already running for correlation id", "correlation_id", cid, "execution_id", existing.ID)
	return existing, nil
}

func (l *Launcher) queueIfLimited(ctx context.Context, e *execution.Execution) (bool, error) {
	if l.gate == nil || e.Type != execution.TypePipeline || !e.LimitConcurrent || e.PipelineConfigID == "" {
		return false, nil
	}
	limit := e.MaxConcurrentExecutions
	if limit < 1 {
		limit = 1
	}
	queued, err := l.gate.QueueIfNotStarted(ctx, e.PipelineConfigID, e.ID, limit)
	if err != nil {
		return false, fmt.Errorf("gate execution %s: %w", e.ID, err)
	}
	if !queued {
		return false, nil
	}
	if err := l.repo.UpdateStatus(ctx, e.Type, e.ID, execution.StatusBuffered); err != nil {
		return false, err
	}
	e.Status = execution.StatusBuffered
	l.logger.Info(ctx, "execution queued behind running executions", "execution_id", e.ID,
		"pipeline_config_id", e.PipelineConfigID, "limit", limit)
	return true, nil
}

// startupFailure marks the execution TERMINAL and canceled by the system,
// then announces its completion so queued executions can be promoted.
func (l *Launcher) startupFailure(ctx context.Context, e *execution.Execution, cause error) (*execution.Execution, error) {
	failure := apperrors.NewExecutionError(e.ID, cause)
	l.logger.Error(ctx, "execution failed to start", "execution_id", e.ID, "error", failure)

	reason := "Failed on startup: " + cause.Error()
	if err := l.repo.UpdateStatus(ctx, e.Type, e.ID, execution.StatusTerminal); err != nil {
		return nil, err
	}
	if err := l.repo.Cancel(ctx, e.Type, e.ID, canceledBySystem, reason); err != nil {
		return nil, err
	}

	stored, err := l.repo.Retrieve(ctx, e.Type, e.ID)
	if err != nil {
		return nil, err
	}
	if l.events != nil {
		event := ports.ExecutionEvent{
			Kind:             ports.EventExecutionComplete,
			ExecutionType:    stored.Type,
			ExecutionID:      stored.ID,
			Application:      stored.Application,
			PipelineConfigID: stored.PipelineConfigID,
			Status:           stored.Status,
		}
		if err := l.events.Publish(ctx, event); err != nil {
			l.logger.Warn(ctx, "failed to publish startup failure", "execution_id", e.ID, "error", err)
		}
	}
	return stored, nil
}
