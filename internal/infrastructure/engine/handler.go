package engine

import (
	"context"
	"errors"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/stage"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

const (
	// DefaultRetryDelay spaces re-deliveries of messages that cannot proceed yet.
	DefaultRetryDelay = 5 * time.Second

	contextContinuePipeline = "continuePipeline"
	contextFailPipeline     = "failPipeline"
	contextException        = "exception"
)

// Handler processes queue messages against the execution repository.
type Handler struct {
	repo       ports.ExecutionRepository
	planner    *stage.Planner
	tasks      ports.TaskResolver
	queue      Queue
	logger     ports.Logger
	metrics    ports.MetricsCollector
	events     ports.EventPublisher
	now        func() time.Time
	retryDelay time.Duration
}

// HandlerOption configures a handler instance.
type HandlerOption func(*Handler)

// WithHandlerLogger injects a logger into the handler.
func WithHandlerLogger(logger ports.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHandlerMetrics injects a metrics collector.
func WithHandlerMetrics(metrics ports.MetricsCollector) HandlerOption {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// WithHandlerEvents injects an event publisher.
func WithHandlerEvents(events ports.EventPublisher) HandlerOption {
	return func(h *Handler) {
		h.events = events
	}
}

// WithHandlerClock overrides the clock.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// WithRetryDelay overrides the delay used when a message must wait.
func WithRetryDelay(delay time.Duration) HandlerOption {
	return func(h *Handler) {
		h.retryDelay = delay
	}
}

// NewHandler constructs a message handler.
func NewHandler(repo ports.ExecutionRepository, planner *stage.Planner, tasks ports.TaskResolver, queue Queue, opts ...HandlerOption) *Handler {
	h := &Handler{
		repo:       repo,
		planner:    planner,
		tasks:      tasks,
		queue:      queue,
		logger:     logging.NewNoOpLogger(),
		now:        time.Now,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.NewNoOpLogger()
	}
	h.logger = h.logger.With("component", "handler")
	return h
}

// Handle performs the step the message asks for.
func (h *Handler) Handle(ctx context.Context, msg Message) error {
	e, err := h.repo.Retrieve(ctx, msg.ExecutionType, msg.ExecutionID)
	if err != nil {
		return err
	}
	h.logger.Debug(ctx, "handling message", "kind", string(msg.Kind), "execution_id", e.ID, "stage_id", msg.StageID, "task_id", msg.TaskID)

	switch msg.Kind {
	case KindStartExecution:
		return h.startExecution(ctx, e)
	case KindCompleteExecution:
		return h.completeExecution(ctx, e)
	case KindCancelExecution:
		return h.cancelExecution(ctx, e, msg)
	case KindRescheduleExecution:
		return h.rescheduleExecution(ctx, e)
	case KindResumeExecution:
		return h.resumeExecution(ctx, e, msg)
	}

	s, err := e.StageByID(msg.StageID)
	if err != nil {
		return err
	}
	switch msg.Kind {
	case KindStartStage:
		return h.startStage(ctx, e, s, msg)
	case KindRunTask:
		return h.runTask(ctx, e, s, msg)
	case KindCompleteStage:
		return h.completeStage(ctx, e, s)
	case KindRestartStage:
		return h.restartStage(ctx, e, s)
	}
	return execution.NewError(execution.ErrCodeValidation, "unknown message kind", nil, map[string]interface{}{"kind": string(msg.Kind)})
}

func (h *Handler) startExecution(ctx context.Context, e *execution.Execution) error {
	if e.Status != execution.StatusNotStarted && e.Status != execution.StatusBuffered {
		h.logger.Debug(ctx, "execution already started", "execution_id", e.ID, "status", string(e.Status))
		return nil
	}
	if e.Canceled {
		return h.push(ctx, executionMessage(KindCompleteExecution, e), 0)
	}

	if err := h.repo.UpdateStatus(ctx, e.Type, e.ID, execution.StatusRunning); err != nil {
		return err
	}
	e.Status = execution.StatusRunning
	h.logger.Info(ctx, "execution started", "execution_id", e.ID, "application", e.Application)
	h.publish(ctx, executionEvent(ports.EventExecutionStarted, e))

	initial := e.InitialStages()
	if len(initial) == 0 {
		return h.push(ctx, executionMessage(KindCompleteExecution, e), 0)
	}
	for _, s := range initial {
		if err := h.push(ctx, stageMessage(KindStartStage, s), 0); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) startStage(ctx context.Context, e *execution.Execution, s *execution.Stage, msg Message) error {
	if s.Status != execution.StatusNotStarted {
		return nil
	}
	if e.Canceled || e.Status.IsComplete() {
		return h.push(ctx, executionMessage(KindCompleteExecution, e), 0)
	}
	if s.AnyUpstreamStageHalted() {
		return h.haltBranch(ctx, e, s)
	}
	if !s.AllUpstreamStagesComplete() {
		h.logger.Debug(ctx, "upstream stages incomplete, re-queuing", "execution_id", e.ID, "stage_id", s.ID)
		return h.push(ctx, msg, h.retryDelay)
	}

	added, err := h.planner.PlanStage(s)
	if err != nil {
		return h.failStage(ctx, s, err)
	}
	for _, child := range added {
		if err := h.repo.AddStage(ctx, child); err != nil {
			return err
		}
	}

	s.Status = execution.StatusRunning
	s.StartTime = h.now().UTC()
	claimed, err := h.repo.StoreStageIf(ctx, s, execution.StatusNotStarted)
	if err != nil {
		return err
	}
	if !claimed {
		h.logger.Debug(ctx, "stage already started elsewhere", "execution_id", e.ID, "stage_id", s.ID)
		return nil
	}
	h.publish(ctx, stageEvent(ports.EventStageStarted, s))

	if before := initialChildren(s, execution.OwnerBefore); len(before) > 0 {
		return h.pushEach(ctx, KindStartStage, before)
	}
	return h.beginTasks(ctx, s)
}

// beginTasks dispatches the stage's first task once. A stage without tasks
// goes straight to completion.
func (h *Handler) beginTasks(ctx context.Context, s *execution.Stage) error {
	task := s.FirstTask()
	if task == nil {
		return h.push(ctx, stageMessage(KindCompleteStage, s), 0)
	}
	claimed, err := h.repo.StartTask(ctx, s, task.ID, h.now().UTC())
	if err != nil {
		return err
	}
	if !claimed {
		h.logger.Debug(ctx, "tasks already started", "stage_id", s.ID, "task_id", task.ID)
		return nil
	}
	return h.push(ctx, taskMessage(s, task), 0)
}

// haltBranch stops work below a halted upstream stage.
func (h *Handler) haltBranch(ctx context.Context, e *execution.Execution, s *execution.Stage) error {
	if s.ParentStageID != "" {
		parent, err := s.Parent()
		if err != nil {
			return err
		}
		return h.push(ctx, stageMessage(KindCompleteStage, parent), 0)
	}
	return h.push(ctx, executionMessage(KindCompleteExecution, e), 0)
}

func (h *Handler) failStage(ctx context.Context, s *execution.Stage, cause error) error {
	h.logger.Error(ctx, "stage failed to plan", "stage_id", s.ID, "stage_type", s.Type, "error", cause)
	s.Status = execution.StatusRunning
	s.StartTime = h.now().UTC()
	s.Tasks = nil
	s.MergeContext(map[string]interface{}{contextException: exceptionDetails(cause)})
	claimed, err := h.repo.StoreStageIf(ctx, s, execution.StatusNotStarted)
	if err != nil || !claimed {
		return err
	}
	return h.push(ctx, stageMessage(KindCompleteStage, s), 0)
}

func (h *Handler) runTask(ctx context.Context, e *execution.Execution, s *execution.Stage, msg Message) error {
	task, err := s.TaskByID(msg.TaskID)
	if err != nil {
		return err
	}
	if task.Status.IsComplete() || s.Status.IsComplete() {
		return nil
	}
	if e.Canceled {
		return h.completeTask(ctx, s, task, execution.StatusCanceled)
	}
	if e.Status == execution.StatusPaused {
		task.Status = execution.StatusPaused
		s.Status = execution.StatusPaused
		h.logger.Info(ctx, "task paused", "execution_id", e.ID, "stage_id", s.ID, "task_id", task.ID)
		return h.repo.StoreStage(ctx, s)
	}

	impl, err := h.tasks.ResolveTask(task.Implementation)
	if err != nil {
		s.MergeContext(map[string]interface{}{contextException: exceptionDetails(err)})
		return h.completeTask(ctx, s, task, execution.StatusTerminal)
	}

	task.Status = execution.StatusRunning
	if task.StartTime.IsZero() {
		task.StartTime = h.now().UTC()
	}

	start := time.Now()
	result, err := impl.Execute(ctx, s)
	h.recordTaskDuration(ctx, task.Name, time.Since(start))
	if err != nil {
		h.logger.Error(ctx, "task execution failed", "execution_id", e.ID, "stage_id", s.ID, "task_id", task.ID, "error", err)
		result = ports.TaskResult{
			Status:  execution.StatusTerminal,
			Context: map[string]interface{}{contextException: exceptionDetails(err)},
		}
	}
	s.MergeContext(result.Context)
	s.MergeOutputs(result.Outputs)

	switch result.Status {
	case execution.StatusRunning, execution.StatusSuspended:
		delay := h.retryDelay
		if retryable, ok := impl.(ports.RetryableTask); ok {
			delay = retryable.BackoffPeriod()
		}
		if !result.ScheduledTime.IsZero() {
			s.ScheduledTime = result.ScheduledTime.UTC()
			delay = result.ScheduledTime.Sub(h.now())
			if delay < 0 {
				delay = 0
			}
		}
		if err := h.repo.StoreStage(ctx, s); err != nil {
			return err
		}
		return h.push(ctx, msg, delay)
	case execution.StatusRedirect:
		loopStart := s.LoopStartFor(task.ID)
		if !task.LoopEnd || loopStart == nil {
			h.logger.Warn(ctx, "redirect outside of a loop", "stage_id", s.ID, "task_id", task.ID)
			return h.completeTask(ctx, s, task, execution.StatusTerminal)
		}
		resetLoop(s, loopStart.ID, task.ID)
		if err := h.repo.StoreStage(ctx, s); err != nil {
			return err
		}
		return h.push(ctx, taskMessage(s, loopStart), 0)
	}

	status := result.Status
	if !status.IsComplete() {
		h.logger.Warn(ctx, "task returned a non-terminal status", "task_id", task.ID, "status", string(status))
		status = execution.StatusTerminal
	}
	return h.completeTask(ctx, s, task, status)
}

func (h *Handler) completeTask(ctx context.Context, s *execution.Stage, task *execution.Task, status execution.Status) error {
	task.Status = status
	task.EndTime = h.now().UTC()
	if err := h.repo.StoreStage(ctx, s); err != nil {
		return err
	}
	event := stageEvent(ports.EventTaskComplete, s)
	event.TaskID = task.ID
	event.Status = status
	h.publish(ctx, event)

	if status.ContinuesDownstream() {
		if next := s.NextTask(task.ID); next != nil {
			return h.push(ctx, taskMessage(s, next), 0)
		}
	}
	return h.push(ctx, stageMessage(KindCompleteStage, s), 0)
}

func (h *Handler) completeStage(ctx context.Context, e *execution.Execution, s *execution.Stage) error {
	if s.Status.IsComplete() || s.Status == execution.StatusNotStarted {
		return nil
	}
	previous := s.Status

	// The message may be stale or duplicated; everything below is decided
	// from the state just loaded.
	before := s.BeforeStages()
	if !settled(before) {
		return nil
	}
	if first := s.FirstTask(); first != nil && first.Status == execution.StatusNotStarted && allContinue(before) && !e.Canceled {
		if len(before) == 0 {
			// a loop was reset and its first task is already queued
			return nil
		}
		return h.beginTasks(ctx, s)
	}
	if !tasksDone(s) {
		return nil
	}

	status := determineStatus(s)
	after := s.AfterStages()
	if status.ContinuesDownstream() && len(after) > 0 && allNotStarted(after) {
		return h.pushEach(ctx, KindStartStage, initialChildren(s, execution.OwnerAfter))
	}
	if !settled(after) {
		return nil
	}
	if status == execution.StatusTerminal {
		added, err := h.planner.PlanOnFailure(s)
		if err != nil {
			return err
		}
		if len(added) > 0 {
			for _, child := range added {
				if err := h.repo.AddStage(ctx, child); err != nil {
					return err
				}
			}
			h.logger.Info(ctx, "running on-failure stages", "stage_id", s.ID, "count", len(added))
			var first []*execution.Stage
			for _, child := range added {
				if child.ParentStageID == s.ID && len(child.RequisiteStageRefIDs) == 0 {
					first = append(first, child)
				}
			}
			return h.pushEach(ctx, KindStartStage, first)
		}
		status = failureStatus(s)
	}

	s.Status = status
	s.EndTime = h.now().UTC()
	claimed, err := h.repo.StoreStageIf(ctx, s, previous)
	if err != nil {
		return err
	}
	if !claimed {
		h.logger.Debug(ctx, "stage already completed elsewhere", "execution_id", e.ID, "stage_id", s.ID)
		return nil
	}
	if h.metrics != nil {
		h.metrics.IncCounter(ctx, ports.MetricStageExecutions, map[string]string{"stage_type": s.Type, "status": string(status)})
	}
	h.logger.Info(ctx, "stage complete", "execution_id", e.ID, "stage_id", s.ID, "status", string(status))
	h.publish(ctx, stageEvent(ports.EventStageComplete, s))
	return h.advance(ctx, e, s)
}

// advance moves on from a completed stage: to its downstream siblings, to its
// parent, or to execution completion for a top-level stage. The parent decides
// for itself whether all of its children are done.
func (h *Handler) advance(ctx context.Context, e *execution.Execution, s *execution.Stage) error {
	if s.Status.ContinuesDownstream() {
		if downstream := s.DownstreamStages(); len(downstream) > 0 {
			return h.pushEach(ctx, KindStartStage, downstream)
		}
	}
	if s.ParentStageID == "" {
		return h.push(ctx, executionMessage(KindCompleteExecution, e), 0)
	}

	parent, err := s.Parent()
	if err != nil {
		return err
	}
	return h.push(ctx, stageMessage(KindCompleteStage, parent), 0)
}

func (h *Handler) completeExecution(ctx context.Context, e *execution.Execution) error {
	if e.Status.IsComplete() {
		return nil
	}
	top := e.TopLevelStages()
	if anyInFlight(top) || (!e.Canceled && !settled(top)) {
		return nil
	}

	var status execution.Status
	switch {
	case e.Canceled:
		status = execution.StatusCanceled
	case anyStatus(top, execution.StatusTerminal):
		status = execution.StatusTerminal
	case anyStatus(top, execution.StatusCanceled):
		status = execution.StatusCanceled
	case anyStatus(top, execution.StatusStopped):
		status = execution.StatusStopped
	default:
		status = execution.StatusSucceeded
	}

	if err := h.repo.UpdateStatus(ctx, e.Type, e.ID, status); err != nil {
		return err
	}
	e.Status = status
	h.finished(ctx, e)
	return nil
}

func (h *Handler) finished(ctx context.Context, e *execution.Execution) {
	if h.metrics != nil {
		h.metrics.IncCounter(ctx, ports.MetricExecutions, map[string]string{"type": string(e.Type), "status": string(e.Status)})
	}
	h.logger.Info(ctx, "execution complete", "execution_id", e.ID, "status", string(e.Status))
	h.publish(ctx, executionEvent(ports.EventExecutionComplete, e))
}

func (h *Handler) cancelExecution(ctx context.Context, e *execution.Execution, msg Message) error {
	if e.Status.IsComplete() {
		return nil
	}
	if err := h.repo.Cancel(ctx, e.Type, e.ID, msg.User, msg.Reason); err != nil {
		return err
	}
	if e.Status == execution.StatusPaused {
		if err := h.repo.Resume(ctx, e.Type, e.ID, "system", true); err != nil {
			return err
		}
	}

	refreshed, err := h.repo.Retrieve(ctx, e.Type, e.ID)
	if err != nil {
		return err
	}
	if refreshed.Status.IsComplete() {
		h.finished(ctx, refreshed)
		return nil
	}

	woken := 0
	for _, s := range refreshed.Stages() {
		if !inFlight(s.Status) {
			continue
		}
		for i := range s.Tasks {
			task := &s.Tasks[i]
			if task.Status == execution.StatusRunning || task.Status == execution.StatusPaused {
				if err := h.push(ctx, taskMessage(s, task), 0); err != nil {
					return err
				}
				woken++
			}
		}
	}
	if woken == 0 {
		return h.push(ctx, executionMessage(KindCompleteExecution, refreshed), 0)
	}
	return nil
}

func (h *Handler) rescheduleExecution(ctx context.Context, e *execution.Execution) error {
	for _, s := range e.Stages() {
		if s.Status != execution.StatusRunning {
			continue
		}
		for i := range s.Tasks {
			if s.Tasks[i].Status == execution.StatusRunning {
				if err := h.push(ctx, taskMessage(s, &s.Tasks[i]), 0); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (h *Handler) resumeExecution(ctx context.Context, e *execution.Execution, msg Message) error {
	if e.Status == execution.StatusPaused {
		return h.push(ctx, msg, h.retryDelay)
	}
	for _, s := range e.Stages() {
		if s.Status != execution.StatusPaused {
			continue
		}
		s.Status = execution.StatusRunning
		var resumed []*execution.Task
		for i := range s.Tasks {
			if s.Tasks[i].Status == execution.StatusPaused {
				s.Tasks[i].Status = execution.StatusRunning
				resumed = append(resumed, &s.Tasks[i])
			}
		}
		if err := h.repo.StoreStage(ctx, s); err != nil {
			return err
		}
		for _, task := range resumed {
			if err := h.push(ctx, taskMessage(s, task), 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) restartStage(ctx context.Context, e *execution.Execution, s *execution.Stage) error {
	if !s.Status.IsComplete() {
		return execution.NewError(execution.ErrCodeIllegalState, "only complete stages can be restarted", nil, map[string]interface{}{
			"stage_id": s.ID,
			"status":   string(s.Status),
		})
	}
	removed := h.planner.PrepareForRestart(s)
	for _, candidate := range e.Stages() {
		if candidate.Status == execution.StatusNotStarted {
			delete(candidate.Context, contextException)
		}
	}
	if e.Status.IsComplete() {
		e.Status = execution.StatusRunning
		e.EndTime = time.Time{}
		e.Canceled = false
		e.CanceledBy = ""
		e.CancellationReason = ""
	}
	if err := h.repo.Store(ctx, e); err != nil {
		return err
	}
	h.logger.Info(ctx, "restarting stage", "execution_id", e.ID, "stage_id", s.ID, "removed_stages", len(removed))
	return h.push(ctx, stageMessage(KindStartStage, s), 0)
}

func (h *Handler) push(ctx context.Context, msg Message, delay time.Duration) error {
	msg.ID = ""
	return h.queue.Push(ctx, msg, delay)
}

func (h *Handler) pushEach(ctx context.Context, kind MessageKind, stages []*execution.Stage) error {
	for _, s := range stages {
		if err := h.push(ctx, stageMessage(kind, s), 0); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) recordTaskDuration(ctx context.Context, task string, duration time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.ObserveHistogram(ctx, ports.MetricTaskDuration, duration.Seconds(), map[string]string{"task": task})
}

func (h *Handler) publish(ctx context.Context, event ports.ExecutionEvent) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn(ctx, "failed to publish execution event", "event_type", event.Kind, "error", err)
	}
}

// determineStatus derives a stage's outcome from its tasks and synthetic
// children. Halting statuses win over FAILED_CONTINUE, which wins over success.
func determineStatus(s *execution.Stage) execution.Status {
	var statuses []execution.Status
	for _, child := range s.Children(execution.OwnerNone) {
		if child.Status.IsComplete() {
			statuses = append(statuses, child.Status)
		}
	}
	for _, task := range s.Tasks {
		if task.Status.IsComplete() {
			statuses = append(statuses, task.Status)
		}
	}
	if _, ok := s.Context[contextException]; ok && len(s.Tasks) == 0 {
		return execution.StatusTerminal
	}

	skipped := len(statuses) > 0
	for _, want := range []execution.Status{execution.StatusTerminal, execution.StatusCanceled, execution.StatusStopped, execution.StatusFailedContinue} {
		for _, got := range statuses {
			if got == want {
				return want
			}
		}
	}
	for _, got := range statuses {
		if got != execution.StatusSkipped {
			skipped = false
		}
	}
	if skipped {
		return execution.StatusSkipped
	}
	return execution.StatusSucceeded
}

// failureStatus softens TERMINAL for stages configured to let the pipeline go on.
func failureStatus(s *execution.Stage) execution.Status {
	if s.ContextBool(contextContinuePipeline) {
		return execution.StatusFailedContinue
	}
	if v, ok := s.Context[contextFailPipeline].(bool); ok && !v {
		return execution.StatusStopped
	}
	return execution.StatusTerminal
}

func resetLoop(s *execution.Stage, fromID, toID string) {
	inLoop := false
	for i := range s.Tasks {
		task := &s.Tasks[i]
		if task.ID == fromID {
			inLoop = true
		}
		if inLoop {
			task.Status = execution.StatusNotStarted
			task.StartTime = time.Time{}
			task.EndTime = time.Time{}
		}
		if task.ID == toID {
			return
		}
	}
}

func initialChildren(s *execution.Stage, owner execution.SyntheticOwner) []*execution.Stage {
	var out []*execution.Stage
	for _, child := range s.Children(owner) {
		if len(child.RequisiteStageRefIDs) == 0 {
			out = append(out, child)
		}
	}
	return out
}

func inFlight(status execution.Status) bool {
	return !status.IsComplete() && status != execution.StatusNotStarted
}

func anyInFlight(stages []*execution.Stage) bool {
	for _, s := range stages {
		if inFlight(s.Status) {
			return true
		}
	}
	return false
}

// settled reports whether none of the stages will do further work: each is
// complete or can never start because something it requires halted.
func settled(stages []*execution.Stage) bool {
	for _, s := range stages {
		if s.Status.IsComplete() {
			continue
		}
		if s.Status != execution.StatusNotStarted || !blocked(s) {
			return false
		}
	}
	return true
}

// blocked reports whether a stage sits downstream of a halted stage.
func blocked(s *execution.Stage) bool {
	for _, upstream := range s.UpstreamStages() {
		if upstream.Status.IsHalt() {
			return true
		}
		if upstream.Status == execution.StatusNotStarted && blocked(upstream) {
			return true
		}
	}
	return false
}

func allContinue(stages []*execution.Stage) bool {
	for _, s := range stages {
		if !s.Status.ContinuesDownstream() {
			return false
		}
	}
	return true
}

// tasksDone reports whether the stage's task chain has ended: nothing is in
// flight and no task is waiting to be dispatched after a finished one.
func tasksDone(s *execution.Stage) bool {
	for i := range s.Tasks {
		task := s.Tasks[i]
		if inFlight(task.Status) {
			return false
		}
		if task.Status == execution.StatusNotStarted && i > 0 && s.Tasks[i-1].Status.ContinuesDownstream() {
			return false
		}
	}
	return true
}

func allNotStarted(stages []*execution.Stage) bool {
	for _, s := range stages {
		if s.Status != execution.StatusNotStarted {
			return false
		}
	}
	return true
}

func anyStatus(stages []*execution.Stage, status execution.Status) bool {
	for _, s := range stages {
		if s.Status == status {
			return true
		}
	}
	return false
}

func exceptionDetails(err error) map[string]interface{} {
	details := map[string]interface{}{"message": err.Error()}
	var derr *execution.DomainError
	if errors.As(err, &derr) {
		details["code"] = string(derr.Code)
	}
	return details
}

func executionEvent(kind string, e *execution.Execution) ports.ExecutionEvent {
	return ports.ExecutionEvent{
		Kind:             kind,
		ExecutionType:    e.Type,
		ExecutionID:      e.ID,
		Application:      e.Application,
		PipelineConfigID: e.PipelineConfigID,
		Status:           e.Status,
	}
}

func stageEvent(kind string, s *execution.Stage) ports.ExecutionEvent {
	event := executionEvent(kind, s.Execution())
	event.StageID = s.ID
	event.StageType = s.Type
	event.Status = s.Status
	return event
}
