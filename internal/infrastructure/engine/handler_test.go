package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/taskgraph"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/stage"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
	"github.com/alexisbeaulieu97/pipewright/internal/stages"
)

func TestSecondStageWaitsForItsRequisite(t *testing.T) {
	h := newHarness(t)
	h.start(pipeline("e1", testStage("s1", "1", "test"), testStage("s2", "2", "test", "1")))

	h.step() // start execution
	h.step() // start s1
	h.step() // run s1 task
	h.step() // complete s1

	e := h.retrieve("e1")
	assert.Equal(t, execution.StatusRunning, e.Status)
	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "s1").Status)
	assert.Equal(t, execution.StatusNotStarted, h.stage("e1", "s2").Status)
	assert.False(t, e.Status.IsComplete())

	h.drain()

	e = h.retrieve("e1")
	assert.Equal(t, execution.StatusSucceeded, e.Status)
	assert.False(t, e.EndTime.IsZero())
	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "s2").Status)
	assert.Equal(t, []string{"s1", "s2"}, h.recorder.ran())
	assert.Equal(t, "s2", h.stage("e1", "s2").Outputs["ran"])
	assert.Equal(t, 1, h.events.count(ports.EventExecutionComplete))
	assert.Equal(t, 2, h.events.count(ports.EventStageComplete))
}

func TestParallelBranchesJoin(t *testing.T) {
	h := newHarness(t)
	h.start(pipeline("e1",
		testStage("a", "1", "test"),
		testStage("b", "2", "test"),
		testStage("c", "3", "test", "1", "2"),
	))
	h.drain()

	assert.Equal(t, execution.StatusSucceeded, h.retrieve("e1").Status)
	ran := h.recorder.ran()
	require.Len(t, ran, 3)
	assert.Equal(t, "c", ran[2])
}

func TestWaitStageSuspendsUntilScheduledTime(t *testing.T) {
	h := newHarness(t)
	wait := execution.NewStage("w", "1", stages.WaitStageType, "Wait", map[string]interface{}{stages.ContextWaitTime: 30})
	h.start(pipeline("e1", wait))
	h.drain()

	s := h.stage("e1", "w")
	assert.Equal(t, execution.StatusRunning, s.Status)
	assert.WithinDuration(t, h.clock().Add(30*time.Second), s.ScheduledTime, time.Millisecond)
	assert.Equal(t, execution.StatusRunning, h.retrieve("e1").Status)

	h.advance(31 * time.Second)
	h.drain()

	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "w").Status)
	assert.Equal(t, execution.StatusSucceeded, h.retrieve("e1").Status)
}

type loopBuilder struct{}

func (loopBuilder) Type() string { return "poll" }

func (loopBuilder) BuildTaskGraph(_ *execution.Stage, b *taskgraph.Builder) {
	b.WithLoop(func(loop *taskgraph.Builder) {
		loop.WithTask("check", "counter")
	})
	b.WithTask("record", "record")
}

func TestLoopRedirectsUntilDone(t *testing.T) {
	h := newHarness(t, loopBuilder{})
	require.NoError(t, h.tasks.Register("counter", taskFunc(func(_ context.Context, s *execution.Stage) (ports.TaskResult, error) {
		count, _ := s.Context["count"].(float64)
		count++
		status := execution.StatusRedirect
		if count >= 3 {
			status = execution.StatusSucceeded
		}
		return ports.TaskResult{Status: status, Context: map[string]interface{}{"count": count}}, nil
	})))

	h.start(pipeline("e1", testStage("p", "1", "poll")))
	h.drain()

	s := h.stage("e1", "p")
	assert.Equal(t, execution.StatusSucceeded, s.Status)
	assert.Equal(t, float64(3), s.Context["count"])
	assert.Equal(t, []string{"p"}, h.recorder.ran())
}

type failingBuilder struct{ typ string }

func (b failingBuilder) Type() string { return b.typ }

func (failingBuilder) BuildTaskGraph(_ *execution.Stage, b *taskgraph.Builder) {
	b.WithTask("explode", "fail")
}

func TestFailingTaskHaltsExecution(t *testing.T) {
	h := newHarness(t, failingBuilder{typ: "fragile"})
	h.start(pipeline("e1", testStage("s1", "1", "fragile"), testStage("s2", "2", "test", "1")))
	h.drain()

	e := h.retrieve("e1")
	assert.Equal(t, execution.StatusTerminal, e.Status)
	s1 := h.stage("e1", "s1")
	assert.Equal(t, execution.StatusTerminal, s1.Status)
	assert.Equal(t, execution.StatusTerminal, s1.Tasks[0].Status)
	assert.Contains(t, s1.Context, "exception")
	assert.Equal(t, execution.StatusNotStarted, h.stage("e1", "s2").Status)
	assert.Empty(t, h.recorder.ran())
}

func TestContinuePipelineLetsDownstreamRun(t *testing.T) {
	h := newHarness(t, failingBuilder{typ: "fragile"})
	s1 := testStage("s1", "1", "fragile")
	s1.Context["continuePipeline"] = true
	h.start(pipeline("e1", s1, testStage("s2", "2", "test", "1")))
	h.drain()

	assert.Equal(t, execution.StatusFailedContinue, h.stage("e1", "s1").Status)
	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "s2").Status)
	assert.Equal(t, execution.StatusSucceeded, h.retrieve("e1").Status)
}

type aroundBuilder struct{}

func (aroundBuilder) Type() string { return "deploy" }

func (aroundBuilder) BuildTaskGraph(_ *execution.Stage, b *taskgraph.Builder) {
	b.WithTask("record", "record")
}

func (aroundBuilder) AroundStages(*execution.Stage) []*execution.Stage {
	return []*execution.Stage{
		execution.NewSyntheticStage(execution.OwnerBefore, "test", "setup", nil),
		execution.NewSyntheticStage(execution.OwnerAfter, "test", "cleanup", nil),
	}
}

func TestSyntheticStagesRunAroundParent(t *testing.T) {
	h := newHarness(t, aroundBuilder{})
	h.start(pipeline("e1", testStage("deploy", "1", "deploy")))
	h.drain()

	assert.Equal(t, []string{"setup", "deploy", "cleanup"}, h.recorder.ran())
	e := h.retrieve("e1")
	assert.Equal(t, execution.StatusSucceeded, e.Status)
	var ids []string
	for _, s := range e.Stages() {
		ids = append(ids, s.ID)
		assert.Equal(t, execution.StatusSucceeded, s.Status, s.ID)
	}
	assert.Equal(t, []string{"deploy-1-setup", "deploy", "deploy-2-cleanup"}, ids)
}

type rollbackBuilder struct{ failingBuilder }

func (rollbackBuilder) OnFailureStages(*execution.Stage) []*execution.Stage {
	return []*execution.Stage{execution.NewSyntheticStage(execution.OwnerAfter, "test", "rollback", nil)}
}

func TestOnFailureStagesRunAfterFailure(t *testing.T) {
	h := newHarness(t, rollbackBuilder{failingBuilder{typ: "fragile"}})
	h.start(pipeline("e1", testStage("s1", "1", "fragile")))
	h.drain()

	assert.Equal(t, []string{"rollback"}, h.recorder.ran())
	assert.Equal(t, execution.StatusTerminal, h.stage("e1", "s1").Status)
	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "s1-1-rollback").Status)
	assert.Equal(t, execution.StatusTerminal, h.retrieve("e1").Status)
}

func TestCancelStopsSuspendedTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wait := execution.NewStage("w", "1", stages.WaitStageType, "Wait", map[string]interface{}{stages.ContextWaitTime: 3600})
	h.start(pipeline("e1", wait, testStage("after", "2", "test", "1")))
	h.drain()

	e := h.retrieve("e1")
	require.NoError(t, h.runner.Cancel(ctx, e, "alice", "no longer needed"))
	require.NoError(t, h.repo.Cancel(ctx, e.Type, e.ID, "alice", "no longer needed"))
	h.drain()

	e = h.retrieve("e1")
	assert.Equal(t, execution.StatusCanceled, e.Status)
	assert.Equal(t, "alice", e.CanceledBy)
	w := h.stage("e1", "w")
	assert.Equal(t, execution.StatusCanceled, w.Status)
	assert.Equal(t, execution.StatusCanceled, w.Tasks[0].Status)
	assert.Equal(t, execution.StatusNotStarted, h.stage("e1", "after").Status)
	assert.Equal(t, 1, h.events.count(ports.EventExecutionComplete))
}

func TestPauseParksTaskUntilResumed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wait := execution.NewStage("w", "1", stages.WaitStageType, "Wait", map[string]interface{}{stages.ContextWaitTime: 30})
	h.start(pipeline("e1", wait))
	h.drain()

	e := h.retrieve("e1")
	require.NoError(t, h.runner.Reschedule(ctx, e))
	require.NoError(t, h.repo.Pause(ctx, e.Type, e.ID, "bob"))
	h.drain()

	w := h.stage("e1", "w")
	assert.Equal(t, execution.StatusPaused, w.Status)
	assert.Equal(t, execution.StatusPaused, w.Tasks[0].Status)

	require.NoError(t, h.runner.Unpause(ctx, e))
	require.NoError(t, h.repo.Resume(ctx, e.Type, e.ID, "bob", false))
	h.drain()
	assert.Equal(t, execution.StatusRunning, h.stage("e1", "w").Status)

	h.advance(31 * time.Second)
	h.drain()
	assert.Equal(t, execution.StatusSucceeded, h.retrieve("e1").Status)
}

func TestRestartRerunsFailedStage(t *testing.T) {
	attempts := 0
	h := newHarness(t, onceBuilder{})
	require.NoError(t, h.tasks.Register("fail-once", taskFunc(func(context.Context, *execution.Stage) (ports.TaskResult, error) {
		attempts++
		if attempts == 1 {
			return ports.TaskResult{Status: execution.StatusTerminal}, nil
		}
		return ports.TaskResult{Status: execution.StatusSucceeded}, nil
	})))

	h.start(pipeline("e1", testStage("s1", "1", "once"), testStage("s2", "2", "test", "1")))
	h.drain()
	require.Equal(t, execution.StatusTerminal, h.retrieve("e1").Status)

	require.NoError(t, h.runner.Restart(context.Background(), h.retrieve("e1"), "s1"))
	h.drain()

	e := h.retrieve("e1")
	assert.Equal(t, execution.StatusSucceeded, e.Status)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "s2").Status)
}

type onceBuilder struct{}

func (onceBuilder) Type() string { return "once" }

func (onceBuilder) BuildTaskGraph(_ *execution.Stage, b *taskgraph.Builder) {
	b.WithTask("attempt", "fail-once")
}

func TestStartRejectsUnknownStageType(t *testing.T) {
	h := newHarness(t)
	e := pipeline("e1", testStage("s1", "1", "mystery"))
	require.NoError(t, h.repo.Store(context.Background(), e))

	err := h.runner.Start(context.Background(), e)
	require.Error(t, err)
	assert.True(t, execution.HasCode(err, execution.ErrCodeInvalidConfig))

	size, err := h.queue.Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestHandlerDropsMessagesForMissingExecutions(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.queue.Push(context.Background(), Message{Kind: KindStartExecution, ExecutionType: execution.TypePipeline, ExecutionID: "ghost"}, 0))
	h.drain()

	size, err := h.queue.Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size)
}

type fanoutBuilder struct{}

func (fanoutBuilder) Type() string { return "fanout" }

func (fanoutBuilder) BuildTaskGraph(_ *execution.Stage, b *taskgraph.Builder) {
	b.WithTask("record", "record")
}

func (fanoutBuilder) ParallelStages(*execution.Stage) []*execution.Stage {
	return []*execution.Stage{
		execution.NewSyntheticStage(execution.OwnerBefore, "test", "left", nil),
		execution.NewSyntheticStage(execution.OwnerBefore, "test", "right", nil),
	}
}

// snapshotBarrier holds the first n retrievals until all n have loaded, so
// that each caller works from a snapshot taken before any of them wrote.
type snapshotBarrier struct {
	ports.ExecutionRepository
	calls   atomic.Int32
	n       int32
	waiting sync.WaitGroup
}

func newSnapshotBarrier(repo ports.ExecutionRepository, n int) *snapshotBarrier {
	b := &snapshotBarrier{ExecutionRepository: repo, n: int32(n)}
	b.waiting.Add(n)
	return b
}

func (b *snapshotBarrier) Retrieve(ctx context.Context, typ execution.Type, id string) (*execution.Execution, error) {
	e, err := b.ExecutionRepository.Retrieve(ctx, typ, id)
	if b.calls.Add(1) <= b.n {
		b.waiting.Done()
		b.waiting.Wait()
	}
	return e, err
}

func TestParallelBeforeStagesCompletingTogetherResumeParent(t *testing.T) {
	h := newHarness(t, fanoutBuilder{})
	ctx := context.Background()
	h.start(pipeline("e1", testStage("p", "1", "fanout")))

	// start execution, start p, start both children, run both children's tasks
	for i := 0; i < 6; i++ {
		h.step()
	}
	var pending []Message
	for i := 0; i < 2; i++ {
		msg, err := h.queue.Poll(ctx)
		require.NoError(t, err)
		require.NotNil(t, msg)
		require.Equal(t, KindCompleteStage, msg.Kind)
		pending = append(pending, *msg)
	}
	assert.ElementsMatch(t, []string{"p-1-left", "p-2-right"}, []string{pending[0].StageID, pending[1].StageID})

	handler := NewHandler(newSnapshotBarrier(h.repo, 2), stage.NewPlanner(h.builders), h.tasks, h.queue, WithHandlerClock(h.clock), WithHandlerEvents(h.events))
	var wg sync.WaitGroup
	errs := make([]error, len(pending))
	for i, msg := range pending {
		wg.Add(1)
		go func(i int, msg Message) {
			defer wg.Done()
			errs[i] = handler.Handle(ctx, msg)
		}(i, msg)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	h.drain()

	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "p-1-left").Status)
	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "p-2-right").Status)
	assert.Equal(t, execution.StatusSucceeded, h.stage("e1", "p").Status)
	assert.Equal(t, execution.StatusSucceeded, h.retrieve("e1").Status)

	ran := h.recorder.ran()
	require.Len(t, ran, 3)
	assert.Equal(t, "p", ran[2])
	assert.Equal(t, 1, h.events.count(ports.EventExecutionComplete))
}

func TestDuplicateStartStageRunsStageOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(pipeline("e1", testStage("s1", "1", "test")))
	h.step() // start execution

	msg, err := h.queue.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, KindStartStage, msg.Kind)

	handler := NewHandler(newSnapshotBarrier(h.repo, 2), stage.NewPlanner(h.builders), h.tasks, h.queue, WithHandlerClock(h.clock), WithHandlerEvents(h.events))
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, handler.Handle(ctx, *msg))
		}()
	}
	wg.Wait()

	size, err := h.queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	h.drain()
	assert.Equal(t, []string{"s1"}, h.recorder.ran())
	assert.Equal(t, execution.StatusSucceeded, h.retrieve("e1").Status)
	assert.Equal(t, 1, h.events.count(ports.EventStageStarted))
}

func TestStoppedBranchWaitsForPendingSibling(t *testing.T) {
	h := newHarness(t, failingBuilder{typ: "fragile"})
	ctx := context.Background()
	stopper := testStage("halt", "1", "fragile")
	stopper.Context["failPipeline"] = false
	h.start(pipeline("e1",
		stopper,
		testStage("a", "2", "test"),
		testStage("b", "3", "test", "2"),
	))

	// a has finished and b's start is still queued
	e := h.retrieve("e1")
	for _, s := range e.Stages() {
		if s.ID == "b" {
			continue
		}
		s.Status = execution.StatusSucceeded
		if s.ID == "halt" {
			s.Status = execution.StatusStopped
		}
	}
	e.Status = execution.StatusRunning
	require.NoError(t, h.repo.Store(ctx, e))

	handler := NewHandler(h.repo, stage.NewPlanner(h.builders), h.tasks, h.queue, WithHandlerClock(h.clock), WithHandlerEvents(h.events))
	require.NoError(t, handler.Handle(ctx, Message{Kind: KindCompleteExecution, ExecutionType: e.Type, ExecutionID: e.ID}))
	assert.Equal(t, execution.StatusRunning, h.retrieve("e1").Status)

	b := h.stage("e1", "b")
	b.Status = execution.StatusSucceeded
	require.NoError(t, h.repo.StoreStage(ctx, b))
	require.NoError(t, handler.Handle(ctx, Message{Kind: KindCompleteExecution, ExecutionType: e.Type, ExecutionID: e.ID}))
	assert.Equal(t, execution.StatusStopped, h.retrieve("e1").Status)
}
