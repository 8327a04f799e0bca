package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/persistence"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

type fixture struct {
	repo    *persistence.RedisExecutionRepository
	stack   *RedisPipelineStack
	tracker *StartTracker
	runner  *recordingRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := persistence.NewRedisExecutionRepository(client)
	stack := NewRedisPipelineStack(client)
	return &fixture{
		repo:    repo,
		stack:   stack,
		tracker: NewStartTracker(stack, repo),
		runner:  &recordingRunner{},
	}
}

func (f *fixture) store(t *testing.T, id string, status execution.Status, mutate ...func(*execution.Execution)) *execution.Execution {
	t.Helper()
	e := execution.New(execution.TypePipeline, id, "orders")
	e.PipelineConfigID = "cfg-1"
	e.LimitConcurrent = true
	e.Status = status
	e.AppendStage(execution.NewStage(id+"-s1", "1", "wait", "Wait", nil))
	for _, fn := range mutate {
		fn(e)
	}
	require.NoError(t, f.repo.Store(context.Background(), e))
	return e
}

type recordingRunner struct {
	mu      sync.Mutex
	started []string
}

func (r *recordingRunner) Start(_ context.Context, e *execution.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, e.ID)
	return nil
}

func (r *recordingRunner) Restart(context.Context, *execution.Execution, string) error {
	return execution.NewUnsupportedOperation("restart")
}

func (r *recordingRunner) Reschedule(context.Context, *execution.Execution) error {
	return execution.NewUnsupportedOperation("reschedule")
}

func (r *recordingRunner) Unpause(context.Context, *execution.Execution) error {
	return execution.NewUnsupportedOperation("unpause")
}

func (r *recordingRunner) Cancel(context.Context, *execution.Execution, string, string) error {
	return execution.NewUnsupportedOperation("cancel")
}

func TestQueueIfNotStartedQueuesBehindRunningExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store(t, "a", execution.StatusRunning)
	queued, err := f.tracker.QueueIfNotStarted(ctx, "cfg-1", "a", 1)
	require.NoError(t, err)
	assert.False(t, queued)

	started, err := f.stack.Started(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, started)

	f.store(t, "b", execution.StatusNotStarted)
	queued, err = f.tracker.QueueIfNotStarted(ctx, "cfg-1", "b", 1)
	require.NoError(t, err)
	assert.True(t, queued)

	waiting, err := f.tracker.QueuedPipelines(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, waiting)

	all, err := f.stack.AllQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, all)
}

func TestQueueIfNotStartedReleasesStaleEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store(t, "a", execution.StatusSucceeded)
	require.NoError(t, f.tracker.AddToStarted(ctx, "cfg-1", "a"))

	queued, err := f.tracker.QueueIfNotStarted(ctx, "cfg-1", "b", 1)
	require.NoError(t, err)
	assert.False(t, queued)

	started, err := f.tracker.StartedExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, started)
}

func TestQueueIfNotStartedHonoursLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		f.store(t, id, execution.StatusRunning)
	}
	for _, id := range []string{"a", "b"} {
		queued, err := f.tracker.QueueIfNotStarted(ctx, "cfg-1", id, 2)
		require.NoError(t, err)
		assert.False(t, queued, id)
	}
	queued, err := f.tracker.QueueIfNotStarted(ctx, "cfg-1", "c", 2)
	require.NoError(t, err)
	assert.True(t, queued)
}

func queueBehind(t *testing.T, f *fixture, keepWaiting bool) {
	t.Helper()
	ctx := context.Background()
	setKeep := func(e *execution.Execution) { e.KeepWaitingPipelines = keepWaiting }

	f.store(t, "a", execution.StatusRunning, setKeep)
	_, err := f.tracker.QueueIfNotStarted(ctx, "cfg-1", "a", 1)
	require.NoError(t, err)
	for _, id := range []string{"b", "c", "d"} {
		f.store(t, id, execution.StatusBuffered, setKeep)
		queued, err := f.tracker.QueueIfNotStarted(ctx, "cfg-1", id, 1)
		require.NoError(t, err)
		require.True(t, queued)
	}
	require.NoError(t, f.repo.UpdateStatus(ctx, execution.TypePipeline, "a", execution.StatusSucceeded))
}

func TestListenerStartsNewestAndCancelsSuperseded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queueBehind(t, f, false)

	listener := NewListener(f.tracker, f.repo, f.runner, nil)
	require.NoError(t, listener.Handle(ctx, ports.ExecutionEvent{Kind: ports.EventExecutionComplete, ExecutionType: execution.TypePipeline, ExecutionID: "a"}))

	assert.Equal(t, []string{"d"}, f.runner.started)

	for _, id := range []string{"b", "c"} {
		e, err := f.repo.Retrieve(ctx, execution.TypePipeline, id)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusCanceled, e.Status, id)
		assert.Equal(t, supersededReason, e.CancellationReason)
	}

	d, err := f.repo.Retrieve(ctx, execution.TypePipeline, "d")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusNotStarted, d.Status)

	waiting, err := f.tracker.QueuedPipelines(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Empty(t, waiting)

	started, err := f.tracker.StartedExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, started)
}

func TestListenerKeepsWaitingPipelinesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queueBehind(t, f, true)

	listener := NewListener(f.tracker, f.repo, f.runner, nil)
	require.NoError(t, listener.ProcessCompleted(ctx))

	assert.Equal(t, []string{"b"}, f.runner.started)

	waiting, err := f.tracker.QueuedPipelines(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, waiting)

	c, err := f.repo.Retrieve(ctx, execution.TypePipeline, "c")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusBuffered, c.Status)
}

func TestListenerDropsMissingExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tracker.AddToStarted(ctx, "cfg-1", "ghost"))

	listener := NewListener(f.tracker, f.repo, f.runner, nil)
	require.NoError(t, listener.ProcessCompleted(ctx))

	started, err := f.tracker.StartedExecutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, started)
	assert.Empty(t, f.runner.started)
}

func TestListenerIgnoresOrchestrations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queueBehind(t, f, false)

	listener := NewListener(f.tracker, f.repo, f.runner, nil)
	require.NoError(t, listener.Handle(ctx, ports.ExecutionEvent{Kind: ports.EventExecutionComplete, ExecutionType: execution.TypeOrchestration}))
	assert.Empty(t, f.runner.started)
}

// retrieveBarrier makes the first n retrievals of one execution wait for each
// other, so concurrent listeners observe the same completed pipeline.
type retrieveBarrier struct {
	ports.ExecutionRepository
	id      string
	calls   atomic.Int32
	n       int32
	waiting sync.WaitGroup
}

func newRetrieveBarrier(repo ports.ExecutionRepository, id string, n int) *retrieveBarrier {
	b := &retrieveBarrier{ExecutionRepository: repo, id: id, n: int32(n)}
	b.waiting.Add(n)
	return b
}

func (b *retrieveBarrier) Retrieve(ctx context.Context, typ execution.Type, id string) (*execution.Execution, error) {
	e, err := b.ExecutionRepository.Retrieve(ctx, typ, id)
	if id == b.id && b.calls.Add(1) <= b.n {
		b.waiting.Done()
		b.waiting.Wait()
	}
	return e, err
}

func TestConcurrentListenersPromoteOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queueBehind(t, f, true)

	repo := newRetrieveBarrier(f.repo, "a", 2)
	listeners := []*Listener{
		NewListener(f.tracker, repo, f.runner, nil),
		NewListener(f.tracker, repo, f.runner, nil),
	}
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			assert.NoError(t, l.ProcessCompleted(ctx))
		}(l)
	}
	wg.Wait()

	assert.Equal(t, []string{"b"}, f.runner.started)

	started, err := f.stack.Started(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, started)

	waiting, err := f.tracker.QueuedPipelines(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, waiting)
}

func TestMarkAsFinishedReportsRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tracker.AddToStarted(ctx, "cfg-1", "a"))

	released, err := f.tracker.MarkAsFinished(ctx, "cfg-1", "a")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = f.tracker.MarkAsFinished(ctx, "cfg-1", "a")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestStartNextQueuedMovesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.tracker.StartNextQueued(ctx, "cfg-1", true)
	require.NoError(t, err)
	assert.Empty(t, id)

	queueBehind(t, f, true)
	id, err = f.tracker.StartNextQueued(ctx, "cfg-1", false)
	require.NoError(t, err)
	assert.Equal(t, "d", id)

	started, err := f.stack.Started(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a"}, started)

	all, err := f.stack.AllQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, all)
}

func TestListenerSkipsQueuedPipelineThatAlreadyFinished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queueBehind(t, f, true)
	require.NoError(t, f.repo.Cancel(ctx, execution.TypePipeline, "b", "bob", "not needed"))

	listener := NewListener(f.tracker, f.repo, f.runner, nil)
	require.NoError(t, listener.ProcessCompleted(ctx))

	assert.Equal(t, []string{"c"}, f.runner.started)
	started, err := f.stack.Started(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, started)
}
