package launcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/engine"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/persistence"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/stage"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/tracker"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
	"github.com/alexisbeaulieu97/pipewright/internal/stages"
)

var buildTime = time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo      *persistence.RedisExecutionRepository
	queue     *engine.MemoryQueue
	runner    ports.ExecutionRunner
	tracker   *tracker.StartTracker
	launcher  *Launcher
	completed *eventCounter
}

type eventCounter struct {
	mu  sync.Mutex
	ids []string
}

func (c *eventCounter) handle(_ context.Context, event ports.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, event.(ports.ExecutionEvent).ExecutionID)
	return nil
}

func (c *eventCounter) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	builders := stage.NewRegistry()
	tasks := stage.NewTaskRegistry()
	require.NoError(t, stages.RegisterDefaults(builders, tasks, stages.Options{}))

	f := &fixture{
		repo:      persistence.NewRedisExecutionRepository(client),
		queue:     engine.NewMemoryQueue(nil),
		completed: &eventCounter{},
	}
	f.tracker = tracker.NewStartTracker(tracker.NewRedisPipelineStack(client), f.repo)

	publisher := events.NewLoggingPublisher(nil)
	_, err := publisher.Subscribe(ports.EventExecutionComplete, f.completed.handle)
	require.NoError(t, err)

	f.runner = engine.NewQueueRunner(f.queue, f.repo, stage.NewPlanner(builders), nil)
	var n atomic.Int64
	f.launcher = New(NewYAMLParser(), f.repo, f.runner,
		WithStartGate(f.tracker),
		WithEvents(publisher),
		WithClock(func() time.Time { return buildTime }),
		WithIDGenerator(func() string {
			return fmt.Sprintf("id-%d", n.Add(1))
		}),
	)
	return f
}

func (f *fixture) queueSize(t *testing.T) int {
	t.Helper()
	size, err := f.queue.Size(context.Background())
	require.NoError(t, err)
	return size
}

func definition(correlationID string, limit bool, stageType string) []byte {
	return []byte(fmt.Sprintf(`application: orders
pipelineConfigId: cfg-1
limitConcurrent: %t
trigger:
  correlationId: %q
stages:
  - refId: "1"
    type: %s
    waitTime: 60
`, limit, correlationID, stageType))
}

func TestLaunchStoresAndStarts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.launcher.Launch(ctx, execution.TypePipeline, definition("", false, "wait"))
	require.NoError(t, err)
	assert.Equal(t, "id-1", e.ID)
	assert.Equal(t, "id-2", e.Stages()[0].ID)

	stored, err := f.repo.Retrieve(ctx, execution.TypePipeline, e.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusNotStarted, stored.Status)
	assert.True(t, stored.BuildTime.Equal(buildTime))
	require.Len(t, stored.Stages(), 1)
	assert.Len(t, stored.Stages()[0].Tasks, 1)
	assert.Equal(t, 1, f.queueSize(t))
}

func TestLaunchDeduplicatesByCorrelationID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.launcher.Launch(ctx, execution.TypePipeline, definition("build-42", false, "wait"))
	require.NoError(t, err)
	second, err := f.launcher.Launch(ctx, execution.TypePipeline, definition("build-42", false, "wait"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.queueSize(t))
	ids, err := f.repo.RetrieveAllExecutionIDs(ctx, execution.TypePipeline)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestLaunchRelaunchesOnceCorrelatedExecutionCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.launcher.Launch(ctx, execution.TypePipeline, definition("build-42", false, "wait"))
	require.NoError(t, err)
	require.NoError(t, f.repo.UpdateStatus(ctx, execution.TypePipeline, first.ID, execution.StatusRunning))
	require.NoError(t, f.repo.UpdateStatus(ctx, execution.TypePipeline, first.ID, execution.StatusSucceeded))

	second, err := f.launcher.Launch(ctx, execution.TypePipeline, definition("build-42", false, "wait"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestLaunchBuffersWhenConfigurationIsBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.launcher.Launch(ctx, execution.TypePipeline, definition("", true, "wait"))
	require.NoError(t, err)
	assert.Equal(t, execution.StatusNotStarted, first.Status)

	second, err := f.launcher.Launch(ctx, execution.TypePipeline, definition("", true, "wait"))
	require.NoError(t, err)
	assert.Equal(t, execution.StatusBuffered, second.Status)

	stored, err := f.repo.Retrieve(ctx, execution.TypePipeline, second.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusBuffered, stored.Status)

	queued, err := f.tracker.QueuedPipelines(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, queued)

	started, err := f.tracker.StartedExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, started)

	buffered, err := f.repo.RetrieveBufferedExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, buffered, 1)
	assert.Equal(t, second.ID, buffered[0].ID)

	assert.Equal(t, 1, f.queueSize(t), "only the first execution is handed to the runner")
}

func TestLaunchRecordsStartupFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.launcher.Launch(ctx, execution.TypePipeline, definition("", false, "mystery"))
	require.NoError(t, err)

	assert.Equal(t, execution.StatusTerminal, e.Status)
	assert.True(t, e.Canceled)
	assert.Equal(t, "system", e.CanceledBy)
	assert.True(t, strings.HasPrefix(e.CancellationReason, "Failed on startup: "), e.CancellationReason)
	assert.Contains(t, e.CancellationReason, "mystery")
	assert.Equal(t, []string{e.ID}, f.completed.seen())
	assert.Zero(t, f.queueSize(t))
}

func TestLaunchReturnsParseErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.launcher.Launch(context.Background(), execution.TypePipeline, []byte("stages: []\n"))
	require.Error(t, err)
	ids, err := f.repo.RetrieveAllExecutionIDs(context.Background(), execution.TypePipeline)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// lookupBarrier holds the first n correlation lookups until all of them
// have arrived, so concurrent launches all miss the existing execution.
type lookupBarrier struct {
	ports.ExecutionRepository
	wait    sync.WaitGroup
	pending atomic.Int32
}

func newLookupBarrier(repo ports.ExecutionRepository, n int) *lookupBarrier {
	b := &lookupBarrier{ExecutionRepository: repo}
	b.wait.Add(n)
	b.pending.Store(int32(n))
	return b
}

func (b *lookupBarrier) RetrieveByCorrelationID(ctx context.Context, typ execution.Type, correlationID string) (*execution.Execution, error) {
	if b.pending.Add(-1) >= 0 {
		b.wait.Done()
		b.wait.Wait()
	}
	return b.ExecutionRepository.RetrieveByCorrelationID(ctx, typ, correlationID)
}

func TestConcurrentLaunchesShareCorrelationID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var n atomic.Int64
	launcher := New(NewYAMLParser(), newLookupBarrier(f.repo, 2), f.runner,
		WithClock(func() time.Time { return buildTime }),
		WithIDGenerator(func() string {
			return fmt.Sprintf("id-%d", n.Add(1))
		}),
	)

	results := make([]*execution.Execution, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = launcher.Launch(ctx, execution.TypePipeline, definition("build-7", false, "wait"))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)
	assert.Equal(t, 1, f.queueSize(t))
	ids, err := f.repo.RetrieveAllExecutionIDs(ctx, execution.TypePipeline)
	require.NoError(t, err)
	assert.Equal(t, []string{results[0].ID}, ids)
}
