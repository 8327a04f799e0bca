package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/taskgraph"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/persistence"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/stage"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
	"github.com/alexisbeaulieu97/pipewright/internal/stages"
)

type harness struct {
	t        *testing.T
	client   redis.UniversalClient
	repo     *persistence.RedisExecutionRepository
	queue    *MemoryQueue
	runner   *QueueRunner
	worker   *Worker
	builders *stage.Registry
	tasks    *stage.TaskRegistry
	events   *stubEventPublisher
	recorder *recorder

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T, builders ...ports.StageDefinitionBuilder) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		t:        t,
		client:   client,
		now:      time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC),
		builders: stage.NewRegistry(),
		tasks:    stage.NewTaskRegistry(),
		events:   &stubEventPublisher{},
		recorder: &recorder{},
	}
	require.NoError(t, stages.RegisterDefaults(h.builders, h.tasks, stages.Options{Now: h.clock}))
	require.NoError(t, h.builders.Register(recordingBuilder{typ: "test"}))
	for _, b := range builders {
		require.NoError(t, h.builders.Register(b))
	}
	require.NoError(t, h.tasks.Register("record", h.recorder))
	require.NoError(t, h.tasks.Register("fail", taskFunc(func(context.Context, *execution.Stage) (ports.TaskResult, error) {
		return ports.TaskResult{}, errors.New("boom")
	})))

	h.repo = persistence.NewRedisExecutionRepository(client)
	h.queue = NewMemoryQueue(h.clock)
	planner := stage.NewPlanner(h.builders)
	h.runner = NewQueueRunner(h.queue, h.repo, planner, nil)
	handler := NewHandler(h.repo, planner, h.tasks, h.queue,
		WithHandlerEvents(h.events),
		WithHandlerClock(h.clock),
		WithRetryDelay(time.Second),
	)
	h.worker = NewWorker(h.queue, handler)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) start(e *execution.Execution) {
	h.t.Helper()
	require.NoError(h.t, h.repo.Store(context.Background(), e))
	require.NoError(h.t, h.runner.Start(context.Background(), e))
}

func (h *harness) drain() {
	h.t.Helper()
	_, err := h.worker.Drain(context.Background(), 500)
	require.NoError(h.t, err)
}

func (h *harness) step() {
	h.t.Helper()
	ok, err := h.worker.ProcessNext(context.Background())
	require.NoError(h.t, err)
	require.True(h.t, ok, "expected a due message")
}

func (h *harness) retrieve(id string) *execution.Execution {
	h.t.Helper()
	e, err := h.repo.Retrieve(context.Background(), execution.TypePipeline, id)
	require.NoError(h.t, err)
	return e
}

func (h *harness) stage(id, stageID string) *execution.Stage {
	h.t.Helper()
	s, err := h.retrieve(id).StageByID(stageID)
	require.NoError(h.t, err)
	return s
}

func pipeline(id string, stages ...*execution.Stage) *execution.Execution {
	e := execution.New(execution.TypePipeline, id, "orders")
	e.PipelineConfigID = "cfg-1"
	for _, s := range stages {
		e.AppendStage(s)
	}
	return e
}

func testStage(id, ref, stageType string, requisites ...string) *execution.Stage {
	s := execution.NewStage(id, ref, stageType, id, nil)
	s.RequisiteStageRefIDs = requisites
	return s
}

type taskFunc func(context.Context, *execution.Stage) (ports.TaskResult, error)

func (f taskFunc) Execute(ctx context.Context, s *execution.Stage) (ports.TaskResult, error) {
	return f(ctx, s)
}

// recorder succeeds and remembers the stages it ran for.
type recorder struct {
	mu     sync.Mutex
	stages []string
}

func (r *recorder) Execute(_ context.Context, s *execution.Stage) (ports.TaskResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s.Name)
	return ports.TaskResult{Status: execution.StatusSucceeded, Outputs: map[string]interface{}{"ran": s.Name}}, nil
}

func (r *recorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stages...)
}

type recordingBuilder struct {
	typ string
}

func (b recordingBuilder) Type() string { return b.typ }

func (b recordingBuilder) BuildTaskGraph(_ *execution.Stage, g *taskgraph.Builder) {
	g.WithTask("record", "record")
}

type stubEventPublisher struct {
	mu     sync.Mutex
	events []ports.DomainEvent
}

func (s *stubEventPublisher) Publish(_ context.Context, event ports.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubEventPublisher) Subscribe(string, ports.EventHandler) (ports.Subscription, error) {
	return noopSubscription{}, nil
}

func (s *stubEventPublisher) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, evt := range s.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}
