package ports

import (
	"context"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

const (
	// EventExecutionStarted is emitted when an execution moves to RUNNING.
	EventExecutionStarted = "execution.started"
	// EventExecutionComplete is emitted once an execution reaches a complete status.
	EventExecutionComplete = "execution.complete"
	// EventStageStarted is emitted when a stage begins running its tasks.
	EventStageStarted = "stage.started"
	// EventStageComplete is emitted when a stage reaches a complete status.
	EventStageComplete = "stage.complete"
	// EventTaskComplete is emitted when a task reaches a complete status.
	EventTaskComplete = "task.complete"
)

// DomainEvent represents a significant occurrence within the engine. Events
// carry structured payloads that subscribers use for logging, queue promotion,
// or integrations.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish blocks until all handlers run. Implementations must be
// thread-safe.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Failures should be
// returned so publishers can log them and continue with remaining subscribers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler.
type Subscription interface {
	Unsubscribe()
}

// ExecutionEvent describes a lifecycle change of an execution, stage, or task.
type ExecutionEvent struct {
	Kind             string
	ExecutionType    execution.Type
	ExecutionID      string
	Application      string
	PipelineConfigID string
	StageID          string
	StageType        string
	TaskID           string
	Status           execution.Status
}

// EventType implements DomainEvent.
func (e ExecutionEvent) EventType() string { return e.Kind }

// Payload implements DomainEvent.
func (e ExecutionEvent) Payload() interface{} { return e }
