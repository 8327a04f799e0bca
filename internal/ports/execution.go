package ports

import (
	"context"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// ExecutionRunner advances executions by dispatching work. It is the seam
// between the durable model and the dispatch mechanism. Runners that cannot
// perform an operation return an UNSUPPORTED_OPERATION domain error.
type ExecutionRunner interface {
	Start(ctx context.Context, e *execution.Execution) error
	Restart(ctx context.Context, e *execution.Execution, stageID string) error
	Reschedule(ctx context.Context, e *execution.Execution) error
	Unpause(ctx context.Context, e *execution.Execution) error
	Cancel(ctx context.Context, e *execution.Execution, user, reason string) error
}
