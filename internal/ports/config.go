package ports

import (
	"context"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// DefinitionParser turns an externally supplied pipeline or orchestration
// document into an unsaved execution. Implementations must not assign
// identifiers that the launcher is responsible for, and must return
// validation errors enriched with the offending field.
type DefinitionParser interface {
	Parse(ctx context.Context, typ execution.Type, document []byte) (*execution.Execution, error)
}
