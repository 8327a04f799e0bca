// Package stage resolves stage definition builders and tasks, and plans
// stages into task lists and synthetic child stages.
package stage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

// ContextAlias is the stage context key consulted when the stage type itself
// has no registered builder.
const ContextAlias = "alias"

// Registry maps stage types and their aliases to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]ports.StageDefinitionBuilder
	aliases  map[string]string
}

// NewRegistry creates an empty stage definition registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]ports.StageDefinitionBuilder),
		aliases:  make(map[string]string),
	}
}

// Register stores a builder under its type and any aliases it declares.
func (r *Registry) Register(b ports.StageDefinitionBuilder) error {
	if b == nil {
		return fmt.Errorf("stage definition builder is nil")
	}
	typ := b.Type()
	if typ == "" {
		return fmt.Errorf("stage definition builder type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[typ]; exists {
		return fmt.Errorf("stage definition builder for type %q already registered", typ)
	}
	if aliased, ok := b.(ports.Aliased); ok {
		for _, alias := range aliased.Aliases() {
			if _, taken := r.builders[alias]; taken {
				return fmt.Errorf("alias %q collides with a registered stage type", alias)
			}
			if owner, taken := r.aliases[alias]; taken && owner != typ {
				return fmt.Errorf("alias %q already registered for %q", alias, owner)
			}
		}
		for _, alias := range aliased.Aliases() {
			r.aliases[alias] = typ
		}
	}
	r.builders[typ] = b
	return nil
}

// RegisterFactory registers a builder produced by factory. The constructed
// builder must report stageType as its type.
func (r *Registry) RegisterFactory(stageType string, factory func() (ports.StageDefinitionBuilder, error)) error {
	if stageType == "" {
		return fmt.Errorf("stage type is required")
	}
	if factory == nil {
		return fmt.Errorf("stage builder factory is nil for type %q", stageType)
	}
	b, err := factory()
	if err != nil {
		return fmt.Errorf("construct stage builder %q: %w", stageType, err)
	}
	if b == nil {
		return fmt.Errorf("stage builder factory returned nil for type %q", stageType)
	}
	if b.Type() != stageType {
		return fmt.Errorf("stage builder type %q does not match registration type %q", b.Type(), stageType)
	}
	return r.Register(b)
}

// Get returns the builder registered for a type or alias.
func (r *Registry) Get(stageType string) (ports.StageDefinitionBuilder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.builders[stageType]; ok {
		return b, nil
	}
	if typ, ok := r.aliases[stageType]; ok {
		return r.builders[typ], nil
	}
	return nil, execution.NewNoSuchStageDefinitionBuilder(stageType)
}

// Resolve returns the builder for a stage, falling back to the alias named
// in the stage context.
func (r *Registry) Resolve(stage *execution.Stage) (ports.StageDefinitionBuilder, error) {
	if b, err := r.Get(stage.Type); err == nil {
		return b, nil
	}
	if alias := stage.ContextString(ContextAlias); alias != "" {
		if b, err := r.Get(alias); err == nil {
			return b, nil
		}
	}
	return nil, execution.NewNoSuchStageDefinitionBuilder(stage.Type)
}

// Types returns the registered stage types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// List returns all registered builders ordered by type.
func (r *Registry) List() []ports.StageDefinitionBuilder {
	types := r.Types()

	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ports.StageDefinitionBuilder, 0, len(types))
	for _, t := range types {
		result = append(result, r.builders[t])
	}
	return result
}

// TaskRegistry maps implementation names to task instances.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]ports.Task
}

// NewTaskRegistry creates an empty task registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]ports.Task)}
}

// Register stores a task under its implementation name.
func (r *TaskRegistry) Register(implementation string, task ports.Task) error {
	if implementation == "" {
		return fmt.Errorf("task implementation name is required")
	}
	if task == nil {
		return fmt.Errorf("task %q is nil", implementation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[implementation]; exists {
		return fmt.Errorf("task %q already registered", implementation)
	}
	r.tasks[implementation] = task
	return nil
}

// ResolveTask implements ports.TaskResolver.
func (r *TaskRegistry) ResolveTask(implementation string) (ports.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if task, ok := r.tasks[implementation]; ok {
		return task, nil
	}
	return nil, execution.NewError(execution.ErrCodeNotFound, "task not registered", nil, map[string]interface{}{
		"implementation": implementation,
	})
}

var _ ports.TaskResolver = (*TaskRegistry)(nil)
