package execution

import (
	"time"
)

// SyntheticOwner tags a stage injected by a builder with its side of the parent.
type SyntheticOwner string

const (
	OwnerNone   SyntheticOwner = ""
	OwnerBefore SyntheticOwner = "STAGE_BEFORE"
	OwnerAfter  SyntheticOwner = "STAGE_AFTER"
)

// LastModifiedDetails is the audit record attached to a stage mutation.
type LastModifiedDetails struct {
	User             string    `json:"user,omitempty"`
	AllowedAccounts  []string  `json:"allowedAccounts,omitempty"`
	LastModifiedTime time.Time `json:"lastModifiedTime,omitempty"`
}

// Stage is a named unit of work within an execution.
type Stage struct {
	ID                   string
	RefID                string
	Type                 string
	Name                 string
	ParentStageID        string
	SyntheticStageOwner  SyntheticOwner
	RequisiteStageRefIDs []string

	Status        Status
	StartTime     time.Time
	EndTime       time.Time
	ScheduledTime time.Time

	Context      map[string]interface{}
	Outputs      map[string]interface{}
	Tasks        []Task
	LastModified *LastModifiedDetails

	execution *Execution
}

// NewStage constructs a NOT_STARTED stage with empty context and outputs.
func NewStage(id, refID, stageType, name string, context map[string]interface{}) *Stage {
	if context == nil {
		context = map[string]interface{}{}
	}
	return &Stage{
		ID:      id,
		RefID:   refID,
		Type:    stageType,
		Name:    name,
		Status:  StatusNotStarted,
		Context: context,
		Outputs: map[string]interface{}{},
	}
}

// NewSyntheticStage constructs a stage owned by a parent on the given side.
// Identifiers and parent linkage are assigned when the stage is planned.
func NewSyntheticStage(owner SyntheticOwner, stageType, name string, context map[string]interface{}) *Stage {
	stage := NewStage("", "", stageType, name, context)
	stage.SyntheticStageOwner = owner
	return stage
}

// Execution returns the execution the stage belongs to.
func (s *Stage) Execution() *Execution {
	return s.execution
}

// IsSynthetic reports whether the stage was injected by a builder.
func (s *Stage) IsSynthetic() bool {
	return s.SyntheticStageOwner != OwnerNone
}

// IsInitial reports whether the stage is a top-level stage with no requisites.
func (s *Stage) IsInitial() bool {
	return s.ParentStageID == "" && len(s.RequisiteStageRefIDs) == 0
}

// Parent returns the stage this synthetic stage was derived from.
func (s *Stage) Parent() (*Stage, error) {
	if s.ParentStageID == "" {
		return nil, NewError(ErrCodeNotFound, "stage has no parent", nil, map[string]interface{}{"stage_id": s.ID})
	}
	if s.execution == nil {
		return nil, NewError(ErrCodeInternal, "stage is detached from its execution", nil, map[string]interface{}{"stage_id": s.ID})
	}
	return s.execution.StageByID(s.ParentStageID)
}

// Children returns synthetic stages owned by this stage, optionally filtered by owner.
func (s *Stage) Children(owner SyntheticOwner) []*Stage {
	if s.execution == nil {
		return nil
	}
	var out []*Stage
	for _, candidate := range s.execution.stages {
		if candidate.ParentStageID != s.ID {
			continue
		}
		if owner != OwnerNone && candidate.SyntheticStageOwner != owner {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// BeforeStages returns the synthetic stages that run ahead of this stage's tasks.
func (s *Stage) BeforeStages() []*Stage { return s.Children(OwnerBefore) }

// AfterStages returns the synthetic stages that run after this stage's tasks.
func (s *Stage) AfterStages() []*Stage { return s.Children(OwnerAfter) }

// UpstreamStages returns the sibling stages this stage requires.
func (s *Stage) UpstreamStages() []*Stage {
	if s.execution == nil || len(s.RequisiteStageRefIDs) == 0 {
		return nil
	}
	var out []*Stage
	for _, candidate := range s.execution.stages {
		if candidate.ParentStageID != s.ParentStageID {
			continue
		}
		for _, ref := range s.RequisiteStageRefIDs {
			if candidate.RefID == ref {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// DownstreamStages returns sibling stages that list this stage as a requisite.
func (s *Stage) DownstreamStages() []*Stage {
	if s.execution == nil {
		return nil
	}
	var out []*Stage
	for _, candidate := range s.execution.stages {
		if candidate.ParentStageID != s.ParentStageID {
			continue
		}
		for _, ref := range candidate.RequisiteStageRefIDs {
			if ref == s.RefID {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// AllUpstreamStagesComplete reports whether every requisite finished in a way
// that lets this stage run.
func (s *Stage) AllUpstreamStagesComplete() bool {
	for _, upstream := range s.UpstreamStages() {
		if !upstream.Status.ContinuesDownstream() {
			return false
		}
	}
	return true
}

// AnyUpstreamStageHalted reports whether a requisite stopped the branch.
func (s *Stage) AnyUpstreamStageHalted() bool {
	for _, upstream := range s.UpstreamStages() {
		if upstream.Status.IsHalt() {
			return true
		}
	}
	return false
}

// Ancestors returns the stage followed by its parent chain, nearest first.
func (s *Stage) Ancestors() []*Stage {
	out := []*Stage{s}
	current := s
	for current.ParentStageID != "" {
		parent, err := current.Parent()
		if err != nil {
			break
		}
		out = append(out, parent)
		current = parent
	}
	return out
}

// TaskByID returns a pointer into the stage's task list.
func (s *Stage) TaskByID(id string) (*Task, error) {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i], nil
		}
	}
	return nil, NewError(ErrCodeNotFound, "task not found", nil, map[string]interface{}{
		"stage_id": s.ID,
		"task_id":  id,
	})
}

// FirstTask returns the first task in graph order, or nil when the stage has none.
func (s *Stage) FirstTask() *Task {
	if len(s.Tasks) == 0 {
		return nil
	}
	return &s.Tasks[0]
}

// NextTask returns the task after the one with the given id, or nil at the end.
func (s *Stage) NextTask(id string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id && i+1 < len(s.Tasks) {
			return &s.Tasks[i+1]
		}
	}
	return nil
}

// LoopStartFor returns the loop-start task that owns the loop ending at id.
func (s *Stage) LoopStartFor(id string) *Task {
	var start *Task
	for i := range s.Tasks {
		task := &s.Tasks[i]
		if task.LoopStart {
			start = task
		}
		if task.ID == id {
			return start
		}
	}
	return nil
}

// ContextString reads a string value from the stage context.
func (s *Stage) ContextString(key string) string {
	if v, ok := s.Context[key].(string); ok {
		return v
	}
	return ""
}

// ContextBool reads a boolean value from the stage context.
func (s *Stage) ContextBool(key string) bool {
	switch v := s.Context[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// MergeContext copies updates into the stage context.
func (s *Stage) MergeContext(updates map[string]interface{}) {
	if s.Context == nil {
		s.Context = map[string]interface{}{}
	}
	for k, v := range updates {
		s.Context[k] = v
	}
}

// MergeOutputs copies updates into the stage outputs.
func (s *Stage) MergeOutputs(updates map[string]interface{}) {
	if s.Outputs == nil {
		s.Outputs = map[string]interface{}{}
	}
	for k, v := range updates {
		s.Outputs[k] = v
	}
}
