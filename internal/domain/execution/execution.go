package execution

import (
	"time"
)

// Trigger describes what caused an execution to be launched.
type Trigger struct {
	Type          string                 `json:"type"`
	User          string                 `json:"user,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Other         map[string]interface{} `json:"other,omitempty"`
}

// IsManual reports whether a person started the execution by hand.
func (t Trigger) IsManual() bool {
	return t.Type == "manual"
}

// PausedDetails records who paused and resumed an execution and when.
type PausedDetails struct {
	PausedBy   string    `json:"pausedBy,omitempty"`
	ResumedBy  string    `json:"resumedBy,omitempty"`
	PauseTime  time.Time `json:"pauseTime,omitempty"`
	ResumeTime time.Time `json:"resumeTime,omitempty"`
}

// IsPaused reports whether the execution has been paused and not yet resumed.
func (p *PausedDetails) IsPaused() bool {
	return p != nil && !p.PauseTime.IsZero() && p.ResumeTime.IsZero()
}

// PausedDuration returns how long the execution spent paused.
func (p *PausedDetails) PausedDuration() time.Duration {
	if p == nil || p.PauseTime.IsZero() || p.ResumeTime.IsZero() {
		return 0
	}
	return p.ResumeTime.Sub(p.PauseTime)
}

// Execution is one run of a pipeline or orchestration. It exclusively owns its
// stages; each stage keeps a non-owning pointer back to it.
type Execution struct {
	ID          string
	Type        Type
	Application string
	Name        string
	Description string
	Origin      string

	Status    Status
	BuildTime time.Time
	StartTime time.Time
	EndTime   time.Time

	Canceled           bool
	CanceledBy         string
	CancellationReason string
	Paused             *PausedDetails

	LimitConcurrent         bool
	MaxConcurrentExecutions int
	KeepWaitingPipelines    bool
	PipelineConfigID        string

	Partition     string
	Trigger       Trigger
	Notifications []map[string]interface{}

	stages []*Stage
}

// New creates an execution in NOT_STARTED status.
func New(typ Type, id, application string) *Execution {
	return &Execution{
		ID:          id,
		Type:        typ,
		Application: application,
		Status:      StatusNotStarted,
	}
}

// CorrelationID returns the caller-supplied idempotency key, if any.
func (e *Execution) CorrelationID() string {
	return e.Trigger.CorrelationID
}

// Stages returns the stages in canonical graph order.
func (e *Execution) Stages() []*Stage {
	return e.stages
}

// AppendStage adds a stage at the end of the stage order and binds it to the execution.
func (e *Execution) AppendStage(stage *Stage) {
	stage.execution = e
	e.stages = append(e.stages, stage)
}

// InsertStage places a stage immediately before or after the stage with anchorID.
// When the anchor is unknown the stage is appended.
func (e *Execution) InsertStage(stage *Stage, anchorID string, after bool) {
	stage.execution = e
	idx := e.indexOf(anchorID)
	if idx < 0 {
		e.stages = append(e.stages, stage)
		return
	}
	if after {
		idx++
	}
	e.stages = append(e.stages, nil)
	copy(e.stages[idx+1:], e.stages[idx:])
	e.stages[idx] = stage
}

// RemoveStage drops the stage with the given id. It returns false when absent.
func (e *Execution) RemoveStage(id string) bool {
	idx := e.indexOf(id)
	if idx < 0 {
		return false
	}
	e.stages = append(e.stages[:idx], e.stages[idx+1:]...)
	return true
}

// SetStages replaces the stage list, binding every stage to the execution.
func (e *Execution) SetStages(stages []*Stage) {
	e.stages = make([]*Stage, 0, len(stages))
	for _, stage := range stages {
		e.AppendStage(stage)
	}
}

// StageByID looks a stage up by identifier.
func (e *Execution) StageByID(id string) (*Stage, error) {
	if idx := e.indexOf(id); idx >= 0 {
		return e.stages[idx], nil
	}
	return nil, NewStageNotFound(e.ID, id)
}

// StageByRef looks a stage up by its graph reference id.
func (e *Execution) StageByRef(refID string) *Stage {
	for _, stage := range e.stages {
		if stage.RefID == refID {
			return stage
		}
	}
	return nil
}

// TopLevelStages returns authored stages, excluding synthetic children.
func (e *Execution) TopLevelStages() []*Stage {
	var out []*Stage
	for _, stage := range e.stages {
		if stage.ParentStageID == "" {
			out = append(out, stage)
		}
	}
	return out
}

// InitialStages returns top-level stages that have no upstream requirements.
func (e *Execution) InitialStages() []*Stage {
	var out []*Stage
	for _, stage := range e.TopLevelStages() {
		if stage.IsInitial() {
			out = append(out, stage)
		}
	}
	return out
}

// AllStagesCompleteOrNotStarted reports whether no stage is currently in flight.
func (e *Execution) AllStagesCompleteOrNotStarted() bool {
	for _, stage := range e.stages {
		if !stage.Status.IsComplete() && stage.Status != StatusNotStarted {
			return false
		}
	}
	return true
}

// Validate checks the structural invariants between stages.
func (e *Execution) Validate() error {
	if e.ID == "" {
		return NewError(ErrCodeValidation, "execution id is required", nil, nil)
	}
	if e.Application == "" {
		return NewError(ErrCodeValidation, "application is required", nil, map[string]interface{}{"execution_id": e.ID})
	}
	seen := make(map[string]struct{}, len(e.stages))
	refs := make(map[string]struct{}, len(e.stages))
	for _, stage := range e.stages {
		if _, dup := seen[stage.ID]; dup {
			return NewError(ErrCodeValidation, "duplicate stage id", nil, map[string]interface{}{"stage_id": stage.ID})
		}
		seen[stage.ID] = struct{}{}
		if stage.RefID != "" {
			refs[stage.RefID] = struct{}{}
		}
	}
	for _, stage := range e.stages {
		if stage.ParentStageID != "" {
			if _, ok := seen[stage.ParentStageID]; !ok {
				return NewError(ErrCodeValidation, "parent stage is not part of the execution", nil, map[string]interface{}{
					"stage_id":        stage.ID,
					"parent_stage_id": stage.ParentStageID,
				})
			}
		}
		if stage.SyntheticStageOwner != OwnerNone && stage.ParentStageID == "" {
			return NewError(ErrCodeValidation, "synthetic stage requires a parent", nil, map[string]interface{}{"stage_id": stage.ID})
		}
		for _, req := range stage.RequisiteStageRefIDs {
			if _, ok := refs[req]; !ok {
				return NewError(ErrCodeValidation, "requisite stage not found", nil, map[string]interface{}{
					"stage_id":      stage.ID,
					"requisite_ref": req,
				})
			}
		}
	}
	return nil
}

func (e *Execution) indexOf(id string) int {
	for i, stage := range e.stages {
		if stage.ID == id {
			return i
		}
	}
	return -1
}
