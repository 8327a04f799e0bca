package stage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/taskgraph"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/timewindow"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

// Planner expands stages into task lists and synthetic child stages. Planning
// is idempotent: tasks are only built for stages without tasks and synthetic
// stages are skipped when their derived id already exists.
type Planner struct {
	registry *Registry
}

// NewPlanner creates a planner backed by the registry.
func NewPlanner(registry *Registry) *Planner {
	return &Planner{registry: registry}
}

// Registry returns the registry used to resolve builders.
func (p *Planner) Registry() *Registry {
	return p.registry
}

// Plan expands every top-level stage of the execution and returns the
// synthetic stages added by this call.
func (p *Planner) Plan(e *execution.Execution) ([]*execution.Stage, error) {
	var added []*execution.Stage
	top := append([]*execution.Stage(nil), e.TopLevelStages()...)
	for _, s := range top {
		stages, err := p.PlanStage(s)
		if err != nil {
			return added, err
		}
		added = append(added, stages...)
	}
	return added, nil
}

// PlanStage builds the stage's task list and its synthetic stages,
// recursively, returning the synthetic stages that were newly added.
func (p *Planner) PlanStage(s *execution.Stage) ([]*execution.Stage, error) {
	if s.Execution() == nil {
		return nil, execution.NewError(execution.ErrCodeInternal, "stage is detached from its execution", nil, map[string]interface{}{"stage_id": s.ID})
	}
	builder, err := p.registry.Resolve(s)
	if err != nil {
		return nil, err
	}

	if len(s.Tasks) == 0 {
		s.Tasks = BuildTasks(builder, s)
	}

	before, after := p.syntheticStages(builder, s)

	var added []*execution.Stage
	placed, err := p.placeBefore(s, before, &added)
	if err != nil {
		return added, err
	}
	if err := p.placeAfter(s, after, len(before), &added); err != nil {
		return added, err
	}

	for _, child := range placed {
		nested, err := p.PlanStage(child)
		if err != nil {
			return added, err
		}
		added = append(added, nested...)
	}
	return added, nil
}

// PlanOnFailure injects the builder's on-failure stages after the parent and
// plans them. Already present stages are not duplicated.
func (p *Planner) PlanOnFailure(s *execution.Stage) ([]*execution.Stage, error) {
	builder, err := p.registry.Resolve(s)
	if err != nil {
		return nil, err
	}
	failure, ok := builder.(ports.OnFailureStagesBuilder)
	if !ok {
		return nil, nil
	}
	stages := failure.OnFailureStages(s)
	for _, child := range stages {
		child.SyntheticStageOwner = execution.OwnerAfter
	}

	// On-failure stages are numbered after the regular synthetic stages so
	// that their ids stay stable across repeated calls.
	before, after := p.syntheticStages(builder, s)
	offset := len(before) + len(after)

	var added []*execution.Stage
	e := s.Execution()
	anchor := s.ID
	if existing := s.AfterStages(); len(existing) > 0 {
		anchor = existing[len(existing)-1].ID
	}
	var previousRef string
	for i, child := range stages {
		n := offset + i + 1
		p.bind(s, child, n)
		if previous, err := e.StageByID(child.ID); err == nil {
			anchor = previous.ID
			previousRef = previous.RefID
			continue
		}
		if previousRef != "" {
			child.RequisiteStageRefIDs = []string{previousRef}
		}
		e.InsertStage(child, anchor, true)
		added = append(added, child)
		anchor = child.ID
		previousRef = child.RefID

		nested, err := p.PlanStage(child)
		if err != nil {
			return added, err
		}
		added = append(added, nested...)
	}
	return added, nil
}

// PrepareForRestart resets the stage and every stage downstream of it so the
// branch can run again. Synthetic children are detached from the execution
// and returned so callers can remove them from storage; they are recreated
// when the stage is planned again.
func (p *Planner) PrepareForRestart(s *execution.Stage) []*execution.Stage {
	e := s.Execution()
	var removed []*execution.Stage
	visited := map[string]bool{}

	var reset func(*execution.Stage)
	reset = func(target *execution.Stage) {
		if visited[target.ID] {
			return
		}
		visited[target.ID] = true

		for _, child := range target.Children(execution.OwnerNone) {
			removed = append(removed, detach(e, child)...)
		}
		target.Status = execution.StatusNotStarted
		target.StartTime = time.Time{}
		target.EndTime = time.Time{}
		target.ScheduledTime = time.Time{}
		target.Tasks = nil
		if builder, err := p.registry.Resolve(target); err == nil {
			if preparer, ok := builder.(ports.RestartPreparer); ok {
				preparer.PrepareForRestart(target)
			}
		}
		for _, downstream := range target.DownstreamStages() {
			reset(downstream)
		}
	}
	reset(s)
	return removed
}

// BuildTasks flattens the builder's task graph for the stage into task
// records with sequential ids and boundary flags.
func BuildTasks(builder ports.StageDefinitionBuilder, s *execution.Stage) []execution.Task {
	b := taskgraph.NewBuilder(taskgraph.Full)
	builder.BuildTaskGraph(s, b)
	graph := b.Build()

	var tasks []execution.Task
	flatten(graph, &tasks)
	if len(tasks) > 0 {
		tasks[0].StageStart = true
		tasks[len(tasks)-1].StageEnd = true
	}
	return tasks
}

func flatten(g *taskgraph.Graph, tasks *[]execution.Task) {
	for _, n := range g.Nodes() {
		switch node := n.(type) {
		case taskgraph.TaskDefinition:
			*tasks = append(*tasks, execution.Task{
				ID:             strconv.Itoa(len(*tasks) + 1),
				Name:           node.Name,
				Implementation: node.Implementation,
				Status:         execution.StatusNotStarted,
			})
		case *taskgraph.Graph:
			start := len(*tasks)
			flatten(node, tasks)
			if len(*tasks) > start {
				(*tasks)[start].LoopStart = true
				(*tasks)[len(*tasks)-1].LoopEnd = true
			}
		}
	}
}

type orderedStage struct {
	stage    *execution.Stage
	parallel bool
}

func (p *Planner) syntheticStages(builder ports.StageDefinitionBuilder, s *execution.Stage) ([]orderedStage, []*execution.Stage) {
	var before []orderedStage
	var after []*execution.Stage

	if s.Type != timewindow.StageType && s.ContextBool(timewindow.ContextRestrict) {
		ctx := map[string]interface{}{}
		if window, ok := s.Context[timewindow.ContextWindow]; ok {
			ctx[timewindow.ContextWindow] = window
		}
		before = append(before, orderedStage{
			stage: execution.NewSyntheticStage(execution.OwnerBefore, timewindow.StageType, "restrictExecutionDuringTimeWindow", ctx),
		})
	}
	if around, ok := builder.(ports.AroundStagesBuilder); ok {
		for _, child := range around.AroundStages(s) {
			if child.SyntheticStageOwner == execution.OwnerAfter {
				after = append(after, child)
				continue
			}
			child.SyntheticStageOwner = execution.OwnerBefore
			before = append(before, orderedStage{stage: child})
		}
	}
	if parallel, ok := builder.(ports.ParallelStagesBuilder); ok {
		for _, child := range parallel.ParallelStages(s) {
			child.SyntheticStageOwner = execution.OwnerBefore
			before = append(before, orderedStage{stage: child, parallel: true})
		}
	}
	if afterBuilder, ok := builder.(ports.AfterStagesBuilder); ok {
		for _, child := range afterBuilder.AfterStages(s) {
			child.SyntheticStageOwner = execution.OwnerAfter
			after = append(after, child)
		}
	}
	return before, after
}

// placeBefore inserts before-stages ahead of the parent. Sequential stages
// chain on the previous one; parallel stages share the requisites of the
// first parallel stage. It returns every before-stage now attached.
func (p *Planner) placeBefore(parent *execution.Stage, before []orderedStage, added *[]*execution.Stage) ([]*execution.Stage, error) {
	e := parent.Execution()
	var placed []*execution.Stage
	var previousRef string
	var parallelRequisites []string
	parallelStarted := false

	for i, candidate := range before {
		child := candidate.stage
		p.bind(parent, child, i+1)
		if existing, err := e.StageByID(child.ID); err == nil {
			placed = append(placed, existing)
			if !candidate.parallel {
				previousRef = existing.RefID
			}
			continue
		}

		switch {
		case candidate.parallel:
			if !parallelStarted {
				parallelStarted = true
				if previousRef != "" {
					parallelRequisites = []string{previousRef}
				}
			}
			child.RequisiteStageRefIDs = append([]string(nil), parallelRequisites...)
		case previousRef != "":
			child.RequisiteStageRefIDs = []string{previousRef}
			previousRef = child.RefID
		default:
			previousRef = child.RefID
		}

		e.InsertStage(child, parent.ID, false)
		placed = append(placed, child)
		*added = append(*added, child)
	}
	return placed, nil
}

func (p *Planner) placeAfter(parent *execution.Stage, after []*execution.Stage, offset int, added *[]*execution.Stage) error {
	e := parent.Execution()
	anchor := parent.ID
	var previousRef string
	for i, child := range after {
		p.bind(parent, child, offset+i+1)
		if existing, err := e.StageByID(child.ID); err == nil {
			anchor = existing.ID
			previousRef = existing.RefID
			continue
		}
		if previousRef != "" {
			child.RequisiteStageRefIDs = []string{previousRef}
		}
		e.InsertStage(child, anchor, true)
		*added = append(*added, child)
		anchor = child.ID
		previousRef = child.RefID

		nested, err := p.PlanStage(child)
		if err != nil {
			return err
		}
		*added = append(*added, nested...)
	}
	return nil
}

// bind derives the synthetic stage's identifiers from its parent.
func (p *Planner) bind(parent, child *execution.Stage, n int) {
	child.ParentStageID = parent.ID
	if child.Name == "" {
		child.Name = child.Type
	}
	child.ID = SyntheticStageID(parent.ID, n, child.Name)
	child.RefID = SyntheticRefID(parent.RefID, child.SyntheticStageOwner, n)
}

// SyntheticStageID derives the id of the n-th synthetic stage of a parent.
func SyntheticStageID(parentID string, n int, name string) string {
	return fmt.Sprintf("%s-%d-%s", parentID, n, strings.Join(strings.Fields(name), "_"))
}

// SyntheticRefID derives the graph reference of the n-th synthetic stage of a parent.
func SyntheticRefID(parentRef string, owner execution.SyntheticOwner, n int) string {
	marker := "<"
	if owner == execution.OwnerAfter {
		marker = ">"
	}
	return fmt.Sprintf("%s%s%d", parentRef, marker, n)
}

func detach(e *execution.Execution, s *execution.Stage) []*execution.Stage {
	var removed []*execution.Stage
	for _, child := range s.Children(execution.OwnerNone) {
		removed = append(removed, detach(e, child)...)
	}
	e.RemoveStage(s.ID)
	return append(removed, s)
}
