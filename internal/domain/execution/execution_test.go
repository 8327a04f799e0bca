package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoStageExecution() *Execution {
	exec := New(TypePipeline, "exec-1", "app")
	first := NewStage("s1", "1", "wait", "first", nil)
	second := NewStage("s2", "2", "wait", "second", nil)
	second.RequisiteStageRefIDs = []string{"1"}
	exec.AppendStage(first)
	exec.AppendStage(second)
	return exec
}

func TestInsertStageKeepsNeighbourOrder(t *testing.T) {
	exec := twoStageExecution()

	before := NewStage("s2-1-window", "2<1", "window", "window", nil)
	before.ParentStageID = "s2"
	before.SyntheticStageOwner = OwnerBefore
	exec.InsertStage(before, "s2", false)

	after := NewStage("s1-1-notify", "1>1", "notify", "notify", nil)
	after.ParentStageID = "s1"
	after.SyntheticStageOwner = OwnerAfter
	exec.InsertStage(after, "s1", true)

	ids := make([]string, 0, len(exec.Stages()))
	for _, stage := range exec.Stages() {
		ids = append(ids, stage.ID)
	}
	assert.Equal(t, []string{"s1", "s1-1-notify", "s2-1-window", "s2"}, ids)
	assert.Same(t, exec, before.Execution())
	require.NoError(t, exec.Validate())
}

func TestUpstreamAndDownstream(t *testing.T) {
	exec := twoStageExecution()
	first, err := exec.StageByID("s1")
	require.NoError(t, err)
	second, err := exec.StageByID("s2")
	require.NoError(t, err)

	assert.True(t, first.IsInitial())
	assert.False(t, second.IsInitial())
	assert.Equal(t, []*Stage{second}, first.DownstreamStages())
	assert.False(t, second.AllUpstreamStagesComplete())

	first.Status = StatusSucceeded
	assert.True(t, second.AllUpstreamStagesComplete())

	first.Status = StatusTerminal
	assert.True(t, second.AnyUpstreamStageHalted())
}

func TestValidateRejectsBrokenReferences(t *testing.T) {
	exec := twoStageExecution()
	orphan := NewStage("orphan", "9", "wait", "orphan", nil)
	orphan.ParentStageID = "missing"
	orphan.SyntheticStageOwner = OwnerAfter
	exec.AppendStage(orphan)
	require.Error(t, exec.Validate())

	exec = twoStageExecution()
	synthetic := NewStage("syn", "9", "wait", "syn", nil)
	synthetic.SyntheticStageOwner = OwnerBefore
	exec.AppendStage(synthetic)
	require.Error(t, exec.Validate())
}

func TestAllStagesCompleteOrNotStarted(t *testing.T) {
	exec := twoStageExecution()
	assert.True(t, exec.AllStagesCompleteOrNotStarted())

	exec.Stages()[0].Status = StatusRunning
	assert.False(t, exec.AllStagesCompleteOrNotStarted())

	exec.Stages()[0].Status = StatusSucceeded
	assert.True(t, exec.AllStagesCompleteOrNotStarted())
}

func TestLoopStartFor(t *testing.T) {
	stage := NewStage("s", "1", "deploy", "deploy", nil)
	stage.Tasks = []Task{
		{ID: "1", StageStart: true},
		{ID: "2", LoopStart: true},
		{ID: "3", LoopEnd: true},
		{ID: "4", StageEnd: true},
	}
	start := stage.LoopStartFor("3")
	require.NotNil(t, start)
	assert.Equal(t, "2", start.ID)
	assert.Equal(t, "4", stage.NextTask("3").ID)
	assert.Nil(t, stage.NextTask("4"))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCanceled.IsComplete())
	assert.True(t, StatusCanceled.IsHalt())
	assert.False(t, StatusRunning.IsComplete())
	assert.False(t, StatusBuffered.IsComplete())
	assert.True(t, StatusFailedContinue.ContinuesDownstream())
	assert.False(t, StatusFailedContinue.IsSuccessful())

	_, err := ParseStatus("BOGUS")
	require.Error(t, err)
	typ, err := ParseType("orchestration")
	require.NoError(t, err)
	assert.Equal(t, TypeOrchestration, typ)
}
