// Package stages holds the built-in stage definitions and their tasks.
package stages

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/taskgraph"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

const (
	WaitStageType = "wait"
	WaitTaskName  = "wait"

	ContextWaitTime          = "waitTime"
	ContextSkipRemainingWait = "skipRemainingWait"
)

// WaitStage pauses a pipeline for waitTime seconds.
type WaitStage struct{}

// Type implements ports.StageDefinitionBuilder.
func (WaitStage) Type() string { return WaitStageType }

// BuildTaskGraph implements ports.StageDefinitionBuilder.
func (WaitStage) BuildTaskGraph(_ *execution.Stage, b *taskgraph.Builder) {
	b.WithTask("wait", WaitTaskName)
}

// WaitTask succeeds once waitTime seconds have passed since it started, or
// as soon as skipRemainingWait is set on the stage.
type WaitTask struct {
	now func() time.Time
}

// NewWaitTask builds the task. A nil clock uses time.Now.
func NewWaitTask(now func() time.Time) *WaitTask {
	if now == nil {
		now = time.Now
	}
	return &WaitTask{now: now}
}

// Execute implements ports.Task.
func (t *WaitTask) Execute(_ context.Context, stage *execution.Stage) (ports.TaskResult, error) {
	if stage.ContextBool(ContextSkipRemainingWait) {
		return ports.TaskResult{Status: execution.StatusSucceeded}, nil
	}
	wait, err := seconds(stage.Context[ContextWaitTime])
	if err != nil {
		return ports.TaskResult{}, execution.NewInvalidConfiguration(fmt.Sprintf("stage %s: %s", stage.ID, ContextWaitTime), err)
	}

	started := runningTaskStart(stage, WaitTaskName)
	if started.IsZero() {
		started = stage.StartTime
	}
	until := started.Add(wait)
	if !t.now().Before(until) {
		return ports.TaskResult{Status: execution.StatusSucceeded}, nil
	}
	return ports.TaskResult{Status: execution.StatusRunning, ScheduledTime: until}, nil
}

// BackoffPeriod implements ports.RetryableTask.
func (t *WaitTask) BackoffPeriod() time.Duration { return time.Second }

// runningTaskStart returns when the running task with the implementation
// started; the engine marks a task RUNNING before invoking it.
func runningTaskStart(stage *execution.Stage, implementation string) time.Time {
	for _, task := range stage.Tasks {
		if task.Implementation == implementation && task.Status == execution.StatusRunning {
			return task.StartTime
		}
	}
	return time.Time{}
}

func seconds(v interface{}) (time.Duration, error) {
	var n float64
	switch value := v.(type) {
	case nil:
		return 0, nil
	case int:
		n = float64(value)
	case int64:
		n = float64(value)
	case float64:
		n = value
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	default:
		return 0, fmt.Errorf("unsupported value %v", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative duration %v", n)
	}
	return time.Duration(n * float64(time.Second)), nil
}

var (
	_ ports.StageDefinitionBuilder = WaitStage{}
	_ ports.RetryableTask          = (*WaitTask)(nil)
)
