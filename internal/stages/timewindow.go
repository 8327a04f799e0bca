package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/taskgraph"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/timewindow"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

const (
	WindowTaskName = "suspendExecutionDuringTimeWindow"

	contextFailureReason = "failureReason"
)

// WindowConfig is the restrictedExecutionWindow document of a stage.
type WindowConfig struct {
	Whitelist []WindowEntry `json:"whitelist"`
	// Days uses 1 for Sunday through 7 for Saturday.
	Days   []int        `json:"days"`
	Jitter JitterConfig `json:"jitter"`
}

// WindowEntry is one allowed window. Windows may wrap past midnight.
type WindowEntry struct {
	StartHour int `json:"startHour"`
	StartMin  int `json:"startMin"`
	EndHour   int `json:"endHour"`
	EndMin    int `json:"endMin"`
}

// JitterConfig adds a random wait, in seconds, after the window opens.
type JitterConfig struct {
	Enabled    bool `json:"enabled"`
	MinDelay   int  `json:"minDelay"`
	MaxDelay   int  `json:"maxDelay"`
	SkipManual bool `json:"skipManual"`
}

// ParseWindowConfig reads the stage's restrictedExecutionWindow context.
func ParseWindowConfig(stage *execution.Stage) (WindowConfig, error) {
	var cfg WindowConfig
	raw, ok := stage.Context[timewindow.ContextWindow]
	if !ok || raw == nil {
		return cfg, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return cfg, execution.NewInvalidConfiguration("restricted execution window", err)
	}
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return cfg, execution.NewInvalidConfiguration("restricted execution window", err)
	}
	return cfg, nil
}

// Windows converts the whitelist into calculator windows.
func (c WindowConfig) Windows() []timewindow.Window {
	out := make([]timewindow.Window, 0, len(c.Whitelist))
	for _, w := range c.Whitelist {
		out = append(out, timewindow.Window{
			Start: timewindow.TimeOfDay{Hour: w.StartHour, Minute: w.StartMin},
			End:   timewindow.TimeOfDay{Hour: w.EndHour, Minute: w.EndMin},
		})
	}
	return out
}

// Weekdays converts the 1..7 day numbers into weekdays.
func (c WindowConfig) Weekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(c.Days))
	for _, d := range c.Days {
		if d < 1 || d > 7 {
			return nil, execution.NewInvalidConfiguration(fmt.Sprintf("day %d is outside 1..7", d), nil)
		}
		out = append(out, time.Weekday(d-1))
	}
	return out, nil
}

// TimeWindowStage holds a stage until an allowed window, optionally followed
// by a random jitter wait.
type TimeWindowStage struct {
	jitter func(min, max int) int
}

// NewTimeWindowStage builds the stage. A nil jitter source draws uniformly
// from [min, max].
func NewTimeWindowStage(jitter func(min, max int) int) *TimeWindowStage {
	if jitter == nil {
		jitter = func(min, max int) int { return min + rand.Intn(max-min+1) }
	}
	return &TimeWindowStage{jitter: jitter}
}

// Type implements ports.StageDefinitionBuilder.
func (s *TimeWindowStage) Type() string { return timewindow.StageType }

// BuildTaskGraph implements ports.StageDefinitionBuilder. The drawn jitter is
// kept in the stage context so rebuilding the graph keeps the same wait.
func (s *TimeWindowStage) BuildTaskGraph(stage *execution.Stage, b *taskgraph.Builder) {
	b.WithTask("suspendExecutionDuringTimeWindow", WindowTaskName)

	cfg, err := ParseWindowConfig(stage)
	if err != nil || !cfg.Jitter.Enabled || cfg.Jitter.MaxDelay <= 0 {
		return
	}
	if cfg.Jitter.SkipManual && stage.Execution() != nil && stage.Execution().Trigger.IsManual() {
		return
	}
	if _, drawn := stage.Context[ContextWaitTime]; !drawn {
		min := cfg.Jitter.MinDelay
		if min < 0 || min > cfg.Jitter.MaxDelay {
			min = 0
		}
		stage.MergeContext(map[string]interface{}{ContextWaitTime: s.jitter(min, cfg.Jitter.MaxDelay)})
	}
	b.WithTask("waitForJitter", WaitTaskName)
}

// PrepareForRestart drops the drawn jitter so a restart draws again.
func (s *TimeWindowStage) PrepareForRestart(stage *execution.Stage) {
	delete(stage.Context, ContextWaitTime)
	delete(stage.Context, contextFailureReason)
}

// WindowTask suspends the stage until the current time is inside an allowed
// window.
type WindowTask struct {
	calculator timewindow.Calculator
	now        func() time.Time
}

// NewWindowTask builds the task for the given location. A nil clock uses time.Now.
func NewWindowTask(loc *time.Location, now func() time.Time) *WindowTask {
	if now == nil {
		now = time.Now
	}
	return &WindowTask{calculator: timewindow.NewCalculator(loc), now: now}
}

// Execute implements ports.Task.
func (t *WindowTask) Execute(_ context.Context, stage *execution.Stage) (ports.TaskResult, error) {
	if stage.ContextBool(ContextSkipRemainingWait) {
		return ports.TaskResult{Status: execution.StatusSucceeded}, nil
	}

	scheduled, err := t.schedule(stage)
	if err != nil {
		return ports.TaskResult{
			Status:  execution.StatusTerminal,
			Context: map[string]interface{}{contextFailureReason: err.Error()},
		}, nil
	}
	now := t.now()
	if !scheduled.After(now) {
		return ports.TaskResult{Status: execution.StatusSucceeded}, nil
	}
	return ports.TaskResult{Status: execution.StatusRunning, ScheduledTime: scheduled}, nil
}

// BackoffPeriod implements ports.RetryableTask.
func (t *WindowTask) BackoffPeriod() time.Duration { return 30 * time.Second }

func (t *WindowTask) schedule(stage *execution.Stage) (time.Time, error) {
	cfg, err := ParseWindowConfig(stage)
	if err != nil {
		return time.Time{}, err
	}
	days, err := cfg.Weekdays()
	if err != nil {
		return time.Time{}, err
	}
	return t.calculator.ScheduledTime(t.now(), cfg.Windows(), days)
}

var (
	_ ports.StageDefinitionBuilder = (*TimeWindowStage)(nil)
	_ ports.RestartPreparer        = (*TimeWindowStage)(nil)
	_ ports.RetryableTask          = (*WindowTask)(nil)
)
