package execution

import "time"

// Task is a leaf unit of work inside a stage. Tasks do not reference each
// other; sequencing is positional within the stage's task list.
type Task struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Implementation string    `json:"implementingClass"`
	Status         Status    `json:"status"`
	StartTime      time.Time `json:"startTime,omitempty"`
	EndTime        time.Time `json:"endTime,omitempty"`
	StageStart     bool      `json:"stageStart,omitempty"`
	StageEnd       bool      `json:"stageEnd,omitempty"`
	LoopStart      bool      `json:"loopStart,omitempty"`
	LoopEnd        bool      `json:"loopEnd,omitempty"`
}
