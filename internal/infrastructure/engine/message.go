// Package engine drives executions forward by exchanging messages over a
// queue. Each message advances one execution, stage, or task by one step and
// may enqueue follow-up messages.
package engine

import (
	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// MessageKind names the step a message asks the handler to perform.
type MessageKind string

const (
	KindStartExecution      MessageKind = "startExecution"
	KindStartStage          MessageKind = "startStage"
	KindRunTask             MessageKind = "runTask"
	KindCompleteStage       MessageKind = "completeStage"
	KindCompleteExecution   MessageKind = "completeExecution"
	KindCancelExecution     MessageKind = "cancelExecution"
	KindRescheduleExecution MessageKind = "rescheduleExecution"
	KindResumeExecution     MessageKind = "resumeExecution"
	KindRestartStage        MessageKind = "restartStage"
)

// Message addresses an execution and optionally one of its stages and tasks.
type Message struct {
	ID            string         `json:"id"`
	Kind          MessageKind    `json:"kind"`
	ExecutionType execution.Type `json:"executionType"`
	ExecutionID   string         `json:"executionId"`
	StageID       string         `json:"stageId,omitempty"`
	TaskID        string         `json:"taskId,omitempty"`
	User          string         `json:"user,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Attempts      int            `json:"attempts,omitempty"`
}

func executionMessage(kind MessageKind, e *execution.Execution) Message {
	return Message{Kind: kind, ExecutionType: e.Type, ExecutionID: e.ID}
}

func stageMessage(kind MessageKind, s *execution.Stage) Message {
	e := s.Execution()
	return Message{Kind: kind, ExecutionType: e.Type, ExecutionID: e.ID, StageID: s.ID}
}

func taskMessage(s *execution.Stage, task *execution.Task) Message {
	msg := stageMessage(KindRunTask, s)
	msg.TaskID = task.ID
	return msg
}
