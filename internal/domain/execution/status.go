package execution

import "fmt"

// Type distinguishes configured pipelines from ad hoc orchestrations.
type Type string

const (
	TypePipeline      Type = "pipeline"
	TypeOrchestration Type = "orchestration"
)

// Types lists every execution type in a stable order.
var Types = []Type{TypePipeline, TypeOrchestration}

// ParseType converts a raw string into a Type.
func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypePipeline, TypeOrchestration:
		return Type(raw), nil
	}
	return "", NewError(ErrCodeValidation, fmt.Sprintf("unknown execution type %q", raw), nil, nil)
}

// Status is the lifecycle state shared by executions, stages and tasks.
type Status string

const (
	StatusNotStarted     Status = "NOT_STARTED"
	StatusBuffered       Status = "BUFFERED"
	StatusRunning        Status = "RUNNING"
	StatusPaused         Status = "PAUSED"
	StatusSuspended      Status = "SUSPENDED"
	StatusRedirect       Status = "REDIRECT"
	StatusSucceeded      Status = "SUCCEEDED"
	StatusFailedContinue Status = "FAILED_CONTINUE"
	StatusTerminal       Status = "TERMINAL"
	StatusCanceled       Status = "CANCELED"
	StatusStopped        Status = "STOPPED"
	StatusSkipped        Status = "SKIPPED"
)

var allStatuses = map[Status]struct{}{
	StatusNotStarted: {}, StatusBuffered: {}, StatusRunning: {}, StatusPaused: {},
	StatusSuspended: {}, StatusRedirect: {}, StatusSucceeded: {}, StatusFailedContinue: {},
	StatusTerminal: {}, StatusCanceled: {}, StatusStopped: {}, StatusSkipped: {},
}

// ParseStatus converts a persisted value into a Status.
func ParseStatus(raw string) (Status, error) {
	if _, ok := allStatuses[Status(raw)]; ok {
		return Status(raw), nil
	}
	return "", NewError(ErrCodeValidation, fmt.Sprintf("unknown status %q", raw), nil, nil)
}

// IsComplete reports whether no further work will happen in this status.
func (s Status) IsComplete() bool {
	switch s {
	case StatusSucceeded, StatusFailedContinue, StatusTerminal, StatusCanceled, StatusStopped, StatusSkipped:
		return true
	}
	return false
}

// IsHalt reports whether the status stops downstream work.
func (s Status) IsHalt() bool {
	switch s {
	case StatusTerminal, StatusCanceled, StatusStopped:
		return true
	}
	return false
}

// IsSuccessful reports whether the work finished without failing.
func (s Status) IsSuccessful() bool {
	switch s {
	case StatusSucceeded, StatusStopped, StatusSkipped:
		return true
	}
	return false
}

// ContinuesDownstream reports whether stages that require this one may start.
func (s Status) ContinuesDownstream() bool {
	switch s {
	case StatusSucceeded, StatusFailedContinue, StatusSkipped:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }
