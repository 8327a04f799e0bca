package persistence

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// Execution hash fields.
const (
	fieldApplication             = "application"
	fieldName                    = "name"
	fieldDescription             = "description"
	fieldOrigin                  = "origin"
	fieldStatus                  = "status"
	fieldBuildTime               = "buildTime"
	fieldStartTime               = "startTime"
	fieldEndTime                 = "endTime"
	fieldCanceled                = "canceled"
	fieldCanceledBy              = "canceledBy"
	fieldCancellationReason      = "cancellationReason"
	fieldPaused                  = "paused"
	fieldLimitConcurrent         = "limitConcurrent"
	fieldMaxConcurrentExecutions = "maxConcurrentExecutions"
	fieldKeepWaitingPipelines    = "keepWaitingPipelines"
	fieldPipelineConfigID        = "pipelineConfigId"
	fieldPartition               = "partition"
	fieldTrigger                 = "trigger"
	fieldNotifications           = "notifications"
)

// Stage attributes, stored as stage.{id}.{attr}.
const (
	attrRefID               = "refId"
	attrType                = "type"
	attrName                = "name"
	attrParentStageID       = "parentStageId"
	attrSyntheticStageOwner = "syntheticStageOwner"
	attrRequisiteRefIDs     = "requisiteStageRefIds"
	attrStatus              = "status"
	attrStartTime           = "startTime"
	attrEndTime             = "endTime"
	attrScheduledTime       = "scheduledTime"
	attrContext             = "context"
	attrOutputs             = "outputs"
	attrTasks               = "tasks"
	attrLastModified        = "lastModified"
)

var stageAttributes = []string{
	attrRefID, attrType, attrName, attrParentStageID, attrSyntheticStageOwner,
	attrRequisiteRefIDs, attrStatus, attrStartTime, attrEndTime, attrScheduledTime,
	attrContext, attrOutputs, attrTasks, attrLastModified,
}

// hashUpdate is the set of fields to write and the fields to clear for one record.
type hashUpdate struct {
	set   map[string]interface{}
	clear []string
}

func newHashUpdate() hashUpdate {
	return hashUpdate{set: make(map[string]interface{})}
}

func (u *hashUpdate) str(field, value string) {
	if value == "" {
		u.clear = append(u.clear, field)
		return
	}
	u.set[field] = value
}

func (u *hashUpdate) timestamp(field string, t time.Time) {
	if t.IsZero() {
		u.clear = append(u.clear, field)
		return
	}
	u.set[field] = formatTime(t)
}

func (u *hashUpdate) json(field string, value interface{}, empty bool) error {
	if empty {
		u.clear = append(u.clear, field)
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	u.set[field] = string(raw)
	return nil
}

func (u *hashUpdate) merge(other hashUpdate) {
	for k, v := range other.set {
		u.set[k] = v
	}
	u.clear = append(u.clear, other.clear...)
}

func encodeExecution(e *execution.Execution) (hashUpdate, error) {
	u := newHashUpdate()
	u.str(fieldApplication, e.Application)
	u.str(fieldName, e.Name)
	u.str(fieldDescription, e.Description)
	u.str(fieldOrigin, e.Origin)
	u.str(fieldStatus, string(e.Status))
	u.timestamp(fieldBuildTime, e.BuildTime)
	u.timestamp(fieldStartTime, e.StartTime)
	u.timestamp(fieldEndTime, e.EndTime)
	u.set[fieldCanceled] = strconv.FormatBool(e.Canceled)
	u.str(fieldCanceledBy, e.CanceledBy)
	u.str(fieldCancellationReason, e.CancellationReason)
	u.set[fieldLimitConcurrent] = strconv.FormatBool(e.LimitConcurrent)
	u.set[fieldMaxConcurrentExecutions] = strconv.Itoa(e.MaxConcurrentExecutions)
	u.set[fieldKeepWaitingPipelines] = strconv.FormatBool(e.KeepWaitingPipelines)
	u.str(fieldPipelineConfigID, e.PipelineConfigID)
	u.str(fieldPartition, e.Partition)

	if err := u.json(fieldPaused, e.Paused, e.Paused == nil); err != nil {
		return u, execution.NewSerializationError("execution", e.ID, err)
	}
	if err := u.json(fieldTrigger, e.Trigger, false); err != nil {
		return u, execution.NewSerializationError("execution", e.ID, err)
	}
	if err := u.json(fieldNotifications, e.Notifications, len(e.Notifications) == 0); err != nil {
		return u, execution.NewSerializationError("execution", e.ID, err)
	}

	for _, stage := range e.Stages() {
		su, err := encodeStage(stage)
		if err != nil {
			return u, err
		}
		u.merge(su)
	}
	return u, nil
}

func encodeStage(s *execution.Stage) (hashUpdate, error) {
	u := newHashUpdate()
	f := func(attr string) string { return stageField(s.ID, attr) }

	u.str(f(attrRefID), s.RefID)
	u.str(f(attrType), s.Type)
	u.str(f(attrName), s.Name)
	u.str(f(attrParentStageID), s.ParentStageID)
	u.str(f(attrSyntheticStageOwner), string(s.SyntheticStageOwner))
	u.str(f(attrRequisiteRefIDs), strings.Join(s.RequisiteStageRefIDs, ","))
	u.str(f(attrStatus), string(s.Status))
	u.timestamp(f(attrStartTime), s.StartTime)
	u.timestamp(f(attrEndTime), s.EndTime)
	u.timestamp(f(attrScheduledTime), s.ScheduledTime)

	if err := u.json(f(attrContext), s.Context, false); err != nil {
		return u, execution.NewSerializationError("stage", s.ID, err)
	}
	if err := u.json(f(attrOutputs), s.Outputs, false); err != nil {
		return u, execution.NewSerializationError("stage", s.ID, err)
	}
	if err := u.json(f(attrTasks), s.Tasks, false); err != nil {
		return u, execution.NewSerializationError("stage", s.ID, err)
	}
	if err := u.json(f(attrLastModified), s.LastModified, s.LastModified == nil); err != nil {
		return u, execution.NewSerializationError("stage", s.ID, err)
	}
	return u, nil
}

func encodeStageContext(s *execution.Stage) (string, error) {
	raw, err := json.Marshal(s.Context)
	if err != nil {
		return "", execution.NewSerializationError("stage", s.ID, err)
	}
	return string(raw), nil
}

func stageFieldNames(stageID string) []string {
	names := make([]string, 0, len(stageAttributes))
	for _, attr := range stageAttributes {
		names = append(names, stageField(stageID, attr))
	}
	return names
}

func decodeExecution(typ execution.Type, id string, fields map[string]string, stageIDs []string) (*execution.Execution, error) {
	e := execution.New(typ, id, fields[fieldApplication])
	e.Name = fields[fieldName]
	e.Description = fields[fieldDescription]
	e.Origin = fields[fieldOrigin]
	e.CanceledBy = fields[fieldCanceledBy]
	e.CancellationReason = fields[fieldCancellationReason]
	e.PipelineConfigID = fields[fieldPipelineConfigID]
	e.Partition = fields[fieldPartition]
	e.Canceled = fields[fieldCanceled] == "true"
	e.LimitConcurrent = fields[fieldLimitConcurrent] == "true"
	e.KeepWaitingPipelines = fields[fieldKeepWaitingPipelines] == "true"

	if raw := fields[fieldStatus]; raw != "" {
		status, err := execution.ParseStatus(raw)
		if err != nil {
			return nil, execution.NewSerializationError("execution", id, err)
		}
		e.Status = status
	}
	if raw := fields[fieldMaxConcurrentExecutions]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, execution.NewSerializationError("execution", id, err)
		}
		e.MaxConcurrentExecutions = n
	}

	var err error
	if e.BuildTime, err = parseTime(fields[fieldBuildTime]); err != nil {
		return nil, execution.NewSerializationError("execution", id, err)
	}
	if e.StartTime, err = parseTime(fields[fieldStartTime]); err != nil {
		return nil, execution.NewSerializationError("execution", id, err)
	}
	if e.EndTime, err = parseTime(fields[fieldEndTime]); err != nil {
		return nil, execution.NewSerializationError("execution", id, err)
	}

	if raw := fields[fieldPaused]; raw != "" {
		e.Paused = &execution.PausedDetails{}
		if err := json.Unmarshal([]byte(raw), e.Paused); err != nil {
			return nil, execution.NewSerializationError("execution", id, err)
		}
	}
	if raw := fields[fieldTrigger]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Trigger); err != nil {
			return nil, execution.NewSerializationError("execution", id, err)
		}
	}
	if raw := fields[fieldNotifications]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Notifications); err != nil {
			return nil, execution.NewSerializationError("execution", id, err)
		}
	}

	for _, stageID := range stageIDs {
		stage, err := decodeStage(stageID, fields)
		if err != nil {
			return nil, err
		}
		e.AppendStage(stage)
	}
	return e, nil
}

func decodeStage(id string, fields map[string]string) (*execution.Stage, error) {
	get := func(attr string) string { return fields[stageField(id, attr)] }

	s := execution.NewStage(id, get(attrRefID), get(attrType), get(attrName), nil)
	s.ParentStageID = get(attrParentStageID)
	s.SyntheticStageOwner = execution.SyntheticOwner(get(attrSyntheticStageOwner))
	if raw := get(attrRequisiteRefIDs); raw != "" {
		s.RequisiteStageRefIDs = strings.Split(raw, ",")
	}
	if raw := get(attrStatus); raw != "" {
		status, err := execution.ParseStatus(raw)
		if err != nil {
			return nil, execution.NewSerializationError("stage", id, err)
		}
		s.Status = status
	}

	var err error
	if s.StartTime, err = parseTime(get(attrStartTime)); err != nil {
		return nil, execution.NewSerializationError("stage", id, err)
	}
	if s.EndTime, err = parseTime(get(attrEndTime)); err != nil {
		return nil, execution.NewSerializationError("stage", id, err)
	}
	if s.ScheduledTime, err = parseTime(get(attrScheduledTime)); err != nil {
		return nil, execution.NewSerializationError("stage", id, err)
	}

	if raw := get(attrContext); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &s.Context); err != nil {
			return nil, execution.NewSerializationError("stage", id, err)
		}
	}
	if raw := get(attrOutputs); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &s.Outputs); err != nil {
			return nil, execution.NewSerializationError("stage", id, err)
		}
	}
	if raw := get(attrTasks); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &s.Tasks); err != nil {
			return nil, execution.NewSerializationError("stage", id, err)
		}
	}
	if raw := get(attrLastModified); raw != "" {
		s.LastModified = &execution.LastModifiedDetails{}
		if err := json.Unmarshal([]byte(raw), s.LastModified); err != nil {
			return nil, execution.NewSerializationError("stage", id, err)
		}
	}
	return s, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
