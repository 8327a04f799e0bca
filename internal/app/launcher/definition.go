package launcher

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/pipewright/internal/config"
	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
	apperrors "github.com/alexisbeaulieu97/pipewright/pkg/errors"
)

// Definition is the document submitted to launch a pipeline or orchestration.
// JSON documents are accepted since they are valid YAML.
type Definition struct {
	Application             string                   `yaml:"application" validate:"required"`
	Name                    string                   `yaml:"name,omitempty"`
	Description             string                   `yaml:"description,omitempty"`
	Origin                  string                   `yaml:"origin,omitempty"`
	PipelineConfigID        string                   `yaml:"pipelineConfigId,omitempty"`
	LimitConcurrent         bool                     `yaml:"limitConcurrent,omitempty"`
	MaxConcurrentExecutions int                      `yaml:"maxConcurrentExecutions,omitempty" validate:"min=0"`
	KeepWaitingPipelines    bool                     `yaml:"keepWaitingPipelines,omitempty"`
	Partition               string                   `yaml:"partition,omitempty"`
	Trigger                 TriggerDefinition        `yaml:"trigger,omitempty"`
	Notifications           []map[string]interface{} `yaml:"notifications,omitempty"`
	Stages                  []StageDefinition        `yaml:"stages" validate:"dive"`
}

// TriggerDefinition describes what launched the execution.
type TriggerDefinition struct {
	Type          string                 `yaml:"type,omitempty"`
	User          string                 `yaml:"user,omitempty"`
	CorrelationID string                 `yaml:"correlationId,omitempty"`
	Parameters    map[string]interface{} `yaml:"parameters,omitempty"`
}

// StageDefinition is one authored stage. Every key other than the named
// ones becomes stage context.
type StageDefinition struct {
	RefID                string                 `yaml:"refId" validate:"required,ref_id"`
	Type                 string                 `yaml:"type" validate:"required"`
	Name                 string                 `yaml:"name,omitempty"`
	RequisiteStageRefIDs []string               `yaml:"requisiteStageRefIds,omitempty" validate:"dive,ref_id"`
	Context              map[string]interface{} `yaml:",inline"`
}

// YAMLParser implements ports.DefinitionParser with yaml.v3 and the shared validator.
type YAMLParser struct{}

// NewYAMLParser builds a parser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

// Parse decodes and validates the document and converts it into an execution
// without identifiers.
func (p *YAMLParser) Parse(ctx context.Context, typ execution.Type, document []byte) (*execution.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := ParseDefinition(document)
	if err != nil {
		return nil, err
	}
	return def.Execution(typ), nil
}

// ParseDefinition decodes and validates a definition document.
func ParseDefinition(document []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(document, &def); err != nil {
		return nil, apperrors.NewParseError("definition", config.ExtractLine(err), err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the schema, reference uniqueness and the absence of
// requisite cycles.
func (d *Definition) Validate() error {
	if err := config.Validator().Struct(d); err != nil {
		return config.ConvertValidationError(err)
	}

	refs := make(map[string]int, len(d.Stages))
	for i, s := range d.Stages {
		if _, dup := refs[s.RefID]; dup {
			return apperrors.NewValidationError(stageField(i, "refId"), fmt.Sprintf("duplicate stage refId %q", s.RefID), nil)
		}
		refs[s.RefID] = i
	}

	graph := make(map[string][]string, len(d.Stages))
	for i, s := range d.Stages {
		for _, req := range s.RequisiteStageRefIDs {
			if _, ok := refs[req]; !ok {
				return apperrors.NewValidationError(stageField(i, "requisiteStageRefIds"), fmt.Sprintf("references unknown stage %q", req), nil)
			}
		}
		graph[s.RefID] = s.RequisiteStageRefIDs
	}
	if cycle := config.DetectCycle(graph); len(cycle) > 0 {
		return apperrors.NewValidationError("stages", fmt.Sprintf("requisite cycle detected: %s", strings.Join(cycle, " -> ")), nil)
	}
	return nil
}

// Execution converts the definition into a NOT_STARTED execution.
func (d *Definition) Execution(typ execution.Type) *execution.Execution {
	e := execution.New(typ, "", d.Application)
	e.Name = d.Name
	e.Description = d.Description
	e.Origin = d.Origin
	e.PipelineConfigID = d.PipelineConfigID
	e.LimitConcurrent = d.LimitConcurrent
	e.MaxConcurrentExecutions = d.MaxConcurrentExecutions
	e.KeepWaitingPipelines = d.KeepWaitingPipelines
	e.Partition = d.Partition
	e.Notifications = d.Notifications
	e.Trigger = execution.Trigger{
		Type:          d.Trigger.Type,
		User:          d.Trigger.User,
		CorrelationID: d.Trigger.CorrelationID,
		Parameters:    d.Trigger.Parameters,
	}
	for _, s := range d.Stages {
		name := s.Name
		if name == "" {
			name = s.Type
		}
		stage := execution.NewStage("", s.RefID, s.Type, name, cloneContext(s.Context))
		stage.RequisiteStageRefIDs = append([]string(nil), s.RequisiteStageRefIDs...)
		e.AppendStage(stage)
	}
	return e
}

func cloneContext(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stageField(index int, field string) string {
	return fmt.Sprintf("stages[%d].%s", index, field)
}

var _ ports.DefinitionParser = (*YAMLParser)(nil)
