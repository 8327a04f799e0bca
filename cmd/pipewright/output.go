package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// printer renders command results either as styled text or as JSON. Colors
// and unicode icons are only used when the writer is a terminal.
type printer struct {
	out     io.Writer
	json    bool
	unicode bool

	label   lipgloss.Style
	header  lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	pending lipgloss.Style
	muted   lipgloss.Style
}

func newPrinter(out io.Writer, jsonOutput bool) *printer {
	p := &printer{out: out, json: jsonOutput, unicode: isTerminal(out)}
	r := lipgloss.NewRenderer(out)
	plain := r.NewStyle()
	p.label, p.header, p.ok, p.failed, p.pending, p.muted = plain, plain, plain, plain, plain, plain
	if p.unicode {
		p.label = r.NewStyle().Bold(true)
		p.header = r.NewStyle().Bold(true).Underline(true)
		p.ok = r.NewStyle().Foreground(lipgloss.Color("42"))
		p.failed = r.NewStyle().Foreground(lipgloss.Color("196"))
		p.pending = r.NewStyle().Foreground(lipgloss.Color("214"))
		p.muted = r.NewStyle().Foreground(lipgloss.Color("245"))
	}
	return p
}

func isTerminal(writer any) bool {
	if file, ok := writer.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}

func (p *printer) encode(payload any) error {
	encoder := json.NewEncoder(p.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func (p *printer) status(s execution.Status) string {
	icon, style := p.statusIcon(s)
	return style.Render(icon + " " + s.String())
}

func (p *printer) statusIcon(s execution.Status) (string, lipgloss.Style) {
	switch {
	case s.IsSuccessful() || s == execution.StatusFailedContinue:
		if p.unicode {
			return "✔", p.ok
		}
		return "[OK]", p.ok
	case s.IsHalt():
		if p.unicode {
			return "✖", p.failed
		}
		return "[XX]", p.failed
	case s == execution.StatusNotStarted || s == execution.StatusBuffered:
		if p.unicode {
			return "○", p.muted
		}
		return "[..]", p.muted
	default:
		if p.unicode {
			return "●", p.pending
		}
		return "[>>]", p.pending
	}
}

func (p *printer) field(name, value string) {
	fmt.Fprintf(p.out, "%s %s\n", p.label.Render(fmt.Sprintf("%-12s", name+":")), value)
}

// table writes rows with columns padded to the widest cell. Styled cells are
// measured by their visible width.
func (p *printer) table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			rendered := cell
			if style != nil {
				rendered = style.Render(cell)
			}
			if i < len(cells)-1 {
				rendered += strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2)
			}
			parts[i] = rendered
		}
		fmt.Fprintln(p.out, strings.TrimRight(strings.Join(parts, ""), " "))
	}

	line(headers, &p.header)
	for _, row := range rows {
		line(row, nil)
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatDuration(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

func valueOrFallback(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

type stageJSON struct {
	ID                  string                 `json:"id"`
	RefID               string                 `json:"refId,omitempty"`
	Type                string                 `json:"type"`
	Name                string                 `json:"name,omitempty"`
	Status              execution.Status       `json:"status"`
	ParentStageID       string                 `json:"parentStageId,omitempty"`
	SyntheticStageOwner string                 `json:"syntheticStageOwner,omitempty"`
	StartTime           *time.Time             `json:"startTime,omitempty"`
	EndTime             *time.Time             `json:"endTime,omitempty"`
	Outputs             map[string]interface{} `json:"outputs,omitempty"`
}

type executionJSON struct {
	ID                 string           `json:"id"`
	Type               execution.Type   `json:"type"`
	Application        string           `json:"application"`
	Name               string           `json:"name,omitempty"`
	Status             execution.Status `json:"status"`
	PipelineConfigID   string           `json:"pipelineConfigId,omitempty"`
	Partition          string           `json:"partition,omitempty"`
	BuildTime          *time.Time       `json:"buildTime,omitempty"`
	StartTime          *time.Time       `json:"startTime,omitempty"`
	EndTime            *time.Time       `json:"endTime,omitempty"`
	Canceled           bool             `json:"canceled"`
	CanceledBy         string           `json:"canceledBy,omitempty"`
	CancellationReason string           `json:"cancellationReason,omitempty"`
	Stages             []stageJSON      `json:"stages,omitempty"`
}

func optionalTime(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

func toExecutionJSON(e *execution.Execution, withStages bool) executionJSON {
	payload := executionJSON{
		ID:                 e.ID,
		Type:               e.Type,
		Application:        e.Application,
		Name:               e.Name,
		Status:             e.Status,
		PipelineConfigID:   e.PipelineConfigID,
		Partition:          e.Partition,
		BuildTime:          optionalTime(e.BuildTime),
		StartTime:          optionalTime(e.StartTime),
		EndTime:            optionalTime(e.EndTime),
		Canceled:           e.Canceled,
		CanceledBy:         e.CanceledBy,
		CancellationReason: e.CancellationReason,
	}
	if !withStages {
		return payload
	}
	for _, s := range e.Stages() {
		payload.Stages = append(payload.Stages, stageJSON{
			ID:                  s.ID,
			RefID:               s.RefID,
			Type:                s.Type,
			Name:                s.Name,
			Status:              s.Status,
			ParentStageID:       s.ParentStageID,
			SyntheticStageOwner: string(s.SyntheticStageOwner),
			StartTime:           optionalTime(s.StartTime),
			EndTime:             optionalTime(s.EndTime),
			Outputs:             s.Outputs,
		})
	}
	return payload
}

// execution renders a single execution with its stages.
func (p *printer) execution(e *execution.Execution) error {
	if p.json {
		return p.encode(toExecutionJSON(e, true))
	}

	p.field("Execution", e.ID)
	p.field("Type", string(e.Type))
	p.field("Application", e.Application)
	p.field("Name", valueOrFallback(e.Name, "(no name)"))
	p.field("Status", p.status(e.Status))
	if e.PipelineConfigID != "" {
		p.field("Config", e.PipelineConfigID)
	}
	p.field("Built", formatTime(e.BuildTime))
	p.field("Started", formatTime(e.StartTime))
	p.field("Ended", formatTime(e.EndTime))
	if e.Canceled {
		p.field("Canceled", fmt.Sprintf("by %s: %s", valueOrFallback(e.CanceledBy, "unknown"), valueOrFallback(e.CancellationReason, "(no reason)")))
	}

	stages := e.Stages()
	if len(stages) == 0 {
		return nil
	}
	fmt.Fprintln(p.out)
	rows := make([][]string, 0, len(stages))
	for _, s := range stages {
		name := valueOrFallback(s.Name, s.Type)
		if s.ParentStageID != "" {
			arrow := "-> "
			if p.unicode {
				arrow = "↳ "
			}
			name = p.muted.Render(arrow) + name
		}
		rows = append(rows, []string{s.ID, s.Type, name, p.status(s.Status), formatDuration(s.StartTime, s.EndTime)})
	}
	p.table([]string{"STAGE", "TYPE", "NAME", "STATUS", "DURATION"}, rows)
	return nil
}

type listJSONPayload struct {
	Count      int             `json:"count"`
	Executions []executionJSON `json:"executions"`
}

// executions renders a summary line per execution.
func (p *printer) executions(list []*execution.Execution) error {
	if p.json {
		payload := listJSONPayload{Count: len(list), Executions: make([]executionJSON, len(list))}
		for i, e := range list {
			payload.Executions[i] = toExecutionJSON(e, false)
		}
		return p.encode(payload)
	}

	if len(list) == 0 {
		fmt.Fprintln(p.out, "No executions found.")
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, e := range list {
		rows = append(rows, []string{e.ID, e.Application, valueOrFallback(e.Name, "(no name)"), p.status(e.Status), formatTime(e.BuildTime)})
	}
	p.table([]string{"ID", "APPLICATION", "NAME", "STATUS", "BUILT"}, rows)
	return nil
}

type actionJSON struct {
	Action      string           `json:"action"`
	ExecutionID string           `json:"executionId"`
	Status      execution.Status `json:"status,omitempty"`
}

// action confirms an administrative action.
func (p *printer) action(action string, e *execution.Execution) error {
	if p.json {
		return p.encode(actionJSON{Action: action, ExecutionID: e.ID, Status: e.Status})
	}
	fmt.Fprintf(p.out, "%s %s (%s)\n", p.label.Render(action), e.ID, p.status(e.Status))
	return nil
}
