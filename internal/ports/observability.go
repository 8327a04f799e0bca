package ports

import "context"

// Metric names emitted by the engine.
const (
	MetricStageExecutions  = "pipewright_stage_executions_total"
	MetricTaskDuration     = "pipewright_task_duration_seconds"
	MetricExecutions       = "pipewright_executions_total"
	MetricOperatorFailures = "pipewright_operator_failures_total"
	MetricQueueDepth       = "pipewright_queue_depth"
)

// MetricsCollector records quantitative observability signals. Adapters back
// onto Prometheus or any equivalent registry. Standard metrics:
//   - Counters:
//     pipewright_stage_executions_total{stage_type="...", status="..."}
//     pipewright_executions_total{type="pipeline|orchestration", status="..."}
//     pipewright_operator_failures_total{action="cancel|pause|resume|delete|restart"}
//   - Gauges:
//     pipewright_queue_depth
//   - Histograms:
//     pipewright_task_duration_seconds{task="..."}
type MetricsCollector interface {
	IncCounter(ctx context.Context, name string, labels map[string]string)
	SetGauge(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string)
}
