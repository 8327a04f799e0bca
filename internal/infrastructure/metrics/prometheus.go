// Package metrics adapts ports.MetricsCollector onto a Prometheus registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

// PrometheusCollector records the engine's standard metrics. Names that are
// not part of the standard set are ignored.
type PrometheusCollector struct {
	registry *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusCollector registers the standard metrics on a dedicated registry.
func NewPrometheusCollector() *PrometheusCollector {
	c := &PrometheusCollector{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	c.counters[ports.MetricStageExecutions] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricStageExecutions,
		Help: "Stages that reached a complete status",
	}, []string{"stage_type", "status"})
	c.counters[ports.MetricExecutions] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricExecutions,
		Help: "Executions that reached a complete status",
	}, []string{"type", "status"})
	c.counters[ports.MetricOperatorFailures] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricOperatorFailures,
		Help: "Administrative operations that exhausted their retries",
	}, []string{"action"})
	c.gauges[ports.MetricQueueDepth] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: ports.MetricQueueDepth,
		Help: "Messages waiting in the work queue",
	}, nil)
	c.histograms[ports.MetricTaskDuration] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    ports.MetricTaskDuration,
		Help:    "Time spent in a single task invocation",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	for _, v := range c.counters {
		c.registry.MustRegister(v)
	}
	for _, v := range c.gauges {
		c.registry.MustRegister(v)
	}
	for _, v := range c.histograms {
		c.registry.MustRegister(v)
	}
	return c
}

// Registry exposes the underlying registry for scraping.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry in exposition format.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// IncCounter implements ports.MetricsCollector.
func (c *PrometheusCollector) IncCounter(_ context.Context, name string, labels map[string]string) {
	if vec, ok := c.counters[name]; ok {
		if counter, err := vec.GetMetricWith(labels); err == nil {
			counter.Inc()
		}
	}
}

// SetGauge implements ports.MetricsCollector.
func (c *PrometheusCollector) SetGauge(_ context.Context, name string, value float64, labels map[string]string) {
	if vec, ok := c.gauges[name]; ok {
		if gauge, err := vec.GetMetricWith(labels); err == nil {
			gauge.Set(value)
		}
	}
}

// ObserveHistogram implements ports.MetricsCollector.
func (c *PrometheusCollector) ObserveHistogram(_ context.Context, name string, value float64, labels map[string]string) {
	if vec, ok := c.histograms[name]; ok {
		if observer, err := vec.GetMetricWith(labels); err == nil {
			observer.Observe(value)
		}
	}
}

// NoOpCollector discards every observation.
type NoOpCollector struct{}

// IncCounter implements ports.MetricsCollector.
func (NoOpCollector) IncCounter(context.Context, string, map[string]string) {}

// SetGauge implements ports.MetricsCollector.
func (NoOpCollector) SetGauge(context.Context, string, float64, map[string]string) {}

// ObserveHistogram implements ports.MetricsCollector.
func (NoOpCollector) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var (
	_ ports.MetricsCollector = (*PrometheusCollector)(nil)
	_ ports.MetricsCollector = NoOpCollector{}
)
