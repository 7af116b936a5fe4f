// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector by exporting every
// measurement as a Prometheus metric, while delegating to an embedded
// InMemoryCollector so GetStats keeps working for callers that want
// a snapshot without scraping.
type PrometheusCollector struct {
	*InMemoryCollector

	subtasksDispatched *prometheus.CounterVec
	subtasksCompleted  *prometheus.CounterVec
	subtaskSeconds     prometheus.Histogram
	bytesSerialized    *prometheus.CounterVec
	activeWorkers      prometheus.Gauge
	solverSeconds      prometheus.Histogram
	solverRuns         *prometheus.CounterVec
}

// NewPrometheusCollector builds a collector and registers its metrics
// on reg; pass prometheus.DefaultRegisterer for the process-wide
// registry.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		InMemoryCollector: NewInMemoryCollector(),
		subtasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khiops_subtasks_dispatched_total",
			Help: "Subtask inputs sent to workers.",
		}, []string{"task"}),
		subtasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khiops_subtasks_completed_total",
			Help: "Subtask outputs received and aggregated.",
		}, []string{"task", "ok"}),
		subtaskSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "khiops_subtask_duration_seconds",
			Help:    "Dispatch-to-aggregate duration of one subtask.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		bytesSerialized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khiops_bytes_serialized_total",
			Help: "Bytes moved through the serializer.",
		}, []string{"direction"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "khiops_active_workers",
			Help: "Workers currently attached to the coordinator.",
		}),
		solverSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "khiops_solver_resolution_seconds",
			Help:    "Wall time of one resource-solver run.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		solverRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khiops_solver_runs_total",
			Help: "Resource-solver runs by outcome.",
		}, []string{"feasible"}),
	}

	for _, m := range []prometheus.Collector{
		c.subtasksDispatched, c.subtasksCompleted, c.subtaskSeconds,
		c.bytesSerialized, c.activeWorkers, c.solverSeconds, c.solverRuns,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordSubtaskDispatched records one subtask input sent to a worker
func (c *PrometheusCollector) RecordSubtaskDispatched(taskName string) {
	c.InMemoryCollector.RecordSubtaskDispatched(taskName)
	c.subtasksDispatched.WithLabelValues(taskName).Inc()
}

// RecordSubtaskCompleted records one aggregated subtask output
func (c *PrometheusCollector) RecordSubtaskCompleted(taskName string, duration time.Duration, ok bool) {
	c.InMemoryCollector.RecordSubtaskCompleted(taskName, duration, ok)
	c.subtasksCompleted.WithLabelValues(taskName, boolLabel(ok)).Inc()
	c.subtaskSeconds.Observe(duration.Seconds())
}

// RecordBytesSerialized records bytes moved through the serializer
func (c *PrometheusCollector) RecordBytesSerialized(direction string, n int) {
	c.InMemoryCollector.RecordBytesSerialized(direction, n)
	c.bytesSerialized.WithLabelValues(direction).Add(float64(n))
}

// SetActiveWorkers records how many workers are currently attached
func (c *PrometheusCollector) SetActiveWorkers(n int) {
	c.InMemoryCollector.SetActiveWorkers(n)
	c.activeWorkers.Set(float64(n))
}

// RecordSolverResolution records one resource-solver run
func (c *PrometheusCollector) RecordSolverResolution(duration time.Duration, feasible bool) {
	c.InMemoryCollector.RecordSolverResolution(duration, feasible)
	c.solverSeconds.Observe(duration.Seconds())
	c.solverRuns.WithLabelValues(boolLabel(feasible)).Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
