/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package metrics holds the prometheus collectors shared by the dispatch layer,
// the artifact enrichment, the task bridge and the work queue.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atomictoolkit"

// Metrics groups all collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	toolCalls           *prometheus.CounterVec
	toolDuration        *prometheus.HistogramVec
	artifactsRegistered *prometheus.CounterVec
	taskOperations      *prometheus.CounterVec
	queueExecutions     *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations by outcome",
		},
		[]string{"tool", "status"},
	)

	m.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Wall-clock duration of tool invocations",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 10),
		},
		[]string{"tool"},
	)

	m.artifactsRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_registered_total",
			Help:      "Artifacts registered for download by artifact type",
		},
		[]string{"type"},
	)

	m.taskOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_operations_total",
			Help:      "Background task protocol operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	m.queueExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_executions_total",
			Help:      "Queue executions that reached a final state",
		},
		[]string{"function", "state"},
	)

	m.registry.MustRegister(
		m.toolCalls,
		m.toolDuration,
		m.artifactsRegistered,
		m.taskOperations,
		m.queueExecutions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the registry (tests use it with testutil)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveToolCall records one tool invocation. A nil receiver is a no-op.
func (m *Metrics) ObserveToolCall(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ArtifactRegistered counts a registered artifact
func (m *Metrics) ArtifactRegistered(artifactType string) {
	if m == nil {
		return
	}
	m.artifactsRegistered.WithLabelValues(artifactType).Inc()
}

// TaskOperation counts a task protocol operation; outcome is "ok" or an error label
func (m *Metrics) TaskOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.taskOperations.WithLabelValues(op, outcome).Inc()
}

// ExecutionFinished counts an execution reaching a final state
func (m *Metrics) ExecutionFinished(function, state string) {
	if m == nil {
		return
	}
	m.queueExecutions.WithLabelValues(function, state).Inc()
}
