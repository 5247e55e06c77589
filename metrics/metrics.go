// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus collectors for action dispatch,
// safety validation and workflow execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal      *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	checkFailures     *prometheus.CounterVec
	workflowRunsTotal *prometheus.CounterVec
	workflowDuration  prometheus.Histogram
}

// New creates and registers the collectors on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liverag_actions_total",
			Help: "Action dispatch outcomes by type and terminal status.",
		}, []string{"action_type", "status"}),
		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liverag_action_duration_seconds",
			Help:    "Action dispatch duration from request to terminal status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action_type"}),
		checkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liverag_safety_check_failures_total",
			Help: "Safety validator check failures by check name.",
		}, []string{"check"}),
		workflowRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liverag_workflow_runs_total",
			Help: "Workflow runs by terminal status.",
		}, []string{"status"}),
		workflowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "liverag_workflow_duration_seconds",
			Help:    "Workflow run duration.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
	}
}

// ObserveAction records one dispatch outcome
func (m *Metrics) ObserveAction(actionType, status string, duration time.Duration) {
	m.actionsTotal.WithLabelValues(actionType, status).Inc()
	m.actionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// RecordCheckFailure counts one failed safety check
func (m *Metrics) RecordCheckFailure(check string) {
	m.checkFailures.WithLabelValues(check).Inc()
}

// ObserveWorkflow records one finished workflow run
func (m *Metrics) ObserveWorkflow(status string, duration time.Duration) {
	m.workflowRunsTotal.WithLabelValues(status).Inc()
	m.workflowDuration.Observe(duration.Seconds())
}

// Handler serves the metrics in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
