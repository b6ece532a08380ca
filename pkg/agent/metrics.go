// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the agent's Prometheus collectors.
type Metrics struct {
	tasksTotal        *prometheus.CounterVec
	improvementsTotal prometheus.Counter
	queueDepth        prometheus.Gauge
	taskSeconds       prometheus.Histogram
}

// NewMetrics registers the agent collectors on the given registerer.
// Pass prometheus.DefaultRegisterer outside tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_agent_tasks_total",
			Help: "Agent tasks executed, by type and status.",
		}, []string{"type", "status"}),
		improvementsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hermes_agent_improvements_total",
			Help: "Prompt improvements the agent has kept.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hermes_agent_queue_depth",
			Help: "Tasks waiting in the current cycle.",
		}),
		taskSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hermes_agent_task_seconds",
			Help:    "Task execution time in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (m *Metrics) observeTask(t *Task, d time.Duration) {
	if m == nil {
		return
	}
	status := "completed"
	if t.Error != "" {
		status = "failed"
	}
	m.tasksTotal.WithLabelValues(string(t.Type), status).Inc()
	m.taskSeconds.Observe(d.Seconds())
}

// Snapshot is a point-in-time read of the agent's counters.
type Snapshot struct {
	State                 State      `json:"state"`
	TasksCompleted        int        `json:"tasksCompleted"`
	TasksFailed           int        `json:"tasksFailed"`
	ImprovementsMade      int        `json:"improvementsMade"`
	RegressionsFixed      int        `json:"regressionsFixed"`
	TotalScoreImprovement float64    `json:"totalScoreImprovement"`
	QueueDepth            int        `json:"queueDepth"`
	LastCycleAt           *time.Time `json:"lastCycleAt,omitempty"`
	UptimeSeconds         float64    `json:"uptimeSeconds"`
}
