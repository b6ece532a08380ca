// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"time"

	"github.com/teradata-labs/hermes/pkg/critique"
	"github.com/teradata-labs/hermes/pkg/experiments"
)

// TaskType names the work an agent task performs.
type TaskType string

// Task types.
const (
	TaskQualityCheck      TaskType = "quality-check"
	TaskBenchmarkStale    TaskType = "benchmark-stale"
	TaskRegressionFix     TaskType = "regression-fix"
	TaskProactiveOptimize TaskType = "proactive-optimize"
	TaskApplySuggestion   TaskType = "apply-suggestion"
	TaskRunExperiment     TaskType = "run-experiment"
	TaskCrossPromptLearn  TaskType = "cross-prompt-learn"
)

// Priority orders task execution within a cycle.
type Priority string

// Task priorities, most urgent first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank gives the sort order; unknown priorities run last.
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Task is one unit of autonomous work. Discovery creates them; the
// executor fills in the timing and outcome fields.
type Task struct {
	ID       string   `json:"id"`
	Type     TaskType `json:"type"`
	Priority Priority `json:"priority"`
	PromptID string   `json:"promptId,omitempty"`
	Reason   string   `json:"reason,omitempty"`

	// Suggestion drives apply-suggestion tasks.
	Suggestion *critique.Suggestion `json:"suggestion,omitempty"`

	// Experiment drives run-experiment tasks.
	Experiment *experiments.CreateRequest `json:"-"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}
