// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package benchmark orchestrates prompt evaluations: it drives the
// external evaluator (or the hermetic simulator), derives baseline
// deltas and regression flags, persists immutable results, and keeps
// the prompt head's score caches fresh.
package benchmark

import "time"

// Result is an immutable record of one evaluation run.
type Result struct {
	ID            string `json:"id"`
	PromptID      string `json:"promptId"`
	PromptVersion string `json:"promptVersion"`

	// ContentHash fingerprints the version content at run time so tampering
	// is detectable.
	ContentHash string `json:"contentHash"`

	SuiteID string `json:"suiteId"`

	// OverallScore is in [0,100].
	OverallScore    float64            `json:"overallScore"`
	DimensionScores map[string]float64 `json:"dimensionScores,omitempty"`

	ModelID      string `json:"modelId"`
	ModelVersion string `json:"modelVersion,omitempty"`

	ExecutionTimeMs int64          `json:"executionTimeMs"`
	TokenUsage      map[string]int `json:"tokenUsage,omitempty"`

	// BaselineScore snapshots the prompt's cached score before this run;
	// nil on the first run. Delta and IsRegression are derived fields,
	// never independently mutable.
	BaselineScore *float64 `json:"baselineScore,omitempty"`
	Delta         *float64 `json:"delta,omitempty"`

	GatePassed    bool    `json:"gatePassed"`
	GateThreshold float64 `json:"gateThreshold"`
	IsRegression  bool    `json:"isRegression"`

	ExecutedAt  time.Time `json:"executedAt"`
	ExecutorID  string    `json:"executorId,omitempty"`
	Environment string    `json:"environment"`

	// Error holds the evaluator's failure text; a failed run persists
	// with score 0 rather than vanishing.
	Error string `json:"error,omitempty"`
}

// Trend summarises a prompt's score trajectory over a window.
type Trend struct {
	PromptID   string `json:"promptId"`
	WindowDays int    `json:"windowDays"`
	Samples    int    `json:"samples"`

	// Slope is the per-run linear-regression slope of overall scores;
	// Direction classifies it as improving/stable/declining using a
	// ±0.1 band.
	Slope     float64 `json:"slope"`
	Direction string  `json:"direction"`

	Avg7Day    float64 `json:"avg7Day"`
	Avg30Day   float64 `json:"avg30Day"`
	Delta7Day  float64 `json:"delta7Day"`
	Delta30Day float64 `json:"delta30Day"`

	DimensionAverages map[string]float64 `json:"dimensionAverages,omitempty"`
}

// Trend directions.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)
