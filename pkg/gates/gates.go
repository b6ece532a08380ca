// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package gates evaluates deploy-readiness for a prompt: a pipeline of
// gates runs over the latest benchmark result and produces a verdict.
// The report is a pure function of its inputs and is never persisted.
package gates

import (
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/hermes/pkg/benchmark"
)

// Kind tags a gate's check.
type Kind string

// Gate kinds.
const (
	KindScoreThreshold   Kind = "score-threshold"
	KindRegression       Kind = "regression"
	KindFreshness        Kind = "freshness"
	KindDimensionMinimum Kind = "dimension-minimum"
	KindCustom           Kind = "custom"
)

// Outcome is one gate's result.
type Outcome string

// Gate outcomes. Pending means no benchmark exists for the prompt;
// skipped means the gate is disabled or its dimension is absent.
const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeWarning Outcome = "warning"
	OutcomePending Outcome = "pending"
	OutcomeSkipped Outcome = "skipped"
)

// Gate is one configured check in the pipeline.
type Gate struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Enabled  bool   `json:"enabled"`
	Blocking bool   `json:"blocking"`

	// Threshold is in (0,1] for score-threshold and dimension-minimum
	// (compared against score/100), a percent for regression, unused
	// otherwise.
	Threshold float64 `json:"threshold,omitempty"`

	// Dimension names the scored dimension for dimension-minimum gates.
	Dimension string `json:"dimension,omitempty"`

	// MaxAge bounds result staleness for freshness gates.
	MaxAge time.Duration `json:"maxAge,omitempty"`

	// Custom names a registered predicate for custom gates.
	Custom string `json:"custom,omitempty"`
}

// Evaluation is the outcome of one gate.
type Evaluation struct {
	GateID   string  `json:"gateId"`
	Kind     Kind    `json:"kind"`
	Outcome  Outcome `json:"outcome"`
	Blocking bool    `json:"blocking"`
	Message  string  `json:"message,omitempty"`
}

// Report is the verdict over a whole pipeline.
type Report struct {
	PromptID    string       `json:"promptId"`
	Version     string       `json:"version"`
	Overall     Outcome      `json:"overall"`
	CanDeploy   bool         `json:"canDeploy"`
	Evaluations []Evaluation `json:"evaluations"`
	Summary     string       `json:"summary"`
}

// Predicate is a custom gate check over the latest result.
type Predicate func(result *benchmark.Result) (Outcome, string)

// DefaultPipeline mirrors the platform's standard gate set: blocking
// score and regression gates, a freshness warning.
func DefaultPipeline() []Gate {
	return []Gate{
		{ID: "score", Kind: KindScoreThreshold, Enabled: true, Blocking: true, Threshold: 0.80},
		{ID: "regression", Kind: KindRegression, Enabled: true, Blocking: true, Threshold: 5},
		{ID: "freshness", Kind: KindFreshness, Enabled: true, Blocking: false, MaxAge: 24 * time.Hour},
	}
}

// Evaluator runs gate pipelines. Custom predicates are registered by
// name before evaluation.
type Evaluator struct {
	pipeline   []Gate
	predicates map[string]Predicate
	now        func() time.Time
}

// NewEvaluator creates an evaluator over the given pipeline; nil means
// the default pipeline.
func NewEvaluator(pipeline []Gate) *Evaluator {
	if pipeline == nil {
		pipeline = DefaultPipeline()
	}
	return &Evaluator{
		pipeline:   pipeline,
		predicates: make(map[string]Predicate),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterPredicate installs a named predicate for custom gates.
func (e *Evaluator) RegisterPredicate(name string, p Predicate) {
	e.predicates[name] = p
}

// Evaluate runs the pipeline over the latest benchmark result for a
// prompt. Pass a nil result when no benchmark exists (or the result
// fetch degraded); every enabled gate then reports pending.
func (e *Evaluator) Evaluate(promptID, version string, latest *benchmark.Result) *Report {
	report := &Report{PromptID: promptID, Version: version}

	var blockingFailures, failures, warnings, pending, enabled int
	for _, gate := range e.pipeline {
		eval := e.evaluateGate(gate, latest)
		report.Evaluations = append(report.Evaluations, eval)

		if eval.Outcome == OutcomeSkipped {
			continue
		}
		enabled++
		switch eval.Outcome {
		case OutcomeFailed:
			failures++
			if eval.Blocking {
				blockingFailures++
			}
		case OutcomeWarning:
			warnings++
		case OutcomePending:
			pending++
		}
	}

	switch {
	case blockingFailures > 0:
		report.Overall = OutcomeFailed
		report.CanDeploy = false
	case failures > 0 || warnings > 0:
		report.Overall = OutcomeWarning
		report.CanDeploy = true
	case pending > 0 && pending == enabled:
		report.Overall = OutcomePending
		report.CanDeploy = false
	default:
		report.Overall = OutcomePassed
		report.CanDeploy = true
	}

	report.Summary = fmt.Sprintf("%s: %d blocking failure(s), %d failure(s), %d warning(s), %d pending",
		report.Overall, blockingFailures, failures, warnings, pending)
	return report
}

func (e *Evaluator) evaluateGate(gate Gate, latest *benchmark.Result) Evaluation {
	eval := Evaluation{GateID: gate.ID, Kind: gate.Kind, Blocking: gate.Blocking}

	if !gate.Enabled {
		eval.Outcome = OutcomeSkipped
		eval.Message = "gate disabled"
		return eval
	}
	if latest == nil {
		eval.Outcome = OutcomePending
		eval.Message = "no benchmark result"
		return eval
	}

	outcome, message := e.check(gate, latest)

	// A failing non-blocking gate degrades to a warning.
	if outcome == OutcomeFailed && !gate.Blocking {
		outcome = OutcomeWarning
	}
	eval.Outcome = outcome
	eval.Message = message
	return eval
}

func (e *Evaluator) check(gate Gate, r *benchmark.Result) (Outcome, string) {
	switch gate.Kind {
	case KindScoreThreshold:
		required := gate.Threshold * 100
		if r.OverallScore >= required {
			return OutcomePassed, fmt.Sprintf("score %.1f ≥ %.0f", r.OverallScore, required)
		}
		return OutcomeFailed, fmt.Sprintf("score %.1f below %.0f", r.OverallScore, required)

	case KindRegression:
		if r.IsRegression {
			return OutcomeFailed, "latest result is a regression"
		}
		if r.Delta != nil && *r.Delta < -gate.Threshold {
			return OutcomeFailed, fmt.Sprintf("delta %.1f below -%.1f", *r.Delta, gate.Threshold)
		}
		return OutcomePassed, "no regression"

	case KindFreshness:
		age := e.now().Sub(r.ExecutedAt)
		if age <= gate.MaxAge {
			return OutcomePassed, fmt.Sprintf("result is %s old", age.Round(time.Minute))
		}
		return OutcomeFailed, fmt.Sprintf("result is %s old, max %s", age.Round(time.Minute), gate.MaxAge)

	case KindDimensionMinimum:
		score, ok := r.DimensionScores[gate.Dimension]
		if !ok {
			return OutcomeSkipped, fmt.Sprintf("dimension %q absent", gate.Dimension)
		}
		required := gate.Threshold * 100
		if score >= required {
			return OutcomePassed, fmt.Sprintf("%s %.1f ≥ %.0f", gate.Dimension, score, required)
		}
		return OutcomeFailed, fmt.Sprintf("%s %.1f below %.0f", gate.Dimension, score, required)

	case KindCustom:
		p, ok := e.predicates[gate.Custom]
		if !ok {
			return OutcomeSkipped, fmt.Sprintf("predicate %q not registered", gate.Custom)
		}
		return p(r)

	default:
		return OutcomeSkipped, fmt.Sprintf("unknown gate kind %q", gate.Kind)
	}
}

// FailureSummary lists the failing gate ids, for notification bodies.
func (r *Report) FailureSummary() string {
	var failed []string
	for _, eval := range r.Evaluations {
		if eval.Outcome == OutcomeFailed {
			failed = append(failed, eval.GateID)
		}
	}
	if len(failed) == 0 {
		return "no failures"
	}
	return strings.Join(failed, ", ")
}
