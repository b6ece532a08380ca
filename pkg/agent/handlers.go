// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/hermes/pkg/benchmark"
	"github.com/teradata-labs/hermes/pkg/critique"
	"github.com/teradata-labs/hermes/pkg/notify"
	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/types"
)

// agentAuthor is the author recorded on autonomous prompt changes.
const agentAuthor = "improvement-agent"

// rollbackReason is recorded when the agent reverts a regressed prompt
// to an earlier version.
const rollbackReason = "Autonomous rollback: quality regression"

func (a *Agent) dispatch(ctx context.Context, t *Task) (string, error) {
	switch t.Type {
	case TaskQualityCheck:
		return a.qualityCheck(ctx, t)
	case TaskBenchmarkStale:
		return a.benchmarkStale(ctx, t)
	case TaskRegressionFix:
		return a.regressionFix(ctx, t)
	case TaskProactiveOptimize:
		return a.proactiveOptimize(ctx, t)
	case TaskApplySuggestion:
		return a.applySuggestionTask(ctx, t)
	case TaskRunExperiment:
		return a.runExperiment(ctx, t)
	case TaskCrossPromptLearn:
		return a.crossPromptLearn(ctx)
	default:
		return "", types.Invalidf("unknown task type %q", t.Type)
	}
}

// qualityCheck benchmarks the prompt head and reports its gate verdict.
func (a *Agent) qualityCheck(ctx context.Context, t *Task) (string, error) {
	result, err := a.bench.RunBenchmark(ctx, t.PromptID, "", "", benchmark.RunOptions{Executor: agentAuthor})
	if err != nil {
		return "", err
	}
	report := a.gates.Evaluate(result.PromptID, result.PromptVersion, result)
	return fmt.Sprintf("score %.1f, gates %s, deployable=%t",
		result.OverallScore, report.Overall, report.CanDeploy), nil
}

// benchmarkStale refreshes a prompt whose last benchmark aged out.
func (a *Agent) benchmarkStale(ctx context.Context, t *Task) (string, error) {
	result, err := a.bench.RunBenchmark(ctx, t.PromptID, "", "", benchmark.RunOptions{Executor: agentAuthor})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("benchmarked at %.1f", result.OverallScore), nil
}

// regressionFix tries a high-confidence suggestion first and falls back
// to rolling the prompt back to its best-scoring recent version.
func (a *Agent) regressionFix(ctx context.Context, t *Task) (string, error) {
	cfg := a.Config()
	if !cfg.AutoFixRegressions {
		return "regression fixes disabled", nil
	}
	p, err := a.prompts.Get(ctx, t.PromptID)
	if err != nil {
		return "", err
	}

	analysis, err := a.bench.RunSelfCritique(ctx, p.ID, critique.DepthStandard)
	if err == nil {
		if top := critique.TopSuggestion(analysis.Suggestions, cfg.HighConfidenceThreshold); top != nil {
			result, improvement, err := a.applySuggestion(ctx, p, *top)
			if err != nil {
				return "", err
			}
			if improvement > 0 {
				a.mu.Lock()
				a.regressionsFixed++
				a.mu.Unlock()
			}
			return result, nil
		}
	} else {
		a.logger.Warn("self-critique unavailable, considering rollback",
			zap.String("prompt", p.ID), zap.Error(err))
	}

	return a.rollbackToBest(ctx, p)
}

// proactiveOptimize applies a high-confidence suggestion when allowed,
// otherwise surfaces it for human review.
func (a *Agent) proactiveOptimize(ctx context.Context, t *Task) (string, error) {
	cfg := a.Config()
	p, err := a.prompts.Get(ctx, t.PromptID)
	if err != nil {
		return "", err
	}

	analysis, err := a.bench.RunSelfCritique(ctx, p.ID, critique.DepthStandard)
	if err != nil {
		return "", err
	}
	top := critique.TopSuggestion(analysis.Suggestions, cfg.HighConfidenceThreshold)
	if top == nil {
		return "no high-confidence suggestions", nil
	}

	if !cfg.AutoApplyHighConfidence || top.EstimatedImpact < cfg.MinImprovementThreshold {
		a.notifier.Send(ctx, notify.Notification{
			ID:       uuid.NewString(),
			Type:     notify.TypeSuggestionReady,
			Title:    notify.TitleFor(notify.TypeSuggestionReady),
			Body:     fmt.Sprintf("Suggestion for %q: %s", p.Slug, top.Description),
			Priority: notify.PriorityNormal,
			Data: map[string]any{
				"promptId":     p.ID,
				"suggestionId": top.ID,
				"confidence":   top.Confidence,
				"impact":       top.EstimatedImpact,
			},
		})
		return "suggestion surfaced for review", nil
	}

	result, _, err := a.applySuggestion(ctx, p, *top)
	return result, err
}

// applySuggestionTask applies the specific suggestion carried by the
// task.
func (a *Agent) applySuggestionTask(ctx context.Context, t *Task) (string, error) {
	if t.Suggestion == nil {
		return "", types.Invalidf("apply-suggestion task carries no suggestion")
	}
	p, err := a.prompts.Get(ctx, t.PromptID)
	if err != nil {
		return "", err
	}
	result, _, err := a.applySuggestion(ctx, p, *t.Suggestion)
	return result, err
}

// applySuggestion rewrites the prompt with the suggestion, benchmarks
// the new version, and reverts unless the score improved. Returns the
// outcome text and the kept improvement (zero when reverted).
func (a *Agent) applySuggestion(ctx context.Context, p *prompts.Prompt, s critique.Suggestion) (string, float64, error) {
	prevScore := a.currentScore(ctx, p)
	prevVersion := p.Version

	newContent, err := a.bench.ApplySuggestion(ctx, p.Content, s)
	if err != nil {
		return "", 0, err
	}
	if newContent == p.Content {
		return "suggestion produced no change", 0, nil
	}

	summary := "Apply suggestion: " + truncate(s.Description, 120)
	updated, err := a.prompts.Update(ctx, prompts.UpdateRequest{
		Ref:           p.ID,
		Content:       &newContent,
		ChangeSummary: summary,
		Author:        agentAuthor,
	})
	if err != nil {
		return "", 0, err
	}

	result, err := a.bench.RunBenchmark(ctx, p.ID, "", "", benchmark.RunOptions{Executor: agentAuthor})
	if err != nil {
		return "", 0, err
	}

	if result.Error != "" || result.OverallScore <= prevScore {
		if _, err := a.prompts.Rollback(ctx, p.ID, prevVersion, agentAuthor); err != nil {
			return "", 0, fmt.Errorf("failed to revert unimproved change: %w", err)
		}
		a.logger.Info("suggestion reverted",
			zap.String("prompt", p.ID),
			zap.Float64("previous", prevScore),
			zap.Float64("new", result.OverallScore))
		return fmt.Sprintf("reverted: %.1f did not improve on %.1f", result.OverallScore, prevScore), 0, nil
	}

	improvement := result.OverallScore - prevScore
	a.mu.Lock()
	a.improvementsMade++
	a.totalScoreImprovement += improvement
	a.mu.Unlock()
	a.metrics.improvementsTotal.Inc()

	a.logger.Info("suggestion applied",
		zap.String("prompt", p.ID),
		zap.String("version", updated.Version),
		zap.Float64("improvement", improvement))
	return fmt.Sprintf("improved %.1f → %.1f (v%s)", prevScore, result.OverallScore, updated.Version), improvement, nil
}

// rollbackToBest reverts the prompt to the best-scoring of its recent
// versions, when one beats the current score.
func (a *Agent) rollbackToBest(ctx context.Context, p *prompts.Prompt) (string, error) {
	versions, err := a.prompts.History(ctx, p.ID, 5)
	if err != nil {
		return "", err
	}
	results, err := a.bench.History(ctx, p.ID, 25)
	if err != nil {
		return "", err
	}

	// Best observed score per version.
	scores := make(map[string]float64)
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		if best, ok := scores[r.PromptVersion]; !ok || r.OverallScore > best {
			scores[r.PromptVersion] = r.OverallScore
		}
	}

	current := a.currentScore(ctx, p)
	bestVersion := ""
	bestScore := current
	for _, v := range versions {
		if v.Version == p.Version {
			continue
		}
		if score, ok := scores[v.Version]; ok && score > bestScore {
			bestVersion = v.Version
			bestScore = score
		}
	}
	if bestVersion == "" {
		return "no better-scoring recent version to roll back to", nil
	}

	if _, err := a.prompts.Rollback(ctx, p.ID, bestVersion, agentAuthor); err != nil {
		return "", err
	}
	a.mu.Lock()
	a.regressionsFixed++
	a.mu.Unlock()
	a.logger.Info("prompt rolled back",
		zap.String("prompt", p.ID),
		zap.String("to_version", bestVersion),
		zap.Float64("score", bestScore),
		zap.String("reason", rollbackReason))
	return fmt.Sprintf("%s: rolled back to v%s (%.1f)", rollbackReason, bestVersion, bestScore), nil
}

// runExperiment creates and starts the experiment carried by the task.
func (a *Agent) runExperiment(ctx context.Context, t *Task) (string, error) {
	if a.experiments == nil {
		return "", types.Policyf("experiment controller not configured")
	}
	if t.Experiment == nil {
		return "", types.Invalidf("run-experiment task carries no experiment")
	}
	e, err := a.experiments.Create(ctx, *t.Experiment)
	if err != nil {
		return "", err
	}
	if _, err := a.experiments.Start(ctx, e.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("experiment %s started with %d variants", e.ID, len(e.Variants)), nil
}

var (
	stepListPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+\S`)
	headerPattern   = regexp.MustCompile(`(?m)^#{1,3}\s+\S`)
	examplePattern  = regexp.MustCompile(`(?i)\bexamples?\b|\be\.g\.\b|<example>`)
)

// crossPromptLearn extracts coarse structural patterns from the
// top-scoring prompts. Read-only: the findings go to the log and the
// task result for audit.
func (a *Agent) crossPromptLearn(ctx context.Context) (string, error) {
	if !a.Config().LearningEnabled {
		return "learning disabled", nil
	}

	page, err := a.prompts.List(ctx, prompts.Filter{Limit: a.Config().DiscoveryLimit})
	if err != nil {
		return "", err
	}

	scored := make([]*prompts.Prompt, 0, len(page.Prompts))
	for _, p := range page.Prompts {
		if p.LastBenchmarkScore != nil {
			scored = append(scored, p)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].LastBenchmarkScore > *scored[j].LastBenchmarkScore
	})
	if len(scored) > 10 {
		scored = scored[:10]
	}
	if len(scored) == 0 {
		return "no benchmarked prompts to learn from", nil
	}

	var withExamples, withSteps, withHeaders int
	for _, p := range scored {
		if examplePattern.MatchString(p.Content) {
			withExamples++
		}
		if stepListPattern.MatchString(p.Content) {
			withSteps++
		}
		if headerPattern.MatchString(p.Content) {
			withHeaders++
		}
	}

	// Flag near-duplicate top performers; convergent phrasing is a
	// signal worth a human look.
	duplicates := 0
	for i := 0; i < len(scored); i++ {
		for j := i + 1; j < len(scored); j++ {
			if prompts.Similarity(scored[i].Content, scored[j].Content) > 0.9 {
				duplicates++
			}
		}
	}

	summary := fmt.Sprintf("top %d prompts: %d use examples, %d use step lists, %d use section headers, %d near-duplicate pairs",
		len(scored), withExamples, withSteps, withHeaders, duplicates)
	a.logger.Info("cross-prompt patterns", zap.String("summary", summary))
	return summary, nil
}

func (a *Agent) currentScore(ctx context.Context, p *prompts.Prompt) float64 {
	if results, err := a.bench.History(ctx, p.ID, 1); err == nil && len(results) > 0 && results[0].Error == "" {
		return results[0].OverallScore
	}
	if p.LastBenchmarkScore != nil {
		return *p.LastBenchmarkScore
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
