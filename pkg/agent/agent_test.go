// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/hermes/pkg/benchmark"
	"github.com/teradata-labs/hermes/pkg/critique"
	"github.com/teradata-labs/hermes/pkg/evaluator"
	"github.com/teradata-labs/hermes/pkg/experiments"
	"github.com/teradata-labs/hermes/pkg/notify"
	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/storage"
	"github.com/teradata-labs/hermes/pkg/types"
)

// scriptedEvaluator replays scores in order, repeating the last one.
// It also tracks peak concurrency.
type scriptedEvaluator struct {
	mu       sync.Mutex
	scores   []float64
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *scriptedEvaluator) Run(_ context.Context, req *evaluator.RunRequest) (*evaluator.RunResponse, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.scores) {
		n = len(f.scores) - 1
	}
	return &evaluator.RunResponse{
		OverallScore: f.scores[n],
		DimensionScores: map[string]float64{
			"clarity": f.scores[n],
		},
		Environment: types.EnvProduction,
	}, nil
}

// scriptedCritique serves a fixed analysis and applies suggestions by
// appending their suggested change.
type scriptedCritique struct {
	analysis critique.Analysis
}

func (c *scriptedCritique) Analyze(context.Context, *critique.AnalyzeRequest) (*critique.Analysis, error) {
	a := c.analysis
	return &a, nil
}

func (c *scriptedCritique) ApplySuggestion(_ context.Context, content string, s critique.Suggestion) (string, error) {
	return content + "\n\n" + s.SuggestedChange, nil
}

func (c *scriptedCritique) GetSuggestion(_ context.Context, id string) (*critique.Suggestion, error) {
	for _, s := range c.analysis.Suggestions {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, types.NotFoundf("suggestion %s", id)
}

func (c *scriptedCritique) History(context.Context, string) ([]*critique.Analysis, error) {
	return nil, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Send(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) ofType(t notify.Type) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	agent    *Agent
	prompts  *prompts.Service
	bench    *benchmark.Orchestrator
	eval     *scriptedEvaluator
	critic   *scriptedCritique
	notifier *recordingNotifier
	ctrl     *experiments.Controller
}

func newFixture(t *testing.T, scores ...float64) *fixture {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "hermes.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	promptStore, err := prompts.NewStore(db)
	require.NoError(t, err)
	promptSvc, err := prompts.NewService(promptStore, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(promptSvc.Shutdown)

	benchStore, err := benchmark.NewStore(db)
	require.NoError(t, err)

	if len(scores) == 0 {
		scores = []float64{85}
	}
	eval := &scriptedEvaluator{scores: scores}
	critic := &scriptedCritique{}
	notifier := &recordingNotifier{}

	orch, err := benchmark.NewOrchestrator(benchmark.Config{
		Prompts:   promptSvc,
		Store:     benchStore,
		Evaluator: eval,
		Critique:  critic,
		Notifier:  notifier,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	expStore, err := experiments.NewStore(db)
	require.NoError(t, err)
	ctrl, err := experiments.NewController(experiments.Config{
		Store:   expStore,
		Prompts: promptSvc,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.LearningEnabled = false
	a, err := New(Options{
		Prompts:     promptSvc,
		Benchmarks:  orch,
		Experiments: ctrl,
		Notifier:    notifier,
		Config:      &cfg,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	return &fixture{agent: a, prompts: promptSvc, bench: orch, eval: eval, critic: critic, notifier: notifier, ctrl: ctrl}
}

func (f *fixture) createPrompt(t *testing.T, slug string) *prompts.Prompt {
	t.Helper()
	p, err := f.prompts.Create(context.Background(), prompts.CreateRequest{
		Slug:    slug,
		Name:    "Test " + slug,
		Kind:    prompts.KindUserTemplate,
		Content: "You are a helpful assistant for " + slug + ".",
		OwnerID: "user-1",
	})
	require.NoError(t, err)
	return p
}

func taskTypes(tasks []*Task) []TaskType {
	out := make([]TaskType, len(tasks))
	for i, t := range tasks {
		out[i] = t.Type
	}
	return out
}

func TestDiscovery(t *testing.T) {
	f := newFixture(t, 70, 70)
	ctx := context.Background()

	// Never benchmarked: stale.
	stale := f.createPrompt(t, "stale-prompt")

	// Benchmarked twice, second run regresses; also low-scoring.
	regressed := f.createPrompt(t, "regressed-prompt")
	_, err := f.bench.RunBenchmark(ctx, regressed.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)
	f.eval.mu.Lock()
	f.eval.scores = []float64{50}
	f.eval.mu.Unlock()
	result, err := f.bench.RunBenchmark(ctx, regressed.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)
	require.True(t, result.IsRegression)

	tasks, err := f.agent.discover(ctx)
	require.NoError(t, err)

	kinds := make(map[string]bool)
	for _, task := range tasks {
		kinds[string(task.Type)+"|"+task.PromptID] = true
	}
	assert.True(t, kinds[string(TaskBenchmarkStale)+"|"+stale.ID])
	assert.True(t, kinds[string(TaskRegressionFix)+"|"+regressed.ID])
	assert.True(t, kinds[string(TaskProactiveOptimize)+"|"+regressed.ID])
	assert.False(t, kinds[string(TaskBenchmarkStale)+"|"+regressed.ID], "fresh benchmark is not stale")
	assert.Len(t, tasks, 3)
}

func TestCyclePrioritisesAndDeduplicates(t *testing.T) {
	f := newFixture(t, 85, 50)
	ctx := context.Background()

	p := f.createPrompt(t, "sorted-prompt")
	_, err := f.bench.RunBenchmark(ctx, p.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)
	_, err = f.bench.RunBenchmark(ctx, p.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)

	// A submitted duplicate of a discovered finding is dropped.
	f.agent.Submit(&Task{Type: TaskProactiveOptimize, PromptID: p.ID, Priority: PriorityMedium})

	tasks, err := f.agent.RunCycle(ctx)
	require.NoError(t, err)

	// Regression fix (critical) runs before proactive optimise (medium).
	types := taskTypes(tasks)
	require.Len(t, types, 2)
	assert.Equal(t, TaskRegressionFix, types[0])
	assert.Equal(t, TaskProactiveOptimize, types[1])

	snap := f.agent.Snapshot()
	assert.Equal(t, 2, snap.TasksCompleted+snap.TasksFailed)
	assert.NotNil(t, snap.LastCycleAt)
	assert.Equal(t, StateSleeping, f.agent.State())
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	f := newFixture(t, 95)
	f.eval.delay = 20 * time.Millisecond
	f.agent.Configure(func(c *Config) { c.MaxConcurrentTasks = 2 })
	ctx := context.Background()

	for i := range 6 {
		f.createPrompt(t, fmt.Sprintf("bulk-%d", i))
	}

	tasks, err := f.agent.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 6)
	for _, task := range tasks {
		assert.Empty(t, task.Error)
		assert.NotNil(t, task.CompletedAt)
	}
	assert.LessOrEqual(t, f.eval.peak.Load(), int32(2))
}

// Safe apply: content changes, a benchmark verifies the new version,
// and an improvement is kept.
func TestApplySuggestionKeepsImprovement(t *testing.T) {
	f := newFixture(t, 75, 78)
	ctx := context.Background()
	p := f.createPrompt(t, "improving-prompt")
	_, err := f.bench.RunBenchmark(ctx, p.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)

	s := critique.Suggestion{
		ID:              "s-1",
		Description:     "Add output format guidance",
		SuggestedChange: "Always answer in markdown.",
		Confidence:      0.95,
		EstimatedImpact: 3,
	}
	task := &Task{Type: TaskApplySuggestion, PromptID: p.ID, Suggestion: &s}
	result, err := f.agent.dispatch(ctx, task)
	require.NoError(t, err)
	assert.Contains(t, result, "improved")

	updated, err := f.prompts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", updated.Version)
	assert.Contains(t, updated.Content, "Always answer in markdown.")

	snap := f.agent.Snapshot()
	assert.Equal(t, 1, snap.ImprovementsMade)
	assert.InDelta(t, 3, snap.TotalScoreImprovement, 1e-9)
}

// Safe apply, failure path: the new version scores worse, so the agent
// rolls back to the prior content, leaving a fresh version equal to the
// original.
func TestApplySuggestionRevertsWhenWorse(t *testing.T) {
	f := newFixture(t, 75, 73)
	ctx := context.Background()
	p := f.createPrompt(t, "worsening-prompt")
	original := p.Content
	_, err := f.bench.RunBenchmark(ctx, p.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)

	s := critique.Suggestion{
		ID:              "s-1",
		Description:     "Make it terser",
		SuggestedChange: "Be terse.",
		Confidence:      0.92,
	}
	task := &Task{Type: TaskApplySuggestion, PromptID: p.ID, Suggestion: &s}
	result, err := f.agent.dispatch(ctx, task)
	require.NoError(t, err)
	assert.Contains(t, result, "reverted")

	reverted, err := f.prompts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", reverted.Version)
	assert.Equal(t, original, reverted.Content)

	snap := f.agent.Snapshot()
	assert.Zero(t, snap.ImprovementsMade)
	assert.Zero(t, snap.TotalScoreImprovement)
}

func TestRegressionFixRollsBackWithoutSuggestions(t *testing.T) {
	f := newFixture(t, 85, 70, 70)
	ctx := context.Background()
	p := f.createPrompt(t, "rollback-prompt")
	original := p.Content

	_, err := f.bench.RunBenchmark(ctx, p.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)

	content := "A much worse revision."
	_, err = f.prompts.Update(ctx, prompts.UpdateRequest{
		Ref: p.ID, Content: &content, ChangeSummary: "worse", Author: "user-1",
	})
	require.NoError(t, err)
	result, err := f.bench.RunBenchmark(ctx, p.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)
	require.True(t, result.IsRegression)

	// No suggestions clear the confidence bar, so the fallback is a
	// rollback to the better-scoring v1.0.0.
	task := &Task{Type: TaskRegressionFix, PromptID: p.ID}
	out, err := f.agent.dispatch(ctx, task)
	require.NoError(t, err)
	assert.Contains(t, out, "Autonomous rollback: quality regression")

	head, err := f.prompts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", head.Version)
	assert.Equal(t, original, head.Content)

	snap := f.agent.Snapshot()
	assert.Equal(t, 1, snap.RegressionsFixed)
}

func TestProactiveOptimizeNotifiesWhenNotAutoApplying(t *testing.T) {
	f := newFixture(t, 80)
	f.agent.Configure(func(c *Config) { c.AutoApplyHighConfidence = false })
	ctx := context.Background()
	p := f.createPrompt(t, "review-prompt")
	_, err := f.bench.RunBenchmark(ctx, p.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)

	f.critic.analysis = critique.Analysis{Suggestions: []critique.Suggestion{{
		ID:              "s-9",
		Description:     "Add examples",
		SuggestedChange: "<example>...</example>",
		Confidence:      0.97,
		EstimatedImpact: 6,
	}}}

	out, err := f.agent.dispatch(ctx, &Task{Type: TaskProactiveOptimize, PromptID: p.ID})
	require.NoError(t, err)
	assert.Contains(t, out, "review")

	require.Len(t, f.notifier.ofType(notify.TypeSuggestionReady), 1)

	// The prompt is untouched.
	head, err := f.prompts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", head.Version)
}

func TestRunExperimentTask(t *testing.T) {
	f := newFixture(t, 90)
	ctx := context.Background()
	a := f.createPrompt(t, "exp-control")
	b := f.createPrompt(t, "exp-treatment")

	task := &Task{Type: TaskRunExperiment, Experiment: &experiments.CreateRequest{
		Name: "agent-run",
		Variants: []experiments.Variant{
			{Name: "control", PromptID: a.ID, PromptVersion: a.Version, IsControl: true},
			{Name: "treatment", PromptID: b.ID, PromptVersion: b.Version},
		},
	}}
	out, err := f.agent.dispatch(ctx, task)
	require.NoError(t, err)
	assert.Contains(t, out, "started")

	running, err := f.ctrl.List(ctx, experiments.StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
}

func TestCrossPromptLearn(t *testing.T) {
	f := newFixture(t, 95)
	f.agent.Configure(func(c *Config) { c.LearningEnabled = true })
	ctx := context.Background()

	structured := f.createPrompt(t, "structured-prompt")
	content := "# Role\nYou are precise.\n\n1. Read the input.\n2. Answer.\n\nExample: ..."
	_, err := f.prompts.Update(ctx, prompts.UpdateRequest{
		Ref: structured.ID, Content: &content, ChangeSummary: "structure", Author: "user-1",
	})
	require.NoError(t, err)
	_, err = f.bench.RunBenchmark(ctx, structured.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)

	plain := f.createPrompt(t, "plain-prompt")
	_, err = f.bench.RunBenchmark(ctx, plain.ID, "", "", benchmark.RunOptions{})
	require.NoError(t, err)

	out, err := f.agent.crossPromptLearn(ctx)
	require.NoError(t, err)
	assert.Contains(t, out, "top 2 prompts")
	assert.Contains(t, out, "1 use examples")
	assert.Contains(t, out, "1 use step lists")
	assert.Contains(t, out, "1 use section headers")
}

func TestTaskFailureDoesNotAbortCycle(t *testing.T) {
	f := newFixture(t, 95)
	ctx := context.Background()
	p := f.createPrompt(t, "good-prompt")

	f.agent.Submit(&Task{Type: TaskApplySuggestion, PromptID: p.ID}) // no suggestion: fails
	f.agent.Submit(&Task{Type: TaskQualityCheck, PromptID: p.ID, Priority: PriorityLow})

	tasks, err := f.agent.RunCycle(ctx)
	require.NoError(t, err)

	var failed, completed int
	for _, task := range tasks {
		if task.Error != "" {
			failed++
		} else if task.CompletedAt != nil {
			completed++
		}
	}
	assert.Equal(t, 1, failed)
	snap := f.agent.Snapshot()
	assert.Equal(t, 1, snap.TasksFailed)
	assert.GreaterOrEqual(t, completed, 1)
}

func TestConfigureClampsAndReflects(t *testing.T) {
	f := newFixture(t)
	f.agent.Configure(func(c *Config) {
		c.HighConfidenceThreshold = 1.5 // invalid, reset to default
		c.MaxConcurrentTasks = -1       // invalid, reset to default
		c.StaleBenchmarkHours = 48
	})
	cfg := f.agent.Config()
	assert.InDelta(t, 0.9, cfg.HighConfidenceThreshold, 1e-9)
	assert.Equal(t, 5, cfg.MaxConcurrentTasks)
	assert.Equal(t, 48, cfg.StaleBenchmarkHours)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	// The database pool and prompt service own long-lived goroutines;
	// only leaks from the agent itself count.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	assert.Equal(t, StateIdle, f.agent.State())

	require.NoError(t, f.agent.Start())
	assert.Equal(t, StateMonitoring, f.agent.State())
	require.NoError(t, f.agent.Start()) // idempotent

	snap := f.agent.Snapshot()
	assert.Greater(t, snap.UptimeSeconds, 0.0)

	f.agent.Stop()
	assert.Equal(t, StateIdle, f.agent.State())
	f.agent.Stop() // idempotent
}
