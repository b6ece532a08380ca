// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package experiments

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/hermes/pkg/notify"
	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/storage"
	"github.com/teradata-labs/hermes/pkg/types"
)

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
	ctrl     *Controller
	prompts  *prompts.Service
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "hermes.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)

	pstore, err := prompts.NewStore(db)
	require.NoError(t, err)
	psvc, err := prompts.NewService(pstore, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(psvc.Shutdown)

	notifier := &recordingNotifier{}
	ctrl, err := NewController(Config{
		Store:    store,
		Prompts:  psvc,
		Notifier: notifier,
		Logger:   zaptest.NewLogger(t),
		Seed:     1,
	})
	require.NoError(t, err)

	return &fixture{ctrl: ctrl, prompts: psvc, notifier: notifier}
}

func (f *fixture) createPrompt(t *testing.T, slug string) *prompts.Prompt {
	t.Helper()
	p, err := f.prompts.Create(context.Background(), prompts.CreateRequest{
		Slug:    slug,
		Name:    slug,
		Kind:    prompts.KindAgentSystem,
		Content: "You are a helpful assistant named " + slug + ".",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) createExperiment(t *testing.T, req CreateRequest) *Experiment {
	t.Helper()
	if req.Name == "" {
		req.Name = "checkout-copy"
	}
	if req.Variants == nil {
		control := f.createPrompt(t, "control-prompt")
		treatment := f.createPrompt(t, "treatment-prompt")
		req.Variants = []Variant{
			{Name: "control", PromptID: control.ID, PromptVersion: control.Version, IsControl: true},
			{Name: "treatment", PromptID: treatment.ID, PromptVersion: treatment.Version},
		}
	}
	e, err := f.ctrl.Create(context.Background(), req)
	require.NoError(t, err)
	return e
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.createPrompt(t, "v-one")
	p2 := f.createPrompt(t, "v-two")

	_, err := f.ctrl.Create(ctx, CreateRequest{Name: "x", Variants: []Variant{
		{Name: "only", PromptID: p1.ID, IsControl: true},
	}})
	assert.ErrorIs(t, err, types.ErrInvalid)

	// Zero or two controls are both rejected.
	_, err = f.ctrl.Create(ctx, CreateRequest{Name: "x", Variants: []Variant{
		{Name: "a", PromptID: p1.ID},
		{Name: "b", PromptID: p2.ID},
	}})
	assert.ErrorIs(t, err, types.ErrInvalid)
	_, err = f.ctrl.Create(ctx, CreateRequest{Name: "x", Variants: []Variant{
		{Name: "a", PromptID: p1.ID, IsControl: true},
		{Name: "b", PromptID: p2.ID, IsControl: true},
	}})
	assert.ErrorIs(t, err, types.ErrInvalid)

	_, err = f.ctrl.Create(ctx, CreateRequest{
		Name:              "x",
		TrafficPercentage: 120,
		Variants: []Variant{
			{Name: "a", PromptID: p1.ID, IsControl: true},
			{Name: "b", PromptID: p2.ID},
		},
	})
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestCreateNormalizesWeights(t *testing.T) {
	f := newFixture(t)
	p1 := f.createPrompt(t, "w-one")
	p2 := f.createPrompt(t, "w-two")

	e := f.createExperiment(t, CreateRequest{Variants: []Variant{
		{Name: "control", PromptID: p1.ID, Weight: 3, IsControl: true},
		{Name: "treatment", PromptID: p2.ID, Weight: 1},
	}})
	assert.InDelta(t, 0.75, e.Variants[0].Weight, 1e-9)
	assert.InDelta(t, 0.25, e.Variants[1].Weight, 1e-9)

	// All-zero weights become an even split.
	e = f.createExperiment(t, CreateRequest{Name: "even", Variants: []Variant{
		{Name: "control", PromptID: p1.ID, IsControl: true},
		{Name: "treatment", PromptID: p2.ID},
	}})
	assert.InDelta(t, 0.5, e.Variants[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, e.Variants[1].Weight, 1e-9)

	// Creation defaults.
	assert.Equal(t, StatusDraft, e.Status)
	assert.Equal(t, StrategyEqual, e.Strategy)
	assert.EqualValues(t, 100, e.TrafficPercentage)
	assert.Equal(t, 100, e.MinSampleSize)
	assert.InDelta(t, 0.95, e.ConfidenceThreshold, 1e-9)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{})

	// Draft cannot pause or complete.
	_, err := f.ctrl.Pause(ctx, e.ID)
	assert.ErrorIs(t, err, types.ErrInvalid)
	_, err = f.ctrl.StopExperiment(ctx, e.ID, false)
	assert.ErrorIs(t, err, types.ErrInvalid)

	started, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, started.Status)
	require.NotNil(t, started.StartedAt)

	paused, err := f.ctrl.Pause(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	resumed, err := f.ctrl.Resume(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resumed.Status)

	stopped, err := f.ctrl.StopExperiment(ctx, e.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stopped.Status)
	require.NotNil(t, stopped.EndedAt)

	// Completed is terminal.
	_, err = f.ctrl.Resume(ctx, e.ID)
	assert.ErrorIs(t, err, types.ErrInvalid)
	_, err = f.ctrl.Cancel(ctx, e.ID)
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestAssignVariantDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{})
	_, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)

	first, err := f.ctrl.AssignVariant(ctx, e.ID, "u-42")
	require.NoError(t, err)
	require.NotNil(t, first)

	for range 20 {
		again, err := f.ctrl.AssignVariant(ctx, e.ID, "u-42")
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, first.ID, again.ID)
	}

	// Assignment is side-effect-free: no events recorded.
	stats, err := f.ctrl.Stats(ctx, e.ID)
	require.NoError(t, err)
	for _, s := range stats {
		assert.Zero(t, s.Impressions)
	}
}

func TestAssignVariantRespectsStatusAndTraffic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{TrafficPercentage: 50})

	// Draft experiments assign nothing.
	v, err := f.ctrl.AssignVariant(ctx, e.ID, "u-1")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)

	// About half of all users fall outside a 50% traffic slice.
	excluded := 0
	const users = 1000
	for i := range users {
		v, err := f.ctrl.AssignVariant(ctx, e.ID, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		if v == nil {
			excluded++
		}
	}
	assert.InDelta(t, users/2, excluded, users/10)

	// Paused experiments stop assigning.
	_, err = f.ctrl.Pause(ctx, e.ID)
	require.NoError(t, err)
	v, err = f.ctrl.AssignVariant(ctx, e.ID, "u-42")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestWeightedAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.createPrompt(t, "heavy")
	p2 := f.createPrompt(t, "light")
	e := f.createExperiment(t, CreateRequest{
		Strategy: StrategyWeighted,
		Variants: []Variant{
			{Name: "heavy", PromptID: p1.ID, Weight: 0.9, IsControl: true},
			{Name: "light", PromptID: p2.ID, Weight: 0.1},
		},
	})
	_, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)

	heavy := 0
	const users = 2000
	for i := range users {
		v, err := f.ctrl.AssignVariant(ctx, e.ID, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		require.NotNil(t, v)
		if v.Name == "heavy" {
			heavy++
		}
	}
	assert.InDelta(t, 0.9, float64(heavy)/users, 0.05)
}

func TestBanditStrategies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := func(e *Experiment, control, treatment VariantStats) {
		ae, ok := f.ctrl.active.Get(e.ID)
		require.True(t, ok)
		ae.mu.Lock()
		*ae.stats[e.Variants[0].ID] = control
		*ae.stats[e.Variants[1].ID] = treatment
		ae.mu.Unlock()
	}

	t.Run("epsilon greedy exploits best rate", func(t *testing.T) {
		p1 := f.createPrompt(t, "eg-one")
		p2 := f.createPrompt(t, "eg-two")
		e := f.createExperiment(t, CreateRequest{
			Name:     "eg",
			Strategy: StrategyEpsilonGreedy,
			Epsilon:  0.05,
			Variants: []Variant{
				{Name: "control", PromptID: p1.ID, IsControl: true},
				{Name: "treatment", PromptID: p2.ID},
			},
		})
		_, err := f.ctrl.Start(ctx, e.ID)
		require.NoError(t, err)
		seed(e,
			VariantStats{Impressions: 1000, Conversions: 100},
			VariantStats{Impressions: 1000, Conversions: 400})

		treatmentPicks := 0
		for i := range 200 {
			v, err := f.ctrl.AssignVariant(ctx, e.ID, fmt.Sprintf("user-%d", i))
			require.NoError(t, err)
			require.NotNil(t, v)
			if v.Name == "treatment" {
				treatmentPicks++
			}
		}
		assert.Greater(t, treatmentPicks, 160)
	})

	t.Run("ucb tries unexplored variants first", func(t *testing.T) {
		p1 := f.createPrompt(t, "ucb-one")
		p2 := f.createPrompt(t, "ucb-two")
		e := f.createExperiment(t, CreateRequest{
			Name:     "ucb",
			Strategy: StrategyUCB,
			Variants: []Variant{
				{Name: "control", PromptID: p1.ID, IsControl: true},
				{Name: "treatment", PromptID: p2.ID},
			},
		})
		_, err := f.ctrl.Start(ctx, e.ID)
		require.NoError(t, err)
		seed(e,
			VariantStats{Impressions: 500, Conversions: 250},
			VariantStats{})

		v, err := f.ctrl.AssignVariant(ctx, e.ID, "u-1")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, "treatment", v.Name)

		// With both explored, the wide confidence bound on the thin arm
		// still wins despite the lower observed rate.
		seed(e,
			VariantStats{Impressions: 10000, Conversions: 5000},
			VariantStats{Impressions: 10, Conversions: 3})
		v, err = f.ctrl.AssignVariant(ctx, e.ID, "u-2")
		require.NoError(t, err)
		assert.Equal(t, "treatment", v.Name)
	})

	t.Run("thompson prefers the stronger posterior", func(t *testing.T) {
		p1 := f.createPrompt(t, "ts-one")
		p2 := f.createPrompt(t, "ts-two")
		e := f.createExperiment(t, CreateRequest{
			Name:     "ts",
			Strategy: StrategyThompson,
			Variants: []Variant{
				{Name: "control", PromptID: p1.ID, IsControl: true},
				{Name: "treatment", PromptID: p2.ID},
			},
		})
		_, err := f.ctrl.Start(ctx, e.ID)
		require.NoError(t, err)
		seed(e,
			VariantStats{Impressions: 1000, Conversions: 10},
			VariantStats{Impressions: 1000, Conversions: 500})

		treatmentPicks := 0
		for i := range 50 {
			v, err := f.ctrl.AssignVariant(ctx, e.ID, fmt.Sprintf("user-%d", i))
			require.NoError(t, err)
			require.NotNil(t, v)
			if v.Name == "treatment" {
				treatmentPicks++
			}
		}
		assert.Greater(t, treatmentPicks, 45)
	})
}

func TestRecordAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{Metrics: []Metric{
		{ID: "m-latency", Name: "latency", Type: MetricLatency, Goal: GoalMinimize},
		{ID: "m-rating", Name: "rating", Type: MetricRating, Goal: GoalMaximize},
	}})
	_, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)
	control := e.Variants[0]

	for range 5 {
		require.NoError(t, f.ctrl.RecordImpression(ctx, e.ID, control.ID, "u-1"))
	}
	require.NoError(t, f.ctrl.RecordConversion(ctx, e.ID, control.ID, "u-1", 9.99))
	require.NoError(t, f.ctrl.RecordMetric(ctx, e.ID, control.ID, "u-1", "m-latency", 120))
	require.NoError(t, f.ctrl.RecordMetric(ctx, e.ID, control.ID, "u-1", "m-rating", 4))

	stats, err := f.ctrl.Stats(ctx, e.ID)
	require.NoError(t, err)
	s := stats[control.ID]
	assert.Equal(t, 5, s.Impressions)
	assert.Equal(t, 1, s.Conversions)
	assert.InDelta(t, 13.99, s.TotalValue, 1e-9) // conversion value + rating
	assert.InDelta(t, 120, s.TotalLatency, 1e-9)
	assert.InDelta(t, 0.2, s.ConversionRate(), 1e-9)

	// Unknown variants are rejected.
	err = f.ctrl.RecordImpression(ctx, e.ID, "nope", "u-1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Tallies survive a cache eviction: rebuilt from the event stream.
	f.ctrl.active.Delete(e.ID)
	stats, err = f.ctrl.Stats(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stats[control.ID].Impressions)
	assert.Equal(t, 1, stats[control.ID].Conversions)
}

// Significance check over a 100/1000 control against a 150/1000
// treatment: a ~11.4 chi-square statistic, well past 95% confidence.
func TestCheckExperimentSignificance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{})
	_, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)

	ae, ok := f.ctrl.active.Get(e.ID)
	require.True(t, ok)
	ae.mu.Lock()
	*ae.stats[e.Variants[0].ID] = VariantStats{Impressions: 1000, Conversions: 100}
	*ae.stats[e.Variants[1].ID] = VariantStats{Impressions: 1000, Conversions: 150}
	ae.mu.Unlock()

	analysis, err := f.ctrl.CheckExperiment(ctx, e.ID)
	require.NoError(t, err)

	assert.Equal(t, 2000, analysis.TotalImpressions)
	assert.Equal(t, RecommendPromoteWinner, analysis.Recommendation)
	assert.Equal(t, e.Variants[1].ID, analysis.WinnerVariantID)

	var treatment VariantAnalysis
	for _, va := range analysis.Variants {
		if !va.IsControl {
			treatment = va
		}
	}
	assert.True(t, treatment.Significant)
	assert.Greater(t, treatment.Confidence, 0.99)
	assert.InDelta(t, 0.5, treatment.Lift, 1e-9)
}

func TestCheckExperimentInsufficientSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{MinSampleSize: 100})
	_, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.RecordImpression(ctx, e.ID, e.Variants[0].ID, "u-1"))
	require.NoError(t, f.ctrl.RecordImpression(ctx, e.ID, e.Variants[1].ID, "u-2"))

	analysis, err := f.ctrl.CheckExperiment(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, RecommendInsufficientSamples, analysis.Recommendation)
	assert.Empty(t, analysis.WinnerVariantID)
}

func TestCheckExperimentNoSignificantDifference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{})
	_, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)

	ae, ok := f.ctrl.active.Get(e.ID)
	require.True(t, ok)
	ae.mu.Lock()
	*ae.stats[e.Variants[0].ID] = VariantStats{Impressions: 1000, Conversions: 100}
	*ae.stats[e.Variants[1].ID] = VariantStats{Impressions: 1000, Conversions: 103}
	ae.mu.Unlock()

	analysis, err := f.ctrl.CheckExperiment(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, RecommendContinue, analysis.Recommendation)
	assert.Empty(t, analysis.WinnerVariantID)
}

func TestAutoPromoteDeploysWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{AutoPromote: true})
	_, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)

	ae, ok := f.ctrl.active.Get(e.ID)
	require.True(t, ok)
	ae.mu.Lock()
	*ae.stats[e.Variants[0].ID] = VariantStats{Impressions: 1000, Conversions: 100}
	*ae.stats[e.Variants[1].ID] = VariantStats{Impressions: 1000, Conversions: 150}
	winner := ae.exp.Variants[1]
	ae.mu.Unlock()

	analysis, err := f.ctrl.CheckExperiment(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, RecommendPromoteWinner, analysis.Recommendation)

	// The winning variant's prompt is deployed and the experiment is
	// completed with a frozen result.
	p, err := f.prompts.Get(ctx, winner.PromptID)
	require.NoError(t, err)
	assert.Equal(t, prompts.StateDeployed, p.State)

	final, err := f.ctrl.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, winner.ID, final.WinnerVariantID)
	require.NotNil(t, final.Result)
	assert.Equal(t, winner.ID, final.Result.WinnerVariantID)

	assert.Len(t, f.notifier.ofType(notify.TypeDeploymentStarted), 1)
	assert.Len(t, f.notifier.ofType(notify.TypeDeploymentComplete), 1)
	assert.Empty(t, f.notifier.ofType(notify.TypeDeploymentFailed))
}

func TestStopExperimentFreezesResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExperiment(t, CreateRequest{})
	_, err := f.ctrl.Start(ctx, e.ID)
	require.NoError(t, err)

	for i := range 10 {
		require.NoError(t, f.ctrl.RecordImpression(ctx, e.ID, e.Variants[0].ID, fmt.Sprintf("u-%d", i)))
	}

	stopped, err := f.ctrl.StopExperiment(ctx, e.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stopped.Status)
	require.NotNil(t, stopped.Result)
	assert.Equal(t, 10, stopped.Result.TotalEvents)
	assert.Len(t, stopped.Result.Variants, 2)

	// Terminal experiments reject further events.
	err = f.ctrl.RecordImpression(ctx, e.ID, e.Variants[0].ID, "u-x")
	assert.ErrorIs(t, err, types.ErrInvalid)

	// The stored head round-trips the result.
	reloaded, err := f.ctrl.Get(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Result)
	assert.Equal(t, 10, reloaded.Result.TotalEvents)
}

func TestGetUnknownExperiment(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
