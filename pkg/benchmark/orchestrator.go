// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/hermes/internal/pubsub"
	"github.com/teradata-labs/hermes/pkg/critique"
	"github.com/teradata-labs/hermes/pkg/evaluator"
	"github.com/teradata-labs/hermes/pkg/notify"
	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/types"
)

// regressionWindow is how many prior results feed the trailing mean.
const regressionWindow = 5

// Config wires the orchestrator's dependencies.
type Config struct {
	Prompts *prompts.Service
	Store   *Store
	Suites  *Suites

	// Evaluator is the remote client; nil means every run is simulated.
	Evaluator evaluator.Client

	// Critique is the self-critique sidecar; nil disables RunSelfCritique.
	Critique critique.Client

	// Notifier receives benchmark-complete and benchmark-regression
	// notifications. Defaults to the nop notifier.
	Notifier notify.Notifier

	// RegressionPct is the trailing-mean drop (percent) that flags a
	// regression. Default 5.
	RegressionPct float64

	// EvaluatorTimeout bounds a single evaluator call. Default 60s.
	EvaluatorTimeout time.Duration

	Logger *zap.Logger
}

// Orchestrator runs benchmarks and derives their baseline/regression
// fields. It also owns the auto-benchmark subscription on the prompt
// store's change events.
type Orchestrator struct {
	prompts       *prompts.Service
	store         *Store
	suites        *Suites
	evaluator     evaluator.Client
	simulator     *evaluator.Simulator
	critique      critique.Client
	notifier      notify.Notifier
	regressionPct float64
	timeout       time.Duration
	logger        *zap.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewOrchestrator creates a benchmark orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompt service is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("benchmark store is required")
	}
	if cfg.Suites == nil {
		cfg.Suites = NewSuites()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NopNotifier{}
	}
	if cfg.RegressionPct <= 0 {
		cfg.RegressionPct = 5
	}
	if cfg.EvaluatorTimeout <= 0 {
		cfg.EvaluatorTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Orchestrator{
		prompts:       cfg.Prompts,
		store:         cfg.Store,
		suites:        cfg.Suites,
		evaluator:     cfg.Evaluator,
		simulator:     evaluator.NewSimulator(),
		critique:      cfg.Critique,
		notifier:      cfg.Notifier,
		regressionPct: cfg.RegressionPct,
		timeout:       cfg.EvaluatorTimeout,
		logger:        cfg.Logger,
		stopCh:        make(chan struct{}),
	}, nil
}

// Suites exposes the suite registry.
func (o *Orchestrator) Suites() *Suites {
	return o.suites
}

// RunOptions tune a single benchmark run.
type RunOptions struct {
	// Executor identifies who requested the run (user id, "agent",
	// "auto-benchmark").
	Executor string

	// Notify sends a benchmark-complete notification on success.
	// Regression notifications are always sent.
	Notify bool

	// EnforceGate returns an ErrPolicy alongside the persisted result
	// when the run fails the suite's gate.
	EnforceGate bool
}

// RunBenchmark benchmarks the prompt's head against the suite.
//
// Evaluator failures never raise: a degraded evaluator falls back to
// the simulator, an evaluator-reported error persists as a result with
// score 0 and the error text. Only persistence failures surface.
func (o *Orchestrator) RunBenchmark(ctx context.Context, promptRef, suiteID, modelID string, opts RunOptions) (*Result, error) {
	p, err := o.prompts.Get(ctx, promptRef)
	if err != nil {
		return nil, err
	}

	if suiteID == "" {
		suiteID = SuiteForKind(p.Kind)
	}
	suite, err := o.suites.Get(suiteID)
	if err != nil {
		return nil, err
	}
	if modelID == "" {
		modelID = suite.DefaultModel
	}

	req := &evaluator.RunRequest{
		PromptContent:  p.Content,
		PromptID:       p.ID,
		PromptVersion:  p.Version,
		ContentHash:    p.ContentHash,
		SuiteID:        suite.ID,
		ModelID:        modelID,
		Dimensions:     suite.Dimensions,
		TimeoutSeconds: int(o.timeout.Seconds()),
		GateThreshold:  suite.GateThreshold,
	}

	resp, raw := o.evaluate(ctx, req)
	result := o.deriveResult(ctx, p, suite, modelID, opts.Executor, resp)

	if err := o.store.Insert(ctx, result, raw); err != nil {
		return nil, err
	}

	// The cache is advisory; a failed run must not become the next
	// baseline, so error results leave it alone.
	if result.Error == "" {
		if err := o.prompts.UpdateScoreCache(ctx, p.ID, result.OverallScore, result.ExecutedAt); err != nil {
			o.logger.Warn("Failed to update score cache",
				zap.String("prompt_id", p.ID),
				zap.Error(err))
		}
	}

	o.logger.Info("Benchmark complete",
		zap.String("prompt_id", p.ID),
		zap.String("suite", suite.ID),
		zap.Float64("overall", result.OverallScore),
		zap.Bool("gate_passed", result.GatePassed),
		zap.Bool("regression", result.IsRegression))

	o.sendNotifications(ctx, p, result, opts)

	if opts.EnforceGate && !result.GatePassed {
		return result, types.Policyf("prompt %q scored %.1f, below gate %.0f",
			p.Slug, result.OverallScore, suite.GateThreshold*100)
	}
	return result, nil
}

// evaluate calls the remote evaluator, falling back to the simulator
// when no client is configured or the remote is degraded.
func (o *Orchestrator) evaluate(ctx context.Context, req *evaluator.RunRequest) (*evaluator.RunResponse, []byte) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	client := o.evaluator
	if client == nil {
		client = o.simulator
	}

	resp, err := client.Run(ctx, req)
	if err != nil {
		if errors.Is(err, types.ErrDegraded) {
			o.logger.Warn("Evaluator degraded, simulating",
				zap.String("prompt_id", req.PromptID),
				zap.Error(err))
			resp, _ = o.simulator.Run(ctx, req)
		} else {
			resp = &evaluator.RunResponse{Error: err.Error(), Environment: types.EnvProduction}
		}
	}

	raw, _ := json.Marshal(resp)
	return resp, raw
}

// deriveResult computes the derived fields: baseline snapshot, delta,
// gate verdict, and the trailing-mean regression flag.
func (o *Orchestrator) deriveResult(ctx context.Context, p *prompts.Prompt, suite *Suite, modelID, executor string, resp *evaluator.RunResponse) *Result {
	result := &Result{
		ID:              uuid.New().String(),
		PromptID:        p.ID,
		PromptVersion:   p.Version,
		ContentHash:     p.ContentHash,
		SuiteID:         suite.ID,
		OverallScore:    resp.OverallScore,
		DimensionScores: resp.DimensionScores,
		ModelID:         modelID,
		ModelVersion:    resp.ModelVersion,
		ExecutionTimeMs: resp.ExecutionTimeMs,
		TokenUsage:      resp.TokenUsage,
		GateThreshold:   suite.GateThreshold,
		ExecutedAt:      time.Now().UTC(),
		ExecutorID:      executor,
		Environment:     resp.Environment,
		Error:           resp.Error,
	}
	if result.Environment == "" {
		result.Environment = types.EnvProduction
	}

	if resp.Error != "" {
		result.OverallScore = 0
		result.GatePassed = false
		return result
	}

	if p.LastBenchmarkScore != nil {
		baseline := *p.LastBenchmarkScore
		delta := result.OverallScore - baseline
		result.BaselineScore = &baseline
		result.Delta = &delta
	}
	result.GatePassed = result.OverallScore >= suite.GateThreshold*100

	// Trailing mean over the last runs, simulation excluded.
	recent, err := o.store.Recent(ctx, p.ID, regressionWindow, true)
	if err != nil {
		o.logger.Warn("Failed to load regression window", zap.Error(err))
		return result
	}
	if len(recent) > 0 {
		var sum float64
		for _, r := range recent {
			sum += r.OverallScore
		}
		mean := sum / float64(len(recent))
		result.IsRegression = result.OverallScore < mean*(1-o.regressionPct/100)
	}
	return result
}

func (o *Orchestrator) sendNotifications(ctx context.Context, p *prompts.Prompt, result *Result, opts RunOptions) {
	if result.IsRegression {
		o.notifier.Send(ctx, notify.Notification{
			Type:     notify.TypeBenchmarkRegression,
			Priority: notify.PriorityHigh,
			Body:     fmt.Sprintf("Prompt %q v%s regressed to %.1f", p.Slug, result.PromptVersion, result.OverallScore),
			Data: map[string]any{
				"prompt_id": p.ID,
				"result_id": result.ID,
				"score":     result.OverallScore,
			},
		})
	}
	if opts.Notify && result.Error == "" {
		o.notifier.Send(ctx, notify.Notification{
			Type: notify.TypeBenchmarkComplete,
			Body: fmt.Sprintf("Prompt %q v%s scored %.1f on suite %s", p.Slug, result.PromptVersion, result.OverallScore, result.SuiteID),
			Data: map[string]any{
				"prompt_id": p.ID,
				"result_id": result.ID,
				"score":     result.OverallScore,
			},
		})
	}
}

// RunBatch benchmarks several prompts with bounded parallelism. A
// failed entry is logged and omitted; the batch never aborts.
func (o *Orchestrator) RunBatch(ctx context.Context, promptRefs []string, suiteID, modelID string, parallel int) []*Result {
	if parallel <= 0 {
		parallel = 4
	}

	var (
		mu      sync.Mutex
		results []*Result
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for _, ref := range promptRefs {
		ref := ref
		g.Go(func() error {
			result, err := o.RunBenchmark(ctx, ref, suiteID, modelID, RunOptions{Executor: "batch"})
			if err != nil {
				o.logger.Warn("Batch benchmark entry failed",
					zap.String("prompt", ref),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// TriggerAutoBenchmark benchmarks a prompt after a content change,
// unless the prompt opted out via metadata autoBenchmark=false. The
// suite is chosen by prompt kind.
func (o *Orchestrator) TriggerAutoBenchmark(ctx context.Context, promptID, changeSummary, author string) (*Result, error) {
	p, err := o.prompts.Get(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if !p.AutoBenchmarkEnabled() {
		o.logger.Debug("Auto-benchmark disabled for prompt",
			zap.String("prompt_id", p.ID),
			zap.String("slug", p.Slug))
		return nil, nil
	}

	executor := author
	if executor == "" {
		executor = "auto-benchmark"
	}
	o.logger.Info("Auto-benchmark triggered",
		zap.String("prompt_id", p.ID),
		zap.String("change", changeSummary))
	return o.RunBenchmark(ctx, p.ID, SuiteForKind(p.Kind), "", RunOptions{Executor: executor})
}

// History returns the newest limit results for a prompt.
func (o *Orchestrator) History(ctx context.Context, promptRef string, limit int) ([]*Result, error) {
	p, err := o.prompts.Get(ctx, promptRef)
	if err != nil {
		return nil, err
	}
	return o.store.Recent(ctx, p.ID, limit, false)
}

// RunSelfCritique proxies the critique sidecar for a prompt's head.
func (o *Orchestrator) RunSelfCritique(ctx context.Context, promptRef string, depth critique.Depth) (*critique.Analysis, error) {
	if o.critique == nil {
		return nil, types.Policyf("self-critique service is not configured")
	}
	p, err := o.prompts.Get(ctx, promptRef)
	if err != nil {
		return nil, err
	}
	return o.critique.Analyze(ctx, &critique.AnalyzeRequest{
		PromptContent: p.Content,
		PromptID:      p.ID,
		PromptVersion: p.Version,
		PromptType:    string(p.Kind),
		AnalysisDepth: depth,
	})
}

// ApplySuggestion proxies the critique sidecar's content rewrite.
func (o *Orchestrator) ApplySuggestion(ctx context.Context, content string, s critique.Suggestion) (string, error) {
	if o.critique == nil {
		return "", types.Policyf("self-critique service is not configured")
	}
	return o.critique.ApplySuggestion(ctx, content, s)
}

// Start subscribes to the prompt store's change events: created and
// updated prompts are auto-benchmarked, hard-deleted prompts have their
// results cascaded away.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	events, cancel := o.prompts.Subscribe(64)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		for {
			select {
			case <-o.stopCh:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				o.handleEvent(ev)
			}
		}
	}()
}

func (o *Orchestrator) handleEvent(ev pubsub.Event[prompts.ChangeEvent]) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*o.timeout)
	defer cancel()

	switch ev.Type {
	case pubsub.CreatedEvent, pubsub.UpdatedEvent:
		if _, err := o.TriggerAutoBenchmark(ctx, ev.Payload.PromptID, ev.Payload.ChangeSummary, ev.Payload.Author); err != nil {
			o.logger.Warn("Auto-benchmark failed",
				zap.String("prompt_id", ev.Payload.PromptID),
				zap.Error(err))
		}
	case pubsub.DeletedEvent:
		// Soft deletes archive the prompt but keep its history; only
		// cascade when the row is really gone.
		if _, err := o.prompts.Get(ctx, ev.Payload.PromptID); !errors.Is(err, types.ErrNotFound) {
			return
		}
		if err := o.store.DeleteForPrompt(ctx, ev.Payload.PromptID); err != nil {
			o.logger.Warn("Failed to cascade benchmark results",
				zap.String("prompt_id", ev.Payload.PromptID),
				zap.Error(err))
		}
	}
}

// Stop halts the change-event subscription and waits for it to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()
	o.stopCh = make(chan struct{})
}
