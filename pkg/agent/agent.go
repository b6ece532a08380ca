// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent is the autonomous improvement loop: it periodically
// inspects the prompt inventory, benchmarks stale prompts, repairs
// regressions, and applies high-confidence critique suggestions with a
// benchmark-verified revert path.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/hermes/pkg/benchmark"
	"github.com/teradata-labs/hermes/pkg/experiments"
	"github.com/teradata-labs/hermes/pkg/gates"
	"github.com/teradata-labs/hermes/pkg/notify"
	"github.com/teradata-labs/hermes/pkg/prompts"
)

// State is the agent's lifecycle phase.
type State string

// Agent states. The loop cycles monitoring → analyzing → improving →
// sleeping while running; idle means stopped.
const (
	StateIdle       State = "idle"
	StateMonitoring State = "monitoring"
	StateAnalyzing  State = "analyzing"
	StateImproving  State = "improving"
	StateSleeping   State = "sleeping"
)

// stopGrace bounds how long Stop waits for in-flight cycles.
const stopGrace = 5 * time.Second

// historyLimit caps the retained completed-task list.
const historyLimit = 100

// proactiveScoreFloor is the cached score below which a prompt gets a
// proactive-optimize task.
const proactiveScoreFloor = 90

// Options wires the agent's dependencies.
type Options struct {
	Prompts     *prompts.Service
	Benchmarks  *benchmark.Orchestrator
	Gates       *gates.Evaluator          // nil for the default pipeline
	Experiments *experiments.Controller   // nil disables experiment tasks
	Notifier    notify.Notifier           // nil for NopNotifier
	Config      *Config                   // nil for DefaultConfig
	Registry    prometheus.Registerer     // nil for a private registry
	Logger      *zap.Logger
}

// Agent runs the improvement loop.
type Agent struct {
	prompts     *prompts.Service
	bench       *benchmark.Orchestrator
	gates       *gates.Evaluator
	experiments *experiments.Controller
	notifier    notify.Notifier
	logger      *zap.Logger
	metrics     *Metrics

	cfgMu sync.RWMutex
	cfg   Config

	mu          sync.Mutex
	state       State
	running     bool
	startedAt   time.Time
	lastCycleAt *time.Time
	pending     []*Task
	history     []*Task
	queueDepth  int

	tasksCompleted        int
	tasksFailed           int
	improvementsMade      int
	regressionsFixed      int
	totalScoreImprovement float64

	cron    *cron.Cron
	loopCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an improvement agent.
func New(opts Options) (*Agent, error) {
	if opts.Prompts == nil {
		return nil, fmt.Errorf("prompt service is required")
	}
	if opts.Benchmarks == nil {
		return nil, fmt.Errorf("benchmark orchestrator is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
		cfg.normalise()
	}
	gateEval := opts.Gates
	if gateEval == nil {
		gateEval = gates.NewEvaluator(nil)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &Agent{
		prompts:     opts.Prompts,
		bench:       opts.Benchmarks,
		gates:       gateEval,
		experiments: opts.Experiments,
		notifier:    notifier,
		logger:      opts.Logger.Named("agent"),
		metrics:     NewMetrics(registry),
		cfg:         cfg,
		state:       StateIdle,
	}, nil
}

// Config returns a snapshot of the current settings.
func (a *Agent) Config() Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// Configure mutates the settings in place. A changed cycle interval is
// rescheduled live.
func (a *Agent) Configure(fn func(*Config)) {
	a.cfgMu.Lock()
	before := a.cfg.CycleIntervalMinutes
	fn(&a.cfg)
	a.cfg.normalise()
	after := a.cfg.CycleIntervalMinutes
	a.cfgMu.Unlock()

	if before != after {
		a.reschedule()
	}
}

// Start begins the improvement loop. An initial cycle runs on the
// first cron tick, not immediately.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.loopCtx = ctx
	a.cancel = cancel
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(a.cronSpec(), func() { a.scheduledCycle(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule improvement cycle: %w", err)
	}
	a.cron.Start()
	a.running = true
	a.state = StateMonitoring
	a.startedAt = time.Now()
	a.logger.Info("improvement agent started",
		zap.Int("cycle_interval_minutes", a.Config().CycleIntervalMinutes))
	return nil
}

// Stop halts the loop, waiting up to the grace period for the current
// cycle.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	a.cancel()
	cronCtx := c.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(stopGrace):
		a.logger.Warn("agent stop grace period elapsed with tasks in flight")
	}
	a.wg.Wait()

	a.mu.Lock()
	a.state = StateIdle
	a.mu.Unlock()
	a.logger.Info("improvement agent stopped")
}

func (a *Agent) cronSpec() string {
	return fmt.Sprintf("@every %dm", a.Config().CycleIntervalMinutes)
}

// reschedule swaps the cron entry for the current interval.
func (a *Agent) reschedule() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.cron == nil {
		return
	}
	for _, entry := range a.cron.Entries() {
		a.cron.Remove(entry.ID)
	}
	ctx := a.loopCtx
	_, err := a.cron.AddFunc(a.cronSpec(), func() { a.scheduledCycle(ctx) })
	if err != nil {
		a.logger.Error("failed to reschedule improvement cycle", zap.Error(err))
	}
}

func (a *Agent) scheduledCycle(ctx context.Context) {
	a.wg.Add(1)
	defer a.wg.Done()
	if ctx.Err() != nil {
		return
	}
	if _, err := a.RunCycle(ctx); err != nil {
		a.logger.Error("improvement cycle failed", zap.Error(err))
	}
}

// Submit queues a task for the next cycle. Used for apply-suggestion
// and run-experiment requests arriving from outside the discovery
// loop.
func (a *Agent) Submit(t *Task) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = PriorityHigh
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	a.mu.Lock()
	a.pending = append(a.pending, t)
	a.mu.Unlock()
}

// RunCycle performs one discover → prioritise → execute pass and
// returns the tasks it ran. Safe to call directly; the cron loop calls
// it on schedule.
func (a *Agent) RunCycle(ctx context.Context) ([]*Task, error) {
	a.setState(StateMonitoring)
	defer a.setState(StateSleeping)

	a.setState(StateAnalyzing)
	tasks, err := a.discover(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := rank(tasks[i].Priority), rank(tasks[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	a.mu.Lock()
	a.queueDepth = len(tasks)
	a.mu.Unlock()
	a.metrics.queueDepth.Set(float64(len(tasks)))

	a.setState(StateImproving)
	a.execute(ctx, tasks)

	a.metrics.queueDepth.Set(0)
	now := time.Now()
	a.mu.Lock()
	a.queueDepth = 0
	a.lastCycleAt = &now
	a.mu.Unlock()

	a.sweepExperiments(ctx)

	a.logger.Info("improvement cycle complete", zap.Int("tasks", len(tasks)))
	return tasks, nil
}

func rank(p Priority) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// discover inspects the prompt inventory and emits one task per
// (type, prompt) finding, plus any externally submitted tasks.
func (a *Agent) discover(ctx context.Context) ([]*Task, error) {
	cfg := a.Config()

	page, err := a.prompts.List(ctx, prompts.Filter{Limit: cfg.DiscoveryLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}

	staleAge := time.Duration(cfg.StaleBenchmarkHours) * time.Hour
	now := time.Now()

	var tasks []*Task
	seen := make(map[string]bool)
	add := func(t *Task) {
		key := string(t.Type) + "|" + t.PromptID
		if seen[key] {
			return
		}
		seen[key] = true
		t.ID = uuid.NewString()
		t.CreatedAt = now
		tasks = append(tasks, t)
	}

	for _, p := range page.Prompts {
		if p.State == prompts.StateArchived {
			continue
		}

		latest, err := a.bench.History(ctx, p.ID, 1)
		if err != nil {
			a.logger.Warn("failed to read benchmark history",
				zap.String("prompt", p.ID), zap.Error(err))
			continue
		}
		if len(latest) > 0 && latest[0].IsRegression {
			add(&Task{
				Type:     TaskRegressionFix,
				Priority: PriorityCritical,
				PromptID: p.ID,
				Reason:   fmt.Sprintf("latest benchmark scored %.1f, flagged as regression", latest[0].OverallScore),
			})
		}
		if p.LastBenchmarkAt == nil || now.Sub(*p.LastBenchmarkAt) > staleAge {
			add(&Task{
				Type:     TaskBenchmarkStale,
				Priority: PriorityLow,
				PromptID: p.ID,
				Reason:   fmt.Sprintf("no benchmark in the last %dh", cfg.StaleBenchmarkHours),
			})
		}
		if p.LastBenchmarkScore != nil && *p.LastBenchmarkScore < proactiveScoreFloor {
			add(&Task{
				Type:     TaskProactiveOptimize,
				Priority: PriorityMedium,
				PromptID: p.ID,
				Reason:   fmt.Sprintf("cached score %.1f below %d", *p.LastBenchmarkScore, proactiveScoreFloor),
			})
		}
	}

	if cfg.LearningEnabled {
		add(&Task{Type: TaskCrossPromptLearn, Priority: PriorityLow})
	}

	a.mu.Lock()
	submitted := a.pending
	a.pending = nil
	a.mu.Unlock()
	for _, t := range submitted {
		key := string(t.Type) + "|" + t.PromptID
		if !seen[key] {
			seen[key] = true
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// execute runs tasks concurrently, bounded by MaxConcurrentTasks. A
// failing task is recorded and never aborts the cycle.
func (a *Agent) execute(ctx context.Context, tasks []*Task) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Config().MaxConcurrentTasks)
	for _, t := range tasks {
		g.Go(func() error {
			a.runTask(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Agent) runTask(ctx context.Context, t *Task) {
	start := time.Now()
	t.StartedAt = &start

	result, err := a.dispatch(ctx, t)
	done := time.Now()
	t.CompletedAt = &done
	t.Result = result
	if err != nil {
		t.Error = err.Error()
	}
	a.metrics.observeTask(t, done.Sub(start))

	a.mu.Lock()
	if err != nil {
		a.tasksFailed++
	} else {
		a.tasksCompleted++
	}
	a.history = append(a.history, t)
	if len(a.history) > historyLimit {
		a.history = a.history[len(a.history)-historyLimit:]
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Warn("task failed",
			zap.String("type", string(t.Type)),
			zap.String("prompt", t.PromptID),
			zap.Error(err))
		return
	}
	a.logger.Debug("task complete",
		zap.String("type", string(t.Type)),
		zap.String("prompt", t.PromptID),
		zap.String("result", result))
}

func (a *Agent) sweepExperiments(ctx context.Context) {
	if a.experiments == nil {
		return
	}
	analyses, err := a.experiments.Sweep(ctx)
	if err != nil {
		a.logger.Warn("experiment sweep failed", zap.Error(err))
		return
	}
	for _, an := range analyses {
		a.logger.Debug("experiment checked",
			zap.String("experiment", an.ExperimentID),
			zap.String("recommendation", string(an.Recommendation)))
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	if a.state != StateIdle || s == StateMonitoring {
		a.state = s
	}
	a.mu.Unlock()
}

// State returns the current lifecycle phase.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns the most recent completed tasks, newest last.
func (a *Agent) History() []*Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Task, len(a.history))
	copy(out, a.history)
	return out
}

// Snapshot returns a point-in-time copy of the agent's counters.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		State:                 a.state,
		TasksCompleted:        a.tasksCompleted,
		TasksFailed:           a.tasksFailed,
		ImprovementsMade:      a.improvementsMade,
		RegressionsFixed:      a.regressionsFixed,
		TotalScoreImprovement: a.totalScoreImprovement,
		QueueDepth:            a.queueDepth,
		LastCycleAt:           a.lastCycleAt,
	}
	if a.running {
		s.UptimeSeconds = time.Since(a.startedAt).Seconds()
	}
	return s
}
