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

package experiments

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/hermes/internal/csync"
	"github.com/teradata-labs/hermes/pkg/notify"
	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/types"
)

// Creation defaults.
const (
	defaultTrafficPercentage   = 100
	defaultMinSampleSize       = 100
	defaultMaxDurationDays     = 30
	defaultConfidenceThreshold = 0.95
	defaultEpsilon             = 0.1
	defaultUCBConstant         = 2
)

// validTransitions maps each status to the statuses it may move to.
var validTransitions = map[Status][]Status{
	StatusDraft:     {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Config wires the controller's dependencies.
type Config struct {
	Store    *Store
	Prompts  *prompts.Service // winner promotion; nil disables auto-promote
	Notifier notify.Notifier  // defaults to NopNotifier
	Logger   *zap.Logger
	Seed     int64 // bandit RNG seed, 0 for time-based
}

// Controller creates, runs, and analyses experiments. Running
// experiments are cached with their in-memory statistics; event
// recording updates both the store and the cache.
type Controller struct {
	store    *Store
	prompts  *prompts.Service
	notifier notify.Notifier
	logger   *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	active *csync.Map[string, *activeExperiment]
	now    func() time.Time
}

// activeExperiment pairs a cached head with its running tallies. The
// mutex covers both, so statistics reads always see a consistent
// snapshot.
type activeExperiment struct {
	mu    sync.Mutex
	exp   *Experiment
	stats map[string]*VariantStats
}

// NewController creates an experiment controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Controller{
		store:    cfg.Store,
		prompts:  cfg.Prompts,
		notifier: notifier,
		logger:   cfg.Logger.Named("experiments"),
		// #nosec G404 -- A/B testing statistical distribution doesn't need crypto randomness
		rng:    rand.New(rand.NewSource(seed)),
		active: csync.NewMap[string, *activeExperiment](),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateRequest holds the fields for a new experiment.
type CreateRequest struct {
	Name                string
	Description         string
	Variants            []Variant
	Metrics             []Metric
	Strategy            Strategy
	Epsilon             float64
	UCBConstant         float64
	TrafficPercentage   float64
	MinSampleSize       int
	MaxDurationDays     int
	ConfidenceThreshold float64
	AutoPromote         bool
}

// Create validates and persists a draft experiment. Variant weights
// are normalised to sum 1; exactly one variant must be the control.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*Experiment, error) {
	if req.Name == "" {
		return nil, types.Invalidf("experiment name is required")
	}
	if len(req.Variants) < 2 {
		return nil, types.Invalidf("experiment needs at least 2 variants, got %d", len(req.Variants))
	}

	controls := 0
	var totalWeight float64
	for i := range req.Variants {
		v := &req.Variants[i]
		if v.PromptID == "" {
			return nil, types.Invalidf("variant %q has no prompt", v.Name)
		}
		if v.Weight < 0 {
			return nil, types.Invalidf("variant %q has negative weight", v.Name)
		}
		if v.IsControl {
			controls++
		}
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		totalWeight += v.Weight
	}
	if controls != 1 {
		return nil, types.Invalidf("exactly one control variant required, got %d", controls)
	}

	// Normalise weights; all-zero means an even split.
	for i := range req.Variants {
		if totalWeight == 0 {
			req.Variants[i].Weight = 1 / float64(len(req.Variants))
		} else {
			req.Variants[i].Weight /= totalWeight
		}
	}

	e := &Experiment{
		ID:                  uuid.NewString(),
		Name:                req.Name,
		Description:         req.Description,
		Status:              StatusDraft,
		Variants:            req.Variants,
		Metrics:             req.Metrics,
		Strategy:            req.Strategy,
		Epsilon:             req.Epsilon,
		UCBConstant:         req.UCBConstant,
		TrafficPercentage:   req.TrafficPercentage,
		MinSampleSize:       req.MinSampleSize,
		MaxDurationDays:     req.MaxDurationDays,
		ConfidenceThreshold: req.ConfidenceThreshold,
		AutoPromote:         req.AutoPromote,
		CreatedAt:           c.now(),
	}
	if e.Strategy == "" {
		e.Strategy = StrategyEqual
	}
	if e.TrafficPercentage == 0 {
		e.TrafficPercentage = defaultTrafficPercentage
	}
	if e.MinSampleSize == 0 {
		e.MinSampleSize = defaultMinSampleSize
	}
	if e.MaxDurationDays == 0 {
		e.MaxDurationDays = defaultMaxDurationDays
	}
	if e.ConfidenceThreshold == 0 {
		e.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if e.Epsilon == 0 {
		e.Epsilon = defaultEpsilon
	}
	if e.UCBConstant == 0 {
		e.UCBConstant = defaultUCBConstant
	}

	if e.TrafficPercentage <= 0 || e.TrafficPercentage > 100 {
		return nil, types.Invalidf("traffic percentage %.1f outside (0,100]", e.TrafficPercentage)
	}
	if e.ConfidenceThreshold <= 0 || e.ConfidenceThreshold >= 1 {
		return nil, types.Invalidf("confidence threshold %.2f outside (0,1)", e.ConfidenceThreshold)
	}
	switch e.Strategy {
	case StrategyEqual, StrategyWeighted, StrategyEpsilonGreedy, StrategyThompson, StrategyUCB:
	default:
		return nil, types.Invalidf("unknown traffic strategy %q", e.Strategy)
	}

	if err := c.store.Create(ctx, e); err != nil {
		return nil, err
	}
	c.logger.Info("experiment created",
		zap.String("id", e.ID),
		zap.String("name", e.Name),
		zap.Int("variants", len(e.Variants)),
		zap.String("strategy", string(e.Strategy)))
	return e, nil
}

// Get fetches an experiment, preferring the live cached copy.
func (c *Controller) Get(ctx context.Context, id string) (*Experiment, error) {
	if ae, ok := c.active.Get(id); ok {
		ae.mu.Lock()
		defer ae.mu.Unlock()
		cp := *ae.exp
		return &cp, nil
	}
	return c.store.Get(ctx, id)
}

// List returns experiments, optionally filtered by status.
func (c *Controller) List(ctx context.Context, status Status) ([]*Experiment, error) {
	return c.store.List(ctx, status)
}

// Start transitions a draft experiment to running and activates it.
func (c *Controller) Start(ctx context.Context, id string) (*Experiment, error) {
	e, err := c.transition(ctx, id, StatusRunning)
	if err != nil {
		return nil, err
	}
	if e.StartedAt == nil {
		t := c.now()
		e.StartedAt = &t
		if err := c.store.Save(ctx, e); err != nil {
			return nil, err
		}
	}
	if _, err := c.activate(ctx, e); err != nil {
		return nil, err
	}
	c.logger.Info("experiment started", zap.String("id", id))
	return e, nil
}

// Pause suspends assignment for a running experiment.
func (c *Controller) Pause(ctx context.Context, id string) (*Experiment, error) {
	return c.transition(ctx, id, StatusPaused)
}

// Resume returns a paused experiment to running.
func (c *Controller) Resume(ctx context.Context, id string) (*Experiment, error) {
	return c.transition(ctx, id, StatusRunning)
}

// Cancel abandons an experiment without computing results.
func (c *Controller) Cancel(ctx context.Context, id string) (*Experiment, error) {
	e, err := c.transition(ctx, id, StatusCancelled)
	if err != nil {
		return nil, err
	}
	t := c.now()
	e.EndedAt = &t
	if err := c.store.Save(ctx, e); err != nil {
		return nil, err
	}
	c.active.Delete(id)
	c.logger.Info("experiment cancelled", zap.String("id", id))
	return e, nil
}

func (c *Controller) transition(ctx context.Context, id string, next Status) (*Experiment, error) {
	e, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(e.Status, next) {
		return nil, types.Invalidf("cannot transition experiment from %s to %s", e.Status, next)
	}
	e.Status = next
	if err := c.store.Save(ctx, e); err != nil {
		return nil, err
	}
	if ae, ok := c.active.Get(id); ok {
		ae.mu.Lock()
		ae.exp = e
		ae.mu.Unlock()
	}
	return e, nil
}

// activate caches an experiment, warming its tallies from the stored
// event stream.
func (c *Controller) activate(ctx context.Context, e *Experiment) (*activeExperiment, error) {
	stats, err := c.store.LoadStats(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	for _, v := range e.Variants {
		if stats[v.ID] == nil {
			stats[v.ID] = &VariantStats{}
		}
	}
	ae := &activeExperiment{exp: e, stats: stats}
	c.active.Set(e.ID, ae)
	return ae, nil
}

func (c *Controller) lookup(ctx context.Context, id string) (*activeExperiment, error) {
	if ae, ok := c.active.Get(id); ok {
		return ae, nil
	}
	e, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.activate(ctx, e)
}

// AssignVariant deterministically buckets a user into a variant, or
// returns nil when the experiment is not running or the user falls
// outside its traffic slice. Assignment is side-effect-free; callers
// record an impression separately.
func (c *Controller) AssignVariant(ctx context.Context, experimentID, userID string) (*Variant, error) {
	ae, err := c.lookup(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()
	e := ae.exp

	if e.Status != StatusRunning {
		return nil, nil
	}
	if toFloat01(userID+":"+experimentID) > e.TrafficPercentage/100 {
		return nil, nil
	}
	variantHash := toFloat01("variant:" + userID + ":" + experimentID)

	var idx int
	switch e.Strategy {
	case StrategyEqual:
		idx = int(variantHash * float64(len(e.Variants)))
		if idx >= len(e.Variants) {
			idx = len(e.Variants) - 1
		}
	case StrategyWeighted:
		idx = weightedIndex(e.Variants, variantHash)
	case StrategyEpsilonGreedy:
		idx = c.epsilonGreedy(e, ae.stats)
	case StrategyThompson:
		idx = c.thompson(e, ae.stats)
	case StrategyUCB:
		idx = ucbIndex(e, ae.stats)
	default:
		return nil, types.Invalidf("unknown traffic strategy %q", e.Strategy)
	}

	v := e.Variants[idx]
	return &v, nil
}

func weightedIndex(variants []Variant, hash float64) int {
	cumulative := 0.0
	for i, v := range variants {
		cumulative += v.Weight
		if hash < cumulative {
			return i
		}
	}
	return len(variants) - 1
}

// epsilonGreedy explores uniformly with probability epsilon, otherwise
// exploits the best observed conversion rate.
func (c *Controller) epsilonGreedy(e *Experiment, stats map[string]*VariantStats) int {
	c.rngMu.Lock()
	explore := c.rng.Float64() < e.Epsilon
	var roll int
	if explore {
		roll = c.rng.Intn(len(e.Variants))
	}
	c.rngMu.Unlock()

	if explore {
		return roll
	}
	best := 0
	bestRate := -1.0
	for i, v := range e.Variants {
		if rate := stats[v.ID].ConversionRate(); rate > bestRate {
			best, bestRate = i, rate
		}
	}
	return best
}

// thompson samples each variant's posterior Beta(conversions+1,
// failures+1) and picks the max.
func (c *Controller) thompson(e *Experiment, stats map[string]*VariantStats) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	best := 0
	bestSample := -1.0
	for i, v := range e.Variants {
		s := stats[v.ID]
		sample := sampleBeta(c.rng,
			float64(s.Conversions)+1,
			float64(s.Impressions-s.Conversions)+1)
		if sample > bestSample {
			best, bestSample = i, sample
		}
	}
	return best
}

// ucbIndex picks argmax of rate + c*sqrt(ln N / n); unexplored
// variants go first.
func ucbIndex(e *Experiment, stats map[string]*VariantStats) int {
	total := 0
	for _, v := range e.Variants {
		total += stats[v.ID].Impressions
	}
	for i, v := range e.Variants {
		if stats[v.ID].Impressions == 0 {
			return i
		}
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, v := range e.Variants {
		s := stats[v.ID]
		score := s.ConversionRate() +
			e.UCBConstant*math.Sqrt(math.Log(float64(total))/float64(s.Impressions))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// RecordImpression appends an impression event and bumps the tally.
func (c *Controller) RecordImpression(ctx context.Context, experimentID, variantID, userID string) error {
	return c.record(ctx, experimentID, variantID, userID, EventImpression, 0, "")
}

// RecordConversion appends a conversion event with an optional value.
func (c *Controller) RecordConversion(ctx context.Context, experimentID, variantID, userID string, value float64) error {
	return c.record(ctx, experimentID, variantID, userID, EventConversion, value, "")
}

// RecordMetric appends a custom metric observation.
func (c *Controller) RecordMetric(ctx context.Context, experimentID, variantID, userID, metricID string, value float64) error {
	return c.record(ctx, experimentID, variantID, userID, EventCustom, value, metricID)
}

func (c *Controller) record(ctx context.Context, experimentID, variantID, userID string, typ EventType, value float64, metricID string) error {
	ae, err := c.lookup(ctx, experimentID)
	if err != nil {
		return err
	}

	ae.mu.Lock()
	e := ae.exp
	if e.Status.Terminal() {
		ae.mu.Unlock()
		return types.Invalidf("experiment %s is %s", experimentID, e.Status)
	}
	if e.Variant(variantID) == nil {
		ae.mu.Unlock()
		return types.NotFoundf("variant %s in experiment %s", variantID, experimentID)
	}
	ae.mu.Unlock()

	ev := &Event{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		VariantID:    variantID,
		UserID:       userID,
		Type:         typ,
		Value:        value,
		MetricID:     metricID,
		Timestamp:    c.now(),
	}
	if err := c.store.InsertEvent(ctx, ev); err != nil {
		return err
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()
	s := ae.stats[variantID]
	if s == nil {
		s = &VariantStats{}
		ae.stats[variantID] = s
	}
	switch typ {
	case EventImpression:
		s.Impressions++
	case EventConversion:
		s.Conversions++
		s.TotalValue += value
	case EventCustom:
		if m := metricByID(ae.exp.Metrics, metricID); m != nil && m.Type == MetricLatency {
			s.TotalLatency += value
		} else {
			s.TotalValue += value
		}
	}
	return nil
}

func metricByID(metrics []Metric, id string) *Metric {
	for i := range metrics {
		if metrics[i].ID == id {
			return &metrics[i]
		}
	}
	return nil
}

// Stats returns a consistent snapshot of the per-variant tallies.
func (c *Controller) Stats(ctx context.Context, experimentID string) (map[string]VariantStats, error) {
	ae, err := c.lookup(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	ae.mu.Lock()
	defer ae.mu.Unlock()
	out := make(map[string]VariantStats, len(ae.stats))
	for id, s := range ae.stats {
		out[id] = *s
	}
	return out, nil
}

// CheckExperiment analyses a running experiment and, when auto-promote
// is set and a winner is found, deploys the winner's prompt and stops
// the experiment.
func (c *Controller) CheckExperiment(ctx context.Context, experimentID string) (*Analysis, error) {
	ae, err := c.lookup(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	ae.mu.Lock()
	e := ae.exp
	stats := make(map[string]VariantStats, len(ae.stats))
	for id, s := range ae.stats {
		stats[id] = *s
	}
	ae.mu.Unlock()

	analysis := c.analyse(e, stats)

	if analysis.Recommendation == RecommendPromoteWinner && e.AutoPromote {
		if err := c.promoteWinner(ctx, e, analysis); err != nil {
			c.logger.Error("winner promotion failed",
				zap.String("experiment", e.ID),
				zap.String("variant", analysis.WinnerVariantID),
				zap.Error(err))
		}
	}
	return analysis, nil
}

// analyse runs the significance tests over a stats snapshot.
func (c *Controller) analyse(e *Experiment, stats map[string]VariantStats) *Analysis {
	analysis := &Analysis{
		ExperimentID: e.ID,
		Status:       e.Status,
		CheckedAt:    c.now(),
	}

	control := e.Control()
	controlStats := stats[control.ID]
	for _, v := range e.Variants {
		s := stats[v.ID]
		analysis.TotalImpressions += s.Impressions
		va := VariantAnalysis{
			VariantID: v.ID,
			Name:      v.Name,
			IsControl: v.IsControl,
			Stats:     s,
			Rate:      s.ConversionRate(),
		}
		if !v.IsControl {
			p := chiSquare(controlStats.Conversions, controlStats.Impressions, s.Conversions, s.Impressions)
			va.Confidence = 1 - p
			va.Significant = va.Confidence >= e.ConfidenceThreshold
			if cr := controlStats.ConversionRate(); cr > 0 {
				va.Lift = (va.Rate - cr) / cr
			}
		}
		analysis.Variants = append(analysis.Variants, va)
	}

	if analysis.TotalImpressions < e.MinSampleSize {
		analysis.Recommendation = RecommendInsufficientSamples
		return analysis
	}

	// Winner: highest rate among treatments significantly better than
	// the control.
	controlRate := controlStats.ConversionRate()
	winnerRate := controlRate
	for _, va := range analysis.Variants {
		if !va.IsControl && va.Significant && va.Rate > winnerRate {
			analysis.WinnerVariantID = va.VariantID
			winnerRate = va.Rate
		}
	}
	switch {
	case analysis.WinnerVariantID != "":
		analysis.Recommendation = RecommendPromoteWinner
	case e.StartedAt != nil && c.now().Sub(*e.StartedAt) > time.Duration(e.MaxDurationDays)*24*time.Hour:
		analysis.Recommendation = RecommendStopNoWinner
	default:
		analysis.Recommendation = RecommendContinue
	}
	return analysis
}

// promoteWinner deploys the winning variant's prompt and completes the
// experiment.
func (c *Controller) promoteWinner(ctx context.Context, e *Experiment, analysis *Analysis) error {
	winner := e.Variant(analysis.WinnerVariantID)
	if winner == nil {
		return types.NotFoundf("winner variant %s", analysis.WinnerVariantID)
	}
	if c.prompts == nil {
		return types.Policyf("prompt service not configured, cannot promote")
	}

	c.notifier.Send(ctx, notify.Notification{
		ID:       uuid.NewString(),
		Type:     notify.TypeDeploymentStarted,
		Title:    notify.TitleFor(notify.TypeDeploymentStarted),
		Body:     fmt.Sprintf("Promoting experiment winner %q (%s)", winner.Name, e.Name),
		Priority: notify.PriorityNormal,
		Data: map[string]any{
			"experimentId": e.ID,
			"variantId":    winner.ID,
			"promptId":     winner.PromptID,
		},
	})

	if _, err := c.prompts.MarkDeployed(ctx, winner.PromptID); err != nil {
		c.notifier.Send(ctx, notify.Notification{
			ID:       uuid.NewString(),
			Type:     notify.TypeDeploymentFailed,
			Title:    notify.TitleFor(notify.TypeDeploymentFailed),
			Body:     fmt.Sprintf("Promotion of %q failed: %v", winner.Name, err),
			Priority: notify.PriorityHigh,
			Data:     map[string]any{"experimentId": e.ID, "promptId": winner.PromptID},
		})
		return err
	}

	if _, err := c.StopExperiment(ctx, e.ID, true); err != nil {
		return err
	}

	c.notifier.Send(ctx, notify.Notification{
		ID:       uuid.NewString(),
		Type:     notify.TypeDeploymentComplete,
		Title:    notify.TitleFor(notify.TypeDeploymentComplete),
		Body:     fmt.Sprintf("Experiment %q complete, winner %q deployed", e.Name, winner.Name),
		Priority: notify.PriorityNormal,
		Data: map[string]any{
			"experimentId": e.ID,
			"variantId":    winner.ID,
			"promptId":     winner.PromptID,
		},
	})
	c.logger.Info("experiment winner promoted",
		zap.String("experiment", e.ID),
		zap.String("variant", winner.ID),
		zap.String("prompt", winner.PromptID))
	return nil
}

// StopExperiment completes an experiment, optionally freezing the
// final analysis into its result.
func (c *Controller) StopExperiment(ctx context.Context, experimentID string, computeResults bool) (*Experiment, error) {
	ae, err := c.lookup(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	ae.mu.Lock()
	e := ae.exp
	if !canTransition(e.Status, StatusCompleted) {
		status := e.Status
		ae.mu.Unlock()
		return nil, types.Invalidf("cannot complete experiment in state %s", status)
	}
	e.Status = StatusCompleted
	t := c.now()
	e.EndedAt = &t
	stats := make(map[string]VariantStats, len(ae.stats))
	for id, s := range ae.stats {
		stats[id] = *s
	}
	ae.mu.Unlock()

	if computeResults {
		analysis := c.analyse(e, stats)
		total, err := c.store.CountEvents(ctx, experimentID)
		if err != nil {
			return nil, err
		}
		// Order the frozen result best rate first.
		sorted := append([]VariantAnalysis(nil), analysis.Variants...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rate > sorted[j].Rate })
		e.WinnerVariantID = analysis.WinnerVariantID
		e.Result = &Result{
			WinnerVariantID: analysis.WinnerVariantID,
			Variants:        sorted,
			TotalEvents:     total,
			ComputedAt:      t,
		}
	}

	if err := c.store.Save(ctx, e); err != nil {
		return nil, err
	}
	c.active.Delete(experimentID)
	c.logger.Info("experiment stopped",
		zap.String("id", experimentID),
		zap.String("winner", e.WinnerVariantID))
	return e, nil
}

// Sweep runs CheckExperiment over every running experiment, returning
// the analyses. Used by the agent's periodic cycle.
func (c *Controller) Sweep(ctx context.Context) ([]*Analysis, error) {
	running, err := c.store.List(ctx, StatusRunning)
	if err != nil {
		return nil, err
	}
	var out []*Analysis
	for _, e := range running {
		analysis, err := c.CheckExperiment(ctx, e.ID)
		if err != nil {
			c.logger.Warn("experiment check failed", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		out = append(out, analysis)
	}
	return out, nil
}
