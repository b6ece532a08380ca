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

// Package experiments runs A/B tests between prompt variants:
// deterministic traffic assignment, event recording, chi-square
// significance analysis, and optional auto-promotion of the winner.
package experiments

import "time"

// Status is an experiment's lifecycle state.
type Status string

// Experiment statuses. Completed and cancelled are terminal.
const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Strategy selects how traffic is split across variants.
type Strategy string

// Traffic-split strategies. Equal and weighted are deterministic per
// (userId, experimentId); the bandit strategies adapt to observed
// conversion rates.
const (
	StrategyEqual         Strategy = "equal"
	StrategyWeighted      Strategy = "weighted"
	StrategyEpsilonGreedy Strategy = "epsilon-greedy"
	StrategyThompson      Strategy = "thompson-sampling"
	StrategyUCB           Strategy = "ucb"
)

// MetricType classifies what a metric measures.
type MetricType string

// Metric types.
const (
	MetricConversion MetricType = "conversion"
	MetricValue      MetricType = "value"
	MetricRating     MetricType = "rating"
	MetricLatency    MetricType = "latency"
)

// Goal is the optimisation direction for a metric.
type Goal string

// Metric goals.
const (
	GoalMaximize Goal = "maximize"
	GoalMinimize Goal = "minimize"
)

// EventType tags a recorded experiment event.
type EventType string

// Event types.
const (
	EventImpression EventType = "impression"
	EventConversion EventType = "conversion"
	EventCustom     EventType = "custom"
)

// Variant binds an experiment arm to a prompt version.
type Variant struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	PromptID      string  `json:"promptId"`
	PromptVersion string  `json:"promptVersion"`
	Weight        float64 `json:"weight"`
	IsControl     bool    `json:"isControl"`
}

// Metric describes one measured outcome of an experiment.
type Metric struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"`
	Type                    MetricType `json:"type"`
	Goal                    Goal       `json:"goal"`
	MinimumDetectableEffect float64    `json:"minimumDetectableEffect,omitempty"`
	IsPrimary               bool       `json:"isPrimary"`
}

// Experiment is the head record for one A/B test.
type Experiment struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	Status              Status     `json:"status"`
	Variants            []Variant  `json:"variants"`
	Metrics             []Metric   `json:"metrics,omitempty"`
	Strategy            Strategy   `json:"strategy"`
	Epsilon             float64    `json:"epsilon,omitempty"`     // epsilon-greedy explore rate
	UCBConstant         float64    `json:"ucbConstant,omitempty"` // ucb exploration constant
	TrafficPercentage   float64    `json:"trafficPercentage"`     // (0,100]
	MinSampleSize       int        `json:"minSampleSize"`
	MaxDurationDays     int        `json:"maxDurationDays"`
	ConfidenceThreshold float64    `json:"confidenceThreshold"` // (0,1)
	AutoPromote         bool       `json:"autoPromote"`
	CreatedAt           time.Time  `json:"createdAt"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	EndedAt             *time.Time `json:"endedAt,omitempty"`
	WinnerVariantID     string     `json:"winnerVariantId,omitempty"`
	Result              *Result    `json:"result,omitempty"`
}

// Control returns the control variant; creation guarantees exactly one.
func (e *Experiment) Control() *Variant {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	return nil
}

// Variant looks up a variant by id.
func (e *Experiment) Variant(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Event is one recorded observation, appended per assignment outcome.
type Event struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experimentId"`
	VariantID    string    `json:"variantId"`
	UserID       string    `json:"userId"`
	Type         EventType `json:"type"`
	Value        float64   `json:"value,omitempty"`
	MetricID     string    `json:"metricId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// VariantStats is the running tally for one variant.
type VariantStats struct {
	Impressions  int     `json:"impressions"`
	Conversions  int     `json:"conversions"`
	TotalValue   float64 `json:"totalValue"`
	TotalLatency float64 `json:"totalLatency"`
}

// ConversionRate is conversions over impressions, zero when empty.
func (s VariantStats) ConversionRate() float64 {
	if s.Impressions == 0 {
		return 0
	}
	return float64(s.Conversions) / float64(s.Impressions)
}

// Recommendation is the outcome of a significance check.
type Recommendation string

// Check recommendations.
const (
	RecommendContinue            Recommendation = "continue"
	RecommendInsufficientSamples Recommendation = "insufficient_samples"
	RecommendPromoteWinner       Recommendation = "promote_winner"
	RecommendStopNoWinner        Recommendation = "stop_no_winner"
)

// VariantAnalysis compares one treatment against the control.
type VariantAnalysis struct {
	VariantID   string       `json:"variantId"`
	Name        string       `json:"name"`
	IsControl   bool         `json:"isControl"`
	Stats       VariantStats `json:"stats"`
	Rate        float64      `json:"rate"`
	Lift        float64      `json:"lift,omitempty"`       // vs control, treatments only
	Confidence  float64      `json:"confidence,omitempty"` // 1 - p
	Significant bool         `json:"significant"`
}

// Analysis is a point-in-time read of a running experiment.
type Analysis struct {
	ExperimentID     string            `json:"experimentId"`
	Status           Status            `json:"status"`
	TotalImpressions int               `json:"totalImpressions"`
	Variants         []VariantAnalysis `json:"variants"`
	Recommendation   Recommendation    `json:"recommendation"`
	WinnerVariantID  string            `json:"winnerVariantId,omitempty"`
	CheckedAt        time.Time         `json:"checkedAt"`
}

// Result is the frozen outcome stored when an experiment completes.
type Result struct {
	WinnerVariantID string            `json:"winnerVariantId,omitempty"`
	Variants        []VariantAnalysis `json:"variants"`
	TotalEvents     int               `json:"totalEvents"`
	ComputedAt      time.Time         `json:"computedAt"`
}
