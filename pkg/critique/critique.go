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

// Package critique talks to the external self-critique service (ASRBS).
// It analyses prompt content and returns improvement suggestions; the
// improvement agent decides whether a suggestion is applied, and the
// prompt store performs the actual mutation.
package critique

import "context"

// Depth controls how thorough an analysis is.
type Depth string

// Analysis depths.
const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Severity ranks how much a suggestion matters.
type Severity string

// Suggestion severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Suggestion is one proposed improvement to a prompt.
type Suggestion struct {
	ID              string   `json:"id"`
	Category        string   `json:"category"`
	Severity        Severity `json:"severity"`
	Description     string   `json:"description"`
	SuggestedChange string   `json:"suggested_change"`
	Confidence      float64  `json:"confidence"`
	EstimatedImpact float64  `json:"estimated_impact"`
}

// Analysis is the full self-critique of one prompt version.
type Analysis struct {
	Assessment          string       `json:"assessment"`
	QualityScore        float64      `json:"quality_score"`
	Suggestions         []Suggestion `json:"suggestions"`
	KnowledgeGaps       []string     `json:"knowledge_gaps"`
	OverconfidenceAreas []string     `json:"overconfidence_areas"`
	TrainingDataNeeds   []string     `json:"training_data_needs"`
}

// AnalyzeRequest is the wire request to POST /analyze.
type AnalyzeRequest struct {
	PromptContent string `json:"prompt_content"`
	PromptID      string `json:"prompt_id"`
	PromptVersion string `json:"prompt_version"`
	PromptType    string `json:"prompt_type"`
	AnalysisDepth Depth  `json:"analysis_depth"`
}

// Client is the self-critique surface used by the orchestrator and the
// improvement agent.
type Client interface {
	// Analyze critiques the prompt and returns suggestions.
	Analyze(ctx context.Context, req *AnalyzeRequest) (*Analysis, error)

	// ApplySuggestion rewrites content according to a suggestion and
	// returns the modified text. It does not touch the prompt store.
	ApplySuggestion(ctx context.Context, content string, s Suggestion) (string, error)

	// GetSuggestion fetches a previously returned suggestion by id.
	GetSuggestion(ctx context.Context, id string) (*Suggestion, error)

	// History lists past analyses for a prompt.
	History(ctx context.Context, promptID string) ([]*Analysis, error)
}

// TopSuggestion returns the highest-confidence suggestion at or above
// the threshold, or nil when none qualifies.
func TopSuggestion(suggestions []Suggestion, minConfidence float64) *Suggestion {
	var best *Suggestion
	for i := range suggestions {
		s := &suggestions[i]
		if s.Confidence < minConfidence {
			continue
		}
		if best == nil || s.Confidence > best.Confidence {
			best = s
		}
	}
	return best
}
