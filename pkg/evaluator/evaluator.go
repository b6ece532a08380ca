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

// Package evaluator talks to the external benchmark evaluator (ATE).
// The orchestrator in pkg/benchmark drives this client; when the remote
// service is disabled or unreachable the deterministic Simulator stands
// in so tests and air-gapped deployments stay functional.
package evaluator

import "context"

// RunRequest is the wire request to POST /benchmarks/run. All scores in
// the response are on a 0-100 scale.
type RunRequest struct {
	PromptContent   string   `json:"prompt_content"`
	PromptID        string   `json:"prompt_id"`
	PromptVersion   string   `json:"prompt_version"`
	ContentHash     string   `json:"content_hash"`
	SuiteID         string   `json:"suite_id"`
	ModelID         string   `json:"model_id"`
	Dimensions      []string `json:"dimensions"`
	TimeoutSeconds  int      `json:"timeout_seconds"`
	GateThreshold   float64  `json:"gate_threshold"`
	IncludeBaseline bool     `json:"include_baseline"`
}

// RunResponse is the evaluator's reply.
type RunResponse struct {
	ID              string             `json:"id"`
	OverallScore    float64            `json:"overall_score"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	TokenUsage      map[string]int     `json:"token_usage"`
	ModelVersion    string             `json:"model_version"`
	ExecutionTimeMs int64              `json:"execution_time_ms"`
	Environment     string             `json:"environment"`
	Error           string             `json:"error,omitempty"`
}

// Client runs one benchmark evaluation. Implementations must be safe
// for concurrent use; the orchestrator fans batches out across
// goroutines.
type Client interface {
	Run(ctx context.Context, req *RunRequest) (*RunResponse, error)
}
