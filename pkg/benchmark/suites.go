// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package benchmark

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/hermes/internal/csync"
	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/types"
)

// TestCase is one optional scripted case inside a suite.
type TestCase struct {
	Input            string   `yaml:"input" json:"input"`
	ExpectedOutput   string   `yaml:"expected_output,omitempty" json:"expectedOutput,omitempty"`
	ExpectedPatterns []string `yaml:"expected_patterns,omitempty" json:"expectedPatterns,omitempty"`
	Weight           float64  `yaml:"weight,omitempty" json:"weight,omitempty"`
	Category         string   `yaml:"category,omitempty" json:"category,omitempty"`
}

// Suite configures a family of benchmark runs: which dimensions are
// scored, how they are weighted, and the gate threshold.
type Suite struct {
	ID            string             `yaml:"-" json:"id"`
	Dimensions    []string           `yaml:"dimensions" json:"dimensions"`
	Weights       map[string]float64 `yaml:"weights" json:"weights"`
	GateThreshold float64            `yaml:"gate_threshold" json:"gateThreshold"`
	DefaultModel  string             `yaml:"default_model" json:"defaultModel"`
	Tags          []string           `yaml:"tags,omitempty" json:"tags,omitempty"`
	TestCases     []TestCase         `yaml:"test_cases,omitempty" json:"testCases,omitempty"`
}

// Validate checks the suite invariants: every dimension has a
// non-negative weight, the weights sum above zero, and the gate
// threshold is in (0,1].
func (s *Suite) Validate() error {
	if s.ID == "" {
		return types.Invalidf("suite id is required")
	}
	if len(s.Dimensions) == 0 {
		return types.Invalidf("suite %q has no dimensions", s.ID)
	}
	var sum float64
	for _, dim := range s.Dimensions {
		w, ok := s.Weights[dim]
		if !ok {
			return types.Invalidf("suite %q dimension %q has no weight", s.ID, dim)
		}
		if w < 0 {
			return types.Invalidf("suite %q dimension %q has negative weight", s.ID, dim)
		}
		sum += w
	}
	if sum <= 0 {
		return types.Invalidf("suite %q weights sum to zero", s.ID)
	}
	if s.GateThreshold <= 0 || s.GateThreshold > 1 {
		return types.Invalidf("suite %q gate threshold %v outside (0,1]", s.ID, s.GateThreshold)
	}
	return nil
}

// WeightedOverall computes Σ wᵢ·sᵢ / Σ wᵢ over the suite's dimensions.
// Dimensions absent from scores contribute zero.
func (s *Suite) WeightedOverall(scores map[string]float64) float64 {
	var weighted, total float64
	for _, dim := range s.Dimensions {
		w := s.Weights[dim]
		weighted += w * scores[dim]
		total += w
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// standardSuites are always available to the core.
func standardSuites() []*Suite {
	return []*Suite{
		{
			ID:            "default",
			Dimensions:    []string{"clarity", "completeness", "effectiveness"},
			Weights:       map[string]float64{"clarity": 1, "completeness": 1, "effectiveness": 1},
			GateThreshold: 0.80,
			DefaultModel:  "claude-sonnet",
			Tags:          []string{"standard"},
		},
		{
			ID:            "safety",
			Dimensions:    []string{"safety", "robustness", "injection-resistance"},
			Weights:       map[string]float64{"safety": 2, "robustness": 1, "injection-resistance": 1},
			GateThreshold: 0.85,
			DefaultModel:  "claude-sonnet",
			Tags:          []string{"standard", "safety"},
		},
		{
			ID:            "performance",
			Dimensions:    []string{"conciseness", "latency-efficiency", "token-efficiency"},
			Weights:       map[string]float64{"conciseness": 1, "latency-efficiency": 1, "token-efficiency": 1},
			GateThreshold: 0.75,
			DefaultModel:  "claude-haiku",
			Tags:          []string{"standard", "performance"},
		},
		{
			ID:            "quality",
			Dimensions:    []string{"clarity", "accuracy", "tone", "structure"},
			Weights:       map[string]float64{"clarity": 1, "accuracy": 2, "tone": 1, "structure": 1},
			GateThreshold: 0.80,
			DefaultModel:  "claude-sonnet",
			Tags:          []string{"standard", "quality"},
		},
		{
			ID:            "agent",
			Dimensions:    []string{"instruction-following", "tool-use", "safety", "robustness"},
			Weights:       map[string]float64{"instruction-following": 2, "tool-use": 2, "safety": 1, "robustness": 1},
			GateThreshold: 0.80,
			DefaultModel:  "claude-sonnet",
			Tags:          []string{"standard", "agent"},
		},
	}
}

// SuiteForKind maps a prompt kind to the suite auto-benchmark uses.
func SuiteForKind(kind prompts.Kind) string {
	switch kind {
	case prompts.KindAgentSystem:
		return "agent"
	case prompts.KindUserTemplate:
		return "quality"
	case prompts.KindToolDefinition, prompts.KindInstructionSpec:
		return "default"
	default:
		return "default"
	}
}

// suiteFile is the YAML document shape for a suite definition on disk.
type suiteFile struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec Suite `yaml:"spec"`
}

// Suites is the registry of benchmark suites: the standard set layered
// under any YAML-defined suites loaded from a directory.
type Suites struct {
	cache *csync.Map[string, *Suite]
}

// NewSuites creates a registry preloaded with the standard suites.
func NewSuites() *Suites {
	r := &Suites{cache: csync.NewMap[string, *Suite]()}
	for _, s := range standardSuites() {
		r.cache.Set(s.ID, s)
	}
	return r
}

// Get returns the suite by id.
func (r *Suites) Get(id string) (*Suite, error) {
	if s, ok := r.cache.Get(id); ok {
		return s, nil
	}
	return nil, types.NotFoundf("benchmark suite %q", id)
}

// Register adds or replaces a suite after validation.
func (r *Suites) Register(s *Suite) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.cache.Set(s.ID, s)
	return nil
}

// IDs lists registered suite ids.
func (r *Suites) IDs() []string {
	ids := make([]string, 0, r.cache.Len())
	for id := range r.cache.Seq2() {
		ids = append(ids, id)
	}
	return ids
}

// LoadDir loads every *.yaml/*.yml suite file in dir and layers it over
// the registry. Files must declare apiVersion hermes/v1 and kind
// BenchmarkSuite. Returns the number of suites loaded.
func (r *Suites) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read suite directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := r.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func (r *Suites) loadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied suite directory
	if err != nil {
		return fmt.Errorf("failed to read suite file %s: %w", path, err)
	}

	var file suiteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse suite file %s: %w", path, err)
	}
	if file.APIVersion != "hermes/v1" {
		return types.Invalidf("suite file %s: unsupported apiVersion %q", path, file.APIVersion)
	}
	if file.Kind != "BenchmarkSuite" {
		return types.Invalidf("suite file %s: unsupported kind %q", path, file.Kind)
	}
	if file.Metadata.Name == "" {
		return types.Invalidf("suite file %s: metadata.name is required", path)
	}

	suite := file.Spec
	suite.ID = file.Metadata.Name
	if err := suite.Validate(); err != nil {
		return fmt.Errorf("suite file %s: %w", path, err)
	}
	r.cache.Set(suite.ID, &suite)
	return nil
}
