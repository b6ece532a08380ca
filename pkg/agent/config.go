// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

// Config tunes the agent's autonomy. All fields are runtime-mutable
// via Agent.Configure.
type Config struct {
	// AutoFixRegressions lets regression-fix tasks change prompts.
	AutoFixRegressions bool `json:"autoFixRegressions"`

	// AutoApplyHighConfidence lets proactive-optimize tasks apply
	// suggestions instead of only notifying.
	AutoApplyHighConfidence bool `json:"autoApplyHighConfidence"`

	// HighConfidenceThreshold is the minimum suggestion confidence for
	// autonomous application.
	HighConfidenceThreshold float64 `json:"highConfidenceThreshold"`

	// StaleBenchmarkHours is the age after which a prompt's benchmark
	// is considered stale.
	StaleBenchmarkHours int `json:"staleBenchmarkHours"`

	// MinImprovementThreshold is the estimated-impact floor (in score
	// points) below which proactive suggestions are not applied.
	MinImprovementThreshold float64 `json:"minImprovementThreshold"`

	// LearningEnabled adds a cross-prompt-learn task to each cycle.
	LearningEnabled bool `json:"learningEnabled"`

	// CycleIntervalMinutes is the gap between improvement cycles.
	CycleIntervalMinutes int `json:"cycleIntervalMinutes"`

	// MaxConcurrentTasks bounds parallel task execution.
	MaxConcurrentTasks int `json:"maxConcurrentTasks"`

	// DiscoveryLimit caps how many prompts one cycle inspects.
	DiscoveryLimit int `json:"discoveryLimit"`
}

// DefaultConfig returns the stock autonomy settings.
func DefaultConfig() Config {
	return Config{
		AutoFixRegressions:      true,
		AutoApplyHighConfidence: true,
		HighConfidenceThreshold: 0.9,
		StaleBenchmarkHours:     24,
		MinImprovementThreshold: 2.0,
		LearningEnabled:         true,
		CycleIntervalMinutes:    15,
		MaxConcurrentTasks:      5,
		DiscoveryLimit:          100,
	}
}

// normalise fills zero values so a partially-set config cannot stall
// the agent.
func (c *Config) normalise() {
	d := DefaultConfig()
	if c.HighConfidenceThreshold <= 0 || c.HighConfidenceThreshold > 1 {
		c.HighConfidenceThreshold = d.HighConfidenceThreshold
	}
	if c.StaleBenchmarkHours <= 0 {
		c.StaleBenchmarkHours = d.StaleBenchmarkHours
	}
	if c.MinImprovementThreshold <= 0 {
		c.MinImprovementThreshold = d.MinImprovementThreshold
	}
	if c.CycleIntervalMinutes <= 0 {
		c.CycleIntervalMinutes = d.CycleIntervalMinutes
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = d.MaxConcurrentTasks
	}
	if c.DiscoveryLimit <= 0 {
		c.DiscoveryLimit = d.DiscoveryLimit
	}
}
