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
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
)

const (
	// ServiceName for keyring storage
	ServiceName = "hermes"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "hermes"
)

// Config holds all configuration for the Hermes platform.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the Hermes data directory. It is not loaded from the
	// config file - use the HERMES_DATA_DIR environment variable to
	// override.
	DataDir string `mapstructure:"-"`

	Database  DatabaseConfig  `mapstructure:"database"`
	Evaluator RemoteConfig    `mapstructure:"evaluator"`
	Critique  RemoteConfig    `mapstructure:"critique"`
	Notify    RemoteConfig    `mapstructure:"notify"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds storage configuration.
type DatabaseConfig struct {
	// Driver is "sqlite3" (default) or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file path.
	Path string `mapstructure:"path"`

	// DSN is the postgres connection string (driver "postgres" only).
	DSN string `mapstructure:"dsn"`
}

// RemoteConfig holds one remote HTTP service endpoint.
type RemoteConfig struct {
	// Enabled turns the remote client on. A disabled evaluator means
	// every benchmark run is simulated; a disabled critique disables
	// self-critique; a disabled notifier drops notifications.
	Enabled bool `mapstructure:"enabled"`

	Endpoint string `mapstructure:"endpoint"`

	// APIKey is the bearer token. Prefer the keyring
	// (`hermes config set-key ...`) over the config file.
	APIKey string `mapstructure:"api_key"`

	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// BenchmarkConfig tunes the benchmark orchestrator.
type BenchmarkConfig struct {
	// RegressionPct is the trailing-mean drop (percent) that flags a
	// regression (default: 5).
	RegressionPct float64 `mapstructure:"regression_pct"`
}

// AgentConfig tunes the improvement agent.
type AgentConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	CycleIntervalMinutes    int     `mapstructure:"cycle_interval_minutes"`
	MaxConcurrentTasks      int     `mapstructure:"max_concurrent_tasks"`
	AutoFixRegressions      bool    `mapstructure:"auto_fix_regressions"`
	AutoApplyHighConfidence bool    `mapstructure:"auto_apply_high_confidence"`
	HighConfidenceThreshold float64 `mapstructure:"high_confidence_threshold"`
	StaleBenchmarkHours     int     `mapstructure:"stale_benchmark_hours"`
	MinImprovementThreshold float64 `mapstructure:"min_improvement_threshold"`
	LearningEnabled         bool    `mapstructure:"learning_enabled"`
}

// SyncConfig tunes the external markdown sync.
type SyncConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Dir is the synced markdown directory (default: <data dir>/prompts).
	Dir string `mapstructure:"dir"`

	// Watch re-imports files live as they change on disk.
	Watch bool `mapstructure:"watch"`

	DebounceMs int `mapstructure:"debounce_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// GetDataDir returns the Hermes data directory, respecting the
// HERMES_DATA_DIR environment variable.
func GetDataDir() string {
	if dir := os.Getenv("HERMES_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hermes"
	}
	return filepath.Join(home, ".hermes")
}

// LoadConfig merges defaults, the config file, environment variables,
// and keyring secrets into one Config.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config search paths (in order of priority)
		viper.AddConfigPath(GetDataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hermes/")
		viper.SetConfigName(DefaultConfigFileName) // hermes.yaml
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	viper.SetEnvPrefix("HERMES")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.DataDir = GetDataDir()
	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(config.DataDir, "hermes.db")
	}
	if config.Sync.Dir == "" {
		config.Sync.Dir = filepath.Join(config.DataDir, "prompts")
	}

	// Keyring might not be available; secrets can also arrive via the
	// config file or environment.
	_ = loadSecretsFromKeyring(&config)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("database.driver", "sqlite3")

	viper.SetDefault("evaluator.enabled", false)
	viper.SetDefault("evaluator.endpoint", "http://localhost:8090")
	viper.SetDefault("evaluator.timeout_seconds", 60)

	viper.SetDefault("critique.enabled", false)
	viper.SetDefault("critique.endpoint", "http://localhost:8091")
	viper.SetDefault("critique.timeout_seconds", 120)

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.endpoint", "http://localhost:8092")
	viper.SetDefault("notify.timeout_seconds", 30)

	viper.SetDefault("benchmark.regression_pct", 5.0)

	viper.SetDefault("agent.enabled", true)
	viper.SetDefault("agent.cycle_interval_minutes", 15)
	viper.SetDefault("agent.max_concurrent_tasks", 5)
	viper.SetDefault("agent.auto_fix_regressions", true)
	viper.SetDefault("agent.auto_apply_high_confidence", true)
	viper.SetDefault("agent.high_confidence_threshold", 0.9)
	viper.SetDefault("agent.stale_benchmark_hours", 24)
	viper.SetDefault("agent.min_improvement_threshold", 2.0)
	viper.SetDefault("agent.learning_enabled", true)

	viper.SetDefault("sync.enabled", false)
	viper.SetDefault("sync.watch", true)
	viper.SetDefault("sync.debounce_ms", 500)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// SecretMapping links a keyring key to its config field.
type SecretMapping struct {
	KeyringKey  string
	Description string
	IsSet       func(*Config) bool
	Setter      func(*Config, string)
}

// GetSecretMappings lists every secret the keyring can hold.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey:  "evaluator-api-key",
			Description: "Bearer token for the evaluator service",
			IsSet:       func(c *Config) bool { return c.Evaluator.APIKey != "" },
			Setter:      func(c *Config, v string) { c.Evaluator.APIKey = v },
		},
		{
			KeyringKey:  "critique-api-key",
			Description: "Bearer token for the critique service",
			IsSet:       func(c *Config) bool { return c.Critique.APIKey != "" },
			Setter:      func(c *Config, v string) { c.Critique.APIKey = v },
		},
		{
			KeyringKey:  "notify-api-key",
			Description: "Bearer token for the notification bus",
			IsSet:       func(c *Config) bool { return c.Notify.APIKey != "" },
			Setter:      func(c *Config, v string) { c.Notify.APIKey = v },
		},
	}
}

// ListAvailableSecretKeys returns the keyring key names.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, m := range mappings {
		keys[i] = m.KeyringKey
	}
	return keys
}

// GetSecretFromKeyring reads one secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// loadSecretsFromKeyring fills unset secrets from the system keyring.
func loadSecretsFromKeyring(config *Config) error {
	for _, mapping := range GetSecretMappings() {
		// Skip if value is already set (from CLI/env/config file)
		if mapping.IsSet(config) {
			continue
		}
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
		// Non-fatal: if keyring doesn't have the key, just continue
	}
	return nil
}
