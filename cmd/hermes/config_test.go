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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDataDirRespectsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HERMES_DATA_DIR", dir)
	assert.Equal(t, dir, GetDataDir())
}

func TestLoadConfigDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("HERMES_DATA_DIR", dataDir)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dataDir, "hermes.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(dataDir, "prompts"), cfg.Sync.Dir)
	assert.False(t, cfg.Evaluator.Enabled)
	assert.Equal(t, "http://localhost:8090", cfg.Evaluator.Endpoint)
	assert.Equal(t, 60, cfg.Evaluator.TimeoutSeconds)
	assert.True(t, cfg.Agent.Enabled)
	assert.Equal(t, 15, cfg.Agent.CycleIntervalMinutes)
	assert.InDelta(t, 0.9, cfg.Agent.HighConfidenceThreshold, 1e-9)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestInferType(t *testing.T) {
	assert.Equal(t, true, inferType("true"))
	assert.Equal(t, false, inferType("False"))
	assert.Equal(t, 42, inferType("42"))
	assert.Equal(t, 2.5, inferType("2.5"))
	assert.Equal(t, "text", inferType("text"))
}

func TestSecretMappingsSetAndDetect(t *testing.T) {
	var cfg Config
	for _, m := range GetSecretMappings() {
		assert.False(t, m.IsSet(&cfg), m.KeyringKey)
		m.Setter(&cfg, "sk-test")
		assert.True(t, m.IsSet(&cfg), m.KeyringKey)
	}
	assert.Equal(t, "sk-test", cfg.Evaluator.APIKey)
	assert.Equal(t, "sk-test", cfg.Critique.APIKey)
	assert.Equal(t, "sk-test", cfg.Notify.APIKey)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***", maskSecret("short"))
	assert.Equal(t, "sk-a...wxyz", maskSecret("sk-abcdefghijklmnopqrstuvwxyz"))
}
