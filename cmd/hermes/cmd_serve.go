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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	hlog "github.com/teradata-labs/hermes/internal/log"
	"github.com/teradata-labs/hermes/pkg/agent"
	"github.com/teradata-labs/hermes/pkg/benchmark"
	"github.com/teradata-labs/hermes/pkg/critique"
	"github.com/teradata-labs/hermes/pkg/evaluator"
	"github.com/teradata-labs/hermes/pkg/experiments"
	"github.com/teradata-labs/hermes/pkg/gates"
	"github.com/teradata-labs/hermes/pkg/gitsync"
	"github.com/teradata-labs/hermes/pkg/notify"
	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Hermes platform",
	Long: heredoc.Doc(`
		Run the Hermes platform: the prompt store, the benchmark
		orchestrator with auto-benchmarks on content changes, the
		experiment controller, the autonomous improvement agent, and
		(when enabled) the markdown sync watcher.

		Without a remote evaluator configured, benchmark runs are
		simulated deterministically from the prompt content, which is
		useful for local development.
	`),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger(config.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	hlog.SetLogger(logger)
	defer func() { _ = hlog.Sync() }()

	logger.Info("Starting Hermes",
		zap.String("data_dir", config.DataDir),
		zap.String("db_driver", config.Database.Driver))

	if config.Database.Driver != "postgres" {
		if err := os.MkdirAll(filepath.Dir(config.Database.Path), 0750); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := storage.Open(storage.Config{
		Driver: config.Database.Driver,
		Path:   config.Database.Path,
		DSN:    config.Database.DSN,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Prompt store
	promptStore, err := prompts.NewStore(db)
	if err != nil {
		return err
	}
	promptSvc, err := prompts.NewService(promptStore, logger)
	if err != nil {
		return err
	}
	defer promptSvc.Shutdown()

	// Remote services
	var evalClient evaluator.Client
	if config.Evaluator.Enabled {
		evalClient = evaluator.NewHTTPClient(evaluator.HTTPConfig{
			Endpoint: config.Evaluator.Endpoint,
			APIKey:   config.Evaluator.APIKey,
			Timeout:  time.Duration(config.Evaluator.TimeoutSeconds) * time.Second,
			Logger:   logger,
		})
	} else {
		logger.Info("Remote evaluator disabled, benchmark runs are simulated")
	}

	var critiqueClient critique.Client
	if config.Critique.Enabled {
		critiqueClient = critique.NewHTTPClient(critique.HTTPConfig{
			Endpoint: config.Critique.Endpoint,
			APIKey:   config.Critique.APIKey,
			Timeout:  time.Duration(config.Critique.TimeoutSeconds) * time.Second,
			Logger:   logger,
		})
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if config.Notify.Enabled {
		notifier = notify.NewHTTPNotifier(notify.HTTPConfig{
			Endpoint: config.Notify.Endpoint,
			APIKey:   config.Notify.APIKey,
			Timeout:  time.Duration(config.Notify.TimeoutSeconds) * time.Second,
			Logger:   logger,
		})
	}

	// Benchmark orchestrator
	benchStore, err := benchmark.NewStore(db)
	if err != nil {
		return err
	}
	orch, err := benchmark.NewOrchestrator(benchmark.Config{
		Prompts:       promptSvc,
		Store:         benchStore,
		Evaluator:     evalClient,
		Critique:      critiqueClient,
		Notifier:      notifier,
		RegressionPct: config.Benchmark.RegressionPct,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	orch.Start()
	defer orch.Stop()

	// Experiments
	expStore, err := experiments.NewStore(db)
	if err != nil {
		return err
	}
	controller, err := experiments.NewController(experiments.Config{
		Store:    expStore,
		Prompts:  promptSvc,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// Improvement agent
	var improver *agent.Agent
	if config.Agent.Enabled {
		agentCfg := agent.Config{
			AutoFixRegressions:      config.Agent.AutoFixRegressions,
			AutoApplyHighConfidence: config.Agent.AutoApplyHighConfidence,
			HighConfidenceThreshold: config.Agent.HighConfidenceThreshold,
			StaleBenchmarkHours:     config.Agent.StaleBenchmarkHours,
			MinImprovementThreshold: config.Agent.MinImprovementThreshold,
			LearningEnabled:         config.Agent.LearningEnabled,
			CycleIntervalMinutes:    config.Agent.CycleIntervalMinutes,
			MaxConcurrentTasks:      config.Agent.MaxConcurrentTasks,
		}
		improver, err = agent.New(agent.Options{
			Prompts:     promptSvc,
			Benchmarks:  orch,
			Gates:       gates.NewEvaluator(nil),
			Experiments: controller,
			Notifier:    notifier,
			Config:      &agentCfg,
			Registry:    prometheus.DefaultRegisterer,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		if err := improver.Start(); err != nil {
			return err
		}
		defer improver.Stop()
	}

	// Markdown sync
	var watcher *gitsync.Watcher
	if config.Sync.Enabled {
		syncer, err := gitsync.NewSyncer(gitsync.Config{
			Prompts:  promptSvc,
			Notifier: notifier,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if _, err := syncer.Import(cmd.Context(), config.Sync.Dir); err != nil {
			logger.Warn("Initial sync import failed", zap.Error(err))
		}
		if config.Sync.Watch {
			watcher, err = gitsync.NewWatcher(syncer, gitsync.WatcherConfig{
				Dir:        config.Sync.Dir,
				DebounceMs: config.Sync.DebounceMs,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			if err := watcher.Start(context.Background()); err != nil {
				return err
			}
		}
	}

	logger.Info("Hermes is running",
		zap.Bool("agent", config.Agent.Enabled),
		zap.Bool("sync", config.Sync.Enabled),
		zap.Bool("evaluator", config.Evaluator.Enabled))

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	logger.Info("Shutting down gracefully... (press Ctrl+C again to force)")

	go func() {
		<-sigch
		logger.Warn("Force shutdown requested")
		os.Exit(1)
	}()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("Error stopping sync watcher", zap.Error(err))
		}
	}
	// The deferred stops handle the agent, orchestrator, prompt
	// service, and database in reverse start order.
	return nil
}

func buildLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}
