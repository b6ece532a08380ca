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

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/hermes/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Hermes - prompt lifecycle platform",
	Long: heredoc.Doc(`
		Hermes versions prompts, benchmarks them against quality suites,
		gates deployments, runs A/B experiments, and continuously improves
		the inventory through an autonomous agent.

		Prompts can also round-trip to a directory of markdown files with
		YAML frontmatter for git-based workflows.
	`),
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HERMES_DATA_DIR/hermes.yaml)")

	// Database flags
	rootCmd.PersistentFlags().String("db-driver", "sqlite3", "database driver (sqlite3, postgres)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (default: $HERMES_DATA_DIR/hermes.db)")
	rootCmd.PersistentFlags().String("db-dsn", "", "postgres connection string")

	// Remote service flags
	rootCmd.PersistentFlags().Bool("evaluator", false, "enable the remote evaluator (disabled = simulated runs)")
	rootCmd.PersistentFlags().String("evaluator-endpoint", "http://localhost:8090", "evaluator service URL")
	rootCmd.PersistentFlags().Bool("critique", false, "enable the remote critique service")
	rootCmd.PersistentFlags().String("critique-endpoint", "http://localhost:8091", "critique service URL")
	rootCmd.PersistentFlags().Bool("notify", false, "enable the remote notification bus")
	rootCmd.PersistentFlags().String("notify-endpoint", "http://localhost:8092", "notification bus URL")

	// Agent flags
	rootCmd.PersistentFlags().Bool("agent", true, "run the improvement agent (use --agent=false to disable)")
	rootCmd.PersistentFlags().Int("agent-interval", 15, "improvement cycle interval in minutes")

	// Sync flags
	rootCmd.PersistentFlags().Bool("sync", false, "sync prompts with a markdown directory")
	rootCmd.PersistentFlags().String("sync-dir", "", "markdown sync directory (default: $HERMES_DATA_DIR/prompts)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))

	_ = viper.BindPFlag("evaluator.enabled", rootCmd.PersistentFlags().Lookup("evaluator"))
	_ = viper.BindPFlag("evaluator.endpoint", rootCmd.PersistentFlags().Lookup("evaluator-endpoint"))
	_ = viper.BindPFlag("critique.enabled", rootCmd.PersistentFlags().Lookup("critique"))
	_ = viper.BindPFlag("critique.endpoint", rootCmd.PersistentFlags().Lookup("critique-endpoint"))
	_ = viper.BindPFlag("notify.enabled", rootCmd.PersistentFlags().Lookup("notify"))
	_ = viper.BindPFlag("notify.endpoint", rootCmd.PersistentFlags().Lookup("notify-endpoint"))

	_ = viper.BindPFlag("agent.enabled", rootCmd.PersistentFlags().Lookup("agent"))
	_ = viper.BindPFlag("agent.cycle_interval_minutes", rootCmd.PersistentFlags().Lookup("agent-interval"))

	_ = viper.BindPFlag("sync.enabled", rootCmd.PersistentFlags().Lookup("sync"))
	_ = viper.BindPFlag("sync.dir", rootCmd.PersistentFlags().Lookup("sync-dir"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
