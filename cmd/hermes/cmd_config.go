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
	"strconv"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Hermes configuration",
	Long:  `Manage configuration files and secrets for Hermes.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example hermes.yaml configuration file in the data directory.`,
	Run:   runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources).`,
	Run:   runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: heredoc.Doc(`
		Set a non-sensitive configuration value in hermes.yaml.

		For sensitive values (API keys), use 'hermes config set-key' instead.

		Examples:
		  hermes config set agent.cycle_interval_minutes 30
		  hermes config set evaluator.endpoint http://evaluator:8090
		  hermes config set logging.level debug
	`),
	Args: cobra.ExactArgs(2),
	Run:  runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Long: heredoc.Doc(`
		Get a configuration value from hermes.yaml.

		Examples:
		  hermes config get agent.cycle_interval_minutes
		  hermes config get evaluator.endpoint
	`),
	Args: cobra.ExactArgs(1),
	Run:  runConfigGet,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save API key to system keyring",
	Long: heredoc.Doc(`
		Save an API key to the system keyring securely.

		The key will be stored in your system's secure credential storage
		(Keychain on macOS, Credential Manager on Windows, Secret Service
		on Linux).

		Run 'hermes config list-keys' to see available key names.
	`),
	Args: cobra.ExactArgs(1),
	Run:  runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve API key from system keyring",
	Long:  `Retrieve an API key from the system keyring (for verification).`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete API key from system keyring",
	Long:  `Remove an API key from the system keyring.`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	Long:  `List all available secret keys that can be stored in the keyring.`,
	Run:   runConfigListKeys,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
}

const exampleConfig = `# Hermes configuration

database:
  driver: sqlite3            # sqlite3 or postgres
  # path: ~/.hermes/hermes.db
  # dsn: postgres://hermes@localhost/hermes?sslmode=disable

evaluator:
  enabled: false             # disabled = benchmark runs are simulated
  endpoint: http://localhost:8090
  timeout_seconds: 60

critique:
  enabled: false
  endpoint: http://localhost:8091
  timeout_seconds: 120

notify:
  enabled: false
  endpoint: http://localhost:8092
  timeout_seconds: 30

benchmark:
  regression_pct: 5.0

agent:
  enabled: true
  cycle_interval_minutes: 15
  max_concurrent_tasks: 5
  auto_fix_regressions: true
  auto_apply_high_confidence: true
  high_confidence_threshold: 0.9
  stale_benchmark_hours: 24
  min_improvement_threshold: 2.0
  learning_enabled: true

sync:
  enabled: false
  # dir: ~/.hermes/prompts
  watch: true
  debounce_ms: 500

logging:
  level: info                # debug, info, warn, error
  format: text               # text, json
`

func runConfigInit(cmd *cobra.Command, args []string) {
	configDir := GetDataDir()
	configPath := filepath.Join(configDir, "hermes.yaml")

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(os.Stderr, "Config file already exists: %s\n", configPath)
		os.Exit(1)
	}
	if err := os.MkdirAll(configDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  hermes config set-key evaluator-api-key")
	fmt.Println("  hermes serve")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()

	fmt.Println("Database:")
	fmt.Printf("  Driver: %s\n", config.Database.Driver)
	if config.Database.Driver == "postgres" {
		fmt.Printf("  DSN: %s\n", config.Database.DSN)
	} else {
		fmt.Printf("  Path: %s\n", config.Database.Path)
	}
	fmt.Println()

	showRemote := func(name string, rc RemoteConfig) {
		fmt.Printf("%s:\n", name)
		fmt.Printf("  Enabled: %t\n", rc.Enabled)
		if rc.Enabled {
			fmt.Printf("  Endpoint: %s\n", rc.Endpoint)
			if rc.APIKey != "" {
				fmt.Printf("  API Key: %s\n", maskSecret(rc.APIKey))
			} else {
				fmt.Printf("  API Key: (not set)\n")
			}
		}
		fmt.Println()
	}
	showRemote("Evaluator", config.Evaluator)
	showRemote("Critique", config.Critique)
	showRemote("Notify", config.Notify)

	fmt.Println("Agent:")
	fmt.Printf("  Enabled: %t\n", config.Agent.Enabled)
	if config.Agent.Enabled {
		fmt.Printf("  Cycle Interval: %dm\n", config.Agent.CycleIntervalMinutes)
		fmt.Printf("  Max Concurrent Tasks: %d\n", config.Agent.MaxConcurrentTasks)
		fmt.Printf("  Auto-fix Regressions: %t\n", config.Agent.AutoFixRegressions)
		fmt.Printf("  Auto-apply High Confidence: %t\n", config.Agent.AutoApplyHighConfidence)
	}
	fmt.Println()

	fmt.Println("Sync:")
	fmt.Printf("  Enabled: %t\n", config.Sync.Enabled)
	if config.Sync.Enabled {
		fmt.Printf("  Dir: %s\n", config.Sync.Dir)
		fmt.Printf("  Watch: %t\n", config.Sync.Watch)
	}
	fmt.Println()

	fmt.Println("Logging:")
	fmt.Printf("  Level: %s\n", config.Logging.Level)
	fmt.Printf("  Format: %s\n", config.Logging.Format)
}

func runConfigSet(cmd *cobra.Command, args []string) {
	key := args[0]
	value := args[1]

	configPath := filepath.Join(GetDataDir(), "hermes.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Config file not found: %s\n", configPath)
		fmt.Fprintf(os.Stderr, "Run 'hermes config init' to create one\n")
		os.Exit(1)
	}

	// Secrets belong in the keyring, not the config file.
	for _, secretKey := range ListAvailableSecretKeys() {
		if key == secretKey {
			fmt.Fprintf(os.Stderr, "Error: '%s' is a secret key. Use 'hermes config set-key %s' instead.\n", key, key)
			os.Exit(1)
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		os.Exit(1)
	}

	v.Set(key, inferType(value))
	if err := v.WriteConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Set %s = %v\n", key, inferType(value))
}

func runConfigGet(cmd *cobra.Command, args []string) {
	key := args[0]

	configPath := filepath.Join(GetDataDir(), "hermes.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Config file not found: %s\n", configPath)
		fmt.Fprintf(os.Stderr, "Run 'hermes config init' to create one\n")
		os.Exit(1)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		os.Exit(1)
	}

	if !v.IsSet(key) {
		fmt.Fprintf(os.Stderr, "Key not found: %s\n", key)
		os.Exit(1)
	}
	fmt.Printf("%s: %v\n", key, v.Get(key))
}

func runConfigSetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	availableKeys := ListAvailableSecretKeys()
	valid := false
	for _, k := range availableKeys {
		if k == keyName {
			valid = true
			break
		}
	}
	if !valid {
		fmt.Fprintf(os.Stderr, "Invalid key name: %s\n", keyName)
		fmt.Fprintf(os.Stderr, "Available keys:\n")
		for _, k := range availableKeys {
			fmt.Fprintf(os.Stderr, "  - %s\n", k)
		}
		os.Exit(1)
	}

	// Read secret from stdin (without echo)
	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // New line after hidden input
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}

	secret := string(secretBytes)
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Secret cannot be empty\n")
		os.Exit(1)
	}

	if err := keyring.Set(ServiceName, keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	secret, err := keyring.Get(ServiceName, keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error retrieving key: %v\n", err)
		fmt.Fprintf(os.Stderr, "Key not found in keyring. Set it with: hermes config set-key %s\n", keyName)
		os.Exit(1)
	}

	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	if err := keyring.Delete(ServiceName, keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Deleted %s from system keyring\n", keyName)
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	fmt.Println("Available secret keys:")
	fmt.Println("======================")
	for _, m := range GetSecretMappings() {
		fmt.Printf("  %-20s %s\n", m.KeyringKey, m.Description)
	}
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  hermes config set-key <key-name>")
	fmt.Println("  hermes config get-key <key-name>")
	fmt.Println("  hermes config delete-key <key-name>")
}

// maskSecret masks a secret for display.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// inferType converts flat string input to bool/int/float where it
// parses cleanly, so YAML keeps proper types.
func inferType(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
