package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/arbiter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or validate Arbiter configuration",
	Long: `View or validate Arbiter configuration.

Without arguments, displays the effective configuration. Values come from the
config file, then ARBITER_* environment variables (e.g. ARBITER_STORE_DRIVER),
then built-in defaults. Vendor API keys are read from OPENAI_API_KEY,
ANTHROPIC_API_KEY and GEMINI_API_KEY only.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/arbiter/config.yaml.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	_, err := config.Load()
	if err == nil {
		fmt.Fprintln(out, "Configuration is valid")
		return nil
	}

	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fmt.Fprintf(out, "Configuration has %d error(s):\n", len(verrs))
	for _, e := range verrs {
		fmt.Fprintf(out, "  - %s\n", e.Error())
	}
	return fmt.Errorf("invalid configuration")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(cmd.OutOrStdout(), used)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (not created yet)\n", config.ConfigFile())
	return nil
}

const defaultConfigContent = `# Arbiter Configuration

deliberation:
  # Discussion strategy: live (rounds until unanimity) or pairwise
  mode: live
  # Round cap before falling back to plurality
  discussion_rounds: 3
  # Minimum proposals needed to continue past the proposing phase
  min_proposals: 2
  max_proposals_per_agent: 1
  # Bound on every proposer and juror call
  call_timeout_seconds: 60
  rationale_summary_chars: 280
  # Report the unanimity level as confidence when a majority decides
  dissent_adjusted_confidence: false

pairwise:
  rounds: 1
  rule_weight: 0.4
  llm_weight: 0.6
  mask_names: true
  normalize_length: true
  parallel: 4
  seed: 0

# Committee members. API keys come from OPENAI_API_KEY, ANTHROPIC_API_KEY
# and GEMINI_API_KEY; members without a key are skipped.
proposers:
  - id: gpt
    name: GPT
    vendor: openai
    model: gpt-4o
    enabled: true
    temperature: 0.2
  - id: claude
    name: Claude
    vendor: anthropic
    model: claude-sonnet-4-5
    enabled: true
    temperature: 0.2
  - id: gemini
    name: Gemini
    vendor: gemini
    model: gemini-2.5-pro
    enabled: true
    temperature: 0.2

guard:
  # memory (single process) or redis (shared across replicas)
  backend: memory
  cooldown_seconds: 30
  redis_addr: localhost:6379
  run_ttl_seconds: 900

events:
  buffer_size: 256
  retention_minutes: 60
  cleanup_interval_seconds: 300

store:
  # memory, sqlite or postgres
  driver: sqlite
  dsn: arbiter.db

monitor:
  enabled: true
  interval_seconds: 30

logging:
  enabled: true
  level: info
  # Empty logs to stderr
  file: ""

telemetry:
  # Export deliberation spans and metrics over OTLP/gRPC
  enabled: false
  endpoint: localhost:4317
  insecure: false
  service_name: arbiter
  environment: development
  sample_rate: 1.0
  metric_interval_seconds: 15
`
