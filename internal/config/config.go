package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Arbiter configuration
type Config struct {
	Deliberation DeliberationConfig `mapstructure:"deliberation"`
	Pairwise     PairwiseConfig     `mapstructure:"pairwise"`
	Proposers    []ProposerConfig   `mapstructure:"proposers"`
	Guard        GuardConfig        `mapstructure:"guard"`
	Events       EventsConfig       `mapstructure:"events"`
	Store        StoreConfig        `mapstructure:"store"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// DeliberationConfig controls the committee pipeline
type DeliberationConfig struct {
	// Mode selects the discussion strategy: "live" (unanimity-seeking rounds)
	// or "pairwise" (rule scores plus judged pairwise comparisons)
	Mode string `mapstructure:"mode"`
	// DiscussionRounds is the round cap before falling back to plurality (default: 3)
	DiscussionRounds int `mapstructure:"discussion_rounds"`
	// MinProposals is the minimum number of proposals needed to continue (default: 2)
	MinProposals int `mapstructure:"min_proposals"`
	// MaxProposalsPerAgent bounds how many proposals one proposer may return (default: 1)
	MaxProposalsPerAgent int `mapstructure:"max_proposals_per_agent"`
	// CallTimeoutSeconds bounds every proposer and juror call (default: 60)
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
	// RationaleSummaryChars truncates peer rationale shown during discussion (default: 280)
	RationaleSummaryChars int `mapstructure:"rationale_summary_chars"`
	// DissentAdjustedConfidence sets confidenceLevel to the unanimity level on
	// the majority path instead of 1 (default: false)
	DissentAdjustedConfidence bool `mapstructure:"dissent_adjusted_confidence"`
}

// PairwiseConfig controls the rule + pairwise evaluation strategy
type PairwiseConfig struct {
	// Rounds is how many times each pair is compared (default: 1)
	Rounds int `mapstructure:"rounds"`
	// RuleWeight and LLMWeight combine rule scores and pairwise win rate
	RuleWeight float64 `mapstructure:"rule_weight"`
	LLMWeight  float64 `mapstructure:"llm_weight"`
	// MaskNames hides agent names from the judge (default: true)
	MaskNames bool `mapstructure:"mask_names"`
	// NormalizeLength truncates both sides to the shorter rationale (default: true)
	NormalizeLength bool `mapstructure:"normalize_length"`
	// Parallel bounds concurrent comparisons (default: 4)
	Parallel int `mapstructure:"parallel"`
	// Seed for left/right randomization, 0 means time-based
	Seed int64 `mapstructure:"seed"`
}

// ProposerConfig describes one committee member
type ProposerConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	// Vendor is one of "openai", "anthropic", "gemini", "scripted"
	Vendor      string  `mapstructure:"vendor"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Enabled     bool    `mapstructure:"enabled"`
	Temperature float64 `mapstructure:"temperature"`
	// RequestsPerMinute rate-limits calls to this proposer, 0 = unlimited
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	// Script is the ordered list of winner choices for the scripted vendor.
	// Entry 0 is the initial proposal, entry N the stance after round N.
	Script []string `mapstructure:"script"`
}

// GuardConfig controls duplicate-trigger suppression
type GuardConfig struct {
	// Backend is "memory" (single process) or "redis" (shared across replicas)
	Backend         string `mapstructure:"backend"`
	CooldownSeconds int    `mapstructure:"cooldown_seconds"`
	RedisAddr       string `mapstructure:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
	// RunTTLSeconds expires a redis in-progress marker left by a crashed replica
	RunTTLSeconds int `mapstructure:"run_ttl_seconds"`
}

// EventsConfig controls the deliberation event bus
type EventsConfig struct {
	// BufferSize is the per-subscriber buffer; the oldest message is dropped when full
	BufferSize             int `mapstructure:"buffer_size"`
	RetentionMinutes       int `mapstructure:"retention_minutes"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// StoreConfig selects the contract/decision/message storage
type StoreConfig struct {
	// Driver is "memory", "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`
	// DSN is the sqlite file path or postgres connection string
	DSN string `mapstructure:"dsn"`
}

// MonitorConfig controls the polling trigger
type MonitorConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is the log file path; empty means stderr
	File string `mapstructure:"file"`
}

// TelemetryConfig controls OpenTelemetry trace and metric export over OTLP/gRPC
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the OTLP collector address (default: "localhost:4317")
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	// SampleRate is the fraction of deliberations traced, 0 to 1 (default: 1)
	SampleRate            float64 `mapstructure:"sample_rate"`
	MetricIntervalSeconds int     `mapstructure:"metric_interval_seconds"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Deliberation: DeliberationConfig{
			Mode:                      ModeLive,
			DiscussionRounds:          3,
			MinProposals:              2,
			MaxProposalsPerAgent:      1,
			CallTimeoutSeconds:        60,
			RationaleSummaryChars:     280,
			DissentAdjustedConfidence: false,
		},
		Pairwise: PairwiseConfig{
			Rounds:          1,
			RuleWeight:      0.4,
			LLMWeight:       0.6,
			MaskNames:       true,
			NormalizeLength: true,
			Parallel:        4,
			Seed:            0,
		},
		Proposers: DefaultProposers(),
		Guard: GuardConfig{
			Backend:         "memory",
			CooldownSeconds: 30,
			RedisAddr:       "localhost:6379",
			RedisDB:         0,
			RunTTLSeconds:   900,
		},
		Events: EventsConfig{
			BufferSize:             256,
			RetentionMinutes:       60,
			CleanupIntervalSeconds: 300,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Monitor: MonitorConfig{
			Enabled:         false,
			IntervalSeconds: 30,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:               false,
			Endpoint:              "localhost:4317",
			ServiceName:           "arbiter",
			Environment:           "development",
			SampleRate:            1,
			MetricIntervalSeconds: 15,
		},
	}
}

// DefaultProposers is the three-vendor committee used when no roster is configured.
func DefaultProposers() []ProposerConfig {
	return []ProposerConfig{
		{ID: "gpt", Name: "GPT", Vendor: "openai", Model: "gpt-4o", Enabled: true, Temperature: 0.2},
		{ID: "claude", Name: "Claude", Vendor: "anthropic", Model: "claude-sonnet-4-5", Enabled: true, Temperature: 0.2},
		{ID: "gemini", Name: "Gemini", Vendor: "gemini", Model: "gemini-2.5-pro", Enabled: true, Temperature: 0.2},
	}
}

// CallTimeout returns the per-call participant timeout.
func (c *DeliberationConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// Cooldown returns the trigger guard cooldown window.
func (c *GuardConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// RunTTL returns the expiry of a distributed in-progress marker.
func (c *GuardConfig) RunTTL() time.Duration {
	return time.Duration(c.RunTTLSeconds) * time.Second
}

// Retention returns how long an idle contract's message history is kept.
func (c *EventsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// CleanupInterval returns how often idle histories are swept.
func (c *EventsConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// Interval returns the monitor polling interval.
func (c *MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// EnabledProposers returns the enabled roster entries in configured order.
func (c *Config) EnabledProposers() []ProposerConfig {
	var out []ProposerConfig
	for _, p := range c.Proposers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("deliberation.mode", defaults.Deliberation.Mode)
	viper.SetDefault("deliberation.discussion_rounds", defaults.Deliberation.DiscussionRounds)
	viper.SetDefault("deliberation.min_proposals", defaults.Deliberation.MinProposals)
	viper.SetDefault("deliberation.max_proposals_per_agent", defaults.Deliberation.MaxProposalsPerAgent)
	viper.SetDefault("deliberation.call_timeout_seconds", defaults.Deliberation.CallTimeoutSeconds)
	viper.SetDefault("deliberation.rationale_summary_chars", defaults.Deliberation.RationaleSummaryChars)
	viper.SetDefault("deliberation.dissent_adjusted_confidence", defaults.Deliberation.DissentAdjustedConfidence)

	viper.SetDefault("pairwise.rounds", defaults.Pairwise.Rounds)
	viper.SetDefault("pairwise.rule_weight", defaults.Pairwise.RuleWeight)
	viper.SetDefault("pairwise.llm_weight", defaults.Pairwise.LLMWeight)
	viper.SetDefault("pairwise.mask_names", defaults.Pairwise.MaskNames)
	viper.SetDefault("pairwise.normalize_length", defaults.Pairwise.NormalizeLength)
	viper.SetDefault("pairwise.parallel", defaults.Pairwise.Parallel)
	viper.SetDefault("pairwise.seed", defaults.Pairwise.Seed)

	// Slices of structs are registered as plain maps so mapstructure decodes
	// them the same way it decodes a YAML roster.
	roster := make([]map[string]any, 0, len(defaults.Proposers))
	for _, p := range defaults.Proposers {
		roster = append(roster, map[string]any{
			"id":          p.ID,
			"name":        p.Name,
			"vendor":      p.Vendor,
			"model":       p.Model,
			"enabled":     p.Enabled,
			"temperature": p.Temperature,
		})
	}
	viper.SetDefault("proposers", roster)

	viper.SetDefault("guard.backend", defaults.Guard.Backend)
	viper.SetDefault("guard.cooldown_seconds", defaults.Guard.CooldownSeconds)
	viper.SetDefault("guard.redis_addr", defaults.Guard.RedisAddr)
	viper.SetDefault("guard.redis_password", defaults.Guard.RedisPassword)
	viper.SetDefault("guard.redis_db", defaults.Guard.RedisDB)
	viper.SetDefault("guard.run_ttl_seconds", defaults.Guard.RunTTLSeconds)

	viper.SetDefault("events.buffer_size", defaults.Events.BufferSize)
	viper.SetDefault("events.retention_minutes", defaults.Events.RetentionMinutes)
	viper.SetDefault("events.cleanup_interval_seconds", defaults.Events.CleanupIntervalSeconds)

	viper.SetDefault("store.driver", defaults.Store.Driver)
	viper.SetDefault("store.dsn", defaults.Store.DSN)

	viper.SetDefault("monitor.enabled", defaults.Monitor.Enabled)
	viper.SetDefault("monitor.interval_seconds", defaults.Monitor.IntervalSeconds)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)

	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.endpoint", defaults.Telemetry.Endpoint)
	viper.SetDefault("telemetry.insecure", defaults.Telemetry.Insecure)
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
	viper.SetDefault("telemetry.environment", defaults.Telemetry.Environment)
	viper.SetDefault("telemetry.sample_rate", defaults.Telemetry.SampleRate)
	viper.SetDefault("telemetry.metric_interval_seconds", defaults.Telemetry.MetricIntervalSeconds)
}

// MetricInterval returns how often metrics are exported.
func (c *TelemetryConfig) MetricInterval() time.Duration {
	return time.Duration(c.MetricIntervalSeconds) * time.Second
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "arbiter")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arbiter"
	}
	return filepath.Join(home, ".config", "arbiter")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
