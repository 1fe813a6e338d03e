package config

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "deliberation.min_proposals")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Deliberation modes
const (
	ModeLive     = "live"
	ModePairwise = "pairwise"
)

// proposerIDRegex validates roster IDs. They end up in log attributes,
// redis keys and the message history, so keep them simple.
var proposerIDRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// ValidModes returns the list of valid deliberation modes
func ValidModes() []string {
	return []string{ModeLive, ModePairwise}
}

// ValidVendors returns the list of supported proposer vendors
func ValidVendors() []string {
	return []string{"openai", "anthropic", "gemini", "scripted"}
}

// ValidGuardBackends returns the list of valid trigger guard backends
func ValidGuardBackends() []string {
	return []string{"memory", "redis"}
}

// ValidStoreDrivers returns the list of valid storage drivers
func ValidStoreDrivers() []string {
	return []string{"memory", "sqlite", "postgres"}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDeliberation()...)
	errors = append(errors, c.validatePairwise()...)
	errors = append(errors, c.validateProposers()...)
	errors = append(errors, c.validateGuard()...)
	errors = append(errors, c.validateEvents()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateMonitor()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateTelemetry()...)

	return errors
}

func (c *Config) validateDeliberation() []ValidationError {
	var errors []ValidationError
	d := c.Deliberation

	if !slices.Contains(ValidModes(), d.Mode) {
		errors = append(errors, ValidationError{
			Field:   "deliberation.mode",
			Value:   d.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidModes(), ", ")),
		})
	}
	// 0 rounds is valid: the initial proposals are tallied directly.
	if d.DiscussionRounds < 0 {
		errors = append(errors, ValidationError{
			Field:   "deliberation.discussion_rounds",
			Value:   d.DiscussionRounds,
			Message: "must be non-negative",
		})
	}
	const maxRounds = 20
	if d.DiscussionRounds > maxRounds {
		errors = append(errors, ValidationError{
			Field:   "deliberation.discussion_rounds",
			Value:   d.DiscussionRounds,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRounds),
		})
	}
	if d.MinProposals < 1 {
		errors = append(errors, ValidationError{
			Field:   "deliberation.min_proposals",
			Value:   d.MinProposals,
			Message: "must be at least 1",
		})
	}
	if d.MaxProposalsPerAgent < 1 {
		errors = append(errors, ValidationError{
			Field:   "deliberation.max_proposals_per_agent",
			Value:   d.MaxProposalsPerAgent,
			Message: "must be at least 1",
		})
	}
	if d.CallTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "deliberation.call_timeout_seconds",
			Value:   d.CallTimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}
	if d.RationaleSummaryChars < 0 {
		errors = append(errors, ValidationError{
			Field:   "deliberation.rationale_summary_chars",
			Value:   d.RationaleSummaryChars,
			Message: "must be non-negative (0 disables truncation)",
		})
	}

	return errors
}

func (c *Config) validatePairwise() []ValidationError {
	var errors []ValidationError
	p := c.Pairwise

	if p.Rounds < 1 {
		errors = append(errors, ValidationError{
			Field:   "pairwise.rounds",
			Value:   p.Rounds,
			Message: "must be at least 1",
		})
	}
	if p.RuleWeight < 0 || p.RuleWeight > 1 {
		errors = append(errors, ValidationError{
			Field:   "pairwise.rule_weight",
			Value:   p.RuleWeight,
			Message: "must be between 0 and 1",
		})
	}
	if p.LLMWeight < 0 || p.LLMWeight > 1 {
		errors = append(errors, ValidationError{
			Field:   "pairwise.llm_weight",
			Value:   p.LLMWeight,
			Message: "must be between 0 and 1",
		})
	}
	if math.Abs(p.RuleWeight+p.LLMWeight-1) > 0.01 {
		errors = append(errors, ValidationError{
			Field:   "pairwise.llm_weight",
			Value:   p.RuleWeight + p.LLMWeight,
			Message: "rule_weight + llm_weight must equal 1",
		})
	}
	if p.Parallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "pairwise.parallel",
			Value:   p.Parallel,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateProposers() []ValidationError {
	var errors []ValidationError
	seen := make(map[string]bool)

	for i, p := range c.Proposers {
		field := fmt.Sprintf("proposers[%d]", i)
		if !proposerIDRegex.MatchString(p.ID) {
			errors = append(errors, ValidationError{
				Field:   field + ".id",
				Value:   p.ID,
				Message: "must start with a letter and contain only alphanumeric characters, dots, hyphens, or underscores",
			})
		}
		if seen[p.ID] {
			errors = append(errors, ValidationError{
				Field:   field + ".id",
				Value:   p.ID,
				Message: "duplicate proposer id",
			})
		}
		seen[p.ID] = true

		if !slices.Contains(ValidVendors(), p.Vendor) {
			errors = append(errors, ValidationError{
				Field:   field + ".vendor",
				Value:   p.Vendor,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidVendors(), ", ")),
			})
		}
		if p.Vendor == "scripted" && p.Enabled && len(p.Script) == 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".script",
				Value:   p.Script,
				Message: "scripted proposers need at least one winner choice",
			})
		}
		if p.Vendor != "scripted" && p.Model == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".model",
				Value:   p.Model,
				Message: "cannot be empty",
			})
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errors = append(errors, ValidationError{
				Field:   field + ".temperature",
				Value:   p.Temperature,
				Message: "must be between 0 and 2",
			})
		}
		if p.RequestsPerMinute < 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".requests_per_minute",
				Value:   p.RequestsPerMinute,
				Message: "must be non-negative (0 disables rate limiting)",
			})
		}
	}

	if len(c.EnabledProposers()) < c.Deliberation.MinProposals {
		errors = append(errors, ValidationError{
			Field:   "proposers",
			Value:   len(c.EnabledProposers()),
			Message: fmt.Sprintf("need at least %d enabled proposers (deliberation.min_proposals)", c.Deliberation.MinProposals),
		})
	}

	return errors
}

func (c *Config) validateGuard() []ValidationError {
	var errors []ValidationError
	g := c.Guard

	if !slices.Contains(ValidGuardBackends(), g.Backend) {
		errors = append(errors, ValidationError{
			Field:   "guard.backend",
			Value:   g.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidGuardBackends(), ", ")),
		})
	}
	if g.CooldownSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "guard.cooldown_seconds",
			Value:   g.CooldownSeconds,
			Message: "must be non-negative",
		})
	}
	if g.Backend == "redis" {
		if g.RedisAddr == "" {
			errors = append(errors, ValidationError{
				Field:   "guard.redis_addr",
				Value:   g.RedisAddr,
				Message: "required when guard.backend is redis",
			})
		}
		if g.RunTTLSeconds < 1 {
			errors = append(errors, ValidationError{
				Field:   "guard.run_ttl_seconds",
				Value:   g.RunTTLSeconds,
				Message: "must be at least 1 second",
			})
		}
	}

	return errors
}

func (c *Config) validateEvents() []ValidationError {
	var errors []ValidationError
	e := c.Events

	if e.BufferSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "events.buffer_size",
			Value:   e.BufferSize,
			Message: "must be at least 1",
		})
	}
	if e.RetentionMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "events.retention_minutes",
			Value:   e.RetentionMinutes,
			Message: "must be non-negative (0 disables cleanup)",
		})
	}
	if e.CleanupIntervalSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "events.cleanup_interval_seconds",
			Value:   e.CleanupIntervalSeconds,
			Message: "must be non-negative (0 disables cleanup)",
		})
	}

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStoreDrivers(), c.Store.Driver) {
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreDrivers(), ", ")),
		})
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "store.dsn",
			Value:   c.Store.DSN,
			Message: "required when store.driver is postgres",
		})
	}

	return errors
}

func (c *Config) validateMonitor() []ValidationError {
	var errors []ValidationError

	if c.Monitor.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.interval_seconds",
			Value:   c.Monitor.IntervalSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateTelemetry() []ValidationError {
	var errors []ValidationError
	t := c.Telemetry

	if t.SampleRate < 0 || t.SampleRate > 1 {
		errors = append(errors, ValidationError{
			Field:   "telemetry.sample_rate",
			Value:   t.SampleRate,
			Message: "must be between 0 and 1",
		})
	}
	if !t.Enabled {
		return errors
	}
	if t.Endpoint == "" {
		errors = append(errors, ValidationError{
			Field:   "telemetry.endpoint",
			Value:   t.Endpoint,
			Message: "is required when telemetry is enabled",
		})
	}
	if t.MetricIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "telemetry.metric_interval_seconds",
			Value:   t.MetricIntervalSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errors
}
