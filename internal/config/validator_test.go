package config

import (
	"strings"
	"testing"
)

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "deliberation.min_proposals", Value: 0, Message: "must be at least 1"}
	want := "deliberation.min_proposals: must be at least 1 (got: 0)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := ValidationErrors(nil).Error(); got != "" {
		t.Errorf("empty Error() = %q, want empty", got)
	}

	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	got := errs.Error()
	if !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("Error() = %q, want prefix %q", got, "2 validation errors:")
	}
	if !strings.Contains(got, "2. b: worse (got: 2)") {
		t.Errorf("Error() = %q, missing second entry", got)
	}
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func TestConfig_Validate_Deliberation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
		want   bool
	}{
		{"live mode", func(c *Config) { c.Deliberation.Mode = ModeLive }, "deliberation.mode", false},
		{"pairwise mode", func(c *Config) { c.Deliberation.Mode = ModePairwise }, "deliberation.mode", false},
		{"unknown mode", func(c *Config) { c.Deliberation.Mode = "debate" }, "deliberation.mode", true},
		{"zero rounds", func(c *Config) { c.Deliberation.DiscussionRounds = 0 }, "deliberation.discussion_rounds", false},
		{"negative rounds", func(c *Config) { c.Deliberation.DiscussionRounds = -1 }, "deliberation.discussion_rounds", true},
		{"too many rounds", func(c *Config) { c.Deliberation.DiscussionRounds = 21 }, "deliberation.discussion_rounds", true},
		{"zero min proposals", func(c *Config) { c.Deliberation.MinProposals = 0 }, "deliberation.min_proposals", true},
		{"zero per agent", func(c *Config) { c.Deliberation.MaxProposalsPerAgent = 0 }, "deliberation.max_proposals_per_agent", true},
		{"zero timeout", func(c *Config) { c.Deliberation.CallTimeoutSeconds = 0 }, "deliberation.call_timeout_seconds", true},
		{"negative summary", func(c *Config) { c.Deliberation.RationaleSummaryChars = -5 }, "deliberation.rationale_summary_chars", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasFieldError(cfg.Validate(), tt.field); got != tt.want {
				t.Errorf("Validate() error on %s = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate_Pairwise(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
		want   bool
	}{
		{"weights sum to one", func(c *Config) { c.Pairwise.RuleWeight, c.Pairwise.LLMWeight = 0.3, 0.7 }, "pairwise.llm_weight", false},
		{"weights do not sum", func(c *Config) { c.Pairwise.RuleWeight, c.Pairwise.LLMWeight = 0.3, 0.3 }, "pairwise.llm_weight", true},
		{"negative rule weight", func(c *Config) { c.Pairwise.RuleWeight = -0.1 }, "pairwise.rule_weight", true},
		{"zero rounds", func(c *Config) { c.Pairwise.Rounds = 0 }, "pairwise.rounds", true},
		{"zero parallel", func(c *Config) { c.Pairwise.Parallel = 0 }, "pairwise.parallel", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasFieldError(cfg.Validate(), tt.field); got != tt.want {
				t.Errorf("Validate() error on %s = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate_Proposers(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
		want   bool
	}{
		{"bad id", func(c *Config) { c.Proposers[0].ID = "1gpt" }, "proposers[0].id", true},
		{"duplicate id", func(c *Config) { c.Proposers[1].ID = "gpt" }, "proposers[1].id", true},
		{"unknown vendor", func(c *Config) { c.Proposers[2].Vendor = "mistral" }, "proposers[2].vendor", true},
		{"missing model", func(c *Config) { c.Proposers[0].Model = "" }, "proposers[0].model", true},
		{"scripted without script", func(c *Config) {
			c.Proposers[0].Vendor = "scripted"
			c.Proposers[0].Model = ""
		}, "proposers[0].script", true},
		{"temperature too high", func(c *Config) { c.Proposers[0].Temperature = 3 }, "proposers[0].temperature", true},
		{"negative rpm", func(c *Config) { c.Proposers[0].RequestsPerMinute = -1 }, "proposers[0].requests_per_minute", true},
		{"too few enabled", func(c *Config) {
			c.Proposers[0].Enabled = false
			c.Proposers[1].Enabled = false
		}, "proposers", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasFieldError(cfg.Validate(), tt.field); got != tt.want {
				t.Errorf("Validate() error on %s = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate_Infrastructure(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
		want   bool
	}{
		{"redis backend", func(c *Config) { c.Guard.Backend = "redis" }, "guard.backend", false},
		{"etcd backend", func(c *Config) { c.Guard.Backend = "etcd" }, "guard.backend", true},
		{"redis without addr", func(c *Config) {
			c.Guard.Backend = "redis"
			c.Guard.RedisAddr = ""
		}, "guard.redis_addr", true},
		{"negative cooldown", func(c *Config) { c.Guard.CooldownSeconds = -1 }, "guard.cooldown_seconds", true},
		{"zero buffer", func(c *Config) { c.Events.BufferSize = 0 }, "events.buffer_size", true},
		{"sqlite driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver", false},
		{"mysql driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver", true},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn", true},
		{"zero monitor interval", func(c *Config) { c.Monitor.IntervalSeconds = 0 }, "monitor.interval_seconds", true},
		{"uppercase level", func(c *Config) { c.Logging.Level = "DEBUG" }, "logging.level", false},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level", true},
		{"sample rate above 1", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "telemetry.sample_rate", true},
		{"disabled telemetry without endpoint", func(c *Config) { c.Telemetry.Endpoint = "" }, "telemetry.endpoint", false},
		{"enabled telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry.endpoint", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasFieldError(cfg.Validate(), tt.field); got != tt.want {
				t.Errorf("Validate() error on %s = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Deliberation.Mode = "x"
	cfg.Store.Driver = "y"
	cfg.Logging.Level = "z"

	if errs := cfg.Validate(); len(errs) < 3 {
		t.Errorf("Validate() returned %d errors, want at least 3", len(errs))
	}
}
