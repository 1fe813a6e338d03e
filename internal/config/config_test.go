package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Deliberation.Mode != ModeLive {
		t.Errorf("Deliberation.Mode = %q, want %q", cfg.Deliberation.Mode, ModeLive)
	}
	if cfg.Deliberation.DiscussionRounds != 3 {
		t.Errorf("Deliberation.DiscussionRounds = %d, want 3", cfg.Deliberation.DiscussionRounds)
	}
	if cfg.Deliberation.MinProposals != 2 {
		t.Errorf("Deliberation.MinProposals = %d, want 2", cfg.Deliberation.MinProposals)
	}
	if cfg.Deliberation.DissentAdjustedConfidence {
		t.Error("Deliberation.DissentAdjustedConfidence should be false by default")
	}
	if cfg.Pairwise.RuleWeight != 0.4 || cfg.Pairwise.LLMWeight != 0.6 {
		t.Errorf("Pairwise weights = %v/%v, want 0.4/0.6", cfg.Pairwise.RuleWeight, cfg.Pairwise.LLMWeight)
	}
	if len(cfg.Proposers) != 3 {
		t.Errorf("len(Proposers) = %d, want 3", len(cfg.Proposers))
	}
	if cfg.Guard.Backend != "memory" {
		t.Errorf("Guard.Backend = %q, want memory", cfg.Guard.Backend)
	}
	if cfg.Events.BufferSize != 256 {
		t.Errorf("Events.BufferSize = %d, want 256", cfg.Events.BufferSize)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	if got := cfg.Deliberation.CallTimeout(); got != time.Minute {
		t.Errorf("CallTimeout() = %v, want 1m", got)
	}
	if got := cfg.Guard.Cooldown(); got != 30*time.Second {
		t.Errorf("Cooldown() = %v, want 30s", got)
	}
	if got := cfg.Guard.RunTTL(); got != 15*time.Minute {
		t.Errorf("RunTTL() = %v, want 15m", got)
	}
	if got := cfg.Events.Retention(); got != time.Hour {
		t.Errorf("Retention() = %v, want 1h", got)
	}
	if got := cfg.Events.CleanupInterval(); got != 5*time.Minute {
		t.Errorf("CleanupInterval() = %v, want 5m", got)
	}
	if got := cfg.Monitor.Interval(); got != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", got)
	}
}

func TestEnabledProposers(t *testing.T) {
	cfg := Default()
	cfg.Proposers[1].Enabled = false

	got := cfg.EnabledProposers()
	if len(got) != 2 {
		t.Fatalf("len(EnabledProposers()) = %d, want 2", len(got))
	}
	if got[0].ID != "gpt" || got[1].ID != "gemini" {
		t.Errorf("EnabledProposers() order = [%s %s], want [gpt gemini]", got[0].ID, got[1].ID)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), "/custom/config/arbiter"; got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "arbiter"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigFile(), "/custom/config/arbiter/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestGet(t *testing.T) {
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Deliberation.Mode != ModeLive {
		t.Errorf("Get().Deliberation.Mode = %q, want %q", cfg.Deliberation.Mode, ModeLive)
	}
	if len(cfg.Proposers) != 3 {
		t.Errorf("len(Get().Proposers) = %d, want 3", len(cfg.Proposers))
	}
}

const rosterYAML = `
deliberation:
  mode: live
  discussion_rounds: 2
  min_proposals: 2
  max_proposals_per_agent: 1
  call_timeout_seconds: 5
  rationale_summary_chars: 100
pairwise:
  rounds: 1
  rule_weight: 0.5
  llm_weight: 0.5
  parallel: 2
proposers:
  - id: alpha
    name: Alpha
    vendor: scripted
    enabled: true
    script: [party-a, party-a]
  - id: beta
    name: Beta
    vendor: scripted
    enabled: true
    script: [party-b, party-a]
guard:
  backend: memory
  cooldown_seconds: 1
events:
  buffer_size: 8
store:
  driver: memory
monitor:
  interval_seconds: 10
logging:
  level: debug
`

func TestLoadFrom(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(rosterYAML)); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if len(cfg.Proposers) != 2 {
		t.Fatalf("len(Proposers) = %d, want 2", len(cfg.Proposers))
	}
	if got := cfg.Proposers[1].Script; len(got) != 2 || got[0] != "party-b" {
		t.Errorf("Proposers[1].Script = %v, want [party-b party-a]", got)
	}
	if cfg.Deliberation.DiscussionRounds != 2 {
		t.Errorf("DiscussionRounds = %d, want 2", cfg.Deliberation.DiscussionRounds)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(strings.Replace(rosterYAML, "mode: live", "mode: chaos", 1))); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	_, err := LoadFrom(v)
	if err == nil {
		t.Fatal("LoadFrom() expected error for invalid mode")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("LoadFrom() error type = %T, want ValidationErrors", err)
	}
	if verrs[0].Field != "deliberation.mode" {
		t.Errorf("first error field = %q, want deliberation.mode", verrs[0].Field)
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("GEMINI_API_KEY", "")

	creds, err := LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}

	tests := []struct {
		vendor string
		want   string
	}{
		{"openai", "sk-openai"},
		{"anthropic", "sk-ant"},
		{"gemini", ""},
		{"scripted", ""},
	}
	for _, tt := range tests {
		if got := creds.ForVendor(tt.vendor); got != tt.want {
			t.Errorf("ForVendor(%q) = %q, want %q", tt.vendor, got, tt.want)
		}
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(rosterYAML), 0644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	changed := make(chan *Config, 4)
	Watch(v, func(c *Config) { changed <- c }, nil)

	updated := strings.Replace(rosterYAML, "discussion_rounds: 2", "discussion_rounds: 5", 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Deliberation.DiscussionRounds == 5 {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}
