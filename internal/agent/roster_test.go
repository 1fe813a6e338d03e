package agent

import (
	"testing"

	"github.com/Iron-Ham/arbiter/internal/config"
)

func rosterConfig() *config.Config {
	cfg := config.Default()
	cfg.Proposers = []config.ProposerConfig{
		{ID: "alpha", Name: "Alpha", Vendor: "scripted", Enabled: true, Script: []string{"a"}, RequestsPerMinute: 30},
		{ID: "beta", Name: "Beta", Vendor: "scripted", Enabled: true, Script: []string{"b"}},
		{ID: "gpt", Name: "GPT", Vendor: "openai", Model: "gpt-4o", Enabled: true},
		{ID: "off", Name: "Off", Vendor: "scripted", Enabled: false, Script: []string{"a"}},
	}
	return cfg
}

func TestRoster_SkipsProposersWithoutCredentials(t *testing.T) {
	r, err := NewRoster(rosterConfig(), config.Credentials{})
	if err != nil {
		t.Fatalf("NewRoster() error = %v", err)
	}
	members := r.Members()
	if len(members) != 2 {
		t.Fatalf("len(Members) = %d, want 2 scripted members", len(members))
	}
	if members[0].ID() != "alpha" || members[1].ID() != "beta" {
		t.Errorf("members = [%s %s], want [alpha beta]", members[0].ID(), members[1].ID())
	}
	if got := r.RateLimits(); got["alpha"] != 30 || len(got) != 1 {
		t.Errorf("RateLimits() = %v, want alpha:30", got)
	}
}

func TestRoster_BuildsLLMMembersThroughFactory(t *testing.T) {
	var built []string
	factory := func(p config.ProposerConfig, vendor Vendor, apiKey string) (Client, error) {
		built = append(built, p.ID+":"+string(vendor)+":"+apiKey)
		return &fakeClient{}, nil
	}

	r, err := NewRoster(rosterConfig(), config.Credentials{OpenAIKey: "sk-test"}, WithClientFactory(factory))
	if err != nil {
		t.Fatalf("NewRoster() error = %v", err)
	}
	if len(built) != 1 || built[0] != "gpt:openai:sk-test" {
		t.Errorf("factory calls = %v, want [gpt:openai:sk-test]", built)
	}

	c := r.Committee()
	if len(c.Proposers) != 3 || len(c.Participants) != 3 || len(c.Judges) != 3 {
		t.Errorf("Committee sizes = %d/%d/%d, want 3/3/3", len(c.Proposers), len(c.Participants), len(c.Judges))
	}
	if c.Proposers[2].(Agent).Vendor() != VendorOpenAI {
		t.Errorf("third member vendor = %s, want openai", c.Proposers[2].(Agent).Vendor())
	}
}

func TestRoster_ReloadKeepsPreviousOnError(t *testing.T) {
	r, err := NewRoster(rosterConfig(), config.Credentials{})
	if err != nil {
		t.Fatalf("NewRoster() error = %v", err)
	}

	bad := rosterConfig()
	bad.Proposers = append(bad.Proposers, config.ProposerConfig{ID: "x", Vendor: "mistral", Enabled: true, Model: "m"})
	if err := r.Reload(bad); err == nil {
		t.Fatal("Reload() error = nil for an unknown vendor")
	}
	if len(r.Members()) != 2 {
		t.Errorf("len(Members) = %d after failed reload, want 2", len(r.Members()))
	}

	smaller := rosterConfig()
	smaller.Proposers = smaller.Proposers[:1]
	if err := r.Reload(smaller); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(r.Members()) != 1 {
		t.Errorf("len(Members) = %d after reload, want 1", len(r.Members()))
	}
}
