package agent

import (
	"fmt"
	"maps"
	"sync"

	"github.com/Iron-Ham/arbiter/internal/config"
	"github.com/Iron-Ham/arbiter/internal/discussion"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/proposal"
)

// ClientFactory builds the chat client for a configured proposer.
type ClientFactory func(p config.ProposerConfig, vendor Vendor, apiKey string) (Client, error)

// DefaultClientFactory returns an OpenAIClient for every vendor.
func DefaultClientFactory(p config.ProposerConfig, vendor Vendor, apiKey string) (Client, error) {
	return NewOpenAIClient(vendor, p.BaseURL, apiKey), nil
}

// Roster holds the enabled committee. It is safe for concurrent use and can
// be replaced wholesale when the configuration changes; a deliberation
// keeps the members it started with.
type Roster struct {
	mu      sync.RWMutex
	members []Agent
	limits  map[string]int

	creds   config.Credentials
	factory ClientFactory
	logger  *logging.Logger
}

// RosterOption configures a Roster.
type RosterOption func(*Roster)

// WithClientFactory overrides how LLM clients are built.
func WithClientFactory(f ClientFactory) RosterOption {
	return func(r *Roster) { r.factory = f }
}

// WithRosterLogger sets the roster logger.
func WithRosterLogger(l *logging.Logger) RosterOption {
	return func(r *Roster) { r.logger = logging.OrNop(l) }
}

// NewRoster builds the committee from cfg.
func NewRoster(cfg *config.Config, creds config.Credentials, opts ...RosterOption) (*Roster, error) {
	r := &Roster{
		creds:   creds,
		factory: DefaultClientFactory,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the members from cfg. Proposers whose vendor needs an API
// key that is not set are skipped with a warning. On error the previous
// members stay in place.
func (r *Roster) Reload(cfg *config.Config) error {
	var members []Agent
	limits := make(map[string]int)
	for _, p := range cfg.EnabledProposers() {
		vendor, err := ParseVendor(p.Vendor)
		if err != nil {
			return fmt.Errorf("proposer %s: %w", p.ID, err)
		}

		var a Agent
		if vendor == VendorScripted {
			a = NewScripted(p.ID, p.Name, p.Script)
		} else {
			key := r.creds.ForVendor(string(vendor))
			if key == "" && p.BaseURL == "" {
				r.logger.WithAgent(p.ID).Warn("skipping proposer without credentials", "vendor", string(vendor))
				continue
			}
			client, err := r.factory(p, vendor, key)
			if err != nil {
				return fmt.Errorf("proposer %s: %w", p.ID, err)
			}
			a = NewLLM(p.ID, p.Name, vendor, p.Model, client,
				WithTemperature(p.Temperature), WithLogger(r.logger))
		}
		members = append(members, a)
		if p.RequestsPerMinute > 0 {
			limits[p.ID] = p.RequestsPerMinute
		}
	}

	r.mu.Lock()
	r.members = members
	r.limits = limits
	r.mu.Unlock()

	r.logger.Info("committee loaded", "members", len(members))
	return nil
}

// Members returns a snapshot of the current committee.
func (r *Roster) Members() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Agent(nil), r.members...)
}

// RateLimits returns requests-per-minute limits by agent id.
func (r *Roster) RateLimits() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.limits)
}

// Committee is one deliberation's view of the roster.
type Committee struct {
	Proposers    []proposal.Proposer
	Participants []discussion.Participant
	Judges       []discussion.Judge
}

// Committee snapshots the members under each capability.
func (r *Roster) Committee() Committee {
	members := r.Members()
	c := Committee{
		Proposers:    make([]proposal.Proposer, 0, len(members)),
		Participants: make([]discussion.Participant, 0, len(members)),
		Judges:       make([]discussion.Judge, 0, len(members)),
	}
	for _, m := range members {
		c.Proposers = append(c.Proposers, m)
		c.Participants = append(c.Participants, m)
		c.Judges = append(c.Judges, m)
	}
	return c
}
