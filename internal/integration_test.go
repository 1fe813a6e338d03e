// Package internal contains integration tests that drive the committee
// pipeline end to end through the same wiring the CLI uses.
package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/arbiter/internal/agent"
	"github.com/Iron-Ham/arbiter/internal/config"
	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/guard"
	"github.com/Iron-Ham/arbiter/internal/monitor"
	"github.com/Iron-Ham/arbiter/internal/orchestrator"
	"github.com/Iron-Ham/arbiter/internal/settlement"
	"github.com/Iron-Ham/arbiter/internal/store"
)

type pipeline struct {
	stores *store.Stores
	bus    *event.Bus
	ledger *settlement.Ledger
	orch   *orchestrator.Orchestrator
	mon    *monitor.Monitor

	mu      sync.Mutex
	results []*orchestrator.Result
}

func scriptedConfig(mode string) *config.Config {
	cfg := config.Default()
	cfg.Deliberation.Mode = mode
	cfg.Deliberation.CallTimeoutSeconds = 5
	cfg.Pairwise.Seed = 3
	cfg.Proposers = []config.ProposerConfig{
		{ID: "gpt", Name: "GPT", Vendor: "scripted", Enabled: true, Script: []string{"a"}},
		{ID: "claude", Name: "Claude", Vendor: "scripted", Enabled: true, Script: []string{"b", "a"}},
		{ID: "gemini", Name: "Gemini", Vendor: "scripted", Enabled: true, Script: []string{"a"}},
	}
	return cfg
}

func newPipeline(t *testing.T, cfg *config.Config) *pipeline {
	t.Helper()
	p := &pipeline{
		stores: store.NewMemory(),
		bus:    event.NewBus(),
		ledger: settlement.NewLedger(),
	}
	p.bus.SubscribeAll(func(msg event.Message) {
		if err := p.stores.Messages.Append(context.Background(), msg); err != nil {
			t.Errorf("Append() error = %v", err)
		}
	})

	roster, err := agent.NewRoster(cfg, config.Credentials{})
	if err != nil {
		t.Fatalf("NewRoster() error = %v", err)
	}
	registry := guard.NewRegistry(guard.WithCooldown(time.Minute))
	p.orch, err = orchestrator.New(orchestrator.ConfigFrom(cfg), orchestrator.Deps{
		Contracts:  p.stores.Contracts,
		Decisions:  p.stores.Decisions,
		Settlement: p.ledger,
		Guard:      registry,
		Bus:        p.bus,
		Committee:  roster,
	}, orchestrator.WithRateLimits(roster.RateLimits()))
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	p.mon = monitor.New(p.stores.Contracts, guard.LocalTrigger{Registry: registry}, p.orch,
		monitor.WithInterval(0),
		monitor.WithResultHandler(func(res *orchestrator.Result) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.results = append(p.results, res)
		}),
	)
	return p
}

func (p *pipeline) addContract(t *testing.T, id string, status contract.Status, end time.Time) {
	t.Helper()
	c := &contract.Contract{
		ID:             id,
		Status:         status,
		BettingEndTime: end,
		PartyA:         contract.Party{ID: "alice", Name: "Alice"},
		PartyB:         contract.Party{ID: "bob", Name: "Bob"},
		CreatedAt:      end.Add(-time.Hour),
	}
	if err := p.stores.Contracts.Save(context.Background(), c); err != nil {
		t.Fatalf("Save(%s) error = %v", id, err)
	}
}

// TestPipelineIntegration polls a mixed set of contracts and checks that
// every ready one is decided, settled once and fully audited.
func TestPipelineIntegration(t *testing.T) {
	for _, mode := range []string{config.ModeLive, config.ModePairwise} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			p := newPipeline(t, scriptedConfig(mode))
			past := time.Now().Add(-time.Hour)
			p.addContract(t, "ready-1", contract.StatusBettingClosed, past)
			p.addContract(t, "ready-2", contract.StatusBettingClosed, past)
			p.addContract(t, "open", contract.StatusBettingOpen, time.Now().Add(time.Hour))

			started, err := p.mon.Poll(ctx)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if started != 2 {
				t.Fatalf("Poll() started %d, want 2", started)
			}

			for _, res := range p.results {
				if !res.Success {
					t.Fatalf("%s failed in %s: %s", res.ContractID, res.Phase, res.Reason)
				}
				d, err := p.stores.Decisions.FindByContractID(ctx, res.ContractID)
				if err != nil || d == nil {
					t.Fatalf("FindByContractID(%s) = %v, %v", res.ContractID, d, err)
				}
				if d.WinnerID != "alice" {
					t.Errorf("%s winner = %s, want alice", res.ContractID, d.WinnerID)
				}
				entry, ok := p.ledger.Lookup(res.ContractID)
				if !ok || entry.TransactionID != d.TransactionID {
					t.Errorf("%s ledger entry = %+v, decision tx %s", res.ContractID, entry, d.TransactionID)
				}
				messages, err := p.stores.Messages.List(ctx, res.ContractID)
				if err != nil {
					t.Fatalf("List(%s) error = %v", res.ContractID, err)
				}
				// The completion message is emitted after the decision is saved.
				if len(messages) != d.MessageCount+1 {
					t.Errorf("%s stored %d messages, decision recorded %d before completion",
						res.ContractID, len(messages), d.MessageCount)
				}
				c, _ := p.stores.Contracts.FindByID(ctx, res.ContractID)
				if c.Status != contract.StatusDecided || c.WinnerID != "alice" {
					t.Errorf("%s contract = %s/%s, want DECIDED/alice", c.ID, c.Status, c.WinnerID)
				}
			}

			if err := p.ledger.Verify(); err != nil {
				t.Errorf("ledger Verify() error = %v", err)
			}
			if n := len(p.ledger.Entries()); n != 2 {
				t.Errorf("ledger has %d entries, want 2", n)
			}

			open, _ := p.stores.Contracts.FindByID(ctx, "open")
			if open.Status != contract.StatusBettingOpen {
				t.Errorf("open contract status = %s, want BETTING_OPEN", open.Status)
			}
		})
	}
}

// TestManualEndRacesPoll checks that a manual end and a poll never decide
// the same contract twice.
func TestManualEndRacesPoll(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, scriptedConfig(config.ModeLive))
	p.addContract(t, "race", contract.StatusBettingOpen, time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	wg.Go(func() {
		_, _ = p.mon.MarkEnded(ctx, "race")
	})
	wg.Go(func() {
		_, _ = p.mon.Poll(ctx)
	})
	wg.Wait()
	// A poll that lost the race to the close runs again after it.
	_, _ = p.mon.Poll(ctx)

	if n := len(p.ledger.Entries()); n != 1 {
		t.Errorf("ledger has %d entries, want exactly 1", n)
	}
	d, err := p.stores.Decisions.FindByContractID(ctx, "race")
	if err != nil || d == nil {
		t.Fatalf("FindByContractID(race) = %v, %v", d, err)
	}
}
