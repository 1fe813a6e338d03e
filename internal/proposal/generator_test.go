package proposal

import (
	"context"
	"testing"
	"time"

	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
)

// stubProposer returns fixed proposals after an optional delay.
type stubProposer struct {
	id        string
	winners   []string
	delay     time.Duration
	err       error
	ignoreCtx bool
	panics    bool
}

func (s *stubProposer) ID() string   { return s.id }
func (s *stubProposer) Name() string { return "Stub " + s.id }

func (s *stubProposer) GenerateProposals(ctx context.Context, in Input, count int) ([]AgentProposal, error) {
	if s.panics {
		panic("proposer exploded")
	}
	if s.delay > 0 {
		if s.ignoreCtx {
			time.Sleep(s.delay)
		} else {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	var out []AgentProposal
	for _, w := range s.winners {
		out = append(out, AgentProposal{WinnerID: w, Confidence: 0.8, Rationale: "because", Evidence: []string{"e1"}})
	}
	return out, nil
}

func newTestInput(t *testing.T) Input {
	t.Helper()
	return Input{
		ContractID: "c-1",
		PartyA:     contract.Party{ID: "party-a", Name: "Alice"},
		PartyB:     contract.Party{ID: "party-b", Name: "Bob"},
	}
}

func TestGenerate_TwoSuccessesOneTimeout(t *testing.T) {
	bus := event.NewBus()
	g := NewGenerator(Config{MinProposals: 2, MaxPerAgent: 1, CallTimeout: 50 * time.Millisecond}, WithEmitter(bus))

	proposers := []Proposer{
		&stubProposer{id: "a", winners: []string{"party-a"}},
		&stubProposer{id: "slow", winners: []string{"party-b"}, delay: time.Second},
		&stubProposer{id: "b", winners: []string{"party-b"}},
	}

	out, err := g.Generate(context.Background(), newTestInput(t), proposers)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(out.Proposals) != 2 {
		t.Fatalf("len(Proposals) = %d, want 2", len(out.Proposals))
	}
	if out.Proposals[0].AgentID != "a" || out.Proposals[1].AgentID != "b" {
		t.Errorf("proposal order = [%s %s], want [a b]", out.Proposals[0].AgentID, out.Proposals[1].AgentID)
	}
	if _, ok := out.Failures["slow"]; !ok {
		t.Error("Failures should record the timed-out proposer")
	}
	if !errors.Is(out.Failures["slow"], errors.ErrTimeout) {
		t.Errorf("slow failure = %v, want ErrTimeout", out.Failures["slow"])
	}

	var proposalMsgs int
	for _, m := range bus.History("c-1") {
		if m.MessageType == event.TypeProposal {
			proposalMsgs++
			if m.AgentID == "slow" {
				t.Error("failed proposer produced a proposal message")
			}
		}
	}
	if proposalMsgs != 2 {
		t.Errorf("proposal messages = %d, want 2", proposalMsgs)
	}
}

func TestGenerate_Insufficient(t *testing.T) {
	g := NewGenerator(Config{MinProposals: 2, MaxPerAgent: 1, CallTimeout: time.Second})

	proposers := []Proposer{
		&stubProposer{id: "a", winners: []string{"party-a"}},
		&stubProposer{id: "b", err: errors.New("quota exceeded")},
	}

	out, err := g.Generate(context.Background(), newTestInput(t), proposers)
	if !errors.Is(err, errors.ErrInsufficientProposals) {
		t.Fatalf("Generate() error = %v, want ErrInsufficientProposals", err)
	}
	var de *errors.DeliberationError
	if !errors.As(err, &de) || de.Phase != "proposing" || de.ContractID != "c-1" {
		t.Errorf("error context = %+v, want phase proposing and contract c-1", de)
	}
	if out == nil || len(out.Proposals) != 1 {
		t.Errorf("outcome should still report the 1 collected proposal")
	}
	if !errors.Is(out.Failures["b"], errors.ErrParticipantFailure) {
		t.Errorf("failure for b = %v, want ParticipantFailure", out.Failures["b"])
	}
}

func TestGenerate_DropsInvalidAndCapsPerAgent(t *testing.T) {
	g := NewGenerator(Config{MinProposals: 1, MaxPerAgent: 2, CallTimeout: time.Second})

	proposers := []Proposer{
		&stubProposer{id: "a", winners: []string{"party-z", "party-a", "party-b", "party-a"}},
	}

	out, err := g.Generate(context.Background(), newTestInput(t), proposers)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(out.Proposals) != 2 {
		t.Fatalf("len(Proposals) = %d, want 2", len(out.Proposals))
	}
	if out.Proposals[0].WinnerID != "party-a" || out.Proposals[1].WinnerID != "party-b" {
		t.Errorf("winners = [%s %s], want [party-a party-b]", out.Proposals[0].WinnerID, out.Proposals[1].WinnerID)
	}
	for _, p := range out.Proposals {
		if p.ID == "" || p.ContractID != "c-1" || p.AgentName != "Stub a" || p.CreatedAt.IsZero() {
			t.Errorf("proposal not normalized: %+v", p)
		}
	}
}

func TestGenerate_ProposerIgnoringContextStillBounded(t *testing.T) {
	g := NewGenerator(Config{MinProposals: 1, MaxPerAgent: 1, CallTimeout: 20 * time.Millisecond})

	proposers := []Proposer{
		&stubProposer{id: "a", winners: []string{"party-a"}},
		&stubProposer{id: "stubborn", winners: []string{"party-a"}, delay: 500 * time.Millisecond, ignoreCtx: true},
	}

	start := time.Now()
	out, err := g.Generate(context.Background(), newTestInput(t), proposers)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("Generate() took %v, want bounded by the call timeout", elapsed)
	}
	if len(out.Proposals) != 1 {
		t.Errorf("len(Proposals) = %d, want 1", len(out.Proposals))
	}
}

func TestGenerate_PanicIsolated(t *testing.T) {
	g := NewGenerator(Config{MinProposals: 1, MaxPerAgent: 1, CallTimeout: time.Second})

	proposers := []Proposer{
		&stubProposer{id: "boom", panics: true},
		&stubProposer{id: "a", winners: []string{"party-b"}},
	}

	out, err := g.Generate(context.Background(), newTestInput(t), proposers)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, ok := out.Failures["boom"]; !ok {
		t.Error("panicking proposer should be recorded as a failure")
	}
}

func TestGenerate_RateLimited(t *testing.T) {
	g := NewGenerator(Config{MinProposals: 1, MaxPerAgent: 1, CallTimeout: time.Second},
		WithRateLimit("a", 6000))

	p := &stubProposer{id: "a", winners: []string{"party-a"}}
	for range 3 {
		if _, err := g.Generate(context.Background(), newTestInput(t), []Proposer{p}); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
	}
}

func TestAgentProposal_Validate(t *testing.T) {
	in := newTestInput(t)
	tests := []struct {
		name    string
		p       AgentProposal
		wantErr bool
	}{
		{"valid", AgentProposal{AgentID: "a", WinnerID: "party-a", Confidence: 0.5}, false},
		{"bounds inclusive", AgentProposal{AgentID: "a", WinnerID: "party-b", Confidence: 1}, false},
		{"no agent", AgentProposal{WinnerID: "party-a", Confidence: 0.5}, true},
		{"unknown winner", AgentProposal{AgentID: "a", WinnerID: "x", Confidence: 0.5}, true},
		{"confidence too high", AgentProposal{AgentID: "a", WinnerID: "party-a", Confidence: 1.01}, true},
		{"negative confidence", AgentProposal{AgentID: "a", WinnerID: "party-a", Confidence: -0.1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(in); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAgentProposal_Revise(t *testing.T) {
	orig := AgentProposal{ID: "p1", AgentID: "a", WinnerID: "party-a", Confidence: 0.6, Evidence: []string{"x"}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next := orig.Revise("party-b", 0.9, "changed my mind", []string{"y"}, now)

	if next.ID == orig.ID {
		t.Error("Revise() should produce a new ID")
	}
	if next.AgentID != "a" || next.WinnerID != "party-b" || next.Confidence != 0.9 {
		t.Errorf("Revise() = %+v", next)
	}
	if orig.WinnerID != "party-a" || orig.Evidence[0] != "x" {
		t.Error("Revise() mutated the original proposal")
	}
}

func TestInput_Weight(t *testing.T) {
	in := Input{Weights: map[string]float64{"a": 0.4}}
	if got := in.Weight("a"); got != 0.4 {
		t.Errorf("Weight(a) = %v, want 0.4", got)
	}
	if got := in.Weight("b"); got != 1 {
		t.Errorf("Weight(b) = %v, want 1", got)
	}
}
