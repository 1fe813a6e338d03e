package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/discussion"
	"github.com/Iron-Ham/arbiter/internal/proposal"
)

// scriptedConfidence is the confidence every scripted stance carries.
const scriptedConfidence = 0.8

// Scripted replays a fixed sequence of winner choices. Script entries name
// a party id, or "a"/"b" for party A/B. Entry 0 is the initial proposal and
// entry N the stance after discussion round N; the last entry repeats.
type Scripted struct {
	id     string
	name   string
	script []string
	now    func() time.Time
}

// NewScripted creates a scripted agent.
func NewScripted(id, name string, script []string) *Scripted {
	if name == "" {
		name = id
	}
	return &Scripted{id: id, name: name, script: append([]string(nil), script...), now: time.Now}
}

func (s *Scripted) ID() string     { return s.id }
func (s *Scripted) Name() string   { return s.name }
func (s *Scripted) Vendor() Vendor { return VendorScripted }

func (s *Scripted) choice(in proposal.Input, step int) (string, error) {
	if len(s.script) == 0 {
		return "", fmt.Errorf("agent %s has an empty script", s.id)
	}
	c := s.script[min(step, len(s.script)-1)]
	if in.HasParty(c) {
		return c, nil
	}
	switch strings.ToLower(c) {
	case "a":
		return in.PartyA.ID, nil
	case "b":
		return in.PartyB.ID, nil
	}
	return "", fmt.Errorf("script choice %q is not a party to %s", c, in.ContractID)
}

func (s *Scripted) rationale(in proposal.Input, winnerID string) (string, []string) {
	name := winnerID
	if winnerID == in.PartyA.ID {
		name = in.PartyA.Name
	} else if winnerID == in.PartyB.ID {
		name = in.PartyB.Name
	}
	return fmt.Sprintf("%s holds that %s won %s.", s.name, name, in.Describe()),
		[]string{fmt.Sprintf("%s: scripted outcome record for %s", s.id, name)}
}

// GenerateProposals returns count copies of the opening stance.
func (s *Scripted) GenerateProposals(ctx context.Context, in proposal.Input, count int) ([]proposal.AgentProposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	winner, err := s.choice(in, 0)
	if err != nil {
		return nil, err
	}
	rationale, evidence := s.rationale(in, winner)
	out := make([]proposal.AgentProposal, 0, max(count, 1))
	for range max(count, 1) {
		out = append(out, proposal.AgentProposal{
			AgentID:    s.id,
			AgentName:  s.name,
			ContractID: in.ContractID,
			WinnerID:   winner,
			Confidence: scriptedConfidence,
			Rationale:  rationale,
			Evidence:   evidence,
			Metadata:   proposal.Metadata{Model: string(VendorScripted)},
			CreatedAt:  s.now(),
		})
	}
	return out, nil
}

// ReviseStance returns the scripted stance for the turn's round.
func (s *Scripted) ReviseStance(ctx context.Context, turn discussion.Turn) (discussion.Stance, error) {
	if err := ctx.Err(); err != nil {
		return discussion.Stance{}, err
	}
	winner, err := s.choice(turn.Contract, turn.Round)
	if err != nil {
		return discussion.Stance{}, err
	}
	rationale, evidence := s.rationale(turn.Contract, winner)
	return discussion.Stance{
		WinnerID:   winner,
		Confidence: scriptedConfidence,
		Rationale:  rationale,
		Evidence:   evidence,
	}, nil
}

// Compare prefers the side backing the agent's final scripted choice.
func (s *Scripted) Compare(ctx context.Context, in discussion.PairwiseInput) (discussion.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return discussion.Verdict{}, err
	}
	favored, err := s.choice(in.Contract, len(s.script)-1)
	if err != nil {
		return discussion.Verdict{}, err
	}
	left, right := in.Left.WinnerID == favored, in.Right.WinnerID == favored
	switch {
	case left && !right:
		return discussion.Verdict{Preferred: discussion.SideLeft, Reasoning: in.Left.Label + " backs " + favored}, nil
	case right && !left:
		return discussion.Verdict{Preferred: discussion.SideRight, Reasoning: in.Right.Label + " backs " + favored}, nil
	}
	return discussion.Verdict{Preferred: discussion.SideTie, Reasoning: "both sides make the same call"}, nil
}
