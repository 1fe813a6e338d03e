// Package proposal defines agent proposals, the Proposer capability, and the
// generator that fans a contract out to every enabled proposer.
package proposal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/errors"
)

// Metadata records the cost of producing a proposal.
type Metadata struct {
	TokenUsage       int     `json:"tokenUsage"`
	CostEstimate     float64 `json:"costEstimate"`
	ProcessingTimeMs int64   `json:"processingTimeMs"`
	Model            string  `json:"model"`
}

// AgentProposal is one agent's stance on who won a contract.
//
// Proposals are values. A revised stance during discussion is a new
// proposal with a new ID that replaces the agent's anchor.
type AgentProposal struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agentId"`
	AgentName  string    `json:"agentName"`
	ContractID string    `json:"contractId"`
	WinnerID   string    `json:"winnerId"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	Evidence   []string  `json:"evidence"`
	Metadata   Metadata  `json:"metadata"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate checks the proposal against the contract input it answers.
func (p AgentProposal) Validate(in Input) error {
	if p.AgentID == "" {
		return errors.NewValidationError("agent id is required").WithField("agentId")
	}
	if !in.HasParty(p.WinnerID) {
		return errors.NewValidationError("winner is not a party to the contract").
			WithField("winnerId").WithValue(p.WinnerID)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return errors.NewValidationError("confidence out of range").
			WithField("confidence").WithValue(p.Confidence)
	}
	return nil
}

// Revise returns a new proposal from the same agent with an updated stance.
func (p AgentProposal) Revise(winnerID string, confidence float64, rationale string, evidence []string, now time.Time) AgentProposal {
	next := p
	next.ID = uuid.NewString()
	next.WinnerID = winnerID
	next.Confidence = confidence
	next.Rationale = rationale
	next.Evidence = append([]string(nil), evidence...)
	next.CreatedAt = now
	return next
}

// Input is what a proposer needs to judge a contract.
type Input struct {
	ContractID string
	PartyA     contract.Party
	PartyB     contract.Party
	// Context is free-form background gathered by the caller.
	Context string
	// Weights is the per-agent track record owned by the orchestrator.
	// Agents absent from the map have weight 1.
	Weights map[string]float64
}

// InputFor builds an Input from a contract.
func InputFor(c *contract.Contract, context string, weights map[string]float64) Input {
	return Input{
		ContractID: c.ID,
		PartyA:     c.PartyA,
		PartyB:     c.PartyB,
		Context:    context,
		Weights:    weights,
	}
}

// HasParty reports whether id is one of the two parties.
func (in Input) HasParty(id string) bool {
	return id != "" && (id == in.PartyA.ID || id == in.PartyB.ID)
}

// Weight returns the track-record weight of agentID.
func (in Input) Weight(agentID string) float64 {
	if w, ok := in.Weights[agentID]; ok {
		return w
	}
	return 1
}

// Describe renders the two parties for prompts and logs.
func (in Input) Describe() string {
	return fmt.Sprintf("%s (%s) vs %s (%s)", in.PartyA.Name, in.PartyA.ID, in.PartyB.Name, in.PartyB.ID)
}

// Proposer is an external reasoning participant that proposes a winner.
// Implementations must be safe for concurrent use and should return fewer
// proposals rather than an error when they can.
type Proposer interface {
	ID() string
	Name() string
	GenerateProposals(ctx context.Context, in Input, count int) ([]AgentProposal, error)
}
