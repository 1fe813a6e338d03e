// Package discussion runs the committee's stance-refinement phase.
//
// Two strategies operate on one anchor (current stance) per agent:
//
//   - live discussion: sequential rounds in which each agent sees every
//     peer's current anchor, including peers that already revised earlier
//     in the same round, and restates or revises its own stance
//   - rule + pairwise: heuristic rule scores combined with judged pairwise
//     comparisons under bias reduction
//
// Anchors are explicit, versioned snapshots. Round N works on a copy of
// round N-1's anchors and updates it turn by turn, so the snapshot a round
// started from is never mutated.
package discussion

import (
	"maps"
	"slices"

	"github.com/Iron-Ham/arbiter/internal/proposal"
	"github.com/Iron-Ham/arbiter/internal/util"
)

// PeerStance is the summary of another agent's anchor shown to a participant.
type PeerStance struct {
	AgentID    string  `json:"agentId"`
	AgentName  string  `json:"agentName"`
	WinnerID   string  `json:"winnerId"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Anchors maps each participating agent to its current proposal.
// Agents keep the order in which they first appeared.
type Anchors struct {
	version int
	order   []string
	byAgent map[string]proposal.AgentProposal
}

// NewAnchors seeds version 0 from the generated proposals, keeping each
// agent's highest-confidence proposal (the first one on ties).
func NewAnchors(proposals []proposal.AgentProposal) *Anchors {
	a := &Anchors{byAgent: make(map[string]proposal.AgentProposal)}
	for _, p := range proposals {
		cur, ok := a.byAgent[p.AgentID]
		if !ok {
			a.order = append(a.order, p.AgentID)
			a.byAgent[p.AgentID] = p
			continue
		}
		if p.Confidence > cur.Confidence {
			a.byAgent[p.AgentID] = p
		}
	}
	return a
}

// Next returns a copy to be mutated by the following round.
func (a *Anchors) Next() *Anchors {
	return &Anchors{
		version: a.version + 1,
		order:   slices.Clone(a.order),
		byAgent: maps.Clone(a.byAgent),
	}
}

// Version is 0 for the initial proposals and N after round N.
func (a *Anchors) Version() int { return a.version }

// Len returns the number of agents.
func (a *Anchors) Len() int { return len(a.order) }

// Agents returns agent ids in their fixed turn order.
func (a *Anchors) Agents() []string { return slices.Clone(a.order) }

// Get returns agentID's anchor.
func (a *Anchors) Get(agentID string) (proposal.AgentProposal, bool) {
	p, ok := a.byAgent[agentID]
	return p, ok
}

// Set replaces the anchor of an agent already present.
func (a *Anchors) Set(p proposal.AgentProposal) bool {
	if _, ok := a.byAgent[p.AgentID]; !ok {
		return false
	}
	a.byAgent[p.AgentID] = p
	return true
}

// Proposals returns the anchors in turn order.
func (a *Anchors) Proposals() []proposal.AgentProposal {
	out := make([]proposal.AgentProposal, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.byAgent[id])
	}
	return out
}

// Votes returns each agent's current winner choice.
func (a *Anchors) Votes() map[string]string {
	votes := make(map[string]string, len(a.order))
	for _, id := range a.order {
		votes[id] = a.byAgent[id].WinnerID
	}
	return votes
}

// Peers summarizes every anchor except agentID's, in turn order, with
// rationales truncated to maxChars runes (0 keeps them whole).
func (a *Anchors) Peers(agentID string, maxChars int) []PeerStance {
	peers := make([]PeerStance, 0, len(a.order))
	for _, id := range a.order {
		if id == agentID {
			continue
		}
		p := a.byAgent[id]
		peers = append(peers, PeerStance{
			AgentID:    p.AgentID,
			AgentName:  p.AgentName,
			WinnerID:   p.WinnerID,
			Confidence: p.Confidence,
			Rationale:  util.Truncate(p.Rationale, maxChars),
		})
	}
	return peers
}
