// Package consensus tallies committee votes, runs the discussion loop until
// unanimity or the round cap, and synthesizes the final ConsensusResult.
package consensus

// Methodology names how the final winner was reached.
type Methodology string

const (
	MethodUnanimous      Methodology = "unanimous"
	MethodMajority       Methodology = "majority"
	MethodWeightedVoting Methodology = "weighted_voting"
)

// Evidence is one supporting snippet merged into the result.
type Evidence struct {
	Source      string  `json:"source"`
	Relevance   float64 `json:"relevance"`
	Credibility float64 `json:"credibility"`
	Snippet     string  `json:"snippet,omitempty"`
}

// AgentStance is one agent's final position, kept for the reasoning breakdown.
type AgentStance struct {
	AgentID    string  `json:"agentId"`
	AgentName  string  `json:"agentName"`
	WinnerID   string  `json:"winnerId"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

// Metrics quantifies how the committee agreed.
type Metrics struct {
	// UnanimityLevel is the (weighted) share of votes for the final winner.
	UnanimityLevel     float64       `json:"unanimityLevel"`
	ConfidenceVariance float64       `json:"confidenceVariance"`
	EvidenceOverlap    float64       `json:"evidenceOverlap"`
	Rounds             int           `json:"rounds"`
	ReasoningBreakdown []AgentStance `json:"reasoningBreakdown"`
}

// QualityFlags signal results that deserve a human look.
type QualityFlags struct {
	HasMinorityDissent      bool `json:"hasMinorityDissent"`
	HasInsufficientEvidence bool `json:"hasInsufficientEvidence"`
	HasConflictingEvidence  bool `json:"hasConflictingEvidence"`
	RequiresHumanReview     bool `json:"requiresHumanReview"`
}

// Result is the committee's verdict. It is built once per deliberation and
// never modified afterwards.
type Result struct {
	FinalWinner          string       `json:"finalWinner"`
	ConfidenceLevel      float64      `json:"confidenceLevel"`
	ResidualUncertainty  float64      `json:"residualUncertainty"`
	MergedEvidence       []Evidence   `json:"mergedEvidence"`
	SynthesizedReasoning string       `json:"synthesizedReasoning"`
	Methodology          Methodology  `json:"methodology"`
	Metrics              Metrics      `json:"metrics"`
	QualityFlags         QualityFlags `json:"qualityFlags"`
}
