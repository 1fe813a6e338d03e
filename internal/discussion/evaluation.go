package discussion

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/proposal"
)

// Score criteria.
const (
	CriterionCompleteness    = "completeness"
	CriterionConsistency     = "consistency"
	CriterionEvidenceQuality = "evidenceQuality"
	CriterionPairwiseWinRate = "pairwiseWinRate"
)

// Evaluation methods.
const (
	MethodLiveDiscussion = "live_discussion"
	MethodRulePairwise   = "rule_pairwise"
)

// EvaluationMetadata describes how an evaluation was produced.
type EvaluationMetadata struct {
	EvaluationTimeMs int64  `json:"evaluationTimeMs"`
	Method           string `json:"method"`
}

// Evaluation scores one proposal (pairwise mode) or one agent's stance
// revision (live mode).
type Evaluation struct {
	ID           string             `json:"id"`
	ProposalID   string             `json:"proposalId,omitempty"`
	AgentID      string             `json:"agentId,omitempty"`
	EvaluatorID  string             `json:"evaluatorId"`
	Scores       map[string]float64 `json:"scores"`
	OverallScore float64            `json:"overallScore"`
	Confidence   float64            `json:"confidence"`
	Reasoning    []string           `json:"reasoning"`
	Metadata     EvaluationMetadata `json:"metadata"`
}

// Validate checks that every score lies in [0,1].
func (e Evaluation) Validate() error {
	for name, v := range e.Scores {
		if v < 0 || v > 1 {
			return errors.NewValidationError("score out of range").
				WithField("scores." + name).WithValue(v)
		}
	}
	if e.OverallScore < 0 || e.OverallScore > 1 {
		return errors.NewValidationError("score out of range").WithField("overallScore").WithValue(e.OverallScore)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return errors.NewValidationError("score out of range").WithField("confidence").WithValue(e.Confidence)
	}
	return nil
}

// StanceRevision is the content of a live-discussion evaluation message.
type StanceRevision struct {
	Round            int                    `json:"round"`
	AgentID          string                 `json:"agentId"`
	PreviousWinnerID string                 `json:"previousWinnerId"`
	Changed          bool                   `json:"changed"`
	Proposal         proposal.AgentProposal `json:"proposal"`
	PeersSeen        []PeerStance           `json:"peersSeen"`
	Error            string                 `json:"error,omitempty"`
}

// Comparison is the content of a pairwise comparison message.
type Comparison struct {
	Round        int    `json:"round"`
	JudgeID      string `json:"judgeId"`
	LeftAgentID  string `json:"leftAgentId"`
	RightAgentID string `json:"rightAgentId"`
	Preferred    Side   `json:"preferred"`
	// WinnerAgentID is empty on a tie.
	WinnerAgentID string `json:"winnerAgentId,omitempty"`
	Reasoning     string `json:"reasoning"`
	Swapped       bool   `json:"swapped"`
}

func evaluationMessage(contractID string, e Evaluation, agentName string) event.Message {
	return event.Message{
		ContractID:  contractID,
		Phase:       event.PhaseDiscussion,
		MessageType: event.TypeEvaluation,
		AgentID:     e.AgentID,
		AgentName:   agentName,
		Content:     e,
		Metadata:    event.Metadata{ProcessingTimeMs: e.Metadata.EvaluationTimeMs},
	}
}

func elapsedMs(start, end time.Time) int64 {
	return end.Sub(start).Milliseconds()
}

func winRateReason(w, t, l int) string {
	return fmt.Sprintf("won %d, tied %d, lost %d of %d comparisons", w, t, l, w+t+l)
}
