package discussion

import (
	"strings"
	"unicode/utf8"

	"github.com/Iron-Ham/arbiter/internal/proposal"
)

// Thresholds for the structural heuristics.
const (
	fullRationaleRunes = 40
	fullEvidenceItems  = 3
	fullEvidenceRunes  = 60
)

// RuleScores computes the structural heuristics of a proposal. Every score
// lies in [0,1].
func RuleScores(p proposal.AgentProposal, in proposal.Input) map[string]float64 {
	return map[string]float64{
		CriterionCompleteness:    completeness(p),
		CriterionConsistency:     consistency(p, in),
		CriterionEvidenceQuality: evidenceQuality(p),
	}
}

// RuleScore is the mean of the three rule criteria.
func RuleScore(scores map[string]float64) float64 {
	return (scores[CriterionCompleteness] + scores[CriterionConsistency] + scores[CriterionEvidenceQuality]) / 3
}

func completeness(p proposal.AgentProposal) float64 {
	rationale := min(float64(utf8.RuneCountInString(strings.TrimSpace(p.Rationale)))/fullRationaleRunes, 1)
	evidence := min(float64(len(p.Evidence))/fullEvidenceItems, 1)
	confidence := 0.0
	if p.Confidence > 0 {
		confidence = 1
	}
	return (rationale + evidence + confidence) / 3
}

// consistency penalizes a rationale that never names the chosen party and
// high confidence with nothing to back it.
func consistency(p proposal.AgentProposal, in proposal.Input) float64 {
	score := 1.0

	winner, loser := in.PartyA, in.PartyB
	if p.WinnerID == in.PartyB.ID {
		winner, loser = in.PartyB, in.PartyA
	}
	text := strings.ToLower(p.Rationale)
	mentionsWinner := containsAny(text, winner.ID, winner.Name)
	if !mentionsWinner {
		score -= 0.3
	}
	if !mentionsWinner && containsAny(text, loser.ID, loser.Name) {
		score -= 0.2
	}
	if p.Confidence >= 0.8 && len(p.Evidence) == 0 {
		score -= 0.4
	}
	return clamp01(score)
}

func evidenceQuality(p proposal.AgentProposal) float64 {
	if len(p.Evidence) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(p.Evidence))
	var total float64
	for _, e := range p.Evidence {
		e = strings.TrimSpace(e)
		seen[strings.ToLower(e)] = true
		total += min(float64(utf8.RuneCountInString(e))/fullEvidenceRunes, 1)
	}
	distinct := float64(len(seen)) / float64(len(p.Evidence))
	return clamp01(total / float64(len(p.Evidence)) * distinct)
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
