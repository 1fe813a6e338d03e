package consensus

import (
	"slices"

	"github.com/Iron-Ham/arbiter/internal/discussion"
)

// Vote is one agent's ballot.
type Vote struct {
	AgentID  string  `json:"agentId"`
	WinnerID string  `json:"winnerId"`
	Weight   float64 `json:"weight"`
}

// Tally is the content of a vote message.
type Tally struct {
	Round     int                `json:"round"`
	Votes     []Vote             `json:"votes"`
	Counts    map[string]float64 `json:"counts"`
	Total     float64            `json:"total"`
	Unanimous bool               `json:"unanimous"`
	Leader    string             `json:"leader"`
}

// TallyVotes casts one equal-weight vote per agent from its current anchor.
func TallyVotes(round int, anchors *discussion.Anchors) Tally {
	return TallyWeighted(round, anchors, func(string) float64 { return 1 })
}

// TallyWeighted casts one vote per agent with the weight returned by weight.
// Negative weights count as zero.
func TallyWeighted(round int, anchors *discussion.Anchors, weight func(agentID string) float64) Tally {
	t := Tally{Round: round, Counts: make(map[string]float64)}
	for _, p := range anchors.Proposals() {
		w := max(weight(p.AgentID), 0)
		t.Votes = append(t.Votes, Vote{AgentID: p.AgentID, WinnerID: p.WinnerID, Weight: w})
		t.Counts[p.WinnerID] += w
		t.Total += w
	}
	t.Unanimous = Unanimous(t.Votes)
	t.Leader, _ = t.Plurality()
	return t
}

// Unanimous reports whether every vote names the same winner. An empty
// ballot is not unanimous.
func Unanimous(votes []Vote) bool {
	if len(votes) == 0 {
		return false
	}
	for _, v := range votes[1:] {
		if v.WinnerID != votes[0].WinnerID {
			return false
		}
	}
	return true
}

// Plurality returns the choice with the most votes. Ties go to the
// lexicographically smallest choice id.
func (t Tally) Plurality() (string, float64) {
	choices := make([]string, 0, len(t.Counts))
	for c := range t.Counts {
		choices = append(choices, c)
	}
	slices.Sort(choices)

	var winner string
	best := -1.0
	for _, c := range choices {
		if t.Counts[c] > best {
			winner, best = c, t.Counts[c]
		}
	}
	if winner == "" {
		return "", 0
	}
	return winner, best
}

// Share returns the fraction of the total weight cast for choice.
func (t Tally) Share(choice string) float64 {
	if t.Total == 0 {
		return 0
	}
	return t.Counts[choice] / t.Total
}
