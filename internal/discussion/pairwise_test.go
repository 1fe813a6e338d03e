package discussion

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/proposal"
)

// favoringJudge prefers whichever side backs favored and ties otherwise.
type favoringJudge struct {
	id      string
	favored string
	err     error

	mu     sync.Mutex
	inputs []PairwiseInput
}

func (j *favoringJudge) ID() string { return j.id }

func (j *favoringJudge) Compare(_ context.Context, in PairwiseInput) (Verdict, error) {
	j.mu.Lock()
	j.inputs = append(j.inputs, in)
	j.mu.Unlock()

	if j.err != nil {
		return Verdict{}, j.err
	}
	switch {
	case in.Left.WinnerID == in.Right.WinnerID:
		return Verdict{Preferred: SideTie, Reasoning: "same call"}, nil
	case in.Left.WinnerID == j.favored:
		return Verdict{Preferred: SideLeft, Reasoning: "left backs the favorite"}, nil
	default:
		return Verdict{Preferred: SideRight, Reasoning: "right backs the favorite"}, nil
	}
}

func threeAnchors() *Anchors {
	return NewAnchors([]proposal.AgentProposal{
		prop("gpt", "party-a", 0.8),
		prop("claude", "party-b", 0.7),
		prop("gemini", "party-a", 0.6),
	})
}

func TestEvaluate_WinRates(t *testing.T) {
	bus := event.NewBus()
	en := testEngine(t, WithEmitter(bus))
	judge := &favoringJudge{id: "referee", favored: "party-a"}

	report, err := en.Evaluate(context.Background(), testInput(), []Judge{judge}, threeAnchors())
	require.NoError(t, err)
	require.Len(t, report.Evaluations, 3)
	assert.Len(t, report.Comparisons, 3)
	assert.Zero(t, report.Failed)

	want := map[string]float64{"gpt": 0.75, "claude": 0, "gemini": 0.75}
	for _, e := range report.Evaluations {
		assert.InDelta(t, want[e.AgentID], e.Scores[CriterionPairwiseWinRate], 1e-9, "win rate of %s", e.AgentID)
		rule := RuleScore(e.Scores)
		assert.InDelta(t, 0.4*rule+0.6*want[e.AgentID], e.OverallScore, 1e-9, "overall of %s", e.AgentID)
		assert.Equal(t, MethodRulePairwise, e.Metadata.Method)
		assert.NoError(t, e.Validate())
	}

	var comparisons, evaluations int
	for _, m := range bus.History("c-1") {
		switch m.MessageType {
		case event.TypeComparison:
			comparisons++
		case event.TypeEvaluation:
			evaluations++
		}
	}
	assert.Equal(t, 3, comparisons)
	assert.Equal(t, 3, evaluations)
}

func TestEvaluate_MasksNamesAndNormalizesLength(t *testing.T) {
	en := testEngine(t)
	judge := &favoringJudge{id: "referee", favored: "party-a"}
	anchors := NewAnchors([]proposal.AgentProposal{
		{AgentID: "gpt", AgentName: "GPT", WinnerID: "party-a", Confidence: 0.8, Rationale: "a much longer rationale than the other one", Evidence: []string{"x", "y"}},
		{AgentID: "claude", AgentName: "Claude", WinnerID: "party-b", Confidence: 0.8, Rationale: "short", Evidence: []string{"z"}},
	})

	_, err := en.Evaluate(context.Background(), testInput(), []Judge{judge}, anchors)
	require.NoError(t, err)
	require.Len(t, judge.inputs, 1)

	in := judge.inputs[0]
	assert.Equal(t, "Proposal A", in.Left.Label)
	assert.Equal(t, "Proposal B", in.Right.Label)
	assert.Equal(t, len([]rune(in.Left.Rationale)), len([]rune(in.Right.Rationale)))
	assert.Len(t, in.Left.Evidence, 1)
	assert.Len(t, in.Right.Evidence, 1)
}

func TestEvaluate_NoSelfJudging(t *testing.T) {
	en := testEngine(t)
	judges := []Judge{
		&favoringJudge{id: "gpt", favored: "party-a"},
		&favoringJudge{id: "claude", favored: "party-a"},
		&favoringJudge{id: "gemini", favored: "party-a"},
	}
	en.cfg.Pairwise.Rounds = 3

	report, err := en.Evaluate(context.Background(), testInput(), judges, threeAnchors())
	require.NoError(t, err)
	require.Len(t, report.Comparisons, 9)
	for _, c := range report.Comparisons {
		assert.NotEqual(t, c.LeftAgentID, c.JudgeID)
		assert.NotEqual(t, c.RightAgentID, c.JudgeID)
	}
}

func TestEvaluate_FailedComparisonsExcluded(t *testing.T) {
	en := testEngine(t)
	judge := &favoringJudge{id: "referee", err: errors.New("judge offline")}

	report, err := en.Evaluate(context.Background(), testInput(), []Judge{judge}, threeAnchors())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Failed)
	assert.Empty(t, report.Comparisons)
	for _, e := range report.Evaluations {
		assert.InDelta(t, 0.5, e.Scores[CriterionPairwiseWinRate], 1e-9)
		assert.Zero(t, e.Confidence)
	}
}

func TestEvaluate_SeedFixesPresentationOrder(t *testing.T) {
	swaps := func() []bool {
		en := testEngine(t)
		en.cfg.Pairwise.Rounds = 4
		report, err := en.Evaluate(context.Background(), testInput(), []Judge{&favoringJudge{id: "referee", favored: "party-a"}}, threeAnchors())
		require.NoError(t, err)
		out := make([]bool, 0, len(report.Comparisons))
		for _, c := range report.Comparisons {
			out = append(out, c.Swapped)
		}
		return out
	}
	assert.Equal(t, swaps(), swaps())
}

func TestPairwiseReport_Best(t *testing.T) {
	r := &PairwiseReport{Evaluations: []Evaluation{
		{AgentID: "gpt", OverallScore: 0.6},
		{AgentID: "claude", OverallScore: 0.8},
		{AgentID: "gemini", OverallScore: 0.8},
	}}
	best, ok := r.Best()
	require.True(t, ok)
	assert.Equal(t, "claude", best.AgentID)

	_, ok = (&PairwiseReport{}).Best()
	assert.False(t, ok)
}

func TestRuleScores(t *testing.T) {
	in := testInput()
	strong := proposal.AgentProposal{
		AgentID:    "gpt",
		WinnerID:   "party-a",
		Confidence: 0.9,
		Rationale:  "Alice finished the course first according to the official timing.",
		Evidence: []string{
			"Official timing sheet lists Alice at 2:03:11 and Bob at 2:04:02.",
			"Race director confirmed the result in the post-race statement.",
			"Photo finish camera shows Alice crossing ahead of Bob clearly.",
		},
	}
	weak := proposal.AgentProposal{AgentID: "claude", WinnerID: "party-b", Confidence: 0.95, Rationale: "Alice lost."}

	s := RuleScores(strong, in)
	w := RuleScores(weak, in)
	for _, c := range []string{CriterionCompleteness, CriterionConsistency, CriterionEvidenceQuality} {
		assert.GreaterOrEqual(t, s[c], 0.0)
		assert.LessOrEqual(t, s[c], 1.0)
		assert.Greater(t, s[c], w[c], "criterion %s", c)
	}
	assert.InDelta(t, 1.0, s[CriterionConsistency], 1e-9)
	assert.InDelta(t, 0.1, w[CriterionConsistency], 1e-9)
	assert.Zero(t, w[CriterionEvidenceQuality])
	assert.False(t, math.IsNaN(RuleScore(w)))
}
