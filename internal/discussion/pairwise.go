package discussion

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/proposal"
	"github.com/Iron-Ham/arbiter/internal/util"
)

// Side is a judge's preference in a pairwise comparison.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideTie   Side = "tie"
)

// Candidate is one side of a comparison as presented to a judge.
type Candidate struct {
	Label      string
	WinnerID   string
	Confidence float64
	Rationale  string
	Evidence   []string
}

// PairwiseInput asks a judge which of two proposals argues better.
type PairwiseInput struct {
	Contract proposal.Input
	Round    int
	Left     Candidate
	Right    Candidate
}

// Verdict is a judge's answer.
type Verdict struct {
	Preferred  Side
	Reasoning  string
	TokenUsage int
}

// Judge compares two proposals.
type Judge interface {
	ID() string
	Compare(ctx context.Context, in PairwiseInput) (Verdict, error)
}

// PairwiseReport is the outcome of a rule + pairwise evaluation.
type PairwiseReport struct {
	// Evaluations in anchor order, one per proposal.
	Evaluations []Evaluation
	Comparisons []Comparison
	// Failed counts comparisons excluded because the judge call failed.
	Failed int
}

// Best returns the evaluation with the highest overall score, the earlier
// proposal winning ties.
func (r *PairwiseReport) Best() (Evaluation, bool) {
	if len(r.Evaluations) == 0 {
		return Evaluation{}, false
	}
	best := r.Evaluations[0]
	for _, e := range r.Evaluations[1:] {
		if e.OverallScore > best.OverallScore {
			best = e
		}
	}
	return best, true
}

type comparisonTask struct {
	left, right int // indexes into the proposal slice, already in presented order
	round       int
	swapped     bool
	judge       Judge
}

type record struct{ wins, ties, losses int }

// Evaluate scores every anchor with the rule heuristics, compares every
// unordered pair across the configured rounds with randomized left/right
// order, and combines both as ruleWeight*rule + llmWeight*winRate.
// Failed comparisons are excluded from the win rate.
func (en *Engine) Evaluate(ctx context.Context, in proposal.Input, judges []Judge, anchors *Anchors) (*PairwiseReport, error) {
	log := en.logger.WithContract(in.ContractID).WithPhase(string(event.PhaseDiscussion))
	proposals := anchors.Proposals()
	pc := en.cfg.Pairwise
	start := en.now()

	tasks := en.planComparisons(proposals, judges, max(pc.Rounds, 1))
	if len(judges) == 0 && len(proposals) > 1 {
		log.Warn("no judges available, using rule scores only")
	}

	results := make([]*Comparison, len(tasks))
	p := pool.New().WithMaxGoroutines(max(pc.Parallel, 1))
	for k, task := range tasks {
		p.Go(func() {
			results[k] = en.compare(ctx, in, proposals, task)
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.NewDeliberationError("pairwise evaluation interrupted", errors.Join(errors.ErrCanceled, err)).
			WithContractID(in.ContractID).WithPhase(string(event.PhaseDiscussion))
	}

	report := &PairwiseReport{}
	records := make(map[string]*record, len(proposals))
	for _, prop := range proposals {
		records[prop.AgentID] = &record{}
	}
	for _, c := range results {
		if c == nil {
			report.Failed++
			continue
		}
		report.Comparisons = append(report.Comparisons, *c)
		switch c.WinnerAgentID {
		case "":
			records[c.LeftAgentID].ties++
			records[c.RightAgentID].ties++
		case c.LeftAgentID:
			records[c.LeftAgentID].wins++
			records[c.RightAgentID].losses++
		default:
			records[c.RightAgentID].wins++
			records[c.LeftAgentID].losses++
		}
		event.Emit(en.emitter, event.Message{
			ContractID:  in.ContractID,
			Phase:       event.PhaseDiscussion,
			MessageType: event.TypeComparison,
			AgentID:     c.JudgeID,
			Content:     *c,
			Metadata:    event.Metadata{Round: c.Round + 1},
		})
	}
	if report.Failed > 0 {
		log.Warn("pairwise comparisons failed", "failed", report.Failed, "planned", len(tasks))
	}

	planned := (len(proposals) - 1) * max(pc.Rounds, 1)
	for _, prop := range proposals {
		rec := records[prop.AgentID]
		n := rec.wins + rec.ties + rec.losses
		winRate := 0.5
		if n > 0 {
			winRate = (float64(rec.wins) + 0.5*float64(rec.ties)) / float64(n)
		}
		scores := RuleScores(prop, in)
		rule := RuleScore(scores)
		scores[CriterionPairwiseWinRate] = winRate

		confidence := 0.0
		if planned > 0 {
			confidence = clamp01(float64(n) / float64(planned))
		}
		eval := Evaluation{
			ID:           uuid.NewString(),
			ProposalID:   prop.ID,
			AgentID:      prop.AgentID,
			EvaluatorID:  MethodRulePairwise,
			Scores:       scores,
			OverallScore: clamp01(pc.RuleWeight*rule + pc.LLMWeight*winRate),
			Confidence:   confidence,
			Reasoning: []string{
				fmt.Sprintf("rule score %.2f", rule),
				winRateReason(rec.wins, rec.ties, rec.losses),
			},
			Metadata: EvaluationMetadata{
				EvaluationTimeMs: elapsedMs(start, en.now()),
				Method:           MethodRulePairwise,
			},
		}
		if err := eval.Validate(); err != nil {
			return nil, errors.NewDeliberationError("invalid evaluation", err).
				WithContractID(in.ContractID).WithPhase(string(event.PhaseDiscussion))
		}
		report.Evaluations = append(report.Evaluations, eval)
		event.Emit(en.emitter, evaluationMessage(in.ContractID, eval, prop.AgentName))
	}

	return report, nil
}

// planComparisons lays out every pair for every round. Randomness is drawn
// up front so concurrent execution cannot change which side is shown first.
func (en *Engine) planComparisons(proposals []proposal.AgentProposal, judges []Judge, rounds int) []comparisonTask {
	if len(judges) == 0 {
		return nil
	}
	en.rngMu.Lock()
	defer en.rngMu.Unlock()

	var tasks []comparisonTask
	for r := range rounds {
		for i := 0; i < len(proposals); i++ {
			for j := i + 1; j < len(proposals); j++ {
				t := comparisonTask{left: i, right: j, round: r}
				if en.rng.IntN(2) == 1 {
					t.left, t.right, t.swapped = j, i, true
				}
				t.judge = pickJudge(judges, len(tasks), proposals[i].AgentID, proposals[j].AgentID)
				tasks = append(tasks, t)
			}
		}
	}
	return tasks
}

// pickJudge rotates through judges, skipping the authors of the pair when
// any other judge is available.
func pickJudge(judges []Judge, k int, a, b string) Judge {
	for off := range judges {
		j := judges[(k+off)%len(judges)]
		if j.ID() != a && j.ID() != b {
			return j
		}
	}
	return judges[k%len(judges)]
}

func (en *Engine) compare(ctx context.Context, in proposal.Input, proposals []proposal.AgentProposal, t comparisonTask) *Comparison {
	left, right := proposals[t.left], proposals[t.right]
	input := PairwiseInput{
		Contract: in,
		Round:    t.round,
		Left:     en.candidate(left, "Proposal A"),
		Right:    en.candidate(right, "Proposal B"),
	}
	if en.cfg.Pairwise.NormalizeLength {
		normalizeLength(&input.Left, &input.Right)
	}

	verdict, err := bounded(ctx, en.cfg.CallTimeout, func(callCtx context.Context) (Verdict, error) {
		return t.judge.Compare(callCtx, input)
	})
	if err == nil && verdict.Preferred != SideLeft && verdict.Preferred != SideRight && verdict.Preferred != SideTie {
		err = fmt.Errorf("unknown preference %q", verdict.Preferred)
	}
	if err != nil {
		en.logger.WithContract(in.ContractID).Warn("comparison failed",
			"judge_id", t.judge.ID(), "error", errors.NewParticipantError("compare", err).WithAgentID(t.judge.ID()).Error())
		return nil
	}

	c := &Comparison{
		Round:        t.round,
		JudgeID:      t.judge.ID(),
		LeftAgentID:  left.AgentID,
		RightAgentID: right.AgentID,
		Preferred:    verdict.Preferred,
		Reasoning:    verdict.Reasoning,
		Swapped:      t.swapped,
	}
	switch verdict.Preferred {
	case SideLeft:
		c.WinnerAgentID = left.AgentID
	case SideRight:
		c.WinnerAgentID = right.AgentID
	}
	return c
}

func (en *Engine) candidate(p proposal.AgentProposal, mask string) Candidate {
	label := p.AgentName
	if en.cfg.Pairwise.MaskNames || label == "" {
		label = mask
	}
	return Candidate{
		Label:      label,
		WinnerID:   p.WinnerID,
		Confidence: p.Confidence,
		Rationale:  p.Rationale,
		Evidence:   append([]string(nil), p.Evidence...),
	}
}

// normalizeLength trims both candidates to the shorter rationale and the
// smaller evidence list so verbosity alone cannot win.
func normalizeLength(a, b *Candidate) {
	n := min(utf8.RuneCountInString(a.Rationale), utf8.RuneCountInString(b.Rationale))
	if n == 0 {
		a.Rationale, b.Rationale = "", ""
	} else {
		a.Rationale = util.Truncate(a.Rationale, n)
		b.Rationale = util.Truncate(b.Rationale, n)
	}

	k := min(len(a.Evidence), len(b.Evidence))
	a.Evidence = a.Evidence[:k]
	b.Evidence = b.Evidence[:k]
}
