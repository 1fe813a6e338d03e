package consensus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/discussion"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/proposal"
	"github.com/Iron-Ham/arbiter/internal/util"
)

const (
	maxMergedEvidence = 3
	// minSupporters below which the winner is flagged as thinly evidenced.
	minSupporters = 2
	// conflictConfidence is the dissenter confidence that counts as a
	// conflicting argument when it comes with evidence.
	conflictConfidence = 0.7
	reasoningChars     = 200
)

// RoundFunc runs discussion round round over prev and returns the next
// anchors snapshot.
type RoundFunc func(ctx context.Context, prev *discussion.Anchors, round int) (*discussion.Anchors, error)

// Outcome is the state of the committee when voting ended.
type Outcome struct {
	Anchors *discussion.Anchors
	Tally   Tally
	// Rounds actually run. 0 when the round cap was 0.
	Rounds int
}

// Builder runs the voting loop and synthesizes results.
type Builder struct {
	emitter         event.Emitter
	logger          *logging.Logger
	dissentAdjusted bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithEmitter publishes vote and synthesis messages to e.
func WithEmitter(e event.Emitter) Option {
	return func(b *Builder) { b.emitter = e }
}

// WithLogger sets the builder logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Builder) { b.logger = logging.OrNop(l) }
}

// WithDissentAdjustedConfidence makes non-unanimous results report the
// winner's vote share as confidence instead of 1.
func WithDissentAdjustedConfidence(enabled bool) Option {
	return func(b *Builder) { b.dissentAdjusted = enabled }
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Converge runs up to maxRounds discussion rounds, tallying one equal-weight
// vote per agent after each, and stops as soon as the vote is unanimous.
// With maxRounds 0 the initial anchors are tallied as they are.
func (b *Builder) Converge(ctx context.Context, contractID string, initial *discussion.Anchors, maxRounds int, run RoundFunc) (*Outcome, error) {
	log := b.logger.WithContract(contractID).WithPhase(string(event.PhaseConsensus))

	if maxRounds <= 0 {
		t := TallyVotes(0, initial)
		b.emitTally(contractID, t)
		return &Outcome{Anchors: initial, Tally: t}, nil
	}

	anchors := initial
	var t Tally
	for round := 1; round <= maxRounds; round++ {
		next, err := run(ctx, anchors, round)
		if err != nil {
			return nil, err
		}
		anchors = next
		t = TallyVotes(round, anchors)
		b.emitTally(contractID, t)

		if t.Unanimous {
			log.Info("unanimous agreement", "round", round, "winner_id", t.Leader)
			return &Outcome{Anchors: anchors, Tally: t, Rounds: round}, nil
		}
		log.Debug("no unanimity yet", "round", round, "leader", t.Leader, "share", t.Share(t.Leader))
	}
	return &Outcome{Anchors: anchors, Tally: t, Rounds: maxRounds}, nil
}

func (b *Builder) emitTally(contractID string, t Tally) {
	event.Emit(b.emitter, event.Message{
		ContractID:  contractID,
		Phase:       event.PhaseConsensus,
		MessageType: event.TypeVote,
		Content:     t,
		Metadata:    event.Metadata{Round: t.Round},
	})
}

// Build synthesizes the result of an equal-weight vote: unanimous when every
// agent agrees, otherwise a plurality majority.
func (b *Builder) Build(in proposal.Input, o *Outcome) (*Result, error) {
	method := MethodMajority
	if o.Tally.Unanimous {
		method = MethodUnanimous
	}
	return b.synthesize(in, o.Anchors, o.Tally, o.Rounds, method)
}

// BuildWeighted synthesizes a pairwise-mode result. Each agent's vote is
// weighted by its track record times its evaluation score.
func (b *Builder) BuildWeighted(in proposal.Input, anchors *discussion.Anchors, report *discussion.PairwiseReport) (*Result, error) {
	scores := make(map[string]float64)
	if report != nil {
		for _, e := range report.Evaluations {
			scores[e.AgentID] = e.OverallScore
		}
	}
	t := TallyWeighted(0, anchors, func(agentID string) float64 {
		s, ok := scores[agentID]
		if !ok {
			s = 1
		}
		return in.Weight(agentID) * s
	})
	b.emitTally(in.ContractID, t)

	method := MethodWeightedVoting
	if t.Unanimous {
		method = MethodUnanimous
	}
	return b.synthesize(in, anchors, t, 0, method)
}

func (b *Builder) synthesize(in proposal.Input, anchors *discussion.Anchors, t Tally, rounds int, method Methodology) (*Result, error) {
	if len(t.Votes) == 0 {
		return nil, errors.NewDeliberationError("no votes to build consensus from", errors.ErrInsufficientProposals).
			WithContractID(in.ContractID).WithPhase(string(event.PhaseConsensus))
	}
	start := time.Now()

	winner, _ := t.Plurality()
	unanimity := t.Share(winner)
	if t.Total == 0 {
		unanimity = float64(countFor(t.Votes, winner)) / float64(len(t.Votes))
	}

	confidence := 1.0
	if method != MethodUnanimous && b.dissentAdjusted {
		confidence = unanimity
	}

	proposals := anchors.Proposals()
	var supporters, dissenters []proposal.AgentProposal
	for _, p := range proposals {
		if p.WinnerID == winner {
			supporters = append(supporters, p)
		} else {
			dissenters = append(dissenters, p)
		}
	}

	flags := QualityFlags{
		HasMinorityDissent:      len(dissenters) > 0,
		HasInsufficientEvidence: len(supporters) < minSupporters,
	}
	for _, d := range dissenters {
		if d.Confidence >= conflictConfidence && len(d.Evidence) > 0 {
			flags.HasConflictingEvidence = true
			break
		}
	}
	flags.RequiresHumanReview = flags.HasConflictingEvidence ||
		(flags.HasMinorityDissent && flags.HasInsufficientEvidence)

	result := Result{
		FinalWinner:          winner,
		ConfidenceLevel:      confidence,
		ResidualUncertainty:  1 - confidence,
		MergedEvidence:       mergeEvidence(supporters, in),
		SynthesizedReasoning: reasoning(in, winner, method, rounds, supporters, len(proposals)),
		Methodology:          method,
		Metrics: Metrics{
			UnanimityLevel:     unanimity,
			ConfidenceVariance: confidenceVariance(proposals),
			EvidenceOverlap:    evidenceOverlap(proposals),
			Rounds:             rounds,
			ReasoningBreakdown: breakdown(proposals),
		},
		QualityFlags: flags,
	}

	b.logger.WithContract(in.ContractID).WithPhase(string(event.PhaseConsensus)).Info("consensus reached",
		"winner_id", winner, "methodology", string(method), "unanimity", unanimity,
		"requires_review", flags.RequiresHumanReview)

	event.Emit(b.emitter, event.Message{
		ContractID:  in.ContractID,
		Phase:       event.PhaseConsensus,
		MessageType: event.TypeSynthesis,
		Content:     result,
		Metadata: event.Metadata{
			Round:            rounds,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		},
	})
	return &result, nil
}

func countFor(votes []Vote, winner string) int {
	n := 0
	for _, v := range votes {
		if v.WinnerID == winner {
			n++
		}
	}
	return n
}

// mergeEvidence takes up to three snippets from supporters in turn order,
// one per supporter first, then their remaining evidence.
func mergeEvidence(supporters []proposal.AgentProposal, in proposal.Input) []Evidence {
	merged := make([]Evidence, 0, maxMergedEvidence)
	add := func(p proposal.AgentProposal, snippet string) bool {
		merged = append(merged, Evidence{
			Source:      sourceName(p),
			Relevance:   p.Confidence,
			Credibility: max(0, min(1, in.Weight(p.AgentID))),
			Snippet:     snippet,
		})
		return len(merged) == maxMergedEvidence
	}

	for _, p := range supporters {
		snippet := util.Truncate(p.Rationale, reasoningChars)
		if len(p.Evidence) > 0 {
			snippet = p.Evidence[0]
		}
		if add(p, snippet) {
			return merged
		}
	}
	for _, p := range supporters {
		for i := 1; i < len(p.Evidence); i++ {
			if add(p, p.Evidence[i]) {
				return merged
			}
		}
	}
	return merged
}

func sourceName(p proposal.AgentProposal) string {
	if p.AgentName != "" {
		return p.AgentName
	}
	return p.AgentID
}

func reasoning(in proposal.Input, winner string, method Methodology, rounds int, supporters []proposal.AgentProposal, total int) string {
	name := winner
	if in.PartyA.ID == winner {
		name = in.PartyA.Name
	} else if in.PartyB.ID == winner {
		name = in.PartyB.Name
	}

	var sb strings.Builder
	switch method {
	case MethodUnanimous:
		fmt.Fprintf(&sb, "The committee unanimously selected %s", name)
	case MethodWeightedVoting:
		fmt.Fprintf(&sb, "Weighted voting selected %s", name)
	default:
		fmt.Fprintf(&sb, "A majority selected %s", name)
	}
	fmt.Fprintf(&sb, " (%d of %d agents", len(supporters), total)
	if rounds > 0 {
		fmt.Fprintf(&sb, ", %d discussion rounds", rounds)
	}
	sb.WriteString(").")
	for _, p := range supporters {
		if r := strings.TrimSpace(p.Rationale); r != "" {
			fmt.Fprintf(&sb, " %s: %s", sourceName(p), util.Truncate(r, reasoningChars))
		}
	}
	return sb.String()
}

func confidenceVariance(proposals []proposal.AgentProposal) float64 {
	if len(proposals) == 0 {
		return 0
	}
	var mean float64
	for _, p := range proposals {
		mean += p.Confidence
	}
	mean /= float64(len(proposals))
	var v float64
	for _, p := range proposals {
		d := p.Confidence - mean
		v += d * d
	}
	return v / float64(len(proposals))
}

// evidenceOverlap is the share of distinct evidence items cited by more than
// one agent.
func evidenceOverlap(proposals []proposal.AgentProposal) float64 {
	citedBy := make(map[string]map[string]bool)
	for _, p := range proposals {
		for _, e := range p.Evidence {
			key := strings.ToLower(strings.TrimSpace(e))
			if key == "" {
				continue
			}
			if citedBy[key] == nil {
				citedBy[key] = make(map[string]bool)
			}
			citedBy[key][p.AgentID] = true
		}
	}
	if len(citedBy) == 0 {
		return 0
	}
	shared := 0
	for _, agents := range citedBy {
		if len(agents) > 1 {
			shared++
		}
	}
	return float64(shared) / float64(len(citedBy))
}

func breakdown(proposals []proposal.AgentProposal) []AgentStance {
	out := make([]AgentStance, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, AgentStance{
			AgentID:    p.AgentID,
			AgentName:  p.AgentName,
			WinnerID:   p.WinnerID,
			Confidence: p.Confidence,
			Summary:    util.Truncate(p.Rationale, reasoningChars),
		})
	}
	return out
}
